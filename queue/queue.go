// Package queue implements the two inter-operator queue disciplines of
// spec §4.2: a single-writer/single-reader ring for ordinary operator
// chains, and a single-writer/multi-reader queue (for a stream split
// across several downstream operators) that renormalizes its backing
// buffer once every reader has advanced past its oldest element.
//
// A queue element is a thin reference — which tuple, whether it is a
// PLUS or a MINUS, and the logical timestamp it carries — never the
// tuple bytes themselves, which remain owned by whichever store produced
// them. Timestamp-only elements (spec "heartbeats") carry SignNone and a
// mem.NilPtr tuple pointer, advancing a reader's notion of time without
// delivering a row.
package queue

import (
	"github.com/contflow/dsce/mem"
)

// Sign distinguishes an inserted row from a retracted one, or marks a
// heartbeat that carries no row at all.
type Sign int8

const (
	SignNone  Sign = 0
	SignPlus  Sign = 1
	SignMinus Sign = -1
)

func (s Sign) String() string {
	switch s {
	case SignPlus:
		return "+"
	case SignMinus:
		return "-"
	default:
		return "."
	}
}

// Element is one entry of a queue: a tuple reference, its sign, and the
// logical timestamp it was produced at.
type Element struct {
	Tuple     mem.Ptr
	Sign      Sign
	Timestamp uint64
}

// Heartbeat constructs a timestamp-only element that advances downstream
// time without delivering a row (spec §4.7 "heartbeat emission").
func Heartbeat(ts uint64) Element {
	return Element{Tuple: mem.NilPtr, Sign: SignNone, Timestamp: ts}
}

// Errorf is the package's optional diagnostic hook, following the
// teacher's injectable-logging convention.
var Errorf func(format string, args ...any)

func errorf(format string, args ...any) {
	if Errorf != nil {
		Errorf(format, args...)
	}
}
