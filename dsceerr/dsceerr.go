// Package dsceerr defines the error taxonomy shared by every runtime
// package: resource exhaustion, plan violation, and source errors (spec
// §7). Transient stalls are not errors and are never represented here.
package dsceerr

import "errors"

// Resource exhaustion. Fatal to the caller; no retry or spill.
var (
	ErrOutOfMemory   = errors.New("dsce: memory manager out of pages")
	ErrIndexFull     = errors.New("dsce: hash index out of entries")
	ErrPlanTooLarge  = errors.New("dsce: descriptor table overflow")
	ErrStoreFull     = errors.New("dsce: store has no free tuple slots")
)

// Plan violations. Fatal at wiring time; must not occur after Instantiate
// returns success.
var (
	ErrSchemaMismatch = errors.New("dsce: schema mismatch between producer and consumer")
	ErrUnknownScan     = errors.New("dsce: scan id references an unconfigured scan")
	ErrStubOutOfRange  = errors.New("dsce: stub id out of range")
	ErrBadDescriptor   = errors.New("dsce: malformed operator descriptor")
)

// Source errors. Operator-local: the source operator returns one of these
// and the enclosing scheduler terminates the query.
var (
	ErrRecordLength    = errors.New("dsce: source record length does not match schema")
	ErrTimestampRegress = errors.New("dsce: source record timestamp precedes previous record")
	ErrBadSignByte      = errors.New("dsce: relation source record has an invalid sign byte")
)

// PlanError wraps a plan-violation with the descriptor that caused it, so
// callers can report which part of the DAG failed to wire.
type PlanError struct {
	Descriptor string
	Err        error
}

func (e *PlanError) Error() string {
	return "dsce: plan error at " + e.Descriptor + ": " + e.Err.Error()
}

func (e *PlanError) Unwrap() error { return e.Err }
