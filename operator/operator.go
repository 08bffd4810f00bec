// Package operator implements the dataflow operators of spec §4.7: each
// one consumes zero or more input queues and produces zero or more
// output queues, doing bounded work per call to Run so that the
// scheduler can interleave many operators cooperatively on one thread
// (spec §5 "single-threaded cooperative scheduling").
//
// An operator that cannot make progress — its output queue is full, or
// an attached synopsis index returned an error — must stall: return from
// Run having done less than timeSlice units of work, with whatever
// state it needs (a pending element, a scan checkpoint) held in its own
// fields so the next Run call resumes exactly where it left off. Nothing
// here blocks; every operator either finishes its slice or stalls.
package operator

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
)

// Resolver turns a queue element's tuple pointer into the bytes an
// operator's AEval/BEval/HEval programs read — almost always a thin
// wrapper around whichever store's Tuple method produced it.
type Resolver func(mem.Ptr) eval.Tuple

// Operator is the scheduler's view of any node in the dataflow graph.
// Run performs up to timeSlice units of work (the operator defines what
// a "unit" is — usually one input element consumed) and returns the
// number actually completed. A return value less than timeSlice means
// the operator stalled; it is not an error.
type Operator interface {
	Run(timeSlice int) (int, error)
}

// pushOrStall attempts to deliver e to out, returning false without
// modifying anything further when out is already full — the caller's
// cue to stop and let the next Run retry the same element.
func pushOrStall(out *queue.SimpleQueue, e queue.Element) bool {
	return out.Push(e)
}
