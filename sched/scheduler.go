package sched

import "github.com/contflow/dsce/operator"

// Named pairs an operator with the name it's reported under (matching a
// plan.Node's id, typically) so a stalled or failing run can be
// attributed to the right place in the graph.
type Named struct {
	Name string
	Op   operator.Operator
}

// Scheduler drives a fixed set of operators round-robin, timeSlice units
// per operator per pass (spec §5 "single-threaded cooperative
// scheduling": bounded work per call, re-entrant across stalls). It is
// the reference driver a deployment is expected to replace with its own
// loop once it needs to interleave wall-clock-driven heartbeat
// generation or cross-process I/O; plan.Instance.RunToQuiescence covers
// the simpler in-process test case without needing this type at all.
type Scheduler struct {
	Ops []Named
}

// NewScheduler builds a Scheduler over ops, in the order they should be
// polled each pass.
func NewScheduler(ops []Named) *Scheduler {
	return &Scheduler{Ops: ops}
}

// RunPass drives every operator once, for at most timeSlice units each,
// returning the total units of work completed across the whole pass.
// The caller decides how many passes to run and when to stop — e.g.
// until RunPass returns 0 (quiescent), or forever against a live
// source that keeps producing.
func (s *Scheduler) RunPass(timeSlice int) (int, error) {
	total := 0
	for _, n := range s.Ops {
		done, err := n.Op.Run(timeSlice)
		if err != nil {
			return total, &runError{Name: n.Name, Err: err}
		}
		total += done
	}
	return total, nil
}

// RunUntilQuiescent calls RunPass repeatedly until a pass makes no
// progress anywhere, the terminal state for a finite batch of sources
// (spec §5 has no notion of a scheduler timeout; termination is driven
// entirely by sources running dry).
func (s *Scheduler) RunUntilQuiescent(timeSlice int) error {
	for {
		n, err := s.RunPass(timeSlice)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// runError attributes a failing Run to the operator name that produced
// it, mirroring dsceerr.PlanError's "which part of the DAG failed"
// shape but for a runtime failure rather than a wiring-time one.
type runError struct {
	Name string
	Err  error
}

func (e *runError) Error() string { return "sched: operator " + e.Name + ": " + e.Err.Error() }
func (e *runError) Unwrap() error { return e.Err }
