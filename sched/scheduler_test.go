package sched

import (
	"errors"
	"testing"

	"github.com/contflow/dsce/operator"
)

type countingOp struct {
	remaining int
	fail      bool
}

func (c *countingOp) Run(timeSlice int) (int, error) {
	if c.fail {
		return 0, errors.New("boom")
	}
	n := c.remaining
	if n > timeSlice {
		n = timeSlice
	}
	c.remaining -= n
	return n, nil
}

func TestSchedulerRunUntilQuiescentDrainsEveryOperator(t *testing.T) {
	a := &countingOp{remaining: 5}
	b := &countingOp{remaining: 2}
	s := NewScheduler([]Named{{Name: "a", Op: a}, {Name: "b", Op: b}})

	if err := s.RunUntilQuiescent(2); err != nil {
		t.Fatalf("RunUntilQuiescent: %v", err)
	}
	if a.remaining != 0 || b.remaining != 0 {
		t.Fatalf("operators not drained: a=%d b=%d", a.remaining, b.remaining)
	}
}

func TestSchedulerRunPassAttributesErrorToOperatorName(t *testing.T) {
	var _ operator.Operator = &countingOp{}
	bad := &countingOp{fail: true}
	s := NewScheduler([]Named{{Name: "bad-op", Op: bad}})

	_, err := s.RunPass(4)
	if err == nil {
		t.Fatalf("RunPass should report the failing operator's error")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("error message should not be empty")
	}
	var re *runError
	if !errors.As(err, &re) {
		t.Fatalf("expected a *runError, got %T", err)
	}
	if re.Name != "bad-op" {
		t.Fatalf("runError.Name = %q, want %q", re.Name, "bad-op")
	}
}
