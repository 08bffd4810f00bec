package sched

import (
	"testing"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

func TestStatsSourceEmitsOneRowPerMonitor(t *testing.T) {
	m, err := mem.New(4)
	if err != nil {
		t.Fatalf("mem.New: %v", err)
	}
	defer m.Close()

	statsStore := store.NewSimpleStore(m, StatsSchema())
	out := queue.NewSimpleQueue(8)

	q1 := queue.NewSimpleQueue(4)
	q1.Push(queue.Element{Tuple: 0, Sign: queue.SignPlus})
	q2 := queue.NewSimpleQueue(4)

	stalls1 := uint64(3)
	heartbeats2 := uint64(7)
	monitors := []Monitored{
		{Name: "select-1", Out: q1, Stalls: &stalls1, Heartbeats: nil},
		{Name: "join-1", Out: q2, Stalls: nil, Heartbeats: &heartbeats2},
	}

	ss := NewStatsSource(out, statsStore, monitors, 10)
	done, err := ss.Run(8)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done != 2 {
		t.Fatalf("Run returned %d, want 2 (one row per monitor)", done)
	}

	e1, ok := out.Pop()
	if !ok {
		t.Fatalf("expected a row for monitor 0")
	}
	row1 := statsStore.Tuple(e1.Tuple)
	if v := eval.ReadInt(row1, 4); v != 1 {
		t.Fatalf("monitor 0 queue depth = %d, want 1", v)
	}
	if v := eval.ReadInt(row1, 8); v != 3 {
		t.Fatalf("monitor 0 stalls = %d, want 3", v)
	}

	e2, ok := out.Pop()
	if !ok {
		t.Fatalf("expected a row for monitor 1")
	}
	row2 := statsStore.Tuple(e2.Tuple)
	if v := eval.ReadInt(row2, 12); v != 7 {
		t.Fatalf("monitor 1 heartbeats = %d, want 7", v)
	}
}

func TestStatsSourceStallsWhenOutFull(t *testing.T) {
	m, err := mem.New(4)
	if err != nil {
		t.Fatalf("mem.New: %v", err)
	}
	defer m.Close()

	statsStore := store.NewSimpleStore(m, StatsSchema())
	out := queue.NewSimpleQueue(1)
	q1 := queue.NewSimpleQueue(4)

	monitors := []Monitored{{Name: "a", Out: q1}, {Name: "b", Out: q1}}
	ss := NewStatsSource(out, statsStore, monitors, 1)

	done, err := ss.Run(8)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done != 1 {
		t.Fatalf("Run returned %d, want 1 (stalled on the full Out)", done)
	}
	if !ss.hasOut {
		t.Fatalf("expected StatsSource to hold a pending row across the stall")
	}
}
