package operator

import (
	"testing"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

func intSchema(t *testing.T, names ...string) *eval.Schema {
	t.Helper()
	specs := make([]eval.AttrSpec, len(names))
	for i, n := range names {
		specs[i] = eval.AttrSpec{Name: n, Type: eval.TypeInt}
	}
	s, err := eval.NewSchema(specs)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func newMgr(t *testing.T, pages uint32) *mem.Manager {
	t.Helper()
	m, err := mem.New(pages)
	if err != nil {
		t.Fatalf("mem.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// newIntStore builds a fresh one-attribute-schema SimpleStore and a
// resolver that can read any tuple it produces.
func newIntStore(t *testing.T, mgr *mem.Manager) (*store.SimpleStore, Resolver) {
	t.Helper()
	s := store.NewSimpleStore(mgr, intSchema(t, "v"))
	return s, func(p mem.Ptr) eval.Tuple { return s.Tuple(p) }
}

func mustInt(t *testing.T, s *store.SimpleStore, v int32) mem.Ptr {
	t.Helper()
	ptr, buf, err := s.NewTuple()
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	eval.WriteInt(buf, 0, v)
	return ptr
}

func TestSelectForwardsMatchesAndDropsOthers(t *testing.T) {
	mgr := newMgr(t, 4)
	s, resolve := newIntStore(t, mgr)
	vAttr := eval.Attr{Name: "v", Type: eval.TypeInt, Offset: 0, Size: 4}

	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)

	threshold := eval.NewBEval()
	constBuf := make(eval.Tuple, 4)
	eval.WriteInt(constBuf, 0, 10)
	constAttr := eval.Attr{Offset: 0, Size: 4, Type: eval.TypeInt}
	if err := threshold.Add(eval.BInstr{Op: eval.BGT, Type: eval.TypeInt, R1: eval.RoleInput, C1: vAttr, R2: eval.RoleConst, C2: constAttr}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sel := NewSelect(in, out, resolve, threshold)
	sel.ctx.Bind(eval.RoleConst, constBuf)

	p5 := mustInt(t, s, 5)
	p20 := mustInt(t, s, 20)
	in.Push(queue.Element{Tuple: p5, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: p20, Sign: queue.SignPlus, Timestamp: 2})
	in.Push(queue.Heartbeat(2))

	if _, err := sel.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e, ok := out.Pop()
	if !ok || e.Tuple != p20 {
		t.Fatalf("expected only the matching tuple forwarded, got ok=%v e=%+v", ok, e)
	}
	e, ok = out.Pop()
	if !ok || e.Sign != queue.SignNone {
		t.Fatalf("expected the heartbeat to pass through, got ok=%v e=%+v", ok, e)
	}
	if _, ok := out.Pop(); ok {
		t.Fatalf("expected no further output")
	}
}

func TestUnionMergesByTimestamp(t *testing.T) {
	mgr := newMgr(t, 4)
	_, _ = newIntStore(t, mgr)

	left := queue.NewSimpleQueue(8)
	right := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	u := NewUnion(left, right, out)

	left.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 2})
	right.Push(queue.Element{Tuple: 2, Sign: queue.SignPlus, Timestamp: 1})
	right.Push(queue.Element{Tuple: 3, Sign: queue.SignPlus, Timestamp: 3})

	if _, err := u.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []mem.Ptr{2, 1, 3}
	for _, w := range want {
		e, ok := out.Pop()
		if !ok || e.Tuple != w {
			t.Fatalf("expected tuple %d next, got ok=%v e=%+v", w, ok, e)
		}
	}
}

func TestUnionStallsWhenOutFull(t *testing.T) {
	left := queue.NewSimpleQueue(8)
	right := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(1)
	u := NewUnion(left, right, out)

	left.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 1})
	left.Push(queue.Element{Tuple: 2, Sign: queue.SignPlus, Timestamp: 2})

	n, err := u.Run(10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one element delivered before stalling, got %d", n)
	}
	if _, ok := left.Peek(); !ok {
		t.Fatalf("expected the second left element to remain queued after stall")
	}
}

func TestDistinctSuppressesDuplicatesByValue(t *testing.T) {
	mgr := newMgr(t, 4)
	s, resolve := newIntStore(t, mgr)

	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	d := NewDistinct(in, out, resolve)

	p1 := mustInt(t, s, 7)
	p2 := mustInt(t, s, 7) // same value, distinct pointer
	in.Push(queue.Element{Tuple: p1, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: p2, Sign: queue.SignPlus, Timestamp: 2}) // duplicate value: suppressed
	in.Push(queue.Element{Tuple: p1, Sign: queue.SignMinus, Timestamp: 3})

	if _, err := d.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e, ok := out.Pop()
	if !ok || e.Tuple != p1 || e.Sign != queue.SignPlus {
		t.Fatalf("expected first PLUS forwarded, got ok=%v e=%+v", ok, e)
	}
	if _, ok := out.Pop(); ok {
		t.Fatalf("expected duplicate PLUS and non-zeroing MINUS suppressed")
	}
}

func TestIstreamEmitsOnTickBoundary(t *testing.T) {
	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	is := NewIstream(in, out)

	in.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 2, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 1, Sign: queue.SignMinus, Timestamp: 1}) // cancels out within the tick
	in.Push(queue.Element{Tuple: 3, Sign: queue.SignPlus, Timestamp: 2})  // advances the tick

	if _, err := is.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e, ok := out.Pop()
	if !ok || e.Tuple != 2 || e.Sign != queue.SignPlus || e.Timestamp != 1 {
		t.Fatalf("expected tuple 2 emitted for the closed tick 1, got ok=%v e=%+v", ok, e)
	}
	if _, ok := out.Pop(); ok {
		t.Fatalf("expected tuple 1 (net zero) not emitted, and tuple 3 held for its own still-open tick")
	}
}

func TestIstreamStallsMidEmit(t *testing.T) {
	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(1)
	is := NewIstream(in, out)

	in.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 2, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 3, Sign: queue.SignPlus, Timestamp: 2})

	if _, err := is.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !is.tickConverter.emitting {
		t.Fatalf("expected the operator to still be mid-emit after Out filled")
	}
	if _, ok := out.Pop(); !ok {
		t.Fatalf("expected one element delivered before the stall")
	}

	if _, err := is.Run(10); err != nil {
		t.Fatalf("Run (resume): %v", err)
	}
	if is.tickConverter.emitting {
		t.Fatalf("expected the stalled emit to finish on resume")
	}
}

func TestDstreamGatesOnNegativeCount(t *testing.T) {
	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	ds := NewDstream(in, out)

	in.Push(queue.Element{Tuple: 1, Sign: queue.SignMinus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 2, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 2})

	if _, err := ds.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e, ok := out.Pop()
	if !ok || e.Tuple != 1 || e.Sign != queue.SignMinus {
		t.Fatalf("expected tuple 1 (net negative) emitted as MINUS, got ok=%v e=%+v", ok, e)
	}
	if _, ok := out.Pop(); ok {
		t.Fatalf("expected tuple 2 (net positive) not emitted by Dstream")
	}
}

func TestRstreamEmitsEveryEntryRegardlessOfSign(t *testing.T) {
	in := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	rs := NewRstream(in, out)

	in.Push(queue.Element{Tuple: 1, Sign: queue.SignPlus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 2, Sign: queue.SignMinus, Timestamp: 1})
	in.Push(queue.Element{Tuple: 3, Sign: queue.SignPlus, Timestamp: 2})

	if _, err := rs.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	seen := map[mem.Ptr]queue.Sign{}
	for i := 0; i < 2; i++ {
		e, ok := out.Pop()
		if !ok {
			t.Fatalf("expected two entries emitted for the closed tick")
		}
		seen[e.Tuple] = e.Sign
	}
	if seen[1] != queue.SignPlus || seen[2] != queue.SignPlus {
		t.Fatalf("expected both entries emitted as PLUS by Rstream, got %+v", seen)
	}
}

func TestExceptRetractsOnRightCoverage(t *testing.T) {
	mgr := newMgr(t, 4)
	s, resolve := newIntStore(t, mgr)

	left := queue.NewSimpleQueue(8)
	right := queue.NewSimpleQueue(8)
	out := queue.NewSimpleQueue(8)
	x := NewExcept(left, right, out, resolve, resolve)

	p1 := mustInt(t, s, 1)
	left.Push(queue.Element{Tuple: p1, Sign: queue.SignPlus, Timestamp: 1})
	if _, err := x.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e, ok := out.Pop()
	if !ok || e.Tuple != p1 || e.Sign != queue.SignPlus {
		t.Fatalf("expected left row forwarded while uncovered, got ok=%v e=%+v", ok, e)
	}

	r1 := mustInt(t, s, 1)
	right.Push(queue.Element{Tuple: r1, Sign: queue.SignPlus, Timestamp: 2})
	if _, err := x.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e, ok = out.Pop()
	if !ok || e.Tuple != p1 || e.Sign != queue.SignMinus {
		t.Fatalf("expected the left row retracted once covered, got ok=%v e=%+v", ok, e)
	}

	right.Push(queue.Element{Tuple: r1, Sign: queue.SignMinus, Timestamp: 3})
	if _, err := x.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	e, ok = out.Pop()
	if !ok || e.Tuple != p1 || e.Sign != queue.SignPlus {
		t.Fatalf("expected the left row reasserted once uncovered again, got ok=%v e=%+v", ok, e)
	}
}

func TestSinkDrainsQueueAndReleasesRefs(t *testing.T) {
	mgr := newMgr(t, 4)
	s, _ := newIntStore(t, mgr)

	in := queue.NewSimpleQueue(8)
	sink := NewSink(in, mgr)

	p := mustInt(t, s, 1)
	page := mgr.PageOf(p)
	before := mgr.RefCount(page)
	in.Push(queue.Element{Tuple: p, Sign: queue.SignPlus, Timestamp: 1})

	if _, err := sink.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mgr.RefCount(page); got != before-1 {
		t.Fatalf("expected the sink to drop one page reference, before=%d after=%d", before, got)
	}
}
