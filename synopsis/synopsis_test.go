package synopsis

import (
	"testing"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/store"
)

func newMgr(t *testing.T, pages uint32) *mem.Manager {
	t.Helper()
	m, err := mem.New(pages)
	if err != nil {
		t.Fatalf("mem.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func schemaA(t *testing.T) *eval.Schema {
	t.Helper()
	s, err := eval.NewSchema([]eval.AttrSpec{{Name: "a", Type: eval.TypeInt}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestRelationSynopsisInsertDeleteAndScan(t *testing.T) {
	mgr := newMgr(t, 2)
	schema := schemaA(t)
	rs := store.NewRelationStore(mgr, schema)
	syn := NewRelationSynopsis(rs, 0)

	ptr, _, err := rs.NewTuple()
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	if err := syn.InsertTuple(ptr); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}

	it := syn.GetScan(0)
	got, ok := it.Next()
	if !ok || got != ptr {
		t.Fatalf("expected scan to find the inserted tuple")
	}

	if err := syn.DeleteTuple(ptr); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if rs.Visible(ptr, 0) {
		t.Fatalf("expected tuple to no longer be visible after delete")
	}
}

func TestRelationSynopsisScansAreIndependentlyResumable(t *testing.T) {
	mgr := newMgr(t, 2)
	schema := schemaA(t)
	rs := store.NewRelationStore(mgr, schema)
	syn := NewRelationSynopsis(rs, 0)

	p1, _, _ := rs.NewTuple()
	p2, _, _ := rs.NewTuple()
	syn.InsertTuple(p1)
	syn.InsertTuple(p2)

	scanA := syn.GetScan(1)
	first, _ := scanA.Next()

	// scan B, created later, starts from the same head independently.
	scanB := syn.GetScan(2)
	firstB, _ := scanB.Next()
	if first != firstB {
		t.Fatalf("a freshly created scan should start at the current head regardless of scan A's progress")
	}

	// advancing scan A further must not disturb scan B's saved position.
	scanA.Next()
	secondB, ok := scanB.Next()
	if !ok {
		t.Fatalf("scan B should still have one more tuple to yield")
	}
	if secondB == firstB {
		t.Fatalf("scan B should have advanced past its first tuple")
	}
}

func TestWindowSynopsisOldestAndDelete(t *testing.T) {
	mgr := newMgr(t, 2)
	schema := schemaA(t)
	ws := store.NewWindowStore(mgr, schema)
	syn := NewWindowSynopsis(ws, 0)

	p1, _, _ := ws.InsertTupleW()
	oldest, ok := syn.Oldest()
	if !ok || oldest != p1 {
		t.Fatalf("expected oldest to be the first inserted tuple")
	}
	if err := syn.DeleteOldest(); err != nil {
		t.Fatalf("DeleteOldest: %v", err)
	}
	if _, ok := syn.Oldest(); ok {
		t.Fatalf("expected empty window after draining its only tuple")
	}
}

func TestPartitionSynopsisDeleteTuple(t *testing.T) {
	mgr := newMgr(t, 2)
	schema := schemaA(t)
	ps := store.NewPartitionWindowStore(mgr, schema)
	syn := NewPartitionSynopsis(ps, 0)

	ptr, _, err := ps.InsertTupleP([]byte("k"), 0)
	if err != nil {
		t.Fatalf("InsertTupleP: %v", err)
	}
	if err := ps.ExpireOldestP([]byte("k")); err != nil {
		t.Fatalf("ExpireOldestP: %v", err)
	}
	ps.PopExpired()
	if err := syn.DeleteTuple(ptr); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if ps.Visible(ptr, 0) {
		t.Fatalf("expected tuple to be gone after synopsis delete")
	}
}

func TestLineageSynopsisFind(t *testing.T) {
	mgr := newMgr(t, 2)
	schema := schemaA(t)
	ls := store.NewLineageStore(mgr, schema)
	syn := NewLineageSynopsis(ls, 0)

	ptr, _, err := ls.NewTupleL(3, 4, 0)
	if err != nil {
		t.Fatalf("NewTupleL: %v", err)
	}
	found, ok, err := syn.Find(3, 4)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok || found != ptr {
		t.Fatalf("expected synopsis to find the tuple by lineage key")
	}
	if err := syn.DeleteTuple(ptr); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if _, ok, _ := syn.Find(3, 4); ok {
		t.Fatalf("expected no match after delete")
	}
}
