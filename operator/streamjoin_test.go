package operator

import (
	"testing"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
	"github.com/contflow/dsce/synopsis"
)

func TestStreamRelationJoinMatchesDropsMinusAndTracksInnerDeletes(t *testing.T) {
	mgr := newMgr(t, 16)

	outerSchema := intSchema(t, "k", "ov")
	innerSchema := intSchema(t, "k", "iv")
	outSchema := intSchema(t, "k", "ov", "iv")

	outerStore := store.NewSimpleStore(mgr, outerSchema)
	innerRelStore := store.NewRelationStore(mgr, innerSchema)
	innerSyn := synopsis.NewRelationSynopsis(innerRelStore, store.Stub(0))
	outStore := store.NewSimpleStore(mgr, outSchema)

	updateH := eval.NewHEval()
	mustAddH(t, updateH, eval.HInstr{Role: eval.RoleUpdate, Col: innerSchema.Attrs[0], Type: eval.TypeInt})
	scanH := eval.NewHEval()
	mustAddH(t, scanH, eval.HInstr{Role: eval.RoleScan, Col: outerSchema.Attrs[0], Type: eval.TypeInt})
	keyEq := eval.NewBEval()
	mustAddB(t, keyEq, eval.BInstr{Op: eval.BEQ, Type: eval.TypeInt, R1: eval.RoleScan, C1: outerSchema.Attrs[0], R2: eval.RoleSyn, C2: innerSchema.Attrs[0]})
	idx := hashindex.New(mgr, updateH, scanH, keyEq, func(p mem.Ptr) eval.Tuple { return innerRelStore.Tuple(p) }, 0.85)
	innerSyn.AttachIndex("k", idx)

	combine := eval.NewAEval()
	mustAddA(t, combine, eval.AInstr{Op: eval.AMax, Type: eval.TypeInt, R1: eval.RoleOuter, C1: outerSchema.Attrs[0], R2: eval.RoleOuter, C2: outerSchema.Attrs[0], DestR: eval.RoleOutput, Dest: outSchema.Attrs[0]})
	mustAddA(t, combine, eval.AInstr{Op: eval.AMax, Type: eval.TypeInt, R1: eval.RoleOuter, C1: outerSchema.Attrs[1], R2: eval.RoleOuter, C2: outerSchema.Attrs[1], DestR: eval.RoleOutput, Dest: outSchema.Attrs[1]})
	mustAddA(t, combine, eval.AInstr{Op: eval.AMax, Type: eval.TypeInt, R1: eval.RoleInner, C1: innerSchema.Attrs[1], R2: eval.RoleInner, C2: innerSchema.Attrs[1], DestR: eval.RoleOutput, Dest: outSchema.Attrs[2]})

	outerIn := queue.NewSimpleQueue(16)
	innerIn := queue.NewSimpleQueue(16)
	out := queue.NewSimpleQueue(16)
	outerResolve := func(p mem.Ptr) eval.Tuple { return outerStore.Tuple(p) }
	innerResolve := func(p mem.Ptr) eval.Tuple { return innerRelStore.Tuple(p) }

	join := NewStreamRelationJoin(outerIn, innerIn, out, outerResolve, innerResolve, innerSyn, "k", outStore, combine)

	innerPtr, innerBuf, err := innerRelStore.NewTuple()
	if err != nil {
		t.Fatalf("innerRelStore.NewTuple: %v", err)
	}
	eval.WriteInt(innerBuf, 0, 1)
	eval.WriteInt(innerBuf, 4, 900)
	if !join.InnerIn.Push(queue.Element{Tuple: innerPtr, Sign: queue.SignPlus, Timestamp: 1}) {
		t.Fatalf("inner queue full")
	}
	if _, err := join.Run(16); err != nil {
		t.Fatalf("Run after inner PLUS: %v", err)
	}
	if _, ok := join.Out.Pop(); ok {
		t.Fatalf("inner updates must never reach Out")
	}

	outerPtr1, outerBuf1, err := outerStore.NewTuple()
	if err != nil {
		t.Fatalf("outerStore.NewTuple: %v", err)
	}
	eval.WriteInt(outerBuf1, 0, 1)
	eval.WriteInt(outerBuf1, 4, 10)
	if !join.OuterIn.Push(queue.Element{Tuple: outerPtr1, Sign: queue.SignPlus, Timestamp: 2}) {
		t.Fatalf("outer queue full")
	}
	if _, err := join.Run(16); err != nil {
		t.Fatalf("Run after outer PLUS: %v", err)
	}
	e1, ok := join.Out.Pop()
	if !ok {
		t.Fatalf("expected a joined output")
	}
	if e1.Sign != queue.SignPlus || e1.Timestamp != 2 {
		t.Fatalf("joined output = %+v, want PLUS ts=2", e1)
	}
	row1 := outStore.Tuple(e1.Tuple)
	if k, ov, iv := eval.ReadInt(row1, 0), eval.ReadInt(row1, 4), eval.ReadInt(row1, 8); k != 1 || ov != 10 || iv != 900 {
		t.Fatalf("joined row = (k=%d ov=%d iv=%d), want (1,10,900)", k, ov, iv)
	}

	outerPtr2, outerBuf2, err := outerStore.NewTuple()
	if err != nil {
		t.Fatalf("outerStore.NewTuple: %v", err)
	}
	eval.WriteInt(outerBuf2, 0, 1)
	eval.WriteInt(outerBuf2, 4, 20)
	if !join.OuterIn.Push(queue.Element{Tuple: outerPtr2, Sign: queue.SignMinus, Timestamp: 3}) {
		t.Fatalf("outer queue full")
	}
	if _, err := join.Run(16); err != nil {
		t.Fatalf("Run after outer MINUS: %v", err)
	}
	if _, ok := join.Out.Pop(); ok {
		t.Fatalf("a stream-side MINUS must be dropped, not forwarded")
	}

	if !join.InnerIn.Push(queue.Element{Tuple: innerPtr, Sign: queue.SignMinus, Timestamp: 4}) {
		t.Fatalf("inner queue full")
	}
	outerPtr3, outerBuf3, err := outerStore.NewTuple()
	if err != nil {
		t.Fatalf("outerStore.NewTuple: %v", err)
	}
	eval.WriteInt(outerBuf3, 0, 1)
	eval.WriteInt(outerBuf3, 4, 30)
	if !join.OuterIn.Push(queue.Element{Tuple: outerPtr3, Sign: queue.SignPlus, Timestamp: 5}) {
		t.Fatalf("outer queue full")
	}
	if _, err := join.Run(16); err != nil {
		t.Fatalf("Run after inner MINUS + outer PLUS: %v", err)
	}
	if _, ok := join.Out.Pop(); ok {
		t.Fatalf("once the inner row is deleted, a later outer PLUS should find no match")
	}
}
