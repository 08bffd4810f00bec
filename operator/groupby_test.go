package operator

import (
	"testing"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

// newGroupByFixture builds a single-key-column, SUM/COUNT-accumulating
// GroupBy over an (k, v) input schema, wired the same way a real plan
// would wire one: a RelationStore whose schema reserves room for the
// SUM/COUNT accumulators after the key, a hash index over the key
// column, and a Compute program that copies key/sum/count straight
// through to the output row (spec §8 scenario C derives AVG = sum/count
// from exactly these two accumulators).
func newGroupByFixture(t *testing.T, mgr *mem.Manager) (*GroupBy, *store.SimpleStore, *store.SimpleStore) {
	t.Helper()

	inSchema := intSchema(t, "k", "v")
	keyAttr := inSchema.Attrs[0]
	valAttr := inSchema.Attrs[1]
	inStore := store.NewSimpleStore(mgr, inSchema)

	groupSchema := intSchema(t, "k", "sum", "count")
	groups := store.NewRelationStore(mgr, groupSchema)
	groupKeyAttr := groupSchema.Attrs[0]
	sumAttr := groupSchema.Attrs[1]
	countAttr := groupSchema.Attrs[2]

	outStore := store.NewSimpleStore(mgr, groupSchema)

	updateH := eval.NewHEval()
	if err := updateH.Add(eval.HInstr{Role: eval.RoleUpdate, Col: groupKeyAttr, Type: eval.TypeInt}); err != nil {
		t.Fatalf("updateH.Add: %v", err)
	}
	scanH := eval.NewHEval()
	if err := scanH.Add(eval.HInstr{Role: eval.RoleScan, Col: keyAttr, Type: eval.TypeInt}); err != nil {
		t.Fatalf("scanH.Add: %v", err)
	}
	keyEq := eval.NewBEval()
	if err := keyEq.Add(eval.BInstr{Op: eval.BEQ, Type: eval.TypeInt, R1: eval.RoleScan, C1: keyAttr, R2: eval.RoleSyn, C2: groupKeyAttr}); err != nil {
		t.Fatalf("keyEq.Add: %v", err)
	}
	index := hashindex.New(mgr, updateH, scanH, keyEq, func(p mem.Ptr) eval.Tuple { return groups.Tuple(p) }, 0.85)

	compute := eval.NewAEval()
	for _, a := range []eval.Attr{groupKeyAttr, sumAttr, countAttr} {
		if err := compute.Add(eval.AInstr{Op: eval.ACopy, Type: eval.TypeInt, R1: eval.RoleInput, DestR: eval.RoleOutput, Dest: a}); err != nil {
			t.Fatalf("compute.Add: %v", err)
		}
	}

	in := queue.NewSimpleQueue(16)
	out := queue.NewSimpleQueue(16)
	resolveIn := func(p mem.Ptr) eval.Tuple { return inStore.Tuple(p) }

	gb := NewGroupBy(in, out, resolveIn, groups, index, keyAttr, valAttr, outStore, compute, store.Stub(0))
	return gb, inStore, outStore
}

func TestGroupByMaintainsSumCountIncrementally(t *testing.T) {
	mgr := newMgr(t, 16)
	gb, inStore, outStore := newGroupByFixture(t, mgr)

	push := func(k, v int32, sign queue.Sign, ts uint64) {
		ptr, buf, err := inStore.NewTuple()
		if err != nil {
			t.Fatalf("NewTuple: %v", err)
		}
		eval.WriteInt(buf, 0, k)
		eval.WriteInt(buf, 4, v)
		if !gb.In.Push(queue.Element{Tuple: ptr, Sign: sign, Timestamp: ts}) {
			t.Fatalf("input queue full")
		}
	}

	type want struct {
		sign       queue.Sign
		sum, count int32
	}
	drain := func(n int) []want {
		var got []want
		for len(got) < n {
			if _, err := gb.Run(16); err != nil {
				t.Fatalf("Run: %v", err)
			}
			e, ok := gb.Out.Pop()
			if !ok {
				t.Fatalf("expected %d outputs, got %d", n, len(got))
			}
			row := outStore.Tuple(e.Tuple)
			got = append(got, want{sign: e.Sign, sum: eval.ReadInt(row, 4), count: eval.ReadInt(row, 8)})
		}
		return got
	}

	push(1, 4, queue.SignPlus, 1)
	out1 := drain(1)
	if out1[0].sign != queue.SignPlus || out1[0].sum != 4 || out1[0].count != 1 {
		t.Fatalf("new group = %+v, want PLUS sum=4 count=1", out1[0])
	}

	push(1, 6, queue.SignPlus, 2)
	out2 := drain(2)
	if out2[0].sign != queue.SignPlus || out2[0].sum != 10 || out2[0].count != 2 {
		t.Fatalf("updated group PLUS = %+v, want sum=10 count=2", out2[0])
	}
	if out2[1].sign != queue.SignMinus || out2[1].sum != 4 || out2[1].count != 1 {
		t.Fatalf("updated group MINUS = %+v, want sum=4 count=1", out2[1])
	}

	push(1, 2, queue.SignPlus, 3)
	out3 := drain(2)
	if out3[0].sign != queue.SignPlus || out3[0].sum != 12 || out3[0].count != 3 {
		t.Fatalf("third PLUS = %+v, want sum=12 count=3", out3[0])
	}
	if out3[1].sign != queue.SignMinus || out3[1].sum != 10 || out3[1].count != 2 {
		t.Fatalf("third MINUS = %+v, want sum=10 count=2", out3[1])
	}

	push(1, 4, queue.SignMinus, 4)
	out4 := drain(2)
	if out4[0].sign != queue.SignPlus || out4[0].sum != 8 || out4[0].count != 2 {
		t.Fatalf("retract PLUS = %+v, want sum=8 count=2", out4[0])
	}
	if out4[1].sign != queue.SignMinus || out4[1].sum != 12 || out4[1].count != 3 {
		t.Fatalf("retract MINUS = %+v, want sum=12 count=3", out4[1])
	}

	push(1, 6, queue.SignMinus, 5)
	out5 := drain(2)
	if out5[0].sign != queue.SignPlus || out5[0].sum != 2 || out5[0].count != 1 {
		t.Fatalf("second retract PLUS = %+v, want sum=2 count=1", out5[0])
	}

	push(1, 2, queue.SignMinus, 6)
	out6 := drain(1)
	if out6[0].sign != queue.SignMinus || out6[0].sum != 2 || out6[0].count != 1 {
		t.Fatalf("group-emptying retract = %+v, want lone MINUS sum=2 count=1", out6[0])
	}
}
