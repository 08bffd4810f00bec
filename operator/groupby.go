package operator

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

// groupby-row per-slot metadata offsets, relative to the end of the
// group key (KeyAttr.Offset+KeyAttr.Size): a running SUM and COUNT, the
// two accumulators every supported aggregate (SUM, COUNT, AVG) is built
// from. The Groups schema passed to NewGroupBy must declare 8 bytes of
// trailing columns after the key attribute(s) for this pair to live in —
// RelationStore hands back exactly schema.Size bytes per row, so there is
// nowhere else for them to go.
const (
	gbSumOff   = 0
	gbCountOff = 4
)

// GroupBy is the incremental streaming GROUP BY/aggregate operator of
// spec §4.7: each group's running SUM and COUNT live in a dedicated
// relation-store row, found or created by a hash index over the
// group-key attributes. Every input row retracts the group's previous
// output and asserts its new one — the relational "snapshot changes"
// discipline a downstream Istream/Dstream wrapper narrows to inserts-
// only or deletes-only.
//
// The group-key index probes with the raw bytes of the input row, so the
// key attribute(s) must sit at the same offsets in the input schema and
// the group schema; a Project ahead of GroupBy aligns them when they
// don't.
type GroupBy struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver

	Groups  *store.RelationStore
	Index   *hashindex.Index
	KeyAttr eval.Attr
	ValAttr eval.Attr

	OutStore *store.SimpleStore
	// Compute copies the key column and folds SUM/COUNT into the output
	// AVG column; for an update to an existing group it is run twice,
	// once against the pre-update group row and once against the
	// post-update row. A new group runs it only on its first row, and an
	// emptied group only on its pre-update row.
	Compute *eval.AEval
	Stub    store.Stub
	ctx     *eval.Context

	pendingIn  queue.Element
	hasPending bool
	pendingOut []queue.Element
}

func NewGroupBy(in, out *queue.SimpleQueue, resolve Resolver, groups *store.RelationStore,
	index *hashindex.Index, keyAttr, valAttr eval.Attr, outStore *store.SimpleStore,
	compute *eval.AEval, stub store.Stub) *GroupBy {
	return &GroupBy{
		In: in, Out: out, Resolve: resolve, Groups: groups, Index: index,
		KeyAttr: keyAttr, ValAttr: valAttr, OutStore: outStore, Compute: compute,
		Stub: stub, ctx: &eval.Context{},
	}
}

func (g *GroupBy) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		for len(g.pendingOut) > 0 {
			if !pushOrStall(g.Out, g.pendingOut[0]) {
				return done, nil
			}
			g.pendingOut = g.pendingOut[1:]
			done++
			if done >= timeSlice {
				return done, nil
			}
		}
		if !g.hasPending {
			e, ok := g.In.Pop()
			if !ok {
				return done, nil
			}
			g.pendingIn, g.hasPending = e, true
		}
		e := g.pendingIn
		g.hasPending = false
		if e.Sign == queue.SignNone {
			g.pendingOut = append(g.pendingOut, e)
			continue
		}
		if err := g.apply(e); err != nil {
			return done, err
		}
	}
	return done, nil
}

func (g *GroupBy) apply(e queue.Element) error {
	row := g.Resolve(e.Tuple)
	base := g.KeyAttr.Offset + g.KeyAttr.Size

	sc, err := g.Index.Scan(row)
	if err != nil {
		return err
	}
	groupPtr, found, err := sc.Next()
	if err != nil {
		return err
	}

	delta := eval.ReadInt(row, g.ValAttr.Offset)
	if e.Sign == queue.SignMinus {
		delta = -delta
	}

	if !found {
		if e.Sign == queue.SignMinus {
			return nil // retracting from a group that no longer exists: nothing to do
		}
		ptr, buf, err := g.Groups.NewTuple()
		if err != nil {
			return err
		}
		eval.CopyColumn(buf, row, g.KeyAttr)
		eval.WriteInt(buf, base+gbSumOff, delta)
		eval.WriteInt(buf, base+gbCountOff, 1)
		if err := g.Groups.InsertR(ptr, g.Stub); err != nil {
			return err
		}
		if err := g.Index.Insert(ptr); err != nil {
			return err
		}
		newOut, err := g.project(buf)
		if err != nil {
			return err
		}
		g.pendingOut = append(g.pendingOut, queue.Element{Tuple: newOut, Sign: queue.SignPlus, Timestamp: e.Timestamp})
		return nil
	}

	groupRow := g.Groups.Tuple(groupPtr)
	oldOut, err := g.project(groupRow)
	if err != nil {
		return err
	}
	minusOld := queue.Element{Tuple: oldOut, Sign: queue.SignMinus, Timestamp: e.Timestamp}

	sum := eval.ReadInt(groupRow, base+gbSumOff) + delta
	count := eval.ReadInt(groupRow, base+gbCountOff)
	if e.Sign == queue.SignPlus {
		count++
	} else {
		count--
	}
	if count <= 0 {
		if err := g.Index.Delete(groupPtr); err != nil {
			return err
		}
		if err := g.Groups.DeleteR(groupPtr, g.Stub); err != nil {
			return err
		}
		// the group is gone: no replacement PLUS to assert first.
		g.pendingOut = append(g.pendingOut, minusOld)
		return nil
	}
	eval.WriteInt(groupRow, base+gbSumOff, sum)
	eval.WriteInt(groupRow, base+gbCountOff, count)
	newOut, err := g.project(groupRow)
	if err != nil {
		return err
	}
	// assert the updated group before retracting its old value, per the
	// plus-before-minus discipline group_aggr.cc's processPlus/processMinus
	// follow.
	g.pendingOut = append(g.pendingOut,
		queue.Element{Tuple: newOut, Sign: queue.SignPlus, Timestamp: e.Timestamp},
		minusOld,
	)
	return nil
}

// project runs Compute against one snapshot of a group row, returning a
// fresh output tuple pointer carrying the group's key and its current
// aggregate value.
func (g *GroupBy) project(groupRow eval.Tuple) (mem.Ptr, error) {
	ptr, buf, err := g.OutStore.NewTuple()
	if err != nil {
		return mem.NilPtr, err
	}
	g.ctx.Bind(eval.RoleInput, groupRow)
	g.ctx.Bind(eval.RoleOutput, buf)
	if err := g.Compute.Run(g.ctx); err != nil {
		return mem.NilPtr, err
	}
	return ptr, nil
}
