package operator

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
	"github.com/contflow/dsce/synopsis"
)

// BinaryJoin is the streaming equi-join operator of spec §4.7: every new
// row from either side is inserted into that side's synopsis and probed
// against the other side's join-key index; every match produces one
// output row, recorded in a LineageStore under the (left id, right id)
// pair that produced it so a later MINUS from either side can find and
// retract exactly the outputs it is responsible for.
//
// BinaryJoin assumes both input schemas place the join-key attribute(s)
// at identical offsets — a probe tuple is the raw bytes of one side's
// row, read by the other side's index program using its own Attr
// layout. A join on differently-laid-out keys needs a Project ahead of
// it to align them; see DESIGN.md.
type BinaryJoin struct {
	LeftIn, RightIn, Out *queue.SimpleQueue
	LeftResolve, RightResolve Resolver

	LeftSyn, RightSyn *synopsis.RelationSynopsis
	indexName         string

	Lineage *store.LineageStore
	Stub    store.Stub

	// Combine binds RoleOuter (left row), RoleInner (right row), and
	// RoleOutput (the fresh lineage-store row) and writes the joined
	// output's columns.
	Combine *eval.AEval
	ctx     *eval.Context

	pendingIn  queue.Element
	fromLeft   bool
	hasPending bool

	scanner  *hashindex.Scanner
	scanning bool

	outPend queue.Element
	hasOut  bool
}

// NewBinaryJoin wires a join over leftSyn/rightSyn, each of which must
// already carry an attached index named indexName over the join-key
// attribute(s) (see synopsis.RelationSynopsis.AttachIndex).
func NewBinaryJoin(leftIn, rightIn, out *queue.SimpleQueue, leftResolve, rightResolve Resolver,
	leftSyn, rightSyn *synopsis.RelationSynopsis, indexName string,
	lineage *store.LineageStore, stub store.Stub, combine *eval.AEval) *BinaryJoin {
	return &BinaryJoin{
		LeftIn: leftIn, RightIn: rightIn, Out: out,
		LeftResolve: leftResolve, RightResolve: rightResolve,
		LeftSyn: leftSyn, RightSyn: rightSyn, indexName: indexName,
		Lineage: lineage, Stub: stub, Combine: combine, ctx: &eval.Context{},
	}
}

func (j *BinaryJoin) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if j.scanning {
			n, err := j.drainMatches(timeSlice - done)
			done += n
			if err != nil {
				return done, err
			}
			if j.scanning {
				return done, nil // stalled on a full Out mid-fanout
			}
			continue
		}
		if !j.hasPending {
			if e, ok := j.LeftIn.Peek(); ok {
				j.LeftIn.Pop()
				j.pendingIn, j.fromLeft, j.hasPending = e, true, true
			} else if e, ok := j.RightIn.Peek(); ok {
				j.RightIn.Pop()
				j.pendingIn, j.fromLeft, j.hasPending = e, false, true
			} else {
				return done, nil
			}
		}

		e := j.pendingIn
		if e.Sign == queue.SignNone {
			if !pushOrStall(j.Out, e) {
				return done, nil // e stays in j.pendingIn; retried next call
			}
			j.hasPending = false
			done++
			continue
		}

		if err := j.startMatchScan(); err != nil {
			return done, err
		}
		n, err := j.drainMatches(timeSlice - done)
		done += n
		if err != nil {
			return done, err
		}
		if j.scanning {
			return done, nil
		}
	}
	return done, nil
}

func (j *BinaryJoin) startMatchScan() error {
	e := j.pendingIn
	var probe eval.Tuple
	var idx *hashindex.Index
	if j.fromLeft {
		probe = j.LeftResolve(e.Tuple)
		idx = j.RightSyn.Index(j.indexName)
	} else {
		probe = j.RightResolve(e.Tuple)
		idx = j.LeftSyn.Index(j.indexName)
	}
	if idx == nil {
		return fmt.Errorf("operator: join index %q not attached", j.indexName)
	}
	sc, err := idx.Scan(probe)
	if err != nil {
		return err
	}
	j.scanner = sc
	j.scanning = true

	// a PLUS makes this side's row visible to future probes from the
	// other side only after this row's own matches against the
	// *current* opposite state have been computed, so symmetric
	// simultaneous inserts on both sides within one tick never
	// self-join.
	if e.Sign == queue.SignPlus {
		if j.fromLeft {
			if err := j.LeftSyn.InsertTuple(e.Tuple); err != nil {
				return err
			}
		} else {
			if err := j.RightSyn.InsertTuple(e.Tuple); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *BinaryJoin) drainMatches(budget int) (int, error) {
	done := 0
	for done < budget {
		if j.hasOut {
			if !pushOrStall(j.Out, j.outPend) {
				return done, nil
			}
			j.hasOut = false
			done++
			continue
		}
		other, ok, err := j.scanner.Next()
		if err != nil {
			return done, err
		}
		if !ok {
			j.scanning = false
			if j.pendingIn.Sign == queue.SignMinus {
				var err error
				if j.fromLeft {
					err = j.LeftSyn.DeleteTuple(j.pendingIn.Tuple)
				} else {
					err = j.RightSyn.DeleteTuple(j.pendingIn.Tuple)
				}
				if err != nil {
					return done, err
				}
			}
			j.hasPending = false
			done++
			return done, nil
		}

		var leftPtr, rightPtr mem.Ptr
		if j.fromLeft {
			leftPtr, rightPtr = j.pendingIn.Tuple, other
		} else {
			leftPtr, rightPtr = other, j.pendingIn.Tuple
		}
		lid1 := uint32(leftPtr)
		lid2 := uint32(rightPtr)

		sign := j.pendingIn.Sign
		var outPtr mem.Ptr
		if sign == queue.SignPlus {
			ptr, buf, err := j.Lineage.NewTupleL(lid1, lid2, j.Stub)
			if err != nil {
				return done, err
			}
			j.ctx.Bind(eval.RoleOuter, j.LeftResolve(leftPtr))
			j.ctx.Bind(eval.RoleInner, j.RightResolve(rightPtr))
			j.ctx.Bind(eval.RoleOutput, buf)
			if err := j.Combine.Run(j.ctx); err != nil {
				return done, err
			}
			outPtr = ptr
		} else {
			ptr, found, err := j.Lineage.GetTupleL(lid1, lid2, j.Stub)
			if err != nil {
				return done, err
			}
			if !found {
				done++
				continue
			}
			if err := j.Lineage.DeleteTupleL(ptr, j.Stub); err != nil {
				return done, err
			}
			outPtr = ptr
		}

		j.outPend = queue.Element{Tuple: outPtr, Sign: sign, Timestamp: j.pendingIn.Timestamp}
		j.hasOut = true
	}
	return done, nil
}
