package operator

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
	"github.com/contflow/dsce/synopsis"
)

// StreamRelationJoin is the stream-relation join operator of spec
// §4.7.4: Inner is a relation (its own PLUS/MINUS merely update its
// synopsis, never reaching Out), Outer is a stream whose every PLUS
// probes Inner's index and emits one output PLUS per match. There is no
// join lineage synopsis — the output is itself a stream, so no MINUS
// downstream ever needs to recall a prior output row.
//
// Like BinaryJoin, the inner index is probed with the outer row's raw
// bytes, so the join key must sit at the same offset in both schemas.
type StreamRelationJoin struct {
	OuterIn, InnerIn, Out *queue.SimpleQueue
	OuterResolve          Resolver
	InnerResolve          Resolver

	InnerSyn  *synopsis.RelationSynopsis
	indexName string

	OutStore *store.SimpleStore
	// Combine binds RoleOuter (outer row) and RoleInner (matched inner
	// row) and RoleOutput (the fresh output tuple) and writes the joined
	// output's columns.
	Combine *eval.AEval
	ctx     *eval.Context

	pendingIn  queue.Element
	fromOuter  bool
	hasPending bool

	scanner  *hashindex.Scanner
	scanning bool

	outPend queue.Element
	hasOut  bool
}

func NewStreamRelationJoin(outerIn, innerIn, out *queue.SimpleQueue, outerResolve, innerResolve Resolver,
	innerSyn *synopsis.RelationSynopsis, indexName string, outStore *store.SimpleStore, combine *eval.AEval) *StreamRelationJoin {
	return &StreamRelationJoin{
		OuterIn: outerIn, InnerIn: innerIn, Out: out,
		OuterResolve: outerResolve, InnerResolve: innerResolve,
		InnerSyn: innerSyn, indexName: indexName,
		OutStore: outStore, Combine: combine, ctx: &eval.Context{},
	}
}

func (j *StreamRelationJoin) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if j.scanning {
			n, err := j.drainMatches(timeSlice - done)
			done += n
			if err != nil {
				return done, err
			}
			if j.scanning {
				return done, nil
			}
			continue
		}
		if !j.hasPending {
			if e, ok := j.InnerIn.Peek(); ok {
				j.InnerIn.Pop()
				j.pendingIn, j.fromOuter, j.hasPending = e, false, true
			} else if e, ok := j.OuterIn.Peek(); ok {
				j.OuterIn.Pop()
				j.pendingIn, j.fromOuter, j.hasPending = e, true, true
			} else {
				return done, nil
			}
		}

		e := j.pendingIn
		if !j.fromOuter {
			// inner updates never reach Out; heartbeats from it are
			// simply dropped since the outer side drives output timing.
			if e.Sign != queue.SignNone {
				if err := j.applyInner(e); err != nil {
					return done, err
				}
			}
			j.hasPending = false
			done++
			continue
		}

		if e.Sign == queue.SignNone {
			if !pushOrStall(j.Out, e) {
				return done, nil
			}
			j.hasPending = false
			done++
			continue
		}
		if e.Sign == queue.SignMinus {
			// the outer side is a stream: a MINUS never arises downstream
			// of this join per spec §4.7.4, so there is nothing to do
			// but drop it.
			j.hasPending = false
			done++
			continue
		}

		idx := j.InnerSyn.Index(j.indexName)
		if idx == nil {
			return done, fmt.Errorf("operator: stream-relation join index %q not attached", j.indexName)
		}
		sc, err := idx.Scan(j.OuterResolve(e.Tuple))
		if err != nil {
			return done, err
		}
		j.scanner = sc
		j.scanning = true
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

func (j *StreamRelationJoin) applyInner(e queue.Element) error {
	switch e.Sign {
	case queue.SignPlus:
		return j.InnerSyn.InsertTuple(e.Tuple)
	case queue.SignMinus:
		return j.InnerSyn.DeleteTuple(e.Tuple)
	}
	return nil
}

func (j *StreamRelationJoin) drainMatches(budget int) (int, error) {
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
		innerPtr, ok, err := j.scanner.Next()
		if err != nil {
			return done, err
		}
		if !ok {
			j.scanning = false
			j.hasPending = false
			done++
			return done, nil
		}
		ptr, buf, err := j.OutStore.NewTuple()
		if err != nil {
			return done, err
		}
		j.ctx.Bind(eval.RoleOuter, j.OuterResolve(j.pendingIn.Tuple))
		j.ctx.Bind(eval.RoleInner, j.InnerResolve(innerPtr))
		j.ctx.Bind(eval.RoleOutput, buf)
		if err := j.Combine.Run(j.ctx); err != nil {
			return done, err
		}
		j.outPend = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: j.pendingIn.Timestamp}
		j.hasOut = true
	}
	return done, nil
}

