package operator

import (
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

// UnionMode selects which of spec §4.7.9's two Union disciplines a Union
// operator runs.
type UnionMode int

const (
	// UnionStream merges two streams by timestamp order; every element
	// from either side is forwarded as-is (spec §4.7.9 "stream mode").
	UnionStream UnionMode = iota
	// UnionRelation merges two relations: a MINUS is only forwarded if
	// it matches a PLUS this operator previously forwarded from the same
	// side, so a relation that never asserted a row can't retract it
	// through the union (spec §4.7.9 "relation mode").
	UnionRelation
)

const (
	lineageSideLeft  = 0
	lineageSideRight = 1
)

// Union merges two inputs of the same schema into one output (spec
// §4.7.9). In UnionStream mode it is a plain timestamp-ordered merge,
// forwarding whichever side's next element carries the earlier
// timestamp (ties favor Left), so the merged output stays monotone in
// time the way every other operator's output is expected to be. In
// UnionRelation mode it additionally maintains a lineage synopsis over
// each side's tuple id, grounded the same way BinaryJoin's lineage
// matching is (join.go): a MINUS is forwarded only if its (side, id) was
// previously recorded by a forwarded PLUS, and the record is then
// removed, so stray or duplicate retractions never reach Out.
type Union struct {
	Left, Right, Out *queue.SimpleQueue

	Mode    UnionMode
	Lineage *store.LineageStore
	Stub    store.Stub
}

// NewUnion builds a stream-mode Union.
func NewUnion(left, right, out *queue.SimpleQueue) *Union {
	return &Union{Left: left, Right: right, Out: out, Mode: UnionStream}
}

// NewRelationUnion builds a relation-mode Union, backed by lineage for
// matching MINUSes to prior PLUSes per side.
func NewRelationUnion(left, right, out *queue.SimpleQueue, lineage *store.LineageStore, stub store.Stub) *Union {
	return &Union{Left: left, Right: right, Out: out, Mode: UnionRelation, Lineage: lineage, Stub: stub}
}

func (u *Union) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		le, lok := u.Left.Peek()
		re, rok := u.Right.Peek()
		if !lok && !rok {
			return done, nil
		}
		var from *queue.SimpleQueue
		var side int
		switch {
		case lok && !rok:
			from, side = u.Left, lineageSideLeft
		case rok && !lok:
			from, side = u.Right, lineageSideRight
		case le.Timestamp <= re.Timestamp:
			from, side = u.Left, lineageSideLeft
		default:
			from, side = u.Right, lineageSideRight
		}
		e, _ := from.Peek()

		if u.Mode == UnionRelation && e.Sign == queue.SignMinus {
			_, found, err := u.Lineage.GetTupleL(uint32(side), uint32(e.Tuple), u.Stub)
			if err != nil {
				return done, err
			}
			if !found {
				from.Pop()
				done++
				continue
			}
		}

		if !pushOrStall(u.Out, e) {
			return done, nil
		}
		// lineage changes only after the push, so a retry after a stall
		// finds the lineage as it was.
		if u.Mode == UnionRelation && e.Sign != queue.SignNone {
			if _, err := u.resolveLineage(side, e); err != nil {
				return done, err
			}
		}
		from.Pop()
		done++
	}
	return done, nil
}

// resolveLineage applies the relation-mode PLUS/MINUS matching discipline
// for an element forwarded from side: a PLUS is recorded, a matching
// MINUS removes its record. It reports whether a record was recorded or
// removed.
func (u *Union) resolveLineage(side int, e queue.Element) (bool, error) {
	id := uint32(e.Tuple)
	if e.Sign == queue.SignPlus {
		if _, _, err := u.Lineage.NewTupleL(uint32(side), id, u.Stub); err != nil {
			return false, err
		}
		return true, nil
	}
	ptr, found, err := u.Lineage.GetTupleL(uint32(side), id, u.Stub)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := u.Lineage.DeleteTupleL(ptr, u.Stub); err != nil {
		return false, err
	}
	return true, nil
}
