package operator

import (
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
)

// tickMode selects which of the three stream/relation conversions a
// tickConverter performs (spec §4.7.8).
type tickMode int

const (
	tickIstream tickMode = iota
	tickDstream
	tickRstream
)

// tickConverter is the shared "now synopsis of tuples with per-tuple
// signed counts" machinery behind Istream, Dstream, and Rstream: every
// input element for the current tick adjusts a tuple's signed count, and
// an entry whose count returns to zero is dropped; when the input timestamp advances
// past the tick, the previous tick's accumulated state is emitted — as
// many PLUS copies as the positive count (Istream), as many MINUS copies
// as the magnitude of a negative count (Dstream), or one PLUS per entry
// regardless of sign (Rstream) — and the synopsis is cleared. All three
// are heavy emitters and must stall-checkpoint mid-emit.
type tickConverter struct {
	In, Out *queue.SimpleQueue
	mode    tickMode

	counts      map[mem.Ptr]int32
	haveTick    bool
	currentTick uint64

	pending    queue.Element
	hasPending bool

	emitting      bool
	emitKeys      []mem.Ptr
	emitCounts    []int32
	emitPos       int
	emitKey       mem.Ptr
	emitRemaining int32
	emitTimestamp uint64
}

func newTickConverter(in, out *queue.SimpleQueue, mode tickMode) *tickConverter {
	return &tickConverter{In: in, Out: out, mode: mode, counts: make(map[mem.Ptr]int32)}
}

func (t *tickConverter) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if t.emitting {
			n := t.drainEmit(timeSlice - done)
			done += n
			if t.emitting {
				return done, nil
			}
			continue
		}
		if !t.hasPending {
			e, ok := t.In.Pop()
			if !ok {
				return done, nil
			}
			t.pending, t.hasPending = e, true
		}
		e := t.pending

		if t.haveTick && e.Timestamp > t.currentTick {
			t.startEmit()
			continue // re-examine the same pending element once the tick is clear
		}
		if !t.haveTick {
			t.haveTick = true
			t.currentTick = e.Timestamp
		}

		if e.Sign == queue.SignNone {
			if !pushOrStall(t.Out, e) {
				return done, nil
			}
			t.hasPending = false
			done++
			continue
		}

		switch e.Sign {
		case queue.SignPlus:
			t.counts[e.Tuple]++
		case queue.SignMinus:
			t.counts[e.Tuple]--
		}
		if t.counts[e.Tuple] == 0 {
			delete(t.counts, e.Tuple)
		}
		t.hasPending = false
		done++
	}
	return done, nil
}

// startEmit snapshots the accumulated tick and resets the synopsis so a
// new tick can begin accumulating immediately; the actual pushes happen
// in drainEmit so a full Out can stall mid-snapshot.
func (t *tickConverter) startEmit() {
	t.emitKeys = t.emitKeys[:0]
	t.emitCounts = t.emitCounts[:0]
	for k, c := range t.counts {
		t.emitKeys = append(t.emitKeys, k)
		t.emitCounts = append(t.emitCounts, c)
	}
	t.counts = make(map[mem.Ptr]int32)
	t.emitPos = 0
	t.emitRemaining = 0
	t.emitTimestamp = t.currentTick
	t.currentTick = t.pending.Timestamp
	t.emitting = len(t.emitKeys) > 0
	if !t.emitting {
		return
	}
}

func (t *tickConverter) drainEmit(budget int) int {
	done := 0
	for done < budget {
		if t.emitRemaining == 0 {
			if t.emitPos >= len(t.emitKeys) {
				t.emitting = false
				return done
			}
			count := t.emitCounts[t.emitPos]
			switch t.mode {
			case tickIstream:
				if count <= 0 {
					t.emitPos++
					continue
				}
				t.emitRemaining = count
			case tickDstream:
				if count >= 0 {
					t.emitPos++
					continue
				}
				t.emitRemaining = -count
			case tickRstream:
				t.emitRemaining = 1
			}
			t.emitKey = t.emitKeys[t.emitPos]
		}
		sign := queue.SignPlus
		if t.mode == tickDstream {
			sign = queue.SignMinus
		}
		if !pushOrStall(t.Out, queue.Element{Tuple: t.emitKey, Sign: sign, Timestamp: t.emitTimestamp}) {
			return done
		}
		t.emitRemaining--
		if t.emitRemaining == 0 {
			t.emitPos++
		}
		done++
	}
	return done
}

// Istream emits, at each tick boundary, as many PLUS copies of a tuple as
// its signed count over the closing tick, when that count was positive — the "insert stream" view of
// a relation (spec §4.7.8).
type Istream struct{ *tickConverter }

func NewIstream(in, out *queue.SimpleQueue) *Istream {
	return &Istream{newTickConverter(in, out, tickIstream)}
}

// Dstream emits, at each tick boundary, as many MINUS copies of a tuple as
// the magnitude of its signed count over the closing tick, when that count was negative — the "delete stream" view of
// a relation (spec §4.7.8).
type Dstream struct{ *tickConverter }

func NewDstream(in, out *queue.SimpleQueue) *Dstream {
	return &Dstream{newTickConverter(in, out, tickDstream)}
}

// Rstream emits, at each tick boundary, one PLUS per tuple present in the
// now synopsis regardless of sign — the full relation snapshot view
// (spec §4.7.8).
type Rstream struct{ *tickConverter }

func NewRstream(in, out *queue.SimpleQueue) *Rstream {
	return &Rstream{newTickConverter(in, out, tickRstream)}
}

// Except is the streaming MINUS-of-relations operator: a row from Left
// is forwarded only while no equal, still-live row has arrived from
// Right; Right rows never themselves reach Out (spec §4.7.9 "Except").
// Matching is by resolved value: a row is "covered" as long as Right's
// signed count for that value is positive.
type Except struct {
	Left, Right, Out         *queue.SimpleQueue
	ResolveLeft, ResolveRight Resolver

	rightCounts map[string]int
	// leftRows tracks every currently-live left tuple pointer for each
	// distinct value, so that a right-side coverage change can retract
	// or (re)assert the exact left tuples it affects, not the right
	// tuple that triggered the change.
	leftRows map[string]map[mem.Ptr]struct{}

	pending    queue.Element
	fromLeft   bool
	hasPending bool
	pendingOut []queue.Element
}

func NewExcept(left, right, out *queue.SimpleQueue, resolveLeft, resolveRight Resolver) *Except {
	return &Except{
		Left: left, Right: right, Out: out,
		ResolveLeft: resolveLeft, ResolveRight: resolveRight,
		rightCounts: make(map[string]int), leftRows: make(map[string]map[mem.Ptr]struct{}),
	}
}

func (x *Except) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		for len(x.pendingOut) > 0 {
			if !pushOrStall(x.Out, x.pendingOut[0]) {
				return done, nil
			}
			x.pendingOut = x.pendingOut[1:]
			done++
			if done >= timeSlice {
				return done, nil
			}
		}
		if !x.hasPending {
			if e, ok := x.Right.Peek(); ok {
				x.Right.Pop()
				x.pending, x.fromLeft, x.hasPending = e, false, true
			} else if e, ok := x.Left.Peek(); ok {
				x.Left.Pop()
				x.pending, x.fromLeft, x.hasPending = e, true, true
			} else {
				return done, nil
			}
		}
		e := x.pending
		x.hasPending = false
		if e.Sign == queue.SignNone {
			x.pendingOut = append(x.pendingOut, e)
			continue
		}

		if !x.fromLeft {
			x.applyRight(e)
			continue
		}
		x.applyLeft(e)
	}
	return done, nil
}

// applyRight updates right's coverage count for this value and, if
// coverage just flipped, retracts or reasserts every tracked live left
// row sharing that value.
func (x *Except) applyRight(e queue.Element) {
	key := string(x.ResolveRight(e.Tuple))
	wasCovered := x.rightCounts[key] > 0
	if e.Sign == queue.SignPlus {
		x.rightCounts[key]++
	} else if x.rightCounts[key] > 0 {
		x.rightCounts[key]--
	}
	nowCovered := x.rightCounts[key] > 0
	if wasCovered == nowCovered {
		return
	}
	sign := queue.SignMinus
	if !nowCovered {
		sign = queue.SignPlus
	}
	for left := range x.leftRows[key] {
		x.pendingOut = append(x.pendingOut, queue.Element{Tuple: left, Sign: sign, Timestamp: e.Timestamp})
	}
}

// applyLeft tracks a left-side row's liveness and forwards it only while
// its value is not currently covered by the right side.
func (x *Except) applyLeft(e queue.Element) {
	key := string(x.ResolveLeft(e.Tuple))
	set, ok := x.leftRows[key]
	if !ok {
		set = make(map[mem.Ptr]struct{})
		x.leftRows[key] = set
	}
	if e.Sign == queue.SignPlus {
		set[e.Tuple] = struct{}{}
	} else {
		delete(set, e.Tuple)
		if len(set) == 0 {
			delete(x.leftRows, key)
		}
	}
	if x.rightCounts[key] == 0 {
		x.pendingOut = append(x.pendingOut, e)
	}
}
