package operator

import (
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/synopsis"
)

// PartitionWindow is the PARTITION BY window operator of spec §4.7.7:
// each distinct KeyOf(row) maintains an independent row window of size
// Size. A new row is copied into the partition store and forwarded as a
// PLUS; once its partition holds more than Size rows, the partition's
// oldest row is expired, then, on the next turn of the same Run loop,
// popped off the store's global expired chain, forwarded as a MINUS, and
// physically reclaimed.
type PartitionWindow struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver
	Syn     *synopsis.PartitionSynopsis
	KeyOf   func([]byte) []byte
	Size    int

	pending       queue.Element
	hasPending    bool
	evictPend     queue.Element
	hasEvict      bool
	outPend       queue.Element
	hasOut        bool
	lastTimestamp uint64
}

func NewPartitionWindow(in, out *queue.SimpleQueue, resolve Resolver, syn *synopsis.PartitionSynopsis, keyOf func([]byte) []byte, size int) *PartitionWindow {
	return &PartitionWindow{In: in, Out: out, Resolve: resolve, Syn: syn, KeyOf: keyOf, Size: size}
}

func (w *PartitionWindow) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if w.hasEvict {
			if !pushOrStall(w.Out, w.evictPend) {
				return done, nil
			}
			if err := w.Syn.DeleteTuple(w.evictPend.Tuple); err != nil {
				return done, err
			}
			w.hasEvict = false
			done++
			continue
		}
		if ptr, ok := w.Syn.PopExpired(); ok {
			w.evictPend = queue.Element{Tuple: ptr, Sign: queue.SignMinus, Timestamp: w.lastTimestamp}
			w.hasEvict = true
			continue
		}
		if !w.hasPending {
			e, ok := w.In.Pop()
			if !ok {
				return done, nil
			}
			w.pending, w.hasPending = e, true
		}
		e := w.pending
		if e.Sign == queue.SignNone {
			if !pushOrStall(w.Out, e) {
				return done, nil
			}
			w.hasPending = false
			done++
			continue
		}
		w.lastTimestamp = e.Timestamp
		row := w.Resolve(e.Tuple)
		key := w.KeyOf(row)
		if !w.hasOut {
			ptr, buf, err := w.Syn.InsertTuple(key)
			if err != nil {
				return done, err
			}
			copy(buf, row)
			w.outPend = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: e.Timestamp}
			w.hasOut = true
		}
		if !pushOrStall(w.Out, w.outPend) {
			return done, nil
		}
		w.hasOut = false
		w.hasPending = false
		done++
		if w.Syn.PartitionCount(key) > w.Size {
			if err := w.Syn.ExpireOldest(key); err != nil {
				return done, err
			}
		}
	}
	return done, nil
}
