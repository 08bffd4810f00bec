package operator

import (
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
	"github.com/contflow/dsce/synopsis"
)

// RowWindow is the streaming ROWS-bounded window operator of spec §4.7.7:
// every arriving row is copied into the window's own store (so its
// eviction-time MINUS can carry the exact same pointer its PLUS carried)
// and forwarded as a PLUS; once the window holds more than Size rows, its
// oldest row is forwarded as a MINUS and evicted. Heartbeats pass
// straight through.
type RowWindow struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver
	Syn     *synopsis.WindowSynopsis
	Size    int

	count int

	pending    queue.Element
	hasPending bool
	evictPend  queue.Element
	hasEvict   bool
	outPend    queue.Element
	hasOut     bool
}

func NewRowWindow(in, out *queue.SimpleQueue, resolve Resolver, syn *synopsis.WindowSynopsis, size int) *RowWindow {
	return &RowWindow{In: in, Out: out, Resolve: resolve, Syn: syn, Size: size}
}

func (w *RowWindow) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if w.hasEvict {
			if !pushOrStall(w.Out, w.evictPend) {
				return done, nil
			}
			if err := w.Syn.DeleteOldest(); err != nil {
				return done, err
			}
			w.hasEvict = false
			done++
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
		if !w.hasOut {
			ptr, buf, err := w.Syn.Store.InsertTupleW()
			if err != nil {
				return done, err
			}
			copy(buf, w.Resolve(e.Tuple))
			w.outPend = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: e.Timestamp}
			w.hasOut = true
		}
		if !pushOrStall(w.Out, w.outPend) {
			return done, nil
		}
		w.hasOut = false
		w.hasPending = false
		w.count++
		done++
		if w.count > w.Size {
			oldest, ok := w.Syn.Oldest()
			if ok {
				w.evictPend = queue.Element{Tuple: oldest, Sign: queue.SignMinus, Timestamp: e.Timestamp}
				w.hasEvict = true
				w.count--
			}
		}
	}
	return done, nil
}

// TimeWindow is the streaming time-bounded window operator: a row stored
// at timestamp ts is evicted, as a MINUS, once the newest seen timestamp
// advances more than Width past it (spec §4.7.7). Like RowWindow, every
// row is copied into the window's own store so PLUS and MINUS carry
// identical pointers. A Width of 1 degenerates into the "now window".
type TimeWindow struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver
	Syn     *synopsis.WindowSynopsis
	Width   uint64
	// TimestampOf reads the timestamp column out of a window-owned tuple,
	// since which column that is depends on the application's schema.
	TimestampOf func(store.TupleRef) uint64

	pending    queue.Element
	hasPending bool
	evictPend  queue.Element
	hasEvict   bool
	outPend    queue.Element
	hasOut     bool
	watermark  uint64
}

func NewTimeWindow(in, out *queue.SimpleQueue, resolve Resolver, syn *synopsis.WindowSynopsis, width uint64, timestampOf func(store.TupleRef) uint64) *TimeWindow {
	return &TimeWindow{In: in, Out: out, Resolve: resolve, Syn: syn, Width: width, TimestampOf: timestampOf}
}

// NewNowWindow builds the degenerate time window of spec §4.7.7 ("now
// window: degenerate time window with R = 1").
func NewNowWindow(in, out *queue.SimpleQueue, resolve Resolver, syn *synopsis.WindowSynopsis, timestampOf func(store.TupleRef) uint64) *TimeWindow {
	return NewTimeWindow(in, out, resolve, syn, 1, timestampOf)
}

func (w *TimeWindow) oldestExpired() (store.TupleRef, bool) {
	oldest, ok := w.Syn.Oldest()
	if !ok {
		return 0, false
	}
	ts := w.oldestTimestamp(oldest)
	if w.watermark > w.Width && ts < w.watermark-w.Width {
		return oldest, true
	}
	return 0, false
}

func (w *TimeWindow) oldestTimestamp(ptr store.TupleRef) uint64 {
	if w.TimestampOf == nil {
		return 0
	}
	return w.TimestampOf(ptr)
}

func (w *TimeWindow) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if w.hasEvict {
			if !pushOrStall(w.Out, w.evictPend) {
				return done, nil
			}
			if err := w.Syn.DeleteOldest(); err != nil {
				return done, err
			}
			w.hasEvict = false
			done++
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
		if e.Timestamp > w.watermark {
			w.watermark = e.Timestamp
		}
		if e.Sign == queue.SignNone {
			if !pushOrStall(w.Out, e) {
				return done, nil
			}
			w.hasPending = false
			done++
			if oldest, expired := w.oldestExpired(); expired {
				w.evictPend = queue.Element{Tuple: oldest, Sign: queue.SignMinus, Timestamp: w.watermark}
				w.hasEvict = true
			}
			continue
		}
		if !w.hasOut {
			ptr, buf, err := w.Syn.Store.InsertTupleW()
			if err != nil {
				return done, err
			}
			copy(buf, w.Resolve(e.Tuple))
			w.outPend = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: e.Timestamp}
			w.hasOut = true
		}
		if !pushOrStall(w.Out, w.outPend) {
			return done, nil
		}
		w.hasOut = false
		w.hasPending = false
		done++
		if oldest, expired := w.oldestExpired(); expired {
			w.evictPend = queue.Element{Tuple: oldest, Sign: queue.SignMinus, Timestamp: w.watermark}
			w.hasEvict = true
		}
	}
	return done, nil
}
