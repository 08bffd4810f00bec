package operator

import "github.com/contflow/dsce/queue"

// Distinct suppresses duplicate rows by value: a PLUS is forwarded only
// the first time its value's reference count goes from zero to one, and
// a MINUS only the last time it goes back to zero (spec §4.7 "Distinct").
// The per-value reference count is bookkeeping outside the tuple pool —
// like the hash index's bucket directory and the partition store's
// header table — so it lives in a plain Go map rather than a store.
type Distinct struct {
	In, Out *queue.SimpleQueue
	Resolve Resolver

	counts map[string]int

	pending queue.Element
	hasPend bool
}

func NewDistinct(in, out *queue.SimpleQueue, resolve Resolver) *Distinct {
	return &Distinct{In: in, Out: out, Resolve: resolve, counts: make(map[string]int)}
}

func (d *Distinct) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if !d.hasPend {
			e, ok := d.In.Pop()
			if !ok {
				return done, nil
			}
			d.pending = e
			d.hasPend = true
		}
		e := d.pending
		if e.Sign == queue.SignNone {
			if !pushOrStall(d.Out, e) {
				return done, nil
			}
			d.hasPend = false
			done++
			continue
		}

		key := string(d.Resolve(e.Tuple))
		forward := false
		switch e.Sign {
		case queue.SignPlus:
			forward = d.counts[key] == 0
		case queue.SignMinus:
			forward = d.counts[key] <= 1
		}
		if forward && !pushOrStall(d.Out, e) {
			return done, nil
		}
		// the count changes only once the element is settled, so a
		// retry after a stall sees the same count again.
		switch e.Sign {
		case queue.SignPlus:
			d.counts[key]++
		case queue.SignMinus:
			if d.counts[key] <= 1 {
				delete(d.counts, key)
			} else {
				d.counts[key]--
			}
		}
		d.hasPend = false
		done++
	}
	return done, nil
}
