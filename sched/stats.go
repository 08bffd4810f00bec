package sched

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
)

// Monitored is one operator the scheduler wants StatsSource to report
// on: its output queue (for depth) plus its own running stall and
// heartbeat counters. A deployment's operator wrappers are expected to
// increment Stalls/Heartbeats themselves; StatsSource only reads them.
type Monitored struct {
	Name       string
	Out        *queue.SimpleQueue
	Stalls     *uint64
	Heartbeats *uint64
}

// StatsSchema is the fixed four-column layout every StatsSource row
// uses: which monitored operator (by index into Monitors, not a name —
// names don't fit a fixed-width INT/FLOAT/BYTE/CHAR row), its current
// queue depth, its cumulative stall count, and its cumulative heartbeat
// count.
func StatsSchema() *eval.Schema {
	s, err := eval.NewSchema([]eval.AttrSpec{
		{Name: "operator_index", Type: eval.TypeInt},
		{Name: "queue_depth", Type: eval.TypeInt},
		{Name: "stalls", Type: eval.TypeInt},
		{Name: "heartbeats", Type: eval.TypeInt},
	})
	if err != nil {
		panic("sched: StatsSchema is a fixed literal and must always build: " + err.Error())
	}
	return s
}

// StatsSource is the counting half of the original system-stream
// self-monitoring operator (original_source's sys_stream_gen.h): every
// Period ticks it emits one PLUS row per Monitors entry describing that
// operator's current queue depth and cumulative stall/heartbeat counts.
// It owns no catalog and emits no XML — that reporting half stays out
// of scope (spec §1) — it is otherwise an ordinary source operator the
// scheduler drives like any other.
type StatsSource struct {
	Out      *queue.SimpleQueue
	Store    *store.SimpleStore
	Monitors []Monitored
	Period   uint64

	tick       uint64
	nextRow    int
	pendingOut queue.Element
	hasOut     bool
}

func NewStatsSource(out *queue.SimpleQueue, s *store.SimpleStore, monitors []Monitored, period uint64) *StatsSource {
	if period == 0 {
		period = 1
	}
	return &StatsSource{Out: out, Store: s, Monitors: monitors, Period: period}
}

func (ss *StatsSource) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if ss.hasOut {
			if !ss.Out.Push(ss.pendingOut) {
				return done, nil
			}
			ss.hasOut = false
			done++
			continue
		}
		if ss.nextRow >= len(ss.Monitors) {
			ss.tick += ss.Period
			ss.nextRow = 0
			return done, nil
		}
		m := ss.Monitors[ss.nextRow]
		ptr, buf, err := ss.Store.NewTuple()
		if err != nil {
			return done, err
		}
		eval.WriteInt(buf, 0, int32(ss.nextRow))
		eval.WriteInt(buf, 4, int32(m.Out.Len()))
		eval.WriteInt(buf, 8, int32(atomicLoad(m.Stalls)))
		eval.WriteInt(buf, 12, int32(atomicLoad(m.Heartbeats)))
		ss.pendingOut = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: ss.tick}
		ss.hasOut = true
		ss.nextRow++
	}
	return done, nil
}

// atomicLoad reads a counter a monitored operator updates. The runtime
// is single-threaded (spec §5), so this is a plain dereference, not an
// atomic op; the name only signals "this is someone else's counter, not
// StatsSource's own state".
func atomicLoad(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
