package operator

import (
	"fmt"

	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/queue"
	"github.com/contflow/dsce/store"
	"github.com/contflow/dsce/synopsis"
)

func errIndexNotAttached(name string) error {
	return fmt.Errorf("operator: relation source index %q not attached", name)
}

// Record is one fixed-format byte record read from an external
// TableSource: a timestamp, an optional sign byte (relation sources
// only), and the record's attribute bytes, already laid out to match the
// destination schema (spec §4.7.10 "Sources and Sinks").
type Record struct {
	Timestamp uint64
	Sign      queue.Sign
	Data      []byte
}

// TableSource is the external byte-record collaborator a stream or
// relation source operator drives; spec §1 calls its wire/on-disk
// encoding out of scope for the core, so this is the minimal surface the
// operators below need.
type TableSource interface {
	// Next returns the next record, or ok=false once the source is
	// exhausted for this call (not necessarily permanently — the caller
	// retries on a later Run).
	Next() (Record, bool, error)
}

// StreamSource reads records from an external TableSource, decodes each
// into a freshly allocated output tuple, and enqueues a PLUS with the
// record's timestamp (spec §4.7.10 "stream source").
type StreamSource struct {
	Source TableSource
	Out    *queue.SimpleQueue
	Store  *store.SimpleStore

	pendingOut queue.Element
	hasOut     bool
}

func NewStreamSource(source TableSource, out *queue.SimpleQueue, s *store.SimpleStore) *StreamSource {
	return &StreamSource{Source: source, Out: out, Store: s}
}

func (s *StreamSource) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if s.hasOut {
			if !pushOrStall(s.Out, s.pendingOut) {
				return done, nil
			}
			s.hasOut = false
			done++
			continue
		}
		rec, ok, err := s.Source.Next()
		if err != nil {
			return done, err
		}
		if !ok {
			return done, nil
		}
		ptr, buf, err := s.Store.NewTuple()
		if err != nil {
			return done, err
		}
		copy(buf, rec.Data)
		s.pendingOut = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: rec.Timestamp}
		s.hasOut = true
	}
	return done, nil
}

// RelationSource reads sign-tagged records from an external TableSource.
// A PLUS record allocates a new tuple, enqueues it, and inserts it into
// the source's own relation synopsis (indexed over every attribute) so a
// later MINUS record — carrying the same attribute values but not the
// original tuple pointer — can be resolved back to that same pointer
// (spec §4.7.10 "relation source").
type RelationSource struct {
	Source TableSource
	Out    *queue.SimpleQueue
	Store  *store.RelationStore
	Syn    *synopsis.RelationSynopsis
	// indexName is the all-attributes index attached to Syn that a MINUS
	// record's bytes are probed against.
	indexName string

	pendingOut queue.Element
	hasOut     bool
}

func NewRelationSource(source TableSource, out *queue.SimpleQueue, s *store.RelationStore, syn *synopsis.RelationSynopsis, indexName string) *RelationSource {
	return &RelationSource{Source: source, Out: out, Store: s, Syn: syn, indexName: indexName}
}

func (s *RelationSource) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		if s.hasOut {
			if !pushOrStall(s.Out, s.pendingOut) {
				return done, nil
			}
			s.hasOut = false
			done++
			continue
		}
		rec, ok, err := s.Source.Next()
		if err != nil {
			return done, err
		}
		if !ok {
			return done, nil
		}
		if rec.Sign == queue.SignPlus {
			ptr, buf, err := s.Store.NewTuple()
			if err != nil {
				return done, err
			}
			copy(buf, rec.Data)
			if err := s.Syn.InsertTuple(ptr); err != nil {
				return done, err
			}
			s.pendingOut = queue.Element{Tuple: ptr, Sign: queue.SignPlus, Timestamp: rec.Timestamp}
			s.hasOut = true
			continue
		}

		idx := s.Syn.Index(s.indexName)
		if idx == nil {
			return done, errIndexNotAttached(s.indexName)
		}
		sc, err := idx.Scan(rec.Data)
		if err != nil {
			return done, err
		}
		ptr, found, err := sc.Next()
		if err != nil {
			return done, err
		}
		if !found {
			continue // a MINUS for a record never seen as a PLUS: nothing to retract
		}
		if err := s.Syn.DeleteTuple(ptr); err != nil {
			return done, err
		}
		s.pendingOut = queue.Element{Tuple: ptr, Sign: queue.SignMinus, Timestamp: rec.Timestamp}
		s.hasOut = true
	}
	return done, nil
}

// Sink dequeues every element and releases its reference; it is the
// terminal node of every dataflow plan (spec §4.7.10 "Sinks simply
// dequeue and release refcounts").
type Sink struct {
	In  *queue.SimpleQueue
	Mgr *mem.Manager
}

func NewSink(in *queue.SimpleQueue, mgr *mem.Manager) *Sink {
	return &Sink{In: in, Mgr: mgr}
}

func (s *Sink) Run(timeSlice int) (int, error) {
	done := 0
	for done < timeSlice {
		e, ok := s.In.Pop()
		if !ok {
			return done, nil
		}
		if e.Sign != queue.SignNone {
			s.Mgr.DecrRef(s.Mgr.PageOf(e.Tuple), 1)
		}
		done++
	}
	return done, nil
}
