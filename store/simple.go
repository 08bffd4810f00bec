package store

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
)

// SimpleStore is an append-only bump allocator used for streams that need
// no synopsis view (spec §3 "Simple store"). Every emitted tuple holds
// exactly one page reference, released by the caller (typically a sink)
// once it is done with the tuple.
type SimpleStore struct {
	mgr     *mem.Manager
	schema  *eval.Schema
	cur     mem.Ptr
	curOff  int
	hasCur  bool
}

// NewSimpleStore constructs a store laying out tuples per schema.
func NewSimpleStore(mgr *mem.Manager, schema *eval.Schema) *SimpleStore {
	return &SimpleStore{mgr: mgr, schema: schema}
}

// NewTuple allocates a fresh tuple slot and returns a pointer to it along
// with a writable Tuple view over its data bytes. The slot's page holds
// one outstanding reference on behalf of the newly created tuple; the
// caller must eventually balance it with DecrRef (directly, or via
// AddRef/queue machinery that transfers it onward).
func (s *SimpleStore) NewTuple() (mem.Ptr, eval.Tuple, error) {
	slotSize := s.schema.Size
	if !s.hasCur || s.curOff+slotSize > mem.PageSize {
		p, err := s.mgr.AllocatePage()
		if err != nil {
			return mem.NilPtr, nil, err
		}
		s.cur = p
		s.curOff = 0
		s.hasCur = true
	} else {
		// a second (or later) slot on an already-allocated page needs
		// its own reference; the first slot's reference came from the
		// AllocatePage call above.
		s.mgr.AddRef(s.cur, 1)
	}
	ptr := s.cur + mem.Ptr(s.curOff)
	s.curOff += slotSize
	return ptr, schemaBytes(s.mgr, ptr, s.schema), nil
}

// AddRef/DecrRef simply forward to the memory manager; kept here so
// callers can operate uniformly across store kinds without reaching
// into mem directly.
func (s *SimpleStore) AddRef(p mem.Ptr, n uint32)  { s.mgr.AddRef(p, n) }
func (s *SimpleStore) DecrRef(p mem.Ptr, n uint32) bool { return s.mgr.DecrRef(p, n) }

// Tuple returns a writable view over the tuple at ptr.
func (s *SimpleStore) Tuple(ptr mem.Ptr) eval.Tuple { return schemaBytes(s.mgr, ptr, s.schema) }

// Schema returns the store's tuple schema.
func (s *SimpleStore) Schema() *eval.Schema { return s.schema }
