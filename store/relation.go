package store

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
)

// relation-store per-slot metadata offsets, relative to schema.Size.
const (
	relUsageOff = 0
	relPrevOff  = 4
	relNextOff  = 8
	relMetaSize = 12
)

// RelationStore is a doubly-linked free/used list of fixed slots, each
// carrying a 16-stub usage bitmap (spec §3 "Relation store").
//
// Per spec §4.1 ("memory is never returned to the operating system until
// shutdown") and the absence of any page-freeing language in the relation
// store's own section (contrast with the window store, whose section
// explicitly describes mid-run page release), pages backing a
// RelationStore are never handed back to the mem.Manager during normal
// operation: a dead slot (usage word reaches zero) returns to the
// store's own internal free list for reuse, not to the global allocator.
// Pages are only released at Close, which is the store's contribution to
// the shutdown sequence.
type RelationStore struct {
	mgr    *mem.Manager
	schema *eval.Schema
	slot   int

	usedHead mem.Ptr
	freeHead mem.Ptr

	curPage mem.Ptr
	curOff  int
	hasCur  bool
	pages   []mem.Ptr
}

func NewRelationStore(mgr *mem.Manager, schema *eval.Schema) *RelationStore {
	return &RelationStore{
		mgr:      mgr,
		schema:   schema,
		slot:     schema.Size + relMetaSize,
		usedHead: mem.NilPtr,
		freeHead: mem.NilPtr,
	}
}

func (rs *RelationStore) metaOff(ptr mem.Ptr) int { return int(ptr) + rs.schema.Size }

func (rs *RelationStore) usage(ptr mem.Ptr) uint32 {
	return getU32(rs.mgr, ptr, rs.schema.Size+relUsageOff)
}
func (rs *RelationStore) setUsage(ptr mem.Ptr, v uint32) {
	putU32(rs.mgr, ptr, rs.schema.Size+relUsageOff, v)
}
func (rs *RelationStore) prevOf(ptr mem.Ptr) mem.Ptr { return getPtr(rs.mgr, ptr, rs.schema.Size+relPrevOff) }
func (rs *RelationStore) setPrev(ptr, v mem.Ptr)      { putPtr(rs.mgr, ptr, rs.schema.Size+relPrevOff, v) }
func (rs *RelationStore) nextOf(ptr mem.Ptr) mem.Ptr { return getPtr(rs.mgr, ptr, rs.schema.Size+relNextOff) }
func (rs *RelationStore) setNext(ptr, v mem.Ptr)      { putPtr(rs.mgr, ptr, rs.schema.Size+relNextOff, v) }

// NewTuple allocates a fresh slot, from the internal free list if one is
// available, otherwise by growing the store's page set.
func (rs *RelationStore) NewTuple() (mem.Ptr, eval.Tuple, error) {
	var ptr mem.Ptr
	if rs.freeHead != mem.NilPtr {
		ptr = rs.freeHead
		rs.freeHead = rs.nextOf(ptr)
	} else {
		if !rs.hasCur || rs.curOff+rs.slot > mem.PageSize {
			p, err := rs.mgr.AllocatePage()
			if err != nil {
				return mem.NilPtr, nil, err
			}
			rs.pages = append(rs.pages, p)
			rs.curPage = p
			rs.curOff = 0
			rs.hasCur = true
		}
		ptr = rs.curPage + mem.Ptr(rs.curOff)
		rs.curOff += rs.slot
	}
	rs.setUsage(ptr, 0)
	rs.setPrev(ptr, mem.NilPtr)
	rs.setNext(ptr, mem.NilPtr)
	return ptr, schemaBytes(rs.mgr, ptr, rs.schema), nil
}

// Tuple returns a writable view over the tuple's data bytes.
func (rs *RelationStore) Tuple(ptr mem.Ptr) eval.Tuple { return schemaBytes(rs.mgr, ptr, rs.schema) }

// InsertR marks ptr visible to stub, physically linking it into the used
// list the first time its usage word becomes non-zero.
func (rs *RelationStore) InsertR(ptr mem.Ptr, stub Stub) error {
	if err := checkStub(stub); err != nil {
		return err
	}
	u := rs.usage(ptr)
	wasZero := u == 0
	u = insertR(u, stub)
	rs.setUsage(ptr, u)
	if wasZero && u != 0 {
		rs.linkUsed(ptr)
	}
	return nil
}

// DeleteR marks ptr deleted from stub, unlinking it (and returning the
// slot to the internal free list) once no stub can see it any longer —
// the "usage word is non-zero iff linked" law of spec §3.
func (rs *RelationStore) DeleteR(ptr mem.Ptr, stub Stub) error {
	if err := checkStub(stub); err != nil {
		return err
	}
	u := rs.usage(ptr)
	u = deleteR(u, stub)
	rs.setUsage(ptr, u)
	if u == 0 {
		rs.unlinkUsed(ptr)
		rs.setNext(ptr, rs.freeHead)
		rs.freeHead = ptr
	}
	return nil
}

// Visible reports whether ptr currently carries a usage word that makes
// it visible to stub (spec testable property 6).
func (rs *RelationStore) Visible(ptr mem.Ptr, stub Stub) bool {
	return visible(rs.usage(ptr), stub)
}

func (rs *RelationStore) linkUsed(ptr mem.Ptr) {
	rs.setPrev(ptr, mem.NilPtr)
	rs.setNext(ptr, rs.usedHead)
	if rs.usedHead != mem.NilPtr {
		rs.setPrev(rs.usedHead, ptr)
	}
	rs.usedHead = ptr
}

func (rs *RelationStore) unlinkUsed(ptr mem.Ptr) {
	p := rs.prevOf(ptr)
	n := rs.nextOf(ptr)
	if p != mem.NilPtr {
		rs.setNext(p, n)
	} else {
		rs.usedHead = n
	}
	if n != mem.NilPtr {
		rs.setPrev(n, p)
	}
}

// Iterator walks the used list filtering by a single stub's visibility.
type Iterator struct {
	rs   *RelationStore
	next mem.Ptr
	stub Stub
}

// NewIterator positions an iterator at the stub's view of the used list's
// current head (spec §4.3 "get_scan_r initialises that iterator to the
// current list head").
func (rs *RelationStore) NewIterator(stub Stub) *Iterator {
	return &Iterator{rs: rs, next: rs.usedHead, stub: stub}
}

// Next returns the next tuple visible to the iterator's stub, or
// (NilPtr, false) when exhausted. The iterator itself is the full
// checkpoint an operator needs to resume a stalled scan (spec §4.7.3).
func (it *Iterator) Next() (mem.Ptr, bool) {
	for it.next != mem.NilPtr {
		p := it.next
		u := it.rs.usage(p)
		it.next = it.rs.nextOf(p)
		if visible(u, it.stub) {
			return p, true
		}
	}
	return mem.NilPtr, false
}

// Clone copies the iterator's current position, for operators (like
// binary join) that need to re-derive an output from a previously
// recorded scan position without disturbing the original.
func (it *Iterator) Clone() *Iterator {
	c := *it
	return &c
}

// Close releases every page this store ever allocated back to the
// memory manager, as part of the engine's shutdown sequence. It is a
// programming error to call it before every consumer (queues, stall
// captures) has released its references to this store's tuples.
func (rs *RelationStore) Close() {
	for _, p := range rs.pages {
		rs.mgr.DecrRef(p, 1)
	}
	rs.pages = nil
}

// Schema returns the store's tuple schema.
func (rs *RelationStore) Schema() *eval.Schema { return rs.schema }
