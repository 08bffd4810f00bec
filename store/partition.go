package store

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
)

// partition-window-store per-slot metadata offsets, relative to
// schema.Size. Every slot threads through three independent lists at
// once: the global used list (for stub visibility scans, same law as
// RelationStore), the FIFO order of its own partition (for windowed
// eviction), and — once evicted from its partition — the global expired
// list (for operators that must still emit a row's departure before its
// slot is reclaimed).
const (
	partUsageOff   = 0
	partPrevOff    = 4
	partNextOff    = 8
	partChainOff   = 12
	partExpiredOff = 16
	partMetaSize   = 20
)

// partHeader is the per-partition-key row of the header table (spec §3
// "PARTITION BY window": "a header row per distinct key, each with its
// own oldest/newest pointers"). Kept as a plain Go map entry rather than
// a literal page-backed header table, for the same reason the hash
// index's bucket directory is a Go slice: it is bookkeeping outside the
// tuple pool, not something any testable property inspects directly.
type partHeader struct {
	oldest mem.Ptr
	newest mem.Ptr
	count  int
}

// PartitionWindowStore combines a RelationStore-style, usage-bitmap-gated
// tuple pool with per-key FIFO windows and a single global list of
// tuples that have aged out of their partition's window but are still
// physically retained pending final deletion (spec §3, §4.3
// "Partition-window store").
type PartitionWindowStore struct {
	mgr    *mem.Manager
	schema *eval.Schema
	slot   int

	headers map[string]*partHeader

	expiredHead mem.Ptr
	expiredTail mem.Ptr

	usedHead mem.Ptr
	freeHead mem.Ptr

	curPage mem.Ptr
	curOff  int
	hasCur  bool
	pages   []mem.Ptr
}

func NewPartitionWindowStore(mgr *mem.Manager, schema *eval.Schema) *PartitionWindowStore {
	return &PartitionWindowStore{
		mgr:         mgr,
		schema:      schema,
		slot:        schema.Size + partMetaSize,
		headers:     make(map[string]*partHeader),
		expiredHead: mem.NilPtr,
		expiredTail: mem.NilPtr,
		usedHead:    mem.NilPtr,
		freeHead:    mem.NilPtr,
	}
}

func (ps *PartitionWindowStore) usage(ptr mem.Ptr) uint32 {
	return getU32(ps.mgr, ptr, ps.schema.Size+partUsageOff)
}
func (ps *PartitionWindowStore) setUsage(ptr mem.Ptr, v uint32) {
	putU32(ps.mgr, ptr, ps.schema.Size+partUsageOff, v)
}
func (ps *PartitionWindowStore) prevOf(ptr mem.Ptr) mem.Ptr { return getPtr(ps.mgr, ptr, ps.schema.Size+partPrevOff) }
func (ps *PartitionWindowStore) setPrev(ptr, v mem.Ptr)      { putPtr(ps.mgr, ptr, ps.schema.Size+partPrevOff, v) }
func (ps *PartitionWindowStore) nextOf(ptr mem.Ptr) mem.Ptr { return getPtr(ps.mgr, ptr, ps.schema.Size+partNextOff) }
func (ps *PartitionWindowStore) setNext(ptr, v mem.Ptr)      { putPtr(ps.mgr, ptr, ps.schema.Size+partNextOff, v) }
func (ps *PartitionWindowStore) chainOf(ptr mem.Ptr) mem.Ptr { return getPtr(ps.mgr, ptr, ps.schema.Size+partChainOff) }
func (ps *PartitionWindowStore) setChain(ptr, v mem.Ptr)     { putPtr(ps.mgr, ptr, ps.schema.Size+partChainOff, v) }
func (ps *PartitionWindowStore) expOf(ptr mem.Ptr) mem.Ptr   { return getPtr(ps.mgr, ptr, ps.schema.Size+partExpiredOff) }
func (ps *PartitionWindowStore) setExp(ptr, v mem.Ptr)       { putPtr(ps.mgr, ptr, ps.schema.Size+partExpiredOff, v) }

// InsertTupleP allocates a fresh slot, attaches it to key's partition
// chain, and marks it visible to stub.
func (ps *PartitionWindowStore) InsertTupleP(key []byte, stub Stub) (mem.Ptr, eval.Tuple, error) {
	if err := checkStub(stub); err != nil {
		return mem.NilPtr, nil, err
	}
	var ptr mem.Ptr
	if ps.freeHead != mem.NilPtr {
		ptr = ps.freeHead
		ps.freeHead = ps.nextOf(ptr)
	} else {
		if !ps.hasCur || ps.curOff+ps.slot > mem.PageSize {
			p, err := ps.mgr.AllocatePage()
			if err != nil {
				return mem.NilPtr, nil, err
			}
			ps.pages = append(ps.pages, p)
			ps.curPage = p
			ps.curOff = 0
			ps.hasCur = true
		}
		ptr = ps.curPage + mem.Ptr(ps.curOff)
		ps.curOff += ps.slot
	}
	ps.setUsage(ptr, insertR(0, stub))
	ps.setChain(ptr, mem.NilPtr)
	ps.setExp(ptr, mem.NilPtr)
	ps.linkUsed(ptr)

	h, ok := ps.headers[string(key)]
	if !ok {
		h = &partHeader{oldest: mem.NilPtr, newest: mem.NilPtr}
		ps.headers[string(key)] = h
	}
	if h.newest != mem.NilPtr {
		ps.setChain(h.newest, ptr)
	}
	h.newest = ptr
	if h.oldest == mem.NilPtr {
		h.oldest = ptr
	}
	h.count++

	return ptr, schemaBytes(ps.mgr, ptr, ps.schema), nil
}

// OldestTupleP returns key's current oldest tuple.
func (ps *PartitionWindowStore) OldestTupleP(key []byte) (mem.Ptr, bool) {
	h, ok := ps.headers[string(key)]
	if !ok || h.oldest == mem.NilPtr {
		return mem.NilPtr, false
	}
	return h.oldest, true
}

// PartitionCount reports how many tuples key currently has in its
// window.
func (ps *PartitionWindowStore) PartitionCount(key []byte) int {
	h, ok := ps.headers[string(key)]
	if !ok {
		return 0
	}
	return h.count
}

// ExpireOldestP moves key's oldest tuple from its partition's window
// onto the global expired list, dropping the empty header if the
// partition has no tuples left. The tuple remains fully visible (usage
// bitmap untouched) until DeleteTupleP is called on it — the expired
// list exists precisely so an operator can still emit that departure
// before the slot is reclaimed.
func (ps *PartitionWindowStore) ExpireOldestP(key []byte) error {
	h, ok := ps.headers[string(key)]
	if !ok || h.oldest == mem.NilPtr {
		return fmt.Errorf("store: ExpireOldestP: partition has no tuples")
	}
	ptr := h.oldest
	h.oldest = ps.chainOf(ptr)
	h.count--
	if h.oldest == mem.NilPtr {
		h.newest = mem.NilPtr
		delete(ps.headers, string(key))
	}
	ps.setChain(ptr, mem.NilPtr)

	if ps.expiredTail != mem.NilPtr {
		ps.setExp(ps.expiredTail, ptr)
	}
	ps.expiredTail = ptr
	if ps.expiredHead == mem.NilPtr {
		ps.expiredHead = ptr
	}
	return nil
}

// PopExpired removes and returns the head of the global expired list.
func (ps *PartitionWindowStore) PopExpired() (mem.Ptr, bool) {
	if ps.expiredHead == mem.NilPtr {
		return mem.NilPtr, false
	}
	ptr := ps.expiredHead
	ps.expiredHead = ps.expOf(ptr)
	if ps.expiredHead == mem.NilPtr {
		ps.expiredTail = mem.NilPtr
	}
	ps.setExp(ptr, mem.NilPtr)
	return ptr, true
}

// DeleteTupleP marks ptr deleted from stub, reclaiming the slot to the
// internal free list once no stub can see it any longer. Call this only
// after ptr has been drained from both its partition chain (via
// ExpireOldestP) and the expired list (via PopExpired).
func (ps *PartitionWindowStore) DeleteTupleP(ptr mem.Ptr, stub Stub) error {
	if err := checkStub(stub); err != nil {
		return err
	}
	u := deleteR(ps.usage(ptr), stub)
	ps.setUsage(ptr, u)
	if u == 0 {
		ps.unlinkUsed(ptr)
		ps.setNext(ptr, ps.freeHead)
		ps.freeHead = ptr
	}
	return nil
}

// Visible reports whether ptr is currently visible to stub.
func (ps *PartitionWindowStore) Visible(ptr mem.Ptr, stub Stub) bool {
	return visible(ps.usage(ptr), stub)
}

// Tuple returns a writable view over the tuple's data bytes.
func (ps *PartitionWindowStore) Tuple(ptr mem.Ptr) eval.Tuple { return schemaBytes(ps.mgr, ptr, ps.schema) }

func (ps *PartitionWindowStore) linkUsed(ptr mem.Ptr) {
	ps.setPrev(ptr, mem.NilPtr)
	ps.setNext(ptr, ps.usedHead)
	if ps.usedHead != mem.NilPtr {
		ps.setPrev(ps.usedHead, ptr)
	}
	ps.usedHead = ptr
}

func (ps *PartitionWindowStore) unlinkUsed(ptr mem.Ptr) {
	p := ps.prevOf(ptr)
	n := ps.nextOf(ptr)
	if p != mem.NilPtr {
		ps.setNext(p, n)
	} else {
		ps.usedHead = n
	}
	if n != mem.NilPtr {
		ps.setPrev(n, p)
	}
}

// PartIterator walks the global used list filtering by a single stub's
// visibility, independent of partition membership.
type PartIterator struct {
	ps   *PartitionWindowStore
	next mem.Ptr
	stub Stub
}

func (ps *PartitionWindowStore) NewIterator(stub Stub) *PartIterator {
	return &PartIterator{ps: ps, next: ps.usedHead, stub: stub}
}

func (it *PartIterator) Next() (mem.Ptr, bool) {
	for it.next != mem.NilPtr {
		p := it.next
		u := it.ps.usage(p)
		it.next = it.ps.nextOf(p)
		if visible(u, it.stub) {
			return p, true
		}
	}
	return mem.NilPtr, false
}

// Schema returns the store's tuple schema.
func (ps *PartitionWindowStore) Schema() *eval.Schema { return ps.schema }

// Close releases every page this store ever allocated.
func (ps *PartitionWindowStore) Close() {
	for _, p := range ps.pages {
		ps.mgr.DecrRef(p, 1)
	}
	ps.pages = nil
}
