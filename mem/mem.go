// Package mem implements the page-based memory manager (spec §4.1): a
// single contiguous byte region carved into fixed-size pages, handed out
// to every other runtime package and reclaimed onto an intrusive free
// list.
//
// Pages are identified by Ptr, a byte offset into the manager's region,
// rather than a native pointer. This keeps the allocator free of unsafe
// pointer arithmetic while preserving the spec's "dense 32-bit identifier"
// contract for lineage stores.
package mem

import "github.com/contflow/dsce/dsceerr"

// PageSize is the granularity of every allocation vended by a Manager.
// The spec hard-codes this; changing it requires recomputing every
// per-page layout computed elsewhere (hash index layers, store slot
// counts, queue capacities).
const PageSize = 4096

// Ptr is an offset into a Manager's region. Nil is the zero value of
// NilPtr, not 0, because page 0 is a valid, allocatable page.
type Ptr uint32

// NilPtr is the sentinel "no page" value.
const NilPtr Ptr = 1<<32 - 1

// Errorf is an optional diagnostic hook, nil by default. Set it to route
// allocator diagnostics (e.g. high-water-mark warnings) to a caller's
// logging, following the teacher's injectable-hook pattern.
var Errorf func(format string, args ...any)

func errorf(format string, args ...any) {
	if Errorf != nil {
		Errorf(format, args...)
	}
}

// Manager owns one contiguous region and partitions it into fixed pages.
// It is not safe for concurrent use; the engine is single-threaded by
// design (spec §5).
type Manager struct {
	region   []byte
	pageSize uint32
	numPages uint32
	freeHead Ptr
	freeLen  uint32
	refcnt   []uint32
}

// New constructs a Manager over a freshly reserved region sized to hold
// exactly numPages pages. The platform-specific reservation lives in
// mem_unix.go / mem_other.go.
func New(numPages uint32) (*Manager, error) {
	if numPages == 0 {
		return nil, dsceerr.ErrOutOfMemory
	}
	region, err := reserve(int(numPages) * PageSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		region:   region,
		pageSize: PageSize,
		numPages: numPages,
		freeHead: NilPtr,
		refcnt:   make([]uint32, numPages),
	}
	m.initFreeList()
	return m, nil
}

// pageIndex converts a page-aligned offset to a dense page index.
func (m *Manager) pageIndex(p Ptr) uint32 { return uint32(p) / PageSize }

// initFreeList threads every page onto the free list, storing the link
// word (the offset of the next free page, or NilPtr) in the first 4 bytes
// of each free page, matching the original store's link-word convention.
func (m *Manager) initFreeList() {
	for i := int(m.numPages) - 1; i >= 0; i-- {
		p := Ptr(i * PageSize)
		m.putLink(p, m.freeHead)
		m.freeHead = p
		m.freeLen++
	}
}

func (m *Manager) putLink(p, next Ptr) {
	b := m.region[p : p+4]
	b[0] = byte(next)
	b[1] = byte(next >> 8)
	b[2] = byte(next >> 16)
	b[3] = byte(next >> 24)
}

func (m *Manager) getLink(p Ptr) Ptr {
	b := m.region[p : p+4]
	return Ptr(b[0]) | Ptr(b[1])<<8 | Ptr(b[2])<<16 | Ptr(b[3])<<24
}

// AllocatePage unlinks and returns the head of the free list. It returns
// dsceerr.ErrOutOfMemory when the list is empty; this is fatal to the
// caller, never retried internally.
func (m *Manager) AllocatePage() (Ptr, error) {
	if m.freeHead == NilPtr {
		errorf("mem: out of pages (numPages=%d)", m.numPages)
		return NilPtr, dsceerr.ErrOutOfMemory
	}
	p := m.freeHead
	m.freeHead = m.getLink(p)
	m.freeLen--
	// zero the link word so stale data never leaks into a fresh
	// allocation's first four bytes
	m.putLink(p, NilPtr)
	m.refcnt[m.pageIndex(p)] = 1
	return p, nil
}

// DeallocatePage pushes p back onto the free list. The caller must have
// already driven p's refcount to zero; DeallocatePage does not check.
func (m *Manager) DeallocatePage(p Ptr) {
	m.putLink(p, m.freeHead)
	m.freeHead = p
	m.freeLen++
}

// AddRef increments p's page refcount by delta. Every enqueue, synopsis
// insertion, stall-hold, and lineage recording that retains a pointer
// into p must call this (spec §5 "shared resource discipline").
func (m *Manager) AddRef(p Ptr, delta uint32) {
	m.refcnt[m.pageIndex(m.PageOf(p))] += delta
}

// DecrRef decrements p's page refcount by delta and frees the page back
// to the free list when the count reaches zero, returning true in that
// case. The memory manager reclaims only at zero (spec §4.1).
func (m *Manager) DecrRef(p Ptr, delta uint32) bool {
	idx := m.pageIndex(m.PageOf(p))
	if m.refcnt[idx] < delta {
		errorf("mem: refcount underflow on page %d", idx)
		m.refcnt[idx] = 0
	} else {
		m.refcnt[idx] -= delta
	}
	if m.refcnt[idx] == 0 {
		m.DeallocatePage(m.PageOf(p))
		return true
	}
	return false
}

// RefCount reports the current refcount of the page containing p, for
// tests and the stats self-monitoring operator.
func (m *Manager) RefCount(p Ptr) uint32 {
	return m.refcnt[m.pageIndex(m.PageOf(p))]
}

// PageOf returns the page-aligned base offset containing p.
func (m *Manager) PageOf(p Ptr) Ptr {
	return p &^ (PageSize - 1)
}

// IDOf computes a dense 32-bit identifier for any offset into the region,
// suitable for encoding tuple provenance compactly in a lineage store.
func (m *Manager) IDOf(p Ptr) uint32 {
	return uint32(p)
}

// Bytes returns a slice view of n bytes starting at p. The caller is
// responsible for staying within the allocation it was given.
func (m *Manager) Bytes(p Ptr, n int) []byte {
	return m.region[p : int(p)+n : int(p)+n]
}

// NumFreePages reports the current free-list length, for tests and the
// stats self-monitoring operator.
func (m *Manager) NumFreePages() uint32 { return m.freeLen }

// NumPages reports the total page count the region was sized for.
func (m *Manager) NumPages() uint32 { return m.numPages }

// AllFree reports whether every page in the region is currently on the
// free list — the draining postcondition of testable property 1 (spec §8).
func (m *Manager) AllFree() bool { return m.freeLen == m.numPages }

// Close releases the underlying region back to the operating system.
// Memory is otherwise never returned until shutdown (spec §4.5 lifecycle).
func (m *Manager) Close() error {
	return release(m.region)
}
