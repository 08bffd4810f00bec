// Package synopsis implements spec §4.5: the view an operator holds over
// a store — a stub id fixing which usage-bitmap bit belongs to this
// consumer, a set of named scans for resumable iteration, and a set of
// attached hash indexes an operator's join logic can probe directly.
//
// A synopsis never duplicates tuple data; every method here is a thin,
// stub-aware wrapper over the corresponding store method, following the
// same split the teacher draws between a raw allocator and the
// higher-level view an operator actually programs against.
package synopsis

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
	"github.com/contflow/dsce/store"
)

// ScanID names one of possibly several independent, resumable scans a
// synopsis's consumer keeps open at once — e.g. a binary join that scans
// its inner synopsis once per outer tuple, each at its own position.
type ScanID int

// RelationSynopsis is an operator's view over a store.RelationStore.
type RelationSynopsis struct {
	Store   *store.RelationStore
	Stub    store.Stub
	indexes map[string]*hashindex.Index
	scans   map[ScanID]*store.Iterator
}

func NewRelationSynopsis(s *store.RelationStore, stub store.Stub) *RelationSynopsis {
	return &RelationSynopsis{
		Store:   s,
		Stub:    stub,
		indexes: make(map[string]*hashindex.Index),
		scans:   make(map[ScanID]*store.Iterator),
	}
}

// InsertTuple marks ptr visible to this synopsis's stub and threads it
// into every attached index.
func (rs *RelationSynopsis) InsertTuple(ptr mem.Ptr) error {
	if err := rs.Store.InsertR(ptr, rs.Stub); err != nil {
		return err
	}
	for name, ix := range rs.indexes {
		if err := ix.Insert(ptr); err != nil {
			return fmt.Errorf("synopsis: index %q: %w", name, err)
		}
	}
	return nil
}

// DeleteTuple removes this synopsis's stub's visibility of ptr and, if
// that stub could see it before the call, removes it from every attached
// index, whether or not other stubs can still see it.
func (rs *RelationSynopsis) DeleteTuple(ptr mem.Ptr) error {
	wasLive := rs.Store.Visible(ptr, rs.Stub)
	if err := rs.Store.DeleteR(ptr, rs.Stub); err != nil {
		return err
	}
	if wasLive && !rs.Store.Visible(ptr, rs.Stub) {
		for name, ix := range rs.indexes {
			if err := ix.Delete(ptr); err != nil {
				return fmt.Errorf("synopsis: index %q: %w", name, err)
			}
		}
	}
	return nil
}

// AttachIndex registers a secondary hash index under name, for join
// operators that need to probe this synopsis by a key other than
// insertion order.
func (rs *RelationSynopsis) AttachIndex(name string, ix *hashindex.Index) {
	rs.indexes[name] = ix
}

// Index returns a previously attached index, or nil.
func (rs *RelationSynopsis) Index(name string) *hashindex.Index { return rs.indexes[name] }

// GetScan returns scan's iterator, creating a fresh one positioned at the
// used list's current head if this is the first call for that id (spec
// §4.5 "get_scan(scan_id)").
func (rs *RelationSynopsis) GetScan(scan ScanID) *store.Iterator {
	it, ok := rs.scans[scan]
	if !ok {
		it = rs.Store.NewIterator(rs.Stub)
		rs.scans[scan] = it
	}
	return it
}

// ResetScan discards scan's saved position, so the next GetScan starts
// over from the current list head.
func (rs *RelationSynopsis) ResetScan(scan ScanID) { delete(rs.scans, scan) }

// WindowSynopsis is an operator's view over a store.WindowStore.
type WindowSynopsis struct {
	Store *store.WindowStore
	Stub  store.Stub
	scans map[ScanID]*store.WinIterator
}

func NewWindowSynopsis(s *store.WindowStore, stub store.Stub) *WindowSynopsis {
	s.RegisterStub(stub)
	return &WindowSynopsis{Store: s, Stub: stub, scans: make(map[ScanID]*store.WinIterator)}
}

func (ws *WindowSynopsis) Oldest() (mem.Ptr, bool) { return ws.Store.OldestTupleW(ws.Stub) }

func (ws *WindowSynopsis) DeleteOldest() error { return ws.Store.DeleteOldestTupleW(ws.Stub) }

func (ws *WindowSynopsis) GetScan(scan ScanID) *store.WinIterator {
	it, ok := ws.scans[scan]
	if !ok {
		it = ws.Store.NewWinIterator(ws.Stub)
		ws.scans[scan] = it
	}
	return it
}

func (ws *WindowSynopsis) ResetScan(scan ScanID) { delete(ws.scans, scan) }

// LineageSynopsis is an operator's view over a store.LineageStore, used
// by binary-join-family operators to recall or recreate the output
// tuple a matching MINUS must reuse.
type LineageSynopsis struct {
	Store *store.LineageStore
	Stub  store.Stub
}

func NewLineageSynopsis(s *store.LineageStore, stub store.Stub) *LineageSynopsis {
	return &LineageSynopsis{Store: s, Stub: stub}
}

func (ls *LineageSynopsis) Find(l1, l2 uint32) (mem.Ptr, bool, error) {
	return ls.Store.GetTupleL(l1, l2, ls.Stub)
}

func (ls *LineageSynopsis) DeleteTuple(ptr mem.Ptr) error {
	return ls.Store.DeleteTupleL(ptr, ls.Stub)
}

// PartitionSynopsis is an operator's view over a
// store.PartitionWindowStore, backing PARTITION BY windows (spec §3).
type PartitionSynopsis struct {
	Store *store.PartitionWindowStore
	Stub  store.Stub
	scans map[ScanID]*store.PartIterator
}

func NewPartitionSynopsis(s *store.PartitionWindowStore, stub store.Stub) *PartitionSynopsis {
	return &PartitionSynopsis{Store: s, Stub: stub, scans: make(map[ScanID]*store.PartIterator)}
}

// InsertTuple stores a fresh partition-window row under key, returning
// its pointer and writable byte view for the caller to populate.
func (ps *PartitionSynopsis) InsertTuple(key []byte) (mem.Ptr, eval.Tuple, error) {
	return ps.Store.InsertTupleP(key, ps.Stub)
}

func (ps *PartitionSynopsis) DeleteTuple(ptr mem.Ptr) error {
	return ps.Store.DeleteTupleP(ptr, ps.Stub)
}

// ExpireOldest moves key's oldest row onto the global expired chain,
// where PopExpired later retrieves it for final deletion.
func (ps *PartitionSynopsis) ExpireOldest(key []byte) error {
	return ps.Store.ExpireOldestP(key)
}

// PopExpired returns the next tuple waiting on the global expired chain,
// or (NilPtr, false) if none are pending.
func (ps *PartitionSynopsis) PopExpired() (mem.Ptr, bool) {
	return ps.Store.PopExpired()
}

// PartitionCount reports how many rows key's partition currently holds.
func (ps *PartitionSynopsis) PartitionCount(key []byte) int {
	return ps.Store.PartitionCount(key)
}

func (ps *PartitionSynopsis) GetScan(scan ScanID) *store.PartIterator {
	it, ok := ps.scans[scan]
	if !ok {
		it = ps.Store.NewIterator(ps.Stub)
		ps.scans[scan] = it
	}
	return it
}

func (ps *PartitionSynopsis) ResetScan(scan ScanID) { delete(ps.scans, scan) }
