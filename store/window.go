package store

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
)

// window-store per-slot metadata offset, relative to schema.Size: a
// single forward link shared by every stub's view of the ring (spec §3
// "Window store").
const winNextOff = 0
const winMetaSize = 4

// WindowStore is a per-stub ring over a single shared, singly-linked
// chain of tuples in insertion order (spec §3, §4.3 "Window store
// deletion"). Unlike RelationStore, a WindowStore genuinely releases
// pages mid-run: each stub holds a page reference only for as long as
// its oldest cursor resides on a page the writer is no longer actively
// filling; spec §4.3 explicitly calls this out ("when the cursor crosses
// a page boundary, that stub releases the old page's refcount, possibly
// freeing it").
type WindowStore struct {
	mgr    *mem.Manager
	schema *eval.Schema
	slot   int

	curPage mem.Ptr
	curOff  int
	hasCur  bool
	newest  mem.Ptr

	stubs map[Stub]*winStub
}

type winStub struct {
	oldest     mem.Ptr
	oldestPage mem.Ptr
	held       bool // true once this stub (not the writer) holds the page ref
}

func NewWindowStore(mgr *mem.Manager, schema *eval.Schema) *WindowStore {
	return &WindowStore{
		mgr:    mgr,
		schema: schema,
		slot:   schema.Size + winMetaSize,
		newest: mem.NilPtr,
		stubs:  make(map[Stub]*winStub),
	}
}

func (ws *WindowStore) nextOf(ptr mem.Ptr) mem.Ptr { return getPtr(ws.mgr, ptr, ws.schema.Size+winNextOff) }
func (ws *WindowStore) setNext(ptr, v mem.Ptr)     { putPtr(ws.mgr, ptr, ws.schema.Size+winNextOff, v) }

// RegisterStub makes stub a consumer of this ring, starting with an
// empty window.
func (ws *WindowStore) RegisterStub(stub Stub) error {
	if err := checkStub(stub); err != nil {
		return err
	}
	ws.stubs[stub] = &winStub{oldest: mem.NilPtr, oldestPage: mem.NilPtr}
	return nil
}

// InsertTupleW appends a new tuple to the shared chain. Any stub whose
// window was empty starts tracking it as its oldest tuple.
func (ws *WindowStore) InsertTupleW() (mem.Ptr, eval.Tuple, error) {
	if !ws.hasCur || ws.curOff+ws.slot > mem.PageSize {
		p, err := ws.mgr.AllocatePage()
		if err != nil {
			return mem.NilPtr, nil, err
		}
		// the writer's move off the previous page hands its hold to
		// any stub still resident there.
		if ws.hasCur {
			ws.retire(ws.curPage)
		}
		ws.curPage = p
		ws.curOff = 0
		ws.hasCur = true
	}
	ptr := ws.curPage + mem.Ptr(ws.curOff)
	ws.curOff += ws.slot
	ws.setNext(ptr, mem.NilPtr)
	if ws.newest != mem.NilPtr {
		ws.setNext(ws.newest, ptr)
	}
	ws.newest = ptr

	for _, st := range ws.stubs {
		if st.oldest == mem.NilPtr {
			st.oldest = ptr
			st.oldestPage = ws.curPage
			st.held = false // writer's current page still covers it
		}
	}
	return ptr, schemaBytes(ws.mgr, ptr, ws.schema), nil
}

// retire hands the writer's hold on page p to every stub still resident
// on it, then drops the writer's own hold.
func (ws *WindowStore) retire(p mem.Ptr) {
	for _, st := range ws.stubs {
		if st.oldest != mem.NilPtr && st.oldestPage == p && !st.held {
			ws.mgr.AddRef(p, 1)
			st.held = true
		}
	}
	ws.mgr.DecrRef(p, 1)
}

// OldestTupleW returns the stub's current oldest tuple, or (NilPtr,
// false) if its window is empty.
func (ws *WindowStore) OldestTupleW(stub Stub) (mem.Ptr, bool) {
	st, ok := ws.stubs[stub]
	if !ok || st.oldest == mem.NilPtr {
		return mem.NilPtr, false
	}
	return st.oldest, true
}

// DeleteOldestTupleW advances stub's oldest cursor to the next tuple in
// the shared chain, transferring or releasing the page reference as the
// cursor crosses page boundaries (spec §4.3).
func (ws *WindowStore) DeleteOldestTupleW(stub Stub) error {
	st, ok := ws.stubs[stub]
	if !ok || st.oldest == mem.NilPtr {
		return fmt.Errorf("store: DeleteOldestTupleW: stub %d has an empty window", stub)
	}
	next := ws.nextOf(st.oldest)
	oldPage := st.oldestPage
	var newPage mem.Ptr = mem.NilPtr
	if next != mem.NilPtr {
		newPage = ws.mgr.PageOf(next)
	}
	if newPage != oldPage {
		if st.held {
			ws.mgr.DecrRef(oldPage, 1)
		}
		if newPage != mem.NilPtr {
			if newPage == ws.curPage {
				st.held = false // writer's current page still covers it
			} else {
				ws.mgr.AddRef(newPage, 1)
				st.held = true
			}
		} else {
			st.held = false
		}
	}
	st.oldest = next
	st.oldestPage = newPage
	return nil
}

// Tuple returns a writable view over the tuple's data bytes.
func (ws *WindowStore) Tuple(ptr mem.Ptr) eval.Tuple { return schemaBytes(ws.mgr, ptr, ws.schema) }

// WinIterator walks a stub's window from its current oldest tuple to the
// shared newest tuple, inclusive.
type WinIterator struct {
	ws   *WindowStore
	next mem.Ptr
}

// NewWinIterator returns a scan positioned at stub's oldest tuple (spec
// §4.5 "window synopsis specialises get_scan").
func (ws *WindowStore) NewWinIterator(stub Stub) *WinIterator {
	st, ok := ws.stubs[stub]
	if !ok {
		return &WinIterator{ws: ws, next: mem.NilPtr}
	}
	return &WinIterator{ws: ws, next: st.oldest}
}

func (it *WinIterator) Next() (mem.Ptr, bool) {
	if it.next == mem.NilPtr {
		return mem.NilPtr, false
	}
	p := it.next
	it.next = it.ws.nextOf(p)
	return p, true
}

// Schema returns the store's tuple schema.
func (ws *WindowStore) Schema() *eval.Schema { return ws.schema }

// Close releases the writer's hold on its current page. Any page a stub
// still holds via retire() must be released by that stub finishing its
// scan down to an empty window before Close is meaningful to call.
func (ws *WindowStore) Close() {
	if ws.hasCur {
		ws.mgr.DecrRef(ws.curPage, 1)
		ws.hasCur = false
	}
}
