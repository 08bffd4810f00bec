package store

import (
	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/hashindex"
	"github.com/contflow/dsce/mem"
)

// lineage-store per-slot metadata offsets, relative to schema.Size.
const (
	linUsageOff = 0
	linPrevOff  = 4
	linNextOff  = 8
	linL1Off    = 12
	linL2Off    = 16
	linMetaSize = 20
)

var (
	lineageAttr1 = eval.Attr{Name: "lineage1", Type: eval.TypeInt, Offset: 0, Size: 4}
	lineageAttr2 = eval.Attr{Name: "lineage2", Type: eval.TypeInt, Offset: 4, Size: 4}
)

// LineageStore is a RelationStore plus, on every tuple, up to two
// producer ids (spec §3 "Lineage store"): the dense mem.Manager ids of
// the input tuples that produced this output tuple. An attached hash
// index over those ids gives O(1) reverse lookup of a previously
// produced output given its producers, which binary-join-style operators
// use to find the exact output tuple pointer a later MINUS must reuse
// (spec §3 invariant: "the matching MINUS... carries the identical tuple
// pointer").
type LineageStore struct {
	mgr    *mem.Manager
	schema *eval.Schema
	slot   int

	usedHead mem.Ptr
	freeHead mem.Ptr

	curPage mem.Ptr
	curOff  int
	hasCur  bool
	pages   []mem.Ptr

	index *hashindex.Index
}

func NewLineageStore(mgr *mem.Manager, schema *eval.Schema) *LineageStore {
	ls := &LineageStore{
		mgr:      mgr,
		schema:   schema,
		slot:     schema.Size + linMetaSize,
		usedHead: mem.NilPtr,
		freeHead: mem.NilPtr,
	}

	updateH := eval.NewHEval()
	updateH.Add(eval.HInstr{Role: eval.RoleUpdate, Col: lineageAttr1, Type: eval.TypeInt})
	updateH.Add(eval.HInstr{Role: eval.RoleUpdate, Col: lineageAttr2, Type: eval.TypeInt})

	scanH := eval.NewHEval()
	scanH.Add(eval.HInstr{Role: eval.RoleScan, Col: lineageAttr1, Type: eval.TypeInt})
	scanH.Add(eval.HInstr{Role: eval.RoleScan, Col: lineageAttr2, Type: eval.TypeInt})

	keyEq := eval.NewBEval()
	keyEq.Add(eval.BInstr{Op: eval.BEQ, Type: eval.TypeInt, R1: eval.RoleScan, C1: lineageAttr1, R2: eval.RoleSyn, C2: lineageAttr1})
	keyEq.Add(eval.BInstr{Op: eval.BEQ, Type: eval.TypeInt, R1: eval.RoleScan, C1: lineageAttr2, R2: eval.RoleSyn, C2: lineageAttr2})

	ls.index = hashindex.New(mgr, updateH, scanH, keyEq, ls.lineageView, 0.85)
	return ls
}

// lineageView returns the 8-byte (lineage1, lineage2) window of the slot
// at ptr, used both as the hash/compare tuple and as the probe buffer
// shape for GetTupleL.
func (ls *LineageStore) lineageView(ptr mem.Ptr) eval.Tuple {
	return eval.Tuple(ls.mgr.Bytes(ptr+mem.Ptr(ls.schema.Size+linL1Off), 8))
}

func (ls *LineageStore) usage(ptr mem.Ptr) uint32     { return getU32(ls.mgr, ptr, ls.schema.Size+linUsageOff) }
func (ls *LineageStore) setUsage(ptr mem.Ptr, v uint32) { putU32(ls.mgr, ptr, ls.schema.Size+linUsageOff, v) }
func (ls *LineageStore) prevOf(ptr mem.Ptr) mem.Ptr    { return getPtr(ls.mgr, ptr, ls.schema.Size+linPrevOff) }
func (ls *LineageStore) setPrev(ptr, v mem.Ptr)        { putPtr(ls.mgr, ptr, ls.schema.Size+linPrevOff, v) }
func (ls *LineageStore) nextOf(ptr mem.Ptr) mem.Ptr    { return getPtr(ls.mgr, ptr, ls.schema.Size+linNextOff) }
func (ls *LineageStore) setNext(ptr, v mem.Ptr)        { putPtr(ls.mgr, ptr, ls.schema.Size+linNextOff, v) }

// NewTupleL allocates a fresh slot, records its lineage ids, links it
// into the used list and the lineage hash index, and marks it visible to
// stub — the combined "insert_tuple_l" operation of spec §4.3/§4.5.
func (ls *LineageStore) NewTupleL(l1, l2 uint32, stub Stub) (mem.Ptr, eval.Tuple, error) {
	if err := checkStub(stub); err != nil {
		return mem.NilPtr, nil, err
	}
	var ptr mem.Ptr
	if ls.freeHead != mem.NilPtr {
		ptr = ls.freeHead
		ls.freeHead = ls.nextOf(ptr)
	} else {
		if !ls.hasCur || ls.curOff+ls.slot > mem.PageSize {
			p, err := ls.mgr.AllocatePage()
			if err != nil {
				return mem.NilPtr, nil, err
			}
			ls.pages = append(ls.pages, p)
			ls.curPage = p
			ls.curOff = 0
			ls.hasCur = true
		}
		ptr = ls.curPage + mem.Ptr(ls.curOff)
		ls.curOff += ls.slot
	}
	putU32(ls.mgr, ptr, ls.schema.Size+linL1Off, l1)
	putU32(ls.mgr, ptr, ls.schema.Size+linL2Off, l2)
	ls.setUsage(ptr, insertR(0, stub))
	ls.linkUsed(ptr)
	if err := ls.index.Insert(ptr); err != nil {
		return mem.NilPtr, nil, err
	}
	return ptr, schemaBytes(ls.mgr, ptr, ls.schema), nil
}

// DeleteTupleL removes stub's visibility of ptr, unlinking it from the
// used list, the lineage index, and returning it to the free list once
// no stub can see it any longer.
func (ls *LineageStore) DeleteTupleL(ptr mem.Ptr, stub Stub) error {
	if err := checkStub(stub); err != nil {
		return err
	}
	u := deleteR(ls.usage(ptr), stub)
	ls.setUsage(ptr, u)
	if u == 0 {
		ls.unlinkUsed(ptr)
		if err := ls.index.Delete(ptr); err != nil {
			return err
		}
		ls.setNext(ptr, ls.freeHead)
		ls.freeHead = ptr
	}
	return nil
}

// GetTupleL looks up the tuple previously produced from (l1, l2),
// visible to stub, in O(1) via the attached hash index.
func (ls *LineageStore) GetTupleL(l1, l2 uint32, stub Stub) (mem.Ptr, bool, error) {
	probe := make(eval.Tuple, 8)
	eval.WriteInt(probe, 0, int32(l1))
	eval.WriteInt(probe, 4, int32(l2))
	sc, err := ls.index.Scan(probe)
	if err != nil {
		return mem.NilPtr, false, err
	}
	for {
		dp, ok, err := sc.Next()
		if err != nil {
			return mem.NilPtr, false, err
		}
		if !ok {
			return mem.NilPtr, false, nil
		}
		if visible(ls.usage(dp), stub) {
			return dp, true, nil
		}
	}
}

// Tuple returns a writable view over the tuple's data bytes.
func (ls *LineageStore) Tuple(ptr mem.Ptr) eval.Tuple { return schemaBytes(ls.mgr, ptr, ls.schema) }

func (ls *LineageStore) linkUsed(ptr mem.Ptr) {
	ls.setPrev(ptr, mem.NilPtr)
	ls.setNext(ptr, ls.usedHead)
	if ls.usedHead != mem.NilPtr {
		ls.setPrev(ls.usedHead, ptr)
	}
	ls.usedHead = ptr
}

func (ls *LineageStore) unlinkUsed(ptr mem.Ptr) {
	p := ls.prevOf(ptr)
	n := ls.nextOf(ptr)
	if p != mem.NilPtr {
		ls.setNext(p, n)
	} else {
		ls.usedHead = n
	}
	if n != mem.NilPtr {
		ls.setPrev(n, p)
	}
}

// Schema returns the store's tuple schema.
func (ls *LineageStore) Schema() *eval.Schema { return ls.schema }

// Close releases every page this store and its index ever allocated.
func (ls *LineageStore) Close() {
	for _, p := range ls.pages {
		ls.mgr.DecrRef(p, 1)
	}
	ls.pages = nil
	ls.index.Close()
}
