// Package store implements the storage allocators of spec §4.3: the
// simple, window, relation, lineage, and partition-window stores that lay
// tuples out on pages vended by mem.Manager, including the 16-stub usage
// bitmap that lets one physical store back several logical synopses
// ("stubs") without duplicating tuple data.
package store

import (
	"fmt"

	"github.com/contflow/dsce/eval"
	"github.com/contflow/dsce/mem"
)

// MaxStubs is the hard cap on shared consumers of one store, exploited by
// the 32-bit usage-bitmap layout (spec §6 max_stubs_per_store).
const MaxStubs = 16

// Stub identifies one logical view of a storage allocator.
type Stub int

// Errorf is the package's optional diagnostic hook, following the
// teacher's injectable-logging convention (vm.Errorf).
var Errorf func(format string, args ...any)

func errorf(format string, args ...any) {
	if Errorf != nil {
		Errorf(format, args...)
	}
}

func checkStub(s Stub) error {
	if s < 0 || int(s) >= MaxStubs {
		return fmt.Errorf("store: stub %d out of range [0,%d)", s, MaxStubs)
	}
	return nil
}

// usageMask returns the two-bit mask spec §4.3/§8 use to test visibility
// for stub s: bit s (the "not-yet-inserted" flag) and bit 16+s (the
// "live" flag).
func usageMask(s Stub) uint32 {
	return 1<<uint(s) | 1<<(16+uint(s))
}

// visible implements the literal law of spec §4.3 / testable property 6:
// (usage & mask) == (1<<(16+s)).
//
// Resolving an inconsistency in spec §4.3's prose (see DESIGN.md "usage
// bitmap" entry): insertR clears bit s and *sets* bit 16+s; deleteR
// *clears* bit 16+s (rather than "setting a deleted bit", as the prose's
// informal description suggests) so that the visibility formula, the
// "usage word has gone to zero" unlink law, and "new tuples appear
// inserted once insertR has run for every active stub" are all
// simultaneously true.
func visible(usage uint32, s Stub) bool {
	return usage&usageMask(s) == 1<<(16+uint(s))
}

func insertR(usage uint32, s Stub) uint32 {
	usage &^= 1 << uint(s)
	usage |= 1 << (16 + uint(s))
	return usage
}

func deleteR(usage uint32, s Stub) uint32 {
	usage &^= 1 << (16 + uint(s))
	return usage
}

// TupleRef identifies a tuple slot: the page-relative pointer handed out
// by a store's allocator. Stores hand these to synopses and queues, which
// carry them onward as the "tuple" field of an Element.
type TupleRef = mem.Ptr

// schemaBytes returns a Tuple view over just the data portion (not the
// store's appended metadata) of a slot at ptr.
func schemaBytes(mgr *mem.Manager, ptr mem.Ptr, s *eval.Schema) eval.Tuple {
	return eval.Tuple(mgr.Bytes(ptr, s.Size))
}

func getU32(mgr *mem.Manager, ptr mem.Ptr, off int) uint32 {
	b := mgr.Bytes(ptr+mem.Ptr(off), 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32(mgr *mem.Manager, ptr mem.Ptr, off int, v uint32) {
	b := mgr.Bytes(ptr+mem.Ptr(off), 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getPtr(mgr *mem.Manager, ptr mem.Ptr, off int) mem.Ptr {
	v := getU32(mgr, ptr, off)
	if v == uint32(mem.NilPtr) {
		return mem.NilPtr
	}
	return mem.Ptr(v)
}

func putPtr(mgr *mem.Manager, ptr mem.Ptr, off int, v mem.Ptr) {
	putU32(mgr, ptr, off, uint32(v))
}
