package eval

import (
	"fmt"

	"github.com/dchest/siphash"
)

// hashKey is a fixed, process-wide 128-bit siphash key. It only needs to
// be stable for the lifetime of one run (the hash index is never
// persisted), so a fixed constant key is sufficient and keeps hashing
// deterministic across repeated runs of the same plan, which the
// property tests in spec §8 rely on.
var hashKey0, hashKey1 = uint64(0x646d73656e67696e), uint64(0x6862617368696e64)

// HInstr is one HEval contribution: fold column (r,c) of type typ into
// the running hash.
type HInstr struct {
	Role Role
	Col  Attr
	Type Type
}

// HEval folds up to 20 per-column hash contributions into a single
// 32-bit hash (spec §4.6, §4.4). Integers and bytes are mixed through a
// deterministic reversible siphash-based mixer; CHAR columns accumulate
// via djb2-style multiplication, per spec. FLOAT columns are excluded
// from hashing — the reference intentionally omits them (spec §9 open
// question) — and are rejected at Add time as a plan-time error.
type HEval struct {
	instrs []HInstr
}

func NewHEval() *HEval { return &HEval{} }

func (p *HEval) Add(i HInstr) error {
	if len(p.instrs) >= MaxInstructions {
		return fmt.Errorf("eval: HEval program exceeds %d instructions", MaxInstructions)
	}
	if i.Type == TypeFloat {
		return fmt.Errorf("eval: HEval cannot hash FLOAT columns")
	}
	p.instrs = append(p.instrs, i)
	return nil
}

func (p *HEval) Len() int { return len(p.instrs) }

// Hash evaluates the program against ctx and returns the folded 32-bit
// hash.
func (p *HEval) Hash(ctx *Context) (uint32, error) {
	var h uint32 = 5381 // djb2 seed, reused as the fold accumulator
	for idx, ins := range p.instrs {
		t := ctx.Get(ins.Role)
		if t == nil {
			return 0, fmt.Errorf("eval: HEval instruction %d: unbound role", idx)
		}
		switch ins.Type {
		case TypeInt:
			h = foldInt(h, uint64(uint32(ReadInt(t, ins.Col.Offset))))
		case TypeByte:
			h = foldInt(h, uint64(ReadByte(t, ins.Col.Offset)))
		case TypeChar:
			h = foldBytes(h, ReadChar(t, ins.Col.Offset, ins.Col.Size))
		default:
			return 0, fmt.Errorf("eval: unsupported HEval type %v", ins.Type)
		}
	}
	return h, nil
}

// foldInt mixes an integer column value into the running hash with
// siphash-2-4 keyed by the process-wide hashKey, then folds the 64-bit
// digest down to 32 bits by XOR, combining it with the accumulator from
// prior columns via multiplication so that column order still matters.
func foldInt(acc uint32, v uint64) uint32 {
	var buf [8]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	buf[5] = byte(v >> 40)
	buf[6] = byte(v >> 48)
	buf[7] = byte(v >> 56)
	d := siphash.Hash(hashKey0, hashKey1, buf[:])
	mixed := uint32(d) ^ uint32(d>>32)
	return acc*33 ^ mixed
}

// foldBytes accumulates a CHAR column via djb2-style multiplication, per
// spec §4.4.
func foldBytes(acc uint32, b []byte) uint32 {
	h := acc
	for _, c := range b {
		h = h*33 + uint32(c)
	}
	return h
}
