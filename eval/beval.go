package eval

import "fmt"

// BOp is a BEval comparator.
type BOp int

const (
	BLT BOp = iota
	BLE
	BGT
	BGE
	BEQ
	BNE
)

// BInstr is one BEval comparator instruction: (r1,c1) OP (r2,c2), typed by
// Type. Pre, if non-nil, is run first to materialise a computed operand
// into RoleScratch (spec §4.6: "optionally preceded by invoking an AEval
// to materialise a computed operand").
type BInstr struct {
	Op     BOp
	Type   Type
	R1, R2 Role
	C1, C2 Attr
	Pre    *AEval
}

// BEval is a conjunctive boolean instruction sequence: it short-circuits
// to false on the first failing comparator (spec §4.6).
type BEval struct {
	instrs []BInstr
}

func NewBEval() *BEval { return &BEval{} }

func (p *BEval) Add(i BInstr) error {
	if len(p.instrs) >= MaxInstructions {
		return fmt.Errorf("eval: BEval program exceeds %d instructions", MaxInstructions)
	}
	p.instrs = append(p.instrs, i)
	return nil
}

func (p *BEval) Len() int { return len(p.instrs) }

// Eval runs every comparator against ctx and returns their conjunction.
func (p *BEval) Eval(ctx *Context) (bool, error) {
	for idx, ins := range p.instrs {
		if ins.Pre != nil {
			if err := ins.Pre.Run(ctx); err != nil {
				return false, fmt.Errorf("eval: BEval instruction %d precompute: %w", idx, err)
			}
		}
		ok, err := evalBInstr(ctx, ins)
		if err != nil {
			return false, fmt.Errorf("eval: BEval instruction %d: %w", idx, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalBInstr(ctx *Context, ins BInstr) (bool, error) {
	t1 := ctx.Get(ins.R1)
	t2 := ctx.Get(ins.R2)
	if t1 == nil || t2 == nil {
		return false, fmt.Errorf("eval: unbound role in BEval instruction")
	}
	switch ins.Type {
	case TypeInt:
		return cmpOrdered(ins.Op, ReadInt(t1, ins.C1.Offset), ReadInt(t2, ins.C2.Offset)), nil
	case TypeFloat:
		return cmpOrdered(ins.Op, ReadFloat(t1, ins.C1.Offset), ReadFloat(t2, ins.C2.Offset)), nil
	case TypeByte:
		return cmpOrdered(ins.Op, ReadByte(t1, ins.C1.Offset), ReadByte(t2, ins.C2.Offset)), nil
	case TypeChar:
		a := ReadChar(t1, ins.C1.Offset, ins.C1.Size)
		b := ReadChar(t2, ins.C2.Offset, ins.C2.Size)
		return cmpBytes(ins.Op, a, b), nil
	default:
		return false, fmt.Errorf("eval: unsupported BEval type %v", ins.Type)
	}
}

func cmpOrdered[T int32 | float32 | byte](op BOp, a, b T) bool {
	switch op {
	case BLT:
		return a < b
	case BLE:
		return a <= b
	case BGT:
		return a > b
	case BGE:
		return a >= b
	case BEQ:
		return a == b
	case BNE:
		return a != b
	default:
		return false
	}
}

func cmpBytes(op BOp, a, b []byte) bool {
	c := compareBytes(a, b)
	switch op {
	case BLT:
		return c < 0
	case BLE:
		return c <= 0
	case BGT:
		return c > 0
	case BGE:
		return c >= 0
	case BEQ:
		return c == 0
	case BNE:
		return c != 0
	default:
		return false
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
