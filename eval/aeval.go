package eval

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// MaxInstructions bounds every evaluator program at 20 instructions, per
// spec §4.6.
const MaxInstructions = 20

// AOp is an AEval opcode.
type AOp int

const (
	AAdd AOp = iota
	ASub
	AMul
	ADiv
	AMin
	AMax
	AAvg // produces a FLOAT from an accumulated sum and a count operand
	ACopy
)

// AInstr is one AEval instruction: dest = r1.c1 OP r2.c2, typed by Type.
// ACopy copies r1's bytes at Dest's offset and size into dest, ignoring
// C1, R2 and C2.
type AInstr struct {
	Op           AOp
	Type         Type
	R1, R2       Role
	C1, C2       Attr
	DestR        Role
	Dest         Attr
}

// AEval is an arithmetic instruction sequence implementing typed
// add/sub/mul/div, min/max update, average, and copy (spec §4.6).
type AEval struct {
	instrs []AInstr
}

// NewAEval constructs an empty program.
func NewAEval() *AEval { return &AEval{} }

// Add appends an instruction, enforcing the 20-instruction cap.
func (p *AEval) Add(i AInstr) error {
	if len(p.instrs) >= MaxInstructions {
		return fmt.Errorf("eval: AEval program exceeds %d instructions", MaxInstructions)
	}
	if i.Type == TypeChar && i.Op != ACopy {
		return fmt.Errorf("eval: CHAR columns only support ACopy")
	}
	p.instrs = append(p.instrs, i)
	return nil
}

// Len reports the instruction count.
func (p *AEval) Len() int { return len(p.instrs) }

// Run executes every instruction against ctx, in order.
func (p *AEval) Run(ctx *Context) error {
	for idx, ins := range p.instrs {
		if err := runAInstr(ctx, ins); err != nil {
			return fmt.Errorf("eval: AEval instruction %d: %w", idx, err)
		}
	}
	return nil
}

func runAInstr(ctx *Context, ins AInstr) error {
	src1 := ctx.Get(ins.R1)
	dst := ctx.Get(ins.DestR)
	if src1 == nil || dst == nil {
		return fmt.Errorf("eval: unbound role in AEval instruction")
	}
	if ins.Op == ACopy {
		CopyColumn(dst, src1, ins.Dest)
		return nil
	}
	src2 := ctx.Get(ins.R2)
	if src2 == nil {
		return fmt.Errorf("eval: unbound role in AEval instruction")
	}
	switch ins.Type {
	case TypeInt:
		a := ReadInt(src1, ins.C1.Offset)
		b := ReadInt(src2, ins.C2.Offset)
		WriteInt(dst, ins.Dest.Offset, intOp(ins.Op, a, b))
	case TypeFloat:
		a := ReadFloat(src1, ins.C1.Offset)
		b := ReadFloat(src2, ins.C2.Offset)
		if ins.Op == AAvg {
			// AAvg treats c1 as the running sum and c2 as the
			// running count (an INT column read as float for the
			// division); plan layer guarantees SUM and COUNT are
			// materialised whenever AVG appears (spec §4.7.5).
			count := float32(ReadInt(src2, ins.C2.Offset))
			if count == 0 {
				WriteFloat(dst, ins.Dest.Offset, 0)
			} else {
				WriteFloat(dst, ins.Dest.Offset, a/count)
			}
			return nil
		}
		WriteFloat(dst, ins.Dest.Offset, floatOp(ins.Op, a, b))
	case TypeByte:
		a := ReadByte(src1, ins.C1.Offset)
		b := ReadByte(src2, ins.C2.Offset)
		WriteByte(dst, ins.Dest.Offset, byteOp(ins.Op, a, b))
	default:
		return fmt.Errorf("eval: unsupported AEval type %v", ins.Type)
	}
	return nil
}

// numOp applies op to a pair of ordered numeric operands. Min/max are
// shared generically across INT/FLOAT/BYTE via constraints.Ordered so
// that each of the three call sites below doesn't hand-duplicate the
// same three-way branch.
func numOp[T constraints.Ordered](op AOp, a, b T, div func(a, b T) T) T {
	switch op {
	case AAdd:
		return a + b
	case ASub:
		return a - b
	case AMul:
		return a * b
	case ADiv:
		return div(a, b)
	case AMin:
		return min(a, b)
	case AMax:
		return max(a, b)
	default:
		return a
	}
}

func intOp(op AOp, a, b int32) int32 {
	return numOp(op, a, b, func(a, b int32) int32 {
		if b == 0 {
			return 0
		}
		return a / b
	})
}

func floatOp(op AOp, a, b float32) float32 {
	return numOp(op, a, b, func(a, b float32) float32 {
		if b == 0 {
			return 0
		}
		return a / b
	})
}

func byteOp(op AOp, a, b byte) byte {
	if op == AMul || op == ADiv {
		return a
	}
	return numOp(op, a, b, func(a, b byte) byte { return a })
}
