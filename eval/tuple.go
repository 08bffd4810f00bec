package eval

import "math"

// Tuple is a byte-slice view onto a tuple's data buffer. It carries no
// identity of its own; identity (for the PLUS/MINUS pointer-equality
// invariant in spec §3) lives in whatever mem.Ptr the owning store handed
// out to produce this slice. Operators that need to compare tuple
// identity compare the underlying store pointer, never the Tuple bytes.
type Tuple []byte

func ReadInt(t Tuple, off int) int32 {
	b := t[off : off+4]
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

func WriteInt(t Tuple, off int, v int32) {
	b := t[off : off+4]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func ReadFloat(t Tuple, off int) float32 {
	return math.Float32frombits(uint32(ReadInt(t, off)))
}

func WriteFloat(t Tuple, off int, v float32) {
	WriteInt(t, off, int32(math.Float32bits(v)))
}

func ReadByte(t Tuple, off int) byte { return t[off] }

func WriteByte(t Tuple, off int, v byte) { t[off] = v }

func ReadChar(t Tuple, off, n int) []byte { return t[off : off+n] }

func WriteChar(t Tuple, off int, v []byte) { copy(t[off:off+len(v)], v) }

// ReadColumn reads attribute a of tuple t as a Go value: int32, float32,
// byte, or []byte for CHAR.
func ReadColumn(t Tuple, a Attr) any {
	switch a.Type {
	case TypeInt:
		return ReadInt(t, a.Offset)
	case TypeFloat:
		return ReadFloat(t, a.Offset)
	case TypeByte:
		return ReadByte(t, a.Offset)
	case TypeChar:
		return ReadChar(t, a.Offset, a.Size)
	default:
		return nil
	}
}

// CopyColumn copies attribute a verbatim from src to dst.
func CopyColumn(dst, src Tuple, a Attr) {
	copy(dst[a.Offset:a.Offset+a.Size], src[a.Offset:a.Offset+a.Size])
}
