// Package sched provides the reference scheduler loop and the two
// supplemented, spec-literal source operators a deployment needs to
// drive a plan.Instance end to end: a byte-record TableSource decoding
// the wire formats spec §6 names, and a self-monitoring StatsSource
// instrumenting the operators around it. Neither is part of the
// core's contract — the core only requires *something* implementing
// operator.TableSource or operator.Operator — but both are small enough,
// and specified precisely enough, to ship as the obvious reference.
package sched

import (
	"encoding/binary"
	"fmt"

	"github.com/contflow/dsce/dsceerr"
	"github.com/contflow/dsce/operator"
	"github.com/contflow/dsce/queue"
)

// timestampSize is the width, in bytes, of the little-endian timestamp
// prefix on every wire record (spec §6 "Stream source record format").
const timestampSize = 8

// ByteTableSource decodes fixed-width records off an in-memory byte
// buffer per spec §6: a little-endian timestamp, an optional sign byte
// for relation sources, then the schema's attributes concatenated in
// declared order at their declared sizes. It is intentionally not a
// general codec — no schema registry, no varint, no compression — since
// spec §1 places the real wire/on-disk tuple encoding out of scope.
type ByteTableSource struct {
	buf        []byte
	pos        int
	recordSize int
	hasSign    bool
	lastTS     uint64
	sawFirst   bool
}

// NewStreamTableSource builds a ByteTableSource over buf for a stream
// source: no sign byte, record size timestampSize+attrSize.
func NewStreamTableSource(buf []byte, attrSize int) *ByteTableSource {
	return &ByteTableSource{buf: buf, recordSize: timestampSize + attrSize}
}

// NewRelationTableSource builds a ByteTableSource over buf for a
// relation source: one sign byte after the timestamp, then the
// attributes (spec §6 "Relation source record format").
func NewRelationTableSource(buf []byte, attrSize int) *ByteTableSource {
	return &ByteTableSource{buf: buf, recordSize: timestampSize + 1 + attrSize, hasSign: true}
}

// Next implements operator.TableSource. It returns the source errors of
// spec §7: a truncated trailing record, a timestamp that regresses
// relative to the previous record, or — for a relation source — a sign
// byte that is neither '+' nor '-'.
func (s *ByteTableSource) Next() (operator.Record, bool, error) {
	if s.pos >= len(s.buf) {
		return operator.Record{}, false, nil
	}
	if s.pos+s.recordSize > len(s.buf) {
		return operator.Record{}, false, fmt.Errorf("sched: truncated record at offset %d: %w", s.pos, dsceerr.ErrRecordLength)
	}
	rec := s.buf[s.pos : s.pos+s.recordSize]
	s.pos += s.recordSize

	ts := binary.LittleEndian.Uint64(rec[:timestampSize])
	if s.sawFirst && ts < s.lastTS {
		return operator.Record{}, false, fmt.Errorf("sched: timestamp %d precedes previous %d: %w", ts, s.lastTS, dsceerr.ErrTimestampRegress)
	}
	s.lastTS, s.sawFirst = ts, true

	out := operator.Record{Timestamp: ts}
	rest := rec[timestampSize:]
	if s.hasSign {
		switch rest[0] {
		case '+':
			out.Sign = queue.SignPlus
		case '-':
			out.Sign = queue.SignMinus
		default:
			return operator.Record{}, false, fmt.Errorf("sched: invalid sign byte %q: %w", rest[0], dsceerr.ErrBadSignByte)
		}
		rest = rest[1:]
	} else {
		out.Sign = queue.SignPlus
	}
	out.Data = rest
	return out, true, nil
}
