package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// encoder appends protobuf fields to a buffer. Zero values are omitted,
// matching proto3 semantics.
type encoder struct {
	buf []byte
}

// appender is implemented by every message that can be nested in another.
type appender interface {
	appendFields(e *encoder)
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) int(num protowire.Number, v int64) {
	e.uint(num, uint64(v)) // #nosec G115 -- two's complement is the protobuf int64 encoding
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uint(num, 1)
	}
}

func (e *encoder) float32(num protowire.Number, v float32) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed32Type)
	e.buf = protowire.AppendFixed32(e.buf, math.Float32bits(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// repeatedString writes every element, including empty ones, so that the
// element count survives a round trip.
func (e *encoder) repeatedString(num protowire.Number, vs []string) {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		e.buf = protowire.AppendString(e.buf, v)
	}
}

// message writes a nested message. A non-nil empty message is still written
// so that presence is preserved.
func (e *encoder) message(num protowire.Number, m appender) {
	var sub encoder
	m.appendFields(&sub)
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, sub.buf)
}

// field is a single decoded tag positioned at the start of its value.
// Accessors consume the value; a field left untouched is skipped.
type field struct {
	num protowire.Number
	typ protowire.Type
	buf []byte

	n        int
	consumed bool
	err      error
}

// decodeFields walks every field in b and hands it to visit.
func decodeFields(b []byte, visit func(f *field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ, buf: b}
		visit(&f)
		if f.err != nil {
			return f.err
		}
		if !f.consumed {
			f.n = protowire.ConsumeFieldValue(num, typ, b)
			if f.n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(f.n))
			}
		}
		b = b[f.n:]
	}
	return nil
}

func (f *field) expect(typ protowire.Type) bool {
	f.consumed = true
	if f.typ != typ {
		f.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrDecode, f.num, f.typ, typ)
		return false
	}
	return true
}

func (f *field) fail(n int) {
	f.err = fmt.Errorf("%w: field %d: %w", ErrDecode, f.num, protowire.ParseError(n))
}

func (f *field) uint64() uint64 {
	if !f.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(f.buf)
	if n < 0 {
		f.fail(n)
		return 0
	}
	f.n = n
	return v
}

func (f *field) uint32() uint32 {
	return uint32(f.uint64()) // #nosec G115 -- protobuf uint32 truncation semantics
}

func (f *field) int64() int64 {
	return int64(f.uint64()) // #nosec G115 -- protobuf int64 two's complement
}

func (f *field) int32() int32 {
	return int32(f.uint64()) // #nosec G115 -- protobuf int32 truncation semantics
}

func (f *field) bool() bool {
	return f.uint64() != 0
}

func (f *field) float32() float32 {
	if !f.expect(protowire.Fixed32Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed32(f.buf)
	if n < 0 {
		f.fail(n)
		return 0
	}
	f.n = n
	return math.Float32frombits(v)
}

func (f *field) bytes() []byte {
	if !f.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(f.buf)
	if n < 0 {
		f.fail(n)
		return nil
	}
	f.n = n
	// Copy so the message never aliases the transport's buffer.
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (f *field) string() string {
	if !f.expect(protowire.BytesType) {
		return ""
	}
	v, n := protowire.ConsumeString(f.buf)
	if n < 0 {
		f.fail(n)
		return ""
	}
	f.n = n
	return v
}

// message decodes a nested message into m.
func (f *field) message(m interface{ Unmarshal([]byte) error }) {
	if !f.expect(protowire.BytesType) {
		return
	}
	v, n := protowire.ConsumeBytes(f.buf)
	if n < 0 {
		f.fail(n)
		return
	}
	f.n = n
	if err := m.Unmarshal(v); err != nil {
		f.err = fmt.Errorf("field %d: %w", f.num, err)
	}
}
