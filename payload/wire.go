package payload

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded tag/value pair. Exactly one of v (length-delimited)
// or x (varint) is meaningful, selected by typ.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   []byte
	x   uint64
}

func (f field) bytes() []byte {
	return append([]byte(nil), f.v...)
}

func (f field) is(num protowire.Number, typ protowire.Type) bool {
	return f.num == num && f.typ == typ
}

// walk visits every field of a record in order. Fixed-width and group
// fields are skipped; unknown numbers are the visitor's business.
func walk(b []byte, visit func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

// uint32s decodes a repeated uint32 field in either packed or unpacked form.
func (f field) uint32s(dst []uint32) ([]uint32, error) {
	if f.typ == protowire.VarintType {
		return append(dst, uint32(f.x)), nil
	}
	b := f.v
	for len(b) > 0 {
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed field %d: %w", ErrMalformed, f.num, protowire.ParseError(n))
		}
		dst = append(dst, uint32(x))
		b = b[n:]
	}
	return dst, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, x uint64) []byte {
	if x == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, x)
}

// appendMessageField writes an embedded record even when it is empty, so
// presence survives a round trip.
func appendMessageField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPackedField(b []byte, num protowire.Number, xs []uint32) []byte {
	if len(xs) == 0 {
		return b
	}
	var packed []byte
	for _, x := range xs {
		packed = protowire.AppendVarint(packed, uint64(x))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}
