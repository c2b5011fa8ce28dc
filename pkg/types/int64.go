package types

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"strconv"

	"dbkernel/pkg/primitives"
)

// Int64Field is a signed 64-bit integer key, the common case for a
// primary-key index over an auto-incrementing row id.
type Int64Field struct {
	Value int64
}

func NewInt64Field(value int64) *Int64Field {
	return &Int64Field{Value: value}
}

func (f *Int64Field) Serialize(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(f.Value))
	_, err := w.Write(buf[:])
	return err
}

// DecodeInt64Field reads back a value written by Serialize.
func DecodeInt64Field(b []byte) *Int64Field {
	return &Int64Field{Value: int64(binary.BigEndian.Uint64(b))}
}

func (f *Int64Field) Compare(op primitives.Predicate, other Field) (bool, error) {
	o, ok := other.(*Int64Field)
	if !ok {
		return false, nil
	}
	return compareOrdered(f.Value, o.Value, op), nil
}

func (f *Int64Field) Type() Type { return Int64Type }

func (f *Int64Field) String() string { return strconv.FormatInt(f.Value, 10) }

func (f *Int64Field) Equals(other Field) bool {
	o, ok := other.(*Int64Field)
	return ok && f.Value == o.Value
}

func (f *Int64Field) Hash() (primitives.HashCode, error) {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(f.Value))
	if _, err := h.Write(buf[:]); err != nil {
		return 0, err
	}
	return primitives.HashCode(h.Sum64()), nil
}

func (f *Int64Field) Length() uint32 { return 8 }

func compareOrdered(a, b int64, op primitives.Predicate) bool {
	switch op {
	case primitives.Equals:
		return a == b
	case primitives.LessThan:
		return a < b
	case primitives.GreaterThan:
		return a > b
	case primitives.LessThanOrEqual:
		return a <= b
	case primitives.GreaterThanOrEqual:
		return a >= b
	case primitives.NotEqual, primitives.NotEqualsBracket:
		return a != b
	default:
		return false
	}
}
