package types

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"strings"

	"dbkernel/pkg/primitives"
)

// StringMaxSize is the default fixed width for a StringField key, chosen
// once per index and never varying across inserts into the same tree.
const StringMaxSize = 64

// StringField is a fixed-width string key. Unlike a catalog's variable
// length column value, an index key must serialize to the same number of
// bytes every time so a leaf's slot array can be addressed by index alone;
// values longer than MaxSize are truncated, shorter ones zero-padded.
type StringField struct {
	Value   string
	MaxSize int
}

func NewStringField(value string, maxSize int) *StringField {
	if len(value) > maxSize {
		value = value[:maxSize]
	}
	return &StringField{Value: value, MaxSize: maxSize}
}

// DecodeStringField reads back a value written by Serialize, given the
// same maxSize the field was constructed with.
func DecodeStringField(b []byte, maxSize int) *StringField {
	length := binary.BigEndian.Uint32(b[:4])
	return &StringField{Value: string(b[4 : 4+length]), MaxSize: maxSize}
}

func (s *StringField) Compare(op primitives.Predicate, other Field) (bool, error) {
	o, ok := other.(*StringField)
	if !ok {
		return false, nil
	}

	cmp := strings.Compare(s.Value, o.Value)
	switch op {
	case primitives.Equals:
		return cmp == 0, nil
	case primitives.LessThan:
		return cmp < 0, nil
	case primitives.GreaterThan:
		return cmp > 0, nil
	case primitives.LessThanOrEqual:
		return cmp <= 0, nil
	case primitives.GreaterThanOrEqual:
		return cmp >= 0, nil
	case primitives.NotEqual, primitives.NotEqualsBracket:
		return cmp != 0, nil
	case primitives.Like:
		return strings.Contains(s.Value, o.Value), nil
	default:
		return false, nil
	}
}

func (s *StringField) Serialize(w io.Writer) error {
	length := min(len(s.Value), s.MaxSize)

	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(length))
	if _, err := w.Write(lengthBytes[:]); err != nil {
		return err
	}

	if _, err := w.Write([]byte(s.Value[:length])); err != nil {
		return err
	}

	padding := make([]byte, s.MaxSize-length)
	_, err := w.Write(padding)
	return err
}

func (s *StringField) Type() Type { return StringType }

func (s *StringField) String() string { return s.Value }

func (s *StringField) Equals(other Field) bool {
	o, ok := other.(*StringField)
	return ok && s.Value == o.Value
}

func (s *StringField) Hash() (primitives.HashCode, error) {
	h := fnv.New32a()
	if _, err := h.Write([]byte(s.Value)); err != nil {
		return 0, err
	}
	return primitives.HashCode(h.Sum32()), nil
}

// Length returns the fixed serialized width: 4 bytes of length prefix
// plus MaxSize bytes of (possibly padded) string content.
func (s *StringField) Length() uint32 {
	return 4 + uint32(s.MaxSize)
}
