package types

import (
	"bytes"
	"testing"

	"dbkernel/pkg/primitives"
)

func TestInt64Field_SerializeRoundTrip(t *testing.T) {
	field := NewInt64Field(-42)

	var buf bytes.Buffer
	if err := field.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got := DecodeInt64Field(buf.Bytes())
	if !got.Equals(field) {
		t.Errorf("round trip mismatch: got %v, want %v", got, field)
	}
}

func TestInt64Field_Compare(t *testing.T) {
	a := NewInt64Field(5)
	b := NewInt64Field(10)

	tests := []struct {
		op   primitives.Predicate
		want bool
	}{
		{primitives.LessThan, true},
		{primitives.GreaterThan, false},
		{primitives.Equals, false},
		{primitives.NotEqual, true},
	}

	for _, tt := range tests {
		got, err := a.Compare(tt.op, b)
		if err != nil {
			t.Fatalf("Compare(%v): %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestInt64Field_Length(t *testing.T) {
	if l := NewInt64Field(0).Length(); l != 8 {
		t.Errorf("Length() = %d, want 8", l)
	}
}
