package buf

import (
	"math"
	"testing"
)

func TestAddOverflowSafe(t *testing.T) {
	if v, ok := AddOverflowSafe[uint](2, 3); !ok || v != 5 {
		t.Fatalf("AddOverflowSafe(2,3) = %d,%v", v, ok)
	}
	if _, ok := AddOverflowSafe[uint64](math.MaxUint64, 1); ok {
		t.Fatalf("expected overflow")
	}
	if _, ok := AddOverflowSafe[uintptr](^uintptr(0)-4, 4); !ok {
		t.Fatalf("max value itself must not be reported as overflow")
	}
}

func TestMulOverflowSafe(t *testing.T) {
	if v, ok := MulOverflowSafe[uint](0, 99); !ok || v != 0 {
		t.Fatalf("MulOverflowSafe(0,99) = %d,%v", v, ok)
	}
	if v, ok := MulOverflowSafe[uint32](1<<16, 1<<15); !ok || v != 1<<31 {
		t.Fatalf("MulOverflowSafe(2^16,2^15) = %d,%v", v, ok)
	}
	if _, ok := MulOverflowSafe[uint32](1<<16, 1<<16); ok {
		t.Fatalf("expected overflow")
	}
}

func TestSlice(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	if s, ok := Slice(b, 1, 2); !ok || len(s) != 2 || s[0] != 2 || cap(s) != 2 {
		t.Fatalf("Slice(1,2) = %v,%v", s, ok)
	}
	if _, ok := Slice(b, 3, 2); ok {
		t.Fatalf("expected out of bounds")
	}
	if _, ok := Slice(b, -1, 1); ok {
		t.Fatalf("expected negative offset to fail")
	}
	if _, ok := Slice(b, 4, 0); !ok {
		t.Fatalf("empty slice at end should be in bounds")
	}
}
