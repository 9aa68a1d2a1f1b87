package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	b := make([]byte, 8)
	PutU32LE(b, 0xDEADBEEF)
	if b[0] != 0xEF || b[3] != 0xDE {
		t.Fatalf("PutU32LE wrote %x", b)
	}
	if got := U32LE(b); got != 0xDEADBEEF {
		t.Fatalf("U32LE = %#x", got)
	}
	PutU32LE(b[4:], 1)
	if got := U64LE(b); got != 0x00000001DEADBEEF {
		t.Fatalf("U64LE = %#x", got)
	}
	if U32LE(b[:3]) != 0 || U64LE(b[:7]) != 0 {
		t.Fatalf("short reads must return 0")
	}
	PutU32LE(b[:2], 7) // must not panic
}
