package buf

import "testing"

func TestPutU64LE(t *testing.T) {
	b := make([]byte, 8)
	if !PutU64LE(b, 0x0102030405060708) {
		t.Fatalf("PutU64LE failed on 8-byte buffer")
	}
	if b[0] != 0x08 || b[7] != 0x01 {
		t.Fatalf("unexpected byte order: %v", b)
	}
	if PutU64LE(b[:7], 1) {
		t.Fatalf("PutU64LE should reject short buffers")
	}
}
