package xdr

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder(32)
	enc.PutU32(0xDEADBEEF)
	enc.PutI32(-1)
	enc.PutOpaque([]byte("hi"))

	dec := NewDecoder(enc.Bytes())
	u, err := dec.GetU32()
	if err != nil || u != 0xDEADBEEF {
		t.Fatalf("GetU32 = %d, %v", u, err)
	}
	i, err := dec.GetI32()
	if err != nil || i != -1 {
		t.Fatalf("GetI32 = %d, %v", i, err)
	}
	opaque, err := dec.GetOpaque()
	if err != nil || string(opaque) != "hi" {
		t.Fatalf("GetOpaque = %q, %v", opaque, err)
	}
	if dec.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", dec.Remaining())
	}
}

func TestOpaquePadding(t *testing.T) {
	enc := NewEncoder(16)
	enc.PutOpaque([]byte("abc")) // 3 bytes -> 1 pad byte
	if len(enc.Bytes()) != 4+4 {
		t.Fatalf("expected 8 bytes (4 len + 3 data + 1 pad), got %d", len(enc.Bytes()))
	}
}

func TestPadLen(t *testing.T) {
	cases := map[int]int{0: 0, 1: 3, 2: 2, 3: 1, 4: 0, 5: 3}
	for n, want := range cases {
		if got := PadLen(n); got != want {
			t.Errorf("PadLen(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	dec := NewDecoder([]byte{0x00, 0x01})
	if _, err := dec.GetU32(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
