package xdr

import (
	"bytes"
	"testing"
)

func TestWriteReadRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello vxi11")
	if err := WriteRecord(&buf, payload); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadRecord = %q, want %q", got, payload)
	}
}

func TestReadRecordMultiFragment(t *testing.T) {
	var buf bytes.Buffer
	// fragment 1: not last, 3 bytes
	buf.Write([]byte{0x00, 0x00, 0x00, 0x03})
	buf.WriteString("abc")
	// fragment 2: last, 2 bytes
	buf.Write([]byte{0x80, 0x00, 0x00, 0x02})
	buf.WriteString("de")

	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("ReadRecord = %q, want %q", got, "abcde")
	}
}
