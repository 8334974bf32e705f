// Package xdr implements the subset of RFC 4506 External Data Representation
// needed by the ONC-RPC (VXI-11) transport: big-endian fixed-width integers
// and length-prefixed opaque data padded to a 4-byte boundary.
package xdr

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a buffer is shorter than a primitive requires.
var ErrTruncated = errors.New("xdr: truncated buffer")

// Encoder appends XDR-encoded primitives to an internal byte buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with capacity hint n.
func NewEncoder(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutU32 appends a big-endian uint32.
func (e *Encoder) PutU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutI32 appends a big-endian int32.
func (e *Encoder) PutI32(v int32) { e.PutU32(uint32(v)) }

// PutOpaque appends a length-prefixed opaque value, zero-padded to a 4-byte
// multiple, per RFC 4506 §4.10.
func (e *Encoder) PutOpaque(data []byte) {
	e.PutU32(uint32(len(data)))
	e.buf = append(e.buf, data...)
	if pad := PadLen(len(data)); pad > 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

// PutRaw appends bytes without any length prefix or padding (used for
// already-framed sub-messages such as auth credentials).
func (e *Encoder) PutRaw(b []byte) { e.buf = append(e.buf, b...) }

// PadLen returns the number of zero bytes needed to round n up to a multiple of 4.
func PadLen(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

// Decoder reads XDR primitives sequentially from a fixed buffer.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps buf for sequential decoding.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// GetU32 reads a big-endian uint32.
func (d *Decoder) GetU32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// GetI32 reads a big-endian int32.
func (d *Decoder) GetI32() (int32, error) {
	v, err := d.GetU32()
	return int32(v), err
}

// GetOpaque reads a length-prefixed opaque value and skips its padding.
func (d *Decoder) GetOpaque() ([]byte, error) {
	n, err := d.GetU32()
	if err != nil {
		return nil, err
	}
	total := int(n) + PadLen(int(n))
	if d.Remaining() < total {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += total
	return out, nil
}

// Skip advances the read cursor by n bytes.
func (d *Decoder) Skip(n int) error {
	if d.Remaining() < n {
		return ErrTruncated
	}
	d.off += n
	return nil
}

// GetBytes reads n raw bytes with no padding interpretation.
func (d *Decoder) GetBytes(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+n])
	d.off += n
	return out, nil
}
