package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// lastFragmentBit marks the final fragment of an ONC-RPC record (RFC 5531 §11).
const lastFragmentBit = uint32(1) << 31

// WriteRecord frames payload as a single-fragment RPC record: a 4-byte
// big-endian marker with the last-fragment bit set, followed by the payload.
// The source never emits multi-fragment records on write; only the reader
// needs to tolerate them.
func WriteRecord(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], lastFragmentBit|uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("xdr: write record marker: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("xdr: write record payload: %w", err)
	}
	return nil
}

// ReadRecord reconstitutes one RPC record, concatenating fragments until the
// last-fragment bit is observed.
func ReadRecord(r io.Reader) ([]byte, error) {
	var out []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("xdr: read record marker: %w", err)
		}
		marker := binary.BigEndian.Uint32(hdr[:])
		last := marker&lastFragmentBit != 0
		length := marker &^ lastFragmentBit

		frag := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, frag); err != nil {
				return nil, fmt.Errorf("xdr: read record fragment: %w", err)
			}
		}
		out = append(out, frag...)
		if last {
			return out, nil
		}
	}
}
