// Package rpcframe builds and validates ONC-RPC (RFC 5531) call/reply
// messages over a TCP record-marked stream, as used by the VXI-11 Core and
// portmapper protocols. No RPC library is used — the wire format is built
// directly on internal/xdr per the "no RPC library dependency" non-goal.
package rpcframe

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rjboer/openvisa/internal/xdr"
)

const (
	rpcVersion = 2
	callType   = 0
	replyType  = 1

	msgAccepted = 0
	acceptSuccess = 0
)

var xidCounter uint32

// nextXID returns a process-wide unique transaction identifier.
func nextXID() uint32 {
	return atomic.AddUint32(&xidCounter, 1)
}

// Call describes one ONC-RPC procedure invocation.
type Call struct {
	Program   uint32
	Version   uint32
	Procedure uint32
	Args      []byte // pre-encoded XDR procedure arguments
}

// Invoke sends a Call over rw's connection and returns the raw (already
// XDR-decoded-ready) procedure results from a validated reply.
//
// The call header is exactly 40 bytes: xid(4) msgtype(4) rpcvers(4)
// prog(4) vers(4) proc(4) cred{flavor=0,len=0}(8) verf{flavor=0,len=0}(8),
// using AUTH_NULL credentials and verifier as the source does.
func Invoke(rw io.ReadWriter, call Call) ([]byte, error) {
	xid := nextXID()

	enc := xdr.NewEncoder(40 + len(call.Args))
	enc.PutU32(xid)
	enc.PutU32(callType)
	enc.PutU32(rpcVersion)
	enc.PutU32(call.Program)
	enc.PutU32(call.Version)
	enc.PutU32(call.Procedure)
	enc.PutU32(0) // cred flavor = AUTH_NULL
	enc.PutU32(0) // cred length = 0
	enc.PutU32(0) // verf flavor = AUTH_NULL
	enc.PutU32(0) // verf length = 0
	enc.PutRaw(call.Args)

	if err := xdr.WriteRecord(rw, enc.Bytes()); err != nil {
		return nil, fmt.Errorf("rpcframe: send call: %w", err)
	}

	reply, err := xdr.ReadRecord(rw)
	if err != nil {
		return nil, fmt.Errorf("rpcframe: read reply: %w", err)
	}

	return validateReply(reply, xid)
}

// validateReply checks xid match, message_type=REPLY, reply_status=MSG_ACCEPTED,
// accept_status=SUCCESS, skips the verifier, and returns the remaining
// procedure-result bytes.
func validateReply(reply []byte, xid uint32) ([]byte, error) {
	d := xdr.NewDecoder(reply)

	gotXID, err := d.GetU32()
	if err != nil {
		return nil, fmt.Errorf("rpcframe: truncated reply header: %w", err)
	}
	if gotXID != xid {
		return nil, fmt.Errorf("rpcframe: xid mismatch: got %d want %d", gotXID, xid)
	}

	msgType, err := d.GetU32()
	if err != nil || msgType != replyType {
		return nil, fmt.Errorf("rpcframe: unexpected message type %d", msgType)
	}

	replyStat, err := d.GetU32()
	if err != nil || replyStat != msgAccepted {
		return nil, fmt.Errorf("rpcframe: reply rejected (status %d)", replyStat)
	}

	// Verifier: flavor(4) + length-prefixed opaque body.
	if _, err := d.GetU32(); err != nil {
		return nil, fmt.Errorf("rpcframe: truncated verifier flavor: %w", err)
	}
	if _, err := d.GetOpaque(); err != nil {
		return nil, fmt.Errorf("rpcframe: truncated verifier body: %w", err)
	}

	acceptStat, err := d.GetU32()
	if err != nil || acceptStat != acceptSuccess {
		return nil, fmt.Errorf("rpcframe: accept_stat=%d (not success)", acceptStat)
	}

	return reply[len(reply)-d.Remaining():], nil
}
