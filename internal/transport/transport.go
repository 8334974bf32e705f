// Package transport defines the capability interface implemented by every
// concrete wire transport (VXI-11, HiSLIP, USBTMC, raw-socket, serial,
// GPIB), replacing the source's vtable-of-function-pointers with a Go
// interface per the redesign note in spec §9 ("vtable-based transport
// polymorphism → interface abstraction with tagged variant").
package transport

import (
	"context"
	"time"

	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// ReadOutcome classifies why a Read call returned.
type ReadOutcome int

const (
	// ReadNormal indicates the read returned data with neither a termination
	// condition nor count exhaustion reported.
	ReadNormal ReadOutcome = iota
	// ReadTermChar indicates the read stopped on a termination condition
	// (newline, HiSLIP DataEnd, USBTMC EOM, VXI-11 END|CHR).
	ReadTermChar
	// ReadMaxCount indicates the read stopped because the caller's buffer
	// or requested count was exhausted first.
	ReadMaxCount
)

// Transport is the capability every concrete wire protocol implements. All
// operations are synchronous and blocking per spec §5: every call either
// completes, fails, or times out: there is no asynchronous completion path.
type Transport interface {
	// Open establishes the underlying connection/handle described by d,
	// bounded by timeout (0 = no explicit bound beyond the transport's
	// internal default).
	Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error
	// Close releases the transport's underlying handle. Must be safe to call
	// on a transport whose Open failed partway through.
	Close() error
	// Write sends buf in full (chunking internally if the protocol requires
	// it) and returns the number of bytes accepted by the transport.
	Write(ctx context.Context, buf []byte) (int, error)
	// Read fills buf (up to len(buf)) and reports why the read stopped.
	Read(ctx context.Context, buf []byte, timeout time.Duration) (int, ReadOutcome, error)
	// ReadSTB returns the instrument's IEEE-488 status byte.
	ReadSTB(ctx context.Context) (uint16, error)
	// Clear issues a device-clear.
	Clear(ctx context.Context) error
}

// StatusFromError maps a transport-internal error into a vistatus.Status
// using errors.Is/As against the sentinel errors internal/vistatus exports
// and every transport wraps, per spec §7's propagation policy (no exceptions cross the
// transport boundary; only a status code and, on success, output values).
var StatusFromError = vistatus.FromError
