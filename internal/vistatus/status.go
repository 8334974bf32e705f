// Package vistatus defines the VISA-style tagged status code and the
// sentinel errors internal transport/session/discovery packages use to
// report specific failure classes, kept separate from the public visa
// package purely to avoid an import cycle (visa -> session -> transport ->
// status); visa re-exports everything here under its own names.
package vistatus

import (
	"errors"
	"fmt"
)

// Status is a 32-bit tagged status code. The top bit set marks an error;
// values with the top bit clear are either the distinguished success (zero)
// or an informational success. Callers must classify by IsError/IsSuccess,
// not by numeric equality against a single expected value.
type Status uint32

const errorBit = 1 << 31

// IsError reports whether s represents a failure.
func (s Status) IsError() bool { return uint32(s)&errorBit != 0 }

// IsSuccess reports whether s is the distinguished success or an
// informational success (Success, SuccessTermChar, SuccessMaxCount).
func (s Status) IsSuccess() bool { return !s.IsError() }

const (
	Success         Status = 0
	SuccessTermChar Status = 1
	SuccessMaxCount Status = 2

	ErrSystemError          Status = errorBit | 1
	ErrInvalidObject        Status = errorBit | 2
	ErrResourceLocked       Status = errorBit | 3
	ErrInvalidExpr          Status = errorBit | 4
	ErrResourceNotFound     Status = errorBit | 5
	ErrInvalidResourceName  Status = errorBit | 6
	ErrTimeout              Status = errorBit | 7
	ErrIO                   Status = errorBit | 8
	ErrConnectionLost       Status = errorBit | 9
	ErrAlloc                Status = errorBit | 10
	ErrUnsupportedAttr      Status = errorBit | 11
	ErrUnsupportedOperation Status = errorBit | 12
	ErrInvalidSetup         Status = errorBit | 13
	ErrInvalidFormat        Status = errorBit | 14
)

// Description returns a short human-readable description, matching
// original_source/src/core/session.c's viStatusDesc including its fallback
// format for unknown codes.
func Description(s Status) string {
	switch s {
	case Success:
		return "Operation completed successfully."
	case SuccessTermChar:
		return "Read terminated by termination character."
	case SuccessMaxCount:
		return "Read terminated by max count."
	case ErrSystemError:
		return "Unknown system error."
	case ErrInvalidObject:
		return "Invalid session or object reference."
	case ErrResourceLocked:
		return "Resource is locked."
	case ErrInvalidExpr:
		return "Invalid expression for resource search."
	case ErrResourceNotFound:
		return "Resource not found."
	case ErrInvalidResourceName:
		return "Invalid resource name."
	case ErrTimeout:
		return "Timeout expired."
	case ErrIO:
		return "I/O error."
	case ErrConnectionLost:
		return "Connection lost."
	case ErrAlloc:
		return "Insufficient resources."
	case ErrUnsupportedAttr:
		return "Attribute not supported."
	case ErrUnsupportedOperation:
		return "Operation not supported."
	case ErrInvalidSetup:
		return "Invalid setup parameters."
	case ErrInvalidFormat:
		return "Invalid format string."
	default:
		return fmt.Sprintf("Unknown status code: 0x%08X", uint32(s))
	}
}

func (s Status) Error() string { return Description(s) }

// Sentinel errors transport/discovery/session packages wrap or return
// directly; FromError classifies any error down to a Status.
var (
	ErrTimeoutErr              = errors.New("visa: timeout")
	ErrConnectionLostErr       = errors.New("visa: connection lost")
	ErrResourceNotFoundErr     = errors.New("visa: resource not found")
	ErrInvalidResourceNameErr  = errors.New("visa: invalid resource name")
	ErrUnsupportedOperationErr = errors.New("visa: unsupported operation")
	ErrIOErr                   = errors.New("visa: I/O error")
	ErrAllocErr                = errors.New("visa: insufficient resources")
	ErrInvalidObjectErr        = errors.New("visa: invalid session or object reference")
)

// FromError classifies err into a Status. A nil error maps to Success; a
// Status found in err's chain by errors.As is returned unchanged; a recognized
// sentinel maps to its status; anything else maps to ErrSystemError.
func FromError(err error) Status {
	if err == nil {
		return Success
	}
	var st Status
	if errors.As(err, &st) {
		return st
	}
	switch {
	case errors.Is(err, ErrTimeoutErr):
		return ErrTimeout
	case errors.Is(err, ErrConnectionLostErr):
		return ErrConnectionLost
	case errors.Is(err, ErrResourceNotFoundErr):
		return ErrResourceNotFound
	case errors.Is(err, ErrInvalidResourceNameErr):
		return ErrInvalidResourceName
	case errors.Is(err, ErrUnsupportedOperationErr):
		return ErrUnsupportedOperation
	case errors.Is(err, ErrIOErr):
		return ErrIO
	case errors.Is(err, ErrAllocErr):
		return ErrAlloc
	case errors.Is(err, ErrInvalidObjectErr):
		return ErrInvalidObject
	default:
		return ErrSystemError
	}
}
