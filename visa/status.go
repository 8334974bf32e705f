package visa

import "github.com/rjboer/openvisa/internal/vistatus"

// Status is a 32-bit tagged status code, re-exported from internal/vistatus.
// See vistatus.Status for the classification rules.
type Status = vistatus.Status

const (
	Success         = vistatus.Success
	SuccessTermChar = vistatus.SuccessTermChar
	SuccessMaxCount = vistatus.SuccessMaxCount

	ErrSystemError          = vistatus.ErrSystemError
	ErrInvalidObject        = vistatus.ErrInvalidObject
	ErrResourceLocked       = vistatus.ErrResourceLocked
	ErrInvalidExpr          = vistatus.ErrInvalidExpr
	ErrResourceNotFound     = vistatus.ErrResourceNotFound
	ErrInvalidResourceName  = vistatus.ErrInvalidResourceName
	ErrTimeout              = vistatus.ErrTimeout
	ErrIO                   = vistatus.ErrIO
	ErrConnectionLost       = vistatus.ErrConnectionLost
	ErrAlloc                = vistatus.ErrAlloc
	ErrUnsupportedAttr      = vistatus.ErrUnsupportedAttr
	ErrUnsupportedOperation = vistatus.ErrUnsupportedOperation
	ErrInvalidSetup         = vistatus.ErrInvalidSetup
	ErrInvalidFormat        = vistatus.ErrInvalidFormat
)

// StatusDescription returns a short human-readable description of s.
func StatusDescription(s Status) string { return vistatus.Description(s) }
