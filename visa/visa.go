// Package visa is the public API: a VISA-style resource manager and
// session abstraction over the VXI-11, HiSLIP, USBTMC, raw-socket, serial,
// and GPIB transports, grounded on original_source/include/visa.h's
// function surface (viOpenDefaultRM, viOpen, viFindRsrc, viRead/viWrite,
// viReadSTB, viClear, viGetAttribute/viSetAttribute, viClose).
package visa

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/openvisa/internal/discovery"
	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/metrics"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/session"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// ResourceManager is the root handle: only a ResourceManager can Open a
// Session or FindResources, matching the source's requirement that
// viOpenDefaultRM precede every other call.
type ResourceManager struct {
	mgr    *session.Manager
	rmSess *session.Session
	logger logging.Logger
}

// OpenDefaultRM allocates the resource-manager session, the entry point
// every VISA program starts from.
func OpenDefaultRM() (*ResourceManager, error) {
	return OpenDefaultRMWithLogger(nil)
}

// OpenDefaultRMWithLogger is OpenDefaultRM with an explicit logger; a nil
// logger falls back to logging.Default().
func OpenDefaultRMWithLogger(logger logging.Logger) (*ResourceManager, error) {
	if logger == nil {
		logger = logging.Default()
	}
	mgr := session.NewManager(logger)
	rm := mgr.OpenDefaultRM()
	return &ResourceManager{mgr: mgr, rmSess: rm, logger: logger}, nil
}

// Close releases the resource manager. Open sessions are not implicitly
// closed; callers are expected to Close each Session themselves, matching
// viClose's per-object semantics.
func (rm *ResourceManager) Close() error {
	return rm.mgr.Close(rm.rmSess.Handle)
}

// Open parses rsrcName, builds the matching transport, and opens a Session,
// bounded by timeout (0 uses the default 2s).
func (rm *ResourceManager) Open(ctx context.Context, rsrcName string, timeout time.Duration) (*Session, error) {
	s, err := rm.mgr.Open(ctx, rsrcName, timeout)
	if err != nil {
		return nil, err
	}
	return &Session{s: s, mgr: rm.mgr}, nil
}

// FindResources searches network, USB, and serial instruments for names
// matching expr (a '*'/'?' glob, or "" to match everything), returning up
// to 128 resource strings.
func (rm *ResourceManager) FindResources(ctx context.Context, expr string) ([]string, error) {
	return discovery.FindResources(ctx, expr, rm.logger)
}

// ParseResource parses rsrcName without opening it, equivalent to
// viParseRsrcEx.
func ParseResource(rsrcName string) (resource.Descriptor, error) {
	return resource.Parse(rsrcName)
}

// Session is an open instrument connection.
type Session struct {
	s   *session.Session
	mgr *session.Manager
}

// Close releases the session's transport.
func (s *Session) Close() error {
	return s.mgr.Close(s.s.Handle)
}

// Write sends buf to the instrument, chunking/fragmenting internally as the
// underlying transport requires.
func (s *Session) Write(ctx context.Context, buf []byte) (int, error) {
	n, err := s.s.Transport.Write(ctx, buf)
	s.s.Metrics.RecordWrite(n, err)
	if err != nil {
		return n, Status(vistatus.FromError(err))
	}
	return n, nil
}

// Read fills buf, returning SuccessTermChar or SuccessMaxCount to indicate
// why the read stopped.
func (s *Session) Read(ctx context.Context, buf []byte) (int, Status, error) {
	n, outcome, err := s.s.Transport.Read(ctx, buf, s.s.Timeout)
	s.s.Metrics.RecordRead(n, err)
	if err != nil {
		return n, vistatus.FromError(err), err
	}
	switch outcome {
	case transport.ReadTermChar:
		return n, SuccessTermChar, nil
	case transport.ReadMaxCount:
		return n, SuccessMaxCount, nil
	default:
		return n, Success, nil
	}
}

// ReadSTB returns the instrument's IEEE-488 status byte.
func (s *Session) ReadSTB(ctx context.Context) (uint16, error) {
	stb, err := s.s.Transport.ReadSTB(ctx)
	if err != nil {
		return 0, Status(vistatus.FromError(err))
	}
	return stb, nil
}

// Clear issues a device-clear.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.s.Transport.Clear(ctx); err != nil {
		return Status(vistatus.FromError(err))
	}
	return nil
}

// Printf formats args per format and writes the result, matching viPrintf's
// scaled-down formatted-write convenience.
func (s *Session) Printf(ctx context.Context, format string, args ...any) error {
	_, err := s.Write(ctx, []byte(fmt.Sprintf(format, args...)))
	return err
}

// Query writes a command and reads the reply, trimming a trailing newline;
// the scoped-down equivalent of viQueryf.
func (s *Session) Query(ctx context.Context, cmd string) (string, error) {
	if err := s.Printf(ctx, "%s", cmd); err != nil {
		return "", err
	}
	buf := make([]byte, 4096)
	n, _, err := s.Read(ctx, buf)
	if err != nil {
		return "", err
	}
	resp := buf[:n]
	for len(resp) > 0 && (resp[len(resp)-1] == '\n' || resp[len(resp)-1] == '\r') {
		resp = resp[:len(resp)-1]
	}
	return string(resp), nil
}

// Attribute identifiers for Get/SetAttribute.
type Attribute int

const (
	AttrTimeout Attribute = iota
	AttrTermChar
	AttrTermCharEnable
	AttrSendEndEnable
	AttrResourceName
	AttrInterfaceType
	AttrInterfaceNumber
	AttrManufacturerName
	AttrImplementationVersion
)

// ManufacturerName is the fixed value reported for AttrManufacturerName.
const ManufacturerName = "OpenVISA"

// ImplementationVersion is the fixed value reported for
// AttrImplementationVersion.
const ImplementationVersion = uint32(0x00010000)

// GetAttribute reads a session attribute.
func (s *Session) GetAttribute(attr Attribute) (any, error) {
	switch attr {
	case AttrTimeout:
		return s.s.Timeout, nil
	case AttrTermChar:
		return s.s.TermChar, nil
	case AttrTermCharEnable:
		return s.s.TermCharEnable, nil
	case AttrSendEndEnable:
		return s.s.SendEndEnable, nil
	case AttrResourceName:
		return s.s.Resource.Raw, nil
	case AttrInterfaceType:
		return s.s.Resource.Interface.String(), nil
	case AttrInterfaceNumber:
		return s.s.Resource.Board, nil
	case AttrManufacturerName:
		return ManufacturerName, nil
	case AttrImplementationVersion:
		return ImplementationVersion, nil
	default:
		return nil, Status(ErrUnsupportedAttr)
	}
}

// SetAttribute writes a session attribute; read-only attributes (resource
// name, interface type/number, manufacturer, implementation version) return
// ErrUnsupportedAttr.
func (s *Session) SetAttribute(attr Attribute, value any) error {
	switch attr {
	case AttrTimeout:
		v, ok := value.(time.Duration)
		if !ok {
			return Status(ErrInvalidFormat)
		}
		s.s.Timeout = v
	case AttrTermChar:
		v, ok := value.(byte)
		if !ok {
			return Status(ErrInvalidFormat)
		}
		s.s.TermChar = v
	case AttrTermCharEnable:
		v, ok := value.(bool)
		if !ok {
			return Status(ErrInvalidFormat)
		}
		s.s.TermCharEnable = v
	case AttrSendEndEnable:
		v, ok := value.(bool)
		if !ok {
			return Status(ErrInvalidFormat)
		}
		s.s.SendEndEnable = v
	default:
		return Status(ErrUnsupportedAttr)
	}
	return nil
}

// Lock and Unlock are no-op stubs: the distilled spec scopes exclusive
// locking out, but the method surface is kept so callers written against a
// full VISA API still compile against a single-access-at-a-time session.
func (s *Session) Lock() error   { return nil }
func (s *Session) Unlock() error { return nil }

// Metrics returns a snapshot of this session's transfer counters.
func (s *Session) Metrics() metrics.Snapshot {
	return s.s.Metrics.Snapshot()
}
