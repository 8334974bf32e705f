// Package session implements the VISA session/find-list arena and the
// resource-aware transport factory, grounded on
// original_source/src/core/session.c (OvState's fixed 256-session /
// 32-findlist arenas) and original_source/src/transport/transport.c
// (ov_transport_create_for_rsrc's dispatch rules).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/metrics"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/transport/gpib"
	"github.com/rjboer/openvisa/internal/transport/hislip"
	"github.com/rjboer/openvisa/internal/transport/serial"
	"github.com/rjboer/openvisa/internal/transport/tcpraw"
	"github.com/rjboer/openvisa/internal/transport/usbtmc"
	"github.com/rjboer/openvisa/internal/transport/vxi11"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// MaxSessions and MaxFindLists mirror OvState's fixed arena sizes.
const (
	MaxSessions  = 256
	MaxFindLists = 32
)

// Default session attribute values, per §4.10.
const (
	DefaultTimeout        = 2000 * time.Millisecond
	DefaultTermChar       = '\n'
	DefaultTermCharEnable = false
	DefaultSendEndEnable  = true
)

// Session holds one open VISA session's transport and I/O attributes.
type Session struct {
	Handle     uint32
	Resource   resource.Descriptor
	Transport  transport.Transport
	IsRM       bool

	Timeout        time.Duration
	TermChar       byte
	TermCharEnable bool
	SendEndEnable  bool

	Metrics metrics.SessionMetrics
}

// FindList holds the result of one FindResources call, consumed
// incrementally by FindNext-equivalent calls.
type FindList struct {
	Handle  uint32
	Results []string
	Next    int
}

// Manager owns the session and find-list arenas. A single mutex protects
// arena bookkeeping (alloc/free/lookup) only — it is never held across a
// transport I/O call, so concurrent Open calls from multiple goroutines do
// not serialize on in-flight reads/writes. This resolves the distilled
// spec's open question about cross-goroutine arena synchronization.
type Manager struct {
	Logger logging.Logger

	mu        sync.Mutex
	sessions  map[uint32]*Session
	findLists map[uint32]*FindList
	nextHandle uint32
}

// NewManager constructs an empty Manager.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		Logger:    logger,
		sessions:  make(map[uint32]*Session),
		findLists: make(map[uint32]*FindList),
	}
}

func (m *Manager) allocHandle() uint32 {
	m.nextHandle++
	return m.nextHandle
}

// Open parses rsrcName, builds the matching transport, opens it, and
// allocates a Session. Returns ErrAlloc if the session arena is full.
func (m *Manager) Open(ctx context.Context, rsrcName string, timeout time.Duration) (*Session, error) {
	d, err := resource.Parse(rsrcName)
	if err != nil {
		return nil, fmt.Errorf("session: %w", vistatus.ErrInvalidResourceNameErr)
	}

	m.mu.Lock()
	if len(m.sessions) >= MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: arena full: %w", vistatus.ErrAllocErr)
	}
	handle := m.allocHandle()
	m.mu.Unlock()

	tr, err := newTransportForResource(d)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := tr.Open(ctx, d, timeout); err != nil {
		return nil, fmt.Errorf("session: open transport: %w", err)
	}

	s := &Session{
		Handle:         handle,
		Resource:       d,
		Transport:      tr,
		Timeout:        DefaultTimeout,
		TermChar:       DefaultTermChar,
		TermCharEnable: DefaultTermCharEnable,
		SendEndEnable:  DefaultSendEndEnable,
	}

	m.mu.Lock()
	m.sessions[handle] = s
	m.mu.Unlock()

	m.Logger.Debug("session: opened", logging.Field{Key: "handle", Value: handle}, logging.Field{Key: "resource", Value: rsrcName})
	return s, nil
}

// OpenDefaultRM allocates a resource-manager-only session: one that has no
// transport and exists purely to authorize subsequent Open/FindResources
// calls, matching viOpenDefaultRM's role in the original API.
func (m *Manager) OpenDefaultRM() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := m.allocHandle()
	s := &Session{Handle: handle, IsRM: true}
	m.sessions[handle] = s
	return s
}

// Find looks up an open session by handle.
func (m *Manager) Find(handle uint32) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	return s, ok
}

// Close releases a session's transport and removes it from the arena.
func (m *Manager) Close(handle uint32) error {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	delete(m.sessions, handle)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: %w", vistatus.ErrInvalidObjectErr)
	}
	if s.Transport == nil {
		return nil
	}
	return s.Transport.Close()
}

// AllocFindList stores results under a new handle, enforcing the
// 32-find-list arena cap.
func (m *Manager) AllocFindList(results []string) (*FindList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.findLists) >= MaxFindLists {
		return nil, fmt.Errorf("session: find-list arena full: %w", vistatus.ErrAllocErr)
	}
	handle := m.allocHandle()
	fl := &FindList{Handle: handle, Results: results}
	m.findLists[handle] = fl
	return fl, nil
}

// FreeFindList removes a find list from the arena.
func (m *Manager) FreeFindList(handle uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.findLists, handle)
}

// newTransportForResource dispatches on the descriptor exactly as
// ov_transport_create_for_rsrc does: HiSLIP and raw-socket flags take
// precedence over the base TCPIP interface type, which otherwise defaults
// to VXI-11.
func newTransportForResource(d resource.Descriptor) (transport.Transport, error) {
	switch d.Interface {
	case resource.TCPIP:
		switch {
		case d.IsHiSLIP:
			return &hislip.Transport{}, nil
		case d.IsSocket:
			return &tcpraw.Transport{}, nil
		default:
			return &vxi11.Transport{}, nil
		}
	case resource.USB:
		return &usbtmc.Transport{}, nil
	case resource.ASRL:
		return &serial.Transport{}, nil
	case resource.GPIB:
		return &gpib.Transport{}, nil
	default:
		return nil, fmt.Errorf("session: %w", vistatus.ErrInvalidResourceNameErr)
	}
}
