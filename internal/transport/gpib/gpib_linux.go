//go:build linux

// Package gpib implements the GPIB transport by loading a linux-gpib
// compatible shared library at runtime, grounded on
// original_source/src/transport/gpib.c's dlopen/dlsym-based function-pointer
// table. Go has no portable dlopen in the standard library; the nearest
// primitive is the plugin package, which on Linux loads an arbitrary
// shared object and resolves symbols by name exactly like dlopen/dlsym.
// If no linux-gpib shared library (or no compatible Go plugin wrapping it)
// is present, every operation degrades to ErrUnsupportedOperation, mirroring
// the source's behavior when gpib_load_lib fails.
package gpib

import (
	"context"
	"fmt"
	"plugin"
	"sync"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// candidateLibs mirrors gpib_load_lib's search list.
var candidateLibs = []string{
	"/usr/lib/libgpib.so",
	"/usr/lib/libgpib.so.0",
	"/usr/local/lib/libgpib.so",
}

type libHandle struct {
	ibdev  func(board, pad, sad, tmo, eot, eos int) int
	ibwrt  func(ud int, buf []byte) int
	ibrd   func(ud int, buf []byte) int
	ibrsp  func(ud int) (int, byte)
	ibclr  func(ud int) int
	ibonl  func(ud, v int) int
}

var (
	loadOnce sync.Once
	lib      *libHandle
)

func loadLib() *libHandle {
	loadOnce.Do(func() {
		for _, path := range candidateLibs {
			p, err := plugin.Open(path)
			if err != nil {
				continue
			}
			h, err := resolveSymbols(p)
			if err != nil {
				continue
			}
			lib = h
			return
		}
	})
	return lib
}

// resolveSymbols looks up the ibdev/ibwrt/ibrd/ibrsp/ibclr/ibonl entry
// points by name, matching the source's dlsym lookups.
func resolveSymbols(p *plugin.Plugin) (*libHandle, error) {
	ibdevSym, err := p.Lookup("ibdev")
	if err != nil {
		return nil, err
	}
	ibwrtSym, err := p.Lookup("ibwrt")
	if err != nil {
		return nil, err
	}
	ibrdSym, err := p.Lookup("ibrd")
	if err != nil {
		return nil, err
	}
	ibrspSym, err := p.Lookup("ibrsp")
	if err != nil {
		return nil, err
	}
	ibclrSym, err := p.Lookup("ibclr")
	if err != nil {
		return nil, err
	}
	ibonlSym, err := p.Lookup("ibonl")
	if err != nil {
		return nil, err
	}

	h := &libHandle{}
	var ok bool
	if h.ibdev, ok = ibdevSym.(func(int, int, int, int, int, int) int); !ok {
		return nil, fmt.Errorf("gpib: ibdev has unexpected signature")
	}
	if h.ibwrt, ok = ibwrtSym.(func(int, []byte) int); !ok {
		return nil, fmt.Errorf("gpib: ibwrt has unexpected signature")
	}
	if h.ibrd, ok = ibrdSym.(func(int, []byte) int); !ok {
		return nil, fmt.Errorf("gpib: ibrd has unexpected signature")
	}
	if h.ibrsp, ok = ibrspSym.(func(int) (int, byte)); !ok {
		return nil, fmt.Errorf("gpib: ibrsp has unexpected signature")
	}
	if h.ibclr, ok = ibclrSym.(func(int) int); !ok {
		return nil, fmt.Errorf("gpib: ibclr has unexpected signature")
	}
	if h.ibonl, ok = ibonlSym.(func(int, int) int); !ok {
		return nil, fmt.Errorf("gpib: ibonl has unexpected signature")
	}
	return h, nil
}

// msToTmo maps a millisecond timeout to linux-gpib's logarithmic TMO bucket
// values (T1000ms=11 ... T1000s=17), per the source's ms_to_tmo.
func msToTmo(ms int) int {
	switch {
	case ms <= 0:
		return 0 // TNONE: infinite
	case ms <= 1:
		return 5
	case ms <= 3:
		return 6
	case ms <= 10:
		return 7
	case ms <= 30:
		return 8
	case ms <= 100:
		return 9
	case ms <= 300:
		return 10
	case ms <= 1000:
		return 11
	case ms <= 3000:
		return 12
	case ms <= 10000:
		return 13
	case ms <= 30000:
		return 14
	case ms <= 100000:
		return 15
	case ms <= 300000:
		return 16
	default:
		return 17
	}
}

// Transport drives a GPIB instrument through a dynamically loaded
// linux-gpib-compatible shared library.
type Transport struct {
	Logger logging.Logger

	ud int
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) log() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default()
}

// Open calls ibdev with the descriptor's board/primary/secondary address.
// If no compatible shared library was found, Open returns
// ErrUnsupportedOperation, matching the source's behavior when
// gpib_load_lib fails.
func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	h := loadLib()
	if h == nil {
		return vistatus.ErrUnsupportedOperationErr
	}
	sad := d.SecondaryAddr
	if sad < 0 {
		sad = 0
	}
	ud := h.ibdev(d.Board, d.PrimaryAddr, sad, msToTmo(int(timeout.Milliseconds())), 1, 0xC0)
	if ud < 0 {
		return fmt.Errorf("gpib: ibdev failed: %w", vistatus.ErrResourceNotFoundErr)
	}
	t.ud = ud
	t.log().Debug("gpib: opened", logging.Field{Key: "pad", Value: d.PrimaryAddr})
	return nil
}

// Close calls ibonl(ud, 0) to release the descriptor.
func (t *Transport) Close() error {
	h := loadLib()
	if h == nil {
		return nil
	}
	h.ibonl(t.ud, 0)
	return nil
}

// Write calls ibwrt with buf.
func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	h := loadLib()
	if h == nil {
		return 0, vistatus.ErrUnsupportedOperationErr
	}
	status := h.ibwrt(t.ud, buf)
	if status < 0 {
		return 0, fmt.Errorf("gpib: ibwrt failed: %w", vistatus.ErrIOErr)
	}
	return len(buf), nil
}

// Read calls ibrd into buf.
func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	h := loadLib()
	if h == nil {
		return 0, transport.ReadNormal, vistatus.ErrUnsupportedOperationErr
	}
	status := h.ibrd(t.ud, buf)
	if status < 0 {
		return 0, transport.ReadNormal, fmt.Errorf("gpib: ibrd failed: %w", vistatus.ErrTimeoutErr)
	}
	return len(buf), transport.ReadTermChar, nil
}

// ReadSTB calls ibrsp.
func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	h := loadLib()
	if h == nil {
		return 0, vistatus.ErrUnsupportedOperationErr
	}
	status, spr := h.ibrsp(t.ud)
	if status < 0 {
		return 0, fmt.Errorf("gpib: ibrsp failed: %w", vistatus.ErrIOErr)
	}
	return uint16(spr), nil
}

// Clear calls ibclr.
func (t *Transport) Clear(ctx context.Context) error {
	h := loadLib()
	if h == nil {
		return vistatus.ErrUnsupportedOperationErr
	}
	if status := h.ibclr(t.ud); status < 0 {
		return fmt.Errorf("gpib: ibclr failed: %w", vistatus.ErrIOErr)
	}
	return nil
}

