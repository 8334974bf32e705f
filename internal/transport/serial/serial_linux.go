//go:build linux

// Package serial implements the ASRL transport over a local serial port,
// grounded on original_source/src/transport/serial.c's POSIX termios path,
// built on github.com/daedaluz/goserial rather than hand-rolled ioctls.
package serial

import (
	"context"
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// Defaults mirror the source's factory: 9600 8N1, no flow control.
const (
	DefaultBaud     = goserial.B9600
	DefaultDataBits = 8
	DefaultStopBits = 1
)

// Transport drives a local TTY device in raw mode.
type Transport struct {
	Logger logging.Logger

	port *goserial.Port
}

var _ transport.Transport = (*Transport)(nil)

// Open resolves the platform device path from the descriptor and opens it
// in raw 9600 8N1 mode.
func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	path := devicePath(d)

	opts := goserial.NewOptions()
	opts.SetReadTimeout(0)

	p, err := goserial.Open(path, opts)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", path, vistatus.ErrResourceNotFoundErr)
	}

	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return fmt.Errorf("serial: get attrs: %w", vistatus.ErrIOErr)
	}
	attrs.MakeRaw()
	attrs.SetSpeed(DefaultBaud)
	if err := p.SetAttr(goserial.TCSANOW, attrs); err != nil {
		p.Close()
		return fmt.Errorf("serial: set attrs: %w", vistatus.ErrIOErr)
	}

	t.port = p
	t.log().Debug("serial: opened", logging.Field{Key: "path", Value: path})
	return nil
}

func (t *Transport) log() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default()
}

// devicePath resolves the descriptor's ComPort/DevPath into a Linux TTY
// path, per §4.7's serial_build_path (Linux branch: /dev/ttyS{n-1}).
func devicePath(d resource.Descriptor) string {
	if d.DevPath != "" {
		return d.DevPath
	}
	n := d.ComPort - 1
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("/dev/ttyS%d", n)
}

// Close closes the underlying file descriptor.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Write writes buf in a single call.
func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	if t.port == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	n, err := t.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("serial: write: %w", vistatus.ErrIOErr)
	}
	return n, nil
}

// Read reads once with a bounded timeout, reporting ReadTermChar when the
// final byte read is a newline.
func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	if t.port == nil {
		return 0, transport.ReadNormal, vistatus.ErrConnectionLostErr
	}
	n, err := t.port.ReadTimeout(buf, timeout)
	if err != nil {
		return n, transport.ReadNormal, fmt.Errorf("serial: read: %w", vistatus.ErrTimeoutErr)
	}
	if n == 0 {
		return 0, transport.ReadNormal, vistatus.ErrTimeoutErr
	}
	if buf[n-1] == '\n' {
		return n, transport.ReadTermChar, nil
	}
	return n, transport.ReadNormal, nil
}

// ReadSTB emulates the status byte via "*STB?\n", the SCPI assumption the
// source itself makes for serial instruments — reliable only against
// SCPI-speaking devices, not a general IEEE-488 status byte mechanism.
func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	if _, err := t.Write(ctx, []byte("*STB?\n")); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, _, err := t.Read(ctx, buf, 2*time.Second)
	if err != nil {
		return 0, err
	}
	var v uint16
	for _, c := range buf[:n] {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + uint16(c-'0')
	}
	return v, nil
}

// Clear sends "*CLS\n".
func (t *Transport) Clear(ctx context.Context) error {
	_, err := t.Write(ctx, []byte("*CLS\n"))
	return err
}
