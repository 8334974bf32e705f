// Package tcpraw implements the raw-socket transport for
// TCPIP::host::port::SOCKET resources: a plain newline-delimited TCP byte
// pipe, grounded on original_source/src/transport/tcpip_raw.c and on the
// connect/deadline idioms used elsewhere in this module's connection
// management.
package tcpraw

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// DefaultPort is used when the resource string omits one in SOCKET mode.
const DefaultPort = resource.PortRawSock

// Transport is a raw TCP byte-pipe transport.
type Transport struct {
	Logger logging.Logger

	conn net.Conn
}

var _ transport.Transport = (*Transport)(nil)

// Open dials host:port with TCP_NODELAY enabled and a bounded connect
// timeout, per §4.6.
func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("tcpraw: dial %s:%d: %w", d.Host, port, vistatus.ErrResourceNotFoundErr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	t.conn = conn
	t.log().Debug("tcpraw: opened", logging.Field{Key: "host", Value: d.Host}, logging.Field{Key: "port", Value: port})
	return nil
}

func (t *Transport) log() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default()
}

// Close closes the TCP connection.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Write sends buf in a single send call.
func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	if t.conn == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	n, err := t.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("tcpraw: write: %w", vistatus.ErrIOErr)
	}
	return n, nil
}

// Read sets the socket's receive timeout per call and reads once, reporting
// ReadTermChar when the final byte of the returned buffer is '\n'.
func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	if t.conn == nil {
		return 0, transport.ReadNormal, vistatus.ErrConnectionLostErr
	}
	if timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
	} else if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	defer t.conn.SetReadDeadline(time.Time{})

	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, transport.ReadNormal, vistatus.ErrTimeoutErr
		}
		return n, transport.ReadNormal, fmt.Errorf("tcpraw: read: %w", vistatus.ErrConnectionLostErr)
	}
	if n == 0 {
		return 0, transport.ReadNormal, vistatus.ErrConnectionLostErr
	}
	if buf[n-1] == '\n' {
		return n, transport.ReadTermChar, nil
	}
	return n, transport.ReadNormal, nil
}

// ReadSTB emulates the status byte by sending "*STB?\n" and parsing the
// ASCII reply, matching §4.6's SCPI assumption for byte-pipe transports.
func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	if _, err := t.Write(ctx, []byte("*STB?\n")); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, _, err := t.Read(ctx, buf, 5*time.Second)
	if err != nil {
		return 0, err
	}
	return parseSTB(buf[:n]), nil
}

func parseSTB(b []byte) uint16 {
	var v uint16
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + uint16(c-'0')
	}
	return v
}

// Clear sends "*CLS\n", per §4.6.
func (t *Transport) Clear(ctx context.Context) error {
	_, err := t.Write(ctx, []byte("*CLS\n"))
	return err
}
