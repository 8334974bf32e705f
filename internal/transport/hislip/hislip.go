// Package hislip implements the HiSLIP transport for
// TCPIP::host::hislip0::INSTR resources: a synchronous channel plus an
// asynchronous channel over two TCP connections, grounded on
// original_source/src/transport/tcpip_hislip.c.
package hislip

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
)

// Message types, HiSLIP spec table 2.
const (
	msgInitialize            = 0
	msgInitializeResponse    = 1
	msgFatalError            = 2
	msgError                 = 3
	msgAsyncLock             = 4
	msgAsyncLockResponse     = 5
	msgData                  = 6
	msgDataEnd               = 7
	msgDeviceClearComplete   = 8
	msgDeviceClearAcknowledge = 9
	msgAsyncRemoteLocalControl = 10
	msgAsyncRemoteLocalResponse = 11
	msgTrigger               = 12
	msgInterrupted           = 13
	msgAsyncInterrupted      = 14 // never sent by this client
	msgAsyncMaximumMessageSize = 15
	msgAsyncMaximumMessageSizeResponse = 16
	msgAsyncInitialize       = 17
	msgAsyncInitializeResponse = 18
	msgAsyncDeviceClear      = 19
	msgAsyncServiceRequest   = 20
	msgAsyncStatusQuery      = 21
	msgAsyncStatusResponse   = 22
	msgAsyncDeviceClearAcknowledge = 23
	msgAsyncStatusChange     = 24
)

// DefaultMaxMessageSize is OV_BUF_SIZE: the source never implements
// AsyncMaximumMessageSize negotiation, so this fixed 64 KiB is always used.
const DefaultMaxMessageSize = 64 * 1024

const headerSize = 16

type header struct {
	msgType   byte
	ctrlCode  byte
	msgParam  uint32
	payloadLen uint64
}

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	buf[0] = 'H'
	buf[1] = 'S'
	buf[2] = h.msgType
	buf[3] = h.ctrlCode
	binary.BigEndian.PutUint32(buf[4:8], h.msgParam)
	binary.BigEndian.PutUint64(buf[8:16], h.payloadLen)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	if buf[0] != 'H' || buf[1] != 'S' {
		return header{}, fmt.Errorf("hislip: bad magic %q", buf[0:2])
	}
	return header{
		msgType:    buf[2],
		ctrlCode:   buf[3],
		msgParam:   binary.BigEndian.Uint32(buf[4:8]),
		payloadLen: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

// Transport is a HiSLIP client driving a sync and an async TCP channel.
type Transport struct {
	Logger logging.Logger

	sync  net.Conn
	async net.Conn

	sessionID  uint16
	msgID      uint32
	maxMsgSize uint64
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) log() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default()
}

// Open dials the sync channel, performs Initialize, dials the async channel
// using the returned session ID, and performs AsyncInitialize.
func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	port := d.Port
	if port == 0 {
		port = resource.PortHiSLIP
	}
	addr := net.JoinHostPort(d.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	syncConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("hislip: dial sync channel: %w", vistatus.ErrResourceNotFoundErr)
	}
	t.sync = syncConn
	if tc, ok := syncConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	subAddr := "hislip0"
	if d.DeviceName != "" {
		subAddr = d.DeviceName
	}

	if err := writeHeader(t.sync, header{msgType: msgInitialize, ctrlCode: 0, msgParam: 1 << 8, payloadLen: uint64(len(subAddr))}); err != nil {
		return t.failOpen(fmt.Errorf("hislip: send Initialize: %w", vistatus.ErrIOErr))
	}
	if _, err := t.sync.Write([]byte(subAddr)); err != nil {
		return t.failOpen(fmt.Errorf("hislip: send Initialize sub-address: %w", vistatus.ErrIOErr))
	}

	hdr, err := readHeader(t.sync)
	if err != nil || hdr.msgType != msgInitializeResponse {
		return t.failOpen(fmt.Errorf("hislip: InitializeResponse: %w", vistatus.ErrConnectionLostErr))
	}
	t.sessionID = uint16(hdr.msgParam & 0xFFFF)
	t.maxMsgSize = DefaultMaxMessageSize

	asyncConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return t.failOpen(fmt.Errorf("hislip: dial async channel: %w", vistatus.ErrConnectionLostErr))
	}
	t.async = asyncConn
	if tc, ok := asyncConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if err := writeHeader(t.async, header{msgType: msgAsyncInitialize, msgParam: uint32(t.sessionID), payloadLen: 0}); err != nil {
		return t.failOpen(fmt.Errorf("hislip: send AsyncInitialize: %w", vistatus.ErrIOErr))
	}
	ahdr, err := readHeader(t.async)
	if err != nil || ahdr.msgType != msgAsyncInitializeResponse {
		return t.failOpen(fmt.Errorf("hislip: AsyncInitializeResponse: %w", vistatus.ErrConnectionLostErr))
	}

	t.msgID = 0
	t.log().Debug("hislip: session established", logging.Field{Key: "sessionID", Value: t.sessionID})
	return nil
}

func (t *Transport) failOpen(err error) error {
	if t.sync != nil {
		t.sync.Close()
		t.sync = nil
	}
	if t.async != nil {
		t.async.Close()
		t.async = nil
	}
	return err
}

// Close closes both channels.
func (t *Transport) Close() error {
	var firstErr error
	if t.sync != nil {
		if err := t.sync.Close(); err != nil {
			firstErr = err
		}
		t.sync = nil
	}
	if t.async != nil {
		if err := t.async.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.async = nil
	}
	return firstErr
}

// Write fragments buf into Data/DataEnd messages no larger than maxMsgSize,
// incrementing the always-even message_id by 2 per message.
func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	if t.sync == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	chunk := int(t.maxMsgSize)
	if chunk <= 0 {
		chunk = DefaultMaxMessageSize
	}

	total := 0
	for total < len(buf) || len(buf) == 0 {
		end := total + chunk
		last := end >= len(buf)
		if last {
			end = len(buf)
		}

		msgType := byte(msgData)
		if last {
			msgType = msgDataEnd
		}

		if dl, ok := ctx.Deadline(); ok {
			t.sync.SetWriteDeadline(dl)
		}
		if err := writeHeader(t.sync, header{msgType: msgType, msgParam: t.msgID, payloadLen: uint64(end - total)}); err != nil {
			return total, fmt.Errorf("hislip: write header: %w", vistatus.ErrIOErr)
		}
		if end > total {
			if _, err := t.sync.Write(buf[total:end]); err != nil {
				return total, fmt.Errorf("hislip: write payload: %w", vistatus.ErrIOErr)
			}
		}
		t.msgID += 2
		total = end
		if last {
			break
		}
	}
	return total, nil
}

// Read fills buf from successive Data/DataEnd messages, skipping any
// interleaved Trigger/Interrupted notifications.
func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	if t.sync == nil {
		return 0, transport.ReadNormal, vistatus.ErrConnectionLostErr
	}
	if timeout > 0 {
		t.sync.SetReadDeadline(time.Now().Add(timeout))
	} else if dl, ok := ctx.Deadline(); ok {
		t.sync.SetReadDeadline(dl)
	}
	defer t.sync.SetReadDeadline(time.Time{})

	total := 0
	for {
		hdr, err := readHeader(t.sync)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return total, transport.ReadNormal, vistatus.ErrTimeoutErr
			}
			return total, transport.ReadNormal, fmt.Errorf("hislip: read header: %w", vistatus.ErrConnectionLostErr)
		}

		switch hdr.msgType {
		case msgTrigger, msgInterrupted:
			if _, err := io.CopyN(io.Discard, t.sync, int64(hdr.payloadLen)); err != nil {
				return total, transport.ReadNormal, fmt.Errorf("hislip: discard notification payload: %w", vistatus.ErrIOErr)
			}
			continue
		case msgData, msgDataEnd:
			n := int(hdr.payloadLen)
			room := len(buf) - total
			take := n
			if take > room {
				take = room
			}
			if take > 0 {
				if _, err := io.ReadFull(t.sync, buf[total:total+take]); err != nil {
					return total, transport.ReadNormal, fmt.Errorf("hislip: read payload: %w", vistatus.ErrIOErr)
				}
				total += take
			}
			if n > take {
				if _, err := io.CopyN(io.Discard, t.sync, int64(n-take)); err != nil {
					return total, transport.ReadNormal, fmt.Errorf("hislip: discard overflow payload: %w", vistatus.ErrIOErr)
				}
				return total, transport.ReadMaxCount, nil
			}
			if hdr.msgType == msgDataEnd {
				return total, transport.ReadTermChar, nil
			}
			if total >= len(buf) {
				return total, transport.ReadMaxCount, nil
			}
		default:
			if _, err := io.CopyN(io.Discard, t.sync, int64(hdr.payloadLen)); err != nil {
				return total, transport.ReadNormal, fmt.Errorf("hislip: discard unexpected message: %w", vistatus.ErrIOErr)
			}
		}
	}
}

// ReadSTB issues AsyncStatusQuery on the async channel and returns the
// control_code byte of the response as the status byte.
func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	if t.async == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	if dl, ok := ctx.Deadline(); ok {
		t.async.SetDeadline(dl)
	} else {
		t.async.SetDeadline(time.Now().Add(5 * time.Second))
	}
	defer t.async.SetDeadline(time.Time{})

	if err := writeHeader(t.async, header{msgType: msgAsyncStatusQuery, msgParam: t.msgID}); err != nil {
		return 0, fmt.Errorf("hislip: send AsyncStatusQuery: %w", vistatus.ErrIOErr)
	}
	hdr, err := readHeader(t.async)
	if err != nil || hdr.msgType != msgAsyncStatusResponse {
		return 0, fmt.Errorf("hislip: AsyncStatusResponse: %w", vistatus.ErrTimeoutErr)
	}
	return uint16(hdr.ctrlCode), nil
}

// Clear performs the four-step HiSLIP device-clear handshake: send
// AsyncDeviceClear, wait for AsyncDeviceClearAcknowledge, wait for
// DeviceClearComplete on the sync channel (capturing its feature-flags
// control code), then echo those feature flags back as
// DeviceClearAcknowledge on the sync channel to finish, resetting
// message_id to 0.
func (t *Transport) Clear(ctx context.Context) error {
	if t.async == nil || t.sync == nil {
		return vistatus.ErrConnectionLostErr
	}

	if err := writeHeader(t.async, header{msgType: msgAsyncDeviceClear}); err != nil {
		return fmt.Errorf("hislip: send AsyncDeviceClear: %w", vistatus.ErrIOErr)
	}
	if hdr, err := readHeader(t.async); err != nil || hdr.msgType != msgAsyncDeviceClearAcknowledge {
		return fmt.Errorf("hislip: AsyncDeviceClearAcknowledge: %w", vistatus.ErrTimeoutErr)
	}

	hdr, err := readHeader(t.sync)
	if err != nil || hdr.msgType != msgDeviceClearComplete {
		return fmt.Errorf("hislip: DeviceClearComplete: %w", vistatus.ErrTimeoutErr)
	}
	featureFlags := hdr.ctrlCode

	if err := writeHeader(t.sync, header{msgType: msgDeviceClearAcknowledge, ctrlCode: featureFlags}); err != nil {
		return fmt.Errorf("hislip: send DeviceClearAcknowledge: %w", vistatus.ErrIOErr)
	}

	t.msgID = 0
	return nil
}
