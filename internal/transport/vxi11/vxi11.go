// Package vxi11 implements the VXI-11 Core transport used for
// TCPIP::host::inst0::INSTR resources: a portmapper lookup followed by the
// create_link/device_write/device_read/device_readstb/device_clear/
// destroy_link RPC procedures, grounded on
// original_source/src/transport/tcpip_vxi11.c.
package vxi11

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/openvisa/internal/logging"
	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/rpcframe"
	"github.com/rjboer/openvisa/internal/transport"
	"github.com/rjboer/openvisa/internal/vistatus"
	"github.com/rjboer/openvisa/internal/xdr"
)

// Portmapper program/procedure numbers (RFC 1057 Appendix A).
const (
	portmapProgram   = 100000
	portmapVersion   = 2
	portmapProcGet   = 3
	portmapPort      = 111
)

// VXI-11 Core program/version/procedure numbers.
const (
	coreProgram = 0x0607AF
	coreVersion = 1

	procCreateLink  = 10
	procDeviceWrite = 11
	procDeviceRead  = 12
	procDeviceReadSTB = 13
	procDeviceClear  = 15
	procDestroyLink  = 23
)

// Fixed timeouts, matching the source's hardcoded constants.
const (
	writeTimeoutMS   = 10000
	statClearTimeout = 5000 * time.Millisecond
	destroyLinkClose = 2000 * time.Millisecond
	defaultMaxRecv   = 65536

	// END flag on device_write, and the read-response reason bits.
	flagEND   = 0x08
	reasonEnd    = 0x04
	reasonChr    = 0x02
	reasonCnt    = 0x01
)

// Transport is a VXI-11 Core client over ONC-RPC/TCP.
type Transport struct {
	Logger logging.Logger

	conn       net.Conn
	linkID     int32
	abortPort  uint16
	maxRecv    uint32
	termChar   byte
}

var _ transport.Transport = (*Transport)(nil)

// Open resolves the VXI-11 Core port via the portmapper, connects, and
// issues create_link.
func (t *Transport) Open(ctx context.Context, d resource.Descriptor, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	corePort, err := resolveCorePort(ctx, d.Host, timeout)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", d.Host, corePort))
	if err != nil {
		return fmt.Errorf("vxi11: dial core port: %w", vistatus.ErrResourceNotFoundErr)
	}
	t.conn = conn

	devName := d.DeviceName
	if devName == "" {
		devName = "inst0"
	}

	enc := xdr.NewEncoder(32)
	enc.PutU32(0)           // clientId, unused
	enc.PutU32(0)           // lockDevice = false
	enc.PutU32(0)           // lock_timeout
	enc.PutOpaque([]byte(devName))

	reply, err := rpcframe.Invoke(conn, rpcframe.Call{
		Program: coreProgram, Version: coreVersion, Procedure: procCreateLink, Args: enc.Bytes(),
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("vxi11: create_link: %w", vistatus.ErrConnectionLostErr)
	}

	dec := xdr.NewDecoder(reply)
	errCode, err := dec.GetI32()
	if err != nil {
		conn.Close()
		return fmt.Errorf("vxi11: create_link reply truncated: %w", vistatus.ErrIOErr)
	}
	if errCode != 0 {
		conn.Close()
		return fmt.Errorf("vxi11: create_link returned error %d: %w", errCode, vistatus.ErrResourceNotFoundErr)
	}
	linkID, _ := dec.GetI32()
	abortPort, _ := dec.GetU32()
	maxRecv, _ := dec.GetU32()

	t.linkID = linkID
	t.abortPort = uint16(abortPort)
	if maxRecv == 0 {
		maxRecv = defaultMaxRecv
	}
	t.maxRecv = maxRecv
	t.termChar = '\n'

	t.log().Debug("vxi11: link created", logging.Field{Key: "linkID", Value: linkID}, logging.Field{Key: "device", Value: devName})
	return nil
}

func (t *Transport) log() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.Default()
}

// resolveCorePort asks the portmapper on host:111 which port serves the
// VXI-11 Core program, retrying once on a dropped connection per the
// domain stack's backoff policy.
func resolveCorePort(ctx context.Context, host string, timeout time.Duration) (uint16, error) {
	var port uint16
	op := func() error {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, portmapPort))
		if err != nil {
			return err
		}
		defer conn.Close()

		enc := xdr.NewEncoder(16)
		enc.PutU32(coreProgram)
		enc.PutU32(coreVersion)
		enc.PutU32(6) // IPPROTO_TCP
		enc.PutU32(0) // port, unused on request

		reply, err := rpcframe.Invoke(conn, rpcframe.Call{
			Program: portmapProgram, Version: portmapVersion, Procedure: portmapProcGet, Args: enc.Bytes(),
		})
		if err != nil {
			return err
		}
		p, err := xdr.NewDecoder(reply).GetU32()
		if err != nil {
			return err
		}
		if p == 0 {
			return fmt.Errorf("vxi11: portmapper has no VXI-11 Core registration")
		}
		port = uint16(p)
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return 0, fmt.Errorf("vxi11: portmapper GETPORT: %w", vistatus.ErrResourceNotFoundErr)
	}
	return port, nil
}

// Close issues destroy_link (bounded by a 2s timeout) and closes the socket.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	enc := xdr.NewEncoder(4)
	enc.PutI32(t.linkID)
	t.conn.SetDeadline(time.Now().Add(destroyLinkClose))
	_, _ = rpcframe.Invoke(t.conn, rpcframe.Call{
		Program: coreProgram, Version: coreVersion, Procedure: procDestroyLink, Args: enc.Bytes(),
	})
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Write sends buf via device_write, chunked to maxRecv, setting the END flag
// only on the final chunk.
func (t *Transport) Write(ctx context.Context, buf []byte) (int, error) {
	if t.conn == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	total := 0
	chunkSize := int(t.maxRecv)
	if chunkSize <= 0 {
		chunkSize = defaultMaxRecv
	}
	for total < len(buf) {
		end := total + chunkSize
		last := end >= len(buf)
		if last {
			end = len(buf)
		}
		flags := uint32(0)
		if last {
			flags = flagEND
		}

		enc := xdr.NewEncoder(32 + (end - total))
		enc.PutI32(t.linkID)
		enc.PutU32(writeTimeoutMS)
		enc.PutU32(writeTimeoutMS)
		enc.PutU32(flags)
		enc.PutOpaque(buf[total:end])

		if dl, ok := ctx.Deadline(); ok {
			t.conn.SetDeadline(dl)
		} else {
			t.conn.SetDeadline(time.Now().Add(writeTimeoutMS * time.Millisecond))
		}
		reply, err := rpcframe.Invoke(t.conn, rpcframe.Call{
			Program: coreProgram, Version: coreVersion, Procedure: procDeviceWrite, Args: enc.Bytes(),
		})
		if err != nil {
			return total, fmt.Errorf("vxi11: device_write: %w", vistatus.ErrIOErr)
		}
		dec := xdr.NewDecoder(reply)
		errCode, _ := dec.GetI32()
		if errCode != 0 {
			return total, fmt.Errorf("vxi11: device_write error %d: %w", errCode, vistatus.ErrIOErr)
		}
		size, _ := dec.GetU32()
		total += int(size)
	}
	return total, nil
}

// Read issues device_read calls into buf until END|CHR is seen or the
// request is satisfied, mapping the reason bits to a ReadOutcome.
func (t *Transport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, transport.ReadOutcome, error) {
	if t.conn == nil {
		return 0, transport.ReadNormal, vistatus.ErrConnectionLostErr
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	total := 0
	for total < len(buf) {
		requestSize := len(buf) - total
		enc := xdr.NewEncoder(32)
		enc.PutI32(t.linkID)
		enc.PutU32(uint32(requestSize))
		enc.PutU32(uint32(timeout.Milliseconds()))
		enc.PutU32(uint32(timeout.Milliseconds()))
		enc.PutU32(0) // flags: no termchar set requested
		enc.PutU32(uint32(t.termChar))

		if dl, ok := ctx.Deadline(); ok {
			t.conn.SetDeadline(dl)
		} else {
			t.conn.SetDeadline(time.Now().Add(timeout))
		}
		reply, err := rpcframe.Invoke(t.conn, rpcframe.Call{
			Program: coreProgram, Version: coreVersion, Procedure: procDeviceRead, Args: enc.Bytes(),
		})
		if err != nil {
			return total, transport.ReadNormal, fmt.Errorf("vxi11: device_read: %w", vistatus.ErrTimeoutErr)
		}
		dec := xdr.NewDecoder(reply)
		errCode, _ := dec.GetI32()
		if errCode != 0 {
			return total, transport.ReadNormal, fmt.Errorf("vxi11: device_read error %d: %w", errCode, vistatus.ErrIOErr)
		}
		reason, _ := dec.GetU32()
		data, err := dec.GetOpaque()
		if err != nil {
			return total, transport.ReadNormal, fmt.Errorf("vxi11: device_read opaque: %w", vistatus.ErrIOErr)
		}
		n := copy(buf[total:], data)
		total += n

		if reason&reasonEnd != 0 || reason&reasonChr != 0 {
			return total, transport.ReadTermChar, nil
		}
		if reason&reasonCnt != 0 || total >= len(buf) {
			return total, transport.ReadMaxCount, nil
		}
		if len(data) < requestSize {
			// The device returned fewer bytes than requested with no
			// reason bits set; stop rather than loop on the remainder.
			return total, transport.ReadMaxCount, nil
		}
	}
	return total, transport.ReadMaxCount, nil
}

// ReadSTB issues device_readstb with the fixed 5s io_timeout/lock_timeout=0
// the source uses.
func (t *Transport) ReadSTB(ctx context.Context) (uint16, error) {
	if t.conn == nil {
		return 0, vistatus.ErrConnectionLostErr
	}
	enc := xdr.NewEncoder(20)
	enc.PutI32(t.linkID)
	enc.PutU32(0) // flags
	enc.PutU32(uint32(statClearTimeout.Milliseconds()))
	enc.PutU32(0) // lock_timeout

	t.conn.SetDeadline(time.Now().Add(statClearTimeout + time.Second))
	reply, err := rpcframe.Invoke(t.conn, rpcframe.Call{
		Program: coreProgram, Version: coreVersion, Procedure: procDeviceReadSTB, Args: enc.Bytes(),
	})
	if err != nil {
		return 0, fmt.Errorf("vxi11: device_readstb: %w", vistatus.ErrTimeoutErr)
	}
	dec := xdr.NewDecoder(reply)
	errCode, _ := dec.GetI32()
	if errCode != 0 {
		return 0, fmt.Errorf("vxi11: device_readstb error %d: %w", errCode, vistatus.ErrIOErr)
	}
	stb, _ := dec.GetU32()
	return uint16(stb), nil
}

// Clear issues device_clear with the same fixed timeouts as ReadSTB.
func (t *Transport) Clear(ctx context.Context) error {
	if t.conn == nil {
		return vistatus.ErrConnectionLostErr
	}
	enc := xdr.NewEncoder(20)
	enc.PutI32(t.linkID)
	enc.PutU32(0)
	enc.PutU32(uint32(statClearTimeout.Milliseconds()))
	enc.PutU32(0)

	t.conn.SetDeadline(time.Now().Add(statClearTimeout + time.Second))
	reply, err := rpcframe.Invoke(t.conn, rpcframe.Call{
		Program: coreProgram, Version: coreVersion, Procedure: procDeviceClear, Args: enc.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("vxi11: device_clear: %w", vistatus.ErrTimeoutErr)
	}
	errCode, _ := xdr.NewDecoder(reply).GetI32()
	if errCode != 0 {
		return fmt.Errorf("vxi11: device_clear error %d: %w", errCode, vistatus.ErrIOErr)
	}
	return nil
}
