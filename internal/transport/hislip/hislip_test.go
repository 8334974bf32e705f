package hislip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rjboer/openvisa/internal/resource"
)

// startFakeHiSLIPServer accepts exactly two connections (sync then async) on one
// listener and drives the Initialize/AsyncInitialize handshake, then
// echoes one Data/DataEnd write back on read.
func startFakeHiSLIPServer(t *testing.T) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		sync, err := ln.Accept()
		if err != nil {
			return
		}
		hdr, err := readHeader(sync)
		if err != nil || hdr.msgType != msgInitialize {
			sync.Close()
			return
		}
		subAddr := make([]byte, hdr.payloadLen)
		net.Conn(sync).Read(subAddr) //nolint:errcheck
		writeHeader(sync, header{msgType: msgInitializeResponse, msgParam: 1<<24 | 42})

		async, err := ln.Accept()
		if err != nil {
			return
		}
		ahdr, err := readHeader(async)
		if err != nil || ahdr.msgType != msgAsyncInitialize {
			async.Close()
			return
		}
		writeHeader(async, header{msgType: msgAsyncInitializeResponse})

		// Echo back the next Data/DataEnd message on the sync channel.
		dhdr, err := readHeader(sync)
		if err != nil {
			return
		}
		payload := make([]byte, dhdr.payloadLen)
		readFull(sync, payload)
		writeHeader(sync, header{msgType: msgDataEnd, msgParam: dhdr.msgParam, payloadLen: uint64(len(payload))})
		sync.Write(payload)
	}()

	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

func readFull(r net.Conn, buf []byte) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			return
		}
		total += n
	}
}

func TestTransportHandshakeAndEcho(t *testing.T) {
	port, stop := startFakeHiSLIPServer(t)
	defer stop()

	tr := &Transport{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	d := resource.Descriptor{Interface: resource.TCPIP, Host: "127.0.0.1", Port: port, IsHiSLIP: true, DeviceName: "hislip0"}
	if err := tr.Open(ctx, d, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if tr.sessionID != 42 {
		t.Fatalf("sessionID = %d, want 42", tr.sessionID)
	}

	if _, err := tr.Write(ctx, []byte("*IDN?\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := tr.Read(ctx, buf, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "*IDN?\n" {
		t.Fatalf("Read = %q", buf[:n])
	}
}

// startFakeHiSLIPServerWithClear behaves like startFakeHiSLIPServer but,
// after the handshake, drives the four-step device-clear dance instead of
// echoing a Data/DataEnd write: AsyncDeviceClear ->
// AsyncDeviceClearAcknowledge, DeviceClearComplete (carrying a feature-flags
// control code) -> DeviceClearAcknowledge.
func startFakeHiSLIPServerWithClear(t *testing.T, featureFlags byte) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		sync, err := ln.Accept()
		if err != nil {
			return
		}
		hdr, err := readHeader(sync)
		if err != nil || hdr.msgType != msgInitialize {
			sync.Close()
			return
		}
		subAddr := make([]byte, hdr.payloadLen)
		readFull(sync, subAddr)
		writeHeader(sync, header{msgType: msgInitializeResponse, msgParam: 1<<24 | 42})

		async, err := ln.Accept()
		if err != nil {
			return
		}
		ahdr, err := readHeader(async)
		if err != nil || ahdr.msgType != msgAsyncInitialize {
			async.Close()
			return
		}
		writeHeader(async, header{msgType: msgAsyncInitializeResponse})

		chdr, err := readHeader(async)
		if err != nil || chdr.msgType != msgAsyncDeviceClear {
			return
		}
		writeHeader(async, header{msgType: msgAsyncDeviceClearAcknowledge})

		writeHeader(sync, header{msgType: msgDeviceClearComplete, ctrlCode: featureFlags})

		ackHdr, err := readHeader(sync)
		if err != nil || ackHdr.msgType != msgDeviceClearAcknowledge || ackHdr.ctrlCode != featureFlags {
			return
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

func TestTransportClear(t *testing.T) {
	const featureFlags = 0x01
	port, stop := startFakeHiSLIPServerWithClear(t, featureFlags)
	defer stop()

	tr := &Transport{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	d := resource.Descriptor{Interface: resource.TCPIP, Host: "127.0.0.1", Port: port, IsHiSLIP: true, DeviceName: "hislip0"}
	if err := tr.Open(ctx, d, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	tr.msgID = 42
	if err := tr.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if tr.msgID != 0 {
		t.Fatalf("msgID = %d after Clear, want 0", tr.msgID)
	}
}
