package vxi11

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rjboer/openvisa/internal/resource"
	"github.com/rjboer/openvisa/internal/xdr"
)

// fakeCoreServer is a minimal VXI-11 Core server: it accepts create_link,
// echoes whatever device_write sends back on the next device_read (with
// the END reason bit set), and acknowledges destroy_link. It exists purely
// to exercise Transport's RPC call/reply framing end-to-end over a real
// TCP loopback connection, not to be a faithful instrument simulator.
type fakeCoreServer struct {
	ln      net.Listener
	pending []byte
}

func startFakeCoreServer(t *testing.T) *fakeCoreServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeCoreServer{ln: ln}
	go s.serve()
	return s
}

func (s *fakeCoreServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeCoreServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		rec, err := xdr.ReadRecord(conn)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(rec)
		xid, _ := d.GetU32()
		d.Skip(4) // msgtype=CALL
		d.Skip(4) // rpcvers
		d.Skip(4) // program
		d.Skip(4) // version
		proc, _ := d.GetU32()
		d.Skip(4) // cred flavor
		d.GetOpaque() // cred body
		d.Skip(4) // verf flavor
		d.GetOpaque() // verf body

		var results []byte
		switch proc {
		case procCreateLink:
			enc := xdr.NewEncoder(16)
			enc.PutI32(0)
			enc.PutI32(1)
			enc.PutU32(0)
			enc.PutU32(4096)
			results = enc.Bytes()
		case procDeviceWrite:
			d.GetI32()                    // linkID
			d.Skip(4)                     // io_timeout
			d.Skip(4)                     // lock_timeout
			d.Skip(4)                     // flags
			data, _ := d.GetOpaque()
			s.pending = data
			enc := xdr.NewEncoder(8)
			enc.PutI32(0)
			enc.PutU32(uint32(len(data)))
			results = enc.Bytes()
		case procDeviceRead:
			enc := xdr.NewEncoder(16 + len(s.pending))
			enc.PutI32(0)
			enc.PutU32(reasonEnd)
			enc.PutOpaque(s.pending)
			results = enc.Bytes()
			s.pending = nil
		case procDestroyLink:
			enc := xdr.NewEncoder(4)
			enc.PutI32(0)
			results = enc.Bytes()
		default:
			enc := xdr.NewEncoder(4)
			enc.PutI32(0)
			results = enc.Bytes()
		}

		reply := xdr.NewEncoder(24 + len(results))
		reply.PutU32(xid)
		reply.PutU32(1) // REPLY
		reply.PutU32(0) // MSG_ACCEPTED
		reply.PutU32(0) // verifier flavor
		reply.PutOpaque(nil)
		reply.PutU32(0) // SUCCESS
		reply.PutRaw(results)
		if err := xdr.WriteRecord(conn, reply.Bytes()); err != nil {
			return
		}
	}
}

func startFakePortmapper(t *testing.T, corePort int) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:111")
	if err != nil {
		t.Skipf("cannot bind portmapper port 111 in this environment: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rec, err := xdr.ReadRecord(conn)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(rec)
		xid, _ := d.GetU32()

		enc := xdr.NewEncoder(4)
		enc.PutU32(uint32(corePort))
		reply := xdr.NewEncoder(24 + len(enc.Bytes()))
		reply.PutU32(xid)
		reply.PutU32(1)
		reply.PutU32(0)
		reply.PutU32(0)
		reply.PutOpaque(nil)
		reply.PutU32(0)
		reply.PutRaw(enc.Bytes())
		xdr.WriteRecord(conn, reply.Bytes())
	}()
	return ln
}

// TestTransportRoundTrip requires binding the well-known portmapper port
// (111), which is only possible in an environment that grants that
// privilege; it's skipped otherwise rather than failing spuriously.
func TestTransportRoundTrip(t *testing.T) {
	core := startFakeCoreServer(t)
	defer core.ln.Close()

	pmap := startFakePortmapper(t, core.port())
	defer pmap.Close()

	tr := &Transport{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	d := resource.Descriptor{Interface: resource.TCPIP, Host: "127.0.0.1", DeviceName: "inst0"}
	if err := tr.Open(ctx, d, time.Second); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Write(ctx, []byte("*IDN?\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := tr.Read(ctx, buf, time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "*IDN?\n" {
		t.Fatalf("Read = %q, want echoed write", buf[:n])
	}
}
