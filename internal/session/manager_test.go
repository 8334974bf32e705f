package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rjboer/openvisa/internal/vistatus"
)

func startAcceptAllServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestOpenCloseRawSocket(t *testing.T) {
	addr, stop := startAcceptAllServer(t)
	defer stop()
	host, port, _ := net.SplitHostPort(addr)

	m := NewManager(nil)
	rsrc := "TCPIP::" + host + "::" + port + "::SOCKET"
	s, err := m.Open(context.Background(), rsrc, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := m.Find(s.Handle); !ok {
		t.Fatal("session not found after Open")
	}
	if err := m.Close(s.Handle); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := m.Find(s.Handle); ok {
		t.Fatal("session still present after Close")
	}
}

func TestCloseUnknownHandle(t *testing.T) {
	m := NewManager(nil)
	err := m.Close(12345)
	if !errors.Is(err, vistatus.ErrInvalidObjectErr) {
		t.Fatalf("Close(unknown) = %v, want ErrInvalidObjectErr", err)
	}
}

func TestOpenInvalidResourceName(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Open(context.Background(), "not a valid resource", time.Second)
	if !errors.Is(err, vistatus.ErrInvalidResourceNameErr) {
		t.Fatalf("Open(invalid) = %v, want ErrInvalidResourceNameErr", err)
	}
}

func TestOpenDefaultRM(t *testing.T) {
	m := NewManager(nil)
	s := m.OpenDefaultRM()
	if !s.IsRM {
		t.Fatal("OpenDefaultRM session is not marked IsRM")
	}
	if s.Transport != nil {
		t.Fatal("OpenDefaultRM session should have no transport")
	}
	if err := m.Close(s.Handle); err != nil {
		t.Fatalf("Close(RM session): %v", err)
	}
}

func TestFindListArenaCap(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < MaxFindLists; i++ {
		if _, err := m.AllocFindList(nil); err != nil {
			t.Fatalf("AllocFindList[%d]: %v", i, err)
		}
	}
	if _, err := m.AllocFindList(nil); !errors.Is(err, vistatus.ErrAllocErr) {
		t.Fatalf("AllocFindList over cap = %v, want ErrAllocErr", err)
	}
}

func TestFreeFindListAllowsReuse(t *testing.T) {
	m := NewManager(nil)
	var last *FindList
	for i := 0; i < MaxFindLists; i++ {
		fl, err := m.AllocFindList(nil)
		if err != nil {
			t.Fatalf("AllocFindList[%d]: %v", i, err)
		}
		last = fl
	}
	m.FreeFindList(last.Handle)
	if _, err := m.AllocFindList(nil); err != nil {
		t.Fatalf("AllocFindList after free: %v", err)
	}
}
