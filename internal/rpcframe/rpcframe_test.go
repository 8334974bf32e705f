package rpcframe

import (
	"net"
	"testing"

	"github.com/rjboer/openvisa/internal/xdr"
)

func TestInvokeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		rec, err := xdr.ReadRecord(server)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(rec)
		xid, _ := d.GetU32()

		results := xdr.NewEncoder(4)
		results.PutU32(0xCAFE)

		reply := xdr.NewEncoder(24 + len(results.Bytes()))
		reply.PutU32(xid)
		reply.PutU32(replyType)
		reply.PutU32(msgAccepted)
		reply.PutU32(0) // verifier flavor
		reply.PutOpaque(nil)
		reply.PutU32(acceptSuccess)
		reply.PutRaw(results.Bytes())
		xdr.WriteRecord(server, reply.Bytes())
	}()

	args := xdr.NewEncoder(4)
	args.PutU32(1)

	results, err := Invoke(client, Call{Program: 1, Version: 1, Procedure: 2, Args: args.Bytes()})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	d := xdr.NewDecoder(results)
	v, err := d.GetU32()
	if err != nil || v != 0xCAFE {
		t.Fatalf("results = %d, %v, want 0xCAFE", v, err)
	}
}

func TestInvokeXIDMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		if _, err := xdr.ReadRecord(server); err != nil {
			return
		}
		reply := xdr.NewEncoder(24)
		reply.PutU32(999999) // wrong xid
		reply.PutU32(replyType)
		reply.PutU32(msgAccepted)
		reply.PutU32(0)
		reply.PutOpaque(nil)
		reply.PutU32(acceptSuccess)
		xdr.WriteRecord(server, reply.Bytes())
	}()

	if _, err := Invoke(client, Call{Program: 1, Version: 1, Procedure: 1}); err == nil {
		t.Fatal("expected xid mismatch error")
	}
}

func TestInvokeAcceptFailure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		rec, err := xdr.ReadRecord(server)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(rec)
		xid, _ := d.GetU32()

		reply := xdr.NewEncoder(24)
		reply.PutU32(xid)
		reply.PutU32(replyType)
		reply.PutU32(msgAccepted)
		reply.PutU32(0)
		reply.PutOpaque(nil)
		reply.PutU32(2) // PROC_UNAVAIL
		xdr.WriteRecord(server, reply.Bytes())
	}()

	if _, err := Invoke(client, Call{Program: 1, Version: 1, Procedure: 1}); err == nil {
		t.Fatal("expected accept_stat failure error")
	}
}
