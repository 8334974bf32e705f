// Package discovery implements instrument enumeration across mDNS/DNS-SD
// (LXI instruments advertising _vxi-11._tcp or _hislip._tcp), USB (USBTMC
// class/subclass scan), and local serial ports, grounded on
// original_source/src/discovery/discovery.c. Message marshal/unmarshal uses
// github.com/miekg/dns rather than hand-rolled RFC 1035 parsing, and
// golang.org/x/net/ipv4 drives the multicast socket.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"

	"github.com/rjboer/openvisa/internal/logging"
)

// Well-known LXI/VISA DNS-SD service types.
const (
	serviceVXI11  = "_vxi-11._tcp.local."
	serviceHiSLIP = "_hislip._tcp.local."

	mdnsAddr = "224.0.0.251:5353"
	mdnsTTL  = 255
)

// DefaultTimeout is the query window, per §4.9.
const DefaultTimeout = 2500 * time.Millisecond

// MaxResults caps the result set, matching OvFindList's 128-descriptor arena.
const MaxResults = 128

// Result is one discovered network instrument.
type Result struct {
	ResourceString string
	Host           string
	Port           int
	IsHiSLIP       bool
}

// FindNetwork browses both VXI-11 and HiSLIP DNS-SD service types over
// multicast and returns deduplicated, capped results.
func FindNetwork(ctx context.Context, logger logging.Logger) ([]Result, error) {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	seen := make(map[string]Result)
	for _, svc := range []string{serviceVXI11, serviceHiSLIP} {
		results, err := browse(ctx, svc)
		if err != nil {
			logger.Warn("discovery: mdns browse failed", logging.Field{Key: "service", Value: svc}, logging.Field{Key: "error", Value: err})
			continue
		}
		for _, r := range results {
			if len(seen) >= MaxResults {
				break
			}
			key := fmt.Sprintf("%s:%d", r.Host, r.Port)
			if _, ok := seen[key]; !ok {
				seen[key] = r
			}
		}
	}

	out := make([]Result, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	return out, nil
}

// browse sends one PTR query for service over the mDNS multicast group and
// collects PTR/SRV/A answers (and any that arrive in Additional records)
// until ctx expires, retrying once if the initial send is dropped.
func browse(ctx context.Context, service string) ([]Result, error) {
	conn, err := net.ListenPacket("udp4", ":5353")
	if err != nil {
		return nil, fmt.Errorf("discovery: listen mdns: %w", err)
	}
	defer conn.Close()

	pconn := ipv4.NewPacketConn(conn)
	group := net.UDPAddr{IP: net.IPv4(224, 0, 0, 251)}
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		_ = pconn.JoinGroup(&iface, &group)
	}
	_ = pconn.SetMulticastTTL(mdnsTTL)
	_ = pconn.SetMulticastLoopback(false)

	dst, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return nil, err
	}

	query := new(dns.Msg)
	query.SetQuestion(service, dns.TypePTR)
	query.RecursionDesired = false
	wire, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("discovery: pack query: %w", err)
	}

	send := func() error {
		_, err := conn.WriteTo(wire, dst)
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 1)
	if err := backoff.Retry(send, bo); err != nil {
		return nil, fmt.Errorf("discovery: send query: %w", err)
	}

	var results []Result
	buf := make([]byte, 8192)
	for {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(DefaultTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return results, nil
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return results, nil
		}
		resp := new(dns.Msg)
		if err := resp.Unpack(buf[:n]); err != nil {
			continue
		}
		results = append(results, parseAnswers(resp, service)...)
	}
}

// parseAnswers walks a DNS-SD response's PTR/SRV/A records (miekg/dns has
// already followed any name-compression pointers during Unpack) and
// reconstructs resource strings from matching SRV+A pairs.
func parseAnswers(msg *dns.Msg, service string) []Result {
	all := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)

	srvByTarget := make(map[string]*dns.SRV)
	aByName := make(map[string]net.IP)
	var instances []string

	for _, rr := range all {
		switch rec := rr.(type) {
		case *dns.PTR:
			if rec.Hdr.Name == service {
				instances = append(instances, rec.Ptr)
			}
		case *dns.SRV:
			srvByTarget[rec.Hdr.Name] = rec
		case *dns.A:
			aByName[rec.Hdr.Name] = rec.A
		}
	}

	var out []Result
	for _, inst := range instances {
		srv, ok := srvByTarget[inst]
		if !ok {
			continue
		}
		ip, ok := aByName[srv.Target]
		if !ok {
			continue
		}
		isHiSLIP := service == serviceHiSLIP
		var rsrc string
		if isHiSLIP {
			rsrc = fmt.Sprintf("TCPIP::%s::hislip0::INSTR", ip.String())
		} else {
			rsrc = fmt.Sprintf("TCPIP::%s::inst0::INSTR", ip.String())
		}
		out = append(out, Result{
			ResourceString: rsrc,
			Host:           ip.String(),
			Port:           int(srv.Port),
			IsHiSLIP:       isHiSLIP,
		})
	}
	return out
}
