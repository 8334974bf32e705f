package discovery

import (
	"net"
	"testing"

	"github.com/miekg/dns"
)

func TestParseAnswersReconstructsResourceString(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.PTR{
			Hdr: dns.RR_Header{Name: serviceVXI11, Rrtype: dns.TypePTR},
			Ptr: "Instrument 1." + serviceVXI11,
		},
		&dns.SRV{
			Hdr:    dns.RR_Header{Name: "Instrument 1." + serviceVXI11, Rrtype: dns.TypeSRV},
			Target: "instrument1.local.",
			Port:   111,
		},
		&dns.A{
			Hdr: dns.RR_Header{Name: "instrument1.local.", Rrtype: dns.TypeA},
			A:   net.IPv4(192, 168, 1, 50),
		},
	}

	results := parseAnswers(msg, serviceVXI11)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if r.Host != "192.168.1.50" {
		t.Errorf("Host = %q, want 192.168.1.50", r.Host)
	}
	if r.Port != 111 {
		t.Errorf("Port = %d, want 111", r.Port)
	}
	if r.IsHiSLIP {
		t.Error("IsHiSLIP = true, want false")
	}
	want := "TCPIP::192.168.1.50::inst0::INSTR"
	if r.ResourceString != want {
		t.Errorf("ResourceString = %q, want %q", r.ResourceString, want)
	}
}

func TestParseAnswersHiSLIP(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.PTR{Hdr: dns.RR_Header{Name: serviceHiSLIP}, Ptr: "inst." + serviceHiSLIP},
		&dns.SRV{Hdr: dns.RR_Header{Name: "inst." + serviceHiSLIP}, Target: "h.local.", Port: 4880},
		&dns.A{Hdr: dns.RR_Header{Name: "h.local."}, A: net.IPv4(10, 0, 0, 9)},
	}
	results := parseAnswers(msg, serviceHiSLIP)
	if len(results) != 1 || !results[0].IsHiSLIP {
		t.Fatalf("results = %+v, want one HiSLIP result", results)
	}
	want := "TCPIP::10.0.0.9::hislip0::INSTR"
	if results[0].ResourceString != want {
		t.Errorf("ResourceString = %q, want %q", results[0].ResourceString, want)
	}
}

func TestParseAnswersMissingSRVSkipped(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.PTR{Hdr: dns.RR_Header{Name: serviceVXI11}, Ptr: "orphan." + serviceVXI11},
	}
	if results := parseAnswers(msg, serviceVXI11); len(results) != 0 {
		t.Fatalf("results = %+v, want none (no matching SRV)", results)
	}
}
