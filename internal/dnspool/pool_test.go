package dnspool

import (
	"testing"

	"github.com/miekg/dns"
)

func TestReleaseClearsMessage(t *testing.T) {
	msg := AcquireMsg()
	msg.SetQuestion("www.example.com.", dns.TypeA)
	msg.RecursionDesired = true
	rr, err := dns.NewRR("www.example.com. 60 IN A 192.0.2.1")
	if err != nil {
		t.Fatalf("parse rr: %v", err)
	}
	msg.Answer = append(msg.Answer, rr)
	ReleaseMsg(msg)

	if len(msg.Question) != 0 || len(msg.Answer) != 0 {
		t.Fatalf("expected sections to be cleared, got %d question(s) and %d answer(s)", len(msg.Question), len(msg.Answer))
	}
	if msg.Id != 0 || msg.RecursionDesired {
		t.Fatalf("expected header to be reset: %+v", msg.MsgHdr)
	}
}

func TestAcquireReturnsEmptyMessage(t *testing.T) {
	msg := AcquireMsg()
	defer ReleaseMsg(msg)
	if len(msg.Question) != 0 || msg.Opcode != dns.OpcodeQuery {
		t.Fatalf("unexpected message state: %+v", msg)
	}
}

func TestReleaseNil(t *testing.T) {
	ReleaseMsg(nil)
}
