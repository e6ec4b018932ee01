package zonetransfer

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func startUDPServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start dns server: %v", err)
	}
	server := &dns.Server{PacketConn: conn, Handler: handler}
	go func() {
		_ = server.ActivateAndServe()
	}()
	t.Cleanup(func() {
		server.Shutdown()
		conn.Close()
	})
	return conn.LocalAddr().String()
}

func startTCPServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start dns server: %v", err)
	}
	server := &dns.Server{Listener: listener, Handler: handler}
	go func() {
		_ = server.ActivateAndServe()
	}()
	t.Cleanup(func() {
		server.Shutdown()
		listener.Close()
	})
	return listener.Addr().String()
}

func mustRR(t *testing.T, raw string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(raw)
	if err != nil {
		t.Fatalf("failed to parse rr %q: %v", raw, err)
	}
	return rr
}

func TestLookupNS(t *testing.T) {
	addr := startUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		rr, _ := dns.NewRR("example.com. 60 IN NS NS1.example.com.")
		msg.Answer = append(msg.Answer, rr, rr)
		w.WriteMsg(msg)
	})

	client := &dns.Client{Timeout: time.Second}
	names, err := lookupNS(context.Background(), client, addr, "example.com")
	if err != nil {
		t.Fatalf("lookupNS failed: %v", err)
	}
	if len(names) != 1 || names[0] != "ns1.example.com" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestEnumerateTransfersZone(t *testing.T) {
	soa := mustRR(t, "example.com. 60 IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 3600")
	records := []dns.RR{
		soa,
		mustRR(t, "www.example.com. 60 IN A 192.0.2.1"),
		mustRR(t, "api.example.com. 60 IN CNAME gw.example.com."),
		mustRR(t, "example.com. 60 IN MX 10 mail.example.com."),
		mustRR(t, "*.dev.example.com. 60 IN A 192.0.2.9"),
		mustRR(t, "_sip._tcp.example.com. 60 IN SRV 10 5 5060 sip.example.com."),
		mustRR(t, "cdn.example.com. 60 IN CNAME edge.cdn.net."),
		soa,
	}
	addr := startTCPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		if len(r.Question) == 0 || r.Question[0].Qtype != dns.TypeAXFR {
			msg := new(dns.Msg)
			msg.SetRcode(r, dns.RcodeRefused)
			w.WriteMsg(msg)
			return
		}
		ch := make(chan *dns.Envelope, 1)
		ch <- &dns.Envelope{RR: records}
		close(ch)
		tr := new(dns.Transfer)
		_ = tr.Out(w, r, ch)
	})

	client := NewClient(WithNameservers(addr), WithTimeout(2*time.Second))
	if client.Name() != "axfr" {
		t.Fatalf("unexpected name %q", client.Name())
	}
	hosts, err := client.Enumerate(context.Background(), "Example.com.")
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	want := []string{"api.example.com", "cdn.example.com", "example.com", "gw.example.com", "mail.example.com", "sip.example.com", "www.example.com"}
	if strings.Join(hosts, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected hosts:\n got %v\nwant %v", hosts, want)
	}
}

func TestEnumerateRefusedIsNotAnError(t *testing.T) {
	addr := startTCPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetRcode(r, dns.RcodeRefused)
		w.WriteMsg(msg)
	})

	var logs bytes.Buffer
	client := NewClient(WithNameservers(addr), WithTimeout(time.Second), WithLogWriter(&logs))
	hosts, err := client.Enumerate(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("expected refusal to be swallowed, got %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected no hosts, got %v", hosts)
	}
	if !strings.Contains(logs.String(), "refused") {
		t.Fatalf("expected refusal to be logged, got %q", logs.String())
	}
}

func TestEnumerateEmptyDomain(t *testing.T) {
	if _, err := NewClient().Enumerate(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty domain")
	}
}

func TestHelperFunctions(t *testing.T) {
	if sanitizeName("Example.COM.") != "example.com" {
		t.Fatalf("sanitizeName failed")
	}
	if _, err := nameserverAddress(""); err == nil {
		t.Fatalf("expected error for empty nameserver")
	}
	addr, err := nameserverAddress("ns1.example.com")
	if err != nil || addr != "ns1.example.com:53" {
		t.Fatalf("unexpected nameserver address: %v %v", addr, err)
	}
	addr, err = nameserverAddress("127.0.0.1:5353")
	if err != nil || addr != "127.0.0.1:5353" {
		t.Fatalf("unexpected nameserver address: %v %v", addr, err)
	}
	server, err := resolveServer("192.0.2.53")
	if err != nil || server != "192.0.2.53:53" {
		t.Fatalf("unexpected server: %v %v", server, err)
	}
}
