package resolver

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

type stubLookuper struct {
	ipAddrs []net.IPAddr
	ipErr   error

	cname    string
	cnameErr error
}

func (s *stubLookuper) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return s.ipAddrs, s.ipErr
}

func (s *stubLookuper) LookupCNAME(ctx context.Context, host string) (string, error) {
	return s.cname, s.cnameErr
}

func TestNewResolverDefaults(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedServers := strings.Join(defaultDNSServers, ",")
	if r.Server() != expectedServers {
		t.Fatalf("expected default servers %q, got %q", expectedServers, r.Server())
	}
	if r.Timeout() != 5*time.Second {
		t.Fatalf("expected default timeout, got %s", r.Timeout())
	}
}

func TestNewResolverCustomServer(t *testing.T) {
	r, err := New(Options{Server: "1.1.1.1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := strings.Join([]string{"1.1.1.1:53", "8.8.8.8:53", "9.9.9.9:53"}, ",")
	if got := r.Server(); got != expected {
		t.Fatalf("expected server list %q, got %q", expected, got)
	}
}

func TestResolveSuccess(t *testing.T) {
	stub := &stubLookuper{
		ipAddrs: []net.IPAddr{{IP: net.ParseIP("192.0.2.1")}, {IP: net.ParseIP("192.0.2.1")}, {IP: net.ParseIP("2001:db8::1")}},
		cname:   "Alias.example.com.",
	}
	r := &Resolver{lookup: stub, timeout: time.Second}

	result := r.Resolve(context.Background(), "WWW.example.com.")
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Host != "www.example.com" {
		t.Fatalf("unexpected host %q", result.Host)
	}
	if strings.Join(result.IPAddresses, ",") != "192.0.2.1,2001:db8::1" {
		t.Fatalf("unexpected IPs: %v", result.IPAddresses)
	}
	if got := result.DNSRecords["A"]; len(got) != 1 || got[0] != "192.0.2.1" {
		t.Fatalf("unexpected A records: %v", got)
	}
	if got := result.DNSRecords["CNAME"]; len(got) != 1 || got[0] != "alias.example.com" {
		t.Fatalf("unexpected CNAME: %v", got)
	}
	if !result.Resolved() {
		t.Fatalf("expected result to be resolved")
	}
}

func TestResolveAggregatesErrors(t *testing.T) {
	stub := &stubLookuper{
		ipErr:    errors.New("ip lookup failed"),
		cnameErr: errors.New("cname failed"),
	}
	r := &Resolver{lookup: stub, timeout: time.Second}

	result := r.Resolve(context.Background(), "example.com")
	if result.Err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(result.Err.Error(), "ip lookup failed") || !strings.Contains(result.Err.Error(), "cname failed") {
		t.Fatalf("expected both errors, got %v", result.Err)
	}
	if result.Resolved() {
		t.Fatalf("expected unresolved result")
	}
}

func TestResolveAll(t *testing.T) {
	stub := &stubLookuper{
		ipAddrs: []net.IPAddr{{IP: net.ParseIP("198.51.100.1")}},
	}
	r := &Resolver{lookup: stub, timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var results []Result
	for res := range r.ResolveAll(ctx, []string{"a.example.com", "b.example.com", ""}, 2) {
		results = append(results, res)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Host < results[j].Host })
	if results[0].Host != "a.example.com" || results[1].Host != "b.example.com" {
		t.Fatalf("unexpected hosts: %v", []string{results[0].Host, results[1].Host})
	}
}

func TestParseServer(t *testing.T) {
	tests := map[string]string{
		"8.8.8.8":      "8.8.8.8:53",
		"8.8.8.8:5353": "8.8.8.8:5353",
		"[2001::1]":    "[2001::1]:53",
		"[2001::1]:53": "[2001::1]:53",
	}
	for input, expected := range tests {
		got, err := ParseServer(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if got != expected {
			t.Fatalf("expected %q for %q, got %q", expected, input, got)
		}
	}
	if _, err := ParseServer("bad::port::value"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if _, err := ParseServer("8.8.8.8:dns"); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	server := &dns.Server{PacketConn: conn, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })
	<-started
	return conn.LocalAddr().String()
}

func TestDNSClientAgainstLocalServer(t *testing.T) {
	var queries atomic.Int32
	addr := startDNSServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		queries.Add(1)
		resp := new(dns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		switch {
		case q.Name == "www.example.com." && q.Qtype == dns.TypeA:
			rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.10")
			resp.Answer = append(resp.Answer, rr)
		case q.Name == "cdn.example.com." && q.Qtype == dns.TypeCNAME:
			rr, _ := dns.NewRR("cdn.example.com. 300 IN CNAME edge.provider.net.")
			resp.Answer = append(resp.Answer, rr)
		case strings.HasPrefix(q.Name, "missing."):
			resp.SetRcode(req, dns.RcodeNameError)
		}
		w.WriteMsg(resp)
	})

	client, err := newDNSClient([]string{addr}, time.Second, true, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := &Resolver{lookup: client, timeout: time.Second}

	res := r.Resolve(context.Background(), "www.example.com")
	if res.Err != nil || strings.Join(res.IPAddresses, ",") != "192.0.2.10" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = r.Resolve(context.Background(), "cdn.example.com")
	if got := res.DNSRecords["CNAME"]; len(got) != 1 || got[0] != "edge.provider.net" {
		t.Fatalf("unexpected CNAME result: %+v", res)
	}

	res = r.Resolve(context.Background(), "missing.example.com")
	if res.Resolved() || res.Err == nil {
		t.Fatalf("expected missing host to be unresolved with an error, got %+v", res)
	}

	before := queries.Load()
	r.Resolve(context.Background(), "www.example.com")
	if after := queries.Load(); after != before {
		t.Fatalf("expected cached answers, saw %d new queries", after-before)
	}
}
