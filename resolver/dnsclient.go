package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/RowanDark/smartrecon/internal/dnspool"
)

// dnsClient implements lookuper on top of miekg/dns, trying each server in
// order until one answers.
type dnsClient struct {
	client  *dns.Client
	servers []string
	cache   *answerCache
}

func newDNSClient(servers []string, timeout time.Duration, cacheEnabled bool, cacheSize int) (*dnsClient, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one DNS server must be configured")
	}
	c := &dnsClient{
		client: &dns.Client{
			Net:            "udp",
			Timeout:        timeout,
			SingleInflight: true,
		},
		servers: append([]string(nil), servers...),
	}
	if cacheEnabled && cacheSize > 0 {
		c.cache = newAnswerCache(cacheSize)
	}
	return c, nil
}

func (c *dnsClient) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	var (
		addrs   []net.IPAddr
		lastErr error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answers, err := c.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range answers {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, net.IPAddr{IP: append(net.IP(nil), v.A...)})
			case *dns.AAAA:
				addrs = append(addrs, net.IPAddr{IP: append(net.IP(nil), v.AAAA...)})
			}
		}
	}
	if len(addrs) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func (c *dnsClient) LookupCNAME(ctx context.Context, host string) (string, error) {
	answers, err := c.query(ctx, host, dns.TypeCNAME)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if v, ok := rr.(*dns.CNAME); ok {
			return v.Target, nil
		}
	}
	return "", nil
}

// query returns the answer section for host and qtype. NXDOMAIN and empty
// answers are not errors.
func (c *dnsClient) query(ctx context.Context, host string, qtype uint16) ([]dns.RR, error) {
	fqdn := dns.Fqdn(strings.ToLower(strings.TrimSpace(host)))
	if fqdn == "." {
		return nil, errors.New("empty hostname")
	}
	if answers, ok := c.cache.get(fqdn, qtype); ok {
		return answers, nil
	}

	msg := dnspool.AcquireMsg()
	defer dnspool.ReleaseMsg(msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s %s via %s: %w", dns.TypeToString[qtype], host, server, err)
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess, dns.RcodeNameError:
		default:
			lastErr = fmt.Errorf("query %s %s via %s: %s", dns.TypeToString[qtype], host, server, dns.RcodeToString[resp.Rcode])
			continue
		}

		answers := make([]dns.RR, 0, len(resp.Answer))
		for _, rr := range resp.Answer {
			if rr.Header().Rrtype == qtype {
				answers = append(answers, rr)
			}
		}
		c.cache.put(fqdn, qtype, answers)
		return answers, nil
	}
	return nil, lastErr
}

type cacheKey struct {
	name  string
	qtype uint16
}

type cacheEntry struct {
	answers []dns.RR
	expires time.Time
}

// answerCache keeps answers for their minimum TTL. Negative answers are kept
// for a minute.
type answerCache struct {
	mu      sync.Mutex
	size    int
	entries map[cacheKey]cacheEntry
}

func newAnswerCache(size int) *answerCache {
	return &answerCache{size: size, entries: make(map[cacheKey]cacheEntry, size)}
}

func (c *answerCache) get(name string, qtype uint16) ([]dns.RR, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{name, qtype}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.answers, true
}

func (c *answerCache) put(name string, qtype uint16, answers []dns.RR) {
	if c == nil {
		return
	}
	ttl := time.Minute
	for i, rr := range answers {
		if d := time.Duration(rr.Header().Ttl) * time.Second; i == 0 || d < ttl {
			ttl = d
		}
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.size {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.size {
			return
		}
	}
	c.entries[cacheKey{name, qtype}] = cacheEntry{answers: answers, expires: time.Now().Add(ttl)}
}
