// Package zonetransfer asks a domain's nameservers for a full zone transfer
// (AXFR) and reports the host names it contains. Most servers refuse; a
// refusal is not an error.
package zonetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/RowanDark/smartrecon/ratelimit"
)

const defaultTimeout = 5 * time.Second

type Option func(*Client)

type Client struct {
	server      string
	nameservers []string
	timeout     time.Duration
	limiter     *ratelimit.Limiter
	logWriter   io.Writer
}

func NewClient(opts ...Option) *Client {
	client := &Client{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// WithServer sets the recursive server used for the NS lookup. The first
// resolv.conf server is used otherwise.
func WithServer(server string) Option {
	return func(c *Client) {
		c.server = strings.TrimSpace(server)
	}
}

// WithNameservers skips the NS lookup and transfers from these addresses.
func WithNameservers(addrs ...string) Option {
	return func(c *Client) {
		c.nameservers = append([]string(nil), addrs...)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithLogWriter receives one line per nameserver that refused or failed.
func WithLogWriter(w io.Writer) Option {
	return func(c *Client) {
		c.logWriter = w
	}
}

func (c *Client) Name() string {
	return "axfr"
}

func (c *Client) Enumerate(ctx context.Context, domain string) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	domain = sanitizeName(domain)
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	nameservers := c.nameservers
	if len(nameservers) == 0 {
		server, err := resolveServer(c.server)
		if err != nil {
			return nil, err
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		names, err := lookupNS(ctx, &dns.Client{Timeout: c.timeout}, server, domain)
		if err != nil {
			return nil, err
		}
		nameservers = names
	}

	transfer := &dns.Transfer{DialTimeout: c.timeout, ReadTimeout: c.timeout}
	hosts := make(map[string]struct{})
	for _, ns := range nameservers {
		if err := ctx.Err(); err != nil {
			return sortedHosts(hosts), err
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return sortedHosts(hosts), err
		}

		addr, err := nameserverAddress(ns)
		if err != nil {
			c.logf("zone transfer %s: %v", ns, err)
			continue
		}

		request := new(dns.Msg)
		request.SetAxfr(dns.Fqdn(domain))
		records, err := attemptTransfer(transfer, request, addr)
		if err != nil {
			c.logf("zone transfer %s refused: %v", ns, err)
			continue
		}
		for _, rr := range records {
			for _, name := range hostNames(rr) {
				if name == domain || strings.HasSuffix(name, "."+domain) {
					hosts[name] = struct{}{}
				}
			}
		}
	}
	return sortedHosts(hosts), nil
}

func lookupNS(ctx context.Context, client *dns.Client, server, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNS)

	response, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("querying ns records: %w", err)
	}
	if response.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("ns query failed with rcode %s", dns.RcodeToString[response.Rcode])
	}

	var nameservers []string
	for _, rr := range response.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			if name := sanitizeName(ns.Ns); name != "" {
				nameservers = append(nameservers, name)
			}
		}
	}
	return uniqueSorted(nameservers), nil
}

func attemptTransfer(transfer *dns.Transfer, msg *dns.Msg, addr string) ([]dns.RR, error) {
	envelopes, err := transfer.In(msg, addr)
	if err != nil {
		return nil, err
	}
	var records []dns.RR
	for env := range envelopes {
		if env.Error != nil {
			return nil, env.Error
		}
		records = append(records, env.RR...)
	}
	return records, nil
}

// hostNames returns the owner name of rr plus any host it points at.
func hostNames(rr dns.RR) []string {
	if rr == nil {
		return nil
	}
	names := []string{sanitizeName(rr.Header().Name)}
	switch v := rr.(type) {
	case *dns.CNAME:
		names = append(names, sanitizeName(v.Target))
	case *dns.MX:
		names = append(names, sanitizeName(v.Mx))
	case *dns.NS:
		names = append(names, sanitizeName(v.Ns))
	case *dns.SRV:
		names = append(names, sanitizeName(v.Target))
	}

	out := names[:0]
	for _, name := range names {
		if name == "" || strings.ContainsAny(name, "*_") {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logWriter == nil {
		return
	}
	fmt.Fprintf(c.logWriter, format+"\n", args...)
}

func sanitizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

func sortedHosts(hosts map[string]struct{}) []string {
	out := make([]string, 0, len(hosts))
	for host := range hosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func uniqueSorted(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return sortedHosts(set)
}

func resolveServer(server string) (string, error) {
	if server = strings.TrimSpace(server); server != "" {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		return server, nil
	}

	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("loading resolv.conf: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return "", errors.New("no DNS servers configured")
	}
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(cfg.Servers[0], port), nil
}

func nameserverAddress(ns string) (string, error) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return "", errors.New("empty nameserver")
	}
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns, nil
	}
	return net.JoinHostPort(ns, "53"), nil
}
