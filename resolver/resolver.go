// Package resolver checks which candidate hosts exist by resolving their A,
// AAAA and CNAME records.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RowanDark/smartrecon/ratelimit"
)

// lookuper captures the subset of the net.Resolver API the package relies on.
type lookuper interface {
	LookupIPAddr(context.Context, string) ([]net.IPAddr, error)
	LookupCNAME(context.Context, string) (string, error)
}

// Options controls Resolver instantiation behaviour.
type Options struct {
	Server       string
	Timeout      time.Duration
	RateLimiter  *ratelimit.Limiter
	CacheEnabled bool
	CacheSize    int
}

var defaultDNSServers = []string{
	"8.8.8.8:53",
	"1.1.1.1:53",
	"9.9.9.9:53",
}

// Resolver performs DNS lookups against a custom server, falling back to the
// public defaults.
type Resolver struct {
	lookup  lookuper
	timeout time.Duration
	server  string
	limiter *ratelimit.Limiter
}

// Result summarises the DNS records discovered for a host.
type Result struct {
	Host        string
	IPAddresses []string
	DNSRecords  map[string][]string
	Err         error
}

// Resolved reports whether the host has at least one address or alias.
func (r Result) Resolved() bool {
	return len(r.IPAddresses) > 0 || len(r.DNSRecords["CNAME"]) > 0
}

func New(options Options) (*Resolver, error) {
	r := &Resolver{timeout: options.Timeout, limiter: options.RateLimiter}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Second
	}

	servers, err := resolveServers(options.Server)
	if err != nil {
		return nil, err
	}

	cacheSize := options.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	client, err := newDNSClient(servers, r.timeout, options.CacheEnabled, cacheSize)
	if err != nil {
		return nil, err
	}

	r.lookup = client
	r.server = strings.Join(servers, ",")
	return r, nil
}

// Resolve looks up the addresses and CNAME of host.
func (r *Resolver) Resolve(ctx context.Context, host string) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	result := Result{Host: host, DNSRecords: make(map[string][]string)}
	if host == "" {
		result.Err = errors.New("empty hostname")
		return result
	}

	var errs []string
	v4, v6, err := r.lookupAddresses(ctx, host)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if len(v4) > 0 {
		result.DNSRecords["A"] = v4
	}
	if len(v6) > 0 {
		result.DNSRecords["AAAA"] = v6
	}
	result.IPAddresses = uniqueSorted(append(append([]string(nil), v4...), v6...))

	cname, err := r.lookupCNAME(ctx, host)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cname != "" {
		result.DNSRecords["CNAME"] = []string{cname}
	}

	if len(errs) > 0 && !result.Resolved() {
		result.Err = errors.New(strings.Join(errs, "; "))
	}
	return result
}

// ResolveAll resolves hosts with a pool of workers. Results arrive in
// completion order and the channel closes when every host is done.
func (r *Resolver) ResolveAll(ctx context.Context, hosts []string, workers int) <-chan Result {
	jobs := make(chan string)
	go func() {
		defer close(jobs)
		for _, host := range hosts {
			select {
			case <-ctx.Done():
				return
			case jobs <- host:
			}
		}
	}()
	return r.ResolveStream(ctx, jobs, workers)
}

// ResolveStream resolves hosts received over the provided channel.
func (r *Resolver) ResolveStream(ctx context.Context, hosts <-chan string, workers int) <-chan Result {
	output := make(chan Result)
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for host := range hosts {
				host = strings.TrimSpace(host)
				if host == "" {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				res := r.Resolve(ctx, host)
				select {
				case output <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(output)
	}()
	return output
}

func (r *Resolver) lookupAddresses(ctx context.Context, host string) ([]string, []string, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.backend().LookupIPAddr(callCtx, host)
	if err != nil {
		return nil, nil, err
	}
	var v4, v6 []string
	for _, addr := range addrs {
		if addr.IP == nil {
			continue
		}
		if ip := addr.IP.To4(); ip != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, addr.IP.String())
		}
	}
	return uniqueSorted(v4), uniqueSorted(v6), nil
}

func (r *Resolver) lookupCNAME(ctx context.Context, host string) (string, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cname, err := r.backend().LookupCNAME(callCtx, host)
	if err != nil {
		return "", err
	}
	cname = strings.TrimSuffix(strings.ToLower(cname), ".")
	if cname == host {
		return "", nil
	}
	return cname, nil
}

func (r *Resolver) backend() lookuper {
	if r.lookup == nil {
		return net.DefaultResolver
	}
	return r.lookup
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Server returns the configured upstream DNS servers, comma separated.
func (r *Resolver) Server() string {
	return r.server
}

func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// ParseServer normalises DNS server host[:port] strings to host:port form.
func ParseServer(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", nil
	}
	if !strings.Contains(address, ":") {
		return net.JoinHostPort(address, "53"), nil
	}
	if strings.HasPrefix(address, "[") && strings.HasSuffix(address, "]") {
		host := address[1 : len(address)-1]
		if host == "" {
			return "", errors.New("invalid dns server host")
		}
		return net.JoinHostPort(host, "53"), nil
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if port == "" {
		port = "53"
	} else if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid dns server port: %w", err)
	}
	return net.JoinHostPort(host, port), nil
}

func resolveServers(custom string) ([]string, error) {
	servers := make([]string, 0, len(defaultDNSServers)+1)
	if custom = strings.TrimSpace(custom); custom != "" {
		parsed, err := ParseServer(custom)
		if err != nil {
			return nil, err
		}
		servers = append(servers, parsed)
	}
	for _, candidate := range defaultDNSServers {
		dup := false
		for _, s := range servers {
			if strings.EqualFold(s, candidate) {
				dup = true
				break
			}
		}
		if !dup {
			servers = append(servers, candidate)
		}
	}
	return servers, nil
}
