// Package filters decides which discovered hosts and URLs are kept: wildcard
// DNS answers are dropped and everything outside the target scope is
// excluded.
package filters

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/netip"
	"strings"
	"sync"

	"github.com/RowanDark/smartrecon/resolver"
)

// DNSResolver captures the subset of resolver.Resolver required for wildcard detection.
type DNSResolver interface {
	Resolve(context.Context, string) resolver.Result
}

// WildcardProfile records what a domain answers for names that cannot exist.
type WildcardProfile struct {
	active   bool
	ips      map[netip.Addr]struct{}
	prefixes map[netip.Prefix]struct{}
	cnames   map[string]struct{}
}

// Active reports whether any random probe resolved.
func (p WildcardProfile) Active() bool {
	return p.active
}

// Matches reports whether res looks like a wildcard answer: the same address,
// an address in the same /24 (IPv4) or /64 (IPv6), or the same CNAME target.
func (p WildcardProfile) Matches(res resolver.Result) bool {
	if !p.active {
		return false
	}
	for _, raw := range res.IPAddresses {
		addr, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if _, ok := p.ips[addr]; ok {
			return true
		}
		if prefix, ok := networkOf(addr); ok {
			if _, hit := p.prefixes[prefix]; hit {
				return true
			}
		}
	}
	for _, cname := range res.DNSRecords["CNAME"] {
		if _, ok := p.cnames[normaliseName(cname)]; ok {
			return true
		}
	}
	return false
}

// WildcardDetector probes random labels under a domain and caches the
// resulting profile per domain.
type WildcardDetector struct {
	resolver DNSResolver
	samples  int
	cache    sync.Map
}

// NewWildcardDetector returns a detector issuing between 3 and 5 probes per
// domain.
func NewWildcardDetector(r DNSResolver, samples int) *WildcardDetector {
	if samples < 3 {
		samples = 3
	} else if samples > 5 {
		samples = 5
	}
	return &WildcardDetector{resolver: r, samples: samples}
}

// Profile returns the wildcard profile for domain, probing it on first use.
func (d *WildcardDetector) Profile(ctx context.Context, domain string) WildcardProfile {
	domain = normaliseName(domain)
	if d == nil || d.resolver == nil || domain == "" {
		return WildcardProfile{}
	}
	if cached, ok := d.cache.Load(domain); ok {
		return cached.(WildcardProfile)
	}

	results := make(chan resolver.Result, d.samples)
	var wg sync.WaitGroup
	for i := 0; i < d.samples; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.resolver.Resolve(ctx, randomLabel()+"."+domain)
		}()
	}
	wg.Wait()
	close(results)

	profile := WildcardProfile{
		ips:      make(map[netip.Addr]struct{}),
		prefixes: make(map[netip.Prefix]struct{}),
		cnames:   make(map[string]struct{}),
	}
	for res := range results {
		if len(res.IPAddresses) == 0 && len(res.DNSRecords["CNAME"]) == 0 {
			continue
		}
		profile.active = true
		for _, raw := range res.IPAddresses {
			addr, err := netip.ParseAddr(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			profile.ips[addr] = struct{}{}
			if prefix, ok := networkOf(addr); ok {
				profile.prefixes[prefix] = struct{}{}
			}
		}
		for _, cname := range res.DNSRecords["CNAME"] {
			if name := normaliseName(cname); name != "" {
				profile.cnames[name] = struct{}{}
			}
		}
	}

	if ctx.Err() == nil {
		d.cache.Store(domain, profile)
	}
	return profile
}

func networkOf(addr netip.Addr) (netip.Prefix, bool) {
	addr = addr.Unmap()
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix, true
}

func normaliseName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

func randomLabel() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "sr-" + hex.EncodeToString(buf)
}
