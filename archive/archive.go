// Package archive collects historical URLs for a domain from web archives.
package archive

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/RowanDark/smartrecon/filters"
	"github.com/RowanDark/smartrecon/logging"
)

// Provider returns archived URLs for every host under a domain.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, domain string) ([]string, error)
	// Interval is the minimum delay between two requests to the provider.
	Interval() time.Duration
}

type Options struct {
	// MaxURLs caps how many URLs are kept per provider. Zero keeps all.
	MaxURLs int
	Logger  *logging.Logger
}

type Result struct {
	// URLs holds in-scope URLs, deduplicated, grouped by provider in the
	// order providers were registered.
	URLs []string
	// Sources maps each URL to the provider that reported it first.
	Sources map[string]string
	Errors  map[string]error
}

type Crawler struct {
	providers []Provider
	limiters  map[string]*rate.Limiter
	maxURLs   int
	logger    *logging.Logger
}

func NewCrawler(opts Options, providers ...Provider) *Crawler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Crawler{
		limiters: make(map[string]*rate.Limiter),
		maxURLs:  opts.MaxURLs,
		logger:   logger,
	}
	for _, p := range providers {
		c.Add(p)
	}
	return c
}

// Add registers a provider. Providers with a name already registered are
// ignored.
func (c *Crawler) Add(p Provider) {
	if p == nil {
		return
	}
	name := p.Name()
	if _, exists := c.limiters[name]; exists {
		return
	}
	every := p.Interval()
	if every <= 0 {
		every = 250 * time.Millisecond
	}
	c.providers = append(c.providers, p)
	c.limiters[name] = rate.NewLimiter(rate.Every(every), 1)
}

func (c *Crawler) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Collect queries every provider concurrently. A failing provider is recorded
// in Result.Errors and does not affect the others.
func (c *Crawler) Collect(ctx context.Context, domain string) Result {
	result := Result{
		URLs:    []string{},
		Sources: make(map[string]string),
		Errors:  make(map[string]error),
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || len(c.providers) == 0 {
		return result
	}

	perProvider := make([][]string, len(c.providers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.providers {
		g.Go(func() error {
			name := p.Name()
			if err := c.limiters[name].Wait(gctx); err != nil {
				mu.Lock()
				result.Errors[name] = err
				mu.Unlock()
				return nil
			}
			urls, err := p.Fetch(gctx, domain)
			if err != nil {
				c.logger.Warnf("Archive provider %s failed: %v", name, err)
				mu.Lock()
				result.Errors[name] = err
				mu.Unlock()
				if len(urls) == 0 {
					return nil
				}
			}
			kept := c.scope(urls, domain)
			c.logger.Debugf("Archive provider %s returned %d URLs (%d in scope)", name, len(urls), len(kept))
			perProvider[i] = kept
			return nil
		})
	}
	_ = g.Wait()

	for i, urls := range perProvider {
		name := c.providers[i].Name()
		for _, u := range urls {
			if _, seen := result.Sources[u]; seen {
				continue
			}
			result.Sources[u] = name
			result.URLs = append(result.URLs, u)
		}
	}
	return result
}

func (c *Crawler) scope(urls []string, domain string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := normaliseURL(raw)
		if u == "" || !filters.InScope(filters.HostOf(u), domain) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if c.maxURLs > 0 && len(out) >= c.maxURLs {
			break
		}
	}
	return out
}

// normaliseURL gives archived URLs an explicit scheme and strips the default
// port the archives sometimes record.
func normaliseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443"):
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	u.Fragment = ""
	return u.String()
}
