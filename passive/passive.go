// Package passive discovers subdomains from third-party data sets without
// touching the target.
package passive

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type Source interface {
	Name() string
	Enumerate(ctx context.Context, domain string) ([]string, error)
}

// AggregateResult maps every discovered host to the sorted names of the
// sources that reported it.
type AggregateResult struct {
	Subdomains map[string][]string
	Errors     map[string]error
}

// Hosts returns the discovered hosts in sorted order.
func (r AggregateResult) Hosts() []string {
	hosts := make([]string, 0, len(r.Subdomains))
	for host := range r.Subdomains {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

type Options struct {
	// Parallel queries every source at once; otherwise they run in order.
	Parallel bool
	// SourceTimeout bounds each source individually. Zero means no limit
	// beyond ctx.
	SourceTimeout time.Duration
}

// Event is emitted for every host a source reports, and once for every
// source that fails.
type Event struct {
	Source    string
	Subdomain string
	New       bool
	Err       error
}

type collector struct {
	mu     sync.Mutex
	result AggregateResult
}

func newCollector() *collector {
	return &collector{result: AggregateResult{
		Subdomains: make(map[string][]string),
		Errors:     make(map[string]error),
	}}
}

func (c *collector) add(source, host string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, seen := c.result.Subdomains[host]
	for _, name := range names {
		if name == source {
			return false, false
		}
	}
	names = append(names, source)
	sort.Strings(names)
	c.result.Subdomains[host] = names
	return true, !seen
}

func (c *collector) fail(source string, err error) {
	c.mu.Lock()
	c.result.Errors[source] = err
	c.mu.Unlock()
}

func (c *collector) snapshot() AggregateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := AggregateResult{
		Subdomains: make(map[string][]string, len(c.result.Subdomains)),
		Errors:     make(map[string]error, len(c.result.Errors)),
	}
	for host, names := range c.result.Subdomains {
		out.Subdomains[host] = append([]string(nil), names...)
	}
	for name, err := range c.result.Errors {
		out.Errors[name] = err
	}
	return out
}

// Aggregate queries every source in parallel and merges their results.
func Aggregate(ctx context.Context, domain string, sources []Source) AggregateResult {
	events, wait := AggregateStream(ctx, domain, sources, Options{Parallel: true})
	for range events {
	}
	return wait()
}

// AggregateStream queries sources and streams discoveries as they arrive.
// The returned function blocks until every source has finished and returns
// the merged result; call it after draining the channel.
func AggregateStream(ctx context.Context, domain string, sources []Source, opts Options) (<-chan Event, func() AggregateResult) {
	if ctx == nil {
		ctx = context.Background()
	}

	events := make(chan Event, 64)
	coll := newCollector()
	done := make(chan struct{})

	domain = strings.ToLower(strings.TrimSpace(domain))
	active := make([]Source, 0, len(sources))
	for _, src := range sources {
		if src != nil && src.Name() != "" {
			active = append(active, src)
		}
	}
	if domain == "" || len(active) == 0 {
		close(events)
		close(done)
		return events, coll.snapshot
	}

	run := func(source Source) {
		sourceCtx := ctx
		if opts.SourceTimeout > 0 {
			var cancel context.CancelFunc
			sourceCtx, cancel = context.WithTimeout(ctx, opts.SourceTimeout)
			defer cancel()
		}

		name := source.Name()
		hosts, err := source.Enumerate(sourceCtx, domain)
		if err != nil {
			coll.fail(name, err)
			events <- Event{Source: name, Err: err}
			return
		}
		for _, host := range hosts {
			host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
			if host == "" {
				continue
			}
			added, isNew := coll.add(name, host)
			if !added {
				continue
			}
			events <- Event{Source: name, Subdomain: host, New: isNew}
		}
	}

	go func() {
		defer close(done)
		defer close(events)
		if !opts.Parallel {
			for _, src := range active {
				run(src)
			}
			return
		}
		var wg sync.WaitGroup
		wg.Add(len(active))
		for _, src := range active {
			go func(source Source) {
				defer wg.Done()
				run(source)
			}(src)
		}
		wg.Wait()
	}()

	return events, func() AggregateResult {
		<-done
		return coll.snapshot()
	}
}
