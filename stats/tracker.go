// Package stats tracks scan progress and renders periodic summaries.
package stats

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RowanDark/smartrecon/logging"
)

const defaultInterval = 2 * time.Second

type Options struct {
	Logger   *logging.Logger
	Interval time.Duration
}

// Tracker counts candidate URLs, DNS attempts and findings for one scan.
// A nil Tracker ignores every call.
type Tracker struct {
	urls      atomic.Int64
	attempts  atomic.Int64
	resolved  atomic.Int64
	sensitive atomic.Int64
	secrets   atomic.Int64
	highValue atomic.Int64

	mu      sync.Mutex
	sources map[string]int
	started time.Time

	logger   *logging.Logger
	interval time.Duration
	cancel   context.CancelFunc
	exited   chan struct{}
	stopped  atomic.Bool
}

type Snapshot struct {
	URLs           int            `json:"urls"`
	Attempts       int            `json:"dnsAttempts"`
	Resolved       int            `json:"dnsResolved"`
	SensitiveFiles int            `json:"sensitiveFiles"`
	Secrets        int            `json:"secrets"`
	HighValue      int            `json:"highValue"`
	Sources        map[string]int `json:"sources"`
	Duration       time.Duration  `json:"duration"`
}

func NewTracker(opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Tracker{logger: opts.Logger, interval: opts.Interval, sources: make(map[string]int)}
}

// Start records the scan start and, when a logger is set, logs a progress
// line every interval until ctx ends or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.started = time.Now()
	t.mu.Unlock()
	if t.logger == nil {
		return
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.exited = make(chan struct{})
	go func() {
		defer close(t.exited)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.logger.Infof("Stats update: %s", Render(t.Snapshot()))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts periodic logging, logs the final statistics once and returns
// them.
func (t *Tracker) Stop() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	if t.stopped.CompareAndSwap(false, true) {
		if t.cancel != nil {
			t.cancel()
			<-t.exited
		}
		if t.logger != nil {
			t.logger.Infof("Scan statistics: %s", Render(t.Snapshot()))
		}
	}
	return t.Snapshot()
}

// RecordAttempt counts one DNS resolution.
func (t *Tracker) RecordAttempt(resolved bool) {
	if t == nil {
		return
	}
	t.attempts.Add(1)
	if resolved {
		t.resolved.Add(1)
	}
}

// RecordURLs counts n candidate URLs produced by source.
func (t *Tracker) RecordURLs(source string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.urls.Add(int64(n))
	if source = strings.TrimSpace(source); source != "" {
		t.mu.Lock()
		t.sources[source] += n
		t.mu.Unlock()
	}
}

// RecordFinding counts a classified URL. URLs that are neither sensitive nor
// carry a secret are not findings.
func (t *Tracker) RecordFinding(sensitive, secret bool) {
	if t == nil || (!sensitive && !secret) {
		return
	}
	if sensitive {
		t.sensitive.Add(1)
	}
	if secret {
		t.secrets.Add(1)
	}
	t.highValue.Add(1)
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	sources := maps.Clone(t.sources)
	started := t.started
	t.mu.Unlock()

	s := Snapshot{
		URLs:           int(t.urls.Load()),
		Attempts:       int(t.attempts.Load()),
		Resolved:       int(t.resolved.Load()),
		SensitiveFiles: int(t.sensitive.Load()),
		Secrets:        int(t.secrets.Load()),
		HighValue:      int(t.highValue.Load()),
		Sources:        sources,
	}
	if !started.IsZero() {
		s.Duration = time.Since(started)
	}
	return s
}

func (s Snapshot) ResolutionRate() float64 { return percent(s.Resolved, s.Attempts) }

// HitRate is the share of URLs that turned out to be high value.
func (s Snapshot) HitRate() float64 { return percent(s.HighValue, s.URLs) }

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// Render formats a snapshot as a single log line.
func Render(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "urls=%d | high_value=%d | sensitive=%d | secrets=%d", s.URLs, s.HighValue, s.SensitiveFiles, s.Secrets)
	if s.Attempts > 0 {
		fmt.Fprintf(&b, " | dns_attempts=%d | resolution_rate=%.1f%%", s.Attempts, s.ResolutionRate())
	}
	fmt.Fprintf(&b, " | duration=%s", s.Duration.Truncate(time.Millisecond))
	if len(s.Sources) > 0 {
		fmt.Fprintf(&b, " | sources=%s", FormatSourceBreakdown(s.Sources, 5))
	}
	return b.String()
}

// FormatSourceBreakdown lists the busiest sources first, at most limit of
// them, as "name=count" pairs.
func FormatSourceBreakdown(sources map[string]int, limit int) string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if sources[a] != sources[b] {
			return sources[a] > sources[b]
		}
		return a < b
	})
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = fmt.Sprintf("%s=%d", name, sources[name])
	}
	return strings.Join(pairs, ", ")
}
