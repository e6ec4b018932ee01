package classify

import (
	"context"
	"sync"
)

// Stream classifies URLs read from in using the given number of workers.
// Verdicts are emitted in completion order; the channel closes once in is
// drained or ctx is cancelled.
func (c *Classifier) Stream(ctx context.Context, in <-chan string, workers int) <-chan Verdict {
	if workers <= 0 {
		workers = 1
	}
	out := make(chan Verdict, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-in:
					if !ok {
						return
					}
					verdict := c.ClassifyURL(raw)
					if verdict.URL == "" {
						continue
					}
					select {
					case out <- verdict:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// Collector folds verdicts into a Report. The first verdict seen for a URL
// wins. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	highValue map[string]struct{}
	report    Report
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		seen:      make(map[string]struct{}),
		highValue: make(map[string]struct{}),
		report: Report{
			AllURLs:        []string{},
			SensitiveFiles: []SensitiveFile{},
			Secrets:        []Secret{},
			HighValueURLs:  []string{},
		},
	}
}

// Add records v and reports whether it was the first verdict for its URL.
func (c *Collector) Add(v Verdict) bool {
	if v.URL == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[v.URL]; dup {
		return false
	}
	c.seen[v.URL] = struct{}{}
	c.report.AllURLs = append(c.report.AllURLs, v.URL)

	if v.File != nil {
		c.report.SensitiveFiles = append(c.report.SensitiveFiles, *v.File)
	}
	if v.Secret != nil {
		c.report.Secrets = append(c.report.Secrets, *v.Secret)
	}
	if v.HighValue() {
		if _, ok := c.highValue[v.URL]; !ok {
			c.highValue[v.URL] = struct{}{}
			c.report.HighValueURLs = append(c.report.HighValueURLs, v.URL)
		}
	}
	return true
}

// Report returns a snapshot of the collected results.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{
		AllURLs:        append([]string(nil), c.report.AllURLs...),
		SensitiveFiles: append([]SensitiveFile(nil), c.report.SensitiveFiles...),
		Secrets:        append([]Secret(nil), c.report.Secrets...),
		HighValueURLs:  append([]string(nil), c.report.HighValueURLs...),
	}
	if r.AllURLs == nil {
		r.AllURLs = []string{}
	}
	if r.SensitiveFiles == nil {
		r.SensitiveFiles = []SensitiveFile{}
	}
	if r.Secrets == nil {
		r.Secrets = []Secret{}
	}
	if r.HighValueURLs == nil {
		r.HighValueURLs = []string{}
	}
	r.Summary = Summary{
		TotalURLs:      len(r.AllURLs),
		SensitiveFiles: len(r.SensitiveFiles),
		SecretsFound:   len(r.Secrets),
		HighValueURLs:  len(r.HighValueURLs),
	}
	return r
}
