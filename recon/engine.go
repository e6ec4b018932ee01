// Package recon runs a complete scan: candidate URLs are gathered for a
// domain, filtered to scope, classified and optionally probed.
package recon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RowanDark/smartrecon/archive"
	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/filters"
	"github.com/RowanDark/smartrecon/generate"
	"github.com/RowanDark/smartrecon/logging"
	"github.com/RowanDark/smartrecon/metrics"
	"github.com/RowanDark/smartrecon/passive"
	"github.com/RowanDark/smartrecon/probe"
	"github.com/RowanDark/smartrecon/resolver"
	"github.com/RowanDark/smartrecon/stats"
)

// URL sources recorded in Report.Sources besides the archive providers.
const (
	SourceSynthetic = "synthetic"
	SourceWordlist  = "wordlist"
)

// HostResolver is the subset of resolver.Resolver the engine uses.
type HostResolver interface {
	Resolve(ctx context.Context, host string) resolver.Result
	ResolveAll(ctx context.Context, hosts []string, workers int) <-chan resolver.Result
}

// Deps wires the engine to its collaborators. Every field is optional; a
// missing component is skipped during live scans.
type Deps struct {
	Classifier    *classify.Classifier
	Passive       []passive.Source
	Archive       *archive.Crawler
	Resolver      HostResolver
	Prober        *probe.Client
	Logger        *logging.Logger
	Metrics       *metrics.Collector
	SourceTimeout time.Duration
	StatsInterval time.Duration
}

type Engine struct {
	classifier    *classify.Classifier
	passive       []passive.Source
	archive       *archive.Crawler
	resolver      HostResolver
	wildcards     *filters.WildcardDetector
	prober        *probe.Client
	logger        *logging.Logger
	metrics       *metrics.Collector
	sourceTimeout time.Duration
	statsInterval time.Duration
}

func New(deps Deps) *Engine {
	e := &Engine{
		classifier:    deps.Classifier,
		passive:       deps.Passive,
		archive:       deps.Archive,
		resolver:      deps.Resolver,
		prober:        deps.Prober,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		sourceTimeout: deps.SourceTimeout,
		statsInterval: deps.StatsInterval,
	}
	if e.classifier == nil {
		e.classifier = classify.Default()
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.resolver != nil {
		e.wildcards = filters.NewWildcardDetector(e.resolver, 3)
	}
	return e
}

// Options selects what a single Run does.
type Options struct {
	Domain string
	Mode   string
	// SubdomainLabels and Paths replace the built-in lists in live mode.
	SubdomainLabels []string
	Paths           []string
	Threads         int
	FilterWildcards bool
	// Scope restricts hosts to these patterns; see filters.MatchesScope.
	Scope []string
	// Exclude drops URLs whose path matches one of these globs.
	Exclude []string
	Probe   bool
}

// Run executes one scan. Source failures are recorded in the report; only
// invalid input or cancellation return an error.
func (e *Engine) Run(ctx context.Context, opts Options) (report *Report, err error) {
	domain, err := generate.NormalizeDomain(opts.Domain)
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	switch mode {
	case "":
		mode = config.ModeSynthetic
	case config.ModeSynthetic, config.ModeLive, config.ModeAll:
	default:
		return nil, fmt.Errorf("invalid mode %q", opts.Mode)
	}
	if opts.Threads <= 0 {
		opts.Threads = 50
	}

	finish := e.metrics.ScanStarted(mode)
	defer func() { finish(err) }()

	tracker := stats.NewTracker(stats.Options{Logger: e.logger, Interval: e.statsInterval})
	tracker.Start(ctx)
	defer tracker.Stop()

	e.logger.Infof("Starting %s scan of %s", mode, domain)
	report = &Report{
		Domain:    domain,
		Mode:      mode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Errors:    make(map[string]string),
	}
	set := newURLSet()
	add := func(source string, urls []string) {
		n := set.add(source, urls)
		tracker.RecordURLs(source, n)
		e.metrics.AddURLs(source, n)
	}

	if mode == config.ModeSynthetic || mode == config.ModeAll {
		add(SourceSynthetic, generate.Candidates(domain))
	}
	if mode == config.ModeLive || mode == config.ModeAll {
		e.live(ctx, domain, opts, report, tracker, add)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(set.list))
	for _, u := range set.list {
		if !filters.MatchesScope(filters.HostOf(u), opts.Scope) || filters.Excluded(u, opts.Exclude) {
			continue
		}
		kept = append(kept, u)
	}
	if dropped := len(set.list) - len(kept); dropped > 0 {
		e.logger.Debugf("Dropped %d URLs outside scope or excluded", dropped)
	}

	report.Report = e.classifier.Classify(kept)
	report.Sources = make(map[string]string, len(kept))
	for _, u := range report.AllURLs {
		report.Sources[u] = set.source[u]
	}
	recordFindings(tracker, report.Report)
	e.metrics.AddFindings(report.Summary.SensitiveFiles, report.Summary.SecretsFound, report.Summary.HighValueURLs)

	if opts.Probe && e.prober != nil && len(report.HighValueURLs) > 0 {
		e.logger.Infof("Probing %d high-value URLs", len(report.HighValueURLs))
		report.Probes = e.prober.ProbeAll(ctx, report.HighValueURLs, opts.Threads)
	}

	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	e.logger.Infof("Finished %s: %d URLs, %d sensitive files, %d secrets, %d high-value",
		domain, report.Summary.TotalURLs, report.Summary.SensitiveFiles, report.Summary.SecretsFound, report.Summary.HighValueURLs)
	return report, nil
}

func (e *Engine) live(ctx context.Context, domain string, opts Options, report *Report, tracker *stats.Tracker, add func(string, []string)) {
	labels := opts.SubdomainLabels
	if len(labels) == 0 {
		labels = generate.Subdomains()
	}
	candidates := generate.Hosts(labels, domain)
	if len(candidates) == 0 || candidates[0] != domain {
		candidates = append([]string{domain}, candidates...)
	}
	trusted := map[string]struct{}{domain: {}}

	for _, host := range e.passiveHosts(ctx, domain, report) {
		if _, seen := trusted[host]; !seen {
			trusted[host] = struct{}{}
			candidates = append(candidates, host)
		}
	}
	candidates = dedupe(candidates)

	hosts := e.resolveHosts(ctx, domain, candidates, trusted, opts, tracker)
	e.logger.Infof("%d of %d candidate hosts are live", len(hosts), len(candidates))

	paths := opts.Paths
	if len(paths) == 0 {
		paths = generate.Paths()
	}
	add(SourceWordlist, generate.Expand(hosts, paths))

	if e.archive != nil {
		res := e.archive.Collect(ctx, domain)
		for name, err := range res.Errors {
			e.recordError(report, name, err)
		}
		bySource := make(map[string][]string)
		order := make([]string, 0)
		for _, u := range res.URLs {
			src := res.Sources[u]
			if _, ok := bySource[src]; !ok {
				order = append(order, src)
			}
			bySource[src] = append(bySource[src], u)
		}
		for _, src := range order {
			add(src, bySource[src])
		}
	}
}

// passiveHosts returns in-scope hosts reported by the passive sources,
// sorted.
func (e *Engine) passiveHosts(ctx context.Context, domain string, report *Report) []string {
	if len(e.passive) == 0 {
		return nil
	}
	events, wait := passive.AggregateStream(ctx, domain, e.passive, passive.Options{Parallel: true, SourceTimeout: e.sourceTimeout})
	for ev := range events {
		if ev.Err != nil {
			continue
		}
		if ev.New {
			e.logger.Debugf("[%s] %s", ev.Source, ev.Subdomain)
		}
	}
	result := wait()
	for name, err := range result.Errors {
		e.recordError(report, name, err)
	}

	hosts := make([]string, 0, len(result.Subdomains))
	for _, host := range result.Hosts() {
		if filters.InScope(host, domain) {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// resolveHosts keeps the candidates that resolve, in candidate order. Hosts
// in trusted survive the wildcard filter.
func (e *Engine) resolveHosts(ctx context.Context, domain string, candidates []string, trusted map[string]struct{}, opts Options, tracker *stats.Tracker) []string {
	if e.resolver == nil {
		return candidates
	}

	var profile filters.WildcardProfile
	if opts.FilterWildcards {
		profile = e.wildcards.Profile(ctx, domain)
		if profile.Active() {
			e.logger.Warnf("%s answers wildcard queries; matching hosts will be dropped", domain)
		}
	}

	alive := make(map[string]struct{}, len(candidates))
	for res := range e.resolver.ResolveAll(ctx, candidates, opts.Threads) {
		tracker.RecordAttempt(res.Resolved())
		if !res.Resolved() {
			continue
		}
		if _, ok := trusted[res.Host]; !ok && profile.Matches(res) {
			e.logger.Debugf("Dropping wildcard answer for %s", res.Host)
			continue
		}
		alive[res.Host] = struct{}{}
	}

	hosts := make([]string, 0, len(alive))
	for _, host := range candidates {
		if _, ok := alive[host]; ok {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func (e *Engine) recordError(report *Report, source string, err error) {
	if err == nil {
		return
	}
	e.logger.Warnf("Source %s failed: %v", source, err)
	report.Errors[source] = err.Error()
	e.metrics.SourceError(source)
}

func recordFindings(tracker *stats.Tracker, r classify.Report) {
	sensitive := make(map[string]struct{}, len(r.SensitiveFiles))
	for _, f := range r.SensitiveFiles {
		sensitive[f.URL] = struct{}{}
	}
	secrets := make(map[string]struct{}, len(r.Secrets))
	for _, s := range r.Secrets {
		secrets[s.URL] = struct{}{}
	}
	for _, u := range r.HighValueURLs {
		_, isFile := sensitive[u]
		_, isSecret := secrets[u]
		tracker.RecordFinding(isFile, isSecret)
	}
}

// urlSet keeps URLs in insertion order along with the first source that
// produced each one.
type urlSet struct {
	list   []string
	source map[string]string
}

func newURLSet() *urlSet {
	return &urlSet{source: make(map[string]string)}
}

func (s *urlSet) add(source string, urls []string) int {
	added := 0
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := s.source[u]; ok {
			continue
		}
		s.source[u] = source
		s.list = append(s.list, u)
		added++
	}
	return added
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
