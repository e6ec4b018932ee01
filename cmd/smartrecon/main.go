package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RowanDark/smartrecon/archive"
	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/generate"
	"github.com/RowanDark/smartrecon/logging"
	"github.com/RowanDark/smartrecon/metrics"
	"github.com/RowanDark/smartrecon/netutil"
	"github.com/RowanDark/smartrecon/notifier/webhook"
	"github.com/RowanDark/smartrecon/output"
	"github.com/RowanDark/smartrecon/passive"
	"github.com/RowanDark/smartrecon/passive/certtransparency"
	"github.com/RowanDark/smartrecon/passive/hackertarget"
	"github.com/RowanDark/smartrecon/passive/zonetransfer"
	"github.com/RowanDark/smartrecon/probe"
	"github.com/RowanDark/smartrecon/ratelimit"
	"github.com/RowanDark/smartrecon/recon"
	"github.com/RowanDark/smartrecon/resolver"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "smartrecon",
		Short: "smartrecon builds recon URL lists and greps them for sensitive files and secrets.",
		Long: `smartrecon gathers candidate URLs for a domain, either generated from
built-in wordlists or discovered live through DNS, certificate transparency
and web archives, and classifies them with Smart Grep: sensitive file
extensions, leaked secrets and high-value targets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, err := cmd.Flags().GetBool("version")
			if err != nil {
				return err
			}
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "smartrecon version: %s\n", version)
				fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", commit)
				fmt.Fprintf(cmd.OutOrStdout(), "built: %s\n", date)
				return nil
			}
			return runScan(cmd, cfg)
		},
	}

	cfg = config.BindFlags(root)
	root.PersistentFlags().BoolP("version", "V", false, "Show smartrecon version information and exit")

	root.AddCommand(newServeCmd(cfg), newGrepCmd(cfg))
	return root
}

// setup resolves the configuration chain (flags, environment, profile,
// defaults) and builds the logger.
func setup(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if err := config.ApplyProfile(cfg, cmd); err != nil {
		return nil, err
	}
	if err := config.ApplyEnvironment(cmd); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	levelName := cfg.LogLevel
	if cfg.Verbose && !cmd.Flags().Changed("log-level") {
		levelName = "debug"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	console := cmd.ErrOrStderr()
	if cfg.Silent {
		console = io.Discard
	}

	logger, err := logging.New(logging.Options{
		Level:    level,
		Console:  console,
		FilePath: cfg.LogFile,
		Format:   cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	if cfg.LogFile != "" {
		logger.Infof("File logging enabled: %s", cfg.LogFile)
	}
	return logger, nil
}

// app holds the components shared by every scan of one invocation.
type app struct {
	logger     *logging.Logger
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	classifier *classify.Classifier
	engine     *recon.Engine
	defaults   recon.Options
}

func newApp(cfg *config.Config, logger *logging.Logger, collector *metrics.Collector) (*app, error) {
	classifier, err := classify.New(classify.Options{ExtraExtensions: cfg.Extensions})
	if err != nil {
		return nil, fmt.Errorf("configuring classifier: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	httpClient := netutil.NewHTTPClient(cfg.Timeout, limiter)

	dnsResolver, err := resolver.New(resolver.Options{
		Server:       cfg.DNSServer,
		Timeout:      cfg.DNSTimeout,
		RateLimiter:  limiter,
		CacheEnabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring resolver: %w", err)
	}

	deps := recon.Deps{
		Classifier:    classifier,
		Passive:       buildPassiveSources(cfg, httpClient, limiter, logger),
		Archive:       buildArchive(cfg, httpClient, logger),
		Resolver:      dnsResolver,
		Logger:        logger,
		Metrics:       collector,
		SourceTimeout: cfg.Timeout,
	}
	if cfg.ProbeHTTP {
		deps.Prober = probe.NewClient(probe.Options{Timeout: cfg.Timeout, HTTPClient: httpClient})
	}

	defaults := recon.Options{
		Mode:            cfg.Mode,
		Threads:         cfg.Threads,
		FilterWildcards: cfg.FilterWildcards,
		Scope:           cfg.Scope,
		Exclude:         cfg.Exclude,
		Probe:           cfg.ProbeHTTP,
	}
	if cfg.SubdomainWordlist != "" {
		labels, err := generate.LoadWordlist(cfg.SubdomainWordlist)
		if err != nil {
			return nil, err
		}
		logger.Infof("Loaded %d subdomain label(s) from %s", len(labels), cfg.SubdomainWordlist)
		defaults.SubdomainLabels = labels
	}
	if cfg.WordlistPath != "" {
		paths, err := generate.LoadWordlist(cfg.WordlistPath)
		if err != nil {
			return nil, err
		}
		logger.Infof("Loaded %d path(s) from %s", len(paths), cfg.WordlistPath)
		defaults.Paths = paths
	}

	return &app{
		logger:     logger,
		limiter:    limiter,
		httpClient: httpClient,
		classifier: classifier,
		engine:     recon.New(deps),
		defaults:   defaults,
	}, nil
}

func buildPassiveSources(cfg *config.Config, httpClient *http.Client, limiter *ratelimit.Limiter, logger *logging.Logger) []passive.Source {
	var sources []passive.Source
	if cfg.SourceEnabled(config.SourceCrtSh) {
		sources = append(sources, certtransparency.NewClient(
			certtransparency.WithHTTPClient(httpClient),
			certtransparency.WithTimeout(cfg.Timeout),
		))
	}
	if cfg.SourceEnabled(config.SourceHackerTarget) {
		sources = append(sources, hackertarget.NewClient(
			hackertarget.WithHTTPClient(httpClient),
			hackertarget.WithTimeout(cfg.Timeout),
		))
	}
	if cfg.SourceEnabled(config.SourceAXFR) {
		sources = append(sources, zonetransfer.NewClient(
			zonetransfer.WithServer(cfg.DNSServer),
			zonetransfer.WithTimeout(cfg.DNSTimeout),
			zonetransfer.WithRateLimiter(limiter),
			zonetransfer.WithLogWriter(logger.Writer(logging.LevelDebug)),
		))
	}
	return sources
}

// buildArchive returns nil when no archive source is enabled.
func buildArchive(cfg *config.Config, httpClient *http.Client, logger *logging.Logger) *archive.Crawler {
	var providers []archive.Provider
	if cfg.SourceEnabled(config.SourceWayback) {
		providers = append(providers, archive.NewWayback(archive.WithWaybackHTTPClient(httpClient)))
	}
	if cfg.SourceEnabled(config.SourceCommonCrawl) {
		providers = append(providers, archive.NewCommonCrawl(archive.WithCommonCrawlHTTPClient(httpClient)))
	}
	if len(providers) == 0 {
		return nil
	}
	return archive.NewCrawler(archive.Options{MaxURLs: cfg.MaxArchiveURLs, Logger: logger}, providers...)
}

func runScan(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := setup(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	targets, err := gatherTargets(cmd.InOrStdin(), cfg.Domain)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		logger.Warnf("No target domain specified. Use --domain to set a target or pipe targets via stdin.")
		return cmd.Help()
	}

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}

	if a.limiter != nil {
		monitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		startRateLimitMonitor(monitorCtx, a.limiter, logger)
	}

	notifier, err := webhook.New(webhook.Options{
		Endpoint: cfg.WebhookURL,
		Secret:   cfg.WebhookSecret,
		Client:   a.httpClient,
		Logger:   logger.Writer(logging.LevelInfo),
	})
	if err != nil {
		return err
	}

	writer, err := output.NewWriter(cfg)
	if err != nil {
		return err
	}
	defer writer.Close()

	if cfg.LiveOutput() {
		logger.Infof("Live output enabled; results will be printed to stdout")
	} else {
		logger.Infof("Results will be written to %s", cfg.OutputPath)
	}

	for _, target := range targets {
		if err := runDomain(ctx, a, cfg, target, writer, notifier); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warnf("Scan of %s interrupted", target)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func runDomain(ctx context.Context, a *app, cfg *config.Config, domain string, writer *output.Writer, notifier *webhook.Notifier) error {
	opts := a.defaults
	opts.Domain = domain
	a.logger.Infof("Scanning %s using %s mode (format=%s)", domain, opts.Mode, cfg.Format)

	report, err := a.engine.Run(ctx, opts)
	if err != nil {
		return err
	}
	if err := writer.WriteReport(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	var diff *recon.DiffResult
	if cfg.DiffPath != "" {
		previous, err := output.LoadReport(cfg.DiffPath, report.Domain)
		switch {
		case err != nil:
			a.logger.Warnf("Unable to load diff baseline %s: %v", cfg.DiffPath, err)
		case previous == nil:
			a.logger.Warnf("No baseline for %s in %s", report.Domain, cfg.DiffPath)
		default:
			d := recon.Diff(previous, report)
			diff = &d
			a.logger.Infof("Diff summary: %d new, %d removed high-value URL(s) compared to %s", len(d.Added), len(d.Removed), cfg.DiffPath)
			if err := writer.WriteDiff(report.Domain, d); err != nil {
				return fmt.Errorf("writing diff: %w", err)
			}
		}
	}

	if err := notifier.Notify(ctx, report, diff); err != nil {
		a.logger.Warnf("Webhook delivery failed: %v", err)
	}

	logScanSummary(a.logger, cfg, report)
	return nil
}

func gatherTargets(input io.Reader, domain string) ([]string, error) {
	trimmed := strings.TrimSpace(domain)
	if trimmed != "" {
		return []string{trimmed}, nil
	}
	return readTargets(input)
}

// readTargets reads newline separated domains, skipping blanks and case
// insensitive duplicates. An interactive terminal yields no targets.
func readTargets(r io.Reader) ([]string, error) {
	if file, ok := r.(*os.File); ok {
		if stat, err := file.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return nil, nil
		}
	}

	scanner := bufio.NewScanner(r)
	var targets []string
	seen := make(map[string]struct{})
	for scanner.Scan() {
		value := strings.TrimSpace(scanner.Text())
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		lower := strings.ToLower(value)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		targets = append(targets, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

func logScanSummary(logger *logging.Logger, cfg *config.Config, report *recon.Report) {
	if logger == nil || report == nil {
		return
	}

	s := report.Summary
	logger.Infof("Scan complete for %s: %d URLs (%d sensitive files, %d secrets, %d high-value)",
		report.Domain, s.TotalURLs, s.SensitiveFiles, s.SecretsFound, s.HighValueURLs)
	for source, msg := range report.Errors {
		logger.Warnf("Source %s failed: %s", source, msg)
	}

	if cfg.LiveOutput() {
		logger.Infof("Results streamed to stdout using %s format", cfg.Format)
	} else {
		logger.Infof("Results saved to %s", cfg.OutputPath)
	}
}

func startRateLimitMonitor(ctx context.Context, limiter *ratelimit.Limiter, logger *logging.Logger) {
	if limiter == nil || logger == nil {
		return
	}

	status := limiter.Status()
	if status.Rate <= 0 {
		return
	}
	logger.Infof("Rate limit configured: %.2f req/s (bucket capacity %.2f token(s))", status.Rate, status.Capacity)

	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		warned := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := limiter.Status()
				percentUsed := snapshot.Utilization * 100
				if percentUsed < 0 {
					percentUsed = 0
				}
				if percentUsed > 100 {
					percentUsed = 100
				}
				logger.Debugf("Rate limit status: %.2f req/s | %.2f token(s) remaining (%.0f%% used, refill in %s)",
					snapshot.Rate, snapshot.Remaining, percentUsed, formatRefillDuration(snapshot.RefillIn))

				if snapshot.Capacity > 0 && snapshot.Remaining <= snapshot.Capacity*0.2 {
					if !warned {
						logger.Warnf("Approaching rate limit capacity: %.2f token(s) remaining (<=20%% of bucket)", snapshot.Remaining)
						warned = true
					}
				} else if warned && snapshot.Remaining > snapshot.Capacity*0.4 {
					warned = false
				}
			}
		}
	}()
}

func formatRefillDuration(d time.Duration) string {
	if d <= 0 {
		return "ready"
	}
	if d < time.Millisecond {
		return "<1ms"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
