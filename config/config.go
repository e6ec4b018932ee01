package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Scan modes.
const (
	ModeSynthetic = "synthetic"
	ModeLive      = "live"
	ModeAll       = "all"
)

// Format represents an output format option.
type Format string

// Supported output format options.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
)

// Live mode sources.
const (
	SourceCrtSh        = "crtsh"
	SourceHackerTarget = "hackertarget"
	SourceWayback      = "wayback"
	SourceCommonCrawl  = "commoncrawl"
	SourceAXFR         = "axfr" // opt-in, queries the target's own nameservers
)

var knownSources = map[string]struct{}{
	SourceCrtSh:        {},
	SourceHackerTarget: {},
	SourceWayback:      {},
	SourceCommonCrawl:  {},
	SourceAXFR:         {},
}

// Config captures all runtime configuration for the CLI and the web service.
type Config struct {
	Domain     string
	Mode       string
	OutputPath string
	DiffPath   string
	Format     Format
	JSONPretty bool

	Verbose   bool
	Silent    bool
	LogLevel  string
	LogFile   string
	LogFormat string

	Sources           []string
	Threads           int
	DNSServer         string
	DNSTimeout        time.Duration
	Timeout           time.Duration
	WordlistPath      string
	SubdomainWordlist string
	Extensions        []string
	Scope             []string
	Exclude           []string
	FilterWildcards   bool
	ProbeHTTP         bool
	MaxArchiveURLs    int
	RateLimit         float64

	WebhookURL    string
	WebhookSecret string

	ListenAddr string

	ConfigPath string
	Profile    string
}

// BindFlags registers the shared command-line flags and returns a Config
// instance whose fields are populated when Cobra parses flag values.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := &Config{}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&cfg.Domain, "domain", "d", "", "Target domain to scan")
	flags.StringVarP(&cfg.Mode, "mode", "m", ModeSynthetic, "Scan mode (synthetic, live, or all)")
	flags.StringVarP(&cfg.OutputPath, "output", "o", "", "Optional file path to write results")
	flags.StringVar(&cfg.DiffPath, "diff", "", "Previous report to compare high-value URLs against")
	flags.StringVar((*string)(&cfg.Format), "format", string(FormatJSON), "Output format (json, csv, txt)")
	flags.BoolVar(&cfg.JSONPretty, "json-pretty", false, "Indent JSON output")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging output")
	flags.BoolVar(&cfg.Silent, "silent", false, "Suppress all console logging")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this file, rotated by size")
	flags.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text or json)")
	flags.StringSliceVar(&cfg.Sources, "sources", nil, "Live sources to query (crtsh, hackertarget, wayback, commoncrawl, axfr)")
	flags.IntVar(&cfg.Threads, "threads", 50, "Number of concurrent DNS and HTTP workers")
	flags.StringVar(&cfg.DNSServer, "dns-server", "", "Custom DNS server to use for resolution (host or host:port)")
	flags.DurationVar(&cfg.DNSTimeout, "dns-timeout", 5*time.Second, "Timeout for individual DNS lookups")
	flags.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Timeout for outbound HTTP requests")
	flags.StringVar(&cfg.WordlistPath, "wordlist", "", "Path list to expand over live hosts instead of the built-in paths")
	flags.StringVar(&cfg.SubdomainWordlist, "subdomain-wordlist", "", "Subdomain labels to resolve instead of the built-in list")
	flags.StringSliceVar(&cfg.Extensions, "extensions", nil, "Additional sensitive file extensions")
	flags.StringSliceVar(&cfg.Scope, "scope", nil, "Restrict hosts to the provided glob patterns or suffixes")
	flags.StringSliceVar(&cfg.Exclude, "exclude", nil, "Drop URLs whose path matches these globs (e.g. **/*.png)")
	flags.BoolVar(&cfg.FilterWildcards, "filter-wildcards", true, "Drop hosts that only resolve through wildcard DNS")
	flags.BoolVar(&cfg.ProbeHTTP, "probe", false, "Probe high-value URLs over HTTP to capture status codes")
	flags.IntVar(&cfg.MaxArchiveURLs, "max-archive-urls", 5000, "Maximum URLs to keep per archive source")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Maximum outbound requests per second (0 disables)")
	flags.StringVar(&cfg.WebhookURL, "webhook-url", "", "POST a signed summary to this URL when a scan completes")
	flags.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "HMAC secret used to sign webhook payloads")
	flags.StringVar(&cfg.ListenAddr, "listen", ":8080", "Listen address for the web service")
	flags.StringVar(&cfg.ConfigPath, "config", "", "Path to a .smartrecon.yaml file")
	flags.StringVar(&cfg.Profile, "profile", "", "Profile to load from the config file")

	return cfg
}

// Validate ensures the provided configuration values meet the expected
// constraints and normalises their representation where required.
func (c *Config) Validate() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeSynthetic
	}

	switch c.Mode {
	case ModeSynthetic, ModeLive, ModeAll:
		// valid
	default:
		return fmt.Errorf("invalid mode %q: expected %q, %q, or %q", c.Mode, ModeSynthetic, ModeLive, ModeAll)
	}

	format := strings.ToLower(strings.TrimSpace(string(c.Format)))
	switch Format(format) {
	case FormatJSON, FormatCSV, FormatTXT:
		c.Format = Format(format)
	case "":
		c.Format = FormatJSON
	default:
		return fmt.Errorf("invalid output format %q: expected json, csv, or txt", c.Format)
	}

	if c.Silent && c.Verbose {
		return fmt.Errorf("--silent and --verbose cannot be combined")
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "":
		c.LogFormat = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", c.LogFormat)
	}

	c.Sources = cleanList(c.Sources, true)
	for _, source := range c.Sources {
		if _, ok := knownSources[source]; !ok {
			return fmt.Errorf("unknown source %q", source)
		}
	}
	c.Scope = cleanList(c.Scope, false)
	c.Exclude = cleanList(c.Exclude, false)
	c.Extensions = cleanList(c.Extensions, true)

	if c.Threads <= 0 {
		c.Threads = 50
	}
	if c.DNSTimeout <= 0 {
		c.DNSTimeout = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxArchiveURLs < 0 {
		c.MaxArchiveURLs = 0
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit %.2f: must not be negative", c.RateLimit)
	}

	c.Domain = strings.TrimSpace(c.Domain)
	c.DNSServer = strings.TrimSpace(c.DNSServer)
	c.WordlistPath = strings.TrimSpace(c.WordlistPath)
	c.SubdomainWordlist = strings.TrimSpace(c.SubdomainWordlist)
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	return nil
}

// EnabledSources returns the configured live sources, or every source except
// axfr when none were selected.
func (c *Config) EnabledSources() []string {
	if len(c.Sources) > 0 {
		return c.Sources
	}
	return []string{SourceCrtSh, SourceHackerTarget, SourceWayback, SourceCommonCrawl}
}

// SourceEnabled reports whether name is among the enabled sources.
func (c *Config) SourceEnabled(name string) bool {
	for _, source := range c.EnabledSources() {
		if source == name {
			return true
		}
	}
	return false
}

// LiveOutput returns true when results should be sent to stdout instead of a file.
func (c *Config) LiveOutput() bool {
	return strings.TrimSpace(c.OutputPath) == ""
}

func cleanList(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
