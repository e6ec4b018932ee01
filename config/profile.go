package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultConfigFilename = ".smartrecon.yaml"

type fileConfig struct {
	Profiles map[string]profileSettings `yaml:"profiles"`
}

type profileSettings struct {
	Domain            *string        `yaml:"domain"`
	Mode              *string        `yaml:"mode"`
	OutputPath        *string        `yaml:"output"`
	DiffPath          *string        `yaml:"diff"`
	Format            *string        `yaml:"format"`
	JSONPretty        *bool          `yaml:"json_pretty"`
	Verbose           *bool          `yaml:"verbose"`
	Silent            *bool          `yaml:"silent"`
	LogLevel          *string        `yaml:"log_level"`
	LogFile           *string        `yaml:"log_file"`
	LogFormat         *string        `yaml:"log_format"`
	Sources           *StringSlice   `yaml:"sources"`
	Threads           *int           `yaml:"threads"`
	DNSServer         *string        `yaml:"dns_server"`
	DNSTimeout        *time.Duration `yaml:"dns_timeout"`
	Timeout           *time.Duration `yaml:"timeout"`
	WordlistPath      *string        `yaml:"wordlist"`
	SubdomainWordlist *string        `yaml:"subdomain_wordlist"`
	Extensions        *StringSlice   `yaml:"extensions"`
	Scope             *StringSlice   `yaml:"scope"`
	Exclude           *StringSlice   `yaml:"exclude"`
	FilterWildcards   *bool          `yaml:"filter_wildcards"`
	ProbeHTTP         *bool          `yaml:"probe"`
	MaxArchiveURLs    *int           `yaml:"max_archive_urls"`
	RateLimit         *float64       `yaml:"rate_limit"`
	WebhookURL        *string        `yaml:"webhook_url"`
	WebhookSecret     *string        `yaml:"webhook_secret"`
	ListenAddr        *string        `yaml:"listen"`
}

type StringSlice []string

func (s *StringSlice) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var str string
		if err := value.Decode(&str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*s = nil
			return nil
		}
		*s = []string{str}
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		cleaned := make([]string, 0, len(raw))
		for _, item := range raw {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			cleaned = append(cleaned, item)
		}
		*s = cleaned
		return nil
	default:
		return fmt.Errorf("unsupported YAML type %s for string slice", value.ShortTag())
	}
}

func (s *StringSlice) ToSlice() []string {
	if s == nil {
		return nil
	}
	dup := make([]string, len(*s))
	copy(dup, *s)
	return dup
}

// ApplyProfile loads the selected profile from the config file and applies
// it to cfg. Without --profile the "default" profile is used when present.
// Flags given on the command line keep their values.
func ApplyProfile(cfg *Config, cmd *cobra.Command) error {
	path, err := resolveConfigPath(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("locating config file: %w", err)
	}
	if path == "" {
		if cfg.Profile != "" {
			return fmt.Errorf("profile %q requested but no %s file was found", cfg.Profile, defaultConfigFilename)
		}
		return nil
	}

	profiles, err := readProfiles(path)
	if err != nil {
		return err
	}
	name := cfg.Profile
	if name == "" {
		if _, ok := profiles["default"]; !ok {
			return nil
		}
		name = "default"
	}
	selected, ok := profiles[name]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", name, path)
	}

	applyProfileSettings(cfg, &selected, cmd)
	cfg.ConfigPath = path
	return nil
}

func readProfiles(path string) (map[string]profileSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return fc.Profiles, nil
}

// applyProfileSettings copies every value the profile sets onto cfg unless
// the matching flag was given explicitly.
func applyProfileSettings(cfg *Config, p *profileSettings, cmd *cobra.Command) {
	flags := cmd.Flags()

	text := func(flag string, v *string, dst *string) { override(flags, flag, trimmed(v), dst) }
	list := func(flag string, v *StringSlice, dst *[]string) {
		if v != nil {
			values := v.ToSlice()
			override(flags, flag, &values, dst)
		}
	}

	text("domain", p.Domain, &cfg.Domain)
	text("mode", p.Mode, &cfg.Mode)
	text("output", p.OutputPath, &cfg.OutputPath)
	text("diff", p.DiffPath, &cfg.DiffPath)
	text("log-level", p.LogLevel, &cfg.LogLevel)
	text("log-file", p.LogFile, &cfg.LogFile)
	text("log-format", p.LogFormat, &cfg.LogFormat)
	text("dns-server", p.DNSServer, &cfg.DNSServer)
	text("wordlist", p.WordlistPath, &cfg.WordlistPath)
	text("subdomain-wordlist", p.SubdomainWordlist, &cfg.SubdomainWordlist)
	text("webhook-url", p.WebhookURL, &cfg.WebhookURL)
	text("listen", p.ListenAddr, &cfg.ListenAddr)
	override(flags, "webhook-secret", p.WebhookSecret, &cfg.WebhookSecret)
	if f := trimmed(p.Format); f != nil && !flagChanged(flags, "format") {
		cfg.Format = Format(*f)
	}

	override(flags, "json-pretty", p.JSONPretty, &cfg.JSONPretty)
	override(flags, "verbose", p.Verbose, &cfg.Verbose)
	override(flags, "silent", p.Silent, &cfg.Silent)
	override(flags, "filter-wildcards", p.FilterWildcards, &cfg.FilterWildcards)
	override(flags, "probe", p.ProbeHTTP, &cfg.ProbeHTTP)
	override(flags, "threads", p.Threads, &cfg.Threads)
	override(flags, "max-archive-urls", p.MaxArchiveURLs, &cfg.MaxArchiveURLs)
	override(flags, "rate-limit", p.RateLimit, &cfg.RateLimit)
	override(flags, "dns-timeout", p.DNSTimeout, &cfg.DNSTimeout)
	override(flags, "timeout", p.Timeout, &cfg.Timeout)

	list("sources", p.Sources, &cfg.Sources)
	list("extensions", p.Extensions, &cfg.Extensions)
	list("scope", p.Scope, &cfg.Scope)
	list("exclude", p.Exclude, &cfg.Exclude)
}

// override sets *dst to *v when the profile provides v and the flag was left
// at its default.
func override[T any](flags *pflag.FlagSet, flag string, v *T, dst *T) {
	if v == nil || flagChanged(flags, flag) {
		return
	}
	*dst = *v
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}

// resolveConfigPath returns the explicit path made absolute, or the first
// .smartrecon.yaml found in the working directory and then the home
// directory. An empty result means no config file exists.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			abs = explicit
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	dirs := []string{cwd}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, defaultConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	flag := flags.Lookup(name)
	if flag == nil {
		return false
	}
	return flag.Changed
}
