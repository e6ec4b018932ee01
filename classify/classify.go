// Package classify implements the Smart Grep pass: every candidate URL is
// tested against a sensitive extension set and an ordered list of secret
// detectors, and the matches are folded into a deduplicated report.
package classify

import (
	"strings"
)

// SensitiveFile is a URL whose final path segment carries a sensitive
// extension.
type SensitiveFile struct {
	URL       string `json:"url"`
	Extension string `json:"extension"`
}

// Secret is a URL matched by a secret detector. Matches holds every
// substring the winning detector found in the URL.
type Secret struct {
	URL      string            `json:"url"`
	Type     string            `json:"type"`
	Matches  []string          `json:"matches"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Verdict is the classification of a single URL.
type Verdict struct {
	URL    string
	File   *SensitiveFile
	Secret *Secret
}

// HighValue reports whether either classifier matched.
func (v Verdict) HighValue() bool {
	return v.File != nil || v.Secret != nil
}

// Summary holds the counts shown above the result tabs.
type Summary struct {
	TotalURLs      int `json:"totalUrls"`
	SensitiveFiles int `json:"sensitiveFiles"`
	SecretsFound   int `json:"secretsFound"`
	HighValueURLs  int `json:"highValueUrls"`
}

// Report is the outcome of one classification pass over a URL set.
type Report struct {
	Summary        Summary         `json:"summary"`
	AllURLs        []string        `json:"allUrls"`
	SensitiveFiles []SensitiveFile `json:"sensitiveFiles"`
	Secrets        []Secret        `json:"secrets"`
	HighValueURLs  []string        `json:"highValueUrls"`
}

// Options adjusts the extension set and detector list of a Classifier.
type Options struct {
	// Extensions replaces the default extension set when non-empty.
	Extensions []string
	// ExtraExtensions are added on top of the base set.
	ExtraExtensions []string
	// Patterns replaces the default detectors when non-empty.
	Patterns []Pattern
	// ExtraPatterns are evaluated after the base detectors.
	ExtraPatterns []Pattern
}

// Classifier holds the compiled extension set and detectors. It carries no
// mutable state and is safe for concurrent use.
type Classifier struct {
	extensions extensionSet
	detectors  []Detector
}

// New compiles a Classifier from opts. An invalid pattern is an error.
func New(opts Options) (*Classifier, error) {
	base := opts.Extensions
	if len(base) == 0 {
		base = defaultExtensions
	}
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	all := make([]Pattern, 0, len(patterns)+len(opts.ExtraPatterns))
	all = append(all, patterns...)
	all = append(all, opts.ExtraPatterns...)

	detectors, err := compilePatterns(all)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		extensions: newExtensionSet(base, opts.ExtraExtensions),
		detectors:  detectors,
	}, nil
}

var defaultClassifier = mustDefault()

func mustDefault() *Classifier {
	c, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the shared classifier built from the default extension set
// and detectors.
func Default() *Classifier {
	return defaultClassifier
}

// Detectors returns the compiled detectors in evaluation order.
func (c *Classifier) Detectors() []Detector {
	out := make([]Detector, len(c.detectors))
	copy(out, c.detectors)
	return out
}

// ExtensionSet returns the sensitive extensions, sorted.
func (c *Classifier) ExtensionSet() []string {
	return c.extensions.sorted()
}

// Extension returns the URL's extension and whether it is sensitive.
func (c *Classifier) Extension(raw string) (string, bool) {
	ext := extensionOf(raw)
	if ext == "" {
		return "", false
	}
	_, ok := c.extensions[ext]
	return ext, ok
}

// MatchSecret returns the finding of the first detector matching raw.
func (c *Classifier) MatchSecret(raw string) (Secret, bool) {
	for _, d := range c.detectors {
		matches := d.Pattern.FindAllString(raw, -1)
		if len(matches) == 0 {
			continue
		}
		secret := Secret{URL: raw, Type: d.Name, Matches: matches}
		if d.Name == DetectorJWT {
			secret.Metadata = jwtMetadata(matches)
		}
		return secret, true
	}
	return Secret{}, false
}

// ClassifyURL runs both classifiers on a single URL.
func (c *Classifier) ClassifyURL(raw string) Verdict {
	raw = strings.TrimSpace(raw)
	verdict := Verdict{URL: raw}
	if raw == "" {
		return verdict
	}
	if ext, ok := c.Extension(raw); ok {
		verdict.File = &SensitiveFile{URL: raw, Extension: ext}
	}
	if secret, ok := c.MatchSecret(raw); ok {
		verdict.Secret = &secret
	}
	return verdict
}

// Classify classifies urls in order. Duplicates and blank entries are
// dropped, keeping the first occurrence.
func (c *Classifier) Classify(urls []string) Report {
	collector := NewCollector()
	for _, raw := range urls {
		collector.Add(c.ClassifyURL(raw))
	}
	return collector.Report()
}
