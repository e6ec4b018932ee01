package filters

import (
	"net/url"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the eTLD+1 of domain, or domain itself when it
// has no public suffix, as with internal names.
func RegistrableDomain(domain string) string {
	domain = normaliseName(domain)
	root, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return root
}

// InScope reports whether host is domain or one of its subdomains. Hosts
// under the same registrable domain as domain are also in scope, so a scan
// of api.example.com keeps www.example.com.
func InScope(host, domain string) bool {
	host = hostOnly(host)
	domain = normaliseName(domain)
	if host == "" || domain == "" {
		return false
	}
	root := RegistrableDomain(domain)
	return host == root || strings.HasSuffix(host, "."+root)
}

// MatchesScope reports whether host matches any user supplied scope pattern.
// Patterns may be globs ("*.example.com"), suffixes (".example.com") or plain
// substrings. An empty pattern list matches everything.
func MatchesScope(host string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	host = hostOnly(host)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.ContainsAny(pattern, "*?[") {
			if ok, err := path.Match(pattern, host); err == nil && ok {
				return true
			}
			continue
		}
		if strings.HasPrefix(pattern, ".") {
			if strings.HasSuffix(host, pattern) || host == strings.TrimPrefix(pattern, ".") {
				return true
			}
			continue
		}
		if strings.Contains(host, pattern) {
			return true
		}
	}
	return false
}

// Excluded reports whether the path of rawURL matches any of the doublestar
// globs, e.g. "**/*.{png,jpg}" or "/static/**". Globs without a directory
// part match at any depth.
func Excluded(rawURL string, globs []string) bool {
	if len(globs) == 0 {
		return false
	}
	p := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		p = strings.TrimPrefix(u.Path, "/")
	}
	for _, glob := range globs {
		glob = strings.TrimPrefix(strings.TrimSpace(glob), "/")
		if glob == "" {
			continue
		}
		if !strings.Contains(glob, "/") {
			glob = "**/" + glob
		}
		if ok, err := doublestar.Match(glob, p); err == nil && ok {
			return true
		}
	}
	return false
}

// HostOf extracts the lower-cased host name from a URL, without the port.
func HostOf(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normaliseName(u.Hostname())
}

func hostOnly(host string) string {
	if strings.Contains(host, "/") {
		return HostOf(host)
	}
	host = normaliseName(host)
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host[:idx], ":") {
		host = host[:idx]
	}
	return host
}
