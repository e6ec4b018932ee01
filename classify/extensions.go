package classify

import (
	"sort"
	"strings"
)

var defaultExtensions = []string{
	"zip", "rar", "tar", "gz", "7z", "bak", "backup", "old", "env", "config",
	"yml", "yaml", "json", "xml", "ini", "log", "sql", "db", "sqlite", "key",
	"pem", "crt", "htaccess", "git", "dockerignore", "csv", "xlsx", "pdf",
	// archives and dumps
	"tgz", "bz2", "xz", "dump", "bkp", "swp",
	// configuration
	"conf", "cfg", "toml", "properties", "htpasswd", "npmrc", "ovpn",
	// databases and key stores
	"sqlite3", "mdb", "p12", "pfx", "ppk", "jks", "kdbx", "asc",
}

// Extensions returns the default sensitive extension set in declaration order.
func Extensions() []string {
	out := make([]string, len(defaultExtensions))
	copy(out, defaultExtensions)
	return out
}

type extensionSet map[string]struct{}

func newExtensionSet(base []string, extra []string) extensionSet {
	set := make(extensionSet, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, ext := range list {
			ext = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
			if ext == "" {
				continue
			}
			set[ext] = struct{}{}
		}
	}
	return set
}

func (s extensionSet) sorted() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// extensionOf returns the lower-cased extension of the final path segment of
// raw, ignoring the query string and fragment. A URL without a path, or whose
// last segment has no dot, has no extension.
func extensionOf(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.IndexAny(s, "?#"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
		slash := strings.IndexByte(s, '/')
		if slash < 0 {
			return ""
		}
		s = s[slash:]
	}
	if idx := strings.LastIndexByte(s, '/'); idx >= 0 {
		s = s[idx+1:]
	}
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 || dot == len(s)-1 {
		return ""
	}
	return strings.ToLower(s[dot+1:])
}
