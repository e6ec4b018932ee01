package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	name string
	urls []string
	err  error
}

func (p staticProvider) Name() string            { return p.name }
func (p staticProvider) Interval() time.Duration { return time.Millisecond }
func (p staticProvider) Fetch(ctx context.Context, domain string) ([]string, error) {
	return p.urls, p.err
}

func TestCrawlerCollect(t *testing.T) {
	c := NewCrawler(Options{},
		staticProvider{name: "first", urls: []string{
			"https://dev.example.com/.env",
			"example.com/backup.zip",
			"https://other.org/config.json",
			"https://dev.example.com/.env",
			"ftp://example.com/dump.sql",
		}},
		staticProvider{name: "second", urls: []string{
			"http://example.com:80/backup.zip",
			"https://api.example.com:8443/v1?token=abc",
		}},
		staticProvider{name: "broken", err: errors.New("boom")},
	)

	result := c.Collect(context.Background(), "example.com")

	assert.Equal(t, []string{
		"https://dev.example.com/.env",
		"http://example.com/backup.zip",
		"https://api.example.com:8443/v1?token=abc",
	}, result.URLs)
	assert.Equal(t, "first", result.Sources["http://example.com/backup.zip"])
	assert.Equal(t, "second", result.Sources["https://api.example.com:8443/v1?token=abc"])
	require.Contains(t, result.Errors, "broken")
	assert.EqualError(t, result.Errors["broken"], "boom")
}

func TestCrawlerMaxURLsAndDuplicateProviders(t *testing.T) {
	p := staticProvider{name: "p", urls: []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c",
	}}
	c := NewCrawler(Options{MaxURLs: 2}, p, p)
	assert.Equal(t, []string{"p"}, c.Providers())

	result := c.Collect(context.Background(), "example.com")
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, result.URLs)
	assert.Empty(t, result.Errors)
}

func TestCrawlerWithoutProviders(t *testing.T) {
	result := NewCrawler(Options{}).Collect(context.Background(), "example.com")
	assert.NotNil(t, result.URLs)
	assert.Empty(t, result.URLs)
}

func TestWaybackPaging(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "*.example.com/*", q.Get("url"))
		assert.Equal(t, "original", q.Get("fl"))
		assert.Equal(t, "urlkey", q.Get("collapse"))
		assert.Equal(t, "2", q.Get("limit"))
		offsets = append(offsets, q.Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		switch q.Get("offset") {
		case "0":
			fmt.Fprint(w, `[["original"],["https://example.com/a.sql"],["https://dev.example.com/.env"]]`)
		default:
			fmt.Fprint(w, `[["original"],["https://example.com/b.bak"]]`)
		}
	}))
	defer srv.Close()

	w := NewWayback(WithWaybackBaseURL(srv.URL), WithWaybackPaging(2, 5), WithWaybackHTTPClient(srv.Client()))
	urls, err := w.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/a.sql",
		"https://dev.example.com/.env",
		"https://example.com/b.bak",
	}, urls)
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestWaybackErrorKeepsPartialResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[["original"],["https://example.com/a"]]`)
	}))
	defer srv.Close()

	w := NewWayback(WithWaybackBaseURL(srv.URL), WithWaybackPaging(1, 0))
	urls, err := w.Fetch(context.Background(), "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, []string{"https://example.com/a"}, urls)
}

func TestCommonCrawlLatestIndexes(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collinfo.json" {
			fmt.Fprint(w, `[{"id":"CC-MAIN-2023-50"},{"id":"CC-MAIN-2024-10"},{"id":"CC-MAIN-2022-05"}]`)
			return
		}
		requested = append(requested, strings.TrimPrefix(r.URL.Path, "/")+"#"+r.URL.Query().Get("page"))
		if r.URL.Query().Get("page") != "0" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Path {
		case "/CC-MAIN-2024-10-index":
			fmt.Fprintln(w, `{"url":"https://example.com/site.tar.gz","status":"200"}`)
			fmt.Fprintln(w, `not json`)
			fmt.Fprintln(w, `{"url":"https://www.example.com/"}`)
		case "/CC-MAIN-2023-50-index":
			fmt.Fprintln(w, `{"url":"https://example.com/old.log"}`)
		default:
			t.Errorf("unexpected index %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cc := NewCommonCrawl(WithCommonCrawlBaseURL(srv.URL), WithLatestIndexes(2))
	urls, err := cc.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/site.tar.gz",
		"https://www.example.com/",
		"https://example.com/old.log",
	}, urls)
	assert.Equal(t, []string{
		"CC-MAIN-2024-10-index#0", "CC-MAIN-2024-10-index#1",
		"CC-MAIN-2023-50-index#0", "CC-MAIN-2023-50-index#1",
	}, requested)
}

func TestCommonCrawlCollinfoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewCommonCrawl(WithCommonCrawlBaseURL(srv.URL)).Fetch(context.Background(), "example.com")
	assert.Error(t, err)
}

func TestNormaliseURL(t *testing.T) {
	cases := map[string]string{
		"example.com/a":              "http://example.com/a",
		"HTTPS://Example.COM:443/x":  "https://example.com/x",
		"https://example.com:8443/x": "https://example.com:8443/x",
		"https://example.com/x#frag": "https://example.com/x",
		"ftp://example.com/dump.sql": "",
		"   ":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normaliseURL(in), in)
	}
}
