package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RowanDark/smartrecon/netutil"
)

const (
	defaultWaybackURL      = "https://web.archive.org/cdx/search/cdx"
	defaultWaybackPageSize = 5000
	defaultWaybackPages    = 10
)

type WaybackOption func(*Wayback)

// Wayback queries the Internet Archive CDX API.
type Wayback struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	maxPages   int
	interval   time.Duration
}

func NewWayback(opts ...WaybackOption) *Wayback {
	w := &Wayback{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultWaybackURL,
		pageSize:   defaultWaybackPageSize,
		maxPages:   defaultWaybackPages,
		interval:   time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func WithWaybackHTTPClient(c *http.Client) WaybackOption {
	return func(w *Wayback) {
		if c != nil {
			w.httpClient = c
		}
	}
}

func WithWaybackBaseURL(u string) WaybackOption {
	return func(w *Wayback) {
		if u != "" {
			w.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithWaybackPaging sets the CDX page size and the maximum number of pages
// fetched. A non-positive maxPages removes the page limit.
func WithWaybackPaging(pageSize, maxPages int) WaybackOption {
	return func(w *Wayback) {
		if pageSize > 0 {
			w.pageSize = pageSize
		}
		w.maxPages = maxPages
	}
}

func WithWaybackInterval(d time.Duration) WaybackOption {
	return func(w *Wayback) {
		if d > 0 {
			w.interval = d
		}
	}
}

func (w *Wayback) Name() string            { return "wayback" }
func (w *Wayback) Interval() time.Duration { return w.interval }

// Fetch pages through the CDX index for *.domain/*. URLs gathered before a
// failing page are returned alongside the error.
func (w *Wayback) Fetch(ctx context.Context, domain string) ([]string, error) {
	params := url.Values{}
	params.Set("url", "*."+domain+"/*")
	params.Set("fl", "original")
	params.Set("collapse", "urlkey")
	params.Set("output", "json")
	params.Set("limit", strconv.Itoa(w.pageSize))

	urls := make([]string, 0, 256)
	for page := 0; w.maxPages <= 0 || page < w.maxPages; page++ {
		params.Set("offset", strconv.Itoa(page*w.pageSize))
		rows, err := w.fetchPage(ctx, w.baseURL+"?"+params.Encode())
		if err != nil {
			return urls, err
		}
		count := 0
		for _, r := range rows {
			if len(r) == 0 || r[0] == "original" {
				continue
			}
			count++
			urls = append(urls, r[0])
		}
		if count == 0 || count < w.pageSize {
			break
		}
	}
	return urls, nil
}

func (w *Wayback) fetchPage(ctx context.Context, endpoint string) ([][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("wayback: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", netutil.UserAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wayback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("wayback: status %d", resp.StatusCode)
	}

	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("wayback: decoding response: %w", err)
	}
	return rows, nil
}
