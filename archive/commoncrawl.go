package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RowanDark/smartrecon/netutil"
)

const (
	defaultCommonCrawlURL = "https://index.commoncrawl.org"
	defaultLatestIndexes  = 2
	defaultCCMaxPages     = 5
)

type CommonCrawlOption func(*CommonCrawl)

// CommonCrawl queries the CommonCrawl CDX index servers.
type CommonCrawl struct {
	httpClient *http.Client
	baseURL    string
	indexes    []string
	latestN    int
	maxPages   int
	interval   time.Duration
}

func NewCommonCrawl(opts ...CommonCrawlOption) *CommonCrawl {
	c := &CommonCrawl{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultCommonCrawlURL,
		latestN:    defaultLatestIndexes,
		maxPages:   defaultCCMaxPages,
		interval:   750 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithCommonCrawlHTTPClient(hc *http.Client) CommonCrawlOption {
	return func(c *CommonCrawl) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithCommonCrawlBaseURL(u string) CommonCrawlOption {
	return func(c *CommonCrawl) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithIndexes pins the crawl indexes to query, skipping collinfo.json.
func WithIndexes(ids ...string) CommonCrawlOption {
	return func(c *CommonCrawl) {
		c.indexes = append([]string(nil), ids...)
	}
}

func WithLatestIndexes(n int) CommonCrawlOption {
	return func(c *CommonCrawl) {
		if n > 0 {
			c.latestN = n
		}
	}
}

func WithCommonCrawlMaxPages(n int) CommonCrawlOption {
	return func(c *CommonCrawl) {
		c.maxPages = n
	}
}

func (c *CommonCrawl) Name() string            { return "commoncrawl" }
func (c *CommonCrawl) Interval() time.Duration { return c.interval }

func (c *CommonCrawl) Fetch(ctx context.Context, domain string) ([]string, error) {
	indexes := c.indexes
	if len(indexes) == 0 {
		var err error
		indexes, err = c.latestIndexes(ctx)
		if err != nil {
			return nil, fmt.Errorf("commoncrawl: listing indexes: %w", err)
		}
	}

	urls := make([]string, 0, 256)
	for _, idx := range indexes {
		for page := 0; c.maxPages <= 0 || page < c.maxPages; page++ {
			params := url.Values{}
			params.Set("url", "*."+domain)
			params.Set("output", "json")
			params.Set("page", strconv.Itoa(page))
			endpoint := fmt.Sprintf("%s/%s-index?%s", c.baseURL, idx, params.Encode())

			found, more, err := c.fetchPage(ctx, endpoint)
			if err != nil {
				return urls, err
			}
			urls = append(urls, found...)
			if !more {
				break
			}
		}
	}
	return urls, nil
}

// fetchPage reads one NDJSON page. more is false once the index has no
// further pages.
func (c *CommonCrawl) fetchPage(ctx context.Context, endpoint string) ([]string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("commoncrawl: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", netutil.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("commoncrawl: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("commoncrawl: status %d", resp.StatusCode)
	}

	var urls []string
	lines := 0
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
		var row struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil || row.URL == "" {
			continue
		}
		urls = append(urls, row.URL)
	}
	if err := sc.Err(); err != nil {
		return urls, false, fmt.Errorf("commoncrawl: reading response: %w", err)
	}
	return urls, lines > 0, nil
}

func (c *CommonCrawl) latestIndexes(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collinfo.json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", netutil.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no indexes")
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })

	n := min(c.latestN, len(rows))
	out := make([]string, 0, n)
	for _, r := range rows[:n] {
		out = append(out, r.ID)
	}
	return out, nil
}
