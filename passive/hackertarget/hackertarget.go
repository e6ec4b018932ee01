// Package hackertarget queries the HackerTarget host search API.
package hackertarget

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/RowanDark/smartrecon/netutil"
)

const (
	defaultBaseURL = "https://api.hackertarget.com/hostsearch/"
	defaultTimeout = 20 * time.Second
)

// ErrQuotaExceeded is returned when the free API quota is used up. The API
// reports this with a 200 status and a plain text message.
var ErrQuotaExceeded = errors.New("hackertarget API quota exceeded")

type Option func(*Client)

// Client looks up hosts that HackerTarget has seen under a domain.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	apiKey     string
}

func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{}, endpoint: defaultBaseURL, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.endpoint = strings.TrimRight(baseURL, "/") + "/"
		}
	}
}

// WithAPIKey raises the request quota for members.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func (c *Client) Name() string { return "hackertarget" }

func (c *Client) Enumerate(ctx context.Context, domain string) ([]string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.fetch(ctx, domain)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return parseHostSearch(body, domain)
}

func (c *Client) fetch(ctx context.Context, domain string) (io.ReadCloser, error) {
	params := url.Values{"q": {domain}}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", netutil.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("hackertarget request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hackertarget unexpected status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// parseHostSearch reads "host,ip" lines and keeps hosts equal to or below
// domain. Error lines the API sends with a 200 status become errors.
func parseHostSearch(r io.Reader, domain string) ([]string, error) {
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "api count exceeded"):
			return nil, ErrQuotaExceeded
		case strings.HasPrefix(line, "error"):
			return nil, fmt.Errorf("hackertarget: %s", strings.TrimSpace(sc.Text()))
		}
		host, _, _ := strings.Cut(line, ",")
		host = strings.TrimSpace(host)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			seen[host] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading hackertarget response: %w", err)
	}

	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts, nil
}
