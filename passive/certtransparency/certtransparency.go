// Package certtransparency enumerates subdomains from crt.sh certificate
// transparency logs.
package certtransparency

import (
	"context"
	"encoding/json"
	"errors"
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
	defaultBaseURL        = "https://crt.sh"
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
)

type Option func(*Client)

type Client struct {
	httpClient     *http.Client
	baseURL        string
	timeout        time.Duration
	maxRetries     int
	backoff        time.Duration
	excludeExpired bool
}

type entry struct {
	NameValue  string `json:"name_value"`
	CommonName string `json:"common_name"`
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{},
		baseURL:    defaultBaseURL,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
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

func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

func WithInitialBackoff(backoff time.Duration) Option {
	return func(c *Client) {
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithExcludeExpired asks crt.sh to skip expired certificates.
func WithExcludeExpired(exclude bool) Option {
	return func(c *Client) {
		c.excludeExpired = exclude
	}
}

func (c *Client) Name() string {
	return "crtsh"
}

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

	query := url.Values{}
	query.Set("q", "%."+domain)
	query.Set("output", "json")
	if c.excludeExpired {
		query.Set("exclude", "expired")
	}
	endpoint := c.baseURL + "/?" + query.Encode()

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, wait, err := c.fetch(ctx, endpoint)
		if err == nil {
			return parseEntries(body, domain)
		}
		var fatal *statusError
		if errors.As(err, &fatal) && !fatal.retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if wait > backoff {
			backoff = wait
		}
		lastErr = err
	}
	return nil, fmt.Errorf("crt.sh gave up after %d attempts: %w", c.maxRetries+1, lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from crt.sh", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// fetch performs one request. On 429 it also returns the delay requested by
// the Retry-After header.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", netutil.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("crt.sh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, retryAfter(resp.Header.Get("Retry-After")), &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, 0, nil
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func parseEntries(body []byte, domain string) ([]string, error) {
	var entries []entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	suffix := "." + domain
	hosts := make(map[string]struct{})
	for _, e := range entries {
		for _, name := range strings.Split(e.NameValue+"\n"+e.CommonName, "\n") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || strings.Contains(name, "*") {
				continue
			}
			if name != domain && !strings.HasSuffix(name, suffix) {
				continue
			}
			hosts[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(hosts))
	for host := range hosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out, nil
}
