// Package probe checks whether discovered URLs answer over HTTP.
package probe

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RowanDark/smartrecon/netutil"
)

type Options struct {
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout. Its redirect
	// policy is replaced so redirects are reported rather than followed.
	HTTPClient *http.Client
}

// Result is the outcome of probing one URL. ContentLength is -1 when the
// server did not report it.
type Result struct {
	URL           string `json:"url"`
	StatusCode    int    `json:"statusCode,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Alive reports whether the server answered at all.
func (r Result) Alive() bool {
	return r.Error == "" && r.StatusCode > 0
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var httpClient http.Client
	if opts.HTTPClient != nil {
		httpClient = *opts.HTTPClient
	} else {
		httpClient = http.Client{Timeout: timeout}
	}
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{http: &httpClient}
}

type Client struct {
	http *http.Client
}

// Probe sends a HEAD request to rawURL, retrying with GET when the server
// refuses HEAD.
func (c *Client) Probe(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	result := Result{URL: rawURL}
	if rawURL == "" {
		result.Error = "empty url"
		return result
	}
	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = c.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	result.ContentLength = resp.ContentLength
	return result
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", netutil.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	}
	return resp, nil
}

// ProbeAll probes urls with the given number of workers. Results keep the
// order of urls.
func (c *Client) ProbeAll(ctx context.Context, urls []string, workers int) []Result {
	results := make([]Result, len(urls))
	if len(urls) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(urls) {
		workers = len(urls)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = c.Probe(ctx, urls[idx])
			}
		}()
	}

feed:
	for i := range urls {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(urls); j++ {
				results[j] = Result{URL: urls[j], Error: ctx.Err().Error()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
