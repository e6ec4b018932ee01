// Package netutil builds the HTTP client shared by every outbound source.
package netutil

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RowanDark/smartrecon/ratelimit"
)

// UserAgent is sent by every outbound client unless a request sets its own.
const UserAgent = "smartrecon/1.0"

type limitingRoundTripper struct {
	base    http.RoundTripper
	limiter *ratelimit.Limiter
}

func (l *limitingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := l.base
	if base == nil {
		base = http.DefaultTransport
	}
	if l.limiter != nil {
		if err := l.limiter.Acquire(req.Context()); err != nil {
			return nil, err
		}
	}
	return base.RoundTrip(req)
}

// coalescingRoundTripper collapses concurrent identical GET and HEAD requests
// into one upstream call. Each caller receives its own copy of the body.
type coalescingRoundTripper struct {
	base  http.RoundTripper
	group singleflight.Group
}

type sharedResponse struct {
	status     string
	statusCode int
	proto      string
	header     http.Header
	body       []byte
}

func (c *coalescingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := c.base
	if base == nil {
		base = http.DefaultTransport
	}
	if (req.Method != http.MethodGet && req.Method != http.MethodHead) || req.Body != nil && req.Body != http.NoBody {
		return base.RoundTrip(req)
	}

	key := req.Method + " " + req.URL.String() + " " + req.Header.Get("Authorization")
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		resp, err := base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &sharedResponse{
			status:     resp.Status,
			statusCode: resp.StatusCode,
			proto:      resp.Proto,
			header:     resp.Header.Clone(),
			body:       body,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.(*sharedResponse)
	return &http.Response{
		Status:        shared.status,
		StatusCode:    shared.statusCode,
		Proto:         shared.proto,
		Header:        shared.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(shared.body)),
		ContentLength: int64(len(shared.body)),
		Request:       req,
	}, nil
}

// retryRoundTripper retries idempotent requests on transport errors, 429 and
// 5xx responses with exponential backoff.
type retryRoundTripper struct {
	base        http.RoundTripper
	maxAttempts int
	baseDelay   time.Duration
}

func (r *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := r.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := r.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		attempts = 1
	}

	delay := r.baseDelay
	var (
		resp *http.Response
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			req.Body = body
		}

		resp, err = base.RoundTrip(req)
		if !shouldRetry(resp, err) || attempt == attempts {
			return resp, err
		}

		wait := delay
		if resp != nil {
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > wait {
				wait = retryAfter
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return resp, err
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// NewHTTPClient returns a client whose transport retries transient failures,
// coalesces duplicate requests and, when limiter is set, waits on it before
// every request.
func NewHTTPClient(timeout time.Duration, limiter *ratelimit.Limiter) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	rt := http.RoundTripper(&coalescingRoundTripper{
		base: &retryRoundTripper{base: transport, maxAttempts: 3, baseDelay: 500 * time.Millisecond},
	})
	if limiter != nil {
		rt = &limitingRoundTripper{base: rt, limiter: limiter}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}
