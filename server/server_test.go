package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/metrics"
	"github.com/RowanDark/smartrecon/recon"
)

// blockingScanner runs synthetic scans through the real engine and holds
// live scans until release is closed.
type blockingScanner struct {
	engine  *recon.Engine
	release chan struct{}
	fail    bool

	mu   sync.Mutex
	seen []recon.Options
}

func (b *blockingScanner) Run(ctx context.Context, opts recon.Options) (*recon.Report, error) {
	b.mu.Lock()
	b.seen = append(b.seen, opts)
	b.mu.Unlock()
	if opts.Mode != "synthetic" {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if b.fail {
			return nil, errors.New("sources unavailable")
		}
	}
	return b.engine.Run(ctx, recon.Options{Domain: opts.Domain})
}

func newTestServer(t *testing.T, scanner *blockingScanner) (*Server, *httptest.Server) {
	t.Helper()
	if scanner == nil {
		scanner = &blockingScanner{release: make(chan struct{})}
	}
	scanner.engine = recon.New(recon.Deps{})
	s := New(Options{
		Scanner:  scanner,
		Metrics:  metrics.New(false),
		MaxScans: 3,
		Defaults: recon.Options{Threads: 7},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestCreateSyntheticScan(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"https://Example.com"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var scan Scan
	require.NoError(t, json.Unmarshal(body, &scan))
	assert.Equal(t, StatusDone, scan.Status)
	assert.Equal(t, "example.com", scan.Domain)
	assert.Equal(t, "synthetic", scan.Mode)
	require.NotNil(t, scan.Report)
	assert.Equal(t, 1176, scan.Report.Summary.HighValueURLs)
	assert.Equal(t, "/api/scans/"+scan.ID, resp.Header.Get("Location"))
}

func TestCreateScanValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, body := range []string{`{"domain":""}`, `{"domain":"example.com","mode":"turbo"}`, `not json`, `{"domain":"example.com","extra":1}`} {
		resp, data := do(t, http.MethodPost, ts.URL+"/api/scans", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		var e map[string]string
		require.NoError(t, json.Unmarshal(data, &e))
		assert.NotEmpty(t, e["error"])
	}
}

func TestLiveScanRunsInBackground(t *testing.T) {
	scanner := &blockingScanner{release: make(chan struct{})}
	s, ts := newTestServer(t, scanner)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"example.com","mode":"live"}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var scan Scan
	require.NoError(t, json.Unmarshal(body, &scan))
	assert.Equal(t, StatusRunning, scan.Status)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID+"/urls", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(scanner.release)
	require.Eventually(t, func() bool {
		got, ok := s.store.get(scan.ID)
		return ok && got.Status == StatusDone
	}, 2*time.Second, 5*time.Millisecond)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID+"/urls?view=secrets", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var urls struct {
		View  string            `json:"view"`
		Count int               `json:"count"`
		Items []classify.Secret `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &urls))
	assert.Equal(t, "secrets", urls.View)
	assert.Equal(t, 64, urls.Count)
	assert.Len(t, urls.Items, 64)

	scanner.mu.Lock()
	defer scanner.mu.Unlock()
	require.NotEmpty(t, scanner.seen)
	assert.Equal(t, 7, scanner.seen[0].Threads)
}

func TestFailedBackgroundScan(t *testing.T) {
	scanner := &blockingScanner{release: make(chan struct{}), fail: true}
	s, ts := newTestServer(t, scanner)

	_, body := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"example.com","mode":"all"}`, nil)
	var scan Scan
	require.NoError(t, json.Unmarshal(body, &scan))
	close(scanner.release)

	require.Eventually(t, func() bool {
		got, _ := s.store.get(scan.ID)
		return got.Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	got, _ := s.store.get(scan.ID)
	assert.Equal(t, "sources unavailable", got.Error)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID+"/urls", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetScanETag(t *testing.T) {
	_, ts := newTestServer(t, nil)
	_, body := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"example.com"}`, nil)
	var scan Scan
	require.NoError(t, json.Unmarshal(body, &scan))

	resp, body := do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, string(body), `"highValueUrls"`)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID, "", http.Header{"If-None-Match": []string{etag}})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	assert.Empty(t, body)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID, "", http.Header{"If-None-Match": []string{`"stale"`}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/scans/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListScansNewestFirstAndBounded(t *testing.T) {
	_, ts := newTestServer(t, nil)
	for _, d := range []string{"a.com", "b.com", "c.com", "d.com"} {
		resp, _ := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"`+d+`"}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/api/scans", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []scanSummary
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 3)
	assert.Equal(t, []string{"d.com", "c.com", "b.com"}, []string{list[0].Domain, list[1].Domain, list[2].Domain})
	require.NotNil(t, list[0].Summary)
	assert.Equal(t, 1695, list[0].Summary.TotalURLs)
}

func TestScanURLsViews(t *testing.T) {
	_, ts := newTestServer(t, nil)
	_, body := do(t, http.MethodPost, ts.URL+"/api/scans", `{"domain":"example.com"}`, nil)
	var scan Scan
	require.NoError(t, json.Unmarshal(body, &scan))

	want := map[string]int{"": 1176, "highvalue": 1176, "sensitive": 1112, "secrets": 64, "all": 1695}
	for view, count := range want {
		resp, body := do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID+"/urls?view="+view, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, view)
		var out struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, count, out.Count, view)
	}

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/scans/"+scan.ID+"/urls?view=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClassifyEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, body := do(t, http.MethodPost, ts.URL+"/api/classify",
		`{"urls":["https://example.com/.env","https://example.com/a?password=x","https://example.com/.env"]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report classify.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, classify.Summary{TotalURLs: 2, SensitiveFiles: 1, SecretsFound: 1, HighValueURLs: 2}, report.Summary)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/classify", `{"urls":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexPage(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Enter a domain")

	resp, body = do(t, http.MethodGet, ts.URL+"/?domain=example.com&view=secrets", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(body)
	assert.Contains(t, page, "Secrets (64)")
	assert.Contains(t, page, "All URLs (1695)")
	assert.Contains(t, page, `class="tab active" href="/?domain=example.com&amp;view=secrets"`)
	assert.Contains(t, page, "Password")

	resp, body = do(t, http.MethodGet, ts.URL+"/?domain=%3Cscript%3E", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, string(body), "<script>")
}

func TestHealthMetricsAndErrors(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, _ = do(t, http.MethodGet, ts.URL+"/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/scans", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `smartrecon_http_requests_total{code="200",route="/healthz"} 1`)
	assert.Contains(t, string(body), `smartrecon_http_requests_total{code="404",route="unmatched"} 1`)
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"a", "b"`, `"b"`))
	assert.True(t, etagMatches(`W/"b"`, `"b"`))
	assert.True(t, etagMatches(`*`, `"b"`))
	assert.False(t, etagMatches(`"a"`, `"b"`))
}

func TestWrongMethodIsNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, nil)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/scans"},
		{http.MethodPut, "/api/scans"},
		{http.MethodPost, "/api/scans/abc"},
		{http.MethodDelete, "/api/scans/abc/urls"},
		{http.MethodGet, "/api/classify"},
		{http.MethodPost, "/healthz"},
	}
	for _, tc := range cases {
		resp, body := do(t, tc.method, ts.URL+tc.path, "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.JSONEq(t, `{"error":"method not allowed"}`, string(body), "%s %s", tc.method, tc.path)
	}

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
