// Package webhook posts signed scan summaries to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/netutil"
	"github.com/RowanDark/smartrecon/recon"
)

const (
	EventScanCompleted = "scan.completed"

	HeaderEvent     = "X-Smartrecon-Event"
	HeaderSignature = "X-Smartrecon-Signature"
)

// Options configures the webhook notifier.
type Options struct {
	Endpoint string
	Secret   string
	Client   *http.Client
	Logger   io.Writer
}

// Notifier delivers scan results to a configured webhook endpoint.
type Notifier struct {
	endpoint string
	secret   string
	client   *http.Client
	logger   io.Writer
}

// Payload is the JSON body of a scan.completed event.
type Payload struct {
	Event         string           `json:"event"`
	Domain        string           `json:"domain"`
	Mode          string           `json:"mode"`
	Summary       classify.Summary `json:"summary"`
	HighValueURLs []string         `json:"highValueUrls"`
	Added         []string         `json:"added,omitempty"`
	SentAt        time.Time        `json:"sentAt"`
	Version       string           `json:"version"`
}

// New initialises a webhook notifier. It returns nil when the endpoint is empty.
func New(opts Options) (*Notifier, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("webhook endpoint must be an absolute URL")
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &Notifier{
		endpoint: endpoint,
		secret:   strings.TrimSpace(opts.Secret),
		client:   client,
		logger:   opts.Logger,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify posts the report summary. When a diff against a previous scan is
// available its new URLs are included.
func (n *Notifier) Notify(ctx context.Context, report *recon.Report, diff *recon.DiffResult) error {
	if n == nil || report == nil {
		return nil
	}

	body := Payload{
		Event:         EventScanCompleted,
		Domain:        report.Domain,
		Mode:          report.Mode,
		Summary:       report.Summary,
		HighValueURLs: report.HighValueURLs,
		SentAt:        time.Now().UTC(),
		Version:       "1",
	}
	if body.HighValueURLs == nil {
		body.HighValueURLs = []string{}
	}
	if diff != nil {
		body.Added = diff.Added
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", netutil.UserAgent)
	req.Header.Set(HeaderEvent, body.Event)
	if n.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(n.secret, data))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %s", resp.Status)
	}

	n.logf("Webhook delivered for %s (%d high-value URLs)\n", report.Domain, len(report.HighValueURLs))
	return nil
}

func (n *Notifier) logf(format string, args ...interface{}) {
	if n == nil || n.logger == nil {
		return
	}
	fmt.Fprintf(n.logger, format, args...)
}
