// Package metrics exposes scan and HTTP counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartrecon"

// Collector owns a private registry so several instances can coexist in
// one process, as they do in tests.
type Collector struct {
	registry *prometheus.Registry

	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	urls         *prometheus.CounterVec
	findings     *prometheus.CounterVec
	sourceErrors *prometheus.CounterVec
	requests     *prometheus.CounterVec
	inflight     prometheus.Gauge
}

// New registers the smartrecon collectors, plus the Go runtime and process
// collectors when runtimeMetrics is set.
func New(runtimeMetrics bool) *Collector {
	reg := prometheus.NewRegistry()
	if runtimeMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	c := &Collector{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by mode and outcome.",
		}, []string{"mode", "status"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of completed scans.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"mode"}),
		urls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_total",
			Help:      "Candidate URLs by source.",
		}, []string{"source"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Classifier findings by kind.",
		}, []string{"kind"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed source queries.",
		}, []string{"source"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Web service requests by route and status code.",
		}, []string{"route", "code"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_in_progress",
			Help:      "Scans currently running.",
		}),
	}
	reg.MustRegister(c.scans, c.scanDuration, c.urls, c.findings, c.sourceErrors, c.requests, c.inflight)
	return c
}

// ScanStarted marks a scan as running and returns a function that records
// its completion.
func (c *Collector) ScanStarted(mode string) func(err error) {
	if c == nil {
		return func(error) {}
	}
	start := time.Now()
	c.inflight.Inc()
	return func(err error) {
		c.inflight.Dec()
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.scans.WithLabelValues(mode, status).Inc()
		c.scanDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

// AddURLs counts candidate URLs contributed by source.
func (c *Collector) AddURLs(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.urls.WithLabelValues(source).Add(float64(n))
}

// AddFindings records the classifier output of one scan.
func (c *Collector) AddFindings(sensitive, secrets, highValue int) {
	if c == nil {
		return
	}
	c.findings.WithLabelValues("sensitive_file").Add(float64(sensitive))
	c.findings.WithLabelValues("secret").Add(float64(secrets))
	c.findings.WithLabelValues("high_value").Add(float64(highValue))
}

// SourceError counts one failed discovery source.
func (c *Collector) SourceError(source string) {
	if c == nil {
		return
	}
	c.sourceErrors.WithLabelValues(source).Inc()
}

// ObserveRequest counts one HTTP request by route template and status.
func (c *Collector) ObserveRequest(route string, code int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
