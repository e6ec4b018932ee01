// Package server exposes scans over HTTP: a small HTML front end and a JSON
// API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/xxh3"

	"github.com/RowanDark/smartrecon/classify"
	"github.com/RowanDark/smartrecon/config"
	"github.com/RowanDark/smartrecon/generate"
	"github.com/RowanDark/smartrecon/logging"
	"github.com/RowanDark/smartrecon/metrics"
	"github.com/RowanDark/smartrecon/recon"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Views accepted by /api/scans/{id}/urls and the HTML page.
const (
	ViewHighValue = "highvalue"
	ViewSensitive = "sensitive"
	ViewSecrets   = "secrets"
	ViewAll       = "all"
)

const maxBodyBytes = 4 << 20

// Scanner runs a scan; *recon.Engine satisfies it.
type Scanner interface {
	Run(ctx context.Context, opts recon.Options) (*recon.Report, error)
}

// Options wires a Server to its scanner, classifier and observability.
type Options struct {
	Scanner    Scanner
	Classifier *classify.Classifier
	Logger     *logging.Logger
	Metrics    *metrics.Collector
	// Defaults seeds every scan; requests only choose domain and mode.
	Defaults recon.Options
	MaxScans int
}

// Server is the HTTP front end for scans and ad hoc classification.
type Server struct {
	scanner    Scanner
	classifier *classify.Classifier
	logger     *logging.Logger
	metrics    *metrics.Collector
	defaults   recon.Options
	store      *store
	router     *mux.Router

	// ctx bounds background scans; it is cancelled when the server stops.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server and its routes. Nothing listens until ListenAndServe.
func New(opts Options) *Server {
	s := &Server{
		scanner:    opts.Scanner,
		classifier: opts.Classifier,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		defaults:   opts.Defaults,
		store:      newStore(opts.MaxScans),
	}
	if s.scanner == nil {
		s.scanner = recon.New(recon.Deps{Classifier: s.classifier, Logger: s.logger, Metrics: s.metrics})
	}
	if s.classifier == nil {
		s.classifier = classify.Default()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// API routes live on the root router; a subrouter would answer a wrong
	// method with 404.
	r.HandleFunc("/api/scans", s.handleCreateScan).Methods(http.MethodPost)
	r.HandleFunc("/api/scans", s.handleListScans).Methods(http.MethodGet)
	r.HandleFunc("/api/scans/{id}", s.handleGetScan).Methods(http.MethodGet)
	r.HandleFunc("/api/scans/{id}/urls", s.handleScanURLs).Methods(http.MethodGet)
	r.HandleFunc("/api/classify", s.handleClassify).Methods(http.MethodPost)

	r.NotFoundHandler = s.observe(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = s.observe(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	s.router = r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// waits for background scans to stop.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels running background scans and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type createScanRequest struct {
	Domain string `json:"domain"`
	Mode   string `json:"mode"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	domain, err := generate.NormalizeDomain(req.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "":
		mode = config.ModeSynthetic
	case config.ModeSynthetic, config.ModeLive, config.ModeAll:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode %q", req.Mode))
		return
	}

	opts := s.defaults
	opts.Domain = domain
	opts.Mode = mode
	scan := s.store.create(domain, mode)

	if mode == config.ModeSynthetic {
		report, err := s.scanner.Run(r.Context(), opts)
		scan, _ = s.store.finish(scan.ID, report, err)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Location", "/api/scans/"+scan.ID)
		writeJSON(w, http.StatusCreated, scan)
		return
	}

	s.wg.Add(1)
	go func(id string) {
		defer s.wg.Done()
		report, err := s.scanner.Run(s.ctx, opts)
		if err != nil {
			s.logger.Warnf("Scan %s of %s failed: %v", id, domain, err)
		}
		s.store.finish(id, report, err)
	}(scan.ID)

	w.Header().Set("Location", "/api/scans/"+scan.ID)
	writeJSON(w, http.StatusAccepted, scan)
}

type scanSummary struct {
	ID        string            `json:"id"`
	Domain    string            `json:"domain"`
	Mode      string            `json:"mode"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Summary   *classify.Summary `json:"summary,omitempty"`
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans := s.store.list()
	out := make([]scanSummary, 0, len(scans))
	for _, scan := range scans {
		item := scanSummary{ID: scan.ID, Domain: scan.Domain, Mode: scan.Mode, Status: scan.Status, CreatedAt: scan.CreatedAt}
		if scan.Report != nil {
			summary := scan.Report.Summary
			item.Summary = &summary
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.store.get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	body, err := json.Marshal(scan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := `"` + strconv.FormatUint(xxh3.Hash(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

type urlsResponse struct {
	ID    string      `json:"id"`
	View  string      `json:"view"`
	Count int         `json:"count"`
	Items interface{} `json:"items"`
}

func (s *Server) handleScanURLs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	scan, ok := s.store.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = ViewHighValue
	}
	if !validView(view) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid view %q", view))
		return
	}
	switch scan.Status {
	case StatusRunning:
		writeError(w, http.StatusConflict, "scan is still running")
		return
	case StatusFailed:
		writeError(w, http.StatusConflict, "scan failed: "+scan.Error)
		return
	}

	items, count := viewItems(scan.Report.Report, view)
	writeJSON(w, http.StatusOK, urlsResponse{ID: id, View: view, Count: count, Items: items})
}

func validView(view string) bool {
	switch view {
	case ViewHighValue, ViewSensitive, ViewSecrets, ViewAll:
		return true
	}
	return false
}

func viewItems(r classify.Report, view string) (interface{}, int) {
	switch view {
	case ViewSensitive:
		return r.SensitiveFiles, len(r.SensitiveFiles)
	case ViewSecrets:
		return r.Secrets, len(r.Secrets)
	case ViewAll:
		return r.AllURLs, len(r.AllURLs)
	default:
		return r.HighValueURLs, len(r.HighValueURLs)
	}
}

type classifyRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.classifier.Classify(req.URLs))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "scans": s.store.len()})
}

type tab struct {
	Key    string
	Title  string
	Count  int
	Active bool
}

type indexData struct {
	Domain  string
	View    string
	Error   string
	Report  *recon.Report
	Tabs    []tab
	Title   string
	URLs    []string
	Files   []classify.SensitiveFile
	Secrets []classify.Secret
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := indexData{Domain: strings.TrimSpace(q.Get("domain")), View: q.Get("view")}
	if !validView(data.View) {
		data.View = ViewHighValue
	}
	status := http.StatusOK

	if data.Domain != "" {
		opts := s.defaults
		opts.Domain = data.Domain
		opts.Mode = config.ModeSynthetic
		report, err := s.scanner.Run(r.Context(), opts)
		if err != nil {
			data.Error = err.Error()
			status = http.StatusBadRequest
		} else {
			data.Report = report
			data.Domain = report.Domain
			s.fillView(&data)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Errorf("Rendering index: %v", err)
	}
}

func (s *Server) fillView(data *indexData) {
	r := data.Report.Report
	titles := []struct{ key, title string }{
		{ViewHighValue, "High-Value"},
		{ViewSensitive, "Sensitive Files"},
		{ViewSecrets, "Secrets"},
		{ViewAll, "All URLs"},
	}
	for _, t := range titles {
		_, count := viewItems(r, t.key)
		data.Tabs = append(data.Tabs, tab{Key: t.key, Title: t.title, Count: count, Active: t.key == data.View})
		if t.key == data.View {
			data.Title = t.title
		}
	}
	switch data.View {
	case ViewSensitive:
		data.Files = r.SensitiveFiles
	case ViewSecrets:
		data.Secrets = r.Secrets
	case ViewAll:
		data.URLs = r.AllURLs
	default:
		data.URLs = r.HighValueURLs
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
