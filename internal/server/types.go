// Package server exposes the job orchestrator over HTTP: document upload,
// job status, cancellation, result download and a websocket event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/tabscan/internal/jobs"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/sink"
)

// jobManager is the part of *jobs.Manager the server needs.
type jobManager interface {
	Submit(ctx context.Context, req jobs.Request) (string, error)
	Run(ctx context.Context, req jobs.Request) (*model.JobResult, error)
	Get(id string) (jobs.Snapshot, error)
	List() []jobs.Snapshot
	Wait(ctx context.Context, id string) (jobs.Snapshot, error)
	Subscribe(id string) (<-chan jobs.Snapshot, func(), error)
	Cancel(id string) error
	Stats() jobs.Stats
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	jobs        jobManager
	sinkOpts    sink.Options
	corsOrigin  string
	maxUploadMB int64
	uploadDir   string
	rateLimiter *RateLimiter
	logger      *slog.Logger
	version     string

	// base outlives requests; upload cleanup for asynchronous jobs runs on it.
	base context.Context
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	// UploadDir receives uploaded documents until their job finishes
	// (default: the system temp dir).
	UploadDir   string
	Sink        sink.Options
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	Version     string
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string     `json:"status"`
	Version string     `json:"version,omitempty"`
	Time    string     `json:"time"`
	Jobs    jobs.Stats `json:"jobs"`
}

// SubmitResponse is returned by an asynchronous POST /jobs.
type SubmitResponse struct {
	ID    string     `json:"id"`
	State jobs.State `json:"state"`
}

// ListResponse is returned by GET /jobs. Results are omitted.
type ListResponse struct {
	Jobs  []jobs.Snapshot `json:"jobs"`
	Count int             `json:"count"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Event is one websocket message on /jobs/{id}/events.
type Event struct {
	Type string        `json:"type"` // "progress" or "finished"
	Job  jobs.Snapshot `json:"job"`
}

// NewServer creates a server around m. ctx bounds background work started
// on behalf of asynchronous submissions.
func NewServer(ctx context.Context, m jobManager, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "tabscan-uploads")
	}
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, err
	}
	maxUpload := cfg.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}
	return &Server{
		jobs:        m,
		sinkOpts:    cfg.Sink,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: maxUpload,
		uploadDir:   uploadDir,
		rateLimiter: cfg.RateLimiter,
		logger:      logger,
		version:     cfg.Version,
		base:        ctx,
	}, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /jobs", s.corsMiddleware(s.rateLimitMiddleware(s.submitHandler)))
	mux.HandleFunc("GET /jobs", s.corsMiddleware(s.listHandler))
	mux.HandleFunc("GET /jobs/{id}", s.corsMiddleware(s.getHandler))
	mux.HandleFunc("DELETE /jobs/{id}", s.corsMiddleware(s.cancelHandler))
	mux.HandleFunc("GET /jobs/{id}/result", s.corsMiddleware(s.resultHandler))
	mux.HandleFunc("GET /jobs/{id}/events", s.eventsHandler)
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
