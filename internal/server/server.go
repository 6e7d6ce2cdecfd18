// Package server exposes the conversion workflow over HTTP: a blocking
// convert endpoint, SSE progress streaming, recent-log replay, and run
// browsing backed by the archive.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sqlbridge/internal/config"
	"sqlbridge/internal/events"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/store"
	"sqlbridge/internal/workflow"

	"github.com/google/uuid"
)

// Converter runs conversions and reports the in-flight registry. The
// workflow engine implements it.
type Converter interface {
	Convert(ctx context.Context, req workflow.ConversionRequest) (*workflow.ConversionResult, error)
	Runs() []workflow.RunInfo
}

// Archive reads archived runs. The sqlite store implements it.
type Archive interface {
	GetRun(runID string) (*workflow.ConversionResult, error)
	ListRuns(limit int) ([]store.RunSummary, error)
}

// ReadinessCheck probes one dependency for the readiness endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server serves the conversion API. Bus and archive are optional: without
// a bus the log endpoints report streaming as unavailable, without an
// archive only in-flight runs are visible.
type Server struct {
	cfg     *config.Config
	engine  Converter
	bus     *events.Bus
	archive Archive
	checks  []ReadinessCheck
}

// New wires the API against its collaborators.
func New(cfg *config.Config, engine Converter, bus *events.Bus, archive Archive, checks ...ReadinessCheck) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("server: converter is required")
	}
	return &Server{cfg: cfg, engine: engine, bus: bus, archive: archive, checks: checks}, nil
}

// Handler returns the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /logs/stream", s.handleStream)
	mux.HandleFunc("GET /logs/recent", s.handleRecentLogs)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleRunByID)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	return recoverMiddleware(requestLogMiddleware(requestIDMiddleware(mux)))
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		logging.Server("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusWriter records the response code for the request log and keeps
// Flush working for the SSE handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = "req_" + uuid.NewString()[:8]
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logging.Server("%s %s -> %d (%dms)", r.Method, r.URL.Path, sw.status, time.Since(start).Milliseconds())
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logging.ServerError("panic on %s %s: %v", r.Method, r.URL.Path, v)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
