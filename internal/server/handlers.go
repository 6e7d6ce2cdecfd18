package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sqlbridge/internal/events"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/store"
	"sqlbridge/internal/workflow"
)

// Version is stamped by the build; handlers report it in the info and
// health payloads.
var Version = "dev"

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "sqlbridge",
		"version": Version,
		"endpoints": []string{
			"POST /convert",
			"GET /logs/stream",
			"GET /logs/recent",
			"GET /runs",
			"GET /runs/{id}",
			"GET /health",
			"GET /readyz",
		},
	})
}

// handleConvert runs the workflow synchronously. Conversion failures are
// part of the result payload, so the response is 200 whenever a result
// exists, even when the run itself failed.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req workflow.ConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SparkSQL) == "" {
		writeError(w, http.StatusBadRequest, "spark_sql is required")
		return
	}

	res, err := s.engine.Convert(r.Context(), req)
	if res == nil {
		if err == nil {
			writeError(w, http.StatusInternalServerError, "conversion produced no result")
			return
		}
		logging.ServerError("convert failed before producing a result: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		logging.Server("run %s finished with error: %v", res.RunID, err)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming unavailable")
		return
	}

	count := 50
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	runID := r.URL.Query().Get("run_id")

	evts := s.bus.Recent(count, runID)
	if evts == nil {
		evts = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(evts),
		"events": evts,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	active := s.engine.Runs()
	if active == nil {
		active = []workflow.RunInfo{}
	}

	payload := map[string]any{"active": active}
	if s.archive != nil {
		recent, err := s.archive.ListRuns(limit)
		if err != nil {
			logging.ServerError("listing archived runs: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		if recent == nil {
			recent = []store.RunSummary{}
		}
		payload["recent"] = recent
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.archive != nil {
		res, err := s.archive.GetRun(id)
		if err != nil {
			logging.ServerError("loading run %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
		if res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	for _, info := range s.engine.Runs() {
		if info.RunID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found: "+id)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// handleReadyz probes every registered dependency check and degrades to
// 503 if any fails.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, 0, len(s.checks))
	healthy := true

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		start := time.Now()
		err := c.Check(ctx)
		cancel()

		cr := checkResult{
			Name:       c.Name,
			Status:     "ok",
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			cr.Status = "failed"
			cr.Error = err.Error()
			healthy = false
		}
		results = append(results, cr)
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
