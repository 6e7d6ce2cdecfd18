// Package store archives finished conversion runs and per-call LLM usage
// in a local SQLite database. The archive feeds the /runs endpoints and
// the report command; losing it never affects an in-flight run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"sqlbridge/internal/logging"
	"sqlbridge/internal/usage"
	"sqlbridge/internal/workflow"
)

// Store manages the run archive database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New creates or opens the run archive at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreError("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set sqlite journal_mode=WAL: %v", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("run archive opened at %s", path)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT,
		success INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		validation_mode TEXT,
		error TEXT,
		warning TEXT,
		result_json TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
	CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success);

	CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_timestamp DATETIME NOT NULL,
		run_id TEXT NOT NULL,
		session_id TEXT,
		step TEXT NOT NULL,
		model TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cached_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT,
		latency_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_usage_run ON llm_usage(run_id);
	CREATE INDEX IF NOT EXISTS idx_usage_step ON llm_usage(step);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON llm_usage(model);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RunSummary is the listing row for one archived run.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Success        bool      `json:"success"`
	RetryCount     int       `json:"retry_count"`
	ValidationMode string    `json:"validation_mode,omitempty"`
	Error          string    `json:"error,omitempty"`
	Warning        string    `json:"warning,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	TotalTokens    int64     `json:"total_tokens,omitempty"`
}

// SaveRun archives a finished run. Saving the same run id again replaces
// the previous record.
func (s *Store) SaveRun(res *workflow.ConversionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var totalTokens int64
	if res.TokenUsage != nil {
		totalTokens = res.TokenUsage.Total
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, session_id, success, retry_count, validation_mode,
			error, warning, result_json, started_at, duration_ms, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			session_id = excluded.session_id,
			success = excluded.success,
			retry_count = excluded.retry_count,
			validation_mode = excluded.validation_mode,
			error = excluded.error,
			warning = excluded.warning,
			result_json = excluded.result_json,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			total_tokens = excluded.total_tokens
	`, res.RunID, res.SessionID, res.Success, res.RetryCount, res.ValidationMode,
		headlineError(res), res.Warning, string(resultJSON), res.StartedAt,
		res.DurationMS, totalTokens)

	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	logging.Store("archived run %s success=%v retries=%d", res.RunID, res.Success, res.RetryCount)
	return nil
}

// GetRun retrieves a full archived result. Returns nil when the run id is
// unknown.
func (s *Store) GetRun(runID string) (*workflow.ConversionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var resultJSON string
	err := s.db.QueryRow(`SELECT result_json FROM runs WHERE run_id = ?`, runID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var res workflow.ConversionResult
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &res, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT run_id, session_id, success, retry_count, validation_mode,
			error, warning, started_at, duration_ms, total_tokens
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var sum RunSummary
		var sessionID, mode, errMsg, warning sql.NullString
		if err := rows.Scan(&sum.RunID, &sessionID, &sum.Success, &sum.RetryCount,
			&mode, &errMsg, &warning, &sum.StartedAt, &sum.DurationMS, &sum.TotalTokens); err != nil {
			continue
		}
		sum.SessionID = sessionID.String
		sum.ValidationMode = mode.String
		sum.Error = errMsg.String
		sum.Warning = warning.String
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// headlineError picks the error a run listing should surface.
func headlineError(res *workflow.ConversionResult) string {
	for _, msg := range []string{
		res.SparkError,
		res.ValidationError,
		res.LLMCheckError,
		res.ExecutionError,
		res.DataVerificationError,
	} {
		if msg != "" {
			return msg
		}
	}
	return ""
}

// Record implements usage.Recorder, appending one LLM transaction to the
// usage log.
func (s *Store) Record(ctx context.Context, rec usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_usage (event_timestamp, run_id, session_id, step, model,
			input_tokens, output_tokens, cached_tokens, total_tokens,
			status, error_message, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp, rec.RunID, rec.SessionID, rec.Step, rec.Model,
		rec.Tokens.Input, rec.Tokens.Output, rec.Tokens.Cached, rec.Tokens.Total,
		rec.Status, rec.ErrorMessage, rec.LatencyMS)

	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageForRun sums the usage log for one run. An empty run id sums the
// whole log.
func (s *Store) UsageForRun(runID string) (usage.TokenCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cached_tokens), 0), COALESCE(SUM(total_tokens), 0), COUNT(*)
		FROM llm_usage
	`
	var row *sql.Row
	if runID == "" {
		row = s.db.QueryRow(query)
	} else {
		row = s.db.QueryRow(query+` WHERE run_id = ?`, runID)
	}

	var tc usage.TokenCounts
	if err := row.Scan(&tc.Input, &tc.Output, &tc.Cached, &tc.Total, &tc.Calls); err != nil {
		return usage.TokenCounts{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	return tc, nil
}

// UsageByModel breaks the usage log down per model.
func (s *Store) UsageByModel() (map[string]usage.TokenCounts, error) {
	return s.usageGroupedBy("model")
}

// UsageByStep breaks the usage log down per workflow step.
func (s *Store) UsageByStep() (map[string]usage.TokenCounts, error) {
	return s.usageGroupedBy("step")
}

func (s *Store) usageGroupedBy(column string) (map[string]usage.TokenCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s, COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cached_tokens), 0), COALESCE(SUM(total_tokens), 0), COUNT(*)
		FROM llm_usage
		GROUP BY %s
	`, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[string]usage.TokenCounts)
	for rows.Next() {
		var key sql.NullString
		var tc usage.TokenCounts
		if err := rows.Scan(&key, &tc.Input, &tc.Output, &tc.Cached, &tc.Total, &tc.Calls); err != nil {
			continue
		}
		grouped[key.String] = tc
	}
	return grouped, rows.Err()
}
