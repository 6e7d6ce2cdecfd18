// Package usage tracks LLM token consumption per conversion run.
//
// Every capability call that touches a model produces one Record. The
// Tracker aggregates records in memory (per run, per step, per model) and
// fans them out to attached Recorder sinks such as the sqlite run archive
// or the BigQuery usage log table.
package usage

import (
	"context"
	"time"
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tokens is the per-call token accounting reported by an LLM client.
type Tokens struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
	Cached int `json:"cached_tokens"`
	Total  int `json:"total_tokens"`
}

// Add accumulates another call's tokens into this one.
func (t *Tokens) Add(other Tokens) {
	t.Input += other.Input
	t.Output += other.Output
	t.Cached += other.Cached
	t.Total += other.Total
}

// Record is a single LLM transaction tied to a workflow step.
type Record struct {
	Timestamp    time.Time `json:"event_timestamp"`
	RunID        string    `json:"run_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Step         string    `json:"step"`
	Model        string    `json:"model"`
	Tokens       Tokens    `json:"tokens"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
}

// Recorder receives completed usage records. Implementations must not
// block the workflow; slow sinks should buffer internally.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec Record) error

func (f RecorderFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// TokenCounts holds aggregated sums for one dimension key.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
	Total  int64 `json:"total"`
	Calls  int64 `json:"calls"`
}

func (tc *TokenCounts) add(tok Tokens) {
	tc.Input += int64(tok.Input)
	tc.Output += int64(tok.Output)
	tc.Cached += int64(tok.Cached)
	tc.Total += int64(tok.Total)
	tc.Calls++
}

// AggregatedStats holds counters broken down by run, step, and model.
type AggregatedStats struct {
	Total   TokenCounts            `json:"total"`
	ByRun   map[string]TokenCounts `json:"by_run"`
	ByStep  map[string]TokenCounts `json:"by_step"`
	ByModel map[string]TokenCounts `json:"by_model"`
	Errors  int64                  `json:"errors"`
}
