package usage

import (
	"context"
	"sync"
	"time"

	"sqlbridge/internal/logging"
)

// Tracker aggregates usage records in memory and forwards each record to
// the attached sinks. Sink failures are logged and never propagate to the
// caller; token accounting must not interfere with a running conversion.
type Tracker struct {
	mu      sync.Mutex
	total   TokenCounts
	byRun   map[string]TokenCounts
	byStep  map[string]TokenCounts
	byModel map[string]TokenCounts
	errors  int64
	sinks   []Recorder
}

// NewTracker creates a tracker that fans records out to the given sinks.
func NewTracker(sinks ...Recorder) *Tracker {
	return &Tracker{
		byRun:   make(map[string]TokenCounts),
		byStep:  make(map[string]TokenCounts),
		byModel: make(map[string]TokenCounts),
		sinks:   sinks,
	}
}

// AddSink attaches an additional recorder after construction.
func (t *Tracker) AddSink(r Recorder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, r)
}

// Track records one LLM transaction. A zero Timestamp is filled in.
func (t *Tracker) Track(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	t.mu.Lock()
	t.total.add(rec.Tokens)
	addToMap(t.byRun, rec.RunID, rec.Tokens)
	addToMap(t.byStep, rec.Step, rec.Tokens)
	addToMap(t.byModel, rec.Model, rec.Tokens)
	if rec.Status == StatusError {
		t.errors++
	}
	sinks := t.sinks
	t.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Record(ctx, rec); err != nil {
			logging.Usage("usage sink failed run=%s step=%s: %v", rec.RunID, rec.Step, err)
		}
	}
}

// RunTotals returns the aggregated counts for one run.
func (t *Tracker) RunTotals(runID string) TokenCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byRun[runID]
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AggregatedStats{
		Total:   t.total,
		ByRun:   copyTokenCountsMap(t.byRun),
		ByStep:  copyTokenCountsMap(t.byStep),
		ByModel: copyTokenCountsMap(t.byModel),
		Errors:  t.errors,
	}
}

func addToMap(m map[string]TokenCounts, key string, tok Tokens) {
	if key == "" {
		return
	}
	entry := m[key]
	entry.add(tok)
	m[key] = entry
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}
