package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"sqlbridge/internal/logging"
	"sqlbridge/internal/usage"
)

// usageRow is the audit table schema for one model transaction.
type usageRow struct {
	EventTimestamp time.Time `bigquery:"event_timestamp"`
	RunID          string    `bigquery:"run_id"`
	SessionID      string    `bigquery:"session_id"`
	Step           string    `bigquery:"step"`
	Model          string    `bigquery:"model"`
	InputTokens    int       `bigquery:"input_tokens"`
	OutputTokens   int       `bigquery:"output_tokens"`
	CachedTokens   int       `bigquery:"cached_tokens"`
	TotalTokens    int       `bigquery:"total_tokens"`
	Status         string    `bigquery:"status"`
	ErrorMessage   string    `bigquery:"error_message"`
	LatencyMS      int64     `bigquery:"latency_ms"`
}

// UsageSink writes usage records to a BigQuery audit table. It implements
// usage.Recorder. The table is created on first use if missing.
type UsageSink struct {
	svc   *Service
	table string

	mu      sync.Mutex
	ensured bool
}

// NewUsageSink attaches an audit sink to the configured usage log table
// (project.dataset.table, or dataset.table in the client's project).
func NewUsageSink(svc *Service, table string) (*UsageSink, error) {
	if table == "" {
		return nil, fmt.Errorf("usage log table not configured")
	}
	if _, _, _, err := svc.splitTable(table); err != nil {
		return nil, err
	}
	return &UsageSink{svc: svc, table: table}, nil
}

// Record inserts one usage row. The first insert creates the table when
// it does not exist yet.
func (u *UsageSink) Record(ctx context.Context, rec usage.Record) error {
	project, dataset, name, err := u.svc.splitTable(u.table)
	if err != nil {
		return err
	}
	tbl := u.svc.client.DatasetInProject(project, dataset).Table(name)

	if err := u.ensureTable(ctx, tbl); err != nil {
		return fmt.Errorf("ensure usage table %s: %w", u.table, err)
	}

	row := usageRow{
		EventTimestamp: rec.Timestamp,
		RunID:          rec.RunID,
		SessionID:      rec.SessionID,
		Step:           rec.Step,
		Model:          rec.Model,
		InputTokens:    rec.Tokens.Input,
		OutputTokens:   rec.Tokens.Output,
		CachedTokens:   rec.Tokens.Cached,
		TotalTokens:    rec.Tokens.Total,
		Status:         rec.Status,
		ErrorMessage:   rec.ErrorMessage,
		LatencyMS:      rec.LatencyMS,
	}
	if err := tbl.Inserter().Put(ctx, row); err != nil {
		return fmt.Errorf("insert usage row: %w", err)
	}
	return nil
}

// usageTableMetadata describes the audit table layout: day-partitioned on
// the event timestamp and clustered by session and step, so per-session
// and per-step usage queries prune both partitions and blocks.
func usageTableMetadata() (*bq.TableMetadata, error) {
	schema, err := bq.InferSchema(usageRow{})
	if err != nil {
		return nil, err
	}
	return &bq.TableMetadata{
		Schema: schema,
		TimePartitioning: &bq.TimePartitioning{
			Type:  bq.DayPartitioningType,
			Field: "event_timestamp",
		},
		Clustering: &bq.Clustering{
			Fields: []string{"session_id", "step"},
		},
	}, nil
}

func (u *UsageSink) ensureTable(ctx context.Context, tbl *bq.Table) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ensured {
		return nil
	}

	meta, err := usageTableMetadata()
	if err != nil {
		return err
	}
	err = tbl.Create(ctx, meta)
	var apiErr *googleapi.Error
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict) {
		return err
	}
	if err == nil {
		logging.BigQuery("created usage log table %s", u.table)
	}
	u.ensured = true
	return nil
}
