// Package bigquery wraps the BigQuery client behind the workflow's
// validation, execution, and verification capabilities.
package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"sqlbridge/internal/config"
)

// Service holds the BigQuery client and the execution policy around it.
type Service struct {
	client   *bq.Client
	project  string
	location string
	rowLimit int
	allowed  []string
	timeout  time.Duration
}

// New creates a BigQuery service using Application Default Credentials.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg.BigQuery.ProjectID == "" {
		return nil, fmt.Errorf("BigQuery project not configured (set GOOGLE_PROJECT_ID)")
	}

	client, err := bq.NewClient(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	rowLimit := cfg.BigQuery.ExecutionRowLimit
	if rowLimit <= 0 {
		rowLimit = 100
	}

	return &Service{
		client:   client,
		project:  cfg.BigQuery.ProjectID,
		location: cfg.BigQuery.Location,
		rowLimit: rowLimit,
		allowed:  cfg.Workflow.AllowedDatasets,
		timeout:  cfg.GetBigQueryTimeout(),
	}, nil
}

// Close closes the underlying client.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ensureTimeout applies the configured request timeout when the caller
// passed a context without a deadline.
func (s *Service) ensureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) query(sql string) *bq.Query {
	q := s.client.Query(sql)
	if s.location != "" {
		q.Location = s.location
	}
	return q
}

// readRows drains a finished job's result up to the configured row limit.
func (s *Service) readRows(ctx context.Context, job *bq.Job) ([]map[string]any, error) {
	it, err := job.Read(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0)
	for len(rows) < s.rowLimit {
		var row map[string]bq.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		converted := make(map[string]any, len(row))
		for k, v := range row {
			converted[k] = v
		}
		rows = append(rows, converted)
	}
	return rows, nil
}

// quoteTable backticks a fully qualified table name unless already quoted.
func quoteTable(table string) string {
	if strings.HasPrefix(table, "`") {
		return table
	}
	return "`" + table + "`"
}
