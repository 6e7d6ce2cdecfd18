package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"sqlbridge/internal/logging"
	"sqlbridge/internal/workflow"
)

// Validate checks SQL with a BigQuery dry run. A rejected query is a
// normal outcome with OK=false; the error return is reserved for
// cancellation and infrastructure failure.
func (s *Service) Validate(ctx context.Context, sql string) (workflow.ValidationOutcome, error) {
	ctx, cancel := s.ensureTimeout(ctx)
	defer cancel()

	// Scheduler macros are not valid BigQuery syntax. Swap them for
	// equivalent expressions so the dry run judges the rest of the query.
	sqlForValidation := ReplaceTemplateVariables(sql)

	q := s.query(sqlForValidation)
	q.DryRun = true
	q.DisableQueryCache = true

	job, err := q.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.ValidationOutcome{}, ctx.Err()
		}
		detail := errorDetail(err)
		logging.BigQuery("dry run rejected: %s", detail)
		return workflow.ValidationOutcome{
			Mode:         workflow.ValidationModeDryRun,
			OK:           false,
			ErrorMessage: detail,
		}, nil
	}

	var bytes int64
	if status := job.LastStatus(); status != nil && status.Statistics != nil {
		bytes = status.Statistics.TotalBytesProcessed
	}
	logging.BigQuery("dry run passed, would process %d bytes", bytes)

	return workflow.ValidationOutcome{
		Mode: workflow.ValidationModeDryRun,
		OK:   true,
	}, nil
}

// errorDetail flattens BigQuery error structures into the message the fix
// loop feeds back to the model.
func errorDetail(err error) string {
	var multi bq.MultiError
	if errors.As(err, &multi) {
		parts := make([]string, 0, len(multi))
		for _, e := range multi {
			var bqErr *bq.Error
			if errors.As(e, &bqErr) {
				parts = append(parts, formatBQError(bqErr))
			} else {
				parts = append(parts, e.Error())
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}

	var bqErr *bq.Error
	if errors.As(err, &bqErr) {
		return formatBQError(bqErr)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if len(apiErr.Errors) > 0 {
			parts := make([]string, 0, len(apiErr.Errors))
			for _, item := range apiErr.Errors {
				parts = append(parts, item.Message)
			}
			return strings.Join(parts, "; ")
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}

	return fmt.Sprintf("Unexpected error: %s", err.Error())
}

func formatBQError(e *bq.Error) string {
	if e.Location != "" {
		return fmt.Sprintf("%s (at %s)", e.Message, e.Location)
	}
	return e.Message
}
