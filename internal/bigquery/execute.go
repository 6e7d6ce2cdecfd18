package bigquery

import (
	"context"
	"fmt"

	bq "cloud.google.com/go/bigquery"

	"sqlbridge/internal/logging"
	"sqlbridge/internal/workflow"
)

// Execute runs validated SQL. Modification statements must target a table
// inside the configured dataset allow list; the check happens before any
// job is submitted.
func (s *Service) Execute(ctx context.Context, sql string) (workflow.ExecutionOutcome, error) {
	if target, isMod := ModificationTarget(sql); isMod {
		if target == "" {
			return workflow.ExecutionOutcome{}, fmt.Errorf("SQL Safety Check Failed: Detected data modification but could not identify target table.")
		}
		if err := CheckAllowedTarget(target, s.allowed); err != nil {
			logging.BigQueryError("safety check rejected target %s", target)
			return workflow.ExecutionOutcome{}, err
		}
		logging.BigQuery("safety check passed for target %s", target)
	}

	ctx, cancel := s.ensureTimeout(ctx)
	defer cancel()

	job, err := s.query(sql).Run(ctx)
	if err != nil {
		return workflow.ExecutionOutcome{}, fmt.Errorf("query start failed: %s", errorDetail(err))
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return workflow.ExecutionOutcome{}, fmt.Errorf("query failed: %s", errorDetail(err))
	}
	if err := status.Err(); err != nil {
		return workflow.ExecutionOutcome{}, fmt.Errorf("query failed: %s", errorDetail(err))
	}

	out := workflow.ExecutionOutcome{JobID: job.ID()}

	var stmtType string
	var affected int64
	var stats *bq.QueryStatistics
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bq.QueryStatistics); ok {
			stats = qs
			stmtType = qs.StatementType
			affected = qs.NumDMLAffectedRows
		}
	}

	out.TargetTable = destinationTable(job, stats)

	switch stmtType {
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		out.AffectedRows = affected
		out.Summary = fmt.Sprintf("Query executed successfully. Rows affected: %d", affected)
	case "CREATE_TABLE", "CREATE_TABLE_AS_SELECT":
		out.Summary = "Query executed successfully."
	default:
		rows, err := s.readRows(ctx, job)
		if err != nil {
			return workflow.ExecutionOutcome{}, fmt.Errorf("result read failed: %s", errorDetail(err))
		}
		out.Rows = rows
	}

	logging.BigQuery("executed job=%s type=%s target=%s rows=%d affected=%d",
		out.JobID, stmtType, out.TargetTable, len(out.Rows), out.AffectedRows)
	return out, nil
}

// destinationTable resolves the table a job wrote. DML jobs carry it in
// the job configuration, DDL jobs in the query statistics.
func destinationTable(job *bq.Job, stats *bq.QueryStatistics) string {
	if jc, err := job.Config(); err == nil {
		if qc, ok := jc.(*bq.QueryConfig); ok && qc.Dst != nil {
			return fmt.Sprintf("%s.%s.%s", qc.Dst.ProjectID, qc.Dst.DatasetID, qc.Dst.TableID)
		}
	}
	if stats != nil && stats.DDLTargetTable != nil {
		t := stats.DDLTargetTable
		return fmt.Sprintf("%s.%s.%s", t.ProjectID, t.DatasetID, t.TableID)
	}
	return ""
}
