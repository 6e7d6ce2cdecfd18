package bigquery

import (
	"context"
	"fmt"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"sqlbridge/internal/logging"
)

// RowCount returns the number of rows in table. It doubles as an
// existence probe: a missing table surfaces as a query error.
func (s *Service) RowCount(ctx context.Context, table string) (int64, error) {
	sql := fmt.Sprintf("SELECT count(*) AS cnt FROM %s", quoteTable(table))
	n, err := s.scanInt(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("row count query failed for %s: %s", table, errorDetail(err))
	}
	logging.BigQuery("row count %s = %d", table, n)
	return n, nil
}

// DiffCount returns the number of rows present in exactly one of the two
// tables. Zero means the tables hold identical content.
func (s *Service) DiffCount(ctx context.Context, targetTable, truthTable string) (int64, error) {
	target := quoteTable(targetTable)
	truth := quoteTable(truthTable)
	sql := fmt.Sprintf(`SELECT count(*) AS diff_count FROM (
    (SELECT * FROM %s EXCEPT DISTINCT SELECT * FROM %s)
    UNION ALL
    (SELECT * FROM %s EXCEPT DISTINCT SELECT * FROM %s)
)`, target, truth, truth, target)

	n, err := s.scanInt(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("content diff query failed: %s", errorDetail(err))
	}
	logging.BigQuery("content diff %s vs %s = %d rows", targetTable, truthTable, n)
	return n, nil
}

// scanInt runs a single-row single-column aggregate query and returns
// the value.
func (s *Service) scanInt(ctx context.Context, sql string) (int64, error) {
	ctx, cancel := s.ensureTimeout(ctx)
	defer cancel()

	it, err := s.query(sql).Read(ctx)
	if err != nil {
		return 0, err
	}
	var row []bq.Value
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, fmt.Errorf("query returned no rows")
		}
		return 0, err
	}
	if len(row) == 0 {
		return 0, fmt.Errorf("query returned no columns")
	}
	n, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", row[0])
	}
	return n, nil
}
