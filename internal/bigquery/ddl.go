package bigquery

import (
	"context"
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"sqlbridge/internal/logging"
)

// TableDDL returns the CREATE statement for a table or view as recorded in
// the dataset's INFORMATION_SCHEMA. The table name may be dataset.table or
// project.dataset.table, with or without backticks.
func (s *Service) TableDDL(ctx context.Context, table string) (string, error) {
	project, dataset, name, err := s.splitTable(table)
	if err != nil {
		return "", err
	}

	sql := fmt.Sprintf(
		"SELECT ddl FROM `%s.%s.INFORMATION_SCHEMA.TABLES` WHERE table_name = '%s'",
		project, dataset, strings.ReplaceAll(name, "'", "\\'"),
	)

	ctx, cancel := s.ensureTimeout(ctx)
	defer cancel()

	it, err := s.query(sql).Read(ctx)
	if err != nil {
		return "", fmt.Errorf("ddl query failed for %s: %s", table, errorDetail(err))
	}

	var row []bq.Value
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return "", fmt.Errorf("table %s not found in %s.%s", name, project, dataset)
		}
		return "", fmt.Errorf("ddl query failed for %s: %s", table, errorDetail(err))
	}
	if len(row) == 0 || row[0] == nil {
		return "", fmt.Errorf("no ddl recorded for %s", table)
	}

	ddl, ok := row[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected ddl type %T for %s", row[0], table)
	}

	logging.BigQueryDebug("fetched ddl for %s (%d chars)", table, len(ddl))
	return ddl, nil
}

// splitTable resolves a table reference into project, dataset, and table
// parts, defaulting the project to the client's.
func (s *Service) splitTable(table string) (project, dataset, name string, err error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(table), "`"), ".")
	switch len(parts) {
	case 2:
		return s.project, parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("invalid table reference %q", table)
	}
}
