package workflow

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "SELECT 1", "SELECT 1"},
		{"sql fence", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"missing closing fence", "```sql\nSELECT 1", "SELECT 1"},
		{"surrounding whitespace", "  \nSELECT 1\n ", "SELECT 1"},
		{"multiline body", "```sql\nSELECT a\nFROM t\n```", "SELECT a\nFROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateSparkAcceptsStatements(t *testing.T) {
	valid := []string{
		"SELECT 1",
		"WITH t AS (SELECT 1) SELECT * FROM t",
		"INSERT INTO dw.target SELECT * FROM dw.source",
		"USE warehouse; SELECT 1",
		"SET spark.sql.shuffle.partitions=200; SELECT 1",
		"(SELECT 1) UNION ALL (SELECT 2)",
		"SELECT 'it''s quoted' FROM dw.t",
		"-- leading comment\nSELECT 1",
		"/* block\ncomment */ SELECT 1",
		"CREATE TABLE dw.t AS SELECT 1",
		"MERGE INTO dw.t USING dw.s ON dw.t.id = dw.s.id WHEN MATCHED THEN UPDATE SET v = 1",
	}
	for _, sql := range valid {
		if _, err := validateSpark(sql); err != nil {
			t.Errorf("validateSpark(%q) = %v, want nil", sql, err)
		}
	}
}

func TestValidateSparkRejectsBrokenInput(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr string
	}{
		{"empty", "", "empty SQL"},
		{"whitespace only", "   \n\t", "empty SQL"},
		{"comment only", "-- nothing here", "empty SQL"},
		{"misspelled keyword", "SELEC 1", "statement must start with a SQL keyword"},
		{"second statement invalid", "SELECT 1; FOO 2", "statement must start with a SQL keyword"},
		{"unbalanced open", "SELECT (1", "unbalanced parentheses"},
		{"unbalanced close", "SELECT 1)", "unbalanced parentheses"},
		{"unterminated string", "SELECT 'abc", "unterminated string literal"},
		{"unterminated comment", "SELECT 1 /* oops", "unterminated block comment"},
		{"unterminated identifier", "SELECT * FROM `dw.t", "unterminated quoted identifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateSpark(tt.sql)
			if err == nil {
				t.Fatalf("validateSpark(%q) succeeded, want error", tt.sql)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSourceTableExtraction(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			"from and join",
			"SELECT a FROM dw.orders o JOIN dw.users u ON o.uid = u.id",
			[]string{"dw.orders", "dw.users"},
		},
		{
			"insert target counts",
			"INSERT INTO dw.target SELECT * FROM dw.source",
			[]string{"dw.source", "dw.target"},
		},
		{
			"cte alias excluded",
			"WITH active AS (SELECT * FROM dw.users) SELECT * FROM active",
			[]string{"dw.users"},
		},
		{
			"qualified name shadowing a cte still counts",
			"WITH active AS (SELECT * FROM dw.users) SELECT * FROM dw.active",
			[]string{"dw.active", "dw.users"},
		},
		{
			"extract from is not a table",
			"SELECT EXTRACT(DAY FROM ts) FROM dw.events",
			[]string{"dw.events"},
		},
		{
			"subquery yields no name",
			"SELECT * FROM (SELECT 1) t",
			nil,
		},
		{
			"backquoted reference",
			"SELECT * FROM `proj.ds.clicks`",
			[]string{"proj.ds.clicks"},
		},
		{
			"case insensitive dedup",
			"SELECT * FROM dw.t UNION ALL SELECT * FROM DW.T",
			[]string{"dw.t"},
		},
		{
			"string literals never match",
			"SELECT * FROM dw.t WHERE note = 'copy FROM ghost.table'",
			[]string{"dw.t"},
		},
		{
			"commented references ignored",
			"-- FROM ghost.table\nSELECT * FROM dw.t",
			[]string{"dw.t"},
		},
		{
			"truncate table",
			"TRUNCATE TABLE dw.staging",
			[]string{"dw.staging"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateSpark(tt.sql)
			if err != nil {
				t.Fatalf("validateSpark failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tables mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSourceTablesAreSorted(t *testing.T) {
	got, err := validateSpark("SELECT * FROM dw.zeta JOIN dw.alpha JOIN dw.mid")
	if err != nil {
		t.Fatalf("validateSpark failed: %v", err)
	}
	want := []string{"dw.alpha", "dw.mid", "dw.zeta"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}
