package sqlchunk

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestShouldChunk(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		lim  Limits
		want bool
	}{
		{"short query", "SELECT 1", Limits{MaxLength: 8000, MaxLines: 200}, false},
		{"over length", strings.Repeat("x", 8001), Limits{MaxLength: 8000, MaxLines: 200}, true},
		{"over lines", strings.Repeat("SELECT 1\n", 201), Limits{MaxLength: 100000, MaxLines: 200}, true},
		{"exactly at length", strings.Repeat("x", 8000), Limits{MaxLength: 8000, MaxLines: 200}, false},
		{"zero limits use defaults", "SELECT 1", Limits{}, false},
		{"zero limits long input", strings.Repeat("y", 9000), Limits{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldChunk(tt.sql, tt.lim); got != tt.want {
				t.Errorf("ShouldChunk() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeSingleChunk(t *testing.T) {
	chunks := Analyze("SELECT col FROM some_table WHERE dt = '2024-01-01'")
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].Kind != KindMain {
		t.Errorf("kind = %s, want %s", chunks[0].Kind, KindMain)
	}
	if chunks[0].Status != StatusPending {
		t.Errorf("status = %s, want %s", chunks[0].Status, StatusPending)
	}
}

func TestAnalyzeMultipleStatements(t *testing.T) {
	sql := "USE warehouse;\nSELECT 1;\nSELECT ';' AS semi"
	chunks := Analyze(sql)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[0].Kind != KindUse {
		t.Errorf("chunks[0].Kind = %s, want %s", chunks[0].Kind, KindUse)
	}
	if chunks[1].Kind != KindStatement || chunks[2].Kind != KindStatement {
		t.Errorf("statement kinds = %s, %s", chunks[1].Kind, chunks[2].Kind)
	}
	// The quoted semicolon must not split the last statement.
	if !strings.Contains(chunks[2].Content, "';'") {
		t.Errorf("quoted semicolon lost: %q", chunks[2].Content)
	}
}

func TestAnalyzeInsertSelect(t *testing.T) {
	sql := "INSERT OVERWRITE TABLE db.daily_agg SELECT dt, count(*) FROM db.events GROUP BY dt"
	chunks := Analyze(sql)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].Kind != KindInsertHeader {
		t.Fatalf("chunks[0].Kind = %s, want %s", chunks[0].Kind, KindInsertHeader)
	}
	if chunks[0].Name != "db.daily_agg" {
		t.Errorf("target table = %q, want db.daily_agg", chunks[0].Name)
	}
	if chunks[0].NeedsTranslation() {
		t.Error("insert header should not need translation")
	}
	if chunks[1].Kind != KindSelect {
		t.Errorf("chunks[1].Kind = %s, want %s", chunks[1].Kind, KindSelect)
	}
}

func TestAnalyzeInsertSelectWithCTE(t *testing.T) {
	sql := "INSERT INTO TABLE db.tgt WITH base AS (SELECT id FROM db.src) SELECT * FROM base"
	chunks := Analyze(sql)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	wantKinds := []Kind{KindInsertHeader, KindCTE, KindMain}
	for i, k := range wantKinds {
		if chunks[i].Kind != k {
			t.Errorf("chunks[%d].Kind = %s, want %s", i, chunks[i].Kind, k)
		}
	}
	if chunks[1].Name != "base" {
		t.Errorf("cte name = %q, want base", chunks[1].Name)
	}
}

func TestAnalyzeAlterView(t *testing.T) {
	sql := "ALTER VIEW reporting.v_daily AS SELECT dt, total FROM reporting.daily"
	chunks := Analyze(sql)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].Kind != KindAlterViewHeader || chunks[0].Name != "reporting.v_daily" {
		t.Errorf("header = %s %q", chunks[0].Kind, chunks[0].Name)
	}
}

func TestAnalyzeCTEDependencies(t *testing.T) {
	sql := `WITH base AS (SELECT id, dt FROM db.events),
daily AS (SELECT dt, count(*) AS n FROM base GROUP BY dt)
SELECT * FROM daily JOIN base ON daily.dt = base.dt`
	chunks := Analyze(sql)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}

	if chunks[0].Name != "base" || chunks[1].Name != "daily" {
		t.Fatalf("cte names = %q, %q", chunks[0].Name, chunks[1].Name)
	}
	if len(chunks[0].DependsOn) != 0 {
		t.Errorf("base deps = %v, want none", chunks[0].DependsOn)
	}
	if diff := cmp.Diff([]string{"base"}, chunks[1].DependsOn); diff != "" {
		t.Errorf("daily deps mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"base", "daily"}, chunks[2].DependsOn); diff != "" {
		t.Errorf("main deps mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeCTENestedParens(t *testing.T) {
	sql := `WITH agg AS (SELECT id, sum(v) FROM (SELECT id, v FROM t WHERE note = 'a(b)c') GROUP BY id) SELECT * FROM agg`
	chunks := Analyze(sql)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "'a(b)c'") {
		t.Errorf("nested parens inside string broke the scan: %q", chunks[0].Content)
	}
}

func TestAnalyzeUnion(t *testing.T) {
	sql := "SELECT 1 AS x UNION ALL SELECT 2 UNION SELECT 3"
	chunks := Analyze(sql)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[0].Kind != KindUnionFirst {
		t.Errorf("chunks[0].Kind = %s, want %s", chunks[0].Kind, KindUnionFirst)
	}
	if chunks[1].connector != "UNION ALL" {
		t.Errorf("chunks[1].connector = %q, want UNION ALL", chunks[1].connector)
	}
	if chunks[2].connector != "UNION" {
		t.Errorf("chunks[2].connector = %q, want UNION", chunks[2].connector)
	}
}

func TestAnalyzeUnionInsideSubqueryIgnored(t *testing.T) {
	sql := "SELECT * FROM (SELECT 1 UNION ALL SELECT 2) t"
	chunks := Analyze(sql)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1 (union is not top level)", len(chunks))
	}
	if chunks[0].Kind != KindMain {
		t.Errorf("kind = %s, want %s", chunks[0].Kind, KindMain)
	}
}

func TestAnalyzeUnionInsideStringIgnored(t *testing.T) {
	sql := "SELECT 'UNION ALL' AS words FROM t"
	chunks := Analyze(sql)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
}

func TestFindMatchingParen(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		start int
		want  int
	}{
		{"flat", "(abc)", 0, 4},
		{"nested", "(a(b)c)", 0, 6},
		{"paren in string", "(a ')' b)", 0, 8},
		{"unbalanced", "(abc", 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findMatchingParen(tt.s, tt.start); got != tt.want {
				t.Errorf("findMatchingParen(%q) = %d, want %d", tt.s, got, tt.want)
			}
		})
	}
}

func TestRemoveParenContent(t *testing.T) {
	got := removeParenContent("SELECT a FROM (SELECT b FROM t) x WHERE note = 'keep (this)'")
	if strings.Contains(got, "SELECT b") {
		t.Errorf("subquery content survived: %q", got)
	}
	if !strings.Contains(got, "()") {
		t.Errorf("collapsed marker missing: %q", got)
	}
}
