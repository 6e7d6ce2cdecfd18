// Package sqlchunk splits oversized SQL statements into independently
// translatable fragments and reassembles translated fragments back into a
// single statement. Splitting happens only along structurally safe
// boundaries: statement separators, INSERT/ALTER VIEW headers, top-level
// CTE definitions, and top-level UNION branches.
package sqlchunk

import "strings"

// Kind identifies the structural role of a chunk.
type Kind string

const (
	// KindMain is a standalone query or the final SELECT of a CTE query.
	KindMain Kind = "main"
	// KindCTE is a single WITH-clause definition, content includes the
	// surrounding parentheses.
	KindCTE Kind = "cte"
	// KindSelect is the SELECT body of an INSERT or ALTER VIEW statement.
	KindSelect Kind = "select"
	// KindUnionFirst is the first branch of a top-level UNION query.
	KindUnionFirst Kind = "union_first"
	// KindUnionPart is a subsequent branch of a top-level UNION query.
	KindUnionPart Kind = "union_part"
	// KindInsertHeader is the INSERT ... TABLE <name> prefix. It is
	// rewritten locally, never sent to the translator.
	KindInsertHeader Kind = "insert_header"
	// KindAlterViewHeader is the ALTER VIEW <name> AS prefix. It is
	// rewritten locally, never sent to the translator.
	KindAlterViewHeader Kind = "alter_view_header"
	// KindStatement is one statement of a multi-statement script.
	KindStatement Kind = "statement"
	// KindUse is a USE statement. Dropped during reassembly: BigQuery has
	// no USE and the default dataset comes from the client.
	KindUse Kind = "use"
)

// Status tracks a chunk through translation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusTranslated Status = "translated"
	StatusFailed     Status = "failed"
)

// Chunk is one translatable fragment of a larger statement.
type Chunk struct {
	Kind       Kind
	Name       string   // CTE name or target table, when applicable
	Content    string   // original fragment text
	Index      int      // position in the original statement
	DependsOn  []string // CTE names this fragment references
	Translated string   // set by the caller after translation
	Status     Status
	connector  string // UNION keyword joining this branch to the previous one
}

// NeedsTranslation reports whether the chunk is sent to the translation
// capability. Header chunks are rewritten locally and USE statements are
// dropped entirely.
func (c Chunk) NeedsTranslation() bool {
	switch c.Kind {
	case KindInsertHeader, KindAlterViewHeader, KindUse:
		return false
	}
	return true
}

// Limits holds the size thresholds that trigger chunking in auto mode.
type Limits struct {
	MaxLength int // characters
	MaxLines  int // newline count
}

// DefaultLimits matches the documented thresholds of the conversion service.
func DefaultLimits() Limits {
	return Limits{MaxLength: 8000, MaxLines: 200}
}

// ShouldChunk reports whether sql exceeds either limit. Zero or negative
// limit values fall back to the defaults.
func ShouldChunk(sql string, lim Limits) bool {
	if lim.MaxLength <= 0 {
		lim.MaxLength = DefaultLimits().MaxLength
	}
	if lim.MaxLines <= 0 {
		lim.MaxLines = DefaultLimits().MaxLines
	}
	trimmed := strings.TrimSpace(sql)
	return len(trimmed) > lim.MaxLength || strings.Count(trimmed, "\n") > lim.MaxLines
}
