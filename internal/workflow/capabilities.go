package workflow

import (
	"context"
	"time"

	"sqlbridge/internal/usage"
)

// TranslateRequest carries everything one translation or fix call needs.
// ErrorMessage set means a fix: the translator rebuilds the failing SQL
// using the error text and attempt history instead of converting fresh.
type TranslateRequest struct {
	SparkSQL     string
	CurrentSQL   string
	ErrorMessage string
	TableInfo    string
	TableDDLs    string
	History      []Attempt
	Step         Step
}

// TranslateResult is candidate SQL plus the call's accounting.
type TranslateResult struct {
	SQL     string
	Model   string
	Usage   usage.Tokens
	Latency time.Duration
}

// Translator converts Spark SQL to BigQuery SQL, or repairs a failing
// candidate when the request carries fix context. Treated as stateless and
// fallible; all retry policy lives in the engine.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (TranslateResult, error)
}

// Validation modes reported in ValidationOutcome.Mode.
const (
	ValidationModeDryRun = "dry_run"
	ValidationModeLLM    = "llm"
)

// ValidationOutcome reports one validation attempt. The error return of
// Validate is reserved for infrastructure failure; an invalid query is a
// successful call with OK=false.
type ValidationOutcome struct {
	Mode         string
	OK           bool
	ErrorMessage string
	Model        string
	Usage        usage.Tokens
}

// Validator checks candidate SQL without executing it: BigQuery dry-run in
// dry_run mode, an LLM plausibility pass in llm mode.
type Validator interface {
	Validate(ctx context.Context, sql string) (ValidationOutcome, error)
}

// CheckOutcome reports one semantic check verdict.
type CheckOutcome struct {
	OK           bool
	ErrorMessage string
	Model        string
	Usage        usage.Tokens
}

// SemanticChecker judges whether the converted SQL preserves the meaning of
// the source and is safe to run. Always LLM-backed; an unparseable verdict
// is a failed check, not an infrastructure error.
type SemanticChecker interface {
	Check(ctx context.Context, sparkSQL, bigquerySQL, tableDDLs string) (CheckOutcome, error)
}

// ExecutionOutcome reports a side-effecting run. DML and DDL statements
// carry a summary and affected row count; SELECT statements carry rows
// capped by configuration.
type ExecutionOutcome struct {
	TargetTable  string
	JobID        string
	Summary      string
	AffectedRows int64
	Rows         []map[string]any
}

// Executor runs validated SQL against BigQuery.
type Executor interface {
	Execute(ctx context.Context, sql string) (ExecutionOutcome, error)
}

// Verification modes reported in VerificationOutcome.Mode. Existence is
// not configurable; it is the degraded mode used when no ground truth
// table is known for the target.
const (
	VerificationModeRowCount    = "row_count"
	VerificationModeFullContent = "full_content"
	VerificationModeExistence   = "existence"
)

// TruthFetcher reads verification inputs from BigQuery. RowCount backs the
// row_count mode and the bare existence check; DiffCount backs full_content
// mode with a symmetric EXCEPT DISTINCT comparison.
type TruthFetcher interface {
	RowCount(ctx context.Context, table string) (int64, error)
	DiffCount(ctx context.Context, targetTable, truthTable string) (int64, error)
}

// SchemaFetcher reads table DDL. The engine uses it to put the target
// tables' real schemas into translation and fix prompts; a fetch failure
// only costs prompt context, never the run.
type SchemaFetcher interface {
	TableDDL(ctx context.Context, table string) (string, error)
}
