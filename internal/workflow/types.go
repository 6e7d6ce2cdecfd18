// Package workflow drives one Spark SQL to BigQuery conversion run as a
// bounded state machine: syntax gate, translation (chunked when the input is
// large), dry-run or LLM validation, semantic check, a retry-budgeted fix
// loop, and optional execution plus data verification.
//
// The package owns the run state and all retry policy. External capabilities
// (translation, validation, execution, ground-truth reads) are injected
// through the interfaces in capabilities.go so tests can substitute scripted
// stand-ins for the LLM and BigQuery.
package workflow

import (
	"time"

	"sqlbridge/internal/usage"
)

// Step identifies one workflow state. The string values are the wire names
// emitted in status events and expected by the UI.
type Step string

const (
	StepInit          Step = "init"
	StepSparkValidate Step = "spark_sql_validate"
	StepConvert       Step = "convert"
	StepDryRun        Step = "bigquery_dry_run"
	StepSemanticCheck Step = "llm_sql_check"
	StepFix           Step = "fix"
	StepExecute       Step = "execute"
	StepVerify        Step = "data_verification"
	StepCompleted     Step = "completed"
	StepFailed        Step = "failed"
)

// Terminal reports whether the step ends a run.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ConversionRequest is the immutable input of one run.
type ConversionRequest struct {
	SparkSQL         string `json:"spark_sql"`
	SessionID        string `json:"session_id,omitempty"`
	GroundTruthTable string `json:"ground_truth_table,omitempty"`
}

// Attempt is one entry of the conversion history: the candidate SQL a
// validation attempt saw and the error it produced, if any.
type Attempt struct {
	Attempt     int    `json:"attempt"`
	BigQuerySQL string `json:"bigquery_sql,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ConversionResult is the terminal outcome of a run. Optional stages use
// pointer booleans: a nil value means the stage never ran (disabled or
// unreached), which is distinct from an explicit false.
type ConversionResult struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id,omitempty"`

	Success    bool   `json:"success"`
	SparkSQL   string `json:"spark_sql"`
	SparkValid bool   `json:"spark_valid"`
	SparkError string `json:"spark_error,omitempty"`

	BigQuerySQL string `json:"bigquery_sql,omitempty"`
	Chunked     bool   `json:"chunked,omitempty"`
	ChunkCount  int    `json:"chunk_count,omitempty"`

	ValidationSuccess bool   `json:"validation_success"`
	ValidationError   string `json:"validation_error,omitempty"`
	ValidationMode    string `json:"validation_mode,omitempty"`

	LLMCheckSuccess *bool  `json:"llm_check_success,omitempty"`
	LLMCheckError   string `json:"llm_check_error,omitempty"`

	ExecutionSuccess     *bool  `json:"execution_success,omitempty"`
	ExecutionResult      any    `json:"execution_result,omitempty"`
	ExecutionTargetTable string `json:"execution_target_table,omitempty"`
	ExecutionError       string `json:"execution_error,omitempty"`

	DataVerificationSuccess *bool                `json:"data_verification_success,omitempty"`
	DataVerificationResult  *VerificationOutcome `json:"data_verification_result,omitempty"`
	DataVerificationError   string               `json:"data_verification_error,omitempty"`

	RetryCount        int       `json:"retry_count"`
	ConversionHistory []Attempt `json:"conversion_history"`
	Warning           string    `json:"warning,omitempty"`

	TokenUsage *usage.TokenCounts `json:"token_usage,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
}

// VerificationOutcome is the recorded result of the data verification step.
// Mismatch is an outcome, never an error: the run still completes.
type VerificationOutcome struct {
	Mode        string `json:"mode"`
	Match       bool   `json:"match"`
	Count       int64  `json:"row_count,omitempty"`
	TargetCount int64  `json:"target_count,omitempty"`
	TruthCount  int64  `json:"gt_count,omitempty"`
	DiffCount   int64  `json:"diff_count,omitempty"`
}

// RunInfo is a read-only snapshot of an in-flight run for the registry.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Step       Step      `json:"step"`
	RetryCount int       `json:"retry_count"`
	StartedAt  time.Time `json:"started_at"`
}

// runState is the mutable aggregate for one run, owned exclusively by the
// engine goroutine driving that run.
type runState struct {
	runID     string
	sessionID string
	startedAt time.Time

	sparkSQL   string
	currentSQL string
	truthTable string

	step       Step
	retryCount int
	maxRetries int

	sparkValid bool
	sparkError string

	sourceTables []string
	tableMapping map[string]string
	tableInfo    string
	tableDDLs    string

	validationSuccess bool
	validationError   string
	validationMode    string

	llmCheckSuccess *bool
	llmCheckError   string

	executionSuccess     *bool
	executionResult      any
	executionTargetTable string
	executionError       string

	verificationSuccess *bool
	verificationOutcome *VerificationOutcome
	verificationError   string

	history []Attempt
	warning string

	chunked    bool
	chunkCount int
}

func boolPtr(b bool) *bool { return &b }
