package workflow

import (
	"errors"

	"sqlbridge/internal/sqlchunk"
)

// Sentinel errors classifying run failures. Retryable errors feed the fix
// loop; the rest terminate the run on first occurrence.
var (
	// ErrSparkSyntax marks input that fails the Spark syntax gate. Fatal,
	// spends no retries and no LLM calls.
	ErrSparkSyntax = errors.New("spark sql syntax invalid")

	// ErrTranslation marks a failure of the translation capability itself,
	// not of the SQL it produced. Fatal during initial conversion; during a
	// fix it consumes the attempt and leaves the SQL unchanged.
	ErrTranslation = errors.New("translation failed")

	// ErrValidation marks a dry-run or LLM validation failure. Retryable.
	ErrValidation = errors.New("bigquery validation failed")

	// ErrSemanticCheck marks a failed LLM semantic check. Retryable.
	ErrSemanticCheck = errors.New("semantic check failed")

	// ErrExecution marks a runtime execution failure. Retryable.
	ErrExecution = errors.New("execution failed")

	// ErrChunkReassembly marks a structural defect in chunk decomposition.
	// Fatal: not an LLM-correctable SQL error, never enters the fix loop.
	ErrChunkReassembly = sqlchunk.ErrReassembly

	// ErrRetryBudget marks retry exhaustion; it wraps the latest error.
	ErrRetryBudget = errors.New("retry budget exhausted")

	// ErrCancelled marks a run aborted by context cancellation. Terminal,
	// never retried.
	ErrCancelled = errors.New("run cancelled")
)
