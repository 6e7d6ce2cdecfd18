package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlbridge/internal/config"
	"sqlbridge/internal/events"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/sqlchunk"
	"sqlbridge/internal/tablemap"
	"sqlbridge/internal/usage"
)

// RunArchiver persists finished runs. The sqlite store implements it.
type RunArchiver interface {
	SaveRun(res *ConversionResult) error
}

// Deps are the external capabilities a run may touch. Translator and
// Validator are required; the rest are optional and gate the features
// that need them together with the workflow configuration.
type Deps struct {
	Translator Translator
	Validator  Validator
	Checker    SemanticChecker
	Executor   Executor
	Truth      TruthFetcher
	Schema     SchemaFetcher

	Mapper      *tablemap.Mapper
	VerifyPairs map[string]string // target table -> ground truth table

	Bus     *events.Bus
	Usage   *usage.Tracker
	Archive RunArchiver
}

// Engine drives conversion runs. Each run is owned by the goroutine that
// called Convert; the engine itself only holds configuration and a
// registry of in-flight runs, so concurrent runs never share state.
type Engine struct {
	cfg    *config.Config
	deps   Deps
	limits sqlchunk.Limits

	mu   sync.Mutex
	runs map[string]*RunInfo
}

// New creates an engine and checks that the configuration's enabled
// features have their capabilities wired.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workflow: config is required")
	}
	if deps.Translator == nil {
		return nil, fmt.Errorf("workflow: translator is required")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("workflow: validator is required")
	}
	if cfg.Workflow.SemanticCheckEnabled && deps.Checker == nil {
		return nil, fmt.Errorf("workflow: semantic check enabled but no checker wired")
	}
	if cfg.Workflow.ExecutionEnabled && deps.Executor == nil {
		return nil, fmt.Errorf("workflow: execution enabled but no executor wired")
	}
	if cfg.Workflow.VerificationEnabled && deps.Truth == nil {
		return nil, fmt.Errorf("workflow: verification enabled but no truth fetcher wired")
	}

	return &Engine{
		cfg:  cfg,
		deps: deps,
		limits: sqlchunk.Limits{
			MaxLength: cfg.Chunking.MaxLength,
			MaxLines:  cfg.Chunking.MaxLines,
		},
		runs: make(map[string]*RunInfo),
	}, nil
}

// Convert runs one conversion to completion and returns its result. The
// result is populated even when err is non-nil; err classifies terminal
// failures (syntax gate, translation infrastructure, chunk reassembly,
// retry exhaustion, cancellation) so callers can branch with errors.Is,
// while recoverable stage errors are absorbed by the fix loop and only
// show up in the result.
func (e *Engine) Convert(ctx context.Context, req ConversionRequest) (*ConversionResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "sess_" + uuid.NewString()[:8]
	}
	st := &runState{
		runID:      "run_" + uuid.NewString()[:8],
		sessionID:  sessionID,
		startedAt:  time.Now(),
		sparkSQL:   strings.TrimSpace(req.SparkSQL),
		truthTable: strings.TrimSpace(req.GroundTruthTable),
		step:       StepInit,
		maxRetries: e.cfg.Workflow.MaxRetries,
	}

	e.register(st)
	defer e.unregister(st.runID)

	if d := e.cfg.GetRunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	audit := logging.AuditWithRun(st.runID, st.sessionID)
	audit.RunSubmitted(len(st.sparkSQL))

	runErr := e.run(ctx, st)
	res := e.result(st)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	audit.RunCompleted(res.Success, res.RetryCount, res.DurationMS, errMsg)

	if e.deps.Archive != nil {
		if err := e.deps.Archive.SaveRun(res); err != nil {
			logging.WorkflowError("run %s: archive failed: %v", st.runID, err)
		}
	}
	return res, runErr
}

// Runs returns a snapshot of the in-flight runs, oldest first.
func (e *Engine) Runs() []RunInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RunInfo, 0, len(e.runs))
	for _, info := range e.runs {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (e *Engine) register(st *runState) {
	e.mu.Lock()
	e.runs[st.runID] = &RunInfo{
		RunID:     st.runID,
		SessionID: st.sessionID,
		Step:      st.step,
		StartedAt: st.startedAt,
	}
	e.mu.Unlock()
}

func (e *Engine) unregister(runID string) {
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}

// setStep advances the run's state and mirrors it into the registry.
func (e *Engine) setStep(st *runState, step Step) {
	st.step = step
	e.mu.Lock()
	if info, ok := e.runs[st.runID]; ok {
		info.Step = step
		info.RetryCount = st.retryCount
	}
	e.mu.Unlock()
	logging.WorkflowDebug("run %s: step %s (retries %d)", st.runID, step, st.retryCount)
}

func (e *Engine) emitStatus(st *runState, step Step, status events.StepStatus, attempt int) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Emit(events.StatusEvent(st.runID, st.sessionID, string(step), status, attempt))
}

func (e *Engine) emitLog(st *runState, level, format string, args ...any) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Emit(events.LogEvent(st.runID, st.sessionID, level, fmt.Sprintf(format, args...)))
}

// track records one model transaction against the run.
func (e *Engine) track(ctx context.Context, st *runState, step Step, model string, tok usage.Tokens, latency time.Duration, callErr error) {
	if e.deps.Usage == nil {
		return
	}
	rec := usage.Record{
		RunID:     st.runID,
		SessionID: st.sessionID,
		Step:      string(step),
		Model:     model,
		Tokens:    tok,
		Status:    usage.StatusSuccess,
		LatencyMS: latency.Milliseconds(),
	}
	if callErr != nil {
		rec.Status = usage.StatusError
		rec.ErrorMessage = callErr.Error()
	}
	e.deps.Usage.Track(ctx, rec)
	logging.AuditWithRun(st.runID, st.sessionID).
		LLMCall(model, tok.Total, latency.Milliseconds(), callErr == nil, rec.ErrorMessage)
}

// result assembles the terminal ConversionResult from the run state.
func (e *Engine) result(st *runState) *ConversionResult {
	history := st.history
	if history == nil {
		history = []Attempt{}
	}

	res := &ConversionResult{
		RunID:     st.runID,
		SessionID: st.sessionID,

		Success:    st.sparkValid && st.validationSuccess && st.step != StepFailed,
		SparkSQL:   st.sparkSQL,
		SparkValid: st.sparkValid,
		SparkError: st.sparkError,

		BigQuerySQL: st.currentSQL,
		Chunked:     st.chunked,
		ChunkCount:  st.chunkCount,

		ValidationSuccess: st.validationSuccess,
		ValidationError:   st.validationError,
		ValidationMode:    st.validationMode,

		LLMCheckSuccess: st.llmCheckSuccess,
		LLMCheckError:   st.llmCheckError,

		ExecutionSuccess:     st.executionSuccess,
		ExecutionResult:      st.executionResult,
		ExecutionTargetTable: st.executionTargetTable,
		ExecutionError:       st.executionError,

		DataVerificationSuccess: st.verificationSuccess,
		DataVerificationResult:  st.verificationOutcome,
		DataVerificationError:   st.verificationError,

		RetryCount:        st.retryCount,
		ConversionHistory: history,
		Warning:           st.warning,

		StartedAt:  st.startedAt,
		DurationMS: time.Since(st.startedAt).Milliseconds(),
	}

	if e.deps.Usage != nil {
		if totals := e.deps.Usage.RunTotals(st.runID); totals.Calls > 0 {
			res.TokenUsage = &totals
		}
	}
	return res
}
