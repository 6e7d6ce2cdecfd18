package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sqlbridge/internal/events"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/tablemap"
	"sqlbridge/internal/usage"
)

// run drives one conversion through the state machine. It returns nil
// when the run reaches Completed, including best-effort completions after
// retry exhaustion, and a classified error when it reaches Failed.
func (e *Engine) run(ctx context.Context, st *runState) error {
	logging.Workflow("run %s: started (%d chars, %d lines)",
		st.runID, len(st.sparkSQL), strings.Count(st.sparkSQL, "\n")+1)
	e.emitStatus(st, StepInit, events.StatusLoading, 0)
	e.emitLog(st, "info", "run started: %d chars, %d lines",
		len(st.sparkSQL), strings.Count(st.sparkSQL, "\n")+1)
	e.emitStatus(st, StepInit, events.StatusSuccess, 0)

	if !e.gate(st) {
		return e.fail(st, fmt.Errorf("%w: %s", ErrSparkSyntax, st.sparkError))
	}

	if err := e.convert(ctx, st); err != nil {
		return e.fail(st, err)
	}

	lastErr := ""
	exhausted := false
	for {
		if ctx.Err() != nil {
			return e.fail(st, e.cancelled(ctx))
		}

		ok, err := e.validate(ctx, st)
		if err != nil {
			return e.fail(st, err)
		}
		if !ok {
			if st.retryCount >= st.maxRetries {
				exhausted, lastErr = true, st.validationError
				break
			}
			if err := e.fix(ctx, st, st.validationError); err != nil {
				return e.fail(st, err)
			}
			continue
		}

		if e.cfg.Workflow.SemanticCheckEnabled && e.deps.Checker != nil {
			ok, err := e.semanticCheck(ctx, st)
			if err != nil {
				return e.fail(st, err)
			}
			if !ok {
				if st.retryCount >= st.maxRetries {
					exhausted, lastErr = true, st.llmCheckError
					break
				}
				if err := e.fix(ctx, st, st.llmCheckError); err != nil {
					return e.fail(st, err)
				}
				continue
			}
		}

		if e.cfg.Workflow.ExecutionEnabled && e.deps.Executor != nil {
			ok, err := e.execute(ctx, st)
			if err != nil {
				return e.fail(st, err)
			}
			if !ok {
				if st.retryCount >= st.maxRetries {
					exhausted, lastErr = true, st.executionError
					break
				}
				if err := e.fix(ctx, st, st.executionError); err != nil {
					return e.fail(st, err)
				}
				continue
			}

			if e.cfg.Workflow.VerificationEnabled && e.deps.Truth != nil {
				if err := e.verify(ctx, st); err != nil {
					return e.fail(st, err)
				}
			}
		}
		break
	}

	if exhausted {
		if st.sparkValid && !st.validationSuccess {
			st.warning = fmt.Sprintf("Maximum retries (%d) exceeded. The converted SQL may still contain errors.", st.maxRetries)
			logging.WorkflowWarn("run %s: %s", st.runID, st.warning)
			e.emitLog(st, "warning", "%s", st.warning)
		}
		return e.fail(st, fmt.Errorf("%w after %d attempts: %s", ErrRetryBudget, st.retryCount, lastErr))
	}

	e.setStep(st, StepCompleted)
	e.emitStatus(st, StepCompleted, events.StatusCompleted, 0)
	logging.Workflow("run %s: finished success=%v retries=%d",
		st.runID, st.sparkValid && st.validationSuccess, st.retryCount)
	return nil
}

// fail moves the run to Failed and returns the classified error.
func (e *Engine) fail(st *runState, err error) error {
	logging.WorkflowError("run %s: failed at %s: %v", st.runID, st.step, err)
	e.emitLog(st, "error", "%s", err.Error())
	e.setStep(st, StepFailed)
	e.emitStatus(st, StepFailed, events.StatusCompleted, 0)
	return err
}

func (e *Engine) cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
}

// gate runs the Spark syntax check and collects the run's table mapping.
func (e *Engine) gate(st *runState) bool {
	e.setStep(st, StepSparkValidate)
	e.emitStatus(st, StepSparkValidate, events.StatusLoading, 0)

	st.sparkSQL = stripFences(st.sparkSQL)
	tables, err := validateSpark(st.sparkSQL)
	if err != nil {
		st.sparkValid = false
		st.sparkError = "Spark SQL validation failed: " + err.Error()
		logging.WorkflowWarn("run %s: %s", st.runID, st.sparkError)
		e.emitStatus(st, StepSparkValidate, events.StatusError, 0)
		e.emitLog(st, "warning", "%s", st.sparkError)
		return false
	}

	st.sparkValid = true
	st.sourceTables = tables
	st.tableMapping = make(map[string]string)
	if e.deps.Mapper != nil {
		for _, table := range tables {
			if bq, ok := e.deps.Mapper.Lookup(table); ok {
				st.tableMapping[table] = bq
			}
		}
	}
	st.tableInfo = tablemap.FormatPromptInfo(st.tableMapping)

	logging.Workflow("run %s: spark sql valid, %d tables referenced, %d mapped",
		st.runID, len(tables), len(st.tableMapping))
	e.emitStatus(st, StepSparkValidate, events.StatusSuccess, 0)
	if len(tables) > 0 {
		e.emitLog(st, "info", "extracted tables: %s", strings.Join(tables, ", "))
	}
	return true
}

// validate checks the candidate SQL and appends the attempt to the
// conversion history. Infrastructure failures of the validator count as
// failed validations so the fix loop can react to them.
func (e *Engine) validate(ctx context.Context, st *runState) (bool, error) {
	e.setStep(st, StepDryRun)
	attempt := len(st.history) + 1
	e.emitStatus(st, StepDryRun, events.StatusLoading, attempt)

	start := time.Now()
	out, err := e.deps.Validator.Validate(ctx, st.currentSQL)
	if err != nil {
		if ctx.Err() != nil {
			return false, e.cancelled(ctx)
		}
		out = ValidationOutcome{OK: false, ErrorMessage: err.Error()}
	}
	if out.Mode == "" {
		out.Mode = e.cfg.Workflow.ValidationMode
	}
	if out.Model != "" {
		e.track(ctx, st, StepDryRun, out.Model, out.Usage, 0, nil)
	}

	logging.AuditWithRun(st.runID, st.sessionID).DryRun(out.OK, time.Since(start).Milliseconds(), out.ErrorMessage)

	st.validationMode = out.Mode
	st.validationSuccess = out.OK
	st.validationError = out.ErrorMessage
	st.history = append(st.history, Attempt{
		Attempt:     attempt,
		BigQuerySQL: st.currentSQL,
		Error:       out.ErrorMessage,
	})

	if !out.OK {
		logging.WorkflowWarn("run %s: validation attempt %d failed: %s", st.runID, attempt, out.ErrorMessage)
		e.emitStatus(st, StepDryRun, events.StatusError, attempt)
		e.emitLog(st, "warning", "validation attempt %d failed: %s", attempt, out.ErrorMessage)
		return false, nil
	}

	logging.Workflow("run %s: validation attempt %d passed (%s)", st.runID, attempt, out.Mode)
	e.emitStatus(st, StepDryRun, events.StatusSuccess, attempt)
	return true, nil
}

// semanticCheck reviews whether the candidate preserves the source
// query's meaning. Transport failures count as a failed check rather
// than a dead run; only cancellation aborts.
func (e *Engine) semanticCheck(ctx context.Context, st *runState) (bool, error) {
	e.setStep(st, StepSemanticCheck)
	e.emitStatus(st, StepSemanticCheck, events.StatusLoading, 0)

	out, err := e.deps.Checker.Check(ctx, st.sparkSQL, st.currentSQL, st.tableDDLs)
	if err != nil {
		if ctx.Err() != nil {
			return false, e.cancelled(ctx)
		}
		out = CheckOutcome{OK: false, ErrorMessage: err.Error()}
	}
	if out.Model != "" {
		e.track(ctx, st, StepSemanticCheck, out.Model, out.Usage, 0, nil)
	}

	st.llmCheckSuccess = boolPtr(out.OK)
	st.llmCheckError = out.ErrorMessage

	if !out.OK {
		logging.WorkflowWarn("run %s: semantic check failed: %s", st.runID, out.ErrorMessage)
		e.emitStatus(st, StepSemanticCheck, events.StatusError, 0)
		e.emitLog(st, "warning", "semantic check failed: %s", out.ErrorMessage)
		return false, nil
	}

	e.emitStatus(st, StepSemanticCheck, events.StatusSuccess, 0)
	return true, nil
}

// fix asks the translator to repair the candidate using the triggering
// error. A translator failure consumes the attempt and keeps the SQL
// unchanged so the next validation sees the same error.
func (e *Engine) fix(ctx context.Context, st *runState, reason string) error {
	st.retryCount++
	e.setStep(st, StepFix)
	e.emitStatus(st, StepFix, events.StatusLoading, st.retryCount)
	logging.Workflow("run %s: fix attempt %d/%d", st.runID, st.retryCount, st.maxRetries)
	e.emitLog(st, "info", "fix attempt %d/%d: %s", st.retryCount, st.maxRetries, reason)
	logging.AuditWithRun(st.runID, st.sessionID).FixAttempt(st.retryCount, st.maxRetries)

	res, err := e.deps.Translator.Translate(ctx, TranslateRequest{
		SparkSQL:     st.sparkSQL,
		CurrentSQL:   st.currentSQL,
		ErrorMessage: reason,
		TableInfo:    st.tableInfo,
		TableDDLs:    st.tableDDLs,
		History:      st.history,
		Step:         StepFix,
	})
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(ctx)
		}
		e.track(ctx, st, StepFix, e.cfg.LLM.StepModel(string(StepFix)), usage.Tokens{}, 0, err)
		logging.WorkflowError("run %s: fix attempt %d failed: %v", st.runID, st.retryCount, err)
		e.emitStatus(st, StepFix, events.StatusError, st.retryCount)
		e.emitLog(st, "warning", "fix attempt %d failed, keeping previous SQL: %v", st.retryCount, err)
		return nil
	}
	e.track(ctx, st, StepFix, res.Model, res.Usage, res.Latency, nil)

	sql := res.SQL
	if e.deps.Mapper != nil {
		sql = e.deps.Mapper.Apply(sql)
	}
	st.currentSQL = sql

	e.emitStatus(st, StepFix, events.StatusSuccess, st.retryCount)
	return nil
}

// execute runs the validated SQL. Failures, including safety rejections,
// feed the fix loop like validation errors do.
func (e *Engine) execute(ctx context.Context, st *runState) (bool, error) {
	e.setStep(st, StepExecute)
	e.emitStatus(st, StepExecute, events.StatusLoading, 0)

	start := time.Now()
	out, err := e.deps.Executor.Execute(ctx, st.currentSQL)
	audit := logging.AuditWithRun(st.runID, st.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return false, e.cancelled(ctx)
		}
		audit.SQLExecuted("", 0, time.Since(start).Milliseconds(), false, err.Error())
		st.executionSuccess = boolPtr(false)
		st.executionError = err.Error()
		logging.WorkflowError("run %s: execution failed: %v", st.runID, err)
		e.emitStatus(st, StepExecute, events.StatusError, 0)
		e.emitLog(st, "warning", "execution failed: %v", err)
		return false, nil
	}

	audit.SQLExecuted(out.TargetTable, out.AffectedRows, time.Since(start).Milliseconds(), true, "")
	st.executionSuccess = boolPtr(true)
	st.executionError = ""
	st.executionTargetTable = out.TargetTable
	st.executionResult = executionPayload(out)

	logging.Workflow("run %s: execution succeeded (job %s, target %s)", st.runID, out.JobID, out.TargetTable)
	e.emitStatus(st, StepExecute, events.StatusSuccess, 0)
	if out.Summary != "" {
		e.emitLog(st, "info", "%s", out.Summary)
	}
	return true, nil
}

// verify compares the executed target table against ground truth. Every
// outcome completes the run; a mismatch is recorded, never retried.
func (e *Engine) verify(ctx context.Context, st *runState) error {
	e.setStep(st, StepVerify)
	e.emitStatus(st, StepVerify, events.StatusLoading, 0)

	target := st.executionTargetTable
	if target == "" {
		st.verificationSuccess = boolPtr(false)
		st.verificationError = "No target table found."
		e.emitStatus(st, StepVerify, events.StatusError, 0)
		e.emitLog(st, "warning", "data verification skipped: no target table")
		return nil
	}

	truth := st.truthTable
	if truth == "" {
		truth = e.deps.VerifyPairs[strings.ToLower(target)]
	}

	// Verification reads are confined to the allow-listed datasets, the
	// same list that gates execution targets. Reject before any read.
	for _, table := range []string{target, truth} {
		if table == "" || datasetAllowed(table, e.cfg.Workflow.AllowedDatasets) {
			continue
		}
		st.verificationSuccess = boolPtr(false)
		st.verificationError = fmt.Sprintf("Data Verification Safety Check Failed: Read not allowed on table '%s'. Table must be in '%s'.",
			table, strings.Join(e.cfg.Workflow.AllowedDatasets, "', '"))
		logging.WorkflowError("run %s: %s", st.runID, st.verificationError)
		e.emitStatus(st, StepVerify, events.StatusError, 0)
		e.emitLog(st, "warning", "%s", st.verificationError)
		return nil
	}

	outcome, err := e.compare(ctx, st, target, truth)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(ctx)
		}
		st.verificationSuccess = boolPtr(false)
		st.verificationError = err.Error()
		logging.WorkflowError("run %s: data verification failed: %v", st.runID, err)
		e.emitStatus(st, StepVerify, events.StatusError, 0)
		e.emitLog(st, "warning", "data verification failed: %v", err)
		return nil
	}

	st.verificationOutcome = outcome
	st.verificationSuccess = boolPtr(outcome.Match)
	if !outcome.Match {
		st.verificationError = mismatchMessage(outcome)
		logging.AuditWithRun(st.runID, st.sessionID).Verification(outcome.Mode, target, false, st.verificationError)
		logging.WorkflowWarn("run %s: %s", st.runID, st.verificationError)
		e.emitStatus(st, StepVerify, events.StatusError, 0)
		e.emitLog(st, "warning", "%s", st.verificationError)
		return nil
	}

	logging.AuditWithRun(st.runID, st.sessionID).Verification(outcome.Mode, target, true, "")
	logging.Workflow("run %s: data verification passed (%s)", st.runID, outcome.Mode)
	e.emitStatus(st, StepVerify, events.StatusSuccess, 0)
	return nil
}

// compare runs the configured comparison. Without a ground truth table it
// degrades to an existence check on the target.
func (e *Engine) compare(ctx context.Context, st *runState, target, truth string) (*VerificationOutcome, error) {
	if truth == "" {
		count, err := e.deps.Truth.RowCount(ctx, target)
		if err != nil {
			return nil, err
		}
		e.emitLog(st, "info", "no ground truth table for %s, checked existence: %d rows", target, count)
		return &VerificationOutcome{Mode: VerificationModeExistence, Match: true, Count: count}, nil
	}

	switch e.cfg.Workflow.VerificationMode {
	case VerificationModeFullContent:
		diff, err := e.deps.Truth.DiffCount(ctx, target, truth)
		if err != nil {
			return nil, err
		}
		return &VerificationOutcome{Mode: VerificationModeFullContent, Match: diff == 0, DiffCount: diff}, nil
	default:
		targetCount, err := e.deps.Truth.RowCount(ctx, target)
		if err != nil {
			return nil, err
		}
		truthCount, err := e.deps.Truth.RowCount(ctx, truth)
		if err != nil {
			return nil, err
		}
		return &VerificationOutcome{
			Mode:        VerificationModeRowCount,
			Match:       targetCount == truthCount,
			TargetCount: targetCount,
			TruthCount:  truthCount,
		}, nil
	}
}

func datasetAllowed(table string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	table = strings.Trim(strings.TrimSpace(table), "`")
	for _, prefix := range allowed {
		if strings.HasPrefix(table, prefix) {
			return true
		}
	}
	return false
}

func mismatchMessage(out *VerificationOutcome) string {
	if out.Mode == VerificationModeFullContent {
		return fmt.Sprintf("Tables differ by %d rows.", out.DiffCount)
	}
	return fmt.Sprintf("Row count mismatch. Target: %d, Ground Truth: %d", out.TargetCount, out.TruthCount)
}

// executionPayload shapes the execution outcome for the result JSON.
func executionPayload(out ExecutionOutcome) map[string]any {
	payload := make(map[string]any)
	if out.JobID != "" {
		payload["job_id"] = out.JobID
	}
	if out.Summary != "" {
		payload["message"] = out.Summary
	}
	if out.AffectedRows > 0 {
		payload["affected_rows"] = out.AffectedRows
	}
	if out.Rows != nil {
		payload["rows"] = out.Rows
		payload["row_count"] = len(out.Rows)
	}
	return payload
}
