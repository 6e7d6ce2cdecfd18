// Audit logging for conversion runs. Every run, executed statement and
// verification verdict is recorded as one JSON line, giving a reviewable
// trail of what the service did against live datasets.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Run lifecycle
	AuditRunSubmitted AuditEventType = "run_submitted"
	AuditRunCompleted AuditEventType = "run_completed"
	AuditRunFailed    AuditEventType = "run_failed"

	// Step outcomes
	AuditStepComplete AuditEventType = "step_complete"
	AuditFixAttempt   AuditEventType = "fix_attempt"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// BigQuery events. SQL execution against live datasets always leaves
	// a trail, whatever the log level.
	AuditDryRun       AuditEventType = "bigquery_dry_run"
	AuditSQLExecuted  AuditEventType = "sql_executed"
	AuditVerification AuditEventType = "data_verification"
)

// AuditEvent represents one structured audit record.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	RunID      string                 `json:"run,omitempty"`
	SessionID  string                 `json:"session,omitempty"`
	Step       string                 `json:"step,omitempty"`
	Target     string                 `json:"target,omitempty"` // table, model or endpoint
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger handles structured audit logging scoped to a run.
type AuditLogger struct {
	runID     string
	sessionID string
}

// InitAudit initializes the audit log file.
func InitAudit() error {
	if !IsEnabled() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	fmt.Fprintf(auditFile, "# Audit log started at %s\n", time.Now().Format(time.RFC3339))

	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRun creates an audit logger scoped to a run.
func AuditWithRun(runID, sessionID string) *AuditLogger {
	return &AuditLogger{runID: runID, sessionID: sessionID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// RunSubmitted logs a new conversion run.
func (a *AuditLogger) RunSubmitted(sqlLen int) {
	a.Log(AuditEvent{
		EventType: AuditRunSubmitted,
		Success:   true,
		Fields:    map[string]interface{}{"sql_len": sqlLen},
		Message:   fmt.Sprintf("Run submitted (%d chars)", sqlLen),
	})
}

// RunCompleted logs the terminal outcome of a run.
func (a *AuditLogger) RunCompleted(success bool, attempts int, durationMs int64, errMsg string) {
	eventType := AuditRunCompleted
	if !success {
		eventType = AuditRunFailed
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"attempts": attempts},
		Message:    fmt.Sprintf("Run finished (success=%v, attempts=%d, %dms)", success, attempts, durationMs),
	})
}

// StepComplete logs a workflow step outcome.
func (a *AuditLogger) StepComplete(step string, success bool, durationMs int64, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditStepComplete,
		Step:       step,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// FixAttempt logs one pass through the auto-fix loop.
func (a *AuditLogger) FixAttempt(attempt, maxRetries int) {
	a.Log(AuditEvent{
		EventType: AuditFixAttempt,
		Step:      "fix",
		Success:   true,
		Fields:    map[string]interface{}{"attempt": attempt, "max_retries": maxRetries},
		Message:   fmt.Sprintf("Fix attempt %d/%d", attempt, maxRetries),
	})
}

// LLMCall logs a model API call.
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": tokens},
	})
}

// DryRun logs a BigQuery dry run validation.
func (a *AuditLogger) DryRun(success bool, durationMs int64, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditDryRun,
		Step:       "bigquery_dry_run",
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// SQLExecuted logs a statement run against live data.
func (a *AuditLogger) SQLExecuted(destination string, affectedRows int64, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditSQLExecuted,
		Step:       "execute",
		Target:     destination,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"affected_rows": affectedRows},
		Message:    fmt.Sprintf("Executed against %s (%d rows affected)", destination, affectedRows),
	})
}

// Verification logs a data verification verdict.
func (a *AuditLogger) Verification(mode, table string, matched bool, detail string) {
	a.Log(AuditEvent{
		EventType: AuditVerification,
		Step:      "data_verification",
		Target:    table,
		Success:   matched,
		Fields:    map[string]interface{}{"mode": mode},
		Message:   detail,
	})
}
