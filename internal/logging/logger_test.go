package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func initTestLogging(t *testing.T, o Options) string {
	t.Helper()
	dir := t.TempDir()
	if err := Initialize(dir, o); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		CloseAudit()
		CloseAll()
		Initialize(dir, Options{}) // reset to disabled
	})
	return dir
}

func readCategoryFile(t *testing.T, dir string, category Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_"+string(category)+".log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(data)
}

func TestLoggerWritesToCategoryFile(t *testing.T) {
	dir := initTestLogging(t, Options{Enabled: true, Level: "debug"})

	Workflow("run %s started", "abc123")
	WorkflowDebug("detail %d", 42)
	CloseAll()

	content := readCategoryFile(t, dir, CategoryWorkflow)
	if !strings.Contains(content, "run abc123 started") {
		t.Errorf("info line missing:\n%s", content)
	}
	if !strings.Contains(content, "detail 42") {
		t.Errorf("debug line missing:\n%s", content)
	}
}

func TestLoggerLevelGate(t *testing.T) {
	dir := initTestLogging(t, Options{Enabled: true, Level: "warn"})

	LLM("info suppressed")
	LLMError("error kept")
	CloseAll()

	content := readCategoryFile(t, dir, CategoryLLM)
	if strings.Contains(content, "info suppressed") {
		t.Errorf("info line should be gated at warn level:\n%s", content)
	}
	if !strings.Contains(content, "error kept") {
		t.Errorf("error line missing:\n%s", content)
	}
}

func TestLoggerDisabledIsNoop(t *testing.T) {
	dir := initTestLogging(t, Options{Enabled: false, Level: "debug"})

	BigQuery("should not appear")
	CloseAll()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no log files, found %d", len(entries))
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	dir := initTestLogging(t, Options{Enabled: true, Level: "info", JSONFormat: true})

	Server("handled %s", "/convert")
	CloseAll()

	content := readCategoryFile(t, dir, CategoryServer)
	line := content[strings.Index(content, "{"):]
	var entry StructuredLogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(strings.Split(line, "\n")[0])), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, content)
	}
	if entry.Category != "server" || entry.Message != "handled /convert" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestAuditTrail(t *testing.T) {
	dir := initTestLogging(t, Options{Enabled: true, Level: "info"})

	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	audit := AuditWithRun("run-9", "sess-1")
	audit.RunSubmitted(512)
	audit.SQLExecuted("proj.ds.table", 10, 1500, true, "")
	audit.RunCompleted(true, 2, 9000, "")
	CloseAudit()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_audit.log"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}

	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		var e AuditEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		events = append(events, e)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
	if events[0].EventType != AuditRunSubmitted || events[0].RunID != "run-9" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].EventType != AuditSQLExecuted || events[1].Target != "proj.ds.table" {
		t.Errorf("unexpected execution event: %+v", events[1])
	}
	if events[2].EventType != AuditRunCompleted || !events[2].Success {
		t.Errorf("unexpected terminal event: %+v", events[2])
	}
}
