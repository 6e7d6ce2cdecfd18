package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"sqlbridge/internal/events"
)

func newTestModel() *TailModel {
	m := NewTailModel("http://localhost:8000", "")
	m.SetSize(100, 30)
	return m
}

func TestApplyStatusEventTracksSteps(t *testing.T) {
	m := newTestModel()

	m.apply(events.StatusEvent("run_abc12345", "", "convert", events.StatusLoading, 0))
	m.apply(events.StatusEvent("run_abc12345", "", "convert", events.StatusSuccess, 0))
	m.apply(events.StatusEvent("run_abc12345", "", "bigquery_dry_run", events.StatusLoading, 1))

	if len(m.runs) != 1 {
		t.Fatalf("expected 1 run view, got %d", len(m.runs))
	}
	rv := m.runs[0]
	if len(rv.steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(rv.steps))
	}
	if rv.steps[0].status != events.StatusSuccess {
		t.Errorf("convert step = %s, want success", rv.steps[0].status)
	}
	if rv.steps[1].attempt != 1 {
		t.Errorf("dry run attempt = %d, want 1", rv.steps[1].attempt)
	}
}

func TestApplyStatusEventSeparatesRuns(t *testing.T) {
	m := newTestModel()

	m.apply(events.StatusEvent("run_aaaa0001", "", "convert", events.StatusLoading, 0))
	m.apply(events.StatusEvent("run_bbbb0002", "", "convert", events.StatusLoading, 0))
	m.apply(events.StatusEvent("run_aaaa0001", "", "convert", events.StatusSuccess, 0))

	if len(m.runs) != 2 {
		t.Fatalf("expected 2 run views, got %d", len(m.runs))
	}
	if m.runs[0].steps[0].status != events.StatusSuccess {
		t.Errorf("first run convert = %s, want success", m.runs[0].steps[0].status)
	}
	if m.runs[1].steps[0].status != events.StatusLoading {
		t.Errorf("second run convert = %s, want loading", m.runs[1].steps[0].status)
	}
}

func TestApplyLogEventBoundsHistory(t *testing.T) {
	m := newTestModel()
	m.maxLogs = 5

	for i := 0; i < 10; i++ {
		m.apply(events.LogEvent("run_abc12345", "", "info", "message"))
	}
	if len(m.logLines) != 5 {
		t.Errorf("log lines = %d, want 5", len(m.logLines))
	}
}

func TestUpdateCompletedMarksRunDone(t *testing.T) {
	m := newTestModel()

	model, _ := m.Update(eventMsg(events.StatusEvent("run_abc12345", "", "completed", events.StatusCompleted, 0)))
	m = model.(*TailModel)

	if len(m.runs) != 1 || !m.runs[0].done {
		t.Error("expected run marked done after completed status")
	}
	if !m.connected {
		t.Error("expected connected after first event")
	}
}

func TestViewShowsRunAndLogs(t *testing.T) {
	m := newTestModel()
	m.connected = true

	m.apply(events.StatusEvent("run_abc12345", "", "convert", events.StatusSuccess, 0))
	m.apply(events.LogEvent("run_abc12345", "", "warning", "validation attempt 1 failed"))
	m.updateContent()

	view := m.View()
	if !strings.Contains(view, "run_abc12345") {
		t.Error("view missing run id")
	}
	if !strings.Contains(view, "convert") {
		t.Error("view missing step name")
	}
	if !strings.Contains(view, "validation attempt 1 failed") {
		t.Error("view missing log line")
	}
}

func TestQuitKeyCancelsStream(t *testing.T) {
	m := newTestModel()
	cancelled := false
	m.cancel = func() { cancelled = true }

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !cancelled {
		t.Error("expected stream context cancelled on quit")
	}
}
