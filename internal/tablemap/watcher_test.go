package tablemap

import (
	"context"
	"testing"
)

// Event delivery timing is filesystem dependent, so reload behavior is
// covered through Mapper.Reload directly. These tests pin the lifecycle.

func TestWatcherStartStop(t *testing.T) {
	path := writeCSV(t, sampleCSV)
	m := New()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	w, err := NewWatcher(path, m)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsWatching() {
		t.Fatalf("expected watcher running")
	}

	// Second Start is a no-op.
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	w.Stop()
	if w.IsWatching() {
		t.Fatalf("expected watcher stopped")
	}

	// Second Stop must not panic or block.
	w.Stop()
}

func TestWatcherStartMissingDir(t *testing.T) {
	m := New()
	w, err := NewWatcher("/nonexistent/dir/mapping.csv", m)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatalf("expected error watching missing directory")
	}
	if w.IsWatching() {
		t.Fatalf("failed start must not leave watcher marked running")
	}
}
