package events

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("")
	defer bus.Close()

	bus.Emit(StatusEvent("run-1", "sess-1", "convert", StatusLoading, 0))

	select {
	case evt := <-ch:
		if evt.RunID != "run-1" || evt.Step != "convert" || evt.Status != StatusLoading {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.ID == 0 {
			t.Fatalf("expected sequence id")
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("expected timestamp")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected event to be delivered")
	}
}

func TestBusRunFilter(t *testing.T) {
	bus := NewBus()
	mine := bus.Subscribe("run-1")
	all := bus.Subscribe("")
	defer bus.Close()

	bus.Emit(LogEvent("run-2", "", "info", "other run"))
	bus.Emit(LogEvent("run-1", "", "info", "my run"))

	select {
	case evt := <-mine:
		if evt.RunID != "run-1" {
			t.Fatalf("filter leaked event from %s", evt.RunID)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected run-1 event")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("unfiltered subscriber should see both events, got %d", i)
		}
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("") // never drained
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			bus.Emit(LogEvent("run-1", "", "info", fmt.Sprintf("msg %d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emitter blocked on a slow subscriber")
	}

	if stats := bus.Stats(); stats.Dropped == 0 {
		t.Fatalf("expected dropped events, stats: %+v", stats)
	}
}

func TestBusRecent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Emit(LogEvent("run-1", "", "info", "first"))
	bus.Emit(LogEvent("run-2", "", "info", "second"))
	bus.Emit(LogEvent("run-1", "", "info", "third"))

	got := bus.Recent(0, "")
	if len(got) != 3 {
		t.Fatalf("Recent(0, \"\") returned %d events, want 3", len(got))
	}
	if got[0].Message != "first" || got[2].Message != "third" {
		t.Fatalf("events out of order: %q, %q", got[0].Message, got[2].Message)
	}

	got = bus.Recent(0, "run-1")
	if len(got) != 2 {
		t.Fatalf("Recent for run-1 returned %d events, want 2", len(got))
	}

	got = bus.Recent(1, "")
	if len(got) != 1 || got[0].Message != "third" {
		t.Fatalf("Recent(1) should return the newest event, got %+v", got)
	}
}

func TestBusRecentLimitEvicts(t *testing.T) {
	bus := NewBus()
	bus.SetRecentLimit(3)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Emit(LogEvent("run-1", "", "info", fmt.Sprintf("msg %d", i)))
	}

	got := bus.Recent(0, "")
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	if got[0].Message != "msg 2" {
		t.Fatalf("oldest retained should be msg 2, got %q", got[0].Message)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe("")
	ch2 := bus.Subscribe("")
	defer bus.Close()

	bus.Unsubscribe(ch2)

	select {
	case _, ok := <-ch2:
		if ok {
			t.Fatalf("expected unsubscribed channel to be closed")
		}
	default:
		t.Fatalf("expected unsubscribed channel to be closed")
	}

	bus.Emit(LogEvent("run-1", "", "info", "alive"))

	select {
	case evt := <-ch1:
		if evt.Message != "alive" {
			t.Fatalf("unexpected message: %s", evt.Message)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected event on remaining subscriber")
	}
}

func TestBusClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	ch := bus.Subscribe("")
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected subscriber channel closed")
	}

	// Both must be no-ops after Close.
	bus.Emit(LogEvent("run-1", "", "info", "late"))
	late := bus.Subscribe("")
	if _, ok := <-late; ok {
		t.Fatalf("expected immediate close for late subscriber")
	}
}

func TestBusOrderPreservedPerRun(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("run-1")
	defer bus.Close()

	bus.Emit(StatusEvent("run-1", "", "bigquery_dry_run", StatusLoading, 1))
	bus.Emit(StatusEvent("run-1", "", "bigquery_dry_run", StatusError, 1))

	first := <-ch
	second := <-ch
	if first.Status != StatusLoading || second.Status != StatusError {
		t.Fatalf("order violated: %s then %s", first.Status, second.Status)
	}
	if first.ID >= second.ID {
		t.Fatalf("sequence ids not increasing: %d, %d", first.ID, second.ID)
	}
}
