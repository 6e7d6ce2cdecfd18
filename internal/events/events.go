// Package events carries conversion run progress to live subscribers.
// Every event is tagged with the run that produced it, so concurrent runs
// can be followed independently.
package events

import "time"

// Type discriminates the two event families on the wire.
type Type string

const (
	// TypeStatus marks a workflow step transition.
	TypeStatus Type = "status"
	// TypeLog marks a free-form progress message.
	TypeLog Type = "log"
)

// StepStatus is the state a status event reports for its step.
type StepStatus string

const (
	// StatusLoading is emitted when a step begins.
	StatusLoading StepStatus = "loading"
	// StatusSuccess is emitted when a step finishes cleanly.
	StatusSuccess StepStatus = "success"
	// StatusError is emitted when a step fails.
	StatusError StepStatus = "error"
	// StatusCompleted is emitted once per run on the final step.
	StatusCompleted StepStatus = "completed"
)

// Event is a single progress record. Status events carry Step, Status and
// optionally Attempt; log events carry Level and Message.
type Event struct {
	ID        uint64     `json:"id"`
	Type      Type       `json:"type"`
	RunID     string     `json:"run_id"`
	SessionID string     `json:"session_id,omitempty"`
	Step      string     `json:"step,omitempty"`
	Status    StepStatus `json:"status,omitempty"`
	Attempt   int        `json:"attempt,omitempty"`
	Level     string     `json:"level,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusEvent builds a step transition event. attempt is 1-based and zero
// means the step is not part of a retry loop.
func StatusEvent(runID, sessionID, step string, status StepStatus, attempt int) Event {
	return Event{
		Type:      TypeStatus,
		RunID:     runID,
		SessionID: sessionID,
		Step:      step,
		Status:    status,
		Attempt:   attempt,
	}
}

// LogEvent builds a progress message event.
func LogEvent(runID, sessionID, level, message string) Event {
	return Event{
		Type:      TypeLog,
		RunID:     runID,
		SessionID: sessionID,
		Level:     level,
		Message:   message,
	}
}
