// Package telemetry delivers behavioral events from the assessment engine to
// the platform. A single duplex WebSocket carries everything while it is up;
// the three events that gate task/answer integrity are guaranteed a delivery
// attempt over a synchronous HTTP fallback when it is not.
package telemetry

import "time"

// EventType identifies the kind of behavioral event.
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskSkipped   EventType = "task_skipped"

	EventOptionSelected     EventType = "option_selected"
	EventOptionChanged      EventType = "option_changed"
	EventReasoningStarted   EventType = "reasoning_started"
	EventReasoningUpdated   EventType = "reasoning_updated"
	EventReasoningSubmitted EventType = "reasoning_submitted"
	EventIdleDetected       EventType = "idle_detected"
	EventFocusLost          EventType = "focus_lost"
	EventFocusGained        EventType = "focus_gained"
	EventCopyDetected       EventType = "copy_detected"
	EventPasteDetected      EventType = "paste_detected"
)

// criticalEvents are the events whose loss would corrupt task/answer
// integrity. Everything else is advisory and may be dropped when the
// channel is down.
var criticalEvents = map[EventType]bool{
	EventTaskStarted:   true,
	EventTaskCompleted: true,
	EventTaskSkipped:   true,
}

// IsCritical reports whether an event must be attempted via the fallback
// path when the duplex channel is unavailable.
func (t EventType) IsCritical() bool {
	return criticalEvents[t]
}

// Event is the wire envelope for one behavioral event. It is identical for
// the WebSocket frame and the HTTP fallback body. Events are immutable and
// fire-and-forget; no client-side event log is retained after a transmission
// attempt (the local session audit log is a separate concern).
type Event struct {
	Kind            string         `json:"type"`
	EventType       EventType      `json:"event_type"`
	TaskID          string         `json:"task_id"`
	Payload         map[string]any `json:"payload"`
	ClientTimestamp time.Time      `json:"client_timestamp"`
}

// NewEvent builds an envelope with the given timestamp. Payload may be nil.
func NewEvent(et EventType, taskID string, payload map[string]any, ts time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Kind:            "event",
		EventType:       et,
		TaskID:          taskID,
		Payload:         payload,
		ClientTimestamp: ts.UTC(),
	}
}
