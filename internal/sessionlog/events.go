// Package sessionlog keeps a local NDJSON audit trail of an assessment
// session: every telemetry send attempt with the route it took, lifecycle
// transitions, and channel health changes. The trail is what a candidate
// support case gets debugged from, since the engine itself retains no event
// history after transmission.
package sessionlog

import (
	"time"

	"github.com/hirewire/proctor/internal/telemetry"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindTelemetry  Kind = "telemetry"
	KindTransition Kind = "transition"
	KindChannel    Kind = "channel"
	KindError      Kind = "error"
)

// Entry is a single timestamped line in a session log.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEntry creates an entry stamped with the current time.
func NewEntry(k Kind, data map[string]any) Entry {
	return Entry{
		Timestamp: time.Now().UTC(),
		Kind:      k,
		Data:      data,
	}
}

// TelemetryData records one send attempt and the route it took
// (channel, fallback, dropped, failed).
func TelemetryData(ev telemetry.Event, route telemetry.Route) map[string]any {
	return map[string]any{
		"event_type": string(ev.EventType),
		"task_id":    ev.TaskID,
		"route":      string(route),
		"critical":   ev.EventType.IsCritical(),
		"payload":    ev.Payload,
	}
}

// TransitionData records a session state change.
func TransitionData(from, to string) map[string]any {
	return map[string]any{
		"from": from,
		"to":   to,
	}
}

// ChannelData records a channel health snapshot.
func ChannelData(state telemetry.State) map[string]any {
	return map[string]any{
		"status":             string(state.Status),
		"reconnect_attempts": state.ReconnectAttempts,
	}
}

// ErrorData records a surfaced error.
func ErrorData(message string, details map[string]any) map[string]any {
	d := map[string]any{
		"message": message,
	}
	for k, v := range details {
		d[k] = v
	}
	return d
}
