package telemetry

import "context"

// Sink accepts outbound events. The channel manager is the engine's sink;
// the fallback sink backs it when the duplex channel is down.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// NopSink discards every event. Useful as a default when a session has no
// telemetry destination (e.g. unit tests of the collector's arithmetic).
type NopSink struct{}

// Send is a no-op.
func (NopSink) Send(context.Context, Event) error { return nil }
