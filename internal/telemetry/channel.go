package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gorilla/websocket"
)

// Status describes the health of the duplex channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Reconnect policy: delays follow min(1s << attempts, 10s), giving the
// sequence 1s, 2s, 4s, 8s, 10s. After five failed attempts the channel
// stays down and the session degrades to fallback-only delivery.
const (
	maxReconnectAttempts  = 5
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 10 * time.Second
)

// State is a snapshot of the channel for UI and logging.
type State struct {
	Status            Status `json:"status"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// Conn is the subset of a WebSocket connection the channel uses.
// *websocket.Conn satisfies it directly.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Dialer opens a duplex connection to the telemetry endpoint.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// DialContext opens a WebSocket connection to url.
func (d WSDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	conn, resp, err := wd.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Route records how an event left (or failed to leave) the engine.
type Route string

const (
	RouteChannel  Route = "channel"
	RouteFallback Route = "fallback"
	RouteDropped  Route = "dropped"
	RouteFailed   Route = "failed"
)

// Observer is notified after every send attempt. The CLI uses it to mirror
// traffic into the local session log.
type Observer func(ev Event, route Route)

// Channel owns the single duplex connection for a session and guarantees
// at-least-attempted delivery of critical events via the fallback sink when
// the connection is down. Advisory events are dropped silently while the
// channel is down; that lossy behavior is deliberate and must not be
// "fixed" into a buffered replay.
type Channel struct {
	url      string
	dialer   Dialer
	fallback Sink
	logger   *slog.Logger
	observer Observer

	// afterFunc is a seam for tests; production uses time.AfterFunc.
	afterFunc func(d time.Duration, f func()) *time.Timer

	// writeMu serializes frame writes; the underlying WebSocket supports
	// only one concurrent writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	status         Status
	attempts       int
	conn           Conn
	closed         bool
	reconnectTimer *time.Timer
	dialCtx        context.Context
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = l }
}

// WithObserver registers a send-attempt observer.
func WithObserver(o Observer) ChannelOption {
	return func(c *Channel) { c.observer = o }
}

// NewChannel creates a channel manager for the given endpoint. fallback
// receives critical events while the connection is down.
func NewChannel(url string, dialer Dialer, fallback Sink, opts ...ChannelOption) *Channel {
	c := &Channel{
		url:       url,
		dialer:    dialer,
		fallback:  fallback,
		logger:    slog.Default(),
		afterFunc: time.AfterFunc,
		status:    StatusDisconnected,
		dialCtx:   context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.fallback == nil {
		c.fallback = NopSink{}
	}
	return c
}

// State returns a snapshot of the channel.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Status: c.status, ReconnectAttempts: c.attempts}
}

// Connect opens the duplex connection. It is a no-op when a connection is
// already open or being opened, so duplicate sockets cannot exist. A dial
// failure is returned for logging but also schedules automatic reconnects;
// callers should not retry themselves.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.status != StatusDisconnected || c.reconnectTimer != nil {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.dialCtx = ctx
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial performs one connection attempt and installs the result.
func (c *Channel) dial(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, c.url)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close() //nolint:errcheck
		}
		return nil
	}
	if err != nil {
		c.status = StatusDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn("telemetry channel dial failed", "error", err)
		return err
	}
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("telemetry channel connected", "url", c.url)
	go c.readLoop(conn)
	return nil
}

// redial runs on the reconnect timer.
func (c *Channel) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.status = StatusConnecting
	ctx := c.dialCtx
	c.mu.Unlock()

	c.dial(ctx) //nolint:errcheck
}

// scheduleReconnectLocked arms the reconnect timer, or gives up once the
// attempt budget is spent. Callers must hold c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= maxReconnectAttempts {
		c.logger.Warn("telemetry reconnect budget exhausted, degrading to fallback-only delivery")
		return
	}
	delay := reconnectDelay(c.attempts)
	c.attempts++
	c.logger.Debug("scheduling telemetry reconnect", "attempt", c.attempts, "delay", delay)
	c.reconnectTimer = c.afterFunc(delay, c.redial)
}

// reconnectDelay returns min(initial << attempts, max).
func reconnectDelay(attempts int) time.Duration {
	d := initialReconnectDelay << attempts
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// handleDisconnect transitions Connected -> Disconnected and arms a
// reconnect. Later calls for the same connection loss are no-ops.
func (c *Channel) handleDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != StatusConnected {
		return
	}
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck
		c.conn = nil
	}
	c.status = StatusDisconnected
	c.logger.Warn("telemetry channel lost", "error", err)
	c.scheduleReconnectLocked()
}

// serverMessage is the inbound frame shape. The engine currently ignores
// server pushes beyond debug logging; the frames are reserved for future
// server-initiated features.
type serverMessage struct {
	Type      string `mapstructure:"type"`
	EventID   string `mapstructure:"event_id"`
	EventType string `mapstructure:"event_type"`
	Message   string `mapstructure:"message"`
}

// readLoop drains inbound frames until the connection errors out.
func (c *Channel) readLoop(conn Conn) {
	for {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			c.handleDisconnect(err)
			return
		}
		var msg serverMessage
		if err := mapstructure.Decode(raw, &msg); err != nil {
			c.logger.Debug("undecodable server frame", "error", err)
			continue
		}
		switch msg.Type {
		case "error":
			c.logger.Warn("telemetry server reported error", "message", msg.Message)
		default:
			c.logger.Debug("server frame", "type", msg.Type, "event_type", msg.EventType, "event_id", msg.EventID)
		}
	}
}

// Send routes one event. Connected: write the frame on the duplex channel.
// Down: critical events get exactly one fallback attempt; advisory events
// are dropped. Delivery failures never propagate as task-flow errors; the
// returned error exists for callers that want to log it.
func (c *Channel) Send(ctx context.Context, ev Event) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if connected && conn != nil {
		c.writeMu.Lock()
		err := conn.WriteJSON(ev)
		c.writeMu.Unlock()
		if err == nil {
			c.observe(ev, RouteChannel)
			return nil
		}
		// A failed write means the socket is gone; the event falls
		// through to the critical/advisory split below.
		c.handleDisconnect(err)
	}

	if !ev.EventType.IsCritical() {
		c.logger.Debug("advisory event dropped, channel down", "event_type", ev.EventType, "task_id", ev.TaskID)
		c.observe(ev, RouteDropped)
		return nil
	}

	if err := c.fallback.Send(ctx, ev); err != nil {
		c.logger.Warn("critical event fallback delivery failed", "event_type", ev.EventType, "task_id", ev.TaskID, "error", err)
		c.observe(ev, RouteFailed)
		return err
	}
	c.observe(ev, RouteFallback)
	return nil
}

func (c *Channel) observe(ev Event, route Route) {
	if c.observer != nil {
		c.observer(ev, route)
	}
}

// Close tears the channel down deterministically: the pending reconnect
// timer is cancelled and the connection closed. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.status = StatusDisconnected
	return err
}

// Ensure Channel satisfies Sink.
var _ Sink = (*Channel)(nil)
