// Package api is the HTTP client for the recruiting platform's
// candidate-facing assessment endpoints. The engine consumes five
// operations: describe, start, task fetch, complete, and the synchronous
// event fallback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/telemetry"
)

const defaultTimeout = 15 * time.Second

// Client talks to one assessment identified by its one-time token. The
// token is immutable for the client's lifetime.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL (e.g. "https://hire.example.com")
// scoped to the given session token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Describe validates the token and returns the assessment's current state.
func (c *Client) Describe(ctx context.Context) (*models.AssessmentInfo, error) {
	var info models.AssessmentInfo
	if err := c.do(ctx, http.MethodGet, c.assessmentPath(""), nil, &info); err != nil {
		return nil, fmt.Errorf("describing assessment: %w", err)
	}
	return &info, nil
}

// Start consumes the one-time token (pending -> in_progress) and records the
// server-side start time. Resuming an in-progress assessment is allowed.
func (c *Client) Start(ctx context.Context) (*models.StartResult, error) {
	var res models.StartResult
	if err := c.do(ctx, http.MethodPost, c.assessmentPath("/start"), nil, &res); err != nil {
		return nil, fmt.Errorf("starting assessment: %w", err)
	}
	return &res, nil
}

// Task fetches the task at the given zero-based index.
func (c *Client) Task(ctx context.Context, index int) (*models.Task, error) {
	var task models.Task
	path := c.assessmentPath(fmt.Sprintf("/task/%d", index))
	if err := c.do(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, fmt.Errorf("fetching task %d: %w", index, err)
	}
	return &task, nil
}

// Complete marks the assessment finished. The operation is idempotent
// server-side.
func (c *Client) Complete(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.assessmentPath("/complete"), nil, nil); err != nil {
		return fmt.Errorf("completing assessment: %w", err)
	}
	return nil
}

// LogEvent posts one event envelope to the synchronous fallback endpoint.
// It is the delivery path for critical events when the duplex channel is
// down; the channel manager never retries a failed fallback post.
func (c *Client) LogEvent(ctx context.Context, ev telemetry.Event) error {
	if err := c.do(ctx, http.MethodPost, c.assessmentPath("/event"), ev, nil); err != nil {
		return fmt.Errorf("posting event %s: %w", ev.EventType, err)
	}
	return nil
}

// EventSink adapts the fallback endpoint to the telemetry.Sink interface.
func (c *Client) EventSink() telemetry.Sink {
	return telemetry.SinkFunc(c.LogEvent)
}

// WebSocketURL returns the duplex channel endpoint for this session,
// translating the base URL's scheme (http -> ws, https -> wss).
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/assessment/" + url.PathEscape(c.token)
	return u.String(), nil
}

func (c *Client) assessmentPath(suffix string) string {
	return "/api/v1/assessment/" + url.PathEscape(c.token) + suffix
}

// errorBody is the server's error response shape.
type errorBody struct {
	Detail string `json:"detail"`
}

// do performs one request with a JSON body and decodes a JSON response into
// out (when out is non-nil). Non-2xx responses become *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var eb errorBody
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb); decodeErr == nil {
			apiErr.Detail = eb.Detail
		}
		c.logger.Debug("api error", "method", method, "path", path, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
