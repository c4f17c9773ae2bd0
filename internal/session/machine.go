// Package session owns the assessment lifecycle: a state machine that
// sequences validate -> instructions -> active -> completing -> completed,
// and the task progression controller that advances through tasks under it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hirewire/proctor/internal/api"
	"github.com/hirewire/proctor/internal/metrics"
	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/telemetry"
)

// State is the engine-side lifecycle state of a session.
type State string

const (
	StateValidating   State = "validating"
	StateInstructions State = "instructions"
	StateActive       State = "active"
	StateCompleting   State = "completing"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Terminal reports whether no further transitions are possible. Error is
// terminal from the engine's perspective; recovery is an explicit
// re-validation with a fresh machine, never a silent retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// validTransitions is the full legality table. Completing deliberately maps
// back onto itself so a failed completion can be retried manually.
var validTransitions = map[State][]State{
	StateValidating:   {StateInstructions, StateActive, StateCompleted, StateError},
	StateInstructions: {StateActive, StateError},
	StateActive:       {StateCompleting, StateError},
	StateCompleting:   {StateCompleting, StateCompleted, StateError},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// API is the task-fetch/completion collaborator consumed by the engine.
// *api.Client satisfies it.
type API interface {
	Describe(ctx context.Context) (*models.AssessmentInfo, error)
	Start(ctx context.Context) (*models.StartResult, error)
	Task(ctx context.Context, index int) (*models.Task, error)
	Complete(ctx context.Context) error
}

// TelemetryChannel is the outbound event channel owned by the machine.
// *telemetry.Channel satisfies it.
type TelemetryChannel interface {
	telemetry.Sink
	Connect(ctx context.Context) error
	Close() error
	State() telemetry.State
}

// Machine is the session state machine. It is the sole owner of the
// AssessmentInfo snapshot and the only component allowed to force the
// terminal Error state.
type Machine struct {
	api       API
	channel   TelemetryChannel
	collector *metrics.Collector
	prog      *Progression
	logger    *slog.Logger

	// onTransition, when set, observes every state change (including the
	// forced transition to Error).
	onTransition func(from, to State)

	mu      sync.Mutex
	state   State
	info    *models.AssessmentInfo
	lastErr error
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineLogger sets the machine's logger.
func WithMachineLogger(l *slog.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// WithCollector replaces the machine's metrics collector.
func WithCollector(c *metrics.Collector) MachineOption {
	return func(m *Machine) { m.collector = c }
}

// WithTransitionObserver registers a callback invoked after every state
// change.
func WithTransitionObserver(f func(from, to State)) MachineOption {
	return func(m *Machine) { m.onTransition = f }
}

// WithTaskValidator installs a payload check applied to every fetched task
// before it becomes current.
func WithTaskValidator(v func(*models.Task) error) MachineOption {
	return func(m *Machine) { m.prog.validate = v }
}

// NewMachine wires a machine over the collaborator client and telemetry
// channel. The progression controller and metrics collector are created
// internally and share the channel as their event sink.
func NewMachine(client API, channel TelemetryChannel, opts ...MachineOption) *Machine {
	m := &Machine{
		api:     client,
		channel: channel,
		logger:  slog.Default(),
		state:   StateValidating,
	}
	m.collector = metrics.NewCollector(channel)
	m.prog = newProgression(client, channel, nil, m.Complete)
	for _, o := range opts {
		o(m)
	}
	m.prog.collector = m.collector
	m.prog.logger = m.logger
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns the current assessment snapshot (nil before validation).
func (m *Machine) Info() *models.AssessmentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Err returns the error that forced the Error state, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Collector exposes the behavioral metrics collector so the UI layer can
// feed it focus, clipboard, idle-tick, and input signals.
func (m *Machine) Collector() *metrics.Collector { return m.collector }

// Progression exposes read access to the task progression controller.
func (m *Machine) Progression() *Progression { return m.prog }

// Totals returns the session accumulators for the summary screen.
func (m *Machine) Totals() models.SessionTotals { return m.prog.Totals() }

// Validate resolves the token via the describe operation and routes to the
// right initial state: already-completed assessments terminate successfully
// without ever opening the channel; in-progress assessments resume straight
// into Active at the server-reported index; pending assessments stop at the
// instructions screen.
func (m *Machine) Validate(ctx context.Context) error {
	if s := m.State(); s != StateValidating {
		return fmt.Errorf("validate called in state %q", s)
	}

	info, err := m.api.Describe(ctx)
	if err != nil {
		m.fail(fmt.Errorf("validating token: %w", err))
		return err
	}

	m.setInfo(info)

	switch info.Status {
	case models.StatusCompleted:
		// A finished assessment is a normal terminal outcome, not a failure.
		return m.transition(StateCompleted)

	case models.StatusInProgress:
		// Resume after a disconnect or reload: no instructions screen.
		if err := m.transition(StateActive); err != nil {
			return err
		}
		m.openChannel(ctx)
		m.prog.bind(info.TotalTasks, info.CurrentTaskIndex)
		if _, err := m.prog.fetchTask(ctx, info.CurrentTaskIndex); err != nil {
			m.fail(err)
			return err
		}
		return nil

	default:
		return m.transition(StateInstructions)
	}
}

// Start is the explicit user-triggered transition from the instructions
// screen into the active assessment. The start operation anchors the
// server-side clock before any task is fetched.
func (m *Machine) Start(ctx context.Context) error {
	if s := m.State(); s != StateInstructions {
		return fmt.Errorf("start called in state %q", s)
	}

	res, err := m.api.Start(ctx)
	if err != nil {
		m.fail(fmt.Errorf("starting assessment: %w", err))
		return err
	}

	// Replace the snapshot wholesale with the server's view.
	m.mu.Lock()
	info := *m.info
	info.Status = models.StatusInProgress
	if res.TotalTasks > 0 {
		info.TotalTasks = res.TotalTasks
	}
	info.CurrentTaskIndex = res.CurrentTaskIndex
	m.info = &info
	m.mu.Unlock()

	if err := m.transition(StateActive); err != nil {
		return err
	}
	m.openChannel(ctx)
	m.prog.bind(info.TotalTasks, info.CurrentTaskIndex)
	if _, err := m.prog.fetchTask(ctx, info.CurrentTaskIndex); err != nil {
		m.fail(err)
		return err
	}
	return nil
}

// Submit submits the current task's answer and advances. Terminal API
// failures force the Error state; recoverable failures are surfaced for a
// manual retry.
func (m *Machine) Submit(ctx context.Context) error {
	if s := m.State(); s != StateActive {
		return fmt.Errorf("submit called in state %q", s)
	}
	return m.afterAdvance(m.prog.Submit(ctx))
}

// Skip skips the current task and advances.
func (m *Machine) Skip(ctx context.Context) error {
	if s := m.State(); s != StateActive {
		return fmt.Errorf("skip called in state %q", s)
	}
	return m.afterAdvance(m.prog.Skip(ctx))
}

// RetryAdvance retries an advancement that failed recoverably after Submit
// or Skip already finalized its task, leaving the session active with no
// current task. Terminal failures still force the Error state.
func (m *Machine) RetryAdvance(ctx context.Context) error {
	if s := m.State(); s != StateActive {
		return fmt.Errorf("retry called in state %q", s)
	}
	return m.afterAdvance(m.prog.Recover(ctx))
}

func (m *Machine) afterAdvance(err error) error {
	if err == nil {
		m.syncIndex()
		return nil
	}
	if api.IsTerminal(err) {
		m.fail(err)
	}
	return err
}

// syncIndex mirrors the controller's index into the owned snapshot,
// replacing it wholesale.
func (m *Machine) syncIndex() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return
	}
	info := *m.info
	if idx := m.prog.Index(); idx > info.CurrentTaskIndex {
		info.CurrentTaskIndex = idx
	}
	m.info = &info
}

// Complete marks the assessment finished. On success the session reaches
// Completed and the channel closes; on failure the session stays in
// Completing and the caller may retry explicitly. There is no automatic
// retry because completion is not guaranteed idempotent mid-flight.
func (m *Machine) Complete(ctx context.Context) error {
	if s := m.State(); s != StateActive && s != StateCompleting {
		return fmt.Errorf("complete called in state %q", s)
	}
	if err := m.transition(StateCompleting); err != nil {
		return err
	}

	if err := m.api.Complete(ctx); err != nil {
		m.logger.Warn("completion failed, awaiting manual retry", "error", err)
		return err
	}

	if err := m.transition(StateCompleted); err != nil {
		return err
	}
	m.mu.Lock()
	if m.info != nil {
		info := *m.info
		info.Status = models.StatusCompleted
		info.CurrentTaskIndex = info.TotalTasks
		m.info = &info
	}
	m.mu.Unlock()
	m.channel.Close() //nolint:errcheck
	return nil
}

// Teardown releases the channel and its pending reconnect timers. Safe in
// any state; used on page-navigation-equivalent exits.
func (m *Machine) Teardown() {
	m.channel.Close() //nolint:errcheck
}

// openChannel connects the duplex channel. Failure is recoverable-automatic
// (the channel retries itself), so it is logged and never blocks the
// session.
func (m *Machine) openChannel(ctx context.Context) {
	if err := m.channel.Connect(ctx); err != nil {
		m.logger.Warn("telemetry channel unavailable, continuing degraded", "error", err)
	}
}

func (m *Machine) setInfo(info *models.AssessmentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// transition enforces the legality table. Illegal transitions are
// programming errors and reported as such rather than silently applied.
func (m *Machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if from == to && to == StateCompleting {
		m.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %q -> %q", from, to)
	}
	m.state = to
	m.mu.Unlock()
	m.logger.Debug("session transition", "from", from, "to", to)
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	if to.Terminal() {
		m.channel.Close() //nolint:errcheck
	}
	return nil
}

// fail forces the terminal Error state. The machine is the only component
// allowed to do this.
func (m *Machine) fail(err error) {
	m.mu.Lock()
	from := m.state
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("session failed", "from", from, "error", err)
	if m.onTransition != nil {
		m.onTransition(from, StateError)
	}
	m.channel.Close() //nolint:errcheck
}
