// Package metrics derives the behavioral signals consumed by server-side
// authenticity scoring from raw interaction timestamps: hesitation, option
// revisions, idle periods, focus changes, and clipboard activity.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/telemetry"
)

// Signal thresholds. Idle is edge-triggered at exactly 30 continuous
// seconds; clipboard events only fire above the size thresholds.
const (
	IdleThresholdSeconds = 30
	copyMinChars         = 10
	copyPreviewChars     = 50
	pasteMinChars        = 50
)

// Selection is one entry in a task's option-selection history.
type Selection struct {
	OptionIndex int       `json:"option_index"`
	OptionID    string    `json:"option_id"`
	At          time.Time `json:"at"`
}

// InteractionRecord is the per-task working state. It exists only while its
// task is current: it is created on task start and discarded on finalize,
// after every historically relevant fact has been emitted as an event.
type InteractionRecord struct {
	SelectedOptionIndex *int
	ReasoningText       string
	QuestionStart       time.Time
	FirstInteraction    *time.Time
	SelectionHistory    []Selection
	IdleSeconds         int

	idleEmitted      bool
	reasoningStarted bool
	lastActivity     string
	lastSelectionAt  time.Time
}

// Summary is the finalized view of a record, computed once on submit/skip.
type Summary struct {
	Submitted         bool
	TimeSpentSeconds  int
	HesitationSeconds int
	OptionChanges     int
	FinalOptionIndex  *int
	FinalOptionID     string
	ReasoningText     string
	HadSelection      bool
	HadReasoning      bool
}

// Collector converts interactions on the current task into telemetry
// events. All methods are safe for re-entrant UI callbacks; there is no
// real parallelism in the engine beyond the channel's internals.
type Collector struct {
	sink   telemetry.Sink
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	task *models.Task
	rec  *InteractionRecord
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectorLogger sets the collector's logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a collector that emits events to sink.
func NewCollector(sink telemetry.Sink, opts ...CollectorOption) *Collector {
	c := &Collector{
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.sink == nil {
		c.sink = telemetry.NopSink{}
	}
	return c
}

// StartTask makes task current and resets the working state: question start
// is now, first interaction unset, selection history empty, idle counter
// zero.
func (c *Collector) StartTask(task *models.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = task
	c.rec = &InteractionRecord{QuestionStart: c.now()}
}

// Record returns the current interaction record, or nil when no task is
// current.
func (c *Collector) Record() *InteractionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// SelectOption records a choice. The first selection emits option_selected;
// a change to a different option emits option_changed with the previous and
// new identities. Re-selecting the same option is counted as activity but
// emits nothing.
func (c *Collector) SelectOption(ctx context.Context, index int) error {
	c.mu.Lock()
	task, rec := c.task, c.rec
	if task == nil || rec == nil {
		c.mu.Unlock()
		return fmt.Errorf("no current task")
	}
	if index < 0 || index >= len(task.Options) {
		c.mu.Unlock()
		return fmt.Errorf("option index %d out of range [0,%d)", index, len(task.Options))
	}

	now := c.now()
	c.touchLocked(rec, now, "option_select")

	prev := rec.SelectedOptionIndex
	if prev != nil && *prev == index {
		c.mu.Unlock()
		return nil
	}

	sinceLast := time.Duration(0)
	if !rec.lastSelectionAt.IsZero() {
		sinceLast = now.Sub(rec.lastSelectionAt)
	}
	rec.lastSelectionAt = now

	idx := index
	rec.SelectedOptionIndex = &idx
	rec.SelectionHistory = append(rec.SelectionHistory, Selection{
		OptionIndex: index,
		OptionID:    task.Options[index].ID,
		At:          now,
	})

	var ev telemetry.Event
	if prev == nil {
		ev = telemetry.NewEvent(telemetry.EventOptionSelected, task.ID, map[string]any{
			"option_id":          task.Options[index].ID,
			"option_index":       index,
			"is_first_selection": true,
		}, now)
	} else {
		ev = telemetry.NewEvent(telemetry.EventOptionChanged, task.ID, map[string]any{
			"previous_option_index":     *prev,
			"new_option_index":          index,
			"from_option_id":            task.Options[*prev].ID,
			"to_option_id":              task.Options[index].ID,
			"time_since_last_change_ms": sinceLast.Milliseconds(),
		}, now)
	}
	c.mu.Unlock()

	return c.send(ctx, ev)
}

// ReasoningChanged records the candidate's reasoning text. The first
// non-empty edit emits reasoning_started; later edits emit advisory
// reasoning_updated counts. Typing counts as interaction for hesitation
// and idle purposes, but whitespace-only input before reasoning has
// started does not: it is indistinguishable from an accidental keypress
// and must not contaminate hesitation timing.
func (c *Collector) ReasoningChanged(ctx context.Context, text string) error {
	c.mu.Lock()
	task, rec := c.task, c.rec
	if task == nil || rec == nil {
		c.mu.Unlock()
		return fmt.Errorf("no current task")
	}

	if !rec.reasoningStarted && strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return nil
	}

	now := c.now()
	c.touchLocked(rec, now, "reasoning_edit")
	rec.ReasoningText = text

	var ev telemetry.Event
	if !rec.reasoningStarted {
		rec.reasoningStarted = true
		ev = telemetry.NewEvent(telemetry.EventReasoningStarted, task.ID, map[string]any{
			"time_since_task_start_ms": now.Sub(rec.QuestionStart).Milliseconds(),
		}, now)
	} else {
		ev = telemetry.NewEvent(telemetry.EventReasoningUpdated, task.ID, map[string]any{
			"character_count": utf8.RuneCountInString(text),
			"word_count":      len(strings.Fields(text)),
		}, now)
	}
	c.mu.Unlock()

	return c.send(ctx, ev)
}

// Tick advances the idle counter by one second. At exactly the threshold it
// emits idle_detected once; the trigger does not repeat until an
// interaction resets the counter. The caller owns the 1-second cadence and
// must stop ticking outside the Active state.
func (c *Collector) Tick(ctx context.Context) error {
	c.mu.Lock()
	task, rec := c.task, c.rec
	if task == nil || rec == nil {
		c.mu.Unlock()
		return nil
	}
	rec.IdleSeconds++
	if rec.IdleSeconds != IdleThresholdSeconds || rec.idleEmitted {
		c.mu.Unlock()
		return nil
	}
	rec.idleEmitted = true
	last := rec.lastActivity
	if last == "" {
		last = "task_start"
	}
	ev := telemetry.NewEvent(telemetry.EventIdleDetected, task.ID, map[string]any{
		"idle_duration_ms":   IdleThresholdSeconds * 1000,
		"last_activity_type": last,
	}, c.now())
	c.mu.Unlock()

	return c.send(ctx, ev)
}

// FocusLost reports loss of window focus. Edge-triggered by the caller.
func (c *Collector) FocusLost(ctx context.Context, trigger string) error {
	return c.focusEvent(ctx, telemetry.EventFocusLost, trigger)
}

// FocusGained reports focus returning. Edge-triggered by the caller.
func (c *Collector) FocusGained(ctx context.Context, trigger string) error {
	return c.focusEvent(ctx, telemetry.EventFocusGained, trigger)
}

func (c *Collector) focusEvent(ctx context.Context, et telemetry.EventType, trigger string) error {
	c.mu.Lock()
	task := c.task
	if task == nil {
		c.mu.Unlock()
		return nil
	}
	ev := telemetry.NewEvent(et, task.ID, map[string]any{"trigger": trigger}, c.now())
	c.mu.Unlock()
	return c.send(ctx, ev)
}

// CopyDetected reports scenario text being copied. Copies of more than 10
// characters emit copy_detected with a 50-character preview and the length.
func (c *Collector) CopyDetected(ctx context.Context, text string) error {
	c.mu.Lock()
	task := c.task
	if task == nil || utf8.RuneCountInString(text) <= copyMinChars {
		c.mu.Unlock()
		return nil
	}
	preview := text
	if utf8.RuneCountInString(preview) > copyPreviewChars {
		preview = string([]rune(preview)[:copyPreviewChars])
	}
	ev := telemetry.NewEvent(telemetry.EventCopyDetected, task.ID, map[string]any{
		"text_preview": preview,
		"char_count":   utf8.RuneCountInString(text),
		"source":       "scenario",
	}, c.now())
	c.mu.Unlock()
	return c.send(ctx, ev)
}

// PasteDetected reports text pasted into the reasoning field. Pastes longer
// than 50 characters emit paste_detected with the length.
func (c *Collector) PasteDetected(ctx context.Context, charCount int) error {
	c.mu.Lock()
	task := c.task
	if task == nil || charCount <= pasteMinChars {
		c.mu.Unlock()
		return nil
	}
	ev := telemetry.NewEvent(telemetry.EventPasteDetected, task.ID, map[string]any{
		"char_count": charCount,
		"source":     "reasoning",
	}, c.now())
	c.mu.Unlock()
	return c.send(ctx, ev)
}

// Finalize computes the task's summary and discards the working record.
// For a submission, hesitation falls back to the full time spent when the
// candidate never interacted before submitting (degenerate but possible on
// resumed sessions).
func (c *Collector) Finalize(submitted bool) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.rec
	if rec == nil {
		return Summary{Submitted: submitted}
	}

	now := c.now()
	spent := int(now.Sub(rec.QuestionStart) / time.Second)

	s := Summary{
		Submitted:        submitted,
		TimeSpentSeconds: spent,
		FinalOptionIndex: rec.SelectedOptionIndex,
		ReasoningText:    rec.ReasoningText,
		HadSelection:     rec.SelectedOptionIndex != nil,
		HadReasoning:     strings.TrimSpace(rec.ReasoningText) != "",
	}
	if submitted {
		if rec.FirstInteraction != nil {
			s.HesitationSeconds = int(rec.FirstInteraction.Sub(rec.QuestionStart) / time.Second)
		} else {
			s.HesitationSeconds = spent
		}
		if n := len(rec.SelectionHistory) - 1; n > 0 {
			s.OptionChanges = n
		}
	}
	if rec.SelectedOptionIndex != nil && c.task != nil {
		s.FinalOptionID = c.task.Options[*rec.SelectedOptionIndex].ID
	}

	c.rec = nil
	c.task = nil
	return s
}

// touchLocked marks candidate activity: sets first interaction when unset
// and re-arms the idle trigger.
func (c *Collector) touchLocked(rec *InteractionRecord, now time.Time, activity string) {
	if rec.FirstInteraction == nil {
		t := now
		rec.FirstInteraction = &t
	}
	rec.IdleSeconds = 0
	rec.idleEmitted = false
	rec.lastActivity = activity
}

func (c *Collector) send(ctx context.Context, ev telemetry.Event) error {
	if err := c.sink.Send(ctx, ev); err != nil {
		c.logger.Debug("event send failed", "event_type", ev.EventType, "error", err)
		return err
	}
	return nil
}
