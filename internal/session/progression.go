package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hirewire/proctor/internal/metrics"
	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/telemetry"
)

// completionDelay lets the just-dispatched critical event complete in
// flight before the session moves into completion.
const completionDelay = 500 * time.Millisecond

// Progression sequences tasks: it pulls the next task from the collaborator,
// validates answer readiness, keeps the skip-penalty bookkeeping, and
// triggers session completion after the last task.
type Progression struct {
	api       API
	sink      telemetry.Sink
	collector *metrics.Collector
	complete  func(ctx context.Context) error
	validate  func(*models.Task) error
	logger    *slog.Logger

	// test seams
	now   func() time.Time
	sleep func(time.Duration)

	mu         sync.Mutex
	totalTasks int
	index      int
	task       *models.Task
	inFlight   bool
	totals     models.SessionTotals
}

func newProgression(client API, sink telemetry.Sink, collector *metrics.Collector, complete func(ctx context.Context) error) *Progression {
	return &Progression{
		api:       client,
		sink:      sink,
		collector: collector,
		complete:  complete,
		logger:    slog.Default(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// bind anchors the controller to the server-reported task count and resume
// index. The count is never inferred from fetched payloads.
func (p *Progression) bind(totalTasks, index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalTasks = totalTasks
	p.index = index
}

// Index returns the current zero-based task index. It is monotonically
// non-decreasing and bounded by [0, totalTasks].
func (p *Progression) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// CurrentTask returns the task being displayed, or nil between tasks.
func (p *Progression) CurrentTask() *models.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}

// Totals returns a copy of the session accumulators.
func (p *Progression) Totals() models.SessionTotals {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

// fetchTask pulls the task at index, validates the payload, makes it
// current, and emits the critical task_started event before any input can
// be accepted. That ordering anchors per-task timing server-side and
// guarantees task_started precedes every option event for the task.
func (p *Progression) fetchTask(ctx context.Context, index int) (*models.Task, error) {
	task, err := p.api.Task(ctx, index)
	if err != nil {
		return nil, err
	}
	if p.validate != nil {
		if err := p.validate(task); err != nil {
			return nil, fmt.Errorf("task %d payload rejected: %w", index, err)
		}
	}

	p.mu.Lock()
	if index > p.index {
		p.index = index
	}
	p.task = task
	p.mu.Unlock()

	p.collector.StartTask(task)

	ev := telemetry.NewEvent(telemetry.EventTaskStarted, task.ID, map[string]any{
		"task_index": index,
	}, p.now())
	if err := p.sink.Send(ctx, ev); err != nil {
		p.logger.Debug("task_started delivery failed", "task_id", task.ID, "error", err)
	}
	return task, nil
}

// CanSubmit reports whether a submission would be accepted, with a
// human-readable reason when it would not.
func (p *Progression) CanSubmit() (bool, string) {
	p.mu.Lock()
	task, inFlight := p.task, p.inFlight
	p.mu.Unlock()

	if task == nil {
		return false, "no task is active"
	}
	if inFlight {
		return false, "a submission is already in progress"
	}
	rec := p.collector.Record()
	if rec == nil || rec.SelectedOptionIndex == nil {
		return false, "select an option first"
	}
	min := task.MinReasoningLength()
	if utf8.RuneCountInString(strings.TrimSpace(rec.ReasoningText)) < min {
		return false, fmt.Sprintf("reasoning must be at least %d characters", min)
	}
	return true, ""
}

// Submit finalizes the current task as answered and advances. The
// single-flight guard makes rapid double-activation produce exactly one
// task_completed event and one advancement.
func (p *Progression) Submit(ctx context.Context) error {
	if ok, reason := p.CanSubmit(); !ok {
		return fmt.Errorf("cannot submit: %s", reason)
	}

	p.mu.Lock()
	if p.inFlight || p.task == nil {
		p.mu.Unlock()
		return fmt.Errorf("cannot submit: a submission is already in progress")
	}
	p.inFlight = true
	task := p.task
	p.mu.Unlock()
	defer p.clearInFlight()

	summary := p.collector.Finalize(true)

	// The reasoning text itself travels on an advisory event; the critical
	// completion record carries the derived signals.
	reasoning := telemetry.NewEvent(telemetry.EventReasoningSubmitted, task.ID, map[string]any{
		"final_text":      summary.ReasoningText,
		"character_count": utf8.RuneCountInString(summary.ReasoningText),
		"word_count":      len(strings.Fields(summary.ReasoningText)),
	}, p.now())
	if err := p.sink.Send(ctx, reasoning); err != nil {
		p.logger.Debug("reasoning_submitted delivery failed", "task_id", task.ID, "error", err)
	}

	payload := map[string]any{
		"final_option_id":    summary.FinalOptionID,
		"time_spent_seconds": summary.TimeSpentSeconds,
		"hesitation_seconds": summary.HesitationSeconds,
		"option_changes":     summary.OptionChanges,
	}
	if summary.FinalOptionIndex != nil {
		payload["final_option_index"] = *summary.FinalOptionIndex
	}
	completed := telemetry.NewEvent(telemetry.EventTaskCompleted, task.ID, payload, p.now())
	if err := p.sink.Send(ctx, completed); err != nil {
		p.logger.Debug("task_completed delivery failed", "task_id", task.ID, "error", err)
	}

	p.mu.Lock()
	p.totals.AddAnswered(summary.TimeSpentSeconds)
	p.task = nil
	p.mu.Unlock()

	return p.advance(ctx)
}

// Skip finalizes the current task as skipped and advances. Skips need no
// selection or reasoning; they count toward completion progress but are
// recorded separately so scoring can penalize them.
func (p *Progression) Skip(ctx context.Context) error {
	p.mu.Lock()
	if p.task == nil {
		p.mu.Unlock()
		return fmt.Errorf("cannot skip: no task is active")
	}
	if p.inFlight {
		p.mu.Unlock()
		return fmt.Errorf("cannot skip: a submission is already in progress")
	}
	p.inFlight = true
	task := p.task
	p.mu.Unlock()
	defer p.clearInFlight()

	summary := p.collector.Finalize(false)

	ev := telemetry.NewEvent(telemetry.EventTaskSkipped, task.ID, map[string]any{
		"had_selection":      summary.HadSelection,
		"had_reasoning":      summary.HadReasoning,
		"time_spent_seconds": summary.TimeSpentSeconds,
	}, p.now())
	if err := p.sink.Send(ctx, ev); err != nil {
		p.logger.Debug("task_skipped delivery failed", "task_id", task.ID, "error", err)
	}

	p.mu.Lock()
	p.totals.AddSkipped(summary.TimeSpentSeconds)
	p.task = nil
	p.mu.Unlock()

	return p.advance(ctx)
}

// Recover retries an advancement that failed after the previous task was
// already finalized, re-fetching the pending task (or re-entering
// completion) so the session does not strand between tasks. It is a no-op
// while a task is current.
func (p *Progression) Recover(ctx context.Context) error {
	p.mu.Lock()
	if p.task != nil {
		p.mu.Unlock()
		return nil
	}
	if p.inFlight {
		p.mu.Unlock()
		return fmt.Errorf("cannot recover: a submission is already in progress")
	}
	p.inFlight = true
	p.mu.Unlock()
	defer p.clearInFlight()

	return p.advance(ctx)
}

// advance moves to the next task. After the last one it waits out the
// completion delay and hands control to the session's complete operation.
// Advancement happens strictly after the completion event was dispatched.
func (p *Progression) advance(ctx context.Context) error {
	p.mu.Lock()
	next := p.index + 1
	total := p.totalTasks
	p.mu.Unlock()

	if next < total {
		_, err := p.fetchTask(ctx, next)
		return err
	}

	p.sleep(completionDelay)
	if err := p.complete(ctx); err != nil {
		return err
	}

	// The index reaches totalTasks only once the session is completed.
	p.mu.Lock()
	p.index = total
	p.mu.Unlock()
	return nil
}

func (p *Progression) clearInFlight() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}
