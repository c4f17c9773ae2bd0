package models

// TaskCategory classifies what a scenario is probing for.
type TaskCategory string

const (
	CategoryProblemSolving     TaskCategory = "problem_solving"
	CategoryCommunication      TaskCategory = "communication"
	CategoryDecisionConfidence TaskCategory = "decision_confidence"
	CategoryAnalyticalThinking TaskCategory = "analytical_thinking"
	CategorySpeedAccuracy      TaskCategory = "speed_accuracy"
)

// TaskDifficulty is the server-assigned difficulty of a task.
type TaskDifficulty string

const (
	DifficultyEasy   TaskDifficulty = "easy"
	DifficultyMedium TaskDifficulty = "medium"
	DifficultyHard   TaskDifficulty = "hard"
)

// DefaultReasoningMinLength is used when the server omits a per-task minimum.
const DefaultReasoningMinLength = 20

// TaskOption is one answer choice within a task. IDs are unique within the
// task only (e.g. "opt_1").
type TaskOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Task is a single scenario question as served by the task endpoint. Tasks
// are immutable once fetched; exactly one task is current at a time and
// previous tasks are discarded client-side.
type Task struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Scenario           string         `json:"scenario"`
	Category           TaskCategory   `json:"category"`
	Difficulty         TaskDifficulty `json:"difficulty"`
	Options            []TaskOption   `json:"options"`
	ReasoningRequired  bool           `json:"reasoning_required"`
	ReasoningMinLength int            `json:"reasoning_min_length"`
	TimeLimitSeconds   int            `json:"time_limit_seconds,omitempty"`
}

// MinReasoningLength returns the effective minimum reasoning length for a
// submission: the per-task value when set, otherwise the platform default.
func (t *Task) MinReasoningLength() int {
	if t.ReasoningMinLength > 0 {
		return t.ReasoningMinLength
	}
	return DefaultReasoningMinLength
}
