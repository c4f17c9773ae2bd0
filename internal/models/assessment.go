// Package models defines the shared data types exchanged between the
// assessment engine and the recruiting platform's candidate-facing API.
package models

import "time"

// AttemptStatus is the server-side lifecycle state of an assessment attempt.
type AttemptStatus string

const (
	StatusPending    AttemptStatus = "pending"
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
)

// AssessmentInfo is the candidate-facing view of an attempt, returned by the
// describe endpoint at validation time and refreshed on start/resume. It is
// owned exclusively by the session state machine and only ever replaced
// wholesale, never field-mutated.
type AssessmentInfo struct {
	AttemptID        string        `json:"attempt_id"`
	CandidateName    string        `json:"candidate_name"`
	Position         string        `json:"position"`
	TotalTasks       int           `json:"total_tasks"`
	CurrentTaskIndex int           `json:"current_task_index"`
	Status           AttemptStatus `json:"status"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// StartResult is the response to the start endpoint, which consumes the
// one-time token and records the server-side start time.
type StartResult struct {
	AttemptID        string `json:"attempt_id"`
	Message          string `json:"message"`
	TotalTasks       int    `json:"total_tasks"`
	CurrentTaskIndex int    `json:"current_task_index"`
}

// SessionTotals accumulates per-session counters for the terminal summary
// screen. All fields are monotonically non-decreasing for the life of the
// session. Skips count toward both Answered and Skipped so that downstream
// scoring can apply a penalty while completion progress stays simple.
type SessionTotals struct {
	Answered         int `json:"answered"`
	Skipped          int `json:"skipped"`
	TimeSpentSeconds int `json:"time_spent_seconds"`
}

// AddAnswered records an answered task and its elapsed time.
func (t *SessionTotals) AddAnswered(timeSpentSeconds int) {
	t.Answered++
	t.TimeSpentSeconds += timeSpentSeconds
}

// AddSkipped records a skipped task and its elapsed time. Skipped tasks also
// count as answered for progress purposes.
func (t *SessionTotals) AddSkipped(timeSpentSeconds int) {
	t.Answered++
	t.Skipped++
	t.TimeSpentSeconds += timeSpentSeconds
}
