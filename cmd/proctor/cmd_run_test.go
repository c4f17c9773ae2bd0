package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/sessionlog"
)

const runTestToken = "tok-run-test"

// stubPrompts replaces the interactive prompt hooks with a scripted session
// and restores them when the test finishes.
func stubPrompts(t *testing.T, actions []string) {
	t.Helper()

	origTTY := stdinIsTerminal
	origAction := promptAction
	origOption := promptOption
	origReasoning := promptReasoning
	origConfirm := promptConfirm
	t.Cleanup(func() {
		stdinIsTerminal = origTTY
		promptAction = origAction
		promptOption = origOption
		promptReasoning = origReasoning
		promptConfirm = origConfirm
	})

	var mu sync.Mutex
	stdinIsTerminal = func() bool { return true }
	promptAction = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(actions) == 0 {
			return "", fmt.Errorf("prompt script exhausted")
		}
		a := actions[0]
		actions = actions[1:]
		return a, nil
	}
	promptOption = func(task *models.Task, current *int) (int, error) { return 1, nil }
	promptReasoning = func(task *models.Task, current string) (string, error) {
		return "Scripted justification that is clearly long enough.", nil
	}
	promptConfirm = func(question string) (bool, error) { return true, nil }
}

// resetRunFlags clears the package-level flag bindings between tests.
func resetRunFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		serverURL, logDir = "", ""
		noLog, noArchive = false, false
	})
}

type assessmentServer struct {
	mu            sync.Mutex
	status        models.AttemptStatus
	tasks         []*models.Task
	taskFailures  map[int]int // remaining 502s to serve per task index
	completeCalls int
	eventTypes    []string
}

func (s *assessmentServer) handler() http.Handler {
	base := "/api/v1/assessment/" + runTestToken
	mux := http.NewServeMux()

	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(models.AssessmentInfo{ //nolint:errcheck
			AttemptID:     "att-1",
			CandidateName: "Riley",
			Position:      "Support Engineer",
			TotalTasks:    len(s.tasks),
			Status:        s.status,
		})
	})
	mux.HandleFunc(base+"/start", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.status = models.StatusInProgress
		n := len(s.tasks)
		s.mu.Unlock()
		json.NewEncoder(w).Encode(models.StartResult{AttemptID: "att-1", TotalTasks: n}) //nolint:errcheck
	})
	mux.HandleFunc(base+"/task/", func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, base+"/task/"))
		if err != nil || idx < 0 || idx >= len(s.tasks) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Task not found"}) //nolint:errcheck
			return
		}
		s.mu.Lock()
		if s.taskFailures[idx] > 0 {
			s.taskFailures[idx]--
			s.mu.Unlock()
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"detail": "upstream unavailable"}) //nolint:errcheck
			return
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(s.tasks[idx]) //nolint:errcheck
	})
	mux.HandleFunc(base+"/complete", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.completeCalls++
		s.status = models.StatusCompleted
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"message": "assessment completed"}) //nolint:errcheck
	})
	mux.HandleFunc(base+"/event", func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]any
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			s.mu.Lock()
			if et, ok := ev["event_type"].(string); ok {
				s.eventTypes = append(s.eventTypes, et)
			}
			s.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func serverTask(i int) *models.Task {
	return &models.Task{
		ID:         fmt.Sprintf("task-%d", i+1),
		Title:      "Escalation under pressure",
		Scenario:   "A customer threatens to churn over a bug your team shipped yesterday.",
		Category:   models.CategoryCommunication,
		Difficulty: models.DifficultyMedium,
		Options: []models.TaskOption{
			{ID: "opt_1", Text: "Apologize and commit to a timeline"},
			{ID: "opt_2", Text: "Escalate to engineering leadership"},
			{ID: "opt_3", Text: "Offer a contract credit"},
		},
		ReasoningRequired: true,
	}
}

func TestRunCommandFullSession(t *testing.T) {
	srv := &assessmentServer{
		status: models.StatusPending,
		tasks:  []*models.Task{serverTask(0), serverTask(1)},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	// Two tasks: answer the first, skip the second.
	stubPrompts(t, []string{
		actionSelect, actionReason, actionSubmit,
		actionSkip,
	})
	resetRunFlags(t)

	logRoot := t.TempDir()
	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken, "--server", ts.URL, "--log-dir", logRoot})
	require.NoError(t, root.Execute())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, 1, srv.completeCalls)
	assert.Equal(t, models.StatusCompleted, srv.status)

	// The duplex endpoint does not exist on this server, so every critical
	// event must have arrived through the HTTP fallback.
	assert.Contains(t, srv.eventTypes, "task_started")
	assert.Contains(t, srv.eventTypes, "task_completed")
	assert.Contains(t, srv.eventTypes, "task_skipped")

	// The audit log was written and archived.
	logs, err := sessionlog.ListLogs(logRoot)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, strings.HasSuffix(logs[0].Name, ".jsonl.zst"))
	assert.Greater(t, logs[0].NumEntries, 0)
}

func TestRunCommandRecoversFromTransientTaskFetchFailure(t *testing.T) {
	srv := &assessmentServer{
		status:       models.StatusPending,
		tasks:        []*models.Task{serverTask(0), serverTask(1)},
		taskFailures: map[int]int{1: 1},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	// The first fetch of the second task fails; the scripted confirm
	// answers yes to the retry prompt and the session finishes normally.
	stubPrompts(t, []string{
		actionSelect, actionReason, actionSubmit,
		actionSkip,
	})
	resetRunFlags(t)

	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken, "--server", ts.URL, "--no-log"})
	require.NoError(t, root.Execute())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, 1, srv.completeCalls)
	assert.Equal(t, models.StatusCompleted, srv.status)
	assert.Contains(t, srv.eventTypes, "task_skipped")
}

func TestRunCommandInterruptedSessionExitsNonZero(t *testing.T) {
	srv := &assessmentServer{
		status:       models.StatusPending,
		tasks:        []*models.Task{serverTask(0), serverTask(1)},
		taskFailures: map[int]int{1: 1000},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	stubPrompts(t, []string{actionSelect, actionReason, actionSubmit})
	resetRunFlags(t)
	// Begin the assessment, but decline the fetch retry.
	promptConfirm = func(question string) (bool, error) {
		return !strings.Contains(question, "Retry"), nil
	}

	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken, "--server", ts.URL, "--no-log"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Zero(t, srv.completeCalls, "an interrupted session must not be finalized")
	assert.Equal(t, models.StatusInProgress, srv.status)
}

func TestRunCommandAlreadyCompleted(t *testing.T) {
	srv := &assessmentServer{status: models.StatusCompleted, tasks: []*models.Task{serverTask(0)}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	stubPrompts(t, nil)
	resetRunFlags(t)

	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken, "--server", ts.URL, "--no-log"})
	require.NoError(t, root.Execute())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Zero(t, srv.completeCalls)
	assert.Empty(t, srv.eventTypes)
}

func TestRunCommandExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Assessment has expired"}) //nolint:errcheck
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	stubPrompts(t, nil)
	resetRunFlags(t)

	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken, "--server", ts.URL, "--no-log"})
	err := root.Execute()
	require.Error(t, err)

	var terminalErr *TerminalTokenError
	require.ErrorAs(t, err, &terminalErr)
	assert.Contains(t, terminalErr.Message, "expired")
}

func TestRunCommandRequiresTerminal(t *testing.T) {
	stubPrompts(t, nil)
	resetRunFlags(t)
	stdinIsTerminal = func() bool { return false }

	root := newRootCommand()
	root.SetArgs([]string{"run", runTestToken})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a terminal")
}

func TestRunCommandRequiresToken(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"run"})
	require.Error(t, root.Execute())
}
