package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hirewire/proctor/internal/api"
	"github.com/hirewire/proctor/internal/metrics"
	"github.com/hirewire/proctor/internal/models"
	"github.com/hirewire/proctor/internal/projectconfig"
	"github.com/hirewire/proctor/internal/session"
	"github.com/hirewire/proctor/internal/sessionlog"
	"github.com/hirewire/proctor/internal/spinner"
	"github.com/hirewire/proctor/internal/telemetry"
	"github.com/hirewire/proctor/internal/validation"
)

var (
	serverURL string
	logDir    string
	noLog     bool
	noArchive bool
)

// errSessionInterrupted is returned when the session is still active but
// cannot proceed, so the process must not exit as if the assessment were
// finished. Progress is preserved server-side; rerunning resumes it.
var errSessionInterrupted = fmt.Errorf("assessment interrupted; run proctor again with the same token to resume")

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <token>",
		Short: "Run an assessment session",
		Long: `Run an assessment session with the given one-time token.

The token identifies a single assessment instance prepared for you by a
recruiter. Validation, task sequencing, and telemetry all happen against
the configured server.`,
		Args: cobra.ExactArgs(1),
		RunE: runCommandE,
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Assessment server base URL (overrides .proctor.yaml)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for local session logs (overrides .proctor.yaml)")
	cmd.Flags().BoolVar(&noLog, "no-log", false, "Disable the local session log")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "Keep the session log uncompressed")

	return cmd
}

func runCommandE(cmd *cobra.Command, args []string) error {
	token := args[0]
	ctx := cmd.Context()

	if !stdinIsTerminal() {
		return fmt.Errorf("proctor run is interactive and requires a terminal")
	}

	cfg, err := projectconfig.Load(".")
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if logDir != "" {
		cfg.SessionLog.Dir = logDir
	}

	client := api.NewClient(cfg.Server.URL, token, api.WithHTTPClient(&http.Client{
		Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}))

	// Local audit log of everything the session sends.
	var auditLog sessionlog.Logger = sessionlog.NopLogger{}
	logPath := ""
	if !noLog && cfg.SessionLog.Enabled != nil && *cfg.SessionLog.Enabled {
		logPath = sessionlog.DefaultLogPath(cfg.SessionLog.Dir)
		jl, err := sessionlog.NewJSONLogger(logPath)
		if err != nil {
			return err
		}
		auditLog = jl
	}
	defer auditLog.Close() //nolint:errcheck

	wsURL, err := client.WebSocketURL()
	if err != nil {
		return err
	}
	channel := telemetry.NewChannel(wsURL, telemetry.WSDialer{}, client.EventSink(),
		telemetry.WithObserver(func(ev telemetry.Event, route telemetry.Route) {
			auditLog.Log(sessionlog.NewEntry(sessionlog.KindTelemetry, sessionlog.TelemetryData(ev, route))) //nolint:errcheck
		}))

	machine := session.NewMachine(client, channel,
		session.WithTaskValidator(validation.TaskValidator),
		session.WithTransitionObserver(func(from, to session.State) {
			auditLog.Log(sessionlog.NewEntry(sessionlog.KindTransition, sessionlog.TransitionData(string(from), string(to)))) //nolint:errcheck
		}))
	defer machine.Teardown()

	stopSpin := spinner.Start(os.Stdout, "Checking your assessment link...")
	err = machine.Validate(ctx)
	stopSpin()
	if err != nil {
		return classifyTokenError(err)
	}

	switch machine.State() {
	case session.StateCompleted:
		fmt.Println("This assessment has already been completed. Nothing more to do.")
		return nil
	case session.StateInstructions:
		showInstructions(os.Stdout, machine.Info())
		proceed, err := promptConfirm("Begin the assessment now?")
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Assessment not started. Your link stays valid until it expires.")
			return nil
		}
		if err := machine.Start(ctx); err != nil {
			return classifyTokenError(err)
		}
	case session.StateActive:
		fmt.Println("Resuming your assessment where you left off.")
	}

	// Idle ticking runs for the life of the active session; the collector
	// ignores ticks once no task is current.
	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-t.C:
				machine.Collector().Tick(tickCtx) //nolint:errcheck
			}
		}
	}()

	if err := taskLoop(ctx, machine); err != nil {
		return err
	}
	stopTicks()

	// A failed completion leaves the session in Completing; the user may
	// retry explicitly or walk away and resume later.
	for machine.State() == session.StateCompleting {
		retry, err := promptConfirm("Finishing the assessment failed. Retry now?")
		if err != nil {
			return err
		}
		if !retry {
			return fmt.Errorf("assessment not finalized; run proctor again with the same token to retry")
		}
		if err := machine.Complete(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	switch machine.State() {
	case session.StateCompleted:
		printSummary(os.Stdout, machine.Info(), machine.Totals())
		if logPath != "" {
			finishLog(auditLog, logPath, cfg)
		}
		return nil
	case session.StateError:
		return classifyTokenError(machine.Err())
	case session.StateActive:
		return errSessionInterrupted
	default:
		return nil
	}
}

// taskLoop drives the active session: one action menu per iteration so
// option changes, reasoning edits, submits, and skips all flow through the
// collector the same way individual UI interactions would.
func taskLoop(ctx context.Context, machine *session.Machine) error {
	collector := machine.Collector()
	prog := machine.Progression()

	var lastTaskID string
	for machine.State() == session.StateActive {
		task := prog.CurrentTask()
		if task == nil {
			// The previous answer was recorded but fetching the next
			// question failed; only the fetch needs to be retried.
			retry, err := promptConfirm("Loading the next question failed. Retry now?")
			if err != nil {
				return err
			}
			if !retry {
				return errSessionInterrupted
			}
			if err := machine.RetryAdvance(ctx); err != nil {
				if machine.State() == session.StateError {
					return classifyTokenError(err)
				}
				fmt.Fprintln(os.Stderr, err)
			}
			continue
		}
		if task.ID != lastTaskID {
			renderTask(os.Stdout, task, prog.Index(), machine.Info().TotalTasks)
			lastTaskID = task.ID
		}

		action, err := promptAction()
		if err != nil {
			return err
		}

		switch action {
		case actionView:
			renderTask(os.Stdout, task, prog.Index(), machine.Info().TotalTasks)

		case actionSelect:
			idx, err := promptOption(task, collectorSelectedIndex(collector))
			if err != nil {
				return err
			}
			if err := collector.SelectOption(ctx, idx); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}

		case actionReason:
			text, err := promptReasoning(task, collectorReasoning(collector))
			if err != nil {
				return err
			}
			if err := collector.ReasoningChanged(ctx, text); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}

		case actionSubmit:
			if ok, reason := prog.CanSubmit(); !ok {
				fmt.Println(reason)
				continue
			}
			if err := machine.Submit(ctx); err != nil {
				if machine.State() == session.StateError {
					return classifyTokenError(err)
				}
				fmt.Fprintln(os.Stderr, err)
			}

		case actionSkip:
			confirmed, err := promptConfirm("Skip this question? Skipped questions are recorded and cannot be revisited.")
			if err != nil {
				return err
			}
			if !confirmed {
				continue
			}
			if err := machine.Skip(ctx); err != nil {
				if machine.State() == session.StateError {
					return classifyTokenError(err)
				}
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
	return nil
}

const (
	actionSelect = "select"
	actionReason = "reason"
	actionSubmit = "submit"
	actionSkip   = "skip"
	actionView   = "view"
)

// Prompt hooks so command tests can script a session without a terminal.
var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	promptAction    = defaultPromptAction
	promptOption    = defaultPromptOption
	promptReasoning = defaultPromptReasoning
	promptConfirm   = defaultPromptConfirm
)

func defaultPromptAction() (string, error) {
	var action string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What next?").
				Options(
					huh.NewOption("Choose an option", actionSelect),
					huh.NewOption("Write your reasoning", actionReason),
					huh.NewOption("Submit answer", actionSubmit),
					huh.NewOption("Skip this question", actionSkip),
					huh.NewOption("Show the scenario again", actionView),
				).
				Value(&action),
		),
	).Run()
	return action, err
}

func defaultPromptOption(task *models.Task, current *int) (int, error) {
	opts := make([]huh.Option[int], 0, len(task.Options))
	for i, o := range task.Options {
		label := fmt.Sprintf("%c. %s", 'A'+i, o.Text)
		opts = append(opts, huh.NewOption(truncate(label, 76), i))
	}
	choice := 0
	if current != nil {
		choice = *current
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Your answer").
				Options(opts...).
				Value(&choice),
		),
	).Run()
	if err != nil {
		return 0, err
	}
	return choice, nil
}

func defaultPromptReasoning(task *models.Task, current string) (string, error) {
	text := current
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title(fmt.Sprintf("Why? (at least %d characters)", task.MinReasoningLength())).
				Value(&text),
		),
	).Run()
	if err != nil {
		return "", err
	}
	return text, nil
}

func defaultPromptConfirm(question string) (bool, error) {
	var confirmed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).Run()
	return confirmed, err
}

// showInstructions renders the pre-start screen. Starting consumes the
// one-time token, so the caller asks for explicit consent afterwards.
func showInstructions(w io.Writer, info *models.AssessmentInfo) {
	fmt.Fprintf(w, "\nWelcome, %s.\n\n", info.CandidateName)
	if info.Position != "" {
		fmt.Fprintf(w, "Position: %s\n", info.Position)
	}
	fmt.Fprintf(w, "Questions: %d\n", info.TotalTasks)
	if !info.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "Link valid until: %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintln(w, strings.TrimSpace(`
Each question presents a workplace scenario with several possible responses.
Pick the response closest to what you would actually do and briefly explain
why. You can skip a question, but skips are recorded. Once you begin, the
assessment runs until the last question.`))
	fmt.Fprintln(w)
}

// finishLog archives the audit log once the session is complete.
func finishLog(auditLog sessionlog.Logger, logPath string, cfg *projectconfig.ProjectConfig) {
	auditLog.Close() //nolint:errcheck
	if noArchive || cfg.SessionLog.Archive == nil || !*cfg.SessionLog.Archive {
		fmt.Printf("Session log: %s\n", logPath)
		return
	}
	archived, err := sessionlog.Archive(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not archive session log: %v\n", err)
		fmt.Printf("Session log: %s\n", logPath)
		return
	}
	fmt.Printf("Session log: %s\n", archived)
}

// classifyTokenError maps API failures to the CLI's exit-code taxonomy and
// user-facing wording.
func classifyTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case api.IsNotFound(err):
		return &TerminalTokenError{Message: "this assessment link is not recognized; check your link and try again"}
	case api.IsExpired(err):
		return &TerminalTokenError{Message: "this assessment link has expired; contact your recruiter for a new one"}
	case api.IsForbidden(err):
		return &TerminalTokenError{Message: "this assessment is no longer accessible; it may already be finished"}
	default:
		return fmt.Errorf("%w\n(the problem looks temporary; you can retry with the same link)", err)
	}
}

func collectorSelectedIndex(c *metrics.Collector) *int {
	if rec := c.Record(); rec != nil {
		return rec.SelectedOptionIndex
	}
	return nil
}

func collectorReasoning(c *metrics.Collector) string {
	if rec := c.Record(); rec != nil {
		return rec.ReasoningText
	}
	return ""
}
