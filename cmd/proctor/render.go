package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/hirewire/proctor/internal/models"
)

const sceneWidth = 78

// renderTask prints the question header, scenario, and answer options.
func renderTask(w io.Writer, task *models.Task, index, total int) {
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", sceneWidth)) //nolint:errcheck
	header := fmt.Sprintf("Question %d of %d", index+1, total)
	meta := fmt.Sprintf("%s · %s", task.Category, task.Difficulty)
	gap := sceneWidth - runewidth.StringWidth(header) - runewidth.StringWidth(meta)
	if gap < 1 {
		gap = 1
	}
	fmt.Fprintf(w, "%s%s%s\n", header, strings.Repeat(" ", gap), meta) //nolint:errcheck
	if task.Title != "" {
		fmt.Fprintf(w, "%s\n", task.Title) //nolint:errcheck
	}
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("─", sceneWidth)) //nolint:errcheck

	for _, line := range wrapText(task.Scenario, sceneWidth) {
		fmt.Fprintf(w, "%s\n", line) //nolint:errcheck
	}
	if task.Description != "" {
		fmt.Fprintln(w) //nolint:errcheck
		for _, line := range wrapText(task.Description, sceneWidth) {
			fmt.Fprintf(w, "%s\n", line) //nolint:errcheck
		}
	}

	fmt.Fprintln(w) //nolint:errcheck
	for i, o := range task.Options {
		label := fmt.Sprintf("  %c. ", 'A'+i)
		indent := strings.Repeat(" ", runewidth.StringWidth(label))
		lines := wrapText(o.Text, sceneWidth-runewidth.StringWidth(label))
		for j, line := range lines {
			if j == 0 {
				fmt.Fprintf(w, "%s%s\n", label, line) //nolint:errcheck
			} else {
				fmt.Fprintf(w, "%s%s\n", indent, line) //nolint:errcheck
			}
		}
	}
	if task.ReasoningRequired {
		fmt.Fprintf(w, "\nA short written justification (%d+ characters) is required.\n", task.MinReasoningLength()) //nolint:errcheck
	}
	fmt.Fprintln(w) //nolint:errcheck
}

// printSummary prints the end-of-session recap.
func printSummary(w io.Writer, info *models.AssessmentInfo, totals models.SessionTotals) {
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", sceneWidth))                 //nolint:errcheck
	fmt.Fprintf(w, "Assessment complete. Thank you, %s.\n", info.CandidateName) //nolint:errcheck
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("─", sceneWidth))                 //nolint:errcheck
	fmt.Fprintf(w, "  Questions:  %d\n", info.TotalTasks)                //nolint:errcheck
	fmt.Fprintf(w, "  Answered:   %d\n", totals.Answered-totals.Skipped) //nolint:errcheck
	fmt.Fprintf(w, "  Skipped:    %d\n", totals.Skipped)                //nolint:errcheck
	if totals.TimeSpentSeconds > 0 {
		fmt.Fprintf(w, "  Time spent: %s\n", (time.Duration(totals.TimeSpentSeconds) * time.Second).String()) //nolint:errcheck
	}
	fmt.Fprintf(w, "\nYour responses have been recorded. The hiring team will be in touch.\n") //nolint:errcheck
}

// wrapText wraps s into lines of at most width display columns, breaking on
// spaces. Words wider than the line go on a line of their own.
func wrapText(s string, width int) []string {
	var lines []string
	for _, para := range strings.Split(strings.TrimSpace(s), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, word := range words[1:] {
			if runewidth.StringWidth(line)+1+runewidth.StringWidth(word) > width {
				lines = append(lines, line)
				line = word
				continue
			}
			line += " " + word
		}
		lines = append(lines, line)
	}
	return lines
}

// truncate shortens s to max runes, replacing the last rune with "…" if needed.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
