package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hirewire/proctor/internal/projectconfig"
	"github.com/hirewire/proctor/internal/sessionlog"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View local session logs",
		Long: `View the local session logs captured during assessment runs.

Session logs are NDJSON files (optionally zstd-archived) recording every
telemetry event sent, the delivery route it took, and each lifecycle
transition. They are an audit trail kept on the candidate's machine; the
server keeps its own copy of everything that was delivered.`,
	}

	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsShowCommand())

	return cmd
}

func newSessionsListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded session logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := projectconfig.Load(".")
				if err != nil {
					return err
				}
				dir = cfg.SessionLog.Dir
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			files, err := sessionlog.ListLogs(absDir)
			if err != nil {
				return fmt.Errorf("listing session logs: %w", err)
			}

			if len(files) == 0 {
				fmt.Println("No session logs found.")
				return nil
			}

			fmt.Printf("%s %s %s\n", padRight("File", 44), padRight("Entries", 8), "Modified")
			fmt.Println("─────────────────────────────────────────────────────────────────────")
			for _, f := range files {
				fmt.Printf("%s %s %s\n",
					padRight(truncate(f.Name, 44), 44),
					padRight(fmt.Sprintf("%d", f.NumEntries), 8),
					f.ModTime.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to search for session logs (defaults to the configured log dir)")

	return cmd
}

func newSessionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <log-file>",
		Short: "Show a session log summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			s, err := sessionlog.Summarize(path)
			if err != nil {
				return fmt.Errorf("reading session log: %w", err)
			}

			fmt.Printf("Entries:  %d\n", s.Entries)
			fmt.Printf("Events:   %d\n", s.Events)
			if !s.First.IsZero() {
				fmt.Printf("Window:   %s to %s\n",
					s.First.Local().Format("2006-01-02 15:04:05"),
					s.Last.Local().Format("15:04:05"))
			}
			if s.CriticalFailed > 0 {
				fmt.Printf("Critical events that failed delivery: %d\n", s.CriticalFailed)
			}

			if len(s.Transitions) > 0 {
				fmt.Println("\nLifecycle:")
				for _, tr := range s.Transitions {
					fmt.Printf("  %s\n", tr)
				}
			}

			if len(s.EventsByType) > 0 {
				fmt.Println("\nEvents by type:")
				for _, k := range sortedKeys(s.EventsByType) {
					fmt.Printf("  %s %d\n", padRight(k, 22), s.EventsByType[k])
				}
			}
			if len(s.EventsByRoute) > 0 {
				fmt.Println("\nEvents by route:")
				for _, k := range sortedKeys(s.EventsByRoute) {
					fmt.Printf("  %s %d\n", padRight(k, 22), s.EventsByRoute[k])
				}
			}
			return nil
		},
	}

	return cmd
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
