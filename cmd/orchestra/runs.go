package main

import (
	"encoding/json"
	"fmt"
	"time"

	"orchestra/internal/ledger"

	"github.com/spf13/cobra"
)

const maxTaskColumn = 60

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect recorded delegation runs",
	}
	cmd.AddCommand(a.runListCommand(), a.runShowCommand(), a.runAttachCommand())
	return cmd
}

func (a *app) runListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			runs := a.ledger().ListRuns(limit)
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded yet")
				return nil
			}
			for _, record := range runs {
				fmt.Fprintln(a.out, formatRunLine(record))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs to display")
	return cmd
}

func (a *app) runShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print one run record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			record, err := a.ledger().GetRun(args[0])
			if err != nil {
				return &notFoundError{message: fmt.Sprintf("Run '%s' not found", args[0])}
			}
			payload, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, string(payload))
			return nil
		},
	}
}

func (a *app) runAttachCommand() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "attach ID",
		Short: "Attach to the tmux session of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			runID := args[0]
			record, err := a.ledger().GetRun(runID)
			if err != nil {
				return &notFoundError{message: fmt.Sprintf("Run '%s' not found", runID)}
			}
			var session string
			switch role {
			case "primary":
				session = record.PrimarySession
			case "secondary":
				session = record.SecondarySession
			default:
				return fmt.Errorf("invalid --role %q: expected primary or secondary", role)
			}
			if session == "" {
				return &notFoundError{message: fmt.Sprintf("Run '%s' is missing a session name for role '%s'", runID, role)}
			}
			exists, err := a.manager().SessionExists(session)
			if err != nil {
				return err
			}
			if !exists {
				return &notFoundError{message: fmt.Sprintf("Session '%s' is not active. Rerun without --cleanup to keep sessions alive.", session)}
			}
			fmt.Fprintf(a.out, "Attaching to %s (%s)\n", session, role)
			return a.manager().AttachSession(session)
		},
	}
	cmd.Flags().StringVar(&role, "role", "secondary", "session to attach: primary or secondary")
	return cmd
}

func formatRunLine(record ledger.Record) string {
	started := ""
	if !record.StartedAt.IsZero() {
		started = record.StartedAt.Format(time.RFC3339)
	}
	completed := "in-progress"
	if record.CompletedAt != nil {
		completed = record.CompletedAt.Format(time.RFC3339)
	}
	task := record.Task
	if runes := []rune(task); len(runes) > maxTaskColumn {
		task = string(runes[:maxTaskColumn-3]) + "..."
	}
	return fmt.Sprintf("%s  %-10s  %s->%s  %s  %s  %s",
		record.RunID, record.Status, record.Primary, record.Secondary, started, completed, task)
}
