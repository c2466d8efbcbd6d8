package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"orchestra/internal/orchestrator"
	"orchestra/internal/runner/launchspec"

	"github.com/spf13/cobra"
)

type delegateOptions struct {
	Primary        string
	Secondary      string
	Task           string
	Wait           float64
	Follow         bool
	FollowInterval float64
	Cleanup        bool
}

func (a *app) delegateCommand() *cobra.Command {
	var options delegateOptions
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Delegate a task from the primary agent to a secondary agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDelegate(cmd.Context(), options)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&options.Primary, "from", orchestrator.DefaultPrimary, "primary agent name")
	flags.StringVar(&options.Secondary, "to", orchestrator.AutoAgent, "secondary agent name or 'auto'")
	flags.StringVar(&options.Task, "task", "", "task description to delegate")
	flags.Float64Var(&options.Wait, "wait", orchestrator.DefaultWait.Seconds(), "seconds to wait before capturing output (ignored in follow mode)")
	flags.BoolVar(&options.Follow, "follow", false, "stream secondary output until the session exits")
	flags.Float64Var(&options.FollowInterval, "follow-interval", orchestrator.DefaultFollowInterval.Seconds(), "polling interval in seconds when following output")
	flags.BoolVar(&options.Cleanup, "cleanup", false, "kill tmux sessions after completion")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func (a *app) runDelegate(ctx context.Context, options delegateOptions) error {
	cfg, err := a.agents()
	if err != nil {
		return err
	}
	delegator := &orchestrator.Orchestrator{
		Driver:   a.manager(),
		Agents:   cfg,
		Ledger:   a.ledger(),
		Logger:   a.log(),
		Reporter: &consoleReporter{out: a.out, errOut: a.errOut},
	}
	result, err := delegator.Delegate(ctx, orchestrator.Request{
		Primary:        options.Primary,
		Secondary:      options.Secondary,
		Task:           options.Task,
		Wait:           seconds(options.Wait),
		Follow:         options.Follow,
		FollowInterval: seconds(options.FollowInterval),
		Cleanup:        options.Cleanup,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "\nSummary:")
	fmt.Fprintf(a.out, "  Status: %s\n", result.Summary.Status)
	fmt.Fprintf(a.out, "  Files modified: %d\n", result.Summary.FilesModified)
	if len(result.Summary.Details) > 0 {
		fmt.Fprintln(a.out, "  Recent output:")
		for _, line := range result.Summary.Details {
			fmt.Fprintf(a.out, "    %s\n", line)
		}
	}
	return nil
}

// consoleReporter prints delegation progress for a human operator.
type consoleReporter struct {
	out    io.Writer
	errOut io.Writer
}

func (r *consoleReporter) RunStarted(runID string) {
	fmt.Fprintf(r.out, "Run ID: %s\n", runID)
}

func (r *consoleReporter) AgentSelected(agent string) {
	fmt.Fprintf(r.out, "Auto-selected secondary agent '%s'\n", agent)
}

func (r *consoleReporter) SessionSpawning(role launchspec.Role, session string) {
	fmt.Fprintf(r.out, "Spawning %s session '%s'\n", role, session)
}

func (r *consoleReporter) StreamStarted() {
	fmt.Fprintln(r.out, "Streaming output (Ctrl+C to abort)...")
}

func (r *consoleReporter) StreamLine(line string) {
	fmt.Fprintf(r.out, "    %s\n", line)
}

func (r *consoleReporter) StreamStopped(err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(r.out, "\nStreaming interrupted by user")
		return
	}
	fmt.Fprintf(r.errOut, "\nStreaming stopped: %v\n", err)
}

func (r *consoleReporter) NoOutput() {
	fmt.Fprintln(r.out, "No output captured from secondary agent")
}
