package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"orchestra/internal/runner/tmuxsession"

	"github.com/spf13/cobra"
)

func (a *app) sessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"tmux"},
		Short:   "Manage tmux sessions used by orchestra",
	}
	cmd.AddCommand(
		a.sessionSpawnCommand(),
		a.sessionSendCommand(),
		a.sessionCaptureCommand(),
		a.sessionListCommand(),
		a.sessionKillCommand(),
		a.sessionAttachCommand(),
		a.sessionWaitCommand(),
		a.sessionFollowCommand(),
	)
	return cmd
}

func (a *app) sessionSpawnCommand() *cobra.Command {
	var (
		command string
		cwd     string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "spawn NAME",
		Short: "Create a detached tmux session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if cwd != "" {
				info, err := os.Stat(cwd)
				if err != nil {
					return fmt.Errorf("invalid --cwd: %w", err)
				}
				if !info.IsDir() {
					return fmt.Errorf("invalid --cwd: %s is not a directory", cwd)
				}
			}
			options := tmuxsession.SpawnOptions{StartDirectory: cwd, KillExisting: force}
			if strings.TrimSpace(command) != "" {
				options.Command = []string{command}
			}
			if err := a.manager().SpawnSession(cmd.Context(), name, options); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created tmux session '%s'\n", name)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&command, "command", "", "command to run when the session starts")
	flags.StringVar(&cwd, "cwd", "", "working directory for the session")
	flags.BoolVar(&force, "force", false, "kill any existing session with the same name first")
	return cmd
}

func (a *app) sessionSendCommand() *cobra.Command {
	var (
		pane    int
		noEnter bool
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "send NAME KEYS...",
		Short: "Send keystrokes to a session pane",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			name, keys := args[0], args[1:]
			if !raw {
				keys = []string{strings.Join(keys, " ")}
			}
			if err := a.manager().SendKeys(name, pane, !noEnter, keys...); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Sent keys to '%s:%d'\n", name, pane)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&pane, "pane", 0, "pane index to target inside the session")
	flags.BoolVar(&noEnter, "no-enter", false, "do not press Enter after the keys")
	flags.BoolVar(&raw, "raw", false, "send each key as provided without joining with spaces")
	return cmd
}

func (a *app) sessionCaptureCommand() *cobra.Command {
	var pane, scrollback int
	cmd := &cobra.Command{
		Use:   "capture NAME",
		Short: "Print the contents of a session pane",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			capture, err := a.manager().CapturePane(args[0], pane, scrollback)
			if err != nil {
				return err
			}
			for _, line := range capture.Lines {
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&pane, "pane", 0, "pane index to capture")
	flags.IntVar(&scrollback, "scrollback", 0, "lines of scrollback to include")
	return cmd
}

func (a *app) sessionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tmux sessions",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			sessions, err := a.manager().ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.out, "No tmux sessions found")
				return nil
			}
			for _, session := range sessions {
				fmt.Fprintln(a.out, session)
			}
			return nil
		},
	}
}

func (a *app) sessionKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill NAME",
		Short: "Kill a tmux session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := a.manager().KillSession(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Killed tmux session '%s'\n", args[0])
			return nil
		},
	}
}

func (a *app) sessionAttachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach NAME",
		Short: "Attach the current terminal to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			exists, err := a.manager().SessionExists(name)
			if err != nil {
				return err
			}
			if !exists {
				return &notFoundError{message: fmt.Sprintf("Session '%s' does not exist", name)}
			}
			fmt.Fprintf(a.out, "Attaching to %s (Ctrl+B D to detach)\n", name)
			return a.manager().AttachSession(name)
		},
	}
}

func (a *app) sessionWaitCommand() *cobra.Command {
	var timeout, interval float64
	cmd := &cobra.Command{
		Use:   "wait NAME",
		Short: "Block until a session exits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ended, err := a.manager().WaitForSessionEnd(cmd.Context(), name, seconds(timeout), seconds(interval))
			if err != nil {
				return err
			}
			if !ended {
				return fmt.Errorf("timed out waiting for session '%s' to exit", name)
			}
			fmt.Fprintf(a.out, "Session '%s' has exited\n", name)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&timeout, "timeout", 0, "seconds to wait before giving up (0 waits indefinitely)")
	flags.Float64Var(&interval, "interval", tmuxsession.DefaultWaitInterval.Seconds(), "polling interval in seconds")
	return cmd
}

func (a *app) sessionFollowCommand() *cobra.Command {
	var (
		pane     int
		interval float64
	)
	cmd := &cobra.Command{
		Use:   "follow NAME",
		Short: "Stream new pane output until the session exits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream := a.manager().IterPaneLines(args[0], pane, seconds(interval))
			for {
				lines, err := stream.Next(cmd.Context())
				if errors.Is(err, io.EOF) {
					return nil
				}
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(a.out, "\nStreaming interrupted by user")
					return nil
				}
				if err != nil {
					return err
				}
				for _, line := range lines {
					fmt.Fprintln(a.out, line)
				}
			}
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&pane, "pane", 0, "pane index to follow")
	flags.Float64Var(&interval, "interval", tmuxsession.DefaultFollowInterval.Seconds(), "polling interval in seconds")
	return cmd
}
