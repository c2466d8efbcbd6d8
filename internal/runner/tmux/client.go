package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoServer reports that no tmux server is running for the configured socket.
var ErrNoServer = errors.New("no tmux server running")

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(args []string, input []byte) ([]byte, error)
}

// InteractiveRunner runs a tmux command attached to the caller's terminal.
type InteractiveRunner interface {
	RunInteractive(args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// Pane describes one pane of a session's current window.
type Pane struct {
	ID    string
	Index int
	Dead  bool
}

// Client executes tmux commands.
type Client struct {
	runner CommandRunner
}

// Options selects the tmux binary and server socket.
type Options struct {
	Binary string
	Socket string
}

// NewClientWithOptions returns a tmux client running the given binary against an optional -L socket.
func NewClientWithOptions(options Options) *Client {
	binary := strings.TrimSpace(options.Binary)
	if binary == "" {
		binary = "tmux"
	}
	return &Client{runner: execRunner{binary: binary, socket: strings.TrimSpace(options.Socket)}}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

// NewSession creates a detached tmux session and optionally runs a command.
// A single command element is handed to the shell by tmux; several are executed directly.
func (c *Client) NewSession(name, startDirectory string, command []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if strings.TrimSpace(startDirectory) != "" {
		args = append(args, "-c", startDirectory)
	}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(args, nil)
}

// KillSession terminates a tmux session.
func (c *Client) KillSession(name string) error {
	return c.run([]string{"kill-session", "-t", name}, nil)
}

// ListSessions returns the names of all sessions on the server.
func (c *Client) ListSessions() ([]string, error) {
	output, err := c.runWithOutput([]string{"list-sessions", "-F", "#{session_name}"}, nil)
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// SendKeys sends key names (Enter, C-c, ...) to a target pane.
func (c *Client) SendKeys(target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	return c.run(args, nil)
}

// SendLiteral types text into a target pane without key-name lookup.
func (c *Client) SendLiteral(target, text string) error {
	return c.run([]string{"send-keys", "-l", "-t", target, text}, nil)
}

// ListPanes lists the panes of the target session's current window in display order.
func (c *Client) ListPanes(target string) ([]Pane, error) {
	args := []string{"list-panes", "-t", target, "-F", "#{pane_id}\t#{pane_index}\t#{pane_dead}"}
	output, err := c.runWithOutput(args, nil)
	if err != nil {
		return nil, err
	}
	lines := splitLines(output)
	panes := make([]Pane, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tmux list-panes: unexpected line %q", line)
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("tmux list-panes: bad pane index %q", fields[1])
		}
		panes = append(panes, Pane{ID: fields[0], Index: index, Dead: fields[2] == "1"})
	}
	return panes, nil
}

// CapturePane captures pane contents as raw text.
// A negative start includes that many lines of history above the visible area.
func (c *Client) CapturePane(target string, start int) ([]byte, error) {
	args := []string{"capture-pane", "-p", "-t", target}
	if start != 0 {
		args = append(args, "-S", strconv.Itoa(start))
	}
	output, err := c.runWithOutput(args, nil)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// AttachSession attaches the given terminal streams to a session and blocks until detach.
func (c *Client) AttachSession(name string, stdin io.Reader, stdout, stderr io.Writer) error {
	if c == nil || c.runner == nil {
		return errors.New("tmux runner unavailable")
	}
	interactive, ok := c.runner.(InteractiveRunner)
	if !ok {
		return errors.New("tmux runner cannot attach interactively")
	}
	if err := interactive.RunInteractive([]string{"attach-session", "-t", name}, stdin, stdout, stderr); err != nil {
		return fmt.Errorf("tmux attach-session failed: %w", err)
	}
	return nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	// "=" forces an exact match instead of tmux's prefix matching.
	output, err := c.runner.Run([]string{"has-session", "-t", "=" + name}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

func (c *Client) run(args []string, input []byte) error {
	_, err := c.runWithOutput(args, input)
	return err
}

func (c *Client) runWithOutput(args []string, input []byte) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(args, input)
	if err != nil {
		if isNoServer(output) {
			return nil, fmt.Errorf("tmux %s failed: %w", args[0], ErrNoServer)
		}
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

func isNoServer(output []byte) bool {
	text := string(output)
	return strings.Contains(text, "no server running") || strings.Contains(text, "error connecting to")
}

func splitLines(output []byte) []string {
	trimmed := strings.TrimRight(string(output), "\r\n")
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

type execRunner struct {
	binary string
	socket string
}

func (r execRunner) command(args []string) *exec.Cmd {
	full := args
	if r.socket != "" {
		full = append([]string{"-L", r.socket}, args...)
	}
	return exec.Command(r.binary, full...)
}

func (r execRunner) Run(args []string, input []byte) ([]byte, error) {
	cmd := r.command(args)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}

func (r execRunner) RunInteractive(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := r.command(args)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// tmux refuses to nest attach inside another client unless TMUX is cleared.
	cmd.Env = withoutEnv(os.Environ(), "TMUX")
	return cmd.Run()
}

func withoutEnv(env []string, key string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
