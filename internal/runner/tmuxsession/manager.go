// Package tmuxsession drives named tmux sessions: spawn, observe, inject keys, tear down.
package tmuxsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"orchestra/internal/logging"
	"orchestra/internal/runner/tmux"

	"golang.org/x/term"
)

const (
	DefaultSpawnTimeout   = 5 * time.Second
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultWaitInterval   = 500 * time.Millisecond
	DefaultFollowInterval = 500 * time.Millisecond
)

// Client defines the tmux operations used by this package.
type Client interface {
	HasSession(name string) (bool, error)
	NewSession(name, startDirectory string, command []string) error
	KillSession(name string) error
	ListSessions() ([]string, error)
	ListPanes(target string) ([]tmux.Pane, error)
	CapturePane(target string, start int) ([]byte, error)
	SendKeys(target string, keys ...string) error
	SendLiteral(target, text string) error
	AttachSession(name string, stdin io.Reader, stdout, stderr io.Writer) error
}

// PaneCapture is an immutable snapshot of a pane.
type PaneCapture struct {
	Session string
	Pane    int
	Lines   []string
	Dead    bool
}

// SpawnOptions configures SpawnSession.
type SpawnOptions struct {
	Command        []string
	StartDirectory string
	KillExisting   bool
}

// Options configures a Manager.
type Options struct {
	SpawnTimeout time.Duration
	PollInterval time.Duration
	Logger       *logging.Logger
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	// IsTerminal reports whether attach can take over the terminal; defaults to checking os.Stdin.
	IsTerminal func() bool
}

// Manager is the sole authority on session liveness.
type Manager struct {
	client       Client
	spawnTimeout time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
	isTerminal   func() bool
}

func NewManager(client Client, options Options) *Manager {
	spawnTimeout := options.SpawnTimeout
	if spawnTimeout <= 0 {
		spawnTimeout = DefaultSpawnTimeout
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	stdin := options.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	isTerminal := options.IsTerminal
	if isTerminal == nil {
		isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	return &Manager{
		client:       client,
		spawnTimeout: spawnTimeout,
		pollInterval: pollInterval,
		logger:       options.Logger.Category("tmux"),
		stdin:        stdin,
		stdout:       stdout,
		stderr:       stderr,
		isTerminal:   isTerminal,
	}
}

// SessionExists is false, not an error, when no server is running.
func (m *Manager) SessionExists(name string) (bool, error) {
	exists, err := m.client.HasSession(name)
	if err != nil {
		return false, driverError("has-session", name, err)
	}
	return exists, nil
}

// SpawnSession creates a detached session and polls until tmux reports it.
func (m *Manager) SpawnSession(ctx context.Context, name string, options SpawnOptions) error {
	exists, err := m.SessionExists(name)
	if err != nil {
		return err
	}
	if exists {
		if !options.KillExisting {
			return driverError("spawn", name, ErrSessionExists)
		}
		m.logger.Debug("replacing existing session", map[string]string{"session": name})
		if err := m.KillSession(name); err != nil {
			return err
		}
	}

	if err := m.client.NewSession(name, options.StartDirectory, options.Command); err != nil {
		return driverError("spawn", name, err)
	}

	deadline := time.Now().Add(m.spawnTimeout)
	for {
		exists, err := m.SessionExists(name)
		if err != nil {
			return err
		}
		if exists {
			m.logger.Debug("session ready", map[string]string{"session": name})
			return nil
		}
		if !time.Now().Before(deadline) {
			return driverError("spawn", name, fmt.Errorf("%w after %s", ErrNotReady, m.spawnTimeout))
		}
		if err := sleepContext(ctx, m.pollInterval); err != nil {
			return driverError("spawn", name, err)
		}
	}
}

// ListSessions returns live session names; empty when no server is running.
func (m *Manager) ListSessions() ([]string, error) {
	sessions, err := m.client.ListSessions()
	if err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			return nil, nil
		}
		return nil, driverError("list-sessions", "", err)
	}
	return sessions, nil
}

// KillSession is a no-op when the session does not exist.
func (m *Manager) KillSession(name string) error {
	exists, err := m.SessionExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := m.client.KillSession(name); err != nil {
		if errors.Is(err, tmux.ErrNoServer) {
			return nil
		}
		return driverError("kill-session", name, err)
	}
	m.logger.Debug("session killed", map[string]string{"session": name})
	return nil
}

// AttachSession hands the terminal to tmux and blocks until the client detaches.
func (m *Manager) AttachSession(name string) error {
	if !m.isTerminal() {
		return driverError("attach", name, ErrTerminalRequired)
	}
	if err := m.client.AttachSession(name, m.stdin, m.stdout, m.stderr); err != nil {
		return driverError("attach", name, err)
	}
	return nil
}

// SendKeys types each token literally into the pane, then Enter unless suppressed.
func (m *Manager) SendKeys(name string, pane int, enter bool, tokens ...string) error {
	target, err := m.resolvePane(name, pane)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := m.client.SendLiteral(target.ID, token); err != nil {
			return driverError("send-keys", name, err)
		}
	}
	if enter {
		if err := m.client.SendKeys(target.ID, "Enter"); err != nil {
			return driverError("send-keys", name, err)
		}
	}
	return nil
}

// CapturePane snapshots the visible buffer, or the last abs(scrollback) lines when non-zero.
func (m *Manager) CapturePane(name string, pane, scrollback int) (PaneCapture, error) {
	target, err := m.resolvePane(name, pane)
	if err != nil {
		return PaneCapture{}, err
	}
	start := 0
	if scrollback != 0 {
		start = -abs(scrollback)
	}
	output, err := m.client.CapturePane(target.ID, start)
	if err != nil {
		return PaneCapture{}, driverError("capture-pane", name, err)
	}
	return PaneCapture{
		Session: name,
		Pane:    pane,
		Lines:   splitCapture(output),
		Dead:    m.paneDead(name, target.ID),
	}, nil
}

// IterPaneLines returns a lazy stream of new or changed lines of a pane.
func (m *Manager) IterPaneLines(name string, pane int, interval time.Duration) *PaneStream {
	return NewPaneStream(m, name, pane, interval)
}

// WaitForSessionEnd polls until the session disappears. A zero timeout waits indefinitely.
func (m *Manager) WaitForSessionEnd(ctx context.Context, name string, timeout, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	started := time.Now()
	for {
		exists, err := m.SessionExists(name)
		if err != nil {
			return false, err
		}
		if !exists {
			return true, nil
		}
		if timeout > 0 && time.Since(started) >= timeout {
			return false, nil
		}
		if err := sleepContext(ctx, interval); err != nil {
			return false, driverError("wait", name, err)
		}
	}
}

// resolvePane waits up to the spawn timeout for the session, then indexes its current panes.
func (m *Manager) resolvePane(name string, pane int) (tmux.Pane, error) {
	deadline := time.Now().Add(m.spawnTimeout)
	for {
		exists, err := m.SessionExists(name)
		if err != nil {
			return tmux.Pane{}, err
		}
		if exists {
			break
		}
		if !time.Now().Before(deadline) {
			return tmux.Pane{}, driverError("find-session", name, ErrSessionNotFound)
		}
		if err := sleepContext(context.Background(), m.pollInterval); err != nil {
			return tmux.Pane{}, driverError("find-session", name, err)
		}
	}

	panes, err := m.client.ListPanes(name)
	if err != nil {
		return tmux.Pane{}, driverError("list-panes", name, err)
	}
	if pane < 0 || pane >= len(panes) {
		return tmux.Pane{}, driverError("find-pane", name, fmt.Errorf("%w %d (session has %d)", ErrInvalidPane, pane, len(panes)))
	}
	return panes[pane], nil
}

// paneDead treats a pane that vanished together with its session as dead.
func (m *Manager) paneDead(name, paneID string) bool {
	panes, err := m.client.ListPanes(name)
	if err != nil {
		return true
	}
	for _, pane := range panes {
		if pane.ID == paneID {
			return pane.Dead
		}
	}
	return true
}

func splitCapture(output []byte) []string {
	text := strings.ReplaceAll(string(output), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if end == 0 {
		return []string{}
	}
	return lines[:end]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
