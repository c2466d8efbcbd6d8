package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"orchestra/internal/config"
	"orchestra/internal/ledger"
	"orchestra/internal/runner/launchspec"
	"orchestra/internal/runner/tmuxsession"
	"orchestra/internal/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu sync.Mutex

	sessions map[string]bool
	spawned  []tmuxsession.SpawnOptions
	names    []string
	killed   []string

	// secondaryOutput is served for every capture of a secondary session.
	secondaryOutput []string
	// followCaptures is consumed one per capture; the session ends with the last one.
	followCaptures [][]string
	// existChecks, when set, lets a secondary session answer that many
	// existence checks before it disappears, as when the agent exits between polls.
	existChecks int
	spawnErr       error
	captureErr     error
	listErr        error
	onList         func()
}

func newFakeDriver(output ...string) *fakeDriver {
	return &fakeDriver{sessions: map[string]bool{}, secondaryOutput: output}
}

func (f *fakeDriver) ListSessions() ([]string, error) {
	if f.onList != nil {
		f.onList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for name := range f.sessions {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDriver) SessionExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existChecks > 0 && strings.Contains(name, "secondary") {
		f.existChecks--
		if f.existChecks == 0 {
			delete(f.sessions, name)
			return false, nil
		}
	}
	return f.sessions[name], nil
}

func (f *fakeDriver) SpawnSession(_ context.Context, name string, options tmuxsession.SpawnOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil && strings.Contains(name, "secondary") {
		return f.spawnErr
	}
	f.sessions[name] = true
	f.names = append(f.names, name)
	f.spawned = append(f.spawned, options)
	return nil
}

func (f *fakeDriver) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, name)
	delete(f.sessions, name)
	return errors.New("kill errors are swallowed")
}

func (f *fakeDriver) CapturePane(name string, pane, _ int) (tmuxsession.PaneCapture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return tmuxsession.PaneCapture{}, f.captureErr
	}
	if !f.sessions[name] {
		return tmuxsession.PaneCapture{}, &tmuxsession.DriverError{Op: "find-session", Session: name, Err: tmuxsession.ErrSessionNotFound}
	}
	if len(f.followCaptures) > 0 {
		lines := f.followCaptures[0]
		f.followCaptures = f.followCaptures[1:]
		if len(f.followCaptures) == 0 {
			delete(f.sessions, name)
		}
		return tmuxsession.PaneCapture{Session: name, Pane: pane, Lines: lines}, nil
	}
	return tmuxsession.PaneCapture{Session: name, Pane: pane, Lines: f.secondaryOutput}, nil
}

func (f *fakeDriver) live() []string {
	names, _ := f.ListSessions()
	return names
}

type recordingReporter struct {
	nopReporter
	mu       sync.Mutex
	selected []string
	lines    []string
	stopped  []error
	noOutput bool
}

func (r *recordingReporter) AgentSelected(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append(r.selected, agent)
}

func (r *recordingReporter) StreamLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingReporter) StreamStopped(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, err)
}

func (r *recordingReporter) NoOutput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noOutput = true
}

const testConfig = `
tools:
  claude: {wrapper: /opt/agents/claude.sh}
  codex: {wrapper: /opt/agents/codex.sh}
  cursor: {wrapper: /opt/agents/cursor.sh}
  droid: {wrapper: /opt/agents/droid.sh}
  aider: {wrapper: /opt/agents/aider.sh}
routing:
  frontend: cursor
  backend: droid
  git: aider
  default: codex
`

type fixture struct {
	orchestrator *Orchestrator
	driver       *fakeDriver
	store        *ledger.Store
	reporter     *recordingReporter
}

func newFixture(t *testing.T, driver *fakeDriver) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig), t.TempDir())
	require.NoError(t, err)
	store := ledger.NewStore(filepath.Join(t.TempDir(), "runs.json"), nil)
	reporter := &recordingReporter{}
	counter := 0
	var mu sync.Mutex
	return &fixture{
		orchestrator: &Orchestrator{
			Driver:   driver,
			Agents:   cfg,
			Ledger:   store,
			Reporter: reporter,
			NewRunID: func() string {
				mu.Lock()
				defer mu.Unlock()
				counter++
				return fmt.Sprintf("id%06d", counter)
			},
		},
		driver:   driver,
		store:    store,
		reporter: reporter,
	}
}

func TestDelegateRejectsMultilineTaskBeforeSpawn(t *testing.T) {
	for _, task := range []string{"Line1\nLine2", "carriage\rreturn"} {
		f := newFixture(t, newFakeDriver())
		_, err := f.orchestrator.Delegate(context.Background(), Request{Primary: "claude", Secondary: "codex", Task: task})
		require.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, f.driver.names)
		assert.Empty(t, f.store.ListRuns(0))
	}
}

func TestDelegateConflictNamesActiveSessions(t *testing.T) {
	driver := newFakeDriver()
	driver.sessions["run-old-secondary-codex"] = true
	driver.sessions["scratch"] = true
	f := newFixture(t, driver)

	_, err := f.orchestrator.Delegate(context.Background(), Request{Task: "anything"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "run-old-secondary-codex")
	assert.NotContains(t, err.Error(), "scratch")
	assert.Empty(t, f.driver.names)
}

func TestDelegateListFailureIsNotConflict(t *testing.T) {
	driver := newFakeDriver("✅ done")
	driver.listErr = errors.New("tmux list-sessions failed")
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, result.Status)
}

func TestDelegateUnknownAgents(t *testing.T) {
	f := newFixture(t, newFakeDriver())

	_, err := f.orchestrator.Delegate(context.Background(), Request{Primary: "nobody", Secondary: "codex", Task: "x"})
	require.ErrorIs(t, err, ErrUnknownAgent)
	assert.Contains(t, err.Error(), "nobody")

	_, err = f.orchestrator.Delegate(context.Background(), Request{Primary: "claude", Secondary: "ghost", Task: "x"})
	require.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, f.driver.names)
	assert.Empty(t, f.store.ListRuns(0))
}

func TestDelegateAutoRoutingIsDeterministic(t *testing.T) {
	cases := map[string]string{
		"Build a react component": "cursor",
		"Add a CRUD endpoint":     "droid",
		"Rebase onto main":        "aider",
		"Write a haiku":           "codex",
	}
	for task, want := range cases {
		for i := 0; i < 2; i++ {
			f := newFixture(t, newFakeDriver())
			result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "AUTO", Task: task, Cleanup: true})
			require.NoError(t, err, task)
			assert.Equal(t, want, result.Secondary, task)
			assert.Equal(t, []string{want}, f.reporter.selected, task)
		}
	}
}

func TestDelegateWaitModeEndToEnd(t *testing.T) {
	driver := newFakeDriver(`{"event": "task_completed"}`, "modified: src/app.go", "")
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{
		Primary:   "Claude",
		Secondary: "codex",
		Task:      "Generate hello world",
		Wait:      time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "id000001", result.RunID)
	assert.Equal(t, "run-id000001-primary-claude", result.PrimarySession)
	assert.Equal(t, "run-id000001-secondary-codex", result.SecondarySession)
	assert.Equal(t, ledger.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Summary.FilesModified)

	require.Len(t, driver.spawned, 2)
	assert.Equal(t, []string{result.PrimarySession, result.SecondarySession}, driver.names)
	for _, options := range driver.spawned {
		assert.True(t, options.KillExisting)
	}
	assert.Equal(t, []string{
		"env",
		"ORCHESTRA_RUN_ID=id000001",
		"ORCHESTRA_AGENT=codex",
		"ORCHESTRA_ROLE=secondary",
		"/opt/agents/codex.sh",
		"Generate hello world",
	}, driver.spawned[1].Command)

	record, err := f.store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, record.Status)
	require.NotNil(t, record.Summary)
	assert.Equal(t, 1, record.Summary.FilesModified)
	assert.NotNil(t, record.CompletedAt)
	assert.False(t, record.Cleanup)
	assert.Empty(t, driver.killed)
}

func TestDelegateFailedSummaryFailsRun(t *testing.T) {
	f := newFixture(t, newFakeDriver("Task completed", "Error: tests failed"))

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, summary.StatusFailed, result.Summary.Status)
	record, err := f.store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, record.Status)
}

func TestDelegateUnknownSummaryCompletesRun(t *testing.T) {
	f := newFixture(t, newFakeDriver("thinking..."))

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, summary.StatusUnknown, result.Summary.Status)
	assert.Equal(t, ledger.StatusCompleted, result.Status)
}

func TestDelegateCaptureFailureInWaitModeIsFatal(t *testing.T) {
	driver := newFakeDriver()
	driver.captureErr = &tmuxsession.DriverError{Op: "capture-pane", Err: errors.New("boom")}
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x", Cleanup: true})
	var driverErr *tmuxsession.DriverError
	require.ErrorAs(t, err, &driverErr)

	record, getErr := f.store.GetRun(result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, ledger.StatusFailed, record.Status)
	assert.ElementsMatch(t, []string{result.PrimarySession, result.SecondarySession}, driver.killed)
}

func TestDelegateSpawnFailureFinalizesAndCleansUp(t *testing.T) {
	driver := newFakeDriver()
	driver.spawnErr = &tmuxsession.DriverError{Op: "spawn", Err: tmuxsession.ErrNotReady}
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x", Cleanup: true})
	require.ErrorIs(t, err, tmuxsession.ErrNotReady)
	assert.Equal(t, ledger.StatusFailed, result.Status)

	record, getErr := f.store.GetRun(result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, ledger.StatusFailed, record.Status)
	assert.Empty(t, driver.live())
}

func TestDelegateSpawnFailureWithoutCleanupKeepsSessions(t *testing.T) {
	driver := newFakeDriver()
	driver.spawnErr = errors.New("spawn failed")
	f := newFixture(t, driver)

	_, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x"})
	require.Error(t, err)
	assert.Empty(t, driver.killed)
	assert.Len(t, driver.live(), 1)
}

func TestDelegateSummarizePanicFinalizesFailed(t *testing.T) {
	f := newFixture(t, newFakeDriver("output"))
	f.orchestrator.Summarize = func([]string) summary.TaskSummary { panic("bad regexp state") }

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x", Cleanup: true})
	require.ErrorIs(t, err, ErrSummarize)
	assert.Contains(t, err.Error(), "bad regexp state")

	record, getErr := f.store.GetRun(result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, ledger.StatusFailed, record.Status)
	assert.Nil(t, record.Summary)
	assert.Len(t, f.driver.killed, 2)
}

func TestDelegateWaitCanceled(t *testing.T) {
	f := newFixture(t, newFakeDriver("output"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	result, err := f.orchestrator.Delegate(ctx, Request{Secondary: "codex", Task: "x", Wait: time.Minute})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	record, getErr := f.store.GetRun(result.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, ledger.StatusFailed, record.Status)
}

func TestDelegateFollowModeStreamsUntilSessionEnds(t *testing.T) {
	driver := newFakeDriver()
	driver.followCaptures = [][]string{
		{"starting"},
		{"starting", "modified: a.go", ""},
		{"starting", "modified: a.go", "✅ done"},
	}
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{
		Secondary:      "codex",
		Task:           "x",
		Follow:         true,
		FollowInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"starting", "modified: a.go", "✅ done"}, f.reporter.lines)
	assert.Empty(t, f.reporter.stopped)
	// The final capture fails because the session is gone, so the streamed lines are summarized.
	assert.Equal(t, ledger.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Summary.FilesModified)
	assert.False(t, f.reporter.noOutput)

	record, err := f.store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.True(t, record.FollowMode)
}

func TestDelegateFollowSecondaryExitsBetweenPolls(t *testing.T) {
	driver := newFakeDriver("modified: b.go", `{"event": "task_completed"}`)
	// The stream checks once after its first capture, then finds the session gone.
	driver.existChecks = 2
	f := newFixture(t, driver)

	started := time.Now()
	result, err := f.orchestrator.Delegate(context.Background(), Request{
		Secondary:      "codex",
		Task:           "x",
		Follow:         true,
		FollowInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second)
	assert.Empty(t, f.reporter.stopped)
	assert.False(t, f.reporter.noOutput)
	assert.Equal(t, []string{"modified: b.go", `{"event": "task_completed"}`}, f.reporter.lines)
	assert.Equal(t, ledger.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Summary.FilesModified)
}

func TestDelegateFollowInterruptedUsesFinalCapture(t *testing.T) {
	driver := newFakeDriver("✅ all good")
	f := newFixture(t, driver)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orchestrator.Delegate(ctx, Request{Secondary: "codex", Task: "x", Follow: true})
	require.NoError(t, err)
	require.Len(t, f.reporter.stopped, 1)
	assert.ErrorIs(t, f.reporter.stopped[0], context.Canceled)
	assert.Equal(t, summary.StatusCompleted, result.Summary.Status)
}

func TestDelegateFollowNoOutput(t *testing.T) {
	driver := newFakeDriver()
	driver.captureErr = errors.New("capture failed")
	f := newFixture(t, driver)

	result, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "x", Follow: true})
	require.NoError(t, err)
	assert.True(t, f.reporter.noOutput)
	assert.Equal(t, summary.StatusUnknown, result.Summary.Status)
	assert.Empty(t, result.Summary.Details)
}

func TestConcurrentDelegateConflicts(t *testing.T) {
	driver := newFakeDriver("✅")
	f := newFixture(t, driver)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "first", Wait: 200 * time.Millisecond})
		firstDone <- err
	}()

	require.Eventually(t, func() bool { return len(driver.live()) == 2 }, time.Second, time.Millisecond)

	_, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: "second"})
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, <-firstDone)
}

// Both invocations list sessions before either spawns, so neither sees a conflict.
func TestExclusivityIsAdvisory(t *testing.T) {
	driver := newFakeDriver("✅")
	var listed sync.WaitGroup
	listed.Add(2)
	driver.onList = func() {
		listed.Done()
		listed.Wait()
	}
	f := newFixture(t, driver)

	errs := make(chan error, 2)
	for _, task := range []string{"first", "second"} {
		go func(task string) {
			_, err := f.orchestrator.Delegate(context.Background(), Request{Secondary: "codex", Task: task})
			errs <- err
		}(task)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Len(t, driver.live(), 4)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	assert.Len(t, id, 8)
	assert.Equal(t, strings.ToLower(id), id)
	assert.True(t, launchspec.IsRunSession(launchspec.SessionName(id, launchspec.RolePrimary, "claude")))
}
