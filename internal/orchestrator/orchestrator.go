package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"orchestra/internal/ledger"
	"orchestra/internal/logging"
	"orchestra/internal/router"
	"orchestra/internal/runner/launchspec"
	"orchestra/internal/runner/tmuxsession"
	"orchestra/internal/summary"

	"github.com/google/uuid"
)

// AutoAgent asks the router to pick the secondary agent from the task text.
const AutoAgent = "auto"

const (
	DefaultPrimary        = "claude"
	DefaultWait           = 5 * time.Second
	DefaultFollowInterval = time.Second
	minFollowInterval     = 100 * time.Millisecond
	runIDLength           = 8
)

// Driver is the slice of the session driver a delegation needs.
type Driver interface {
	ListSessions() ([]string, error)
	SessionExists(name string) (bool, error)
	SpawnSession(ctx context.Context, name string, options tmuxsession.SpawnOptions) error
	KillSession(name string) error
	CapturePane(name string, pane, scrollback int) (tmuxsession.PaneCapture, error)
}

// Agents resolves agent names to wrappers and categories to agents.
type Agents interface {
	WrapperFor(name string) (string, error)
	SelectTool(category string) string
}

// Ledger records run lifecycle.
type Ledger interface {
	StartRun(record ledger.Record) error
	CompleteRun(runID string, status ledger.Status, taskSummary *summary.TaskSummary) error
}

type Request struct {
	Primary        string
	Secondary      string
	Task           string
	Wait           time.Duration
	Follow         bool
	FollowInterval time.Duration
	Cleanup        bool
}

type Result struct {
	RunID            string
	Primary          string
	Secondary        string
	PrimarySession   string
	SecondarySession string
	Status           ledger.Status
	Summary          summary.TaskSummary
}

type Orchestrator struct {
	Driver   Driver
	Agents   Agents
	Ledger   Ledger
	Logger   *logging.Logger
	Reporter Reporter
	// NewRunID and Summarize are replaceable in tests.
	NewRunID  func() string
	Summarize func(lines []string) summary.TaskSummary
}

// Delegate runs one delegation to completion. Once the start record is
// written, every exit path finalizes the record and, when requested, kills
// both sessions.
func (o *Orchestrator) Delegate(ctx context.Context, request Request) (result Result, err error) {
	reporter := o.reporter()
	logger := o.Logger.Category("delegate")

	task := request.Task
	if strings.ContainsAny(task, "\r\n") {
		return Result{}, ErrValidation
	}

	if active := o.activeRunSessions(logger); len(active) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrConflict, strings.Join(active, ", "))
	}

	primary := normalizeAgent(request.Primary, DefaultPrimary)
	primaryWrapper, err := o.Agents.WrapperFor(primary)
	if err != nil {
		return Result{}, err
	}
	secondary := normalizeAgent(request.Secondary, AutoAgent)
	if secondary == AutoAgent {
		category, _ := router.DetectCategory(task)
		secondary = o.Agents.SelectTool(category)
		reporter.AgentSelected(secondary)
		logger.Debug("secondary agent auto-selected", map[string]string{"category": category, "agent": secondary})
	}
	secondaryWrapper, err := o.Agents.WrapperFor(secondary)
	if err != nil {
		return Result{}, err
	}

	runID := o.newRunID()
	primarySpec := launchspec.LaunchSpec{RunID: runID, Agent: primary, Role: launchspec.RolePrimary, Wrapper: primaryWrapper, Task: task}
	secondarySpec := launchspec.LaunchSpec{RunID: runID, Agent: secondary, Role: launchspec.RoleSecondary, Wrapper: secondaryWrapper, Task: task}
	result = Result{
		RunID:            runID,
		Primary:          primary,
		Secondary:        secondary,
		PrimarySession:   primarySpec.SessionName(),
		SecondarySession: secondarySpec.SessionName(),
	}
	logger = logger.With(map[string]string{"run_id": runID})

	if err := o.Ledger.StartRun(ledger.Record{
		RunID:            runID,
		Task:             task,
		Primary:          primary,
		Secondary:        secondary,
		PrimarySession:   result.PrimarySession,
		SecondarySession: result.SecondarySession,
		Cleanup:          request.Cleanup,
		FollowMode:       request.Follow,
	}); err != nil {
		return result, fmt.Errorf("record run start: %w", err)
	}
	reporter.RunStarted(runID)

	finalized := false
	defer func() {
		if !finalized {
			result.Status = ledger.StatusFailed
			if completeErr := o.Ledger.CompleteRun(runID, ledger.StatusFailed, nil); completeErr != nil {
				logger.Warn("record run failure failed", map[string]string{"error": completeErr.Error()})
			}
		}
		if request.Cleanup {
			o.cleanup(logger, result.PrimarySession, result.SecondarySession)
		}
	}()

	for _, spec := range []launchspec.LaunchSpec{primarySpec, secondarySpec} {
		reporter.SessionSpawning(spec.Role, spec.SessionName())
		if err := o.Driver.SpawnSession(ctx, spec.SessionName(), tmuxsession.SpawnOptions{
			Command:      spec.Argv(),
			KillExisting: true,
		}); err != nil {
			logger.Error("spawn failed", map[string]string{"session": spec.SessionName(), "error": err.Error()})
			return result, err
		}
	}

	var lines []string
	if request.Follow {
		lines = o.follow(ctx, logger, result.SecondarySession, request.FollowInterval)
	} else {
		if request.Wait > 0 {
			if err := sleepContext(ctx, request.Wait); err != nil {
				return result, err
			}
		}
		capture, err := o.Driver.CapturePane(result.SecondarySession, 0, 0)
		if err != nil {
			return result, err
		}
		lines = capture.Lines
	}

	taskSummary, err := o.summarize(lines)
	if err != nil {
		logger.Error("summarize failed", map[string]string{"error": err.Error()})
		return result, err
	}
	result.Summary = taskSummary
	result.Status = runStatus(taskSummary)

	finalized = true
	if err := o.Ledger.CompleteRun(runID, result.Status, &taskSummary); err != nil {
		return result, fmt.Errorf("record run completion: %w", err)
	}
	logger.Info("run finished", map[string]string{
		"status":         string(result.Status),
		"summary_status": string(taskSummary.Status),
		"files_modified": fmt.Sprint(taskSummary.FilesModified),
	})
	return result, nil
}

// follow streams the secondary pane, then prefers a final capture over the streamed lines.
func (o *Orchestrator) follow(ctx context.Context, logger *logging.Logger, session string, interval time.Duration) []string {
	reporter := o.reporter()
	if interval < minFollowInterval {
		interval = minFollowInterval
	}
	reporter.StreamStarted()

	var streamed []string
	stream := tmuxsession.NewPaneStream(o.Driver, session, 0, interval)
	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Debug("stream stopped", map[string]string{"error": err.Error()})
			reporter.StreamStopped(err)
			break
		}
		for _, line := range batch {
			if strings.TrimSpace(line) == "" {
				continue
			}
			reporter.StreamLine(line)
			streamed = append(streamed, line)
		}
	}

	if exists, err := o.Driver.SessionExists(session); err == nil && exists {
		capture, err := o.Driver.CapturePane(session, 0, 0)
		if err == nil {
			return capture.Lines
		}
		logger.Debug("final capture failed", map[string]string{"error": err.Error()})
	}
	if len(streamed) == 0 {
		reporter.NoOutput()
	}
	return streamed
}

func (o *Orchestrator) summarize(lines []string) (taskSummary summary.TaskSummary, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrSummarize, recovered)
		}
	}()
	summarizeFn := o.Summarize
	if summarizeFn == nil {
		summarizeFn = summary.Summarize
	}
	return summarizeFn(lines), nil
}

// activeRunSessions treats a failed listing as no sessions.
func (o *Orchestrator) activeRunSessions(logger *logging.Logger) []string {
	sessions, err := o.Driver.ListSessions()
	if err != nil {
		logger.Debug("list sessions failed", map[string]string{"error": err.Error()})
		return nil
	}
	var active []string
	for _, name := range sessions {
		if launchspec.IsRunSession(name) {
			active = append(active, name)
		}
	}
	return active
}

func (o *Orchestrator) cleanup(logger *logging.Logger, sessions ...string) {
	for _, name := range sessions {
		if err := o.Driver.KillSession(name); err != nil {
			logger.Debug("cleanup kill failed", map[string]string{"session": name, "error": err.Error()})
		}
	}
}

func (o *Orchestrator) reporter() Reporter {
	if o.Reporter == nil {
		return nopReporter{}
	}
	return o.Reporter
}

func (o *Orchestrator) newRunID() string {
	if o.NewRunID != nil {
		return o.NewRunID()
	}
	return NewRunID()
}

// NewRunID returns the first eight hex digits of a random UUID.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:runIDLength]
}

// runStatus maps a summary to the run's terminal status. Unknown output still completes the run.
func runStatus(taskSummary summary.TaskSummary) ledger.Status {
	if taskSummary.Status == summary.StatusFailed {
		return ledger.StatusFailed
	}
	return ledger.StatusCompleted
}

func normalizeAgent(name, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback
	}
	return name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
