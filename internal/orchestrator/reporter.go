package orchestrator

import "orchestra/internal/runner/launchspec"

// Reporter receives progress while a delegation runs.
type Reporter interface {
	RunStarted(runID string)
	AgentSelected(agent string)
	SessionSpawning(role launchspec.Role, session string)
	StreamStarted()
	StreamLine(line string)
	// StreamStopped is called when streaming ends early; err is context.Canceled on operator interrupt.
	StreamStopped(err error)
	NoOutput()
}

type nopReporter struct{}

func (nopReporter) RunStarted(string) {}
func (nopReporter) AgentSelected(string) {}
func (nopReporter) SessionSpawning(launchspec.Role, string) {}
func (nopReporter) StreamStarted() {}
func (nopReporter) StreamLine(string) {}
func (nopReporter) StreamStopped(error) {}
func (nopReporter) NoOutput() {}
