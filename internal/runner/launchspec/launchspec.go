// Package launchspec describes how a delegated agent is started inside its session.
package launchspec

import (
	"fmt"
	"strings"
)

// Role distinguishes the two agents of a run.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// SessionPrefix marks every session owned by a delegation run.
const SessionPrefix = "run-"

// Environment exposed to agent wrappers.
const (
	EnvRunID = "ORCHESTRA_RUN_ID"
	EnvAgent = "ORCHESTRA_AGENT"
	EnvRole  = "ORCHESTRA_ROLE"
)

// LaunchSpec describes one agent launch of a run.
type LaunchSpec struct {
	RunID   string `json:"run_id"`
	Agent   string `json:"agent"`
	Role    Role   `json:"role"`
	Wrapper string `json:"wrapper"`
	Task    string `json:"task"`
}

// SessionName derives the tmux session name; liveness of a run is inferred from it.
func SessionName(runID string, role Role, agent string) string {
	return fmt.Sprintf("%s%s-%s-%s", SessionPrefix, runID, role, agent)
}

// IsRunSession reports whether a session name belongs to a delegation run.
func IsRunSession(name string) bool {
	return strings.HasPrefix(name, SessionPrefix)
}

func (s LaunchSpec) SessionName() string {
	return SessionName(s.RunID, s.Role, s.Agent)
}

// Argv builds the command: env-prefixed wrapper with the task as its only argument.
func (s LaunchSpec) Argv() []string {
	return []string{
		"env",
		EnvRunID + "=" + s.RunID,
		EnvAgent + "=" + s.Agent,
		EnvRole + "=" + string(s.Role),
		s.Wrapper,
		s.Task,
	}
}
