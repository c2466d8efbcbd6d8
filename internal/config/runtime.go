package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	EnvSpawnTimeout      = "ORCHESTRA_TMUX_SPAWN_TIMEOUT"
	EnvSpawnPollInterval = "ORCHESTRA_TMUX_SPAWN_POLL_INTERVAL"
	EnvStateDir          = "ORCHESTRA_STATE_DIR"
	EnvTmuxSocket        = "ORCHESTRA_TMUX_SOCKET"

	DefaultSpawnTimeout      = 5 * time.Second
	DefaultSpawnPollInterval = 50 * time.Millisecond
	RunHistoryFile           = "runs.json"
)

// Runtime holds tunables read from the environment.
type Runtime struct {
	SpawnTimeout      time.Duration
	SpawnPollInterval time.Duration
	StateDir          string
	TmuxSocket        string
	// Warnings lists values that were ignored in favour of defaults.
	Warnings []string
}

// RunHistoryPath is the ledger file inside StateDir.
func (r Runtime) RunHistoryPath() string {
	return filepath.Join(r.StateDir, RunHistoryFile)
}

// RuntimeFromEnv reads tunables using getenv (os.Getenv when nil).
func RuntimeFromEnv(getenv func(string) string) Runtime {
	if getenv == nil {
		getenv = os.Getenv
	}
	runtime := Runtime{
		SpawnTimeout:      DefaultSpawnTimeout,
		SpawnPollInterval: DefaultSpawnPollInterval,
		StateDir:          strings.TrimSpace(getenv(EnvStateDir)),
		TmuxSocket:        strings.TrimSpace(getenv(EnvTmuxSocket)),
	}
	if value, ok, warn := secondsFromEnv(getenv, EnvSpawnTimeout); ok {
		runtime.SpawnTimeout = value
	} else if warn != "" {
		runtime.Warnings = append(runtime.Warnings, warn)
	}
	if value, ok, warn := secondsFromEnv(getenv, EnvSpawnPollInterval); ok {
		runtime.SpawnPollInterval = value
	} else if warn != "" {
		runtime.Warnings = append(runtime.Warnings, warn)
	}
	if runtime.StateDir == "" {
		runtime.StateDir = defaultStateDir()
	}
	return runtime
}

func secondsFromEnv(getenv func(string) string, key string) (time.Duration, bool, string) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return 0, false, ""
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0, false, key + "=" + raw + " is not a positive number of seconds"
	}
	return time.Duration(seconds * float64(time.Second)), true, ""
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "project-orchestra")
	}
	return filepath.Join(home, ".cache", "project-orchestra")
}
