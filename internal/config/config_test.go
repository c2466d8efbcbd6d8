package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
tools:
  Claude:
    wrapper: wrappers/claude.sh
  codex:
    wrapper: /opt/agents/codex.sh
routing:
  frontend: Codex
  default: claude
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func TestLoadFileResolvesWrappers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestra.yaml")
	writeFile(t, path, sampleConfig)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	wrapper, err := cfg.WrapperFor("CLAUDE")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wrappers", "claude.sh"), wrapper)

	wrapper, err = cfg.WrapperFor("codex")
	require.NoError(t, err)
	assert.Equal(t, "/opt/agents/codex.sh", wrapper)
	assert.Equal(t, "claude", cfg.DefaultTool)
}

func TestWrapperPrefersProjectRootWhenConfigDirMissesIt(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "scripts", "agents", "claude.sh"), "#!/bin/sh\n")
	path := filepath.Join(root, "config", "orchestra.yaml")
	writeFile(t, path, "tools:\n  claude:\n    wrapper: scripts/agents/claude.sh\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	wrapper, err := cfg.WrapperFor("claude")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "scripts", "agents", "claude.sh"), wrapper)
}

func TestWrapperForUnknownAgent(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "/base")
	require.NoError(t, err)

	_, err = cfg.WrapperFor("gemini")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.Contains(t, err.Error(), "gemini")
}

func TestSelectTool(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "/base")
	require.NoError(t, err)

	assert.Equal(t, "codex", cfg.SelectTool("frontend"))
	assert.Equal(t, "aider", cfg.SelectTool("git"), "unconfigured categories fall back to the built-in routes")
	assert.Equal(t, "claude", cfg.SelectTool("docs"))
	assert.Equal(t, "claude", cfg.SelectTool(""))
}

func TestDefaultToolFallbacks(t *testing.T) {
	cfg, err := Parse([]byte("tools:\n  zed:\n    wrapper: z\n  aider:\n    wrapper: a\n"), "/base")
	require.NoError(t, err)
	assert.Equal(t, "aider", cfg.DefaultTool)

	cfg, err = Parse([]byte("{}"), "/base")
	require.NoError(t, err)
	assert.Equal(t, FallbackTool, cfg.DefaultTool)
}

func TestParseSeedsMissingDefaultRoutes(t *testing.T) {
	cfg, err := Parse([]byte("tools:\n  cursor:\n    wrapper: c\n  droid:\n    wrapper: d\n"), "/base")
	require.NoError(t, err)
	assert.Equal(t, "cursor", cfg.SelectTool("frontend"))
	assert.Equal(t, "droid", cfg.SelectTool("backend"))
	assert.Equal(t, "aider", cfg.SelectTool("git"))
	assert.Equal(t, "cursor", cfg.SelectTool(""))

	cfg, err = Parse([]byte("tools:\n  codex:\n    wrapper: c\nrouting:\n  frontend: codex\n  default: codex\n"), "/base")
	require.NoError(t, err)
	assert.Equal(t, "codex", cfg.SelectTool("frontend"), "configured routes win")
	assert.Equal(t, "droid", cfg.SelectTool("backend"))
	assert.Equal(t, "codex", cfg.SelectTool("docs"))
}

func TestParseRejectsToolWithoutWrapper(t *testing.T) {
	_, err := Parse([]byte("tools:\n  claude: {}\n"), "/base")
	require.Error(t, err)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestLoadPrefersEnvThenWorkdirThenDefaults(t *testing.T) {
	dir := t.TempDir()
	defaults := []byte("tools:\n  droid:\n    wrapper: scripts/agents/droid.sh\n")

	cfg, err := Load(LoadOptions{WorkDir: dir, Defaults: defaults, Getenv: func(string) string { return "" }})
	require.NoError(t, err)
	assert.Equal(t, "embedded", cfg.Source)
	assert.Equal(t, []string{"droid"}, cfg.ToolNames())

	writeFile(t, filepath.Join(dir, DefaultConfigFile), sampleConfig)
	cfg, err = Load(LoadOptions{WorkDir: dir, Defaults: defaults, Getenv: func(string) string { return "" }})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Source)

	other := filepath.Join(t.TempDir(), "other.yaml")
	writeFile(t, other, "tools:\n  aider:\n    wrapper: a.sh\n")
	cfg, err = Load(LoadOptions{WorkDir: dir, Defaults: defaults, Getenv: func(key string) string {
		if key == EnvConfigPath {
			return other
		}
		return ""
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"aider"}, cfg.ToolNames())
}

func TestRuntimeFromEnvDefaults(t *testing.T) {
	runtime := RuntimeFromEnv(func(string) string { return "" })
	assert.Equal(t, DefaultSpawnTimeout, runtime.SpawnTimeout)
	assert.Equal(t, DefaultSpawnPollInterval, runtime.SpawnPollInterval)
	assert.NotEmpty(t, runtime.StateDir)
	assert.Empty(t, runtime.Warnings)
}

func TestRuntimeFromEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvSpawnTimeout:      "3",
		EnvSpawnPollInterval: "0.01",
		EnvStateDir:          "/state",
		EnvTmuxSocket:        "test-sock",
	}
	runtime := RuntimeFromEnv(func(key string) string { return env[key] })
	assert.Equal(t, 3*time.Second, runtime.SpawnTimeout)
	assert.Equal(t, 10*time.Millisecond, runtime.SpawnPollInterval)
	assert.Equal(t, filepath.Join("/state", RunHistoryFile), runtime.RunHistoryPath())
	assert.Equal(t, "test-sock", runtime.TmuxSocket)
}

func TestRuntimeFromEnvIgnoresBadValues(t *testing.T) {
	env := map[string]string{EnvSpawnTimeout: "soon", EnvSpawnPollInterval: "-1"}
	runtime := RuntimeFromEnv(func(key string) string { return env[key] })
	assert.Equal(t, DefaultSpawnTimeout, runtime.SpawnTimeout)
	assert.Equal(t, DefaultSpawnPollInterval, runtime.SpawnPollInterval)
	assert.Len(t, runtime.Warnings, 2)
}
