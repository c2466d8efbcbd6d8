package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvConfigPath     = "ORCHESTRA_CONFIG"
	DefaultConfigFile = "orchestra.yaml"
)

// LoadOptions describes where configuration may come from, in priority order.
type LoadOptions struct {
	// Path is an explicit --config value; a missing file is an error.
	Path string
	// WorkDir is searched for orchestra.yaml and anchors the embedded defaults.
	WorkDir string
	// Defaults is the embedded fallback payload.
	Defaults []byte
	Getenv   func(string) string
}

// Load resolves the configuration: explicit path, ORCHESTRA_CONFIG, ./orchestra.yaml, then defaults.
func Load(options LoadOptions) (*Config, error) {
	getenv := options.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if path := strings.TrimSpace(options.Path); path != "" {
		return LoadFile(path)
	}
	if path := strings.TrimSpace(getenv(EnvConfigPath)); path != "" {
		return LoadFile(path)
	}

	workDir := options.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get workdir: %w", err)
		}
		workDir = wd
	}
	local := filepath.Join(workDir, DefaultConfigFile)
	cfg, err := LoadFile(local)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	if len(options.Defaults) == 0 {
		return nil, fmt.Errorf("%w: no %s in %s and no defaults", ErrConfigNotFound, DefaultConfigFile, workDir)
	}
	// Resolve embedded wrappers against a virtual config dir inside workDir so
	// "scripts/agents/x.sh" finds the project-root fallback.
	cfg, err = Parse(options.Defaults, filepath.Join(workDir, "config"))
	if err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	cfg.Source = "embedded"
	return cfg, nil
}
