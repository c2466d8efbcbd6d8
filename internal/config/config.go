// Package config loads agent wrappers and routing preferences.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"orchestra/internal/router"

	"gopkg.in/yaml.v3"
)

// ErrUnknownAgent is returned when an agent name has no configured wrapper.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrConfigNotFound is returned when an explicitly requested config file is missing.
var ErrConfigNotFound = errors.New("config file not found")

// FallbackTool is used when neither routing.default nor any tool is configured.
const FallbackTool = "droid"

// DefaultRoutingKey names the routing entry holding the default agent.
const DefaultRoutingKey = "default"

type Tool struct {
	Name    string
	Wrapper string
}

type Config struct {
	Tools       map[string]Tool
	Routing     map[string]string
	DefaultTool string
	Source      string
}

type fileConfig struct {
	Tools   map[string]fileTool `yaml:"tools"`
	Routing map[string]string   `yaml:"routing"`
}

type fileTool struct {
	Wrapper string `yaml:"wrapper"`
}

// WrapperFor returns the executable wrapper for an agent name (case-insensitive).
func (c *Config) WrapperFor(name string) (string, error) {
	key := normalizeName(name)
	if c != nil {
		if tool, ok := c.Tools[key]; ok {
			return tool.Wrapper, nil
		}
	}
	return "", fmt.Errorf("%w '%s'", ErrUnknownAgent, name)
}

// SelectTool returns the agent routed for category, or the default when unset.
func (c *Config) SelectTool(category string) string {
	if c == nil {
		return FallbackTool
	}
	if category != "" {
		if tool, ok := c.Routing[category]; ok && strings.TrimSpace(tool) != "" {
			return normalizeName(tool)
		}
	}
	return c.DefaultTool
}

// ToolNames lists configured agents alphabetically.
func (c *Config) ToolNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a YAML config. Relative wrappers resolve against the file's directory.
func LoadFile(path string) (*Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		absolute = path
	}
	cfg, err := Parse(payload, filepath.Dir(absolute))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Source = absolute
	return cfg, nil
}

// Parse decodes a YAML payload, resolving relative wrapper paths against baseDir.
func Parse(payload []byte, baseDir string) (*Config, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	tools := make(map[string]Tool, len(raw.Tools))
	for name, values := range raw.Tools {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if strings.TrimSpace(values.Wrapper) == "" {
			return nil, fmt.Errorf("tool %q has no wrapper", name)
		}
		tools[key] = Tool{Name: key, Wrapper: resolvePath(baseDir, values.Wrapper)}
	}

	routing := make(map[string]string, len(raw.Routing))
	for category, tool := range raw.Routing {
		routing[strings.TrimSpace(category)] = normalizeName(tool)
	}
	for category, tool := range router.DefaultRouting {
		if _, ok := routing[category]; !ok {
			routing[category] = tool
		}
	}

	cfg := &Config{Tools: tools, Routing: routing}
	cfg.DefaultTool = routing[DefaultRoutingKey]
	if cfg.DefaultTool == "" {
		if names := cfg.ToolNames(); len(names) > 0 {
			cfg.DefaultTool = names[0]
		} else {
			cfg.DefaultTool = FallbackTool
		}
	}
	return cfg, nil
}

func resolvePath(baseDir, raw string) string {
	candidate := strings.TrimSpace(raw)
	if filepath.IsAbs(candidate) {
		return candidate
	}
	resolved := filepath.Join(baseDir, candidate)
	if _, err := os.Stat(resolved); err == nil {
		return resolved
	}
	// Wrappers listed relative to the project root rather than the config directory.
	alt := filepath.Join(filepath.Dir(baseDir), candidate)
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return resolved
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
