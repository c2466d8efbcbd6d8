package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerWithCore(core, LevelInfo)

	logger.Info("started", map[string]string{"run_id": "1"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %v", entry.Level)
	}
	if entry.Message != "started" {
		t.Fatalf("expected message started, got %q", entry.Message)
	}
	if entry.ContextMap()["run_id"] != "1" {
		t.Fatalf("expected context run_id=1, got %v", entry.ContextMap())
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerWithCore(core, LevelWarning)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warning level, got %v", entries[0].Level)
	}
}

func TestLoggerWithMergesContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerWithCore(core, LevelDebug).Category("ledger").With(map[string]string{"path": "/tmp/runs.json"})

	logger.Debug("read", map[string]string{"records": "3"})

	fields := logs.All()[0].ContextMap()
	if fields[FieldCategory] != "ledger" || fields["path"] != "/tmp/runs.json" || fields["records"] != "3" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLoggerConsoleOutput(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatConsole, &out)

	logger.Warn("slow spawn", map[string]string{"session": "run-1"})
	logger.Sync()

	text := out.String()
	if !strings.Contains(text, "slow spawn") || !strings.Contains(text, "run-1") {
		t.Fatalf("unexpected output: %q", text)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) {
		t.Fatalf("nil logger should not be enabled")
	}
	if logger.With(map[string]string{"a": "b"}) != nil {
		t.Fatalf("expected nil logger from With")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to fail")
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	if got := LevelFromEnv(LevelWarning); got != LevelDebug {
		t.Fatalf("expected debug, got %q", got)
	}
	t.Setenv(EnvLogLevel, "nonsense")
	if got := LevelFromEnv(LevelWarning); got != LevelWarning {
		t.Fatalf("expected fallback, got %q", got)
	}
}
