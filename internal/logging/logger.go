package logging

import (
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLogLevel = "ORCHESTRA_LOG_LEVEL"

type Logger struct {
	zap         *zap.Logger
	minLevel    Level
	baseContext map[string]string
}

func NewLoggerWithOutput(minLevel Level, format Format, output io.Writer) *Logger {
	if output == nil {
		output = io.Discard
	}
	minLevel = normalizeLevel(minLevel)
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	var encoder zapcore.Encoder
	if format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(output), zapLevel(minLevel))
	return &Logger{zap: zap.New(core), minLevel: minLevel}
}

// NewLoggerWithCore wraps an existing zap core, e.g. zaptest/observer in tests.
func NewLoggerWithCore(core zapcore.Core, minLevel Level) *Logger {
	return &Logger{zap: zap.New(core), minLevel: normalizeLevel(minLevel)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), minLevel: LevelError}
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		zap:         l.zap,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
	}
}

// Category binds the component category and source fields.
func (l *Logger) Category(category string) *Logger {
	return l.With(map[string]string{
		FieldCategory: category,
		FieldSource:   "backend",
	})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

// Sync flushes buffered output.
func (l *Logger) Sync() {
	if l == nil || l.zap == nil {
		return
	}
	_ = l.zap.Sync()
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || l.zap == nil || !l.Enabled(level) {
		return
	}
	zapFields := toZapFields(cloneFields(l.baseContext, fields))
	switch level {
	case LevelDebug:
		l.zap.Debug(message, zapFields...)
	case LevelWarning:
		l.zap.Warn(message, zapFields...)
	case LevelError:
		l.zap.Error(message, zapFields...)
	default:
		l.zap.Info(message, zapFields...)
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// LevelFromEnv resolves the level from ORCHESTRA_LOG_LEVEL, falling back to fallback.
func LevelFromEnv(fallback Level) Level {
	if level, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		return level
	}
	return fallback
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func toZapFields(fields map[string]string) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.String(key, fields[key]))
	}
	return out
}
