package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON emits production JSON lines.
	FormatJSON = "json"
	// FormatConsole emits human readable lines for interactive CLI runs.
	FormatConsole = "console"
)

// NewLogger returns a zap logger configured for structured logging at the requested level.
// The console format keeps the production sampling and level handling but swaps the encoder.
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	if strings.EqualFold(strings.TrimSpace(format), FormatConsole) {
		cfg.Encoding = FormatConsole
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
