package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger configured for structured production logging. An empty
// level selects info; "warning" is accepted as an alias of warn.
func NewLogger(level string) (*zap.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// ParseLevel maps a configured level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return parsed, nil
}
