// Package logging wires up the daemon's zap logger, honoring the
// WHISPERS_LOG environment variable the way the spec's generic
// <LOG_LEVEL_FILTER> is expected to be consumed by the logging
// subsystem.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvVar is the environment variable used to select the log level.
const EnvVar = "WHISPERS_LOG"

// New builds a production zap.Logger whose level is taken from
// WHISPERS_LOG (debug, info, warn, error), defaulting to info.
// zap has no separate trace tier; trace-level detail in the spec maps
// to Debug.
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
	return cfg.Build()
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv(EnvVar)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
