// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at level ("debug", "info", ...) in the given format
// ("json" for production, "console" for local development), installs it as
// the zap global and returns it with a cleanup that flushes buffered output.
func New(level, format string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	restore := zap.ReplaceGlobals(logger)
	cleanup := func() {
		// Sync on stdout/stderr returns EINVAL/ENOTTY on some platforms.
		_ = logger.Sync()
		restore()
	}
	return logger, cleanup, nil
}
