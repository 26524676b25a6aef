// Package logging builds the single *zap.Logger a cmd/ entrypoint
// constructs once and threads down into every other package via its
// WithLogger constructor option (internal/ledger, internal/inker,
// internal/compactor, internal/segment all take one this way). None
// of the retrieved repos construct a *zap.Logger from a level string
// themselves — iamNilotpal/ignite and storj/storj both receive an
// already-built logger through a config struct or constructor
// argument — so New follows zap's own documented construction instead
// (see DESIGN.md).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style logger (JSON encoding, ISO8601
// timestamps, caller info) at the given level. An empty level
// defaults to info.
func New(level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("logging: invalid log_level %q: %w", level, err)
	}
	return lvl, nil
}

// Nop returns a no-op logger, for tests and callers that haven't
// wired one in yet.
func Nop() *zap.Logger {
	return zap.NewNop()
}
