package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	logger, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level enabled by default")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level disabled by default")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("not-a-level"); err == nil {
		t.Fatal("expected an error for an unrecognized log level")
	}
}

func TestNewHonorsDebugLevel(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level enabled when requested")
	}
}
