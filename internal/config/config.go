// Package config loads the journal's on-disk configuration: the
// compactor/segment parameter table plus the ambient DataDir/
// WastePath/LogLevel fields a runnable binary needs. Parsing is a
// two-step pipeline: hujson.Standardize strips JWCC comments/trailing
// commas, then encoding/json unmarshals into a typed struct, with CLI
// flag overrides layered on top via spf13/pflag.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config is the compactor/segment parameter table, plus the ambient
// fields a runnable repository needs that the journal layer itself
// has no opinion on.
type Config struct {
	DataDir   string `json:"data_dir"`
	WastePath string `json:"waste_path"`
	LogLevel  string `json:"log_level"`

	MaxFileSize                int64         `json:"max_file_size"`
	SampleSize                 int           `json:"sample_size"`
	BatchSize                  int           `json:"batch_size"`
	MaxCompactionRun           int           `json:"max_compaction_run"`
	SingleFileCompactionTarget float64       `json:"single_file_compaction_target"`
	MaxRunCompactionTarget     float64       `json:"max_run_compaction_target"`
	WasteRetentionPeriod       time.Duration `json:"waste_retention_period"`
	DeleteTimeout              time.Duration `json:"delete_timeout"`
	PendingRollWaitMillis      int           `json:"pending_roll_wait_millis"`
	PendingRollPollBudget      int           `json:"pending_roll_poll_budget"`
}

// Default returns the default parameter table plus sensible ambient
// defaults (current directory, info-level logging).
func Default() Config {
	return Config{
		DataDir:   "./data",
		WastePath: "./data/waste",
		LogLevel:  "info",

		MaxFileSize:                3 << 30,
		SampleSize:                 200,
		BatchSize:                  32,
		MaxCompactionRun:           4,
		SingleFileCompactionTarget: 60.0,
		MaxRunCompactionTarget:     80.0,
		WasteRetentionPeriod:       86400 * time.Second,
		DeleteTimeout:              10 * time.Second,
		PendingRollWaitMillis:      1,
		PendingRollPollBudget:      30,
	}
}

// Load reads and parses a JWCC (JSON-with-comments) config file at
// path, layered over Default(). A missing file is not an error: it
// falls back to defaults entirely, matching a freshly initialized
// data directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid JWCC in %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a config with an inverted or zeroed parameter that
// would make the compactor or segment actor misbehave silently.
func Validate(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if cfg.MaxCompactionRun <= 0 {
		return fmt.Errorf("max_compaction_run must be positive")
	}
	if cfg.SingleFileCompactionTarget > cfg.MaxRunCompactionTarget {
		return fmt.Errorf("single_file_compaction_target must not exceed max_run_compaction_target")
	}
	return nil
}
