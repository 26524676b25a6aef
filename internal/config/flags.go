package config

import (
	flag "github.com/spf13/pflag"
)

// RegisterFlags binds pflag overrides for the fields a command-line
// invocation most plausibly wants to tweak: each flag is pre-seeded
// with cfg's current value (from Default() or a loaded file) so an
// unset flag leaves it untouched.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "journal data directory")
	fs.StringVar(&cfg.WastePath, "waste-path", cfg.WastePath, "waste staging directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zap log level (debug|info|warn|error)")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "segment max_file_size in bytes")
	fs.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "compactor scoring sample size")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "compactor direct_fetch batch size")
	fs.IntVar(&cfg.MaxCompactionRun, "max-compaction-run", cfg.MaxCompactionRun, "upper bound on files per rewrite run")
	fs.Float64Var(&cfg.SingleFileCompactionTarget, "single-file-compaction-target", cfg.SingleFileCompactionTarget, "score threshold for length-1 runs")
	fs.Float64Var(&cfg.MaxRunCompactionTarget, "max-run-compaction-target", cfg.MaxRunCompactionTarget, "score threshold at max run length")
	fs.DurationVar(&cfg.WasteRetentionPeriod, "waste-retention", cfg.WasteRetentionPeriod, "time waste files are retained")
	fs.DurationVar(&cfg.DeleteTimeout, "delete-timeout", cfg.DeleteTimeout, "poll interval while delete-pending")
}
