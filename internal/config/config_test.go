package config

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.jwcc"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadParsesJWCCWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jwcc")
	contents := `{
  // compaction tuning for a small test journal
  "max_compaction_run": 8,
  "single_file_compaction_target": 50.0,
  "data_dir": "/var/lib/journal",
}
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxCompactionRun != 8 {
		t.Fatalf("expected max_compaction_run 8, got %d", cfg.MaxCompactionRun)
	}
	if cfg.SingleFileCompactionTarget != 50.0 {
		t.Fatalf("expected single_file_compaction_target 50.0, got %v", cfg.SingleFileCompactionTarget)
	}
	if cfg.DataDir != "/var/lib/journal" {
		t.Fatalf("expected overridden data_dir, got %q", cfg.DataDir)
	}
	// Unset fields still carry their defaults.
	if cfg.MaxFileSize != Default().MaxFileSize {
		t.Fatalf("expected untouched max_file_size to remain default, got %d", cfg.MaxFileSize)
	}
}

func TestValidateRejectsInvertedTargets(t *testing.T) {
	cfg := Default()
	cfg.SingleFileCompactionTarget = 90.0
	cfg.MaxRunCompactionTarget = 80.0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for inverted compaction targets")
	}
}

func TestRegisterFlagsOverridesSeededValue(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)

	if err := fs.Parse([]string{"--max-compaction-run=10", "--data-dir=/tmp/journal"}); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxCompactionRun != 10 {
		t.Fatalf("expected flag override to win, got %d", cfg.MaxCompactionRun)
	}
	if cfg.DataDir != "/tmp/journal" {
		t.Fatalf("expected flag override to win, got %q", cfg.DataDir)
	}
	if cfg.BatchSize != Default().BatchSize {
		t.Fatalf("expected unflagged field to keep its default, got %d", cfg.BatchSize)
	}
}
