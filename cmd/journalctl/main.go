// journalctl is a one-shot command-line tool over a journal data
// directory: put a value, get it back out, or run a single
// compaction cycle. Each subcommand gets its own pflag.FlagSet taking
// only a --config (-c) path; every other setting comes from that
// config file (or the defaults when it is omitted), and a usage error
// is printed to stderr.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/leveled-go/journal/internal/compactor"
	"github.com/leveled-go/journal/internal/config"
	"github.com/leveled-go/journal/internal/inker"
	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/logging"
	"github.com/leveled-go/journal/internal/policy"
	"github.com/leveled-go/journal/internal/segment"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "journalctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("missing subcommand")
	}

	switch args[0] {
	case "put":
		return runPut(args[1:])
	case "get":
		return runGet(args[1:])
	case "compact":
		return runCompact(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  journalctl put -c <config> <key> <value>")
	fmt.Fprintln(os.Stderr, "  journalctl get -c <config> <sqn> <kind> <key>")
	fmt.Fprintln(os.Stderr, "  journalctl compact -c <config>")
}

func openInker(cfg config.Config) (*inker.Inker, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return inker.Open(
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "MANIFEST"),
		"journal",
		inker.WithLogger(logger),
		inker.WithSegmentOptions(segment.WithMaxFileSize(cfg.MaxFileSize)),
	)
}

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to a journal.jwcc config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: journalctl put -c <config> <key> <value>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ik, err := openInker(cfg)
	if err != nil {
		return err
	}
	defer ik.Close()

	sqn, err := ik.Put([]byte(fs.Arg(0)), []byte(fs.Arg(1)))
	if err != nil {
		return err
	}
	fmt.Printf("OK: sqn=%d\n", sqn)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to a journal.jwcc config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 3 {
		return errors.New("usage: journalctl get -c <config> <sqn> <kind> <key>")
	}

	var sqn uint64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &sqn); err != nil {
		return fmt.Errorf("invalid sqn %q: %w", fs.Arg(0), err)
	}
	kind, err := journalkey.ParseKind(fs.Arg(1))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ik, err := openInker(cfg)
	if err != nil {
		return err
	}
	defer ik.Close()

	value, err := ik.Get(journalkey.Key{SQN: sqn, Kind: kind, LedgerKey: []byte(fs.Arg(2))})
	if err != nil {
		return err
	}
	if isPrintable(value) {
		fmt.Println(string(value))
	} else {
		fmt.Println(hex.EncodeToString(value))
	}
	return nil
}

func runCompact(args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to a journal.jwcc config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ik, err := openInker(cfg)
	if err != nil {
		return err
	}
	defer ik.Close()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	ccfg := compactor.DefaultConfig(cfg.DataDir, filepath.Join(cfg.DataDir, "compact"), cfg.WastePath)
	ccfg.SampleSize = cfg.SampleSize
	ccfg.BatchSize = cfg.BatchSize
	ccfg.MaxRunLength = cfg.MaxCompactionRun
	ccfg.SingleFileTarget = cfg.SingleFileCompactionTarget
	ccfg.MaxRunTarget = cfg.MaxRunCompactionTarget
	ccfg.WasteRetention = cfg.WasteRetentionPeriod

	c := compactor.New(ccfg, ik, policy.RetainAll{}, compactor.WithLogger(logger))
	score, err := c.Run(policy.AlwaysLiveSnapshot())
	if err != nil {
		return err
	}
	fmt.Printf("OK: evaluated score %.2f\n", score)
	return nil
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 32 || c > 126 {
			return false
		}
	}
	return true
}
