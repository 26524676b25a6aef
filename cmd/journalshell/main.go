// journalshell is an interactive REPL over a journal data directory:
// peterh/liner handles readline-style input and a persisted history
// file, a completer walks the command table, and each command is a
// method hung off the REPL receiver.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/leveled-go/journal/internal/compactor"
	"github.com/leveled-go/journal/internal/config"
	"github.com/leveled-go/journal/internal/inker"
	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/logging"
	"github.com/leveled-go/journal/internal/policy"
	"github.com/leveled-go/journal/internal/segment"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "journalshell: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("journalshell", flag.ExitOnError)
	cfg := config.Default()
	config.RegisterFlags(fs, &cfg)
	configPath := fs.String("config", "", "path to a journal.jwcc config file")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: journalshell [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		fs = flag.NewFlagSet("journalshell", flag.ExitOnError)
		config.RegisterFlags(fs, &cfg)
		fs.String("config", "", "path to a journal.jwcc config file")
		if err := fs.Parse(os.Args[1:]); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ik, err := inker.Open(
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "MANIFEST"),
		"journal",
		inker.WithLogger(logger),
		inker.WithSegmentOptions(segment.WithMaxFileSize(cfg.MaxFileSize)),
	)
	if err != nil {
		return fmt.Errorf("open inker: %w", err)
	}
	defer ik.Close()

	repl := &REPL{ik: ik, cfg: cfg, logger: logger}
	return repl.Run()
}

// REPL is the interactive command loop over a single open Inker.
type REPL struct {
	ik     *inker.Inker
	cfg    config.Config
	logger *zap.Logger
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".journalshell_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("journalshell - data_dir=%s\n", r.cfg.DataDir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("journal> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "put":
			r.cmdPut(args)
		case "get":
			r.cmdGet(args)
		case "manifest", "ls":
			r.cmdManifest()
		case "compact":
			r.cmdCompact()
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"put", "get", "manifest", "ls", "compact", "help", "exit", "quit", "q"}
	var out []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			out = append(out, cmd)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>              Write a value, assigned the next sqn")
	fmt.Println("  get <sqn> <kind> <key>          Look up a value still live in the active segment")
	fmt.Println("  manifest | ls                   List sealed segments eligible for compaction")
	fmt.Println("  compact                         Run one compaction cycle")
	fmt.Println("  help                            Show this help")
	fmt.Println("  exit / quit / q                 Exit")
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <key> <value>")
		return
	}
	sqn, err := r.ik.Put([]byte(args[0]), []byte(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: sqn=%d\n", sqn)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: get <sqn> <kind> <key>")
		return
	}
	sqn, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing sqn: %v\n", err)
		return
	}
	kind, err := journalkey.ParseKind(args[1])
	if err != nil {
		fmt.Printf("Error parsing kind: %v\n", err)
		return
	}

	value, err := r.ik.Get(journalkey.Key{SQN: sqn, Kind: kind, LedgerKey: []byte(args[2])})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if isPrintable(value) {
		fmt.Println(string(value))
	} else {
		fmt.Println(hex.EncodeToString(value))
	}
}

func (r *REPL) cmdManifest() {
	entries, err := r.ik.GetManifest()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("(no sealed segments yet)")
		return
	}
	for i, e := range entries {
		fmt.Printf("%3d. %s  low_sqn=%d  owner=%s\n", i+1, e.Filename, e.LowSQN, e.Owner)
	}
}

func (r *REPL) cmdCompact() {
	ccfg := compactor.DefaultConfig(r.cfg.DataDir, filepath.Join(r.cfg.DataDir, "compact"), r.cfg.WastePath)
	ccfg.SampleSize = r.cfg.SampleSize
	ccfg.BatchSize = r.cfg.BatchSize
	ccfg.MaxRunLength = r.cfg.MaxCompactionRun
	ccfg.SingleFileTarget = r.cfg.SingleFileCompactionTarget
	ccfg.MaxRunTarget = r.cfg.MaxRunCompactionTarget
	ccfg.WasteRetention = r.cfg.WasteRetentionPeriod

	c := compactor.New(ccfg, r.ik, policy.RetainAll{}, compactor.WithLogger(r.logger))
	score, err := c.Run(policy.AlwaysLiveSnapshot())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: evaluated score %.2f\n", score)
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 32 || c > 126 {
			return false
		}
	}
	return true
}
