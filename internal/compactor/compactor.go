package compactor

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/leveled-go/journal/internal/manifest"
	"github.com/leveled-go/journal/internal/segment"
)

// SegmentIO opens existing segments for reading and allocates new
// writer segments for rewrite output. The default implementation
// calls segment.OpenReader/OpenWriter directly; WithSegmentIO installs
// a different one.
type SegmentIO interface {
	OpenReader(path string, lowSQN uint64) (*segment.Segment, error)
	OpenWriter(path string, lowSQN uint64) (*segment.Segment, error)
}

type defaultSegmentIO struct{}

func (defaultSegmentIO) OpenReader(path string, lowSQN uint64) (*segment.Segment, error) {
	return segment.OpenReader(path, lowSQN)
}

func (defaultSegmentIO) OpenWriter(path string, lowSQN uint64) (*segment.Segment, error) {
	return segment.OpenWriter(path, lowSQN)
}

// Config holds the compactor's tunables.
type Config struct {
	JournalDir       string // where existing segments live
	OutputPrefix     string // distinct path prefix (directory included) for compaction output; files land at <OutputPrefix>_<low_sqn>.pnd
	WasteDir         string
	SampleSize       int
	BatchSize        int
	MaxRunLength     int
	SingleFileTarget float64
	MaxRunTarget     float64
	WasteRetention   time.Duration
	Owner            string // manifest Owner tag stamped on compaction output
}

// DefaultConfig returns the default parameter table.
func DefaultConfig(journalDir, outputPrefix, wasteDir string) Config {
	return Config{
		JournalDir:       journalDir,
		OutputPrefix:     outputPrefix,
		WasteDir:         wasteDir,
		SampleSize:       200,
		BatchSize:        32,
		MaxRunLength:     4,
		SingleFileTarget: 60.0,
		MaxRunTarget:     80.0,
		WasteRetention:   86400 * time.Second,
		Owner:            "compactor",
	}
}

// Compactor is one compaction-cycle runner. A single Compactor value
// is reused across cycles; nothing here is goroutine-safe — callers
// (the Inker) serialize invocations so at most one runs per Inker at
// a time.
type Compactor struct {
	cfg    Config
	inker  Inker
	policy Policy
	io     SegmentIO
	logger *zap.Logger
}

// Option configures a Compactor at construction time.
type Option func(*Compactor)

// WithSegmentIO overrides the default segment opener, e.g. to pin a
// seeded PRNG for reproducible getpositions(n) sampling in tests.
func WithSegmentIO(io SegmentIO) Option {
	return func(c *Compactor) { c.io = io }
}

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Compactor) { c.logger = l }
}

// New builds a Compactor against the given Inker and retain/recalc/recovr policy.
func New(cfg Config, inker Inker, policy Policy, opts ...Option) *Compactor {
	c := &Compactor{cfg: cfg, inker: inker, policy: policy, io: defaultSegmentIO{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// deleteCoordinatorAdapter adapts Inker.ConfirmDelete to
// segment.DeleteCoordinator, so a retired segment's delete_pending
// poll never sees more of the Inker than this single call.
type deleteCoordinatorAdapter struct{ inker Inker }

func (d deleteCoordinatorAdapter) ConfirmDelete(manSQN uint64) (bool, error) {
	return d.inker.ConfirmDelete(manSQN)
}

// Run executes one full compaction cycle against the given ledger
// snapshot predicate: waste cleanup, scoring, run selection, rewrite,
// manifest update, and delete-pending handoff. It returns the run
// score the cycle evaluated (even when no rewrite happened, so
// callers can observe why).
func (c *Compactor) Run(snap Snapshot) (evaluatedScore float64, err error) {
	if err := WasteCleanup(c.cfg.WasteDir, c.cfg.WasteRetention, time.Now()); err != nil {
		c.logger.Warn("waste cleanup failed", zap.Error(err))
	}

	entries, err := c.inker.GetManifest()
	if err != nil {
		return 0, fmt.Errorf("compactor: get_manifest: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	scores := make([]float64, len(entries))
	readers := make(map[string]*segment.Segment, len(entries))
	defer func() {
		for _, seg := range readers {
			seg.Close()
		}
	}()

	for i, e := range entries {
		path := filepath.Join(c.cfg.JournalDir, e.Filename)
		seg, oerr := c.io.OpenReader(path, e.LowSQN)
		if oerr != nil {
			return 0, fmt.Errorf("compactor: open %s: %w", e.Filename, oerr)
		}
		readers[e.Filename] = seg

		score, serr := ScoreFile(seg, c.cfg.SampleSize, snap)
		if serr != nil {
			return 0, fmt.Errorf("compactor: score %s: %w", e.Filename, serr)
		}
		scores[i] = score
	}

	startIdx, _, runScore := SelectRun(scores, c.cfg.MaxRunLength, c.cfg.SingleFileTarget, c.cfg.MaxRunTarget)
	if runScore <= 0 {
		// No run clears the rewrite threshold: do nothing, notify the
		// Inker, exit.
		if cerr := c.inker.CompactionComplete(); cerr != nil {
			c.logger.Warn("compaction_complete notify failed", zap.Error(cerr))
		}
		return runScore, nil
	}

	runLen := c.cfg.MaxRunLength
	if startIdx+runLen > len(entries) {
		runLen = len(entries) - startIdx
	}
	runEntries := entries[startIdx : startIdx+runLen]

	newEntries, err := c.rewriteRun(runEntries, readers, snap)
	if err != nil {
		return runScore, fmt.Errorf("compactor: rewrite: %w", err)
	}

	oldFilenames := make([]string, len(runEntries))
	for i, e := range runEntries {
		oldFilenames[i] = e.Filename
	}

	manSQN, err := c.inker.UpdateManifest(newEntries, oldFilenames)
	if err != nil {
		// If the Inker died, the patch is discarded; nothing has been
		// retired yet so this is safe to surface.
		return runScore, fmt.Errorf("compactor: update_manifest: %w", err)
	}
	if err := c.inker.CompactionComplete(); err != nil {
		c.logger.Warn("compaction_complete notify failed", zap.Error(err))
	}

	coord := deleteCoordinatorAdapter{inker: c.inker}
	for _, e := range runEntries {
		seg := readers[e.Filename]
		if seg == nil {
			continue
		}
		if derr := seg.DeletePending(manSQN, coord); derr != nil {
			c.logger.Warn("delete_pending failed", zap.String("file", e.Filename), zap.Error(derr))
		}
		delete(readers, e.Filename)
	}

	return runScore, nil
}

// rewriteRun filters each file in the chosen run, merges the
// survivor streams in low_sqn order, and appends them into one or
// more fresh write-target segments, rolling to a new one whenever the
// current target fills.
func (c *Compactor) rewriteRun(run []manifest.Entry, readers map[string]*segment.Segment, snap Snapshot) ([]manifest.Entry, error) {
	var all []survivor
	for _, e := range run {
		seg := readers[e.Filename]
		survivors, err := filterSegment(seg, c.policy, snap, c.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", e.Filename, err)
		}
		all = append(all, survivors...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	var newEntries []manifest.Entry
	target, err := c.io.OpenWriter(c.outputPath(all[0].key.SQN), all[0].key.SQN)
	if err != nil {
		return nil, err
	}
	sealCurrent := func() error {
		if err := target.Complete(); err != nil {
			return err
		}
		newEntries = append(newEntries, manifest.Entry{
			LowSQN:   target.LowSQN(),
			Filename: filepath.Base(target.Path()),
			Owner:    c.cfg.Owner,
		})
		return nil
	}

	for i, sv := range all {
		if _, perr := target.Put(sv.key, sv.value); perr != nil {
			if errors.Is(perr, segment.ErrNeedsRoll) {
				if err := sealCurrent(); err != nil {
					return nil, err
				}
				nextLow := sv.key.SQN
				target, err = c.io.OpenWriter(c.outputPath(nextLow), nextLow)
				if err != nil {
					return nil, err
				}
				if _, perr2 := target.Put(sv.key, sv.value); perr2 != nil {
					return nil, fmt.Errorf("put survivor %d into fresh target: %w", i, perr2)
				}
				continue
			}
			return nil, fmt.Errorf("put survivor %d: %w", i, perr)
		}
	}

	if err := sealCurrent(); err != nil {
		return nil, err
	}
	return newEntries, nil
}

func (c *Compactor) outputPath(lowSQN uint64) string {
	return fmt.Sprintf("%s_%d%s", c.cfg.OutputPrefix, lowSQN, segment.PendingFileSuffix)
}
