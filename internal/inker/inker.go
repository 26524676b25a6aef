// Package inker implements just enough of the journal's Inker to
// drive the segment actors and the compactor end to end: it owns the
// manifest and the active segment, assigns SQNs, rolls the active
// segment when it fills, and answers the four-method surface the
// compactor talks to (get_manifest, update_manifest,
// compaction_complete, confirm_delete). It deliberately does not
// implement ledger lookups, a value-tag policy table, or a query
// API — just that surface plus a literal Put/Get dispatch to the
// active segment.
package inker

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/manifest"
	"github.com/leveled-go/journal/internal/segment"
)

// Inker owns the manifest and the currently-writable active segment.
type Inker struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	man     *manifest.Manifest
	active  *segment.Segment
	sealed  []*segment.Segment // rolled-off segments whose actor goroutine hasn't been released yet
	segOpts []segment.Option
	nextSQN uint64
	logger  *zap.Logger
}

// Option configures an Inker at construction time.
type Option func(*Inker)

// WithSegmentOptions passes through options (max file size, delete
// timeout, PRNG, logger) to every segment the Inker opens.
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(ik *Inker) { ik.segOpts = append(ik.segOpts, opts...) }
}

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(ik *Inker) { ik.logger = l }
}

// Open loads (or initializes) the manifest at manifestPath and opens
// its active entry as a writer, creating a fresh first segment if the
// manifest is empty.
func Open(dir, manifestPath, prefix string, opts ...Option) (*Inker, error) {
	man, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("inker: load manifest: %w", err)
	}

	ik := &Inker{dir: dir, prefix: prefix, man: man, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ik)
	}

	if active, ok := man.ActiveEntry(); ok {
		seg, oerr := segment.OpenWriter(filepath.Join(dir, active.Filename), active.LowSQN, ik.segOpts...)
		if oerr != nil {
			return nil, fmt.Errorf("inker: open active segment %s: %w", active.Filename, oerr)
		}
		ik.active = seg
		ik.nextSQN = active.LowSQN
		_, last, serr := seg.Scan(0, func(key, _ []byte, _ int64, _ any) (bool, any) { return true, key }, nil)
		if serr != nil {
			seg.Close()
			return nil, fmt.Errorf("inker: scan active segment %s: %w", active.Filename, serr)
		}
		if kb, ok := last.([]byte); ok {
			if k, derr := journalkey.Decode(kb); derr == nil {
				ik.nextSQN = k.SQN + 1
			}
		}
		return ik, nil
	}

	if err := ik.createActiveLocked(1); err != nil {
		return nil, fmt.Errorf("inker: create first segment: %w", err)
	}
	return ik, nil
}

func (ik *Inker) createActiveLocked(lowSQN uint64) error {
	path := filepath.Join(ik.dir, fmt.Sprintf("%s_%d%s", ik.prefix, lowSQN, segment.PendingFileSuffix))
	seg, err := segment.OpenWriter(path, lowSQN, ik.segOpts...)
	if err != nil {
		return err
	}
	if _, err := ik.man.Apply([]manifest.Entry{{LowSQN: lowSQN, Filename: filepath.Base(path), Owner: "inker"}}, nil); err != nil {
		return err
	}
	ik.active = seg
	ik.nextSQN = lowSQN
	return nil
}

// Put assigns the next SQN, appends to the active segment, and rolls
// to a fresh segment transparently if the active one is full.
func (ik *Inker) Put(ledgerKey, value []byte) (uint64, error) {
	ik.mu.Lock()
	defer ik.mu.Unlock()

	sqn := ik.nextSQN
	key := journalkey.Key{SQN: sqn, Kind: journalkey.KindStnd, LedgerKey: ledgerKey}

	if _, err := ik.active.Put(key, value); err != nil {
		if !errors.Is(err, segment.ErrNeedsRoll) {
			return 0, err
		}
		if err := ik.rollActiveLocked(); err != nil {
			return 0, err
		}
		if _, err := ik.active.Put(key, value); err != nil {
			return 0, fmt.Errorf("inker: put after roll: %w", err)
		}
	}

	ik.nextSQN++
	return sqn, nil
}

// rollActiveLocked seals the active segment via the synchronous
// Complete path (seal path A) — the Inker doesn't need Roll's
// parallel helper since it isn't itself blocking any other caller
// while sealing; segment.Roll's async benefit is exercised directly
// by internal/segment's own tests instead. The sealed segment's actor
// goroutine is left running (compaction or a reader may still be
// using it) and is released later, alongside every other rolled-off
// segment, when Close fans out.
func (ik *Inker) rollActiveLocked() error {
	old := ik.active
	pendingName := filepath.Base(old.Path())
	if err := old.Complete(); err != nil {
		return fmt.Errorf("seal active segment: %w", err)
	}
	ik.sealed = append(ik.sealed, old)
	sealedEntry := manifest.Entry{LowSQN: old.LowSQN(), Filename: filepath.Base(old.Path()), Owner: "inker"}
	if _, err := ik.man.Apply([]manifest.Entry{sealedEntry}, []string{pendingName}); err != nil {
		return err
	}

	nextLow := ik.nextSQN
	if err := ik.createActiveLocked(nextLow); err != nil {
		return err
	}
	return nil
}

// Get dispatches a lookup straight to the active segment: this
// package carries no ledger, so it cannot resolve "latest value for
// a ledger key" across sealed segments — callers must supply the
// exact (sqn, kind, ledger_key) they expect to still be live in the
// active segment.
func (ik *Inker) Get(key journalkey.Key) ([]byte, error) {
	ik.mu.Lock()
	active := ik.active
	ik.mu.Unlock()
	return active.Get(key)
}

// GetManifest implements the compactor's get_manifest: the active
// segment's head is never a compaction candidate, so it is excluded.
func (ik *Inker) GetManifest() ([]manifest.Entry, error) {
	ik.mu.Lock()
	defer ik.mu.Unlock()
	return ik.man.EntriesExcludingActive(), nil
}

// UpdateManifest implements update_manifest.
func (ik *Inker) UpdateManifest(adds []manifest.Entry, removeFilenames []string) (uint64, error) {
	ik.mu.Lock()
	defer ik.mu.Unlock()
	return ik.man.Apply(adds, removeFilenames)
}

// CompactionComplete implements compaction_complete: a notification
// hook with nothing to do at this Inker's scope beyond logging.
func (ik *Inker) CompactionComplete() error {
	ik.logger.Debug("compaction cycle complete")
	return nil
}

// ConfirmDelete implements confirm_delete: a retired segment is safe
// to delete once the manifest patch that replaced it has actually
// been persisted, i.e. the current manSQN has reached manSQN.
func (ik *Inker) ConfirmDelete(manSQN uint64) (bool, error) {
	ik.mu.Lock()
	defer ik.mu.Unlock()
	return ik.man.ManSQN() >= manSQN, nil
}

// Close releases every segment actor the Inker still owns — the
// active one plus whatever rolled-off segments are still pending
// release — in parallel, since each Close drains its own actor
// goroutine independently and there's no reason to serialize that on
// shutdown. Errors from every segment are aggregated with multierr
// rather than the caller only ever seeing the first one.
func (ik *Inker) Close() error {
	ik.mu.Lock()
	segs := append(ik.sealed, ik.active)
	ik.sealed = nil
	ik.mu.Unlock()

	errs := make([]error, len(segs))
	var wg sync.WaitGroup
	wg.Add(len(segs))
	for i, seg := range segs {
		go func(i int, seg *segment.Segment) {
			defer wg.Done()
			errs[i] = seg.Close()
		}(i, seg)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}
