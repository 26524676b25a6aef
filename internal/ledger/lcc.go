package ledger

import (
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// State is one of the coordinator's two states.
type State int

const (
	StateIdle State = iota
	StateChangePending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChangePending:
		return "change_pending"
	default:
		return "unknown"
	}
}

// SSTEntry is one manifest-tracked SST file: its level and key range.
type SSTEntry struct {
	Path           string
	Level          int
	MinKey, MaxKey []byte
}

// WorkItem is what the ledger hands back in reply to a poll for work:
// the candidate level, the manifest listing at that level, whether
// the target level is the last (basement) level, and the sequence
// number/manifest path the resulting change must be recorded under.
type WorkItem struct {
	SrcLevel         int
	Manifest         []SSTEntry // the file listing at SrcLevel the coordinator picks a random candidate from
	TargetIsBasement bool       // true when SrcLevel+1 is the last level
	ManifestFile     string     // path the updated manifest must be written to
	NextSQN          uint64     // the ledger-assigned sequence number for this manifest change
}

// LedgerSource is the narrow surface of the ordered-index side the
// coordinator talks to: poll for work, answer get_range, and accept
// the deferred delete handshake. This plays the same role for the LCC
// that Inker plays for the compactor in internal/compactor — a
// deliberately thin RPC boundary, not a full ledger implementation.
type LedgerSource interface {
	PollWork() (WorkItem, bool, error)
	OverlapFiles(level int, minKey, maxKey []byte) ([]SSTEntry, error)
	WriteManifest(path string, entries []SSTEntry, manSQN uint64) error
	SetForDelete(path string) error
}

// Config holds the coordinator's tunables.
type Config struct {
	OutputDir         string
	OutputPrefix      string
	MaxMergeFileBytes int
}

// Coordinator is the ledger-compactor coordinator: a long-lived actor
// with states {idle, change_pending}. Unlike internal/segment's
// actor, which fans in many concurrent callers through a closure
// mailbox, the LCC has exactly one driver (the caller's idle-timeout
// poll, one Tick per timeout) plus one asynchronous callback (the
// ledger's manifest ack) —
// so a mutex-guarded state machine is enough here, without the added
// complexity of a channel mailbox that nothing here actually needs.
type Coordinator struct {
	mu     sync.Mutex
	state  State
	source LedgerSource
	cfg    Config
	rnd    *rand.Rand
	logger *zap.Logger

	pendingDisplaced    []string
	pendingManifestFile string
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithRand pins the PRNG used for random-file-at-src_level selection,
// so a merge pick is reproducible in tests.
func WithRand(rnd *rand.Rand) Option {
	return func(c *Coordinator) { c.rnd = rnd }
}

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator builds a Coordinator against the given ledger source.
func NewCoordinator(source LedgerSource, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		source: source,
		cfg:    cfg,
		rnd:    rand.New(rand.NewSource(1)),
		logger: zap.NewNop(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tick performs one idle-timeout poll, asking the ledger source for
// work. If the coordinator is already in change_pending it does
// nothing: it is waiting on the ledger's callback, not polling for
// new work. It returns whether a merge was executed this tick.
func (c *Coordinator) Tick() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return false, nil
	}

	work, ok, err := c.source.PollWork()
	if err != nil {
		return false, fmt.Errorf("ledger: poll work: %w", err)
	}
	if !ok {
		return false, nil
	}

	displaced, err := c.executeMerge(work)
	if err != nil {
		return false, fmt.Errorf("ledger: execute merge: %w", err)
	}

	c.pendingDisplaced = displaced
	c.pendingManifestFile = work.ManifestFile
	c.state = StateChangePending
	return true, nil
}

// executeMerge runs one merge cycle and returns the set of file paths
// displaced (to be marked set_for_delete once the ledger acks).
func (c *Coordinator) executeMerge(work WorkItem) ([]string, error) {
	if len(work.Manifest) == 0 {
		return nil, fmt.Errorf("ledger: work item for level %d carries no candidates", work.SrcLevel)
	}
	src := work.Manifest[c.rnd.Intn(len(work.Manifest))]

	overlap, err := c.source.OverlapFiles(work.SrcLevel+1, src.MinKey, src.MaxKey)
	if err != nil {
		return nil, fmt.Errorf("get_range(%d): %w", work.SrcLevel+1, err)
	}

	if len(overlap) == 0 {
		retagged := []SSTEntry{{Path: src.Path, Level: work.SrcLevel + 1, MinKey: src.MinKey, MaxKey: src.MaxKey}}
		if err := c.source.WriteManifest(work.ManifestFile, retagged, work.NextSQN); err != nil {
			return nil, fmt.Errorf("write retag manifest: %w", err)
		}
		c.logger.Info("re-tagged source file, no overlap",
			zap.String("path", src.Path), zap.Int("from_level", work.SrcLevel), zap.Int("to_level", work.SrcLevel+1))
		return nil, nil
	}

	srcReader, err := OpenReader(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open src %s: %w", src.Path, err)
	}
	overlapReaders := make([]*Reader, 0, len(overlap))
	for _, e := range overlap {
		r, oerr := OpenReader(e.Path)
		if oerr != nil {
			return nil, fmt.Errorf("open overlap %s: %w", e.Path, oerr)
		}
		overlapReaders = append(overlapReaders, r)
	}

	alloc, err := NewAllocator(c.cfg.OutputDir, c.cfg.OutputPrefix)
	if err != nil {
		return nil, fmt.Errorf("new allocator: %w", err)
	}
	maxBytes := c.cfg.MaxMergeFileBytes
	if maxBytes <= 0 {
		maxBytes = 32 * 1024 * 1024
	}
	outputs, err := DoMerge(srcReader, overlapReaders, alloc, work.SrcLevel+1, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("do_merge: %w", err)
	}

	newEntries := make([]SSTEntry, 0, len(outputs))
	for _, path := range outputs {
		r, rerr := OpenReader(path)
		if rerr != nil {
			return nil, fmt.Errorf("reopen merge output %s: %w", path, rerr)
		}
		newEntries = append(newEntries, SSTEntry{Path: path, Level: work.SrcLevel + 1, MinKey: r.MinKey(), MaxKey: r.MaxKey()})
	}

	if err := c.source.WriteManifest(work.ManifestFile, newEntries, work.NextSQN); err != nil {
		return nil, fmt.Errorf("write merge manifest: %w", err)
	}

	displaced := make([]string, 0, 1+len(overlap))
	displaced = append(displaced, src.Path)
	for _, e := range overlap {
		displaced = append(displaced, e.Path)
	}
	return displaced, nil
}

// AckManifest is the ledger's callback after it has durably recorded
// the manifest change. It calls set_for_delete on every displaced file
// before it returns and goes back to idle; set_for_delete is best
// effort per file, a failure is logged rather than failing the ack.
func (c *Coordinator) AckManifest() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateChangePending {
		return nil
	}
	for _, path := range c.pendingDisplaced {
		if err := c.source.SetForDelete(path); err != nil {
			c.logger.Warn("set_for_delete failed", zap.String("path", path), zap.Error(err))
		}
	}
	c.pendingDisplaced = nil
	c.pendingManifestFile = ""
	c.state = StateIdle
	return nil
}

// Close is the "closing-time variant": if a manifest change is still
// pending acknowledgement, it performs the delete handshake
// synchronously rather than waiting for the ledger's callback, then
// stops.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateChangePending {
		for _, path := range c.pendingDisplaced {
			if err := c.source.SetForDelete(path); err != nil {
				c.logger.Warn("set_for_delete failed at close", zap.String("path", path), zap.Error(err))
			}
		}
		c.pendingDisplaced = nil
	}
	c.state = StateIdle
	return nil
}
