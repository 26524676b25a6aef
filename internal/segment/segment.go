// Package segment implements the per-file segment (CDB) actor: a
// single-goroutine owner of one on-disk hash-indexed value-log file,
// serialized behind a request channel so exactly one operation is in
// flight at a time. One goroutine drains a channel of request
// closures and replies through per-request result channels, covering
// the full starting/writer/rolling/reader/delete_pending state
// machine.
package segment

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the segment's lifecycle states.
type State int

const (
	StateStarting State = iota
	StateWriter
	StateRolling
	StateReader
	StateDeletePending
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWriter:
		return "writer"
	case StateRolling:
		return "rolling"
	case StateReader:
		return "reader"
	case StateDeletePending:
		return "delete_pending"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeleteCoordinator is the narrow, weak-reference-shaped peer handle
// a segment in delete_pending polls. It is the only way a segment
// ever talks back to its owning Inker: the segment never dereferences
// the Inker itself, only sends it well-defined messages.
type DeleteCoordinator interface {
	ConfirmDelete(manSQN uint64) (bool, error)
}

// pendingDeleteReq captures a delete_pending request received while
// Rolling, to be applied once roll completes and the segment reaches
// Reader.
type pendingDeleteReq struct {
	manSQN      uint64
	coordinator DeleteCoordinator
}

// rollOutcome is what the hashtable_calc helper goroutine hands back
// to the actor loop once it finishes computing the hash region.
type rollOutcome struct {
	region   []byte
	topIndex [numSubtables]topIndexEnt
	err      error
}

// Segment is one segment file's actor handle. Every exported method
// submits a closure to the single request channel and blocks for the
// result; the closure runs on the actor's own goroutine, so none of
// the unexported fields below need locking.
type Segment struct {
	reqCh  chan func()
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	logger *zap.Logger

	// --- actor-goroutine-only state below ---

	state       State
	path        string // current on-disk path (.pnd while writer, .cdb once sealed)
	prefix      string // path without the .pnd/.cdb suffix, for renames
	file        *os.File
	maxFileSize int64
	lowSQN      uint64

	cursor  int64 // writer append cursor; also the record-region end while writing
	lastKey []byte
	buckets [numSubtables]bucket // writer/rolling in-memory hash index

	topIndex        [numSubtables]topIndexEnt // reader hash index
	hashRegionStart int64                      // reader record-region end

	rnd *rand.Rand // seeded PRNG for getpositions(n) subtable sampling

	rollResultCh  chan rollOutcome
	pendingDelete *pendingDeleteReq

	manSQN        uint64
	coordinator   DeleteCoordinator
	deleteTimeout time.Duration
}

// Option configures a Segment at construction time.
type Option func(*Segment)

// WithMaxFileSize overrides the default 3 GiB max_file_size.
func WithMaxFileSize(n int64) Option {
	return func(s *Segment) { s.maxFileSize = n }
}

// WithDeleteTimeout overrides the default 10s delete_pending poll
// interval.
func WithDeleteTimeout(d time.Duration) Option {
	return func(s *Segment) { s.deleteTimeout = d }
}

// WithRandSource lets tests and the compactor pin the PRNG used for
// getpositions(n) subtable sampling, so a scoring pass is reproducible.
func WithRandSource(r *rand.Rand) Option {
	return func(s *Segment) { s.rnd = r }
}

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Segment) { s.logger = l }
}

const (
	DefaultMaxFileSize    = 3 << 30 // 3 GiB
	DefaultDeleteTimeout  = 10 * time.Second
	PendingFileSuffix     = ".pnd"
	SealedFileSuffix      = ".cdb"
	pendingRollPollWait   = time.Millisecond
	pendingRollPollBudget = 30
)

func newSegment(path string, lowSQN uint64, opts ...Option) *Segment {
	s := &Segment{
		reqCh:         make(chan func()),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        zap.NewNop(),
		path:          path,
		lowSQN:        lowSQN,
		maxFileSize:   DefaultMaxFileSize,
		deleteTimeout: DefaultDeleteTimeout,
		rollResultCh:  make(chan rollOutcome, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.prefix = strings.TrimSuffix(strings.TrimSuffix(path, SealedFileSuffix), PendingFileSuffix)
	return s
}

// OpenWriter implements open_writer(path): if the file exists, it
// scans from byte 2048 forward, rebuilding the in-memory hash map and
// tracking last_key, truncating at the first unreadable/CRC-failing
// record. If the file does not exist, it is created with the append
// cursor pre-positioned after the reserved 2048-byte top-index region.
// Either way the segment starts in Writer.
func OpenWriter(path string, lowSQN uint64, opts ...Option) (*Segment, error) {
	s := newSegment(path, lowSQN, opts...)
	go s.loop()

	if err := s.do(func() error { return s.openWriter() }); err != nil {
		s.Kill()
		return nil, err
	}
	return s, nil
}

// OpenReader implements open_reader(path): loads the 2048-byte top
// index, then walks it to find the last physical record (the one at
// the highest position) to derive last_key. Starts in Reader.
func OpenReader(path string, lowSQN uint64, opts ...Option) (*Segment, error) {
	s := newSegment(path, lowSQN, opts...)
	go s.loop()

	if err := s.do(func() error { return s.openReader() }); err != nil {
		s.Kill()
		return nil, err
	}
	return s, nil
}

func (s *Segment) openWriter() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	s.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if info.Size() == 0 {
		if _, err := f.WriteAt(make([]byte, topIndexSize), 0); err != nil {
			f.Close()
			return err
		}
		s.cursor = topIndexSize
	} else {
		cursor, buckets, lastKey, err := recoverWriterState(f, info.Size())
		if err != nil {
			f.Close()
			return err
		}
		s.cursor = cursor
		s.buckets = buckets
		s.lastKey = lastKey
	}

	s.state = StateWriter
	return nil
}

func (s *Segment) openReader() error {
	f, err := os.OpenFile(s.path, os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = f

	topIndex, err := decodeTopIndex(f)
	if err != nil {
		f.Close()
		return err
	}
	s.topIndex = topIndex

	var maxPos int64 = -1
	positions, err := allPositions(f, topIndex)
	if err != nil {
		f.Close()
		return err
	}
	for _, p := range positions {
		if p > maxPos {
			maxPos = p
		}
	}
	if maxPos >= 0 {
		rec, err := decodeRecord(f, maxPos, false)
		if err == nil {
			s.lastKey = rec.key
		}
	}

	// hashRegionStart is wherever the highest-offset record ends, or
	// topIndexSize if the file holds no records at all.
	s.hashRegionStart = topIndexSize
	for _, p := range positions {
		rec, err := decodeRecord(f, p, false)
		if err != nil {
			continue
		}
		if end := p + rec.length; end > s.hashRegionStart {
			s.hashRegionStart = end
		}
	}

	s.state = StateReader
	return nil
}

// do submits fn to the actor and blocks until it has run, returning
// ErrClosed if the actor has already stopped.
func (s *Segment) do(fn func() error) error {
	resultCh := make(chan error, 1)
	wrapped := func() { resultCh <- fn() }

	select {
	case s.reqCh <- wrapped:
	case <-s.doneCh:
		return ErrClosed
	}

	select {
	case err := <-resultCh:
		return err
	case <-s.doneCh:
		return ErrClosed
	}
}

func (s *Segment) loop() {
	defer close(s.doneCh)

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case fn, ok := <-s.reqCh:
			if !ok {
				return
			}
			fn()
		case <-tickCh:
			s.onDeleteTick()
		case outcome := <-s.rollResultCh:
			s.onRollComplete(outcome)
		case <-s.stopCh:
			s.closeFileLocked()
			return
		}

		switch {
		case s.state == StateDeletePending && ticker == nil:
			ticker = time.NewTicker(s.deleteTimeout)
			tickCh = ticker.C
		case s.state != StateDeletePending && ticker != nil:
			ticker.Stop()
			ticker = nil
			tickCh = nil
		}

		if s.state == StateStopped {
			return
		}
	}
}

func (s *Segment) closeFileLocked() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// State reports the segment's current lifecycle state.
func (s *Segment) State() State {
	var st State
	s.do(func() error { st = s.state; return nil }) //nolint:errcheck
	return st
}

// Path reports the segment's current on-disk path.
func (s *Segment) Path() string {
	var p string
	s.do(func() error { p = s.path; return nil }) //nolint:errcheck
	return p
}

// LowSQN returns the segment's low_sqn.
func (s *Segment) LowSQN() uint64 { return s.lowSQN }

// Close gracefully stops the segment actor. If the segment is mid-roll
// it polls up to pendingRollPollBudget times (pendingRollPollWait
// apart) for the roll to finish before forcibly killing the actor.
func (s *Segment) Close() error {
	for i := 0; i < pendingRollPollBudget; i++ {
		st := s.State()
		if st != StateRolling {
			break
		}
		time.Sleep(pendingRollPollWait)
	}
	return s.stop()
}

// Kill forcibly terminates the actor regardless of state, escalating
// past a stuck roll.
func (s *Segment) Kill() {
	_ = s.stop()
}

func (s *Segment) stop() error {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return nil
}

func segmentFileName(dir, filePrefix string, sqn uint64, sealed bool) string {
	ext := PendingFileSuffix
	if sealed {
		ext = SealedFileSuffix
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", filePrefix, sqn, ext))
}
