// Package compactor implements journal compaction: it scores manifest
// entries against a ledger-supplied snapshot predicate, selects a
// contiguous run to rewrite, filters each record through a pluggable
// retain/recalc/recovr policy, and submits the resulting manifest
// patch plus a delete handshake for the retired files. A Compactor is
// a plain synchronous object rather than an actor: each Run executes
// on the caller's goroutine, and output paths are built directly from
// Config.OutputPrefix and the run's first SQN.
package compactor

import (
	"fmt"

	"github.com/leveled-go/journal/internal/manifest"
)

// Strategy is the per-object tag that governs whether the compactor
// may drop or must transform an obsolete stnd record. Tag semantics
// themselves belong to the ledger; the compactor only consults
// Policy.StrategyFor.
type Strategy int

const (
	StrategyRetain Strategy = iota
	StrategyRecalc
	StrategyRecovr
)

func (s Strategy) String() string {
	switch s {
	case StrategyRetain:
		return "retain"
	case StrategyRecalc:
		return "recalc"
	case StrategyRecovr:
		return "recovr"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// FilterFunc is FilterFun(server, ledger_key, sqn) bound to its
// server/snapshot argument by the caller: it reports whether the
// ledger confirms (ledgerKey, sqn) is still the live value.
type FilterFunc func(ledgerKey []byte, sqn uint64) bool

// Policy is the pluggable strategy table the compactor consults
// without ever defining tag semantics itself — those live with the
// ledger.
type Policy interface {
	// StrategyFor returns the retain/recalc/recovr tag for a ledger key.
	StrategyFor(ledgerKey []byte) Strategy

	// ExtractKeyDeltas implements the transform half of
	// compact_inkerkvc: given a stnd record's value bytes, it
	// extracts the key-deltas and discards the object, producing
	// the payload for the replacement keyd record.
	ExtractKeyDeltas(value []byte) ([]byte, error)
}

// Inker is the narrow surface the compactor consumes: get_manifest,
// update_manifest, compaction_complete, confirm_delete. get_manifest
// here already excludes the active segment head — the same view
// manifest.Manifest.EntriesExcludingActive produces.
type Inker interface {
	GetManifest() ([]manifest.Entry, error)
	UpdateManifest(adds []manifest.Entry, removeFilenames []string) (manSQN uint64, err error)
	CompactionComplete() error
	ConfirmDelete(manSQN uint64) (bool, error)
}

// Snapshot bundles the ledger-derived predicate a single compaction
// invocation scores and filters against: a liveness Filter plus the
// MaxSQN above which every record is assumed live (the ledger hasn't
// caught up to it yet).
type Snapshot struct {
	Filter FilterFunc
	MaxSQN uint64
}

func (s Snapshot) live(ledgerKey []byte, sqn uint64) bool {
	return s.Filter(ledgerKey, sqn) || sqn > s.MaxSQN
}

// ScoredFile is one manifest entry's per-file score.
type ScoredFile struct {
	Entry manifest.Entry
	Score float64
}
