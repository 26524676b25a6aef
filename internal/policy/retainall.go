// Package policy supplies the default compactor.Policy the CLI
// entrypoints wire in when no ledger-specific tag table is available.
// Strategy semantics are deliberately external to the journal layer,
// so this is scaffolding, not a ledger implementation.
package policy

import "github.com/leveled-go/journal/internal/compactor"

// RetainAll always reports StrategyRetain: every live record is kept
// byte-for-byte across a rewrite, and ExtractKeyDeltas (reached only
// for records the snapshot reports as not live) returns the value
// unchanged. This is the safe default for a CLI that has no object
// model of its own to drive recalc/recovr decisions.
type RetainAll struct{}

func (RetainAll) StrategyFor(ledgerKey []byte) compactor.Strategy {
	return compactor.StrategyRetain
}

func (RetainAll) ExtractKeyDeltas(value []byte) ([]byte, error) {
	return value, nil
}

// AlwaysLiveSnapshot returns a compactor.Snapshot whose Filter never
// condemns a record: every (ledger_key, sqn) pair the compactor
// scores is treated as still-live. A standalone CLI has no ledger to
// ask, so this is the only snapshot it can honestly construct.
func AlwaysLiveSnapshot() compactor.Snapshot {
	return compactor.Snapshot{
		Filter: func(ledgerKey []byte, sqn uint64) bool { return true },
		MaxSQN: ^uint64(0),
	}
}
