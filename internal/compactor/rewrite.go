package compactor

import (
	"fmt"
	"sort"

	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/segment"
)

// filterOutcome is what filterRecord returns for one record: either
// skip (drop entirely) or a key/value pair to keep, possibly
// transformed.
type filterOutcome struct {
	skip  bool
	key   journalkey.Key
	value []byte
}

// filterRecord applies the per-record filter/strategy, delegating the
// stnd/retain transform to Policy.ExtractKeyDeltas.
func filterRecord(fr segment.FetchResult, policy Policy, snap Snapshot) (filterOutcome, error) {
	key, err := journalkey.Decode(fr.Key)
	if err != nil {
		// Un-decodable key: same disposition as any other corrupt
		// slot — drop it silently.
		return filterOutcome{skip: true}, nil
	}

	if key.Kind == journalkey.KindTomb {
		return filterOutcome{key: key, value: fr.Value}, nil
	}

	if key.Kind != journalkey.KindStnd {
		return filterOutcome{key: key, value: fr.Value}, nil
	}

	strategy := policy.StrategyFor(key.LedgerKey)
	live := snap.live(key.LedgerKey, key.SQN)
	notLive := !live && fr.CRCOK && key.SQN <= snap.MaxSQN

	if !notLive {
		return filterOutcome{key: key, value: fr.Value}, nil
	}

	switch strategy {
	case StrategyRetain:
		deltas, err := policy.ExtractKeyDeltas(fr.Value)
		if err != nil {
			return filterOutcome{}, fmt.Errorf("compactor: extract key-deltas for %x@%d: %w", key.LedgerKey, key.SQN, err)
		}
		return filterOutcome{key: journalkey.Key{SQN: key.SQN, Kind: journalkey.KindKeyd, LedgerKey: key.LedgerKey}, value: deltas}, nil
	case StrategyRecovr, StrategyRecalc:
		return filterOutcome{skip: true}, nil
	default:
		return filterOutcome{key: key, value: fr.Value}, nil
	}
}

// survivor is one record destined for a rewritten segment.
type survivor struct {
	key   journalkey.Key
	value []byte
}

// filterSegment runs every record of seg through filterRecord in
// batches of batchSize, returning the survivors sorted by SQN
// ascending — the rewrite phase derives each output segment's low_sqn
// from the first survivor placed in it, so the batch-by-batch order
// must be SQN-monotonic even though getpositions(all) itself visits
// records in hash-bucket order.
func filterSegment(seg *segment.Segment, policy Policy, snap Snapshot, batchSize int) ([]survivor, error) {
	positions, err := seg.GetPositionsAll()
	if err != nil {
		return nil, err
	}

	var survivors []survivor
	for i := 0; i < len(positions); i += batchSize {
		end := i + batchSize
		if end > len(positions) {
			end = len(positions)
		}
		results, ferr := seg.DirectFetch(positions[i:end], segment.FetchFull)
		if ferr != nil {
			return nil, ferr
		}
		for _, fr := range results {
			outcome, oerr := filterRecord(fr, policy, snap)
			if oerr != nil {
				return nil, oerr
			}
			if outcome.skip {
				continue
			}
			survivors = append(survivors, survivor{key: outcome.key, value: outcome.value})
		}
	}

	sort.SliceStable(survivors, func(a, b int) bool { return survivors[a].key.SQN < survivors[b].key.SQN })
	return survivors, nil
}
