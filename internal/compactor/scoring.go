package compactor

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/segment"
)

// ScoreFile samples sampleSize record positions, fetches (key,
// value_len) for each, and partitions them into "active" (snapshot
// says live, or newer than the snapshot) versus "replaced". An empty
// sample scores 100.0 — nothing to reclaim.
func ScoreFile(seg *segment.Segment, sampleSize int, snap Snapshot) (float64, error) {
	positions, err := seg.GetPositionsSample(sampleSize)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 100.0, nil
	}

	results, err := seg.DirectFetch(positions, segment.FetchKeyAndLen)
	if err != nil {
		return 0, err
	}

	var active, replaced int
	for _, r := range results {
		sqn, ledgerKey, derr := journalkey.SQNAndLedgerKey(r.Key)
		if derr != nil {
			// Un-decodable key: treat like any other corrupt slot the
			// scanner would have skipped — it contributes to neither
			// bucket.
			continue
		}
		if snap.live(ledgerKey, sqn) {
			active++
		} else {
			replaced++
		}
	}
	if active+replaced == 0 {
		return 100.0, nil
	}
	return 100.0 * float64(active) / float64(active+replaced), nil
}

// RunScore computes the length-adjusted target compared against the
// mean per-file score of the run. An empty run scores 0.0.
func RunScore(scores []float64, maxRunLength int, singleFileTarget, maxRunTarget float64) float64 {
	l := len(scores)
	if l == 0 {
		return 0.0
	}
	target := singleFileTarget
	if maxRunLength > 1 {
		target = singleFileTarget + (maxRunTarget-singleFileTarget)*float64(l-1)/float64(maxRunLength-1)
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return target - sum/float64(l)
}

// SelectRun partitions the candidates into consecutive, non-overlapping
// blocks of up to maxRunLength scores starting at index 0 (the final
// block may be shorter), computes each block's run score, and returns
// the highest-scoring block. See DESIGN.md for the rationale behind
// this fixed-partition reading versus a sliding window.
func SelectRun(scores []float64, maxRunLength int, singleFileTarget, maxRunTarget float64) (start int, run []float64, runScore float64) {
	if len(scores) == 0 {
		return 0, nil, 0
	}
	bestScore := math.Inf(-1)
	var bestStart int
	var bestRun []float64

	for s := 0; s < len(scores); s += maxRunLength {
		e := s + maxRunLength
		if e > len(scores) {
			e = len(scores)
		}
		chunk := scores[s:e]
		sc := RunScore(chunk, maxRunLength, singleFileTarget, maxRunTarget)
		if sc > bestScore {
			bestScore = sc
			bestStart = s
			bestRun = append([]float64{}, chunk...)
		}
	}
	return bestStart, bestRun, bestScore
}

// WasteCleanup deletes every file in dir whose modification age
// exceeds retention.
func WasteCleanup(dir string, retention time.Duration, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, ierr := ent.Info()
		if ierr != nil {
			continue
		}
		if now.Sub(info.ModTime()) > retention {
			_ = os.Remove(filepath.Join(dir, ent.Name()))
		}
	}
	return nil
}
