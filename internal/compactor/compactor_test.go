package compactor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/manifest"
	"github.com/leveled-go/journal/internal/segment"
)

// testPolicy applies a single fixed strategy to every ledger key,
// and extracts a deterministic, recognizable key-delta payload.
type testPolicy struct{ strategy Strategy }

func (p testPolicy) StrategyFor(ledgerKey []byte) Strategy { return p.strategy }

func (p testPolicy) ExtractKeyDeltas(value []byte) ([]byte, error) {
	return append([]byte("deltas:"), value...), nil
}

// buildScoringSegment writes the S1 corpus: SQNs 1..8, where Key1 is
// written at SQN 1,4,5,6,7,8 and Key2/Key3 each written once.
func buildScoringSegment(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "journal_1.pnd")
	s, err := segment.OpenWriter(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	ledgerKeyFor := func(sqn int) string {
		switch sqn {
		case 2:
			return "Key2"
		case 3:
			return "Key3"
		default:
			return "Key1"
		}
	}
	for sqn := 1; sqn <= 8; sqn++ {
		k := journalkey.Key{SQN: uint64(sqn), Kind: journalkey.KindStnd, LedgerKey: []byte(ledgerKeyFor(sqn))}
		v := []byte(fmt.Sprintf("Value%d", sqn))
		if _, err := s.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	path = s.Path() // Complete renamed .pnd -> .cdb
	s.Close()
	return path
}

func s1Snapshot() Snapshot {
	live := map[string]uint64{"Key1": 8, "Key2": 2, "Key3": 3}
	return Snapshot{
		Filter: func(ledgerKey []byte, sqn uint64) bool {
			want, ok := live[string(ledgerKey)]
			return ok && want == sqn
		},
		MaxSQN: 9,
	}
}

// S1 — score of a half-replaced file.
func TestScoreHalfReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := buildScoringSegment(t, dir)

	r, err := segment.OpenReader(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	score, err := ScoreFile(r, 200, s1Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if score != 37.5 {
		t.Fatalf("expected score 37.5, got %v", score)
	}
}

func newTestCompactor(t *testing.T, dir string, strategy Strategy) *Compactor {
	t.Helper()
	cfg := DefaultConfig(dir, filepath.Join(dir, "compact"), filepath.Join(dir, "waste"))
	return New(cfg, nil, testPolicy{strategy: strategy})
}

// S2 — recovr compaction.
func TestRecovrCompaction(t *testing.T) {
	dir := t.TempDir()
	path := buildScoringSegment(t, dir)

	r, err := segment.OpenReader(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	c := newTestCompactor(t, dir, StrategyRecovr)
	readers := map[string]*segment.Segment{"journal_1.pnd": r}
	run := []manifest.Entry{{LowSQN: 1, Filename: "journal_1.pnd"}}

	newEntries, err := c.rewriteRun(run, readers, s1Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(newEntries) != 1 {
		t.Fatalf("expected 1 output segment, got %+v", newEntries)
	}
	if newEntries[0].LowSQN != 2 {
		t.Fatalf("expected low_sqn 2, got %d", newEntries[0].LowSQN)
	}

	outPath := filepath.Join(dir, newEntries[0].Filename)
	out, err := segment.OpenReader(outPath, newEntries[0].LowSQN)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	positions, err := out.GetPositionsAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 3 {
		t.Fatalf("expected 3 surviving records, got %d", len(positions))
	}

	presence, err := out.KeyCheck(journalkey.Key{SQN: 8, Kind: journalkey.KindStnd, LedgerKey: []byte("Key1")})
	if err != nil || presence != segment.PresenceProbably {
		t.Fatalf("expected {8,stnd,Key1} probably present, got %v err=%v", presence, err)
	}

	if _, err := out.Get(journalkey.Key{SQN: 7, Kind: journalkey.KindStnd, LedgerKey: []byte("Key1")}); err != segment.ErrMissing {
		t.Fatalf("expected {7,stnd,Key1} missing, got %v", err)
	}
}

// S3 — retain compaction.
func TestRetainCompaction(t *testing.T) {
	dir := t.TempDir()
	path := buildScoringSegment(t, dir)

	r, err := segment.OpenReader(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	c := newTestCompactor(t, dir, StrategyRetain)
	readers := map[string]*segment.Segment{"journal_1.pnd": r}
	run := []manifest.Entry{{LowSQN: 1, Filename: "journal_1.pnd"}}

	newEntries, err := c.rewriteRun(run, readers, s1Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(newEntries) != 1 {
		t.Fatalf("expected 1 output segment, got %+v", newEntries)
	}
	if newEntries[0].LowSQN != 1 {
		t.Fatalf("expected low_sqn 1, got %d", newEntries[0].LowSQN)
	}

	outPath := filepath.Join(dir, newEntries[0].Filename)
	out, err := segment.OpenReader(outPath, newEntries[0].LowSQN)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	positions, err := out.GetPositionsAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 8 {
		t.Fatalf("expected all 8 records retained, got %d", len(positions))
	}

	results, err := out.DirectFetch(positions, segment.FetchKeyOnly)
	if err != nil {
		t.Fatal(err)
	}
	var keydCount, stndCount int
	for _, fr := range results {
		k, derr := journalkey.Decode(fr.Key)
		if derr != nil {
			t.Fatal(derr)
		}
		switch k.Kind {
		case journalkey.KindKeyd:
			keydCount++
		case journalkey.KindStnd:
			stndCount++
		}
	}
	if keydCount != 5 || stndCount != 3 {
		t.Fatalf("expected 5 keyd + 3 stnd, got keyd=%d stnd=%d", keydCount, stndCount)
	}

	presence, err := out.KeyCheck(journalkey.Key{SQN: 8, Kind: journalkey.KindStnd, LedgerKey: []byte("Key1")})
	if err != nil || presence != segment.PresenceProbably {
		t.Fatalf("expected {8,stnd,Key1} probably present, got %v err=%v", presence, err)
	}
	_ = path
}

// S4 — run selection.
func TestSelectRunPicksBlockFour(t *testing.T) {
	scores := []float64{75, 85, 62, 70, 58, 95, 95, 65, 90, 100, 100, 100, 75, 76, 76, 60, 80, 80}
	start, run, score := SelectRun(scores, 4, 60.0, 80.0)
	if start != 12 {
		t.Fatalf("expected run to start at index 12, got %d", start)
	}
	want := []float64{75, 76, 76, 60}
	if len(run) != len(want) {
		t.Fatalf("expected run %v, got %v", want, run)
	}
	for i := range want {
		if run[i] != want[i] {
			t.Fatalf("expected run %v, got %v", want, run)
		}
	}
	if score != 8.25 {
		t.Fatalf("expected run score 8.25, got %v", score)
	}
}

// S6 — run-scoring corner cases.
func TestRunScoreCorners(t *testing.T) {
	if got := RunScore(nil, 4, 60.0, 80.0); got != 0.0 {
		t.Fatalf("expected empty run score 0.0, got %v", got)
	}
	if got := RunScore([]float64{75}, 4, 60.0, 80.0); got != -15.0 {
		t.Fatalf("expected single-file score -15.0, got %v", got)
	}
	if got := RunScore([]float64{100}, 4, 60.0, 80.0); got != -40.0 {
		t.Fatalf("expected single-file score -40.0, got %v", got)
	}
}

// S7 — waste expiry.
func TestWasteCleanupExpiry(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older.cdb")
	fresher := filepath.Join(dir, "fresher.cdb")
	if err := os.WriteFile(older, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresher, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	if err := os.Chtimes(older, base, base.Add(-1100*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(fresher, base, base); err != nil {
		t.Fatal(err)
	}

	if err := WasteCleanup(dir, time.Second, base); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(older); !os.IsNotExist(err) {
		t.Fatal("expected aged file to be deleted")
	}
	if _, err := os.Stat(fresher); err != nil {
		t.Fatal("expected fresh file to be retained")
	}

	later := base.Add(1100 * time.Millisecond)
	if err := WasteCleanup(dir, time.Second, later); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(fresher); !os.IsNotExist(err) {
		t.Fatal("expected remaining file to be deleted after its own retention window")
	}
}
