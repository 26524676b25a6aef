package inker

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/leveled-go/journal/internal/journalkey"
	"github.com/leveled-go/journal/internal/segment"
)

func openTestInker(t *testing.T, dir string, opts ...segment.Option) *Inker {
	t.Helper()
	ik, err := Open(dir, filepath.Join(dir, "MANIFEST"), "journal", WithSegmentOptions(opts...))
	if err != nil {
		t.Fatal(err)
	}
	return ik
}

func TestPutAssignsIncreasingSQNsAndGetDispatchesToActive(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir)
	defer ik.Close()

	sqn1, err := ik.Put([]byte("Key1"), []byte("v1"))
	if err != nil {
		t.Fatal(err)
	}
	sqn2, err := ik.Put([]byte("Key2"), []byte("v2"))
	if err != nil {
		t.Fatal(err)
	}
	if sqn1 != 1 || sqn2 != 2 {
		t.Fatalf("expected sqns 1,2, got %d,%d", sqn1, sqn2)
	}

	v, err := ik.Get(journalkey.Key{SQN: sqn2, Kind: journalkey.KindStnd, LedgerKey: []byte("Key2")})
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
}

func TestGetManifestExcludesActiveHead(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir)
	defer ik.Close()

	if _, err := ik.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	entries, err := ik.GetManifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected the sole (active) segment excluded, got %+v", entries)
	}
}

func TestPutRollsToFreshSegmentWhenFull(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir, segment.WithMaxFileSize(2048+256))

	var lastSQN uint64
	for i := 0; i < 50; i++ {
		sqn, err := ik.Put([]byte("k"), make([]byte, 32))
		if err != nil {
			t.Fatal(err)
		}
		lastSQN = sqn
	}
	defer ik.Close()

	entries, err := ik.GetManifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one sealed segment after rolling past max_file_size")
	}
	if lastSQN == 0 {
		t.Fatal("expected sqns to have been assigned")
	}
}

func TestConfirmDeleteTracksManSQN(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir)
	defer ik.Close()

	safe, err := ik.ConfirmDelete(0)
	if err != nil {
		t.Fatal(err)
	}
	if !safe {
		t.Fatal("expected manSQN 0 to already be satisfied at construction")
	}

	manSQN, err := ik.UpdateManifest(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	safe, err = ik.ConfirmDelete(manSQN)
	if err != nil || !safe {
		t.Fatalf("expected confirm_delete true at manSQN %d, got safe=%v err=%v", manSQN, safe, err)
	}
	safe, err = ik.ConfirmDelete(manSQN + 1)
	if err != nil || safe {
		t.Fatalf("expected confirm_delete false for a manSQN not yet reached, got safe=%v err=%v", safe, err)
	}
}

func TestCloseReleasesRolledOffSegmentsToo(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir, segment.WithMaxFileSize(2048+256))

	for i := 0; i < 50; i++ {
		if _, err := ik.Put([]byte("k"), make([]byte, 32)); err != nil {
			t.Fatal(err)
		}
	}
	if len(ik.sealed) == 0 {
		t.Fatal("expected at least one rolled-off segment pending close")
	}

	if err := ik.Close(); err != nil {
		t.Fatalf("expected every held segment to close cleanly, got %v", err)
	}
}

func TestGetMissingKeyReturnsErrMissing(t *testing.T) {
	dir := t.TempDir()
	ik := openTestInker(t, dir)
	defer ik.Close()

	if _, err := ik.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	_, err := ik.Get(journalkey.Key{SQN: 99, Kind: journalkey.KindStnd, LedgerKey: []byte("nope")})
	if !errors.Is(err, segment.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}
