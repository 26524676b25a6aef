package ledger

import (
	"path/filepath"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_0_0.sst")

	w, err := NewWriter(path, 16)
	if err != nil {
		t.Fatal(err)
	}
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	for i, k := range keys {
		if err := w.Write(OpPut, k, []byte("value")); err != nil {
			t.Fatal(err)
		}
		_ = i
	}
	if err := w.Write(OpDelete, []byte("e"), nil); err != nil {
		t.Fatal(err)
	}
	minKey, maxKey, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(minKey) != "a" || string(maxKey) != "e" {
		t.Fatalf("expected range a..e, got %s..%s", minKey, maxKey)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(r.MinKey()) != "a" || string(r.MaxKey()) != "e" {
		t.Fatalf("reader range mismatch: %s..%s", r.MinKey(), r.MaxKey())
	}

	rec, ok, err := r.Get([]byte("c"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(rec.Value) != "value" || rec.Op != OpPut {
		t.Fatalf("expected c=value put, got %+v ok=%v", rec, ok)
	}

	tomb, ok, err := r.Get([]byte("e"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || tomb.Op != OpDelete {
		t.Fatalf("expected e to be a tombstone, got %+v ok=%v", tomb, ok)
	}

	if _, ok, err := r.Get([]byte("zzz")); err != nil || ok {
		t.Fatalf("expected zzz absent, got ok=%v err=%v", ok, err)
	}

	all, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
}

func TestWriterRollsBlocksUnderSizeTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_0_1.sst")

	w, err := NewWriter(path, 256)
	if err != nil {
		t.Fatal(err)
	}
	big := make([]byte, 1024)
	for i := 0; i < 16; i++ {
		key := []byte{byte(i)}
		if err := w.Write(OpPut, key, big); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.index) < 2 {
		t.Fatalf("expected multiple data blocks from oversized entries, got %d", len(r.index))
	}
	all, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 16 {
		t.Fatalf("expected 16 records across blocks, got %d", len(all))
	}
}
