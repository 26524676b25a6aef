package ledger

import (
	"math/rand"
	"path/filepath"
	"testing"
)

type fakeSource struct {
	work         WorkItem
	hasWork      bool
	overlapsFor  map[int][]SSTEntry
	manifests    []manifestCall
	setForDelete []string
}

type manifestCall struct {
	path    string
	entries []SSTEntry
	manSQN  uint64
}

func (f *fakeSource) PollWork() (WorkItem, bool, error) { return f.work, f.hasWork, nil }

func (f *fakeSource) OverlapFiles(level int, minKey, maxKey []byte) ([]SSTEntry, error) {
	return f.overlapsFor[level], nil
}

func (f *fakeSource) WriteManifest(path string, entries []SSTEntry, manSQN uint64) error {
	f.manifests = append(f.manifests, manifestCall{path: path, entries: entries, manSQN: manSQN})
	return nil
}

func (f *fakeSource) SetForDelete(path string) error {
	f.setForDelete = append(f.setForDelete, path)
	return nil
}

func TestCoordinatorMergeWithOverlapDisplacesBothFiles(t *testing.T) {
	dir := t.TempDir()
	src := writeSST(t, dir, "src_0_0.sst", map[string]string{"b": "new"})
	overlap := writeSST(t, dir, "ovl_1_0.sst", map[string]string{"b": "old", "z": "kept"})

	source := &fakeSource{
		hasWork: true,
		work: WorkItem{
			SrcLevel:     0,
			Manifest:     []SSTEntry{{Path: src.Path(), Level: 0, MinKey: src.MinKey(), MaxKey: src.MaxKey()}},
			ManifestFile: filepath.Join(dir, "MANIFEST"),
			NextSQN:      7,
		},
		overlapsFor: map[int][]SSTEntry{
			1: {{Path: overlap.Path(), Level: 1, MinKey: overlap.MinKey(), MaxKey: overlap.MaxKey()}},
		},
	}

	c := NewCoordinator(source, Config{OutputDir: dir, OutputPrefix: "merged"}, WithRand(rand.New(rand.NewSource(1))))

	merged, err := c.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if !merged {
		t.Fatal("expected Tick to report a merge was executed")
	}
	if c.State() != StateChangePending {
		t.Fatalf("expected change_pending, got %v", c.State())
	}
	if len(source.manifests) != 1 || source.manifests[0].manSQN != 7 {
		t.Fatalf("expected one manifest write stamped with manSQN 7, got %+v", source.manifests)
	}
	if len(source.setForDelete) != 0 {
		t.Fatal("expected no deletes before the ledger's ack")
	}

	if err := c.AckManifest(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after ack, got %v", c.State())
	}
	if len(source.setForDelete) != 2 {
		t.Fatalf("expected both displaced files marked for delete, got %v", source.setForDelete)
	}
}

func TestCoordinatorRetagsWhenNoOverlap(t *testing.T) {
	dir := t.TempDir()
	src := writeSST(t, dir, "src_0_0.sst", map[string]string{"m": "v"})

	source := &fakeSource{
		hasWork: true,
		work: WorkItem{
			SrcLevel:     0,
			Manifest:     []SSTEntry{{Path: src.Path(), Level: 0, MinKey: src.MinKey(), MaxKey: src.MaxKey()}},
			ManifestFile: filepath.Join(dir, "MANIFEST"),
			NextSQN:      3,
		},
		overlapsFor: map[int][]SSTEntry{}, // no overlap at level 1
	}

	c := NewCoordinator(source, Config{OutputDir: dir, OutputPrefix: "merged"})
	if _, err := c.Tick(); err != nil {
		t.Fatal(err)
	}
	if len(source.manifests) != 1 {
		t.Fatalf("expected one manifest write, got %d", len(source.manifests))
	}
	entries := source.manifests[0].entries
	if len(entries) != 1 || entries[0].Path != src.Path() || entries[0].Level != 1 {
		t.Fatalf("expected source re-tagged into level 1, got %+v", entries)
	}

	if err := c.AckManifest(); err != nil {
		t.Fatal(err)
	}
	if len(source.setForDelete) != 0 {
		t.Fatal("re-tagging keeps the file; nothing should be marked for delete")
	}
}

func TestCoordinatorCloseActsSynchronouslyOnPendingChange(t *testing.T) {
	dir := t.TempDir()
	src := writeSST(t, dir, "src_0_0.sst", map[string]string{"m": "v"})
	overlap := writeSST(t, dir, "ovl_1_0.sst", map[string]string{"n": "v2"})

	source := &fakeSource{
		hasWork: true,
		work: WorkItem{
			SrcLevel:     0,
			Manifest:     []SSTEntry{{Path: src.Path(), Level: 0, MinKey: src.MinKey(), MaxKey: src.MaxKey()}},
			ManifestFile: filepath.Join(dir, "MANIFEST"),
		},
		overlapsFor: map[int][]SSTEntry{
			1: {{Path: overlap.Path(), Level: 1, MinKey: overlap.MinKey(), MaxKey: overlap.MaxKey()}},
		},
	}

	c := NewCoordinator(source, Config{OutputDir: dir, OutputPrefix: "merged"})
	if _, err := c.Tick(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if len(source.setForDelete) != 2 {
		t.Fatalf("expected close to perform the delete handshake synchronously, got %v", source.setForDelete)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after close, got %v", c.State())
	}
}
