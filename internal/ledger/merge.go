package ledger

import (
	"bytes"
	"container/heap"
	"fmt"

	"github.com/leveled-go/journal/internal/orderedbuffer"
)

// mergeSource is one input stream to do_merge: a reader's records,
// consumed front-to-back (readers already hold entries in ascending
// key order, per the writer's contract).
type mergeSource struct {
	records []Record
	pos     int
	rank    int // lower rank wins ties; the src_level file is rank 0
}

func (s *mergeSource) peek() (Record, bool) {
	if s.pos >= len(s.records) {
		return Record{}, false
	}
	return s.records[s.pos], true
}

type mergeHeapItem struct {
	key   []byte
	rank  int
	index int // index into sources
}

type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].key, h[j].key)
	if c != 0 {
		return c < 0
	}
	return h[i].rank < h[j].rank
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DoMerge runs a k-way merge of src (the randomly chosen src_level
// file, rank 0 so it wins key collisions) and overlap (the
// src_level+1 files whose range intersected it, lower precedence),
// writing the merged, deduplicated stream out as one or more fresh
// SST files at destLevel via alloc. A file rolls over to the next
// allocated path once its size target is hit, same shape as the
// compactor's segment-rolling rewrite.
func DoMerge(src *Reader, overlap []*Reader, alloc *Allocator, destLevel int, maxFileBytes int) ([]string, error) {
	sources := make([]*mergeSource, 0, 1+len(overlap))
	all := append([]*Reader{src}, overlap...)
	for rank, r := range all {
		recs, err := r.All()
		if err != nil {
			return nil, fmt.Errorf("ledger: read %s for merge: %w", r.Path(), err)
		}
		sources = append(sources, &mergeSource{records: recs, rank: rank})
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, s := range sources {
		if rec, ok := s.peek(); ok {
			heap.Push(h, mergeHeapItem{key: rec.Key, rank: s.rank, index: i})
		}
	}

	var outputs []string
	var writer *Writer
	newWriter := func() error {
		path := alloc.Alloc(destLevel)
		w, err := NewWriter(path, uint(estimateKeyCount(sources)))
		if err != nil {
			return err
		}
		writer = w
		outputs = append(outputs, path)
		return nil
	}
	if err := newWriter(); err != nil {
		return nil, err
	}

	// The heap already yields keys in ascending order, so staging
	// through buf is not needed for sort order; it's the coordinator's
	// merge staging area all the same, giving the per-output-file dedup
	// a second, independent enforcement before anything is written out
	// (the heap's own top.key/(*h)[0].key comparison already dropped
	// superseded duplicates, but a buffer overwrite is cheap insurance
	// if that invariant is ever loosened).
	buf := orderedbuffer.New[Record]()
	var bufferedBytes int

	flush := func() error {
		for _, rec := range buf.Drain() {
			if err := writer.Write(rec.Op, rec.Key, rec.Value); err != nil {
				return err
			}
		}
		buf.Reset()
		bufferedBytes = 0
		return nil
	}

	var lastKey []byte
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeHeapItem)
		src := sources[top.index]
		rec, _ := src.peek()
		src.pos++

		// Advance every other source sitting on the same key; the
		// lowest-rank record (src_level, rank 0) wins and the rest
		// are superseded duplicates.
		for h.Len() > 0 && bytes.Equal((*h)[0].key, top.key) {
			dup := heap.Pop(h).(mergeHeapItem)
			sources[dup.index].pos++
			if next, ok := sources[dup.index].peek(); ok {
				heap.Push(h, mergeHeapItem{key: next.Key, rank: sources[dup.index].rank, index: dup.index})
			}
		}
		if next, ok := src.peek(); ok {
			heap.Push(h, mergeHeapItem{key: next.Key, rank: src.rank, index: top.index})
		}

		if lastKey != nil && bytes.Equal(lastKey, rec.Key) {
			continue
		}
		lastKey = rec.Key

		if bufferedBytes+len(rec.Key)+len(rec.Value) > maxFileBytes && bufferedBytes > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			if _, _, err := writer.Close(); err != nil {
				return nil, err
			}
			if err := newWriter(); err != nil {
				return nil, err
			}
		}
		buf.Put(rec.Key, rec)
		bufferedBytes += len(rec.Key) + len(rec.Value)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	if writer.Empty() {
		outputs = outputs[:len(outputs)-1]
		_ = writer.f.Close()
	} else if _, _, err := writer.Close(); err != nil {
		return nil, err
	}

	return outputs, nil
}

func estimateKeyCount(sources []*mergeSource) int {
	total := 0
	for _, s := range sources {
		total += len(s.records)
	}
	if total == 0 {
		return 1
	}
	return total
}
