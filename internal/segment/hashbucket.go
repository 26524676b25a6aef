package segment

// hashPos is one (hash, position) pair: a record's full 32-bit hash
// and its byte offset in the record region.
type hashPos struct {
	hash uint32
	pos  int64
}

// bucket is one of the 256 in-memory subtables a writer keeps while
// open. It is an ordered map from hash to position list: entries are
// appended in insertion order (preserved in the entries slice) and
// also indexed by hash for O(1) lookup. Order matters because slot
// placement on the final expanded subtable probes in insertion order,
// so wraparound collisions resolve deterministically.
type bucket struct {
	entries []hashPos
	byHash  map[uint32][]int // hash -> indices into entries
}

func (b *bucket) append(hash uint32, pos int64) {
	if b.byHash == nil {
		b.byHash = make(map[uint32][]int)
	}
	b.entries = append(b.entries, hashPos{hash: hash, pos: pos})
	b.byHash[hash] = append(b.byHash[hash], len(b.entries)-1)
}

// positionsFor returns every position recorded under hash, oldest
// first.
func (b *bucket) positionsFor(hash uint32) []int64 {
	idxs := b.byHash[hash]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]int64, len(idxs))
	for i, idx := range idxs {
		out[i] = b.entries[idx].pos
	}
	return out
}

func (b *bucket) len() int {
	return len(b.entries)
}
