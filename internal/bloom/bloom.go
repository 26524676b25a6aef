// Package bloom implements the journal's fixed-shape bloom filter: a
// bitset sized from the expected key count, keyed by a precomputed
// 32-bit hash rather than a configurable number of independent hash
// functions. The bit layout is a fixed wire format, not a tunable
// parameter, so it is hand-rolled here — see DESIGN.md for why this
// differs from the ledger-side SST bloom filter in internal/ledger,
// which reuses bits-and-blooms/bloom/v3.
package bloom

// Filter is a fixed-size bitset of 2, 4, or 16 64-bit lanes, chosen by
// the key count at construction time. A zero-value Filter (no lanes)
// is the n=0 "empty" shape: Check always reports false.
type Filter struct {
	lanes []uint64
}

// lanesFor selects the lane count for an expected key count n: 0 for
// an empty set, 2 lanes up to 16 keys, 4 up to 32, 16 beyond that.
func lanesFor(n int) int {
	switch {
	case n <= 0:
		return 0
	case n <= 16:
		return 2
	case n <= 32:
		return 4
	default:
		return 16
	}
}

// New allocates a filter shaped for expectedCount keys. Adding more
// than expectedCount keys is safe but degrades the false-positive
// rate faster than the chosen shape implies; callers that know the
// final count up front (e.g. building a filter over an already
// collected key list) should prefer NewFromHashes.
func New(expectedCount int) *Filter {
	n := lanesFor(expectedCount)
	if n == 0 {
		return &Filter{}
	}
	return &Filter{lanes: make([]uint64, n)}
}

// NewFromHashes builds a filter sized exactly for the given
// precomputed hash list and inserts every one of them.
func NewFromHashes(hashes []uint32) *Filter {
	f := New(len(hashes))
	for _, h := range hashes {
		f.Add(h)
	}
	return f
}

// Add inserts a precomputed hash. A no-op on the empty (n=0) shape.
func (f *Filter) Add(h uint32) {
	if len(f.lanes) == 0 {
		return
	}
	lane, mask := f.laneAndMask(h)
	f.lanes[lane] |= mask
}

// Check reports whether h was possibly inserted. False positives are
// possible; false negatives are not — every inserted hash always
// checks true.
func (f *Filter) Check(h uint32) bool {
	if len(f.lanes) == 0 {
		return false
	}
	lane, mask := f.laneAndMask(h)
	return f.lanes[lane]&mask == mask
}

// laneAndMask implements the filter's bit layout: S = H&31 selects the
// lane (mod lane count) and which half of the 64-bit word
// (Switch = S>>4); H0, H1, H2 are the three bit positions set within
// that half.
func (f *Filter) laneAndMask(h uint32) (lane int, mask uint64) {
	s := h & 31
	h0 := (h >> 5) & 31
	h1 := (h >> 10) & 31
	h2 := (h >> 15) & 31
	swtch := s >> 4

	laneCount := uint32(len(f.lanes))
	lane = int(s & (laneCount - 1))

	if swtch == 0 {
		mask = 1<<(32+h0) | 1<<(32+h1) | 1<<(32+h2)
	} else {
		mask = 1<<h0 | 1<<h1 | 1<<h2
	}
	return lane, mask
}

// Bytes returns the filter's on-disk shape size in bytes: 0, 16, 32,
// or 128.
func (f *Filter) Bytes() int {
	return len(f.lanes) * 8
}
