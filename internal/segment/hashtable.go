package segment

import (
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"
)

const (
	numSubtables  = 256
	topIndexSize  = 2048 // 256 * (4+4) bytes
	topIndexEntry = 8    // Position(4 LE) + Count(4 LE)
	slotWidth     = 8    // Hash(4 LE) + Position(4 LE)
)

// topIndexEnt is one of the 256 entries in the top index: where a
// subtable starts in the file and how many slots it has.
type topIndexEnt struct {
	pos   uint32
	count uint32
}

// encodeTopIndex serializes the 256-entry top index: 256 pairs of
// (Position, Count), each pair two 32-bit little-endian integers.
func encodeTopIndex(entries [numSubtables]topIndexEnt) []byte {
	buf := make([]byte, topIndexSize)
	for i, e := range entries {
		off := i * topIndexEntry
		binary.LittleEndian.PutUint32(buf[off:off+4], e.pos)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.count)
	}
	return buf
}

func decodeTopIndex(r io.ReaderAt) ([numSubtables]topIndexEnt, error) {
	var entries [numSubtables]topIndexEnt
	buf := make([]byte, topIndexSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return entries, err
	}
	for i := range entries {
		off := i * topIndexEntry
		entries[i] = topIndexEnt{
			pos:   binary.LittleEndian.Uint32(buf[off : off+4]),
			count: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	return entries, nil
}

// buildHashRegion computes the 256 hash subtables and the top index
// that describes them, starting at baseOffset (the writer's cursor
// once the last record has been appended). Each subtable i holds
// 2*len(buckets[i].entries) slots (load factor 0.5); entries are
// placed by linear probing forward with wraparound from
// start_slot = (hash>>8) mod slots, processed in the bucket's
// insertion order so placement is deterministic. Empty subtables get
// a zero-count placeholder entry pointing at the current cursor.
func buildHashRegion(buckets [numSubtables]bucket, baseOffset int64) ([]byte, [numSubtables]topIndexEnt) {
	var topIndex [numSubtables]topIndexEnt
	var region []byte
	cursor := baseOffset

	for i := 0; i < numSubtables; i++ {
		b := &buckets[i]
		if b.len() == 0 {
			topIndex[i] = topIndexEnt{pos: uint32(cursor), count: 0}
			continue
		}

		slots := 2 * b.len()
		table := make([]hashPos, slots)
		occupied := bitset.New(uint(slots))

		for _, e := range b.entries {
			start := int((e.hash >> 8) % uint32(slots))
			slot := start
			for occupied.Test(uint(slot)) {
				slot = (slot + 1) % slots
			}
			table[slot] = e
			occupied.Set(uint(slot))
		}

		topIndex[i] = topIndexEnt{pos: uint32(cursor), count: uint32(slots)}

		subBuf := make([]byte, slots*slotWidth)
		for s, e := range table {
			off := s * slotWidth
			binary.LittleEndian.PutUint32(subBuf[off:off+4], e.hash)
			binary.LittleEndian.PutUint32(subBuf[off+4:off+8], uint32(e.pos))
		}
		region = append(region, subBuf...)
		cursor += int64(len(subBuf))
	}

	return region, topIndex
}

// probe walks subtable i starting at start_slot = (hash>>8) mod
// count, linear-probing forward with wraparound, and calls visit for
// every occupied slot whose stored hash equals hash. visit returns
// stop=true to end the probe early (e.g. once the right key is
// confirmed). probe itself stops after a full cycle of the subtable
// or upon hitting a zero (empty) slot, which means the key is absent.
func probe(r io.ReaderAt, ent topIndexEnt, hash uint32, visit func(pos int64) (stop bool, err error)) error {
	if ent.count == 0 {
		return nil
	}
	slots := int(ent.count)
	start := int((hash >> 8) % ent.count)

	slotBuf := make([]byte, slotWidth)
	for i := 0; i < slots; i++ {
		slot := (start + i) % slots
		off := int64(ent.pos) + int64(slot)*slotWidth
		if _, err := r.ReadAt(slotBuf, off); err != nil && err != io.EOF {
			return err
		}

		slotHash := binary.LittleEndian.Uint32(slotBuf[0:4])
		slotPos := binary.LittleEndian.Uint32(slotBuf[4:8])

		if slotHash == 0 && slotPos == 0 {
			return nil // empty slot: exhausted
		}

		if slotHash == hash {
			stop, err := visit(int64(slotPos))
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

// allPositions walks every populated slot of every subtable, in
// subtable order, used by getpositions(all).
func allPositions(r io.ReaderAt, topIndex [numSubtables]topIndexEnt) ([]int64, error) {
	var positions []int64
	slotBuf := make([]byte, slotWidth)
	for i := 0; i < numSubtables; i++ {
		ent := topIndex[i]
		for s := uint32(0); s < ent.count; s++ {
			off := int64(ent.pos) + int64(s)*slotWidth
			if _, err := r.ReadAt(slotBuf, off); err != nil && err != io.EOF {
				return nil, err
			}
			hash := binary.LittleEndian.Uint32(slotBuf[0:4])
			pos := binary.LittleEndian.Uint32(slotBuf[4:8])
			if hash == 0 && pos == 0 {
				continue
			}
			positions = append(positions, int64(pos))
		}
	}
	return positions, nil
}

// samplePositions gathers positions from a pseudo-random subset of
// subtables, visited in the caller-shuffled order, until n positions are
// collected or every subtable has been visited. Used by
// getpositions(n) for the compactor's per-file scoring sample.
func samplePositions(r io.ReaderAt, topIndex [numSubtables]topIndexEnt, n int, order []int) ([]int64, error) {
	var positions []int64
	slotBuf := make([]byte, slotWidth)
	for _, i := range order {
		if len(positions) >= n {
			break
		}
		ent := topIndex[i]
		for s := uint32(0); s < ent.count; s++ {
			off := int64(ent.pos) + int64(s)*slotWidth
			if _, err := r.ReadAt(slotBuf, off); err != nil && err != io.EOF {
				return nil, err
			}
			hash := binary.LittleEndian.Uint32(slotBuf[0:4])
			pos := binary.LittleEndian.Uint32(slotBuf[4:8])
			if hash == 0 && pos == 0 {
				continue
			}
			positions = append(positions, int64(pos))
		}
	}
	return positions, nil
}
