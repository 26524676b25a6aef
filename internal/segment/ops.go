package segment

import (
	"bytes"

	"github.com/leveled-go/journal/internal/journalkey"
)

// Put appends one record to the writer's append cursor. If the record
// would push the cursor past max_file_size, ErrNeedsRoll is returned
// instead of writing anything, and the caller must seal this segment
// (Complete or Roll) and open a new one.
func (s *Segment) Put(key journalkey.Key, value []byte) (cursor int64, err error) {
	err = s.do(func() error {
		if s.state != StateWriter {
			return ErrWrongState
		}
		kb := journalkey.Encode(key)
		size := recordSize(kb, value)
		if s.cursor+size > s.maxFileSize {
			return ErrNeedsRoll
		}
		buf := encodeRecord(kb, value)
		if _, werr := s.file.WriteAt(buf, s.cursor); werr != nil {
			return werr
		}
		hash := recordHash(kb)
		s.buckets[hash&0xFF].append(hash, s.cursor)
		s.lastKey = kb
		s.cursor += size
		cursor = s.cursor
		return nil
	})
	return cursor, err
}

// PutRecord is one (key, value) pair for MPut.
type PutRecord struct {
	Key   journalkey.Key
	Value []byte
}

// MPut implements mput(list): the same semantics as Put applied to a
// batch, committed in one physical write.
func (s *Segment) MPut(records []PutRecord) (cursor int64, err error) {
	err = s.do(func() error {
		if s.state != StateWriter {
			return ErrWrongState
		}
		encoded := make([][]byte, len(records))
		hashes := make([]uint32, len(records))
		var total int64
		for i, r := range records {
			kb := journalkey.Encode(r.Key)
			encoded[i] = encodeRecord(kb, r.Value)
			hashes[i] = recordHash(kb)
			total += int64(len(encoded[i]))
		}
		if s.cursor+total > s.maxFileSize {
			return ErrNeedsRoll
		}

		buf := make([]byte, 0, total)
		for _, e := range encoded {
			buf = append(buf, e...)
		}
		if _, werr := s.file.WriteAt(buf, s.cursor); werr != nil {
			return werr
		}

		pos := s.cursor
		for i, e := range encoded {
			hash := hashes[i]
			s.buckets[hash&0xFF].append(hash, pos)
			pos += int64(len(e))
		}
		if len(records) > 0 {
			s.lastKey = journalkey.Encode(records[len(records)-1].Key)
		}
		s.cursor += total
		cursor = s.cursor
		return nil
	})
	return cursor, err
}

// Get implements get(key): consults the in-memory hash map while
// Writer/Rolling, or probes the on-disk hash index while Reader.
// Returns ErrMissing if the key is not present.
func (s *Segment) Get(key journalkey.Key) (value []byte, err error) {
	kb := journalkey.Encode(key)
	hash := recordHash(kb)

	err = s.do(func() error {
		switch s.state {
		case StateWriter, StateRolling:
			for _, pos := range s.buckets[hash&0xFF].positionsFor(hash) {
				rec, derr := decodeRecord(s.file, pos, true)
				if derr != nil {
					continue
				}
				if bytes.Equal(rec.key, kb) && rec.crcOK {
					value = rec.value
					return nil
				}
			}
			return ErrMissing
		case StateReader:
			found := false
			perr := probe(s.file, s.topIndex[hash&0xFF], hash, func(pos int64) (bool, error) {
				rec, derr := decodeRecord(s.file, pos, true)
				if derr != nil {
					return false, nil
				}
				if bytes.Equal(rec.key, kb) && rec.crcOK {
					value = rec.value
					found = true
					return true, nil
				}
				return false, nil
			})
			if perr != nil {
				return perr
			}
			if !found {
				return ErrMissing
			}
			return nil
		default:
			return ErrWrongState
		}
	})
	return value, err
}

// Presence is the outcome of KeyCheck: Probably (hash matched, key
// bytes not verified) or Missing.
type Presence int

const (
	PresenceMissing Presence = iota
	PresenceProbably
)

// KeyCheck implements key_check(key, loose_presence): like Get but
// short-circuits on hash match without reading/comparing the key
// bytes.
func (s *Segment) KeyCheck(key journalkey.Key) (Presence, error) {
	kb := journalkey.Encode(key)
	hash := recordHash(kb)

	var presence Presence
	err := s.do(func() error {
		switch s.state {
		case StateWriter, StateRolling:
			if len(s.buckets[hash&0xFF].positionsFor(hash)) > 0 {
				presence = PresenceProbably
			}
			return nil
		case StateReader:
			found := false
			perr := probe(s.file, s.topIndex[hash&0xFF], hash, func(pos int64) (bool, error) {
				found = true
				return true, nil
			})
			if perr != nil {
				return perr
			}
			if found {
				presence = PresenceProbably
			}
			return nil
		default:
			return ErrWrongState
		}
	})
	return presence, err
}

// GetPositionsAll implements getpositions(all): every populated slot
// of the hash index, reader only.
func (s *Segment) GetPositionsAll() ([]int64, error) {
	var positions []int64
	err := s.do(func() error {
		if s.state != StateReader {
			return ErrWrongState
		}
		var perr error
		positions, perr = allPositions(s.file, s.topIndex)
		return perr
	})
	return positions, err
}

// GetPositionsSample implements getpositions(n): shuffles the
// subtable visiting order with the segment's seeded PRNG and
// accumulates positions until n are gathered or every subtable has
// been visited.
func (s *Segment) GetPositionsSample(n int) ([]int64, error) {
	var positions []int64
	err := s.do(func() error {
		if s.state != StateReader {
			return ErrWrongState
		}
		order := s.rnd.Perm(numSubtables)
		var perr error
		positions, perr = samplePositions(s.file, s.topIndex, n, order)
		return perr
	})
	return positions, err
}

// FetchMode selects how much of a record direct_fetch reads.
type FetchMode int

const (
	FetchKeyOnly FetchMode = iota
	FetchKeyAndLen
	FetchFull
)

// FetchResult is one direct_fetch outcome.
type FetchResult struct {
	Key    []byte
	ValLen int // len(value); only set for FetchKeyAndLen/FetchFull
	Value  []byte
	CRCOK  bool
}

// DirectFetch implements direct_fetch(positions, mode): reader only.
func (s *Segment) DirectFetch(positions []int64, mode FetchMode) ([]FetchResult, error) {
	var out []FetchResult
	err := s.do(func() error {
		if s.state != StateReader {
			return ErrWrongState
		}
		for _, pos := range positions {
			wantValue := mode != FetchKeyOnly
			rec, derr := decodeRecord(s.file, pos, wantValue)
			if derr != nil {
				continue
			}
			fr := FetchResult{Key: rec.key}
			if mode == FetchKeyAndLen {
				fr.ValLen = len(rec.value)
			}
			if mode == FetchFull {
				fr.ValLen = len(rec.value)
				fr.Value = rec.value
				fr.CRCOK = rec.crcOK
			}
			out = append(out, fr)
		}
		return nil
	})
	return out, err
}

// Scan implements scan(filter, acc, start): linearly reads records
// from start (0 meaning "use the default", topIndexSize) until the
// filter stops it, the record region ends, or a record fails to
// decode or fails its CRC.
func (s *Segment) Scan(start int64, filter FilterFunc, acc any) (int64, any, error) {
	if start == 0 {
		start = topIndexSize
	}
	var lastPos int64
	var result any
	err := s.do(func() error {
		var regionEnd int64
		switch s.state {
		case StateWriter, StateRolling:
			regionEnd = s.cursor
		case StateReader:
			regionEnd = s.hashRegionStart
		default:
			return ErrWrongState
		}
		lastPos, result = linearScan(s.file, start, regionEnd, filter, acc)
		return nil
	})
	return lastPos, result, err
}
