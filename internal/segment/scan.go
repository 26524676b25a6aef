package segment

import "io"

// FilterFunc is the callback driving scan(filter, acc, start): for
// each successfully decoded (key, value, position) it returns whether
// to keep going and the (possibly updated) accumulator.
type FilterFunc func(key, value []byte, position int64, acc any) (cont bool, acc2 any)

// linearScan reads records sequentially from start up to (but not
// past) regionEnd, calling filter for each. It stops on: filter
// returning cont=false, reaching regionEnd (end of the record
// region), or a record that fails to decode or fails its CRC. It
// returns the position at which it stopped and the final accumulator.
func linearScan(r io.ReaderAt, start, regionEnd int64, filter FilterFunc, acc any) (int64, any) {
	pos := start
	for pos < regionEnd {
		rec, err := decodeRecord(r, pos, true)
		if err != nil || !rec.crcOK {
			return pos, acc
		}
		var cont bool
		cont, acc = filter(rec.key, rec.value, pos, acc)
		if !cont {
			return pos, acc
		}
		pos += rec.length
	}
	return regionEnd, acc
}

// recoverWriterState re-derives a writer's append cursor, in-memory
// hash buckets, and last key by scanning an existing .pnd file from
// byte topIndexSize forward. The scan stops at the first record that
// fails to decode or fails its CRC, and the file is truncated to that
// point so the writer resumes appending cleanly.
func recoverWriterState(f interface {
	io.ReaderAt
	Truncate(int64) error
}, fileSize int64) (cursor int64, buckets [numSubtables]bucket, lastKey []byte, err error) {
	pos := int64(topIndexSize)
	for pos < fileSize {
		rec, decErr := decodeRecord(f, pos, true)
		if decErr != nil || !rec.crcOK {
			break
		}
		hash := recordHash(rec.key)
		idx := hash & 0xFF
		buckets[idx].append(hash, pos)
		lastKey = rec.key
		pos += rec.length
	}

	if pos != fileSize {
		if truncErr := f.Truncate(pos); truncErr != nil {
			return 0, buckets, nil, truncErr
		}
	}

	return pos, buckets, lastKey, nil
}
