package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
)

const footerSize = 8 + 4 + 8 + 4 + 8 + 2 + 8 + 2 + 4 // 48 bytes

// Record is one decoded SST entry.
type Record struct {
	Op    Operation
	Key   []byte
	Value []byte
}

// Reader opens an existing SST file for point lookup and ordered
// iteration (the latter feeds DoMerge). It exists purely to make the
// writer's files usable again: parse the footer once, then read data
// blocks lazily on demand.
type Reader struct {
	path           string
	index          []indexEntry
	bloom          *bloom.BloomFilter
	minKey, maxKey []byte
}

// OpenReader parses the footer, index block, and bloom filter of the
// SST file at path. Data blocks are read lazily, on demand.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sst %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < footerSize {
		return nil, fmt.Errorf("ledger: %s too small to hold a footer", path)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, stat.Size()-footerSize); err != nil {
		return nil, fmt.Errorf("ledger: read footer %s: %w", path, err)
	}
	fr := bytes.NewReader(footerBuf)
	var indexOffset, bloomOffset, minKeyOffset, maxKeyOffset int64
	var indexSize, bloomSize uint32
	var minKeySize, maxKeySize uint16
	_ = binary.Read(fr, binary.LittleEndian, &indexOffset)
	_ = binary.Read(fr, binary.LittleEndian, &indexSize)
	_ = binary.Read(fr, binary.LittleEndian, &bloomOffset)
	_ = binary.Read(fr, binary.LittleEndian, &bloomSize)
	_ = binary.Read(fr, binary.LittleEndian, &minKeyOffset)
	_ = binary.Read(fr, binary.LittleEndian, &minKeySize)
	_ = binary.Read(fr, binary.LittleEndian, &maxKeyOffset)
	_ = binary.Read(fr, binary.LittleEndian, &maxKeySize)

	minKey := make([]byte, minKeySize)
	if _, err := f.ReadAt(minKey, minKeyOffset); err != nil {
		return nil, fmt.Errorf("ledger: read min key %s: %w", path, err)
	}
	maxKey := make([]byte, maxKeySize)
	if _, err := f.ReadAt(maxKey, maxKeyOffset); err != nil {
		return nil, fmt.Errorf("ledger: read max key %s: %w", path, err)
	}

	idxBuf := make([]byte, indexSize)
	if _, err := f.ReadAt(idxBuf, indexOffset); err != nil {
		return nil, fmt.Errorf("ledger: read index %s: %w", path, err)
	}
	index, err := decodeIndex(idxBuf)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode index %s: %w", path, err)
	}

	bloomBuf := make([]byte, bloomSize)
	if _, err := f.ReadAt(bloomBuf, bloomOffset); err != nil {
		return nil, fmt.Errorf("ledger: read bloom %s: %w", path, err)
	}
	filter, err := decodeBloom(bloomBuf)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode bloom %s: %w", path, err)
	}

	return &Reader{path: path, index: index, bloom: filter, minKey: minKey, maxKey: maxKey}, nil
}

func decodeIndex(buf []byte) ([]indexEntry, error) {
	if len(buf) < 4+4 {
		return nil, fmt.Errorf("index block too small")
	}
	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("index block crc mismatch")
	}
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	entries := make([]indexEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		var off int64
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		entries = append(entries, indexEntry{key: key, blockOffset: off, blockSize: size})
	}
	return entries, nil
}

// decodeBloom reverses Writer.writeBloom: two redundant uint32 fields
// (k, m) kept for on-disk inspectability, followed by the filter's
// own self-describing wire form that bloom/v3's ReadFrom understands.
func decodeBloom(buf []byte) (*bloom.BloomFilter, error) {
	if len(buf) < 4+4+4 {
		return nil, fmt.Errorf("bloom block too small")
	}
	body := buf[:len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("bloom block crc mismatch")
	}
	r := bytes.NewReader(body)
	var k, m uint32
	_ = binary.Read(r, binary.LittleEndian, &k)
	_ = binary.Read(r, binary.LittleEndian, &m)

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(r); err != nil {
		return nil, err
	}
	return filter, nil
}

func decodeDataBlock(buf []byte) ([]dataEntry, error) {
	if len(buf) < 4+4 {
		return nil, fmt.Errorf("data block too small")
	}
	body := buf[4 : len(buf)-4]
	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("data block crc mismatch")
	}
	r := bytes.NewReader(body)
	var entries []dataEntry
	for r.Len() > 0 {
		var keyLen, valLen uint32
		var op uint8
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, err
		}
		entries = append(entries, dataEntry{op: Operation(op), key: key, value: val})
	}
	return entries, nil
}

// MinKey and MaxKey report the file's key range, used by the LCC for
// get_range overlap detection before scheduling a merge.
func (r *Reader) MinKey() []byte { return r.minKey }
func (r *Reader) MaxKey() []byte { return r.maxKey }
func (r *Reader) Path() string   { return r.path }

// Overlaps reports whether this file's [MinKey, MaxKey] range
// intersects [lo, hi].
func (r *Reader) Overlaps(lo, hi []byte) bool {
	return bytes.Compare(r.minKey, hi) <= 0 && bytes.Compare(r.maxKey, lo) >= 0
}

// Get performs a bloom-filtered point lookup.
func (r *Reader) Get(key []byte) (Record, bool, error) {
	if r.bloom != nil && !r.bloom.Test(key) {
		return Record{}, false, nil
	}
	blk := r.blockFor(key)
	if blk == nil {
		return Record{}, false, nil
	}
	entries, err := r.readBlock(*blk)
	if err != nil {
		return Record{}, false, err
	}
	for _, e := range entries {
		if bytes.Equal(e.key, key) {
			return Record{Op: e.op, Key: e.key, Value: e.value}, true, nil
		}
	}
	return Record{}, false, nil
}

func (r *Reader) blockFor(key []byte) *indexEntry {
	if len(r.index) == 0 {
		return nil
	}
	i := sort.Search(len(r.index), func(i int) bool { return bytes.Compare(r.index[i].key, key) > 0 })
	if i == 0 {
		return nil
	}
	return &r.index[i-1]
}

func (r *Reader) readBlock(e indexEntry) ([]dataEntry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, e.blockSize)
	if _, err := f.ReadAt(buf, e.blockOffset); err != nil {
		return nil, err
	}
	return decodeDataBlock(buf)
}

// All returns every record in the file, in ascending key order (the
// order the writer requires entries to have been written in).
func (r *Reader) All() ([]Record, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	for _, idx := range r.index {
		buf := make([]byte, idx.blockSize)
		if _, err := f.ReadAt(buf, idx.blockOffset); err != nil {
			return nil, err
		}
		entries, derr := decodeDataBlock(buf)
		if derr != nil {
			return nil, derr
		}
		for _, e := range entries {
			out = append(out, Record{Op: e.op, Key: e.key, Value: e.value})
		}
	}
	return out, nil
}

// Close is a no-op: Reader reopens the file per block read rather
// than holding a descriptor, matching the segment package's pattern
// of minimizing open-file lifetime in supporting code that is not
// itself the active actor.
func (r *Reader) Close() error { return nil }
