// Package ledger provides the minimal sorted-string-table writer/
// reader and the ledger-compactor coordinator (LCC). The SST format
// is data blocks of sorted key/value entries, a sparse index block, a
// bloom filter, and a fixed 48-byte footer. The full ledger (ordered
// index) this format ultimately serves is out of scope here; only
// enough is built to drive DoMerge.
package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
)

// Operation distinguishes a live value from a tombstone in an SST
// entry.
type Operation uint8

const (
	OpPut Operation = iota
	OpDelete
)

const defaultMaxDataBlockSize = 4 * 1024 // 4 KiB

// blockBuilder accumulates one data block's entries as already-encoded
// bytes plus a running CRC, so flushing a block is a single blit
// rather than a re-walk of buffered entries.
type blockBuilder struct {
	buf      bytes.Buffer
	crc      hash.Hash32
	firstKey []byte
}

func newBlockBuilder() *blockBuilder {
	return &blockBuilder{crc: crc32.NewIEEE()}
}

func (b *blockBuilder) append(op Operation, key, value []byte) {
	if b.firstKey == nil {
		b.firstKey = append([]byte(nil), key...)
	}
	w := io.MultiWriter(&b.buf, b.crc)
	_ = binary.Write(w, binary.LittleEndian, uint32(len(key)))
	_ = binary.Write(w, binary.LittleEndian, uint32(len(value)))
	_ = binary.Write(w, binary.LittleEndian, uint8(op))
	_, _ = w.Write(key)
	_, _ = w.Write(value)
}

func (b *blockBuilder) len() int    { return b.buf.Len() }
func (b *blockBuilder) empty() bool { return b.buf.Len() == 0 }

// dataEntry is one decoded data-block entry, shared with reader.go's
// decodeDataBlock.
type dataEntry struct {
	op    Operation
	key   []byte
	value []byte
}

type indexEntry struct {
	key         []byte
	blockOffset int64
	blockSize   uint32
}

// Writer produces one immutable SST file. Keys must be written in
// strictly ascending order; the writer does not sort.
type Writer struct {
	f                *os.File
	maxDataBlockSize int
	block            *blockBuilder
	index            []indexEntry
	minKey, maxKey   []byte
	bloom            *bloom.BloomFilter
	expectedKeyCount uint
}

// NewWriter creates the SST file at path. expectedKeyCount sizes the
// bloom filter via bloom.NewWithEstimates.
func NewWriter(path string, expectedKeyCount uint) (*Writer, error) {
	if expectedKeyCount == 0 {
		expectedKeyCount = 1
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: create sst %s: %w", path, err)
	}
	return &Writer{
		f:                f,
		maxDataBlockSize: defaultMaxDataBlockSize,
		block:            newBlockBuilder(),
		bloom:            bloom.NewWithEstimates(expectedKeyCount, 0.01),
		expectedKeyCount: expectedKeyCount,
	}, nil
}

// Write appends one entry. Entries must arrive key-ascending.
func (w *Writer) Write(op Operation, key, value []byte) error {
	if w.minKey == nil || bytes.Compare(key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), key...)
	}
	if w.maxKey == nil || bytes.Compare(key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), key...)
	}

	entrySize := 4 + 4 + 1 + len(key) + len(value)
	if w.block.len()+entrySize > w.maxDataBlockSize && !w.block.empty() {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	w.block.append(op, key, value)
	w.bloom.Add(key)
	return nil
}

// flushBlock blits the current block's already-encoded payload plus
// its running CRC to the file, length-prefixed, and records the
// block's first key and file span in the sparse index.
func (w *Writer) flushBlock() error {
	blockStart, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	payload := w.block.buf.Bytes()
	if err := binary.Write(w.f, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := w.f.Write(payload); err != nil {
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.block.crc.Sum32()); err != nil {
		return err
	}

	w.index = append(w.index, indexEntry{
		key:         w.block.firstKey,
		blockOffset: blockStart,
		blockSize:   4 + uint32(len(payload)) + 4,
	})

	w.block = newBlockBuilder()
	return nil
}

func (w *Writer) writeIndexBlock() (offset int64, size uint32, err error) {
	start, _ := w.f.Seek(0, io.SeekCurrent)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(w.index))); err != nil {
		return 0, 0, err
	}
	for _, e := range w.index {
		_ = binary.Write(mw, binary.LittleEndian, uint32(len(e.key)))
		_, _ = mw.Write(e.key)
		_ = binary.Write(mw, binary.LittleEndian, e.blockOffset)
		_ = binary.Write(mw, binary.LittleEndian, e.blockSize)
	}
	_ = binary.Write(w.f, binary.LittleEndian, crc.Sum32())

	end, _ := w.f.Seek(0, io.SeekCurrent)
	return start, uint32(end - start), nil
}

func (w *Writer) writeBloom() (offset int64, size uint32, err error) {
	start, _ := w.f.Seek(0, io.SeekCurrent)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(w.bloom.K())); err != nil {
		return 0, 0, err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(w.bloom.Cap())); err != nil {
		return 0, 0, err
	}
	if _, err := w.bloom.WriteTo(mw); err != nil {
		return 0, 0, err
	}
	_ = binary.Write(w.f, binary.LittleEndian, crc.Sum32())

	end, _ := w.f.Seek(0, io.SeekCurrent)
	return start, uint32(end - start), nil
}

func (w *Writer) writeFooter(indexOffset int64, indexSize uint32, bloomOffset int64, bloomSize uint32) error {
	// The min/max key bytes go ahead of the footer so the footer itself
	// stays a fixed 48 bytes at the end of the file.
	minKeyOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	maxKeyOffset := minKeyOffset + int64(len(w.minKey))
	if _, err := w.f.Write(w.minKey); err != nil {
		return err
	}
	if _, err := w.f.Write(w.maxKey); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	_ = binary.Write(mw, binary.LittleEndian, indexOffset)
	_ = binary.Write(mw, binary.LittleEndian, indexSize)
	_ = binary.Write(mw, binary.LittleEndian, bloomOffset)
	_ = binary.Write(mw, binary.LittleEndian, bloomSize)
	_ = binary.Write(mw, binary.LittleEndian, minKeyOffset)
	_ = binary.Write(mw, binary.LittleEndian, uint16(len(w.minKey)))
	_ = binary.Write(mw, binary.LittleEndian, maxKeyOffset)
	_ = binary.Write(mw, binary.LittleEndian, uint16(len(w.maxKey)))

	return binary.Write(w.f, binary.LittleEndian, crc.Sum32())
}

// Close flushes any pending block and writes the index/bloom/footer,
// then closes the file. It returns the min/max key range written,
// for the caller to record in its own manifest.
func (w *Writer) Close() (minKey, maxKey []byte, err error) {
	defer w.f.Close()

	if !w.block.empty() {
		if err := w.flushBlock(); err != nil {
			return nil, nil, err
		}
	}
	indexOffset, indexSize, err := w.writeIndexBlock()
	if err != nil {
		return nil, nil, err
	}
	bloomOffset, bloomSize, err := w.writeBloom()
	if err != nil {
		return nil, nil, err
	}
	if err := w.writeFooter(indexOffset, indexSize, bloomOffset, bloomSize); err != nil {
		return nil, nil, err
	}
	return w.minKey, w.maxKey, nil
}

// Empty reports whether no entries have been written yet (and
// nothing would be flushed by Close beyond an empty footer).
func (w *Writer) Empty() bool { return w.block.empty() && len(w.index) == 0 }
