package segment

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// ErrCorruptRecord is returned by decodeRecord when a header cannot be
// read, a length is nonsensical, or the record is cut short. A stored
// CRC that does not match the recomputed one is reported through
// decodedRecord.crcOK instead. Callers (the writer's recovery scan and
// the reader's linear scan) treat either outcome as the end of the
// readable records: stop at that position.
var ErrCorruptRecord = errors.New("segment: corrupt record")

const recordHeaderLen = 8 // KeyLen(4) + ValLen(4), both little-endian
const crcLen = 4

// encodeRecord serializes one record as:
// KeyLen(4 LE) | ValLen(4 LE) | Key | CRC(4 BE over Value) | Value.
// ValLen is len(value)+4, i.e. it includes the CRC field width.
func encodeRecord(key, value []byte) []byte {
	valLen := uint32(len(value) + crcLen)
	total := recordHeaderLen + len(key) + int(valLen)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[4:8], valLen)

	off := recordHeaderLen
	copy(buf[off:off+len(key)], key)
	off += len(key)

	crc := crc32.ChecksumIEEE(value)
	binary.BigEndian.PutUint32(buf[off:off+crcLen], crc)
	off += crcLen
	copy(buf[off:], value)

	return buf
}

// recordSize returns the number of bytes encodeRecord(key, value)
// would produce, without allocating — used by put to check the
// max_file_size bound before committing to a write.
func recordSize(key, value []byte) int64 {
	return int64(recordHeaderLen + len(key) + len(value) + crcLen)
}

type decodedRecord struct {
	key    []byte
	value  []byte
	crcOK  bool
	length int64 // total on-disk length of this record
}

// decodeRecord reads one record at pos from r. wantValue controls
// whether the value bytes are read and CRC-verified (direct_fetch's
// "key only" mode skips this for speed);
// when wantValue is false, crcOK is always false and value is nil.
//
// Any short read or an implausible header is reported as
// ErrCorruptRecord so callers can uniformly truncate/stop.
func decodeRecord(r io.ReaderAt, pos int64, wantValue bool) (decodedRecord, error) {
	var hdr [recordHeaderLen]byte
	n, err := r.ReadAt(hdr[:], pos)
	if n < recordHeaderLen {
		return decodedRecord{}, ErrCorruptRecord
	}
	if err != nil && err != io.EOF {
		return decodedRecord{}, err
	}

	keyLen := binary.LittleEndian.Uint32(hdr[0:4])
	valLen := binary.LittleEndian.Uint32(hdr[4:8])
	if valLen < crcLen {
		return decodedRecord{}, ErrCorruptRecord
	}

	key := make([]byte, keyLen)
	kn, err := r.ReadAt(key, pos+recordHeaderLen)
	if kn < int(keyLen) {
		return decodedRecord{}, ErrCorruptRecord
	}
	if err != nil && err != io.EOF {
		return decodedRecord{}, err
	}

	total := int64(recordHeaderLen) + int64(keyLen) + int64(valLen)

	if !wantValue {
		return decodedRecord{key: key, length: total}, nil
	}

	crcAndValue := make([]byte, valLen)
	vn, err := r.ReadAt(crcAndValue, pos+recordHeaderLen+int64(keyLen))
	if vn < int(valLen) {
		return decodedRecord{}, ErrCorruptRecord
	}
	if err != nil && err != io.EOF {
		return decodedRecord{}, err
	}

	storedCRC := binary.BigEndian.Uint32(crcAndValue[0:crcLen])
	value := crcAndValue[crcLen:]
	crcOK := crc32.ChecksumIEEE(value) == storedCRC

	return decodedRecord{key: key, value: value, crcOK: crcOK, length: total}, nil
}
