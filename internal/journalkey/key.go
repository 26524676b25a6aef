// Package journalkey implements the journal key tuple: (SQN, Kind, LedgerKey).
//
// SQN is the producer-assigned sequence number, Kind distinguishes a
// standard value record from a tombstone or a key-delta-only record,
// and LedgerKey is the opaque identifier of the logical object the
// ledger uses. The on-disk encoding is what segment records hash and
// compare against; it is not meant to sort lexicographically.
package journalkey

import (
	"encoding/binary"
	"fmt"
)

// Kind distinguishes the three record flavors a journal value can take.
type Kind byte

const (
	KindStnd Kind = iota // standard: (Object, KeyDeltas)
	KindTomb             // tombstone: empty value
	KindKeyd             // key-delta-only: (KeyDeltas)
)

func (k Kind) String() string {
	switch k {
	case KindStnd:
		return "stnd"
	case KindTomb:
		return "tomb"
	case KindKeyd:
		return "keyd"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ParseKind maps the four-character spec codes back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "stnd":
		return KindStnd, nil
	case "tomb":
		return KindTomb, nil
	case "keyd":
		return KindKeyd, nil
	default:
		return 0, fmt.Errorf("journalkey: unknown kind %q", s)
	}
}

// Key is the decoded (SQN, Kind, LedgerKey) tuple.
type Key struct {
	SQN       uint64
	Kind      Kind
	LedgerKey []byte
}

const headerLen = 9 // 8-byte SQN + 1-byte Kind

// Encode serializes the tuple as consumed by the segment record format:
// an 8-byte big-endian SQN, a 1-byte Kind tag, then the raw LedgerKey
// bytes. Big-endian SQN keeps keys for the same object monotonically
// byte-ordered, which is convenient for debugging dumps even though
// the segment's own addressing is purely hash-based.
func Encode(k Key) []byte {
	buf := make([]byte, headerLen+len(k.LedgerKey))
	binary.BigEndian.PutUint64(buf[0:8], k.SQN)
	buf[8] = byte(k.Kind)
	copy(buf[headerLen:], k.LedgerKey)
	return buf
}

// Decode is from_journal_key: it recovers the tuple from a serialized
// journal key. It returns an error if buf is too short to contain the
// fixed header.
func Decode(buf []byte) (Key, error) {
	if len(buf) < headerLen {
		return Key{}, fmt.Errorf("journalkey: short key (%d bytes)", len(buf))
	}
	sqn := binary.BigEndian.Uint64(buf[0:8])
	kind := Kind(buf[8])
	ledgerKey := make([]byte, len(buf)-headerLen)
	copy(ledgerKey, buf[headerLen:])
	return Key{SQN: sqn, Kind: kind, LedgerKey: ledgerKey}, nil
}

// SQNAndLedgerKey is the convenience form the compactor's filter
// predicate consumes: from_journal_key minus the Kind, since the
// filter only ever cares whether (ledgerKey, sqn) is still live.
func SQNAndLedgerKey(buf []byte) (sqn uint64, ledgerKey []byte, err error) {
	k, err := Decode(buf)
	if err != nil {
		return 0, nil, err
	}
	return k.SQN, k.LedgerKey, nil
}
