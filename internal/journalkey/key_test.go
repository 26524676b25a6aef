package journalkey

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []Key{
		{SQN: 1, Kind: KindStnd, LedgerKey: []byte("Key1")},
		{SQN: 9999999999, Kind: KindTomb, LedgerKey: []byte{}},
		{SQN: 42, Kind: KindKeyd, LedgerKey: []byte{0, 1, 2, 3}},
	}

	for _, tt := range tests {
		buf := Encode(tt)
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.SQN != tt.SQN || got.Kind != tt.Kind || !bytes.Equal(got.LedgerKey, tt.LedgerKey) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, tt)
		}
	}
}

func TestDecodeRejectsShortKey(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short key")
	}
}

func TestKindStrings(t *testing.T) {
	for _, k := range []Kind{KindStnd, KindTomb, KindKeyd} {
		parsed, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%s): %v", k.String(), err)
		}
		if parsed != k {
			t.Fatalf("ParseKind(%s) = %v, want %v", k.String(), parsed, k)
		}
	}
}

func TestSQNAndLedgerKey(t *testing.T) {
	k := Key{SQN: 7, Kind: KindStnd, LedgerKey: []byte("Key7")}
	buf := Encode(k)

	sqn, lk, err := SQNAndLedgerKey(buf)
	if err != nil {
		t.Fatal(err)
	}
	if sqn != 7 || !bytes.Equal(lk, []byte("Key7")) {
		t.Fatalf("got (%d, %s)", sqn, lk)
	}
}
