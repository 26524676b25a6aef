package orderedbuffer

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	b := New[string]()
	b.Put([]byte("b"), "2")
	b.Put([]byte("a"), "1")
	b.Put([]byte("c"), "3")

	v, ok := b.Get([]byte("a"))
	if !ok || v != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}
	if _, ok := b.Get([]byte("z")); ok {
		t.Fatal("expected missing key to miss")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	b := New[string]()
	b.Put([]byte("a"), "1")
	b.Put([]byte("a"), "2")

	if b.Len() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", b.Len())
	}
	v, _ := b.Get([]byte("a"))
	if v != "2" {
		t.Fatalf("expected overwritten value 2, got %q", v)
	}
}

func TestPutOverwritesDuplicateAtMergeBoundary(t *testing.T) {
	// Mirrors the merge loop's access pattern: keys arrive already in
	// ascending order, with a duplicate landing immediately after the
	// entry it supersedes.
	b := New[int]()
	b.Put([]byte("a"), 1)
	b.Put([]byte("b"), 2)
	b.Put([]byte("b"), 3)
	b.Put([]byte("c"), 4)

	if b.Len() != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", b.Len())
	}
	v, _ := b.Get([]byte("b"))
	if v != 3 {
		t.Fatalf("expected b=3, got %d", v)
	}
}

func TestPutOutOfOrderInsertsCorrectly(t *testing.T) {
	b := New[int]()
	for i, k := range []string{"d", "b", "a", "c"} {
		b.Put([]byte(k), i)
	}

	var got []string
	for k := range b.Drain() {
		got = append(got, string(k))
	}
	want := []string{"a", "b", "c", "d"}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestDrainYieldsAscendingOrder(t *testing.T) {
	b := New[int]()
	for _, k := range []string{"d", "b", "a", "c"} {
		b.Put([]byte(k), len(k))
	}

	var got []string
	for k := range b.Drain() {
		got = append(got, string(k))
	}
	want := []string{"a", "b", "c", "d"}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestResetClearsBuffer(t *testing.T) {
	b := New[int]()
	b.Put([]byte("a"), 1)
	b.Reset()

	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got len %d", b.Len())
	}
	if _, ok := b.Get([]byte("a")); ok {
		t.Fatal("expected key gone after reset")
	}
}
