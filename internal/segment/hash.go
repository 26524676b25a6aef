package segment

import "github.com/leveled-go/journal/internal/hashfn"

// recordHash is the hash used to place and probe records in the
// segment's hash table: DJB2 over the serialized journal key.
func recordHash(key []byte) uint32 {
	return hashfn.DJB2(key)
}
