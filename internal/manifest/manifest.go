// Package manifest implements the totally-ordered list of live
// segment metadata tuples, persisted as an opaque serialization of the
// manifest list written atomically by truncate-rewrite via
// github.com/natefinch/atomic.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Entry is one (low_sqn, filename, owner) manifest tuple.
type Entry struct {
	LowSQN   uint64
	Filename string
	Owner    string
}

// Manifest holds the total order of live segments and the monotonic
// manSQN counter handed back by update_manifest.
type Manifest struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	manSQN  uint64
}

// New creates an empty manifest that will persist to path.
func New(path string) *Manifest {
	return &Manifest{path: path}
}

// Load reads a manifest previously written by Persist. A missing file
// is not an error: it is treated as an empty manifest, matching a
// freshly initialized journal directory.
func Load(path string) (*Manifest, error) {
	m := &Manifest{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		manSQN, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("manifest: bad manSQN header: %w", err)
		}
		m.manSQN = manSQN
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("manifest: malformed entry line %q", line)
		}
		lowSQN, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("manifest: bad low_sqn %q: %w", parts[0], err)
		}
		m.entries = append(m.entries, Entry{LowSQN: lowSQN, Filename: parts[1], Owner: parts[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sortEntries(m.entries)
	return m, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].LowSQN < entries[j].LowSQN })
}

// Entries returns a copy of the manifest, total-ordered by low_sqn.
func (m *Manifest) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ActiveEntry returns the highest-low_sqn entry: the manifest head,
// which is always the currently writable segment.
func (m *Manifest) ActiveEntry() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[len(m.entries)-1], true
}

// EntriesExcludingActive returns every entry except the manifest
// head — the snapshot the compactor is handed, since it never
// rewrites the currently-writable segment.
func (m *Manifest) EntriesExcludingActive() []Entry {
	all := m.Entries()
	if len(all) == 0 {
		return nil
	}
	return all[:len(all)-1]
}

// Apply implements update_manifest(adds, removes): adds new entries,
// removes entries by filename, re-sorts by low_sqn, bumps manSQN, and
// persists. It returns the new manSQN.
func (m *Manifest) Apply(adds []Entry, removeFilenames []string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removeSet := make(map[string]bool, len(removeFilenames))
	for _, f := range removeFilenames {
		removeSet[f] = true
	}

	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if !removeSet[e.Filename] {
			kept = append(kept, e)
		}
	}
	kept = append(kept, adds...)
	sortEntries(kept)
	m.entries = kept
	m.manSQN++

	if err := m.persistLocked(); err != nil {
		return 0, err
	}
	return m.manSQN, nil
}

// ManSQN returns the current manifest sequence number.
func (m *Manifest) ManSQN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manSQN
}

// Persist writes the manifest to disk via truncate-rewrite, atomically.
func (m *Manifest) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Manifest) persistLocked() error {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d\n", m.manSQN)
	for _, e := range m.entries {
		fmt.Fprintf(&buf, "%d\t%s\t%s\n", e.LowSQN, e.Filename, e.Owner)
	}
	return atomic.WriteFile(m.path, strings.NewReader(buf.String()))
}
