package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// sstFileNamePattern matches "<prefix>_<level>_<counter>.sst": a
// (level, counter) pair so every LSM level keeps its own sequence,
// rather than a single flat numeric ID.
var sstFileNamePattern = regexp.MustCompile(`_(\d+)_(\d+)\.sst$`)

const SSTFileSuffix = ".sst"

// Allocator hands out fresh SST file paths per level, discovering the
// highest existing counter at each level by scanning the directory on
// construction.
type Allocator struct {
	dir    string
	prefix string
	next   map[int]int
}

// NewAllocator scans dir for files ending in "_<level>_<counter>.sst"
// and seeds each level's counter one past the highest found. The
// filename prefix is not checked, so files of any prefix in dir count.
func NewAllocator(dir, prefix string) (*Allocator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: allocator dir %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	next := map[int]int{}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		matches := sstFileNamePattern.FindStringSubmatch(ent.Name())
		if len(matches) != 3 {
			continue
		}
		level, lerr := strconv.Atoi(matches[1])
		counter, cerr := strconv.Atoi(matches[2])
		if lerr != nil || cerr != nil {
			continue
		}
		if counter+1 > next[level] {
			next[level] = counter + 1
		}
	}

	return &Allocator{dir: dir, prefix: prefix, next: next}, nil
}

// Alloc returns the next fresh path for level, advancing that level's
// counter.
func (a *Allocator) Alloc(level int) string {
	counter := a.next[level]
	a.next[level] = counter + 1
	name := fmt.Sprintf("%s_%d_%d%s", a.prefix, level, counter, SSTFileSuffix)
	return filepath.Join(a.dir, name)
}

// ListLevel returns every "_<level>_<counter>.sst" path in dir at level
// (whatever its filename prefix), sorted
// by counter ascending (construction order, which for sealed SSTs is
// also recency order within the level).
func (a *Allocator) ListLevel(level int) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	type found struct {
		counter int
		path    string
	}
	var matches []found
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		m := sstFileNamePattern.FindStringSubmatch(ent.Name())
		if len(m) != 3 {
			continue
		}
		lvl, lerr := strconv.Atoi(m[1])
		if lerr != nil || lvl != level {
			continue
		}
		counter, cerr := strconv.Atoi(m[2])
		if cerr != nil {
			continue
		}
		matches = append(matches, found{counter: counter, path: filepath.Join(a.dir, ent.Name())})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].counter < matches[j].counter })

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	return paths, nil
}
