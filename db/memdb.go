package db

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/spec"
)

// pagesPerFamily is the width of one page's memory-limits bucket: two Specs
// with the same logical spec share a page when the sums of their limits
// vectors, divided by pagesPerFamily, are equal. Grouping a handful of nearby memory
// limits onto the same page is what lets BlockSearch batch related Specs;
// a production on-disk layout would downscale the full limits grid, so
// this reference implementation buckets by a fixed divisor for the same
// effect without the grid machinery.
const pagesPerFamily = 4096

// memPageId is the in-memory Database's PageId: a logical spec family plus
// a coarse memory-limits bucket.
type memPageId struct {
	family string
	bucket uint64
}

func (p memPageId) Contains(s spec.Spec) bool {
	return p == pageFor(s)
}

func (p memPageId) Equal(other PageId) bool {
	o, ok := other.(memPageId)
	return ok && o == p
}

func (p memPageId) String() string {
	return p.family + "#" + itoa(p.bucket)
}

// Prefix returns the byte-sortable key prefix every Spec on this page
// shares when encoded by BadgerDatabase. Keeping this derivation here,
// alongside pageFor, means both reference Database implementations agree
// on what a "page" is.
func (p memPageId) Prefix() []byte {
	return []byte(p.family + "#" + itoa(p.bucket) + "/")
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func pageFor(s spec.Spec) memPageId {
	var sum uint64
	for _, l := range s.Limits {
		sum += l
	}
	return memPageId{family: s.Logical.Key(), bucket: sum / pagesPerFamily}
}

// btreeEntry adapts a stored (Spec, result) pair to google/btree's Item
// interface, ordering entries by Spec key; MemDatabase's lookups and
// writes locate an entry by that key alone.
type btreeEntry struct {
	key    string
	spec   spec.Spec
	result cost.ActionCostVec
}

func (e *btreeEntry) Less(than btree.Item) bool {
	return e.key < than.(*btreeEntry).key
}

// MemDatabase is a simple, fully in-process Database, used by tests and by
// the CLI's "memory" database backend (its default). It is safe for
// concurrent use.
type MemDatabase struct {
	mu          sync.RWMutex
	tree        *btree.BTree
	maxK        int
	tilingDepth uint32
	boundedK    bool
	boundedTD   bool
	prefetched  []spec.Spec
	getCount    int
}

// NewMemDatabase constructs an empty in-memory database. maxK <= 0 and
// tilingDepth == nil mean unbounded.
func NewMemDatabase(maxK int, tilingDepth *uint32) *MemDatabase {
	d := &MemDatabase{tree: btree.New(32)}
	if maxK > 0 {
		d.maxK, d.boundedK = maxK, true
	}
	if tilingDepth != nil {
		d.tilingDepth, d.boundedTD = *tilingDepth, true
	}
	return d
}

func (d *MemDatabase) MaxK() (int, bool)         { return d.maxK, d.boundedK }
func (d *MemDatabase) TilingDepth() (uint32, bool) { return d.tilingDepth, d.boundedTD }

func (d *MemDatabase) PageID(s spec.Spec) PageId {
	return pageFor(s)
}

func (d *MemDatabase) GetWithPreference(_ context.Context, s spec.Spec) (Lookup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getCount++
	key := s.Key()
	if item := d.tree.Get(&btreeEntry{key: key}); item != nil {
		e := item.(*btreeEntry)
		return Lookup{Hit: true, Result: e.result}, nil
	}
	return Lookup{Hit: false}, nil
}

func (d *MemDatabase) Put(_ context.Context, s spec.Spec, result cost.ActionCostVec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := s.Key()
	d.tree.ReplaceOrInsert(&btreeEntry{key: key, spec: s, result: result})
	return nil
}

func (d *MemDatabase) Prefetch(s spec.Spec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefetched = append(d.prefetched, s)
}

// Len reports the number of committed entries; handy for tests checking
// dependency closure.
func (d *MemDatabase) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Len()
}

// GetCount reports how many GetWithPreference calls were made; used by
// tests spying on recursion/visit counts (S6).
func (d *MemDatabase) GetCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getCount
}

// Has reports whether a Spec's result is present, without affecting
// GetCount.
func (d *MemDatabase) Has(s spec.Spec) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Get(&btreeEntry{key: s.Key()}) != nil
}
