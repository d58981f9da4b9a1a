// Package db defines the database contract the search engine treats as an
// external collaborator: a paging key/value store with preference
// hints. The engine only ever calls MaxK, TilingDepth, PageID,
// GetWithPreference, Put, and Prefetch; everything about how pages are laid
// out on disk, how preferences are chosen, and how prefetch is implemented
// is the database's business.
package db

import (
	"context"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/spec"
)

// PageId names the database's unit of co-location. Two Specs share a PageId
// iff they live in the same storage unit; the engine only ever uses
// Contains and Equal.
type PageId interface {
	// Contains reports whether s belongs to this page.
	Contains(s spec.Spec) bool
	// Equal reports whether other names the same page.
	Equal(other PageId) bool
	// String renders a short, stable label for logging.
	String() string
}

// Lookup is the result of GetWithPreference: either a Hit carrying a
// previously committed result, or a Miss optionally carrying a preference
// list to seed a new ImplReducer.
type Lookup struct {
	Hit         bool
	Result      cost.ActionCostVec
	Preferences []spec.ActionIdx
}

// Database is the persistent, paging key/value store backing memoization.
// Implementations must support concurrent calls from multiple synthesis
// workers; Put must be idempotent.
type Database interface {
	// MaxK reports an upper bound on top_k values this database can store,
	// or false if unbounded.
	MaxK() (int, bool)
	// TilingDepth reports the tiling-depth enumeration cap passed to
	// action generation, or false if unbounded.
	TilingDepth() (uint32, bool)
	// PageID deterministically maps a Spec to the page it would live on.
	PageID(s spec.Spec) PageId
	// GetWithPreference looks up a Spec's memoized result.
	GetWithPreference(ctx context.Context, s spec.Spec) (Lookup, error)
	// Put commits a solved Spec's result vector. Repeated puts of the same
	// (Spec, result) pair are a no-op.
	Put(ctx context.Context, s spec.Spec, result cost.ActionCostVec) error
	// Prefetch is a non-blocking hint to warm the page containing s.
	Prefetch(s spec.Spec)
}
