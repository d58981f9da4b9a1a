package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/db"
	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/spec"
)

type stubLogical struct {
	key string
}

func (s stubLogical) Kind() spec.Kind             { return spec.KindZero }
func (s stubLogical) Canonicalize() error         { return nil }
func (s stubLogical) IsCanonical() bool           { return true }
func (s stubLogical) Actions(*uint32) []spec.Action { return nil }
func (s stubLogical) Key() string                 { return s.key }
func (s stubLogical) String() string              { return s.key }

func mkSpec(key string, limits memory.Limits) spec.Spec {
	return spec.New(stubLogical{key: key}, limits)
}

func TestMemDatabaseMissThenHit(t *testing.T) {
	ctx := context.Background()
	d := db.NewMemDatabase(1, nil)
	s := mkSpec("a", memory.Limits{10})

	lookup, err := d.GetWithPreference(ctx, s)
	require.NoError(t, err)
	require.False(t, lookup.Hit)

	result := cost.ActionCostVec{{ActionIdx: 3, Cost: cost.Cost{Main: 7}}}
	require.NoError(t, d.Put(ctx, s, result))

	lookup, err = d.GetWithPreference(ctx, s)
	require.NoError(t, err)
	require.True(t, lookup.Hit)
	require.Equal(t, result, lookup.Result)
}

func TestMemDatabasePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := db.NewMemDatabase(0, nil)
	s := mkSpec("a", memory.Limits{10})
	result := cost.ActionCostVec{{ActionIdx: 1, Cost: cost.Cost{Main: 1}}}
	require.NoError(t, d.Put(ctx, s, result))
	require.NoError(t, d.Put(ctx, s, result))
	require.Equal(t, 1, d.Len())
}

func TestMemDatabasePageGrouping(t *testing.T) {
	d := db.NewMemDatabase(0, nil)
	a := mkSpec("family", memory.Limits{10})
	b := mkSpec("family", memory.Limits{20})
	c := mkSpec("other", memory.Limits{10})

	require.True(t, d.PageID(a).Equal(d.PageID(b)))
	require.False(t, d.PageID(a).Equal(d.PageID(c)))
	require.True(t, d.PageID(a).Contains(a))
	require.False(t, d.PageID(a).Contains(c))
}

func TestMemDatabaseUnboundedByDefault(t *testing.T) {
	d := db.NewMemDatabase(0, nil)
	_, bounded := d.MaxK()
	require.False(t, bounded)
	_, bounded = d.TilingDepth()
	require.False(t, bounded)
}

func TestMemDatabaseBoundedValues(t *testing.T) {
	td := uint32(3)
	d := db.NewMemDatabase(2, &td)
	maxK, bounded := d.MaxK()
	require.True(t, bounded)
	require.Equal(t, 2, maxK)
	depth, bounded := d.TilingDepth()
	require.True(t, bounded)
	require.Equal(t, uint32(3), depth)
}

func TestMemDatabasePrefetchAndGetCount(t *testing.T) {
	ctx := context.Background()
	d := db.NewMemDatabase(0, nil)
	s := mkSpec("a", memory.Limits{10})
	_, _ = d.GetWithPreference(ctx, s)
	_, _ = d.GetWithPreference(ctx, s)
	require.Equal(t, 2, d.GetCount())

	require.False(t, d.Has(s))
	d.Prefetch(s)
	// Prefetch on MemDatabase is a recorded no-op (no background I/O to
	// warm); it must not affect GetCount or Has.
	require.Equal(t, 2, d.GetCount())
	require.False(t, d.Has(s))
}
