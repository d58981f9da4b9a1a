package imp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/spec"
)

func fakeSpec(key string) spec.Spec {
	return spec.New(fakeLogical(key), memory.Limits{1, 2, 3})
}

type fakeLogical string

func (f fakeLogical) Kind() spec.Kind                          { return spec.KindZero }
func (f fakeLogical) Canonicalize() error                      { return nil }
func (f fakeLogical) IsCanonical() bool                        { return true }
func (f fakeLogical) Actions(*uint32) []spec.Action             { return nil }
func (f fakeLogical) Key() string                              { return string(f) }
func (f fakeLogical) String() string                            { return string(f) }

func TestKernelHasNoSubSpecs(t *testing.T) {
	n := NewKernel("k", map[string]float64{"cycles": 4})
	require.True(t, n.IsComplete())
	require.Empty(t, n.SubSpecs())
}

func TestSpecAppIsSingleSubSpec(t *testing.T) {
	s := fakeSpec("a")
	n := NewSpecApp(s)
	require.False(t, n.IsComplete())
	require.Equal(t, []spec.Spec{s}, n.SubSpecs())
}

func TestBlockVisitsChildrenLeftToRight(t *testing.T) {
	a, b := fakeSpec("a"), fakeSpec("b")
	n := NewBlock(nil, NewSpecApp(a), NewKernel("k", nil), NewSpecApp(b))
	require.Equal(t, []spec.Spec{a, b}, n.SubSpecs())
	require.False(t, n.IsComplete())
}

func TestLoopWrapsBodySubSpecs(t *testing.T) {
	s := fakeSpec("body")
	n := NewLoop(map[string]float64{"trips": 4}, NewSpecApp(s))
	require.Equal(t, []spec.Spec{s}, n.SubSpecs())
}

func TestVisitSubSpecsStopsEarly(t *testing.T) {
	a, b := fakeSpec("a"), fakeSpec("b")
	n := NewBlock(nil, NewSpecApp(a), NewSpecApp(b))
	var seen []spec.Spec
	n.VisitSubSpecs(func(s spec.Spec) bool {
		seen = append(seen, s)
		return false
	})
	require.Equal(t, []spec.Spec{a}, seen)
}

func TestNilNodeIsComplete(t *testing.T) {
	var n *Node
	require.True(t, n.IsComplete())
}
