package spec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/spec"
)

type stubLogical struct {
	kind       spec.Kind
	canonical  bool
	canonErr   error
}

func (s *stubLogical) Kind() spec.Kind { return s.kind }
func (s *stubLogical) Canonicalize() error {
	if s.canonErr != nil {
		return s.canonErr
	}
	s.canonical = true
	return nil
}
func (s *stubLogical) IsCanonical() bool              { return s.canonical }
func (s *stubLogical) Actions(*uint32) []spec.Action  { return nil }
func (s *stubLogical) Key() string                    { return "stub" }
func (s *stubLogical) String() string                 { return "stub" }

func TestSpecCanonicalizeDelegates(t *testing.T) {
	logical := &stubLogical{kind: spec.KindZero}
	s := spec.New(logical, memory.Limits{1, 2})
	require.False(t, s.IsCanonical())
	require.NoError(t, s.Canonicalize())
	require.True(t, s.IsCanonical())
}

func TestSpecKeyCombinesLogicalAndLimits(t *testing.T) {
	a := spec.New(&stubLogical{kind: spec.KindZero}, memory.Limits{1, 2})
	b := spec.New(&stubLogical{kind: spec.KindZero}, memory.Limits{1, 3})
	require.NotEqual(t, a.Key(), b.Key())
}

func TestApplyErrorKinds(t *testing.T) {
	na := spec.NotApplicableErr("nope")
	require.Equal(t, spec.NotApplicable, na.Kind)

	oom := spec.OutOfMemoryErr("too big")
	require.Equal(t, spec.OutOfMemory, oom.Kind)

	nc := spec.NotCanonicalErr("not canonical")
	require.Equal(t, spec.NotCanonical, nc.Kind)
	require.Contains(t, nc.Error(), "not canonical")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Matmul", spec.KindMatmul.String())
	require.Equal(t, "Conv", spec.KindConv.String())
	require.Equal(t, "Move", spec.KindMove.String())
	require.Equal(t, "Zero", spec.KindZero.String())
}
