package primitives_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ken-matsui/morello/imp"
	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/primitives"
	"github.com/ken-matsui/morello/spec"
)

func bigLimits() memory.Limits {
	return memory.Limits{1 << 30, 1 << 20, 1 << 16}
}

func TestCanonicalizeRejectsZeroDimension(t *testing.T) {
	m := primitives.NewMatmul(0, 4, 4, primitives.U8, true)
	require.Error(t, m.Canonicalize())
}

func TestCanonicalizeIdempotent(t *testing.T) {
	m := primitives.NewMatmul(4, 4, 4, primitives.U8, true)
	require.NoError(t, m.Canonicalize())
	require.True(t, m.IsCanonical())
	require.NoError(t, m.Canonicalize())
	require.True(t, m.IsCanonical())
}

func TestNoActionReintroducesItsOwnSpec(t *testing.T) {
	// No applied action may introduce a sub-Spec equal to the Spec it was
	// applied to: a within-level move (or an identity tile) would make the
	// search graph cyclic.
	m := primitives.NewMove(primitives.Shape{4, 4}, primitives.U8, primitives.L1, primitives.RF, true)
	s := spec.New(m, bigLimits())
	for _, a := range m.Actions(nil) {
		node, err := a.Apply(s)
		if err != nil {
			continue
		}
		n := node.(*imp.Node)
		for _, ss := range n.SubSpecs() {
			require.NotEqual(t, s.Key(), ss.Key(),
				"action %s reintroduced its own Spec", a)
		}
	}
}

func TestKernelActionRequiresSmallResidentShape(t *testing.T) {
	// Non-accumulating Matmul with operands at GL (its volume of 64 is
	// within the kernel threshold): the terminal kernel action must refuse.
	m := primitives.NewMatmul(4, 4, 4, primitives.U8, true)
	s := spec.New(m, bigLimits())
	actions := m.Actions(nil)
	kernelFound := false
	for _, a := range actions {
		if a.String() == "kernel_Matmul_accum" {
			kernelFound = true
			_, err := a.Apply(s)
			require.Error(t, err, "non-accumulating, non-resident Matmul should not admit a terminal kernel")
		}
	}
	require.True(t, kernelFound, "terminal kernel action should be enumerated for every spec")
}

func TestKernelActionAppliesWhenResidentAndSmall(t *testing.T) {
	m := primitives.NewMatmul(2, 2, 2, primitives.U8, true)
	m.Accum = true
	for i := range m.Operands {
		m.Operands[i].Level = primitives.RF
	}
	s := spec.New(m, bigLimits())
	for _, a := range m.Actions(nil) {
		if a.String() == "kernel_Matmul_accum" {
			node, err := a.Apply(s)
			require.NoError(t, err)
			n := node.(*imp.Node)
			require.True(t, n.IsComplete())
			return
		}
	}
	t.Fatal("kernel_Matmul_accum action not found")
}

func TestSplitKOnlyAppliesToAccumulatingMatmul(t *testing.T) {
	m := primitives.NewMatmul(4, 16, 4, primitives.U8, true)

	// Non-accumulating: split-k is not even enumerated.
	for _, a := range m.Actions(nil) {
		require.NotEqual(t, "Split(k=8)", a.String())
	}

	m.Accum = true
	s := spec.New(m, bigLimits())
	found := false
	for _, a := range m.Actions(nil) {
		if a.String() == "Split(k=8)" {
			found = true
			_, err := a.Apply(s)
			require.NoError(t, err)
		}
	}
	require.True(t, found)
}

func TestToAccumIntroducesZeroAndAccumulatingSpecs(t *testing.T) {
	m := primitives.NewMatmul(4, 4, 4, primitives.U8, true)
	s := spec.New(m, bigLimits())
	var toAccum spec.Action
	for _, a := range m.Actions(nil) {
		if a.String() == "ToAccum" {
			toAccum = a
		}
	}
	require.NotNil(t, toAccum)

	node, err := toAccum.Apply(s)
	require.NoError(t, err)
	n := node.(*imp.Node)
	subs := n.SubSpecs()
	require.Len(t, subs, 2)

	zeroKind := subs[0].Logical.(*primitives.PrimitiveSpec).Kind()
	accumKind := subs[1].Logical.(*primitives.PrimitiveSpec).Kind()
	require.Equal(t, spec.KindZero, zeroKind)
	require.Equal(t, spec.KindMatmul, accumKind)
	require.True(t, subs[1].Logical.(*primitives.PrimitiveSpec).Accum)
}

func TestActionsAreDeterministicOrder(t *testing.T) {
	m1 := primitives.NewMatmul(8, 8, 8, primitives.U8, false)
	m2 := primitives.NewMatmul(8, 8, 8, primitives.U8, false)

	a1 := m1.Actions(nil)
	a2 := m2.Actions(nil)
	require.Equal(t, len(a1), len(a2))
	for i := range a1 {
		require.Equal(t, a1[i].String(), a2[i].String())
	}
}

func TestActionRotationPreservesStableActionIdx(t *testing.T) {
	// Enumeration order must be fixed for a given logical spec regardless
	// of thread rotation — rotation is applied by the caller (SpecTask),
	// not by LogicalSpec.Actions itself.
	m := primitives.NewMatmul(8, 8, 8, primitives.U8, false)
	a := m.Actions(nil)
	b := m.Actions(nil)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].String(), b[i].String())
	}
}
