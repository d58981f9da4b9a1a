package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimitsLessEq(t *testing.T) {
	a := Limits{1, 2, 3}
	b := Limits{2, 2, 3}
	require.True(t, a.LessEq(b))
	require.False(t, b.LessEq(a))
	require.True(t, a.LessEq(a))
}

func TestLimitsLessEqDifferentLength(t *testing.T) {
	require.False(t, Limits{1, 2}.LessEq(Limits{1, 2, 3}))
}

func TestLimitsEqual(t *testing.T) {
	require.True(t, Limits{1, 2}.Equal(Limits{1, 2}))
	require.False(t, Limits{1, 2}.Equal(Limits{1, 3}))
	require.False(t, Limits{1, 2}.Equal(Limits{1, 2, 3}))
}

func TestLimitsClone(t *testing.T) {
	a := Limits{1, 2, 3}
	b := a.Clone()
	b[0] = 99
	require.Equal(t, Limits{1, 2, 3}, a)
	require.Equal(t, Limits{99, 2, 3}, b)
}

func TestLimitsKeyDistinguishesVectors(t *testing.T) {
	require.Equal(t, Limits{1, 2}.Key(), Limits{1, 2}.Key())
	require.NotEqual(t, Limits{1, 2}.Key(), Limits{1, 3}.Key())
	require.NotEqual(t, Limits{1, 2}.Key(), Limits{2, 1}.Key())
}

func TestMaxComponentwise(t *testing.T) {
	require.Equal(t, Limits{5, 4, 3}, Max(Limits{1, 4, 3}, Limits{5, 2, 0}))
}

func TestMaxUnequalLength(t *testing.T) {
	require.Equal(t, Limits{5, 4, 3}, Max(Limits{5, 4}, Limits{0, 0, 3}))
}

func TestZero(t *testing.T) {
	require.Equal(t, Limits{0, 0, 0}, Zero(3))
}

func TestLimitsString(t *testing.T) {
	require.Contains(t, Limits{1024}.String(), "1")
}
