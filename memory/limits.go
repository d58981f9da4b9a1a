// Package memory models the per-level memory budget a Spec is allowed to
// consume: a small fixed-length vector, one slot per memory level of the
// target, compared componentwise.
package memory

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
)

// Limits is an immutable vector of byte budgets, one per memory level of the
// target (e.g. L1, RF, GL on a CPU target). Index order is target-defined;
// the engine never interprets individual slots, only the vector as a whole.
type Limits []uint64

// Clone returns an independent copy.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	copy(out, l)
	return out
}

// LessEq reports whether l is componentwise less than or equal to other.
// Used by the monotonicity property: shrinking limits never
// improves the optimal cost.
func (l Limits) LessEq(other Limits) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] > other[i] {
			return false
		}
	}
	return true
}

// Equal reports exact componentwise equality.
func (l Limits) Equal(other Limits) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns a canonical string form suitable as a map key component.
func (l Limits) Key() string {
	var sb strings.Builder
	for i, v := range l {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	return sb.String()
}

// String renders each slot as a human byte size, e.g. "[16KiB 256B]".
func (l Limits) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = units.BytesSize(float64(v))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Max returns the componentwise maximum of a and b. a and b may have
// different lengths (e.g. when folding an empty accumulator against the
// first real peak vector seen); the shorter is treated as zero-padded.
func Max(a, b Limits) Limits {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Limits, n)
	for i := 0; i < n; i++ {
		var av, bv uint64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av >= bv {
			out[i] = av
		} else {
			out[i] = bv
		}
	}
	return out
}

// Zero returns a Limits vector of n slots, all zero.
func Zero(n int) Limits {
	return make(Limits, n)
}
