// Package cost implements the Cost data model and the pure
// Impl-costing functions the engine calls out to. The actual cost
// numbers assigned to kernels and loops are a property of the target's cost
// model; this package only fixes Cost's shape (a totally ordered tuple) and
// the generic fold that walks a partial Impl given its children's already
// resolved costs. It is an external collaborator of the search engine in
// the same sense as package db: the engine calls it, never the reverse.
package cost

import (
	"fmt"

	"github.com/ken-matsui/morello/imp"
	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/spec"
)

// Cost is a totally ordered tuple (main-cost scalar, peak-memory vector,
// depth). Comparison is lexicographic, with the peak-memory vector
// compared by the sum of its slots (see Compare).
type Cost struct {
	Main  uint64
	Peaks memory.Limits
	Depth uint32
}

// Compare returns -1, 0, or 1 as c sorts before, equal to, or after other,
// lexicographically by (Main, sum of Peaks, Depth). Two peak vectors with
// the same sum compare equal.
func (c Cost) Compare(other Cost) int {
	if c.Main != other.Main {
		if c.Main < other.Main {
			return -1
		}
		return 1
	}
	cp, op := peakSum(c.Peaks), peakSum(other.Peaks)
	if cp != op {
		if cp < op {
			return -1
		}
		return 1
	}
	if c.Depth != other.Depth {
		if c.Depth < other.Depth {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports c < other under Compare's ordering.
func (c Cost) Less(other Cost) bool { return c.Compare(other) < 0 }

func peakSum(l memory.Limits) uint64 {
	var sum uint64
	for _, v := range l {
		sum += v
	}
	return sum
}

func (c Cost) String() string {
	return fmt.Sprintf("Cost{main=%d peaks=%s depth=%d}", c.Main, c.Peaks, c.Depth)
}

// ActionIdxCost pairs an ActionIdx with the Cost of the Impl that action
// produced. This is the element type of an ActionCostVec.
type ActionIdxCost struct {
	ActionIdx spec.ActionIdx
	Cost      Cost
}

// ActionCostVec is an ordered sequence of (ActionIdx, Cost) pairs of length
// at most top_k. An empty vector denotes unsatisfiable.
type ActionCostVec []ActionIdxCost

// Unsat reports whether this vector represents "no legal implementation".
func (v ActionCostVec) Unsat() bool { return len(v) == 0 }

// BestCost returns the first (best) entry's Cost, used by waiters who only
// care about a single resolved cost regardless of top_k.
func (v ActionCostVec) BestCost() (Cost, bool) {
	if len(v) == 0 {
		return Cost{}, false
	}
	return v[0].Cost, true
}

// FromImpl computes the Cost of a *complete* Impl (no remaining SpecApp
// leaves) directly from its own structure — the base case of the fold
// implemented by ComputeImplCost. Terminal kernels contribute their own
// annotated cost; composite nodes sum their children's (already-complete)
// costs and add their own overhead.
func FromImpl(n *imp.Node) Cost {
	return ComputeImplCost(n, nil)
}

// ComputeImplCost folds a (possibly partial) Impl given the resolved costs
// of its sub-Specs, supplied in the same order imp.Node.VisitSubSpecs
// yields them. This is the one place the engine's SpecTask calls
// into the cost model once every child slot of a partial Impl is filled.
func ComputeImplCost(n *imp.Node, subSpecCosts []Cost) Cost {
	idx := 0
	return computeImplCostRec(n, subSpecCosts, &idx)
}

func computeImplCostRec(n *imp.Node, subSpecCosts []Cost, idx *int) Cost {
	if n == nil {
		return Cost{}
	}
	switch n.Op {
	case imp.OpSpecApp:
		c := subSpecCosts[*idx]
		*idx++
		return c
	case imp.OpKernel:
		return Cost{
			Main:  uint64(n.Annotations["cycles"]),
			Peaks: memory.Limits{uint64(n.Annotations["bytes"])},
			Depth: 1,
		}
	default:
		var mainSum uint64
		var peaks memory.Limits
		var maxDepth uint32
		for _, child := range n.Children {
			cc := computeImplCostRec(child, subSpecCosts, idx)
			mainSum += cc.Main
			peaks = memory.Max(peaks, cc.Peaks)
			if cc.Depth > maxDepth {
				maxDepth = cc.Depth
			}
		}
		mainSum += uint64(n.Annotations["overhead"])
		return Cost{Main: mainSum, Peaks: peaks, Depth: maxDepth + 1}
	}
}
