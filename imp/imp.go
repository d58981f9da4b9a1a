// Package imp implements the Impl tree: the realized (possibly partial)
// implementation of a Spec, made of tile/loop/move/kernel nodes whose
// leaves are either terminal kernels or unresolved sub-Spec applications.
package imp

import (
	"github.com/ken-matsui/morello/spec"
)

// Op names the shape of one Impl node. The search engine only ever
// distinguishes SpecApp (a leaf awaiting a sub-Spec's resolved cost) from
// everything else; all other kinds are opaque structure folded by the cost
// model.
type Op int

const (
	// OpSpecApp is a leaf that still depends on the resolved cost of a
	// sub-Spec.
	OpSpecApp Op = iota
	// OpKernel is a leaf with no further sub-Specs: a terminal, directly
	// costed implementation (e.g. a vectorized memcpy or a hardware
	// matmul intrinsic).
	OpKernel
	// OpLoop is a tiling/looping node wrapping one body child.
	OpLoop
	// OpBlock is a generic internal node with an ordered list of children
	// (e.g. the two operands of a Move, or the peeled prologue/steady-state
	// pair of a composed Spec).
	OpBlock
)

func (o Op) String() string {
	switch o {
	case OpSpecApp:
		return "SpecApp"
	case OpKernel:
		return "Kernel"
	case OpLoop:
		return "Loop"
	case OpBlock:
		return "Block"
	default:
		return "Unknown"
	}
}

// Node is one node of an Impl tree.
type Node struct {
	Op       Op
	Children []*Node

	// SubSpec is set only when Op == OpSpecApp: the sub-Spec this leaf is
	// waiting on a resolved Cost for.
	SubSpec *spec.Spec

	// KernelName labels an OpKernel leaf for logging/pretty-printing; it
	// does not participate in costing beyond what the cost model derives
	// from the node's annotations below.
	KernelName string

	// Annotations carries whatever the cost model needs to fold this
	// node's own contribution (distinct from its children): e.g. a loop
	// trip count, a kernel's intrinsic cycle estimate, a move's byte
	// count. The cost model (package cost) is the only reader.
	Annotations map[string]float64
}

// NewSpecApp builds a leaf Impl node awaiting the given sub-Spec.
func NewSpecApp(s spec.Spec) *Node {
	return &Node{Op: OpSpecApp, SubSpec: &s}
}

// NewKernel builds a terminal, fully-resolved Impl leaf.
func NewKernel(name string, annotations map[string]float64) *Node {
	return &Node{Op: OpKernel, KernelName: name, Annotations: annotations}
}

// NewLoop wraps body in a single-child tiling/looping node.
func NewLoop(annotations map[string]float64, body *Node) *Node {
	return &Node{Op: OpLoop, Children: []*Node{body}, Annotations: annotations}
}

// NewBlock assembles a generic internal node from ordered children.
func NewBlock(annotations map[string]float64, children ...*Node) *Node {
	return &Node{Op: OpBlock, Children: children, Annotations: annotations}
}

// VisitSubSpecs walks the tree in a stable, deterministic order (depth
// first, children left to right) and calls visit for every OpSpecApp leaf's
// sub-Spec. It stops early if visit returns false. This satisfies the
// spec.ImplNode contract.
func (n *Node) VisitSubSpecs(visit func(spec.Spec) bool) {
	n.visitSubSpecs(visit)
}

// visitSubSpecs reports whether the walk ran to completion (false once
// visit asks to stop).
func (n *Node) visitSubSpecs(visit func(spec.Spec) bool) bool {
	if n == nil {
		return true
	}
	if n.Op == OpSpecApp {
		if n.SubSpec != nil {
			return visit(*n.SubSpec)
		}
		return true
	}
	for _, c := range n.Children {
		if !c.visitSubSpecs(visit) {
			return false
		}
	}
	return true
}

// SubSpecs collects VisitSubSpecs into a slice, in the same stable order.
func (n *Node) SubSpecs() []spec.Spec {
	var out []spec.Spec
	n.VisitSubSpecs(func(s spec.Spec) bool {
		out = append(out, s)
		return true
	})
	return out
}

// IsComplete reports whether the Impl has no remaining SpecApp leaves, i.e.
// is fully resolved and costable directly via cost.FromImpl.
func (n *Node) IsComplete() bool {
	complete := true
	n.VisitSubSpecs(func(spec.Spec) bool {
		complete = false
		return false
	})
	return complete
}
