package primitives

import (
	"fmt"

	"github.com/ken-matsui/morello/imp"
	"github.com/ken-matsui/morello/spec"
)

// kernelVolumeThreshold bounds how large a Spec's shape may be for a
// terminal-kernel action to apply directly; above it, a TileOut or Split
// action must shrink the Spec first. Every decomposition either strictly
// shrinks the shape, moves an operand strictly closer to RF, or turns a
// non-accumulating Matmul/Conv into an accumulating one (plus a Zero of the
// same shape), so every chain of decompositions is finite.
const kernelVolumeThreshold = 64

// defaultTilingDepth bounds how many halvings tile-out/split enumerate
// when the caller passes a nil tilingDepth (unbounded).
const defaultTilingDepth = 4

func tilingDepthOrDefault(d *uint32) uint32 {
	if d == nil {
		return defaultTilingDepth
	}
	return *d
}

// Actions implements spec.LogicalSpec.Actions, enumerating in a fixed
// order: (a) tile-out, (b) split-k, (c) move, (d) peel [not applicable to
// any primitive kind in this package — Compose specs are out of scope],
// (e) to-accum / spatial-split, (f) terminal kernels.
func (p *PrimitiveSpec) Actions(tilingDepth *uint32) []spec.Action {
	var out []spec.Action
	out = append(out, p.tileOutActions(tilingDepth)...)
	out = append(out, p.splitActions(tilingDepth)...)
	out = append(out, p.moveActions()...)
	// (d) peel actions: this package models no Compose kind.
	out = append(out, p.toAccumOrSpatialSplitActions()...)
	out = append(out, p.terminalKernelActions()...)
	return out
}

// outputIdx returns the index of the operand written by this primitive:
// the last operand for Matmul/Conv, the destination for Move, the sole
// operand for Zero.
func (p *PrimitiveSpec) outputIdx() int {
	return len(p.Operands) - 1
}

// --- (a) tile-out -----------------------------------------------------

type tileOutAction struct {
	spec     *PrimitiveSpec
	newShape Shape
	parallel bool
}

func (a *tileOutAction) String() string {
	return fmt.Sprintf("TileOut(%s parallel=%t)", a.newShape, a.parallel)
}

func (a *tileOutAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	for i, d := range a.newShape {
		if d == 0 || d > p.Shape[i] {
			return nil, spec.NotApplicableErr("tile shape %s invalid for %s", a.newShape, p.Shape)
		}
	}
	child := p.withShape(a.newShape)
	tripCount := float64(1)
	for i := range a.newShape {
		tripCount *= float64(p.Shape[i]) / float64(a.newShape[i])
	}
	body := imp.NewSpecApp(spec.New(child, s.Limits))
	return imp.NewLoop(map[string]float64{"trips": tripCount, "overhead": tripCount}, body), nil
}

// tileOutActions yields, for each dimension, a halving tile shape down to
// 1 (bounded by tilingDepth halvings), each with a serial and, unless the
// spec is serial-only, a parallel variant. A richer target would
// enumerate full multi-dimensional tile shapes; this package tiles one
// dimension at a time to keep the action count small while preserving the
// same ordering shape (all tile-outs before any move).
func (p *PrimitiveSpec) tileOutActions(tilingDepth *uint32) []spec.Action {
	var out []spec.Action
	depth := tilingDepthOrDefault(tilingDepth)
	for dim := range p.Shape {
		size := p.Shape[dim]
		cur := size
		for step := uint32(0); step < depth && cur > 1; step++ {
			cur = (cur + 1) / 2
			newShape := p.Shape.Clone()
			newShape[dim] = cur
			out = append(out, &tileOutAction{spec: p, newShape: newShape, parallel: false})
			if !p.Serial {
				out = append(out, &tileOutAction{spec: p, newShape: newShape, parallel: true})
			}
		}
	}
	return out
}

// --- (b) split-k (accumulating Matmul only) ----------------------------

type splitAction struct {
	spec *PrimitiveSpec
	newK uint32
}

func (a *splitAction) String() string { return fmt.Sprintf("Split(k=%d)", a.newK) }

func (a *splitAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	if p.kind != spec.KindMatmul || !p.Accum {
		return nil, spec.NotApplicableErr("split-k only applies to accumulating Matmul")
	}
	newShape := p.Shape.Clone()
	newShape[1] = a.newK
	child := p.withShape(newShape)
	tripCount := float64(p.Shape[1]) / float64(a.newK)
	body := imp.NewSpecApp(spec.New(child, s.Limits))
	return imp.NewLoop(map[string]float64{"trips": tripCount, "overhead": tripCount}, body), nil
}

func (p *PrimitiveSpec) splitActions(tilingDepth *uint32) []spec.Action {
	if p.kind != spec.KindMatmul || !p.Accum {
		return nil
	}
	var out []spec.Action
	depth := tilingDepthOrDefault(tilingDepth)
	k := p.Shape[1]
	cur := k
	for step := uint32(0); step < depth && cur > 1; step++ {
		cur = (cur + 1) / 2
		out = append(out, &splitAction{spec: p, newK: cur})
	}
	return out
}

// --- (c) move -----------------------------------------------------------

type moveAction struct {
	spec        *PrimitiveSpec
	operandIdx  int
	destination Level
}

func (a *moveAction) String() string {
	return fmt.Sprintf("Move(operand=%d -> %s)", a.operandIdx, a.destination)
}

func (a *moveAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	cur := p.Operands[a.operandIdx].Level
	if !a.destination.closerThan(cur) {
		// No within-level or outward moves.
		return nil, spec.NotApplicableErr("move destination %s is not closer than %s", a.destination, cur)
	}
	bytes := p.Shape.Volume() * p.Dtype.Size()
	if int(a.destination) < len(s.Limits) && bytes > s.Limits[a.destination] {
		return nil, spec.OutOfMemoryErr("moving operand %d to %s needs %d bytes, limit is %d",
			a.operandIdx, a.destination, bytes, s.Limits[a.destination])
	}
	child := p.withOperandLevel(a.operandIdx, a.destination)
	moveKernel := imp.NewKernel("move", map[string]float64{
		"cycles": float64(p.Shape.Volume()),
		"bytes":  float64(bytes),
	})
	rest := imp.NewSpecApp(spec.New(child, s.Limits))
	return imp.NewBlock(map[string]float64{"overhead": 0}, moveKernel, rest), nil
}

// moveActions yields, for every operand and every memory level strictly
// closer to RF than its current level, a Move action relocating that
// operand. This applies uniformly across all four kinds.
func (p *PrimitiveSpec) moveActions() []spec.Action {
	var out []spec.Action
	for i, operand := range p.Operands {
		for lvl := operand.Level + 1; lvl <= RF; lvl++ {
			out = append(out, &moveAction{spec: p, operandIdx: i, destination: lvl})
		}
	}
	return out
}

// --- (e) to-accum / spatial-split ---------------------------------------

type toAccumAction struct {
	spec *PrimitiveSpec
}

func (a *toAccumAction) String() string { return "ToAccum" }

func (a *toAccumAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	if p.Accum {
		return nil, spec.NotApplicableErr("ToAccum only applies to non-accumulating specs")
	}
	outIdx := p.outputIdx()
	outOperand := p.Operands[outIdx]
	zeroSpec := NewZero(p.Shape.Clone(), p.Dtype, outOperand.Level, p.Serial)
	accumSpec := p.withAccum()
	zeroApp := imp.NewSpecApp(spec.New(zeroSpec, s.Limits))
	accumApp := imp.NewSpecApp(spec.New(accumSpec, s.Limits))
	return imp.NewBlock(map[string]float64{"overhead": 0}, zeroApp, accumApp), nil
}

type spatialSplitAction struct {
	spec *PrimitiveSpec
}

func (a *spatialSplitAction) String() string { return "SpatialSplit" }

func (a *spatialSplitAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	if p.kind != spec.KindConv || !p.Accum || !p.canSpatialSplit() {
		return nil, spec.NotApplicableErr("spatial-split only applies to spatially-splittable accumulating Conv")
	}
	last := len(p.Shape) - 1
	newShape := p.Shape.Clone()
	newShape[last] = (newShape[last] + 1) / 2
	child := p.withShape(newShape)
	body := imp.NewSpecApp(spec.New(child, s.Limits))
	return imp.NewLoop(map[string]float64{"trips": 2, "overhead": 2}, body), nil
}

// canSpatialSplit reports whether this Conv has a spatial dimension beyond
// [batch, channels, filters] that is large enough to split.
func (p *PrimitiveSpec) canSpatialSplit() bool {
	return len(p.Shape) > 3 && p.Shape[len(p.Shape)-1] > 1
}

func (p *PrimitiveSpec) toAccumOrSpatialSplitActions() []spec.Action {
	switch p.kind {
	case spec.KindMatmul:
		if !p.Accum {
			return []spec.Action{&toAccumAction{spec: p}}
		}
	case spec.KindConv:
		if !p.Accum {
			return []spec.Action{&toAccumAction{spec: p}}
		}
		if p.canSpatialSplit() {
			return []spec.Action{&spatialSplitAction{spec: p}}
		}
	}
	return nil
}

// --- (f) terminal kernels -------------------------------------------------

type kernelAction struct {
	spec *PrimitiveSpec
	name string
}

func (a *kernelAction) String() string { return a.name }

func (a *kernelAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	p, err := asPrimitive(s, a.spec)
	if err != nil {
		return nil, err
	}
	if !p.kernelEligible() {
		return nil, spec.NotApplicableErr("%s not eligible: shape too large or operands not resident", a.name)
	}
	vol := p.Shape.Volume()
	bytes := vol * p.Dtype.Size()
	return imp.NewKernel(a.name, map[string]float64{
		"cycles": float64(vol),
		"bytes":  float64(bytes),
	}), nil
}

// kernelEligible reports whether p is small enough, and has its operands
// resident at the right levels, for a terminal kernel to realize it
// directly (no further sub-Specs).
func (p *PrimitiveSpec) kernelEligible() bool {
	if p.Shape.Volume() > kernelVolumeThreshold {
		return false
	}
	switch p.kind {
	case spec.KindMatmul, spec.KindConv:
		if !p.Accum {
			return false
		}
	}
	for _, o := range p.Operands {
		if o.Level != RF {
			return false
		}
	}
	return true
}

func (p *PrimitiveSpec) terminalKernelActions() []spec.Action {
	name := "kernel_" + p.kind.String()
	if p.kind == spec.KindMatmul || p.kind == spec.KindConv {
		name += "_accum"
	}
	return []spec.Action{&kernelAction{spec: p, name: name}}
}

// asPrimitive validates that the Spec an Action is applied to carries the
// same *PrimitiveSpec the Action closed over (actions are only ever handed
// back the Spec they were enumerated from) and that it is canonical.
func asPrimitive(s spec.Spec, want *PrimitiveSpec) (*PrimitiveSpec, error) {
	p, ok := s.Logical.(*PrimitiveSpec)
	if !ok || p != want {
		return nil, spec.NotApplicableErr("action applied to a Spec it was not enumerated from")
	}
	if !s.IsCanonical() {
		return nil, spec.NotCanonicalErr("spec %s is not canonical", s)
	}
	return p, nil
}
