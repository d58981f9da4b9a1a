package primitives

import (
	"fmt"
	"strings"

	"github.com/ken-matsui/morello/spec"
	"github.com/pingcap/errors"
)

// operandCount returns how many tensor operands a Kind's primitive spec
// has: Matmul/Conv have 3 (two inputs, one output), Move has 2 (source,
// destination), Zero has 1 (the tensor being zeroed).
func operandCount(k spec.Kind) int {
	switch k {
	case spec.KindMatmul, spec.KindConv:
		return 3
	case spec.KindMove:
		return 2
	case spec.KindZero:
		return 1
	default:
		return 0
	}
}

// PrimitiveSpec is the concrete spec.LogicalSpec for all four operation
// kinds this package supports. Accum distinguishes the
// not-yet-accumulating form of Matmul/Conv (which must first take a
// ToAccum action) from the accumulating form (which may take Split or
// SpatialSplit actions); it is ignored for Move and Zero.
type PrimitiveSpec struct {
	kind     spec.Kind
	Shape    Shape
	Dtype    Dtype
	Accum    bool
	Serial   bool
	Operands []Operand
}

// NewMatmul builds the non-accumulating Matmul(m, k, n) logical spec, all
// operands starting at level GL, aligned, row-major (the only layout this
// package models).
func NewMatmul(m, k, n uint32, dtype Dtype, serial bool) *PrimitiveSpec {
	return newPrimitive(spec.KindMatmul, Shape{m, k, n}, dtype, serial)
}

// NewConv builds the non-accumulating Conv logical spec. Shape is
// interpreted as [batch, channels, filters, spatial...]; this package does
// not model image/filter shape inference, and instead treats Shape
// opaquely for action enumeration and costing purposes.
func NewConv(shape Shape, dtype Dtype, serial bool) *PrimitiveSpec {
	return newPrimitive(spec.KindConv, shape, dtype, serial)
}

// NewMove builds a Move(shape, dtype) logical spec with the source operand
// at srcLevel and the destination operand at dstLevel.
func NewMove(shape Shape, dtype Dtype, srcLevel, dstLevel Level, serial bool) *PrimitiveSpec {
	p := newPrimitive(spec.KindMove, shape, dtype, serial)
	p.Operands[0].Level = srcLevel
	p.Operands[1].Level = dstLevel
	return p
}

// NewZero builds a Zero(shape, dtype) logical spec at the given level.
func NewZero(shape Shape, dtype Dtype, level Level, serial bool) *PrimitiveSpec {
	p := newPrimitive(spec.KindZero, shape, dtype, serial)
	p.Operands[0].Level = level
	return p
}

func newPrimitive(kind spec.Kind, shape Shape, dtype Dtype, serial bool) *PrimitiveSpec {
	n := operandCount(kind)
	operands := make([]Operand, n)
	for i := range operands {
		operands[i] = Operand{Level: GL, Aligned: true}
	}
	return &PrimitiveSpec{kind: kind, Shape: shape.Clone(), Dtype: dtype, Serial: serial, Operands: operands}
}

func (p *PrimitiveSpec) Kind() spec.Kind { return p.kind }

// Canonicalize validates that every dimension is nonzero and every
// Operand's Level is in range. A full target's canonicalization would
// additionally normalize layout/contiguity metadata; this package has
// only one layout and one alignment class per level, so the reduction is
// validation-only here and already idempotent.
func (p *PrimitiveSpec) Canonicalize() error {
	for i := range p.Shape {
		if p.Shape[i] == 0 {
			return errors.Errorf("dimension %d is zero", i)
		}
	}
	for _, o := range p.Operands {
		if o.Level < GL || o.Level > RF {
			return errors.Errorf("operand level %v out of range", o.Level)
		}
	}
	return nil
}

// IsCanonical reports whether Canonicalize would be a no-op.
func (p *PrimitiveSpec) IsCanonical() bool {
	for i := range p.Shape {
		if p.Shape[i] == 0 {
			return false
		}
	}
	return true
}

func (p *PrimitiveSpec) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s/%s/accum=%t/serial=%t", p.kind, p.Shape, p.Dtype, p.Accum, p.Serial)
	for _, o := range p.Operands {
		fmt.Fprintf(&sb, "/%s,%t", o.Level, o.Aligned)
	}
	return sb.String()
}

func (p *PrimitiveSpec) String() string {
	return p.Key()
}

// withOperandLevel returns a copy of p with operand i's level replaced.
func (p *PrimitiveSpec) withOperandLevel(i int, level Level) *PrimitiveSpec {
	q := *p
	q.Operands = make([]Operand, len(p.Operands))
	copy(q.Operands, p.Operands)
	q.Operands[i].Level = level
	return &q
}

// withAccum returns a copy of p with Accum flipped to true.
func (p *PrimitiveSpec) withAccum() *PrimitiveSpec {
	q := *p
	q.Accum = true
	q.Operands = append([]Operand(nil), p.Operands...)
	return &q
}

// withShape returns a copy of p whose whole Shape is newShape (callers
// pass a full-length shape); the operands are copied unchanged.
func (p *PrimitiveSpec) withShape(newShape Shape) *PrimitiveSpec {
	q := *p
	q.Shape = newShape
	q.Operands = append([]Operand(nil), p.Operands...)
	return &q
}
