// Package spec holds the Spec algebra: the logical-spec/memory-limits data
// model and the external collaborator contracts the top-down engine
// depends on to enumerate and apply actions. Concrete logical specs
// (Matmul, Conv, Move, Zero) live in package primitives; this package only
// fixes the shape every logical spec must have so that the search engine in
// package search never needs to know which kind of tensor op it is solving.
package spec

import (
	"fmt"

	"github.com/pingcap/errors"

	"github.com/ken-matsui/morello/memory"
)

// ActionIdx identifies one action in the ordered list returned by a logical
// Spec's Actions method. It must be stable across invocations for a given
// logical Spec.
type ActionIdx uint16

// Kind names the primitive operation family a logical Spec belongs to. It is
// not interpreted by the engine; it exists so that databases and cost models
// can partition storage and report telemetry without depending on concrete
// logical spec types.
type Kind int

const (
	KindMatmul Kind = iota
	KindConv
	KindMove
	KindZero
)

func (k Kind) String() string {
	switch k {
	case KindMatmul:
		return "Matmul"
	case KindConv:
		return "Conv"
	case KindMove:
		return "Move"
	case KindZero:
		return "Zero"
	default:
		return "Unknown"
	}
}

// ApplyErrorKind classifies why an Action failed to apply to a Spec.
type ApplyErrorKind int

const (
	// NotApplicable means the action does not apply to this particular Spec
	// shape (e.g. a split-k action on a non-accumulating Matmul). Prunable.
	NotApplicable ApplyErrorKind = iota
	// OutOfMemory means the action's introduced sub-Specs would exceed some
	// memory level's budget. Prunable.
	OutOfMemory
	// NotCanonical means the action produced (or was given) a Spec that is
	// not in canonical form. This is a contract violation: callers must
	// only ever apply actions to specs that passed Canonicalize.
	NotCanonical
)

// ApplyError is returned by Action.Apply. Engines must treat NotApplicable
// and OutOfMemory as silent pruning and NotCanonical as a bug (panic).
type ApplyError struct {
	Kind ApplyErrorKind
	Err  error
}

func (e *ApplyError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	switch e.Kind {
	case NotApplicable:
		return "action not applicable"
	case OutOfMemory:
		return "action exceeds memory limits"
	case NotCanonical:
		return "spec is not canonical"
	default:
		return "apply error"
	}
}

func notApplicable(format string, args ...interface{}) *ApplyError {
	return &ApplyError{Kind: NotApplicable, Err: errors.Errorf(format, args...)}
}

func outOfMemory(format string, args ...interface{}) *ApplyError {
	return &ApplyError{Kind: OutOfMemory, Err: errors.Errorf(format, args...)}
}

func notCanonical(format string, args ...interface{}) *ApplyError {
	return &ApplyError{Kind: NotCanonical, Err: errors.Errorf(format, args...)}
}

// NotApplicableErr and friends are exported constructors so that package
// primitives (which implements the concrete logical specs) can build
// ApplyErrors without reaching into unexported fields.
func NotApplicableErr(format string, args ...interface{}) *ApplyError { return notApplicable(format, args...) }
func OutOfMemoryErr(format string, args ...interface{}) *ApplyError   { return outOfMemory(format, args...) }
func NotCanonicalErr(format string, args ...interface{}) *ApplyError  { return notCanonical(format, args...) }

// Action is a transformation that, applied to a Spec, yields an Impl
// (possibly partial, i.e. with unresolved sub-Specs).
//
// Apply returns the ImplNode interface rather than *imp.Node: package imp
// imports package spec (its SpecApp leaves hold a spec.Spec), so importing
// imp here would create an import cycle.
type Action interface {
	// Apply produces a (possibly partial) Impl realizing s, or an
	// ApplyError describing why it could not.
	Apply(s Spec) (ImplNode, error)
	// String names the action for logging/debugging; it is not part of the
	// ordering contract (ActionIdx is).
	String() string
}

// ImplNode is the minimal surface of imp.Node that package spec needs to
// reference from the Action interface. Package imp implements this
// interface in full; package spec never imports package imp.
type ImplNode interface {
	// VisitSubSpecs enumerates every Spec this (partial) Impl still
	// depends on, in stable declaration order.
	VisitSubSpecs(visit func(Spec) bool)
}

// LogicalSpec is a Spec minus its memory limits: the operation kind, shape,
// dtype, operand-level/layout metadata, and the serial flag.
type LogicalSpec interface {
	// Kind reports the primitive operation family.
	Kind() Kind
	// Canonicalize reduces operand metadata in place to the unique
	// representative of this logical spec's equivalence class. It must be
	// idempotent.
	Canonicalize() error
	// IsCanonical reports whether this logical spec is already in
	// canonical form.
	IsCanonical() bool
	// Actions returns the total, deterministic, ordered list of actions
	// applicable to this logical spec. tilingDepth, if non-nil, caps the
	// tile-size enumeration depth.
	Actions(tilingDepth *uint32) []Action
	// Key returns a string uniquely identifying this logical spec's
	// equivalence class; used both as part of Spec's hash key and to
	// derive database PageIds.
	Key() string
	// String renders a short human description for logging.
	String() string
}

// Spec pairs a LogicalSpec with the memory-limits vector under which it
// must be realized. It is the unit of memoization.
type Spec struct {
	Logical LogicalSpec
	Limits  memory.Limits
}

// New constructs a Spec. It does not canonicalize; callers normally
// construct only canonical Specs via Canonicalize.
func New(logical LogicalSpec, limits memory.Limits) Spec {
	return Spec{Logical: logical, Limits: limits}
}

// Canonicalize reduces the logical spec to its canonical representative.
// The memory-limits vector is left exactly as given: slack in the limits
// (headroom no action could ever consume) is not reduced, so two Specs
// that differ only in such headroom keep distinct Keys.
func (s *Spec) Canonicalize() error {
	if err := s.Logical.Canonicalize(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// IsCanonical reports whether the logical spec is in canonical form; the
// memory-limits vector is not checked.
func (s Spec) IsCanonical() bool {
	return s.Logical.IsCanonical()
}

// Key is the map key used by the engine's per-block working set and by
// in-memory database implementations. Two Specs with equal Key are
// considered the same memoization unit.
func (s Spec) Key() string {
	return s.Logical.Key() + "|" + s.Limits.Key()
}

// String renders a short human description, composing the logical spec's
// own String with its memory limits.
func (s Spec) String() string {
	return fmt.Sprintf("%s limits=%s", s.Logical, s.Limits)
}
