package main

import (
	"strconv"
	"strings"

	"github.com/pingcap/errors"

	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/primitives"
	"github.com/ken-matsui/morello/spec"
)

// specFlags collects the flags the synthesize command uses to build a
// goal spec.Spec from a kind name plus a small set of shared scalar
// parameters. One struct, rather than one Cobra command per kind, keeps
// the flag surface small.
type specFlags struct {
	kind     string
	shape    string
	dtype    string
	serial   bool
	srcLevel string
	dstLevel string
	level    string
	limits   string
}

func parseShape(s string) (primitives.Shape, error) {
	fields := strings.Split(s, ",")
	out := make(primitives.Shape, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "parsing shape dimension %q", f)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func parseLimits(s string) (memory.Limits, error) {
	fields := strings.Split(s, ",")
	out := make(memory.Limits, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "parsing memory limit %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func parseDtype(s string) (primitives.Dtype, error) {
	switch s {
	case "u8":
		return primitives.U8, nil
	case "u16":
		return primitives.U16, nil
	case "u32":
		return primitives.U32, nil
	default:
		return 0, errors.Errorf("unknown dtype %q (want u8, u16, or u32)", s)
	}
}

func parseLevel(s string) (primitives.Level, error) {
	switch s {
	case "GL":
		return primitives.GL, nil
	case "L1":
		return primitives.L1, nil
	case "RF":
		return primitives.RF, nil
	default:
		return 0, errors.Errorf("unknown memory level %q (want GL, L1, or RF)", s)
	}
}

// buildGoal constructs the goal spec.Spec named by f and canonicalizes it.
// f.limits is read as the GL,L1,RF byte budgets primitives.PrimitiveSpec
// expects (see primitives.NumLevels); its length is not checked.
func buildGoal(f specFlags) (spec.Spec, error) {
	shape, err := parseShape(f.shape)
	if err != nil {
		return spec.Spec{}, err
	}
	dtype, err := parseDtype(f.dtype)
	if err != nil {
		return spec.Spec{}, err
	}
	limits, err := parseLimits(f.limits)
	if err != nil {
		return spec.Spec{}, err
	}

	var logical *primitives.PrimitiveSpec
	switch f.kind {
	case "matmul":
		if len(shape) != 3 {
			return spec.Spec{}, errors.Errorf("matmul shape must be m,k,n (got %s)", shape)
		}
		logical = primitives.NewMatmul(shape[0], shape[1], shape[2], dtype, f.serial)
	case "conv":
		logical = primitives.NewConv(shape, dtype, f.serial)
	case "move":
		src, err := parseLevel(f.srcLevel)
		if err != nil {
			return spec.Spec{}, err
		}
		dst, err := parseLevel(f.dstLevel)
		if err != nil {
			return spec.Spec{}, err
		}
		logical = primitives.NewMove(shape, dtype, src, dst, f.serial)
	case "zero":
		lvl, err := parseLevel(f.level)
		if err != nil {
			return spec.Spec{}, err
		}
		logical = primitives.NewZero(shape, dtype, lvl, f.serial)
	default:
		return spec.Spec{}, errors.Errorf("unknown kind %q (want matmul, conv, move, or zero)", f.kind)
	}

	s := spec.New(logical, limits)
	if err := s.Canonicalize(); err != nil {
		return spec.Spec{}, errors.Annotatef(err, "canonicalizing goal spec")
	}
	return s, nil
}
