package search

import (
	"github.com/pingcap/errors"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/imp"
	"github.com/ken-matsui/morello/spec"
)

// RequestId names a pending resolution inside a SpecTask: which partial
// Impl, and which sub-Spec slot within it.
type RequestId struct {
	PartialIdx int
	SlotIdx    int
}

// partialState is the state of one WorkingPartialImpl.
type partialState int

const (
	partialConstructing partialState = iota
	partialUnsat
	partialSat
)

// workingPartialImpl is one applied action for a Running SpecTask.
type workingPartialImpl struct {
	state        partialState
	node         *imp.Node
	subspecs     []spec.Spec
	subspecCosts []*cost.Cost // nil slot == unresolved
	actionIdx    spec.ActionIdx
}

func (w *workingPartialImpl) allResolved() bool {
	for _, c := range w.subspecCosts {
		if c == nil {
			return false
		}
	}
	return true
}

// SpecTask is the coroutine state for one Spec during search.
// It is never shared across blocks; within one block it is held by
// pointer in the block's working set (see wsEntry in block.go).
type SpecTask struct {
	running bool // Running vs Complete

	reducer         *ImplReducer
	partials        []*workingPartialImpl
	incomplete      int
	batchesReturned int
	maxChildren     int

	result cost.ActionCostVec
	fromDB bool
}

// StartSpecTask begins computing the optimal implementation of goal. It
// enumerates every action for goal's logical spec, applies each, and
// either completes immediately (no partial had any sub-Spec) or
// transitions to Running with one WorkingPartialImpl per successfully
// applied, non-trivial action.
//
// threadIdx/threadCount rotate the enumeration order so that parallel
// workers explore different frontiers first; ActionIdx values
// recorded always refer to the *unrotated*, stable position in the
// logical spec's own action list.
func StartSpecTask(goal spec.Spec, preferences []spec.ActionIdx, topK int, tilingDepth *uint32, threadIdx, threadCount int) *SpecTask {
	reducer := NewImplReducer(topK, preferences)

	allActions := goal.Logical.Actions(tilingDepth)
	n := len(allActions)

	var partials []*workingPartialImpl
	maxChildren := 0

	visit := func(actionIdx int) {
		action := allActions[actionIdx]
		rawNode, err := action.Apply(goal)
		if err != nil {
			applyErr, ok := err.(*spec.ApplyError)
			if !ok {
				panic(errors.Annotatef(err, "action %s returned a non-ApplyError", action))
			}
			switch applyErr.Kind {
			case spec.NotApplicable, spec.OutOfMemory:
				return
			case spec.NotCanonical:
				panic(errors.Annotatef(applyErr, "spec %s became non-canonical applying action %s", goal, action))
			default:
				panic(errors.Errorf("unknown ApplyError kind for action %s", action))
			}
		}

		node, ok := rawNode.(*imp.Node)
		if !ok {
			panic(errors.Errorf("action %s produced a non-*imp.Node ImplNode", action))
		}
		subspecs := node.SubSpecs()
		for _, ss := range subspecs {
			if !ss.IsCanonical() {
				panic(errors.Errorf("action %s introduced non-canonical sub-Spec %s", action, ss))
			}
		}

		if len(subspecs) > maxChildren {
			maxChildren = len(subspecs)
		}

		if len(subspecs) == 0 {
			reducer.Insert(spec.ActionIdx(actionIdx), cost.FromImpl(node))
			return
		}

		partials = append(partials, &workingPartialImpl{
			state:        partialConstructing,
			node:         node,
			subspecs:     subspecs,
			subspecCosts: make([]*cost.Cost, len(subspecs)),
			actionIdx:    spec.ActionIdx(actionIdx),
		})
	}

	if n > 0 {
		initialSkip := threadIdx * n / threadCount
		for i := initialSkip; i < n; i++ {
			visit(i)
		}
		for i := 0; i < initialSkip; i++ {
			visit(i)
		}
	}

	incomplete := len(partials)
	if incomplete == 0 {
		return &SpecTask{running: false, result: reducer.Finalize(), fromDB: false}
	}
	return &SpecTask{
		running:     true,
		reducer:     reducer,
		partials:    partials,
		incomplete:  incomplete,
		maxChildren: maxChildren,
	}
}

// CompleteFromDB wraps a database hit as an already-Complete SpecTask.
func CompleteFromDB(result cost.ActionCostVec) *SpecTask {
	return &SpecTask{running: false, result: result, fromDB: true}
}

// IsRunning reports whether the task still has unresolved dependencies.
func (t *SpecTask) IsRunning() bool { return t.running }

// Result returns the finalized ActionCostVec and whether it originated
// from the database (and so need not be written back). Panics if the task
// is still Running.
func (t *SpecTask) Result() (cost.ActionCostVec, bool) {
	if t.running {
		panic(errors.New("Result called on a Running SpecTask"))
	}
	return t.result, t.fromDB
}

// request is one (sub-Spec, RequestId) pair yielded by NextRequestBatch.
type request struct {
	subSpec spec.Spec
	id      RequestId
}

// NextRequestBatch returns the next batch of sub-Spec requests, or (nil,
// false) when every batch has been emitted or the task is not Running.
// Each call advances the internal batch counter even if the returned slice
// is empty; callers must keep calling until ok is false.
func (t *SpecTask) NextRequestBatch() ([]request, bool) {
	if !t.running {
		return nil, false
	}
	if t.batchesReturned == t.maxChildren {
		return nil, false
	}
	b := t.batchesReturned
	t.batchesReturned++

	var out []request
	for i, p := range t.partials {
		if p.state != partialConstructing {
			continue
		}
		if b < len(p.subspecs) {
			out = append(out, request{subSpec: p.subspecs[b], id: RequestId{PartialIdx: i, SlotIdx: b}})
		}
	}
	return out, true
}

// ResolveRequest applies a resolution to the targeted Constructing partial.
// costOpt == nil means the requested sub-Spec was unsatisfiable. Resolving
// an already-resolved slot, or resolving on a non-Running task, is a
// contract violation.
func (t *SpecTask) ResolveRequest(id RequestId, costOpt *cost.Cost) {
	if !t.running {
		panic(errors.New("ResolveRequest called on a non-Running SpecTask"))
	}
	if t.incomplete == 0 {
		return
	}

	p := t.partials[id.PartialIdx]
	switch p.state {
	case partialSat:
		panic(errors.New("resolved a request for an already-completed partial Impl"))
	case partialUnsat:
		return
	}

	finished := false
	becameUnsat := false

	if costOpt != nil {
		if p.subspecCosts[id.SlotIdx] != nil {
			panic(errors.New("requested Spec was already resolved"))
		}
		c := *costOpt
		p.subspecCosts[id.SlotIdx] = &c
		if p.allResolved() {
			finished = true
			childCosts := make([]cost.Cost, len(p.subspecCosts))
			for i, cc := range p.subspecCosts {
				childCosts[i] = *cc
			}
			t.reducer.Insert(p.actionIdx, cost.ComputeImplCost(p.node, childCosts))
		}
	} else {
		finished = true
		becameUnsat = true
	}

	if !finished {
		return
	}

	t.incomplete--
	if becameUnsat {
		p.state = partialUnsat
	} else {
		p.state = partialSat
	}

	if t.incomplete == 0 {
		t.result = t.reducer.Finalize()
		t.reducer = nil
		t.fromDB = false
		t.running = false
	}
}
