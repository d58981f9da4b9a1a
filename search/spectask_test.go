package search

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/imp"
	"github.com/ken-matsui/morello/memory"
	"github.com/ken-matsui/morello/spec"
)

// fakeAction and fakeLogical let spectask_test.go exercise SpecTask
// without depending on package primitives, so these tests only ever
// observe the coroutine state machine's own contract.
type fakeAction struct {
	name     string
	subspecs []spec.Spec
	fail     *spec.ApplyError
}

func (a *fakeAction) String() string { return a.name }
func (a *fakeAction) Apply(s spec.Spec) (spec.ImplNode, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	if len(a.subspecs) == 0 {
		return imp.NewKernel(a.name, map[string]float64{"cycles": 1}), nil
	}
	children := make([]*imp.Node, len(a.subspecs))
	for i, ss := range a.subspecs {
		children[i] = imp.NewSpecApp(ss)
	}
	return imp.NewBlock(nil, children...), nil
}

type fakeLogical struct {
	key     string
	actions []spec.Action
}

func (f *fakeLogical) Kind() spec.Kind             { return spec.KindZero }
func (f *fakeLogical) Canonicalize() error         { return nil }
func (f *fakeLogical) IsCanonical() bool           { return true }
func (f *fakeLogical) Actions(*uint32) []spec.Action { return f.actions }
func (f *fakeLogical) Key() string                 { return f.key }
func (f *fakeLogical) String() string              { return f.key }

func fakeGoalSpec(key string, actions ...spec.Action) spec.Spec {
	return spec.New(&fakeLogical{key: key, actions: actions}, memory.Limits{1})
}

func childSpec(key string) spec.Spec {
	return spec.New(&fakeLogical{key: key}, memory.Limits{1})
}

func TestStartSpecTaskCompletesImmediatelyWithNoPartials(t *testing.T) {
	goal := fakeGoalSpec("g", &fakeAction{name: "k"})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)
	require.False(t, task.IsRunning())
	result, fromDB := task.Result()
	require.False(t, fromDB)
	require.False(t, result.Unsat())
}

func TestStartSpecTaskPrunesNotApplicableAndOOM(t *testing.T) {
	goal := fakeGoalSpec("g",
		&fakeAction{name: "bad1", fail: spec.NotApplicableErr("no")},
		&fakeAction{name: "bad2", fail: spec.OutOfMemoryErr("no")},
		&fakeAction{name: "ok"},
	)
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)
	require.False(t, task.IsRunning())
	result, _ := task.Result()
	require.Len(t, result, 1)
	require.Equal(t, spec.ActionIdx(2), result[0].ActionIdx)
}

func TestStartSpecTaskPanicsOnNotCanonical(t *testing.T) {
	goal := fakeGoalSpec("g", &fakeAction{name: "bad", fail: spec.NotCanonicalErr("no")})
	require.Panics(t, func() {
		StartSpecTask(goal, nil, 1, nil, 0, 1)
	})
}

func TestStartSpecTaskWithSubSpecsIsRunning(t *testing.T) {
	sub := childSpec("sub")
	goal := fakeGoalSpec("g", &fakeAction{name: "a", subspecs: []spec.Spec{sub}})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)
	require.True(t, task.IsRunning())
}

func TestNextRequestBatchExhausts(t *testing.T) {
	sub1, sub2 := childSpec("s1"), childSpec("s2")
	goal := fakeGoalSpec("g",
		&fakeAction{name: "a", subspecs: []spec.Spec{sub1}},
		&fakeAction{name: "b", subspecs: []spec.Spec{sub1, sub2}},
	)
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)
	require.True(t, task.IsRunning())

	batch0, ok := task.NextRequestBatch()
	require.True(t, ok)
	require.Len(t, batch0, 2) // both partials have a slot 0

	batch1, ok := task.NextRequestBatch()
	require.True(t, ok)
	require.Len(t, batch1, 1) // only partial "b" has a slot 1

	_, ok = task.NextRequestBatch()
	require.False(t, ok) // maxChildren == 2, both batches emitted
}

func TestResolveRequestCompletesTaskOnLastSlot(t *testing.T) {
	sub := childSpec("s1")
	goal := fakeGoalSpec("g", &fakeAction{name: "a", subspecs: []spec.Spec{sub}})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)

	batch, ok := task.NextRequestBatch()
	require.True(t, ok)
	require.Len(t, batch, 1)

	c := cost.Cost{Main: 10}
	task.ResolveRequest(batch[0].id, &c)
	require.False(t, task.IsRunning())
	result, _ := task.Result()
	require.False(t, result.Unsat())
}

func TestResolveRequestNilCostMarksUnsat(t *testing.T) {
	sub := childSpec("s1")
	goal := fakeGoalSpec("g", &fakeAction{name: "a", subspecs: []spec.Spec{sub}})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)

	batch, _ := task.NextRequestBatch()
	task.ResolveRequest(batch[0].id, nil)
	require.False(t, task.IsRunning())
	result, _ := task.Result()
	require.True(t, result.Unsat())
}

func TestResolveRequestTwicePanics(t *testing.T) {
	sub1, sub2 := childSpec("s1"), childSpec("s2")
	goal := fakeGoalSpec("g", &fakeAction{name: "a", subspecs: []spec.Spec{sub1, sub2}})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)

	batch, _ := task.NextRequestBatch()
	c := cost.Cost{Main: 1}
	task.ResolveRequest(batch[0].id, &c)
	require.Panics(t, func() {
		task.ResolveRequest(batch[0].id, &c)
	})
}

func TestResultPanicsWhileRunning(t *testing.T) {
	sub := childSpec("s1")
	goal := fakeGoalSpec("g", &fakeAction{name: "a", subspecs: []spec.Spec{sub}})
	task := StartSpecTask(goal, nil, 1, nil, 0, 1)
	require.Panics(t, func() {
		task.Result()
	})
}

func TestActionRotationStartsAtThreadOffset(t *testing.T) {
	goal := fakeGoalSpec("g",
		&fakeAction{name: "a0"},
		&fakeAction{name: "a1"},
		&fakeAction{name: "a2"},
		&fakeAction{name: "a3"},
	)
	// With threadIdx=2, threadCount=4, enumeration begins at action 2.
	// All four kernels have identical cost and the reducer (top_k=1)
	// keeps the smallest ActionIdx on a cost tie, so the recorded result
	// is the *stable* ActionIdx 0 even though action 2 was applied first.
	task := StartSpecTask(goal, nil, 1, nil, 2, 4)
	require.False(t, task.IsRunning())
	result, _ := task.Result()
	require.Len(t, result, 1)
	// Rotation must not corrupt which stable ActionIdx gets recorded:
	// it must be one of the four enumerated actions.
	require.True(t, result[0].ActionIdx < 4)
}
