package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

func newTestGraph() *Graph {
	return NewGraph(20, ConditionalProceed)
}

func addPending(g *Graph, ids ...types.JobID) {
	for _, id := range ids {
		g.AddJob(id, types.JobStatusPending, types.PriorityHigh)
	}
}

func TestAddEdgeValidation(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b")

	t.Run("self dependency", func(t *testing.T) {
		err := g.AddEdge("a", "a", types.DependencyMustComplete)
		assert.ErrorIs(t, err, ErrSelfDependency)
	})

	t.Run("unknown child", func(t *testing.T) {
		err := g.AddEdge("ghost", "a", types.DependencyMustComplete)
		assert.ErrorIs(t, err, ErrUnknownJob)
	})

	t.Run("unknown parent", func(t *testing.T) {
		err := g.AddEdge("a", "ghost", types.DependencyMustComplete)
		assert.ErrorIs(t, err, ErrUnknownJob)
	})

	t.Run("duplicate edge", func(t *testing.T) {
		require.NoError(t, g.AddEdge("a", "b", types.DependencyMustComplete))
		err := g.AddEdge("a", "b", types.DependencyMustComplete)
		assert.ErrorIs(t, err, ErrDuplicateEdge)
	})
}

func TestCycleRejection(t *testing.T) {
	g := newTestGraph()
	addPending(g, "x", "y")

	require.NoError(t, g.AddEdge("x", "y", types.DependencyMustComplete))

	err := g.AddEdge("y", "x", types.DependencyMustComplete)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, types.JobID("y"), cycleErr.Child)

	// Graph state unchanged: no cycles, and the reverse edge is absent
	assert.Empty(t, g.DetectCycles())
	assert.Empty(t, g.Dependencies("y"))
}

func TestTransitiveCycleRejection(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b", "c")

	require.NoError(t, g.AddEdge("b", "a", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("c", "b", types.DependencyMustComplete))

	// a -> c would close a c -> b -> a loop
	err := g.AddEdge("a", "c", types.DependencyMustComplete)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Empty(t, g.DetectCycles())
}

func TestJobsReady(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b", "c")

	require.NoError(t, g.AddEdge("b", "a", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("c", "b", types.DependencyMustComplete))

	assert.ElementsMatch(t, []types.JobID{"a"}, g.JobsReady())

	result := g.OnJobCompleted("a", types.OutcomeCompleted)
	assert.ElementsMatch(t, []types.JobID{"b"}, result.Ready)
	assert.Empty(t, result.Blocked)

	assert.ElementsMatch(t, []types.JobID{"b"}, g.JobsReady())
}

func TestMustSucceedBlocksOnFailure(t *testing.T) {
	g := newTestGraph()
	addPending(g, "parent", "child")
	require.NoError(t, g.AddEdge("child", "parent", types.DependencyMustSucceed))

	result := g.OnJobCompleted("parent", types.OutcomeFailed)
	assert.Empty(t, result.Ready)
	assert.ElementsMatch(t, []types.JobID{"child"}, result.Blocked)
}

func TestMustCompleteSatisfiedByAnyTerminal(t *testing.T) {
	for _, outcome := range []types.Outcome{types.OutcomeCompleted, types.OutcomeFailed, types.OutcomeCancelled} {
		t.Run(string(outcome), func(t *testing.T) {
			g := newTestGraph()
			addPending(g, "parent", "child")
			require.NoError(t, g.AddEdge("child", "parent", types.DependencyMustComplete))

			result := g.OnJobCompleted("parent", outcome)
			assert.ElementsMatch(t, []types.JobID{"child"}, result.Ready)
			assert.Empty(t, result.Blocked)
		})
	}
}

func TestMustStartSatisfiedAtRunning(t *testing.T) {
	g := newTestGraph()
	addPending(g, "parent", "child")
	require.NoError(t, g.AddEdge("child", "parent", types.DependencyMustStart))

	assert.ElementsMatch(t, []types.JobID{"parent"}, g.JobsReady())

	ready := g.OnJobStarted("parent")
	assert.ElementsMatch(t, []types.JobID{"child"}, ready)
}

func TestMustStartBlockedWhenParentNeverStarted(t *testing.T) {
	g := newTestGraph()
	addPending(g, "parent", "child")
	require.NoError(t, g.AddEdge("child", "parent", types.DependencyMustStart))

	// Parent cancelled while still pending: it never started and never will
	result := g.OnJobCompleted("parent", types.OutcomeCancelled)
	assert.Empty(t, result.Ready)
	assert.ElementsMatch(t, []types.JobID{"child"}, result.Blocked)
}

func TestMustStartSatisfiedWhenRunningParentFails(t *testing.T) {
	g := newTestGraph()
	addPending(g, "parent", "child")
	require.NoError(t, g.AddEdge("child", "parent", types.DependencyMustStart))

	g.SetJobStatus("parent", types.JobStatusRunning)

	result := g.OnJobCompleted("parent", types.OutcomeFailed)
	assert.ElementsMatch(t, []types.JobID{"child"}, result.Ready)
	assert.Empty(t, result.Blocked)
}

func TestConditionalPolicy(t *testing.T) {
	t.Run("proceed", func(t *testing.T) {
		g := NewGraph(20, ConditionalProceed)
		addPending(g, "parent", "child")
		require.NoError(t, g.AddEdge("child", "parent", types.DependencyConditional))

		result := g.OnJobCompleted("parent", types.OutcomeFailed)
		assert.ElementsMatch(t, []types.JobID{"child"}, result.Ready)
		assert.Empty(t, result.Blocked)
	})

	t.Run("cancel", func(t *testing.T) {
		g := NewGraph(20, ConditionalCancel)
		addPending(g, "parent", "child")
		require.NoError(t, g.AddEdge("child", "parent", types.DependencyConditional))

		result := g.OnJobCompleted("parent", types.OutcomeFailed)
		assert.Empty(t, result.Ready)
		assert.ElementsMatch(t, []types.JobID{"child"}, result.Blocked)
	})
}

func TestRemoveEdgeIdempotent(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b")
	require.NoError(t, g.AddEdge("a", "b", types.DependencyMustComplete))

	g.RemoveEdge("a", "b")
	g.RemoveEdge("a", "b")

	assert.ElementsMatch(t, []types.JobID{"a", "b"}, g.JobsReady())
}

func TestRemoveJobDropsEdges(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b", "c")
	require.NoError(t, g.AddEdge("b", "a", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("c", "b", types.DependencyMustComplete))

	g.RemoveJob("b")

	assert.False(t, g.HasJob("b"))
	assert.Empty(t, g.Dependencies("c"))
	assert.Empty(t, g.Validate())
}

func TestMultipleParents(t *testing.T) {
	g := newTestGraph()
	addPending(g, "p1", "p2", "child")
	require.NoError(t, g.AddEdge("child", "p1", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("child", "p2", types.DependencyMustComplete))

	result := g.OnJobCompleted("p1", types.OutcomeCompleted)
	assert.Empty(t, result.Ready, "child still waits on p2")

	result = g.OnJobCompleted("p2", types.OutcomeCompleted)
	assert.ElementsMatch(t, []types.JobID{"child"}, result.Ready)
}

func TestDetectCyclesFindsInjectedCycle(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b", "c")

	// Bypass AddEdge to inject a cycle the insertion check would reject
	g.deps["a"] = map[types.JobID]*edge{"b": {kind: types.DependencyMustComplete}}
	g.deps["b"] = map[types.JobID]*edge{"c": {kind: types.DependencyMustComplete}}
	g.deps["c"] = map[types.JobID]*edge{"a": {kind: types.DependencyMustComplete}}
	g.dependents["b"] = map[types.JobID]struct{}{"a": {}}
	g.dependents["c"] = map[types.JobID]struct{}{"b": {}}
	g.dependents["a"] = map[types.JobID]struct{}{"c": {}}

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, 3, cycles[0].Length)
	assert.Equal(t, SeverityHigh, cycles[0].Severity)
	assert.ElementsMatch(t, []types.JobID{"a", "b", "c"}, cycles[0].Jobs)
}

func TestDetectCyclesSeverityElevatedPriority(t *testing.T) {
	g := newTestGraph()
	g.AddJob("a", types.JobStatusPending, types.PriorityElevated)
	g.AddJob("b", types.JobStatusPending, types.PriorityLow)

	g.deps["a"] = map[types.JobID]*edge{"b": {kind: types.DependencyMustComplete}}
	g.deps["b"] = map[types.JobID]*edge{"a": {kind: types.DependencyMustComplete}}
	g.dependents["a"] = map[types.JobID]struct{}{"b": {}}
	g.dependents["b"] = map[types.JobID]struct{}{"a": {}}

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, 2, cycles[0].Length)
	assert.Equal(t, SeverityHigh, cycles[0].Severity)
}

func TestDetectCyclesEmptyOnDAG(t *testing.T) {
	g := newTestGraph()
	addPending(g, "a", "b", "c", "d")
	require.NoError(t, g.AddEdge("b", "a", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("c", "a", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("d", "b", types.DependencyMustComplete))
	require.NoError(t, g.AddEdge("d", "c", types.DependencyMustComplete))

	assert.Empty(t, g.DetectCycles())
}

func TestValidateDeepChain(t *testing.T) {
	g := newTestGraph()

	ids := make([]types.JobID, 13)
	for i := range ids {
		ids[i] = types.JobID(fmt.Sprintf("job-%02d", i))
		g.AddJob(ids[i], types.JobStatusPending, types.PriorityHigh)
	}
	for i := 1; i < len(ids); i++ {
		require.NoError(t, g.AddEdge(ids[i], ids[i-1], types.DependencyMustComplete))
	}

	warnings := g.Validate()
	assert.NotEmpty(t, warnings)
}
