package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

var (
	// ErrSelfDependency rejects edges where child == parent
	ErrSelfDependency = errors.New("job cannot depend on itself")

	// ErrUnknownJob rejects edges referencing unregistered jobs
	ErrUnknownJob = errors.New("unknown job")

	// ErrDuplicateEdge flags an edge that already exists; the graph is unchanged
	ErrDuplicateEdge = errors.New("dependency edge already exists")
)

// CycleError rejects an edge insertion that would close a cycle.
// Path records the prerequisite chain from parent back to child.
type CycleError struct {
	Child  types.JobID
	Parent types.JobID
	Path   []types.JobID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding edge %s -> %s would create a cycle (path %v)", e.Child, e.Parent, e.Path)
}

// node tracks the job attributes the graph needs for readiness and severity
type node struct {
	status   types.JobStatus
	priority int
}

// edge tracks the satisfaction state of a single dependency
type edge struct {
	kind      types.DependencyKind
	satisfied bool
}

// ConditionalPolicy decides how a conditional edge reacts to parent failure
type ConditionalPolicy string

const (
	ConditionalProceed ConditionalPolicy = "proceed"
	ConditionalCancel  ConditionalPolicy = "cancel"
)

// Graph is the in-memory dependency DAG. deps and dependents are kept
// mutually consistent; acyclicity is enforced at edge insertion.
type Graph struct {
	mu sync.Mutex

	jobs map[types.JobID]*node

	// deps[child] -> parents the child waits on
	deps map[types.JobID]map[types.JobID]*edge
	// dependents[parent] -> children waiting on the parent
	dependents map[types.JobID]map[types.JobID]struct{}

	maxCycleDepth int
	conditional   ConditionalPolicy
}

// NewGraph creates an empty dependency graph. maxCycleDepth bounds the
// insertion-time cycle search.
func NewGraph(maxCycleDepth int, conditional ConditionalPolicy) *Graph {
	if maxCycleDepth <= 0 {
		maxCycleDepth = 20
	}
	if conditional == "" {
		conditional = ConditionalProceed
	}
	return &Graph{
		jobs:          make(map[types.JobID]*node),
		deps:          make(map[types.JobID]map[types.JobID]*edge),
		dependents:    make(map[types.JobID]map[types.JobID]struct{}),
		maxCycleDepth: maxCycleDepth,
		conditional:   conditional,
	}
}

// AddJob registers a job so edges can reference it. Re-adding updates the
// tracked status and priority.
func (g *Graph) AddJob(id types.JobID, status types.JobStatus, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobs[id] = &node{status: status, priority: priority}
}

// SetJobStatus updates the tracked status for readiness computations
func (g *Graph) SetJobStatus(id types.JobID, status types.JobStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.jobs[id]; ok {
		n.status = status
	}
}

// RemoveJob drops a job and every edge touching it
func (g *Graph) RemoveJob(id types.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for parent := range g.deps[id] {
		delete(g.dependents[parent], id)
	}
	delete(g.deps, id)

	for child := range g.dependents[id] {
		delete(g.deps[child], id)
	}
	delete(g.dependents, id)
	delete(g.jobs, id)
}

// HasJob reports whether the job is registered
func (g *Graph) HasJob(id types.JobID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[id]
	return ok
}

// AddEdge inserts child -> parent of the given kind. The edge is rejected
// when it is a self-dependency, references an unknown job, duplicates an
// existing edge, or would close a cycle.
func (g *Graph) AddEdge(child, parent types.JobID, kind types.DependencyKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if child == parent {
		return fmt.Errorf("%w: %s", ErrSelfDependency, child)
	}
	if _, ok := g.jobs[child]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, child)
	}
	if _, ok := g.jobs[parent]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, parent)
	}
	if _, ok := g.deps[child][parent]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, child, parent)
	}

	if path, found := g.findPath(parent, child); found {
		return &CycleError{Child: child, Parent: parent, Path: path}
	}

	if g.deps[child] == nil {
		g.deps[child] = make(map[types.JobID]*edge)
	}
	if g.dependents[parent] == nil {
		g.dependents[parent] = make(map[types.JobID]struct{})
	}
	g.deps[child][parent] = &edge{kind: kind}
	g.dependents[parent][child] = struct{}{}
	return nil
}

// RemoveEdge drops child -> parent. Removing an absent edge is a no-op.
func (g *Graph) RemoveEdge(child, parent types.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.deps[child], parent)
	delete(g.dependents[parent], child)
}

// MarkSatisfied forces an edge satisfied, used when rehydrating from the
// dependency store.
func (g *Graph) MarkSatisfied(child, parent types.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.deps[child][parent]; ok {
		e.satisfied = true
	}
}

// findPath searches the prerequisite chain from `from` for `to`, bounded
// by maxCycleDepth. Returns the path when found.
func (g *Graph) findPath(from, to types.JobID) ([]types.JobID, bool) {
	type frame struct {
		id    types.JobID
		depth int
		path  []types.JobID
	}

	visited := make(map[types.JobID]bool)
	stack := []frame{{id: from, depth: 0, path: []types.JobID{from}}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.id == to {
			return f.path, true
		}
		if f.depth >= g.maxCycleDepth || visited[f.id] {
			continue
		}
		visited[f.id] = true

		for parent := range g.deps[f.id] {
			path := make([]types.JobID, len(f.path), len(f.path)+1)
			copy(path, f.path)
			stack = append(stack, frame{id: parent, depth: f.depth + 1, path: append(path, parent)})
		}
	}
	return nil, false
}

// JobsReady returns all pending jobs whose incoming edges are all satisfied
func (g *Graph) JobsReady() []types.JobID {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []types.JobID
	for id, n := range g.jobs {
		if n.status != types.JobStatusPending {
			continue
		}
		if g.allSatisfiedLocked(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) allSatisfiedLocked(child types.JobID) bool {
	for _, e := range g.deps[child] {
		if !e.satisfied {
			return false
		}
	}
	return true
}

// CompletionResult reports the downstream effect of a terminal parent
type CompletionResult struct {
	// Ready children became runnable by this completion
	Ready []types.JobID
	// Blocked children can never run; the scheduler cancels them
	Blocked []types.JobID
}

// OnJobCompleted marks outgoing edges satisfied where the outcome is
// consistent with the edge kind and returns the newly ready children.
// Children behind a must-succeed edge of a failed parent are reported
// blocked, as are conditional children under the cancel policy.
func (g *Graph) OnJobCompleted(id types.JobID, outcome types.Outcome) CompletionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	started := outcome == types.OutcomeCompleted
	if n, ok := g.jobs[id]; ok {
		if n.status == types.JobStatusRunning {
			started = true
		}
		n.status = outcome.Status()
	}

	var result CompletionResult
	for child := range g.dependents[id] {
		e := g.deps[child][id]
		if e == nil || e.satisfied {
			continue
		}

		satisfied, blocked := edgeOutcome(e.kind, outcome, started, g.conditional)
		if blocked {
			result.Blocked = append(result.Blocked, child)
			continue
		}
		if !satisfied {
			continue
		}

		e.satisfied = true
		if n, ok := g.jobs[child]; ok && n.status == types.JobStatusPending && g.allSatisfiedLocked(child) {
			result.Ready = append(result.Ready, child)
		}
	}
	return result
}

// OnJobStarted satisfies must-start edges and returns newly ready children
func (g *Graph) OnJobStarted(id types.JobID) []types.JobID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.jobs[id]; ok {
		n.status = types.JobStatusRunning
	}

	var ready []types.JobID
	for child := range g.dependents[id] {
		e := g.deps[child][id]
		if e == nil || e.satisfied || e.kind != types.DependencyMustStart {
			continue
		}
		e.satisfied = true
		if n, ok := g.jobs[child]; ok && n.status == types.JobStatusPending && g.allSatisfiedLocked(child) {
			ready = append(ready, child)
		}
	}
	return ready
}

// edgeOutcome maps (kind, outcome) onto edge satisfaction
func edgeOutcome(kind types.DependencyKind, outcome types.Outcome, started bool, policy ConditionalPolicy) (satisfied, blocked bool) {
	switch kind {
	case types.DependencyMustComplete:
		return true, false
	case types.DependencyMustStart:
		if started {
			return true, false
		}
		return false, true
	case types.DependencyMustSucceed:
		if outcome == types.OutcomeCompleted {
			return true, false
		}
		return false, true
	case types.DependencyConditional:
		if outcome == types.OutcomeCompleted {
			return true, false
		}
		if policy == ConditionalCancel {
			return false, true
		}
		return true, false
	}
	return false, false
}

// Dependencies returns the parents the child waits on, for inspection
func (g *Graph) Dependencies(child types.JobID) []types.JobID {
	g.mu.Lock()
	defer g.mu.Unlock()

	parents := make([]types.JobID, 0, len(g.deps[child]))
	for parent := range g.deps[child] {
		parents = append(parents, parent)
	}
	return parents
}

// Validate returns structural warnings: edges referencing unregistered
// jobs and dependency chains deeper than 10.
func (g *Graph) Validate() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var warnings []string
	for child, parents := range g.deps {
		if _, ok := g.jobs[child]; !ok {
			warnings = append(warnings, fmt.Sprintf("orphan edge: child %s is not registered", child))
		}
		for parent := range parents {
			if _, ok := g.jobs[parent]; !ok {
				warnings = append(warnings, fmt.Sprintf("orphan edge: parent %s is not registered", parent))
			}
		}
	}

	depths := make(map[types.JobID]int)
	for id := range g.jobs {
		if d := g.chainDepthLocked(id, depths, make(map[types.JobID]bool)); d > 10 {
			warnings = append(warnings, fmt.Sprintf("job %s sits on a dependency chain of depth %d", id, d))
		}
	}
	return warnings
}

// chainDepthLocked memoizes the longest prerequisite chain below id
func (g *Graph) chainDepthLocked(id types.JobID, memo map[types.JobID]int, onPath map[types.JobID]bool) int {
	if d, ok := memo[id]; ok {
		return d
	}
	if onPath[id] {
		// Cycle guard; insertion checks should make this unreachable
		return 0
	}
	onPath[id] = true
	defer delete(onPath, id)

	depth := 0
	for parent := range g.deps[id] {
		if d := g.chainDepthLocked(parent, memo, onPath) + 1; d > depth {
			depth = d
		}
	}
	memo[id] = depth
	return depth
}
