package graph

import (
	"sort"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// Severity classifies a detected cycle
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Cycle describes one strongly connected component of size > 1, or a
// self-loop. Insertion checks should make these unreachable; the periodic
// invariant check reports any that slip through.
type Cycle struct {
	Jobs     []types.JobID
	Length   int
	Severity Severity
}

// DetectCycles runs an iterative Tarjan SCC pass over the dependency
// direction and returns every cycle found.
func (g *Graph) DetectCycles() []Cycle {
	g.mu.Lock()
	defer g.mu.Unlock()

	index := 0
	indices := make(map[types.JobID]int)
	lowlink := make(map[types.JobID]int)
	onStack := make(map[types.JobID]bool)
	var sccStack []types.JobID
	var cycles []Cycle

	// Stable iteration order keeps diagnostics deterministic
	ids := make([]types.JobID, 0, len(g.jobs))
	for id := range g.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	strongconnect := func(root types.JobID) {
		stack := []sccFrame{g.newSCCFrame(root)}
		indices[root] = index
		lowlink[root] = index
		index++
		sccStack = append(sccStack, root)
		onStack[root] = true

		for len(stack) > 0 {
			f := &stack[len(stack)-1]

			if f.parentIx < len(f.parents) {
				next := f.parents[f.parentIx]
				f.parentIx++

				if _, seen := indices[next]; !seen {
					indices[next] = index
					lowlink[next] = index
					index++
					sccStack = append(sccStack, next)
					onStack[next] = true
					stack = append(stack, g.newSCCFrame(next))
				} else if onStack[next] {
					if indices[next] < lowlink[f.id] {
						lowlink[f.id] = indices[next]
					}
				}
				continue
			}

			// All successors explored; pop and propagate lowlink
			if lowlink[f.id] == indices[f.id] {
				var scc []types.JobID
				for {
					n := len(sccStack) - 1
					member := sccStack[n]
					sccStack = sccStack[:n]
					onStack[member] = false
					scc = append(scc, member)
					if member == f.id {
						break
					}
				}
				if c, ok := g.cycleFromSCC(scc); ok {
					cycles = append(cycles, c)
				}
			}

			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				caller := &stack[len(stack)-1]
				if lowlink[f.id] < lowlink[caller.id] {
					lowlink[caller.id] = lowlink[f.id]
				}
			}
		}
	}

	for _, id := range ids {
		if _, seen := indices[id]; !seen {
			strongconnect(id)
		}
	}
	return cycles
}

type sccFrame struct {
	id       types.JobID
	parents  []types.JobID
	parentIx int
}

func (g *Graph) newSCCFrame(id types.JobID) sccFrame {
	parents := make([]types.JobID, 0, len(g.deps[id]))
	for parent := range g.deps[id] {
		parents = append(parents, parent)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	return sccFrame{id: id, parents: parents}
}

// cycleFromSCC builds a Cycle for components of size > 1 and self-loops
func (g *Graph) cycleFromSCC(scc []types.JobID) (Cycle, bool) {
	isCycle := len(scc) > 1
	if !isCycle && len(scc) == 1 {
		id := scc[0]
		if _, self := g.deps[id][id]; self {
			isCycle = true
		}
	}
	if !isCycle {
		return Cycle{}, false
	}

	sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })

	severity := SeverityMedium
	if len(scc) >= 3 {
		severity = SeverityHigh
	} else {
		for _, id := range scc {
			if n, ok := g.jobs[id]; ok && n.priority >= types.PriorityElevated {
				severity = SeverityHigh
				break
			}
		}
	}

	return Cycle{Jobs: scc, Length: len(scc), Severity: severity}, true
}
