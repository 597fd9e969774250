/*
Package graph tracks dependency edges between jobs and decides when a
job becomes ready to run.

Edges point from a child to the parents it waits on. Each edge carries
a kind that controls when it settles:

	must_complete  satisfied when the parent reaches any terminal state
	must_start     satisfied when the parent starts running; a parent
	               that ends without ever starting blocks the child
	must_succeed   satisfied only by parent success; parent failure
	               blocks the child
	conditional    settles per the configured on-failure policy

A job is ready when every inbound edge is satisfied and none is
blocked. Edge insertion runs a depth-bounded reverse DFS and rejects
any edge that would close a cycle, so the graph can never hold one.
DetectCycles is a separate full Tarjan scan kept for audits; on a
healthy graph it returns nothing.

Terminal outcomes stay recorded on the node; jobs leave the graph only
through RemoveJob. Restarts rebuild the graph from live jobs, so edges
to parents that finished before the restart settle at insertion time
instead.
*/
package graph
