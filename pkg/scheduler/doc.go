/*
Package scheduler composes the job scheduling engine: submission,
dependency tracking, worker assignment, load balancing, health
monitoring, and failure recovery behind one façade.

# Architecture

The Core wires the component packages together and owns the
authoritative job-to-worker assignment index. Job records and worker
records both carry a denormalized view of that index; the health
monitor's assignment-consistency check reconciles drift.

	                ┌──────────────────────────────┐
	  SubmitJob ───▶│            Core              │
	  CancelJob     │                              │
	  ReportOutcome │  assignment index (job↔wkr)  │
	                └──┬──────┬──────┬──────┬──────┘
	                   │      │      │      │
	                   ▼      ▼      ▼      ▼
	                graph  queue  registry  storage
	                   ▲      ▲      ▲
	                   │      │      │
	          balancer ┴──────┴──────┘   health ──▶ failure

Submission persists the job, registers its dependency edges (each
validated for cycles), and enqueues it once every edge is satisfied.
The balancer's drain pass pops ready jobs band by band, asks the
assignment policy for a worker, and delivers the binding on the
worker's channel. Outcomes reported back release dependents through
the graph and return capacity to the worker.

# Periodic tasks

Core.Start schedules four background passes on a cron runner, each with
a deadline equal to its period:

	drain         every 5s    place ready jobs on workers
	rebalance     every 60s   level load between workers
	health-check  every 2m    evaluate worker health
	cleanup       every 15m   retire workers stuck in error

Tests drive the same passes synchronously through DrainOnce,
RebalanceOnce, RunHealthChecks, and RunCleanup, so nothing sleeps on
real intervals.

# Locking

Components lock internally. Core operations that touch more than one
component acquire them in a fixed order: registry, then queue, then
graph. Policy scoring and cycle scans run on snapshot copies taken
under the short critical section.

# Restarts

State lives in the bolt store. On construction the Core reloads
pending and running jobs plus their edges into the graph, requeues
whatever is ready, and resets scheduled-but-undelivered bindings to
pending, since worker channels do not survive a restart.
*/
package scheduler
