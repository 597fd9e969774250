package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/balancer"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/cache"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/config"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/events"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/failure"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/graph"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/health"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/policy"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/queue"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

var (
	// ErrInvalidPriority rejects priorities outside [1, 1000]
	ErrInvalidPriority = errors.New("priority out of range")

	// ErrUnknownDependency rejects a submission naming an unknown parent
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrUnknownJob is returned for operations on jobs the core does not know
	ErrUnknownJob = errors.New("unknown job")

	// ErrAlreadyTerminal rejects cancellation of a finished job
	ErrAlreadyTerminal = errors.New("job already terminal")

	// ErrNotRunning rejects an outcome report for an unassigned job
	ErrNotRunning = errors.New("job is not running")
)

// Core composes the engine: storage, dependency graph, ready queue,
// worker registry, assignment policy, load balancer, health monitor, and
// failure recovery. All cross-component operations go through it so lock
// acquisition stays in a fixed order: registry, then queue, then graph.
type Core struct {
	cfg   *config.Config
	store storage.Store
	cache *cache.Memory

	graph    *graph.Graph
	queue    *queue.PriorityQueue
	registry *registry.Registry
	policy   *policy.Policy
	balancer *balancer.Balancer
	monitor  *health.Monitor
	failure  *failure.Controller
	broker   *events.Broker

	// mu guards the assignment index and the cancel-request set. The
	// index is the authoritative job-to-worker mapping; job records and
	// worker records are views over it.
	mu              sync.Mutex
	assignments     map[types.JobID]types.WorkerID
	cancelRequested map[types.JobID]bool

	tasks  *taskRunner
	logger zerolog.Logger
}

// New wires the engine together. The store stays owned by the caller.
func New(cfg *config.Config, store storage.Store) (*Core, error) {
	strategy, err := policy.ParseStrategy(cfg.AssignmentStrategy)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:             cfg,
		store:           store,
		cache:           cache.NewMemory(),
		broker:          events.NewBroker(),
		assignments:     make(map[types.JobID]types.WorkerID),
		cancelRequested: make(map[types.JobID]bool),
		logger:          log.WithComponent("scheduler"),
	}

	c.graph = graph.NewGraph(cfg.Dependencies.MaxCycleDepth,
		graph.ConditionalPolicy(cfg.Dependencies.ConditionalOnFailure))

	c.queue = queue.New(queue.Capacities{
		High:   cfg.QueueCapacities.High,
		Normal: cfg.QueueCapacities.Normal,
		Low:    cfg.QueueCapacities.Low,
	})

	regOpts := registry.Options{
		MaxRegistrationAttempts: cfg.MaxRegistrationAttempts,
		RegistrationCooldown:    cfg.RegistrationCooldown,
		CacheTTL:                cfg.WorkerCacheTTL,
		MaxConcurrentJobsLimit:  cfg.MaxConcurrentJobsLimit,
		LoadFactorMin:           cfg.LoadFactorMin,
		LoadFactorMax:           cfg.LoadFactorMax,
		AssignmentBuffer:        registry.DefaultOptions().AssignmentBuffer,
	}
	c.registry = registry.New(store, c.cache, regOpts)

	c.policy = policy.New(strategy, c.registry.IsBlacklisted)

	c.balancer = balancer.New(c.queue, c.registry, c.policy, c, balancer.Config{
		ImbalanceThreshold: cfg.LoadBalancing.ImbalanceThreshold,
		MaxMovesPerSecond:  cfg.LoadBalancing.MaxMovesPerSecond,
	})

	c.failure = failure.NewController(store, c.queue, c.registry, c.broker, c.propagateCompletion)

	c.monitor = health.NewMonitor(c.registry, store, health.Config{
		HeartbeatTimeout:       cfg.HeartbeatTimeout,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		CleanupThreshold:       cfg.CleanupThreshold,
	}, health.Callbacks{
		WorkerFailed:    c.onWorkerFailed,
		WorkerRecovered: c.onWorkerRecovered,
		JobTimeout:      c.onJobTimeout,
	})

	c.tasks = newTaskRunner(c)

	if err := c.rehydrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start launches the event broker, the cache janitor, and the periodic
// task table.
func (c *Core) Start() error {
	c.broker.Start()
	c.cache.Start()
	if err := c.tasks.start(); err != nil {
		return err
	}
	c.logger.Info().Str("strategy", string(c.policy.Strategy())).Msg("scheduler started")
	return nil
}

// Stop halts the periodic tasks and background loops
func (c *Core) Stop() {
	c.tasks.stop()
	c.cache.Stop()
	c.broker.Stop()
	c.logger.Info().Msg("scheduler stopped")
}

// Subscribe exposes the event stream
func (c *Core) Subscribe() events.Subscriber {
	return c.broker.Subscribe()
}

// Unsubscribe releases an event subscription
func (c *Core) Unsubscribe(sub events.Subscriber) {
	c.broker.Unsubscribe(sub)
}

// rehydrate reloads persisted state after a restart. Scheduled jobs lose
// their binding (the delivery channels are gone) and return to pending.
func (c *Core) rehydrate() error {
	if err := c.registry.Restore(); err != nil {
		return err
	}

	live := make(map[types.JobID]*types.Job)
	for _, status := range []types.JobStatus{
		types.JobStatusPending, types.JobStatusScheduled, types.JobStatusRunning,
	} {
		jobs, err := c.store.ListJobsByStatus(status)
		if err != nil {
			return fmt.Errorf("failed to reload %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			live[job.ID] = job
		}
	}
	if len(live) == 0 {
		return nil
	}

	for _, job := range live {
		if job.Status == types.JobStatusScheduled {
			job.Status = types.JobStatusPending
			job.AssignedWorkerID = ""
			job.ScheduledAt = nil
			if err := c.store.SaveJob(job); err != nil {
				return fmt.Errorf("failed to reset job %s: %w", job.ID, err)
			}
		}
		c.graph.AddJob(job.ID, job.Status, job.Priority)
	}

	for _, job := range live {
		edges, err := c.store.ListDependenciesByChild(job.ID)
		if err != nil {
			return fmt.Errorf("failed to reload edges for %s: %w", job.ID, err)
		}
		for _, e := range edges {
			if err := c.graph.AddEdge(e.Child, e.Parent, e.Kind); err != nil {
				// Parent already finished and was not reloaded
				if errors.Is(err, graph.ErrUnknownJob) {
					continue
				}
				return fmt.Errorf("failed to restore edge %s -> %s: %w", e.Child, e.Parent, err)
			}
			if e.Satisfied {
				c.graph.MarkSatisfied(e.Child, e.Parent)
				continue
			}
			// The start notification already happened for running parents
			if e.Kind == types.DependencyMustStart {
				if parent, ok := live[e.Parent]; ok && parent.Status == types.JobStatusRunning {
					c.graph.MarkSatisfied(e.Child, e.Parent)
				}
			}
		}
	}

	enqueued := 0
	for _, id := range c.graph.JobsReady() {
		if job, ok := live[id]; ok {
			if err := c.queue.Enqueue(job); err != nil {
				c.logger.Warn().Err(err).Str("job_id", string(id)).Msg("could not requeue job on restart")
				continue
			}
			enqueued++
		}
	}

	c.mu.Lock()
	for _, job := range live {
		if job.Status == types.JobStatusRunning && job.AssignedWorkerID != "" {
			c.assignments[job.ID] = job.AssignedWorkerID
		}
	}
	c.mu.Unlock()

	c.logger.Info().
		Int("jobs", len(live)).
		Int("requeued", enqueued).
		Msg("state rehydrated")
	return nil
}

// Stats is a point-in-time view of the engine
type Stats struct {
	QueueSizes   map[types.Band]int
	WorkerCounts map[types.WorkerStatus]int
	Assignments  int
	CycleReport  []graph.Cycle
}

// Stats snapshots queue depths, worker counts, and graph health
func (c *Core) Stats() Stats {
	c.mu.Lock()
	assigned := len(c.assignments)
	c.mu.Unlock()

	return Stats{
		QueueSizes:   c.queue.Sizes(),
		WorkerCounts: c.registry.Counts(),
		Assignments:  assigned,
		CycleReport:  c.graph.DetectCycles(),
	}
}

// onWorkerFailed is the health monitor callback
func (c *Core) onWorkerFailed(workerID types.WorkerID, jobs []types.JobID) {
	c.mu.Lock()
	for _, jobID := range jobs {
		delete(c.assignments, jobID)
	}
	c.mu.Unlock()

	c.broker.Publish(&events.Event{
		Type:     events.EventWorkerFailed,
		WorkerID: string(workerID),
		Message:  fmt.Sprintf("%d jobs returned for recovery", len(jobs)),
	})
	c.failure.HandleWorkerFailure(workerID, jobs)
}

// onWorkerRecovered announces a worker passing its checks again
func (c *Core) onWorkerRecovered(workerID types.WorkerID) {
	c.broker.Publish(&events.Event{
		Type:     events.EventWorkerRecovered,
		WorkerID: string(workerID),
	})
}

// onJobTimeout is the health monitor's per-job timeout escalation
func (c *Core) onJobTimeout(jobID types.JobID, workerID types.WorkerID) {
	c.mu.Lock()
	delete(c.assignments, jobID)
	c.mu.Unlock()

	if err := c.failure.Reassign(jobID, workerID, "Timeout"); err != nil {
		c.logger.Error().Err(err).Str("job_id", string(jobID)).Msg("timeout recovery failed")
	}
}
