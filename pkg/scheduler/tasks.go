package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/health"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// task is one row of the periodic task table. Each run gets a deadline
// equal to the task's period; an over-running task is logged and left to
// finish while the next tick is skipped.
type task struct {
	name   string
	period time.Duration
	run    func(context.Context)
}

// taskRunner drives the periodic task table on a cron scheduler
type taskRunner struct {
	core  *Core
	cron  *cron.Cron
	table []task

	// running guards against overlapping runs per task
	running map[string]chan struct{}
}

func newTaskRunner(c *Core) *taskRunner {
	r := &taskRunner{
		core:    c,
		running: make(map[string]chan struct{}),
	}

	r.table = []task{
		{
			name:   "drain",
			period: c.cfg.LoadBalancing.DrainInterval,
			run:    func(ctx context.Context) { c.balancer.DrainOnce() },
		},
		{
			name:   "rebalance",
			period: c.cfg.LoadBalancing.RebalanceInterval,
			run:    func(ctx context.Context) { c.balancer.RebalanceOnce() },
		},
		{
			name:   "health-check",
			period: c.cfg.HealthCheckInterval,
			run:    func(ctx context.Context) { c.monitor.RunChecks() },
		},
		{
			name:   "cleanup",
			period: c.cfg.CleanupInterval,
			run:    func(ctx context.Context) { c.monitor.RunCleanup() },
		},
	}
	return r
}

func (r *taskRunner) start() error {
	r.cron = cron.New()

	for _, t := range r.table {
		t := t
		r.running[t.name] = make(chan struct{}, 1)

		spec := fmt.Sprintf("@every %s", t.period)
		if _, err := r.cron.AddFunc(spec, func() { r.fire(t) }); err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", t.name, err)
		}
	}

	r.cron.Start()
	return nil
}

// fire runs one task tick under its deadline. A still-running previous
// tick makes this one a no-op.
func (r *taskRunner) fire(t task) {
	slot := r.running[t.name]
	select {
	case slot <- struct{}{}:
	default:
		r.core.logger.Warn().Str("task", t.name).Msg("previous run still in progress, skipping tick")
		return
	}
	defer func() { <-slot }()

	ctx, cancel := context.WithTimeout(context.Background(), t.period)
	defer cancel()

	done := make(chan struct{})
	go func() {
		t.run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.core.logger.Warn().
			Str("task", t.name).
			Dur("deadline", t.period).
			Msg("task exceeded its deadline")
		<-done
	}
}

func (r *taskRunner) stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// DrainOnce runs one drain pass; used by tests and the admin surface
func (c *Core) DrainOnce() int {
	return c.balancer.DrainOnce()
}

// RebalanceOnce runs one rebalance pass
func (c *Core) RebalanceOnce() int {
	return c.balancer.RebalanceOnce()
}

// RunHealthChecks runs one health evaluation pass
func (c *Core) RunHealthChecks() []health.CheckResult {
	return c.monitor.RunChecks()
}

// RunCleanup runs one cleanup pass
func (c *Core) RunCleanup() []types.WorkerID {
	return c.monitor.RunCleanup()
}
