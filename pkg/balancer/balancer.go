package balancer

import (
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/policy"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/queue"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// Assigner applies and reverts job-to-worker bindings. The scheduler core
// implements it; the balancer stays free of job state bookkeeping.
type Assigner interface {
	// Assign binds the job to the worker
	Assign(job *types.Job, worker *types.Worker) error

	// MovableJobs returns the jobs bound to the worker that have not
	// started running
	MovableJobs(workerID types.WorkerID) []*types.Job

	// Unassign reverts a binding and returns the job to pending
	Unassign(jobID types.JobID, workerID types.WorkerID) error
}

// Config tunes the balancer
type Config struct {
	// ImbalanceThreshold is the max(load) - min(load) gap that triggers
	// a rebalance
	ImbalanceThreshold float64

	// MaxMovesPerSecond paces rebalance moves
	MaxMovesPerSecond float64
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		ImbalanceThreshold: 0.4,
		MaxMovesPerSecond:  10,
	}
}

// Balancer drains the ready queue onto workers and levels load between
// them. Both passes are driven by the scheduler's periodic task table.
type Balancer struct {
	queue    *queue.PriorityQueue
	registry *registry.Registry
	policy   *policy.Policy
	assigner Assigner
	cfg      Config

	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a balancer
func New(q *queue.PriorityQueue, reg *registry.Registry, pol *policy.Policy,
	assigner Assigner, cfg Config) *Balancer {
	burst := int(cfg.MaxMovesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Balancer{
		queue:    q,
		registry: reg,
		policy:   pol,
		assigner: assigner,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxMovesPerSecond), burst),
		logger:   log.WithComponent("balancer"),
	}
}

// DrainOnce runs one drain pass: HIGH to empty, then NORMAL, then LOW
// only while spare capacity remains. Returns the number of jobs placed.
func (b *Balancer) DrainOnce() int {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DrainLatency)

	assigned := b.drainBand(types.BandHigh)
	assigned += b.drainBand(types.BandNormal)

	if b.spareCapacity() {
		assigned += b.drainBand(types.BandLow)
	}
	return assigned
}

// drainBand pops each queued job at most once per pass; a job without an
// eligible worker goes back to the band tail so it does not block the rest.
func (b *Balancer) drainBand(band types.Band) int {
	assigned := 0
	for i, n := 0, b.queue.Size(band); i < n; i++ {
		job := b.queue.Pop(band)
		if job == nil {
			break
		}

		worker, err := b.policy.Select(job, b.registry.Snapshot())
		if err != nil {
			if errors.Is(err, policy.ErrNoWorker) {
				metrics.AssignmentsTotal.WithLabelValues(string(b.policy.Strategy()), "no_worker").Inc()
				b.requeue(job)
				continue
			}
			b.logger.Error().Err(err).Str("job_id", string(job.ID)).Msg("worker selection failed")
			b.requeue(job)
			continue
		}

		timer := metrics.NewTimer()
		if err := b.assigner.Assign(job, worker); err != nil {
			metrics.AssignmentsTotal.WithLabelValues(string(b.policy.Strategy()), "error").Inc()
			b.logger.Error().
				Err(err).
				Str("job_id", string(job.ID)).
				Str("worker_id", string(worker.ID)).
				Msg("assignment failed")
			b.requeue(job)
			continue
		}
		timer.ObserveDuration(metrics.AssignmentLatency)

		metrics.AssignmentsTotal.WithLabelValues(string(b.policy.Strategy()), "success").Inc()
		assigned++
	}
	return assigned
}

func (b *Balancer) requeue(job *types.Job) {
	if err := b.queue.Enqueue(job); err != nil {
		b.logger.Error().Err(err).Str("job_id", string(job.ID)).Msg("requeue failed, job dropped from queue")
	}
}

func (b *Balancer) spareCapacity() bool {
	for _, worker := range b.registry.Snapshot() {
		if worker.Status.Schedulable() && worker.AvailableCapacity() > 0 {
			return true
		}
	}
	return false
}

// RebalanceOnce levels load between the most and least loaded workers by
// returning not-yet-running jobs to the queue. Running jobs are never
// preempted. Returns the number of jobs moved.
func (b *Balancer) RebalanceOnce() int {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceLatency)

	var most, least *types.Worker
	for _, worker := range b.registry.Snapshot() {
		if worker.Status != types.WorkerStatusActive && worker.Status != types.WorkerStatusBusy {
			continue
		}
		if worker.MaxConcurrentJobs <= 0 {
			continue
		}
		if most == nil || worker.LoadPercentage() > most.LoadPercentage() {
			most = worker
		}
		if least == nil || worker.LoadPercentage() < least.LoadPercentage() {
			least = worker
		}
	}
	if most == nil || least == nil || most.ID == least.ID {
		return 0
	}

	gap := most.LoadPercentage() - least.LoadPercentage()
	if gap <= b.cfg.ImbalanceThreshold {
		return 0
	}

	movable := b.assigner.MovableJobs(most.ID)
	if len(movable) == 0 {
		return 0
	}

	moved := 0
	srcCount := most.CurrentJobCount
	for _, job := range movable {
		load := float64(srcCount) / float64(most.MaxConcurrentJobs)
		if load-least.LoadPercentage() <= b.cfg.ImbalanceThreshold {
			break
		}
		if !b.limiter.Allow() {
			b.logger.Debug().Msg("rebalance move budget exhausted for this cycle")
			break
		}

		if err := b.assigner.Unassign(job.ID, most.ID); err != nil {
			metrics.RebalanceMoves.WithLabelValues("failure").Inc()
			b.logger.Error().Err(err).Str("job_id", string(job.ID)).Msg("rebalance unassign failed")
			continue
		}
		b.requeue(job)
		metrics.RebalanceMoves.WithLabelValues("success").Inc()
		srcCount--
		moved++
	}

	if moved > 0 {
		b.logger.Info().
			Str("from", string(most.ID)).
			Str("to", string(least.ID)).
			Int("moved", moved).
			Msg("rebalanced load")
	}
	return moved
}
