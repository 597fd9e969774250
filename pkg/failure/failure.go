package failure

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/events"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/queue"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// CompletedFunc propagates a terminal outcome into dependency tracking.
// The scheduler core wires this to its completion path.
type CompletedFunc func(jobID types.JobID, outcome types.Outcome)

// Controller recovers jobs from failed workers, timeouts, and explicit
// reassignment requests, within each job's retry budget.
type Controller struct {
	jobs     storage.JobStore
	queue    *queue.PriorityQueue
	registry *registry.Registry
	broker   *events.Broker

	onCompleted CompletedFunc

	logger zerolog.Logger
}

// NewController creates a controller. onCompleted may be nil.
func NewController(jobs storage.JobStore, q *queue.PriorityQueue,
	reg *registry.Registry, broker *events.Broker, onCompleted CompletedFunc) *Controller {
	return &Controller{
		jobs:        jobs,
		queue:       q,
		registry:    reg,
		broker:      broker,
		onCompleted: onCompleted,
		logger:      log.WithComponent("failure"),
	}
}

// Reassign returns a job to the queue after its worker failed, or marks
// it failed once the retry budget is exhausted.
func (c *Controller) Reassign(jobID types.JobID, failedWorkerID types.WorkerID, reason string) error {
	job, err := c.jobs.GetJob(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Completed and cancelled jobs stay terminal; a failed job may still
	// have budget left
	if job.Status.IsTerminal() && job.Status != types.JobStatusFailed {
		return nil
	}

	job.RetryCount++
	if job.RetryCount > job.MaxRetries {
		return c.exhaust(job, failedWorkerID, reason)
	}

	c.unassign(job, failedWorkerID)

	job.Status = types.JobStatusPending
	if err := storage.WithRetry(func() error { return c.jobs.SaveJob(job) }); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", jobID, err)
	}

	if err := c.queue.Enqueue(job); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}

	metrics.JobRetries.Inc()
	c.broker.Publish(&events.Event{
		Type:     events.EventJobReassigned,
		JobID:    string(jobID),
		WorkerID: string(failedWorkerID),
		Message:  reason,
		Metadata: map[string]string{"retry": fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
	})

	c.logger.Info().
		Str("job_id", string(jobID)).
		Str("worker_id", string(failedWorkerID)).
		Str("reason", reason).
		Int("retry_count", job.RetryCount).
		Msg("job returned for reassignment")
	return nil
}

// exhaust releases the worker's share of the binding, marks the job
// failed with the composed reason, and propagates the terminal outcome.
func (c *Controller) exhaust(job *types.Job, failedWorkerID types.WorkerID, reason string) error {
	c.unassign(job, failedWorkerID)

	job.Status = types.JobStatusFailed
	job.Error = "Max retry attempts exceeded: " + reason

	if err := storage.WithRetry(func() error { return c.jobs.SaveJob(job) }); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}

	c.broker.Publish(&events.Event{
		Type:    events.EventJobFailed,
		JobID:   string(job.ID),
		Message: job.Error,
	})

	c.logger.Warn().
		Str("job_id", string(job.ID)).
		Str("reason", reason).
		Int("retry_count", job.RetryCount).
		Msg("retry budget exhausted")

	if c.onCompleted != nil {
		c.onCompleted(job.ID, types.OutcomeFailed)
	}
	return nil
}

// unassign removes the binding from both the job and the worker record
func (c *Controller) unassign(job *types.Job, workerID types.WorkerID) {
	job.AssignedWorkerID = ""
	job.StartedAt = nil
	job.ScheduledAt = nil

	if workerID == "" {
		return
	}
	err := c.registry.Mutate(workerID, func(w *types.Worker) {
		kept := w.AssignedJobs[:0]
		for _, id := range w.AssignedJobs {
			if id != job.ID {
				kept = append(kept, id)
			}
		}
		w.AssignedJobs = kept
		if w.CurrentJobCount > 0 {
			w.CurrentJobCount--
		}
	})
	if err != nil && !errors.Is(err, registry.ErrWorkerUnknown) {
		c.logger.Error().Err(err).Str("worker_id", string(workerID)).Msg("failed to unassign from worker")
	}
}

// HandleWorkerFailure recovers every job the failed worker held
func (c *Controller) HandleWorkerFailure(workerID types.WorkerID, jobIDs []types.JobID) {
	for _, jobID := range jobIDs {
		if err := c.Reassign(jobID, workerID, "Worker failed"); err != nil {
			c.logger.Error().
				Err(err).
				Str("job_id", string(jobID)).
				Str("worker_id", string(workerID)).
				Msg("failed to recover job from failed worker")
		}
	}
}
