package scheduler

import (
	"fmt"
	"time"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/events"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// Assign binds a job to a worker: worker counters first, then the job
// record, then delivery on the worker channel. A failed delivery rolls
// the binding back so the job can be requeued.
func (c *Core) Assign(job *types.Job, worker *types.Worker) error {
	err := c.registry.Mutate(worker.ID, func(w *types.Worker) {
		w.CurrentJobCount++
		w.AssignedJobs = append(w.AssignedJobs, job.ID)
		if w.CurrentJobCount >= w.MaxConcurrentJobs {
			w.Status = types.WorkerStatusBusy
		}
	})
	if err != nil {
		return fmt.Errorf("failed to reserve worker %s: %w", worker.ID, err)
	}

	now := time.Now()
	job.Status = types.JobStatusScheduled
	job.ScheduledAt = &now
	job.AssignedWorkerID = worker.ID

	if err := storage.WithRetry(func() error { return c.store.SaveJob(job) }); err != nil {
		c.rollbackAssign(job, worker.ID)
		return fmt.Errorf("failed to persist assignment of %s: %w", job.ID, err)
	}

	if err := c.registry.Deliver(&types.Assignment{
		Job:        job,
		WorkerID:   worker.ID,
		AssignedAt: now,
	}); err != nil {
		c.rollbackAssign(job, worker.ID)
		if saveErr := c.store.SaveJob(job); saveErr != nil {
			c.logger.Error().Err(saveErr).Str("job_id", string(job.ID)).Msg("failed to persist assignment rollback")
		}
		return err
	}

	c.mu.Lock()
	c.assignments[job.ID] = worker.ID
	c.mu.Unlock()

	c.graph.SetJobStatus(job.ID, types.JobStatusScheduled)

	c.broker.Publish(&events.Event{
		Type:     events.EventJobScheduled,
		JobID:    string(job.ID),
		WorkerID: string(worker.ID),
	})
	return nil
}

func (c *Core) rollbackAssign(job *types.Job, workerID types.WorkerID) {
	job.Status = types.JobStatusPending
	job.ScheduledAt = nil
	job.AssignedWorkerID = ""

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
		if w.Status == types.WorkerStatusBusy && w.CurrentJobCount < w.MaxConcurrentJobs {
			w.Status = types.WorkerStatusActive
		}
	})
	if err != nil {
		c.logger.Error().Err(err).Str("worker_id", string(workerID)).Msg("failed to roll back assignment")
	}
}

// MovableJobs returns the worker's bindings that have not started
// running; the rebalancer may return these to the queue.
func (c *Core) MovableJobs(workerID types.WorkerID) []*types.Job {
	c.mu.Lock()
	var candidates []types.JobID
	for jobID, wID := range c.assignments {
		if wID == workerID {
			candidates = append(candidates, jobID)
		}
	}
	c.mu.Unlock()

	var movable []*types.Job
	for _, jobID := range candidates {
		job, err := c.store.GetJob(jobID)
		if err != nil {
			continue
		}
		if job.Status == types.JobStatusScheduled {
			movable = append(movable, job)
		}
	}
	return movable
}

// Unassign reverts a not-yet-running binding and returns the job to
// pending. The caller requeues it.
func (c *Core) Unassign(jobID types.JobID, workerID types.WorkerID) error {
	job, err := c.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status != types.JobStatusScheduled {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, jobID, job.Status)
	}

	c.mu.Lock()
	delete(c.assignments, jobID)
	c.mu.Unlock()

	c.rollbackAssign(job, workerID)
	if err := storage.WithRetry(func() error { return c.store.SaveJob(job) }); err != nil {
		return fmt.Errorf("failed to persist unassignment of %s: %w", jobID, err)
	}

	c.graph.SetJobStatus(jobID, types.JobStatusPending)
	return nil
}
