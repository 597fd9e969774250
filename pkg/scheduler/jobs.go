package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/events"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/graph"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// DependencySpec declares one edge at submission time
type DependencySpec struct {
	Parent types.JobID
	Kind   types.DependencyKind
}

// SubmitRequest carries a job submission
type SubmitRequest struct {
	Name        string
	Description string
	Type        string
	Priority    int
	Parameters  map[string]string

	// DependsOn declares must-complete edges; Dependencies declares
	// edges with explicit kinds
	DependsOn    []types.JobID
	Dependencies []DependencySpec

	// MaxRetries of zero applies the default budget
	MaxRetries int
	Timeout    time.Duration

	RequiredCapabilities string
	Tags                 map[string]string
}

// SubmitJob validates and admits a job. The job is enqueued immediately
// when every declared dependency is already satisfied.
func (c *Core) SubmitJob(req SubmitRequest) (types.JobID, error) {
	if req.Priority < types.PriorityMin || req.Priority > types.PriorityMax {
		return "", fmt.Errorf("%w: %d not in [%d, %d]",
			ErrInvalidPriority, req.Priority, types.PriorityMin, types.PriorityMax)
	}

	specs := make([]DependencySpec, 0, len(req.DependsOn)+len(req.Dependencies))
	for _, parent := range req.DependsOn {
		specs = append(specs, DependencySpec{Parent: parent, Kind: types.DependencyMustComplete})
	}
	specs = append(specs, req.Dependencies...)

	// Parents absent from the graph may still be finished jobs in the
	// store, e.g. after a restart; their edges settle immediately below
	// without a graph edge.
	terminalParents := make(map[types.JobID]*types.Job)
	for _, spec := range specs {
		if c.graph.HasJob(spec.Parent) {
			continue
		}
		parent, err := c.store.GetJob(spec.Parent)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrUnknownDependency, spec.Parent)
		}
		if !parent.Status.IsTerminal() {
			c.graph.AddJob(parent.ID, parent.Status, parent.Priority)
			continue
		}
		terminalParents[spec.Parent] = parent
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = types.DefaultMaxRetries
	}

	job := &types.Job{
		ID:                   types.JobID(uuid.NewString()),
		Name:                 req.Name,
		Description:          req.Description,
		Type:                 req.Type,
		Parameters:           req.Parameters,
		Priority:             req.Priority,
		Status:               types.JobStatusPending,
		CreatedAt:            time.Now(),
		MaxRetries:           maxRetries,
		Timeout:              req.Timeout,
		RequiredCapabilities: req.RequiredCapabilities,
		Tags:                 req.Tags,
	}
	for _, spec := range specs {
		job.DependsOn = append(job.DependsOn, spec.Parent)
	}

	c.graph.AddJob(job.ID, types.JobStatusPending, job.Priority)

	added := make([]DependencySpec, 0, len(specs))
	for _, spec := range specs {
		if _, settled := terminalParents[spec.Parent]; settled {
			continue
		}
		if err := c.graph.AddEdge(job.ID, spec.Parent, spec.Kind); err != nil {
			for _, a := range added {
				c.graph.RemoveEdge(job.ID, a.Parent)
			}
			c.graph.RemoveJob(job.ID)
			return "", err
		}
		added = append(added, spec)
	}

	// Edges to parents that already finished are settled now
	blocked := false
	for _, spec := range specs {
		parent, ok := terminalParents[spec.Parent]
		if !ok {
			loaded, err := c.store.GetJob(spec.Parent)
			if err != nil {
				continue
			}
			parent = loaded
		}
		if !parent.Status.IsTerminal() {
			if spec.Kind == types.DependencyMustStart && parent.Status == types.JobStatusRunning {
				c.graph.MarkSatisfied(job.ID, spec.Parent)
			}
			continue
		}
		switch outcomeFor(parent.Status) {
		case types.OutcomeCompleted:
			c.graph.MarkSatisfied(job.ID, spec.Parent)
		default:
			satisfied, block := settleTerminalEdge(spec.Kind, parent.StartedAt != nil,
				c.cfg.Dependencies.ConditionalOnFailure)
			if satisfied {
				c.graph.MarkSatisfied(job.ID, spec.Parent)
			}
			blocked = blocked || block
		}
	}

	if err := storage.WithRetry(func() error { return c.store.SaveJob(job) }); err != nil {
		c.graph.RemoveJob(job.ID)
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	for _, spec := range specs {
		edge := &types.JobDependency{
			Child:     job.ID,
			Parent:    spec.Parent,
			Kind:      spec.Kind,
			CreatedAt: job.CreatedAt,
		}
		if err := storage.WithRetry(func() error { return c.store.SaveDependency(edge) }); err != nil {
			c.logger.Error().Err(err).Str("job_id", string(job.ID)).Msg("failed to persist dependency edge")
		}
	}

	metrics.JobsSubmitted.Inc()
	c.broker.Publish(&events.Event{
		Type:  events.EventJobSubmitted,
		JobID: string(job.ID),
	})

	if blocked {
		c.cancelBlocked(job.ID, "Prerequisite failed")
		return job.ID, nil
	}

	if c.readyNow(job.ID) {
		if err := c.queue.Enqueue(job); err != nil {
			return job.ID, err
		}
	}

	c.logger.Info().
		Str("job_id", string(job.ID)).
		Str("name", job.Name).
		Int("priority", job.Priority).
		Int("dependencies", len(specs)).
		Msg("job submitted")
	return job.ID, nil
}

func (c *Core) readyNow(id types.JobID) bool {
	for _, ready := range c.graph.JobsReady() {
		if ready == id {
			return true
		}
	}
	return false
}

// settleTerminalEdge decides how an edge to an already failed or
// cancelled parent settles at insertion time.
func settleTerminalEdge(kind types.DependencyKind, parentStarted bool, conditionalPolicy string) (satisfied, blocked bool) {
	switch kind {
	case types.DependencyMustComplete:
		return true, false
	case types.DependencyMustStart:
		if parentStarted {
			return true, false
		}
		return false, true
	case types.DependencyMustSucceed:
		return false, true
	case types.DependencyConditional:
		if conditionalPolicy == string(graph.ConditionalCancel) {
			return false, true
		}
		return true, false
	}
	return false, false
}

func outcomeFor(status types.JobStatus) types.Outcome {
	switch status {
	case types.JobStatusCompleted:
		return types.OutcomeCompleted
	case types.JobStatusCancelled:
		return types.OutcomeCancelled
	default:
		return types.OutcomeFailed
	}
}

// AddDependency inserts an edge between two existing jobs. The edge is
// validated by the graph; edges that would close a cycle are rejected
// with the offending path.
func (c *Core) AddDependency(child, parent types.JobID, kind types.DependencyKind) error {
	if !c.graph.HasJob(child) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, child)
	}

	// A parent missing from the graph may be a finished job in the store
	var terminalParent *types.Job
	if !c.graph.HasJob(parent) {
		p, err := c.store.GetJob(parent)
		if err != nil || !p.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, parent)
		}
		terminalParent = p
	}

	if terminalParent == nil {
		if err := c.graph.AddEdge(child, parent, kind); err != nil {
			return err
		}
	}

	// The child may have been sitting in the ready queue
	c.queue.RemoveIf(func(j *types.Job) bool { return j.ID == child })

	edge := &types.JobDependency{
		Child:     child,
		Parent:    parent,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	if err := storage.WithRetry(func() error { return c.store.SaveDependency(edge) }); err != nil {
		c.logger.Error().Err(err).
			Str("child", string(child)).
			Str("parent", string(parent)).
			Msg("failed to persist dependency edge")
	}

	p := terminalParent
	if p == nil {
		if loaded, err := c.store.GetJob(parent); err == nil {
			p = loaded
		}
	}
	if p != nil {
		if p.Status.IsTerminal() {
			if p.Status == types.JobStatusCompleted {
				c.graph.MarkSatisfied(child, parent)
			} else if satisfied, blocked := settleTerminalEdge(kind, p.StartedAt != nil,
				c.cfg.Dependencies.ConditionalOnFailure); satisfied {
				c.graph.MarkSatisfied(child, parent)
			} else if blocked {
				c.cancelBlocked(child, "Prerequisite failed")
				return nil
			}
		} else if kind == types.DependencyMustStart && p.Status == types.JobStatusRunning {
			c.graph.MarkSatisfied(child, parent)
		}
	}

	if c.readyNow(child) {
		if job, err := c.store.GetJob(child); err == nil {
			if err := c.queue.Enqueue(job); err != nil {
				c.logger.Error().Err(err).Str("job_id", string(child)).Msg("failed to requeue after edge insert")
			}
		}
	}
	return nil
}

// GetJob returns the persisted job record
func (c *Core) GetJob(id types.JobID) (*types.Job, error) {
	job, err := c.store.GetJob(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs in the given status
func (c *Core) ListJobs(status types.JobStatus) ([]*types.Job, error) {
	return c.store.ListJobsByStatus(status)
}

// CancelJob cancels a pending or scheduled job immediately. For a
// running job the cancel is recorded and completes when the worker
// confirms through ReportJobOutcome.
func (c *Core) CancelJob(id types.JobID) error {
	job, err := c.store.GetJob(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, id)
		}
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, job.Status)
	}

	if job.Status == types.JobStatusRunning {
		c.mu.Lock()
		c.cancelRequested[id] = true
		c.mu.Unlock()

		c.logger.Info().Str("job_id", string(id)).Msg("cancel requested for running job")
		return nil
	}

	c.queue.RemoveIf(func(j *types.Job) bool { return j.ID == id })

	c.mu.Lock()
	workerID, assigned := c.assignments[id]
	delete(c.assignments, id)
	c.mu.Unlock()
	if assigned {
		c.releaseWorker(workerID, id, types.OutcomeCancelled)
	}

	c.finishJob(job, types.OutcomeCancelled, "")
	return nil
}

// ReportJobStarted records the worker's acknowledgement that the job is
// executing, and releases must-start dependents.
func (c *Core) ReportJobStarted(id types.JobID) error {
	job, err := c.store.GetJob(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, id)
		}
		return err
	}
	if job.Status != types.JobStatusScheduled {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, job.Status)
	}

	now := time.Now()
	job.Status = types.JobStatusRunning
	job.StartedAt = &now
	if err := storage.WithRetry(func() error { return c.store.SaveJob(job) }); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", id, err)
	}

	ready := c.graph.OnJobStarted(id)
	c.enqueueReady(ready)

	c.broker.Publish(&events.Event{
		Type:     events.EventJobStarted,
		JobID:    string(id),
		WorkerID: string(job.AssignedWorkerID),
	})
	return nil
}

// ReportJobOutcome ingests a terminal outcome from the worker channel
func (c *Core) ReportJobOutcome(id types.JobID, outcome types.Outcome) error {
	job, err := c.store.GetJob(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, id)
		}
		return err
	}
	if job.Status != types.JobStatusRunning && job.Status != types.JobStatusScheduled {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, job.Status)
	}

	c.mu.Lock()
	workerID, assigned := c.assignments[id]
	delete(c.assignments, id)
	if c.cancelRequested[id] {
		delete(c.cancelRequested, id)
		outcome = types.OutcomeCancelled
	}
	c.mu.Unlock()

	if assigned {
		c.releaseWorker(workerID, id, outcome)
	}

	c.finishJob(job, outcome, "")
	return nil
}

// finishJob persists the terminal state, publishes the event, and
// propagates the outcome through the dependency graph.
func (c *Core) finishJob(job *types.Job, outcome types.Outcome, reason string) {
	now := time.Now()
	job.Status = outcome.Status()
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.ActualDuration = now.Sub(*job.StartedAt)
	}
	if reason != "" {
		job.Error = reason
	}
	job.AssignedWorkerID = ""

	if err := storage.WithRetry(func() error { return c.store.SaveJob(job) }); err != nil {
		c.logger.Error().Err(err).Str("job_id", string(job.ID)).Msg("failed to persist terminal job")
	}

	eventType := events.EventJobCompleted
	switch outcome {
	case types.OutcomeFailed:
		eventType = events.EventJobFailed
	case types.OutcomeCancelled:
		eventType = events.EventJobCancelled
	}
	c.broker.Publish(&events.Event{
		Type:    eventType,
		JobID:   string(job.ID),
		Message: reason,
	})

	c.logger.Info().
		Str("job_id", string(job.ID)).
		Str("outcome", string(outcome)).
		Msg("job finished")

	c.propagateCompletion(job.ID, outcome)
}

// propagateCompletion applies a terminal outcome to the graph, enqueues
// newly ready children, and cancels children that can never run.
func (c *Core) propagateCompletion(id types.JobID, outcome types.Outcome) {
	result := c.graph.OnJobCompleted(id, outcome)

	c.enqueueReady(result.Ready)
	for _, child := range result.Blocked {
		c.cancelBlocked(child, "Prerequisite failed")
	}
}

func (c *Core) enqueueReady(ids []types.JobID) {
	for _, id := range ids {
		job, err := c.store.GetJob(id)
		if err != nil {
			c.logger.Error().Err(err).Str("job_id", string(id)).Msg("ready job missing from store")
			continue
		}
		if job.Status != types.JobStatusPending {
			continue
		}
		if err := c.queue.Enqueue(job); err != nil {
			c.logger.Error().Err(err).Str("job_id", string(id)).Msg("failed to enqueue ready job")
			continue
		}
		c.graph.SetJobStatus(id, types.JobStatusPending)
	}
}

// cancelBlocked cancels a job whose prerequisites can never be met and
// propagates the cancellation downstream.
func (c *Core) cancelBlocked(id types.JobID, reason string) {
	job, err := c.store.GetJob(id)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", string(id)).Msg("blocked job missing from store")
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	c.queue.RemoveIf(func(j *types.Job) bool { return j.ID == id })
	c.finishJob(job, types.OutcomeCancelled, reason)
}

// releaseWorker reverts a worker's share of a finished assignment and
// updates its processing history.
func (c *Core) releaseWorker(workerID types.WorkerID, jobID types.JobID, outcome types.Outcome) {
	err := c.registry.Mutate(workerID, func(w *types.Worker) {
		kept := w.AssignedJobs[:0]
		for _, id := range w.AssignedJobs {
			if id != jobID {
				kept = append(kept, id)
			}
		}
		w.AssignedJobs = kept
		if w.CurrentJobCount > 0 {
			w.CurrentJobCount--
		}
		w.TotalJobsProcessed++
		switch outcome {
		case types.OutcomeCompleted:
			w.SuccessfulJobs++
		case types.OutcomeFailed:
			w.FailedJobs++
		}
		if w.Status == types.WorkerStatusBusy && w.CurrentJobCount < w.MaxConcurrentJobs {
			w.Status = types.WorkerStatusActive
		}
	})
	if err != nil && !errors.Is(err, registry.ErrWorkerUnknown) {
		c.logger.Error().Err(err).Str("worker_id", string(workerID)).Msg("failed to release worker")
	}
}
