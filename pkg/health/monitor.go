package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// State is the aggregate health of one worker after a check pass
type State string

const (
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	// StateRecovered marks a previously unhealthy worker passing again
	StateRecovered State = "recovered"
	// StateFailed marks a worker past the consecutive-failure budget
	StateFailed State = "failed"
)

// CheckResult is the outcome of one worker's health evaluation
type CheckResult struct {
	WorkerID            types.WorkerID
	State               State
	ConsecutiveFailures int
	Issues              []string
	CheckedAt           time.Time
}

// Config tunes the monitor
type Config struct {
	HeartbeatTimeout       time.Duration
	MaxConsecutiveFailures int

	// CleanupThreshold is how long a worker may sit in ERROR before the
	// cleanup pass retires it
	CleanupThreshold time.Duration
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:       5 * time.Minute,
		MaxConsecutiveFailures: 3,
		CleanupThreshold:       15 * time.Minute,
	}
}

// WorkerFailedFunc receives a failed worker and the jobs it held
type WorkerFailedFunc func(workerID types.WorkerID, jobs []types.JobID)

// WorkerRecoveredFunc receives a worker that passed its checks again
// after being unhealthy.
type WorkerRecoveredFunc func(workerID types.WorkerID)

// JobTimeoutFunc receives a job whose runtime exceeded its timeout
type JobTimeoutFunc func(jobID types.JobID, workerID types.WorkerID)

// Callbacks carries the monitor's escalation hooks. Any of them may be
// nil.
type Callbacks struct {
	WorkerFailed    WorkerFailedFunc
	WorkerRecovered WorkerRecoveredFunc
	JobTimeout      JobTimeoutFunc
}

// Monitor evaluates worker health. It is driven externally by the
// scheduler's periodic task table; RunChecks and RunCleanup are single
// passes and may run on separate goroutines.
type Monitor struct {
	registry *registry.Registry
	jobs     storage.JobStore
	cfg      Config
	cb       Callbacks

	// mu guards the three tracking maps; RunChecks and RunCleanup run
	// on different cron goroutines
	mu           sync.Mutex
	failures     map[types.WorkerID]int
	wasUnhealthy map[types.WorkerID]bool
	errorSince   map[types.WorkerID]time.Time

	logger zerolog.Logger

	// now is injectable for tests
	now func() time.Time
}

// NewMonitor creates a monitor
func NewMonitor(reg *registry.Registry, jobs storage.JobStore, cfg Config, cb Callbacks) *Monitor {
	return &Monitor{
		registry:     reg,
		jobs:         jobs,
		cfg:          cfg,
		cb:           cb,
		failures:     make(map[types.WorkerID]int),
		wasUnhealthy: make(map[types.WorkerID]bool),
		errorSince:   make(map[types.WorkerID]time.Time),
		logger:       log.WithComponent("health"),
		now:          time.Now,
	}
}

// RunChecks evaluates every registered worker once and returns the
// per-worker results.
func (m *Monitor) RunChecks() []CheckResult {
	now := m.now()
	workers := m.registry.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]CheckResult, 0, len(workers))
	for _, worker := range workers {
		if worker.Status == types.WorkerStatusInactive {
			continue
		}
		results = append(results, m.checkWorker(worker, now))
	}
	return results
}

func (m *Monitor) checkWorker(worker *types.Worker, now time.Time) CheckResult {
	issues := m.evaluate(worker, now)
	result := CheckResult{WorkerID: worker.ID, Issues: issues, CheckedAt: now}

	if len(issues) == 0 {
		if m.wasUnhealthy[worker.ID] {
			result.State = StateRecovered
			m.logger.Info().Str("worker_id", string(worker.ID)).Msg("worker recovered")
			if m.cb.WorkerRecovered != nil {
				m.cb.WorkerRecovered(worker.ID)
			}
		} else {
			result.State = StateHealthy
		}
		delete(m.failures, worker.ID)
		delete(m.wasUnhealthy, worker.ID)
		metrics.HealthChecksTotal.WithLabelValues(string(result.State)).Inc()
		return result
	}

	m.failures[worker.ID]++
	m.wasUnhealthy[worker.ID] = true
	result.ConsecutiveFailures = m.failures[worker.ID]

	if result.ConsecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		result.State = StateFailed
		m.failWorker(worker, now, issues)
	} else {
		result.State = StateUnhealthy
		m.logger.Warn().
			Str("worker_id", string(worker.ID)).
			Int("consecutive_failures", result.ConsecutiveFailures).
			Strs("issues", issues).
			Msg("worker unhealthy")
	}

	metrics.HealthChecksTotal.WithLabelValues(string(result.State)).Inc()
	return result
}

// evaluate runs the four sub-checks and returns the issues found
func (m *Monitor) evaluate(worker *types.Worker, now time.Time) []string {
	var issues []string

	if now.Sub(worker.LastHeartbeat) > m.cfg.HeartbeatTimeout {
		issues = append(issues, fmt.Sprintf("heartbeat stale: last seen %s ago", now.Sub(worker.LastHeartbeat).Round(time.Second)))
	}

	switch {
	case worker.Status == types.WorkerStatusError:
		issues = append(issues, "status is error")
	case worker.Status == types.WorkerStatusBusy && worker.CurrentJobCount == 0:
		issues = append(issues, "busy with no jobs")
	case worker.Status == types.WorkerStatusActive && worker.CurrentJobCount > worker.MaxConcurrentJobs:
		issues = append(issues, fmt.Sprintf("job count %d exceeds limit %d", worker.CurrentJobCount, worker.MaxConcurrentJobs))
	}

	if worker.CurrentJobCount+worker.ReservedCapacity > worker.MaxConcurrentJobs {
		issues = append(issues, "capacity overcommitted")
	}

	if issue := m.checkAssignments(worker, now); issue != "" {
		issues = append(issues, issue)
	}

	return issues
}

// checkAssignments compares the worker's claimed job set against the job
// store's view, and escalates per-job timeouts along the way.
func (m *Monitor) checkAssignments(worker *types.Worker, now time.Time) string {
	stored, err := m.jobs.ListJobsByWorker(worker.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("worker_id", string(worker.ID)).Msg("failed to list assigned jobs")
		return ""
	}

	storedIDs := make(map[types.JobID]bool, len(stored))
	for _, job := range stored {
		storedIDs[job.ID] = true

		if m.cb.JobTimeout != nil && job.Status == types.JobStatusRunning &&
			job.StartedAt != nil && job.Timeout > 0 &&
			now.Sub(*job.StartedAt) > job.Timeout {
			m.cb.JobTimeout(job.ID, worker.ID)
		}
	}

	if len(stored) != len(worker.AssignedJobs) {
		return fmt.Sprintf("assignment mismatch: worker claims %d jobs, store has %d", len(worker.AssignedJobs), len(stored))
	}
	for _, id := range worker.AssignedJobs {
		if !storedIDs[id] {
			return fmt.Sprintf("assignment mismatch: %s not in store", id)
		}
	}
	return ""
}

// failWorker moves a worker to ERROR and hands its jobs to the failure
// callback.
func (m *Monitor) failWorker(worker *types.Worker, now time.Time, issues []string) {
	m.logger.Error().
		Str("worker_id", string(worker.ID)).
		Strs("issues", issues).
		Msg("worker failed health checks")

	var orphaned []types.JobID
	if err := m.registry.Mutate(worker.ID, func(w *types.Worker) {
		w.Status = types.WorkerStatusError
		orphaned = append(orphaned, w.AssignedJobs...)
	}); err != nil {
		m.logger.Error().Err(err).Str("worker_id", string(worker.ID)).Msg("failed to mark worker error")
		return
	}

	if _, seen := m.errorSince[worker.ID]; !seen {
		m.errorSince[worker.ID] = now
	}

	if m.cb.WorkerFailed != nil {
		m.cb.WorkerFailed(worker.ID, orphaned)
	}
}

// RunCleanup retires workers stuck in ERROR past the cleanup threshold
// and returns the ids retired.
func (m *Monitor) RunCleanup() []types.WorkerID {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var retired []types.WorkerID
	for _, worker := range m.registry.Snapshot() {
		if worker.Status != types.WorkerStatusError {
			delete(m.errorSince, worker.ID)
			continue
		}

		since, ok := m.errorSince[worker.ID]
		if !ok {
			// Error state predates this monitor; start the clock now
			m.errorSince[worker.ID] = now
			continue
		}
		if now.Sub(since) < m.cfg.CleanupThreshold {
			continue
		}

		var orphaned []types.JobID
		if err := m.registry.Mutate(worker.ID, func(w *types.Worker) {
			orphaned = append(orphaned, w.AssignedJobs...)
			w.Status = types.WorkerStatusInactive
			w.AssignedJobs = nil
			w.CurrentJobCount = 0
			w.ReservedCapacity = 0
		}); err != nil {
			m.logger.Error().Err(err).Str("worker_id", string(worker.ID)).Msg("cleanup failed")
			continue
		}

		delete(m.errorSince, worker.ID)
		delete(m.failures, worker.ID)
		delete(m.wasUnhealthy, worker.ID)
		metrics.WorkersCleaned.Inc()

		if m.cb.WorkerFailed != nil && len(orphaned) > 0 {
			m.cb.WorkerFailed(worker.ID, orphaned)
		}

		m.logger.Info().Str("worker_id", string(worker.ID)).Msg("worker retired by cleanup")
		retired = append(retired, worker.ID)
	}
	return retired
}
