package types

import (
	"time"
)

// JobID uniquely identifies a job
type JobID string

// WorkerID uniquely identifies a worker
type WorkerID string

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Priority bands. Priorities are integers in [1, 1000].
const (
	PriorityLow    = 1
	PriorityMedium = 50
	PriorityHigh   = 100

	// PriorityElevated marks the boundary for high-band treatment
	PriorityElevated = 500

	PriorityMin = 1
	PriorityMax = 1000
)

// Job represents a unit of schedulable work
type Job struct {
	ID          JobID             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Priority    int               `json:"priority"`
	Status      JobStatus         `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	// DependsOn is a derived projection of the dependency edges; the edge
	// records in the DependencyStore are authoritative.
	DependsOn []JobID `json:"depends_on,omitempty"`

	AssignedWorkerID WorkerID `json:"assigned_worker_id,omitempty"`

	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	ActualDuration    time.Duration `json:"actual_duration,omitempty"`

	RequiredCapabilities string            `json:"required_capabilities,omitempty"`
	Tags                 map[string]string `json:"tags,omitempty"`
	Error                string            `json:"error,omitempty"`
}

// DefaultMaxRetries applies when a submission does not set a retry budget
const DefaultMaxRetries = 3

// Band returns the priority band the job's ready queue entry belongs to
func (j *Job) Band() Band {
	return BandFor(j.Priority)
}

// Elevated reports whether the job gets high-priority treatment
func (j *Job) Elevated() bool {
	return j.Priority >= PriorityElevated
}

// DependencyKind defines how an edge's parent satisfies the edge
type DependencyKind string

const (
	// DependencyMustComplete is satisfied by any terminal parent state
	DependencyMustComplete DependencyKind = "must_complete"
	// DependencyMustStart is satisfied once the parent enters running
	DependencyMustStart DependencyKind = "must_start"
	// DependencyMustSucceed is satisfied only by a completed parent
	DependencyMustSucceed DependencyKind = "must_succeed"
	// DependencyConditional follows the configured conditional policy
	DependencyConditional DependencyKind = "conditional"
)

// FailureAction is policy metadata carried on an edge. The scheduler does
// not act on it beyond recording it.
type FailureAction string

const (
	FailureActionBlock    FailureAction = "block"
	FailureActionProceed  FailureAction = "proceed"
	FailureActionWarn     FailureAction = "warn"
	FailureActionRetry    FailureAction = "retry"
	FailureActionSkip     FailureAction = "skip"
	FailureActionEscalate FailureAction = "escalate"
)

// JobDependency is a directed edge: Child waits on Parent
type JobDependency struct {
	Child         JobID          `json:"child"`
	Parent        JobID          `json:"parent"`
	Kind          DependencyKind `json:"kind"`
	Satisfied     bool           `json:"satisfied"`
	Priority      int            `json:"priority,omitempty"` // 1-10, edge importance
	FailureAction FailureAction  `json:"failure_action,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// WorkerStatus represents the lifecycle state of a worker
type WorkerStatus string

const (
	WorkerStatusInactive    WorkerStatus = "inactive"
	WorkerStatusActive      WorkerStatus = "active"
	WorkerStatusBusy        WorkerStatus = "busy"
	WorkerStatusError       WorkerStatus = "error"
	WorkerStatusMaintenance WorkerStatus = "maintenance"
)

// Schedulable reports whether the worker may receive assignments
func (s WorkerStatus) Schedulable() bool {
	return s == WorkerStatusActive || s == WorkerStatusBusy
}

// Load factor bounds and concurrency limit defaults
const (
	LoadFactorMin = 0.1
	LoadFactorMax = 2.0

	MaxConcurrentJobsLimit = 100
)

// Worker represents a remote worker process known to the registry
type Worker struct {
	ID     WorkerID     `json:"id"`
	Name   string       `json:"name"`
	Host   string       `json:"host,omitempty"`
	Port   int          `json:"port,omitempty"`
	Status WorkerStatus `json:"status"`

	MaxConcurrentJobs int `json:"max_concurrent_jobs"`
	CurrentJobCount   int `json:"current_job_count"`
	ReservedCapacity  int `json:"reserved_capacity"`

	Tags         map[string]string `json:"tags,omitempty"`
	Capabilities string            `json:"capabilities,omitempty"`
	Version      string            `json:"version,omitempty"`

	// PriorityThreshold rejects jobs below this priority
	PriorityThreshold int     `json:"priority_threshold"`
	LoadFactor        float64 `json:"load_factor"`

	LastHeartbeat  time.Time `json:"last_heartbeat"`
	HeartbeatCount int64     `json:"heartbeat_count"`

	CPUUsage    float64 `json:"cpu_usage,omitempty"`
	MemoryUsage float64 `json:"memory_usage,omitempty"`
	ErrorCount  int     `json:"error_count,omitempty"`

	TotalJobsProcessed int64 `json:"total_jobs_processed"`
	SuccessfulJobs     int64 `json:"successful_jobs"`
	FailedJobs         int64 `json:"failed_jobs"`

	// AssignedJobs is a view over the scheduler's assignment index,
	// denormalized for persistence and reconciliation
	AssignedJobs []JobID `json:"assigned_jobs,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// AvailableCapacity is derived, never stored authoritatively
func (w *Worker) AvailableCapacity() int {
	c := w.MaxConcurrentJobs - w.CurrentJobCount - w.ReservedCapacity
	if c < 0 {
		return 0
	}
	return c
}

// LoadPercentage returns current load in [0, 1+]
func (w *Worker) LoadPercentage() float64 {
	if w.MaxConcurrentJobs <= 0 {
		return 1.0
	}
	return float64(w.CurrentJobCount) / float64(w.MaxConcurrentJobs)
}

// SuccessRate returns the fraction of processed jobs that succeeded.
// Workers with no history score a neutral 0.5 so they are not starved.
func (w *Worker) SuccessRate() float64 {
	if w.TotalJobsProcessed == 0 {
		return 0.5
	}
	return float64(w.SuccessfulJobs) / float64(w.TotalJobsProcessed)
}

// Band is a ready-queue tier
type Band string

const (
	BandHigh   Band = "high"
	BandNormal Band = "normal"
	BandLow    Band = "low"
)

// BandFor maps a job priority onto its queue band
func BandFor(priority int) Band {
	switch {
	case priority >= PriorityElevated:
		return BandHigh
	case priority >= PriorityHigh:
		return BandNormal
	default:
		return BandLow
	}
}

// Outcome is a terminal state reported for a job
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Status maps an outcome onto the job status it produces
func (o Outcome) Status() JobStatus {
	switch o {
	case OutcomeCompleted:
		return JobStatusCompleted
	case OutcomeFailed:
		return JobStatusFailed
	case OutcomeCancelled:
		return JobStatusCancelled
	}
	return JobStatusFailed
}

// Assignment is the payload delivered on a worker channel when a job is
// bound to that worker
type Assignment struct {
	Job        *Job      `json:"job"`
	WorkerID   WorkerID  `json:"worker_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Heartbeat is a worker self-report. Nil pointer fields were not supplied
// and leave the stored value untouched.
type Heartbeat struct {
	WorkerID          WorkerID      `json:"worker_id"`
	Status            *WorkerStatus `json:"status,omitempty"`
	CurrentJobCount   *int          `json:"current_job_count,omitempty"`
	AvailableCapacity *int          `json:"available_capacity,omitempty"`
	CPUUsage          *float64      `json:"cpu_usage,omitempty"`
	MemoryUsage       *float64      `json:"memory_usage,omitempty"`
	ErrorCount        *int          `json:"error_count,omitempty"`
	Message           string        `json:"message,omitempty"`
}
