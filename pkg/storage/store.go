package storage

import (
	"errors"
	"time"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps transient store failures
	ErrUnavailable = errors.New("store unavailable")
)

// JobStore persists job records
type JobStore interface {
	GetJob(id types.JobID) (*types.Job, error)
	ListJobsByStatus(status types.JobStatus) ([]*types.Job, error)
	// ListReadyJobs returns pending jobs with no unsatisfied dependencies
	ListReadyJobs() ([]*types.Job, error)
	ListJobsByWorker(workerID types.WorkerID) ([]*types.Job, error)
	SaveJob(job *types.Job) error
	DeleteJob(id types.JobID) error
}

// WorkerStore persists worker records
type WorkerStore interface {
	GetWorker(id types.WorkerID) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListActiveWorkers() ([]*types.Worker, error)
	ListWorkersHeartbeatBefore(ts time.Time) ([]*types.Worker, error)
	SaveWorker(worker *types.Worker) error
	DeleteWorker(id types.WorkerID) error
}

// DependencyStore persists dependency edges keyed on (child, parent)
type DependencyStore interface {
	ListDependenciesByChild(child types.JobID) ([]*types.JobDependency, error)
	ListDependenciesByParent(parent types.JobID) ([]*types.JobDependency, error)
	SaveDependency(edge *types.JobDependency) error
	DeleteDependency(child, parent types.JobID) error
	CountUnsatisfied(child types.JobID) (int, error)
}

// Store combines the repository contracts the scheduler core consumes
type Store interface {
	JobStore
	WorkerStore
	DependencyStore

	Close() error
}
