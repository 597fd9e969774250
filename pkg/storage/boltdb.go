package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

var (
	// Bucket names
	bucketJobs         = []byte("jobs")
	bucketWorkers      = []byte("workers")
	bucketDependencies = []byte("dependencies")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the scheduler database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "scheduler.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketJobs, bucketWorkers, bucketDependencies}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// depKey builds the composite key for a dependency edge
func depKey(child, parent types.JobID) []byte {
	return []byte(string(child) + "/" + string(parent))
}

// Job operations

func (s *BoltStore) SaveJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id types.JobID) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobsByStatus(status types.JobStatus) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == status {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListReadyJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		jb := tx.Bucket(bucketJobs)
		db := tx.Bucket(bucketDependencies)

		// Count unsatisfied edges per child in one pass
		unsatisfied := make(map[types.JobID]int)
		if err := db.ForEach(func(k, v []byte) error {
			var edge types.JobDependency
			if err := json.Unmarshal(v, &edge); err != nil {
				return err
			}
			if !edge.Satisfied {
				unsatisfied[edge.Child]++
			}
			return nil
		}); err != nil {
			return err
		}

		return jb.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == types.JobStatusPending && unsatisfied[job.ID] == 0 {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByWorker(workerID types.WorkerID) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.AssignedWorkerID == workerID {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) DeleteJob(id types.JobID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete([]byte(id))
	})
}

// Worker operations

func (s *BoltStore) SaveWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id types.WorkerID) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: worker %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) ListActiveWorkers() ([]*types.Worker, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, err
	}

	var active []*types.Worker
	for _, worker := range workers {
		if worker.Status.Schedulable() {
			active = append(active, worker)
		}
	}
	return active, nil
}

func (s *BoltStore) ListWorkersHeartbeatBefore(ts time.Time) ([]*types.Worker, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, err
	}

	var stale []*types.Worker
	for _, worker := range workers {
		if worker.LastHeartbeat.Before(ts) {
			stale = append(stale, worker)
		}
	}
	return stale, nil
}

func (s *BoltStore) DeleteWorker(id types.WorkerID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id))
	})
}

// Dependency operations

func (s *BoltStore) SaveDependency(edge *types.JobDependency) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDependencies)
		data, err := json.Marshal(edge)
		if err != nil {
			return err
		}
		return b.Put(depKey(edge.Child, edge.Parent), data)
	})
}

func (s *BoltStore) ListDependenciesByChild(child types.JobID) ([]*types.JobDependency, error) {
	var edges []*types.JobDependency
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDependencies)
		c := b.Cursor()
		prefix := []byte(string(child) + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var edge types.JobDependency
			if err := json.Unmarshal(v, &edge); err != nil {
				return err
			}
			edges = append(edges, &edge)
		}
		return nil
	})
	return edges, err
}

func (s *BoltStore) ListDependenciesByParent(parent types.JobID) ([]*types.JobDependency, error) {
	var edges []*types.JobDependency
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDependencies)
		return b.ForEach(func(k, v []byte) error {
			var edge types.JobDependency
			if err := json.Unmarshal(v, &edge); err != nil {
				return err
			}
			if edge.Parent == parent {
				edges = append(edges, &edge)
			}
			return nil
		})
	})
	return edges, err
}

func (s *BoltStore) DeleteDependency(child, parent types.JobID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDependencies)
		return b.Delete(depKey(child, parent))
	})
}

func (s *BoltStore) CountUnsatisfied(child types.JobID) (int, error) {
	edges, err := s.ListDependenciesByChild(child)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, edge := range edges {
		if !edge.Satisfied {
			count++
		}
	}
	return count, nil
}
