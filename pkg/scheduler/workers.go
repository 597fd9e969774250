package scheduler

import (
	"time"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/events"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/registry"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// RegisterWorker admits a worker through the registry
func (c *Core) RegisterWorker(req registry.RegisterRequest) (*types.Worker, error) {
	worker, err := c.registry.Register(req)
	if err != nil {
		return nil, err
	}

	c.broker.Publish(&events.Event{
		Type:     events.EventWorkerRegistered,
		WorkerID: string(worker.ID),
	})
	return worker, nil
}

// Heartbeat ingests a worker self-report
func (c *Core) Heartbeat(hb types.Heartbeat) error {
	return c.registry.Heartbeat(hb)
}

// DeregisterWorker removes a worker. Jobs it still held are handed to
// failure recovery.
func (c *Core) DeregisterWorker(id types.WorkerID, force bool) error {
	orphaned, err := c.registry.Deregister(id, force)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, jobID := range orphaned {
		delete(c.assignments, jobID)
	}
	c.mu.Unlock()

	c.broker.Publish(&events.Event{
		Type:     events.EventWorkerDeregistered,
		WorkerID: string(id),
	})

	if len(orphaned) > 0 {
		c.failure.HandleWorkerFailure(id, orphaned)
	}
	return nil
}

// GetWorker returns a copy of the worker record
func (c *Core) GetWorker(id types.WorkerID) (*types.Worker, error) {
	return c.registry.Get(id)
}

// ListWorkers returns copies of every live worker record
func (c *Core) ListWorkers() []*types.Worker {
	return c.registry.Snapshot()
}

// WorkerChannel exposes a worker's assignment stream
func (c *Core) WorkerChannel(id types.WorkerID) (<-chan *types.Assignment, error) {
	return c.registry.Channel(id)
}

// BlacklistWorker excludes a worker from assignment for the TTL
func (c *Core) BlacklistWorker(id types.WorkerID, ttl time.Duration) {
	c.registry.Blacklist(id, ttl)
}
