package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// ErrQueueFull rejects an enqueue beyond the band's capacity bound
var ErrQueueFull = errors.New("queue band is full")

// Capacities bounds each band
type Capacities struct {
	High   int
	Normal int
	Low    int
}

// DefaultCapacities matches the documented per-band bounds
func DefaultCapacities() Capacities {
	return Capacities{High: 1000, Normal: 5000, Low: 10000}
}

// PriorityQueue is the ready-to-run queue: three FIFO bands with
// priority-band routing and per-band capacity bounds.
type PriorityQueue struct {
	mu    sync.Mutex
	bands map[types.Band][]*types.Job
	caps  map[types.Band]int
}

// New creates an empty queue with the given capacity bounds
func New(caps Capacities) *PriorityQueue {
	return &PriorityQueue{
		bands: map[types.Band][]*types.Job{
			types.BandHigh:   nil,
			types.BandNormal: nil,
			types.BandLow:    nil,
		},
		caps: map[types.Band]int{
			types.BandHigh:   caps.High,
			types.BandNormal: caps.Normal,
			types.BandLow:    caps.Low,
		},
	}
}

// Enqueue appends the job to the tail of its priority band
func (q *PriorityQueue) Enqueue(job *types.Job) error {
	band := job.Band()

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.bands[band]) >= q.caps[band] {
		metrics.QueueRejections.WithLabelValues(string(band)).Inc()
		return fmt.Errorf("%w: %s", ErrQueueFull, band)
	}

	q.bands[band] = append(q.bands[band], job)
	metrics.QueueDepth.WithLabelValues(string(band)).Set(float64(len(q.bands[band])))
	return nil
}

// Peek returns the head of a band without removing it
func (q *PriorityQueue) Peek(band types.Band) *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.bands[band]) == 0 {
		return nil
	}
	return q.bands[band][0]
}

// Pop removes and returns the head of a band, or nil when empty
func (q *PriorityQueue) Pop(band types.Band) *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.bands[band]
	if len(entries) == 0 {
		return nil
	}

	job := entries[0]
	q.bands[band] = entries[1:]
	metrics.QueueDepth.WithLabelValues(string(band)).Set(float64(len(q.bands[band])))
	return job
}

// RemoveIf removes every queued job matching the predicate and returns
// the removed jobs. Used for cancellation.
func (q *PriorityQueue) RemoveIf(pred func(*types.Job) bool) []*types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*types.Job
	for band, entries := range q.bands {
		kept := entries[:0]
		for _, job := range entries {
			if pred(job) {
				removed = append(removed, job)
			} else {
				kept = append(kept, job)
			}
		}
		q.bands[band] = kept
		metrics.QueueDepth.WithLabelValues(string(band)).Set(float64(len(kept)))
	}
	return removed
}

// Size returns the depth of one band
func (q *PriorityQueue) Size(band types.Band) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bands[band])
}

// Sizes returns the depth of every band
func (q *PriorityQueue) Sizes() map[types.Band]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := make(map[types.Band]int, len(q.bands))
	for band, entries := range q.bands {
		sizes[band] = len(entries)
	}
	return sizes
}
