package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/cache"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/log"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/metrics"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

var (
	// ErrWorkerUnknown is returned for operations on unregistered workers
	ErrWorkerUnknown = errors.New("worker unknown")

	// ErrRateLimited rejects registration attempts inside the cooldown window
	ErrRateLimited = errors.New("registration rate limited")

	// ErrHasActiveJobs rejects a non-forced deregistration of a busy worker
	ErrHasActiveJobs = errors.New("worker has active jobs")

	// ErrValidation wraps registration input validation failures
	ErrValidation = errors.New("validation failed")

	// ErrChannelFull is returned when a worker's assignment channel cannot
	// accept another delivery
	ErrChannelFull = errors.New("worker assignment channel full")
)

// Options configures the registry
type Options struct {
	// MaxRegistrationAttempts failed attempts per worker id open the
	// cooldown window
	MaxRegistrationAttempts int
	RegistrationCooldown    time.Duration

	// CacheTTL bounds the cached worker record lifetime
	CacheTTL time.Duration

	MaxConcurrentJobsLimit int
	LoadFactorMin          float64
	LoadFactorMax          float64

	// AssignmentBuffer sizes each worker's delivery channel
	AssignmentBuffer int
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		MaxRegistrationAttempts: 3,
		RegistrationCooldown:    60 * time.Minute,
		CacheTTL:                10 * time.Minute,
		MaxConcurrentJobsLimit:  types.MaxConcurrentJobsLimit,
		LoadFactorMin:           types.LoadFactorMin,
		LoadFactorMax:           types.LoadFactorMax,
		AssignmentBuffer:        16,
	}
}

// RegisterRequest carries the attributes a worker announces
type RegisterRequest struct {
	WorkerID          string            `validate:"required"`
	Name              string            `validate:"required"`
	Host              string            `validate:"omitempty,hostname|ip"`
	Port              int               `validate:"omitempty,min=1,max=65535"`
	MaxConcurrentJobs int               `validate:"required,min=1"`
	LoadFactor        float64           `validate:"required"`
	PriorityThreshold int               `validate:"min=0,max=1000"`
	Capabilities      string            `validate:"-"`
	Tags              map[string]string `validate:"-"`
	Version           string            `validate:"-"`
}

// attemptTracker counts failed registrations inside the cooldown window
type attemptTracker struct {
	failures    int
	lastAttempt time.Time
}

// Registry maintains the worker set, their heartbeat state, and the
// per-worker assignment channels.
type Registry struct {
	mu sync.RWMutex

	workers  map[types.WorkerID]*types.Worker
	channels map[types.WorkerID]chan *types.Assignment
	attempts map[types.WorkerID]*attemptTracker

	store storage.WorkerStore
	cache cache.Store
	opts  Options

	validate *validator.Validate
	logger   zerolog.Logger

	// now is injectable for tests
	now func() time.Time
}

// New creates a registry backed by the given store and cache
func New(store storage.WorkerStore, cacheStore cache.Store, opts Options) *Registry {
	return &Registry{
		workers:  make(map[types.WorkerID]*types.Worker),
		channels: make(map[types.WorkerID]chan *types.Assignment),
		attempts: make(map[types.WorkerID]*attemptTracker),
		store:    store,
		cache:    cacheStore,
		opts:     opts,
		validate: validator.New(),
		logger:   log.WithComponent("registry"),
		now:      time.Now,
	}
}

func workerCacheKey(id types.WorkerID) string {
	return "worker:" + string(id)
}

func blacklistKey(id types.WorkerID) string {
	return "blacklist:" + string(id)
}

// Register admits a worker. Failed attempts are counted per worker id;
// once the budget is spent every further attempt is rejected until the
// cooldown has elapsed since the last counted attempt.
func (r *Registry) Register(req RegisterRequest) (*types.Worker, error) {
	id := types.WorkerID(req.WorkerID)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if tracker, ok := r.attempts[id]; ok {
		if now.Sub(tracker.lastAttempt) >= r.opts.RegistrationCooldown {
			delete(r.attempts, id)
		} else if tracker.failures >= r.opts.MaxRegistrationAttempts {
			metrics.RegistrationsRejected.WithLabelValues("rate_limited").Inc()
			return nil, fmt.Errorf("%w: %d failed attempts, retry after %s",
				ErrRateLimited, tracker.failures,
				tracker.lastAttempt.Add(r.opts.RegistrationCooldown).Format(time.RFC3339))
		}
	}

	if err := r.validateRequest(req); err != nil {
		r.recordFailureLocked(id, now)
		metrics.RegistrationsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	worker := &types.Worker{
		ID:                id,
		Name:              req.Name,
		Host:              req.Host,
		Port:              req.Port,
		Status:            types.WorkerStatusActive,
		MaxConcurrentJobs: req.MaxConcurrentJobs,
		LoadFactor:        req.LoadFactor,
		PriorityThreshold: req.PriorityThreshold,
		Capabilities:      req.Capabilities,
		Tags:              req.Tags,
		Version:           req.Version,
		LastHeartbeat:     now,
		RegisteredAt:      now,
	}

	delete(r.attempts, id)
	r.workers[id] = worker
	if _, ok := r.channels[id]; !ok {
		r.channels[id] = make(chan *types.Assignment, r.opts.AssignmentBuffer)
	}

	if err := storage.WithRetry(func() error { return r.store.SaveWorker(worker) }); err != nil {
		r.logger.Error().Err(err).Str("worker_id", string(id)).Msg("failed to persist worker")
	}
	r.cache.Put(workerCacheKey(id), cloneWorker(worker), r.opts.CacheTTL)

	r.logger.Info().
		Str("worker_id", string(id)).
		Int("max_concurrent", worker.MaxConcurrentJobs).
		Msg("worker registered")

	return cloneWorker(worker), nil
}

func (r *Registry) validateRequest(req RegisterRequest) error {
	if err := r.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.MaxConcurrentJobs > r.opts.MaxConcurrentJobsLimit {
		return fmt.Errorf("%w: max_concurrent_jobs %d exceeds limit %d",
			ErrValidation, req.MaxConcurrentJobs, r.opts.MaxConcurrentJobsLimit)
	}
	if req.LoadFactor < r.opts.LoadFactorMin || req.LoadFactor > r.opts.LoadFactorMax {
		return fmt.Errorf("%w: load_factor %v outside [%v, %v]",
			ErrValidation, req.LoadFactor, r.opts.LoadFactorMin, r.opts.LoadFactorMax)
	}
	return nil
}

func (r *Registry) recordFailureLocked(id types.WorkerID, now time.Time) {
	tracker, ok := r.attempts[id]
	if !ok || now.Sub(tracker.lastAttempt) >= r.opts.RegistrationCooldown {
		tracker = &attemptTracker{}
		r.attempts[id] = tracker
	}
	tracker.failures++
	tracker.lastAttempt = now
}

// Heartbeat ingests a worker self-report. Supplied scalar fields are
// last-writer-wins; the heartbeat counter is monotone.
func (r *Registry) Heartbeat(hb types.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[hb.WorkerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerUnknown, hb.WorkerID)
	}

	worker.LastHeartbeat = r.now()
	worker.HeartbeatCount++

	if hb.Status != nil {
		worker.Status = *hb.Status
	}
	if hb.CurrentJobCount != nil {
		worker.CurrentJobCount = *hb.CurrentJobCount
	}
	if hb.AvailableCapacity != nil {
		// Available capacity is derived; fold a supplied value back into
		// the reservation so the derivation matches the report
		reserved := worker.MaxConcurrentJobs - worker.CurrentJobCount - *hb.AvailableCapacity
		if reserved < 0 {
			reserved = 0
		}
		worker.ReservedCapacity = reserved
	}
	if hb.CPUUsage != nil {
		worker.CPUUsage = *hb.CPUUsage
	}
	if hb.MemoryUsage != nil {
		worker.MemoryUsage = *hb.MemoryUsage
	}
	if hb.ErrorCount != nil {
		worker.ErrorCount = *hb.ErrorCount
	}

	if worker.Status == types.WorkerStatusInactive {
		worker.Status = types.WorkerStatusActive
	}

	metrics.HeartbeatsReceived.Inc()

	if err := storage.WithRetry(func() error { return r.store.SaveWorker(worker) }); err != nil {
		r.logger.Error().Err(err).Str("worker_id", string(hb.WorkerID)).Msg("failed to persist heartbeat")
	}
	r.cache.Put(workerCacheKey(hb.WorkerID), cloneWorker(worker), r.opts.CacheTTL)
	return nil
}

// Deregister removes a worker. Without force, workers holding active jobs
// are refused. The returned job ids are the assignments the caller must
// hand to failure recovery.
func (r *Registry) Deregister(id types.WorkerID, force bool) ([]types.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerUnknown, id)
	}

	if !force && worker.CurrentJobCount > 0 {
		return nil, fmt.Errorf("%w: %d active jobs on %s", ErrHasActiveJobs, worker.CurrentJobCount, id)
	}

	orphaned := make([]types.JobID, len(worker.AssignedJobs))
	copy(orphaned, worker.AssignedJobs)

	if ch, ok := r.channels[id]; ok {
		close(ch)
		delete(r.channels, id)
	}
	delete(r.attempts, id)
	r.cache.Evict(workerCacheKey(id))

	// Deregistration removes the record; retired workers kept as history
	// go through the cleanup pass instead
	if err := storage.WithRetry(func() error { return r.store.DeleteWorker(id) }); err != nil {
		r.logger.Error().Err(err).Str("worker_id", string(id)).Msg("failed to delete worker record")
	}
	delete(r.workers, id)

	r.logger.Info().Str("worker_id", string(id)).Bool("force", force).Msg("worker deregistered")
	return orphaned, nil
}

// Get returns a copy of the worker record
func (r *Registry) Get(id types.WorkerID) (*types.Worker, error) {
	r.mu.RLock()
	worker, ok := r.workers[id]
	r.mu.RUnlock()
	if ok {
		return cloneWorker(worker), nil
	}

	// Cache, then store; the cache is never authoritative
	if cached, ok := r.cache.Get(workerCacheKey(id)); ok {
		if w, ok := cached.(*types.Worker); ok {
			return cloneWorker(w), nil
		}
	}

	w, err := r.store.GetWorker(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkerUnknown, id)
		}
		return nil, err
	}
	return w, nil
}

// Snapshot returns deep copies of every live worker, for policy scoring
// outside the registry lock.
func (r *Registry) Snapshot() []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*types.Worker, 0, len(r.workers))
	for _, worker := range r.workers {
		workers = append(workers, cloneWorker(worker))
	}
	return workers
}

// Mutate applies fn to the live worker record under the registry lock
// and persists the result. Used by the scheduler core to apply
// assignment effects.
func (r *Registry) Mutate(id types.WorkerID, fn func(*types.Worker)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerUnknown, id)
	}

	fn(worker)

	if err := storage.WithRetry(func() error { return r.store.SaveWorker(worker) }); err != nil {
		r.logger.Error().Err(err).Str("worker_id", string(id)).Msg("failed to persist worker mutation")
	}
	r.cache.Put(workerCacheKey(id), cloneWorker(worker), r.opts.CacheTTL)
	return nil
}

// Deliver pushes an assignment onto the worker's channel without blocking
func (r *Registry) Deliver(assignment *types.Assignment) error {
	r.mu.RLock()
	ch, ok := r.channels[assignment.WorkerID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerUnknown, assignment.WorkerID)
	}

	select {
	case ch <- assignment:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrChannelFull, assignment.WorkerID)
	}
}

// Channel exposes the worker's assignment stream
func (r *Registry) Channel(id types.WorkerID) (<-chan *types.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerUnknown, id)
	}
	return ch, nil
}

// Blacklist flags a worker ineligible for assignment for the TTL
func (r *Registry) Blacklist(id types.WorkerID, ttl time.Duration) {
	r.cache.Put(blacklistKey(id), true, ttl)
}

// IsBlacklisted reports whether the worker is currently blacklisted
func (r *Registry) IsBlacklisted(id types.WorkerID) bool {
	_, ok := r.cache.Get(blacklistKey(id))
	return ok
}

// Restore loads persisted workers into the live set, used at startup
func (r *Registry) Restore() error {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("failed to restore workers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, worker := range workers {
		r.workers[worker.ID] = worker
		if worker.Status != types.WorkerStatusInactive {
			if _, ok := r.channels[worker.ID]; !ok {
				r.channels[worker.ID] = make(chan *types.Assignment, r.opts.AssignmentBuffer)
			}
		}
	}
	return nil
}

// Counts returns the number of workers per status
func (r *Registry) Counts() map[types.WorkerStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.WorkerStatus]int)
	for _, worker := range r.workers {
		counts[worker.Status]++
	}
	return counts
}

// cloneWorker deep-copies a worker record
func cloneWorker(w *types.Worker) *types.Worker {
	c := *w
	if w.Tags != nil {
		c.Tags = make(map[string]string, len(w.Tags))
		for k, v := range w.Tags {
			c.Tags[k] = v
		}
	}
	if w.AssignedJobs != nil {
		c.AssignedJobs = make([]types.JobID, len(w.AssignedJobs))
		copy(c.AssignedJobs, w.AssignedJobs)
	}
	return &c
}
