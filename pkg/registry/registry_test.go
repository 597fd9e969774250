package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/cache"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/storage"
	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, cache.NewMemory(), DefaultOptions())
}

func validRequest(id string) RegisterRequest {
	return RegisterRequest{
		WorkerID:          id,
		Name:              "worker " + id,
		Host:              "10.0.0.1",
		Port:              8080,
		MaxConcurrentJobs: 4,
		LoadFactor:        1.0,
		PriorityThreshold: 0,
	}
}

func TestRegisterSuccess(t *testing.T) {
	r := newTestRegistry(t)

	worker, err := r.Register(validRequest("w1"))
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusActive, worker.Status)
	assert.Equal(t, 4, worker.AvailableCapacity())
	assert.False(t, worker.LastHeartbeat.IsZero())

	got, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, worker.ID, got.ID)

	_, err = r.Channel("w1")
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"missing id", func(req *RegisterRequest) { req.WorkerID = "" }},
		{"missing name", func(req *RegisterRequest) { req.Name = "" }},
		{"zero concurrency", func(req *RegisterRequest) { req.MaxConcurrentJobs = 0 }},
		{"concurrency over limit", func(req *RegisterRequest) { req.MaxConcurrentJobs = 101 }},
		{"load factor too low", func(req *RegisterRequest) { req.LoadFactor = 0.05 }},
		{"load factor too high", func(req *RegisterRequest) { req.LoadFactor = 2.5 }},
		{"port out of range", func(req *RegisterRequest) { req.Port = 70000 }},
		{"priority threshold out of range", func(req *RegisterRequest) { req.PriorityThreshold = 1001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			req := validRequest("w1")
			tt.mutate(&req)

			_, err := r.Register(req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegisterRateLimit(t *testing.T) {
	r := newTestRegistry(t)

	now := time.Now()
	r.now = func() time.Time { return now }

	bad := validRequest("w1")
	bad.Name = ""

	for i := 0; i < 3; i++ {
		_, err := r.Register(bad)
		require.ErrorIs(t, err, ErrValidation)
	}

	// Budget spent: even a valid request is refused
	_, err := r.Register(validRequest("w1"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// A rejected attempt does not extend the window
	now = now.Add(30 * time.Minute)
	_, err = r.Register(validRequest("w1"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other worker ids are unaffected
	_, err = r.Register(validRequest("w2"))
	assert.NoError(t, err)

	// Cooldown elapsed since the last counted attempt
	now = now.Add(30 * time.Minute)
	_, err = r.Register(validRequest("w1"))
	assert.NoError(t, err)
}

func TestRegisterFailureWindowResets(t *testing.T) {
	r := newTestRegistry(t)

	now := time.Now()
	r.now = func() time.Time { return now }

	bad := validRequest("w1")
	bad.Name = ""

	_, err := r.Register(bad)
	require.ErrorIs(t, err, ErrValidation)
	_, err = r.Register(bad)
	require.ErrorIs(t, err, ErrValidation)

	// An hour later the stale failures no longer count
	now = now.Add(61 * time.Minute)
	_, err = r.Register(bad)
	require.ErrorIs(t, err, ErrValidation)
	_, err = r.Register(bad)
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Register(validRequest("w1"))
	assert.NoError(t, err)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Heartbeat(types.Heartbeat{WorkerID: "ghost"})
	assert.ErrorIs(t, err, ErrWorkerUnknown)
}

func TestHeartbeatLastWriterWins(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	count := 2
	cpu := 0.75
	hb := types.Heartbeat{
		WorkerID:        "w1",
		CurrentJobCount: &count,
		CPUUsage:        &cpu,
	}

	require.NoError(t, r.Heartbeat(hb))
	worker, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, 2, worker.CurrentJobCount)
	assert.Equal(t, 0.75, worker.CPUUsage)
	assert.Equal(t, int64(1), worker.HeartbeatCount)
	assert.Equal(t, 2, worker.AvailableCapacity())

	// Repeating the same payload leaves the scalar state unchanged;
	// only the counter advances
	require.NoError(t, r.Heartbeat(hb))
	again, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, worker.CurrentJobCount, again.CurrentJobCount)
	assert.Equal(t, worker.CPUUsage, again.CPUUsage)
	assert.Equal(t, int64(2), again.HeartbeatCount)
}

func TestHeartbeatOmittedFieldsUntouched(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	count := 3
	require.NoError(t, r.Heartbeat(types.Heartbeat{WorkerID: "w1", CurrentJobCount: &count}))

	// A heartbeat carrying only CPU leaves the job count alone
	cpu := 0.5
	require.NoError(t, r.Heartbeat(types.Heartbeat{WorkerID: "w1", CPUUsage: &cpu}))

	worker, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, 3, worker.CurrentJobCount)
	assert.Equal(t, 0.5, worker.CPUUsage)
}

func TestHeartbeatFoldsSuppliedCapacity(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	count := 1
	available := 2
	require.NoError(t, r.Heartbeat(types.Heartbeat{
		WorkerID:          "w1",
		CurrentJobCount:   &count,
		AvailableCapacity: &available,
	}))

	worker, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, 2, worker.AvailableCapacity())
	assert.Equal(t, 1, worker.ReservedCapacity)
}

func TestHeartbeatRevivesInactiveWorker(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	require.NoError(t, r.Mutate("w1", func(w *types.Worker) {
		w.Status = types.WorkerStatusInactive
	}))

	require.NoError(t, r.Heartbeat(types.Heartbeat{WorkerID: "w1"}))

	worker, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusActive, worker.Status)
}

func TestDeregisterRefusesActiveJobs(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	require.NoError(t, r.Mutate("w1", func(w *types.Worker) {
		w.CurrentJobCount = 1
		w.AssignedJobs = []types.JobID{"job-1"}
	}))

	_, err = r.Deregister("w1", false)
	assert.ErrorIs(t, err, ErrHasActiveJobs)

	orphaned, err := r.Deregister("w1", true)
	require.NoError(t, err)
	assert.Equal(t, []types.JobID{"job-1"}, orphaned)

	_, err = r.Get("w1")
	assert.ErrorIs(t, err, ErrWorkerUnknown)
}

func TestDeregisteredWorkerNotRestored(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := New(store, cache.NewMemory(), DefaultOptions())
	_, err = r.Register(validRequest("w1"))
	require.NoError(t, err)
	_, err = r.Deregister("w1", false)
	require.NoError(t, err)

	// The record is gone from the store, not just the live set
	fresh := New(store, cache.NewMemory(), DefaultOptions())
	require.NoError(t, fresh.Restore())
	_, err = fresh.Get("w1")
	assert.ErrorIs(t, err, ErrWorkerUnknown)
}

func TestDeregisterClosesChannel(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	ch, err := r.Channel("w1")
	require.NoError(t, err)

	_, err = r.Deregister("w1", false)
	require.NoError(t, err)

	_, open := <-ch
	assert.False(t, open)

	err = r.Deliver(&types.Assignment{WorkerID: "w1"})
	assert.ErrorIs(t, err, ErrWorkerUnknown)
}

func TestDeliver(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)

	assignment := &types.Assignment{
		Job:        &types.Job{ID: "job-1"},
		WorkerID:   "w1",
		AssignedAt: time.Now(),
	}
	require.NoError(t, r.Deliver(assignment))

	ch, err := r.Channel("w1")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, types.JobID("job-1"), got.Job.ID)
	default:
		t.Fatal("expected a buffered assignment")
	}
}

func TestDeliverChannelFull(t *testing.T) {
	opts := DefaultOptions()
	opts.AssignmentBuffer = 1

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := New(store, cache.NewMemory(), opts)
	_, err = r.Register(validRequest("w1"))
	require.NoError(t, err)

	require.NoError(t, r.Deliver(&types.Assignment{WorkerID: "w1"}))
	err = r.Deliver(&types.Assignment{WorkerID: "w1"})
	assert.ErrorIs(t, err, ErrChannelFull)
}

func TestBlacklist(t *testing.T) {
	r := newTestRegistry(t)

	assert.False(t, r.IsBlacklisted("w1"))
	r.Blacklist("w1", time.Minute)
	assert.True(t, r.IsBlacklisted("w1"))
}

func TestRestore(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	first := New(store, cache.NewMemory(), DefaultOptions())
	_, err = first.Register(validRequest("w1"))
	require.NoError(t, err)

	second := New(store, cache.NewMemory(), DefaultOptions())
	require.NoError(t, second.Restore())

	worker, err := second.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerID("w1"), worker.ID)

	_, err = second.Channel("w1")
	assert.NoError(t, err)
}

func TestCounts(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(validRequest("w1"))
	require.NoError(t, err)
	_, err = r.Register(validRequest("w2"))
	require.NoError(t, err)

	require.NoError(t, r.Mutate("w2", func(w *types.Worker) {
		w.Status = types.WorkerStatusBusy
	}))

	counts := r.Counts()
	assert.Equal(t, 1, counts[types.WorkerStatusActive])
	assert.Equal(t, 1, counts[types.WorkerStatusBusy])
}
