package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/SHIVANINANDE/distributed-job-scheduler-sub002/pkg/types"
)

// ErrNoWorker is returned when no worker passes the eligibility filter
var ErrNoWorker = errors.New("no eligible worker")

// Strategy names a worker selection algorithm
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyCapacityAware    Strategy = "capacity_aware"
	StrategyLeastLoaded      Strategy = "least_loaded"
	StrategyPerformanceBased Strategy = "performance_based"
	StrategyIntelligent      Strategy = "intelligent"
	StrategyPriorityBased    Strategy = "priority_based"
	StrategyAdaptive         Strategy = "adaptive"
)

// ParseStrategy validates a configured strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyCapacityAware, StrategyLeastLoaded,
		StrategyPerformanceBased, StrategyIntelligent, StrategyPriorityBased,
		StrategyAdaptive:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown assignment strategy %q", s)
}

// Intelligent scoring weights and the priority bonus boundary multiplier
const (
	weightCapacity    = 0.30
	weightSuccess     = 0.30
	weightLoad        = 0.25
	weightExperience  = 0.15
	priorityBonus     = 1.5
	experienceCeiling = 1000.0
)

// PriorityBased restricts elevated jobs to workers of at least this size
const priorityBasedMinConcurrency = 5

// Blacklist reports whether a worker is temporarily excluded from selection
type Blacklist func(types.WorkerID) bool

// Policy selects a worker for a job from a snapshot of the worker set.
// Selection is pure over the snapshot; only the round-robin cursor is
// carried between calls.
type Policy struct {
	mu       sync.Mutex
	strategy Strategy
	cursor   int

	blacklisted Blacklist
}

// New creates a policy with the given strategy. A nil blacklist excludes
// nothing.
func New(strategy Strategy, blacklisted Blacklist) *Policy {
	if blacklisted == nil {
		blacklisted = func(types.WorkerID) bool { return false }
	}
	return &Policy{strategy: strategy, blacklisted: blacklisted}
}

// Strategy returns the configured strategy name
func (p *Policy) Strategy() Strategy {
	return p.strategy
}

// Select returns the worker the job should be assigned to
func (p *Policy) Select(job *types.Job, workers []*types.Worker) (*types.Worker, error) {
	eligible := p.filter(job, workers)
	if len(eligible) == 0 {
		return nil, ErrNoWorker
	}

	switch p.strategy {
	case StrategyRoundRobin:
		return p.roundRobin(eligible), nil
	case StrategyCapacityAware:
		return argmax(eligible, func(w *types.Worker) float64 {
			return float64(w.AvailableCapacity())
		}), nil
	case StrategyLeastLoaded:
		return leastLoaded(eligible), nil
	case StrategyPerformanceBased:
		return argmax(eligible, (*types.Worker).SuccessRate), nil
	case StrategyPriorityBased:
		return p.priorityBased(job, eligible)
	case StrategyAdaptive:
		return p.adaptive(job, workers, eligible), nil
	default:
		return argmax(eligible, func(w *types.Worker) float64 {
			return intelligentScore(w, job)
		}), nil
	}
}

// filter applies the eligibility rules and returns the survivors sorted
// by worker id, which makes every downstream argmax tie-break stable.
func (p *Policy) filter(job *types.Job, workers []*types.Worker) []*types.Worker {
	eligible := make([]*types.Worker, 0, len(workers))
	for _, w := range workers {
		if !w.Status.Schedulable() {
			continue
		}
		if w.AvailableCapacity() <= 0 {
			continue
		}
		if job.Priority < w.PriorityThreshold {
			continue
		}
		if p.blacklisted(w.ID) {
			continue
		}
		if job.RequiredCapabilities != "" && !strings.Contains(w.Capabilities, job.RequiredCapabilities) {
			continue
		}
		eligible = append(eligible, w)
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible
}

func (p *Policy) roundRobin(eligible []*types.Worker) *types.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := eligible[p.cursor%len(eligible)]
	p.cursor++
	return w
}

func leastLoaded(eligible []*types.Worker) *types.Worker {
	return argmax(eligible, func(w *types.Worker) float64 {
		return -w.LoadPercentage()
	})
}

func (p *Policy) priorityBased(job *types.Job, eligible []*types.Worker) (*types.Worker, error) {
	if !job.Elevated() {
		return p.roundRobin(eligible), nil
	}

	large := make([]*types.Worker, 0, len(eligible))
	for _, w := range eligible {
		if w.MaxConcurrentJobs >= priorityBasedMinConcurrency {
			large = append(large, w)
		}
	}
	if len(large) == 0 {
		return nil, ErrNoWorker
	}
	return p.roundRobin(large), nil
}

// adaptive dispatches on the fleet-wide average load, including workers
// the eligibility filter removed.
func (p *Policy) adaptive(job *types.Job, all, eligible []*types.Worker) *types.Worker {
	var total float64
	for _, w := range all {
		total += w.LoadPercentage()
	}
	avg := total / float64(len(all))

	switch {
	case avg < 0.5:
		return argmax(eligible, (*types.Worker).SuccessRate)
	case avg <= 0.8:
		return argmax(eligible, func(w *types.Worker) float64 {
			return intelligentScore(w, job)
		})
	default:
		return leastLoaded(eligible)
	}
}

// intelligentScore is the default weighted score, normalized to [0, 1]
// before the priority bonus.
func intelligentScore(w *types.Worker, job *types.Job) float64 {
	capacityRatio := 0.0
	if w.MaxConcurrentJobs > 0 {
		capacityRatio = float64(w.AvailableCapacity()) / float64(w.MaxConcurrentJobs)
	}

	experience := float64(w.TotalJobsProcessed) / experienceCeiling
	if experience > 1 {
		experience = 1
	}

	loadHeadroom := 1 - w.LoadPercentage()
	if loadHeadroom < 0 {
		loadHeadroom = 0
	}

	score := weightCapacity*capacityRatio +
		weightSuccess*w.SuccessRate() +
		weightLoad*loadHeadroom +
		weightExperience*experience

	if job.Elevated() {
		score *= priorityBonus
	}
	return score
}

// argmax returns the first worker with the maximal score. Input is sorted
// by worker id, so ties resolve to the lowest id.
func argmax(eligible []*types.Worker, score func(*types.Worker) float64) *types.Worker {
	best := eligible[0]
	bestScore := score(best)
	for _, w := range eligible[1:] {
		if s := score(w); s > bestScore {
			best = w
			bestScore = s
		}
	}
	return best
}
