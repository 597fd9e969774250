package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scheduler engine configuration
type Config struct {
	DataDir string `yaml:"data_dir"`

	Log LogConfig `yaml:"log"`

	// Heartbeat and health monitoring
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	HealthCheckInterval    time.Duration `yaml:"health_check_interval"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`
	CleanupThreshold       time.Duration `yaml:"cleanup_threshold"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`

	// Registration rate limiting
	MaxRegistrationAttempts int           `yaml:"max_registration_attempts"`
	RegistrationCooldown    time.Duration `yaml:"registration_cooldown"`

	// Worker record cache
	WorkerCacheTTL time.Duration `yaml:"worker_cache_ttl"`

	// Ready queue bounds per band
	QueueCapacities QueueCapacities `yaml:"queue_capacities"`

	// Assignment strategy: round_robin, capacity_aware, least_loaded,
	// performance_based, intelligent, priority_based, adaptive
	AssignmentStrategy string `yaml:"assignment_strategy"`

	LoadBalancing LoadBalancingConfig `yaml:"load_balancing"`

	Dependencies DependencyConfig `yaml:"dependencies"`

	// Worker validation bounds
	MaxConcurrentJobsLimit int     `yaml:"max_concurrent_jobs_limit"`
	LoadFactorMin          float64 `yaml:"load_factor_min"`
	LoadFactorMax          float64 `yaml:"load_factor_max"`
}

// LogConfig controls logger initialization
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// QueueCapacities bounds the ready queue per band
type QueueCapacities struct {
	High   int `yaml:"high"`
	Normal int `yaml:"normal"`
	Low    int `yaml:"low"`
}

// LoadBalancingConfig controls the drain and rebalance tasks
type LoadBalancingConfig struct {
	DrainInterval      time.Duration `yaml:"drain_interval"`
	RebalanceInterval  time.Duration `yaml:"rebalance_interval"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold"`
	// MaxMovesPerSecond paces rebalance moves
	MaxMovesPerSecond float64 `yaml:"max_moves_per_second"`
}

// DependencyConfig controls edge semantics left open by the data model
type DependencyConfig struct {
	// MaxCycleDepth bounds the insertion-time cycle DFS
	MaxCycleDepth int `yaml:"max_cycle_depth"`
	// ConditionalOnFailure: "proceed" or "cancel"
	ConditionalOnFailure string `yaml:"conditional_on_failure"`
}

// Default returns the configuration with all documented defaults applied
func Default() *Config {
	return &Config{
		DataDir: "./scheduler-data",
		Log: LogConfig{
			Level: "info",
		},
		HeartbeatTimeout:       5 * time.Minute,
		HealthCheckInterval:    2 * time.Minute,
		CleanupInterval:        15 * time.Minute,
		CleanupThreshold:       15 * time.Minute,
		MaxConsecutiveFailures: 3,

		MaxRegistrationAttempts: 3,
		RegistrationCooldown:    60 * time.Minute,

		WorkerCacheTTL: 10 * time.Minute,

		QueueCapacities: QueueCapacities{
			High:   1000,
			Normal: 5000,
			Low:    10000,
		},

		AssignmentStrategy: "intelligent",

		LoadBalancing: LoadBalancingConfig{
			DrainInterval:      5 * time.Second,
			RebalanceInterval:  60 * time.Second,
			ImbalanceThreshold: 0.4,
			MaxMovesPerSecond:  10,
		},

		Dependencies: DependencyConfig{
			MaxCycleDepth:        20,
			ConditionalOnFailure: "proceed",
		},

		MaxConcurrentJobsLimit: 100,
		LoadFactorMin:          0.1,
		LoadFactorMax:          2.0,
	}
}

// Load reads a YAML config file and overlays it on the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1")
	}
	if c.LoadBalancing.ImbalanceThreshold <= 0 || c.LoadBalancing.ImbalanceThreshold >= 1 {
		return fmt.Errorf("load_balancing.imbalance_threshold must be in (0, 1)")
	}
	if c.LoadFactorMin <= 0 || c.LoadFactorMax < c.LoadFactorMin {
		return fmt.Errorf("invalid load factor bounds [%v, %v]", c.LoadFactorMin, c.LoadFactorMax)
	}
	switch c.Dependencies.ConditionalOnFailure {
	case "proceed", "cancel":
	default:
		return fmt.Errorf("dependencies.conditional_on_failure must be proceed or cancel")
	}
	switch c.AssignmentStrategy {
	case "round_robin", "capacity_aware", "least_loaded",
		"performance_based", "intelligent", "priority_based", "adaptive":
	default:
		return fmt.Errorf("unknown assignment_strategy: %s", c.AssignmentStrategy)
	}
	return nil
}
