package scheduler

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// WorkerModel selects how the parallel phase's worker pool is managed: a
// fixed pool parked on the scheduler's barriers across the whole run, or a
// fresh goroutine batch spun up and joined every frame.
type WorkerModel string

const (
	// WorkerModelPersistent keeps worker goroutines alive across frames,
	// synchronized on a pair of reusable barriers. This is frameforge's
	// default: thread-per-frame spin-up cost is likely dominant at 60 Hz
	// frame budgets, and a persistent pool is the safer choice absent a
	// measured reason otherwise.
	WorkerModelPersistent WorkerModel = "persistent"
	// WorkerModelPerFrame spawns and joins a fresh goroutine batch every
	// frame. Simpler to reason about; costs a goroutine spin-up per thread
	// per frame.
	WorkerModelPerFrame WorkerModel = "per_frame"
)

// Config holds the scheduler's tunables, loaded from YAML via
// gopkg.in/yaml.v3.
type Config struct {
	ThreadCount            int         `yaml:"thread_count"`
	FrameLengthUs          int64       `yaml:"frame_length_us"`
	HistoryLength          int         `yaml:"history_length"`
	WorkerModel            WorkerModel `yaml:"worker_model"`
	CacheFlushOptimization bool        `yaml:"cache_flush_optimization"`
	// MaxCarryUs bounds the signed pacing carry to a configured limit so a
	// single catastrophic frame cannot compound indefinitely.
	MaxCarryUs int64 `yaml:"max_carry_us"`
}

// DefaultConfig returns frameforge's out-of-the-box tuning: one worker per
// logical CPU, a 60 Hz frame budget, a 30-frame performance history window,
// and a persistent worker pool.
func DefaultConfig() Config {
	return Config{
		ThreadCount:            runtime.GOMAXPROCS(0),
		FrameLengthUs:          16667,
		HistoryLength:          30,
		WorkerModel:            WorkerModelPersistent,
		CacheFlushOptimization: false,
		MaxCarryUs:             5000,
	}
}

// Validate rejects configuration that the scheduler cannot run with.
func (c Config) Validate() error {
	if c.ThreadCount < 1 {
		return fmt.Errorf("scheduler: thread_count must be >= 1, got %d", c.ThreadCount)
	}
	if c.FrameLengthUs <= 0 {
		return fmt.Errorf("scheduler: frame_length_us must be > 0, got %d", c.FrameLengthUs)
	}
	if c.HistoryLength <= 0 {
		return fmt.Errorf("scheduler: history_length must be > 0, got %d", c.HistoryLength)
	}
	switch c.WorkerModel {
	case WorkerModelPersistent, WorkerModelPerFrame:
	default:
		return fmt.Errorf("scheduler: unknown worker_model %q", c.WorkerModel)
	}
	if c.MaxCarryUs < 0 {
		return fmt.Errorf("scheduler: max_carry_us must be >= 0, got %d", c.MaxCarryUs)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file, starting from
// DefaultConfig so a file only needs to override the fields it cares about.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("scheduler: reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("scheduler: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
