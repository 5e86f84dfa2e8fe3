package core

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/dmi"
	"github.com/sarchlab/riversim/timing/latency"
	"github.com/sarchlab/riversim/timing/pipeline"
)

// Config describes a River system: its harts, caches, memory and clocks.
type Config struct {
	// Harts is the number of harts, at most dmi.MaxHarts. Default: 1.
	Harts int `json:"harts"`

	// ResetVector is the first instruction fetched after reset.
	// Default: 0x10000.
	ResetVector uint64 `json:"reset_vector"`

	// MemorySize is the size of physical memory in bytes. Default: 64MB.
	MemorySize uint64 `json:"memory_size"`

	// CoreFreq clocks the harts, caches and Debug Module. Default: 100MHz.
	CoreFreq sim.Freq `json:"core_freq"`

	// JTAGFreq clocks the TAP. Default: 10MHz.
	JTAGFreq sim.Freq `json:"jtag_freq"`

	Caches          cache.HierarchyConfig          `json:"caches"`
	BranchPredictor pipeline.BranchPredictorConfig `json:"branch_predictor"`
	Timing          *latency.TimingConfig          `json:"timing"`
}

// DefaultConfig returns a single-hart River system.
func DefaultConfig() *Config {
	return &Config{
		Harts:           1,
		ResetVector:     0x10000,
		MemorySize:      64 * mem.MB,
		CoreFreq:        100 * sim.MHz,
		JTAGFreq:        10 * sim.MHz,
		Caches:          cache.DefaultHierarchyConfig(),
		BranchPredictor: pipeline.DefaultBranchPredictorConfig(),
		Timing:          latency.DefaultTimingConfig(),
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read core config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse core config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize core config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write core config file: %w", err)
	}

	return nil
}

// Validate checks the Config.
func (c *Config) Validate() error {
	if c.Harts < 1 || c.Harts > dmi.MaxHarts {
		return fmt.Errorf("harts must be in [1, %d], got %d", dmi.MaxHarts, c.Harts)
	}
	if c.ResetVector&1 != 0 {
		return fmt.Errorf("reset_vector %#x is not 2-byte aligned", c.ResetVector)
	}
	if c.MemorySize == 0 {
		return fmt.Errorf("memory_size must be > 0")
	}
	if c.CoreFreq <= 0 {
		return fmt.Errorf("core_freq must be > 0")
	}
	if c.JTAGFreq <= 0 {
		return fmt.Errorf("jtag_freq must be > 0")
	}
	if c.BranchPredictor.BHTSize == 0 || c.BranchPredictor.BHTSize&(c.BranchPredictor.BHTSize-1) != 0 {
		return fmt.Errorf("branch_predictor BHTSize must be a power of 2")
	}

	caches := c.Caches
	caches.Harts = c.Harts
	if err := caches.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if c.Timing == nil {
		return fmt.Errorf("timing config is missing")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("invalid timing config: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Caches.Cacheability.Cached = append([]cache.AddrRange(nil), c.Caches.Cacheability.Cached...)
	clone.Caches.Cacheability.Uncached = append([]cache.AddrRange(nil), c.Caches.Cacheability.Uncached...)
	if c.Timing != nil {
		clone.Timing = c.Timing.Clone()
	}
	return &clone
}
