package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds the latencies of the parts of the model that are not
// built structurally. The multiplier and divider are cycle-exact hardware
// models and have fixed latencies (see MultiplyLatency and DivideLatency).
type TimingConfig struct {
	// FPUAddLatency covers FADD.D, FSUB.D and the compares. Default: 4 cycles.
	FPUAddLatency uint64 `json:"fpu_add_latency"`

	// FPUMulLatency is the FMUL.D latency. Default: 16 cycles.
	FPUMulLatency uint64 `json:"fpu_mul_latency"`

	// FPUDivLatency is the FDIV.D latency. Default: 16 cycles.
	FPUDivLatency uint64 `json:"fpu_div_latency"`

	// FPUConvLatency covers conversions, min/max and moves. Default: 1 cycle.
	FPUConvLatency uint64 `json:"fpu_conv_latency"`

	// MemoryLatency is the number of cycles the memory device takes to
	// answer a beat. Default: 8 cycles.
	MemoryLatency uint64 `json:"memory_latency"`

	// BTBEntries is the number of branch-target buffer entries.
	// Default: 8.
	BTBEntries int `json:"btb_entries"`
}

// DefaultTimingConfig returns a TimingConfig with River's default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		FPUAddLatency:  4,
		FPUMulLatency:  16,
		FPUDivLatency:  16,
		FPUConvLatency: 1,
		MemoryLatency:  8,
		BTBEntries:     8,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that every latency is at least one cycle.
func (c *TimingConfig) Validate() error {
	if c.FPUAddLatency == 0 {
		return fmt.Errorf("fpu_add_latency must be > 0")
	}
	if c.FPUMulLatency == 0 {
		return fmt.Errorf("fpu_mul_latency must be > 0")
	}
	if c.FPUDivLatency == 0 {
		return fmt.Errorf("fpu_div_latency must be > 0")
	}
	if c.FPUConvLatency == 0 {
		return fmt.Errorf("fpu_conv_latency must be > 0")
	}
	if c.MemoryLatency == 0 {
		return fmt.Errorf("memory_latency must be > 0")
	}
	if c.BTBEntries <= 0 {
		return fmt.Errorf("btb_entries must be > 0")
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
