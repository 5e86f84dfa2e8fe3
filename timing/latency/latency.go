// Package latency provides the execute-stage latencies of the River core.
//
// Integer ALU operations complete in one cycle. The multiplier and divider
// latencies are fixed by their hardware structure; floating-point latencies
// come from TimingConfig.
package latency

import (
	"github.com/sarchlab/riversim/insts"
)

// Fixed latencies of the structural functional units.
const (
	// ALULatency is the latency of single-cycle integer operations.
	ALULatency uint64 = 1

	// MultiplyLatency is the depth of the Booth multiplier pipeline:
	// partial products, two adder-tree levels and the final sum.
	MultiplyLatency uint64 = 4

	// DivideLatency is one setup cycle plus 16 radix-16 iterations.
	DivideLatency uint64 = 17
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles of d, not counting
// memory-system time for loads and stores.
func (t *Table) GetLatency(d *insts.Decoded) uint64 {
	if d == nil {
		return ALULatency
	}

	k := d.Kind
	switch {
	case k.IsMul():
		return MultiplyLatency
	case k.IsDiv():
		return DivideLatency
	case k.IsFPU():
		return t.FPULatency(k)
	default:
		return ALULatency
	}
}

// FPULatency returns the latency of a floating-point operation.
func (t *Table) FPULatency(k insts.Kind) uint64 {
	switch k {
	case insts.KindFADDD, insts.KindFSUBD, insts.KindFEQD, insts.KindFLTD, insts.KindFLED:
		return t.config.FPUAddLatency
	case insts.KindFMULD:
		return t.config.FPUMulLatency
	case insts.KindFDIVD:
		return t.config.FPUDivLatency
	default:
		return t.config.FPUConvLatency
	}
}

// IsMultiCycle reports whether d occupies a functional unit for more than
// one cycle.
func (t *Table) IsMultiCycle(d *insts.Decoded) bool {
	return t.GetLatency(d) > 1
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
