package benchmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/core"
)

// Version is reported in JSON output.
const Version = "0.1.0"

// BenchmarkResult holds the results of one benchmark on both models.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// SimulatedCycles is the core clock cycle count of the cycle model
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of instructions the harts retired
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// StallCycles counts cycles Execute held an instruction
	StallCycles uint64 `json:"stall_cycles"`

	// DataHazards counts stalls on registers still in flight
	DataHazards uint64 `json:"data_hazards"`

	// Discarded counts wrong-path instructions
	Discarded uint64 `json:"discarded"`

	ICacheHits   uint64 `json:"icache_hits"`
	ICacheMisses uint64 `json:"icache_misses"`
	DCacheHits   uint64 `json:"dcache_hits"`
	DCacheMisses uint64 `json:"dcache_misses"`
	L2Hits       uint64 `json:"l2_hits"`
	L2Misses     uint64 `json:"l2_misses"`

	// Branch predictor stats
	BranchPredictions     uint64  `json:"branch_predictions,omitempty"`
	BranchCorrect         uint64  `json:"branch_correct,omitempty"`
	BranchMispredictions  uint64  `json:"branch_mispredictions,omitempty"`
	BranchAccuracyPercent float64 `json:"branch_accuracy_percent,omitempty"`

	// ExitCode is the exit code of the cycle model
	ExitCode int64 `json:"exit_code"`

	// EmuExitCode and EmuInstructions come from the functional emulator
	EmuExitCode     int64  `json:"emu_exit_code"`
	EmuInstructions uint64 `json:"emu_instructions"`

	// Match is set when both models retired the same architectural state
	Match bool `json:"match"`

	// Mismatch describes the first difference found
	Mismatch string `json:"mismatch,omitempty"`

	// Error is set when a model failed to finish
	Error string `json:"error,omitempty"`

	// WallTime is the actual time taken to run both models
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup initializes memory before the program runs
	Setup func(memory *emu.Memory)

	// Program is the RV64 machine code, loaded at ProgramBase
	Program []byte

	// ExpectedExit is the expected exit code (for validation)
	ExpectedExit int64

	// DataSize is the number of bytes from DataBase compared between the
	// two models
	DataSize uint64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Core is the cycle model configuration. Its reset vector is forced to
	// ProgramBase.
	Core *core.Config

	// MaxCycles bounds each cycle-model run.
	MaxCycles uint64

	// MaxInstructions bounds each emulator run.
	MaxInstructions uint64

	// Parallel is the number of benchmarks run at once.
	Parallel int

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Core:            core.DefaultConfig(),
		MaxCycles:       2_000_000,
		MaxInstructions: 1_000_000,
		Parallel:        4,
		Output:          os.Stdout,
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark

	mu sync.Mutex // guards verbose output
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Core == nil {
		config.Core = core.DefaultConfig()
	}
	if config.Parallel < 1 {
		config.Parallel = 1
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes every benchmark, up to Parallel at a time, and returns
// the results in the order the benchmarks were added. Model failures are
// recorded in the results; the error is only set when ctx is cancelled.
func (h *Harness) RunAll(ctx context.Context) ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, len(h.benchmarks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Parallel)
	for i, bench := range h.benchmarks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = h.runBenchmark(bench)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("failed to run benchmarks: %w", err)
	}
	return results, nil
}

func (h *Harness) newMemory(bench Benchmark) (*emu.Memory, error) {
	memory := emu.NewMemoryWithSize(h.config.Core.MemorySize)
	if bench.Setup != nil {
		bench.Setup(memory)
	}
	if err := memory.LoadProgram(ProgramBase, bench.Program); err != nil {
		return nil, err
	}
	return memory, nil
}

// RunEmulation runs bench on the functional emulator.
func (h *Harness) RunEmulation(bench Benchmark) (*emu.Emulator, int64, error) {
	memory, err := h.newMemory(bench)
	if err != nil {
		return nil, 0, err
	}
	e := emu.NewEmulator(
		emu.WithMemory(memory),
		emu.WithToHost(ToHostAddr),
		emu.WithMaxInstructions(h.config.MaxInstructions),
		emu.WithStdout(io.Discard),
		emu.WithStderr(io.Discard),
	)
	e.SetPC(ProgramBase)
	for {
		res := e.Step()
		if res.Exited {
			return e, res.ExitCode, nil
		}
		if res.Err != nil {
			return e, 0, res.Err
		}
	}
}

// RunTiming runs bench on the cycle model.
func (h *Harness) RunTiming(bench Benchmark) (*core.Core, int64, error) {
	memory, err := h.newMemory(bench)
	if err != nil {
		return nil, 0, err
	}
	cfg := h.config.Core.Clone()
	cfg.ResetVector = ProgramBase
	c, err := core.New(cfg, memory, core.WithToHost(ToHostAddr))
	if err != nil {
		return nil, 0, err
	}
	code, err := c.Run(h.config.MaxCycles)
	return c, code, err
}

// runBenchmark executes a single benchmark on both models.
func (h *Harness) runBenchmark(bench Benchmark) (result BenchmarkResult) {
	result.Name = bench.Name
	result.Description = bench.Description
	start := time.Now()
	defer func() { result.WallTime = time.Since(start) }()

	e, emuCode, emuErr := h.RunEmulation(bench)
	c, code, err := h.RunTiming(bench)
	if err = errors.Join(emuErr, err); err != nil {
		result.Error = err.Error()
		return result
	}

	result.ExitCode = code
	result.EmuExitCode = emuCode
	result.EmuInstructions = e.InstructionCount()
	h.collectStats(&result, c.Stats())
	result.Mismatch = Compare(e, c, bench.DataSize)
	result.Match = result.Mismatch == ""

	if h.config.Verbose {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, _ = fmt.Fprintf(h.config.Output, "%s: %d cycles, exit %d\n",
			bench.Name, result.SimulatedCycles, code)
	}
	return result
}

func (h *Harness) collectStats(r *BenchmarkResult, s core.Statistics) {
	r.SimulatedCycles = s.Cycles
	r.InstructionsRetired = s.Instructions()
	if r.InstructionsRetired > 0 {
		r.CPI = float64(s.Cycles) / float64(r.InstructionsRetired)
	}
	for i, hs := range s.Harts {
		r.StallCycles += hs.Stalls
		r.DataHazards += hs.DataHazards
		r.Discarded += hs.Discarded
		r.BranchPredictions += hs.BranchPredictions
		r.BranchCorrect += hs.BranchCorrect
		r.BranchMispredictions += hs.BranchMispredictions
		r.ICacheHits += s.L1I[i].Hits
		r.ICacheMisses += s.L1I[i].Misses
		r.DCacheHits += s.L1D[i].Hits
		r.DCacheMisses += s.L1D[i].Misses
	}
	r.L2Hits = s.L2.Hits
	r.L2Misses = s.L2.Misses
	if r.BranchPredictions > 0 {
		r.BranchAccuracyPercent = 100 * float64(r.BranchCorrect) / float64(r.BranchPredictions)
	}
}

// Compare returns a description of the first architectural difference
// between the emulator and hart 0 of the cycle model, or "" when their
// integer registers and the first dataSize bytes from DataBase agree.
func Compare(e *emu.Emulator, c *core.Core, dataSize uint64) string {
	bank := c.Hart(0).RegBank()
	for r := 1; r < 32; r++ {
		want := e.RegFile().ReadReg(uint8(r))
		if got := bank.Int(r); got != want {
			return fmt.Sprintf("x%d: emulator %#x, cycle model %#x", r, want, got)
		}
	}
	for off := uint64(0); off+8 <= dataSize; off += 8 {
		want := e.Memory().Read64(DataBase + off)
		if got := c.Read64(DataBase + off); got != want {
			return fmt.Sprintf("[%#x]: emulator %#x, cycle model %#x", DataBase+off, want, got)
		}
	}
	return ""
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output
	_, _ = fmt.Fprintln(w, "=== River Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  Error: %s\n\n", r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "  Exit Code: %d (emulator %d)\n", r.ExitCode, r.EmuExitCode)
		if r.Match {
			_, _ = fmt.Fprintln(w, "  State: match")
		} else {
			_, _ = fmt.Fprintf(w, "  State: MISMATCH %s\n", r.Mismatch)
		}
		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(w, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(w, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(w, "  Stall Cycles:         %d\n", r.StallCycles)
		_, _ = fmt.Fprintf(w, "  Data Hazards:         %d\n", r.DataHazards)
		_, _ = fmt.Fprintf(w, "  Discarded:            %d\n", r.Discarded)

		_, _ = fmt.Fprintln(w, "  --- Caches ---")
		_, _ = fmt.Fprintf(w, "  L1I: %d hits, %d misses\n", r.ICacheHits, r.ICacheMisses)
		_, _ = fmt.Fprintf(w, "  L1D: %d hits, %d misses\n", r.DCacheHits, r.DCacheMisses)
		_, _ = fmt.Fprintf(w, "  L2:  %d hits, %d misses\n", r.L2Hits, r.L2Misses)

		if r.BranchPredictions > 0 {
			_, _ = fmt.Fprintln(w, "  --- Branch Predictor ---")
			_, _ = fmt.Fprintf(w, "  Predictions:     %d\n", r.BranchPredictions)
			_, _ = fmt.Fprintf(w, "  Mispredictions:  %d\n", r.BranchMispredictions)
			_, _ = fmt.Fprintf(w, "  Accuracy:        %.1f%%\n", r.BranchAccuracyPercent)
		}

		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,cycles,instructions,cpi,stalls,data_hazards,discarded,icache_hits,icache_misses,dcache_hits,dcache_misses,l2_hits,l2_misses,exit_code,match")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%t\n",
			r.Name,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.StallCycles,
			r.DataHazards,
			r.Discarded,
			r.ICacheHits,
			r.ICacheMisses,
			r.DCacheHits,
			r.DCacheMisses,
			r.L2Hits,
			r.L2Misses,
			r.ExitCode,
			r.Match,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
	Config    *core.Config `json:"config"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	Mismatches        int           `json:"mismatches"`
	TotalCycles       uint64        `json:"total_cycles"`
	TotalInstructions uint64        `json:"total_instructions"`
	AverageCPI        float64       `json:"average_cpi"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.SimulatedCycles
		s.TotalInstructions += r.InstructionsRetired
		s.TotalWallTime += r.WallTime
		if !r.Match {
			s.Mismatches++
		}
	}
	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}
	return s
}

// PrintJSON outputs benchmark results in JSON format.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
			Config:    h.config.Core,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
