// Package main provides the entry point for RiverSim.
// RiverSim runs RV64 programs on a functional emulator or on a
// cycle-accurate model of the River core.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/loader"
	"github.com/sarchlab/riversim/timing/core"
)

type options struct {
	timing     bool
	configPath string
	verbose    bool
	tracePath  string
	maxCycles  uint64
	maxInstr   uint64
	harts      int
	raw        bool
	loadAddr   uint64
	toHost     uint64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("riversim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.BoolVar(&o.timing, "timing", false, "Run on the cycle-accurate River model")
	fs.StringVar(&o.configPath, "config", "", "Path to core configuration JSON file")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.StringVar(&o.tracePath, "trace", "", "Write an instruction trace to file (- for stdout)")
	fs.Uint64Var(&o.maxCycles, "max-cycles", 0, "Core cycle limit in timing mode (0 = unlimited)")
	fs.Uint64Var(&o.maxInstr, "max-instr", 0, "Instruction limit in emulation mode (0 = unlimited)")
	fs.IntVar(&o.harts, "harts", 0, "Number of harts (overrides the config file)")
	fs.BoolVar(&o.raw, "bin", false, "Treat the program as a flat binary instead of an ELF")
	fs.Uint64Var(&o.loadAddr, "load-addr", 0x10000, "Load and entry address of a flat binary")
	fs.Uint64Var(&o.toHost, "tohost", 0, "tohost address (overrides the ELF symbol)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: riversim [options] <program>\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}

	programPath := fs.Arg(0)
	prog, err := loadProgram(programPath, &o)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading program: %v\n", err)
		return 1
	}

	if o.verbose {
		fmt.Fprintf(stdout, "Loaded: %s\n", programPath)
		fmt.Fprintf(stdout, "Entry point: 0x%X\n", prog.EntryPoint)
		fmt.Fprintf(stdout, "Segments: %d\n", len(prog.Segments))
		if prog.HasToHost {
			fmt.Fprintf(stdout, "tohost: 0x%X\n", prog.ToHost)
		}
	}

	var exitCode int64
	if o.timing {
		exitCode, err = runTiming(prog, programPath, &o, stdout)
	} else {
		exitCode, err = runEmulation(prog, programPath, &o, stdout, stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return int(exitCode)
}

func loadProgram(path string, o *options) (*loader.Program, error) {
	var prog *loader.Program
	if o.raw {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		prog = &loader.Program{
			EntryPoint: o.loadAddr,
			InitialSP:  loader.DefaultStackTop,
			Segments: []loader.Segment{{
				VirtAddr: o.loadAddr,
				PhysAddr: o.loadAddr,
				Data:     data,
				MemSize:  uint64(len(data)),
				Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
			}},
		}
	} else {
		var err error
		prog, err = loader.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if o.toHost != 0 {
		prog.ToHost = o.toHost
		prog.HasToHost = true
	}
	return prog, nil
}

// runEmulation runs the program in functional emulation mode.
func runEmulation(
	prog *loader.Program, programPath string, o *options, stdout, stderr io.Writer,
) (int64, error) {
	memory := emu.NewMemory()
	if err := prog.LoadInto(memory); err != nil {
		return 0, err
	}

	opts := []emu.EmulatorOption{
		emu.WithMemory(memory),
		emu.WithStackPointer(prog.InitialSP),
		emu.WithStdout(stdout),
		emu.WithStderr(stderr),
	}
	if prog.HasToHost {
		opts = append(opts, emu.WithToHost(prog.ToHost))
	}
	if o.maxInstr > 0 {
		opts = append(opts, emu.WithMaxInstructions(o.maxInstr))
	}

	emulator := emu.NewEmulator(opts...)
	emulator.SetPC(prog.EntryPoint)

	exitCode := emulator.Run()

	if o.verbose {
		fmt.Fprintf(stdout, "\nProgram: %s\n", programPath)
		fmt.Fprintf(stdout, "Exit code: %d\n", exitCode)
		fmt.Fprintf(stdout, "Instructions executed: %d\n", emulator.InstructionCount())
	}

	return exitCode, nil
}

// runTiming runs the program on the River model.
func runTiming(prog *loader.Program, programPath string, o *options, stdout io.Writer) (int64, error) {
	config := core.DefaultConfig()
	if o.configPath != "" {
		var err error
		config, err = core.LoadConfig(o.configPath)
		if err != nil {
			return 0, fmt.Errorf("failed to load core config: %w", err)
		}
	}
	if o.harts > 0 {
		config.Harts = o.harts
	}
	config.ResetVector = prog.EntryPoint

	memory := emu.NewMemoryWithSize(config.MemorySize)
	if err := prog.LoadInto(memory); err != nil {
		return 0, err
	}

	var opts []core.Option
	if prog.HasToHost {
		opts = append(opts, core.WithToHost(prog.ToHost))
	}
	if o.tracePath != "" {
		w, closeTrace, err := openTrace(o.tracePath, stdout)
		if err != nil {
			return 0, err
		}
		defer closeTrace()
		opts = append(opts, core.WithTrace(w))
	}

	c, err := core.New(config, memory, opts...)
	if err != nil {
		return 0, err
	}
	for i := 0; i < c.NumHarts(); i++ {
		sp := prog.InitialSP - uint64(i)*loader.DefaultStackSize
		if sp > config.MemorySize {
			sp = config.MemorySize - uint64(i)*loader.DefaultStackSize
		}
		c.Hart(i).Poke(2, sp)
	}

	exitCode, err := c.Run(o.maxCycles)
	if err != nil && !errors.Is(err, core.ErrMaxCycles) {
		return 0, err
	}

	printReport(stdout, programPath, c, exitCode, err)
	return exitCode, nil
}

func openTrace(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printReport(w io.Writer, programPath string, c *core.Core, exitCode int64, runErr error) {
	stats := c.Stats()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Program: %s\n", programPath)
	if runErr != nil {
		fmt.Fprintf(w, "Stopped: %v\n", runErr)
	} else {
		fmt.Fprintf(w, "Exit code: %d\n", exitCode)
	}
	fmt.Fprintf(w, "Total Cycles: %d\n", stats.Cycles)
	fmt.Fprintf(w, "Total Instructions: %d\n", stats.Instructions())
	fmt.Fprintf(w, "TCK Cycles: %d\n", stats.TCKCycles)

	for i, h := range stats.Harts {
		total := h.Cycles
		if total == 0 {
			total = 1
		}
		fmt.Fprintf(w, "\nHart %d:\n", i)
		fmt.Fprintf(w, "  Instructions: %d\n", h.Instructions)
		fmt.Fprintf(w, "  CPI: %.2f\n", h.CPI())
		fmt.Fprintf(w, "  Stalls:       %6d cycles (%5.1f%%)\n",
			h.Stalls, 100.0*float64(h.Stalls)/float64(total))
		fmt.Fprintf(w, "  Data hazards: %6d cycles (%5.1f%%)\n",
			h.DataHazards, 100.0*float64(h.DataHazards)/float64(total))
		fmt.Fprintf(w, "  Discarded:    %6d\n", h.Discarded)
		fmt.Fprintf(w, "  Traps:        %6d\n", h.Traps)
		fmt.Fprintf(w, "  Branches:     %6d (%d mispredicted)\n",
			h.BranchPredictions, h.BranchMispredictions)
		fmt.Fprintf(w, "  L1I: %d hits, %d misses (%.1f%%)\n",
			stats.L1I[i].Hits, stats.L1I[i].Misses, 100*stats.L1I[i].HitRate())
		fmt.Fprintf(w, "  L1D: %d hits, %d misses (%.1f%%)\n",
			stats.L1D[i].Hits, stats.L1D[i].Misses, 100*stats.L1D[i].HitRate())
	}

	fmt.Fprintf(w, "\nL2: %d hits, %d misses, %d writebacks\n",
		stats.L2.Hits, stats.L2.Misses, stats.L2.Writebacks)
	fmt.Fprintf(w, "Memory: %d reads, %d writes\n", stats.Memory.Reads, stats.Memory.Writes)
}
