// Package main provides a profiling wrapper for RiverSim to identify
// performance bottlenecks in the simulator itself.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/sarchlab/riversim/benchmarks"
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/loader"
	"github.com/sarchlab/riversim/timing/core"
)

var (
	timing      = flag.Bool("timing", false, "Profile the cycle model instead of the emulator")
	cpuProfile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile  = flag.String("memprofile", "", "write memory profile to file")
	bench       = flag.String("bench", "", "profile a built-in microbenchmark instead of an ELF")
	repeat      = flag.Int("repeat", 1, "number of times to run the program")
	maxCycles   = flag.Uint64("max-cycles", 50_000_000, "max core cycles in timing mode (0 = unlimited)")
	instruction = flag.Uint64("max-instr", 1000000, "max instructions to execute (0 = unlimited)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 && *bench == "" {
		fmt.Fprintf(os.Stderr, "Usage: profile [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "       profile [options] -bench <name>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	prog, name, err := loadTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	mode := "emulation"
	if *timing {
		mode = "timing"
	}
	fmt.Printf("Profiling %s (%s mode, %d run(s))\n", name, mode, *repeat)

	var (
		exitCode   int64
		instrCount uint64
		cycles     uint64
	)
	start := time.Now()
	for i := 0; i < *repeat; i++ {
		if *timing {
			exitCode, instrCount, cycles, err = runTimingProfile(prog)
		} else {
			exitCode, instrCount, err = runEmulationProfile(prog)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
	}
	elapsed := time.Since(start)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Exit code: %d\n", exitCode)
	fmt.Printf("Instructions executed: %d\n", instrCount)
	if *timing {
		fmt.Printf("Cycles simulated: %d\n", cycles)
	}
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if instrCount > 0 {
		perRun := elapsed.Seconds() / float64(*repeat)
		fmt.Printf("Instructions/second: %.0f\n", float64(instrCount)/perRun)
		if *timing {
			fmt.Printf("Cycles/second: %.0f\n", float64(cycles)/perRun)
		}
	}
}

// loadTarget returns the program named on the command line.
func loadTarget() (*loader.Program, string, error) {
	if *bench == "" {
		prog, err := loader.Load(flag.Arg(0))
		return prog, flag.Arg(0), err
	}

	for _, b := range benchmarks.GetMicrobenchmarks() {
		if b.Name != *bench {
			continue
		}
		if b.Setup != nil {
			return nil, "", fmt.Errorf("benchmark %s needs data setup; use cmd/benchmark", b.Name)
		}
		return &loader.Program{
			EntryPoint: benchmarks.ProgramBase,
			InitialSP:  loader.DefaultStackTop,
			ToHost:     benchmarks.ToHostAddr,
			HasToHost:  true,
			Segments: []loader.Segment{{
				VirtAddr: benchmarks.ProgramBase,
				PhysAddr: benchmarks.ProgramBase,
				Data:     b.Program,
				MemSize:  uint64(len(b.Program)),
				Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
			}},
		}, b.Name, nil
	}
	return nil, "", fmt.Errorf("unknown benchmark %q", *bench)
}

// runEmulationProfile runs the program in functional emulation mode.
func runEmulationProfile(prog *loader.Program) (int64, uint64, error) {
	memory := emu.NewMemory()
	if err := prog.LoadInto(memory); err != nil {
		return 0, 0, err
	}

	opts := []emu.EmulatorOption{
		emu.WithMemory(memory),
		emu.WithStackPointer(prog.InitialSP),
	}
	if prog.HasToHost {
		opts = append(opts, emu.WithToHost(prog.ToHost))
	}
	if *instruction > 0 {
		opts = append(opts, emu.WithMaxInstructions(*instruction))
	}

	emulator := emu.NewEmulator(opts...)
	emulator.SetPC(prog.EntryPoint)

	exitCode := emulator.Run()
	return exitCode, emulator.InstructionCount(), nil
}

// runTimingProfile runs the program on the River model.
func runTimingProfile(prog *loader.Program) (int64, uint64, uint64, error) {
	config := core.DefaultConfig()
	config.ResetVector = prog.EntryPoint

	memory := emu.NewMemoryWithSize(config.MemorySize)
	if err := prog.LoadInto(memory); err != nil {
		return 0, 0, 0, err
	}

	var opts []core.Option
	if prog.HasToHost {
		opts = append(opts, core.WithToHost(prog.ToHost))
	}
	c, err := core.New(config, memory, opts...)
	if err != nil {
		return 0, 0, 0, err
	}
	c.Hart(0).Poke(2, prog.InitialSP)

	exitCode, err := c.Run(*maxCycles)
	if errors.Is(err, core.ErrMaxCycles) {
		err = nil
	}

	stats := c.Stats()
	return exitCode, stats.Instructions(), stats.Cycles, err
}
