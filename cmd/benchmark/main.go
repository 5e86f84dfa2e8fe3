// Command benchmark runs the RiverSim microbenchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv        Output results in CSV format (default: human-readable)
//	-json       Output a JSON report
//	-parallel   Number of benchmarks run concurrently
//	-config     Path to a core configuration JSON file
//	-core-only  Run only the quick validation subset
//
// Example:
//
//	# Run all benchmarks with human-readable output
//	go run ./cmd/benchmark
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -csv > results.csv
//
// Every benchmark runs on both the functional emulator and the cycle model;
// a benchmark fails when their final registers or data differ.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sarchlab/riversim/benchmarks"
	"github.com/sarchlab/riversim/timing/core"
)

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	jsonOutput := flag.Bool("json", false, "Output results as a JSON report")
	parallel := flag.Int("parallel", 4, "Number of benchmarks run concurrently")
	configPath := flag.String("config", "", "Path to core configuration JSON file")
	coreOnly := flag.Bool("core-only", false, "Run only the quick validation subset")
	verbose := flag.Bool("v", false, "Print progress per benchmark")
	flag.Parse()

	config := benchmarks.DefaultConfig()
	config.Parallel = *parallel
	config.Verbose = *verbose
	config.Output = os.Stdout
	if *configPath != "" {
		coreConfig, err := core.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading core config: %v\n", err)
			os.Exit(1)
		}
		config.Core = coreConfig
	}

	harness := benchmarks.NewHarness(config)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("RiverSim Benchmark Harness")
		fmt.Println("==========================")
		fmt.Printf("Harts: %d\n", config.Core.Harts)
		fmt.Printf("Parallel: %d\n", config.Parallel)
		fmt.Println("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := harness.RunAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)

		summary := benchmarks.Summarize(results)
		fmt.Println("=== Summary ===")
		fmt.Printf("Benchmarks: %d\n", summary.TotalBenchmarks)
		fmt.Printf("Mismatches: %d\n", summary.Mismatches)
		fmt.Printf("Average CPI: %.3f\n", summary.AverageCPI)
	}

	if s := benchmarks.Summarize(results); s.Mismatches > 0 {
		os.Exit(1)
	}
}
