// Package main provides the entry point for RiverSim.
// RiverSim is a cycle-accurate model of the River RISC-V RV64 core built on
// Akita.
//
// For the full CLI, use: go run ./cmd/riversim
package main

import (
	"fmt"
	"os"

	"github.com/sarchlab/riversim/benchmarks"
)

func main() {
	fmt.Printf("RiverSim %s - River RV64 core model\n", benchmarks.Version)
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Tools:")
	fmt.Println("  cmd/riversim   Run an RV64 ELF on the emulator or the cycle model")
	fmt.Println("  cmd/riverdbg   JTAG debugger console and Lua scripting")
	fmt.Println("  cmd/benchmark  Compare emulator and cycle model on microbenchmarks")
	fmt.Println("  cmd/profile    Profile the simulator")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/riversim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/riversim' instead.")
	}
}
