// Validate the decoder - checks every encodable kind decodes back to itself
// and measures decode throughput and allocations.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sarchlab/riversim/insts"
)

func main() {
	decoder := insts.NewDecoder()

	// One word per kind the encoder accepts with these operands
	ops := insts.Operands{Rd: 5, Rs1: 6, Rs2: 7, Imm: 8, CSR: 0x340}
	var words []uint32
	mismatches := 0
	for k := insts.Kind(0); int(k) < insts.NumKinds; k++ {
		word, err := insts.Encode(k, ops)
		if err != nil {
			continue
		}
		d := decoder.Decode(word, 0x1000)
		if d.Kind != k {
			fmt.Printf("MISMATCH %-12s %08x decoded as %s\n", k, word, d.Kind)
			mismatches++
		}
		words = append(words, word)
	}
	// Compressed forms: c.li a0, 5 / c.addi a0, -1 / c.bnez a5, -4
	for _, h := range []uint16{0x4515, 0x157d, 0xfff5} {
		words = append(words, uint32(h))
	}

	// Warm up
	var d insts.Decoded
	for i := 0; i < 1000; i++ {
		decoder.DecodeInto(&d, words[i%len(words)], 0x1000)
	}

	runtime.GC()
	var m1, m2 runtime.MemStats
	runtime.ReadMemStats(&m1)

	start := time.Now()
	iterations := 100000
	for i := 0; i < iterations; i++ {
		for _, w := range words {
			decoder.DecodeInto(&d, w, 0x1000)
		}
	}

	elapsed := time.Since(start)
	runtime.ReadMemStats(&m2)

	totalDecodes := iterations * len(words)
	allocations := m2.Mallocs - m1.Mallocs
	allocatedBytes := m2.TotalAlloc - m1.TotalAlloc

	fmt.Printf("Decoder Validation Results:\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Kinds checked: %d\n", len(words)-3)
	fmt.Printf("Round-trip mismatches: %d\n", mismatches)
	fmt.Printf("Total decode operations: %d\n", totalDecodes)
	fmt.Printf("Time elapsed: %v\n", elapsed)
	fmt.Printf("Decodes per second: %.0f\n", float64(totalDecodes)/elapsed.Seconds())
	fmt.Printf("Allocations: %d\n", allocations)
	fmt.Printf("Allocated bytes: %d\n", allocatedBytes)
	fmt.Printf("Allocations per decode: %.3f\n", float64(allocations)/float64(totalDecodes))

	if mismatches > 0 {
		os.Exit(1)
	}
	if float64(allocations)/float64(totalDecodes) >= 0.1 {
		fmt.Printf("\nWARNING: High allocation rate detected\n")
	}
}
