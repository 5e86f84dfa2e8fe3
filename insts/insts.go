// Package insts provides RISC-V RV64IMAFDC instruction definitions, decoding,
// encoding and disassembly.
//
// This package turns 32-bit and 16-bit (compressed) machine words into a
// uniform Decoded record consumed by both the functional emulator and the
// cycle-level pipeline. It supports:
//   - RV64I base integer instructions, including the 32-bit "W" forms
//   - M (multiply/divide), A (atomics) and the D subset used by the core
//   - Zicsr, FENCE, FENCE.I, SFENCE.VMA and the privileged returns
//   - the RV64C compressed forms, expanded to their standard equivalents
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	d := decoder.Decode(0x00400293, 0x10000) // addi x5, x0, 4
//	fmt.Printf("Kind: %v, Rd: %d, Rs1: %d, Imm: %d\n", d.Kind, d.Rd, d.Rs1, int64(d.Imm))
package insts
