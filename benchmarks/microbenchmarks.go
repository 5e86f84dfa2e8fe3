// Package benchmarks provides RV64 microbenchmarks and a harness that runs
// each of them on the functional emulator and on the cycle model.
package benchmarks

import (
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/insts"
)

// Memory layout shared by every microbenchmark.
const (
	// ProgramBase is where programs are loaded; it matches the default
	// reset vector.
	ProgramBase = 0x10000
	// ToHostAddr receives the exit code as code<<1|1.
	ToHostAddr = 0x1000
	// DataBase is the start of the data region.
	DataBase = 0x8000
)

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each
// benchmark targets a specific core characteristic.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticLoop(),
		dependencyChain(),
		memorySequential(),
		branchHeavy(),
		functionCalls(),
		multiplyDivide(),
		mixedWorkload(),
		matrixMultiply2x2(),
		compressedLoop(),
		pointerChase(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop, a
// matrix multiply and branch-heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticLoop(),
		matrixMultiply2x2(),
		branchHeavy(),
	}
}

func op(rd, rs1, rs2 uint8) insts.Operands {
	return insts.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}
}

func imm(rd, rs1 uint8, v int64) insts.Operands {
	return insts.Operands{Rd: rd, Rs1: rs1, Imm: v}
}

// store builds the operands of a store of src to off(base).
func store(base, src uint8, off int64) insts.Operands {
	return insts.Operands{Rs1: base, Rs2: src, Imm: off}
}

// 1. Arithmetic Loop - ALU throughput around a backward branch
func arithmeticLoop() Benchmark {
	a := NewAssembler()
	a.Li(t0, 100).Li(a0, 0)
	a.Label("loop")
	a.I(insts.KindADDI, imm(a0, a0, 3))
	a.I(insts.KindADDI, imm(t0, t0, -1))
	a.Branch(insts.KindBNE, t0, 0, "loop")
	a.Exit(a0)

	return Benchmark{
		Name:         "arithmetic_loop",
		Description:  "100 iterations of an add and a counted branch - measures loop throughput",
		Program:      a.Bytes(),
		ExpectedExit: 300,
	}
}

// 2. Dependency Chain - back-to-back RAW hazards
func dependencyChain() Benchmark {
	a := NewAssembler()
	a.Li(a0, 0)
	for i := 0; i < 20; i++ {
		a.I(insts.KindADDI, imm(a0, a0, 1))
	}
	a.Exit(a0)

	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDIs (a0 = a0 + 1) - measures forwarding latency",
		Program:      a.Bytes(),
		ExpectedExit: 20,
	}
}

// 3. Memory Sequential - store/load pairs through the D-cache
func memorySequential() Benchmark {
	a := NewAssembler()
	a.I(insts.KindLUI, insts.Operands{Rd: s0, Imm: DataBase})
	a.Li(a0, 42)
	for i := int64(0); i < 16; i++ {
		a.I(insts.KindSD, store(s0, a0, 8*i))
		a.I(insts.KindLD, imm(a0, s0, 8*i))
	}
	a.Exit(a0)

	return Benchmark{
		Name:         "memory_sequential",
		Description:  "16 store/load pairs to sequential doublewords - measures memory latency",
		Program:      a.Bytes(),
		ExpectedExit: 42,
		DataSize:     128,
	}
}

// 4. Branch Heavy - a data-dependent branch that alternates every iteration
func branchHeavy() Benchmark {
	a := NewAssembler()
	a.Li(t0, 64).Li(a0, 0)
	a.Label("loop")
	a.I(insts.KindANDI, imm(t1, t0, 1))
	a.Branch(insts.KindBEQ, t1, 0, "skip")
	a.I(insts.KindADDI, imm(a0, a0, 1))
	a.Label("skip")
	a.I(insts.KindADDI, imm(t0, t0, -1))
	a.Branch(insts.KindBNE, t0, 0, "loop")
	a.Exit(a0)

	return Benchmark{
		Name:         "branch_heavy",
		Description:  "alternating taken/not-taken branch - stresses the BHT",
		Program:      a.Bytes(),
		ExpectedExit: 32,
	}
}

// 5. Function Calls - JAL/JALR pairs
func functionCalls() Benchmark {
	a := NewAssembler()
	a.Li(t0, 10).Li(a0, 0)
	a.Label("loop")
	a.Jal(ra, "add5")
	a.I(insts.KindADDI, imm(t0, t0, -1))
	a.Branch(insts.KindBNE, t0, 0, "loop")
	a.Jal(0, "done")
	a.Label("add5")
	a.I(insts.KindADDI, imm(a0, a0, 5))
	a.I(insts.KindJALR, imm(0, ra, 0))
	a.Label("done")
	a.Exit(a0)

	return Benchmark{
		Name:         "function_calls",
		Description:  "10 calls to a leaf function - call/return overhead and BTB",
		Program:      a.Bytes(),
		ExpectedExit: 50,
	}
}

// 6. Multiply/Divide - multi-cycle M-extension units
func multiplyDivide() Benchmark {
	a := NewAssembler()
	a.Li(a0, 1).Li(t0, 1).Li(t1, 11)
	a.Label("fact")
	a.I(insts.KindMUL, op(a0, a0, t0))
	a.I(insts.KindADDI, imm(t0, t0, 1))
	a.Branch(insts.KindBNE, t0, t1, "fact")
	a.Li(t2, 720)
	a.I(insts.KindDIVU, op(a0, a0, t2))
	a.Li(t2, 1000)
	a.I(insts.KindREMU, op(a0, a0, t2))
	a.Exit(a0)

	return Benchmark{
		Name:         "multiply_divide",
		Description:  "10! then a divide and a remainder - multiplier and divider latency",
		Program:      a.Bytes(),
		ExpectedExit: 40,
	}
}

// 7. Mixed Workload - fill an array, then sum it back
func mixedWorkload() Benchmark {
	a := NewAssembler()
	a.I(insts.KindLUI, insts.Operands{Rd: s0, Imm: DataBase})
	a.Li(t0, 0).Li(t1, 16)
	a.Label("fill")
	a.I(insts.KindSLLI, imm(t2, t0, 3))
	a.I(insts.KindADD, op(t2, t2, s0))
	a.I(insts.KindSD, store(t2, t0, 0))
	a.I(insts.KindADDI, imm(t0, t0, 1))
	a.Branch(insts.KindBNE, t0, t1, "fill")
	a.Li(a0, 0).Li(t0, 0)
	a.Label("sum")
	a.I(insts.KindSLLI, imm(t2, t0, 3))
	a.I(insts.KindADD, op(t2, s0, t2))
	a.I(insts.KindLD, imm(a1, t2, 0))
	a.I(insts.KindADD, op(a0, a0, a1))
	a.I(insts.KindADDI, imm(t0, t0, 1))
	a.Branch(insts.KindBNE, t0, t1, "sum")
	a.Exit(a0)

	return Benchmark{
		Name:         "mixed_workload",
		Description:  "array fill and reduction - ALU, memory and branches together",
		Program:      a.Bytes(),
		ExpectedExit: 120,
		DataSize:     128,
	}
}

// 8. Matrix Multiply 2x2 - loads, multiplies and stores with a result matrix
func matrixMultiply2x2() Benchmark {
	const (
		s2, s3, s4, s5 = 18, 19, 20, 21
		s6, s7, s8, s9 = 22, 23, 24, 25
	)
	a := NewAssembler()
	a.I(insts.KindLUI, insts.Operands{Rd: s0, Imm: DataBase})
	for i, r := range []uint8{s2, s3, s4, s5, s6, s7, s8, s9} {
		a.I(insts.KindLD, imm(r, s0, int64(8*i)))
	}
	a.Li(a0, 0)
	cells := [][4]uint8{
		{s2, s6, s3, s8},
		{s2, s7, s3, s9},
		{s4, s6, s5, s8},
		{s4, s7, s5, s9},
	}
	for i, c := range cells {
		a.I(insts.KindMUL, op(t0, c[0], c[1]))
		a.I(insts.KindMUL, op(t1, c[2], c[3]))
		a.I(insts.KindADD, op(t0, t0, t1))
		a.I(insts.KindSD, store(s0, t0, int64(64+8*i)))
		a.I(insts.KindADD, op(a0, a0, t0))
	}
	a.Exit(a0)

	return Benchmark{
		Name:        "matrix_multiply_2x2",
		Description: "2x2 integer matrix multiply - load-use hazards and multiplier",
		Setup: func(memory *emu.Memory) {
			for i, v := range []uint64{1, 2, 3, 4, 5, 6, 7, 8} {
				memory.Write64(DataBase+uint64(8*i), v)
			}
		},
		Program:      a.Bytes(),
		ExpectedExit: 19 + 22 + 43 + 50,
		DataSize:     96,
	}
}

// 9. Compressed Loop - RVC instructions and a misaligned 32-bit tail
func compressedLoop() Benchmark {
	a := NewAssembler()
	a.C(insts.CLI, insts.Operands{Rd: a0, Imm: 0})
	a.C(insts.CLI, insts.Operands{Rd: a5, Imm: 20})
	a.C(insts.CADDI, insts.Operands{Rd: a0, Imm: 2})
	a.C(insts.CADDI, insts.Operands{Rd: a5, Imm: -1})
	a.C(insts.CBNEZ, insts.Operands{Rs1: a5, Imm: -4})
	a.Exit(a0)

	return Benchmark{
		Name:         "compressed_loop",
		Description:  "a loop of 16-bit instructions - compressed fetch and realignment",
		Program:      a.Bytes(),
		ExpectedExit: 40,
	}
}

// 10. Pointer Chase - dependent loads across cache lines
func pointerChase() Benchmark {
	const nodes, stride = 16, 64
	a := NewAssembler()
	a.I(insts.KindLUI, insts.Operands{Rd: s1, Imm: DataBase})
	a.Li(a0, 0)
	a.Label("next")
	a.I(insts.KindADDI, imm(a0, a0, 1))
	a.I(insts.KindLD, imm(s1, s1, 0))
	a.Branch(insts.KindBNE, s1, 0, "next")
	a.Exit(a0)

	return Benchmark{
		Name:        "pointer_chase",
		Description: "walk a 16-node linked list with one node per line - load-to-use latency",
		Setup: func(memory *emu.Memory) {
			for i := uint64(0); i < nodes; i++ {
				next := uint64(0)
				if i+1 < nodes {
					next = DataBase + (i+1)*stride
				}
				memory.Write64(DataBase+i*stride, next)
			}
		},
		Program:      a.Bytes(),
		ExpectedExit: nodes,
		DataSize:     nodes * stride,
	}
}
