package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/insts"
)

const minusOne = math.MaxUint64

var _ = Describe("ALU", func() {
	DescribeTable("IntOp",
		func(k insts.Kind, a, b, want uint64) {
			Expect(emu.IntOp(k, a, b)).To(Equal(want))
		},
		Entry("add", insts.KindADD, uint64(3), uint64(4), uint64(7)),
		Entry("sub wraps", insts.KindSUB, uint64(0), uint64(1), uint64(minusOne)),
		Entry("addw sign-extends", insts.KindADDW, uint64(0x7FFFFFFF), uint64(1), uint64(0xFFFFFFFF80000000)),
		Entry("subw", insts.KindSUBW, uint64(0), uint64(1), uint64(minusOne)),
		Entry("slt signed", insts.KindSLT, uint64(minusOne), uint64(0), uint64(1)),
		Entry("sltu unsigned", insts.KindSLTU, uint64(minusOne), uint64(0), uint64(0)),
		Entry("sll masks shamt", insts.KindSLL, uint64(1), uint64(65), uint64(2)),
		Entry("sra", insts.KindSRA, uint64(0x8000000000000000), uint64(63), uint64(minusOne)),
		Entry("srl", insts.KindSRL, uint64(0x8000000000000000), uint64(63), uint64(1)),
		Entry("sraw", insts.KindSRAW, uint64(0x80000000), uint64(31), uint64(minusOne)),
		Entry("srlw sign-extends bit 31", insts.KindSRLW, uint64(0x80000000), uint64(0), uint64(0xFFFFFFFF80000000)),
		Entry("sllw", insts.KindSLLW, uint64(1), uint64(31), uint64(0xFFFFFFFF80000000)),
		Entry("lui passes imm", insts.KindLUI, uint64(99), uint64(0x1000), uint64(0x1000)),
		Entry("xori", insts.KindXORI, uint64(0xF0), uint64(0xFF), uint64(0x0F)),
	)

	DescribeTable("MulOp",
		func(k insts.Kind, a, b, want uint64) {
			Expect(emu.MulOp(k, a, b)).To(Equal(want))
		},
		Entry("mul", insts.KindMUL, uint64(6), uint64(7), uint64(42)),
		Entry("mulw", insts.KindMULW, uint64(0x10000), uint64(0x10000), uint64(0)),
		Entry("mulhu", insts.KindMULHU, uint64(minusOne), uint64(minusOne), uint64(0xFFFFFFFFFFFFFFFE)),
		Entry("mulh of -1*-1", insts.KindMULH, uint64(minusOne), uint64(minusOne), uint64(0)),
		Entry("mulh of -1*1", insts.KindMULH, uint64(minusOne), uint64(1), uint64(minusOne)),
		Entry("mulhsu of -1*max", insts.KindMULHSU, uint64(minusOne), uint64(minusOne), uint64(minusOne)),
	)

	DescribeTable("DivOp",
		func(k insts.Kind, a, b, want uint64) {
			Expect(emu.DivOp(k, a, b)).To(Equal(want))
		},
		Entry("div", insts.KindDIV, uint64(20), uint64(6), uint64(3)),
		Entry("div negative", insts.KindDIV, uint64(math.MaxUint64-19), uint64(6), uint64(math.MaxUint64-2)),
		Entry("div by zero", insts.KindDIV, uint64(5), uint64(0), uint64(minusOne)),
		Entry("divu by zero", insts.KindDIVU, uint64(5), uint64(0), uint64(minusOne)),
		Entry("div overflow", insts.KindDIV, uint64(1<<63), uint64(minusOne), uint64(1<<63)),
		Entry("rem overflow", insts.KindREM, uint64(1<<63), uint64(minusOne), uint64(0)),
		Entry("rem by zero", insts.KindREM, uint64(7), uint64(0), uint64(7)),
		Entry("remu", insts.KindREMU, uint64(20), uint64(6), uint64(2)),
		Entry("divw", insts.KindDIVW, uint64(0xFFFFFFF6), uint64(2), uint64(0xFFFFFFFFFFFFFFFB)),
		Entry("divuw by zero", insts.KindDIVUW, uint64(3), uint64(0), uint64(minusOne)),
		Entry("remw overflow", insts.KindREMW, uint64(0x80000000), uint64(0xFFFFFFFF), uint64(0)),
		Entry("remuw by zero", insts.KindREMUW, uint64(0x80000000), uint64(0), uint64(0xFFFFFFFF80000000)),
	)

	DescribeTable("BranchTaken",
		func(k insts.Kind, a, b uint64, want bool) {
			Expect(emu.BranchTaken(k, a, b)).To(Equal(want))
		},
		Entry("beq", insts.KindBEQ, uint64(1), uint64(1), true),
		Entry("bne", insts.KindBNE, uint64(1), uint64(1), false),
		Entry("blt signed", insts.KindBLT, uint64(minusOne), uint64(0), true),
		Entry("bltu unsigned", insts.KindBLTU, uint64(minusOne), uint64(0), false),
		Entry("bge equal", insts.KindBGE, uint64(4), uint64(4), true),
		Entry("bgeu", insts.KindBGEU, uint64(minusOne), uint64(1), true),
	)

	Describe("AMOOp", func() {
		It("should compare word operands as 32-bit values", func() {
			Expect(emu.AMOOp(insts.KindAMOMINW, 0x80000000, 1)).
				To(Equal(uint64(0xFFFFFFFF80000000)))
			Expect(emu.AMOOp(insts.KindAMOMAXUW, 0x80000000, 1)).
				To(Equal(uint64(0xFFFFFFFF80000000)))
		})

		It("should add double words", func() {
			Expect(emu.AMOOp(insts.KindAMOADDD, 40, 2)).To(Equal(uint64(42)))
		})
	})

	Describe("LoadExtend", func() {
		It("should sign- or zero-extend by size", func() {
			Expect(emu.LoadExtend(0x80, insts.MemSize1, true)).To(Equal(uint64(0xFFFFFFFFFFFFFF80)))
			Expect(emu.LoadExtend(0x80, insts.MemSize1, false)).To(Equal(uint64(0x80)))
			Expect(emu.LoadExtend(0x12348000, insts.MemSize2, true)).To(Equal(uint64(0xFFFFFFFFFFFF8000)))
			Expect(emu.LoadExtend(0x80000000, insts.MemSize4, false)).To(Equal(uint64(0x80000000)))
		})
	})
})
