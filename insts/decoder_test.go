package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Integer register-immediate", func() {
		// ADDI x5, x0, 4 -> 0x00400293
		It("should decode ADDI x5, x0, 4", func() {
			d := decoder.Decode(0x00400293, 0x10000)

			Expect(d.Kind).To(Equal(insts.KindADDI))
			Expect(d.Vec.Has(insts.KindADDI)).To(BeTrue())
			Expect(d.Format).To(Equal(insts.FormatI))
			Expect(d.Rd).To(Equal(uint8(5)))
			Expect(d.Rs1).To(Equal(uint8(0)))
			Expect(d.Imm).To(Equal(uint64(4)))
			Expect(d.PC).To(Equal(uint64(0x10000)))
			Expect(d.Compressed).To(BeFalse())
			Expect(d.Unimplemented).To(BeFalse())
		})

		// LW a0, -4(sp) -> 0xFFC12503
		It("should decode LW with a negative offset", func() {
			d := decoder.Decode(0xFFC12503, 0)

			Expect(d.Kind).To(Equal(insts.KindLW))
			Expect(d.Rd).To(Equal(uint8(10)))
			Expect(d.Rs1).To(Equal(uint8(2)))
			Expect(int64(d.Imm)).To(Equal(int64(-4)))
			Expect(d.MemLoad).To(BeTrue())
			Expect(d.MemSignExt).To(BeTrue())
			Expect(d.MemSize).To(Equal(insts.MemSize4))
		})
	})

	Describe("Integer register-register", func() {
		// ADD a0, a1, a0 -> 0x00A58533
		It("should decode ADD a0, a1, a0", func() {
			d := decoder.Decode(0x00A58533, 0)

			Expect(d.Kind).To(Equal(insts.KindADD))
			Expect(d.Format).To(Equal(insts.FormatR))
			Expect(d.Rd).To(Equal(uint8(10)))
			Expect(d.Rs1).To(Equal(uint8(11)))
			Expect(d.Rs2).To(Equal(uint8(10)))
		})
	})

	Describe("Attributes", func() {
		It("should mark W forms as rv32", func() {
			w := insts.MustEncode(insts.KindADDW, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})
			Expect(decoder.Decode(w, 0).RV32).To(BeTrue())
		})

		It("should mark unsigned divides", func() {
			w := insts.MustEncode(insts.KindDIVU, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})
			Expect(decoder.Decode(w, 0).Unsigned).To(BeTrue())
		})

		It("should classify AMO word operations", func() {
			w := insts.MustEncode(insts.KindAMOADDW, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})
			d := decoder.Decode(w, 0)

			Expect(d.AMO).To(BeTrue())
			Expect(d.MemLoad).To(BeTrue())
			Expect(d.MemStore).To(BeTrue())
			Expect(d.MemSize).To(Equal(insts.MemSize4))
			Expect(d.RV32).To(BeTrue())
		})

		It("should treat SC as a store and LR as a load", func() {
			sc := decoder.Decode(insts.MustEncode(insts.KindSCD, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3}), 0)
			lr := decoder.Decode(insts.MustEncode(insts.KindLRD, insts.Operands{Rd: 1, Rs1: 2}), 0)

			Expect(sc.MemStore).To(BeTrue())
			Expect(sc.MemLoad).To(BeFalse())
			Expect(lr.MemLoad).To(BeTrue())
			Expect(lr.MemStore).To(BeFalse())
		})

		It("should mark double-precision operations as f64", func() {
			w := insts.MustEncode(insts.KindFADDD, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})
			Expect(decoder.Decode(w, 0).F64).To(BeTrue())
		})
	})

	Describe("System", func() {
		It("should decode CSRRS with the CSR address", func() {
			// csrr a0, mhartid -> 0xF1402573
			d := decoder.Decode(0xF1402573, 0)

			Expect(d.Kind).To(Equal(insts.KindCSRRS))
			Expect(d.CSR).To(Equal(uint16(0xF14)))
			Expect(d.Rd).To(Equal(uint8(10)))
			Expect(d.Rs1).To(Equal(uint8(0)))
		})

		It("should decode MRET and WFI", func() {
			Expect(decoder.Decode(0x30200073, 0).Kind).To(Equal(insts.KindMRET))
			Expect(decoder.Decode(0x10500073, 0).Kind).To(Equal(insts.KindWFI))
		})
	})

	Describe("Compressed", func() {
		It("should expand C.LI a0, 5", func() {
			d := decoder.Decode(0x4515, 0x100)

			Expect(d.Compressed).To(BeTrue())
			Expect(d.Kind).To(Equal(insts.KindADDI))
			Expect(d.Rd).To(Equal(uint8(10)))
			Expect(d.Rs1).To(Equal(uint8(0)))
			Expect(d.Imm).To(Equal(uint64(5)))
			Expect(d.Length()).To(Equal(uint64(2)))
			Expect(d.Instr).To(Equal(uint32(0x4515)))
		})

		It("should only look at the low half of a compressed word", func() {
			d := decoder.Decode(0xDEAD9002, 0)

			Expect(d.Kind).To(Equal(insts.KindEBREAK))
		})

		It("should expand C.JR ra to JALR x0, 0(ra)", func() {
			d := decoder.Decode(0x8082, 0)

			Expect(d.Kind).To(Equal(insts.KindJALR))
			Expect(d.Rd).To(Equal(uint8(0)))
			Expect(d.Rs1).To(Equal(uint8(1)))
		})

		It("should reject the all-zero halfword", func() {
			d := decoder.Decode(0x0000, 0)

			Expect(d.Unimplemented).To(BeTrue())
			Expect(d.Vec.Empty()).To(BeTrue())
		})
	})

	Describe("Unimplemented encodings", func() {
		It("should flag an unknown major opcode", func() {
			d := decoder.Decode(0x0000007F, 0)

			Expect(d.Unimplemented).To(BeTrue())
			Expect(d.Kind).To(Equal(insts.KindInvalid))
		})

		It("should flag an invalid OP funct7", func() {
			d := decoder.Decode(0x40001033, 0) // funct7=0x20 with SLL

			Expect(d.Unimplemented).To(BeTrue())
		})

		It("should reject FP instructions when built without FPU", func() {
			noFPU := insts.NewDecoder(insts.WithoutFPU())
			w := insts.MustEncode(insts.KindFADDD, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})

			Expect(noFPU.Decode(w, 0).Unimplemented).To(BeTrue())
		})
	})

	Describe("Vector", func() {
		It("should set exactly one bit for a decoded instruction", func() {
			w := insts.MustEncode(insts.KindFSUBD, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3})
			d := decoder.Decode(w, 0)

			Expect(d.Vec.Kind()).To(Equal(insts.KindFSUBD))
			count := 0
			for k := 0; k < insts.NumKinds; k++ {
				if d.Vec.Has(insts.Kind(k)) {
					count++
				}
			}
			Expect(count).To(Equal(1))
		})
	})
})
