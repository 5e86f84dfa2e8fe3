package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/pipeline"
)

var _ = Describe("RegBank", func() {
	var bank *pipeline.RegBank

	BeforeEach(func() {
		bank = pipeline.NewRegBank()
	})

	It("should read x0 as zero", func() {
		bank.Poke(0, 5)
		bank.Step(pipeline.RegWrite{Valid: true, Addr: 0, Data: 9})
		bank.Commit()
		Expect(bank.Int(0)).To(BeZero())
	})

	It("should apply writes at Commit", func() {
		bank.Step(pipeline.RegWrite{Valid: true, Addr: 5, Tag: 1, Data: 42})
		Expect(bank.Int(5)).To(BeZero())

		bank.Commit()
		Expect(bank.Int(5)).To(Equal(uint64(42)))
		Expect(bank.Tag(5)).To(Equal(uint8(1)))
	})

	It("should keep the value on a tag-only write", func() {
		bank.Poke(7, 99)
		bank.Step(pipeline.RegWrite{Valid: true, Addr: 7, Tag: 3, KeepValue: true})
		bank.Commit()

		Expect(bank.Int(7)).To(Equal(uint64(99)))
		Expect(bank.Tag(7)).To(Equal(uint8(3)))
	})

	It("should let the later port win", func() {
		bank.Step(
			pipeline.RegWrite{Valid: true, Addr: 3, Tag: 1, Data: 1},
			pipeline.RegWrite{Valid: true, Addr: 3, Tag: 2, Data: 2},
		)
		bank.Commit()
		Expect(bank.Int(3)).To(Equal(uint64(2)))
	})

	It("should place floating-point registers after the integer ones", func() {
		bank.Poke(insts.FPReg+4, 0x4000000000000000)
		Expect(bank.Float(4)).To(Equal(uint64(0x4000000000000000)))
	})
})

var _ = Describe("Scoreboard", func() {
	var (
		bank *pipeline.RegBank
		sb   pipeline.Scoreboard
	)

	BeforeEach(func() {
		bank = pipeline.NewRegBank()
		sb = pipeline.Scoreboard{}
	})

	It("should treat untouched registers as ready", func() {
		bank.Poke(5, 11)
		v, ok := sb.Operand(bank, 5)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(11)))
	})

	It("should block a claimed register until its write arrives", func() {
		tag := sb.Claim(5)
		Expect(sb.Ready(bank, 5)).To(BeFalse())

		bank.Step(pipeline.RegWrite{Valid: true, Addr: 5, Tag: tag, Data: 8})
		bank.Commit()
		Expect(sb.Ready(bank, 5)).To(BeTrue())
	})

	It("should forward a write on a port", func() {
		tag := sb.Claim(6)
		port := pipeline.RegWrite{Valid: true, Addr: 6, Tag: tag, Data: 77}

		v, ok := sb.Operand(bank, 6, port)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(77)))
	})

	It("should ignore a stale write on a port", func() {
		old := sb.Claim(6)
		sb.Claim(6)
		port := pipeline.RegWrite{Valid: true, Addr: 6, Tag: old, Data: 77}

		_, ok := sb.Operand(bank, 6, port)
		Expect(ok).To(BeFalse())
	})

	It("should return the bank value for a tag-only write", func() {
		bank.Poke(9, 5)
		tag := sb.Claim(9)
		port := pipeline.RegWrite{Valid: true, Addr: 9, Tag: tag, KeepValue: true}

		v, ok := sb.Operand(bank, 9, port)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(5)))
	})

	It("should never claim x0", func() {
		Expect(sb.Claim(0)).To(BeZero())
		Expect(sb.Ready(bank, 0)).To(BeTrue())
	})

	It("should check sources and destination", func() {
		sb.Claim(3)
		d := &insts.Decoded{Rd: 3, Rs1: 1, Rs2: 2}
		Expect(sb.OperandsReady(bank, d)).To(BeFalse())

		d.Rd = 4
		Expect(sb.OperandsReady(bank, d)).To(BeTrue())
	})
})
