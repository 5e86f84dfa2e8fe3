package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/pipeline"
)

var operands = []uint64{
	0, 1, 2, 3, 7, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF,
	0x123456789ABCDEF0, 0x7FFFFFFFFFFFFFFF, 0x8000000000000000,
	^uint64(0), ^uint64(1), 0xFEDCBA9876543210,
}

func runMul(m *pipeline.Multiplier, k insts.Kind, a, b uint64) (uint64, int) {
	m.Step(pipeline.MulInput{Valid: true, Kind: k, A: a, B: b})
	m.Commit()
	for cycles := 1; cycles < 20; cycles++ {
		m.Step(pipeline.MulInput{})
		m.Commit()
		if out := m.Outputs(); out.Valid {
			return out.Result, cycles + 1
		}
	}
	Fail("multiplier never produced a result")
	return 0, 0
}

func runDiv(d *pipeline.Divider, k insts.Kind, a, b uint64) (uint64, int) {
	d.Step(pipeline.DivInput{Valid: true, Kind: k, A: a, B: b})
	d.Commit()
	for cycles := 1; cycles < 40; cycles++ {
		d.Step(pipeline.DivInput{})
		d.Commit()
		if out := d.Outputs(); out.Valid {
			return out.Result, cycles + 1
		}
	}
	Fail("divider never produced a result")
	return 0, 0
}

var _ = Describe("Multiplier", func() {
	var m *pipeline.Multiplier

	BeforeEach(func() {
		m = pipeline.NewMultiplier()
	})

	It("should take four cycles", func() {
		_, cycles := runMul(m, insts.KindMUL, 6, 7)
		Expect(cycles).To(Equal(4))
		Expect(m.Busy()).To(BeFalse())
	})

	DescribeTable("should match the functional model",
		func(k insts.Kind) {
			for _, a := range operands {
				for _, b := range operands {
					got, _ := runMul(m, k, a, b)
					Expect(got).To(Equal(emu.MulOp(k, a, b)),
						"%v 0x%x, 0x%x", k, a, b)
				}
			}
		},
		Entry("MUL", insts.KindMUL),
		Entry("MULH", insts.KindMULH),
		Entry("MULHSU", insts.KindMULHSU),
		Entry("MULHU", insts.KindMULHU),
		Entry("MULW", insts.KindMULW),
	)
})

var _ = Describe("Divider", func() {
	var d *pipeline.Divider

	BeforeEach(func() {
		d = pipeline.NewDivider()
	})

	It("should take seventeen cycles", func() {
		_, cycles := runDiv(d, insts.KindDIVU, 100, 7)
		Expect(cycles).To(Equal(17))
		Expect(d.Busy()).To(BeFalse())
	})

	It("should follow the division by zero rules", func() {
		q, _ := runDiv(d, insts.KindDIV, 42, 0)
		Expect(q).To(Equal(^uint64(0)))
		r, _ := runDiv(d, insts.KindREM, 42, 0)
		Expect(r).To(Equal(uint64(42)))
	})

	It("should not trap on signed overflow", func() {
		minInt := uint64(0x8000000000000000)
		q, _ := runDiv(d, insts.KindDIV, minInt, ^uint64(0))
		Expect(q).To(Equal(minInt))
		r, _ := runDiv(d, insts.KindREM, minInt, ^uint64(0))
		Expect(r).To(BeZero())
	})

	DescribeTable("should match the functional model",
		func(k insts.Kind) {
			for _, a := range operands {
				for _, b := range operands {
					got, _ := runDiv(d, k, a, b)
					Expect(got).To(Equal(emu.DivOp(k, a, b)),
						"%v 0x%x, 0x%x", k, a, b)
				}
			}
		},
		Entry("DIV", insts.KindDIV),
		Entry("DIVU", insts.KindDIVU),
		Entry("REM", insts.KindREM),
		Entry("REMU", insts.KindREMU),
		Entry("DIVW", insts.KindDIVW),
		Entry("DIVUW", insts.KindDIVUW),
		Entry("REMW", insts.KindREMW),
		Entry("REMUW", insts.KindREMUW),
	)
})
