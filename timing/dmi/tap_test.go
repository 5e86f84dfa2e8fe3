package dmi_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/timing/dmi"
)

var _ = Describe("TapState", func() {
	It("should walk the data column", func() {
		s := dmi.TestLogicReset
		walk := []struct {
			tms  bool
			want dmi.TapState
		}{
			{false, dmi.RunTestIdle},
			{true, dmi.SelectDRScan},
			{false, dmi.CaptureDR},
			{false, dmi.ShiftDR},
			{true, dmi.Exit1DR},
			{false, dmi.PauseDR},
			{true, dmi.Exit2DR},
			{true, dmi.UpdateDR},
			{true, dmi.SelectDRScan},
			{true, dmi.SelectIRScan},
			{false, dmi.CaptureIR},
			{true, dmi.Exit1IR},
			{true, dmi.UpdateIR},
			{false, dmi.RunTestIdle},
		}
		for _, step := range walk {
			s = s.Next(step.tms)
			Expect(s).To(Equal(step.want))
		}
	})

	DescribeTable("should reach TestLogicReset after five TMS=1 clocks",
		func(s dmi.TapState) {
			for i := 0; i < 5; i++ {
				s = s.Next(true)
			}
			Expect(s).To(Equal(dmi.TestLogicReset))
		},
		Entry("from RunTestIdle", dmi.RunTestIdle),
		Entry("from ShiftDR", dmi.ShiftDR),
		Entry("from PauseDR", dmi.PauseDR),
		Entry("from UpdateDR", dmi.UpdateDR),
		Entry("from ShiftIR", dmi.ShiftIR),
		Entry("from PauseIR", dmi.PauseIR),
		Entry("from Exit2IR", dmi.Exit2IR),
	)

	It("should name its states", func() {
		Expect(dmi.ShiftDR.String()).To(Equal("ShiftDR"))
		Expect(dmi.TapState(20).String()).To(Equal("TapState(20)"))
	})
})

var _ = Describe("Tap", func() {
	var t *tapOnly

	BeforeEach(func() {
		t = &tapOnly{tap: dmi.NewTap()}
	})

	It("should select IDCODE out of reset", func() {
		Expect(t.tap.State()).To(Equal(dmi.TestLogicReset))
		Expect(t.tap.IR()).To(Equal(dmi.IRIDCode))
	})

	It("should shift out the IDCODE", func() {
		d := dmi.NewDriver(t)
		Expect(d.IDCode()).To(Equal(uint32(dmi.IDCode)))
		Expect(t.tap.State()).To(Equal(dmi.RunTestIdle))
	})

	It("should report version and address width in dtmcontrol", func() {
		d := dmi.NewDriver(t)
		v := d.DTMControl(0)
		Expect(v & 0xF).To(Equal(uint32(1)))
		Expect(v >> 4 & 0x3F).To(Equal(uint32(dmi.AddrBits)))
		Expect(v >> 10 & 3).To(Equal(uint32(0)))
		Expect(t.tap.IR()).To(Equal(dmi.IRDTMControl))
	})

	It("should hold the last bypass bit", func() {
		h := dmi.NewHost()
		h.Reset()
		h.ScanDR(dmi.IRBypass, 1, 1)
		h.Drain(t)
		Expect(h.Result()).To(Equal(uint64(0)))

		h.ScanDR(dmi.IRBypass, 0, 1)
		h.Drain(t)
		Expect(h.Result()).To(Equal(uint64(1)))
	})

	It("should return to reset on TRST", func() {
		h := dmi.NewHost()
		h.Reset()
		h.ScanIR(dmi.IRDBus)
		h.Drain(t)
		Expect(t.tap.IR()).To(Equal(dmi.IRDBus))

		t.ClockTCK(dmi.Pins{TRST: true})
		Expect(t.tap.State()).To(Equal(dmi.TestLogicReset))
		Expect(t.tap.IR()).To(Equal(dmi.IRIDCode))
	})

	It("should issue a DMI read on Update-DR", func() {
		h := dmi.NewHost()
		h.Reset()
		h.ScanDR(dmi.IRDBus, dmi.EncodeDBus(dmi.OpRead, dmi.DMStatus, 0), dmi.DBusBits)
		h.Drain(t)

		Expect(t.reqs).To(Equal([]dmi.Request{{Addr: dmi.DMStatus}}))
		Expect(t.tap.Pending()).To(BeTrue())
		Expect(t.tap.State()).To(Equal(dmi.RunTestIdle))
	})

	It("should report busy and drop requests while one is pending", func() {
		h := dmi.NewHost()
		h.Reset()
		h.ScanDR(dmi.IRDBus, dmi.EncodeDBus(dmi.OpRead, dmi.DMStatus, 0), dmi.DBusBits)
		h.Drain(t)
		h.ScanDR(dmi.IRDBus, dmi.EncodeDBus(dmi.OpWrite, dmi.Data0, 5), dmi.DBusBits)
		h.Drain(t)

		op, addr, _ := dmi.DecodeDBus(h.Result())
		Expect(op).To(Equal(dmi.StatBusy))
		Expect(addr).To(Equal(dmi.DMStatus))
		Expect(t.reqs).To(HaveLen(1))
		Expect(t.tap.Sticky()).To(Equal(dmi.StatBusy))

		h.ScanDR(dmi.IRDTMControl, dmi.DTMControlDMIReset, 32)
		h.Drain(t)
		Expect(t.tap.Sticky()).To(Equal(dmi.StatSuccess))
	})

	It("should request a module reset on dmihardreset", func() {
		h := dmi.NewHost()
		h.Reset()
		h.ScanDR(dmi.IRDBus, dmi.EncodeDBus(dmi.OpRead, dmi.DMStatus, 0), dmi.DBusBits)
		h.ScanDR(dmi.IRDTMControl, dmi.DTMControlDMIHardReset, 32)
		h.Drain(t)

		Expect(t.reqs).To(HaveLen(2))
		Expect(t.reqs[1].HardReset).To(BeTrue())
		Expect(t.tap.Pending()).To(BeFalse())
	})
})

var _ = Describe("DBus encoding", func() {
	It("should place op, data and address", func() {
		v := dmi.EncodeDBus(dmi.OpWrite, 0x17, 0xCAFEF00D)
		Expect(v & 3).To(Equal(uint64(2)))
		Expect(v >> 2 & 0xFFFFFFFF).To(Equal(uint64(0xCAFEF00D)))
		Expect(v >> 34).To(Equal(uint64(0x17)))

		op, addr, data := dmi.DecodeDBus(v)
		Expect(op).To(Equal(dmi.OpWrite))
		Expect(addr).To(Equal(uint8(0x17)))
		Expect(data).To(Equal(uint32(0xCAFEF00D)))
	})
})
