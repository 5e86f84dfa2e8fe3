package csr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/csr"
	"github.com/sarchlab/riversim/timing/mmu"
)

type harness struct {
	regs *csr.Regs
	pmp  *cache.PMP
	base csr.Input
	seen []csr.Output
}

func newHarness() *harness {
	return &harness{
		regs: csr.New(2, 0x10000),
		pmp:  cache.NewPMP(),
		base: csr.Input{
			PC:          0x4000,
			SP:          0x8000,
			MemIdle:     true,
			FlushDReady: true,
			FlushDEnd:   true,
			FlushIReady: true,
		},
	}
}

func (h *harness) cycle(in csr.Input) {
	out := h.regs.Outputs()
	h.seen = append(h.seen, out)
	h.pmp.Step(out.PMP)
	h.regs.Step(in)
	h.pmp.Commit()
	h.regs.Commit()
}

func (h *harness) idle(n int) {
	for i := 0; i < n; i++ {
		h.cycle(h.base)
	}
}

func (h *harness) send(t csr.ReqType, addr uint16, data uint64) {
	for i := 0; i < 100; i++ {
		in := h.base
		if h.regs.Outputs().ReqReady {
			in.Req = csr.Request{Valid: true, Type: t, Addr: addr, Data: data}
			h.cycle(in)
			return
		}
		h.cycle(in)
	}
	Fail("CSR file never became ready")
}

func (h *harness) await() csr.Response {
	for i := 0; i < 100; i++ {
		in := h.base
		in.RespReady = true
		resp := h.regs.Outputs().Resp
		h.cycle(in)
		if resp.Valid {
			return resp
		}
	}
	Fail("no response from the CSR file")
	return csr.Response{}
}

func (h *harness) request(t csr.ReqType, addr uint16, data uint64) csr.Response {
	h.send(t, addr, data)
	return h.await()
}

func (h *harness) read(addr uint16) uint64 {
	resp := h.request(csr.ReqRead, addr, 0)
	ExpectWithOffset(1, resp.Exception).To(BeFalse())
	return resp.Data
}

func (h *harness) write(addr uint16, v uint64) {
	ExpectWithOffset(1, h.request(csr.ReqWrite, addr, v).Exception).To(BeFalse())
}

// enter drops from M-mode to priv with an MRET.
func (h *harness) enter(priv uint8) {
	h.write(csr.Mstatus, uint64(priv)<<11)
	h.write(csr.Mepc, 0x4000)
	resp := h.request(csr.ReqTrapReturn, uint16(csr.PrivM), 0)
	ExpectWithOffset(1, resp.Exception).To(BeFalse())
	ExpectWithOffset(1, resp.Data).To(Equal(uint64(0x4000)))
	ExpectWithOffset(1, h.regs.Outputs().Priv).To(Equal(priv))
}

func (h *harness) sawAny(pred func(csr.Output) bool) bool {
	for _, o := range h.seen {
		if pred(o) {
			return true
		}
	}
	return false
}

var _ = Describe("CSR file", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	DescribeTable("write then read returns the masked value",
		func(addr uint16, v, want uint64) {
			h.base.Halted = true
			h.write(addr, v)
			Expect(h.read(addr)).To(Equal(want))
		},
		Entry("fflags", csr.Fflags, uint64(0xFF), uint64(0x1F)),
		Entry("frm", csr.Frm, uint64(0xFF), uint64(0x7)),
		Entry("fcsr", csr.Fcsr, uint64(0xFFF), uint64(0xFF)),
		Entry("sstatus", csr.Sstatus, ^uint64(0), uint64(0x2000C2122)),
		Entry("sie", csr.Sie, ^uint64(0), uint64(0x222)),
		Entry("stvec", csr.Stvec, uint64(0x8000_1001), uint64(0x8000_1001)),
		Entry("scounteren", csr.Scounteren, uint64(7), uint64(7)),
		Entry("sscratch", csr.Sscratch, uint64(0x1234_5678_9ABC_DEF0), uint64(0x1234_5678_9ABC_DEF0)),
		Entry("sepc", csr.Sepc, uint64(0x8000_0003), uint64(0x8000_0002)),
		Entry("scause", csr.Scause, uint64(1<<63|5), uint64(1<<63|5)),
		Entry("stval", csr.Stval, uint64(0xDEAD_BEEF), uint64(0xDEAD_BEEF)),
		Entry("sip", csr.Sip, ^uint64(0), uint64(0x2)),
		Entry("satp", csr.Satp, uint64(9<<60|0x12345), uint64(9<<60|0x12345)),
		Entry("mstatus", csr.Mstatus, ^uint64(0), uint64(0xA001E39AA)),
		Entry("medeleg", csr.Medeleg, ^uint64(0), uint64(0xB3FF)),
		Entry("mideleg", csr.Mideleg, ^uint64(0), uint64(0x222)),
		Entry("mie", csr.Mie, ^uint64(0), uint64(0xAAA)),
		Entry("mtvec", csr.Mtvec, uint64(0x8000_0100), uint64(0x8000_0100)),
		Entry("mcounteren", csr.Mcounteren, uint64(5), uint64(5)),
		Entry("mcountinhibit", csr.Mcountinhibit, uint64(5), uint64(5)),
		Entry("mscratch", csr.Mscratch, uint64(0xCAFE), uint64(0xCAFE)),
		Entry("mepc", csr.Mepc, uint64(0x8000_0001), uint64(0x8000_0000)),
		Entry("mcause", csr.Mcause, uint64(1<<63|11), uint64(1<<63|11)),
		Entry("mtval", csr.Mtval, uint64(0xBAD), uint64(0xBAD)),
		Entry("mip", csr.Mip, ^uint64(0), uint64(0x222)),
		Entry("pmpcfg0", csr.Pmpcfg0, uint64(0x1B1F), uint64(0x1B1F)),
		Entry("pmpaddr3", csr.Pmpaddr0+3, uint64(0x1234_5678), uint64(0x1234_5678)),
		Entry("dcsr", csr.Dcsr, uint64(1<<15|1<<11|1<<10|1<<9|1<<2), uint64(0x40008E07)),
		Entry("dpc", csr.Dpc, uint64(0x8000_0040), uint64(0x8000_0040)),
		Entry("dscratch0", csr.Dscratch0, uint64(0x11), uint64(0x11)),
		Entry("dscratch1", csr.Dscratch1, uint64(0x22), uint64(0x22)),
		Entry("mstackovr", csr.Mstackovr, uint64(0x1000), uint64(0x1000)),
		Entry("mstackund", csr.Mstackund, uint64(0xF000), uint64(0xF000)),
	)

	It("should report the identification registers", func() {
		Expect(h.read(csr.Mvendorid)).To(Equal(uint64(csr.VendorID)))
		Expect(h.read(csr.Mimpid)).To(Equal(uint64(csr.ImplementationID)))
		Expect(h.read(csr.Mhartid)).To(Equal(uint64(2)))
		Expect(h.read(csr.Misa)).To(Equal(emu.MISA))
	})

	It("should keep the previous MPP when the reserved encoding is written", func() {
		h.write(csr.Mstatus, uint64(csr.PrivS)<<11)
		h.write(csr.Mstatus, 2<<11)
		Expect(h.read(csr.Mstatus) >> 11 & 3).To(Equal(uint64(csr.PrivS)))

		h.write(csr.Mstatus, 0)
		Expect(h.read(csr.Mstatus) >> 11 & 3).To(Equal(uint64(csr.PrivU)))
	})

	It("should keep counters writable while inhibited", func() {
		h.write(csr.Mcountinhibit, 5)
		h.write(csr.Mcycle, 1000)
		h.write(csr.Minstret, 77)

		Expect(h.read(csr.Mcycle)).To(Equal(uint64(1000)))
		Expect(h.read(csr.Minstret)).To(Equal(uint64(77)))
	})

	Context("access checks", func() {
		It("should reject unknown CSRs", func() {
			Expect(h.request(csr.ReqRead, 0x7C0, 0).Exception).To(BeTrue())
		})

		It("should reject writes to read-only CSRs", func() {
			Expect(h.request(csr.ReqWrite, csr.Mvendorid, 1).Exception).To(BeTrue())
		})

		It("should reject machine CSRs from supervisor mode", func() {
			h.enter(csr.PrivS)

			Expect(h.request(csr.ReqRead, csr.Mstatus, 0).Exception).To(BeTrue())
			Expect(h.request(csr.ReqRead, csr.Sstatus, 0).Exception).To(BeFalse())
		})

		It("should gate user counters on the counter-enable registers", func() {
			h.enter(csr.PrivU)

			Expect(h.request(csr.ReqRead, csr.Cycle, 0).Exception).To(BeTrue())
		})

		It("should reject satp in supervisor mode when TVM is set", func() {
			h.write(csr.Mstatus, 1<<20|uint64(csr.PrivS)<<11)
			h.write(csr.Mepc, 0x4000)
			h.request(csr.ReqTrapReturn, uint16(csr.PrivM), 0)

			Expect(h.request(csr.ReqRead, csr.Satp, 0).Exception).To(BeTrue())
		})
	})

	Context("traps", func() {
		BeforeEach(func() {
			h.write(csr.Mtvec, 0x100)
			h.write(csr.Stvec, 0x300)
		})

		It("should enter the machine handler", func() {
			h.write(csr.Mstatus, 1<<3)

			resp := h.request(csr.ReqException, uint16(emu.CauseIllegalInstr), 0xBAD)

			Expect(resp.Data).To(Equal(uint64(0x100)))
			Expect(h.read(csr.Mepc)).To(Equal(uint64(0x4000)))
			Expect(h.read(csr.Mcause)).To(Equal(emu.CauseIllegalInstr))
			Expect(h.read(csr.Mtval)).To(Equal(uint64(0xBAD)))
			status := h.read(csr.Mstatus)
			Expect(status & (1<<3 | 1<<7 | 3<<11)).To(Equal(uint64(1<<7 | 3<<11)))
		})

		It("should delegate to supervisor mode and adjust the ecall cause", func() {
			h.write(csr.Medeleg, 1<<emu.CauseEcallU)
			h.enter(csr.PrivU)

			resp := h.request(csr.ReqException, uint16(emu.CauseEcallU), 0)

			Expect(resp.Data).To(Equal(uint64(0x300)))
			Expect(h.regs.Outputs().Priv).To(Equal(csr.PrivS))
			Expect(h.read(csr.Scause)).To(Equal(emu.CauseEcallU))
			Expect(h.read(csr.Sepc)).To(Equal(uint64(0x4000)))
			Expect(h.read(csr.Sstatus) & (1 << 8)).To(BeZero())

			resp = h.request(csr.ReqException, uint16(emu.CauseEcallU), 0)

			Expect(resp.Data).To(Equal(uint64(0x100)))
			Expect(h.regs.Outputs().Priv).To(Equal(csr.PrivM))
			Expect(h.read(csr.Mcause)).To(Equal(emu.CauseEcallS))
		})

		It("should vector interrupts", func() {
			h.write(csr.Mtvec, 0x201)

			resp := h.request(csr.ReqInterrupt, csr.IrqMTIP, 0)

			Expect(resp.Data).To(Equal(uint64(0x200 + 4*csr.IrqMTIP)))
			Expect(h.read(csr.Mcause)).To(Equal(uint64(1<<63 | csr.IrqMTIP)))
		})

		It("should restore the interrupt enable on return", func() {
			h.write(csr.Mstatus, 1<<7|3<<11)
			h.write(csr.Mepc, 0x9000)

			resp := h.request(csr.ReqTrapReturn, uint16(csr.PrivM), 0)

			Expect(resp.Data).To(Equal(uint64(0x9000)))
			status := h.read(csr.Mstatus)
			Expect(status & (1<<3 | 1<<7 | 3<<11)).To(Equal(uint64(1<<3 | 1<<7)))
		})

		It("should reject a return that does not match the mode", func() {
			Expect(h.request(csr.ReqTrapReturn, uint16(csr.PrivS), 0).Exception).To(BeTrue())
		})

		It("should raise a breakpoint exception without ebreakm", func() {
			resp := h.request(csr.ReqBreakpoint, 0, 0x4000)

			Expect(resp.Data).To(Equal(uint64(0x100)))
			Expect(h.read(csr.Mcause)).To(Equal(emu.CauseBreakpoint))
			Expect(h.read(csr.Mtval)).To(Equal(uint64(0x4000)))
		})
	})

	Context("debug", func() {
		It("should enter debug mode on EBREAK with ebreakm", func() {
			h.write(csr.Dcsr, 1<<15)

			resp := h.request(csr.ReqBreakpoint, 0, 0x5000)

			Expect(resp.Data).To(Equal(^uint64(0)))
			h.base.Halted = true
			Expect(h.read(csr.Dpc)).To(Equal(uint64(0x5000)))
			Expect(h.read(csr.Dcsr) >> 6 & 7).To(Equal(uint64(csr.HaltCauseEbreak)))
		})

		It("should record the halt pc and resume there", func() {
			h.base.PC = 0x3000
			h.request(csr.ReqHalt, uint16(csr.HaltCauseHaltReq), 0)
			h.base.Halted = true
			h.base.PC = 0x3100

			Expect(h.read(csr.Dpc)).To(Equal(uint64(0x3000)))
			Expect(h.read(csr.Dcsr) >> 6 & 7).To(Equal(uint64(csr.HaltCauseHaltReq)))
			Expect(h.request(csr.ReqResume, 0, 0).Data).To(Equal(uint64(0x3000)))
		})

		It("should show the running pc in dpc while not halted", func() {
			h.base.PC = 0x7770
			Expect(h.read(csr.Dpc)).To(Equal(uint64(0x7770)))
		})

		It("should end the program buffer on EBREAK", func() {
			h.base.Progbuf = true

			resp := h.request(csr.ReqBreakpoint, 0, 0x5000)

			Expect(resp.Data).To(Equal(^uint64(0)))
			Expect(h.sawAny(func(o csr.Output) bool { return o.ProgbufEnd })).To(BeTrue())
			Expect(h.sawAny(func(o csr.Output) bool { return o.ProgbufError })).To(BeFalse())
		})

		It("should flag an exception inside the program buffer", func() {
			h.base.Progbuf = true

			resp := h.request(csr.ReqException, uint16(emu.CauseLoadFault), 0)

			Expect(resp.Exception).To(BeTrue())
			Expect(h.sawAny(func(o csr.Output) bool { return o.ProgbufError })).To(BeTrue())
		})
	})

	Context("fences", func() {
		It("should flush the data cache and then the instruction cache on FENCE.I", func() {
			h.seen = nil

			resp := h.request(csr.ReqFence, csr.FenceInstr, cache.FlushAll)

			Expect(resp.Exception).To(BeFalse())
			Expect(h.sawAny(func(o csr.Output) bool { return o.FlushD && o.FlushAddr == cache.FlushAll })).To(BeTrue())
			Expect(h.sawAny(func(o csr.Output) bool { return o.FlushI })).To(BeTrue())
			Expect(h.sawAny(func(o csr.Output) bool { return o.FlushPipeline })).To(BeTrue())
		})

		It("should wait for memory to drain on FENCE", func() {
			h.base.MemIdle = false
			h.send(csr.ReqFence, csr.FenceData, 0)
			h.idle(10)

			Expect(h.regs.State()).To(Equal(csr.StateFence))
			Expect(h.regs.FenceState()).To(Equal(csr.FenceDataBarrier))

			h.base.MemIdle = true
			Expect(h.await().Exception).To(BeFalse())
		})

		It("should flush the TLB on SFENCE.VMA", func() {
			h.seen = nil

			h.request(csr.ReqFence, csr.FenceVMA, 0x2000_3000)

			Expect(h.sawAny(func(o csr.Output) bool {
				return o.FlushMMU && o.FlushAddr == 0x2000_3000
			})).To(BeTrue())
		})

		It("should reject SFENCE.VMA in user mode", func() {
			h.enter(csr.PrivU)

			Expect(h.request(csr.ReqFence, csr.FenceVMA, mmu.FlushAll).Exception).To(BeTrue())
		})
	})

	Context("PMP", func() {
		It("should stream disabled regions after reset", func() {
			h.idle(cache.NumPMPRegions + 1)

			n := 0
			for _, o := range h.seen {
				if o.PMP.Update.Valid {
					Expect(o.PMP.Update.Region.Valid).To(BeFalse())
					n++
				}
			}
			Expect(n).To(Equal(cache.NumPMPRegions))
		})

		It("should decode a NAPOT region", func() {
			h.write(csr.Pmpaddr0, 0x1000>>2|0x1FF)
			h.write(csr.Pmpcfg0, 0x1F)
			h.idle(4)

			Expect(h.pmp.Region(0)).To(Equal(cache.PMPRegion{
				Start: 0x1000, End: 0x1FFF, R: true, W: true, X: true, Valid: true,
			}))
		})

		It("should decode a TOR region from the address below it", func() {
			h.write(csr.Pmpaddr0, 0x2000>>2)
			h.write(csr.Pmpaddr0+1, 0x3000>>2)
			h.write(csr.Pmpcfg0, 0x09<<8)
			h.idle(4)

			Expect(h.pmp.Region(1)).To(Equal(cache.PMPRegion{
				Start: 0x2000, End: 0x2FFF, R: true, Valid: true,
			}))
		})

		It("should ignore writes to locked regions", func() {
			h.write(csr.Pmpaddr0, 0x100)
			h.write(csr.Pmpcfg0, 0x80|0x11)
			h.write(csr.Pmpaddr0, 0x200)
			h.write(csr.Pmpcfg0, 0)

			Expect(h.read(csr.Pmpaddr0)).To(Equal(uint64(0x100)))
			Expect(h.read(csr.Pmpcfg0)).To(Equal(uint64(0x91)))
		})

		It("should check user accesses against the streamed regions", func() {
			h.write(csr.Pmpaddr0, 0x1000>>2|0x1FF)
			h.write(csr.Pmpcfg0, 0x1B)
			h.enter(csr.PrivU)
			h.idle(2)

			Expect(h.pmp.Allowed(0x1800, cache.AccessWrite)).To(BeTrue())
			Expect(h.pmp.Allowed(0x1800, cache.AccessExec)).To(BeFalse())
			Expect(h.pmp.Allowed(0x3000, cache.AccessRead)).To(BeFalse())
		})
	})

	Context("interrupts", func() {
		It("should report enabled pending interrupts", func() {
			h.write(csr.Mie, 1<<csr.IrqMTIP)
			h.write(csr.Mstatus, 1<<3)
			h.base.IRQ = 1 << csr.IrqMTIP
			h.idle(2)

			out := h.regs.Outputs()
			Expect(out.IRQPending).To(Equal(uint16(1 << csr.IrqMTIP)))
			cause, ok := csr.HighestInterrupt(out.IRQPending)
			Expect(ok).To(BeTrue())
			Expect(cause).To(Equal(csr.IrqMTIP))
		})

		It("should hold machine interrupts while MIE is clear in M-mode", func() {
			h.write(csr.Mie, 1<<csr.IrqMTIP)
			h.base.IRQ = 1 << csr.IrqMTIP
			h.idle(2)

			out := h.regs.Outputs()
			Expect(out.IRQPending).To(BeZero())
			Expect(out.Wakeup).To(BeTrue())
		})

		It("should order interrupts by priority", func() {
			cause, _ := csr.HighestInterrupt(1<<csr.IrqMTIP | 1<<csr.IrqMEIP | 1<<csr.IrqSSIP)
			Expect(cause).To(Equal(csr.IrqMEIP))

			_, ok := csr.HighestInterrupt(0)
			Expect(ok).To(BeFalse())
		})
	})

	Context("counters", func() {
		It("should count cycles unless stopped", func() {
			first := h.read(csr.Mcycle)
			Expect(h.read(csr.Mcycle)).To(BeNumerically(">", first))

			h.write(csr.Dcsr, 1<<10)
			first = h.read(csr.Mcycle)
			Expect(h.read(csr.Mcycle)).To(Equal(first))
		})

		It("should count retired instructions", func() {
			in := h.base
			in.Executed = true
			for i := 0; i < 3; i++ {
				h.cycle(in)
			}

			Expect(h.regs.Outputs().Executed).To(Equal(uint64(3)))
			Expect(h.read(csr.Minstret)).To(Equal(uint64(3)))
		})
	})

	Context("translation context", func() {
		It("should translate data accesses under MPRV and fetches below M-mode", func() {
			h.write(csr.Satp, 9<<60|0x80)
			Expect(h.regs.Outputs().DataMMU.Enable).To(BeFalse())

			h.write(csr.Mstatus, 1<<17|uint64(csr.PrivS)<<11)
			out := h.regs.Outputs()
			Expect(out.FetchMMU.Enable).To(BeFalse())
			Expect(out.DataMMU).To(Equal(mmu.Config{Enable: true, Mode: mmu.ModeSv48, PPN: 0x80}))

			h.seen = nil
			h.write(csr.Mepc, 0x4000)
			h.request(csr.ReqTrapReturn, uint16(csr.PrivM), 0)

			Expect(h.regs.Outputs().FetchMMU.Enable).To(BeTrue())
			Expect(h.sawAny(func(o csr.Output) bool { return o.FlushPipeline })).To(BeTrue())
		})
	})

	Context("stack guards", func() {
		It("should flag an overflow once and clear the limit", func() {
			h.write(csr.Mstackovr, 0x1000)
			h.base.SP = 0x800
			h.idle(2)

			Expect(h.sawAny(func(o csr.Output) bool { return o.StackOverflow })).To(BeTrue())
			Expect(h.read(csr.Mstackovr)).To(BeZero())
		})
	})
})
