package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/loader"
	"github.com/sarchlab/riversim/timing/core"
	"github.com/sarchlab/riversim/timing/csr"
	"github.com/sarchlab/riversim/timing/pipeline"
)

const (
	entry    = 0x10000
	loopAddr = 0x10004
	jumpAddr = 0x10008
	scratch  = 0x3000
)

// counterProgram increments a0 forever.
func counterProgram() *loader.Program {
	words := []uint32{
		insts.MustEncode(insts.KindADDI, insts.Operands{Rd: 10}),
		insts.MustEncode(insts.KindADDI, insts.Operands{Rd: 10, Rs1: 10, Imm: 1}),
		insts.MustEncode(insts.KindJAL, insts.Operands{Imm: -4}),
	}
	var data []byte
	for _, w := range words {
		data = binary.LittleEndian.AppendUint32(data, w)
	}
	return &loader.Program{
		EntryPoint: entry,
		InitialSP:  loader.DefaultStackTop,
		Segments: []loader.Segment{{
			VirtAddr: entry,
			PhysAddr: entry,
			Data:     data,
			MemSize:  uint64(len(data)),
		}},
	}
}

func newTestSession() *Session {
	config := core.DefaultConfig()
	config.MemorySize = 1 << 20
	config.JTAGFreq = 50 * sim.MHz

	c, err := newCore(config, counterProgram())
	Expect(err).NotTo(HaveOccurred())
	s, err := NewSession(c)
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Session", func() {
	var s *Session

	BeforeEach(func() {
		s = newTestSession()
		Expect(s.Halt()).To(Succeed())
		Expect(s.Halted()).To(BeTrue())
	})

	It("should report a halt PC inside the program", func() {
		pc, err := s.PC()
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeElementOf(uint64(entry), uint64(loopAddr), uint64(jumpAddr)))
	})

	It("should step one instruction", func() {
		Expect(s.WriteRegister("a0", 100)).To(Succeed())
		Expect(s.WriteRegister("pc", loopAddr)).To(Succeed())

		Expect(s.Step()).To(Succeed())

		Expect(s.ReadRegister("a0")).To(Equal(uint64(101)))
		Expect(s.PC()).To(Equal(uint64(jumpAddr)))
	})

	It("should read and write memory", func() {
		Expect(s.WriteMemory(scratch, 0x1122334455667788, 8)).To(Succeed())
		Expect(s.ReadMemory(scratch, 8)).To(Equal(uint64(0x1122334455667788)))
		Expect(s.ReadMemory(scratch, 2)).To(Equal(uint64(0x7788)))

		_, err := s.ReadMemory(scratch, 3)
		Expect(err).To(HaveOccurred())
	})

	It("should stop at a breakpoint and step over it on continue", func() {
		orig, err := s.ReadMemory(jumpAddr, 4)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.SetBreakpoint(jumpAddr)).To(Succeed())
		Expect(s.Breakpoints()).To(Equal([]uint64{jumpAddr}))

		reason, err := s.Continue(100000)
		Expect(err).NotTo(HaveOccurred())
		Expect(reason).To(Equal("breakpoint at 0x10008"))
		first, err := s.ReadRegister("a0")
		Expect(err).NotTo(HaveOccurred())

		reason, err = s.Continue(100000)
		Expect(err).NotTo(HaveOccurred())
		Expect(reason).To(Equal("breakpoint at 0x10008"))
		Expect(s.ReadRegister("a0")).To(Equal(first + 1))

		Expect(s.ClearBreakpoint(jumpAddr)).To(Succeed())
		Expect(s.ReadMemory(jumpAddr, 4)).To(Equal(orig))
		Expect(s.Breakpoints()).To(BeEmpty())
	})

	It("should refuse a breakpoint while running", func() {
		Expect(s.Resume()).To(Succeed())
		Expect(s.SetBreakpoint(jumpAddr)).To(MatchError(ErrNotHalted))
	})

	It("should reject an out-of-range hart", func() {
		Expect(s.SelectHart(1)).To(HaveOccurred())
		Expect(s.SelectHart(0)).To(Succeed())
	})
})

var _ = Describe("Console", func() {
	var (
		s       *Session
		console *Console
		out     *bytes.Buffer
	)

	BeforeEach(func() {
		s = newTestSession()
		out = &bytes.Buffer{}
		console = NewConsole(s, out)
	})

	AfterEach(func() {
		console.Close()
	})

	It("should halt and show the instruction", func() {
		Expect(console.Execute("halt")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("hart 0 halted at 0x"))
	})

	It("should write and read registers", func() {
		Expect(console.Execute("halt")).To(Succeed())
		Expect(console.Execute("reg a0 0x55")).To(Succeed())
		out.Reset()
		Expect(console.Execute("reg a0")).To(Succeed())
		Expect(out.String()).To(Equal("a0 = 0x0000000000000055\n"))
	})

	It("should dump registers", func() {
		Expect(console.Execute("halt")).To(Succeed())
		out.Reset()
		Expect(console.Execute("regs")).To(Succeed())
		Expect(out.String()).To(HavePrefix("pc   = 0x"))
		Expect(out.String()).To(ContainSubstring("t6   = 0x"))
	})

	It("should write and read memory", func() {
		Expect(console.Execute("halt")).To(Succeed())
		Expect(console.Execute("write 0x3000 0x1234")).To(Succeed())
		Expect(console.Execute("write 0x3008 0xab 1")).To(Succeed())
		out.Reset()
		Expect(console.Execute("read 0x3000 2")).To(Succeed())
		Expect(out.String()).To(Equal(
			"0x0000000000003000: 0x0000000000001234\n" +
				"0x0000000000003008: 0x00000000000000ab\n"))
	})

	It("should show the IDCODE", func() {
		Expect(console.Execute("idcode")).To(Succeed())
		Expect(out.String()).To(Equal("idcode = 0x10e31913\n"))
	})

	It("should report the halt state", func() {
		Expect(console.Execute("status")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("running"))
		Expect(console.Execute("h")).To(HaveOccurred())
		Expect(console.Execute("halt")).To(Succeed())
		out.Reset()
		Expect(console.Execute("status")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("hart 0 halted"))
	})

	It("should run to a breakpoint through aliases", func() {
		Expect(console.Execute("halt")).To(Succeed())
		Expect(console.Execute("b 0x10008")).To(Succeed())
		out.Reset()
		Expect(console.Execute("c 100000")).To(Succeed())
		Expect(out.String()).To(Equal("breakpoint at 0x10008\n"))
		out.Reset()
		Expect(console.Execute("breaks")).To(Succeed())
		Expect(out.String()).To(Equal("0: 0x0000000000010008\n"))
	})

	It("should ignore blank lines and comments", func() {
		Expect(console.Execute("")).To(Succeed())
		Expect(console.Execute("# note")).To(Succeed())
	})

	It("should report unknown commands and quit", func() {
		Expect(console.Execute("frobnicate")).To(MatchError(ContainSubstring("unknown command")))
		Expect(console.Execute("quit")).To(MatchError(ErrQuit))
		Expect(runLines(console, []string{"idcode", "q", "frobnicate"})).To(Succeed())
	})

	It("should print help", func() {
		Expect(console.Execute("help")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("continue [cycles]"))
	})

	Context("with Lua", func() {
		It("should drive the debugger from a chunk", func() {
			Expect(console.Execute(`lua riv.halt(); riv.reg("a1", 7); ` +
				`riv.write(0x3000, riv.reg("a1") * 6); print(riv.read(0x3000))`)).To(Succeed())
			Expect(out.String()).To(Equal("42\t0x2a\n"))
		})

		It("should accept hex strings", func() {
			Expect(console.Execute(`lua riv.halt(); riv.write("0x3000", "0xff", 1); ` +
				`assert(riv.read("$3000", 1) == 255)`)).To(Succeed())
		})

		It("should raise debugger errors", func() {
			err := console.Execute(`lua riv.halt(); riv.reg("bogus")`)
			Expect(err).To(MatchError(ContainSubstring("unknown register")))
		})

		It("should run console commands and script files", func() {
			path := filepath.Join(GinkgoT().TempDir(), "dbg.lua")
			script := `riv.cmd("halt")
riv.br(0x10008)
local why = riv.cont(100000)
assert(why == "breakpoint at 0x10008", why)
local pc = riv.pc()
print(riv.hex(pc))
`
			Expect(os.WriteFile(path, []byte(script), 0o644)).To(Succeed())
			Expect(console.Execute("source " + path)).To(Succeed())
			Expect(out.String()).To(HaveSuffix("0x10008\n"))
		})
	})
})

var _ = DescribeTable("ParseAddress",
	func(in string, want uint64, ok bool) {
		v, got := ParseAddress(in)
		Expect(got).To(Equal(ok))
		if ok {
			Expect(v).To(Equal(want))
		}
	},
	Entry("0x prefix", "0x10008", uint64(0x10008), true),
	Entry("dollar hex", "$ff", uint64(0xff), true),
	Entry("decimal", "#42", uint64(42), true),
	Entry("bare hex", "1f", uint64(0x1f), true),
	Entry("empty", "", uint64(0), false),
	Entry("garbage", "zz", uint64(0), false),
)

var _ = DescribeTable("RegNo",
	func(name string, want uint16) {
		Expect(RegNo(name)).To(Equal(want))
	},
	Entry("pc", "pc", csr.Dpc),
	Entry("ABI name", "a0", uint16(pipeline.RegGPRBase+10)),
	Entry("numeric GPR", "x31", uint16(pipeline.RegGPRBase+31)),
	Entry("FP register", "fa0", uint16(pipeline.RegFPRBase+10)),
	Entry("CSR name", "MSTATUS", csr.Mstatus),
	Entry("CSR number", "0x340", csr.Mscratch),
)
