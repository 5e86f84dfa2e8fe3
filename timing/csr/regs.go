package csr

import (
	"math/bits"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/mmu"
)

const (
	sstatusSIE  = 1 << 1
	mstatusMIE  = 1 << 3
	sstatusSPIE = 1 << 5
	mstatusMPIE = 1 << 7
	sstatusSPP  = 1 << 8
	mstatusMPRV = 1 << 17
	sstatusSUM  = 1 << 18
	sstatusMXR  = 1 << 19
	mstatusTVM  = 1 << 20

	statusFS  = 1 << 13
	statusUXL = 2 << 32
	statusSXL = 2 << 34

	dcsrDebugVer = 4 << 28
	pmpaddrMask  = 1<<54 - 1
)

func bit(b bool, mask uint64) uint64 {
	if b {
		return mask
	}
	return 0
}

// access performs the read and write of a CSR instruction. The old value is
// returned in cmdData when the request reads.
func (c *Regs) access(in Input) {
	r, n := &c.r, &c.n
	addr := r.cmdAddr
	write := r.cmdType&ReqWrite != 0

	if uint16(r.mode) < addr>>8&3 || (write && addr>>10&3 == 3) {
		n.cmdException = true
		return
	}

	v, ok := c.read(addr, in)
	if !ok {
		n.cmdException = true
		return
	}
	if write {
		c.write(addr, r.cmdData)
		if addr == Pmpcfg0 || (addr >= Pmpaddr0 && addr < Pmpaddr0+cache.NumPMPRegions) {
			n.state = StateWaitPmp
		}
	}
	if r.cmdType&ReqRead != 0 {
		n.cmdData = v
	}
}

// counterAllowed applies mcounteren and scounteren to the user counters.
func (c *Regs) counterAllowed(idx uint) bool {
	r := &c.r
	switch r.mode {
	case PrivU:
		return r.x[PrivM].counteren>>idx&1 == 1 && r.x[PrivS].counteren>>idx&1 == 1
	case PrivS:
		return r.x[PrivM].counteren>>idx&1 == 1
	}
	return true
}

func (c *Regs) status(machine bool) uint64 {
	r := &c.r
	xs, xm := &r.x[PrivS], &r.x[PrivM]
	v := bit(xs.ie, sstatusSIE) |
		bit(xs.pie, sstatusSPIE) |
		bit(xs.pp == PrivS, sstatusSPP) |
		bit(r.sum, sstatusSUM) |
		bit(r.mxr, sstatusMXR) |
		statusFS | statusUXL
	if machine {
		v |= bit(xm.ie, mstatusMIE) |
			bit(xm.pie, mstatusMPIE) |
			uint64(xm.pp)<<11 |
			bit(r.mprv, mstatusMPRV) |
			bit(r.tvm, mstatusTVM) |
			statusSXL
	}
	return v
}

func (c *Regs) cause(x *modeRegs) uint64 {
	return bit(x.causeIRQ, 1<<63) | uint64(x.causeCode)
}

func (c *Regs) tvec(x *modeRegs) uint64 {
	return x.tvecOff | uint64(x.tvecMode)
}

// read returns the value of addr; ok is false for CSRs that do not exist
// or that the current mode may not read.
func (c *Regs) read(addr uint16, in Input) (uint64, bool) {
	r := &c.r
	xs, xm := &r.x[PrivS], &r.x[PrivM]

	switch addr {
	case Fflags:
		return uint64(r.fflags), true
	case Frm:
		return uint64(r.frm), true
	case Fcsr:
		return uint64(r.frm)<<5 | uint64(r.fflags), true
	case Cycle:
		return r.mcycle, c.counterAllowed(0)
	case Time:
		return in.Mtimer, c.counterAllowed(1)
	case Instret:
		return r.minstret, c.counterAllowed(2)
	case Sstatus:
		return c.status(false), true
	case Sie:
		return uint64(c.mieBits() & sieMask), true
	case Stvec:
		return c.tvec(xs), true
	case Scounteren:
		return uint64(xs.counteren), true
	case Sscratch:
		return xs.scratch, true
	case Sepc:
		return xs.epc, true
	case Scause:
		return c.cause(xs), true
	case Stval:
		return xs.tval, true
	case Sip:
		return uint64(r.irqPending & sieMask), true
	case Satp:
		if r.tvm && r.mode == PrivS {
			return 0, false
		}
		return uint64(r.satpMode)<<60 | r.satpPPN, true
	case Mvendorid:
		return VendorID, true
	case Marchid:
		return 0, true
	case Mimpid:
		return ImplementationID, true
	case Mhartid:
		return c.hartID, true
	case Mstatus:
		return c.status(true), true
	case Misa:
		return emu.MISA, true
	case Medeleg:
		return r.medeleg, true
	case Mideleg:
		return uint64(r.mideleg), true
	case Mie:
		return uint64(c.mieBits()), true
	case Mtvec:
		return c.tvec(xm), true
	case Mcounteren:
		return uint64(xm.counteren), true
	case Mcountinhibit:
		return uint64(r.mcountinhibit), true
	case Mscratch:
		return xm.scratch, true
	case Mepc:
		return xm.epc, true
	case Mcause:
		return c.cause(xm), true
	case Mtval:
		return xm.tval, true
	case Mip:
		return uint64(r.irqPending), true
	case Pmpcfg0:
		var v uint64
		for i := 0; i < cache.NumPMPRegions; i++ {
			v |= uint64(r.pcfg[i]) << (8 * uint(i))
		}
		return v, true
	case Pmpcfg2:
		return 0, true
	case Mcycle:
		return r.mcycle, true
	case Minstret:
		return r.minstret, true
	case Dcsr:
		return dcsrDebugVer |
			bit(r.ebreakm, 1<<15) |
			bit(r.stepie, 1<<11) |
			bit(r.stopcount, 1<<10) |
			bit(r.stoptimer, 1<<9) |
			uint64(r.haltCause)<<6 |
			bit(r.step, 1<<2) |
			uint64(PrivM), true
	case Dpc:
		if in.Halted {
			return r.dpc, true
		}
		return in.PC, true
	case Dscratch0:
		return r.dscratch0, true
	case Dscratch1:
		return r.dscratch1, true
	case Mstackovr:
		return r.mstackovr, true
	case Mstackund:
		return r.mstackund, true
	}

	if addr >= Pmpaddr0 && addr < Pmpaddr0+64 {
		i := int(addr - Pmpaddr0)
		if i < cache.NumPMPRegions {
			return r.pmp[i], true
		}
		return 0, true
	}
	return 0, false
}

func (c *Regs) write(addr uint16, v uint64) {
	r, n := &c.r, &c.n
	xs, xm := &n.x[PrivS], &n.x[PrivM]

	switch addr {
	case Fflags:
		n.fflags = uint8(v & 0x1F)
	case Frm:
		n.frm = uint8(v & 7)
	case Fcsr:
		n.fflags = uint8(v & 0x1F)
		n.frm = uint8(v >> 5 & 7)
	case Sstatus:
		c.writeSstatus(v)
	case Sie:
		xs.sie = v&(1<<IrqSSIP) != 0
		xs.tie = v&(1<<IrqSTIP) != 0
		xs.eie = v&(1<<IrqSEIP) != 0
	case Stvec:
		xs.tvecOff = v &^ 3
		xs.tvecMode = uint8(v & 3)
	case Scounteren:
		xs.counteren = uint32(v)
	case Sscratch:
		xs.scratch = v
	case Sepc:
		xs.epc = v &^ 1
	case Scause:
		xs.causeIRQ = v>>63 != 0
		xs.causeCode = uint8(v & 0x1F)
	case Stval:
		xs.tval = v
	case Sip:
		n.mipSoft = r.mipSoft&^(1<<IrqSSIP) | uint16(v)&(1<<IrqSSIP)
	case Satp:
		c.writeSatp(v)
	case Mstatus:
		c.writeSstatus(v)
		xm.ie = v&mstatusMIE != 0
		xm.pie = v&mstatusMPIE != 0
		if pp := uint8(v >> 11 & 3); pp != 2 {
			xm.pp = pp
		}
		n.mprv = v&mstatusMPRV != 0
		n.tvm = v&mstatusTVM != 0
	case Medeleg:
		n.medeleg = v & medelegMask
	case Mideleg:
		n.mideleg = uint16(v) & midelegMask
	case Mie:
		c.writeMie(uint16(v))
	case Mtvec:
		xm.tvecOff = v &^ 3
		xm.tvecMode = uint8(v & 3)
	case Mcounteren:
		xm.counteren = uint32(v)
	case Mcountinhibit:
		n.mcountinhibit = uint32(v)
	case Mscratch:
		xm.scratch = v
	case Mepc:
		xm.epc = v &^ 1
	case Mcause:
		xm.causeIRQ = v>>63 != 0
		xm.causeCode = uint8(v & 0x1F)
	case Mtval:
		xm.tval = v
	case Mip:
		n.mipSoft = uint16(v) & midelegMask
	case Pmpcfg0:
		for i := 0; i < cache.NumPMPRegions; i++ {
			if r.pcfg[i]&0x80 == 0 {
				n.pcfg[i] = uint8(v >> (8 * uint(i)))
				n.pmpPending |= 1 << uint(i)
			}
		}
	case Mcycle:
		n.mcycle = v
	case Minstret:
		n.minstret = v
	case Dcsr:
		n.ebreakm = v&(1<<15) != 0
		n.stepie = v&(1<<11) != 0
		n.stopcount = v&(1<<10) != 0
		n.stoptimer = v&(1<<9) != 0
		n.step = v&(1<<2) != 0
	case Dpc:
		n.dpc = v
	case Dscratch0:
		n.dscratch0 = v
	case Dscratch1:
		n.dscratch1 = v
	case Mstackovr:
		n.mstackovr = v
	case Mstackund:
		n.mstackund = v
	default:
		if addr >= Pmpaddr0 && addr < Pmpaddr0+cache.NumPMPRegions {
			i := int(addr - Pmpaddr0)
			if r.pcfg[i]&0x80 == 0 {
				n.pmp[i] = v & pmpaddrMask
				// A TOR region above reads this address as its base.
				n.pmpPending |= 3 << uint(i)
			}
		}
	}
}

func (c *Regs) writeSstatus(v uint64) {
	n := &c.n
	xs := &n.x[PrivS]
	xs.ie = v&sstatusSIE != 0
	xs.pie = v&sstatusSPIE != 0
	xs.pp = PrivU
	if v&sstatusSPP != 0 {
		xs.pp = PrivS
	}
	n.sum = v&sstatusSUM != 0
	n.mxr = v&sstatusMXR != 0
}

func (c *Regs) writeMie(v uint16) {
	xs, xm := &c.n.x[PrivS], &c.n.x[PrivM]
	xs.sie = v&(1<<IrqSSIP) != 0
	xm.sie = v&(1<<IrqMSIP) != 0
	xs.tie = v&(1<<IrqSTIP) != 0
	xm.tie = v&(1<<IrqMTIP) != 0
	xs.eie = v&(1<<IrqSEIP) != 0
	xm.eie = v&(1<<IrqMEIP) != 0
}

// writeSatp ignores writes selecting an unsupported mode.
func (c *Regs) writeSatp(v uint64) {
	n := &c.n
	mode := mmu.Mode(v >> 60)
	switch mode {
	case mmu.ModeBare, mmu.ModeSv39, mmu.ModeSv48:
		n.satpMode = mode
		n.satpPPN = v & (1<<44 - 1)
	}
}

// napotSize returns the byte size of a NAPOT region from its pmpaddr.
func napotSize(addr uint64) uint64 {
	k := bits.TrailingZeros64(^addr)
	if k >= 54 {
		return 0
	}
	return uint64(1) << uint(k+3)
}
