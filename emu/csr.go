package emu

// CSR addresses shared by the emulator and the cycle model.
const (
	CSRFflags   uint16 = 0x001
	CSRFrm      uint16 = 0x002
	CSRFcsr     uint16 = 0x003
	CSRCycle    uint16 = 0xC00
	CSRTime     uint16 = 0xC01
	CSRInstret  uint16 = 0xC02
	CSRMstatus  uint16 = 0x300
	CSRMisa     uint16 = 0x301
	CSRMedeleg  uint16 = 0x302
	CSRMideleg  uint16 = 0x303
	CSRMie      uint16 = 0x304
	CSRMtvec    uint16 = 0x305
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMip      uint16 = 0x344
	CSRMcycle   uint16 = 0xB00
	CSRMinstret uint16 = 0xB02
	CSRMhartid  uint16 = 0xF14
)

// MISA advertises RV64 with the A, C, D, I, M, S and U extensions.
const MISA uint64 = 2<<62 | 1<<0 | 1<<2 | 1<<3 | 1<<8 | 1<<12 | 1<<18 | 1<<20

// Exception causes.
const (
	CauseInstrMisaligned  uint64 = 0
	CauseInstrFault       uint64 = 1
	CauseIllegalInstr     uint64 = 2
	CauseBreakpoint       uint64 = 3
	CauseLoadMisaligned   uint64 = 4
	CauseLoadFault        uint64 = 5
	CauseStoreMisaligned  uint64 = 6
	CauseStoreFault       uint64 = 7
	CauseEcallU           uint64 = 8
	CauseEcallS           uint64 = 9
	CauseEcallM           uint64 = 11
	CauseInstrPageFault   uint64 = 12
	CauseLoadPageFault    uint64 = 13
	CauseStorePageFault   uint64 = 15
	CauseStackOverflow    uint64 = 16
	CauseStackUnderflow   uint64 = 17
	CauseInterruptFlagBit uint64 = 1 << 63
)

const (
	mstatusMIE  = 1 << 3
	mstatusMPIE = 1 << 7
	mstatusMPP  = 3 << 11
)

// CSRFile is the machine-mode CSR subset the emulator implements. The
// emulator always runs in M-mode.
type CSRFile struct {
	Fflags   uint64
	Frm      uint64
	Mstatus  uint64
	Medeleg  uint64
	Mideleg  uint64
	Mie      uint64
	Mtvec    uint64
	Mscratch uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64
	Mip      uint64
	HartID   uint64

	instret *uint64
}

// Read returns the value of CSR addr. ok is false for unknown addresses.
func (c *CSRFile) Read(addr uint16) (value uint64, ok bool) {
	switch addr {
	case CSRFflags:
		return c.Fflags, true
	case CSRFrm:
		return c.Frm, true
	case CSRFcsr:
		return c.Frm<<5 | c.Fflags, true
	case CSRCycle, CSRTime, CSRInstret, CSRMcycle, CSRMinstret:
		if c.instret == nil {
			return 0, true
		}
		return *c.instret, true
	case CSRMstatus:
		return c.Mstatus, true
	case CSRMisa:
		return MISA, true
	case CSRMedeleg:
		return c.Medeleg, true
	case CSRMideleg:
		return c.Mideleg, true
	case CSRMie:
		return c.Mie, true
	case CSRMtvec:
		return c.Mtvec, true
	case CSRMscratch:
		return c.Mscratch, true
	case CSRMepc:
		return c.Mepc, true
	case CSRMcause:
		return c.Mcause, true
	case CSRMtval:
		return c.Mtval, true
	case CSRMip:
		return c.Mip, true
	case CSRMhartid:
		return c.HartID, true
	}
	return 0, false
}

// Write sets CSR addr. ok is false for unknown or read-only addresses.
func (c *CSRFile) Write(addr uint16, v uint64) (ok bool) {
	if addr>>10 == 3 {
		return false
	}
	switch addr {
	case CSRFflags:
		c.Fflags = v & 0x1F
	case CSRFrm:
		c.Frm = v & 7
	case CSRFcsr:
		c.Fflags = v & 0x1F
		c.Frm = (v >> 5) & 7
	case CSRMcycle, CSRMinstret:
		if c.instret != nil {
			*c.instret = v
		}
	case CSRMstatus:
		c.Mstatus = v
	case CSRMisa:
	case CSRMedeleg:
		c.Medeleg = v & 0xB3FF
	case CSRMideleg:
		c.Mideleg = v & 0x222
	case CSRMie:
		c.Mie = v
	case CSRMtvec:
		c.Mtvec = v
	case CSRMscratch:
		c.Mscratch = v
	case CSRMepc:
		c.Mepc = v &^ 1
	case CSRMcause:
		c.Mcause = v
	case CSRMtval:
		c.Mtval = v
	case CSRMip:
		c.Mip = v
	default:
		return false
	}
	return true
}

// enterTrap records a synchronous exception and returns the handler address.
func (c *CSRFile) enterTrap(pc, cause, tval uint64) uint64 {
	c.Mepc = pc
	c.Mcause = cause
	c.Mtval = tval
	mie := c.Mstatus & mstatusMIE
	c.Mstatus &^= mstatusMIE | mstatusMPIE
	if mie != 0 {
		c.Mstatus |= mstatusMPIE
	}
	c.Mstatus |= mstatusMPP
	return c.Mtvec &^ 3
}

// trapReturn restores the interrupt enable and returns mepc.
func (c *CSRFile) trapReturn() uint64 {
	mpie := c.Mstatus & mstatusMPIE
	c.Mstatus &^= mstatusMIE | mstatusMPP
	if mpie != 0 {
		c.Mstatus |= mstatusMIE
	}
	c.Mstatus |= mstatusMPIE
	return c.Mepc
}
