package emu

import "github.com/sarchlab/riversim/insts"

// RegFile is the RV64 architectural register state: 32 integer registers
// (x0 hard-wired to zero), 32 double-precision FP registers and the PC.
type RegFile struct {
	X  [32]uint64
	F  [32]uint64
	PC uint64
}

// ReadReg reads integer register reg. x0 always reads as 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg == 0 || reg > 31 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes integer register reg. Writes to x0 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg == 0 || reg > 31 {
		return
	}
	r.X[reg] = value
}

// Read reads a register by its 6-bit index, FP registers at insts.FPReg.
func (r *RegFile) Read(idx uint8) uint64 {
	if idx >= insts.FPReg {
		return r.F[(idx-insts.FPReg)&31]
	}
	return r.ReadReg(idx)
}

// Write writes a register by its 6-bit index.
func (r *RegFile) Write(idx uint8, value uint64) {
	if idx >= insts.FPReg {
		r.F[(idx-insts.FPReg)&31] = value
		return
	}
	r.WriteReg(idx, value)
}
