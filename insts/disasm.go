package insts

import (
	"fmt"
	"strings"
)

var intRegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var fpRegNames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

// RegName returns the ABI name of a 6-bit register index.
func RegName(idx uint8) string {
	if idx >= FPReg {
		return fpRegNames[(idx-FPReg)&31]
	}
	return intRegNames[idx&31]
}

// RegIndex parses an ABI or numeric register name ("a0", "x10", "f3",
// "fa0") into a 6-bit register index.
func RegIndex(name string) (uint8, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range intRegNames {
		if n == name {
			return uint8(i), true
		}
	}
	for i, n := range fpRegNames {
		if n == name {
			return uint8(i) + FPReg, true
		}
	}
	if name == "fp" {
		return 8, true
	}
	var n int
	if _, err := fmt.Sscanf(name, "x%d", &n); err == nil && n >= 0 && n < 32 {
		return uint8(n), true
	}
	if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && n >= 0 && n < 32 {
		return uint8(n) + FPReg, true
	}
	return 0, false
}

// Disassemble renders a decoded instruction as assembly text.
func Disassemble(d *Decoded) string {
	if d.Unimplemented {
		if d.Compressed {
			return fmt.Sprintf("unimp 0x%04x", d.Instr)
		}
		return fmt.Sprintf("unimp 0x%08x", d.Instr)
	}

	k := d.Kind
	name := k.String()
	if d.Compressed {
		name = "c." + name
	}
	imm := int64(d.Imm)
	rd, rs1, rs2 := RegName(d.Rd), RegName(d.Rs1), RegName(d.Rs2)

	switch {
	case k == KindECALL || k == KindEBREAK || k.IsXRet() || k == KindWFI ||
		k == KindFENCE || k == KindFENCEI:
		return name
	case k == KindSFENCEVMA:
		return fmt.Sprintf("%s %s, %s", name, rs1, rs2)
	case k == KindLUI || k == KindAUIPC:
		return fmt.Sprintf("%s %s, 0x%x", name, rd, uint64(imm>>12)&0xFFFFF)
	case k == KindJAL:
		return fmt.Sprintf("%s %s, 0x%x", name, rd, d.PC+d.Imm)
	case k.IsBranch():
		return fmt.Sprintf("%s %s, %s, 0x%x", name, rs1, rs2, d.PC+d.Imm)
	case k.IsCSR():
		src := rs1
		if k == KindCSRRWI || k == KindCSRRSI || k == KindCSRRCI {
			src = fmt.Sprintf("%d", imm)
		}
		return fmt.Sprintf("%s %s, 0x%03x, %s", name, rd, d.CSR, src)
	case k == KindLRW || k == KindLRD:
		return fmt.Sprintf("%s %s, (%s)", name, rd, rs1)
	case d.AMO:
		return fmt.Sprintf("%s %s, %s, (%s)", name, rd, rs2, rs1)
	case d.MemLoad || k == KindJALR:
		return fmt.Sprintf("%s %s, %d(%s)", name, rd, imm, rs1)
	case d.MemStore:
		return fmt.Sprintf("%s %s, %d(%s)", name, rs2, imm, rs1)
	case d.Format == FormatR && (k.IsFPU() && (k >= KindFCVTDW && k <= KindFCVTLUD ||
		k == KindFMOVDX || k == KindFMOVXD)):
		return fmt.Sprintf("%s %s, %s", name, rd, rs1)
	case d.Format == FormatR:
		return fmt.Sprintf("%s %s, %s, %s", name, rd, rs1, rs2)
	}
	return fmt.Sprintf("%s %s, %s, %d", name, rd, rs1, imm)
}
