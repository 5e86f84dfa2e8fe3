package emu

import "github.com/sarchlab/riversim/insts"

// BranchTaken evaluates the condition of a conditional branch.
func BranchTaken(k insts.Kind, a, b uint64) bool {
	switch k {
	case insts.KindBEQ:
		return a == b
	case insts.KindBNE:
		return a != b
	case insts.KindBLT:
		return int64(a) < int64(b)
	case insts.KindBGE:
		return int64(a) >= int64(b)
	case insts.KindBLTU:
		return a < b
	case insts.KindBGEU:
		return a >= b
	}
	return false
}

// NextPC returns the address of the instruction executed after d, given its
// rs1 and rs2 operand values.
func NextPC(d *insts.Decoded, a, b uint64) uint64 {
	switch {
	case d.Kind == insts.KindJAL:
		return d.PC + d.Imm
	case d.Kind == insts.KindJALR:
		return (a + d.Imm) &^ 1
	case d.Kind.IsBranch() && BranchTaken(d.Kind, a, b):
		return d.PC + d.Imm
	}
	return d.PC + d.Length()
}
