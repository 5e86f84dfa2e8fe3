package insts

import "fmt"

// CForm identifies a compressed instruction form.
type CForm uint8

// Compressed forms of the RV64C subset.
const (
	CADDI4SPN CForm = iota
	CFLD
	CLW
	CLD
	CFSD
	CSW
	CSD
	CNOP
	CADDI
	CADDIW
	CLI
	CADDI16SP
	CLUI
	CSRLI
	CSRAI
	CANDI
	CSUB
	CXOR
	COR
	CAND
	CSUBW
	CADDW
	CJ
	CBEQZ
	CBNEZ
	CSLLI
	CFLDSP
	CLWSP
	CLDSP
	CJR
	CMV
	CEBREAK
	CJALR
	CADD
	CFSDSP
	CSWSP
	CSDSP

	NumCForms int = iota
)

var cformNames = [NumCForms]string{
	"c.addi4spn", "c.fld", "c.lw", "c.ld", "c.fsd", "c.sw", "c.sd",
	"c.nop", "c.addi", "c.addiw", "c.li", "c.addi16sp", "c.lui",
	"c.srli", "c.srai", "c.andi", "c.sub", "c.xor", "c.or", "c.and",
	"c.subw", "c.addw", "c.j", "c.beqz", "c.bnez", "c.slli",
	"c.fldsp", "c.lwsp", "c.ldsp", "c.jr", "c.mv", "c.ebreak", "c.jalr",
	"c.add", "c.fsdsp", "c.swsp", "c.sdsp",
}

// String returns the assembler mnemonic of the form.
func (f CForm) String() string {
	if int(f) < NumCForms {
		return cformNames[f]
	}
	return "c.unknown"
}

func isCReg(r uint8) bool {
	return r >= 8 && r <= 15
}

func place(v uint64, lo, hi, at uint) uint16 {
	return uint16((v>>lo)&((1<<(hi-lo+1))-1)) << at
}

// EncodeCompressed returns the 16-bit encoding of form f. Register operands
// use the same numbering as Operands; the 3-bit forms require x8..x15.
func EncodeCompressed(f CForm, ops Operands) (uint16, error) {
	imm := uint64(ops.Imm)
	rd, rs1, rs2 := ops.Rd, ops.Rs1, ops.Rs2
	bad := func(what string) (uint16, error) {
		return 0, fmt.Errorf("%w: %s in %v", ErrEncode, what, f)
	}
	r3 := func(r uint8) uint16 { return uint16(r-8) & 7 }

	switch f {
	case CADDI4SPN:
		if !isCReg(rd) || ops.Imm <= 0 || ops.Imm > 1020 || ops.Imm&3 != 0 {
			return bad("operands")
		}
		return place(imm, 4, 5, 11) | place(imm, 6, 9, 7) | place(imm, 2, 2, 6) |
			place(imm, 3, 3, 5) | r3(rd)<<2, nil
	case CFLD, CLD, CFSD, CSD:
		reg := rd
		if f == CFSD || f == CSD {
			reg = rs2
		}
		if !isCReg(reg) || !isCReg(rs1) || ops.Imm < 0 || ops.Imm > 248 || ops.Imm&7 != 0 {
			return bad("operands")
		}
		funct3 := map[CForm]uint16{CFLD: 1, CLD: 3, CFSD: 5, CSD: 7}[f]
		return funct3<<13 | place(imm, 3, 5, 10) | r3(rs1)<<7 | place(imm, 6, 7, 5) |
			r3(reg)<<2, nil
	case CLW, CSW:
		reg := rd
		funct3 := uint16(2)
		if f == CSW {
			reg = rs2
			funct3 = 6
		}
		if !isCReg(reg) || !isCReg(rs1) || ops.Imm < 0 || ops.Imm > 124 || ops.Imm&3 != 0 {
			return bad("operands")
		}
		return funct3<<13 | place(imm, 3, 5, 10) | r3(rs1)<<7 | place(imm, 2, 2, 6) |
			place(imm, 6, 6, 5) | r3(reg)<<2, nil
	case CNOP:
		return 0x0001, nil
	case CADDI, CADDIW, CLI:
		if !fitsSigned(ops.Imm, 6) || rd == 0 {
			return bad("operands")
		}
		funct3 := map[CForm]uint16{CADDI: 0, CADDIW: 1, CLI: 2}[f]
		return funct3<<13 | place(imm, 5, 5, 12) | uint16(rd)<<7 | place(imm, 0, 4, 2) | 1, nil
	case CADDI16SP:
		if ops.Imm == 0 || !fitsSigned(ops.Imm, 10) || ops.Imm&0xF != 0 {
			return bad("operands")
		}
		return 3<<13 | place(imm, 9, 9, 12) | 2<<7 | place(imm, 4, 4, 6) |
			place(imm, 6, 6, 5) | place(imm, 7, 8, 3) | place(imm, 5, 5, 2) | 1, nil
	case CLUI:
		if rd == 0 || rd == 2 || ops.Imm == 0 || ops.Imm&0xFFF != 0 || !fitsSigned(ops.Imm, 18) {
			return bad("operands")
		}
		return 3<<13 | place(imm, 17, 17, 12) | uint16(rd)<<7 | place(imm, 12, 16, 2) | 1, nil
	case CSRLI, CSRAI, CANDI:
		if !isCReg(rd) {
			return bad("register")
		}
		sel := map[CForm]uint16{CSRLI: 0, CSRAI: 1, CANDI: 2}[f]
		if f == CANDI {
			if !fitsSigned(ops.Imm, 6) {
				return bad("immediate")
			}
		} else if ops.Imm <= 0 || ops.Imm > 63 {
			return bad("shift amount")
		}
		return 4<<13 | place(imm, 5, 5, 12) | sel<<10 | r3(rd)<<7 | place(imm, 0, 4, 2) | 1, nil
	case CSUB, CXOR, COR, CAND, CSUBW, CADDW:
		if !isCReg(rd) || !isCReg(rs2) {
			return bad("register")
		}
		sel := map[CForm]uint16{CSUB: 0, CXOR: 1, COR: 2, CAND: 3, CSUBW: 0, CADDW: 1}[f]
		var w uint16
		if f == CSUBW || f == CADDW {
			w = 1
		}
		return 4<<13 | w<<12 | 3<<10 | r3(rd)<<7 | sel<<5 | r3(rs2)<<2 | 1, nil
	case CJ:
		if !fitsSigned(ops.Imm, 12) || ops.Imm&1 != 0 {
			return bad("offset")
		}
		return 5<<13 | place(imm, 11, 11, 12) | place(imm, 4, 4, 11) | place(imm, 8, 9, 9) |
			place(imm, 10, 10, 8) | place(imm, 6, 6, 7) | place(imm, 7, 7, 6) |
			place(imm, 1, 3, 3) | place(imm, 5, 5, 2) | 1, nil
	case CBEQZ, CBNEZ:
		if !isCReg(rs1) || !fitsSigned(ops.Imm, 9) || ops.Imm&1 != 0 {
			return bad("operands")
		}
		funct3 := uint16(6)
		if f == CBNEZ {
			funct3 = 7
		}
		return funct3<<13 | place(imm, 8, 8, 12) | place(imm, 3, 4, 10) | r3(rs1)<<7 |
			place(imm, 6, 7, 5) | place(imm, 1, 2, 3) | place(imm, 5, 5, 2) | 1, nil
	case CSLLI:
		if rd == 0 || ops.Imm <= 0 || ops.Imm > 63 {
			return bad("operands")
		}
		return place(imm, 5, 5, 12) | uint16(rd)<<7 | place(imm, 0, 4, 2) | 2, nil
	case CFLDSP, CLDSP:
		if (f == CLDSP && rd == 0) || ops.Imm < 0 || ops.Imm > 504 || ops.Imm&7 != 0 {
			return bad("operands")
		}
		funct3 := uint16(3)
		if f == CFLDSP {
			funct3 = 1
		}
		return funct3<<13 | place(imm, 5, 5, 12) | uint16(rd)<<7 | place(imm, 3, 4, 5) |
			place(imm, 6, 8, 2) | 2, nil
	case CLWSP:
		if rd == 0 || ops.Imm < 0 || ops.Imm > 252 || ops.Imm&3 != 0 {
			return bad("operands")
		}
		return 2<<13 | place(imm, 5, 5, 12) | uint16(rd)<<7 | place(imm, 2, 4, 4) |
			place(imm, 6, 7, 2) | 2, nil
	case CJR:
		if rs1 == 0 {
			return bad("register")
		}
		return 4<<13 | uint16(rs1)<<7 | 2, nil
	case CMV:
		if rd == 0 || rs2 == 0 {
			return bad("register")
		}
		return 4<<13 | uint16(rd)<<7 | uint16(rs2)<<2 | 2, nil
	case CEBREAK:
		return 0x9002, nil
	case CJALR:
		if rs1 == 0 {
			return bad("register")
		}
		return 4<<13 | 1<<12 | uint16(rs1)<<7 | 2, nil
	case CADD:
		if rd == 0 || rs2 == 0 {
			return bad("register")
		}
		return 4<<13 | 1<<12 | uint16(rd)<<7 | uint16(rs2)<<2 | 2, nil
	case CFSDSP, CSDSP:
		if ops.Imm < 0 || ops.Imm > 504 || ops.Imm&7 != 0 {
			return bad("offset")
		}
		funct3 := uint16(7)
		if f == CFSDSP {
			funct3 = 5
		}
		return funct3<<13 | place(imm, 3, 5, 10) | place(imm, 6, 8, 7) | uint16(rs2)<<2 | 2, nil
	case CSWSP:
		if ops.Imm < 0 || ops.Imm > 252 || ops.Imm&3 != 0 {
			return bad("offset")
		}
		return 6<<13 | place(imm, 2, 5, 9) | place(imm, 6, 7, 7) | uint16(rs2)<<2 | 2, nil
	}
	return bad("form")
}
