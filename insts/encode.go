package insts

import (
	"errors"
	"fmt"
)

// ErrEncode is returned when operands cannot be represented in an encoding.
var ErrEncode = errors.New("cannot encode instruction")

// Operands are the fields of an instruction to encode. Register numbers are
// architectural (0..31) in their own bank; the decoder reports FP registers
// offset by FPReg.
type Operands struct {
	Rd  uint8
	Rs1 uint8
	Rs2 uint8
	Imm int64
	CSR uint16
}

type encoding struct {
	format Format
	opcode uint32
	funct3 uint32
	funct7 uint32 // funct7, funct5<<2 for AMO, or the fixed rs2 field for FP moves
	fixed  uint32 // complete word for operand-less instructions
}

var encodings = map[Kind]encoding{
	KindLUI:   {format: FormatU, opcode: opcodeLUI},
	KindAUIPC: {format: FormatU, opcode: opcodeAUIPC},
	KindJAL:   {format: FormatUJ, opcode: opcodeJAL},
	KindJALR:  {format: FormatI, opcode: opcodeJALR},

	KindBEQ:  {format: FormatSB, opcode: opcodeBranch, funct3: 0},
	KindBNE:  {format: FormatSB, opcode: opcodeBranch, funct3: 1},
	KindBLT:  {format: FormatSB, opcode: opcodeBranch, funct3: 4},
	KindBGE:  {format: FormatSB, opcode: opcodeBranch, funct3: 5},
	KindBLTU: {format: FormatSB, opcode: opcodeBranch, funct3: 6},
	KindBGEU: {format: FormatSB, opcode: opcodeBranch, funct3: 7},

	KindLB:  {format: FormatI, opcode: opcodeLoad, funct3: 0},
	KindLH:  {format: FormatI, opcode: opcodeLoad, funct3: 1},
	KindLW:  {format: FormatI, opcode: opcodeLoad, funct3: 2},
	KindLD:  {format: FormatI, opcode: opcodeLoad, funct3: 3},
	KindLBU: {format: FormatI, opcode: opcodeLoad, funct3: 4},
	KindLHU: {format: FormatI, opcode: opcodeLoad, funct3: 5},
	KindLWU: {format: FormatI, opcode: opcodeLoad, funct3: 6},
	KindFLD: {format: FormatI, opcode: opcodeLoadFP, funct3: 3},

	KindSB:  {format: FormatS, opcode: opcodeStore, funct3: 0},
	KindSH:  {format: FormatS, opcode: opcodeStore, funct3: 1},
	KindSW:  {format: FormatS, opcode: opcodeStore, funct3: 2},
	KindSD:  {format: FormatS, opcode: opcodeStore, funct3: 3},
	KindFSD: {format: FormatS, opcode: opcodeStoreFP, funct3: 3},

	KindADDI:  {format: FormatI, opcode: opcodeOpImm, funct3: 0},
	KindSLTI:  {format: FormatI, opcode: opcodeOpImm, funct3: 2},
	KindSLTIU: {format: FormatI, opcode: opcodeOpImm, funct3: 3},
	KindXORI:  {format: FormatI, opcode: opcodeOpImm, funct3: 4},
	KindORI:   {format: FormatI, opcode: opcodeOpImm, funct3: 6},
	KindANDI:  {format: FormatI, opcode: opcodeOpImm, funct3: 7},
	KindSLLI:  {format: FormatI, opcode: opcodeOpImm, funct3: 1},
	KindSRLI:  {format: FormatI, opcode: opcodeOpImm, funct3: 5},
	KindSRAI:  {format: FormatI, opcode: opcodeOpImm, funct3: 5, funct7: 0x20},
	KindADDIW: {format: FormatI, opcode: opcodeOpImm32, funct3: 0},
	KindSLLIW: {format: FormatI, opcode: opcodeOpImm32, funct3: 1},
	KindSRLIW: {format: FormatI, opcode: opcodeOpImm32, funct3: 5},
	KindSRAIW: {format: FormatI, opcode: opcodeOpImm32, funct3: 5, funct7: 0x20},

	KindADD:  {format: FormatR, opcode: opcodeOp, funct3: 0},
	KindSUB:  {format: FormatR, opcode: opcodeOp, funct3: 0, funct7: 0x20},
	KindSLL:  {format: FormatR, opcode: opcodeOp, funct3: 1},
	KindSLT:  {format: FormatR, opcode: opcodeOp, funct3: 2},
	KindSLTU: {format: FormatR, opcode: opcodeOp, funct3: 3},
	KindXOR:  {format: FormatR, opcode: opcodeOp, funct3: 4},
	KindSRL:  {format: FormatR, opcode: opcodeOp, funct3: 5},
	KindSRA:  {format: FormatR, opcode: opcodeOp, funct3: 5, funct7: 0x20},
	KindOR:   {format: FormatR, opcode: opcodeOp, funct3: 6},
	KindAND:  {format: FormatR, opcode: opcodeOp, funct3: 7},
	KindADDW: {format: FormatR, opcode: opcodeOp32, funct3: 0},
	KindSUBW: {format: FormatR, opcode: opcodeOp32, funct3: 0, funct7: 0x20},
	KindSLLW: {format: FormatR, opcode: opcodeOp32, funct3: 1},
	KindSRLW: {format: FormatR, opcode: opcodeOp32, funct3: 5},
	KindSRAW: {format: FormatR, opcode: opcodeOp32, funct3: 5, funct7: 0x20},

	KindMUL:    {format: FormatR, opcode: opcodeOp, funct3: 0, funct7: 1},
	KindMULH:   {format: FormatR, opcode: opcodeOp, funct3: 1, funct7: 1},
	KindMULHSU: {format: FormatR, opcode: opcodeOp, funct3: 2, funct7: 1},
	KindMULHU:  {format: FormatR, opcode: opcodeOp, funct3: 3, funct7: 1},
	KindDIV:    {format: FormatR, opcode: opcodeOp, funct3: 4, funct7: 1},
	KindDIVU:   {format: FormatR, opcode: opcodeOp, funct3: 5, funct7: 1},
	KindREM:    {format: FormatR, opcode: opcodeOp, funct3: 6, funct7: 1},
	KindREMU:   {format: FormatR, opcode: opcodeOp, funct3: 7, funct7: 1},
	KindMULW:   {format: FormatR, opcode: opcodeOp32, funct3: 0, funct7: 1},
	KindDIVW:   {format: FormatR, opcode: opcodeOp32, funct3: 4, funct7: 1},
	KindDIVUW:  {format: FormatR, opcode: opcodeOp32, funct3: 5, funct7: 1},
	KindREMW:   {format: FormatR, opcode: opcodeOp32, funct3: 6, funct7: 1},
	KindREMUW:  {format: FormatR, opcode: opcodeOp32, funct3: 7, funct7: 1},

	KindAMOADDW:  {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x00 << 2},
	KindAMOSWAPW: {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x01 << 2},
	KindLRW:      {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x02 << 2},
	KindSCW:      {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x03 << 2},
	KindAMOXORW:  {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x04 << 2},
	KindAMOORW:   {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x08 << 2},
	KindAMOANDW:  {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x0C << 2},
	KindAMOMINW:  {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x10 << 2},
	KindAMOMAXW:  {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x14 << 2},
	KindAMOMINUW: {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x18 << 2},
	KindAMOMAXUW: {format: FormatR, opcode: opcodeAMO, funct3: 2, funct7: 0x1C << 2},
	KindAMOADDD:  {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x00 << 2},
	KindAMOSWAPD: {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x01 << 2},
	KindLRD:      {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x02 << 2},
	KindSCD:      {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x03 << 2},
	KindAMOXORD:  {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x04 << 2},
	KindAMOORD:   {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x08 << 2},
	KindAMOANDD:  {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x0C << 2},
	KindAMOMIND:  {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x10 << 2},
	KindAMOMAXD:  {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x14 << 2},
	KindAMOMINUD: {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x18 << 2},
	KindAMOMAXUD: {format: FormatR, opcode: opcodeAMO, funct3: 3, funct7: 0x1C << 2},

	KindFADDD:   {format: FormatR, opcode: opcodeOpFP, funct7: 0x01},
	KindFSUBD:   {format: FormatR, opcode: opcodeOpFP, funct7: 0x05},
	KindFMULD:   {format: FormatR, opcode: opcodeOpFP, funct7: 0x09},
	KindFDIVD:   {format: FormatR, opcode: opcodeOpFP, funct7: 0x0D},
	KindFMIND:   {format: FormatR, opcode: opcodeOpFP, funct3: 0, funct7: 0x15},
	KindFMAXD:   {format: FormatR, opcode: opcodeOpFP, funct3: 1, funct7: 0x15},
	KindFLED:    {format: FormatR, opcode: opcodeOpFP, funct3: 0, funct7: 0x51},
	KindFLTD:    {format: FormatR, opcode: opcodeOpFP, funct3: 1, funct7: 0x51},
	KindFEQD:    {format: FormatR, opcode: opcodeOpFP, funct3: 2, funct7: 0x51},
	KindFCVTWD:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x61},
	KindFCVTWUD: {format: FormatR, opcode: opcodeOpFP, funct7: 0x61},
	KindFCVTLD:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x61},
	KindFCVTLUD: {format: FormatR, opcode: opcodeOpFP, funct7: 0x61},
	KindFCVTDW:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x69},
	KindFCVTDWU: {format: FormatR, opcode: opcodeOpFP, funct7: 0x69},
	KindFCVTDL:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x69},
	KindFCVTDLU: {format: FormatR, opcode: opcodeOpFP, funct7: 0x69},
	KindFMOVXD:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x71},
	KindFMOVDX:  {format: FormatR, opcode: opcodeOpFP, funct7: 0x79},

	KindCSRRW:  {format: FormatI, opcode: opcodeSystem, funct3: 1},
	KindCSRRS:  {format: FormatI, opcode: opcodeSystem, funct3: 2},
	KindCSRRC:  {format: FormatI, opcode: opcodeSystem, funct3: 3},
	KindCSRRWI: {format: FormatI, opcode: opcodeSystem, funct3: 5},
	KindCSRRSI: {format: FormatI, opcode: opcodeSystem, funct3: 6},
	KindCSRRCI: {format: FormatI, opcode: opcodeSystem, funct3: 7},

	KindSFENCEVMA: {format: FormatR, opcode: opcodeSystem, funct7: 0x09},

	KindECALL:  {fixed: 0x00000073},
	KindEBREAK: {fixed: 0x00100073},
	KindURET:   {fixed: 0x00200073},
	KindSRET:   {fixed: 0x10200073},
	KindHRET:   {fixed: 0x20200073},
	KindMRET:   {fixed: 0x30200073},
	KindWFI:    {fixed: 0x10500073},
	KindFENCE:  {fixed: 0x0FF0000F},
	KindFENCEI: {fixed: 0x0000100F},
}

// fpConvertRs2 is the rs2 field selecting the integer width of FCVT forms.
var fpConvertRs2 = map[Kind]uint32{
	KindFCVTWD: 0, KindFCVTWUD: 1, KindFCVTLD: 2, KindFCVTLUD: 3,
	KindFCVTDW: 0, KindFCVTDWU: 1, KindFCVTDL: 2, KindFCVTDLU: 3,
}

func fitsSigned(v int64, width uint) bool {
	lim := int64(1) << (width - 1)
	return v >= -lim && v < lim
}

// Encode returns the 32-bit encoding of kind k with the given operands.
func Encode(k Kind, ops Operands) (uint32, error) {
	e, ok := encodings[k]
	if !ok {
		return 0, fmt.Errorf("%w: unknown kind %d", ErrEncode, k)
	}
	if e.fixed != 0 {
		return e.fixed, nil
	}
	if ops.Rd > 31 || ops.Rs1 > 31 || ops.Rs2 > 31 {
		return 0, fmt.Errorf("%w: register out of range in %v", ErrEncode, k)
	}

	rd := uint32(ops.Rd)
	rs1 := uint32(ops.Rs1)
	rs2 := uint32(ops.Rs2)
	base := e.opcode<<2 | 3

	switch e.format {
	case FormatR:
		return encodeR(k, e, base, rd, rs1, rs2), nil
	case FormatI:
		return encodeI(k, e, base, rd, rs1, ops)
	case FormatS:
		if !fitsSigned(ops.Imm, 12) {
			return 0, fmt.Errorf("%w: offset %d out of range in %v", ErrEncode, ops.Imm, k)
		}
		imm := uint32(ops.Imm) & 0xFFF
		return imm>>5<<25 | rs2<<20 | rs1<<15 | e.funct3<<12 | (imm&0x1F)<<7 | base, nil
	case FormatSB:
		if !fitsSigned(ops.Imm, 13) || ops.Imm&1 != 0 {
			return 0, fmt.Errorf("%w: branch offset %d in %v", ErrEncode, ops.Imm, k)
		}
		imm := uint32(ops.Imm)
		return (imm>>12&1)<<31 | (imm>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
			e.funct3<<12 | (imm>>1&0xF)<<8 | (imm>>11&1)<<7 | base, nil
	case FormatU:
		if ops.Imm&0xFFF != 0 || !fitsSigned(ops.Imm, 32) {
			return 0, fmt.Errorf("%w: upper immediate %#x in %v", ErrEncode, ops.Imm, k)
		}
		return uint32(ops.Imm)&0xFFFFF000 | rd<<7 | base, nil
	case FormatUJ:
		if !fitsSigned(ops.Imm, 21) || ops.Imm&1 != 0 {
			return 0, fmt.Errorf("%w: jump offset %d in %v", ErrEncode, ops.Imm, k)
		}
		imm := uint32(ops.Imm)
		return (imm>>20&1)<<31 | (imm>>1&0x3FF)<<21 | (imm>>11&1)<<20 |
			(imm>>12&0xFF)<<12 | rd<<7 | base, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrEncode, k)
}

func encodeR(k Kind, e encoding, base, rd, rs1, rs2 uint32) uint32 {
	switch {
	case k == KindSFENCEVMA:
		rd = 0
	case k == KindLRW || k == KindLRD:
		rs2 = 0
	case k == KindFMOVXD || k == KindFMOVDX:
		rs2 = 0
	}
	if sel, ok := fpConvertRs2[k]; ok {
		rs2 = sel
	}
	return e.funct7<<25 | rs2<<20 | rs1<<15 | e.funct3<<12 | rd<<7 | base
}

func encodeI(k Kind, e encoding, base, rd, rs1 uint32, ops Operands) (uint32, error) {
	if k.IsCSR() {
		src := rs1
		if k == KindCSRRWI || k == KindCSRRSI || k == KindCSRRCI {
			if ops.Imm < 0 || ops.Imm > 31 {
				return 0, fmt.Errorf("%w: csr immediate %d in %v", ErrEncode, ops.Imm, k)
			}
			src = uint32(ops.Imm)
		}
		if ops.CSR > 0xFFF {
			return 0, fmt.Errorf("%w: csr %#x in %v", ErrEncode, ops.CSR, k)
		}
		return uint32(ops.CSR)<<20 | src<<15 | e.funct3<<12 | rd<<7 | base, nil
	}

	switch k {
	case KindSLLI, KindSRLI, KindSRAI:
		if ops.Imm < 0 || ops.Imm > 63 {
			return 0, fmt.Errorf("%w: shift amount %d in %v", ErrEncode, ops.Imm, k)
		}
		return e.funct7<<25 | uint32(ops.Imm)<<20 | rs1<<15 | e.funct3<<12 | rd<<7 | base, nil
	case KindSLLIW, KindSRLIW, KindSRAIW:
		if ops.Imm < 0 || ops.Imm > 31 {
			return 0, fmt.Errorf("%w: shift amount %d in %v", ErrEncode, ops.Imm, k)
		}
		return e.funct7<<25 | uint32(ops.Imm)<<20 | rs1<<15 | e.funct3<<12 | rd<<7 | base, nil
	}

	if !fitsSigned(ops.Imm, 12) {
		return 0, fmt.Errorf("%w: immediate %d out of range in %v", ErrEncode, ops.Imm, k)
	}
	return (uint32(ops.Imm)&0xFFF)<<20 | rs1<<15 | e.funct3<<12 | rd<<7 | base, nil
}

// MustEncode is like Encode but panics on error. It is meant for building
// fixed programs.
func MustEncode(k Kind, ops Operands) uint32 {
	w, err := Encode(k, ops)
	if err != nil {
		panic(err)
	}
	return w
}
