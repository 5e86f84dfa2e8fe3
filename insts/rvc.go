package insts

// Compressed opcodes: {instr[15:13], instr[1:0]}.
const (
	opcodeCADDI4SPN = 0x00
	opcodeCFLD      = 0x04
	opcodeCLW       = 0x08
	opcodeCLD       = 0x0C
	opcodeCFSD      = 0x14
	opcodeCSW       = 0x18
	opcodeCSD       = 0x1C
	opcodeCNOPADDI  = 0x01
	opcodeCADDIW    = 0x05
	opcodeCLI       = 0x09
	opcodeCLUI      = 0x0D
	opcodeCMath     = 0x11
	opcodeCJ        = 0x15
	opcodeCBEQZ     = 0x19
	opcodeCBNEZ     = 0x1D
	opcodeCSLLI     = 0x02
	opcodeCFLDSP    = 0x06
	opcodeCLWSP     = 0x0A
	opcodeCLDSP     = 0x0E
	opcodeCJRADD    = 0x12
	opcodeCFSDSP    = 0x16
	opcodeCSWSP     = 0x1A
	opcodeCSDSP     = 0x1E
)

func cbits(w uint16, hi, lo uint) uint64 {
	return uint64(w>>lo) & ((1 << (hi - lo + 1)) - 1)
}

// creg maps the 3-bit register fields of compressed forms to x8..x15.
func creg(w uint16, hi, lo uint) uint8 {
	return 8 + uint8(cbits(w, hi, lo))
}

func cimm6(w uint16) uint64 {
	return signExtend(cbits(w, 12, 12)<<5|cbits(w, 6, 2), 6)
}

func (dec *Decoder) decodeCompressed(d *Decoded, w uint16) {
	if w == 0 {
		d.Unimplemented = true
		return
	}
	op := cbits(w, 15, 13)<<2 | cbits(w, 1, 0)
	rd := uint8(cbits(w, 11, 7))
	rs2 := uint8(cbits(w, 6, 2))

	switch op {
	case opcodeCADDI4SPN:
		d.Format = FormatI
		d.Kind = KindADDI
		d.Rs1 = 2
		d.Rd = creg(w, 4, 2)
		d.Imm = cbits(w, 10, 7)<<6 | cbits(w, 12, 11)<<4 | cbits(w, 5, 5)<<3 | cbits(w, 6, 6)<<2
		if d.Imm == 0 {
			d.Unimplemented = true
		}
	case opcodeCFLD, opcodeCLD:
		d.Format = FormatI
		d.Kind = KindLD
		d.Rs1 = creg(w, 9, 7)
		d.Rd = creg(w, 4, 2)
		d.Imm = cbits(w, 6, 5)<<6 | cbits(w, 12, 10)<<3
		if op == opcodeCFLD {
			d.Kind = KindFLD
			d.Rd += FPReg
			d.Unimplemented = !dec.fpu
		}
	case opcodeCLW:
		d.Format = FormatI
		d.Kind = KindLW
		d.Rs1 = creg(w, 9, 7)
		d.Rd = creg(w, 4, 2)
		d.Imm = cbits(w, 5, 5)<<6 | cbits(w, 12, 10)<<3 | cbits(w, 6, 6)<<2
	case opcodeCFSD, opcodeCSD:
		d.Format = FormatS
		d.Kind = KindSD
		d.Rs1 = creg(w, 9, 7)
		d.Rs2 = creg(w, 4, 2)
		d.Imm = cbits(w, 6, 5)<<6 | cbits(w, 12, 10)<<3
		if op == opcodeCFSD {
			d.Kind = KindFSD
			d.Rs2 += FPReg
			d.Unimplemented = !dec.fpu
		}
	case opcodeCSW:
		d.Format = FormatS
		d.Kind = KindSW
		d.Rs1 = creg(w, 9, 7)
		d.Rs2 = creg(w, 4, 2)
		d.Imm = cbits(w, 5, 5)<<6 | cbits(w, 12, 10)<<3 | cbits(w, 6, 6)<<2
	case opcodeCNOPADDI:
		d.Format = FormatI
		d.Kind = KindADDI
		d.Rs1 = rd
		d.Rd = rd
		d.Imm = cimm6(w)
	case opcodeCADDIW:
		d.Format = FormatI
		d.Kind = KindADDIW
		d.Rs1 = rd
		d.Rd = rd
		d.Imm = cimm6(w)
		if rd == 0 {
			d.Unimplemented = true
		}
	case opcodeCLI:
		d.Format = FormatI
		d.Kind = KindADDI
		d.Rd = rd
		d.Imm = cimm6(w)
	case opcodeCLUI:
		if rd == 2 {
			d.Format = FormatI
			d.Kind = KindADDI
			d.Rs1 = 2
			d.Rd = 2
			v := cbits(w, 12, 12)<<9 | cbits(w, 4, 3)<<7 | cbits(w, 5, 5)<<6 |
				cbits(w, 2, 2)<<5 | cbits(w, 6, 6)<<4
			d.Imm = signExtend(v, 10)
		} else {
			d.Format = FormatU
			d.Kind = KindLUI
			d.Rd = rd
			d.Imm = signExtend(cimm6(w)<<12, 18)
		}
		if cbits(w, 12, 12) == 0 && cbits(w, 6, 2) == 0 {
			d.Unimplemented = true
		}
	case opcodeCMath:
		dec.decodeCMath(d, w)
	case opcodeCJ:
		d.Format = FormatUJ
		d.Kind = KindJAL
		v := cbits(w, 12, 12)<<11 | cbits(w, 8, 8)<<10 | cbits(w, 10, 9)<<8 |
			cbits(w, 6, 6)<<7 | cbits(w, 7, 7)<<6 | cbits(w, 2, 2)<<5 |
			cbits(w, 11, 11)<<4 | cbits(w, 5, 3)<<1
		d.Imm = signExtend(v, 12)
	case opcodeCBEQZ, opcodeCBNEZ:
		d.Format = FormatSB
		d.Kind = KindBEQ
		if op == opcodeCBNEZ {
			d.Kind = KindBNE
		}
		d.Rs1 = creg(w, 9, 7)
		v := cbits(w, 12, 12)<<8 | cbits(w, 6, 5)<<6 | cbits(w, 2, 2)<<5 |
			cbits(w, 11, 10)<<3 | cbits(w, 4, 3)<<1
		d.Imm = signExtend(v, 9)
	case opcodeCSLLI:
		d.Format = FormatI
		d.Kind = KindSLLI
		d.Rs1 = rd
		d.Rd = rd
		d.Imm = cbits(w, 12, 12)<<5 | cbits(w, 6, 2)
	case opcodeCFLDSP, opcodeCLDSP:
		d.Format = FormatI
		d.Kind = KindLD
		d.Rs1 = 2
		d.Rd = rd
		d.Imm = cbits(w, 4, 2)<<6 | cbits(w, 12, 12)<<5 | cbits(w, 6, 5)<<3
		if op == opcodeCFLDSP {
			d.Kind = KindFLD
			d.Rd += FPReg
			d.Unimplemented = !dec.fpu
		} else if rd == 0 {
			d.Unimplemented = true
		}
	case opcodeCLWSP:
		d.Format = FormatI
		d.Kind = KindLW
		d.Rs1 = 2
		d.Rd = rd
		d.Imm = cbits(w, 3, 2)<<6 | cbits(w, 12, 12)<<5 | cbits(w, 6, 4)<<2
		if rd == 0 {
			d.Unimplemented = true
		}
	case opcodeCJRADD:
		dec.decodeCJRAdd(d, w, rd, rs2)
	case opcodeCFSDSP, opcodeCSDSP:
		d.Format = FormatS
		d.Kind = KindSD
		d.Rs1 = 2
		d.Rs2 = rs2
		d.Imm = cbits(w, 9, 7)<<6 | cbits(w, 12, 10)<<3
		if op == opcodeCFSDSP {
			d.Kind = KindFSD
			d.Rs2 += FPReg
			d.Unimplemented = !dec.fpu
		}
	case opcodeCSWSP:
		d.Format = FormatS
		d.Kind = KindSW
		d.Rs1 = 2
		d.Rs2 = rs2
		d.Imm = cbits(w, 8, 7)<<6 | cbits(w, 12, 9)<<2
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeCMath(d *Decoded, w uint16) {
	rd := creg(w, 9, 7)
	d.Rs1 = rd
	d.Rd = rd
	switch cbits(w, 11, 10) {
	case 0:
		d.Format = FormatI
		d.Kind = KindSRLI
		d.Imm = cbits(w, 12, 12)<<5 | cbits(w, 6, 2)
		return
	case 1:
		d.Format = FormatI
		d.Kind = KindSRAI
		d.Imm = cbits(w, 12, 12)<<5 | cbits(w, 6, 2)
		return
	case 2:
		d.Format = FormatI
		d.Kind = KindANDI
		d.Imm = cimm6(w)
		return
	}

	d.Format = FormatR
	d.Rs2 = creg(w, 4, 2)
	sel := cbits(w, 6, 5)
	if cbits(w, 12, 12) == 0 {
		d.Kind = [4]Kind{KindSUB, KindXOR, KindOR, KindAND}[sel]
		return
	}
	switch sel {
	case 0:
		d.Kind = KindSUBW
	case 1:
		d.Kind = KindADDW
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeCJRAdd(d *Decoded, w uint16, rd, rs2 uint8) {
	d.Format = FormatI
	if cbits(w, 12, 12) == 0 {
		if rs2 == 0 {
			// c.jr
			d.Kind = KindJALR
			d.Rs1 = rd
			if rd == 0 {
				d.Unimplemented = true
			}
		} else {
			// c.mv
			d.Kind = KindADDI
			d.Rs1 = rs2
			d.Rd = rd
		}
		return
	}

	switch {
	case rd == 0 && rs2 == 0:
		d.Kind = KindEBREAK
	case rs2 == 0:
		// c.jalr
		d.Kind = KindJALR
		d.Rs1 = rd
		d.Rd = 1
	default:
		// c.add
		d.Format = FormatR
		d.Kind = KindADD
		d.Rs1 = rd
		d.Rs2 = rs2
		d.Rd = rd
	}
}
