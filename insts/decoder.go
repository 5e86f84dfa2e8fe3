package insts

// Format is the RISC-V encoding format of an instruction. Execute selects its
// operands by format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register
	FormatI              // register-immediate, loads, JALR, SYSTEM
	FormatS              // stores
	FormatSB             // conditional branches
	FormatU              // LUI, AUIPC
	FormatUJ             // JAL
)

// String returns the short name of the format.
func (f Format) String() string {
	switch f {
	case FormatR:
		return "R"
	case FormatI:
		return "I"
	case FormatS:
		return "S"
	case FormatSB:
		return "SB"
	case FormatU:
		return "U"
	case FormatUJ:
		return "UJ"
	}
	return "?"
}

// MemSize is the log2 of a memory access width in bytes.
type MemSize uint8

// Memory access widths.
const (
	MemSize1 MemSize = iota
	MemSize2
	MemSize4
	MemSize8
)

// Bytes returns the access width in bytes.
func (s MemSize) Bytes() int {
	return 1 << s
}

// FPReg is the offset of floating-point registers in the 6-bit register
// index space shared by the integer and FP banks.
const FPReg = 32

// Major opcodes, instruction bits [6:2].
const (
	opcodeLoad    = 0x00
	opcodeLoadFP  = 0x01
	opcodeMiscMem = 0x03
	opcodeOpImm   = 0x04
	opcodeAUIPC   = 0x05
	opcodeOpImm32 = 0x06
	opcodeStore   = 0x08
	opcodeStoreFP = 0x09
	opcodeAMO     = 0x0B
	opcodeOp      = 0x0C
	opcodeLUI     = 0x0D
	opcodeOp32    = 0x0E
	opcodeOpFP    = 0x14
	opcodeBranch  = 0x18
	opcodeJALR    = 0x19
	opcodeJAL     = 0x1B
	opcodeSystem  = 0x1C
)

// Decoded is a decoded instruction. It is produced once by the decoder and
// never modified afterwards.
type Decoded struct {
	PC     uint64
	Instr  uint32 // raw word; compressed forms keep the 16-bit value
	Format Format
	Kind   Kind
	Vec    Vector

	Rs1 uint8 // 0..63, FP registers are offset by FPReg
	Rs2 uint8
	Rd  uint8 // 0 when the instruction writes no register
	CSR uint16
	Imm uint64 // sign-extended immediate

	MemLoad    bool
	MemStore   bool
	MemSignExt bool
	MemSize    MemSize

	Unsigned   bool
	RV32       bool
	F64        bool
	Compressed bool
	AMO        bool

	Unimplemented  bool
	InstrLoadFault bool
	InstrPageFault bool
	Progbuf        bool
}

// Length returns the instruction length in bytes.
func (d *Decoded) Length() uint64 {
	if d.Compressed {
		return 2
	}
	return 4
}

// IsCompressed reports whether the low half of word is a 16-bit instruction.
func IsCompressed(word uint32) bool {
	return word&3 != 3
}

// Decoder decodes RISC-V instruction words.
type Decoder struct {
	fpu bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithoutFPU makes the decoder reject the D extension.
func WithoutFPU() DecoderOption {
	return func(d *Decoder) {
		d.fpu = false
	}
}

// NewDecoder creates a new instruction decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{fpu: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes the instruction in word fetched from pc. When the low two
// bits of word are not 0b11 only the low 16 bits are used.
func (dec *Decoder) Decode(word uint32, pc uint64) *Decoded {
	d := &Decoded{}
	dec.DecodeInto(d, word, pc)
	return d
}

// DecodeInto decodes word into d, overwriting every field.
func (dec *Decoder) DecodeInto(d *Decoded, word uint32, pc uint64) {
	*d = Decoded{PC: pc, Kind: KindInvalid}

	if IsCompressed(word) {
		d.Instr = word & 0xFFFF
		d.Compressed = true
		dec.decodeCompressed(d, uint16(word))
	} else {
		d.Instr = word
		dec.decodeStandard(d, word)
	}

	if d.Unimplemented {
		d.Kind = KindInvalid
		d.Vec = Vector{}
		return
	}
	d.Vec.Set(d.Kind)
	deriveAttributes(d)
}

func bits(word uint32, hi, lo uint) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(v uint64, width uint) uint64 {
	shift := 64 - width
	return uint64(int64(v<<shift) >> shift)
}

func immI(word uint32) uint64 {
	return signExtend(uint64(word>>20), 12)
}

func immS(word uint32) uint64 {
	v := bits(word, 31, 25)<<5 | bits(word, 11, 7)
	return signExtend(uint64(v), 12)
}

func immB(word uint32) uint64 {
	v := bits(word, 31, 31)<<12 | bits(word, 7, 7)<<11 |
		bits(word, 30, 25)<<5 | bits(word, 11, 8)<<1
	return signExtend(uint64(v), 13)
}

func immU(word uint32) uint64 {
	return signExtend(uint64(word&0xFFFFF000), 32)
}

func immJ(word uint32) uint64 {
	v := bits(word, 31, 31)<<20 | bits(word, 19, 12)<<12 |
		bits(word, 20, 20)<<11 | bits(word, 30, 21)<<1
	return signExtend(uint64(v), 21)
}

func (dec *Decoder) decodeStandard(d *Decoded, word uint32) {
	opcode := bits(word, 6, 2)
	rd := uint8(bits(word, 11, 7))
	rs1 := uint8(bits(word, 19, 15))
	rs2 := uint8(bits(word, 24, 20))
	funct3 := bits(word, 14, 12)
	funct7 := bits(word, 31, 25)

	d.Rd = rd
	d.Rs1 = rs1
	d.Rs2 = rs2

	switch opcode {
	case opcodeLoad:
		d.Format = FormatI
		d.Rs2 = 0
		d.Imm = immI(word)
		switch funct3 {
		case 0:
			d.Kind = KindLB
		case 1:
			d.Kind = KindLH
		case 2:
			d.Kind = KindLW
		case 3:
			d.Kind = KindLD
		case 4:
			d.Kind = KindLBU
		case 5:
			d.Kind = KindLHU
		case 6:
			d.Kind = KindLWU
		default:
			d.Unimplemented = true
		}
	case opcodeLoadFP:
		d.Format = FormatI
		d.Rs2 = 0
		d.Rd = rd + FPReg
		d.Imm = immI(word)
		if funct3 == 3 && dec.fpu {
			d.Kind = KindFLD
		} else {
			d.Unimplemented = true
		}
	case opcodeMiscMem:
		d.Format = FormatI
		d.Rd, d.Rs1, d.Rs2 = 0, 0, 0
		switch funct3 {
		case 0:
			d.Kind = KindFENCE
		case 1:
			d.Kind = KindFENCEI
		default:
			d.Unimplemented = true
		}
	case opcodeOpImm:
		d.Format = FormatI
		d.Rs2 = 0
		d.Imm = immI(word)
		dec.decodeOpImm(d, word, funct3)
	case opcodeOpImm32:
		d.Format = FormatI
		d.Rs2 = 0
		d.Imm = immI(word)
		dec.decodeOpImm32(d, word, funct3)
	case opcodeAUIPC:
		d.Format = FormatU
		d.Rs1, d.Rs2 = 0, 0
		d.Imm = immU(word)
		d.Kind = KindAUIPC
	case opcodeLUI:
		d.Format = FormatU
		d.Rs1, d.Rs2 = 0, 0
		d.Imm = immU(word)
		d.Kind = KindLUI
	case opcodeStore:
		d.Format = FormatS
		d.Rd = 0
		d.Imm = immS(word)
		switch funct3 {
		case 0:
			d.Kind = KindSB
		case 1:
			d.Kind = KindSH
		case 2:
			d.Kind = KindSW
		case 3:
			d.Kind = KindSD
		default:
			d.Unimplemented = true
		}
	case opcodeStoreFP:
		d.Format = FormatS
		d.Rd = 0
		d.Rs2 = rs2 + FPReg
		d.Imm = immS(word)
		if funct3 == 3 && dec.fpu {
			d.Kind = KindFSD
		} else {
			d.Unimplemented = true
		}
	case opcodeAMO:
		d.Format = FormatR
		dec.decodeAMO(d, word, funct3)
	case opcodeOp:
		d.Format = FormatR
		dec.decodeOp(d, funct3, funct7)
	case opcodeOp32:
		d.Format = FormatR
		dec.decodeOp32(d, funct3, funct7)
	case opcodeOpFP:
		d.Format = FormatR
		dec.decodeOpFP(d, word, funct3, funct7)
	case opcodeBranch:
		d.Format = FormatSB
		d.Rd = 0
		d.Imm = immB(word)
		switch funct3 {
		case 0:
			d.Kind = KindBEQ
		case 1:
			d.Kind = KindBNE
		case 4:
			d.Kind = KindBLT
		case 5:
			d.Kind = KindBGE
		case 6:
			d.Kind = KindBLTU
		case 7:
			d.Kind = KindBGEU
		default:
			d.Unimplemented = true
		}
	case opcodeJALR:
		d.Format = FormatI
		d.Rs2 = 0
		d.Imm = immI(word)
		if funct3 == 0 {
			d.Kind = KindJALR
		} else {
			d.Unimplemented = true
		}
	case opcodeJAL:
		d.Format = FormatUJ
		d.Rs1, d.Rs2 = 0, 0
		d.Imm = immJ(word)
		d.Kind = KindJAL
	case opcodeSystem:
		d.Format = FormatI
		dec.decodeSystem(d, word, funct3, funct7)
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeOpImm(d *Decoded, word uint32, funct3 uint32) {
	switch funct3 {
	case 0:
		d.Kind = KindADDI
	case 1:
		d.Imm = uint64(bits(word, 25, 20))
		if bits(word, 31, 26) == 0 {
			d.Kind = KindSLLI
		} else {
			d.Unimplemented = true
		}
	case 2:
		d.Kind = KindSLTI
	case 3:
		d.Kind = KindSLTIU
	case 4:
		d.Kind = KindXORI
	case 5:
		d.Imm = uint64(bits(word, 25, 20))
		switch bits(word, 31, 26) {
		case 0x00:
			d.Kind = KindSRLI
		case 0x10:
			d.Kind = KindSRAI
		default:
			d.Unimplemented = true
		}
	case 6:
		d.Kind = KindORI
	case 7:
		d.Kind = KindANDI
	}
}

func (dec *Decoder) decodeOpImm32(d *Decoded, word uint32, funct3 uint32) {
	switch funct3 {
	case 0:
		d.Kind = KindADDIW
	case 1:
		d.Imm = uint64(bits(word, 24, 20))
		if bits(word, 31, 25) == 0 {
			d.Kind = KindSLLIW
		} else {
			d.Unimplemented = true
		}
	case 5:
		d.Imm = uint64(bits(word, 24, 20))
		switch bits(word, 31, 25) {
		case 0x00:
			d.Kind = KindSRLIW
		case 0x20:
			d.Kind = KindSRAIW
		default:
			d.Unimplemented = true
		}
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeOp(d *Decoded, funct3, funct7 uint32) {
	switch funct7 {
	case 0x00:
		d.Kind = [8]Kind{
			KindADD, KindSLL, KindSLT, KindSLTU, KindXOR, KindSRL, KindOR, KindAND,
		}[funct3]
	case 0x20:
		switch funct3 {
		case 0:
			d.Kind = KindSUB
		case 5:
			d.Kind = KindSRA
		default:
			d.Unimplemented = true
		}
	case 0x01:
		d.Kind = [8]Kind{
			KindMUL, KindMULH, KindMULHSU, KindMULHU, KindDIV, KindDIVU, KindREM, KindREMU,
		}[funct3]
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeOp32(d *Decoded, funct3, funct7 uint32) {
	switch {
	case funct7 == 0x00 && funct3 == 0:
		d.Kind = KindADDW
	case funct7 == 0x00 && funct3 == 1:
		d.Kind = KindSLLW
	case funct7 == 0x00 && funct3 == 5:
		d.Kind = KindSRLW
	case funct7 == 0x20 && funct3 == 0:
		d.Kind = KindSUBW
	case funct7 == 0x20 && funct3 == 5:
		d.Kind = KindSRAW
	case funct7 == 0x01 && funct3 == 0:
		d.Kind = KindMULW
	case funct7 == 0x01 && funct3 == 4:
		d.Kind = KindDIVW
	case funct7 == 0x01 && funct3 == 5:
		d.Kind = KindDIVUW
	case funct7 == 0x01 && funct3 == 6:
		d.Kind = KindREMW
	case funct7 == 0x01 && funct3 == 7:
		d.Kind = KindREMUW
	default:
		d.Unimplemented = true
	}
}

var amoKindsW = map[uint32]Kind{
	0x00: KindAMOADDW, 0x01: KindAMOSWAPW, 0x02: KindLRW, 0x03: KindSCW,
	0x04: KindAMOXORW, 0x08: KindAMOORW, 0x0C: KindAMOANDW,
	0x10: KindAMOMINW, 0x14: KindAMOMAXW, 0x18: KindAMOMINUW, 0x1C: KindAMOMAXUW,
}

var amoKindsD = map[uint32]Kind{
	0x00: KindAMOADDD, 0x01: KindAMOSWAPD, 0x02: KindLRD, 0x03: KindSCD,
	0x04: KindAMOXORD, 0x08: KindAMOORD, 0x0C: KindAMOANDD,
	0x10: KindAMOMIND, 0x14: KindAMOMAXD, 0x18: KindAMOMINUD, 0x1C: KindAMOMAXUD,
}

func (dec *Decoder) decodeAMO(d *Decoded, word uint32, funct3 uint32) {
	funct5 := bits(word, 31, 27)
	var table map[uint32]Kind
	switch funct3 {
	case 2:
		table = amoKindsW
	case 3:
		table = amoKindsD
	default:
		d.Unimplemented = true
		return
	}
	k, ok := table[funct5]
	if !ok {
		d.Unimplemented = true
		return
	}
	d.Kind = k
	if k == KindLRW || k == KindLRD {
		d.Rs2 = 0
	}
}

func (dec *Decoder) decodeOpFP(d *Decoded, word uint32, funct3, funct7 uint32) {
	if !dec.fpu {
		d.Unimplemented = true
		return
	}
	rs2 := bits(word, 24, 20)
	fpAll := func(k Kind) {
		d.Kind = k
		d.Rd += FPReg
		d.Rs1 += FPReg
		d.Rs2 += FPReg
	}
	switch funct7 {
	case 0x01:
		fpAll(KindFADDD)
	case 0x05:
		fpAll(KindFSUBD)
	case 0x09:
		fpAll(KindFMULD)
	case 0x0D:
		fpAll(KindFDIVD)
	case 0x15:
		switch funct3 {
		case 0:
			fpAll(KindFMIND)
		case 1:
			fpAll(KindFMAXD)
		default:
			d.Unimplemented = true
		}
	case 0x51:
		d.Rs1 += FPReg
		d.Rs2 += FPReg
		switch funct3 {
		case 0:
			d.Kind = KindFLED
		case 1:
			d.Kind = KindFLTD
		case 2:
			d.Kind = KindFEQD
		default:
			d.Unimplemented = true
		}
	case 0x61:
		d.Rs1 += FPReg
		d.Rs2 = 0
		switch rs2 {
		case 0:
			d.Kind = KindFCVTWD
		case 1:
			d.Kind = KindFCVTWUD
		case 2:
			d.Kind = KindFCVTLD
		case 3:
			d.Kind = KindFCVTLUD
		default:
			d.Unimplemented = true
		}
	case 0x69:
		d.Rd += FPReg
		d.Rs2 = 0
		switch rs2 {
		case 0:
			d.Kind = KindFCVTDW
		case 1:
			d.Kind = KindFCVTDWU
		case 2:
			d.Kind = KindFCVTDL
		case 3:
			d.Kind = KindFCVTDLU
		default:
			d.Unimplemented = true
		}
	case 0x71:
		d.Rs1 += FPReg
		d.Rs2 = 0
		if funct3 == 0 && rs2 == 0 {
			d.Kind = KindFMOVXD
		} else {
			d.Unimplemented = true
		}
	case 0x79:
		d.Rd += FPReg
		d.Rs2 = 0
		if funct3 == 0 && rs2 == 0 {
			d.Kind = KindFMOVDX
		} else {
			d.Unimplemented = true
		}
	default:
		d.Unimplemented = true
	}
}

func (dec *Decoder) decodeSystem(d *Decoded, word uint32, funct3, funct7 uint32) {
	if funct3 == 0 {
		d.Rs2 = 0
		switch {
		case word == 0x00000073:
			d.Kind = KindECALL
		case word == 0x00100073:
			d.Kind = KindEBREAK
		case word == 0x00200073:
			d.Kind = KindURET
		case word == 0x10200073:
			d.Kind = KindSRET
		case word == 0x20200073:
			d.Kind = KindHRET
		case word == 0x30200073:
			d.Kind = KindMRET
		case word == 0x10500073:
			d.Kind = KindWFI
		case funct7 == 0x09 && bits(word, 11, 7) == 0:
			d.Kind = KindSFENCEVMA
			d.Rs2 = uint8(bits(word, 24, 20))
			return
		default:
			d.Unimplemented = true
		}
		if d.Kind != KindSFENCEVMA {
			d.Rd, d.Rs1 = 0, 0
		}
		return
	}

	d.Rs2 = 0
	d.CSR = uint16(word >> 20)
	switch funct3 {
	case 1:
		d.Kind = KindCSRRW
	case 2:
		d.Kind = KindCSRRS
	case 3:
		d.Kind = KindCSRRC
	case 5:
		d.Kind = KindCSRRWI
	case 6:
		d.Kind = KindCSRRSI
	case 7:
		d.Kind = KindCSRRCI
	default:
		d.Unimplemented = true
		return
	}
	if funct3 >= 5 {
		d.Imm = uint64(bits(word, 19, 15))
		d.Rs1 = 0
	}
}

// deriveAttributes fills the memory-op and classification flags from the
// decoded kind so downstream stages never re-derive them.
func deriveAttributes(d *Decoded) {
	k := d.Kind
	switch k {
	case KindLB, KindLBU:
		d.MemLoad, d.MemSize = true, MemSize1
	case KindLH, KindLHU:
		d.MemLoad, d.MemSize = true, MemSize2
	case KindLW, KindLWU:
		d.MemLoad, d.MemSize = true, MemSize4
	case KindLD, KindFLD:
		d.MemLoad, d.MemSize = true, MemSize8
	case KindSB:
		d.MemStore, d.MemSize = true, MemSize1
	case KindSH:
		d.MemStore, d.MemSize = true, MemSize2
	case KindSW:
		d.MemStore, d.MemSize = true, MemSize4
	case KindSD, KindFSD:
		d.MemStore, d.MemSize = true, MemSize8
	}

	if k.IsAMO() {
		d.AMO = true
		if k <= KindSCW {
			d.MemSize = MemSize4
		} else {
			d.MemSize = MemSize8
		}
		switch k {
		case KindLRW, KindLRD:
			d.MemLoad = true
		case KindSCW, KindSCD:
			d.MemStore = true
		default:
			d.MemLoad = true
			d.MemStore = true
		}
	}

	switch k {
	case KindLB, KindLH, KindLW, KindLD:
		d.MemSignExt = true
	}
	if d.AMO {
		d.MemSignExt = true
	}

	switch k {
	case KindADDIW, KindADDW, KindSLLW, KindSLLIW, KindSRAW, KindSRAIW,
		KindSRLW, KindSRLIW, KindSUBW, KindDIVW, KindDIVUW, KindMULW,
		KindREMW, KindREMUW, KindFCVTDW, KindFCVTDWU, KindFCVTWD, KindFCVTWUD:
		d.RV32 = true
	}
	if d.AMO && d.MemSize == MemSize4 {
		d.RV32 = true
	}

	switch k {
	case KindDIVU, KindREMU, KindDIVUW, KindREMUW, KindMULHU,
		KindFCVTWUD, KindFCVTLUD, KindFCVTDWU, KindFCVTDLU,
		KindAMOMINUW, KindAMOMAXUW, KindAMOMINUD, KindAMOMAXUD:
		d.Unsigned = true
	}

	if k.IsFPU() || k == KindFLD || k == KindFSD {
		d.F64 = true
	}
}
