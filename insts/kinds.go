package insts

// Kind identifies one RISC-V instruction. The numbering matches the bit
// positions of the instruction-kind vector carried through the pipeline.
type Kind uint8

// Instruction kinds.
const (
	KindADD Kind = iota
	KindADDI
	KindADDIW
	KindADDW
	KindAND
	KindANDI
	KindAUIPC
	KindBEQ
	KindBGE
	KindBGEU
	KindBLT
	KindBLTU
	KindBNE
	KindJAL
	KindJALR
	KindLB
	KindLH
	KindLW
	KindLD
	KindLBU
	KindLHU
	KindLWU
	KindLUI
	KindOR
	KindORI
	KindSLLI
	KindSLT
	KindSLTI
	KindSLTU
	KindSLTIU
	KindSLL
	KindSLLW
	KindSLLIW
	KindSRA
	KindSRAW
	KindSRAI
	KindSRAIW
	KindSRL
	KindSRLI
	KindSRLIW
	KindSRLW
	KindSB
	KindSH
	KindSW
	KindSD
	KindSUB
	KindSUBW
	KindXOR
	KindXORI
	KindCSRRW
	KindCSRRS
	KindCSRRC
	KindCSRRWI
	KindCSRRCI
	KindCSRRSI
	KindURET
	KindSRET
	KindHRET
	KindMRET
	KindFENCE
	KindFENCEI
	KindWFI
	KindSFENCEVMA
	KindDIV
	KindDIVU
	KindDIVW
	KindDIVUW
	KindMUL
	KindMULW
	KindMULH
	KindMULHSU
	KindMULHU
	KindREM
	KindREMU
	KindREMW
	KindREMUW
	KindAMOADDW
	KindAMOXORW
	KindAMOORW
	KindAMOANDW
	KindAMOMINW
	KindAMOMAXW
	KindAMOMINUW
	KindAMOMAXUW
	KindAMOSWAPW
	KindLRW
	KindSCW
	KindAMOADDD
	KindAMOXORD
	KindAMOORD
	KindAMOANDD
	KindAMOMIND
	KindAMOMAXD
	KindAMOMINUD
	KindAMOMAXUD
	KindAMOSWAPD
	KindLRD
	KindSCD
	KindECALL
	KindEBREAK
	KindFADDD
	KindFCVTDW
	KindFCVTDWU
	KindFCVTDL
	KindFCVTDLU
	KindFCVTWD
	KindFCVTWUD
	KindFCVTLD
	KindFCVTLUD
	KindFDIVD
	KindFEQD
	KindFLD
	KindFLED
	KindFLTD
	KindFMAXD
	KindFMIND
	KindFMOVDX
	KindFMOVXD
	KindFMULD
	KindFSD
	KindFSUBD

	// NumKinds is the number of instruction kinds.
	NumKinds int = iota
)

// KindInvalid marks a record that decoded to no instruction.
const KindInvalid Kind = 0xFF

var kindNames = [NumKinds]string{
	"add", "addi", "addiw", "addw", "and", "andi", "auipc",
	"beq", "bge", "bgeu", "blt", "bltu", "bne", "jal", "jalr",
	"lb", "lh", "lw", "ld", "lbu", "lhu", "lwu", "lui", "or", "ori",
	"slli", "slt", "slti", "sltu", "sltiu", "sll", "sllw", "slliw",
	"sra", "sraw", "srai", "sraiw", "srl", "srli", "srliw", "srlw",
	"sb", "sh", "sw", "sd", "sub", "subw", "xor", "xori",
	"csrrw", "csrrs", "csrrc", "csrrwi", "csrrci", "csrrsi",
	"uret", "sret", "hret", "mret", "fence", "fence.i", "wfi", "sfence.vma",
	"div", "divu", "divw", "divuw", "mul", "mulw", "mulh", "mulhsu", "mulhu",
	"rem", "remu", "remw", "remuw",
	"amoadd.w", "amoxor.w", "amoor.w", "amoand.w", "amomin.w", "amomax.w",
	"amominu.w", "amomaxu.w", "amoswap.w", "lr.w", "sc.w",
	"amoadd.d", "amoxor.d", "amoor.d", "amoand.d", "amomin.d", "amomax.d",
	"amominu.d", "amomaxu.d", "amoswap.d", "lr.d", "sc.d",
	"ecall", "ebreak",
	"fadd.d", "fcvt.d.w", "fcvt.d.wu", "fcvt.d.l", "fcvt.d.lu",
	"fcvt.w.d", "fcvt.wu.d", "fcvt.l.d", "fcvt.lu.d", "fdiv.d", "feq.d",
	"fld", "fle.d", "flt.d", "fmax.d", "fmin.d", "fmv.d.x", "fmv.x.d",
	"fmul.d", "fsd", "fsub.d",
}

// String returns the assembler mnemonic of the kind.
func (k Kind) String() string {
	if int(k) < NumKinds {
		return kindNames[k]
	}
	return "unknown"
}

// Vector is the one-hot instruction-kind vector. Exactly one bit is set for
// a successfully decoded instruction.
type Vector [2]uint64

// Set marks kind k.
func (v *Vector) Set(k Kind) {
	v[k>>6] |= 1 << (k & 63)
}

// Has reports whether kind k is set.
func (v Vector) Has(k Kind) bool {
	if int(k) >= NumKinds {
		return false
	}
	return v[k>>6]&(1<<(k&63)) != 0
}

// Any reports whether any of the given kinds is set.
func (v Vector) Any(kinds ...Kind) bool {
	for _, k := range kinds {
		if v.Has(k) {
			return true
		}
	}
	return false
}

// Empty reports whether no kind is set.
func (v Vector) Empty() bool {
	return v[0] == 0 && v[1] == 0
}

// Kind returns the lowest kind set in the vector, or KindInvalid.
func (v Vector) Kind() Kind {
	for i := 0; i < NumKinds; i++ {
		if v.Has(Kind(i)) {
			return Kind(i)
		}
	}
	return KindInvalid
}

// Kind groups used by the execute stage.
var (
	branchKinds = []Kind{KindBEQ, KindBGE, KindBGEU, KindBLT, KindBLTU, KindBNE}
	mulKinds    = []Kind{KindMUL, KindMULW, KindMULH, KindMULHSU, KindMULHU}
	divKinds    = []Kind{
		KindDIV, KindDIVU, KindDIVW, KindDIVUW,
		KindREM, KindREMU, KindREMW, KindREMUW,
	}
	csrKinds = []Kind{
		KindCSRRW, KindCSRRS, KindCSRRC, KindCSRRWI, KindCSRRCI, KindCSRRSI,
	}
	fpuKinds = []Kind{
		KindFADDD, KindFSUBD, KindFMULD, KindFDIVD, KindFMIND, KindFMAXD,
		KindFEQD, KindFLTD, KindFLED,
		KindFCVTDW, KindFCVTDWU, KindFCVTDL, KindFCVTDLU,
		KindFCVTWD, KindFCVTWUD, KindFCVTLD, KindFCVTLUD,
		KindFMOVDX, KindFMOVXD,
	}
)

// IsBranch reports whether k is a conditional branch.
func (k Kind) IsBranch() bool { return inKinds(k, branchKinds) }

// IsMul reports whether k is executed by the integer multiplier.
func (k Kind) IsMul() bool { return inKinds(k, mulKinds) }

// IsDiv reports whether k is executed by the integer divider.
func (k Kind) IsDiv() bool { return inKinds(k, divKinds) }

// IsCSR reports whether k is a Zicsr instruction.
func (k Kind) IsCSR() bool { return inKinds(k, csrKinds) }

// IsFPU reports whether k is executed by the floating-point unit.
func (k Kind) IsFPU() bool { return inKinds(k, fpuKinds) }

// IsAMO reports whether k is an atomic memory operation, LR or SC.
func (k Kind) IsAMO() bool { return k >= KindAMOADDW && k <= KindSCD }

// IsXRet reports whether k is a trap return.
func (k Kind) IsXRet() bool { return k >= KindURET && k <= KindMRET }

func inKinds(k Kind, set []Kind) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}
