package emu

import (
	"math"
	"math/bits"

	"github.com/sarchlab/riversim/insts"
)

func sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

// IntOp computes a single-cycle integer operation. a is the rs1 operand (or
// the PC for AUIPC) and b is the rs2 operand or the immediate.
func IntOp(k insts.Kind, a, b uint64) uint64 {
	switch k {
	case insts.KindADD, insts.KindADDI, insts.KindAUIPC:
		return a + b
	case insts.KindADDW, insts.KindADDIW:
		return sext32(a + b)
	case insts.KindSUB:
		return a - b
	case insts.KindSUBW:
		return sext32(a - b)
	case insts.KindAND, insts.KindANDI:
		return a & b
	case insts.KindOR, insts.KindORI:
		return a | b
	case insts.KindXOR, insts.KindXORI:
		return a ^ b
	case insts.KindLUI:
		return b
	case insts.KindSLT, insts.KindSLTI:
		return boolToU64(int64(a) < int64(b))
	case insts.KindSLTU, insts.KindSLTIU:
		return boolToU64(a < b)
	case insts.KindSLL, insts.KindSLLI:
		return a << (b & 63)
	case insts.KindSRL, insts.KindSRLI:
		return a >> (b & 63)
	case insts.KindSRA, insts.KindSRAI:
		return uint64(int64(a) >> (b & 63))
	case insts.KindSLLW, insts.KindSLLIW:
		return sext32(uint64(uint32(a) << (b & 31)))
	case insts.KindSRLW, insts.KindSRLIW:
		return sext32(uint64(uint32(a) >> (b & 31)))
	case insts.KindSRAW, insts.KindSRAIW:
		return uint64(int64(int32(uint32(a)) >> (b & 31)))
	}
	return 0
}

// MulOp computes a multiply. The high-half forms return the upper 64 bits
// of the 128-bit product.
func MulOp(k insts.Kind, a, b uint64) uint64 {
	switch k {
	case insts.KindMUL:
		return a * b
	case insts.KindMULW:
		return sext32(uint64(uint32(a) * uint32(b)))
	case insts.KindMULHU:
		hi, _ := bits.Mul64(a, b)
		return hi
	case insts.KindMULH:
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		return hi
	case insts.KindMULHSU:
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		return hi
	}
	return 0
}

// DivOp computes a divide or remainder with RISC-V semantics: division by
// zero yields all ones (quotient) or the dividend (remainder), and signed
// overflow yields the dividend (quotient) or zero (remainder).
func DivOp(k insts.Kind, a, b uint64) uint64 {
	switch k {
	case insts.KindDIV:
		return uint64(sdiv64(int64(a), int64(b)))
	case insts.KindDIVU:
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case insts.KindREM:
		return uint64(srem64(int64(a), int64(b)))
	case insts.KindREMU:
		if b == 0 {
			return a
		}
		return a % b
	case insts.KindDIVW:
		return uint64(int64(sdiv32(int32(a), int32(b))))
	case insts.KindDIVUW:
		x, y := uint32(a), uint32(b)
		if y == 0 {
			return math.MaxUint64
		}
		return sext32(uint64(x / y))
	case insts.KindREMW:
		return uint64(int64(srem32(int32(a), int32(b))))
	case insts.KindREMUW:
		x, y := uint32(a), uint32(b)
		if y == 0 {
			return sext32(uint64(x))
		}
		return sext32(uint64(x % y))
	}
	return 0
}

func sdiv64(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	}
	return a / b
}

func srem64(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	}
	return a % b
}

func sdiv32(a, b int32) int32 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt32 && b == -1:
		return a
	}
	return a / b
}

func srem32(a, b int32) int32 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt32 && b == -1:
		return 0
	}
	return a % b
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
