package emu

import "github.com/sarchlab/riversim/insts"

// LoadExtend extends a raw loaded value of the given size to 64 bits.
func LoadExtend(raw uint64, size insts.MemSize, signExt bool) uint64 {
	switch size {
	case insts.MemSize1:
		if signExt {
			return uint64(int64(int8(raw)))
		}
		return raw & 0xFF
	case insts.MemSize2:
		if signExt {
			return uint64(int64(int16(raw)))
		}
		return raw & 0xFFFF
	case insts.MemSize4:
		if signExt {
			return sext32(raw)
		}
		return raw & 0xFFFFFFFF
	}
	return raw
}

// Misaligned reports whether addr is not naturally aligned for size.
func Misaligned(addr uint64, size insts.MemSize) bool {
	return addr&uint64(size.Bytes()-1) != 0
}

// AMOOp computes the value an atomic read-modify-write stores back, given
// the value loaded from memory and the rs2 operand. Word forms operate on
// the low 32 bits of both.
func AMOOp(k insts.Kind, mem, src uint64) uint64 {
	word := k <= insts.KindSCW
	if word {
		mem, src = sext32(mem), sext32(src)
	}
	switch k {
	case insts.KindAMOSWAPW, insts.KindAMOSWAPD:
		return src
	case insts.KindAMOADDW, insts.KindAMOADDD:
		return mem + src
	case insts.KindAMOXORW, insts.KindAMOXORD:
		return mem ^ src
	case insts.KindAMOORW, insts.KindAMOORD:
		return mem | src
	case insts.KindAMOANDW, insts.KindAMOANDD:
		return mem & src
	case insts.KindAMOMINW, insts.KindAMOMIND:
		if int64(mem) < int64(src) {
			return mem
		}
		return src
	case insts.KindAMOMAXW, insts.KindAMOMAXD:
		if int64(mem) > int64(src) {
			return mem
		}
		return src
	case insts.KindAMOMINUW, insts.KindAMOMINUD:
		if word {
			if uint32(mem) < uint32(src) {
				return mem
			}
			return src
		}
		if mem < src {
			return mem
		}
		return src
	case insts.KindAMOMAXUW, insts.KindAMOMAXUD:
		if word {
			if uint32(mem) > uint32(src) {
				return mem
			}
			return src
		}
		if mem > src {
			return mem
		}
		return src
	}
	return src
}
