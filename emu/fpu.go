package emu

import (
	"math"

	"github.com/sarchlab/riversim/insts"
)

// Floating-point exception flags, as accumulated in fflags.
const (
	FlagNX uint64 = 1 << iota // inexact
	FlagUF                    // underflow
	FlagOF                    // overflow
	FlagDZ                    // divide by zero
	FlagNV                    // invalid operation
)

// Rounding modes encoded in the rm field and in frm.
const (
	RoundNearestEven uint8 = 0
	RoundTowardZero  uint8 = 1
	RoundDown        uint8 = 2
	RoundUp          uint8 = 3
	RoundNearestMax  uint8 = 4
	RoundDynamic     uint8 = 7
)

// CanonicalNaN is the RISC-V canonical double-precision quiet NaN.
const CanonicalNaN uint64 = 0x7FF8000000000000

// RoundingMode returns the static rounding mode of d, resolving the dynamic
// encoding against frm.
func RoundingMode(d *insts.Decoded, frm uint8) uint8 {
	if d.Compressed {
		return frm
	}
	rm := uint8(d.Instr>>12) & 7
	if rm == RoundDynamic {
		return frm
	}
	return rm
}

func isSignalingNaN(v uint64) bool {
	return v&0x7FF0000000000000 == 0x7FF0000000000000 &&
		v&0x000FFFFFFFFFFFFF != 0 && v&0x0008000000000000 == 0
}

func isNaN(v uint64) bool {
	return math.IsNaN(math.Float64frombits(v))
}

// FPUOp executes a double-precision operation on raw register bits and
// returns the result bits and the raised exception flags. Integer operands
// and results (conversions, compares, moves) travel in the same uint64.
func FPUOp(k insts.Kind, a, b uint64, rm uint8) (uint64, uint64) {
	fa, fb := math.Float64frombits(a), math.Float64frombits(b)
	switch k {
	case insts.KindFADDD:
		return arith(fa+fb, a, b, fa, fb, false)
	case insts.KindFSUBD:
		return arith(fa-fb, a, b, fa, fb, false)
	case insts.KindFMULD:
		return arith(fa*fb, a, b, fa, fb, false)
	case insts.KindFDIVD:
		return arith(fa/fb, a, b, fa, fb, true)
	case insts.KindFMIND, insts.KindFMAXD:
		return minMax(k == insts.KindFMAXD, a, b)
	case insts.KindFEQD:
		var flags uint64
		if isSignalingNaN(a) || isSignalingNaN(b) {
			flags = FlagNV
		}
		return boolToU64(fa == fb), flags
	case insts.KindFLTD, insts.KindFLED:
		if isNaN(a) || isNaN(b) {
			return 0, FlagNV
		}
		if k == insts.KindFLTD {
			return boolToU64(fa < fb), 0
		}
		return boolToU64(fa <= fb), 0
	case insts.KindFCVTDW:
		return math.Float64bits(float64(int32(uint32(a)))), 0
	case insts.KindFCVTDWU:
		return math.Float64bits(float64(uint32(a))), 0
	case insts.KindFCVTDL:
		return convertFromInt64(int64(a), rm)
	case insts.KindFCVTDLU:
		return convertFromUint64(a, rm)
	case insts.KindFCVTWD:
		v, flags := toInt(fa, rm, math.MinInt32, math.MaxInt32)
		return sext32(uint64(v)), flags
	case insts.KindFCVTWUD:
		v, flags := toUint(fa, rm, math.MaxUint32)
		return sext32(v), flags
	case insts.KindFCVTLD:
		v, flags := toInt(fa, rm, math.MinInt64, math.MaxInt64)
		return uint64(v), flags
	case insts.KindFCVTLUD:
		return toUint(fa, rm, math.MaxUint64)
	case insts.KindFMOVDX, insts.KindFMOVXD:
		return a, 0
	}
	return 0, 0
}

func arith(r float64, a, b uint64, fa, fb float64, div bool) (uint64, uint64) {
	var flags uint64
	if isSignalingNaN(a) || isSignalingNaN(b) {
		flags |= FlagNV
	}
	if math.IsNaN(r) {
		if !isNaN(a) && !isNaN(b) {
			flags |= FlagNV
		}
		return CanonicalNaN, flags
	}
	if div && fb == 0 && !math.IsInf(fa, 0) {
		flags |= FlagDZ
	}
	if math.IsInf(r, 0) && !math.IsInf(fa, 0) && !math.IsInf(fb, 0) && !(div && fb == 0) {
		flags |= FlagOF | FlagNX
	}
	return math.Float64bits(r), flags
}

func minMax(isMax bool, a, b uint64) (uint64, uint64) {
	var flags uint64
	if isSignalingNaN(a) || isSignalingNaN(b) {
		flags = FlagNV
	}
	switch {
	case isNaN(a) && isNaN(b):
		return CanonicalNaN, flags
	case isNaN(a):
		return b, flags
	case isNaN(b):
		return a, flags
	}
	fa, fb := math.Float64frombits(a), math.Float64frombits(b)
	if fa == fb {
		// -0.0 orders below +0.0
		negA := a>>63 != 0
		if negA != isMax {
			return a, flags
		}
		return b, flags
	}
	if (fa > fb) == isMax {
		return a, flags
	}
	return b, flags
}

func convertFromInt64(v int64, rm uint8) (uint64, uint64) {
	if v < 0 {
		if v == math.MinInt64 {
			return math.Float64bits(-9223372036854775808.0), 0
		}
		bits, flags := convertFromUint64(uint64(-v), mirrorRounding(rm))
		return bits | 1<<63, flags
	}
	return convertFromUint64(uint64(v), rm)
}

// mirrorRounding maps a rounding mode for a negative value onto the
// equivalent mode for its magnitude.
func mirrorRounding(rm uint8) uint8 {
	switch rm {
	case RoundDown:
		return RoundUp
	case RoundUp:
		return RoundDown
	}
	return rm
}

func convertFromUint64(v uint64, rm uint8) (uint64, uint64) {
	f := float64(v)
	if v < 1<<53 {
		return math.Float64bits(f), 0
	}
	// float64(v) rounds to nearest even. Adjust for the other modes.
	back, exact := floatToUint64(f)
	if exact && back == v {
		return math.Float64bits(f), 0
	}
	down, up := f, f
	if !exact || back > v {
		down = math.Nextafter(f, 0)
	} else {
		up = math.Nextafter(f, math.Inf(1))
	}
	switch rm {
	case RoundTowardZero, RoundDown:
		f = down
	case RoundUp:
		f = up
	}
	return math.Float64bits(f), FlagNX
}

// floatToUint64 converts a non-negative integral float, reporting whether
// it fits.
func floatToUint64(f float64) (uint64, bool) {
	if f >= 18446744073709551616.0 {
		return math.MaxUint64, false
	}
	return uint64(f), true
}

func roundFloat(f float64, rm uint8) float64 {
	switch rm {
	case RoundTowardZero:
		return math.Trunc(f)
	case RoundDown:
		return math.Floor(f)
	case RoundUp:
		return math.Ceil(f)
	case RoundNearestMax:
		return math.Round(f)
	}
	return math.RoundToEven(f)
}

func toInt(f float64, rm uint8, lo, hi int64) (int64, uint64) {
	if math.IsNaN(f) {
		return hi, FlagNV
	}
	r := roundFloat(f, rm)
	if r < float64(lo) {
		return lo, FlagNV
	}
	if r >= -float64(lo) {
		if r > float64(hi) || hi == math.MaxInt64 {
			return hi, FlagNV
		}
	}
	var flags uint64
	if r != f {
		flags = FlagNX
	}
	return int64(r), flags
}

func toUint(f float64, rm uint8, hi uint64) (uint64, uint64) {
	if math.IsNaN(f) {
		return hi, FlagNV
	}
	r := roundFloat(f, rm)
	if r < 0 {
		return 0, FlagNV
	}
	if r > float64(hi) || (hi == math.MaxUint64 && r >= 18446744073709551616.0) {
		return hi, FlagNV
	}
	var flags uint64
	if r != f {
		flags = FlagNX
	}
	return uint64(r), flags
}
