package pipeline

import (
	"math/bits"

	"github.com/sarchlab/riversim/insts"
)

// u128 is a two's complement 128-bit value.
type u128 struct {
	lo, hi uint64
}

func (a u128) add(b u128) u128 {
	lo, c := bits.Add64(a.lo, b.lo, 0)
	hi, _ := bits.Add64(a.hi, b.hi, c)
	return u128{lo, hi}
}

func (a u128) neg() u128 {
	return u128{^a.lo, ^a.hi}.add(u128{lo: 1})
}

func (a u128) shl(n uint) u128 {
	switch {
	case n == 0:
		return a
	case n >= 64:
		return u128{hi: a.lo << (n - 64)}
	}
	return u128{lo: a.lo << n, hi: a.hi<<n | a.lo>>(64-n)}
}

func (a u128) bit(n uint) uint64 {
	if n >= 64 {
		return a.hi >> (n - 64) & 1
	}
	return a.lo >> n & 1
}

func extend(v uint64, signed bool) u128 {
	if signed && int64(v) < 0 {
		return u128{lo: v, hi: ^uint64(0)}
	}
	return u128{lo: v}
}

// boothDigits is the number of radix-4 digits of a 65-bit multiplier.
const boothDigits = 33

// mulStages is the depth of the multiplier: partial products, two adder
// tree levels and the final sum.
const mulStages = 4

// MulInput starts a multiplication.
type MulInput struct {
	Valid bool
	Kind  insts.Kind
	A, B  uint64
}

// MulOutput holds the multiplier result for one cycle.
type MulOutput struct {
	Valid  bool
	Result uint64
}

// Multiplier is a pipelined radix-4 Booth multiplier. Accepting operands
// generates the partial products; the next three cycles reduce them by a
// tree of 4-input adders and select the result half. An enable shift
// register tracks the operation through the stages.
type Multiplier struct {
	r, n mulState
}

type mulState struct {
	ena  uint8
	kind insts.Kind
	rv32 bool
	high bool
	sums []u128
	out  MulOutput
}

// NewMultiplier creates an idle multiplier.
func NewMultiplier() *Multiplier {
	return &Multiplier{}
}

// Busy reports whether an operation is in flight.
func (m *Multiplier) Busy() bool {
	return m.r.ena != 0
}

// Outputs returns the registered result.
func (m *Multiplier) Outputs() MulOutput {
	return m.r.out
}

// Step advances the pipeline by one stage.
func (m *Multiplier) Step(in MulInput) {
	m.n = m.r
	r, n := &m.r, &m.n
	n.out = MulOutput{}

	switch {
	case r.ena&(1<<(mulStages-2)) != 0:
		n.ena = 0
		n.out = MulOutput{Valid: true, Result: m.result(reduce(r.sums)[0])}
	case r.ena != 0:
		n.ena = r.ena << 1
		n.sums = reduce(r.sums)
	}

	if in.Valid && r.ena == 0 {
		n.ena = 1
		n.kind = in.Kind
		n.rv32 = in.Kind == insts.KindMULW
		n.high = in.Kind == insts.KindMULH || in.Kind == insts.KindMULHSU ||
			in.Kind == insts.KindMULHU
		n.sums = partialProducts(in.Kind, in.A, in.B)
	}
}

// Commit makes the next state current.
func (m *Multiplier) Commit() {
	m.r = m.n
}

func (m *Multiplier) result(p u128) uint64 {
	switch {
	case m.r.high:
		return p.hi
	case m.r.rv32:
		return uint64(int64(int32(uint32(p.lo))))
	}
	return p.lo
}

// partialProducts recodes b into radix-4 Booth digits and returns the
// shifted multiples of a.
func partialProducts(k insts.Kind, a, b uint64) []u128 {
	signedA := k == insts.KindMULH || k == insts.KindMULHSU
	signedB := k == insts.KindMULH
	if k == insts.KindMULW {
		a, b = uint64(uint32(a)), uint64(uint32(b))
	}
	ma := extend(a, signedA)
	mb := extend(b, signedB)

	pp := make([]u128, 0, boothDigits)
	for i := uint(0); i < boothDigits; i++ {
		var prev uint64
		if i > 0 {
			prev = mb.bit(2*i - 1)
		}
		digit := int(mb.bit(2*i)) + int(prev) - 2*int(mb.bit(2*i+1))

		var v u128
		switch digit {
		case 1, -1:
			v = ma
		case 2, -2:
			v = ma.shl(1)
		}
		if digit < 0 {
			v = v.neg()
		}
		pp = append(pp, v.shl(2*i))
	}
	return pp
}

// reduce is one adder-tree level: every four inputs become one sum.
func reduce(in []u128) []u128 {
	out := make([]u128, 0, (len(in)+3)/4)
	for i := 0; i < len(in); i += 4 {
		var s u128
		for j := i; j < i+4 && j < len(in); j++ {
			s = s.add(in[j])
		}
		out = append(out, s)
	}
	return out
}
