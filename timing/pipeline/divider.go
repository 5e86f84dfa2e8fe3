package pipeline

import "github.com/sarchlab/riversim/insts"

// divIterations is the number of radix-16 steps for a 64-bit dividend.
const divIterations = 16

// DivInput starts a division.
type DivInput struct {
	Valid bool
	Kind  insts.Kind
	A, B  uint64
}

// DivOutput holds the divider result for one cycle.
type DivOutput struct {
	Valid  bool
	Result uint64
}

// Divider is a restoring, non-performing divider. A setup cycle takes the
// operand magnitudes; each of the following sixteen cycles retires four
// quotient bits, and the last one applies the signs.
type Divider struct {
	r, n divState
}

type divState struct {
	busy     bool
	count    int
	rem      bool // result is the remainder
	rv32     bool
	negQ     bool
	negR     bool
	byZero   bool
	dividend uint64 // original operand, for division by zero
	divisor  uint64
	shift    uint64 // dividend bits not yet consumed
	partial  uint64
	quotient uint64
	out      DivOutput
}

// NewDivider creates an idle divider.
func NewDivider() *Divider {
	return &Divider{}
}

// Busy reports whether an operation is in flight.
func (d *Divider) Busy() bool {
	return d.r.busy
}

// Outputs returns the registered result.
func (d *Divider) Outputs() DivOutput {
	return d.r.out
}

// Step accepts operands or runs one iteration.
func (d *Divider) Step(in DivInput) {
	d.n = d.r
	r, n := &d.r, &d.n
	n.out = DivOutput{}

	if !r.busy {
		if in.Valid {
			d.setup(in)
		}
		return
	}

	rem, q, sh := r.partial, r.quotient, r.shift
	for i := 0; i < 4; i++ {
		carry := rem >> 63
		rem = rem<<1 | sh>>63
		sh <<= 1
		q <<= 1
		if carry != 0 || rem >= r.divisor {
			rem -= r.divisor
			q |= 1
		}
	}
	n.partial, n.quotient, n.shift = rem, q, sh
	n.count = r.count - 1
	if n.count == 0 {
		n.busy = false
		n.out = DivOutput{Valid: true, Result: d.result(q, rem)}
	}
}

// Commit makes the next state current.
func (d *Divider) Commit() {
	d.r = d.n
}

func (d *Divider) setup(in DivInput) {
	n := &d.n
	k := in.Kind
	signed := k == insts.KindDIV || k == insts.KindREM ||
		k == insts.KindDIVW || k == insts.KindREMW
	n.rv32 = k == insts.KindDIVW || k == insts.KindDIVUW ||
		k == insts.KindREMW || k == insts.KindREMUW
	n.rem = k == insts.KindREM || k == insts.KindREMU ||
		k == insts.KindREMW || k == insts.KindREMUW

	a, b := in.A, in.B
	if n.rv32 {
		if signed {
			a, b = uint64(int64(int32(a))), uint64(int64(int32(b)))
		} else {
			a, b = uint64(uint32(a)), uint64(uint32(b))
		}
	}
	n.dividend = a
	n.byZero = b == 0
	n.negQ, n.negR = false, false
	if signed {
		n.negR = int64(a) < 0
		n.negQ = n.negR != (int64(b) < 0)
		if int64(a) < 0 {
			a = -a
		}
		if int64(b) < 0 {
			b = -b
		}
	}

	n.busy = true
	n.count = divIterations
	n.divisor = b
	n.shift = a
	n.partial = 0
	n.quotient = 0
}

func (d *Divider) result(q, rem uint64) uint64 {
	r := &d.r
	var v uint64
	switch {
	case r.byZero && r.rem:
		v = r.dividend
	case r.byZero:
		v = ^uint64(0)
	case r.rem:
		v = rem
		if r.negR {
			v = -v
		}
	default:
		v = q
		if r.negQ {
			v = -v
		}
	}
	if r.rv32 {
		v = uint64(int64(int32(uint32(v))))
	}
	return v
}
