package pipeline

import "github.com/sarchlab/riversim/insts"

// NumRegs is the size of the shared integer and floating-point register
// index space.
const NumRegs = 64

// RegBank holds the 32 integer and 32 floating-point registers. Every
// register carries the tag of its last write; Execute compares it with
// the tag it expects to know whether a pending result has arrived.
type RegBank struct {
	r, n regBankState
}

type regBankState struct {
	value [NumRegs]uint64
	tag   [NumRegs]uint8

	writes []RegWrite
}

// NewRegBank creates a register bank with every register zero.
func NewRegBank() *RegBank {
	return &RegBank{}
}

// Value returns the committed value of register idx. x0 reads as zero.
func (b *RegBank) Value(idx uint8) uint64 {
	if idx == 0 || int(idx) >= NumRegs {
		return 0
	}
	return b.r.value[idx]
}

// Tag returns the tag of the last committed write to idx.
func (b *RegBank) Tag(idx uint8) uint8 {
	if int(idx) >= NumRegs {
		return 0
	}
	return b.r.tag[idx]
}

// Int returns integer register x[i].
func (b *RegBank) Int(i int) uint64 {
	return b.Value(uint8(i & 31))
}

// Float returns the raw bits of floating-point register f[i].
func (b *RegBank) Float(i int) uint64 {
	return b.Value(uint8(insts.FPReg + i&31))
}

// Step latches the write ports of this cycle. Writes are applied in order
// at Commit, so a later port wins on the same register.
func (b *RegBank) Step(writes ...RegWrite) {
	b.n = b.r
	b.n.writes = b.n.writes[:0:0]
	for _, w := range writes {
		if w.Valid && int(w.Addr) < NumRegs {
			b.n.writes = append(b.n.writes, w)
		}
	}
}

// Commit applies the latched writes.
func (b *RegBank) Commit() {
	b.r = b.n
	for _, w := range b.r.writes {
		b.r.tag[w.Addr] = w.Tag
		if !w.KeepValue && w.Addr != 0 {
			b.r.value[w.Addr] = w.Data
		}
	}
	b.r.writes = nil
	b.n.writes = nil
}

// Poke sets a register outside the cycle discipline. It is used to load
// the initial architectural state before simulation starts.
func (b *RegBank) Poke(idx uint8, v uint64) {
	if idx == 0 || int(idx) >= NumRegs {
		return
	}
	b.r.value[idx] = v
	b.n.value[idx] = v
}
