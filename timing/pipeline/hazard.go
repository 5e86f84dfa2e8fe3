package pipeline

import "github.com/sarchlab/riversim/insts"

// Scoreboard tracks, for every register, the tag of the newest write
// Execute has issued. A register is ready when the register bank holds a
// write with that tag, or when such a write is on a write port this cycle.
// x0 is always ready.
type Scoreboard struct {
	expected [NumRegs]uint8
}

// Ready reports whether register idx holds its newest value.
func (s *Scoreboard) Ready(bank *RegBank, idx uint8, ports ...RegWrite) bool {
	_, ok := s.Operand(bank, idx, ports...)
	return ok
}

// Operand returns the newest value of register idx and whether it is
// available yet. Writes on ports are about to be committed to the bank and
// are forwarded.
func (s *Scoreboard) Operand(bank *RegBank, idx uint8, ports ...RegWrite) (uint64, bool) {
	if idx == 0 || int(idx) >= NumRegs {
		return 0, true
	}
	want := s.expected[idx]
	for _, w := range ports {
		if w.Valid && w.Addr == idx && w.Tag == want {
			if w.KeepValue {
				return bank.Value(idx), true
			}
			return w.Data, true
		}
	}
	if bank.Tag(idx) == want {
		return bank.Value(idx), true
	}
	return 0, false
}

// Claim reserves register idx for a new result and returns the tag the
// result must be written with.
func (s *Scoreboard) Claim(idx uint8) uint8 {
	if idx == 0 || int(idx) >= NumRegs {
		return 0
	}
	s.expected[idx]++
	return s.expected[idx]
}

// Expected returns the tag of the newest issued write to idx.
func (s *Scoreboard) Expected(idx uint8) uint8 {
	if int(idx) >= NumRegs {
		return 0
	}
	return s.expected[idx]
}

// OperandsReady reports whether d may issue: both sources hold their newest
// values and no older write to the destination is still in flight.
func (s *Scoreboard) OperandsReady(bank *RegBank, d *insts.Decoded, ports ...RegWrite) bool {
	return s.Ready(bank, d.Rs1, ports...) && s.Ready(bank, d.Rs2, ports...) &&
		s.Ready(bank, d.Rd, ports...)
}
