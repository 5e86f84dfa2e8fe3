package csr

import "github.com/sarchlab/riversim/timing/cache"

// PMP address-matching modes in pmpcfg.A.
const (
	pmpOff   = 0
	pmpTOR   = 1
	pmpNA4   = 2
	pmpNAPOT = 3
)

// streamPMP sends the lowest pending region to the checker, one per cycle.
func (c *Regs) streamPMP() {
	r, n := &c.r, &c.n
	if r.pmpPending == 0 {
		n.pmpUpdate = cache.PMPUpdate{}
		return
	}
	i := 0
	for r.pmpPending&(1<<uint(i)) == 0 {
		i++
	}
	n.pmpPending &^= 1 << uint(i)
	n.pmpUpdate = cache.PMPUpdate{Valid: true, Index: i, Region: c.decodePMP(i)}
}

// decodePMP turns pmpcfg and pmpaddr of region i into an inclusive byte
// range.
func (c *Regs) decodePMP(i int) cache.PMPRegion {
	r := &c.r
	cfg := r.pcfg[i]
	addr := r.pmp[i]
	reg := cache.PMPRegion{
		R:     cfg&1 != 0,
		W:     cfg&2 != 0,
		X:     cfg&4 != 0,
		Lock:  cfg&0x80 != 0,
		Valid: true,
	}

	switch cfg >> 3 & 3 {
	case pmpOff:
		return cache.PMPRegion{}
	case pmpTOR:
		var base uint64
		if i > 0 {
			base = r.pmp[i-1] << 2
		}
		top := addr << 2
		if top <= base {
			return cache.PMPRegion{}
		}
		reg.Start, reg.End = base, top-1
	case pmpNA4:
		reg.Start = addr << 2
		reg.End = reg.Start + 3
	case pmpNAPOT:
		size := napotSize(addr)
		if size == 0 {
			reg.Start, reg.End = 0, ^uint64(0)
			break
		}
		reg.Start = (addr << 2) &^ (size - 1)
		reg.End = reg.Start + size - 1
	}
	return reg
}
