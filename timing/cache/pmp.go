package cache

// NumPMPRegions is the number of physical memory protection regions.
const NumPMPRegions = 8

// Privilege modes as seen by the PMP checker.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// Access is the kind of access being checked.
type Access uint8

// Access kinds.
const (
	AccessRead Access = iota
	AccessWrite
	AccessExec
)

// PMPRegion is one decoded protection region covering [Start, End].
type PMPRegion struct {
	Start uint64
	End   uint64
	R     bool
	W     bool
	X     bool
	Lock  bool
	Valid bool
}

// PMPUpdate writes region Index. The CSR unit streams one update per cycle
// after a pmpcfg or pmpaddr write and after reset.
type PMPUpdate struct {
	Valid  bool
	Index  int
	Region PMPRegion
}

// PMPInput is sampled by the checker each cycle.
type PMPInput struct {
	Update PMPUpdate
	Priv   uint8
}

type pmpState struct {
	regions [NumPMPRegions]PMPRegion
	priv    uint8
}

// PMP checks physical accesses against the protection regions of one hart.
// Machine-mode accesses are only checked against locked regions. The lowest
// numbered matching region decides; an S or U access that matches nothing
// faults only when at least one region is valid.
type PMP struct {
	r, n pmpState
}

// NewPMP creates a checker with every region off, in machine mode.
func NewPMP() *PMP {
	p := &PMP{}
	p.r.priv = PrivMachine
	p.n = p.r
	return p
}

// Region returns committed region i.
func (p *PMP) Region(i int) PMPRegion {
	return p.r.regions[i]
}

// Step latches a region update and the current privilege mode.
func (p *PMP) Step(in PMPInput) {
	p.n = p.r
	p.n.priv = in.Priv
	if in.Update.Valid && in.Update.Index >= 0 && in.Update.Index < NumPMPRegions {
		p.n.regions[in.Update.Index] = in.Update.Region
	}
}

// Commit makes the next state current.
func (p *PMP) Commit() {
	p.r = p.n
}

// Allowed reports whether an access of kind acc to addr is permitted. A
// nil checker allows everything.
func (p *PMP) Allowed(addr uint64, acc Access) bool {
	if p == nil {
		return true
	}
	machine := p.r.priv == PrivMachine
	anyValid := false
	for i := range p.r.regions {
		reg := &p.r.regions[i]
		if !reg.Valid {
			continue
		}
		anyValid = true
		if addr < reg.Start || addr > reg.End {
			continue
		}
		if machine && !reg.Lock {
			return true
		}
		switch acc {
		case AccessRead:
			return reg.R
		case AccessWrite:
			return reg.W
		default:
			return reg.X
		}
	}
	return machine || !anyValid
}
