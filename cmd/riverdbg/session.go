package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/core"
	"github.com/sarchlab/riversim/timing/csr"
	"github.com/sarchlab/riversim/timing/dmi"
	"github.com/sarchlab/riversim/timing/pipeline"
)

const (
	ebreak  = 0x00100073
	cEbreak = 0x9002
	fenceI  = 0x0000100F

	dcsrEbreakM = 1 << 15
)

var csrNames = map[string]uint16{
	"fflags": csr.Fflags, "frm": csr.Frm, "fcsr": csr.Fcsr,
	"cycle": csr.Cycle, "time": csr.Time, "instret": csr.Instret,
	"sstatus": csr.Sstatus, "sie": csr.Sie, "stvec": csr.Stvec,
	"sscratch": csr.Sscratch, "sepc": csr.Sepc, "scause": csr.Scause,
	"stval": csr.Stval, "sip": csr.Sip, "satp": csr.Satp,
	"mhartid": csr.Mhartid, "mstatus": csr.Mstatus, "misa": csr.Misa,
	"medeleg": csr.Medeleg, "mideleg": csr.Mideleg, "mie": csr.Mie,
	"mtvec": csr.Mtvec, "mscratch": csr.Mscratch, "mepc": csr.Mepc,
	"mcause": csr.Mcause, "mtval": csr.Mtval, "mip": csr.Mip,
	"mcycle": csr.Mcycle, "minstret": csr.Minstret,
	"dcsr": csr.Dcsr, "dpc": csr.Dpc, "pc": csr.Dpc,
	"dscratch0": csr.Dscratch0, "dscratch1": csr.Dscratch1,
	"mstackovr": csr.Mstackovr, "mstackund": csr.Mstackund,
}

// ErrNotHalted is returned for requests that need a halted hart.
var ErrNotHalted = errors.New("hart is running")

type breakpoint struct {
	orig uint32
	size uint32
}

// Session is a debugger attached to a core through its JTAG port.
// Software breakpoints patch EBREAK into memory and rely on dcsr.ebreakm
// to enter debug mode.
type Session struct {
	core   *core.Core
	drv    *dmi.Driver
	hart   int
	breaks map[uint64]breakpoint
}

// NewSession activates the Debug Module of c.
func NewSession(c *core.Core) (*Session, error) {
	drv, err := c.Debugger()
	if err != nil {
		return nil, err
	}
	return &Session{core: c, drv: drv, breaks: make(map[uint64]breakpoint)}, nil
}

// Core returns the debugged core.
func (s *Session) Core() *core.Core { return s.core }

// Driver returns the JTAG driver.
func (s *Session) Driver() *dmi.Driver { return s.drv }

// Hart returns the selected hart.
func (s *Session) Hart() int { return s.hart }

// SelectHart makes hart the target of later requests.
func (s *Session) SelectHart(hart int) error {
	if hart < 0 || hart >= s.core.NumHarts() {
		return fmt.Errorf("hart %d out of range [0, %d)", hart, s.core.NumHarts())
	}
	if err := s.drv.Select(hart); err != nil {
		return err
	}
	s.hart = hart
	return nil
}

// Halted reports whether the selected hart is in debug mode.
func (s *Session) Halted() bool {
	return s.core.Hart(s.hart).Halted()
}

// Halt stops the selected hart.
func (s *Session) Halt() error {
	return s.drv.Halt()
}

// PC returns the address the hart resumes at.
func (s *Session) PC() (uint64, error) {
	return s.drv.ReadReg(csr.Dpc)
}

// Resume continues execution, stepping over a breakpoint at the PC.
func (s *Session) Resume() error {
	if err := s.stepOverBreakpoint(); err != nil {
		return err
	}
	return s.drv.Resume()
}

// Step executes one instruction.
func (s *Session) Step() error {
	pc, err := s.PC()
	if err != nil {
		return err
	}
	bp, ok := s.breaks[pc]
	if !ok {
		return s.drv.Step()
	}

	if err := s.patch(pc, bp.orig, bp.size); err != nil {
		return err
	}
	if err := s.drv.Step(); err != nil {
		return err
	}
	return s.patch(pc, breakWord(bp), bp.size)
}

func (s *Session) stepOverBreakpoint() error {
	pc, err := s.PC()
	if err != nil {
		return err
	}
	if _, ok := s.breaks[pc]; !ok {
		return nil
	}
	return s.Step()
}

// Continue resumes the hart and runs the core until the hart halts, the
// program exits or maxCycles core cycles pass. It returns why it stopped.
func (s *Session) Continue(maxCycles uint64) (string, error) {
	if err := s.Resume(); err != nil {
		return "", err
	}
	for i := uint64(0); maxCycles == 0 || i < maxCycles; i++ {
		if s.Halted() {
			pc, err := s.PC()
			if err != nil {
				return "", err
			}
			if _, ok := s.breaks[pc]; ok {
				return fmt.Sprintf("breakpoint at 0x%x", pc), nil
			}
			return fmt.Sprintf("halted at 0x%x", pc), nil
		}
		if s.core.Exited() {
			return fmt.Sprintf("exited with code %d", s.core.ExitCode()), nil
		}
		s.core.Tick()
	}
	return fmt.Sprintf("still running after %d cycles", maxCycles), nil
}

// Run ticks the core for n cycles without touching the harts.
func (s *Session) Run(n uint64) {
	for i := uint64(0); i < n; i++ {
		s.core.Tick()
	}
}

// RegNo resolves a register name to an abstract register number: "pc", a
// CSR name or number, or an integer or FP register by ABI or numeric name.
func RegNo(name string) (uint16, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if addr, ok := csrNames[name]; ok {
		return addr, nil
	}
	if idx, ok := insts.RegIndex(name); ok {
		return pipeline.RegGPRBase + uint16(idx), nil
	}
	if v, err := strconv.ParseUint(name, 0, 12); err == nil {
		return uint16(v), nil
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

// ReadRegister reads a register by name.
func (s *Session) ReadRegister(name string) (uint64, error) {
	regno, err := RegNo(name)
	if err != nil {
		return 0, err
	}
	return s.drv.ReadReg(regno)
}

// WriteRegister writes a register by name.
func (s *Session) WriteRegister(name string, v uint64) error {
	regno, err := RegNo(name)
	if err != nil {
		return err
	}
	return s.drv.WriteReg(regno, v)
}

// SizeLog2 converts an access size in bytes to the abstract command
// encoding.
func SizeLog2(bytes int) (uint32, error) {
	switch bytes {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, fmt.Errorf("invalid access size %d", bytes)
}

// ReadMemory reads bytes (1, 2, 4 or 8) at addr.
func (s *Session) ReadMemory(addr uint64, bytes int) (uint64, error) {
	size, err := SizeLog2(bytes)
	if err != nil {
		return 0, err
	}
	return s.drv.ReadMem(addr, size)
}

// WriteMemory writes the low bytes of v at addr.
func (s *Session) WriteMemory(addr uint64, v uint64, bytes int) error {
	size, err := SizeLog2(bytes)
	if err != nil {
		return err
	}
	return s.drv.WriteMem(addr, v, size)
}

// patch writes an instruction and makes it visible to fetch.
func (s *Session) patch(addr uint64, word uint32, size uint32) error {
	if err := s.drv.WriteMem(addr, uint64(word), size); err != nil {
		return err
	}
	return s.drv.ExecProgbuf([]uint32{fenceI, ebreak})
}

func breakWord(bp breakpoint) uint32 {
	if bp.size == 1 {
		return cEbreak
	}
	return ebreak
}

// SetBreakpoint patches an EBREAK at addr. The hart must be halted.
func (s *Session) SetBreakpoint(addr uint64) error {
	if _, ok := s.breaks[addr]; ok {
		return nil
	}
	if !s.Halted() {
		return ErrNotHalted
	}

	dcsr, err := s.drv.ReadReg(csr.Dcsr)
	if err != nil {
		return err
	}
	if dcsr&dcsrEbreakM == 0 {
		if err := s.drv.WriteReg(csr.Dcsr, dcsr|dcsrEbreakM); err != nil {
			return err
		}
	}

	bp := breakpoint{size: 2}
	half, err := s.drv.ReadMem(addr, 1)
	if err != nil {
		return err
	}
	if insts.IsCompressed(uint32(half)) {
		bp.size = 1
		bp.orig = uint32(half)
	} else {
		word, err := s.drv.ReadMem(addr, 2)
		if err != nil {
			return err
		}
		bp.orig = uint32(word)
	}

	if err := s.patch(addr, breakWord(bp), bp.size); err != nil {
		return err
	}
	s.breaks[addr] = bp
	return nil
}

// ClearBreakpoint restores the instruction at addr.
func (s *Session) ClearBreakpoint(addr uint64) error {
	bp, ok := s.breaks[addr]
	if !ok {
		return fmt.Errorf("no breakpoint at 0x%x", addr)
	}
	if !s.Halted() {
		return ErrNotHalted
	}
	if err := s.patch(addr, bp.orig, bp.size); err != nil {
		return err
	}
	delete(s.breaks, addr)
	return nil
}

// Breakpoints returns the breakpoint addresses in ascending order.
func (s *Session) Breakpoints() []uint64 {
	addrs := make([]uint64, 0, len(s.breaks))
	for a := range s.breaks {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
