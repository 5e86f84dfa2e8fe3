package dmi

import (
	"errors"
	"fmt"

	"github.com/sarchlab/riversim/timing/csr"
)

// Driver errors.
var (
	ErrDMIBusy   = errors.New("dmi busy")
	ErrDMIFailed = errors.New("dmi access failed")
	ErrCmdErr    = errors.New("abstract command failed")
	ErrNoHalt    = errors.New("hart did not halt")
	ErrNoResume  = errors.New("hart did not resume")
)

// CommandError reports a non-zero cmderr. It matches ErrCmdErr.
type CommandError struct {
	Code CmdErr
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCmdErr, e.Code)
}

// Unwrap returns ErrCmdErr.
func (e *CommandError) Unwrap() error { return ErrCmdErr }

const (
	defaultIdle = 8
	maxIdle     = 1024
	maxPolls    = 1000
)

// Driver talks to a Debug Module over JTAG: DMI reads and writes through
// the dbus register with busy recovery, and the abstract commands a
// debugger needs on top of them.
type Driver struct {
	host    *Host
	target  Target
	idle    int
	hartsel int
}

// NewDriver resets the TAP of target and returns a driver for it.
func NewDriver(target Target) *Driver {
	d := &Driver{host: NewHost(), target: target, idle: defaultIdle}
	d.host.Reset()
	d.host.Drain(target)
	return d
}

// Host returns the underlying JTAG host.
func (d *Driver) Host() *Host { return d.host }

// IDCode scans the IDCODE register.
func (d *Driver) IDCode() uint32 {
	d.host.ScanDR(IRIDCode, 0, 32)
	d.host.Drain(d.target)
	return uint32(d.host.Result())
}

// DTMControl scans dtmcontrol, writing v.
func (d *Driver) DTMControl(v uint32) uint32 {
	d.host.ScanDR(IRDTMControl, uint64(v), 32)
	d.host.Drain(d.target)
	return uint32(d.host.Result())
}

func (d *Driver) dmiReset() {
	d.DTMControl(DTMControlDMIReset)
}

// HardReset resets the Debug Module through dtmcontrol.dmihardreset.
func (d *Driver) HardReset() {
	d.DTMControl(DTMControlDMIHardReset)
	d.host.Idle(d.idle)
	d.host.Drain(d.target)
}

// access issues one DMI operation and polls with nop scans until its
// result is captured.
func (d *Driver) access(op uint8, addr uint8, data uint32) (uint32, error) {
	d.host.ScanDR(IRDBus, EncodeDBus(op, addr, data), DBusBits)
	d.host.Drain(d.target)

	for d.idle <= maxIdle {
		d.host.Idle(d.idle)
		d.host.ScanDR(IRDBus, EncodeDBus(OpNop, 0, 0), DBusBits)
		d.host.Drain(d.target)

		stat, _, v := DecodeDBus(d.host.Result())
		switch stat {
		case StatSuccess:
			return v, nil
		case StatBusy:
			d.dmiReset()
			d.idle *= 2
		default:
			d.dmiReset()
			return 0, fmt.Errorf("failed to access dmi register %#x: %w", addr, ErrDMIFailed)
		}
	}
	d.idle = defaultIdle
	return 0, fmt.Errorf("failed to access dmi register %#x: %w", addr, ErrDMIBusy)
}

// Read reads a DMI register.
func (d *Driver) Read(addr uint8) (uint32, error) {
	return d.access(OpRead, addr, 0)
}

// Write writes a DMI register.
func (d *Driver) Write(addr uint8, v uint32) error {
	_, err := d.access(OpWrite, addr, v)
	return err
}

// Init activates the Debug Module and selects hart 0.
func (d *Driver) Init() error {
	return d.Select(0)
}

// Select makes hart the target of later requests.
func (d *Driver) Select(hart int) error {
	d.hartsel = hart
	return d.Write(DMControl, d.control())
}

func (d *Driver) control() uint32 {
	return DMControlDMActive | uint32(d.hartsel)<<DMControlHartSelShift
}

// Status reads dmstatus.
func (d *Driver) Status() (uint32, error) {
	return d.Read(DMStatus)
}

// Halted reports whether the selected hart is halted.
func (d *Driver) Halted() (bool, error) {
	s, err := d.Status()
	return s&DMStatusAllHalted != 0, err
}

func (d *Driver) poll(mask uint32, fail error) error {
	for i := 0; i < maxPolls; i++ {
		s, err := d.Status()
		if err != nil {
			return err
		}
		if s&mask != 0 {
			return nil
		}
	}
	return fail
}

// Halt requests a halt of the selected hart and waits for it.
func (d *Driver) Halt() error {
	if err := d.Write(DMControl, d.control()|DMControlHaltReq); err != nil {
		return err
	}
	return d.poll(DMStatusAllHalted, ErrNoHalt)
}

// Resume resumes the selected hart and waits for the acknowledge.
func (d *Driver) Resume() error {
	if err := d.Write(DMControl, d.control()|DMControlResumeReq); err != nil {
		return err
	}
	return d.poll(DMStatusAllResumeAck, ErrNoResume)
}

// Execute writes an abstract command and waits for it to finish. A
// non-zero cmderr is cleared and returned as a *CommandError.
func (d *Driver) Execute(cmd uint32) error {
	if err := d.Write(Command, cmd); err != nil {
		return err
	}
	for i := 0; i < maxPolls; i++ {
		cs, err := d.Read(AbstractCS)
		if err != nil {
			return err
		}
		if cs&AbstractCSBusy != 0 {
			continue
		}
		code := CmdErr((cs & AbstractCSCmdErrMask) >> AbstractCSCmdErrShift)
		if code == CmdErrNone {
			return nil
		}
		if err := d.Write(AbstractCS, AbstractCSCmdErrMask); err != nil {
			return err
		}
		return &CommandError{Code: code}
	}
	return fmt.Errorf("failed to finish command %#x: %w", cmd, ErrDMIBusy)
}

func (d *Driver) read64() (uint64, error) {
	lo, err := d.Read(Data0)
	if err != nil {
		return 0, err
	}
	hi, err := d.Read(Data1)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (d *Driver) write64(v uint64) error {
	if err := d.Write(Data0, uint32(v)); err != nil {
		return err
	}
	return d.Write(Data1, uint32(v>>32))
}

// ReadReg reads abstract register regno: a CSR below 0x1000, x0-x31 at
// 0x1000 and f0-f31 at 0x1020.
func (d *Driver) ReadReg(regno uint16) (uint64, error) {
	if err := d.Execute(AccessRegister(regno, 3, false, false)); err != nil {
		return 0, err
	}
	return d.read64()
}

// WriteReg writes abstract register regno.
func (d *Driver) WriteReg(regno uint16, v uint64) error {
	if err := d.write64(v); err != nil {
		return err
	}
	return d.Execute(AccessRegister(regno, 3, true, false))
}

func (d *Driver) setAddr(addr uint64) error {
	if err := d.Write(Data2, uint32(addr)); err != nil {
		return err
	}
	return d.Write(Data3, uint32(addr>>32))
}

// ReadMem reads 2^size bytes at addr.
func (d *Driver) ReadMem(addr uint64, size uint32) (uint64, error) {
	if err := d.setAddr(addr); err != nil {
		return 0, err
	}
	if err := d.Execute(AccessMemory(size, false, false)); err != nil {
		return 0, err
	}
	return d.read64()
}

// WriteMem writes the low 2^size bytes of v at addr.
func (d *Driver) WriteMem(addr uint64, v uint64, size uint32) error {
	if err := d.setAddr(addr); err != nil {
		return err
	}
	if err := d.write64(v); err != nil {
		return err
	}
	return d.Execute(AccessMemory(size, true, false))
}

// ExecProgbuf loads words into the program buffer and runs it on the
// halted hart.
func (d *Driver) ExecProgbuf(words []uint32) error {
	if len(words) > ProgbufCount {
		return fmt.Errorf("program of %d words exceeds the program buffer", len(words))
	}
	for i, w := range words {
		if err := d.Write(Progbuf0+uint8(i), w); err != nil {
			return err
		}
	}
	return d.Execute(CmdAccessRegister<<cmdTypeShift | CmdPostexec)
}

const dcsrStep = 1 << 2

// Step runs one instruction on the halted hart through dcsr.step.
func (d *Driver) Step() error {
	dcsr, err := d.ReadReg(csr.Dcsr)
	if err != nil {
		return err
	}
	if err := d.WriteReg(csr.Dcsr, dcsr|dcsrStep); err != nil {
		return err
	}
	if err := d.Resume(); err != nil {
		return err
	}
	if err := d.poll(DMStatusAllHalted, ErrNoHalt); err != nil {
		return err
	}
	return d.WriteReg(csr.Dcsr, dcsr&^dcsrStep)
}
