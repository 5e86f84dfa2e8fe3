package emu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/riversim/insts"
)

// ErrMaxInstructions is returned once the instruction limit is reached.
var ErrMaxInstructions = errors.New("max instructions reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated (via exit syscall or tohost).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator executes RV64 instructions functionally, one per Step.
type Emulator struct {
	regFile        *RegFile
	csr            *CSRFile
	memory         *Memory
	decoder        *insts.Decoder
	syscallHandler SyscallHandler

	stdout io.Writer
	stderr io.Writer

	toHost      uint64
	toHostValid bool

	reservation      uint64
	reservationValid bool

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithStackPointer sets the initial stack pointer (x2).
func WithStackPointer(sp uint64) EmulatorOption {
	return func(e *Emulator) {
		e.regFile.WriteReg(2, sp)
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithToHost makes a non-zero store to addr terminate the program with
// exit code value>>1.
func WithToHost(addr uint64) EmulatorOption {
	return func(e *Emulator) {
		e.toHost = addr
		e.toHostValid = true
	}
}

// WithMemory runs the emulator on an existing memory image.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// NewEmulator creates a new RV64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		csr:     &CSRFile{},
		memory:  nil,
		decoder: insts.NewDecoder(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	e.csr.instret = &e.instructionCount

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = NewMemory()
	}
	if e.syscallHandler == nil {
		e.syscallHandler = NewDefaultSyscallHandler(e.regFile, e.memory, e.stdout, e.stderr)
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// CSR returns the emulator's CSR file.
func (e *Emulator) CSR() *CSRFile {
	return e.csr
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// LoadProgram copies program to addr and sets the PC to entry.
func (e *Emulator) LoadProgram(addr, entry uint64, program []byte) error {
	if err := e.memory.LoadProgram(addr, program); err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}
	e.regFile.PC = entry
	return nil
}

// SetPC sets the address of the next instruction.
func (e *Emulator) SetPC(pc uint64) {
	e.regFile.PC = pc
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	pc := e.regFile.PC
	word, err := e.fetch(pc)
	if err != nil {
		e.instructionCount++
		return e.trap(pc, CauseInstrFault, pc)
	}
	d := e.decoder.Decode(word, pc)

	result := e.execute(d)
	e.instructionCount++

	return result
}

// fetch reads the instruction at pc. Only the halfword at pc needs to be
// mapped for a compressed instruction.
func (e *Emulator) fetch(pc uint64) (uint32, error) {
	low, err := e.memory.Load(pc, 2)
	if err != nil {
		return 0, err
	}
	if !insts.IsCompressed(uint32(low)) {
		word, err := e.memory.Load(pc, 4)
		if err != nil {
			return 0, err
		}
		return uint32(word), nil
	}
	return uint32(low), nil
}

// Run executes instructions until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}

func (e *Emulator) execute(d *insts.Decoded) StepResult {
	if d.Unimplemented {
		return e.trap(d.PC, CauseIllegalInstr, uint64(d.Instr))
	}

	rf := e.regFile
	k := d.Kind
	a, b := rf.Read(d.Rs1), rf.Read(d.Rs2)
	next := d.PC + d.Length()

	switch {
	case k == insts.KindJAL || k == insts.KindJALR:
		target := NextPC(d, a, b)
		rf.Write(d.Rd, next)
		next = target
	case k.IsBranch():
		next = NextPC(d, a, b)
	case k == insts.KindAUIPC:
		rf.Write(d.Rd, d.PC+d.Imm)
	case k == insts.KindLUI:
		rf.Write(d.Rd, d.Imm)
	case k.IsMul():
		rf.Write(d.Rd, MulOp(k, a, b))
	case k.IsDiv():
		rf.Write(d.Rd, DivOp(k, a, b))
	case d.AMO:
		return e.executeAMO(d, a, b, next)
	case d.MemLoad:
		addr := a + d.Imm
		if Misaligned(addr, d.MemSize) {
			return e.trap(d.PC, CauseLoadMisaligned, addr)
		}
		raw, err := e.memory.Load(addr, d.MemSize.Bytes())
		if err != nil {
			return e.trap(d.PC, CauseLoadFault, addr)
		}
		rf.Write(d.Rd, LoadExtend(raw, d.MemSize, d.MemSignExt))
	case d.MemStore:
		addr := a + d.Imm
		if Misaligned(addr, d.MemSize) {
			return e.trap(d.PC, CauseStoreMisaligned, addr)
		}
		if err := e.memory.Store(addr, d.MemSize.Bytes(), b); err != nil {
			return e.trap(d.PC, CauseStoreFault, addr)
		}
		if res, done := e.checkToHost(addr, b); done {
			rf.PC = next
			return res
		}
	case k.IsFPU():
		res, flags := FPUOp(k, a, b, RoundingMode(d, uint8(e.csr.Frm)))
		rf.Write(d.Rd, res)
		e.csr.Fflags |= flags
	case k.IsCSR():
		if !e.executeCSR(d, a) {
			return e.trap(d.PC, CauseIllegalInstr, uint64(d.Instr))
		}
	case k == insts.KindECALL:
		rf.PC = next
		res := e.syscallHandler.Handle()
		return StepResult{Exited: res.Exited, ExitCode: res.ExitCode}
	case k == insts.KindEBREAK:
		return StepResult{
			Exited:   true,
			ExitCode: -1,
			Err:      fmt.Errorf("ebreak at PC=0x%X", d.PC),
		}
	case k == insts.KindMRET:
		next = e.csr.trapReturn()
	case k.IsXRet():
		return e.trap(d.PC, CauseIllegalInstr, uint64(d.Instr))
	case k == insts.KindFENCE, k == insts.KindFENCEI,
		k == insts.KindWFI, k == insts.KindSFENCEVMA:
	default:
		if d.Format != insts.FormatR {
			b = d.Imm
		}
		rf.Write(d.Rd, IntOp(k, a, b))
	}

	rf.PC = next
	return StepResult{}
}

func (e *Emulator) executeAMO(d *insts.Decoded, a, b, next uint64) StepResult {
	rf := e.regFile
	addr := a
	if Misaligned(addr, d.MemSize) {
		cause := CauseStoreMisaligned
		if d.Kind == insts.KindLRW || d.Kind == insts.KindLRD {
			cause = CauseLoadMisaligned
		}
		return e.trap(d.PC, cause, addr)
	}
	n := d.MemSize.Bytes()

	switch d.Kind {
	case insts.KindLRW, insts.KindLRD:
		raw, err := e.memory.Load(addr, n)
		if err != nil {
			return e.trap(d.PC, CauseLoadFault, addr)
		}
		rf.Write(d.Rd, LoadExtend(raw, d.MemSize, true))
		e.reservation = addr
		e.reservationValid = true
	case insts.KindSCW, insts.KindSCD:
		if e.reservationValid && e.reservation == addr {
			if err := e.memory.Store(addr, n, b); err != nil {
				return e.trap(d.PC, CauseStoreFault, addr)
			}
			rf.Write(d.Rd, 0)
		} else {
			rf.Write(d.Rd, 1)
		}
		e.reservationValid = false
	default:
		raw, err := e.memory.Load(addr, n)
		if err != nil {
			return e.trap(d.PC, CauseStoreFault, addr)
		}
		old := LoadExtend(raw, d.MemSize, true)
		if err := e.memory.Store(addr, n, AMOOp(d.Kind, old, b)); err != nil {
			return e.trap(d.PC, CauseStoreFault, addr)
		}
		rf.Write(d.Rd, old)
	}

	rf.PC = next
	return StepResult{}
}

func (e *Emulator) executeCSR(d *insts.Decoded, a uint64) bool {
	old, ok := e.csr.Read(d.CSR)
	if !ok {
		return false
	}

	src := a
	switch d.Kind {
	case insts.KindCSRRWI, insts.KindCSRRSI, insts.KindCSRRCI:
		src = d.Imm
	}

	var value uint64
	write := true
	switch d.Kind {
	case insts.KindCSRRW, insts.KindCSRRWI:
		value = src
	case insts.KindCSRRS, insts.KindCSRRSI:
		value = old | src
		write = src != 0
	case insts.KindCSRRC, insts.KindCSRRCI:
		value = old &^ src
		write = src != 0
	}
	if d.Kind == insts.KindCSRRS || d.Kind == insts.KindCSRRC {
		write = d.Rs1 != 0
	}

	if write && !e.csr.Write(d.CSR, value) {
		return false
	}
	e.regFile.Write(d.Rd, old)
	return true
}

// checkToHost reports whether a store terminated the program.
func (e *Emulator) checkToHost(addr, value uint64) (StepResult, bool) {
	if !e.toHostValid || addr != e.toHost || value == 0 {
		return StepResult{}, false
	}
	return StepResult{Exited: true, ExitCode: int64(value >> 1)}, true
}

// trap redirects to mtvec, or stops with an error when no handler is set.
func (e *Emulator) trap(pc, cause, tval uint64) StepResult {
	if e.csr.Mtvec == 0 {
		return StepResult{
			Err: fmt.Errorf("unhandled exception %d at PC=0x%X (tval 0x%X)", cause, pc, tval),
		}
	}
	e.regFile.PC = e.csr.enterTrap(pc, cause, tval)
	return StepResult{}
}
