// Package pipeline models one River hart: fetch, decode, execute and
// memory access around a tagged register bank, the CSR file, one MMU per
// port and the debug port.
//
// Every stage keeps a committed state and a next state. Outputs are derived
// from the committed state only, Step computes the next state from the
// committed state and this cycle's inputs, and Commit makes it current. A
// value moves from one stage to the next in the cycle where the producer's
// Valid and the consumer's Ready, both registered, are high.
package pipeline

import (
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/bus"
)

// FetchOutput holds an instruction word between Fetch and Decode.
type FetchOutput struct {
	// Valid indicates the register holds an instruction.
	Valid bool

	// PC is the address the word was fetched from.
	PC uint64

	// Instr is the raw word. Compressed instructions use the low half.
	Instr uint32

	// PredNPC is the address Fetch continued from after this instruction.
	PredNPC uint64

	// Epoch is the redirect epoch the instruction was fetched in.
	Epoch uint8

	// Fetch faults, with the faulting virtual address.
	LoadFault bool
	PageFault bool
	FaultAddr uint64

	// Progbuf marks words read from the debug program buffer.
	Progbuf bool
}

// DecodeOutput holds a decoded instruction between Decode and Execute.
type DecodeOutput struct {
	Valid   bool
	D       insts.Decoded
	PredNPC uint64
	Epoch   uint8

	// FaultAddr is the address of a fetch fault carried in D.
	FaultAddr uint64
}

// Redirect restarts Fetch at PC.
type Redirect struct {
	Valid   bool
	PC      uint64
	Epoch   uint8
	Progbuf bool
}

// RegWrite is a register bank write descriptor. A write with KeepValue set
// only updates the tag; it releases a register whose producer faulted.
type RegWrite struct {
	Valid     bool
	Addr      uint8
	Tag       uint8
	Data      uint64
	KeepValue bool
}

// MemOp is a memory operation queued from Execute to MemAccess.
type MemOp struct {
	Valid   bool
	Type    bus.MemOp
	Addr    uint64
	WData   uint64
	Size    insts.MemSize
	SignExt bool

	// Rd and Tag select the register written with the load result. Rd is 0
	// for operations without a result.
	Rd  uint8
	Tag uint8

	// PC is the address of the instruction that issued the operation.
	PC uint64

	// Amo marks the read half of an atomic read-modify-write, whose
	// loaded value also returns to Execute.
	Amo bool

	// Debug marks accesses on behalf of the debugger. They return to
	// Execute and never write a register.
	Debug bool
}

// MemResult returns the outcome of an Amo or Debug operation to Execute.
type MemResult struct {
	Valid bool
	Data  uint64
	Fault bool
	Cause uint64
	Addr  uint64
}

// MemFault reports a faulted load or store to Execute.
type MemFault struct {
	Valid bool
	Cause uint64
	Addr  uint64
	PC    uint64
}

// BranchUpdate trains the branch predictor with a resolved control
// transfer.
type BranchUpdate struct {
	Valid       bool
	PC          uint64
	Taken       bool
	Target      uint64
	Conditional bool
	Mispredict  bool
}

// Retired describes an instruction that completed in Execute.
type Retired struct {
	Valid bool
	D     insts.Decoded
	Wb    RegWrite
	Mem   MemOp
}
