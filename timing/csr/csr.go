// Package csr models River's control and status register file together
// with the trap, privilege and debug state machine around it. Execute talks
// to it through one request at a time: plain reads and writes, trap entry
// and return, breakpoints, debug halt and resume, WFI and the fences. The
// side effects on the rest of the hart leave as explicit output messages:
// MMU translation contexts, PMP region updates, cache and TLB flushes and
// the pending interrupt set.
package csr

import (
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/mmu"
)

// ReqType is a set of request flags. Read and Write may be combined.
type ReqType uint16

// Request flags.
const (
	ReqRead ReqType = 1 << iota
	ReqWrite
	ReqTrapReturn
	ReqException
	ReqInterrupt
	ReqBreakpoint
	ReqHalt
	ReqResume
	ReqWfi
	ReqFence
)

// Fence kinds carried in the Addr of a fence request.
const (
	FenceData  uint16 = 1 << 0
	FenceInstr uint16 = 1 << 1
	FenceVMA   uint16 = 1 << 2
)

// Request is one command from Execute. Addr is the CSR number for reads
// and writes, the cause for exceptions and interrupts, the privilege level
// for trap returns, the halt cause for halts and the fence kind for fences.
// Data is the write value, the trap value, the breakpoint pc or the flush
// address.
type Request struct {
	Valid bool
	Type  ReqType
	Addr  uint16
	Data  uint64
}

// Response answers a request. For trap entries and returns Data is the new
// pc; ^0 tells Execute to enter debug mode.
type Response struct {
	Valid     bool
	Data      uint64
	Exception bool
}

// State is the request state machine state.
type State uint8

// Request states.
const (
	StateIdle State = iota
	StateRW
	StateException
	StateBreakpoint
	StateInterrupt
	StateTrapReturn
	StateHalt
	StateResume
	StateWfi
	StateFence
	StateWaitPmp
	StateResponse
)

// FenceState sequences the cache flushes of a fence.
type FenceState uint8

// Fence states.
const (
	FenceNone FenceState = iota
	FenceDataBarrier
	FenceDataFlush
	FenceWaitDataFlushEnd
	FenceFlushInstr
	FenceEnd
)

// Input is what the register file samples each cycle.
type Input struct {
	Req       Request
	RespReady bool

	PC       uint64
	SP       uint64
	Halted   bool
	Executed bool
	Progbuf  bool
	FFlags   uint8
	IRQ      uint16
	Mtimer   uint64
	MemIdle  bool

	FlushDReady bool
	FlushDEnd   bool
	FlushIReady bool
}

// Output holds the registered outputs.
type Output struct {
	ReqReady bool
	Resp     Response

	Priv       uint8
	IRQPending uint16
	Wakeup     bool
	Step       bool
	Executed   uint64
	Frm        uint8

	StackOverflow  bool
	StackUnderflow bool
	ProgbufEnd     bool
	ProgbufError   bool

	FlushD        bool
	FlushI        bool
	FlushMMU      bool
	FlushPipeline bool
	FlushAddr     uint64

	FetchMMU mmu.Config
	DataMMU  mmu.Config
	PMP      cache.PMPInput
}

type modeRegs struct {
	epc       uint64
	pp        uint8
	pie       bool
	ie        bool
	sie       bool
	tie       bool
	eie       bool
	tvecOff   uint64
	tvecMode  uint8
	tval      uint64
	causeIRQ  bool
	causeCode uint8
	scratch   uint64
	counteren uint32
}

type regsState struct {
	x    [4]modeRegs
	pmp  [cache.NumPMPRegions]uint64
	pcfg [cache.NumPMPRegions]uint8

	state State
	fence FenceState

	cmdType      ReqType
	cmdAddr      uint16
	cmdData      uint64
	cmdException bool
	progbufEnd   bool
	progbufErr   bool

	irqPending uint16
	irqEnabled uint16
	mipSoft    uint16

	medeleg       uint64
	mideleg       uint16
	mcountinhibit uint32
	mstackovr     uint64
	mstackund     uint64

	satpPPN  uint64
	satpMode mmu.Mode
	mmuEna   bool

	mode uint8
	mprv bool
	mxr  bool
	sum  bool
	tvm  bool

	fflags uint8
	frm    uint8

	mcycle   uint64
	minstret uint64

	dscratch0 uint64
	dscratch1 uint64
	dpc       uint64
	haltCause uint8
	ebreakm   bool
	stopcount bool
	stoptimer bool
	step      bool
	stepie    bool

	pmpPending uint8
	pmpUpdate  cache.PMPUpdate

	flushMMU       bool
	flushPipeline  bool
	stackOverflow  bool
	stackUnderflow bool
}

// Regs is the CSR file of one hart.
type Regs struct {
	hartID uint64

	r, n regsState
}

// New creates the register file of hart hartID out of reset. dpc holds
// the reset vector and every PMP region is streamed out as disabled.
func New(hartID, resetVector uint64) *Regs {
	c := &Regs{hartID: hartID}
	c.r.mode = PrivM
	c.r.dpc = resetVector
	c.r.pmpPending = 1<<cache.NumPMPRegions - 1
	c.n = c.r
	return c
}

// State returns the committed request state.
func (c *Regs) State() State {
	return c.r.state
}

// FenceState returns the committed fence state.
func (c *Regs) FenceState() FenceState {
	return c.r.fence
}

// Outputs returns the registered outputs.
func (c *Regs) Outputs() Output {
	r := &c.r
	out := Output{
		ReqReady: r.state == StateIdle,
		Priv:     r.mode,
		Step:     r.step,
		Executed: r.minstret,
		Frm:      r.frm,

		IRQPending: r.irqPending & r.irqEnabled,
		Wakeup:     r.irqPending != 0,

		StackOverflow:  r.stackOverflow,
		StackUnderflow: r.stackUnderflow,
		ProgbufEnd:     r.progbufEnd && r.state == StateResponse,
		ProgbufError:   r.progbufErr && r.state == StateResponse,

		FlushD:        r.fence == FenceDataFlush,
		FlushI:        r.fence == FenceFlushInstr,
		FlushMMU:      r.flushMMU,
		FlushPipeline: r.flushPipeline,
		FlushAddr:     r.cmdData,

		FetchMMU: c.mmuConfig(r.mode),
		DataMMU:  c.mmuConfig(c.dataPriv()),
		PMP:      cache.PMPInput{Update: r.pmpUpdate, Priv: c.dataPriv()},
	}
	if r.state == StateResponse {
		out.Resp = Response{Valid: true, Data: r.cmdData, Exception: r.cmdException}
	}
	return out
}

// dataPriv is the privilege loads and stores run at: MPRV in M-mode
// borrows the previous mode.
func (c *Regs) dataPriv() uint8 {
	if c.r.mode == PrivM && c.r.mprv {
		return c.r.x[PrivM].pp
	}
	return c.r.mode
}

func (c *Regs) mmuConfig(priv uint8) mmu.Config {
	r := &c.r
	return mmu.Config{
		Enable: r.satpMode != mmu.ModeBare && priv <= PrivS,
		Mode:   r.satpMode,
		PPN:    r.satpPPN,
		User:   priv == PrivU,
		SUM:    r.sum,
		MXR:    r.mxr,
	}
}

// Step computes the next state.
func (c *Regs) Step(in Input) {
	c.n = c.r
	r, n := &c.r, &c.n
	n.flushMMU = false
	n.flushPipeline = false

	c.tickCounters(in)

	switch r.state {
	case StateIdle:
		c.accept(in)

	case StateRW:
		n.state = StateResponse
		c.access(in)

	case StateException:
		n.state = StateResponse
		if in.Progbuf {
			n.progbufErr = true
			n.progbufEnd = true
			n.cmdException = true
			break
		}
		n.cmdData = c.trap(uint8(r.cmdAddr&0x1F), false, r.cmdData, in.PC)

	case StateBreakpoint:
		n.state = StateResponse
		switch {
		case in.Progbuf:
			n.progbufEnd = true
			n.cmdData = ^uint64(0)
		case r.ebreakm:
			n.haltCause = HaltCauseEbreak
			n.dpc = r.cmdData
			n.cmdData = ^uint64(0)
		default:
			n.cmdData = c.trap(uint8(emu.CauseBreakpoint), false, in.PC, in.PC)
		}

	case StateHalt:
		n.state = StateResponse
		n.haltCause = uint8(r.cmdAddr & 7)
		n.dpc = in.PC

	case StateResume:
		n.state = StateResponse
		n.cmdData = r.dpc
		if in.Progbuf {
			n.cmdData = 0
		}

	case StateInterrupt:
		n.state = StateResponse
		n.cmdData = c.trap(uint8(r.cmdAddr&0xF), true, 0, in.PC)

	case StateTrapReturn:
		n.state = StateResponse
		c.trapReturn()

	case StateWfi:
		n.state = StateResponse
		n.cmdData = 0

	case StateFence:
		if r.fence == FenceEnd {
			n.cmdData = 0
			n.fence = FenceNone
			n.state = StateResponse
		}

	case StateWaitPmp:
		if r.pmpPending == 0 {
			n.state = StateResponse
		}

	case StateResponse:
		if in.RespReady {
			n.progbufEnd = false
			n.progbufErr = false
			n.state = StateIdle
		}
	}

	c.stepFence(in)
	c.updateMMU()
	c.updateInterrupts(in)
	c.streamPMP()
	c.checkStack(in)
	n.fflags |= in.FFlags & 0x1F
}

// Commit makes the next state current.
func (c *Regs) Commit() {
	c.r = c.n
}

func (c *Regs) accept(in Input) {
	r, n := &c.r, &c.n
	if !in.Req.Valid {
		return
	}
	req := in.Req
	n.cmdType = req.Type
	n.cmdAddr = req.Addr
	n.cmdData = req.Data
	n.cmdException = false

	switch {
	case req.Type&ReqException != 0:
		n.state = StateException
		if uint64(req.Addr) == emu.CauseEcallU {
			n.cmdAddr = req.Addr + uint16(r.mode)
		}
	case req.Type&ReqBreakpoint != 0:
		n.state = StateBreakpoint
	case req.Type&ReqHalt != 0:
		n.state = StateHalt
	case req.Type&ReqResume != 0:
		n.state = StateResume
	case req.Type&ReqInterrupt != 0:
		n.state = StateInterrupt
	case req.Type&ReqTrapReturn != 0:
		n.state = StateTrapReturn
	case req.Type&ReqWfi != 0:
		n.state = StateWfi
	case req.Type&ReqFence != 0:
		c.acceptFence(req)
	default:
		n.state = StateRW
	}
}

func (c *Regs) acceptFence(req Request) {
	r, n := &c.r, &c.n
	n.state = StateFence
	switch {
	case req.Addr&FenceData != 0:
		n.fence = FenceDataBarrier
	case req.Addr&FenceInstr != 0:
		n.fence = FenceDataFlush
	case req.Addr&FenceVMA != 0 && r.mode != PrivU && !(r.tvm && r.mode == PrivS):
		n.flushMMU = true
		n.fence = FenceEnd
	default:
		n.cmdException = true
		n.state = StateResponse
	}
}

func (c *Regs) stepFence(in Input) {
	r, n := &c.r, &c.n
	switch r.fence {
	case FenceDataBarrier:
		if in.MemIdle {
			n.fence = FenceEnd
		}
	case FenceDataFlush:
		if in.FlushDReady {
			n.fence = FenceWaitDataFlushEnd
		}
	case FenceWaitDataFlushEnd:
		if in.FlushDEnd {
			n.fence = FenceFlushInstr
		}
	case FenceFlushInstr:
		if in.FlushIReady {
			n.fence = FenceEnd
		}
	case FenceEnd:
		n.flushPipeline = true
	}
}

// trap enters the handler for cause and returns its address. Traps from S
// or U mode go to S-mode when delegated.
func (c *Regs) trap(cause uint8, irq bool, tval, pc uint64) uint64 {
	r, n := &c.r, &c.n

	delegated := false
	if r.mode <= PrivS {
		if irq {
			delegated = r.mideleg&(1<<cause) != 0
		} else {
			delegated = r.medeleg&(1<<cause) != 0
		}
	}
	target := PrivM
	if delegated {
		target = PrivS
	}

	x := &n.x[target]
	x.pp = r.mode
	x.pie = r.x[target].ie
	x.ie = false
	x.epc = pc
	x.tval = tval
	x.causeCode = cause
	x.causeIRQ = irq
	n.mode = target

	vec := r.x[target].tvecOff
	if irq && r.x[target].tvecMode == 1 {
		vec += 4 * uint64(cause)
	}
	return vec
}

func (c *Regs) trapReturn() {
	r, n := &c.r, &c.n
	level := uint8(r.cmdAddr & 3)
	if level != r.mode {
		n.cmdException = true
		return
	}
	x := &n.x[level]
	prev := r.x[level].pp
	x.ie = r.x[level].pie
	x.pie = true
	x.pp = PrivU
	n.mode = prev
	if prev != PrivM {
		n.mprv = false
	}
	n.cmdData = r.x[level].epc
}

func (c *Regs) updateMMU() {
	r, n := &c.r, &c.n
	n.mmuEna = c.mmuConfig(n.mode).Enable
	if n.mmuEna && !r.mmuEna {
		n.flushPipeline = true
	}
}

func (c *Regs) updateInterrupts(in Input) {
	r, n := &c.r, &c.n

	n.irqPending = (in.IRQ | r.mipSoft) & mieMask
	mie := c.mieBits()

	var enabled uint16
	if !r.step || r.stepie {
		machine := mie &^ r.mideleg
		super := mie & r.mideleg
		if r.mode < PrivM || r.x[PrivM].ie {
			enabled |= machine
		}
		if r.mode < PrivS || (r.mode == PrivS && r.x[PrivS].ie) {
			enabled |= super
		}
	}
	n.irqEnabled = enabled
}

func (c *Regs) mieBits() uint16 {
	x := &c.r.x
	var v uint16
	set := func(b bool, bit int) {
		if b {
			v |= 1 << uint(bit)
		}
	}
	set(x[PrivS].sie, IrqSSIP)
	set(x[PrivM].sie, IrqMSIP)
	set(x[PrivS].tie, IrqSTIP)
	set(x[PrivM].tie, IrqMTIP)
	set(x[PrivS].eie, IrqSEIP)
	set(x[PrivM].eie, IrqMEIP)
	return v
}

func (c *Regs) checkStack(in Input) {
	r, n := &c.r, &c.n
	n.stackOverflow = false
	n.stackUnderflow = false
	if r.mstackovr != 0 && in.SP < r.mstackovr && n.mstackovr == r.mstackovr {
		n.stackOverflow = true
		n.mstackovr = 0
	}
	if r.mstackund != 0 && in.SP > r.mstackund && n.mstackund == r.mstackund {
		n.stackUnderflow = true
		n.mstackund = 0
	}
}

func (c *Regs) tickCounters(in Input) {
	r, n := &c.r, &c.n
	if !in.Halted && !r.stopcount && r.mcountinhibit&1 == 0 {
		n.mcycle = r.mcycle + 1
	}
	if in.Executed && !r.stopcount && !in.Progbuf && r.mcountinhibit&4 == 0 {
		n.minstret = r.minstret + 1
	}
}
