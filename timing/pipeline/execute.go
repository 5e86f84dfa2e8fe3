package pipeline

import (
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/csr"
	"github.com/sarchlab/riversim/timing/latency"
	"github.com/sarchlab/riversim/timing/mmu"
)

// ExecState is the state of the Execute stage.
type ExecState uint8

// Execute states.
const (
	ExecIdle ExecState = iota
	ExecWaitMulti
	ExecAmo
	ExecCsr
	ExecHalted
	ExecWfi
	ExecDebugMem
)

func (s ExecState) String() string {
	switch s {
	case ExecIdle:
		return "idle"
	case ExecWaitMulti:
		return "wait_multi"
	case ExecAmo:
		return "amo"
	case ExecCsr:
		return "csr"
	case ExecHalted:
		return "halted"
	case ExecWfi:
		return "wfi"
	case ExecDebugMem:
		return "debug_mem"
	}
	return "unknown"
}

// csrOp is what an outstanding CSR request is for.
type csrOp uint8

const (
	csrOpRead csrOp = iota
	csrOpWrite
	csrOpTrap
	csrOpXret
	csrOpFence
	csrOpWfi
	csrOpHalt
	csrOpResume
	csrOpProgbuf
)

type unit uint8

const (
	unitMul unit = iota
	unitDiv
	unitFPU
)

// ExecuteInput is what Execute samples each cycle.
type ExecuteInput struct {
	Dec DecodeOutput

	// MemAccess signals. MemWb is its register write pulse, forwarded to
	// operands.
	MemReady  bool
	MemIdle   bool
	MemWb     RegWrite
	MemResult MemResult
	MemFault  MemFault

	// CSR outputs. ReqReady is only set when Execute owns the request port
	// this cycle.
	CSR csr.Output

	// Debug Module and debug port.
	HaltReq   bool
	ResumeReq bool
	Progexec  bool
	DbgMem    DebugMemRequest
}

// ExecuteStats counts Execute activity.
type ExecuteStats struct {
	Instructions uint64
	Stalls       uint64
	DataHazards  uint64
	Discarded    uint64
	Mispredicts  uint64
	Traps        uint64
	Interrupts   uint64
	MulOps       uint64
	DivOps       uint64
	FPUOps       uint64
	CSRAccesses  uint64
}

// Execute issues one instruction at a time in program order. Results are
// written with a tag from the scoreboard; loads and stores leave through
// MemAccess; everything that touches architectural control state is a
// request to the CSR file.
type Execute struct {
	bank    *RegBank
	mul     *Multiplier
	div     *Divider
	latency *latency.Table

	r, n execState
}

type execState struct {
	state   ExecState
	pc      uint64 // pc presented to the CSR file
	npc     uint64 // next instruction expected
	epoch   uint8
	progbuf bool
	sb      Scoreboard

	inst DecodeOutput
	cur  insts.Decoded

	csrOp  csrOp
	csrSrc uint64
	csrOld uint64

	unit     unit
	unitRd   uint8
	unitTag  uint8
	fpuLeft  uint64
	fpuValue uint64
	fpuFlags uint8

	amoAddr   uint64
	amoSrc    uint64
	amoLoaded bool
	amoValue  uint64

	pendingFault MemFault
	stepping     bool
	stepDone     bool

	// Registered outputs. All but memop and csrReq are one-cycle pulses.
	redirect Redirect
	memop    MemOp
	wb       RegWrite
	csrReq   csr.Request
	branch   BranchUpdate
	retired  Retired
	executed bool
	fflags   uint8
	dbgResp  DebugMemResponse

	stats ExecuteStats
}

// NewExecute creates an Execute stage that starts at resetVector.
func NewExecute(bank *RegBank, table *latency.Table, resetVector uint64) *Execute {
	e := &Execute{
		bank:    bank,
		mul:     NewMultiplier(),
		div:     NewDivider(),
		latency: table,
	}
	e.r.pc = resetVector
	e.r.npc = resetVector
	e.n = e.r
	return e
}

// State returns the committed state.
func (e *Execute) State() ExecState { return e.r.state }

// Ready reports whether Execute takes a decoded instruction this cycle.
func (e *Execute) Ready() bool {
	return e.r.state == ExecIdle && !e.r.inst.Valid
}

// Halted reports whether the hart is in debug mode.
func (e *Execute) Halted() bool {
	s := e.r.state
	return s == ExecHalted || s == ExecDebugMem || e.r.progbuf
}

// PC returns the pc presented to the CSR file.
func (e *Execute) PC() uint64 { return e.r.pc }

// NPC returns the address of the next instruction Execute expects.
func (e *Execute) NPC() uint64 { return e.r.npc }

// Progbuf reports whether the program buffer is running.
func (e *Execute) Progbuf() bool { return e.r.progbuf }

// Redirect returns the redirect pulse for Fetch.
func (e *Execute) Redirect() Redirect { return e.r.redirect }

// MemOp returns the memory operation offered to MemAccess.
func (e *Execute) MemOp() MemOp { return e.r.memop }

// RegWrite returns the register write pulse.
func (e *Execute) RegWrite() RegWrite { return e.r.wb }

// CSRRequest returns the request offered to the CSR file.
func (e *Execute) CSRRequest() csr.Request { return e.r.csrReq }

// Executed reports that an instruction retired in the previous cycle.
func (e *Execute) Executed() bool { return e.r.executed }

// FFlags returns the floating-point exception flags raised in the
// previous cycle.
func (e *Execute) FFlags() uint8 { return e.r.fflags }

// BranchUpdate returns the predictor training pulse.
func (e *Execute) BranchUpdate() BranchUpdate { return e.r.branch }

// Retired returns the instruction retired in the previous cycle.
func (e *Execute) Retired() Retired { return e.r.retired }

// DebugResponse returns the answer to a debugger memory access.
func (e *Execute) DebugResponse() DebugMemResponse { return e.r.dbgResp }

// Stats returns the activity counters.
func (e *Execute) Stats() ExecuteStats { return e.r.stats }

// Step computes the next state.
func (e *Execute) Step(in ExecuteInput) {
	e.n = e.r
	r, n := &e.r, &e.n
	n.redirect = Redirect{}
	n.wb = RegWrite{}
	n.branch = BranchUpdate{}
	n.retired = Retired{}
	n.executed = false
	n.fflags = 0
	n.dbgResp = DebugMemResponse{}

	if r.memop.Valid && in.MemReady {
		n.memop = MemOp{}
	}
	if r.csrReq.Valid && in.CSR.ReqReady {
		n.csrReq = csr.Request{}
	}
	e.latchFaults(in)

	var mulIn MulInput
	var divIn DivInput
	switch r.state {
	case ExecIdle:
		mulIn, divIn = e.stepIdle(in)
	case ExecWaitMulti:
		e.stepMulti()
	case ExecAmo:
		e.stepAmo(in)
	case ExecCsr:
		if !r.csrReq.Valid && in.CSR.Resp.Valid {
			e.csrResponse(in, in.CSR.Resp)
		}
	case ExecHalted:
		e.stepHalted(in)
	case ExecWfi:
		if in.CSR.Wakeup || in.HaltReq || r.pendingFault.Valid {
			n.state = ExecIdle
		}
	case ExecDebugMem:
		if in.MemResult.Valid {
			n.dbgResp = DebugMemResponse{
				Valid: true,
				Data:  in.MemResult.Data,
				Error: in.MemResult.Fault,
			}
			n.state = ExecHalted
		}
	}

	e.mul.Step(mulIn)
	e.div.Step(divIn)
}

// Commit makes the next state current.
func (e *Execute) Commit() {
	e.r = e.n
	e.mul.Commit()
	e.div.Commit()
}

func (e *Execute) latchFaults(in ExecuteInput) {
	r, n := &e.r, &e.n
	if r.pendingFault.Valid {
		return
	}
	switch {
	case in.MemFault.Valid:
		n.pendingFault = in.MemFault
	case in.CSR.StackOverflow:
		n.pendingFault = MemFault{Valid: true, Cause: emu.CauseStackOverflow, PC: r.npc}
	case in.CSR.StackUnderflow:
		n.pendingFault = MemFault{Valid: true, Cause: emu.CauseStackUnderflow, PC: r.npc}
	}
}

func (e *Execute) stepIdle(in ExecuteInput) (MulInput, DivInput) {
	r, n := &e.r, &e.n
	dec := r.inst
	if !dec.Valid {
		dec = in.Dec
	}
	n.inst = dec

	switch {
	case r.pendingFault.Valid:
		f := r.pendingFault
		n.pendingFault = MemFault{}
		e.raise(f.Cause, f.Addr, f.PC)
		return MulInput{}, DivInput{}
	case (in.HaltReq && !r.progbuf) || r.stepDone:
		if in.MemIdle && !r.memop.Valid {
			cause := csr.HaltCauseHaltReq
			if r.stepDone {
				cause = csr.HaltCauseStep
			}
			n.stepDone = false
			n.stepping = false
			e.sendCSR(csrOpHalt, csr.Request{Valid: true, Type: csr.ReqHalt, Addr: uint16(cause)}, r.npc)
		}
		return MulInput{}, DivInput{}
	}

	if !dec.Valid {
		return MulInput{}, DivInput{}
	}
	n.inst = DecodeOutput{}
	if dec.D.PC != r.npc || dec.Epoch != r.epoch {
		n.stats.Discarded++
		return MulInput{}, DivInput{}
	}

	mulIn, divIn, ok := e.issue(in, &dec)
	if !ok {
		n.inst = dec
		n.stats.Stalls++
	}
	return mulIn, divIn
}

// issue executes dec or starts it on a multi-cycle unit. It returns false
// when the instruction has to wait.
func (e *Execute) issue(in ExecuteInput, dec *DecodeOutput) (MulInput, DivInput, bool) {
	r, n := &e.r, &e.n
	d := &dec.D
	k := d.Kind
	var mulIn MulInput
	var divIn DivInput

	switch {
	case d.PC&1 != 0:
		e.raise(emu.CauseInstrMisaligned, d.PC, d.PC)
		return mulIn, divIn, true
	case d.InstrLoadFault:
		e.raise(emu.CauseInstrFault, dec.FaultAddr, d.PC)
		return mulIn, divIn, true
	case d.InstrPageFault:
		e.raise(emu.CauseInstrPageFault, dec.FaultAddr, d.PC)
		return mulIn, divIn, true
	case d.Unimplemented:
		e.raise(emu.CauseIllegalInstr, uint64(d.Instr), d.PC)
		return mulIn, divIn, true
	case k == insts.KindEBREAK:
		e.sendCSR(csrOpTrap, csr.Request{Valid: true, Type: csr.ReqBreakpoint, Data: d.PC}, d.PC)
		return mulIn, divIn, true
	}

	ports := []RegWrite{r.wb, in.MemWb}
	a, okA := r.sb.Operand(e.bank, d.Rs1, ports...)
	b, okB := r.sb.Operand(e.bank, d.Rs2, ports...)
	_, okD := r.sb.Operand(e.bank, d.Rd, ports...)
	if !okA || !okB || !okD {
		n.stats.DataHazards++
		return mulIn, divIn, false
	}

	memFree := !r.memop.Valid || in.MemReady
	addr := a + d.Imm
	if d.AMO {
		addr = a
	}
	if (d.MemLoad || d.MemStore || d.AMO) && emu.Misaligned(addr, d.MemSize) {
		cause := emu.CauseStoreMisaligned
		if d.MemLoad || k == insts.KindLRW || k == insts.KindLRD {
			cause = emu.CauseLoadMisaligned
		}
		e.raise(cause, addr, d.PC)
		return mulIn, divIn, true
	}

	if k == insts.KindECALL {
		e.raise(emu.CauseEcallU, 0, d.PC)
		return mulIn, divIn, true
	}
	if cause, ok := csr.HighestInterrupt(in.CSR.IRQPending); ok && !r.progbuf {
		n.stats.Interrupts++
		e.sendCSR(csrOpTrap, csr.Request{Valid: true, Type: csr.ReqInterrupt, Addr: uint16(cause)}, d.PC)
		return mulIn, divIn, true
	}

	n.cur = *d
	switch {
	case k == insts.KindWFI:
		e.sendCSR(csrOpWfi, csr.Request{Valid: true, Type: csr.ReqWfi}, d.PC)
		return mulIn, divIn, true
	case k.IsXRet():
		level := uint16(k - insts.KindURET)
		e.sendCSR(csrOpXret, csr.Request{Valid: true, Type: csr.ReqTrapReturn, Addr: level}, d.PC)
		return mulIn, divIn, true
	case k == insts.KindFENCE || k == insts.KindFENCEI || k == insts.KindSFENCEVMA:
		if !in.MemIdle || r.memop.Valid {
			return mulIn, divIn, false
		}
		e.sendCSR(csrOpFence, fenceRequest(d, a), d.PC)
		return mulIn, divIn, true
	case k.IsCSR():
		n.csrSrc = a
		if k == insts.KindCSRRWI || k == insts.KindCSRRSI || k == insts.KindCSRRCI {
			n.csrSrc = d.Imm
		}
		n.stats.CSRAccesses++
		e.sendCSR(csrOpRead, csr.Request{Valid: true, Type: csr.ReqRead, Addr: d.CSR}, d.PC)
		return mulIn, divIn, true
	}

	if (d.MemLoad || d.MemStore || d.AMO) && !memFree {
		return mulIn, divIn, false
	}

	npc := d.PC + d.Length()
	var mem MemOp
	wb := RegWrite{Addr: d.Rd}

	switch {
	case k == insts.KindJAL || k == insts.KindJALR:
		npc = emu.NextPC(d, a, b)
		wb.Valid, wb.Data = true, d.PC+d.Length()
	case k.IsBranch():
		npc = emu.NextPC(d, a, b)
	case k == insts.KindAUIPC:
		wb.Valid, wb.Data = true, d.PC+d.Imm
	case k == insts.KindLUI:
		wb.Valid, wb.Data = true, d.Imm
	case k.IsMul():
		mulIn = MulInput{Valid: true, Kind: k, A: a, B: b}
		n.stats.MulOps++
		e.startUnit(unitMul, d)
	case k.IsDiv():
		divIn = DivInput{Valid: true, Kind: k, A: a, B: b}
		n.stats.DivOps++
		e.startUnit(unitDiv, d)
	case k.IsFPU():
		value, flags := emu.FPUOp(k, a, b, emu.RoundingMode(d, in.CSR.Frm))
		n.stats.FPUOps++
		if lat := e.latency.FPULatency(k); lat > 1 {
			e.startUnit(unitFPU, d)
			n.fpuLeft = lat - 1
			n.fpuValue = value
			n.fpuFlags = uint8(flags)
		} else {
			wb.Valid, wb.Data = true, value
			n.fflags = uint8(flags)
		}
	case d.AMO:
		mem = e.atomicOp(d, addr, b)
	case d.MemLoad:
		mem = MemOp{Valid: true, Type: bus.MemOpRead, Addr: addr, Size: d.MemSize, SignExt: d.MemSignExt, PC: d.PC}
		mem.Rd = d.Rd
		mem.Tag = n.sb.Claim(d.Rd)
	case d.MemStore:
		mem = MemOp{Valid: true, Type: bus.MemOpWrite, Addr: addr, WData: b, Size: d.MemSize, PC: d.PC}
	default:
		if d.Format != insts.FormatR {
			b = d.Imm
		}
		wb.Valid, wb.Data = true, emu.IntOp(k, a, b)
	}

	e.resolve(dec, npc)
	if mem.Valid {
		n.memop = mem
	}
	if n.state != ExecIdle {
		return mulIn, divIn, true
	}
	if wb.Valid && wb.Addr != 0 {
		wb.Tag = n.sb.Claim(wb.Addr)
		n.wb = wb
	}
	e.retire(d, mem)
	return mulIn, divIn, true
}

// atomicOp builds the memory operation of an LR, SC or AMO. AMOs read
// first and continue in ExecAmo.
func (e *Execute) atomicOp(d *insts.Decoded, addr, src uint64) MemOp {
	n := &e.n
	op := MemOp{Valid: true, Addr: addr, Size: d.MemSize, SignExt: true, PC: d.PC, Rd: d.Rd}
	op.Tag = n.sb.Claim(d.Rd)
	switch d.Kind {
	case insts.KindLRW, insts.KindLRD:
		op.Type = bus.MemOpReserve
	case insts.KindSCW, insts.KindSCD:
		op.Type = bus.MemOpRelease
		op.WData = src
	default:
		op.Type = bus.MemOpRead
		op.Amo = true
		n.amoAddr = addr
		n.amoSrc = src
		n.amoLoaded = false
		n.state = ExecAmo
	}
	return op
}

func (e *Execute) startUnit(u unit, d *insts.Decoded) {
	n := &e.n
	n.state = ExecWaitMulti
	n.unit = u
	n.unitRd = d.Rd
	n.unitTag = n.sb.Claim(d.Rd)
}

// resolve checks the predicted next pc and trains the predictor.
func (e *Execute) resolve(dec *DecodeOutput, npc uint64) {
	n := &e.n
	d := &dec.D
	control := d.Kind.IsBranch() || d.Kind == insts.KindJAL || d.Kind == insts.KindJALR
	mispredict := npc != dec.PredNPC
	if !d.Progbuf && (control || mispredict) {
		n.branch = BranchUpdate{
			Valid:       true,
			PC:          d.PC,
			Taken:       npc != d.PC+d.Length(),
			Target:      npc,
			Conditional: d.Kind.IsBranch(),
			Mispredict:  mispredict,
		}
	}
	if mispredict {
		n.stats.Mispredicts++
		e.redirectTo(npc, d.Progbuf)
	}
	n.npc = npc
	n.pc = npc
}

func (e *Execute) retire(d *insts.Decoded, mem MemOp) {
	r, n := &e.r, &e.n
	n.executed = true
	n.retired = Retired{Valid: true, D: *d, Wb: n.wb, Mem: mem}
	n.stats.Instructions++
	if r.stepping {
		n.stepDone = true
	}
}

func (e *Execute) stepMulti() {
	r, n := &e.r, &e.n
	var value uint64
	switch r.unit {
	case unitMul:
		out := e.mul.Outputs()
		if !out.Valid {
			return
		}
		value = out.Result
	case unitDiv:
		out := e.div.Outputs()
		if !out.Valid {
			return
		}
		value = out.Result
	case unitFPU:
		if r.fpuLeft > 1 {
			n.fpuLeft = r.fpuLeft - 1
			return
		}
		value = r.fpuValue
		n.fflags = r.fpuFlags
	}
	if r.unitRd != 0 {
		n.wb = RegWrite{Valid: true, Addr: r.unitRd, Tag: r.unitTag, Data: value}
	}
	n.state = ExecIdle
	e.retire(&r.cur, MemOp{})
}

func (e *Execute) stepAmo(in ExecuteInput) {
	r, n := &e.r, &e.n
	loaded, value := r.amoLoaded, r.amoValue
	if !loaded && in.MemResult.Valid {
		res := in.MemResult
		if res.Fault {
			e.raise(res.Cause, res.Addr, r.cur.PC)
			return
		}
		loaded, value = true, res.Data
		n.amoLoaded, n.amoValue = true, value
	}
	if !loaded || (r.memop.Valid && !in.MemReady) {
		return
	}
	d := &r.cur
	n.memop = MemOp{
		Valid: true,
		Type:  bus.MemOpWrite,
		Addr:  r.amoAddr,
		WData: emu.AMOOp(d.Kind, value, r.amoSrc),
		Size:  d.MemSize,
		PC:    d.PC,
	}
	n.state = ExecIdle
	e.retire(d, n.memop)
}

func (e *Execute) stepHalted(in ExecuteInput) {
	r, n := &e.r, &e.n
	switch {
	case r.dbgResp.Valid:
	case in.Progexec:
		n.progbuf = true
		e.sendCSR(csrOpProgbuf, csr.Request{Valid: true, Type: csr.ReqResume}, r.pc)
	case in.ResumeReq:
		e.sendCSR(csrOpResume, csr.Request{Valid: true, Type: csr.ReqResume}, r.pc)
	case in.DbgMem.Valid:
		e.debugAccess(in)
	}
}

func (e *Execute) debugAccess(in ExecuteInput) {
	r, n := &e.r, &e.n
	req := in.DbgMem
	size := memSize(req.Size)
	if emu.Misaligned(req.Addr, size) {
		n.dbgResp = DebugMemResponse{Valid: true, Error: true}
		return
	}
	if r.memop.Valid && !in.MemReady {
		return
	}
	typ := bus.MemOpRead
	if req.Write {
		typ = bus.MemOpWrite
	}
	n.memop = MemOp{
		Valid: true,
		Type:  typ,
		Addr:  req.Addr,
		WData: req.WData,
		Size:  size,
		PC:    r.pc,
		Debug: true,
	}
	n.state = ExecDebugMem
}

func (e *Execute) sendCSR(op csrOp, req csr.Request, pc uint64) {
	n := &e.n
	n.state = ExecCsr
	n.csrOp = op
	n.csrReq = req
	n.pc = pc
}

func (e *Execute) raise(cause, tval, pc uint64) {
	e.n.stats.Traps++
	e.sendCSR(csrOpTrap, csr.Request{
		Valid: true,
		Type:  csr.ReqException,
		Addr:  uint16(cause),
		Data:  tval,
	}, pc)
}

func (e *Execute) redirectTo(pc uint64, progbuf bool) {
	n := &e.n
	n.epoch++
	n.npc = pc
	n.pc = pc
	n.inst = DecodeOutput{}
	n.redirect = Redirect{Valid: true, PC: pc, Epoch: n.epoch, Progbuf: progbuf}
}

func (e *Execute) csrResponse(in ExecuteInput, resp csr.Response) {
	r, n := &e.r, &e.n
	d := &r.cur
	illegal := func() {
		e.raise(emu.CauseIllegalInstr, uint64(d.Instr), d.PC)
	}

	switch r.csrOp {
	case csrOpRead:
		if resp.Exception {
			illegal()
			return
		}
		n.csrOld = resp.Data
		if value, write := csrWriteValue(d, resp.Data, r.csrSrc); write {
			n.csrOp = csrOpWrite
			n.csrReq = csr.Request{Valid: true, Type: csr.ReqWrite, Addr: d.CSR, Data: value}
			return
		}
		e.finishCSR(resp.Data, false)

	case csrOpWrite:
		if resp.Exception {
			illegal()
			return
		}
		e.finishCSR(r.csrOld, true)

	case csrOpTrap:
		n.state = ExecIdle
		if r.progbuf || resp.Data == ^uint64(0) {
			n.progbuf = false
			n.state = ExecHalted
			n.stepping = false
			return
		}
		if r.stepping {
			n.stepDone = true
		}
		e.redirectTo(resp.Data, false)

	case csrOpXret:
		if resp.Exception {
			illegal()
			return
		}
		n.state = ExecIdle
		e.retire(d, MemOp{})
		e.redirectTo(resp.Data, false)

	case csrOpFence:
		if resp.Exception {
			illegal()
			return
		}
		n.state = ExecIdle
		e.retire(d, MemOp{})
		e.redirectTo(d.PC+d.Length(), d.Progbuf)

	case csrOpWfi:
		n.state = ExecIdle
		n.npc = d.PC + d.Length()
		n.pc = n.npc
		e.retire(d, MemOp{})
		if !r.progbuf && !r.stepping && !in.CSR.Wakeup {
			n.state = ExecWfi
		}

	case csrOpHalt:
		n.state = ExecHalted

	case csrOpResume:
		n.state = ExecIdle
		n.stepping = in.CSR.Step
		n.stepDone = false
		e.redirectTo(resp.Data, false)

	case csrOpProgbuf:
		n.state = ExecIdle
		e.redirectTo(resp.Data, true)
	}
}

// finishCSR writes the old CSR value to rd and retires the instruction.
// A CSR write may change translation or privilege, so fetch restarts.
func (e *Execute) finishCSR(old uint64, written bool) {
	r, n := &e.r, &e.n
	d := &r.cur
	n.state = ExecIdle
	if d.Rd != 0 {
		n.wb = RegWrite{Valid: true, Addr: d.Rd, Tag: n.sb.Claim(d.Rd), Data: old}
	}
	next := d.PC + d.Length()
	n.npc = next
	n.pc = next
	e.retire(d, MemOp{})
	if written {
		e.redirectTo(next, d.Progbuf)
	}
}

// csrWriteValue returns the value a CSR instruction writes and whether it
// writes at all. CSRRS and CSRRC with a zero source only read.
func csrWriteValue(d *insts.Decoded, old, src uint64) (uint64, bool) {
	switch d.Kind {
	case insts.KindCSRRW, insts.KindCSRRWI:
		return src, true
	case insts.KindCSRRS:
		return old | src, d.Rs1 != 0
	case insts.KindCSRRSI:
		return old | src, src != 0
	case insts.KindCSRRC:
		return old &^ src, d.Rs1 != 0
	case insts.KindCSRRCI:
		return old &^ src, src != 0
	}
	return old, false
}

func fenceRequest(d *insts.Decoded, rs1 uint64) csr.Request {
	req := csr.Request{Valid: true, Type: csr.ReqFence}
	switch d.Kind {
	case insts.KindFENCE:
		req.Addr = csr.FenceData
	case insts.KindFENCEI:
		req.Addr = csr.FenceInstr
		req.Data = cache.FlushAll
	case insts.KindSFENCEVMA:
		req.Addr = csr.FenceVMA
		req.Data = rs1
		if d.Rs1 == 0 {
			req.Data = mmu.FlushAll
		}
	}
	return req
}
