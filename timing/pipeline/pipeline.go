package pipeline

import (
	"fmt"
	"io"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/csr"
	"github.com/sarchlab/riversim/timing/latency"
	"github.com/sarchlab/riversim/timing/mmu"
)

// Statistics holds pipeline performance statistics.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Fetches is the number of instruction words fetched.
	Fetches uint64
	// Stalls is the number of cycles Execute held an instruction.
	Stalls uint64
	// DataHazards is the number of stalls on a register still in flight.
	DataHazards uint64
	// Discarded is the number of wrong-path instructions dropped.
	Discarded uint64
	// Traps is the number of exceptions raised.
	Traps uint64
	// Interrupts is the number of interrupts taken.
	Interrupts uint64
	// Loads and Stores count memory operations sent to the data MMU.
	Loads  uint64
	Stores uint64
	// BranchPredictions is the total number of resolved control transfers.
	BranchPredictions uint64
	// BranchCorrect is the number of correctly predicted transfers.
	BranchCorrect uint64
	// BranchMispredictions is the number of transfers that redirected fetch.
	BranchMispredictions uint64
}

// CPI returns the cycles per instruction.
func (s Statistics) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithLatencyTable sets a custom latency table for instruction timing.
func WithLatencyTable(table *latency.Table) PipelineOption {
	return func(p *Pipeline) {
		p.latencyTable = table
	}
}

// WithBranchPredictor sets the branch predictor geometry.
func WithBranchPredictor(config BranchPredictorConfig) PipelineOption {
	return func(p *Pipeline) {
		p.bpConfig = config
	}
}

// WithTrace writes one line per retired instruction to w.
func WithTrace(w io.Writer) PipelineOption {
	return func(p *Pipeline) {
		p.trace = w
	}
}

// WithPMP makes the hart drive an existing PMP checker, so that a reset
// hart keeps the checker its caches were built with.
func WithPMP(pmp *cache.PMP) PipelineOption {
	return func(p *Pipeline) {
		p.pmp = pmp
	}
}

// HartInput is what a hart samples from the rest of the system each cycle.
type HartInput struct {
	// Outputs of the hart's L1 caches.
	IReqReady bool
	IResp     bus.CoreResponse
	DReqReady bool
	DResp     bus.CoreResponse
	DFlushEnd bool

	// Interrupt lines, as mip bits, and the machine timer.
	IRQ    uint16
	Mtimer uint64

	// Debug Module controls.
	HaltReq   bool
	ResumeReq bool
	Dport     DebugRequest
	Progbuf   [ProgbufWords]uint32
}

// HartOutput holds the registered outputs of a hart.
type HartOutput struct {
	IReq   bus.CoreRequest
	DReq   bus.CoreRequest
	IFlush cache.FlushRequest
	DFlush cache.FlushRequest

	Halted     bool
	DportReady bool
	DportResp  DebugResponse
}

// Pipeline is one River hart: Fetch, Decode, Execute and MemAccess around
// the register bank, the CSR file, an MMU per port, the PMP checker and
// the debug port.
type Pipeline struct {
	hartID uint64

	fetch  *FetchStage
	decode *DecodeStage
	exec   *Execute
	mem    *MemAccess
	dbg    *DbgPort

	bank *RegBank
	regs *csr.Regs
	immu *mmu.MMU
	dmmu *mmu.MMU
	pmp  *cache.PMP

	branchPredictor *BranchPredictor
	bpConfig        BranchPredictorConfig
	latencyTable    *latency.Table

	trace  io.Writer
	cycles uint64
}

// NewPipeline creates hart hartID starting at resetVector.
func NewPipeline(hartID, resetVector uint64, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		hartID:   hartID,
		bpConfig: DefaultBranchPredictorConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.latencyTable == nil {
		p.latencyTable = latency.NewTable()
	}

	p.branchPredictor = NewBranchPredictor(p.bpConfig)
	p.bank = NewRegBank()
	p.fetch = NewFetchStage(p.branchPredictor, resetVector)
	p.decode = NewDecodeStage(p.branchPredictor)
	p.exec = NewExecute(p.bank, p.latencyTable, resetVector)
	p.mem = NewMemAccess()
	p.dbg = NewDbgPort(p.bank)
	p.regs = csr.New(hartID, resetVector)
	p.immu = mmu.New(mmu.PortFetch)
	p.dmmu = mmu.New(mmu.PortData)
	if p.pmp == nil {
		p.pmp = cache.NewPMP()
	}
	return p
}

// HartID returns the hart number.
func (p *Pipeline) HartID() uint64 { return p.hartID }

// PC returns the address of the next instruction to execute.
func (p *Pipeline) PC() uint64 { return p.exec.NPC() }

// Halted reports whether the hart is in debug mode.
func (p *Pipeline) Halted() bool { return p.exec.Halted() }

// RegBank returns the register bank.
func (p *Pipeline) RegBank() *RegBank { return p.bank }

// CSR returns the CSR file.
func (p *Pipeline) CSR() *csr.Regs { return p.regs }

// PMP returns the hart's PMP checker, shared with its L1 caches.
func (p *Pipeline) PMP() *cache.PMP { return p.pmp }

// FetchMMU returns the instruction-side MMU.
func (p *Pipeline) FetchMMU() *mmu.MMU { return p.immu }

// DataMMU returns the data-side MMU.
func (p *Pipeline) DataMMU() *mmu.MMU { return p.dmmu }

// Execute returns the Execute stage.
func (p *Pipeline) Execute() *Execute { return p.exec }

// BranchPredictor returns the branch predictor.
func (p *Pipeline) BranchPredictor() *BranchPredictor { return p.branchPredictor }

// LatencyTable returns the latency table.
func (p *Pipeline) LatencyTable() *latency.Table { return p.latencyTable }

// Stats returns the pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	es := p.exec.Stats()
	ms := p.mem.Stats()
	bs := p.branchPredictor.Stats()
	return Statistics{
		Cycles:               p.cycles,
		Instructions:         es.Instructions,
		Fetches:              p.fetch.Fetches(),
		Stalls:               es.Stalls,
		DataHazards:          es.DataHazards,
		Discarded:            es.Discarded,
		Traps:                es.Traps,
		Interrupts:           es.Interrupts,
		Loads:                ms.Loads,
		Stores:               ms.Stores,
		BranchPredictions:    bs.Predictions,
		BranchCorrect:        bs.Correct,
		BranchMispredictions: bs.Mispredictions,
	}
}

// Outputs returns the registered outputs.
func (p *Pipeline) Outputs() HartOutput {
	co := p.regs.Outputs()
	out := HartOutput{
		IReq:       p.immu.Outputs().MemReq,
		DReq:       p.dmmu.Outputs().MemReq,
		Halted:     p.exec.Halted(),
		DportReady: p.dbg.Ready(),
		DportResp:  p.dbg.Resp(),
	}
	if co.FlushI {
		out.IFlush = cache.FlushRequest{Valid: true, Addr: co.FlushAddr}
	}
	if co.FlushD {
		out.DFlush = cache.FlushRequest{Valid: true, Addr: co.FlushAddr}
	}
	return out
}

// Step computes the next state of every stage from committed outputs.
func (p *Pipeline) Step(in HartInput) {
	co := p.regs.Outputs()
	fo := p.immu.Outputs()
	do := p.dmmu.Outputs()

	// The CSR request port goes to the debug port when it has a request,
	// otherwise to Execute. Both see every response.
	execCSR, dbgCSR := co, co
	req := p.exec.CSRRequest()
	if dbgReq := p.dbg.CSRRequest(); dbgReq.Valid {
		req = dbgReq
		execCSR.ReqReady = false
	} else {
		dbgCSR.ReqReady = false
	}

	p.regs.Step(csr.Input{
		Req:         req,
		RespReady:   true,
		PC:          p.exec.PC(),
		SP:          p.bank.Int(2),
		Halted:      p.exec.Halted(),
		Executed:    p.exec.Executed(),
		Progbuf:     p.exec.Progbuf(),
		FFlags:      p.exec.FFlags(),
		IRQ:         in.IRQ,
		Mtimer:      in.Mtimer,
		MemIdle:     p.mem.Idle(),
		FlushDReady: true,
		FlushDEnd:   in.DFlushEnd,
		FlushIReady: true,
	})
	p.pmp.Step(co.PMP)

	var tlbFlush mmu.FlushRequest
	if co.FlushMMU {
		tlbFlush = mmu.FlushRequest{Valid: true, Addr: co.FlushAddr}
	}
	p.immu.Step(mmu.Input{
		Req:         p.fetch.MemReq(),
		MemReqReady: in.IReqReady,
		MemResp:     in.IResp,
		Config:      co.FetchMMU,
		Flush:       tlbFlush,
	})
	p.dmmu.Step(mmu.Input{
		Req:         p.mem.MemReq(),
		MemReqReady: in.DReqReady,
		MemResp:     in.DResp,
		Config:      co.DataMMU,
		Flush:       tlbFlush,
	})

	redirect := p.exec.Redirect()
	p.fetch.Step(FetchInput{
		MemReqReady: fo.ReqReady,
		MemResp:     fo.Resp,
		OutReady:    p.decode.Ready(),
		Redirect:    redirect,
		DecRedirect: p.decode.Redirect(),
		Flush:       co.FlushPipeline,
		Progbuf:     in.Progbuf,
	})
	p.decode.Step(DecodeInput{
		Fetch:    p.fetch.Outputs(),
		OutReady: p.exec.Ready(),
		Flush:    co.FlushPipeline || redirect.Valid,
	})
	p.exec.Step(ExecuteInput{
		Dec:       p.decode.Outputs(),
		MemReady:  p.mem.Ready(),
		MemIdle:   p.mem.Idle(),
		MemWb:     p.mem.RegWrite(),
		MemResult: p.mem.Result(),
		MemFault:  p.mem.Fault(),
		CSR:       execCSR,
		HaltReq:   in.HaltReq,
		ResumeReq: in.ResumeReq,
		Progexec:  p.dbg.Progexec(),
		DbgMem:    p.dbg.MemRequest(),
	})
	p.mem.Step(MemAccessInput{
		Op:          p.exec.MemOp(),
		MemReqReady: do.ReqReady,
		MemResp:     do.Resp,
	})
	p.dbg.Step(DbgPortInput{
		Req:     in.Dport,
		CSR:     dbgCSR,
		MemResp: p.exec.DebugResponse(),
		Halted:  p.exec.Halted(),
	})
	p.bank.Step(p.exec.RegWrite(), p.mem.RegWrite(), p.dbg.RegWrite())
}

// Commit makes every next state current. The branch predictor learns from
// the transfer Execute resolved in this cycle.
func (p *Pipeline) Commit() {
	p.branchPredictor.Update(p.exec.BranchUpdate())

	p.regs.Commit()
	p.pmp.Commit()
	p.immu.Commit()
	p.dmmu.Commit()
	p.fetch.Commit()
	p.decode.Commit()
	p.exec.Commit()
	p.mem.Commit()
	p.dbg.Commit()
	p.bank.Commit()
	p.cycles++

	if p.trace != nil {
		p.traceRetired()
	}
}

// Poke sets a register outside the cycle discipline.
func (p *Pipeline) Poke(idx uint8, v uint64) {
	p.bank.Poke(idx, v)
}

func (p *Pipeline) traceRetired() {
	rt := p.exec.Retired()
	if !rt.Valid {
		return
	}
	d := &rt.D
	word := fmt.Sprintf("%08x", d.Instr)
	if d.Compressed {
		word = fmt.Sprintf("    %04x", d.Instr&0xFFFF)
	}
	line := fmt.Sprintf("%9d: [%d] %016x: %s  %-32s",
		p.cycles, p.hartID, d.PC, word, insts.Disassemble(d))
	if rt.Wb.Valid && rt.Wb.Addr != 0 {
		line += fmt.Sprintf(" %s <= %016x", insts.RegName(rt.Wb.Addr), rt.Wb.Data)
	}
	if m := rt.Mem; m.Valid {
		if m.Type.IsWrite() {
			line += fmt.Sprintf(" [%016x] <= %016x", m.Addr, m.WData)
		} else {
			line += fmt.Sprintf(" %s <= [%016x]", insts.RegName(m.Rd), m.Addr)
		}
	}
	_, _ = fmt.Fprintln(p.trace, line)
}
