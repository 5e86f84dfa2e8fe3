package pipeline

import (
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/csr"
)

// DebugReqType is a set of debug port request flags.
type DebugReqType uint8

// Debug port request flags. DebugWrite combines with DebugRegAccess,
// DebugMemAccess and DebugMemVirtual.
const (
	DebugWrite DebugReqType = 1 << iota
	DebugRegAccess
	DebugMemAccess
	DebugMemVirtual
	DebugProgexec
)

// Abstract register numbers.
const (
	RegCSRBase = 0x0000
	RegGPRBase = 0x1000
	RegFPRBase = 0x1020
	RegEnd     = 0x1040
)

// DebugRequest is a command from the Debug Module to one hart. Size is
// the memory access width in bytes.
type DebugRequest struct {
	Valid bool
	Type  DebugReqType
	Addr  uint64
	WData uint64
	Size  int
}

// DebugResponse answers a DebugRequest.
type DebugResponse struct {
	Valid bool
	Data  uint64
	Error bool
}

// DebugMemRequest is a debugger memory access run by Execute while the
// hart is halted.
type DebugMemRequest struct {
	Valid bool
	Write bool
	Addr  uint64
	WData uint64
	Size  int
}

// DebugMemResponse answers a DebugMemRequest.
type DebugMemResponse struct {
	Valid bool
	Data  uint64
	Error bool
}

type dbgState uint8

const (
	dbgIdle dbgState = iota
	dbgCSR
	dbgMem
	dbgProgbuf
)

// DbgPortInput is what the debug port samples each cycle.
type DbgPortInput struct {
	Req DebugRequest

	// CSR outputs, with ReqReady only set when the port owns the CSR
	// request port this cycle.
	CSR csr.Output

	MemResp DebugMemResponse
	Halted  bool
}

// DbgPort services Debug Module requests inside the hart: register reads
// and writes, memory accesses through Execute and program buffer runs.
type DbgPort struct {
	bank *RegBank

	r, n dbgPortState
}

type dbgPortState struct {
	state   dbgState
	csrReq  csr.Request
	csrSent bool
	memReq  DebugMemRequest
	exec    bool

	wb   RegWrite
	resp DebugResponse
}

// NewDbgPort creates a debug port over bank.
func NewDbgPort(bank *RegBank) *DbgPort {
	return &DbgPort{bank: bank}
}

// Ready reports whether the port accepts a request.
func (p *DbgPort) Ready() bool { return p.r.state == dbgIdle }

// Resp returns the response pulse.
func (p *DbgPort) Resp() DebugResponse { return p.r.resp }

// CSRRequest returns the request offered to the CSR file.
func (p *DbgPort) CSRRequest() csr.Request { return p.r.csrReq }

// RegWrite returns the register write pulse.
func (p *DbgPort) RegWrite() RegWrite { return p.r.wb }

// MemRequest returns the memory access offered to Execute.
func (p *DbgPort) MemRequest() DebugMemRequest { return p.r.memReq }

// Progexec reports that the program buffer should run.
func (p *DbgPort) Progexec() bool { return p.r.exec }

// Step computes the next state.
func (p *DbgPort) Step(in DbgPortInput) {
	p.n = p.r
	r, n := &p.r, &p.n
	n.wb = RegWrite{}
	n.resp = DebugResponse{}

	switch r.state {
	case dbgIdle:
		if in.Req.Valid {
			p.accept(in)
		}

	case dbgCSR:
		switch {
		case r.csrReq.Valid:
			if in.CSR.ReqReady {
				n.csrReq = csr.Request{}
				n.csrSent = true
			}
		case r.csrSent && in.CSR.Resp.Valid:
			n.csrSent = false
			p.respond(in.CSR.Resp.Data, in.CSR.Resp.Exception)
		}

	case dbgMem:
		if in.MemResp.Valid {
			n.memReq = DebugMemRequest{}
			p.respond(in.MemResp.Data, in.MemResp.Error)
		}

	case dbgProgbuf:
		if in.CSR.ProgbufEnd || in.CSR.ProgbufError {
			n.exec = false
			p.respond(0, in.CSR.ProgbufError)
		}
	}
}

// Commit makes the next state current.
func (p *DbgPort) Commit() {
	p.r = p.n
}

func (p *DbgPort) accept(in DbgPortInput) {
	n := &p.n
	req := in.Req
	write := req.Type&DebugWrite != 0

	switch {
	case req.Type&DebugRegAccess != 0:
		p.regAccess(req, write)

	case req.Type&(DebugMemAccess|DebugMemVirtual) != 0:
		if !in.Halted {
			p.respond(0, true)
			return
		}
		n.memReq = DebugMemRequest{
			Valid: true,
			Write: write,
			Addr:  req.Addr,
			WData: req.WData,
			Size:  req.Size,
		}
		n.state = dbgMem

	case req.Type&DebugProgexec != 0:
		if !in.Halted {
			p.respond(0, true)
			return
		}
		n.exec = true
		n.state = dbgProgbuf

	default:
		p.respond(0, true)
	}
}

func (p *DbgPort) regAccess(req DebugRequest, write bool) {
	n := &p.n
	addr := req.Addr
	switch {
	case addr < RegGPRBase:
		n.csrReq = csr.Request{Valid: true, Type: csr.ReqRead, Addr: uint16(addr)}
		if write {
			n.csrReq.Type = csr.ReqWrite
			n.csrReq.Data = req.WData
		}
		n.csrSent = false
		n.state = dbgCSR

	case addr < RegEnd:
		idx := uint8(addr - RegGPRBase)
		if addr >= RegFPRBase {
			idx = insts.FPReg + uint8(addr-RegFPRBase)
		}
		if write {
			if idx != 0 {
				n.wb = RegWrite{Valid: true, Addr: idx, Tag: p.bank.Tag(idx), Data: req.WData}
			}
			p.respond(0, false)
			return
		}
		p.respond(p.bank.Value(idx), false)

	default:
		p.respond(0, true)
	}
}

func (p *DbgPort) respond(data uint64, err bool) {
	n := &p.n
	n.state = dbgIdle
	n.resp = DebugResponse{Valid: true, Data: data, Error: err}
}
