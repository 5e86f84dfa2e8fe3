package pipeline

import (
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/bus"
)

// memQueueDepth is the number of operations MemAccess buffers.
const memQueueDepth = 2

type memPhase uint8

const (
	memIdle memPhase = iota
	memReq
	memWait
)

// MemAccessInput is what MemAccess samples each cycle.
type MemAccessInput struct {
	// Op is Execute's registered memory operation.
	Op MemOp

	// Data-side MMU handshake.
	MemReqReady bool
	MemResp     bus.CoreResponse
}

// MemAccessStats counts memory operations.
type MemAccessStats struct {
	Loads  uint64
	Stores uint64
	Faults uint64
	// QueueFull is the number of cycles Execute found the queue full.
	QueueFull uint64
}

// MemAccess queues memory operations from Execute, sends them one at a
// time through the data MMU and writes load results back to the register
// bank with the tag Execute assigned.
type MemAccess struct {
	r, n memAccessState
}

type memAccessState struct {
	queue [memQueueDepth]MemOp
	count int

	phase memPhase
	cur   MemOp
	req   bus.CoreRequest

	wb     RegWrite
	result MemResult
	fault  MemFault

	stats MemAccessStats
}

// NewMemAccess creates an empty MemAccess stage.
func NewMemAccess() *MemAccess {
	return &MemAccess{}
}

// Ready reports whether the queue can take an operation.
func (m *MemAccess) Ready() bool {
	return m.r.count < memQueueDepth
}

// Idle reports whether no operation is queued or in flight.
func (m *MemAccess) Idle() bool {
	return m.r.count == 0 && m.r.phase == memIdle
}

// MemReq returns the request presented to the MMU.
func (m *MemAccess) MemReq() bus.CoreRequest {
	if m.r.phase == memReq {
		return m.r.req
	}
	return bus.CoreRequest{}
}

// RegWrite returns the register write pulse.
func (m *MemAccess) RegWrite() RegWrite {
	return m.r.wb
}

// Result returns the pulse answering an Amo or Debug operation.
func (m *MemAccess) Result() MemResult {
	return m.r.result
}

// Fault returns the pulse reporting a faulted load or store.
func (m *MemAccess) Fault() MemFault {
	return m.r.fault
}

// Stats returns the operation counters.
func (m *MemAccess) Stats() MemAccessStats {
	return m.r.stats
}

// Step computes the next state.
func (m *MemAccess) Step(in MemAccessInput) {
	m.n = m.r
	r, n := &m.r, &m.n
	n.wb = RegWrite{}
	n.result = MemResult{}
	n.fault = MemFault{}

	switch {
	case r.phase == memReq && in.MemReqReady:
		n.phase = memWait
	case r.phase == memWait && in.MemResp.Valid:
		m.finish(in.MemResp)
		n.phase = memIdle
	}

	if in.Op.Valid {
		if r.count < memQueueDepth {
			n.queue[n.count] = in.Op
			n.count++
		} else {
			n.stats.QueueFull++
		}
	}

	if n.phase == memIdle && n.count > 0 {
		m.issue()
	}
}

// Commit makes the next state current.
func (m *MemAccess) Commit() {
	m.r = m.n
}

func (m *MemAccess) issue() {
	n := &m.n
	op := n.queue[0]
	copy(n.queue[:], n.queue[1:])
	n.queue[memQueueDepth-1] = MemOp{}
	n.count--

	size := op.Size.Bytes()
	n.cur = op
	n.req = bus.CoreRequest{
		Valid: true,
		Type:  op.Type,
		Addr:  op.Addr,
		Size:  size,
	}
	if op.Type.IsWrite() {
		n.req.WData = op.WData
		n.req.WStrb = bus.Strobe(op.Addr, size)
		n.stats.Stores++
	} else {
		n.stats.Loads++
	}
	n.phase = memReq
}

func (m *MemAccess) finish(resp bus.CoreResponse) {
	r, n := &m.r, &m.n
	op := r.cur

	if resp.Faulted() {
		n.stats.Faults++
		cause := faultCause(op, resp.PageFault)
		if op.Rd != 0 {
			n.wb = RegWrite{Valid: true, Addr: op.Rd, Tag: op.Tag, KeepValue: true}
		}
		if op.Amo || op.Debug {
			n.result = MemResult{Valid: true, Fault: true, Cause: cause, Addr: op.Addr}
			return
		}
		n.fault = MemFault{Valid: true, Cause: cause, Addr: op.Addr, PC: op.PC}
		return
	}

	var data uint64
	switch op.Type {
	case bus.MemOpRelease:
		data = resp.Data
	case bus.MemOpRead, bus.MemOpReserve:
		data = emu.LoadExtend(resp.Data, op.Size, op.SignExt)
	}
	if op.Rd != 0 && !op.Debug {
		n.wb = RegWrite{Valid: true, Addr: op.Rd, Tag: op.Tag, Data: data}
	}
	if op.Amo || op.Debug {
		n.result = MemResult{Valid: true, Data: data, Addr: op.Addr}
	}
}

// faultCause maps a faulted operation to its exception cause. The read
// half of an atomic operation reports store causes.
func faultCause(op MemOp, page bool) uint64 {
	store := op.Type.IsWrite() || op.Amo
	switch {
	case store && page:
		return emu.CauseStorePageFault
	case store:
		return emu.CauseStoreFault
	case page:
		return emu.CauseLoadPageFault
	}
	return emu.CauseLoadFault
}

// memSize returns the access width of a debugger access of size bytes.
func memSize(size int) insts.MemSize {
	switch size {
	case 1:
		return insts.MemSize1
	case 2:
		return insts.MemSize2
	case 4:
		return insts.MemSize4
	}
	return insts.MemSize8
}
