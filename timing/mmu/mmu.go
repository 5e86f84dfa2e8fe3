// Package mmu models River's memory management unit: a direct-mapped TLB
// in front of an Sv39/Sv48 page-table walker. One instance sits between
// each core port (fetch or data) and its L1 cache. Page-table entries are
// read through the same cache port as ordinary accesses, and the walker
// never updates the accessed and dirty bits: a leaf with A clear, or a
// store to a leaf with D clear, is a page fault.
package mmu

import "github.com/sarchlab/riversim/timing/bus"

// State is the MMU controller state.
type State uint8

// MMU states.
const (
	StateIdle State = iota
	StateWaitRespNoMmu
	StateWaitRespLast
	StateCheckTlb
	StateCacheReq
	StateWaitResp
	StateHandleResp
	StateUpdateTlb
	StateAcceptCore
	StateFlushTlb
)

func (s State) String() string {
	return [...]string{
		"Idle", "WaitRespNoMmu", "WaitRespLast", "CheckTlb", "CacheReq",
		"WaitResp", "HandleResp", "UpdateTlb", "AcceptCore", "FlushTlb",
	}[s]
}

// Mode is the translation scheme selected by satp.MODE.
type Mode uint8

// Translation modes.
const (
	ModeBare Mode = 0
	ModeSv39 Mode = 8
	ModeSv48 Mode = 9
)

// Levels returns the page-table depth of the mode.
func (m Mode) Levels() int {
	switch m {
	case ModeSv39:
		return 3
	case ModeSv48:
		return 4
	}
	return 0
}

// Port selects which core port an MMU serves.
type Port uint8

// Core ports.
const (
	PortFetch Port = iota
	PortData
)

// FlushAll as a flush address invalidates every TLB slot.
const FlushAll = ^uint64(0)

// Config is the translation context produced by the CSR file each cycle.
// Enable is false in M-mode or when satp selects no translation.
type Config struct {
	Enable bool
	Mode   Mode
	PPN    uint64
	User   bool
	SUM    bool
	MXR    bool
}

// FlushRequest asks the MMU to drop the translation of Addr, or every
// translation when Addr is FlushAll.
type FlushRequest struct {
	Valid bool
	Addr  uint64
}

// Input is what the MMU samples each cycle.
type Input struct {
	Req         bus.CoreRequest
	MemReqReady bool
	MemResp     bus.CoreResponse
	Config      Config
	Flush       FlushRequest
}

// Output holds the MMU's registered outputs.
type Output struct {
	ReqReady bool
	Resp     bus.CoreResponse
	MemReq   bus.CoreRequest
	FlushEnd bool
}

// Statistics counts MMU activity.
type Statistics struct {
	Requests   uint64
	TLBHits    uint64
	TLBMisses  uint64
	Walks      uint64
	PTEReads   uint64
	PageFaults uint64
	Flushes    uint64
}

const (
	vpnMask = uint64(1)<<36 - 1
	ppnMask = uint64(1)<<44 - 1
)

func vpnOf(va uint64) uint64 {
	return va >> 12 & vpnMask
}

func vpnPart(va uint64, level int) uint64 {
	return va >> (12 + 9*uint(level)) & 0x1FF
}

// canonical reports whether the bits above the translated VA width are a
// sign extension of its top bit.
func canonical(va uint64, mode Mode) bool {
	width := uint(12 + 9*mode.Levels())
	top := int64(va) >> (width - 1)
	return top == 0 || top == -1
}

type mmuState struct {
	state  State
	req    bus.CoreRequest
	cfg    Config
	level  int
	pte    uint64
	entry  Entry
	memReq bus.CoreRequest
	issued bool
	resp   bus.CoreResponse

	last     Entry
	lastRoot uint64

	flushPending bool
	flushAddr    uint64
	flushIdx     int
	flushEnd     bool

	stats Statistics

	tlbWrite *Entry
	tlbClear int
}

// MMU translates the requests of one core port.
type MMU struct {
	port Port
	tlb  TLB

	r, n mmuState
}

// New creates an idle MMU with an empty TLB.
func New(port Port) *MMU {
	m := &MMU{port: port}
	m.r.tlbClear = -1
	m.n = m.r
	return m
}

// State returns the committed state.
func (m *MMU) State() State {
	return m.r.state
}

// Stats returns the MMU counters.
func (m *MMU) Stats() Statistics {
	return m.r.stats
}

// TLB returns the translation cache.
func (m *MMU) TLB() *TLB {
	return &m.tlb
}

// Outputs returns the registered outputs.
func (m *MMU) Outputs() Output {
	r := &m.r
	out := Output{
		ReqReady: r.state == StateIdle && !r.flushPending,
		Resp:     r.resp,
		FlushEnd: r.flushEnd,
	}
	switch r.state {
	case StateWaitRespNoMmu, StateWaitResp, StateWaitRespLast:
		if !r.issued {
			out.MemReq = r.memReq
		}
	}
	return out
}

// Step computes the next state.
func (m *MMU) Step(in Input) {
	m.n = m.r
	r, n := &m.r, &m.n
	n.resp = bus.CoreResponse{}
	n.flushEnd = false
	n.tlbWrite = nil
	n.tlbClear = -1

	if in.Flush.Valid {
		n.flushPending = true
		n.flushAddr = in.Flush.Addr
	}

	switch r.state {
	case StateIdle:
		m.idle(in)

	case StateWaitRespNoMmu, StateWaitRespLast:
		if m.exchange(in) {
			resp := in.MemResp
			resp.Addr = r.req.Addr
			m.respond(resp)
		}

	case StateCheckTlb:
		if e, ok := m.tlb.Lookup(vpnOf(r.req.Addr)); ok {
			n.stats.TLBHits++
			n.entry = e
			n.state = StateAcceptCore
			return
		}
		n.stats.TLBMisses++
		n.stats.Walks++
		n.level = r.cfg.Mode.Levels() - 1
		n.memReq = m.pteRequest(r.cfg.PPN, n.level)
		n.state = StateCacheReq

	case StateCacheReq:
		n.issued = false
		n.stats.PTEReads++
		n.state = StateWaitResp

	case StateWaitResp:
		if !m.exchange(in) {
			return
		}
		if in.MemResp.Faulted() {
			m.accessFault()
			return
		}
		n.pte = in.MemResp.Data
		n.state = StateHandleResp

	case StateHandleResp:
		m.handleResp()

	case StateUpdateTlb:
		e := r.entry
		n.tlbWrite = &e
		n.last = e
		n.lastRoot = r.cfg.PPN
		n.state = StateAcceptCore

	case StateAcceptCore:
		if !m.allowed(r.entry) {
			m.pageFault()
			return
		}
		n.memReq = r.req
		n.memReq.Addr = r.entry.Translate(r.req.Addr)
		n.issued = false
		n.state = StateWaitRespLast

	case StateFlushTlb:
		m.flushTlb()
	}
}

// Commit makes the next state current and updates the TLB.
func (m *MMU) Commit() {
	m.r = m.n
	if m.r.tlbWrite != nil {
		m.tlb.write(*m.r.tlbWrite)
	}
	if m.r.tlbClear >= 0 {
		m.tlb.clear(m.r.tlbClear)
	}
}

func (m *MMU) idle(in Input) {
	r, n := &m.r, &m.n

	if r.flushPending {
		n.flushPending = false
		n.flushIdx = 0
		n.last = Entry{}
		n.stats.Flushes++
		n.state = StateFlushTlb
		return
	}
	if !in.Req.Valid {
		return
	}

	n.stats.Requests++
	n.req = in.Req
	n.cfg = in.Config
	if !in.Config.Enable || in.Config.Mode.Levels() == 0 {
		n.memReq = in.Req
		n.issued = false
		n.state = StateWaitRespNoMmu
		return
	}
	if !canonical(in.Req.Addr, in.Config.Mode) {
		m.pageFault()
		return
	}
	if r.last.Valid && r.last.VPN == vpnOf(in.Req.Addr) && r.lastRoot == in.Config.PPN {
		n.stats.TLBHits++
		n.entry = r.last
		n.state = StateAcceptCore
		return
	}
	n.state = StateCheckTlb
}

// exchange hands the pending request to the cache and reports whether its
// response arrived this cycle.
func (m *MMU) exchange(in Input) bool {
	r, n := &m.r, &m.n
	if !r.issued {
		if in.MemReqReady {
			n.issued = true
		}
		return false
	}
	return in.MemResp.Valid
}

func (m *MMU) pteRequest(ppn uint64, level int) bus.CoreRequest {
	return bus.CoreRequest{
		Valid: true,
		Type:  bus.MemOpRead,
		Addr:  ppn<<12 + vpnPart(m.r.req.Addr, level)*8,
		Size:  8,
	}
}

func (m *MMU) handleResp() {
	r, n := &m.r, &m.n
	pte := r.pte
	perm := uint8(pte)
	ppn := pte >> 10 & ppnMask

	if perm&PteV == 0 || perm&(PteR|PteW) == PteW {
		m.pageFault()
		return
	}
	if perm&(PteR|PteW|PteX) == 0 {
		if r.level == 0 {
			m.pageFault()
			return
		}
		n.level = r.level - 1
		n.memReq = m.pteRequest(ppn, n.level)
		n.state = StateCacheReq
		return
	}
	if r.level > 0 && ppn&(uint64(1)<<(9*uint(r.level))-1) != 0 {
		m.pageFault()
		return
	}
	n.entry = Entry{
		Valid: true,
		VPN:   vpnOf(r.req.Addr),
		PPN:   ppn,
		Level: r.level,
		Perm:  perm,
	}
	n.state = StateUpdateTlb
}

// allowed checks a leaf against the pending access.
func (m *MMU) allowed(e Entry) bool {
	cfg := m.r.cfg
	p := e.Perm
	if p&PteA == 0 {
		return false
	}

	switch {
	case m.port == PortFetch:
		if p&PteX == 0 {
			return false
		}
		return cfg.User == (p&PteU != 0)
	case m.r.req.Type.IsWrite():
		if p&PteW == 0 || p&PteD == 0 {
			return false
		}
	default:
		if p&PteR == 0 && !(cfg.MXR && p&PteX != 0) {
			return false
		}
	}

	if cfg.User {
		return p&PteU != 0
	}
	return p&PteU == 0 || cfg.SUM
}

func (m *MMU) respond(resp bus.CoreResponse) {
	m.n.resp = resp
	m.n.resp.Valid = true
	m.n.state = StateIdle
}

func (m *MMU) pageFault() {
	m.n.stats.PageFaults++
	m.respond(bus.CoreResponse{Addr: m.n.req.Addr, PageFault: true})
}

// accessFault reports a bus error on a page-table read as an access fault
// of the original request.
func (m *MMU) accessFault() {
	store := m.port == PortData && m.r.req.Type.IsWrite()
	m.respond(bus.CoreResponse{
		Addr:       m.r.req.Addr,
		LoadFault:  !store,
		StoreFault: store,
	})
}

func (m *MMU) flushTlb() {
	r, n := &m.r, &m.n
	if r.flushAddr != FlushAll {
		vpn := vpnOf(r.flushAddr)
		if _, ok := m.tlb.Lookup(vpn); ok {
			n.tlbClear = slotOf(vpn)
		}
		n.flushEnd = true
		n.state = StateIdle
		return
	}
	n.tlbClear = r.flushIdx
	n.flushIdx = r.flushIdx + 1
	if n.flushIdx >= TLBSize {
		n.flushEnd = true
		n.state = StateIdle
	}
}
