package dmi

import "github.com/sarchlab/riversim/timing/pipeline"

type dmState uint8

const (
	dmIdle dmState = iota
	dmAccess
)

type cmdState uint8

const (
	cmdIdle cmdState = iota
	cmdInit
	cmdRequest
	cmdResponse
	cmdWaitHalted
)

// ModuleInput is what the Debug Module samples each core cycle.
type ModuleInput struct {
	// Req is a DMI access accepted this cycle, valid when ReqValid.
	Req      Request
	ReqValid bool

	Halted    [MaxHarts]bool
	Available [MaxHarts]bool

	// Debug port of the selected hart.
	DportReady bool
	DportResp  pipeline.DebugResponse
}

// ModuleOutput drives the harts.
type ModuleOutput struct {
	HartSel      int
	HaltReq      bool
	ResumeReq    bool
	HartReset    bool
	NDMReset     bool
	ResetHaltReq bool
	Dport        pipeline.DebugRequest
	Progbuf      [ProgbufCount]uint32
}

// Module is the Debug Module: the DMI register bank and the abstract
// command engine. It serves one DMI access at a time and talks to the
// selected hart through its debug port.
type Module struct {
	r, n moduleState
}

type moduleState struct {
	dmstate dmState
	regAddr uint8
	regData uint32
	regWr   bool

	dmactive     bool
	hartsel      int
	haltreq      bool
	resumereq    bool
	resumeack    bool
	hartreset    bool
	ndmreset     bool
	resethaltreq bool

	data      [DataCount]uint32
	progbuf   [ProgbufCount]uint32
	command   uint32
	autoData  uint32
	autoProg  uint32
	cmderr    CmdErr
	cmdstate  cmdState
	regAccess bool
	quick     bool
	memAccess bool
	read      bool

	dport pipeline.DebugRequest

	resp      Response
	respValid bool
}

// NewModule creates a Debug Module in its reset state.
func NewModule() *Module {
	return &Module{}
}

// Accepting reports whether the module takes a DMI access this cycle.
func (m *Module) Accepting() bool { return m.r.dmstate == dmIdle }

// Response returns the DMI response pulse.
func (m *Module) Response() (Response, bool) { return m.r.resp, m.r.respValid }

// Busy reports whether an abstract command is running.
func (m *Module) Busy() bool { return m.r.cmdstate != cmdIdle }

// CmdErr returns the latched command error.
func (m *Module) CmdErr() CmdErr { return m.r.cmderr }

// Active reports dmcontrol.dmactive.
func (m *Module) Active() bool { return m.r.dmactive }

// Data returns data register i.
func (m *Module) Data(i int) uint32 { return m.r.data[i] }

// Outputs returns the registered signals to the harts.
func (m *Module) Outputs() ModuleOutput {
	return ModuleOutput{
		HartSel:      m.r.hartsel,
		HaltReq:      m.r.haltreq,
		ResumeReq:    m.r.resumereq,
		HartReset:    m.r.hartreset,
		NDMReset:     m.r.ndmreset,
		ResetHaltReq: m.r.resethaltreq,
		Dport:        m.r.dport,
		Progbuf:      m.r.progbuf,
	}
}

// Step computes the next state.
func (m *Module) Step(in ModuleInput) {
	m.n = m.r
	r, n := &m.r, &m.n
	n.resp = Response{}
	n.respValid = false

	if in.ReqValid && in.Req.HardReset {
		n.reset()
		return
	}

	halted := in.Halted[r.hartsel]
	if r.haltreq && halted {
		n.haltreq = false
	}
	if r.resumereq && !halted {
		n.resumereq = false
		n.resumeack = true
	}

	switch r.dmstate {
	case dmIdle:
		if in.ReqValid {
			n.dmstate = dmAccess
			n.regAddr = in.Req.Addr
			n.regData = in.Req.Data
			n.regWr = in.Req.Write
		}
	case dmAccess:
		n.dmstate = dmIdle
		n.resp = Response{Data: m.access(in)}
		n.respValid = true
		if r.regWr && r.regAddr == DMControl && r.regData&DMControlDMActive == 0 {
			resp := n.resp
			n.reset()
			n.resp, n.respValid = resp, true
			return
		}
	}

	m.execute(in)
}

// Commit makes the next state current.
func (m *Module) Commit() {
	m.r = m.n
}

func (s *moduleState) reset() {
	*s = moduleState{}
}

// access performs the latched register access and returns the read data.
func (m *Module) access(in ModuleInput) uint32 {
	r, n := &m.r, &m.n
	addr, wdata, wr := r.regAddr, r.regData, r.regWr
	if !r.dmactive && addr != DMControl {
		wr = false
	}
	sel := r.hartsel

	switch {
	case addr >= Data0 && addr <= Data3:
		i := int(addr - Data0)
		if wr && m.writable() {
			n.data[i] = wdata
		}
		if r.autoData&(1<<i) != 0 {
			m.autoexec()
		}
		return r.data[i]

	case addr == DMControl:
		var v uint32
		if r.haltreq {
			v |= DMControlHaltReq
		}
		if r.hartreset {
			v |= DMControlHartReset
		}
		if r.ndmreset {
			v |= DMControlNDMReset
		}
		if r.dmactive {
			v |= DMControlDMActive
		}
		v |= uint32(r.hartsel) << DMControlHartSelShift
		if wr {
			m.writeDMControl(wdata, in)
		}
		return v

	case addr == DMStatus:
		v := DMStatusAuthenticated | DMStatusHasResetHaltReq | dmstatusVersion
		if r.resumeack {
			v |= DMStatusAllResumeAck | DMStatusAnyResumeAck
		}
		switch {
		case !in.Available[sel]:
			v |= DMStatusAllNonexistent | DMStatusAnyNonexistent |
				DMStatusAllUnavail | DMStatusAnyUnavail
		case in.Halted[sel]:
			v |= DMStatusAllHalted | DMStatusAnyHalted
		default:
			v |= DMStatusAllRunning | DMStatusAnyRunning
		}
		return v

	case addr == HartInfo:
		if in.Available[sel] {
			return ScratchCount << 20
		}
		return 0

	case addr == AbstractCS:
		v := uint32(ProgbufCount)<<24 | uint32(r.cmderr)<<AbstractCSCmdErrShift | DataCount
		if r.cmdstate != cmdIdle {
			v |= AbstractCSBusy
		}
		if wr {
			clear := CmdErr((wdata & AbstractCSCmdErrMask) >> AbstractCSCmdErrShift)
			n.cmderr &^= clear
		}
		return v

	case addr == Command:
		if wr && r.cmderr == CmdErrNone {
			if r.cmdstate != cmdIdle {
				n.cmderr = CmdErrBusy
			} else {
				n.command = wdata
				n.cmdstate = cmdInit
			}
		}
		return 0

	case addr == AbstractAuto:
		if wr {
			n.autoData = wdata & (1<<DataCount - 1)
			n.autoProg = wdata >> 16
		}
		return r.autoData | r.autoProg<<16

	case addr >= Progbuf0 && addr < Progbuf0+ProgbufCount:
		i := int(addr - Progbuf0)
		if wr && m.writable() {
			n.progbuf[i] = wdata
		}
		if r.autoProg&(1<<i) != 0 {
			m.autoexec()
		}
		return r.progbuf[i]

	case addr == HaltSum0:
		var v uint32
		for i, h := range in.Halted {
			if h && in.Available[i] {
				v |= 1 << i
			}
		}
		return v
	}
	return 0
}

// writable reports whether data and progbuf may change. Writes while a
// command runs are dropped and raise busy.
func (m *Module) writable() bool {
	if m.r.cmdstate == cmdIdle {
		return true
	}
	if m.r.cmderr == CmdErrNone {
		m.n.cmderr = CmdErrBusy
	}
	return false
}

// autoexec reruns the last command after a data or progbuf access.
func (m *Module) autoexec() {
	r, n := &m.r, &m.n
	if r.cmderr != CmdErrNone {
		return
	}
	if r.cmdstate != cmdIdle {
		n.cmderr = CmdErrBusy
		return
	}
	n.cmdstate = cmdInit
}

func (m *Module) writeDMControl(v uint32, in ModuleInput) {
	n := &m.n
	next := int(v>>DMControlHartSelShift) & int(dmcontrolHartSelMask)

	switch {
	case v&DMControlHaltReq != 0:
		if !in.Halted[next] {
			n.haltreq = true
		}
	case v&DMControlResumeReq != 0:
		if in.Halted[next] {
			n.resumereq = true
			n.resumeack = false
		} else {
			n.cmderr = CmdErrWrongState
		}
	}

	n.hartreset = v&DMControlHartReset != 0
	n.hartsel = next
	switch {
	case v&DMControlSetResetHaltReq != 0:
		n.resethaltreq = true
	case v&DMControlClrResetHaltReq != 0:
		n.resethaltreq = false
	}
	n.ndmreset = v&DMControlNDMReset != 0
	n.dmactive = v&DMControlDMActive != 0
}

// execute advances the abstract command engine.
func (m *Module) execute(in ModuleInput) {
	r, n := &m.r, &m.n
	cmd := r.command
	size := cmd >> CmdSizeShift & cmdSizeMask

	switch r.cmdstate {
	case cmdIdle:
		n.regAccess, n.quick, n.memAccess, n.read = false, false, false, false
		n.dport = pipeline.DebugRequest{}

	case cmdInit:
		switch cmd >> cmdTypeShift {
		case CmdAccessRegister:
			switch {
			case cmd&CmdTransfer != 0 && size > 3:
				m.fail(CmdErrNotSupported)
			case cmd&CmdTransfer != 0:
				n.regAccess = true
				n.read = cmd&CmdWrite == 0
				typ := pipeline.DebugRegAccess
				if !n.read {
					typ |= pipeline.DebugWrite
				}
				m.request(typ, uint64(cmd&cmdRegnoMask), 1<<size)
			case cmd&CmdPostexec != 0:
				m.request(pipeline.DebugProgexec, 0, 0)
			default:
				n.cmdstate = cmdIdle
			}

		case CmdQuickAccess:
			if in.Halted[r.hartsel] {
				m.fail(CmdErrWrongState)
				return
			}
			n.haltreq = true
			n.quick = true
			n.cmdstate = cmdWaitHalted

		case CmdAccessMemory:
			if size > 3 {
				m.fail(CmdErrNotSupported)
				return
			}
			n.memAccess = true
			n.read = cmd&CmdWrite == 0
			typ := pipeline.DebugMemAccess
			if cmd&CmdAAMVirtual != 0 {
				typ |= pipeline.DebugMemVirtual
			}
			if !n.read {
				typ |= pipeline.DebugWrite
			}
			m.request(typ, uint64(r.data[3])<<32|uint64(r.data[2]), 1<<size)

		default:
			m.fail(CmdErrNotSupported)
		}

	case cmdRequest:
		if in.DportReady {
			n.dport.Valid = false
			n.cmdstate = cmdResponse
		}

	case cmdResponse:
		if !in.DportResp.Valid {
			return
		}
		m.complete(in.DportResp, size)

	case cmdWaitHalted:
		if in.Halted[r.hartsel] {
			m.request(pipeline.DebugProgexec, 0, 0)
		}
	}
}

func (m *Module) request(typ pipeline.DebugReqType, addr uint64, size int) {
	r, n := &m.r, &m.n
	n.dport = pipeline.DebugRequest{
		Valid: true,
		Type:  typ,
		Addr:  addr,
		WData: uint64(r.data[1])<<32 | uint64(r.data[0]),
		Size:  size,
	}
	n.cmdstate = cmdRequest
}

func (m *Module) fail(e CmdErr) {
	m.n.cmderr = e
	m.n.cmdstate = cmdIdle
}

func (m *Module) complete(resp pipeline.DebugResponse, size uint32) {
	r, n := &m.r, &m.n
	cmd := r.command

	if r.read && !resp.Error {
		switch size {
		case 0:
			n.data[0], n.data[1] = uint32(uint8(resp.Data)), 0
		case 1:
			n.data[0], n.data[1] = uint32(uint16(resp.Data)), 0
		case 2:
			n.data[0], n.data[1] = uint32(resp.Data), 0
		case 3:
			n.data[0], n.data[1] = uint32(resp.Data), uint32(resp.Data>>32)
		}
	}

	if cmd&CmdPostincrement != 0 && (r.regAccess || r.memAccess) {
		if r.regAccess {
			n.command = cmd&^cmdRegnoMask | (cmd+1)&cmdRegnoMask
		} else {
			addr := uint64(r.data[3])<<32 | uint64(r.data[2])
			addr += 1 << size
			n.data[2], n.data[3] = uint32(addr), uint32(addr>>32)
		}
	}

	switch {
	case resp.Error:
		n.cmdstate = cmdIdle
		if r.memAccess {
			n.cmderr = CmdErrBusError
		} else {
			n.cmderr = CmdErrException
		}
	case r.regAccess && cmd&CmdPostexec != 0:
		n.regAccess = false
		n.read = false
		m.request(pipeline.DebugProgexec, 0, 0)
	default:
		n.cmdstate = cmdIdle
	}

	if r.quick {
		n.resumereq = true
		n.resumeack = false
	}
}
