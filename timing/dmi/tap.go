package dmi

import "fmt"

// TapState is a state of the IEEE 1149.1 TAP controller.
type TapState uint8

// TAP controller states.
const (
	TestLogicReset TapState = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR
)

var tapStateNames = [...]string{
	"TestLogicReset", "RunTestIdle",
	"SelectDRScan", "CaptureDR", "ShiftDR", "Exit1DR", "PauseDR", "Exit2DR", "UpdateDR",
	"SelectIRScan", "CaptureIR", "ShiftIR", "Exit1IR", "PauseIR", "Exit2IR", "UpdateIR",
}

func (s TapState) String() string {
	if int(s) < len(tapStateNames) {
		return tapStateNames[s]
	}
	return fmt.Sprintf("TapState(%d)", uint8(s))
}

// tapNext holds the successor of each state for TMS=0 and TMS=1.
var tapNext = [16][2]TapState{
	TestLogicReset: {RunTestIdle, TestLogicReset},
	RunTestIdle:    {RunTestIdle, SelectDRScan},
	SelectDRScan:   {CaptureDR, SelectIRScan},
	CaptureDR:      {ShiftDR, Exit1DR},
	ShiftDR:        {ShiftDR, Exit1DR},
	Exit1DR:        {PauseDR, UpdateDR},
	PauseDR:        {PauseDR, Exit2DR},
	Exit2DR:        {ShiftDR, UpdateDR},
	UpdateDR:       {RunTestIdle, SelectDRScan},
	SelectIRScan:   {CaptureIR, TestLogicReset},
	CaptureIR:      {ShiftIR, Exit1IR},
	ShiftIR:        {ShiftIR, Exit1IR},
	Exit1IR:        {PauseIR, UpdateIR},
	PauseIR:        {PauseIR, Exit2IR},
	Exit2IR:        {ShiftIR, UpdateIR},
	UpdateIR:       {RunTestIdle, SelectDRScan},
}

// Next returns the state the controller enters on a TCK edge with tms.
func (s TapState) Next(tms bool) TapState {
	if tms {
		return tapNext[s&15][1]
	}
	return tapNext[s&15][0]
}

// Instruction register codes.
const (
	IRIDCode     uint8 = 0x01
	IRDTMControl uint8 = 0x10
	IRDBus       uint8 = 0x11
	IRBypass     uint8 = 0x1F
)

// TAP geometry.
const (
	IRLength  = 5
	AddrBits  = 7
	DBusBits  = AddrBits + 34
	IDCode    = 0x10E31913
	dtmVer    = 1
	irMask    = 1<<IRLength - 1
	addrMask  = 1<<AddrBits - 1
	dbusAddr0 = 34
)

// dtmcontrol fields.
const (
	DTMControlDMIReset     = 1 << 16
	DTMControlDMIHardReset = 1 << 17
	dtmcontrolStatShift    = 10
)

// DBus operation and status codes, held in dbus[1:0].
const (
	OpNop   uint8 = 0
	OpRead  uint8 = 1
	OpWrite uint8 = 2

	StatSuccess uint8 = 0
	StatFailed  uint8 = 2
	StatBusy    uint8 = 3
)

// EncodeDBus packs a dbus scan value.
func EncodeDBus(op uint8, addr uint8, data uint32) uint64 {
	return uint64(addr&addrMask)<<dbusAddr0 | uint64(data)<<2 | uint64(op&3)
}

// DecodeDBus splits a dbus scan value into status, address and data.
func DecodeDBus(v uint64) (op uint8, addr uint8, data uint32) {
	return uint8(v & 3), uint8(v>>dbusAddr0) & addrMask, uint32(v >> 2)
}

// Pins are the JTAG inputs sampled on a TCK rising edge. TRST is
// active high.
type Pins struct {
	TRST bool
	TMS  bool
	TDI  bool
}

// TapInput is what the TAP samples on a TCK edge.
type TapInput struct {
	Pins

	// Resp is the front of the response FIFO, valid when RespValid.
	Resp      Response
	RespValid bool
}

// Tap is the JTAG TAP controller with the Debug Transport Module's
// registers. It runs in the TCK domain.
type Tap struct {
	r, n tapState
}

type tapState struct {
	state  TapState
	ir     uint8
	dr     uint64
	drLen  uint8
	bypass bool

	sticky   uint8
	pending  bool
	lastAddr uint8
	lastData uint32
	lastErr  bool

	req      Request
	reqValid bool
}

// NewTap creates a TAP in TestLogicReset.
func NewTap() *Tap {
	t := &Tap{}
	t.r.reset()
	t.n = t.r
	return t
}

func (s *tapState) reset() {
	*s = tapState{state: TestLogicReset, ir: IRIDCode}
}

// State returns the controller state.
func (t *Tap) State() TapState { return t.r.state }

// IR returns the current instruction.
func (t *Tap) IR() uint8 { return t.r.ir }

// TDO returns the serial output, the low bit of the shift register.
func (t *Tap) TDO() bool { return t.r.dr&1 != 0 }

// Pending reports whether a DMI request awaits its response.
func (t *Tap) Pending() bool { return t.r.pending }

// Sticky returns the dmistat error held until dmireset.
func (t *Tap) Sticky() uint8 { return t.r.sticky }

// Request returns the DMI request issued on the last Update-DR, for one
// TCK cycle.
func (t *Tap) Request() (Request, bool) { return t.r.req, t.r.reqValid }

// Step computes the next state for one TCK rising edge.
func (t *Tap) Step(in TapInput) {
	t.n = t.r
	r, n := &t.r, &t.n
	n.reqValid = false
	n.req = Request{}

	if in.TRST {
		n.reset()
		return
	}

	if in.RespValid && r.pending {
		n.pending = false
		n.lastData = in.Resp.Data
		n.lastErr = in.Resp.Error
	}

	n.state = r.state.Next(in.TMS)

	switch r.state {
	case TestLogicReset:
		n.ir = IRIDCode

	case CaptureDR:
		t.captureDR()

	case ShiftDR:
		if r.drLen > 1 {
			n.dr = r.dr >> 1
			if in.TDI {
				n.dr |= 1 << (r.drLen - 1)
			}
		} else {
			n.dr = 0
			if in.TDI {
				n.dr = 1
			}
		}

	case UpdateDR:
		t.updateDR()

	case CaptureIR:
		n.dr = uint64(r.ir&^3) | 1
		n.drLen = IRLength

	case ShiftIR:
		n.dr = r.dr >> 1
		if in.TDI {
			n.dr |= 1 << (IRLength - 1)
		}

	case UpdateIR:
		n.ir = uint8(r.dr) & irMask
	}
}

func (t *Tap) captureDR() {
	r, n := &t.r, &t.n
	switch r.ir {
	case IRIDCode:
		n.dr = IDCode
		n.drLen = 32
	case IRDTMControl:
		n.dr = dtmVer | AddrBits<<4 | uint64(r.sticky)<<dtmcontrolStatShift
		n.drLen = 32
	case IRDBus:
		stat := r.sticky
		switch {
		case r.pending:
			stat = StatBusy
			n.sticky = StatBusy
		case r.lastErr && stat == StatSuccess:
			stat = StatFailed
			n.sticky = StatFailed
		}
		n.dr = EncodeDBus(stat, r.lastAddr, r.lastData)
		n.drLen = DBusBits
	default:
		n.dr = 0
		if r.bypass {
			n.dr = 1
		}
		n.drLen = 1
	}
}

func (t *Tap) updateDR() {
	r, n := &t.r, &t.n
	switch r.ir {
	case IRDTMControl:
		if r.dr&DTMControlDMIReset != 0 {
			n.sticky = StatSuccess
			n.lastErr = false
		}
		if r.dr&DTMControlDMIHardReset != 0 {
			n.sticky = StatSuccess
			n.lastErr = false
			n.pending = false
			n.req = Request{HardReset: true}
			n.reqValid = true
		}

	case IRDBus:
		op, addr, data := DecodeDBus(r.dr)
		switch {
		case op == OpNop || op > OpWrite:
		case r.sticky != StatSuccess:
		case r.pending:
			n.sticky = StatBusy
		default:
			n.req = Request{Write: op == OpWrite, Addr: addr, Data: data}
			n.reqValid = true
			n.pending = true
			n.lastAddr = addr
		}

	case IRBypass:
		n.bypass = r.dr&1 != 0
	}
}

// Commit makes the next state current.
func (t *Tap) Commit() {
	t.r = t.n
}
