// Package dmi models River's external Debug Module: the JTAG TAP with its
// Debug Transport Module registers, the clock-domain crossing of DMI
// accesses, the DMI register bank and the abstract-command engine, plus a
// JTAG host that bit-bangs scans into the TAP.
package dmi

import "fmt"

// MaxHarts is the number of harts the Debug Module can select.
const MaxHarts = 4

// Register counts advertised by the Debug Module.
const (
	DataCount    = 4
	ProgbufCount = 16
	ScratchCount = 2
)

// DMI register addresses.
const (
	Data0        uint8 = 0x04
	Data1        uint8 = 0x05
	Data2        uint8 = 0x06
	Data3        uint8 = 0x07
	DMControl    uint8 = 0x10
	DMStatus     uint8 = 0x11
	HartInfo     uint8 = 0x12
	AbstractCS   uint8 = 0x16
	Command      uint8 = 0x17
	AbstractAuto uint8 = 0x18
	Progbuf0     uint8 = 0x20
	HaltSum0     uint8 = 0x40
)

// dmcontrol fields.
const (
	DMControlHaltReq         uint32 = 1 << 31
	DMControlResumeReq       uint32 = 1 << 30
	DMControlHartReset       uint32 = 1 << 29
	DMControlSetResetHaltReq uint32 = 1 << 3
	DMControlClrResetHaltReq uint32 = 1 << 2
	DMControlNDMReset        uint32 = 1 << 1
	DMControlDMActive        uint32 = 1 << 0
	DMControlHartSelShift           = 16
	dmcontrolHartSelMask     uint32 = MaxHarts - 1
)

// dmstatus fields.
const (
	DMStatusAllResumeAck    uint32 = 1 << 17
	DMStatusAnyResumeAck    uint32 = 1 << 16
	DMStatusAllNonexistent  uint32 = 1 << 15
	DMStatusAnyNonexistent  uint32 = 1 << 14
	DMStatusAllUnavail      uint32 = 1 << 13
	DMStatusAnyUnavail      uint32 = 1 << 12
	DMStatusAllRunning      uint32 = 1 << 11
	DMStatusAnyRunning      uint32 = 1 << 10
	DMStatusAllHalted       uint32 = 1 << 9
	DMStatusAnyHalted       uint32 = 1 << 8
	DMStatusAuthenticated   uint32 = 1 << 7
	DMStatusHasResetHaltReq uint32 = 1 << 5
	dmstatusVersion         uint32 = 2
)

// abstractcs fields.
const (
	AbstractCSBusy        uint32 = 1 << 12
	AbstractCSCmdErrShift        = 8
	AbstractCSCmdErrMask  uint32 = 7 << AbstractCSCmdErrShift
)

// Abstract command types, held in command[31:24].
const (
	CmdAccessRegister uint32 = 0
	CmdQuickAccess    uint32 = 1
	CmdAccessMemory   uint32 = 2
)

// Abstract command fields.
const (
	CmdAAMVirtual    uint32 = 1 << 23
	CmdSizeShift            = 20
	CmdPostincrement uint32 = 1 << 19
	CmdPostexec      uint32 = 1 << 18
	CmdTransfer      uint32 = 1 << 17
	CmdWrite         uint32 = 1 << 16
	cmdRegnoMask     uint32 = 0xFFFF
	cmdTypeShift            = 24
	cmdSizeMask      uint32 = 7
)

// AccessRegister builds an access-register command for regno with a
// 2^size byte transfer.
func AccessRegister(regno uint16, size uint32, write, postexec bool) uint32 {
	cmd := CmdAccessRegister<<cmdTypeShift | size<<CmdSizeShift | CmdTransfer | uint32(regno)
	if write {
		cmd |= CmdWrite
	}
	if postexec {
		cmd |= CmdPostexec
	}
	return cmd
}

// AccessMemory builds an access-memory command with a 2^size byte
// transfer at the address held in data2/data3.
func AccessMemory(size uint32, write, postincrement bool) uint32 {
	cmd := CmdAccessMemory<<cmdTypeShift | size<<CmdSizeShift
	if write {
		cmd |= CmdWrite
	}
	if postincrement {
		cmd |= CmdPostincrement
	}
	return cmd
}

// CmdErr is the abstractcs.cmderr code.
type CmdErr uint8

// Abstract command errors.
const (
	CmdErrNone         CmdErr = 0
	CmdErrBusy         CmdErr = 1
	CmdErrNotSupported CmdErr = 2
	CmdErrException    CmdErr = 3
	CmdErrWrongState   CmdErr = 4
	CmdErrBusError     CmdErr = 5
	CmdErrOther        CmdErr = 7
)

func (e CmdErr) String() string {
	switch e {
	case CmdErrNone:
		return "none"
	case CmdErrBusy:
		return "busy"
	case CmdErrNotSupported:
		return "not supported"
	case CmdErrException:
		return "exception"
	case CmdErrWrongState:
		return "wrong state"
	case CmdErrBusError:
		return "bus error"
	case CmdErrOther:
		return "other"
	}
	return fmt.Sprintf("cmderr(%d)", uint8(e))
}

// Request is a DMI access. A request with HardReset set carries no access;
// it returns the Debug Module to its reset state.
type Request struct {
	Write     bool
	Addr      uint8
	Data      uint32
	HardReset bool
}

// Response answers a Request.
type Response struct {
	Data  uint32
	Error bool
}
