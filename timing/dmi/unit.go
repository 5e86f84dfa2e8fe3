package dmi

import (
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/pipeline"
)

// fifoAddrBits sizes both clock-crossing FIFOs.
const fifoAddrBits = 2

// HartStatus is what the Debug Module samples from the harts each core
// cycle. The debug port fields belong to the selected hart.
type HartStatus struct {
	Halted     [MaxHarts]bool
	Available  [MaxHarts]bool
	DportReady bool
	DportResp  pipeline.DebugResponse
}

// Unit joins the TAP, which runs on TCK, to the Debug Module, which runs on
// the core clock. DMI requests and responses cross between the two through
// a pair of asynchronous FIFOs.
type Unit struct {
	tap    *Tap
	module *Module
	req    *bus.AsyncFIFO[Request]
	resp   *bus.AsyncFIFO[Response]
}

// NewUnit creates a Debug Module with its JTAG transport.
func NewUnit() *Unit {
	return &Unit{
		tap:    NewTap(),
		module: NewModule(),
		req:    bus.NewAsyncFIFO[Request](fifoAddrBits),
		resp:   bus.NewAsyncFIFO[Response](fifoAddrBits),
	}
}

// Tap returns the TAP controller.
func (u *Unit) Tap() *Tap { return u.tap }

// Module returns the Debug Module.
func (u *Unit) Module() *Module { return u.module }

// TDO returns the JTAG serial output.
func (u *Unit) TDO() bool { return u.tap.TDO() }

// Outputs returns the signals driving the harts.
func (u *Unit) Outputs() ModuleOutput { return u.module.Outputs() }

// StepTCK computes the TCK domain's next state for one rising edge.
func (u *Unit) StepTCK(p Pins) {
	resp, ok := u.resp.Front()
	u.tap.Step(TapInput{Pins: p, Resp: resp, RespValid: ok})
	u.resp.StepRead(ok)

	req, valid := u.tap.Request()
	u.req.StepWrite(valid, req)
}

// CommitTCK commits the TCK domain.
func (u *Unit) CommitTCK() {
	u.tap.Commit()
	u.resp.CommitRead()
	u.req.CommitWrite()
}

// StepCore computes the core domain's next state.
func (u *Unit) StepCore(in HartStatus) {
	req, ok := u.req.Front()
	pop := ok && u.module.Accepting()
	u.module.Step(ModuleInput{
		Req:        req,
		ReqValid:   pop,
		Halted:     in.Halted,
		Available:  in.Available,
		DportReady: in.DportReady,
		DportResp:  in.DportResp,
	})
	u.req.StepRead(pop)

	resp, valid := u.module.Response()
	u.resp.StepWrite(valid, resp)
}

// CommitCore commits the core domain.
func (u *Unit) CommitCore() {
	u.module.Commit()
	u.req.CommitRead()
	u.resp.CommitWrite()
}
