package dmi_test

import (
	"github.com/sarchlab/riversim/timing/dmi"
	"github.com/sarchlab/riversim/timing/pipeline"
)

// fakeHart answers debug port requests after delay core cycles.
type fakeHart struct {
	halted bool
	delay  int

	regs map[uint64]uint64
	mem  map[uint64]byte

	busy    bool
	wait    int
	pending pipeline.DebugRequest
	resp    pipeline.DebugResponse

	requests    []pipeline.DebugRequest
	progbufRuns int
	progbuf     [dmi.ProgbufCount]uint32
}

func newFakeHart() *fakeHart {
	return &fakeHart{
		regs: map[uint64]uint64{},
		mem:  map[uint64]byte{},
	}
}

func (h *fakeHart) status() dmi.HartStatus {
	st := dmi.HartStatus{DportReady: !h.busy, DportResp: h.resp}
	st.Halted[0] = h.halted
	st.Available[0] = true
	return st
}

func (h *fakeHart) step(out dmi.ModuleOutput) {
	h.resp = pipeline.DebugResponse{}
	switch {
	case h.busy && h.wait > 0:
		h.wait--
	case h.busy:
		h.busy = false
		h.resp = h.serve(h.pending, out)
	case out.Dport.Valid:
		h.busy = true
		h.wait = h.delay
		h.pending = out.Dport
		h.requests = append(h.requests, out.Dport)
	}

	if out.HaltReq && !h.halted {
		h.halted = true
	} else if out.ResumeReq && h.halted {
		h.halted = false
	}
}

func (h *fakeHart) serve(req pipeline.DebugRequest, out dmi.ModuleOutput) pipeline.DebugResponse {
	write := req.Type&pipeline.DebugWrite != 0
	switch {
	case req.Type&pipeline.DebugRegAccess != 0:
		if req.Addr >= pipeline.RegEnd {
			return pipeline.DebugResponse{Valid: true, Error: true}
		}
		if write {
			h.regs[req.Addr] = req.WData
			return pipeline.DebugResponse{Valid: true}
		}
		return pipeline.DebugResponse{Valid: true, Data: h.regs[req.Addr]}

	case req.Type&pipeline.DebugMemAccess != 0:
		if !h.halted || req.Addr%uint64(req.Size) != 0 {
			return pipeline.DebugResponse{Valid: true, Error: true}
		}
		var v uint64
		for i := 0; i < req.Size; i++ {
			a := req.Addr + uint64(i)
			if write {
				h.mem[a] = byte(req.WData >> (8 * i))
			}
			v |= uint64(h.mem[a]) << (8 * i)
		}
		if write {
			return pipeline.DebugResponse{Valid: true}
		}
		return pipeline.DebugResponse{Valid: true, Data: v}

	case req.Type&pipeline.DebugProgexec != 0:
		if !h.halted {
			return pipeline.DebugResponse{Valid: true, Error: true}
		}
		h.progbufRuns++
		h.progbuf = out.Progbuf
		return pipeline.DebugResponse{Valid: true}
	}
	return pipeline.DebugResponse{Valid: true, Error: true}
}

// bench clocks a Unit and a fakeHart, running ratio core cycles per TCK.
type bench struct {
	unit  *dmi.Unit
	hart  *fakeHart
	ratio int
}

func newBench(ratio int) *bench {
	return &bench{unit: dmi.NewUnit(), hart: newFakeHart(), ratio: ratio}
}

func (b *bench) TDO() bool { return b.unit.TDO() }

func (b *bench) ClockTCK(p dmi.Pins) {
	b.unit.StepTCK(p)
	b.unit.CommitTCK()
	for i := 0; i < b.ratio; i++ {
		b.coreCycle()
	}
}

func (b *bench) coreCycle() {
	out := b.unit.Outputs()
	b.unit.StepCore(b.hart.status())
	b.hart.step(out)
	b.unit.CommitCore()
}

// tapOnly clocks a bare TAP and records the DMI requests it issues.
type tapOnly struct {
	tap  *dmi.Tap
	reqs []dmi.Request
}

func (t *tapOnly) TDO() bool { return t.tap.TDO() }

func (t *tapOnly) ClockTCK(p dmi.Pins) {
	t.tap.Step(dmi.TapInput{Pins: p})
	t.tap.Commit()
	if req, ok := t.tap.Request(); ok {
		t.reqs = append(t.reqs, req)
	}
}
