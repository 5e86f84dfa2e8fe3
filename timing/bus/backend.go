package bus

import "github.com/sarchlab/riversim/emu"

// Backend is the path from the last-level cache to memory: an AXI master
// driving an AXI slave in front of a memory device.
type Backend struct {
	Master *AXIMaster
	Slave  *AXISlave
	Memory *MemoryDevice
}

// NewBackend creates a backend over m.
func NewBackend(m *emu.Memory, opts ...MemoryOption) *Backend {
	return &Backend{
		Master: NewAXIMaster(),
		Slave:  NewAXISlave(),
		Memory: NewMemoryDevice(m, opts...),
	}
}

// ReqReady reports whether a line request is accepted this cycle.
func (b *Backend) ReqReady() bool {
	return b.Master.Outputs().ReqReady
}

// Resp returns the line response pulse of this cycle.
func (b *Backend) Resp() LineResponse {
	return b.Master.Outputs().Resp
}

// Step advances all three parts using only their committed outputs.
func (b *Backend) Step(req LineRequest) {
	mo := b.Master.Outputs()
	so := b.Slave.Outputs()

	b.Master.Step(MasterInput{Req: req, Slave: so})
	b.Slave.Step(SlaveInput{
		AR:          mo.AR,
		AW:          mo.AW,
		W:           mo.W,
		RReady:      mo.RReady,
		BReady:      mo.BReady,
		MemReqReady: b.Memory.ReqReady(),
		MemResp:     b.Memory.Resp(),
	})
	b.Memory.Step(so.MemReq)
}

// Commit commits all three parts.
func (b *Backend) Commit() {
	b.Master.Commit()
	b.Slave.Commit()
	b.Memory.Commit()
}
