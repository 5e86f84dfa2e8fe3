package bus

import "encoding/binary"

// MasterState is the state of the AXI master.
type MasterState uint8

// AXI master states.
const (
	MasterIdle MasterState = iota
	MasterAR
	MasterR
	MasterAW
	MasterW
	MasterB
	MasterResp
)

// MasterInput is what the AXI master samples each cycle.
type MasterInput struct {
	Req   LineRequest
	Slave SlaveOutput
}

// MasterOutput holds the AXI master's registered outputs.
type MasterOutput struct {
	ReqReady bool
	Resp     LineResponse

	AR     AXIAddr
	AW     AXIAddr
	W      AXIWData
	RReady bool
	BReady bool
}

type masterState struct {
	state MasterState
	req   LineRequest
	beats int
	beat  int
	data  []byte
	err   bool
}

// AXIMaster turns line requests from the last-level cache into AXI
// transactions: cached lines move as INCR bursts of 8-byte beats and
// uncached accesses as single beats.
type AXIMaster struct {
	r, n masterState
}

// NewAXIMaster creates an idle AXI master.
func NewAXIMaster() *AXIMaster {
	return &AXIMaster{}
}

// State returns the committed state.
func (m *AXIMaster) State() MasterState {
	return m.r.state
}

func (m *AXIMaster) addr() AXIAddr {
	req := &m.r.req
	if req.Type.IsUncached() {
		return AXIAddr{
			Valid: true,
			Addr:  req.Addr,
			Size:  sizeLog2(req.Size),
			Burst: BurstIncr,
		}
	}
	return AXIAddr{
		Valid: true,
		Addr:  req.Addr,
		Len:   uint8(m.r.beats - 1),
		Size:  3,
		Burst: BurstIncr,
	}
}

// Outputs returns the registered outputs of the master.
func (m *AXIMaster) Outputs() MasterOutput {
	r := &m.r
	out := MasterOutput{
		ReqReady: r.state == MasterIdle,
		RReady:   r.state == MasterR,
		BReady:   r.state == MasterB,
	}

	switch r.state {
	case MasterAR:
		out.AR = m.addr()
	case MasterAW:
		out.AW = m.addr()
	case MasterW:
		out.W = AXIWData{
			Valid: true,
			Data:  binary.LittleEndian.Uint64(r.req.Data[r.beat*8:]),
			Strb:  uint8(r.req.Strobe >> (r.beat * 8)),
			Last:  r.beat == r.beats-1,
		}
	case MasterResp:
		out.Resp = LineResponse{Valid: true, Data: r.data}
		if r.req.Type.IsWrite() {
			out.Resp.StoreFault = r.err
		} else {
			out.Resp.LoadFault = r.err
		}
	}
	return out
}

// Step computes the next state.
func (m *AXIMaster) Step(in MasterInput) {
	r := &m.r
	m.n = m.r
	n := &m.n

	switch r.state {
	case MasterIdle:
		if !in.Req.Valid {
			return
		}
		n.req = in.Req
		n.beat = 0
		n.err = false
		n.beats = 1
		if !in.Req.Type.IsUncached() {
			n.beats = in.Req.Size / 8
		}
		if in.Req.Type.IsWrite() {
			n.data = nil
			n.state = MasterAW
		} else {
			n.data = make([]byte, n.beats*8)
			n.state = MasterAR
		}

	case MasterAR:
		if in.Slave.ARReady {
			n.state = MasterR
		}

	case MasterR:
		beat := in.Slave.R
		if !beat.Valid {
			return
		}
		if r.beat < r.beats {
			binary.LittleEndian.PutUint64(n.data[r.beat*8:], beat.Data)
		}
		n.err = r.err || beat.Resp != RespOkay
		n.beat = r.beat + 1
		if beat.Last {
			n.state = MasterResp
		}

	case MasterAW:
		if in.Slave.AWReady {
			n.state = MasterW
		}

	case MasterW:
		if in.Slave.WReady {
			n.beat = r.beat + 1
			if r.beat == r.beats-1 {
				n.state = MasterB
			}
		}

	case MasterB:
		if in.Slave.B.Valid {
			n.err = in.Slave.B.Resp != RespOkay
			n.state = MasterResp
		}

	case MasterResp:
		n.state = MasterIdle
	}
}

// Commit makes the next state current.
func (m *AXIMaster) Commit() {
	m.r = m.n
}

func sizeLog2(bytes int) uint8 {
	var s uint8
	for 1<<s < bytes {
		s++
	}
	return s
}
