package cache

import "github.com/sarchlab/riversim/timing/bus"

// InterconnectState is the state of the L1-to-L2 interconnect.
type InterconnectState uint8

// Interconnect states.
const (
	InterconnectIdle InterconnectState = iota
	InterconnectGrant
	InterconnectSnoop
	InterconnectL2Req
	InterconnectL2Wait
	InterconnectResp
)

// InterconnectInput is what the interconnect samples each cycle. The
// per-port slices are indexed by L1 port.
type InterconnectInput struct {
	Req        []bus.LineRequest
	SnoopReady []bool
	SnoopResp  []bus.SnoopResponse
	L2ReqReady bool
	L2Resp     bus.LineResponse
}

// InterconnectOutput holds the interconnect's registered outputs.
type InterconnectOutput struct {
	ReqReady []bool
	Resp     []bus.LineResponse
	Snoop    []bus.SnoopRequest
	L2Req    bus.LineRequest
}

// InterconnectStatistics counts interconnect traffic.
type InterconnectStatistics struct {
	Requests      uint64
	Snoops        uint64
	DirtySnoops   uint64
	SnoopedWrites uint64
}

type interconnectState struct {
	state   InterconnectState
	grant   int
	next    int
	req     bus.LineRequest
	snoop   bus.SnoopType
	pending uint64
	waiting uint64
	dirty   []byte
	l2Req   bus.LineRequest
	resp    bus.LineResponse

	stats InterconnectStatistics
}

// Interconnect arbitrates the L1 ports round-robin and serves one request
// at a time. Before a shared read reaches L2, the other data caches are
// asked for their copy; before a unique read or a line upgrade, they are
// told to invalidate. A dirty snooped line is written to L2 and handed to
// the requester; for an upgrade this replaces the requester's stale write,
// which it then redoes on the returned line.
type Interconnect struct {
	snoopable []bool

	r, n interconnectState
}

// NewInterconnect creates an interconnect. snoopable[i] marks port i as
// a data cache that answers snoops.
func NewInterconnect(snoopable []bool) *Interconnect {
	if len(snoopable) > 64 {
		panic("interconnect supports at most 64 ports")
	}
	return &Interconnect{snoopable: append([]bool(nil), snoopable...)}
}

// NumPorts returns the number of L1 ports.
func (ic *Interconnect) NumPorts() int {
	return len(ic.snoopable)
}

// State returns the committed state.
func (ic *Interconnect) State() InterconnectState {
	return ic.r.state
}

// Stats returns the traffic counters.
func (ic *Interconnect) Stats() InterconnectStatistics {
	return ic.r.stats
}

// Outputs returns the registered outputs.
func (ic *Interconnect) Outputs() InterconnectOutput {
	r := &ic.r
	ports := len(ic.snoopable)
	out := InterconnectOutput{
		ReqReady: make([]bool, ports),
		Resp:     make([]bus.LineResponse, ports),
		Snoop:    make([]bus.SnoopRequest, ports),
	}
	switch r.state {
	case InterconnectGrant:
		out.ReqReady[r.grant] = true
	case InterconnectSnoop:
		for j := 0; j < ports; j++ {
			if r.pending&(1<<uint(j)) != 0 {
				out.Snoop[j] = bus.SnoopRequest{Valid: true, Type: r.snoop, Addr: r.req.Addr}
			}
		}
	case InterconnectL2Req:
		out.L2Req = r.l2Req
	case InterconnectResp:
		out.Resp[r.grant] = r.resp
	}
	return out
}

// Step computes the next state.
func (ic *Interconnect) Step(in InterconnectInput) {
	ic.n = ic.r
	r, n := &ic.r, &ic.n
	ports := len(ic.snoopable)

	switch r.state {
	case InterconnectIdle:
		for k := 0; k < ports; k++ {
			i := (r.next + k) % ports
			if i < len(in.Req) && in.Req[i].Valid {
				n.grant = i
				n.state = InterconnectGrant
				break
			}
		}

	case InterconnectGrant:
		req := in.Req[r.grant]
		n.req = req
		n.dirty = nil
		n.pending = 0
		n.waiting = 0
		n.stats.Requests++

		switch req.Type {
		case bus.ReadShared:
			n.snoop = bus.SnoopReadData
		case bus.ReadMakeUnique, bus.WriteLineUnique:
			n.snoop = bus.SnoopMakeInvalid
		default:
			n.l2Req = req
			n.state = InterconnectL2Req
			return
		}
		for j := 0; j < ports; j++ {
			if ic.snoopable[j] && j != r.grant {
				n.pending |= 1 << uint(j)
			}
		}
		if n.pending == 0 {
			n.l2Req = req
			n.state = InterconnectL2Req
			return
		}
		n.stats.Snoops++
		n.state = InterconnectSnoop

	case InterconnectSnoop:
		for j := 0; j < ports; j++ {
			bit := uint64(1) << uint(j)
			if r.pending&bit != 0 && in.SnoopReady[j] {
				n.pending &^= bit
				n.waiting |= bit
			}
			if r.waiting&bit != 0 && in.SnoopResp[j].Valid {
				n.waiting &^= bit
				if in.SnoopResp[j].Flags.Has(bus.FlagValid | bus.FlagDirty) {
					n.dirty = in.SnoopResp[j].Data
					n.stats.DirtySnoops++
				}
			}
		}
		if n.pending != 0 || n.waiting != 0 {
			return
		}
		n.l2Req = r.req
		if n.dirty != nil {
			n.stats.SnoopedWrites++
			n.l2Req = bus.LineRequest{
				Valid:  true,
				Type:   bus.WriteBack,
				Addr:   r.req.Addr,
				Size:   r.req.Size,
				Data:   n.dirty,
				Strobe: fullStrobe(r.req.Size),
			}
		} else {
			n.dirty = nil
		}
		n.state = InterconnectL2Req

	case InterconnectL2Req:
		if in.L2ReqReady {
			n.state = InterconnectL2Wait
		}

	case InterconnectL2Wait:
		if !in.L2Resp.Valid {
			return
		}
		n.resp = in.L2Resp
		if r.dirty != nil {
			n.resp = bus.LineResponse{Valid: true, Data: r.dirty}
		}
		n.state = InterconnectResp

	case InterconnectResp:
		n.next = (r.grant + 1) % ports
		n.state = InterconnectIdle
	}
}

// Commit makes the next state current.
func (ic *Interconnect) Commit() {
	ic.r = ic.n
}
