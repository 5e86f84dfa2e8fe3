package bus

// ReadState is the state of the AXI slave read channel.
type ReadState uint8

// Read channel states.
const (
	ReadIdle ReadState = iota
	ReadWaitWriting
	ReadAddr
	ReadPipe
	ReadWaitAccept
	ReadRespLast
)

// WriteState is the state of the AXI slave write channel.
type WriteState uint8

// Write channel states.
const (
	WriteIdle WriteState = iota
	WriteWaitReading
	WriteReq
	WriteBuf
	WritePipe
	WriteB
)

// SlaveInput is what the AXI slave samples each cycle: the master's
// channels and the memory device's registered outputs.
type SlaveInput struct {
	AR     AXIAddr
	AW     AXIAddr
	W      AXIWData
	RReady bool
	BReady bool

	MemReqReady bool
	MemResp     MemResponse
}

// SlaveOutput holds the AXI slave's registered outputs.
type SlaveOutput struct {
	ARReady bool
	AWReady bool
	WReady  bool
	R       AXIRData
	B       AXIWResp

	MemReq MemRequest
}

type slaveState struct {
	rstate ReadState
	ar     AXIAddr
	raddr  uint64
	rleft  uint8
	r      AXIRData
	rbuf   AXIRData

	wstate WriteState
	aw     AXIAddr
	waddr  uint64
	wdata  AXIWData
	werr   bool
}

// AXISlave converts AXI4 bursts into single-beat memory requests. Reads
// and writes run in separate state machines that take the memory port in
// turn; a write that arrives together with a read goes first.
type AXISlave struct {
	r, n slaveState
}

// NewAXISlave creates an idle AXI slave.
func NewAXISlave() *AXISlave {
	return &AXISlave{}
}

// ReadState returns the committed read channel state.
func (s *AXISlave) ReadState() ReadState {
	return s.r.rstate
}

// WriteState returns the committed write channel state.
func (s *AXISlave) WriteState() WriteState {
	return s.r.wstate
}

// Outputs returns the registered outputs of the slave.
func (s *AXISlave) Outputs() SlaveOutput {
	r := &s.r
	out := SlaveOutput{
		ARReady: r.rstate == ReadIdle,
		AWReady: r.wstate == WriteIdle,
		WReady:  r.wstate == WriteReq,
		R:       r.r,
	}
	if r.wstate == WriteB {
		out.B = AXIWResp{Valid: true, Resp: RespOkay}
		if r.werr {
			out.B.Resp = RespSlvErr
		}
	}

	switch {
	case r.rstate == ReadAddr:
		out.MemReq = MemRequest{
			Valid: true,
			Addr:  r.raddr,
			Bytes: 1 << r.ar.Size,
			Last:  r.rleft == 0,
		}
	case r.wstate == WriteBuf:
		out.MemReq = MemRequest{
			Valid: true,
			Write: true,
			Addr:  r.waddr,
			Bytes: 1 << r.aw.Size,
			WData: r.wdata.Data,
			WStrb: r.wdata.Strb,
			Last:  r.wdata.Last,
		}
	}
	return out
}

// Step computes the next state of both channels.
func (s *AXISlave) Step(in SlaveInput) {
	s.n = s.r
	awAccept := in.AW.Valid && s.r.wstate == WriteIdle
	s.stepRead(in, awAccept)
	s.stepWrite(in, awAccept)
}

// Commit makes the next state current.
func (s *AXISlave) Commit() {
	s.r = s.n
}

func (s *AXISlave) stepRead(in SlaveInput, awAccept bool) {
	r, n := &s.r, &s.n

	slotFree := !r.r.Valid || in.RReady
	if r.r.Valid && in.RReady {
		n.r = AXIRData{}
	}

	switch r.rstate {
	case ReadIdle:
		if !in.AR.Valid {
			return
		}
		n.ar = in.AR
		n.raddr = in.AR.Addr
		n.rleft = in.AR.Len
		if awAccept || r.wstate != WriteIdle {
			n.rstate = ReadWaitWriting
		} else {
			n.rstate = ReadAddr
		}

	case ReadWaitWriting:
		if r.wstate == WriteIdle && !awAccept {
			n.rstate = ReadAddr
		}

	case ReadAddr:
		if in.MemReqReady {
			n.rstate = ReadPipe
		}

	case ReadPipe:
		if !in.MemResp.Valid {
			return
		}
		beat := AXIRData{
			Valid: true,
			Data:  in.MemResp.RData,
			Last:  r.rleft == 0,
		}
		if in.MemResp.Err {
			beat.Resp = RespSlvErr
		}
		if !slotFree {
			n.rbuf = beat
			n.rstate = ReadWaitAccept
			return
		}
		n.r = beat
		s.nextReadBeat()

	case ReadWaitAccept:
		if slotFree {
			n.r = r.rbuf
			s.nextReadBeat()
		}

	case ReadRespLast:
		if !r.r.Valid || in.RReady {
			n.rstate = ReadIdle
		}
	}
}

// nextReadBeat advances the read burst after a beat reached the R slot.
func (s *AXISlave) nextReadBeat() {
	r, n := &s.r, &s.n
	if r.rleft == 0 {
		n.rstate = ReadRespLast
		return
	}
	n.rleft = r.rleft - 1
	n.raddr = nextBurstAddr(r.raddr, r.ar)
	n.rstate = ReadAddr
}

func (s *AXISlave) stepWrite(in SlaveInput, awAccept bool) {
	r, n := &s.r, &s.n

	switch r.wstate {
	case WriteIdle:
		if !awAccept {
			return
		}
		n.aw = in.AW
		n.waddr = in.AW.Addr
		n.werr = false
		if r.rstate == ReadIdle || r.rstate == ReadWaitWriting {
			n.wstate = WriteReq
		} else {
			n.wstate = WriteWaitReading
		}

	case WriteWaitReading:
		if r.rstate == ReadIdle || r.rstate == ReadWaitWriting {
			n.wstate = WriteReq
		}

	case WriteReq:
		if in.W.Valid {
			n.wdata = in.W
			n.wstate = WriteBuf
		}

	case WriteBuf:
		if in.MemReqReady {
			n.wstate = WritePipe
		}

	case WritePipe:
		if !in.MemResp.Valid {
			return
		}
		n.werr = r.werr || in.MemResp.Err
		if r.wdata.Last {
			n.wstate = WriteB
		} else {
			n.waddr = nextBurstAddr(r.waddr, r.aw)
			n.wstate = WriteReq
		}

	case WriteB:
		if in.BReady {
			n.wstate = WriteIdle
		}
	}
}
