package pipeline

import (
	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/bus"
)

// ProgbufWords is the number of 32-bit words in the debug program buffer.
const ProgbufWords = 16

// ebreakWord ends program-buffer execution past the last word.
const ebreakWord = 0x00100073

type fetchPhase uint8

const (
	fetchIdle fetchPhase = iota
	fetchReq
	fetchWait
)

// FetchInput is what the fetch stage samples each cycle.
type FetchInput struct {
	// Instruction-side MMU handshake.
	MemReqReady bool
	MemResp     bus.CoreResponse

	// OutReady is Decode's registered ready.
	OutReady bool

	// Redirects from Execute, which start a new epoch, and from Decode,
	// which are ignored unless they belong to the current epoch.
	Redirect    Redirect
	DecRedirect Redirect

	// Flush drops the held instruction, as requested by the CSR file.
	Flush bool

	Progbuf [ProgbufWords]uint32
}

// FetchStage requests one instruction at a time through the fetch MMU and
// predicts the address of the next one with the BTB.
type FetchStage struct {
	bp *BranchPredictor

	r, n fetchState
}

type fetchState struct {
	phase   fetchPhase
	pc      uint64
	epoch   uint8
	progbuf bool
	discard bool
	req     bus.CoreRequest
	out     FetchOutput

	fetches uint64
}

// NewFetchStage creates a fetch stage that starts at resetVector.
func NewFetchStage(bp *BranchPredictor, resetVector uint64) *FetchStage {
	s := &FetchStage{bp: bp}
	s.r.pc = resetVector
	s.n = s.r
	return s
}

// Outputs returns the instruction held for Decode.
func (s *FetchStage) Outputs() FetchOutput {
	return s.r.out
}

// MemReq returns the request presented to the MMU.
func (s *FetchStage) MemReq() bus.CoreRequest {
	if s.r.phase == fetchReq {
		return s.r.req
	}
	return bus.CoreRequest{}
}

// Fetches returns the number of words fetched.
func (s *FetchStage) Fetches() uint64 {
	return s.r.fetches
}

// Step computes the next state.
func (s *FetchStage) Step(in FetchInput) {
	s.n = s.r
	r, n := &s.r, &s.n

	free := !r.out.Valid || in.OutReady
	if r.out.Valid && in.OutReady {
		n.out = FetchOutput{}
	}

	accepted := r.phase == fetchReq && in.MemReqReady
	switch {
	case accepted:
		n.phase = fetchWait
	case r.phase == fetchWait && in.MemResp.Valid:
		n.phase = fetchIdle
		if r.discard {
			n.discard = false
		} else {
			s.complete(in.MemResp)
		}
	}

	redirect := in.Redirect
	if !redirect.Valid && in.DecRedirect.Valid && in.DecRedirect.Epoch == r.epoch {
		redirect = in.DecRedirect
	}
	if redirect.Valid || in.Flush {
		n.out = FetchOutput{}
		if redirect.Valid {
			n.pc = redirect.PC
			n.progbuf = redirect.Progbuf
		}
		if in.Redirect.Valid {
			n.epoch = in.Redirect.Epoch
		}
		switch {
		case accepted || (r.phase == fetchWait && !in.MemResp.Valid):
			n.discard = true
		case r.phase == fetchReq:
			n.phase = fetchIdle
		}
		return
	}

	if n.phase != fetchIdle || !free || n.out.Valid {
		return
	}
	if r.progbuf {
		s.fetchProgbuf(in.Progbuf)
		return
	}
	n.req = bus.CoreRequest{Valid: true, Type: bus.MemOpRead, Addr: r.pc, Size: 4}
	n.phase = fetchReq
}

// Commit makes the next state current.
func (s *FetchStage) Commit() {
	s.r = s.n
}

func (s *FetchStage) complete(resp bus.CoreResponse) {
	r, n := &s.r, &s.n
	pc := r.req.Addr
	n.fetches++
	if resp.Faulted() {
		n.out = FetchOutput{
			Valid:     true,
			PC:        pc,
			PredNPC:   pc + 4,
			Epoch:     r.epoch,
			LoadFault: !resp.PageFault,
			PageFault: resp.PageFault,
			FaultAddr: resp.Addr,
		}
		n.pc = pc + 4
		return
	}

	word := uint32(resp.Data)
	npc := s.predict(pc, word)
	n.out = FetchOutput{Valid: true, PC: pc, Instr: word, PredNPC: npc, Epoch: r.epoch}
	n.pc = npc
}

func (s *FetchStage) predict(pc uint64, word uint32) uint64 {
	if p := s.bp.Predict(pc); p.TargetKnown {
		return p.Target
	}
	if insts.IsCompressed(word) {
		return pc + 2
	}
	return pc + 4
}

// fetchProgbuf reads the next word from the debug program buffer. Program
// buffer addresses are byte offsets into the buffer.
func (s *FetchStage) fetchProgbuf(buf [ProgbufWords]uint32) {
	r, n := &s.r, &s.n
	pc := r.pc
	word := uint32(ebreakWord)
	if pc < 4*ProgbufWords {
		idx := pc / 4
		word = buf[idx]
		if pc&2 != 0 {
			word >>= 16
			if idx+1 < ProgbufWords {
				word |= buf[idx+1] << 16
			}
		}
		if word&3 == 3 && pc+4 > 4*ProgbufWords {
			word = ebreakWord
		}
	}
	npc := pc + 4
	if insts.IsCompressed(word) {
		npc = pc + 2
	}
	n.fetches++
	n.out = FetchOutput{Valid: true, PC: pc, Instr: word, PredNPC: npc, Epoch: r.epoch, Progbuf: true}
	n.pc = npc
}

// DecodeInput is what the decode stage samples each cycle.
type DecodeInput struct {
	Fetch FetchOutput

	// OutReady is Execute's registered ready.
	OutReady bool

	// Flush drops the held instruction.
	Flush bool
}

// DecodeStage decodes the fetched word and resolves direct jumps and
// predicted conditional branches early, redirecting Fetch when its BTB
// guess differs.
type DecodeStage struct {
	bp      *BranchPredictor
	decoder *insts.Decoder

	r, n decodeState
}

type decodeState struct {
	out      DecodeOutput
	redirect Redirect
}

// NewDecodeStage creates a decode stage.
func NewDecodeStage(bp *BranchPredictor) *DecodeStage {
	return &DecodeStage{bp: bp, decoder: insts.NewDecoder()}
}

// Ready reports whether the stage can take a fetched instruction.
func (s *DecodeStage) Ready() bool {
	return !s.r.out.Valid
}

// Outputs returns the instruction held for Execute.
func (s *DecodeStage) Outputs() DecodeOutput {
	return s.r.out
}

// Redirect returns the early redirect pulse for Fetch.
func (s *DecodeStage) Redirect() Redirect {
	return s.r.redirect
}

// Step computes the next state.
func (s *DecodeStage) Step(in DecodeInput) {
	s.n = s.r
	r, n := &s.r, &s.n
	n.redirect = Redirect{}

	if r.out.Valid && in.OutReady {
		n.out = DecodeOutput{}
	}
	if in.Flush {
		n.out = DecodeOutput{}
		return
	}
	if !s.Ready() || !in.Fetch.Valid {
		return
	}

	f := in.Fetch
	out := DecodeOutput{Valid: true, PredNPC: f.PredNPC, Epoch: f.Epoch, FaultAddr: f.FaultAddr}
	s.decoder.DecodeInto(&out.D, f.Instr, f.PC)
	out.D.Progbuf = f.Progbuf
	if f.LoadFault || f.PageFault {
		out.D = insts.Decoded{PC: f.PC, Kind: insts.KindInvalid, Progbuf: f.Progbuf}
		out.D.InstrLoadFault = f.LoadFault
		out.D.InstrPageFault = f.PageFault
	} else if target, ok := s.earlyTarget(&out.D); ok && target != f.PredNPC {
		out.PredNPC = target
		n.redirect = Redirect{Valid: true, PC: target, Epoch: f.Epoch, Progbuf: f.Progbuf}
	}
	n.out = out
}

// Commit makes the next state current.
func (s *DecodeStage) Commit() {
	s.r = s.n
}

// earlyTarget returns the next pc Decode can predict without operands.
func (s *DecodeStage) earlyTarget(d *insts.Decoded) (uint64, bool) {
	switch {
	case d.Unimplemented:
		return 0, false
	case d.Kind == insts.KindJAL:
		return d.PC + d.Imm, true
	case d.Kind.IsBranch():
		if s.bp.PredictTaken(d.PC) {
			return d.PC + d.Imm, true
		}
		return d.PC + d.Length(), true
	}
	return 0, false
}
