package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/riversim/timing/bus"
)

// L2Input is what the L2 samples each cycle.
type L2Input struct {
	Req         bus.LineRequest
	MemReqReady bool
	MemResp     bus.LineResponse
	Flush       FlushRequest
}

// L2Output holds the L2's registered outputs.
type L2Output struct {
	ReqReady bool
	Resp     bus.LineResponse
	MemReq   bus.LineRequest
	FlushEnd bool
}

type l2State struct {
	state  State
	req    bus.LineRequest
	retry  bool
	block  *akitacache.Block
	phase  phase
	buf    []byte
	rfault bool
	wfault bool
	memReq bus.LineRequest
	resp   bus.LineResponse

	flushPending bool
	flushAddr    uint64
	flushIdx     int
	flushEnd     bool

	resetSet int

	stats Statistics

	writes     []lineWrite
	resetWrite bool
}

// L2 is the shared write-back, write-allocate second-level cache. Cached
// requests from the interconnect are whole lines; uncached requests pass
// through to memory unchanged.
type L2 struct {
	lines *lineArray

	r, n l2State
}

// NewL2 creates an L2 in its reset state.
func NewL2(config Config) *L2 {
	c := &L2{lines: newLineArray(config)}
	c.r.state = StateReset
	c.n = c.r
	return c
}

// State returns the committed controller state.
func (c *L2) State() State {
	return c.r.state
}

// Stats returns cache statistics.
func (c *L2) Stats() Statistics {
	return c.r.stats
}

// Peek returns the flags and payload of the line holding addr, if any.
func (c *L2) Peek(addr uint64) (bus.LineFlags, []byte) {
	block := c.lines.lookup(addr)
	if block == nil {
		return 0, nil
	}
	return c.lines.flags(block), c.lines.line(block)
}

// Outputs returns the registered outputs of the L2.
func (c *L2) Outputs() L2Output {
	r := &c.r
	out := L2Output{
		ReqReady: r.state == StateIdle && !r.flushPending,
		Resp:     r.resp,
		FlushEnd: r.flushEnd,
	}
	if r.state == StateWaitGrant {
		out.MemReq = r.memReq
	}
	return out
}

// Step computes the next state.
func (c *L2) Step(in L2Input) {
	c.n = c.r
	r, n := &c.r, &c.n
	n.resp = bus.LineResponse{}
	n.flushEnd = false
	n.writes = nil
	n.resetWrite = false

	if in.Flush.Valid {
		n.flushPending = true
		n.flushAddr = in.Flush.Addr
	}

	switch r.state {
	case StateReset:
		n.state = StateResetWrite
	case StateResetWrite:
		n.resetWrite = true
		n.resetSet = r.resetSet + 1
		if n.resetSet >= c.lines.config.NumSets() {
			n.state = StateIdle
		} else {
			n.state = StateReset
		}

	case StateIdle:
		if r.flushPending {
			n.flushPending = false
			n.flushIdx = 0
			n.stats.Flushes++
			n.state = StateFlushAddr
		} else if in.Req.Valid {
			n.req = in.Req
			n.retry = false
			n.state = StateCheckHit
		}

	case StateCheckHit:
		c.checkHit()
	case StateTranslateAddress:
		c.translateAddress()

	case StateWriteBus:
		n.memReq = bus.LineRequest{
			Valid:  true,
			Type:   bus.WriteBack,
			Addr:   r.block.Tag,
			Size:   c.lines.config.BlockSize,
			Data:   c.lines.line(r.block),
			Strobe: fullStrobe(c.lines.config.BlockSize),
		}
		n.state = StateWaitGrant

	case StateWaitGrant:
		if in.MemReqReady {
			n.state = StateWaitResp
		}
	case StateWaitResp:
		if in.MemResp.Valid {
			n.buf = append([]byte(nil), in.MemResp.Data...)
			n.rfault = in.MemResp.LoadFault
			n.wfault = in.MemResp.StoreFault
			n.state = StateCheckResp
		}
	case StateCheckResp:
		c.checkResp()
	case StateSetupReadAdr:
		n.retry = true
		n.state = StateCheckHit

	case StateFlushAddr:
		if r.flushAddr == FlushAll {
			n.block = c.lines.blockAt(r.flushIdx)
			n.state = StateFlushCheck
		} else if b := c.lines.lookup(r.flushAddr); b != nil {
			n.block = b
			n.state = StateFlushCheck
		} else {
			c.flushDone()
		}
	case StateFlushCheck:
		b := r.block
		if b.IsValid && b.IsDirty {
			n.phase = phaseFlush
			n.state = StateWriteBus
			return
		}
		if b.IsValid {
			n.writes = append(n.writes, lineWrite{block: b, tag: b.Tag})
		}
		c.flushNext()
	}
}

// Commit makes the next state current and applies the line writes.
func (c *L2) Commit() {
	c.r = c.n
	for _, w := range c.r.writes {
		c.lines.apply(w)
	}
	if c.r.resetWrite {
		c.lines.invalidateSet(c.r.resetSet - 1)
	}
}

func (c *L2) respond(data []byte) {
	c.n.resp = bus.LineResponse{Valid: true, Data: data}
	c.n.state = StateIdle
}

func (c *L2) respondFault() {
	c.n.resp = bus.LineResponse{
		Valid:      true,
		LoadFault:  !c.r.req.Type.IsWrite(),
		StoreFault: c.r.req.Type.IsWrite(),
	}
	c.n.state = StateIdle
}

// mergeLine applies the strobed bytes of a line write to line.
func mergeLine(line []byte, req bus.LineRequest) []byte {
	out := append([]byte(nil), line...)
	for i := range out {
		if i < len(req.Data) && req.Strobe&(1<<uint(i)) != 0 {
			out[i] = req.Data[i]
		}
	}
	return out
}

func (c *L2) checkHit() {
	r, n := &c.r, &c.n
	req := r.req

	if req.Type.IsUncached() {
		n.stats.Uncached++
		n.memReq = req
		n.phase = phaseUncached
		n.state = StateWaitGrant
		return
	}

	if !r.retry {
		if req.Type.IsWrite() {
			n.stats.Writes++
		} else {
			n.stats.Reads++
		}
	}

	block := c.lines.lookup(req.Addr)
	if block == nil {
		if !r.retry {
			n.stats.Misses++
		}
		n.state = StateTranslateAddress
		return
	}
	if !r.retry {
		n.stats.Hits++
	}

	w := lineWrite{block: block, tag: block.Tag, flags: c.lines.flags(block), visit: true}
	if req.Type.IsWrite() {
		w.data = mergeLine(c.lines.data[c.lines.index(block)], req)
		w.flags |= bus.FlagDirty
		n.writes = append(n.writes, w)
		c.respond(nil)
		return
	}
	n.writes = append(n.writes, w)
	c.respond(c.lines.line(block))
}

func (c *L2) translateAddress() {
	n := &c.n
	victim := c.lines.victim(c.r.req.Addr)
	n.block = victim
	if victim.IsValid {
		n.stats.Evictions++
		if victim.IsDirty {
			n.phase = phaseWriteBack
			n.state = StateWriteBus
			return
		}
	}
	c.allocate()
}

// allocate installs a full-line write directly and fetches the line for
// anything else.
func (c *L2) allocate() {
	r, n := &c.r, &c.n
	req := r.req
	lineAddr := c.lines.lineAddr(req.Addr)
	full := fullStrobe(c.lines.config.BlockSize)

	if req.Type.IsWrite() && req.Strobe&full == full {
		n.writes = append(n.writes, lineWrite{
			block: n.block,
			tag:   lineAddr,
			flags: bus.FlagValid | bus.FlagDirty,
			data:  req.Data,
			visit: true,
		})
		c.respond(nil)
		return
	}
	n.memReq = bus.LineRequest{
		Valid: true,
		Type:  bus.ReadShared,
		Addr:  lineAddr,
		Size:  c.lines.config.BlockSize,
	}
	n.phase = phaseRead
	n.state = StateWaitGrant
}

func (c *L2) checkResp() {
	r, n := &c.r, &c.n

	switch r.phase {
	case phaseRead:
		if r.rfault {
			c.respondFault()
			return
		}
		n.writes = append(n.writes, lineWrite{
			block: r.block,
			tag:   r.memReq.Addr,
			flags: bus.FlagValid,
			data:  r.buf,
			visit: true,
		})
		n.state = StateSetupReadAdr

	case phaseWriteBack:
		n.stats.Writebacks++
		n.writes = append(n.writes, lineWrite{block: r.block, tag: r.block.Tag})
		if r.wfault {
			c.respondFault()
			return
		}
		c.allocate()

	case phaseUncached:
		n.resp = bus.LineResponse{
			Valid:      true,
			Data:       r.buf,
			LoadFault:  r.rfault,
			StoreFault: r.wfault,
		}
		n.state = StateIdle

	case phaseFlush:
		n.stats.Writebacks++
		n.writes = append(n.writes, lineWrite{block: r.block, tag: r.block.Tag})
		c.flushNext()
	}
}

func (c *L2) flushNext() {
	r, n := &c.r, &c.n
	if r.flushAddr == FlushAll && r.flushIdx+1 < c.lines.numLines() {
		n.flushIdx = r.flushIdx + 1
		n.state = StateFlushAddr
		return
	}
	c.flushDone()
}

func (c *L2) flushDone() {
	c.n.flushEnd = true
	c.n.state = StateIdle
}
