package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/riversim/timing/bus"
)

// ICacheInput is what the instruction cache samples each cycle.
type ICacheInput struct {
	Req         bus.CoreRequest
	MemReqReady bool
	MemResp     bus.LineResponse
	Flush       FlushRequest
}

// ICacheOutput holds the instruction cache's registered outputs.
type ICacheOutput struct {
	ReqReady bool
	Resp     bus.CoreResponse
	MemReq   bus.LineRequest
	FlushEnd bool
}

type icacheState struct {
	state    State
	req      bus.CoreRequest
	retry    bool
	fillAddr uint64
	block    *akitacache.Block
	buf      []byte
	fault    bool
	memReq   bus.LineRequest
	resp     bus.CoreResponse

	flushPending bool
	flushIdx     int
	flushEnd     bool

	resetSet int

	stats Statistics

	writes     []lineWrite
	clearSet   int
	doClearSet bool
}

// ICache is River's read-only L1 instruction cache. It returns the 32-bit
// word at any 2-byte aligned address. A word that crosses a line boundary
// is assembled from two lines, and the second line is only fetched when
// the low half is not a compressed instruction.
type ICache struct {
	lines *lineArray
	pmp   *PMP

	r, n icacheState
}

// NewICache creates an instruction cache in its reset state.
func NewICache(config Config, opts ...Option) *ICache {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &ICache{
		lines: newLineArray(config),
		pmp:   o.pmp,
	}
	c.r.state = StateReset
	c.n = c.r
	return c
}

// State returns the committed controller state.
func (c *ICache) State() State {
	return c.r.state
}

// Stats returns cache statistics.
func (c *ICache) Stats() Statistics {
	return c.r.stats
}

// Contains reports whether the line holding addr is valid.
func (c *ICache) Contains(addr uint64) bool {
	return c.lines.lookup(addr) != nil
}

// Outputs returns the registered outputs of the cache.
func (c *ICache) Outputs() ICacheOutput {
	r := &c.r
	out := ICacheOutput{
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
func (c *ICache) Step(in ICacheInput) {
	c.n = c.r
	r, n := &c.r, &c.n
	n.resp = bus.CoreResponse{}
	n.flushEnd = false
	n.writes = nil
	n.doClearSet = false

	if in.Flush.Valid {
		n.flushPending = true
	}

	switch r.state {
	case StateReset:
		n.state = StateResetWrite
	case StateResetWrite:
		c.clear(r.resetSet)
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
			n.stats.Reads++
			n.state = StateCheckHit
		}

	case StateCheckHit:
		c.checkHit()

	case StateTranslateAddress:
		if !c.pmp.Allowed(r.fillAddr, AccessExec) {
			c.respondFault()
			return
		}
		victim := c.lines.victim(r.fillAddr)
		if victim.IsValid {
			n.stats.Evictions++
		}
		n.block = victim
		n.memReq = bus.LineRequest{
			Valid: true,
			Type:  bus.ReadShared,
			Addr:  r.fillAddr,
			Size:  c.lines.config.BlockSize,
		}
		n.state = StateWaitGrant

	case StateWaitGrant:
		if in.MemReqReady {
			n.state = StateWaitResp
		}
	case StateWaitResp:
		if in.MemResp.Valid {
			n.buf = append([]byte(nil), in.MemResp.Data...)
			n.fault = in.MemResp.LoadFault
			n.state = StateCheckResp
		}
	case StateCheckResp:
		if r.fault {
			n.writes = append(n.writes, lineWrite{block: r.block, tag: r.block.Tag})
			c.respondFault()
			return
		}
		n.writes = append(n.writes, lineWrite{
			block: r.block,
			tag:   r.fillAddr,
			flags: bus.FlagValid,
			data:  r.buf,
			visit: true,
		})
		n.state = StateSetupReadAdr
	case StateSetupReadAdr:
		n.retry = true
		n.state = StateCheckHit

	case StateFlushAddr:
		c.clear(r.flushIdx)
		n.flushIdx = r.flushIdx + 1
		if n.flushIdx >= c.lines.config.NumSets() {
			n.flushEnd = true
			n.state = StateIdle
		}
	}
}

// Commit makes the next state current and applies the line writes.
func (c *ICache) Commit() {
	c.r = c.n
	for _, w := range c.r.writes {
		c.lines.apply(w)
	}
	if c.r.doClearSet {
		c.lines.invalidateSet(c.r.clearSet)
	}
}

func (c *ICache) clear(set int) {
	c.n.doClearSet = true
	c.n.clearSet = set
}

func (c *ICache) respondFault() {
	c.n.resp = bus.CoreResponse{Valid: true, Addr: c.r.req.Addr, LoadFault: true}
	c.n.state = StateIdle
}

func (c *ICache) miss(addr uint64) {
	if !c.r.retry {
		c.n.stats.Misses++
	}
	c.n.fillAddr = c.lines.lineAddr(addr)
	c.n.state = StateTranslateAddress
}

func (c *ICache) checkHit() {
	r, n := &c.r, &c.n
	addr := r.req.Addr

	b0 := c.lines.lookup(addr)
	if b0 == nil {
		c.miss(addr)
		return
	}
	n.writes = append(n.writes, lineWrite{block: b0, tag: b0.Tag, flags: c.lines.flags(b0), visit: true})

	// Doubleword reads come from the fetch-side page-table walker and are
	// always aligned.
	var data uint64
	if r.req.Size == 8 {
		data = c.lines.read(b0, addr, 8)
	} else if c.lines.offset(addr)+4 <= uint64(c.lines.config.BlockSize) {
		data = c.lines.read(b0, addr, 4)
	} else {
		data = c.lines.read(b0, addr, 2)
		if data&3 == 3 {
			next := addr + 2
			b1 := c.lines.lookup(next)
			if b1 == nil {
				c.miss(next)
				return
			}
			n.writes = append(n.writes, lineWrite{block: b1, tag: b1.Tag, flags: c.lines.flags(b1), visit: true})
			data |= c.lines.read(b1, next, 2) << 16
		}
	}

	if !r.retry {
		n.stats.Hits++
	}
	n.resp = bus.CoreResponse{Valid: true, Addr: addr, Data: data}
	n.state = StateIdle
}
