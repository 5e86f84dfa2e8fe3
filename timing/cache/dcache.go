package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/riversim/timing/bus"
)

// DCacheInput is what the data cache samples each cycle.
type DCacheInput struct {
	Req         bus.CoreRequest
	MemReqReady bool
	MemResp     bus.LineResponse
	Snoop       bus.SnoopRequest
	Flush       FlushRequest
}

// DCacheOutput holds the data cache's registered outputs.
type DCacheOutput struct {
	ReqReady   bool
	Resp       bus.CoreResponse
	MemReq     bus.LineRequest
	SnoopReady bool
	SnoopResp  bus.SnoopResponse
	FlushEnd   bool
}

type dcacheState struct {
	state  State
	req    bus.CoreRequest
	cached bool
	retry  bool
	block  *akitacache.Block
	phase  phase
	buf    []byte
	fault  bool
	memReq bus.LineRequest
	resp   bus.CoreResponse

	flushPending bool
	flushAddr    uint64
	flushIdx     int
	flushEnd     bool

	resetSet int

	snoop     SnoopState
	snoopReq  bus.SnoopRequest
	snoopResp bus.SnoopResponse

	stats Statistics

	// Applied at commit: main writes, then the snoop, then the reset.
	writes          []lineWrite
	snoopWrite      *lineWrite
	snoopInvalidate bool
	resetWrite      bool
}

// DCache is River's write-back L1 data cache. Lines are kept coherent with
// the other data caches through the snoop port: loads fill lines shared,
// stores need the line unique and upgrade a shared line with a
// WriteLineUnique request before writing it.
type DCache struct {
	lines        *lineArray
	cacheability Cacheability
	pmp          *PMP

	r, n dcacheState
}

// Option configures an L1 cache.
type Option func(*options)

type options struct {
	cacheability Cacheability
	pmp          *PMP
}

// WithCacheability sets the cached and uncached address ranges.
func WithCacheability(c Cacheability) Option {
	return func(o *options) {
		o.cacheability = c
	}
}

// WithPMP attaches a physical memory protection checker.
func WithPMP(p *PMP) Option {
	return func(o *options) {
		o.pmp = p
	}
}

// NewDCache creates a data cache. It starts in Reset and clears one set per
// two cycles before accepting requests.
func NewDCache(config Config, opts ...Option) *DCache {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &DCache{
		lines:        newLineArray(config),
		cacheability: o.cacheability,
		pmp:          o.pmp,
	}
	c.r.state = StateReset
	c.n = c.r
	return c
}

// Config returns the cache geometry.
func (c *DCache) Config() Config {
	return c.lines.config
}

// State returns the committed controller state.
func (c *DCache) State() State {
	return c.r.state
}

// SnoopState returns the committed snoop port state.
func (c *DCache) SnoopState() SnoopState {
	return c.r.snoop
}

// Stats returns cache statistics.
func (c *DCache) Stats() Statistics {
	return c.r.stats
}

// Peek returns the flags and payload of the line holding addr, if any.
func (c *DCache) Peek(addr uint64) (bus.LineFlags, []byte) {
	block := c.lines.lookup(addr)
	if block == nil {
		return 0, nil
	}
	return c.lines.flags(block), c.lines.line(block)
}

// quiet reports whether the controller leaves the line array alone, so the
// snoop port may read and modify it.
func quiet(s State) bool {
	return s == StateIdle || s == StateWaitGrant || s == StateWaitResp
}

// Outputs returns the registered outputs of the cache.
func (c *DCache) Outputs() DCacheOutput {
	r := &c.r
	out := DCacheOutput{
		ReqReady:   r.state == StateIdle && r.snoop == SnoopIdle && !r.flushPending,
		Resp:       r.resp,
		SnoopReady: r.snoop == SnoopIdle && quiet(r.state),
		SnoopResp:  r.snoopResp,
		FlushEnd:   r.flushEnd,
	}
	if r.state == StateWaitGrant {
		out.MemReq = r.memReq
	}
	return out
}

// Step computes the next state of the controller and the snoop port.
func (c *DCache) Step(in DCacheInput) {
	c.n = c.r
	n := &c.n
	n.resp = bus.CoreResponse{}
	n.snoopResp = bus.SnoopResponse{}
	n.flushEnd = false
	n.writes = nil
	n.snoopWrite = nil
	n.snoopInvalidate = false
	n.resetWrite = false

	if in.Flush.Valid {
		n.flushPending = true
		n.flushAddr = in.Flush.Addr
	}

	c.stepMain(in)
	c.stepSnoop(in)
}

// Commit makes the next state current and applies the line writes.
func (c *DCache) Commit() {
	c.r = c.n
	for _, w := range c.r.writes {
		c.lines.apply(w)
	}
	if w := c.r.snoopWrite; w != nil {
		c.lines.apply(*w)
	}
	if c.r.snoopInvalidate {
		if b := c.lines.lookup(c.r.snoopReq.Addr); b != nil {
			c.lines.apply(lineWrite{block: b, tag: b.Tag})
		}
	}
	if c.r.resetWrite {
		c.lines.invalidateSet(c.r.resetSet - 1)
	}
}

func (c *DCache) stepMain(in DCacheInput) {
	r, n := &c.r, &c.n

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
		c.stepIdle(in)
	case StateCheckHit:
		c.checkHit()
	case StateTranslateAddress:
		c.translateAddress()
	case StateWriteBus:
		block := r.block
		n.memReq = bus.LineRequest{
			Valid:  true,
			Type:   bus.WriteBack,
			Addr:   block.Tag,
			Size:   c.lines.config.BlockSize,
			Data:   c.lines.line(block),
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
			n.fault = in.MemResp.LoadFault || in.MemResp.StoreFault
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

func (c *DCache) stepIdle(in DCacheInput) {
	r, n := &c.r, &c.n
	if r.snoop != SnoopIdle {
		return
	}
	if r.flushPending {
		n.flushPending = false
		n.flushIdx = 0
		n.stats.Flushes++
		n.state = StateFlushAddr
		return
	}
	if in.Req.Valid {
		n.req = in.Req
		n.cached = c.cacheability.IsCached(in.Req.Addr)
		n.retry = false
		n.state = StateCheckHit
	}
}

func (c *DCache) respond(data uint64) {
	c.n.resp = bus.CoreResponse{Valid: true, Addr: c.r.req.Addr, Data: data}
	c.n.state = StateIdle
}

func (c *DCache) respondFault() {
	c.n.resp = bus.CoreResponse{
		Valid:      true,
		Addr:       c.r.req.Addr,
		LoadFault:  !c.r.req.Type.IsWrite(),
		StoreFault: c.r.req.Type.IsWrite(),
	}
	c.n.state = StateIdle
}

func (c *DCache) access() Access {
	if c.r.req.Type.IsWrite() {
		return AccessWrite
	}
	return AccessRead
}

func (c *DCache) checkHit() {
	r, n := &c.r, &c.n
	req := r.req
	write := req.Type.IsWrite()

	if !r.retry {
		if write {
			n.stats.Writes++
		} else {
			n.stats.Reads++
		}
	}

	if !r.cached {
		if !c.pmp.Allowed(req.Addr, c.access()) {
			c.respondFault()
			return
		}
		n.stats.Uncached++
		n.memReq = bus.LineRequest{
			Valid:  true,
			Type:   bus.ReadNoSnoop,
			Addr:   req.Addr,
			Size:   req.Size,
			Strobe: uint64(req.WStrb),
		}
		if write {
			n.memReq.Type = bus.WriteNoSnoop
			n.memReq.Data = laneWord(req)
		}
		n.phase = phaseUncached
		n.state = StateWaitGrant
		return
	}

	block := c.lines.lookup(req.Addr)
	if block == nil {
		if !r.retry {
			n.stats.Misses++
		}
		if req.Type == bus.MemOpRelease {
			c.respond(1)
			return
		}
		n.state = StateTranslateAddress
		return
	}

	if !r.retry {
		n.stats.Hits++
	}
	flags := c.lines.flags(block)
	w := lineWrite{block: block, tag: block.Tag, flags: flags, visit: true}

	switch {
	case !write:
		data := c.lines.read(block, req.Addr, req.Size)
		if req.Type == bus.MemOpReserve {
			w.flags |= bus.FlagReserved
		}
		n.writes = append(n.writes, w)
		c.respond(data)

	case req.Type == bus.MemOpRelease && !flags.Has(bus.FlagReserved):
		c.respond(1)

	case flags.Has(bus.FlagShared):
		merged := mergeStore(c.lines.data[c.lines.index(block)], c.lines.offset(req.Addr), req)
		n.block = block
		n.memReq = bus.LineRequest{
			Valid:  true,
			Type:   bus.WriteLineUnique,
			Addr:   block.Tag,
			Size:   c.lines.config.BlockSize,
			Data:   merged,
			Strobe: fullStrobe(c.lines.config.BlockSize),
		}
		n.phase = phaseUpgrade
		n.state = StateWaitGrant

	default:
		w.data = mergeStore(c.lines.data[c.lines.index(block)], c.lines.offset(req.Addr), req)
		w.flags = (flags | bus.FlagDirty) &^ bus.FlagReserved
		n.writes = append(n.writes, w)
		c.respond(0)
	}
}

func (c *DCache) fillRequest() bus.LineRequest {
	t := bus.ReadShared
	if c.r.req.Type.IsWrite() {
		t = bus.ReadMakeUnique
	}
	return bus.LineRequest{
		Valid: true,
		Type:  t,
		Addr:  c.lines.lineAddr(c.r.req.Addr),
		Size:  c.lines.config.BlockSize,
	}
}

func (c *DCache) translateAddress() {
	n := &c.n
	if !c.pmp.Allowed(c.r.req.Addr, c.access()) {
		c.respondFault()
		return
	}

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
	n.memReq = c.fillRequest()
	n.phase = phaseRead
	n.state = StateWaitGrant
}

func (c *DCache) checkResp() {
	r, n := &c.r, &c.n

	switch r.phase {
	case phaseRead:
		if r.fault {
			c.respondFault()
			return
		}
		flags := bus.FlagValid
		if r.memReq.Type == bus.ReadShared {
			flags |= bus.FlagShared
		}
		n.writes = append(n.writes, lineWrite{
			block: r.block,
			tag:   r.memReq.Addr,
			flags: flags,
			data:  r.buf,
			visit: true,
		})
		n.state = StateSetupReadAdr

	case phaseWriteBack:
		n.stats.Writebacks++
		n.writes = append(n.writes, lineWrite{block: r.block, tag: r.block.Tag})
		if r.fault {
			c.respondFault()
			return
		}
		n.memReq = c.fillRequest()
		n.phase = phaseRead
		n.state = StateWaitGrant

	case phaseUncached:
		if r.fault {
			c.respondFault()
			return
		}
		if r.req.Type.IsWrite() {
			c.respond(0)
			return
		}
		c.respond(laneRead(r.buf, r.req.Addr, r.req.Size))

	case phaseUpgrade:
		if r.fault {
			c.respondFault()
			return
		}
		if len(r.buf) != 0 {
			// Another cache held the line dirty: take its data and redo
			// the store on the now unique line.
			n.stats.LostUpgrades++
			n.writes = append(n.writes, lineWrite{
				block: r.block,
				tag:   r.memReq.Addr,
				flags: bus.FlagValid,
				data:  r.buf,
				visit: true,
			})
			n.state = StateSetupReadAdr
			return
		}
		n.stats.Upgrades++
		n.writes = append(n.writes, lineWrite{
			block: r.block,
			tag:   r.memReq.Addr,
			flags: bus.FlagValid,
			data:  r.memReq.Data,
			visit: true,
		})
		c.respond(0)

	case phaseFlush:
		n.stats.Writebacks++
		n.writes = append(n.writes, lineWrite{block: r.block, tag: r.block.Tag})
		c.flushNext()
	}
}

func (c *DCache) flushNext() {
	r, n := &c.r, &c.n
	if r.flushAddr == FlushAll && r.flushIdx+1 < c.lines.numLines() {
		n.flushIdx = r.flushIdx + 1
		n.state = StateFlushAddr
		return
	}
	c.flushDone()
}

func (c *DCache) flushDone() {
	c.n.flushEnd = true
	c.n.state = StateIdle
}

func (c *DCache) stepSnoop(in DCacheInput) {
	r, n := &c.r, &c.n

	switch r.snoop {
	case SnoopIdle:
		if in.Snoop.Valid && quiet(r.state) {
			n.snoopReq = in.Snoop
			n.stats.Snoops++
			n.snoop = SnoopSetupAddr
		}

	case SnoopSetupAddr:
		if quiet(r.state) {
			n.snoop = SnoopReadData
		}

	case SnoopReadData:
		if !quiet(r.state) {
			return
		}
		n.snoop = SnoopIdle
		n.snoopResp = bus.SnoopResponse{Valid: true}

		block := c.lines.lookup(r.snoopReq.Addr)
		if block == nil {
			n.snoopInvalidate = r.snoopReq.Type == bus.SnoopMakeInvalid
			return
		}
		flags := c.lines.flags(block)
		n.snoopResp.Data = c.lines.line(block)
		n.snoopResp.Flags = flags

		w := lineWrite{block: block, tag: block.Tag}
		if r.snoopReq.Type == bus.SnoopReadData {
			w.flags = (flags &^ bus.FlagDirty) | bus.FlagShared
		} else {
			c.restartUpgrade(block)
		}
		n.snoopWrite = &w
	}
}

// restartUpgrade turns a pending upgrade of a line that is being
// invalidated into a unique read. The merged line it would have written
// was built from the stale copy.
func (c *DCache) restartUpgrade(block *akitacache.Block) {
	r, n := &c.r, &c.n
	if r.state != StateWaitGrant || r.phase != phaseUpgrade || r.block != block {
		return
	}
	n.stats.LostUpgrades++
	n.memReq = c.fillRequest()
	n.phase = phaseRead
}
