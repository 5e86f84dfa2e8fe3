// Package core composes a River system: the harts, their L1 caches, the
// snooping interconnect, L2, the AXI path to memory and the Debug Module
// with its JTAG transport. The core clock and TCK are separate clock
// domains, scheduled by frequency.
package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/dmi"
	"github.com/sarchlab/riversim/timing/latency"
	"github.com/sarchlab/riversim/timing/pipeline"
)

// ErrMaxCycles is returned by Run when the cycle limit is reached before
// the program exits.
var ErrMaxCycles = errors.New("max cycles reached")

// Statistics collects the counters of every component.
type Statistics struct {
	Cycles    uint64
	TCKCycles uint64
	Harts     []pipeline.Statistics
	L1I       []cache.Statistics
	L1D       []cache.Statistics
	L2        cache.Statistics
	Memory    bus.MemoryStatistics
}

// Instructions returns the instructions retired by all harts.
func (s Statistics) Instructions() uint64 {
	var n uint64
	for _, h := range s.Harts {
		n += h.Instructions
	}
	return n
}

// Option configures a Core.
type Option func(*Core)

// WithToHost makes a non-zero store to addr end the run with exit code
// value>>1. The doubleword at addr is made uncacheable so that the store
// reaches memory.
func WithToHost(addr uint64) Option {
	return func(c *Core) {
		c.toHost = addr
		c.toHostValid = true
	}
}

// WithTrace writes one line per retired instruction of every hart to w.
func WithTrace(w io.Writer) Option {
	return func(c *Core) {
		c.trace = w
	}
}

// WithMemoryOptions passes extra options to the memory device.
func WithMemoryOptions(opts ...bus.MemoryOption) Option {
	return func(c *Core) {
		c.memOpts = append(c.memOpts, opts...)
	}
}

// Core is a River system.
type Core struct {
	config *Config
	memory *emu.Memory

	harts    []*pipeline.Pipeline
	hartOpts []pipeline.PipelineOption
	pmp      []*cache.PMP
	caches   *cache.Hierarchy
	debug    *dmi.Unit
	pins     dmi.Pins

	trace       io.Writer
	memOpts     []bus.MemoryOption
	toHost      uint64
	toHostValid bool

	exited   bool
	exitCode int64

	irq       []uint16
	mtimer    uint64
	inReset   []bool
	resetHalt []bool

	flushing  bool
	flushSent bool
	flushLeft int

	coreCycles uint64
	tckCycles  uint64
}

// New builds a system over memory. A nil memory gets a fresh one of
// config.MemorySize bytes.
func New(config *Config, memory *emu.Memory, opts ...Option) (*Core, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build core: %w", err)
	}
	config = config.Clone()

	c := &Core{config: config, memory: memory}
	for _, opt := range opts {
		opt(c)
	}
	if c.memory == nil {
		c.memory = emu.NewMemoryWithSize(config.MemorySize)
	}

	hc := config.Caches
	hc.Harts = config.Harts
	memOpts := []bus.MemoryOption{bus.WithLatency(config.Timing.MemoryLatency)}
	if c.toHostValid {
		hc.Cacheability.Uncached = append(hc.Cacheability.Uncached,
			cache.AddrRange{Start: c.toHost &^ 7, End: c.toHost&^7 + 8})
		memOpts = append(memOpts, bus.WithWriteWatch(c.toHost, c.onToHost))
	}
	memOpts = append(memOpts, c.memOpts...)

	bp := config.BranchPredictor
	bp.BTBSize = uint32(config.Timing.BTBEntries)
	c.hartOpts = []pipeline.PipelineOption{
		pipeline.WithLatencyTable(latency.NewTableWithConfig(config.Timing)),
		pipeline.WithBranchPredictor(bp),
	}
	if c.trace != nil {
		c.hartOpts = append(c.hartOpts, pipeline.WithTrace(c.trace))
	}

	c.pmp = make([]*cache.PMP, config.Harts)
	c.harts = make([]*pipeline.Pipeline, config.Harts)
	for i := range c.harts {
		c.pmp[i] = cache.NewPMP()
		c.harts[i] = c.newHart(i)
	}
	c.caches = cache.NewHierarchy(hc, c.memory, c.pmp, memOpts...)
	c.debug = dmi.NewUnit()
	c.irq = make([]uint16, config.Harts)
	c.inReset = make([]bool, config.Harts)
	c.resetHalt = make([]bool, config.Harts)
	return c, nil
}

func (c *Core) newHart(i int) *pipeline.Pipeline {
	opts := append([]pipeline.PipelineOption{pipeline.WithPMP(c.pmp[i])}, c.hartOpts...)
	return pipeline.NewPipeline(uint64(i), c.config.ResetVector, opts...)
}

func (c *Core) onToHost(v uint64) {
	if v == 0 || c.exited {
		return
	}
	c.exited = true
	c.exitCode = int64(v >> 1)
}

// Config returns the configuration the core was built with.
func (c *Core) Config() *Config { return c.config }

// Memory returns physical memory.
func (c *Core) Memory() *emu.Memory { return c.memory }

// Hart returns hart i.
func (c *Core) Hart(i int) *pipeline.Pipeline { return c.harts[i] }

// NumHarts returns the number of harts.
func (c *Core) NumHarts() int { return len(c.harts) }

// Caches returns the cache hierarchy.
func (c *Core) Caches() *cache.Hierarchy { return c.caches }

// Debug returns the Debug Module and its TAP.
func (c *Core) Debug() *dmi.Unit { return c.debug }

// Exited reports whether the program has written tohost.
func (c *Core) Exited() bool { return c.exited }

// ExitCode returns the code written to tohost.
func (c *Core) ExitCode() int64 { return c.exitCode }

// Cycles returns the number of core clock cycles simulated.
func (c *Core) Cycles() uint64 { return c.coreCycles }

// SetIRQ drives the interrupt lines of hart, as mip bits.
func (c *Core) SetIRQ(hart int, lines uint16) { c.irq[hart] = lines }

// ReadMemory reads n bytes of physical memory as the harts see them,
// including dirty cache lines.
func (c *Core) ReadMemory(addr uint64, n int) []byte {
	return c.caches.View.Read(addr, n)
}

// Read64 reads a coherent doubleword of physical memory.
func (c *Core) Read64(addr uint64) uint64 {
	return c.caches.View.Read64(addr)
}

// Stats returns the counters of every component.
func (c *Core) Stats() Statistics {
	s := Statistics{
		Cycles:    c.coreCycles,
		TCKCycles: c.tckCycles,
		L2:        c.caches.L2.Stats(),
		Memory:    c.caches.Backend.Memory.Stats(),
	}
	for i, h := range c.harts {
		s.Harts = append(s.Harts, h.Stats())
		s.L1I = append(s.L1I, c.caches.ICaches[i].Stats())
		s.L1D = append(s.L1D, c.caches.DCaches[i].Stats())
	}
	return s
}

// Tick advances the system by one core clock cycle, together with every
// TCK edge due up to that instant.
func (c *Core) Tick() {
	for {
		coreEdge, _ := c.advance()
		if coreEdge {
			return
		}
	}
}

// TDO returns the JTAG serial output.
func (c *Core) TDO() bool { return c.debug.TDO() }

// ClockTCK drives the JTAG pins for one TCK period, running the core
// cycles that fall before the edge.
func (c *Core) ClockTCK(p dmi.Pins) {
	c.pins = p
	for {
		_, tckEdge := c.advance()
		if tckEdge {
			return
		}
	}
}

// advance runs the next clock edge. When both domains have an edge at the
// same instant both are stepped before either commits.
func (c *Core) advance() (coreEdge, tckEdge bool) {
	tc := float64(c.coreCycles+1) / float64(c.config.CoreFreq)
	tj := float64(c.tckCycles+1) / float64(c.config.JTAGFreq)
	coreEdge = tc <= tj
	tckEdge = tj <= tc

	if coreEdge {
		c.stepCore()
	}
	if tckEdge {
		c.debug.StepTCK(c.pins)
	}
	if coreEdge {
		c.commitCore()
	}
	if tckEdge {
		c.debug.CommitTCK()
		c.tckCycles++
	}
	return coreEdge, tckEdge
}

func (c *Core) stepCore() {
	n := len(c.harts)
	ho := make([]pipeline.HartOutput, n)
	for i, h := range c.harts {
		ho[i] = h.Outputs()
	}
	dm := c.debug.Outputs()

	var st dmi.HartStatus
	for i := range c.harts {
		st.Available[i] = !c.inReset[i]
		st.Halted[i] = ho[i].Halted
	}
	if dm.HartSel < n {
		st.DportReady = ho[dm.HartSel].DportReady
		st.DportResp = ho[dm.HartSel].DportResp
	}
	c.debug.StepCore(st)

	hin := cache.HierarchyInput{
		IReq:   make([]bus.CoreRequest, n),
		DReq:   make([]bus.CoreRequest, n),
		IFlush: make([]cache.FlushRequest, n),
		DFlush: make([]cache.FlushRequest, n),
	}
	ics := make([]cache.ICacheOutput, n)
	dcs := make([]cache.DCacheOutput, n)
	for i := range c.harts {
		ics[i] = c.caches.ICaches[i].Outputs()
		dcs[i] = c.caches.DCaches[i].Outputs()
		if c.inReset[i] {
			continue
		}
		hin.IReq[i] = ho[i].IReq
		hin.DReq[i] = ho[i].DReq
		hin.IFlush[i] = ho[i].IFlush
		hin.DFlush[i] = ho[i].DFlush
	}
	c.stepFlush(&hin)
	c.caches.Step(hin)

	for i, h := range c.harts {
		if c.inReset[i] {
			continue
		}
		sel := dm.HartSel == i
		in := pipeline.HartInput{
			IReqReady: ics[i].ReqReady,
			IResp:     ics[i].Resp,
			DReqReady: dcs[i].ReqReady,
			DResp:     dcs[i].Resp,
			DFlushEnd: dcs[i].FlushEnd,
			IRQ:       c.irq[i],
			Mtimer:    c.mtimer,
			HaltReq:   (sel && dm.HaltReq) || c.resetHalt[i],
			ResumeReq: sel && dm.ResumeReq,
			Progbuf:   dm.Progbuf,
		}
		if sel {
			in.Dport = dm.Dport
		}
		h.Step(in)
	}
}

func (c *Core) commitCore() {
	dm := c.debug.Outputs()
	c.debug.CommitCore()
	c.caches.Commit()
	for i, h := range c.harts {
		if c.inReset[i] {
			continue
		}
		h.Commit()
		if c.resetHalt[i] && h.Halted() {
			c.resetHalt[i] = false
		}
	}

	for i := range c.harts {
		reset := dm.NDMReset || (dm.HartReset && dm.HartSel == i)
		switch {
		case reset && !c.inReset[i]:
			c.inReset[i] = true
		case !reset && c.inReset[i]:
			c.inReset[i] = false
			c.harts[i] = c.newHart(i)
			c.resetHalt[i] = dm.ResetHaltReq
		}
	}

	c.mtimer++
	c.coreCycles++
}

// stepFlush drives the global flush started by FlushCaches: every data
// cache is written back first, then L2.
func (c *Core) stepFlush(in *cache.HierarchyInput) {
	if !c.flushing {
		return
	}
	all := cache.FlushRequest{Valid: true, Addr: cache.FlushAll}
	switch {
	case !c.flushSent:
		for i := range in.DFlush {
			in.DFlush[i] = all
		}
		c.flushSent = true
		c.flushLeft = len(c.harts)
	case c.flushLeft > 0:
		for i := range c.harts {
			if c.caches.DCaches[i].Outputs().FlushEnd {
				c.flushLeft--
			}
		}
		if c.flushLeft == 0 {
			in.L2Flush = all
		}
	case c.caches.L2.Outputs().FlushEnd:
		c.flushing = false
	}
}

// FlushCaches writes every dirty line back to memory and invalidates the
// caches, running the clock until L2 reports the flush done or maxCycles
// pass.
func (c *Core) FlushCaches(maxCycles uint64) error {
	c.flushing = true
	c.flushSent = false
	for i := uint64(0); c.flushing; i++ {
		if maxCycles > 0 && i >= maxCycles {
			c.flushing = false
			return fmt.Errorf("failed to flush caches: %w", ErrMaxCycles)
		}
		c.Tick()
	}
	return nil
}

// Run ticks until the program writes tohost or maxCycles core cycles have
// run. A maxCycles of 0 means no limit.
func (c *Core) Run(maxCycles uint64) (int64, error) {
	for !c.exited {
		if maxCycles > 0 && c.coreCycles >= maxCycles {
			return 0, ErrMaxCycles
		}
		c.Tick()
	}
	return c.exitCode, nil
}

// RunUntilHalted ticks until every hart is halted in debug mode.
func (c *Core) RunUntilHalted(maxCycles uint64) error {
	for {
		halted := true
		for _, h := range c.harts {
			halted = halted && h.Halted()
		}
		if halted {
			return nil
		}
		if maxCycles > 0 && c.coreCycles >= maxCycles {
			return ErrMaxCycles
		}
		c.Tick()
	}
}

// Debugger attaches a JTAG driver to the TAP and activates the Debug
// Module.
func (c *Core) Debugger() (*dmi.Driver, error) {
	d := dmi.NewDriver(c)
	if err := d.Init(); err != nil {
		return nil, fmt.Errorf("failed to activate debug module: %w", err)
	}
	return d, nil
}
