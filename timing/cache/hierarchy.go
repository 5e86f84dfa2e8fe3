package cache

import (
	"fmt"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
)

// HierarchyConfig describes the caches of a multi-hart system.
type HierarchyConfig struct {
	Harts        int          `json:"harts,omitempty"`
	L1I          Config       `json:"l1i"`
	L1D          Config       `json:"l1d"`
	L2           Config       `json:"l2"`
	Cacheability Cacheability `json:"cacheability"`
}

// DefaultHierarchyConfig returns River's single-hart cache configuration.
func DefaultHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		Harts: 1,
		L1I:   DefaultL1IConfig(),
		L1D:   DefaultL1DConfig(),
		L2:    DefaultL2Config(),
	}
}

// Validate checks every cache geometry.
func (c HierarchyConfig) Validate() error {
	if c.Harts < 1 || c.Harts > 32 {
		return fmt.Errorf("harts must be in [1, 32], got %d", c.Harts)
	}
	for name, cfg := range map[string]Config{"l1i": c.L1I, "l1d": c.L1D, "l2": c.L2} {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", name, err)
		}
	}
	if c.L1I.BlockSize != c.L2.BlockSize || c.L1D.BlockSize != c.L2.BlockSize {
		return fmt.Errorf("all caches must use the same block size")
	}
	return nil
}

// HierarchyInput carries the per-hart requests and flush pulses of one
// cycle. Slices are indexed by hart; missing entries are idle.
type HierarchyInput struct {
	IReq    []bus.CoreRequest
	DReq    []bus.CoreRequest
	IFlush  []FlushRequest
	DFlush  []FlushRequest
	L2Flush FlushRequest
}

// Hierarchy wires the L1 caches of every hart through the interconnect
// into L2 and the memory backend. Interconnect port 2h is the instruction
// cache of hart h and port 2h+1 its data cache.
type Hierarchy struct {
	ICaches      []*ICache
	DCaches      []*DCache
	Interconnect *Interconnect
	L2           *L2
	Backend      *bus.Backend
	View         *MemoryView
}

// NewHierarchy builds the caches over memory. pmps holds one checker per
// hart and may be nil.
func NewHierarchy(
	config HierarchyConfig,
	memory *emu.Memory,
	pmps []*PMP,
	memOpts ...bus.MemoryOption,
) *Hierarchy {
	h := &Hierarchy{
		L2:      NewL2(config.L2),
		Backend: bus.NewBackend(memory, memOpts...),
	}
	snoopable := make([]bool, 2*config.Harts)
	for i := 0; i < config.Harts; i++ {
		var pmp *PMP
		if i < len(pmps) {
			pmp = pmps[i]
		}
		h.ICaches = append(h.ICaches, NewICache(config.L1I, WithPMP(pmp)))
		h.DCaches = append(h.DCaches, NewDCache(config.L1D,
			WithPMP(pmp), WithCacheability(config.Cacheability)))
		snoopable[2*i+1] = true
	}
	h.Interconnect = NewInterconnect(snoopable)
	h.View = NewMemoryView(memory, h.L2, h.DCaches...)
	return h
}

// Ready reports whether every cache has finished its reset sequence.
func (h *Hierarchy) Ready() bool {
	for i := range h.DCaches {
		if h.ICaches[i].State() == StateReset || h.ICaches[i].State() == StateResetWrite ||
			h.DCaches[i].State() == StateReset || h.DCaches[i].State() == StateResetWrite {
			return false
		}
	}
	s := h.L2.State()
	return s != StateReset && s != StateResetWrite
}

// Step advances every cache, the interconnect, L2 and the backend using
// only committed outputs.
func (h *Hierarchy) Step(in HierarchyInput) {
	harts := len(h.DCaches)
	ico := h.Interconnect.Outputs()
	l2o := h.L2.Outputs()

	icIn := InterconnectInput{
		Req:        make([]bus.LineRequest, 2*harts),
		SnoopReady: make([]bool, 2*harts),
		SnoopResp:  make([]bus.SnoopResponse, 2*harts),
		L2ReqReady: l2o.ReqReady,
		L2Resp:     l2o.Resp,
	}

	for i := 0; i < harts; i++ {
		io := h.ICaches[i].Outputs()
		do := h.DCaches[i].Outputs()
		icIn.Req[2*i] = io.MemReq
		icIn.Req[2*i+1] = do.MemReq
		icIn.SnoopReady[2*i+1] = do.SnoopReady
		icIn.SnoopResp[2*i+1] = do.SnoopResp

		h.ICaches[i].Step(ICacheInput{
			Req:         at(in.IReq, i),
			MemReqReady: ico.ReqReady[2*i],
			MemResp:     ico.Resp[2*i],
			Flush:       at(in.IFlush, i),
		})
		h.DCaches[i].Step(DCacheInput{
			Req:         at(in.DReq, i),
			MemReqReady: ico.ReqReady[2*i+1],
			MemResp:     ico.Resp[2*i+1],
			Snoop:       ico.Snoop[2*i+1],
			Flush:       at(in.DFlush, i),
		})
	}

	h.Interconnect.Step(icIn)
	h.L2.Step(L2Input{
		Req:         ico.L2Req,
		MemReqReady: h.Backend.ReqReady(),
		MemResp:     h.Backend.Resp(),
		Flush:       in.L2Flush,
	})
	h.Backend.Step(l2o.MemReq)
}

// Commit commits every component.
func (h *Hierarchy) Commit() {
	for i := range h.DCaches {
		h.ICaches[i].Commit()
		h.DCaches[i].Commit()
	}
	h.Interconnect.Commit()
	h.L2.Commit()
	h.Backend.Commit()
}

func at[T any](s []T, i int) T {
	if i < len(s) {
		return s[i]
	}
	var zero T
	return zero
}
