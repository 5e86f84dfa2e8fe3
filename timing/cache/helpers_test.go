package cache_test

import (
	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
)

const cycleLimit = 20000

// smallConfig has 16-set, 2-way L1s so set conflicts are easy to build:
// addresses 512 bytes apart share a set.
func smallConfig(harts int) cache.HierarchyConfig {
	return cache.HierarchyConfig{
		Harts: harts,
		L1I:   cache.Config{Size: 1024, Associativity: 2, BlockSize: 32},
		L1D:   cache.Config{Size: 1024, Associativity: 2, BlockSize: 32},
		L2:    cache.Config{Size: 4096, Associativity: 4, BlockSize: 32},
	}
}

func newHierarchy(cfg cache.HierarchyConfig, pmps []*cache.PMP, opts ...bus.MemoryOption) (*cache.Hierarchy, *emu.Memory) {
	memory := emu.NewMemoryWithSize(1 * mem.MB)
	h := cache.NewHierarchy(cfg, memory, pmps, opts...)
	for i := 0; i < cycleLimit && !h.Ready(); i++ {
		h.Step(cache.HierarchyInput{})
		h.Commit()
	}
	return h, memory
}

func load(addr uint64, size int) bus.CoreRequest {
	return bus.CoreRequest{Type: bus.MemOpRead, Addr: addr, Size: size}
}

func store(addr uint64, size int, v uint64) bus.CoreRequest {
	return bus.CoreRequest{
		Type:  bus.MemOpWrite,
		Addr:  addr,
		WData: v,
		WStrb: bus.Strobe(addr, size),
		Size:  size,
	}
}

// dAccess presents req to the data cache of hart and waits for the answer.
func dAccess(h *cache.Hierarchy, hart int, req bus.CoreRequest) (bus.CoreResponse, bool) {
	req.Valid = true
	sent := false
	for i := 0; i < cycleLimit; i++ {
		in := cache.HierarchyInput{DReq: make([]bus.CoreRequest, len(h.DCaches))}
		if !sent && h.DCaches[hart].Outputs().ReqReady {
			in.DReq[hart] = req
			sent = true
		}
		h.Step(in)
		h.Commit()
		if r := h.DCaches[hart].Outputs().Resp; r.Valid {
			return r, true
		}
	}
	return bus.CoreResponse{}, false
}

// dAccessAll presents one request per hart in the same cycle, as soon as
// the caches are ready, and waits for every answer.
func dAccessAll(h *cache.Hierarchy, reqs map[int]bus.CoreRequest) (map[int]bus.CoreResponse, bool) {
	sent := make(map[int]bool)
	resps := make(map[int]bus.CoreResponse)
	for i := 0; i < cycleLimit && len(resps) < len(reqs); i++ {
		in := cache.HierarchyInput{DReq: make([]bus.CoreRequest, len(h.DCaches))}
		for hart, req := range reqs {
			if !sent[hart] && h.DCaches[hart].Outputs().ReqReady {
				req.Valid = true
				in.DReq[hart] = req
				sent[hart] = true
			}
		}
		h.Step(in)
		h.Commit()
		for hart := range reqs {
			if r := h.DCaches[hart].Outputs().Resp; r.Valid {
				resps[hart] = r
			}
		}
	}
	return resps, len(resps) == len(reqs)
}

// dAccessLog is dAccess that also returns the line requests the data cache
// of hart handed to the interconnect, in order.
func dAccessLog(h *cache.Hierarchy, hart int, req bus.CoreRequest) (bus.CoreResponse, []bus.LineReqType, bool) {
	var log []bus.LineReqType
	req.Valid = true
	sent := false
	for i := 0; i < cycleLimit; i++ {
		in := cache.HierarchyInput{DReq: make([]bus.CoreRequest, len(h.DCaches))}
		if !sent && h.DCaches[hart].Outputs().ReqReady {
			in.DReq[hart] = req
			sent = true
		}
		out := h.DCaches[hart].Outputs()
		if out.MemReq.Valid && h.Interconnect.Outputs().ReqReady[2*hart+1] {
			log = append(log, out.MemReq.Type)
		}
		h.Step(in)
		h.Commit()
		if r := h.DCaches[hart].Outputs().Resp; r.Valid {
			return r, log, true
		}
	}
	return bus.CoreResponse{}, log, false
}

// iFetch presents a fetch to the instruction cache of hart 0.
func iFetch(h *cache.Hierarchy, addr uint64) (bus.CoreResponse, bool) {
	req := bus.CoreRequest{Valid: true, Type: bus.MemOpRead, Addr: addr, Size: 4}
	sent := false
	for i := 0; i < cycleLimit; i++ {
		var in cache.HierarchyInput
		if !sent && h.ICaches[0].Outputs().ReqReady {
			in.IReq = []bus.CoreRequest{req}
			sent = true
		}
		h.Step(in)
		h.Commit()
		if r := h.ICaches[0].Outputs().Resp; r.Valid {
			return r, true
		}
	}
	return bus.CoreResponse{}, false
}

// flushL1 writes back every line of the data cache of hart 0.
func flushL1(h *cache.Hierarchy) bool {
	in := cache.HierarchyInput{DFlush: []cache.FlushRequest{{Valid: true, Addr: cache.FlushAll}}}
	for i := 0; i < cycleLimit; i++ {
		h.Step(in)
		h.Commit()
		in = cache.HierarchyInput{}
		if h.DCaches[0].Outputs().FlushEnd {
			return true
		}
	}
	return false
}

// flushL2 flushes the L2 line holding addr, or all of L2 for FlushAll.
func flushL2(h *cache.Hierarchy, addr uint64) bool {
	in := cache.HierarchyInput{L2Flush: cache.FlushRequest{Valid: true, Addr: addr}}
	for i := 0; i < cycleLimit; i++ {
		h.Step(in)
		h.Commit()
		in = cache.HierarchyInput{}
		if h.L2.Outputs().FlushEnd {
			return true
		}
	}
	return false
}

// flushData flushes every line of the data cache of hart 0 and then L2.
func flushData(h *cache.Hierarchy) bool {
	return flushL1(h) && flushL2(h, cache.FlushAll)
}
