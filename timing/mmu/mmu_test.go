package mmu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
	"github.com/sarchlab/riversim/timing/mmu"
)

const (
	cycleLimit = 20000

	rootPA  = 0x10000
	l1PA    = 0x11000
	l0PA    = 0x12000
	superPA = 0x13000
	sv48PA  = 0x20000
)

func pointer(pa uint64) uint64 {
	return pa>>12<<10 | uint64(mmu.PteV)
}

func leaf(pa uint64, perm uint8) uint64 {
	return pa>>12<<10 | uint64(perm|mmu.PteV)
}

// buildTables maps, under an Sv39 root at rootPA:
//
//	0x2000_3000 -> 0x5000 RW, accessed and dirty
//	0x2000_4000 -> 0x6000 RW, accessed
//	0x2000_5000 -> 0x7000 RW, never accessed
//	0x2000_6000 -> 0x8000 RW user page
//	0x2000_7000 -> 0x9000 execute only
//	0x4000_0000 -> 0x200000 2MB read-only superpage
//	0x4020_0000 -> misaligned superpage
func buildTables(memory *emu.Memory) {
	const ad = mmu.PteA | mmu.PteD
	memory.Write64(rootPA, pointer(l1PA))
	memory.Write64(rootPA+8, pointer(superPA))
	memory.Write64(l1PA+0x100*8, pointer(l0PA))
	memory.Write64(l0PA+3*8, leaf(0x5000, mmu.PteR|mmu.PteW|ad))
	memory.Write64(l0PA+4*8, leaf(0x6000, mmu.PteR|mmu.PteW|mmu.PteA))
	memory.Write64(l0PA+5*8, leaf(0x7000, mmu.PteR|mmu.PteW))
	memory.Write64(l0PA+6*8, leaf(0x8000, mmu.PteR|mmu.PteW|mmu.PteU|ad))
	memory.Write64(l0PA+7*8, leaf(0x9000, mmu.PteX|mmu.PteA))
	memory.Write64(superPA, leaf(0x200000, mmu.PteR|ad))
	memory.Write64(superPA+8, leaf(0x201000, mmu.PteR|ad))
}

var sv39 = mmu.Config{Enable: true, Mode: mmu.ModeSv39, PPN: rootPA >> 12}

type system struct {
	h      *cache.Hierarchy
	memory *emu.Memory
	data   *mmu.MMU
	fetch  *mmu.MMU
}

func newSystem() *system {
	memory := emu.NewMemoryWithSize(4 * mem.MB)
	cfg := cache.HierarchyConfig{
		Harts: 1,
		L1I:   cache.Config{Size: 1024, Associativity: 2, BlockSize: 32},
		L1D:   cache.Config{Size: 1024, Associativity: 2, BlockSize: 32},
		L2:    cache.Config{Size: 4096, Associativity: 4, BlockSize: 32},
	}
	s := &system{
		h:      cache.NewHierarchy(cfg, memory, nil),
		memory: memory,
		data:   mmu.New(mmu.PortData),
		fetch:  mmu.New(mmu.PortFetch),
	}
	for i := 0; i < cycleLimit && !s.h.Ready(); i++ {
		s.h.Step(cache.HierarchyInput{})
		s.h.Commit()
	}
	buildTables(memory)
	return s
}

// cycle advances both MMUs and the caches by one clock.
func (s *system) cycle(dIn, fIn mmu.Input) {
	do := s.h.DCaches[0].Outputs()
	io := s.h.ICaches[0].Outputs()
	dmo := s.data.Outputs()
	fmo := s.fetch.Outputs()

	dIn.MemReqReady, dIn.MemResp = do.ReqReady, do.Resp
	fIn.MemReqReady, fIn.MemResp = io.ReqReady, io.Resp
	s.data.Step(dIn)
	s.fetch.Step(fIn)
	s.h.Step(cache.HierarchyInput{
		DReq: []bus.CoreRequest{dmo.MemReq},
		IReq: []bus.CoreRequest{fmo.MemReq},
	})

	s.data.Commit()
	s.fetch.Commit()
	s.h.Commit()
}

func (s *system) access(m *mmu.MMU, cfg mmu.Config, req bus.CoreRequest) bus.CoreResponse {
	req.Valid = true
	sent := false
	for i := 0; i < cycleLimit; i++ {
		in := mmu.Input{Config: cfg}
		if !sent && m.Outputs().ReqReady {
			in.Req = req
			sent = true
		}
		if m == s.data {
			s.cycle(in, mmu.Input{})
		} else {
			s.cycle(mmu.Input{}, in)
		}
		if r := m.Outputs().Resp; r.Valid {
			return r
		}
	}
	Fail("no response from the MMU")
	return bus.CoreResponse{}
}

func (s *system) load(cfg mmu.Config, va uint64) bus.CoreResponse {
	return s.access(s.data, cfg, bus.CoreRequest{Type: bus.MemOpRead, Addr: va, Size: 8})
}

func (s *system) store(cfg mmu.Config, va, v uint64) bus.CoreResponse {
	return s.access(s.data, cfg, bus.CoreRequest{
		Type:  bus.MemOpWrite,
		Addr:  va,
		WData: v,
		WStrb: bus.Strobe(va, 8),
		Size:  8,
	})
}

func (s *system) flush(addr uint64) {
	in := mmu.Input{Flush: mmu.FlushRequest{Valid: true, Addr: addr}}
	for i := 0; i < cycleLimit; i++ {
		s.cycle(in, mmu.Input{})
		in = mmu.Input{}
		if s.data.Outputs().FlushEnd {
			return
		}
	}
	Fail("TLB flush did not finish")
}

var _ = Describe("MMU", func() {
	var s *system

	BeforeEach(func() {
		s = newSystem()
	})

	Context("without translation", func() {
		It("should pass addresses through unchanged", func() {
			s.memory.Write64(0x5008, 0xFEED)

			resp := s.load(mmu.Config{}, 0x5008)

			Expect(resp.Faulted()).To(BeFalse())
			Expect(resp.Data).To(Equal(uint64(0xFEED)))
			Expect(s.data.Stats().Walks).To(BeZero())
		})
	})

	Context("with Sv39", func() {
		It("should walk three levels and then hit the TLB", func() {
			s.memory.Write64(0x5010, 0x1234)
			s.memory.Write64(0x5018, 0x5678)

			Expect(s.load(sv39, 0x2000_3010).Data).To(Equal(uint64(0x1234)))
			Expect(s.load(sv39, 0x2000_3018).Data).To(Equal(uint64(0x5678)))

			stats := s.data.Stats()
			Expect(stats.Walks).To(Equal(uint64(1)))
			Expect(stats.PTEReads).To(Equal(uint64(3)))
			Expect(stats.TLBHits).To(Equal(uint64(1)))
			_, ok := s.data.TLB().Lookup(0x20003)
			Expect(ok).To(BeTrue())
		})

		It("should translate stores", func() {
			Expect(s.store(sv39, 0x2000_3020, 0xABCD).Faulted()).To(BeFalse())
			Expect(s.load(mmu.Config{}, 0x5020).Data).To(Equal(uint64(0xABCD)))
		})

		It("should fault a store to a page that is not dirty", func() {
			resp := s.store(sv39, 0x2000_4008, 1)

			Expect(resp.PageFault).To(BeTrue())
			Expect(resp.Addr).To(Equal(uint64(0x2000_4008)))
		})

		It("should allow loads from a page that is not dirty", func() {
			Expect(s.load(sv39, 0x2000_4008).Faulted()).To(BeFalse())
		})

		It("should fault a page that was never accessed", func() {
			resp := s.load(sv39, 0x2000_5000)

			Expect(resp.PageFault).To(BeTrue())
			Expect(s.data.Stats().PageFaults).To(Equal(uint64(1)))
		})

		It("should keep user and supervisor pages apart", func() {
			user := sv39
			user.User = true
			sum := sv39
			sum.SUM = true

			Expect(s.load(user, 0x2000_3000).PageFault).To(BeTrue())
			Expect(s.load(user, 0x2000_6000).Faulted()).To(BeFalse())
			Expect(s.load(sv39, 0x2000_6000).PageFault).To(BeTrue())
			Expect(s.load(sum, 0x2000_6000).Faulted()).To(BeFalse())
		})

		It("should read execute-only pages only with MXR", func() {
			mxr := sv39
			mxr.MXR = true

			Expect(s.load(sv39, 0x2000_7000).PageFault).To(BeTrue())
			Expect(s.load(mxr, 0x2000_7000).Faulted()).To(BeFalse())
		})

		It("should combine superpage frames with the low address bits", func() {
			s.memory.Write64(0x201238, 0x77)

			Expect(s.load(sv39, 0x4000_1238).Data).To(Equal(uint64(0x77)))
		})

		It("should fault a misaligned superpage", func() {
			Expect(s.load(sv39, 0x4020_0000).PageFault).To(BeTrue())
		})

		It("should fault a non-canonical address without walking", func() {
			resp := s.load(sv39, 0x0000_0040_0000_0000)

			Expect(resp.PageFault).To(BeTrue())
			Expect(s.data.Stats().Walks).To(BeZero())
		})

		It("should report a bus error during the walk as an access fault", func() {
			bad := sv39
			bad.PPN = 0x1000_0000 >> 12

			resp := s.store(bad, 0x2000_3000, 1)

			Expect(resp.StoreFault).To(BeTrue())
			Expect(resp.PageFault).To(BeFalse())
			Expect(resp.Addr).To(Equal(uint64(0x2000_3000)))
		})
	})

	Context("with Sv48", func() {
		It("should fault an unmapped page with the original address", func() {
			sv48 := mmu.Config{Enable: true, Mode: mmu.ModeSv48, PPN: sv48PA >> 12}

			resp := s.load(sv48, 0x12_3456_7000)

			Expect(resp.PageFault).To(BeTrue())
			Expect(resp.Addr).To(Equal(uint64(0x12_3456_7000)))
			Expect(s.data.Stats().PTEReads).To(Equal(uint64(1)))
		})
	})

	Context("when flushed", func() {
		remap := func() {
			Expect(s.store(mmu.Config{}, l0PA+3*8,
				leaf(0xA000, mmu.PteR|mmu.PteW|mmu.PteA|mmu.PteD)).Faulted()).To(BeFalse())
		}

		BeforeEach(func() {
			s.memory.Write64(0x5010, 0x1111)
			s.memory.Write64(0xA010, 0x2222)
		})

		It("should keep using a cached translation until flushed", func() {
			Expect(s.load(sv39, 0x2000_3010).Data).To(Equal(uint64(0x1111)))
			remap()
			Expect(s.load(sv39, 0x2000_3010).Data).To(Equal(uint64(0x1111)))
		})

		It("should walk again after a full flush", func() {
			Expect(s.load(sv39, 0x2000_3010).Data).To(Equal(uint64(0x1111)))
			remap()

			s.flush(mmu.FlushAll)

			Expect(s.load(sv39, 0x2000_3010).Data).To(Equal(uint64(0x2222)))
			Expect(s.data.Stats().Walks).To(Equal(uint64(2)))
			Expect(s.data.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should drop only the matching slot on an address flush", func() {
			s.load(sv39, 0x2000_3000)
			s.load(sv39, 0x2000_4000)

			s.flush(0x2000_3000)

			_, ok := s.data.TLB().Lookup(0x20003)
			Expect(ok).To(BeFalse())
			_, ok = s.data.TLB().Lookup(0x20004)
			Expect(ok).To(BeTrue())
		})
	})

	Context("on the fetch port", func() {
		It("should fetch from executable pages", func() {
			s.memory.Write32(0x9004, 0x00400293)

			resp := s.access(s.fetch, sv39, bus.CoreRequest{Type: bus.MemOpRead, Addr: 0x2000_7004, Size: 4})

			Expect(resp.Faulted()).To(BeFalse())
			Expect(resp.Data).To(Equal(uint64(0x00400293)))
		})

		It("should fault fetches from pages without execute permission", func() {
			resp := s.access(s.fetch, sv39, bus.CoreRequest{Type: bus.MemOpRead, Addr: 0x2000_3000, Size: 4})

			Expect(resp.PageFault).To(BeTrue())
			Expect(resp.Addr).To(Equal(uint64(0x2000_3000)))
		})
	})
})
