package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
	"github.com/sarchlab/riversim/timing/cache"
)

var _ = Describe("DCache", func() {
	var (
		h      *cache.Hierarchy
		memory *emu.Memory
	)

	BeforeEach(func() {
		h, memory = newHierarchy(smallConfig(1), nil)
		Expect(h.Ready()).To(BeTrue())
	})

	It("should miss on a cold line and hit afterwards", func() {
		memory.Write64(0x1000, 0xDEADBEEF)

		resp, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xDEADBEEF)))

		resp, ok = dAccess(h, 0, load(0x1004, 2))
		Expect(ok).To(BeTrue())
		Expect(resp.Faulted()).To(BeFalse())

		stats := h.DCaches[0].Stats()
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.Hits).To(Equal(uint64(1)))
	})

	It("should fill loads shared and clean", func() {
		_, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags.Has(bus.FlagValid | bus.FlagShared)).To(BeTrue())
		Expect(flags.Has(bus.FlagDirty)).To(BeFalse())
	})

	It("should keep stores in the cache until the line is written back", func() {
		memory.Write64(0x1000, 0x1111111111111111)
		_, ok := dAccess(h, 0, store(0x1002, 2, 0xABCD))
		Expect(ok).To(BeTrue())

		Expect(memory.Read64(0x1000)).To(Equal(uint64(0x1111111111111111)))
		Expect(h.View.Read64(0x1000)).To(Equal(uint64(0x11111111ABCD1111)))

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags.Has(bus.FlagDirty)).To(BeTrue())
		Expect(flags.Has(bus.FlagShared)).To(BeFalse())

		resp, ok := dAccess(h, 0, load(0x1002, 2))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xABCD)))
	})

	It("should write a dirty victim back before refilling its way", func() {
		memory.Write64(0x1400, 0x1122334455667788)

		_, ok := dAccess(h, 0, store(0x1000, 8, 0xAAAA))
		Expect(ok).To(BeTrue())
		_, ok = dAccess(h, 0, store(0x1200, 8, 0xBBBB))
		Expect(ok).To(BeTrue())

		resp, log, ok := dAccessLog(h, 0, load(0x1400, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0x1122334455667788)))
		Expect(log).To(Equal([]bus.LineReqType{bus.WriteBack, bus.ReadShared}))

		stats := h.DCaches[0].Stats()
		Expect(stats.Evictions).To(Equal(uint64(1)))
		Expect(stats.Writebacks).To(Equal(uint64(1)))

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags).To(BeZero())
		l2Flags, line := h.L2.Peek(0x1000)
		Expect(l2Flags.Has(bus.FlagValid | bus.FlagDirty)).To(BeTrue())
		Expect(line[0]).To(Equal(byte(0xAA)))
		Expect(line[1]).To(Equal(byte(0xAA)))
	})

	It("should write every dirty line to memory on a global flush", func() {
		_, ok := dAccess(h, 0, store(0x1000, 8, 0x12345678))
		Expect(ok).To(BeTrue())
		_, ok = dAccess(h, 0, store(0x3008, 4, 0x9ABC))
		Expect(ok).To(BeTrue())

		Expect(flushData(h)).To(BeTrue())
		Expect(memory.Read64(0x1000)).To(Equal(uint64(0x12345678)))
		Expect(memory.Read32(0x3008)).To(Equal(uint32(0x9ABC)))

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags).To(BeZero())
		Expect(h.DCaches[0].Stats().Flushes).To(Equal(uint64(1)))
	})

	It("should flush only the addressed L2 line", func() {
		_, ok := dAccess(h, 0, store(0x1000, 8, 0x1234))
		Expect(ok).To(BeTrue())
		_, ok = dAccess(h, 0, store(0x3000, 8, 0x5678))
		Expect(ok).To(BeTrue())
		Expect(flushL1(h)).To(BeTrue())

		Expect(flushL2(h, 0x1008)).To(BeTrue())

		Expect(memory.Read64(0x1000)).To(Equal(uint64(0x1234)))
		Expect(memory.Read64(0x3000)).To(BeZero())
		flags, _ := h.L2.Peek(0x1000)
		Expect(flags).To(BeZero())
		flags, _ = h.L2.Peek(0x3000)
		Expect(flags.Has(bus.FlagValid | bus.FlagDirty)).To(BeTrue())
		Expect(h.L2.Stats().Writebacks).To(Equal(uint64(1)))
	})

	It("should fail a store-conditional without a reservation", func() {
		memory.Write64(0x1000, 7)
		_, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())

		sc := store(0x1000, 8, 99)
		sc.Type = bus.MemOpRelease
		resp, ok := dAccess(h, 0, sc)
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(1)))
		Expect(h.View.Read64(0x1000)).To(Equal(uint64(7)))
	})

	It("should fail a store-conditional that misses", func() {
		sc := store(0x5000, 8, 99)
		sc.Type = bus.MemOpRelease
		resp, ok := dAccess(h, 0, sc)
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(1)))
		Expect(h.View.Read64(0x5000)).To(BeZero())
	})

	It("should succeed a store-conditional after a load-reserved", func() {
		lr := load(0x1000, 8)
		lr.Type = bus.MemOpReserve
		_, ok := dAccess(h, 0, lr)
		Expect(ok).To(BeTrue())
		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags.Has(bus.FlagReserved)).To(BeTrue())

		sc := store(0x1000, 8, 99)
		sc.Type = bus.MemOpRelease
		resp, ok := dAccess(h, 0, sc)
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(BeZero())
		Expect(h.View.Read64(0x1000)).To(Equal(uint64(99)))

		flags, _ = h.DCaches[0].Peek(0x1000)
		Expect(flags.Has(bus.FlagReserved)).To(BeFalse())
		Expect(h.DCaches[0].Stats().Upgrades).To(Equal(uint64(1)))
	})

	It("should report a load fault for memory that does not exist", func() {
		resp, ok := dAccess(h, 0, load(0x200000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.LoadFault).To(BeTrue())
		Expect(resp.Addr).To(Equal(uint64(0x200000)))

		resp, ok = dAccess(h, 0, store(0x200008, 8, 1))
		Expect(ok).To(BeTrue())
		Expect(resp.StoreFault).To(BeTrue())
	})

	It("should stall forever when memory never answers", func() {
		h, _ = newHierarchy(smallConfig(1), nil, bus.WithLatency(bus.NeverRespond))
		_, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeFalse())
		Expect(h.DCaches[0].State()).To(Equal(cache.StateWaitResp))
		Expect(h.L2.State()).To(Equal(cache.StateWaitResp))
	})

	Context("with an uncached range", func() {
		BeforeEach(func() {
			cfg := smallConfig(1)
			cfg.Cacheability = cache.Cacheability{
				Uncached: []cache.AddrRange{{Start: 0x2000, End: 0x3000}},
			}
			h, memory = newHierarchy(cfg, nil)
		})

		It("should write through to memory without allocating", func() {
			memory.Write32(0x2000, 0x55555555)
			_, ok := dAccess(h, 0, store(0x2004, 4, 0xCAFEBABE))
			Expect(ok).To(BeTrue())
			Expect(memory.Read32(0x2004)).To(Equal(uint32(0xCAFEBABE)))
			Expect(memory.Read32(0x2000)).To(Equal(uint32(0x55555555)))

			flags, _ := h.DCaches[0].Peek(0x2004)
			Expect(flags).To(BeZero())

			resp, ok := dAccess(h, 0, load(0x2004, 4))
			Expect(ok).To(BeTrue())
			Expect(resp.Data).To(Equal(uint64(0xCAFEBABE)))
			Expect(h.DCaches[0].Stats().Uncached).To(Equal(uint64(2)))
		})
	})

	Context("with a PMP region", func() {
		var pmp *cache.PMP

		BeforeEach(func() {
			pmp = cache.NewPMP()
			pmp.Step(cache.PMPInput{
				Update: cache.PMPUpdate{
					Valid:  true,
					Index:  0,
					Region: cache.PMPRegion{Start: 0x1000, End: 0x1FFF, R: true, Valid: true},
				},
				Priv: cache.PrivUser,
			})
			pmp.Commit()
			h, memory = newHierarchy(smallConfig(1), []*cache.PMP{pmp})
		})

		It("should fault a user store to a read-only region", func() {
			resp, ok := dAccess(h, 0, load(0x1000, 8))
			Expect(ok).To(BeTrue())
			Expect(resp.Faulted()).To(BeFalse())

			resp, ok = dAccess(h, 0, store(0x1800, 8, 1))
			Expect(ok).To(BeTrue())
			Expect(resp.StoreFault).To(BeTrue())
		})
	})
})

var _ = Describe("Coherence", func() {
	var (
		h      *cache.Hierarchy
		memory *emu.Memory
	)

	BeforeEach(func() {
		h, memory = newHierarchy(smallConfig(2), nil)
	})

	It("should pass dirty data between harts", func() {
		_, ok := dAccess(h, 0, store(0x1000, 8, 0xAAAA))
		Expect(ok).To(BeTrue())

		resp, ok := dAccess(h, 1, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xAAAA)))

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags.Has(bus.FlagValid | bus.FlagShared)).To(BeTrue())
		Expect(flags.Has(bus.FlagDirty)).To(BeFalse())
		Expect(h.Interconnect.Stats().DirtySnoops).To(Equal(uint64(1)))
	})

	It("should keep both stores when two harts upgrade the same line at once", func() {
		memory.Write64(0x1000, 0x1111)
		memory.Write64(0x1008, 0x2222)
		_, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		_, ok = dAccess(h, 1, load(0x1000, 8))
		Expect(ok).To(BeTrue())

		resps, ok := dAccessAll(h, map[int]bus.CoreRequest{
			0: store(0x1000, 8, 0xAAAA),
			1: store(0x1008, 8, 0xBBBB),
		})
		Expect(ok).To(BeTrue())
		Expect(resps[0].Faulted()).To(BeFalse())
		Expect(resps[1].Faulted()).To(BeFalse())

		Expect(h.View.Read64(0x1000)).To(Equal(uint64(0xAAAA)))
		Expect(h.View.Read64(0x1008)).To(Equal(uint64(0xBBBB)))

		f0, _ := h.DCaches[0].Peek(0x1000)
		f1, _ := h.DCaches[1].Peek(0x1000)
		Expect(f0.Has(bus.FlagValid) && f1.Has(bus.FlagValid)).To(BeFalse())
		Expect(h.DCaches[0].Stats().LostUpgrades + h.DCaches[1].Stats().LostUpgrades).
			To(Equal(uint64(1)))

		resp, ok := dAccess(h, 0, load(0x1008, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xBBBB)))
		resp, ok = dAccess(h, 1, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xAAAA)))
	})

	It("should not let a pending fill outlive an invalidation", func() {
		memory.Write64(0x1000, 0x1111)
		_, ok := dAccess(h, 1, load(0x1000, 8))
		Expect(ok).To(BeTrue())

		_, ok = dAccessAll(h, map[int]bus.CoreRequest{
			0: load(0x1000, 8),
			1: store(0x1000, 8, 0xBBBB),
		})
		Expect(ok).To(BeTrue())

		Expect(h.View.Read64(0x1000)).To(Equal(uint64(0xBBBB)))
		resp, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xBBBB)))
	})

	It("should invalidate other copies when a shared line is written", func() {
		_, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		_, ok = dAccess(h, 1, load(0x1000, 8))
		Expect(ok).To(BeTrue())

		_, ok = dAccess(h, 1, store(0x1000, 8, 0xBBBB))
		Expect(ok).To(BeTrue())

		flags, _ := h.DCaches[0].Peek(0x1000)
		Expect(flags).To(BeZero())
		flags, _ = h.DCaches[1].Peek(0x1000)
		Expect(flags).To(Equal(bus.FlagValid))

		resp, ok := dAccess(h, 0, load(0x1000, 8))
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal(uint64(0xBBBB)))
	})
})
