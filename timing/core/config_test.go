package core_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/riversim/timing/core"
)

var _ = Describe("Config", func() {
	It("should validate the defaults", func() {
		Expect(core.DefaultConfig().Validate()).To(Succeed())
	})

	DescribeTable("should reject",
		func(mutate func(*core.Config)) {
			cfg := core.DefaultConfig()
			mutate(cfg)
			Expect(cfg.Validate()).NotTo(Succeed())
		},
		Entry("zero harts", func(c *core.Config) { c.Harts = 0 }),
		Entry("too many harts", func(c *core.Config) { c.Harts = 5 }),
		Entry("a zero core clock", func(c *core.Config) { c.CoreFreq = 0 }),
		Entry("a zero TCK", func(c *core.Config) { c.JTAGFreq = 0 }),
		Entry("a missing timing table", func(c *core.Config) { c.Timing = nil }),
	)

	It("should round trip through a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "river.json")
		cfg := core.DefaultConfig()
		cfg.Harts = 2
		cfg.JTAGFreq = 25 * sim.MHz
		cfg.Timing.MemoryLatency = 40
		Expect(cfg.SaveConfig(path)).To(Succeed())

		loaded, err := core.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Harts).To(Equal(2))
		Expect(loaded.JTAGFreq).To(Equal(25 * sim.MHz))
		Expect(loaded.Timing.MemoryLatency).To(Equal(uint64(40)))
		Expect(loaded.ResetVector).To(Equal(cfg.ResetVector))
		Expect(loaded.Validate()).To(Succeed())
	})

	It("should fail to load a missing file", func() {
		_, err := core.LoadConfig(filepath.Join(GinkgoT().TempDir(), "none.json"))
		Expect(err).To(HaveOccurred())
	})

	It("should clone deeply", func() {
		cfg := core.DefaultConfig()
		clone := cfg.Clone()
		clone.Timing.MemoryLatency = cfg.Timing.MemoryLatency + 7
		clone.Harts = 3
		Expect(cfg.Timing.MemoryLatency).NotTo(Equal(clone.Timing.MemoryLatency))
		Expect(cfg.Harts).To(Equal(1))
	})
})
