package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/latency"
)

var _ = Describe("Latency", func() {
	var (
		table   *latency.Table
		decoder *insts.Decoder
	)

	decode := func(k insts.Kind) *insts.Decoded {
		return decoder.Decode(insts.MustEncode(k, insts.Operands{Rd: 1, Rs1: 2, Rs2: 3}), 0)
	}

	BeforeEach(func() {
		table = latency.NewTable()
		decoder = insts.NewDecoder()
	})

	Describe("Default Timing Values", func() {
		It("should have River's FPU latencies", func() {
			config := table.Config()
			Expect(config.FPUAddLatency).To(Equal(uint64(4)))
			Expect(config.FPUMulLatency).To(Equal(uint64(16)))
			Expect(config.FPUDivLatency).To(Equal(uint64(16)))
			Expect(config.FPUConvLatency).To(Equal(uint64(1)))
		})

		It("should validate", func() {
			Expect(table.Config().Validate()).To(Succeed())
		})
	})

	DescribeTable("GetLatency",
		func(k insts.Kind, want uint64) {
			Expect(table.GetLatency(decode(k))).To(Equal(want))
		},
		Entry("add", insts.KindADD, uint64(1)),
		Entry("sraw", insts.KindSRAW, uint64(1)),
		Entry("mul", insts.KindMUL, latency.MultiplyLatency),
		Entry("mulhsu", insts.KindMULHSU, uint64(4)),
		Entry("divuw", insts.KindDIVUW, uint64(17)),
		Entry("fadd.d", insts.KindFADDD, uint64(4)),
		Entry("fmul.d", insts.KindFMULD, uint64(16)),
		Entry("fdiv.d", insts.KindFDIVD, uint64(16)),
		Entry("fmv.x.d", insts.KindFMOVXD, uint64(1)),
	)

	It("should treat a nil instruction as single-cycle", func() {
		Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		Expect(table.IsMultiCycle(decode(insts.KindREM))).To(BeTrue())
		Expect(table.IsMultiCycle(decode(insts.KindXOR))).To(BeFalse())
	})

	It("should use a custom configuration", func() {
		config := latency.DefaultTimingConfig()
		config.FPUDivLatency = 30
		custom := latency.NewTableWithConfig(config)

		Expect(custom.GetLatency(decode(insts.KindFDIVD))).To(Equal(uint64(30)))
	})

	Describe("Validation", func() {
		It("should reject zero FPU add latency", func() {
			config := latency.DefaultTimingConfig()
			config.FPUAddLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero memory latency", func() {
			config := latency.DefaultTimingConfig()
			config.MemoryLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject an empty BTB", func() {
			config := latency.DefaultTimingConfig()
			config.BTBEntries = 0
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			clone := original.Clone()

			clone.MemoryLatency = 100

			Expect(original.MemoryLatency).To(Equal(uint64(8)))
			Expect(clone.MemoryLatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.FPUMulLatency = 5
			original.MemoryLatency = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.FPUMulLatency).To(Equal(uint64(5)))
			Expect(loaded.MemoryLatency).To(Equal(uint64(10)))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
