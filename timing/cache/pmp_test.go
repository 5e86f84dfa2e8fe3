package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/timing/cache"
)

func setRegion(p *cache.PMP, i int, r cache.PMPRegion, priv uint8) {
	p.Step(cache.PMPInput{
		Update: cache.PMPUpdate{Valid: true, Index: i, Region: r},
		Priv:   priv,
	})
	p.Commit()
}

var _ = Describe("PMP", func() {
	It("should allow everything when nil", func() {
		var p *cache.PMP
		Expect(p.Allowed(0x1000, cache.AccessWrite)).To(BeTrue())
	})

	It("should allow user accesses when no region is valid", func() {
		p := cache.NewPMP()
		p.Step(cache.PMPInput{Priv: cache.PrivUser})
		p.Commit()
		Expect(p.Allowed(0x1000, cache.AccessExec)).To(BeTrue())
	})

	It("should check user accesses against the first matching region", func() {
		p := cache.NewPMP()
		setRegion(p, 0, cache.PMPRegion{Start: 0x1000, End: 0x1FFF, R: true, X: true, Valid: true}, cache.PrivUser)
		setRegion(p, 1, cache.PMPRegion{Start: 0x0, End: 0xFFFF, R: true, W: true, Valid: true}, cache.PrivUser)

		Expect(p.Allowed(0x1800, cache.AccessRead)).To(BeTrue())
		Expect(p.Allowed(0x1800, cache.AccessExec)).To(BeTrue())
		Expect(p.Allowed(0x1800, cache.AccessWrite)).To(BeFalse())
		Expect(p.Allowed(0x2000, cache.AccessWrite)).To(BeTrue())
		Expect(p.Allowed(0x20000, cache.AccessRead)).To(BeFalse())
	})

	It("should only apply locked regions to machine mode", func() {
		p := cache.NewPMP()
		setRegion(p, 0, cache.PMPRegion{Start: 0x1000, End: 0x1FFF, R: true, Valid: true}, cache.PrivMachine)
		Expect(p.Allowed(0x1800, cache.AccessWrite)).To(BeTrue())
		Expect(p.Allowed(0x20000, cache.AccessWrite)).To(BeTrue())

		setRegion(p, 0, cache.PMPRegion{Start: 0x1000, End: 0x1FFF, R: true, Lock: true, Valid: true}, cache.PrivMachine)
		Expect(p.Allowed(0x1800, cache.AccessWrite)).To(BeFalse())
		Expect(p.Allowed(0x1800, cache.AccessRead)).To(BeTrue())
	})
})
