package cache

import (
	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/timing/bus"
)

// MemoryView reads physical memory the way the harts see it, without
// disturbing any cache. The newest copy of a line is in a dirty L1 data
// cache, then in L2, then in memory.
type MemoryView struct {
	memory  *emu.Memory
	l2      *L2
	dcaches []*DCache
}

// NewMemoryView creates a coherent view over memory and the given caches.
// l2 may be nil.
func NewMemoryView(memory *emu.Memory, l2 *L2, dcaches ...*DCache) *MemoryView {
	return &MemoryView{memory: memory, l2: l2, dcaches: dcaches}
}

// Read fetches size bytes at addr.
func (v *MemoryView) Read(addr uint64, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = v.byteAt(addr + uint64(i))
	}
	return data
}

// Read64 fetches the little-endian doubleword at addr.
func (v *MemoryView) Read64(addr uint64) uint64 {
	return extractData(v.Read(addr, 8), 0, 8)
}

func (v *MemoryView) byteAt(addr uint64) byte {
	for _, dc := range v.dcaches {
		flags, line := dc.Peek(addr)
		if flags.Has(bus.FlagValid | bus.FlagDirty) {
			return line[dc.lines.offset(addr)]
		}
	}
	if v.l2 != nil {
		if flags, line := v.l2.Peek(addr); flags.Has(bus.FlagValid) {
			return line[v.l2.lines.offset(addr)]
		}
	}
	return v.memory.Read8(addr)
}
