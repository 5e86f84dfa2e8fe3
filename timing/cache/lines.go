package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/riversim/timing/bus"
)

// lineArray is the tag, flag and data storage shared by every cache level.
// Tags, valid, dirty and LRU order live in the Akita directory; the shared
// and reserved flags and the payload are kept alongside, indexed by
// setID*ways+wayID. The array is only modified by Commit through
// lineWrite descriptors.
type lineArray struct {
	config    Config
	directory *akitacache.DirectoryImpl

	data     [][]byte
	shared   []bool
	reserved []bool
}

// lineWrite describes an update of one line applied at commit.
type lineWrite struct {
	block *akitacache.Block
	tag   uint64
	flags bus.LineFlags
	data  []byte // nil keeps the payload
	visit bool
}

func newLineArray(config Config) *lineArray {
	total := config.NumSets() * config.Associativity
	a := &lineArray{
		config: config,
		directory: akitacache.NewDirectory(
			config.NumSets(),
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		data:     make([][]byte, total),
		shared:   make([]bool, total),
		reserved: make([]bool, total),
	}
	for i := range a.data {
		a.data[i] = make([]byte, config.BlockSize)
	}
	return a
}

func (a *lineArray) lineAddr(addr uint64) uint64 {
	return addr &^ uint64(a.config.BlockSize-1)
}

func (a *lineArray) offset(addr uint64) uint64 {
	return addr & uint64(a.config.BlockSize-1)
}

func (a *lineArray) numLines() int {
	return a.config.NumSets() * a.config.Associativity
}

// index computes the index into the side arrays for a block.
func (a *lineArray) index(block *akitacache.Block) int {
	return block.SetID*a.config.Associativity + block.WayID
}

// blockAt returns the block at flat index i, ordered by set then way.
func (a *lineArray) blockAt(i int) *akitacache.Block {
	sets := a.directory.GetSets()
	return sets[i/a.config.Associativity].Blocks[i%a.config.Associativity]
}

// lookup returns the valid block holding addr, or nil.
func (a *lineArray) lookup(addr uint64) *akitacache.Block {
	block := a.directory.Lookup(0, a.lineAddr(addr))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// victim returns the block a fill of addr would replace.
func (a *lineArray) victim(addr uint64) *akitacache.Block {
	return a.directory.FindVictim(a.lineAddr(addr))
}

func (a *lineArray) flags(block *akitacache.Block) bus.LineFlags {
	var f bus.LineFlags
	if block.IsValid {
		f |= bus.FlagValid
	}
	if block.IsDirty {
		f |= bus.FlagDirty
	}
	i := a.index(block)
	if a.shared[i] {
		f |= bus.FlagShared
	}
	if a.reserved[i] {
		f |= bus.FlagReserved
	}
	return f
}

// line returns a copy of the block's payload.
func (a *lineArray) line(block *akitacache.Block) []byte {
	return append([]byte(nil), a.data[a.index(block)]...)
}

func (a *lineArray) read(block *akitacache.Block, addr uint64, size int) uint64 {
	return extractData(a.data[a.index(block)], a.offset(addr), size)
}

func (a *lineArray) apply(w lineWrite) {
	b := w.block
	i := a.index(b)
	b.Tag = w.tag
	b.IsValid = w.flags.Has(bus.FlagValid)
	b.IsDirty = w.flags.Has(bus.FlagDirty)
	a.shared[i] = w.flags.Has(bus.FlagShared)
	a.reserved[i] = w.flags.Has(bus.FlagReserved)
	if w.data != nil {
		copy(a.data[i], w.data)
	}
	if w.visit && b.IsValid {
		a.directory.Visit(b)
	}
}

// invalidateSet clears every way of set.
func (a *lineArray) invalidateSet(set int) {
	for _, b := range a.directory.GetSets()[set].Blocks {
		a.apply(lineWrite{block: b, tag: b.Tag})
	}
}

// extractData extracts a value of the given size from a byte slice.
func extractData(data []byte, offset uint64, size int) uint64 {
	if data == nil || int(offset)+size > len(data) {
		return 0
	}

	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

// mergeStore returns a copy of line with the store of req applied. WData
// is right-aligned and WStrb enables byte lanes of the doubleword at
// Addr&^7.
func mergeStore(line []byte, lineOffset uint64, req bus.CoreRequest) []byte {
	out := append([]byte(nil), line...)
	base := lineOffset &^ 7
	lane := req.WData << ((req.Addr & 7) * 8)
	for i := uint64(0); i < 8; i++ {
		if req.WStrb&(1<<i) != 0 && int(base+i) < len(out) {
			out[base+i] = byte(lane >> (i * 8))
		}
	}
	return out
}

// laneWord packs the right-aligned store data of req into one bus beat.
func laneWord(req bus.CoreRequest) []byte {
	out := make([]byte, 8)
	lane := req.WData << ((req.Addr & 7) * 8)
	for i := range out {
		out[i] = byte(lane >> (i * 8))
	}
	return out
}

// laneRead extracts a right-aligned value from one bus beat.
func laneRead(beat []byte, addr uint64, size int) uint64 {
	return extractData(beat, addr&7, size)
}
