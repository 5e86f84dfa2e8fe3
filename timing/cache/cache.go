// Package cache models River's cache hierarchy: the L1 instruction and data
// caches, the snooping interconnect that keeps L1 data caches coherent, the
// shared L2 and the physical memory protection checker. Tags and LRU state
// live in Akita cache directories.
package cache

import (
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// Config holds cache geometry.
type Config struct {
	// Size in bytes
	Size int `json:"size"`
	// Associativity (number of ways)
	Associativity int `json:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `json:"block_size"`
}

// DefaultL1IConfig returns River's default L1 instruction cache: 16KB,
// 4-way, 32B lines.
func DefaultL1IConfig() Config {
	return Config{
		Size:          int(16 * mem.KB),
		Associativity: 4,
		BlockSize:     32,
	}
}

// DefaultL1DConfig returns River's default L1 data cache: 16KB, 4-way,
// 32B lines.
func DefaultL1DConfig() Config {
	return Config{
		Size:          int(16 * mem.KB),
		Associativity: 4,
		BlockSize:     32,
	}
}

// DefaultL2Config returns River's default shared L2: 64KB, 8-way, 32B
// lines.
func DefaultL2Config() Config {
	return Config{
		Size:          int(64 * mem.KB),
		Associativity: 8,
		BlockSize:     32,
	}
}

// NumSets returns the number of sets.
func (c Config) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}

// Validate checks that the geometry is usable. Lines move on a 64-bit bus
// with a per-byte strobe held in a uint64, so lines are 8 to 64 bytes.
func (c Config) Validate() error {
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity must be > 0")
	}
	if c.BlockSize < 8 || c.BlockSize > 64 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block size %d must be a power of two in [8, 64]", c.BlockSize)
	}
	sets := c.NumSets()
	if sets <= 0 || sets&(sets-1) != 0 || sets*c.Associativity*c.BlockSize != c.Size {
		return fmt.Errorf("size %d does not give a power-of-two set count", c.Size)
	}
	return nil
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	Uncached   uint64
	Upgrades   uint64
	// LostUpgrades counts upgrades that lost the line to another hart and
	// were redone as unique reads.
	LostUpgrades uint64
	Snoops       uint64
	Flushes      uint64
}

// HitRate returns hits over cached accesses.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// AddrRange is the half-open physical address range [Start, End).
type AddrRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether addr falls in the range.
func (r AddrRange) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Cacheability decides which physical addresses the L1 caches allocate.
// An address is cached when it is inside a Cached range and outside every
// Uncached range. With no Cached ranges, every address is cacheable.
type Cacheability struct {
	Cached   []AddrRange `json:"cached"`
	Uncached []AddrRange `json:"uncached"`
}

// IsCached reports whether addr may be held in a cache line.
func (c Cacheability) IsCached(addr uint64) bool {
	for _, r := range c.Uncached {
		if r.Contains(addr) {
			return false
		}
	}
	if len(c.Cached) == 0 {
		return true
	}
	for _, r := range c.Cached {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}
