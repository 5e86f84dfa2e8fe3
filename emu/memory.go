// Package emu provides functional RISC-V RV64 emulation.
package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// DefaultMemorySize is the address-space size of a Memory created without an
// explicit capacity. Storage is allocated lazily, so only touched pages cost.
const DefaultMemorySize = 4 * mem.GB

// Memory is a little-endian byte-addressable memory backed by akita storage.
type Memory struct {
	storage *mem.Storage
}

// NewMemory creates a memory covering [0, DefaultMemorySize).
func NewMemory() *Memory {
	return NewMemoryWithSize(DefaultMemorySize)
}

// NewMemoryWithSize creates a memory covering [0, size).
func NewMemoryWithSize(size uint64) *Memory {
	return &Memory{storage: mem.NewStorage(size)}
}

// Size returns the capacity of the memory in bytes.
func (m *Memory) Size() uint64 {
	return m.storage.Capacity
}

// Contains reports whether [addr, addr+n) lies inside the memory.
func (m *Memory) Contains(addr, n uint64) bool {
	return addr+n >= addr && addr+n <= m.storage.Capacity
}

// ReadBytes reads n bytes starting at addr.
func (m *Memory) ReadBytes(addr, n uint64) ([]byte, error) {
	if !m.Contains(addr, n) {
		return nil, fmt.Errorf("failed to read %d bytes at 0x%x: out of range", n, addr)
	}
	data, err := m.storage.Read(addr, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at 0x%x: %w", n, addr, err)
	}
	return data, nil
}

// WriteBytes writes data starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if !m.Contains(addr, uint64(len(data))) {
		return fmt.Errorf("failed to write %d bytes at 0x%x: out of range", len(data), addr)
	}
	if err := m.storage.Write(addr, data); err != nil {
		return fmt.Errorf("failed to write %d bytes at 0x%x: %w", len(data), addr, err)
	}
	return nil
}

// Load reads an n-byte (1, 2, 4 or 8) little-endian value.
func (m *Memory) Load(addr uint64, n int) (uint64, error) {
	data, err := m.ReadBytes(addr, uint64(n))
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Store writes the low n bytes (1, 2, 4 or 8) of value.
func (m *Memory) Store(addr uint64, n int, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return m.WriteBytes(addr, buf[:n])
}

// Read is Load for callers that know addr is mapped. Out-of-range reads
// return 0.
func (m *Memory) Read(addr uint64, n int) uint64 {
	v, _ := m.Load(addr, n)
	return v
}

// Write is Store for callers that know addr is mapped, such as program
// loaders and tests. Out-of-range writes are dropped.
func (m *Memory) Write(addr uint64, n int, value uint64) {
	_ = m.Store(addr, n, value)
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) uint8 { return uint8(m.Read(addr, 1)) }

// Read16 reads a half word.
func (m *Memory) Read16(addr uint64) uint16 { return uint16(m.Read(addr, 2)) }

// Read32 reads a word.
func (m *Memory) Read32(addr uint64) uint32 { return uint32(m.Read(addr, 4)) }

// Read64 reads a double word.
func (m *Memory) Read64(addr uint64) uint64 { return m.Read(addr, 8) }

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, v uint8) { m.Write(addr, 1, uint64(v)) }

// Write16 writes a half word.
func (m *Memory) Write16(addr uint64, v uint16) { m.Write(addr, 2, uint64(v)) }

// Write32 writes a word.
func (m *Memory) Write32(addr uint64, v uint32) { m.Write(addr, 4, uint64(v)) }

// Write64 writes a double word.
func (m *Memory) Write64(addr uint64, v uint64) { m.Write(addr, 8, v) }

// LoadProgram copies a program image to addr.
func (m *Memory) LoadProgram(addr uint64, program []byte) error {
	return m.WriteBytes(addr, program)
}

// LoadWords stores 32-bit instruction words contiguously from addr.
func (m *Memory) LoadWords(addr uint64, words []uint32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return m.WriteBytes(addr, buf)
}
