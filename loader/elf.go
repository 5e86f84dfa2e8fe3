// Package loader reads RISC-V RV64 ELF executables.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/riversim/emu"
)

// ErrNotRISCV is returned for ELF files built for another machine.
var ErrNotRISCV = errors.New("not a RISC-V ELF file")

// ErrNot64Bit is returned for ELF32 files.
var ErrNot64Bit = errors.New("not a 64-bit ELF file")

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer: the top of the default
// 64MB memory, less one page.
const DefaultStackTop = 0x3FFF000

// DefaultStackSize is the default stack size (1MB).
const DefaultStackSize = 1024 * 1024

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address of the segment.
	VirtAddr uint64
	// PhysAddr is where the segment is placed in physical memory.
	PhysAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64

	// ToHost is the address of the tohost symbol, valid when HasToHost is
	// set. A non-zero store there ends the run.
	ToHost    uint64
	HasToHost bool

	// Symbols maps symbol names to their values.
	Symbols map[string]uint64
}

// Load parses a RISC-V ELF64 executable.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parse(f)
}

// Read parses a RISC-V ELF64 executable from r.
func Read(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	return parse(f)
}

func parse(f *elf.File) (*Program, error) {
	if f.Class != elf.ELFCLASS64 {
		return nil, ErrNot64Bit
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w (machine type: %v)", ErrNotRISCV, f.Machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  DefaultStackTop,
		Symbols:    make(map[string]uint64),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	// Stripped binaries have no symbol table and run without tohost.
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		prog.Symbols[s.Name] = s.Value
	}
	if addr, ok := prog.Symbols["tohost"]; ok {
		prog.ToHost = addr
		prog.HasToHost = true
	}

	return prog, nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		VirtAddr: phdr.Vaddr,
		PhysAddr: phdr.Paddr,
		Data:     data,
		MemSize:  phdr.Memsz,
		Flags:    flags,
	}, nil
}

// LoadInto copies every segment into memory at its physical address and
// zero-fills the rest of its memory image.
func (p *Program) LoadInto(m *emu.Memory) error {
	for _, seg := range p.Segments {
		if !m.Contains(seg.PhysAddr, seg.MemSize) {
			return fmt.Errorf("segment at 0x%x (%d bytes) does not fit in memory",
				seg.PhysAddr, seg.MemSize)
		}
		if len(seg.Data) > 0 {
			if err := m.WriteBytes(seg.PhysAddr, seg.Data); err != nil {
				return fmt.Errorf("failed to load segment at 0x%x: %w", seg.PhysAddr, err)
			}
		}
		if seg.MemSize > uint64(len(seg.Data)) {
			zeros := make([]byte, seg.MemSize-uint64(len(seg.Data)))
			if err := m.WriteBytes(seg.PhysAddr+uint64(len(seg.Data)), zeros); err != nil {
				return fmt.Errorf("failed to clear segment at 0x%x: %w", seg.PhysAddr, err)
			}
		}
	}
	return nil
}

// Symbol returns the value of the named symbol.
func (p *Program) Symbol(name string) (uint64, bool) {
	v, ok := p.Symbols[name]
	return v, ok
}
