package loader_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/loader"
)

const (
	emRISCV  = 243
	emX86_64 = 62
)

// addi a0, zero, 42; ret
var code = []byte{0x13, 0x05, 0xa0, 0x02, 0x67, 0x80, 0x00, 0x00}

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	write := func(name string, data []byte) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("with a valid RISC-V ELF binary", func() {
			var elfPath string

			BeforeEach(func() {
				b := &elfBuilder{entry: 0x80000080}
				b.segment(0x80000000, 0x5, code, 0)
				elfPath = write("test.elf", b.bytes())
			})

			It("should load without error", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog).NotTo(BeNil())
			})

			It("should extract the correct entry point", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x80000080)))
			})

			It("should read the segment", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				seg := prog.Segments[0]
				Expect(seg.VirtAddr).To(Equal(uint64(0x80000000)))
				Expect(seg.PhysAddr).To(Equal(uint64(0x80000000)))
				Expect(seg.Data).To(Equal(code))
				Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagRead).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should set up the initial stack pointer", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
			})

			It("should run without tohost when stripped", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.HasToHost).To(BeFalse())
				Expect(prog.Symbols).To(BeEmpty())
			})
		})

		Context("with a symbol table", func() {
			It("should find tohost", func() {
				b := &elfBuilder{entry: 0x10000}
				b.segment(0x10000, 0x5, code, 0)
				b.symbol("tohost", 0x11000)
				b.symbol("fromhost", 0x11040)

				prog, err := loader.Read(bytes.NewReader(b.bytes()))
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.HasToHost).To(BeTrue())
				Expect(prog.ToHost).To(Equal(uint64(0x11000)))
				v, ok := prog.Symbol("fromhost")
				Expect(ok).To(BeTrue())
				Expect(v).To(Equal(uint64(0x11040)))
				_, ok = prog.Symbol("main")
				Expect(ok).To(BeFalse())
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				_, err := loader.Load(write("not-elf.bin", []byte("not an elf file")))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				_, err := loader.Load(write("empty.elf", nil))
				Expect(err).To(HaveOccurred())
			})
		})

		It("should reject an x86-64 ELF", func() {
			b := &elfBuilder{machine: emX86_64}
			_, err := loader.Load(write("x86.elf", b.bytes()))
			Expect(errors.Is(err, loader.ErrNotRISCV)).To(BeTrue())
		})

		It("should reject a 32-bit ELF", func() {
			_, err := loader.Load(write("elf32.elf", minimal32BitELF()))
			Expect(errors.Is(err, loader.ErrNot64Bit)).To(BeTrue())
		})
	})

	Describe("Multi-segment ELFs", func() {
		It("should load multiple PT_LOAD segments", func() {
			data := []byte{0x01, 0x02, 0x03, 0x04}
			b := &elfBuilder{entry: 0x10000}
			b.segment(0x10000, 0x5, code, 0)
			b.segment(0x20000, 0x6, data, 0)

			prog, err := loader.Read(bytes.NewReader(b.bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[0].Data).To(Equal(code))
			Expect(prog.Segments[1].Data).To(Equal(data))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
		})
	})

	Describe("BSS segments", func() {
		It("should keep Memsz larger than Filesz", func() {
			data := []byte{0x01, 0x02, 0x03, 0x04}
			b := &elfBuilder{entry: 0x10000}
			b.segment(0x20000, 0x6, data, 1024)

			prog, err := loader.Read(bytes.NewReader(b.bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(Equal(data))
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(1024)))
		})

		It("should handle a segment with no file data", func() {
			b := &elfBuilder{entry: 0x10000}
			b.segment(0x30000, 0x6, nil, 4096)

			prog, err := loader.Read(bytes.NewReader(b.bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(BeEmpty())
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(4096)))
		})
	})

	Describe("LoadInto", func() {
		It("should copy segments and clear BSS", func() {
			b := &elfBuilder{entry: 0x10000}
			b.segment(0x10000, 0x5, code, 0)
			b.segment(0x20000, 0x6, []byte{0xAA}, 16)
			prog, err := loader.Read(bytes.NewReader(b.bytes()))
			Expect(err).NotTo(HaveOccurred())

			m := emu.NewMemoryWithSize(1 << 20)
			m.Write64(0x20008, ^uint64(0))
			Expect(prog.LoadInto(m)).To(Succeed())
			Expect(m.Read32(0x10000)).To(Equal(uint32(0x02a00513)))
			Expect(m.Read8(0x20000)).To(Equal(uint8(0xAA)))
			Expect(m.Read64(0x20008)).To(BeZero())
		})

		It("should fail when a segment does not fit", func() {
			b := &elfBuilder{entry: 0x10000}
			b.segment(0xFFF0, 0x6, nil, 64)
			prog, err := loader.Read(bytes.NewReader(b.bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.LoadInto(emu.NewMemoryWithSize(0x10000))).NotTo(Succeed())
		})
	})

	It("should return no segments for an ELF without PT_LOAD", func() {
		b := &elfBuilder{entry: 0x400000}
		b.phdrs = append(b.phdrs, phdr{typ: 4, flags: 0x4})

		prog, err := loader.Read(bytes.NewReader(b.bytes()))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Segments).To(BeEmpty())
		Expect(prog.EntryPoint).To(Equal(uint64(0x400000)))
	})
})

type phdr struct {
	typ   uint32
	flags uint32
	addr  uint64
	data  []byte
	memsz uint64
}

type sym struct {
	name  string
	value uint64
}

// elfBuilder assembles a little-endian ELF64 executable: header, program
// headers, segment data and, when symbols are present, .symtab, .strtab and
// .shstrtab sections.
type elfBuilder struct {
	machine uint16
	entry   uint64
	phdrs   []phdr
	syms    []sym
}

func (b *elfBuilder) segment(addr uint64, flags uint32, data []byte, memsz uint64) {
	if memsz == 0 {
		memsz = uint64(len(data))
	}
	b.phdrs = append(b.phdrs, phdr{typ: 1, flags: flags, addr: addr, data: data, memsz: memsz})
}

func (b *elfBuilder) symbol(name string, value uint64) {
	b.syms = append(b.syms, sym{name, value})
}

func align8(buf *bytes.Buffer) {
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
}

func (b *elfBuilder) bytes() []byte {
	le := binary.LittleEndian
	machine := b.machine
	if machine == 0 {
		machine = emRISCV
	}

	var body bytes.Buffer
	dataStart := uint64(64 + 56*len(b.phdrs))
	offsets := make([]uint64, len(b.phdrs))
	for i, p := range b.phdrs {
		offsets[i] = dataStart + uint64(body.Len())
		body.Write(p.data)
	}

	var shoff uint64
	var shdrs []byte
	shnum, shstrndx := 0, 0
	if len(b.syms) > 0 {
		strtab := []byte{0}
		symtab := make([]byte, 24)
		for _, s := range b.syms {
			entry := make([]byte, 24)
			le.PutUint32(entry[0:4], uint32(len(strtab)))
			entry[4] = 0x11 // STB_GLOBAL, STT_OBJECT
			le.PutUint16(entry[6:8], 0xFFF1)
			le.PutUint64(entry[8:16], s.value)
			symtab = append(symtab, entry...)
			strtab = append(strtab, s.name...)
			strtab = append(strtab, 0)
		}
		shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")

		strOff := dataStart + uint64(body.Len())
		body.Write(strtab)
		align8(&body)
		symOff := dataStart + uint64(body.Len())
		body.Write(symtab)
		shstrOff := dataStart + uint64(body.Len())
		body.Write(shstrtab)
		align8(&body)
		shoff = dataStart + uint64(body.Len())

		section := func(name, typ uint32, off, size uint64, link, info uint32, entsize uint64) []byte {
			sh := make([]byte, 64)
			le.PutUint32(sh[0:4], name)
			le.PutUint32(sh[4:8], typ)
			le.PutUint64(sh[24:32], off)
			le.PutUint64(sh[32:40], size)
			le.PutUint32(sh[40:44], link)
			le.PutUint32(sh[44:48], info)
			le.PutUint64(sh[48:56], 1)
			le.PutUint64(sh[56:64], entsize)
			return sh
		}
		shdrs = make([]byte, 64)
		shdrs = append(shdrs, section(1, 2, symOff, uint64(len(symtab)), 2, 1, 24)...)
		shdrs = append(shdrs, section(9, 3, strOff, uint64(len(strtab)), 0, 0, 0)...)
		shdrs = append(shdrs, section(17, 3, shstrOff, uint64(len(shstrtab)), 0, 0, 0)...)
		shnum, shstrndx = 4, 3
	}

	hdr := make([]byte, 64)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2                  // 64-bit
	hdr[5] = 1                  // little endian
	hdr[6] = 1                  // version
	le.PutUint16(hdr[16:18], 2) // executable
	le.PutUint16(hdr[18:20], machine)
	le.PutUint32(hdr[20:24], 1)
	le.PutUint64(hdr[24:32], b.entry)
	le.PutUint64(hdr[32:40], 64)
	le.PutUint64(hdr[40:48], shoff)
	le.PutUint16(hdr[52:54], 64)
	le.PutUint16(hdr[54:56], 56)
	le.PutUint16(hdr[56:58], uint16(len(b.phdrs)))
	le.PutUint16(hdr[58:60], 64)
	le.PutUint16(hdr[60:62], uint16(shnum))
	le.PutUint16(hdr[62:64], uint16(shstrndx))

	var out bytes.Buffer
	out.Write(hdr)
	for i, p := range b.phdrs {
		ph := make([]byte, 56)
		le.PutUint32(ph[0:4], p.typ)
		le.PutUint32(ph[4:8], p.flags)
		le.PutUint64(ph[8:16], offsets[i])
		le.PutUint64(ph[16:24], p.addr)
		le.PutUint64(ph[24:32], p.addr)
		le.PutUint64(ph[32:40], uint64(len(p.data)))
		le.PutUint64(ph[40:48], p.memsz)
		le.PutUint64(ph[48:56], 0x1000)
		out.Write(ph)
	}
	out.Write(body.Bytes())
	out.Write(shdrs)
	return out.Bytes()
}

func minimal32BitELF() []byte {
	hdr := make([]byte, 52)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 1 // ELFCLASS32
	hdr[5] = 1
	hdr[6] = 1
	binary.LittleEndian.PutUint16(hdr[16:18], 2)
	binary.LittleEndian.PutUint16(hdr[18:20], emRISCV)
	binary.LittleEndian.PutUint32(hdr[20:24], 1)
	return hdr
}
