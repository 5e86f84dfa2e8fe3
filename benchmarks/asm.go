package benchmarks

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/riversim/insts"
)

// Register numbers by ABI name.
const (
	ra = 1
	t0 = 5
	t1 = 6
	t2 = 7
	s0 = 8
	s1 = 9
	a0 = 10
	a1 = 11
	a5 = 15
	t6 = 31
)

type fixup struct {
	at    int
	kind  insts.Kind
	ops   insts.Operands
	label string
}

// Assembler builds a program from encoded instructions. Branches and jumps
// may name labels defined later; they are resolved by Bytes. Encoding
// errors panic, as the programs are fixed.
type Assembler struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

// NewAssembler creates an empty program.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// PC returns the offset of the next instruction.
func (a *Assembler) PC() int { return len(a.buf) }

// I appends a 32-bit instruction.
func (a *Assembler) I(k insts.Kind, ops insts.Operands) *Assembler {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, insts.MustEncode(k, ops))
	return a
}

// C appends a 16-bit compressed instruction.
func (a *Assembler) C(f insts.CForm, ops insts.Operands) *Assembler {
	h, err := insts.EncodeCompressed(f, ops)
	if err != nil {
		panic(err)
	}
	a.buf = binary.LittleEndian.AppendUint16(a.buf, h)
	return a
}

// Label names the next instruction.
func (a *Assembler) Label(name string) *Assembler {
	if _, dup := a.labels[name]; dup {
		panic(fmt.Sprintf("duplicate label %q", name))
	}
	a.labels[name] = len(a.buf)
	return a
}

// Branch appends a conditional branch of kind k to label.
func (a *Assembler) Branch(k insts.Kind, rs1, rs2 uint8, label string) *Assembler {
	return a.ref(k, insts.Operands{Rs1: rs1, Rs2: rs2}, label)
}

// Jal appends a jump to label, linking into rd.
func (a *Assembler) Jal(rd uint8, label string) *Assembler {
	return a.ref(insts.KindJAL, insts.Operands{Rd: rd}, label)
}

func (a *Assembler) ref(k insts.Kind, ops insts.Operands, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), kind: k, ops: ops, label: label})
	a.buf = append(a.buf, 0, 0, 0, 0)
	return a
}

// Li loads a value that fits in 12 signed bits.
func (a *Assembler) Li(rd uint8, v int64) *Assembler {
	return a.I(insts.KindADDI, insts.Operands{Rd: rd, Imm: v})
}

// Exit writes reg to tohost as an exit code and spins.
func (a *Assembler) Exit(reg uint8) *Assembler {
	a.I(insts.KindSLLI, insts.Operands{Rd: t6, Rs1: reg, Imm: 1})
	a.I(insts.KindORI, insts.Operands{Rd: t6, Rs1: t6, Imm: 1})
	a.I(insts.KindLUI, insts.Operands{Rd: t2, Imm: ToHostAddr})
	a.I(insts.KindSD, insts.Operands{Rs1: t2, Rs2: t6})
	return a.I(insts.KindJAL, insts.Operands{})
}

// Bytes resolves labels and returns the program image.
func (a *Assembler) Bytes() []byte {
	out := append([]byte(nil), a.buf...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("undefined label %q", f.label))
		}
		ops := f.ops
		ops.Imm = int64(target - f.at)
		binary.LittleEndian.PutUint32(out[f.at:], insts.MustEncode(f.kind, ops))
	}
	return out
}
