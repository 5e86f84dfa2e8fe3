package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/riversim/insts"
	"github.com/sarchlab/riversim/timing/dmi"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

const defaultContinueCycles = 10_000_000

// Command is a parsed console line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	if input == "" {
		return Command{}
	}
	parts := strings.Fields(input)
	return Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// ParseAddress parses a number in one of the forms $hex, 0xhex, #decimal
// or bare hex.
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if strings.HasPrefix(s, "#") {
		v, err := strconv.ParseUint(s[1:], 10, 64)
		return v, err == nil
	}
	if strings.HasPrefix(s, "$") {
		v, err := strconv.ParseUint(s[1:], 16, 64)
		return v, err == nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}

	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

func parseNumber(s string) (uint64, error) {
	v, ok := ParseAddress(s)
	if !ok {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// Console executes debugger commands against a session.
type Console struct {
	s      *Session
	out    io.Writer
	script *Script
}

// NewConsole creates a console writing to out.
func NewConsole(s *Session, out io.Writer) *Console {
	return &Console{s: s, out: out}
}

type handler func(c *Console, args []string) error

var commands map[string]handler

var aliases = map[string]string{
	"c": "continue", "cont": "continue",
	"s": "step", "si": "step",
	"x": "read", "b": "br", "break": "br",
	"d": "delete", "q": "quit", "exit": "quit",
	"?": "help",
}

func init() {
	commands = map[string]handler{
		"help":     (*Console).help,
		"halt":     (*Console).halt,
		"resume":   (*Console).resume,
		"continue": (*Console).cont,
		"step":     (*Console).step,
		"run":      (*Console).run,
		"reg":      (*Console).reg,
		"regs":     (*Console).regs,
		"csr":      (*Console).reg,
		"read":     (*Console).read,
		"write":    (*Console).write,
		"br":       (*Console).br,
		"delete":   (*Console).del,
		"breaks":   (*Console).breaks,
		"status":   (*Console).status,
		"idcode":   (*Console).idcode,
		"hart":     (*Console).hart,
		"lua":      (*Console).lua,
		"source":   (*Console).source,
		"quit":     func(*Console, []string) error { return ErrQuit },
	}
}

// Execute runs one console line.
func (c *Console) Execute(line string) error {
	cmd := ParseCommand(line)
	if cmd.Name == "" || strings.HasPrefix(cmd.Name, "#") {
		return nil
	}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	h, ok := commands[cmd.Name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", cmd.Name)
	}
	return h(c, cmd.Args)
}

func (c *Console) help(_ []string) error {
	fmt.Fprint(c.out, `Commands:
  halt                    halt the selected hart
  resume                  resume the hart and return
  continue [cycles]       resume and run until it halts or exits
  step [n]                execute n instructions (default 1)
  run <cycles>            advance the clock
  reg [name [value]]      read or write a register (pc, x0-x31, a0, f0, CSR)
  regs                    dump the integer registers
  csr <name|num> [value]  read or write a CSR
  read <addr> [n] [size]  read n values of size bytes (default 1, 8)
  write <addr> <v> [size] write a value of size bytes (default 8)
  br <addr>               set a breakpoint
  delete <addr>           clear a breakpoint
  breaks                  list breakpoints
  status                  show dmstatus
  idcode                  show the JTAG IDCODE
  hart <n>                select a hart
  lua <code>              run a Lua chunk
  source <file>           run a Lua script
  quit                    leave the debugger
`)
	return nil
}

func (c *Console) halt(_ []string) error {
	if err := c.s.Halt(); err != nil {
		return err
	}
	return c.where()
}

func (c *Console) where() error {
	pc, err := c.s.PC()
	if err != nil {
		return err
	}
	word, err := c.s.ReadMemory(pc, 4)
	if err != nil {
		fmt.Fprintf(c.out, "hart %d halted at 0x%016x\n", c.s.Hart(), pc)
		return nil
	}
	d := insts.NewDecoder().Decode(uint32(word), pc)
	fmt.Fprintf(c.out, "hart %d halted at 0x%016x: %s\n", c.s.Hart(), pc, insts.Disassemble(d))
	return nil
}

func (c *Console) resume(_ []string) error {
	return c.s.Resume()
}

func (c *Console) cont(args []string) error {
	cycles := uint64(defaultContinueCycles)
	if len(args) > 0 {
		v, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		cycles = v
	}
	reason, err := c.s.Continue(cycles)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, reason)
	return nil
}

func (c *Console) step(args []string) error {
	n := uint64(1)
	if len(args) > 0 {
		v, err := parseNumber(args[0])
		if err != nil {
			return err
		}
		n = v
	}
	for i := uint64(0); i < n; i++ {
		if err := c.s.Step(); err != nil {
			return err
		}
	}
	return c.where()
}

func (c *Console) run(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: run <cycles>")
	}
	n, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	c.s.Run(n)
	fmt.Fprintf(c.out, "cycle %d\n", c.s.Core().Cycles())
	return nil
}

func (c *Console) reg(args []string) error {
	switch len(args) {
	case 0:
		return c.regs(nil)
	case 1:
		v, err := c.s.ReadRegister(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s = 0x%016x\n", args[0], v)
		return nil
	case 2:
		v, err := parseNumber(args[1])
		if err != nil {
			return err
		}
		return c.s.WriteRegister(args[0], v)
	}
	return errors.New("usage: reg [name [value]]")
}

func (c *Console) regs(_ []string) error {
	pc, err := c.s.PC()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pc   = 0x%016x\n", pc)
	for i := uint8(1); i < 32; i++ {
		v, err := c.s.ReadRegister(insts.RegName(i))
		if err != nil {
			return err
		}
		sep := "  "
		if i%4 == 3 || i == 31 {
			sep = "\n"
		}
		fmt.Fprintf(c.out, "%-4s = 0x%016x%s", insts.RegName(i), v, sep)
	}
	return nil
}

func sizeArg(args []string, i int, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", args[i])
	}
	return v, nil
}

func (c *Console) read(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: read <addr> [n] [size]")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	n := uint64(1)
	if len(args) > 1 {
		if n, err = parseNumber(args[1]); err != nil {
			return err
		}
	}
	size, err := sizeArg(args, 2, 8)
	if err != nil {
		return err
	}

	for i := uint64(0); i < n; i++ {
		a := addr + i*uint64(size)
		v, err := c.s.ReadMemory(a, size)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "0x%016x: 0x%0*x\n", a, 2*size, v)
	}
	return nil
}

func (c *Console) write(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <addr> <value> [size]")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	v, err := parseNumber(args[1])
	if err != nil {
		return err
	}
	size, err := sizeArg(args, 2, 8)
	if err != nil {
		return err
	}
	return c.s.WriteMemory(addr, v, size)
}

func (c *Console) br(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: br <addr>")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	if err := c.s.SetBreakpoint(addr); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "breakpoint at 0x%x\n", addr)
	return nil
}

func (c *Console) del(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <addr>")
	}
	addr, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	return c.s.ClearBreakpoint(addr)
}

func (c *Console) breaks(_ []string) error {
	for i, a := range c.s.Breakpoints() {
		fmt.Fprintf(c.out, "%d: 0x%016x\n", i, a)
	}
	return nil
}

func (c *Console) status(_ []string) error {
	st, err := c.s.Driver().Status()
	if err != nil {
		return err
	}
	state := "running"
	if st&dmi.DMStatusAllHalted != 0 {
		state = "halted"
	}
	fmt.Fprintf(c.out, "dmstatus = 0x%08x (hart %d %s)\n", st, c.s.Hart(), state)
	fmt.Fprintf(c.out, "cycles   = %d\n", c.s.Core().Cycles())
	if c.s.Core().Exited() {
		fmt.Fprintf(c.out, "exited with code %d\n", c.s.Core().ExitCode())
	}
	return nil
}

func (c *Console) idcode(_ []string) error {
	fmt.Fprintf(c.out, "idcode = 0x%08x\n", c.s.Driver().IDCode())
	return nil
}

func (c *Console) hart(args []string) error {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "hart %d of %d\n", c.s.Hart(), c.s.Core().NumHarts())
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid hart %q", args[0])
	}
	return c.s.SelectHart(n)
}

func (c *Console) lua(args []string) error {
	return c.luaScript().DoString(strings.Join(args, " "))
}

func (c *Console) source(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: source <file>")
	}
	return c.luaScript().DoFile(args[0])
}

func (c *Console) luaScript() *Script {
	if c.script == nil {
		c.script = NewScript(c)
	}
	return c.script
}

// Close releases the Lua state, if any.
func (c *Console) Close() {
	if c.script != nil {
		c.script.Close()
		c.script = nil
	}
}
