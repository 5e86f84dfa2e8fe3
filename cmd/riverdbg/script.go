package main

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Script runs Lua against a console. Functions live in the global table
// "riv"; values above 2^53 lose precision as Lua numbers, so readers also
// return the value as a hex string.
type Script struct {
	L *lua.LState
	c *Console
}

// NewScript creates a Lua state bound to c.
func NewScript(c *Console) *Script {
	s := &Script{L: lua.NewState(), c: c}
	s.register()
	return s
}

// Close releases the Lua state.
func (s *Script) Close() { s.L.Close() }

// DoString runs a Lua chunk.
func (s *Script) DoString(code string) error {
	if err := s.L.DoString(code); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

// DoFile runs a Lua file.
func (s *Script) DoFile(path string) error {
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

func (s *Script) register() {
	L := s.L
	L.SetGlobal("print", L.NewFunction(s.print))
	L.SetGlobal("riv", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"halt":   s.halt,
		"resume": s.resume,
		"step":   s.step,
		"cont":   s.cont,
		"run":    s.run,
		"reg":    s.reg,
		"csr":    s.reg,
		"read":   s.read,
		"write":  s.write,
		"br":     s.br,
		"delete": s.del,
		"halted": s.halted,
		"pc":     s.pc,
		"status": s.status,
		"idcode": s.idcode,
		"hart":   s.hart,
		"cycles": s.cycles,
		"exited": s.exited,
		"cmd":    s.cmd,
		"hex":    s.hex,
	}))
}

func (s *Script) check(err error) {
	if err != nil {
		s.L.RaiseError("%v", err)
	}
}

// u64 accepts a Lua number or a numeric string at argument n.
func (s *Script) u64(n int) uint64 {
	switch v := s.L.Get(n).(type) {
	case lua.LNumber:
		return uint64(int64(v))
	case lua.LString:
		x, ok := ParseAddress(string(v))
		if !ok {
			s.L.ArgError(n, "invalid number "+string(v))
		}
		return x
	}
	s.L.ArgError(n, "number expected")
	return 0
}

func (s *Script) pushU64(v uint64) int {
	s.L.Push(lua.LNumber(v))
	s.L.Push(lua.LString(fmt.Sprintf("0x%x", v)))
	return 2
}

func (s *Script) print(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(s.c.out, strings.Join(parts, "\t"))
	return 0
}

func (s *Script) halt(L *lua.LState) int {
	s.check(s.c.s.Halt())
	return 0
}

func (s *Script) resume(L *lua.LState) int {
	s.check(s.c.s.Resume())
	return 0
}

func (s *Script) step(L *lua.LState) int {
	n := L.OptInt(1, 1)
	for i := 0; i < n; i++ {
		s.check(s.c.s.Step())
	}
	return 0
}

func (s *Script) cont(L *lua.LState) int {
	cycles := uint64(defaultContinueCycles)
	if L.GetTop() >= 1 {
		cycles = s.u64(1)
	}
	reason, err := s.c.s.Continue(cycles)
	s.check(err)
	L.Push(lua.LString(reason))
	return 1
}

func (s *Script) run(L *lua.LState) int {
	s.c.s.Run(s.u64(1))
	return 0
}

func (s *Script) reg(L *lua.LState) int {
	name := L.CheckString(1)
	if L.GetTop() >= 2 {
		s.check(s.c.s.WriteRegister(name, s.u64(2)))
		return 0
	}
	v, err := s.c.s.ReadRegister(name)
	s.check(err)
	return s.pushU64(v)
}

func (s *Script) read(L *lua.LState) int {
	v, err := s.c.s.ReadMemory(s.u64(1), L.OptInt(2, 8))
	s.check(err)
	return s.pushU64(v)
}

func (s *Script) write(L *lua.LState) int {
	s.check(s.c.s.WriteMemory(s.u64(1), s.u64(2), L.OptInt(3, 8)))
	return 0
}

func (s *Script) br(L *lua.LState) int {
	s.check(s.c.s.SetBreakpoint(s.u64(1)))
	return 0
}

func (s *Script) del(L *lua.LState) int {
	s.check(s.c.s.ClearBreakpoint(s.u64(1)))
	return 0
}

func (s *Script) halted(L *lua.LState) int {
	L.Push(lua.LBool(s.c.s.Halted()))
	return 1
}

func (s *Script) pc(L *lua.LState) int {
	v, err := s.c.s.PC()
	s.check(err)
	return s.pushU64(v)
}

func (s *Script) status(L *lua.LState) int {
	v, err := s.c.s.Driver().Status()
	s.check(err)
	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) idcode(L *lua.LState) int {
	L.Push(lua.LNumber(s.c.s.Driver().IDCode()))
	return 1
}

func (s *Script) hart(L *lua.LState) int {
	if L.GetTop() >= 1 {
		s.check(s.c.s.SelectHart(L.CheckInt(1)))
		return 0
	}
	L.Push(lua.LNumber(s.c.s.Hart()))
	return 1
}

func (s *Script) cycles(L *lua.LState) int {
	L.Push(lua.LNumber(s.c.s.Core().Cycles()))
	return 1
}

func (s *Script) exited(L *lua.LState) int {
	c := s.c.s.Core()
	L.Push(lua.LBool(c.Exited()))
	L.Push(lua.LNumber(c.ExitCode()))
	return 2
}

func (s *Script) cmd(L *lua.LState) int {
	s.check(s.c.Execute(L.CheckString(1)))
	return 0
}

func (s *Script) hex(L *lua.LState) int {
	L.Push(lua.LString(fmt.Sprintf("0x%x", s.u64(1))))
	return 1
}
