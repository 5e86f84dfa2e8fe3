// Command riverdbg is a JTAG debugger for the River model. It loads a
// program, attaches to the Debug Module through the TAP and accepts
// commands from an interactive console, a Lua script or the command line.
//
// Usage:
//
//	go run ./cmd/riverdbg [flags] <program>
//
// Flags:
//
//	-bin        Treat the program as a flat binary
//	-load-addr  Load and entry address of a flat binary (default 0x10000)
//	-config     Path to a core configuration JSON file
//	-harts      Number of harts
//	-script     Run a Lua script and exit
//	-e          Run semicolon-separated commands and exit
//
// Example:
//
//	go run ./cmd/riverdbg -e "halt; regs; br 0x10010; continue; regs" prog.elf
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sarchlab/riversim/emu"
	"github.com/sarchlab/riversim/loader"
	"github.com/sarchlab/riversim/timing/core"
)

func main() {
	raw := flag.Bool("bin", false, "Treat the program as a flat binary instead of an ELF")
	loadAddr := flag.Uint64("load-addr", 0x10000, "Load and entry address of a flat binary")
	configPath := flag.String("config", "", "Path to core configuration JSON file")
	harts := flag.Int("harts", 0, "Number of harts (overrides the config file)")
	scriptPath := flag.String("script", "", "Run a Lua script and exit")
	commands := flag.String("e", "", "Run semicolon-separated commands and exit")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: riverdbg [options] <program>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	config := core.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = core.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading core config: %v\n", err)
			os.Exit(1)
		}
	}
	if *harts > 0 {
		config.Harts = *harts
	}

	prog, err := loadProgram(flag.Arg(0), *raw, *loadAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	c, err := newCore(config, prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	session, err := NewSession(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *scriptPath != "":
		console := NewConsole(session, os.Stdout)
		defer console.Close()
		if err := console.luaScript().DoFile(*scriptPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *commands != "":
		console := NewConsole(session, os.Stdout)
		defer console.Close()
		if err := runLines(console, strings.Split(*commands, ";")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := interactive(session); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadProgram(path string, raw bool, loadAddr uint64) (*loader.Program, error) {
	if !raw {
		return loader.Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &loader.Program{
		EntryPoint: loadAddr,
		InitialSP:  loader.DefaultStackTop,
		Segments: []loader.Segment{{
			VirtAddr: loadAddr,
			PhysAddr: loadAddr,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
		}},
	}, nil
}

// newCore builds a core running prog from its entry point.
func newCore(config *core.Config, prog *loader.Program) (*core.Core, error) {
	config = config.Clone()
	config.ResetVector = prog.EntryPoint

	memory := emu.NewMemoryWithSize(config.MemorySize)
	if err := prog.LoadInto(memory); err != nil {
		return nil, err
	}

	var opts []core.Option
	if prog.HasToHost {
		opts = append(opts, core.WithToHost(prog.ToHost))
	}
	c, err := core.New(config, memory, opts...)
	if err != nil {
		return nil, err
	}
	if prog.InitialSP < config.MemorySize {
		c.Hart(0).Poke(2, prog.InitialSP)
	}
	return c, nil
}

func runLines(console *Console, lines []string) error {
	for _, line := range lines {
		if err := console.Execute(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
	return nil
}

// interactive reads commands from stdin, with line editing and history
// when stdin is a terminal.
func interactive(session *Session) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		console := NewConsole(session, os.Stdout)
		defer console.Close()
		return repl(console, bufio.NewScanner(os.Stdin), os.Stdout)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "riverdbg> ")
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}

	console := NewConsole(session, t)
	defer console.Close()
	fmt.Fprintf(t, "riverdbg: idcode 0x%08x, %d hart(s). Type help for commands.\n",
		session.Driver().IDCode(), session.Core().NumHarts())

	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := console.Execute(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

// repl runs commands from a non-terminal reader, reporting errors and
// continuing.
func repl(console *Console, in *bufio.Scanner, out io.Writer) error {
	for in.Scan() {
		if err := console.Execute(in.Text()); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return in.Err()
}
