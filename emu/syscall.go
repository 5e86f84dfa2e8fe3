package emu

import (
	"io"
	"os"
)

// RV64 Linux syscall numbers.
const (
	SyscallOpenAt uint64 = 56 // openat(dirfd, path, flags, mode)
	SyscallClose  uint64 = 57 // close(fd)
	SyscallLseek  uint64 = 62 // lseek(fd, offset, whence)
	SyscallRead   uint64 = 63 // read(fd, buf, count)
	SyscallWrite  uint64 = 64 // write(fd, buf, count)
	SyscallExit   uint64 = 93 // exit(status)
)

// Linux error codes.
const (
	ENOENT = 2  // No such file or directory
	EIO    = 5  // I/O error
	EBADF  = 9  // Bad file descriptor
	EINVAL = 22 // Invalid argument
	ENOSYS = 38 // Function not implemented
)

const maxPathLen = 4096

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler services an ECALL.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state.
	// RV64 Linux convention: number in a7 (x17), arguments in a0-a5
	// (x10-x15), return value in a0.
	Handle() SyscallResult
}

// Argument registers.
const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA3 = 13
	regA7 = 17
)

// DefaultSyscallHandler proxies a small set of Linux syscalls to the host.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	fds     *FDTable
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		fds:     NewFDTable(),
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the stdin reader for the syscall handler.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// FDTable returns the guest file-descriptor table.
func (h *DefaultSyscallHandler) FDTable() *FDTable {
	return h.fds
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.regFile.ReadReg(regA7) {
	case SyscallRead:
		h.handleRead()
	case SyscallWrite:
		h.handleWrite()
	case SyscallOpenAt:
		h.handleOpenAt()
	case SyscallClose:
		h.handleClose()
	case SyscallLseek:
		h.handleLseek()
	case SyscallExit:
		h.fds.CloseAll()
		return SyscallResult{
			Exited:   true,
			ExitCode: int64(h.regFile.ReadReg(regA0)),
		}
	default:
		h.setError(ENOSYS)
	}
	return SyscallResult{}
}

func (h *DefaultSyscallHandler) handleRead() {
	fd := h.regFile.ReadReg(regA0)
	bufPtr := h.regFile.ReadReg(regA1)
	count := h.regFile.ReadReg(regA2)

	buf := make([]byte, count)
	var n int
	var err error
	switch {
	case fd == 0 && h.stdin == nil:
		h.regFile.WriteReg(regA0, 0)
		return
	case fd == 0:
		n, err = h.stdin.Read(buf)
		if err == io.EOF {
			err = nil
		}
	case h.fds.IsOpen(fd):
		n, err = h.fds.Read(fd, buf)
	default:
		h.setError(EBADF)
		return
	}
	if err != nil && n == 0 {
		h.setError(EIO)
		return
	}

	if err := h.memory.WriteBytes(bufPtr, buf[:n]); err != nil {
		h.setError(EINVAL)
		return
	}
	h.regFile.WriteReg(regA0, uint64(n))
}

func (h *DefaultSyscallHandler) handleWrite() {
	fd := h.regFile.ReadReg(regA0)
	bufPtr := h.regFile.ReadReg(regA1)
	count := h.regFile.ReadReg(regA2)

	buf, err := h.memory.ReadBytes(bufPtr, count)
	if err != nil {
		h.setError(EINVAL)
		return
	}

	var n int
	switch {
	case fd == 1:
		n, err = h.stdout.Write(buf)
	case fd == 2:
		n, err = h.stderr.Write(buf)
	case h.fds.IsOpen(fd):
		n, err = h.fds.Write(fd, buf)
	default:
		h.setError(EBADF)
		return
	}
	if err != nil {
		h.setError(EIO)
		return
	}
	h.regFile.WriteReg(regA0, uint64(n))
}

func (h *DefaultSyscallHandler) handleOpenAt() {
	path, ok := h.readString(h.regFile.ReadReg(regA1))
	if !ok {
		h.setError(EINVAL)
		return
	}
	flags := HostFlags(h.regFile.ReadReg(regA2))
	mode := os.FileMode(h.regFile.ReadReg(regA3) & 0o777)

	fd, err := h.fds.Open(path, flags, mode)
	if err != nil {
		h.setError(ENOENT)
		return
	}
	h.regFile.WriteReg(regA0, fd)
}

func (h *DefaultSyscallHandler) handleClose() {
	fd := h.regFile.ReadReg(regA0)
	if fd <= 2 {
		h.regFile.WriteReg(regA0, 0)
		return
	}
	if err := h.fds.Close(fd); err != nil {
		h.setError(EBADF)
		return
	}
	h.regFile.WriteReg(regA0, 0)
}

func (h *DefaultSyscallHandler) handleLseek() {
	fd := h.regFile.ReadReg(regA0)
	offset := int64(h.regFile.ReadReg(regA1))
	whence := int(h.regFile.ReadReg(regA2))

	if !h.fds.IsOpen(fd) {
		h.setError(EBADF)
		return
	}
	pos, err := h.fds.Seek(fd, offset, whence)
	if err != nil {
		h.setError(EINVAL)
		return
	}
	h.regFile.WriteReg(regA0, uint64(pos))
}

func (h *DefaultSyscallHandler) readString(addr uint64) (string, bool) {
	var buf []byte
	for i := uint64(0); i < maxPathLen; i++ {
		c := h.memory.Read8(addr + i)
		if c == 0 {
			return string(buf), true
		}
		buf = append(buf, c)
	}
	return "", false
}

// setError sets a0 to -errno.
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.WriteReg(regA0, uint64(-int64(errno)))
}
