package emu

import (
	"io"
	"os"
	"sync"
)

// Guest open(2) flags as passed in a1 of openat on RV64 Linux.
const (
	guestOpenWrOnly = 0x1
	guestOpenRdWr   = 0x2
	guestOpenCreat  = 0x40
	guestOpenTrunc  = 0x200
	guestOpenAppend = 0x400
)

// guestFile is one entry of the guest file-descriptor table.
type guestFile struct {
	host *os.File
	path string
}

// FDTable maps guest file descriptors onto host files. Descriptors 0-2 are
// the standard streams and are served by the syscall handler directly.
type FDTable struct {
	mu     sync.Mutex
	files  map[uint64]*guestFile
	nextFD uint64
}

// NewFDTable creates a table with the standard streams reserved.
func NewFDTable() *FDTable {
	return &FDTable{
		files:  make(map[uint64]*guestFile),
		nextFD: 3,
	}
}

// HostFlags translates guest open flags into os.OpenFile flags.
func HostFlags(guest uint64) int {
	var flags int
	switch guest & 3 {
	case guestOpenWrOnly:
		flags = os.O_WRONLY
	case guestOpenRdWr:
		flags = os.O_RDWR
	default:
		flags = os.O_RDONLY
	}
	if guest&guestOpenCreat != 0 {
		flags |= os.O_CREATE
	}
	if guest&guestOpenTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if guest&guestOpenAppend != 0 {
		flags |= os.O_APPEND
	}
	return flags
}

// Open opens path on the host and returns the new guest descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint64, error) {
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.nextFD
	t.nextFD++
	t.files[fd] = &guestFile{host: f, path: path}
	return fd, nil
}

// Close releases a guest descriptor.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	delete(t.files, fd)
	t.mu.Unlock()

	if !ok {
		return os.ErrInvalid
	}
	return f.host.Close()
}

// IsOpen reports whether fd names an open host file.
func (t *FDTable) IsOpen(fd uint64) bool {
	_, ok := t.lookup(fd)
	return ok
}

// Path returns the host path behind fd.
func (t *FDTable) Path(fd uint64) string {
	f, ok := t.lookup(fd)
	if !ok {
		return ""
	}
	return f.path
}

// Read reads from the host file behind fd.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	f, ok := t.lookup(fd)
	if !ok {
		return 0, os.ErrInvalid
	}
	n, err := f.host.Read(buf)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes to the host file behind fd.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	f, ok := t.lookup(fd)
	if !ok {
		return 0, os.ErrInvalid
	}
	return f.host.Write(buf)
}

// Seek repositions the host file behind fd.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	f, ok := t.lookup(fd)
	if !ok {
		return 0, os.ErrInvalid
	}
	return f.host.Seek(offset, whence)
}

// CloseAll closes every host file still open.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, f := range t.files {
		_ = f.host.Close()
		delete(t.files, fd)
	}
}

func (t *FDTable) lookup(fd uint64) (*guestFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[fd]
	return f, ok
}
