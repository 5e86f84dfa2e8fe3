package bus

// AsyncFIFO carries values between two clock domains. Each side keeps
// binary and Gray-coded pointers one bit wider than the address, and sees
// the other side's Gray pointer only through a two-flop synchronizer. Full
// is computed in the write domain and Empty in the read domain, so both may
// be pessimistic but never wrong.
//
// The write side is clocked with StepWrite/CommitWrite and the read side
// with StepRead/CommitRead. When both domains tick at the same instant,
// both Steps must run before either Commit.
type AsyncFIFO[T any] struct {
	mem   []T
	abits uint

	w, wn fifoWriteSide[T]
	r, rn fifoReadSide
}

type fifoWriteSide[T any] struct {
	bin, gray uint
	rq1, rq2  uint // read pointer synchronizer
	full      bool
	doWrite   bool
	wdata     T
}

type fifoReadSide struct {
	bin, gray uint
	wq1, wq2  uint // write pointer synchronizer
	empty     bool
}

// NewAsyncFIFO creates a FIFO holding 2^abits entries.
func NewAsyncFIFO[T any](abits uint) *AsyncFIFO[T] {
	f := &AsyncFIFO[T]{
		mem:   make([]T, 1<<abits),
		abits: abits,
	}
	f.r.empty = true
	f.rn = f.r
	return f
}

func toGray(v uint) uint {
	return v ^ (v >> 1)
}

func (f *AsyncFIFO[T]) ptrMask() uint {
	return 1<<(f.abits+1) - 1
}

// Full reports, in the write domain, whether a write would be dropped.
func (f *AsyncFIFO[T]) Full() bool {
	return f.w.full
}

// Empty reports, in the read domain, whether no entry is visible.
func (f *AsyncFIFO[T]) Empty() bool {
	return f.r.empty
}

// Front returns the oldest entry visible to the read domain.
func (f *AsyncFIFO[T]) Front() (T, bool) {
	if f.r.empty {
		var zero T
		return zero, false
	}
	return f.mem[f.r.bin&(1<<f.abits-1)], true
}

// StepWrite advances the write domain by one clock. A write is accepted
// only when the FIFO is not full.
func (f *AsyncFIFO[T]) StepWrite(write bool, data T) {
	n := f.w
	n.doWrite = write && !f.w.full
	n.wdata = data
	if n.doWrite {
		n.bin = (f.w.bin + 1) & f.ptrMask()
	}
	n.gray = toGray(n.bin)

	n.rq1 = f.r.gray
	n.rq2 = f.w.rq1

	// Full when the next write pointer equals the synchronized read
	// pointer with its two top bits inverted.
	top := uint(3) << (f.abits - 1)
	n.full = n.gray == f.w.rq2^top
	f.wn = n
}

// CommitWrite makes the write domain's next state current.
func (f *AsyncFIFO[T]) CommitWrite() {
	if f.wn.doWrite {
		f.mem[f.w.bin&(1<<f.abits-1)] = f.wn.wdata
	}
	f.wn.doWrite = false
	f.w = f.wn
}

// StepRead advances the read domain by one clock, popping the front entry
// when read is set and the FIFO is not empty.
func (f *AsyncFIFO[T]) StepRead(read bool) {
	n := f.r
	if read && !f.r.empty {
		n.bin = (f.r.bin + 1) & f.ptrMask()
	}
	n.gray = toGray(n.bin)

	n.wq1 = f.w.gray
	n.wq2 = f.r.wq1

	n.empty = n.gray == f.r.wq2
	f.rn = n
}

// CommitRead makes the read domain's next state current.
func (f *AsyncFIFO[T]) CommitRead() {
	f.r = f.rn
}
