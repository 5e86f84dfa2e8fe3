// Package bus defines the messages exchanged between the core, its caches
// and memory, and models the AXI4 slave adapter, the AXI master that feeds
// it, the memory device behind it and the clock-domain-crossing FIFO.
//
// Every component in the cycle model follows the same discipline. Outputs
// are derived from committed state only. Step computes the next state from
// the committed state and this cycle's inputs without side effects, and
// Commit makes the next state current. A request moves from producer to
// consumer in the cycle where the producer's Valid and the consumer's Ready
// are both high. Responses are one-cycle pulses that the requester, having
// at most one request outstanding, always accepts.
package bus

// MemOp is the type of a core memory request.
type MemOp uint8

// Core memory operations.
const (
	MemOpRead MemOp = iota
	MemOpWrite
	MemOpReserve // load-reserved
	MemOpRelease // store-conditional
)

// IsWrite reports whether the operation writes memory.
func (op MemOp) IsWrite() bool {
	return op == MemOpWrite || op == MemOpRelease
}

func (op MemOp) String() string {
	switch op {
	case MemOpRead:
		return "read"
	case MemOpWrite:
		return "write"
	case MemOpReserve:
		return "reserve"
	case MemOpRelease:
		return "release"
	}
	return "unknown"
}

// CoreRequest is a load, store or fetch issued by the core. WData holds the
// store value right-aligned; Size is the access width in bytes.
type CoreRequest struct {
	Valid bool
	Type  MemOp
	Addr  uint64
	WData uint64
	WStrb uint8
	Size  int
}

// CoreResponse answers a CoreRequest. Data is right-aligned. For faults,
// Addr is the faulting address.
type CoreResponse struct {
	Valid      bool
	Addr       uint64
	Data       uint64
	LoadFault  bool
	StoreFault bool
	PageFault  bool
}

// Faulted reports whether the response carries any fault.
func (r CoreResponse) Faulted() bool {
	return r.LoadFault || r.StoreFault || r.PageFault
}

// Strobe returns the byte-lane strobe of a size-byte access at addr on a
// 64-bit bus.
func Strobe(addr uint64, size int) uint8 {
	return uint8(((1 << size) - 1) << (addr & 7))
}

// LineFlags are the per-line state bits of a cache line.
type LineFlags uint8

// Line flag bits.
const (
	FlagValid LineFlags = 1 << iota
	FlagDirty
	FlagShared
	FlagReserved
)

// Has reports whether all bits of f are set.
func (l LineFlags) Has(f LineFlags) bool {
	return l&f == f
}

// SnoopType is the type of a coherency snoop.
type SnoopType uint8

// Snoop types.
const (
	SnoopReadData SnoopType = iota
	SnoopMakeInvalid
)

// SnoopRequest asks an L1 data cache for the state of one line.
type SnoopRequest struct {
	Valid bool
	Type  SnoopType
	Addr  uint64
}

// SnoopResponse returns the snooped line and the flags it had before the
// snoop was applied.
type SnoopResponse struct {
	Valid bool
	Data  []byte
	Flags LineFlags
}

// LineReqType is the type of a request between cache levels.
type LineReqType uint8

// Line request types.
const (
	ReadNoSnoop LineReqType = iota
	ReadShared
	ReadMakeUnique
	WriteNoSnoop
	WriteLineUnique
	WriteBack
)

// IsWrite reports whether the request carries data to the next level.
func (t LineReqType) IsWrite() bool {
	return t >= WriteNoSnoop
}

// IsUncached reports whether the request bypasses line allocation.
func (t LineReqType) IsUncached() bool {
	return t == ReadNoSnoop || t == WriteNoSnoop
}

func (t LineReqType) String() string {
	return [...]string{
		"ReadNoSnoop", "ReadShared", "ReadMakeUnique",
		"WriteNoSnoop", "WriteLineUnique", "WriteBack",
	}[t]
}

// LineRequest moves data between cache levels. Cached requests carry a
// whole line in Data; uncached requests carry one 64-bit beat laid out by
// byte lane, with Size bytes enabled by Strobe.
type LineRequest struct {
	Valid  bool
	Type   LineReqType
	Addr   uint64
	Size   int
	Data   []byte
	Strobe uint64
}

// LineResponse answers a LineRequest.
type LineResponse struct {
	Valid      bool
	Data       []byte
	LoadFault  bool
	StoreFault bool
}

// MemRequest is one beat presented by the AXI slave to the memory device.
// WData and WStrb are laid out by byte lane of the 64-bit word at
// Addr&^7.
type MemRequest struct {
	Valid bool
	Write bool
	Addr  uint64
	Bytes int
	WData uint64
	WStrb uint8
	Last  bool
}

// MemResponse answers a MemRequest.
type MemResponse struct {
	Valid bool
	RData uint64
	Err   bool
}
