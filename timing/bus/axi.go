package bus

// BurstType is the AXI burst encoding.
type BurstType uint8

// AXI burst types.
const (
	BurstFixed BurstType = iota
	BurstIncr
	BurstWrap
)

// AXI response codes.
const (
	RespOkay   uint8 = 0
	RespSlvErr uint8 = 2
)

// AXIAddr is an AW or AR channel beat. Len is the number of beats minus
// one and Size is log2 of the bytes per beat.
type AXIAddr struct {
	Valid bool
	Addr  uint64
	Len   uint8
	Size  uint8
	Burst BurstType
}

// AXIWData is a W channel beat.
type AXIWData struct {
	Valid bool
	Data  uint64
	Strb  uint8
	Last  bool
}

// AXIWResp is a B channel beat.
type AXIWResp struct {
	Valid bool
	Resp  uint8
}

// AXIRData is an R channel beat.
type AXIRData struct {
	Valid bool
	Data  uint64
	Resp  uint8
	Last  bool
}

// nextBurstAddr returns the address of the beat after addr.
func nextBurstAddr(addr uint64, a AXIAddr) uint64 {
	step := uint64(1) << a.Size
	switch a.Burst {
	case BurstFixed:
		return addr
	case BurstWrap:
		mask := (uint64(a.Len)+1)<<a.Size - 1
		return addr&^mask | (addr+step)&mask
	}
	return addr + step
}
