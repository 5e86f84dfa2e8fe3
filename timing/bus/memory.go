package bus

import (
	"encoding/binary"

	"github.com/sarchlab/riversim/emu"
)

// NeverRespond is a latency under which the memory device accepts requests
// but never answers them.
const NeverRespond = ^uint64(0)

// MemoryDevice is a fixed-latency memory behind the AXI slave. It accepts
// one beat at a time and answers after Latency cycles. Accesses outside the
// backing memory answer with an error.
type MemoryDevice struct {
	mem     *emu.Memory
	latency uint64
	watches map[uint64]func(uint64)

	r, n memDevState

	stats MemoryStatistics
}

type memDevState struct {
	busy  bool
	count uint64
	req   MemRequest
	resp  MemResponse
	write bool // apply req at commit
}

// MemoryStatistics counts the beats served by the memory device.
type MemoryStatistics struct {
	Reads  uint64
	Writes uint64
	Errors uint64
}

// MemoryOption configures a MemoryDevice.
type MemoryOption func(*MemoryDevice)

// WithLatency sets the number of cycles between accepting a request and
// answering it. NeverRespond models a memory that never answers.
func WithLatency(cycles uint64) MemoryOption {
	return func(d *MemoryDevice) {
		if cycles == 0 {
			cycles = 1
		}
		d.latency = cycles
	}
}

// WithWriteWatch calls fn with the stored doubleword whenever a write
// touches the 8 bytes at addr.
func WithWriteWatch(addr uint64, fn func(value uint64)) MemoryOption {
	return func(d *MemoryDevice) {
		d.watches[addr&^7] = fn
	}
}

// NewMemoryDevice creates a memory device backed by m.
func NewMemoryDevice(m *emu.Memory, opts ...MemoryOption) *MemoryDevice {
	d := &MemoryDevice{
		mem:     m,
		latency: 1,
		watches: make(map[uint64]func(uint64)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Memory returns the backing memory.
func (d *MemoryDevice) Memory() *emu.Memory {
	return d.mem
}

// Stats returns the beat counters.
func (d *MemoryDevice) Stats() MemoryStatistics {
	return d.stats
}

// ReqReady reports whether the device accepts a request this cycle.
func (d *MemoryDevice) ReqReady() bool {
	return !d.r.busy
}

// Resp returns the response pulse of this cycle.
func (d *MemoryDevice) Resp() MemResponse {
	return d.r.resp
}

// Step computes the next state given the request presented this cycle.
func (d *MemoryDevice) Step(req MemRequest) {
	r := &d.r
	d.n = d.r
	n := &d.n
	n.resp = MemResponse{}
	n.write = false

	if !r.busy {
		if req.Valid {
			n.busy = true
			n.req = req
			n.count = d.latency
		}
		return
	}

	if r.count == NeverRespond {
		return
	}
	if r.count > 1 {
		n.count = r.count - 1
		return
	}

	n.busy = false
	base := r.req.Addr &^ 7
	if !d.mem.Contains(base, 8) {
		n.resp = MemResponse{Valid: true, Err: true}
		return
	}
	if r.req.Write {
		n.write = true
		n.resp = MemResponse{Valid: true}
		return
	}
	n.resp = MemResponse{Valid: true, RData: d.mem.Read64(base)}
}

// Commit makes the next state current and performs a completed write.
func (d *MemoryDevice) Commit() {
	d.r = d.n
	if d.r.resp.Valid {
		switch {
		case d.r.resp.Err:
			d.stats.Errors++
		case d.r.write:
			d.stats.Writes++
		default:
			d.stats.Reads++
		}
	}
	if !d.r.write {
		return
	}

	req := &d.r.req
	base := req.Addr &^ 7
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], req.WData)
	for i := 0; i < 8; i++ {
		if req.WStrb&(1<<i) != 0 {
			d.mem.Write8(base+uint64(i), buf[i])
		}
	}
	if fn, ok := d.watches[base]; ok {
		fn(d.mem.Read64(base))
	}
}
