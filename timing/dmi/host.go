package dmi

// jtagBit is one TCK period driven by the host.
type jtagBit struct {
	tms, tdi bool
	sample   bool
}

// Host bit-bangs JTAG sequences. Scans are queued as TMS/TDI bit pairs;
// whoever owns the clock drives Pins on TCK and feeds the TDO seen before
// the edge back through Advance.
type Host struct {
	queue []jtagBit
	ir    uint8
	irSet bool

	shift  uint64
	nbits  uint
	result uint64
}

// NewHost creates a host with an empty queue.
func NewHost() *Host {
	return &Host{}
}

// Busy reports whether queued bits remain.
func (h *Host) Busy() bool { return len(h.queue) > 0 }

// Pins returns the pins for the next TCK edge.
func (h *Host) Pins() Pins {
	if len(h.queue) == 0 {
		return Pins{}
	}
	b := h.queue[0]
	return Pins{TMS: b.tms, TDI: b.tdi}
}

// Advance consumes the bit driven on the last edge. tdo is the TDO value
// observed before that edge.
func (h *Host) Advance(tdo bool) {
	if len(h.queue) == 0 {
		return
	}
	b := h.queue[0]
	h.queue = h.queue[1:]
	if !b.sample {
		return
	}
	if tdo {
		h.shift |= 1 << h.nbits
	}
	h.nbits++
}

// Result returns the bits captured by the last scan, LSB first.
func (h *Host) Result() uint64 { return h.result }

func (h *Host) push(tms, tdi, sample bool) {
	h.queue = append(h.queue, jtagBit{tms: tms, tdi: tdi, sample: sample})
}

// Reset holds TMS high for ten clocks and enters Run-Test/Idle. The TAP
// selects IDCODE on reset.
func (h *Host) Reset() {
	for i := 0; i < 10; i++ {
		h.push(true, false, false)
	}
	h.push(false, false, false)
	h.ir = IRIDCode
	h.irSet = true
}

// Idle queues n clocks in Run-Test/Idle.
func (h *Host) Idle(n int) {
	for i := 0; i < n; i++ {
		h.push(false, false, false)
	}
}

// ScanIR loads the instruction register. It starts and ends in
// Run-Test/Idle.
func (h *Host) ScanIR(ir uint8) {
	h.push(true, false, false)
	h.push(true, false, false)
	h.push(false, false, false)
	h.push(false, false, false)
	h.shiftBits(uint64(ir), IRLength, false)
	h.push(true, false, false)
	h.push(false, false, false)
	h.ir = ir
	h.irSet = true
}

// ScanDR shifts nbits of v through the data register selected by ir,
// loading ir first when it differs from the current instruction. The
// captured bits are available from Result once the queue drains.
func (h *Host) ScanDR(ir uint8, v uint64, nbits uint) {
	h.push(true, false, false)
	if !h.irSet || h.ir != ir {
		h.push(true, false, false)
		h.push(false, false, false)
		h.push(false, false, false)
		h.shiftBits(uint64(ir), IRLength, false)
		h.push(true, false, false)
		h.push(true, false, false)
		h.ir = ir
		h.irSet = true
	}
	h.push(false, false, false)
	h.push(false, false, false)
	h.shiftBits(v, nbits, true)
	h.push(true, false, false)
	h.push(false, false, false)
}

func (h *Host) shiftBits(v uint64, nbits uint, sample bool) {
	for i := uint(0); i < nbits; i++ {
		h.push(i == nbits-1, v>>i&1 != 0, sample)
	}
}

// Drain runs the queue to completion on target and latches the captured
// bits.
func (h *Host) Drain(t Target) {
	h.shift, h.nbits = 0, 0
	for h.Busy() {
		tdo := t.TDO()
		t.ClockTCK(h.Pins())
		h.Advance(tdo)
	}
	h.result = h.shift
}

// Target is a JTAG device clocked by a Host.
type Target interface {
	// TDO returns the serial output before the next edge.
	TDO() bool
	// ClockTCK drives one TCK period with pins.
	ClockTCK(p Pins)
}
