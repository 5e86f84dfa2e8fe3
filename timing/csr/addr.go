package csr

// CSR addresses implemented by the register file.
const (
	Fflags        uint16 = 0x001
	Frm           uint16 = 0x002
	Fcsr          uint16 = 0x003
	Cycle         uint16 = 0xC00
	Time          uint16 = 0xC01
	Instret       uint16 = 0xC02
	Sstatus       uint16 = 0x100
	Sie           uint16 = 0x104
	Stvec         uint16 = 0x105
	Scounteren    uint16 = 0x106
	Sscratch      uint16 = 0x140
	Sepc          uint16 = 0x141
	Scause        uint16 = 0x142
	Stval         uint16 = 0x143
	Sip           uint16 = 0x144
	Satp          uint16 = 0x180
	Mvendorid     uint16 = 0xF11
	Marchid       uint16 = 0xF12
	Mimpid        uint16 = 0xF13
	Mhartid       uint16 = 0xF14
	Mstatus       uint16 = 0x300
	Misa          uint16 = 0x301
	Medeleg       uint16 = 0x302
	Mideleg       uint16 = 0x303
	Mie           uint16 = 0x304
	Mtvec         uint16 = 0x305
	Mcounteren    uint16 = 0x306
	Mcountinhibit uint16 = 0x320
	Mscratch      uint16 = 0x340
	Mepc          uint16 = 0x341
	Mcause        uint16 = 0x342
	Mtval         uint16 = 0x343
	Mip           uint16 = 0x344
	Pmpcfg0       uint16 = 0x3A0
	Pmpcfg2       uint16 = 0x3A2
	Pmpaddr0      uint16 = 0x3B0
	Mcycle        uint16 = 0xB00
	Minstret      uint16 = 0xB02
	Dcsr          uint16 = 0x7B0
	Dpc           uint16 = 0x7B1
	Dscratch0     uint16 = 0x7B2
	Dscratch1     uint16 = 0x7B3
	Mstackovr     uint16 = 0xBC0
	Mstackund     uint16 = 0xBC1
)

// Identification values.
const (
	VendorID         = 0xF1
	ImplementationID = 0x20220813
)

// Privilege modes.
const (
	PrivU uint8 = 0
	PrivS uint8 = 1
	PrivM uint8 = 3
)

// Interrupt bit positions in mip and mie.
const (
	IrqSSIP = 1
	IrqMSIP = 3
	IrqSTIP = 5
	IrqMTIP = 7
	IrqSEIP = 9
	IrqMEIP = 11
)

// Halt causes reported in dcsr.cause.
const (
	HaltCauseEbreak  uint8 = 1
	HaltCauseTrigger uint8 = 2
	HaltCauseHaltReq uint8 = 3
	HaltCauseStep    uint8 = 4
)

const (
	medelegMask = 0xB3FF
	midelegMask = 0x222
	mieMask     = 0xAAA
	sieMask     = 0x222
)

// interruptOrder lists interrupts from the highest priority down.
var interruptOrder = [...]int{IrqMEIP, IrqMSIP, IrqMTIP, IrqSEIP, IrqSSIP, IrqSTIP}

// HighestInterrupt returns the cause of the highest priority interrupt in
// pending.
func HighestInterrupt(pending uint16) (cause int, ok bool) {
	for _, irq := range interruptOrder {
		if pending&(1<<uint(irq)) != 0 {
			return irq, true
		}
	}
	return 0, false
}
