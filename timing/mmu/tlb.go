package mmu

// TLBSize is the number of direct-mapped TLB slots.
const TLBSize = 64

// PTE permission bits.
const (
	PteV uint8 = 1 << iota
	PteR
	PteW
	PteX
	PteU
	PteG
	PteA
	PteD
)

// Entry is one cached translation. Level is the page-table level of the
// leaf: 0 for a 4KB page, 1 for 2MB, 2 for 1GB and 3 for 512GB.
type Entry struct {
	Valid bool
	VPN   uint64
	PPN   uint64
	Level int
	Perm  uint8
}

// PageBits returns the number of VA bits that pass through unchanged.
func (e Entry) PageBits() uint {
	return 12 + 9*uint(e.Level)
}

// Translate combines the entry with the untranslated low bits of va.
func (e Entry) Translate(va uint64) uint64 {
	mask := uint64(1)<<e.PageBits() - 1
	return (e.PPN<<12)&^mask | va&mask
}

// TLB is a direct-mapped translation cache indexed by the low VPN bits.
// Slots are only written by the owning MMU's Commit.
type TLB struct {
	slots [TLBSize]Entry
}

func slotOf(vpn uint64) int {
	return int(vpn % TLBSize)
}

// Lookup returns the entry for vpn, if present.
func (t *TLB) Lookup(vpn uint64) (Entry, bool) {
	e := t.slots[slotOf(vpn)]
	if !e.Valid || e.VPN != vpn {
		return Entry{}, false
	}
	return e, true
}

// Slot returns slot i.
func (t *TLB) Slot(i int) Entry {
	return t.slots[i]
}

func (t *TLB) write(e Entry) {
	t.slots[slotOf(e.VPN)] = e
}

func (t *TLB) clear(i int) {
	t.slots[i] = Entry{}
}
