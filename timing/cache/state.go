package cache

// State is the state of a cache controller. The data, instruction and L2
// caches share the same state set; the instruction cache and L2 never use
// the snoop states.
type State uint8

// Cache controller states.
const (
	StateIdle State = iota
	StateCheckHit
	StateTranslateAddress
	StateWriteBus
	StateWaitGrant
	StateWaitResp
	StateCheckResp
	StateSetupReadAdr
	StateFlushAddr
	StateFlushCheck
	StateReset
	StateResetWrite
)

var stateNames = [...]string{
	"Idle", "CheckHit", "TranslateAddress", "WriteBus", "WaitGrant",
	"WaitResp", "CheckResp", "SetupReadAdr", "FlushAddr", "FlushCheck",
	"Reset", "ResetWrite",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// SnoopState is the state of the data cache snoop port.
type SnoopState uint8

// Snoop port states.
const (
	SnoopIdle SnoopState = iota
	SnoopSetupAddr
	SnoopReadData
)

// phase records why a controller is waiting on the next level.
type phase uint8

const (
	phaseRead phase = iota
	phaseWriteBack
	phaseUncached
	phaseUpgrade
	phaseFlush
)

// FlushAll as a flush address flushes every line.
const FlushAll = ^uint64(0)

// FlushRequest is a one-cycle flush pulse. The cache latches it and
// answers with a FlushEnd pulse once every selected line is clean and
// invalid.
type FlushRequest struct {
	Valid bool
	Addr  uint64
}

func fullStrobe(blockSize int) uint64 {
	if blockSize >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(blockSize) - 1
}
