package pipeline

// BranchPredictorConfig holds configuration for the branch predictor.
type BranchPredictorConfig struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2. Default is 64.
	BHTSize uint32
	// BTBSize is the number of entries in the fully associative Branch
	// Target Buffer. Default is 8.
	BTBSize uint32
}

// DefaultBranchPredictorConfig returns River's default configuration.
func DefaultBranchPredictorConfig() BranchPredictorConfig {
	return BranchPredictorConfig{
		BHTSize: 64,
		BTBSize: 8,
	}
}

// BranchPredictorStats holds statistics for the branch predictor.
type BranchPredictorStats struct {
	// Predictions is the number of resolved control transfers.
	Predictions uint64
	// Correct is the number of transfers whose next pc was predicted.
	Correct uint64
	// Mispredictions is the number of transfers that redirected fetch.
	Mispredictions uint64
	// BTBInserts is the number of BTB entries written.
	BTBInserts uint64
}

// Accuracy returns the prediction accuracy as a percentage.
func (s BranchPredictorStats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// MispredictionRate returns the misprediction rate as a percentage.
func (s BranchPredictorStats) MispredictionRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 100
}

// Prediction represents a branch prediction result.
type Prediction struct {
	// Taken indicates whether the branch is predicted to be taken.
	Taken bool
	// Target is the predicted target address (if known from BTB).
	Target uint64
	// TargetKnown indicates whether the target address is known.
	TargetKnown bool
}

// BranchPredictor pairs a small fully associative Branch Target Buffer,
// looked up by Fetch, with a table of 2-bit saturating counters that
// Decode consults for conditional branches. Lookups never modify state;
// Update is applied once per cycle at commit.
type BranchPredictor struct {
	// Branch History Table (BHT) - 2-bit saturating counters
	// States: 0=Strongly Not Taken, 1=Weakly Not Taken,
	//         2=Weakly Taken, 3=Strongly Taken
	bht []uint8

	// BTB entries, most recently written first.
	btb []btbEntry

	bhtSize uint32

	stats BranchPredictorStats
}

type btbEntry struct {
	valid  bool
	pc     uint64
	target uint64
}

// NewBranchPredictor creates a new branch predictor with the given configuration.
func NewBranchPredictor(config BranchPredictorConfig) *BranchPredictor {
	bhtSize := config.BHTSize
	btbSize := config.BTBSize
	if bhtSize == 0 {
		bhtSize = 64
	}
	if btbSize == 0 {
		btbSize = 8
	}

	bp := &BranchPredictor{
		bht:     make([]uint8, bhtSize),
		btb:     make([]btbEntry, btbSize),
		bhtSize: bhtSize,
	}
	bp.Reset()
	return bp
}

func (bp *BranchPredictor) bhtIndex(pc uint64) uint32 {
	// Compressed instructions sit on 2-byte boundaries.
	return uint32((pc >> 1) & uint64(bp.bhtSize-1))
}

// Predict looks pc up in the BTB.
func (bp *BranchPredictor) Predict(pc uint64) Prediction {
	for _, e := range bp.btb {
		if e.valid && e.pc == pc {
			return Prediction{Taken: true, Target: e.target, TargetKnown: true}
		}
	}
	return Prediction{}
}

// PredictTaken returns the direction the BHT predicts for the conditional
// branch at pc.
func (bp *BranchPredictor) PredictTaken(pc uint64) bool {
	return bp.bht[bp.bhtIndex(pc)] >= 2
}

// Update trains the predictor with a resolved transfer. Taken transfers
// move to the front of the BTB; a conditional branch resolved not-taken
// leaves it.
func (bp *BranchPredictor) Update(u BranchUpdate) {
	if !u.Valid {
		return
	}

	bp.stats.Predictions++
	if u.Mispredict {
		bp.stats.Mispredictions++
	} else {
		bp.stats.Correct++
	}

	if u.Conditional {
		idx := bp.bhtIndex(u.PC)
		counter := bp.bht[idx]
		if u.Taken {
			if counter < 3 {
				bp.bht[idx] = counter + 1
			}
		} else if counter > 0 {
			bp.bht[idx] = counter - 1
		}
	}

	if u.Taken {
		bp.insert(u.PC, u.Target)
	} else {
		bp.remove(u.PC)
	}
}

func (bp *BranchPredictor) insert(pc, target uint64) {
	pos := len(bp.btb) - 1
	for i, e := range bp.btb {
		if e.valid && e.pc == pc {
			if e.target == target && i == 0 {
				return
			}
			pos = i
			break
		}
	}
	copy(bp.btb[1:pos+1], bp.btb[:pos])
	bp.btb[0] = btbEntry{valid: true, pc: pc, target: target}
	bp.stats.BTBInserts++
}

func (bp *BranchPredictor) remove(pc uint64) {
	for i, e := range bp.btb {
		if e.valid && e.pc == pc {
			copy(bp.btb[i:], bp.btb[i+1:])
			bp.btb[len(bp.btb)-1] = btbEntry{}
			return
		}
	}
}

// Stats returns the branch predictor statistics.
func (bp *BranchPredictor) Stats() BranchPredictorStats {
	return bp.stats
}

// Reset clears all predictor state and statistics.
func (bp *BranchPredictor) Reset() {
	// Weakly taken biases loops towards staying in the loop.
	for i := range bp.bht {
		bp.bht[i] = 2
	}
	for i := range bp.btb {
		bp.btb[i] = btbEntry{}
	}
	bp.stats = BranchPredictorStats{}
}
