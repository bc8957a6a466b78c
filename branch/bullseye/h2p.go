package bullseye

import "github.com/sarchlab/oosim/satcounter"

// H2P identification geometry.
const (
	h2pListSize = 32

	hashedPCBits = 16

	h2pTableWays    = 8
	logH2PTableSets = 6
	h2pTableSets    = 1 << logH2PTableSets

	h2pLooseDefThresh = 200000
	h2pLooseDefSlope  = 0.000005
	h2pExeCntBits     = 32
)

// hashPC folds a branch address into the tag width used by the
// identification table.
func hashPC(pc uint64) uint64 {
	return ((pc >> 2) ^ (pc >> 33)) & ((1 << hashedPCBits) - 1)
}

// h2pEntry tracks the outcome census of one candidate branch.
type h2pEntry struct {
	correct   uint16 // 16 bits used
	incorrect uint16 // 12 bits used
}

// update tallies one resolved prediction. When either counter saturates
// both are halved, preserving the accuracy ratio.
func (e *h2pEntry) update(isCorrect bool) {
	if isCorrect {
		e.correct++
		if e.correct == 0xFFFF {
			e.correct >>= 1
			e.incorrect >>= 1
		}
	} else {
		e.incorrect++
		if e.incorrect == 0x0FFF {
			e.correct >>= 1
			e.incorrect >>= 1
		}
	}
}

// isH2P applies the population-dependent thresholds. The accuracy bound
// tightens as more hard-to-predict branches are being tracked and can be
// slackened globally through strictness.
func (e *h2pEntry) isH2P(h2pCount uint32, strictness float64) bool {
	total := uint32(e.correct) + uint32(e.incorrect)

	executionThresh := uint32(float64(2048+(h2pCount<<4)) * strictness)
	mispredThresh := uint32(256 * strictness)

	var accuracyThresh float64
	if h2pCount <= h2pListSize {
		accuracyThresh = 1 - (0.01/h2pListSize)*float64(h2pCount)
	} else {
		accuracyThresh = 0.95 - 0.01*float64(h2pCount-h2pListSize)
		if accuracyThresh < 0.6 {
			accuracyThresh = 0.6
		}
	}
	accuracyThresh = 1 - (1-accuracyThresh)*strictness

	return total >= executionThresh &&
		uint32(e.incorrect) >= mispredThresh &&
		float64(e.correct) < accuracyThresh*float64(total)
}

// H2PTable identifies hard-to-predict branches. PCs are tracked from
// their first misprediction; a branch graduates once its census clears
// the thresholds, at which point it is removed from tracking and handed
// to the dedicated learners.
type H2PTable struct {
	sets [h2pTableSets]map[uint64]*h2pEntry

	h2pCount   satcounter.Unsigned // current H2P population
	exeCounter satcounter.Unsigned // executions since the last find
}

// NewH2PTable creates an empty identification table.
func NewH2PTable() *H2PTable {
	t := &H2PTable{
		h2pCount:   satcounter.NewUnsigned(10),
		exeCounter: satcounter.NewUnsigned(h2pExeCntBits),
	}
	for i := range t.sets {
		t.sets[i] = make(map[uint64]*h2pEntry, h2pTableWays)
	}
	return t
}

// Count returns the current H2P population.
func (t *H2PTable) Count() uint32 { return t.h2pCount.Get() }

// Update records one resolved prediction for a branch that is not
// already claimed by a dedicated learner. It returns true when the
// branch has just been declared hard to predict; the entry is removed
// from tracking in that case.
func (t *H2PTable) Update(pc uint64, isCorrect bool) bool {
	hashed := hashPC(pc)
	set := t.sets[hashed%h2pTableSets]

	t.exeCounter.Add(1)

	if entry, ok := set[hashed]; ok {
		entry.update(isCorrect)

		// Slacken the definition when nothing has qualified for a long
		// time and the population is still small.
		strictness := 1.0
		if t.exeCounter.Get() > h2pLooseDefThresh && t.h2pCount.Get() <= h2pListSize {
			strictness = 1 - float64(t.exeCounter.Get()-h2pLooseDefThresh)*h2pLooseDefSlope
			if strictness < 0.5 {
				strictness = 0.5
			}
		}

		if entry.isH2P(t.h2pCount.Get(), strictness) {
			delete(set, hashed)
			t.exeCounter.Reset()
			t.h2pCount.Add(1)
			return true
		}
		return false
	}

	if !isCorrect {
		if len(set) == h2pTableWays {
			// Evict the least promising candidate: the one with the
			// fewest executions, weighting mispredictions 8x.
			var evicted uint64
			minSum := ^uint32(0)
			for key, entry := range set {
				sum := uint32(entry.correct) + uint32(entry.incorrect)<<3
				if sum < minSum {
					evicted = key
					minSum = sum
				}
			}
			delete(set, evicted)
		}

		entry := &h2pEntry{}
		entry.update(isCorrect)
		set[hashed] = entry
	}

	return false
}

// EvictH2P notes that a branch is no longer hard to predict.
func (t *H2PTable) EvictH2P(pc uint64) {
	t.h2pCount.Sub(1)
}
