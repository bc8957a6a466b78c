package mpp

import (
	"fmt"
	"math"
	"math/bits"
)

// The combiner pairs the multiperspective perceptron with TAGE-SC-L.
//
// The combined prediction thresholds a linear combination of the MPP
// confidence and LSUM, the perceptron sum from TAGE-SC-L. The slope and
// bias are tuned per combination of TAGE-SC-L prediction, MPP
// prediction, TAGE intermediate prediction, and TAGE confidence class
// (2*2*2*3 = 24 combinations). A further bias is chosen to minimize the
// recent number of misses: per combination, 64 3-bit decaying counters
// track how many misses each candidate bias would have produced, halved
// when one saturates at 7.
//
// Trivial branches are filtered through two Bloom filters, one for
// ever-taken and one for ever-not-taken PCs. The MPP only trains when a
// branch appears in both; otherwise the single observed behavior
// predicts the branch. A branch never seen at all is predicted taken
// when the last five global history bits are all taken.

const (
	maxMissIndexBits = 6
	nMiss            = 1 << maxMissIndexBits
)

// combineUpdate is the in-flight state of the combiner for one branch.
type combineUpdate struct {
	pc uint32

	tageBits int
	tagePred bool

	mpp update

	prediction bool
	sum        float64
}

type combiner struct {
	specUpdateTables *bool

	speculativeUpdates map[uint64]combineUpdate

	missCounters [2][2][2][3][nMiss]int

	mpp *perceptron

	// In-flight low-confidence branch throttle for speculative updates.
	numLC            int
	lcConfThreshold  float64
	lcCountThreshold int

	et  *bloomFilter
	ent *bloomFilter

	u combineUpdate

	// Short global history for the static prediction of unseen PCs.
	ghist uint64

	slopes [2][2][2][3]float64
	biases [2][2][2][3]float64
}

func newCombiner(mppHistoryBits int, specUpdateTables *bool, nentriesTotal *int) *combiner {
	c := &combiner{
		specUpdateTables:   specUpdateTables,
		speculativeUpdates: make(map[uint64]combineUpdate),
		lcConfThreshold:    25,
		lcCountThreshold:   7,
	}

	// Best configuration of Bloom filters: 3 tables of 2^15 cells each.
	c.et = newBloomFilter(3, 1<<15, 47)
	c.ent = newBloomFilter(3, 1<<15, 75)

	predictorSize := mppHistoryBits
	predictorSize += 65536 * 8 // TAGE-SC-L state
	predictorSize += int(c.et.kb()*8192) + int(c.ent.kb()*8192)

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				for l := 0; l < 3; l++ {
					c.slopes[i][j][k][l] = 0.53
					c.biases[i][j][k][l] = -20.0
				}
			}
		}
	}

	// Tuned slopes and biases for the frequent combinations.
	c.slopes[0][0][0][0] = 0.50
	c.biases[0][0][0][0] = -21
	c.slopes[0][0][0][1] = 0.40
	c.biases[0][0][0][1] = -30
	c.slopes[0][0][0][2] = 0.55
	c.biases[0][0][0][2] = -17
	c.slopes[0][0][1][0] = 0.46
	c.biases[0][0][1][0] = 0
	c.slopes[0][0][1][1] = 0.70
	c.biases[0][0][1][1] = 35
	c.slopes[0][1][0][0] = 0.58
	c.biases[0][1][0][0] = -8
	c.slopes[0][1][0][1] = 0.56
	c.biases[0][1][0][1] = -19
	c.slopes[0][1][0][2] = 0.58
	c.biases[0][1][0][2] = -15
	c.slopes[0][1][1][0] = 0.64
	c.biases[0][1][1][0] = 32
	c.slopes[1][0][0][0] = 0.58
	c.biases[1][0][0][0] = -33
	c.slopes[1][0][1][0] = 0.52
	c.biases[1][0][1][0] = 6
	c.slopes[1][0][1][1] = 0.54
	c.biases[1][0][1][1] = 29
	c.slopes[1][0][1][2] = 0.52
	c.biases[1][0][1][2] = 12
	c.slopes[1][1][0][0] = 0.38
	c.biases[1][1][0][0] = 14
	c.slopes[1][1][0][1] = 0.42
	c.biases[1][1][0][1] = -7
	c.slopes[1][1][1][0] = 0.20
	c.biases[1][1][1][0] = 31
	c.slopes[1][1][1][1] = 0.80
	c.biases[1][1][1][1] = 30
	c.slopes[1][1][1][2] = 0.71
	c.biases[1][1][1][2] = 35

	// 24 bias tables, 64 entries each, 3 bits per counter.
	predictorSize += 24 * nMiss * 3
	predictorSize += 32

	// One copy of the speculative update state.
	predictorSize += 32 + 64 + 64 + 64 +
		32 + 16 + 16 + 32 + 33*16 + 1 + 1

	// Small counters and leftovers.
	predictorSize += 900

	// The remaining budget goes to the perceptron weight tables at 6
	// bits per entry.
	totalBits := 192 * 1024 * 8
	totalBits -= predictorSize
	*nentriesTotal = totalBits / 6

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				for l := 0; l < 3; l++ {
					c.missCounters[i][j][k][l][nMiss/2] = 1
				}
			}
		}
	}

	return c
}

func (c *combiner) attach(mpp *perceptron) { c.mpp = mpp }

func unpackTageConf(tageBits int) int {
	lowConf := tageBits&4 != 0
	medConf := tageBits&8 != 0
	hiConf := tageBits&16 != 0
	switch {
	case hiConf:
		return 2
	case medConf:
		return 1
	case lowConf:
		return 0
	}
	return 0
}

func boolIdx(b bool) int {
	if b {
		return 1
	}
	return 0
}

// vote computes the linear-combination prediction for a branch that has
// shown both behaviors.
func (c *combiner) vote(tageBits int, tagePred bool, mppU *update) bool {
	tageInter := tageBits&2 != 0
	lsum := tageBits >> 5
	tageConf := unpackTageConf(tageBits)
	mppPred := mppU.prediction

	m := c.slopes[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]
	b := c.biases[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]

	sum := m*float64(mppU.confidence) + (1-m)*float64(lsum) + b
	c.u.sum = sum

	// Pick the bias value that minimized recent mispredictions.
	counters := &c.missCounters[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]
	mini := 0
	for i := 0; i < nMiss; i++ {
		if counters[i] < counters[mini] {
			mini = i
		}
	}
	bias := float64(mini - nMiss/2)

	return sum+bias >= 0.0
}

// monitor trains the miss counters for the best-bias tie-break.
func (c *combiner) monitor(tageBits int, tagePred bool, mppU *update, taken bool) {
	tageInter := tageBits&2 != 0
	lsum := tageBits >> 5
	tageConf := unpackTageConf(tageBits)
	mppPred := mppU.prediction

	m := c.slopes[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]
	b := c.biases[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]
	sum := m*float64(mppU.confidence) + (1-m)*float64(lsum) + b

	counters := &c.missCounters[boolIdx(tagePred)][boolIdx(mppPred)][boolIdx(tageInter)][tageConf]
	halve := false
	for i := 0; i < nMiss; i++ {
		bias := float64(i - nMiss/2)
		predWithBias := sum+bias >= 0.0
		if predWithBias != taken {
			counters[i]++
		}
		if counters[i] == 7 {
			halve = true
		}
	}
	if halve {
		for i := 0; i < nMiss; i++ {
			counters[i] /= 2
		}
	}
}

// lookup combines the TAGE-SC-L and MPP predictions for pc and records
// the speculative state under id.
func (c *combiner) lookup(pc uint32, id uint64, tageBits int) bool {
	c.u.pc = pc
	c.u.tageBits = tageBits
	c.u.tagePred = tageBits&1 != 0

	mppU := c.mpp.lookup(pc, tageBits)

	everTaken := c.et.probe(uint64(pc))
	everNotTaken := c.ent.probe(uint64(pc))

	switch {
	case !everTaken && !everNotTaken:
		// Never seen this branch; predict statically from the last five
		// global history bits.
		pred := bits.OnesCount64(c.ghist&31) == 5
		c.u.prediction = pred
		c.u.tagePred = pred
		mppU.prediction = pred
	case !everTaken:
		c.u.prediction = false
		c.u.tagePred = false
		mppU.prediction = false
	case !everNotTaken:
		c.u.prediction = true
		c.u.tagePred = true
		mppU.prediction = true
	default:
		c.u.prediction = c.vote(tageBits, c.u.tagePred, mppU)
	}

	c.u.mpp = *mppU
	c.speculativeUpdates[id] = c.u
	return c.u.prediction
}

// specUpdate advances the MPP histories with the ground truth and
// speculatively trains the tables with the prediction.
func (c *combiner) specUpdate(target uint64, taken, pred bool, id uint64) {
	r, ok := c.speculativeUpdates[id]
	if !ok {
		panic(fmt.Sprintf("mpp: spec update without lookup (id=%d)", id))
	}
	// Restore this branch's in-flight state; other branches may have
	// been looked up since.
	c.u = r
	c.mpp.u = r.mpp

	filter := !(c.et.probe(uint64(c.u.pc)) && c.ent.probe(uint64(c.u.pc)))
	c.mpp.specUpdate(target, taken, pred, filter)

	r.mpp.updated = c.mpp.u.updated
	r.mpp.overallPrediction = c.mpp.u.overallPrediction
	c.speculativeUpdates[id] = r

	if !filter && math.Abs(c.u.sum) < c.lcConfThreshold {
		c.numLC++
	}
	if c.numLC >= c.lcCountThreshold {
		*c.specUpdateTables = false
	}
}

// resolve finishes the combined predictor's training for a resolved
// branch.
func (c *combiner) resolve(target uint64, taken bool, id uint64) {
	r, ok := c.speculativeUpdates[id]
	if !ok {
		panic(fmt.Sprintf("mpp: resolve without lookup (id=%d)", id))
	}
	c.u = r

	filter := !(c.et.probe(uint64(c.u.pc)) && c.ent.probe(uint64(c.u.pc)))
	if !filter && math.Abs(c.u.sum) < c.lcConfThreshold {
		c.numLC--
		if c.numLC < 0 {
			c.numLC = 0
		}
	}
	if c.numLC < c.lcCountThreshold {
		*c.specUpdateTables = true
	}

	delete(c.speculativeUpdates, id)

	if taken {
		c.et.insert(uint64(c.u.pc))
	} else {
		c.ent.insert(uint64(c.u.pc))
	}

	// Train only when the branch has been seen both taken and not
	// taken.
	doTrain := c.et.probe(uint64(c.u.pc)) && c.ent.probe(uint64(c.u.pc))

	c.mpp.resolve(&c.u.mpp, taken, !doTrain)

	if doTrain {
		c.monitor(c.u.tageBits, c.u.tagePred, &c.u.mpp, taken)
	}

	c.ghist <<= 1
	if taken {
		c.ghist |= 1
	}
}

// nonconditionalBranch forwards a non-conditional branch to the MPP
// history update.
func (c *combiner) nonconditionalBranch(pc, target uint32, kind nonCondKind) {
	c.mpp.nonconditionalBranch(pc, target, kind)
}
