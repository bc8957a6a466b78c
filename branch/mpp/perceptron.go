package mpp

import (
	"fmt"
	"math"
)

// update is the speculative state carried along with one in-flight
// branch: the hashes and table indices used by the prediction, the
// perceptron output, and whether the tables were speculatively trained.
type update struct {
	pc  uint32
	hpc uint16
	pc2 uint16

	yout int

	indices [maxTables]int

	// updated is set when this prediction has trained the weight
	// tables speculatively.
	updated bool

	// overallPrediction is the prediction of the higher-level combined
	// predictor, which drives the speculative training.
	overallPrediction bool

	prediction bool
	confidence int
}

const maxTables = 128

// perceptron is the multiperspective hashed-perceptron predictor. Many
// features hash different kinds of control-flow history into weight
// tables; the transferred weights are summed and thresholded.
type perceptron struct {
	specUpdateTables *bool

	tables [][]int8

	h histories
	u update

	minTheta, maxTheta, originalTheta int

	modhistIndices []int
	modpathIndices []int
	modpathLengths []int
	modhistLengths []int

	ghistLength    int
	modghistLength int
	pathLength     int

	totalBits   int
	historyBits int
	assoc       int

	theta float64

	spec      []historySpec
	numTables int

	nlocalHistories    int
	localHistoryLength int

	alpha float64

	xfer      []int
	pcbit     int
	htbit     int
	blockSize int
	hashTaken bool

	tableSizes []int

	recordMask uint
	xflag, xn  int
}

// newPerceptron builds an MPP instance from a feature specification.
// nentriesTotal is the weight budget negotiated with the combiner; -1
// means "not yet known" and uses a placeholder.
func newPerceptron(spec []historySpec, theta int, alpha float64, xfer []int,
	pcbit, htbit, blockSize int, hashTaken bool,
	recordMask uint, xflag, xn int,
	specUpdateTables *bool, nentriesTotal *int) *perceptron {

	p := &perceptron{
		spec:             spec,
		numTables:        len(spec),
		alpha:            alpha,
		xfer:             xfer,
		pcbit:            pcbit,
		htbit:            htbit,
		blockSize:        blockSize,
		hashTaken:        hashTaken,
		recordMask:       recordMask,
		xflag:            xflag,
		xn:               xn,
		specUpdateTables: specUpdateTables,
		minTheta:         10,
		maxTheta:         216,
	}
	if theta < p.minTheta {
		theta = p.minTheta
	}
	p.originalTheta = theta

	p.modhistIndices = make([]int, 0, maxMod)
	p.modpathIndices = make([]int, 0, maxMod)
	p.modpathLengths = make([]int, maxMod)
	p.modhistLengths = make([]int, maxMod)
	p.tableSizes = make([]int, p.numTables)

	p.analyzeSpec(nentriesTotal)

	p.theta = float64(p.originalTheta)
	p.tables = make([][]int8, p.numTables)
	for i := range p.tables {
		p.tables[i] = make([]int8, p.tableSizes[i])
		for j := range p.tables[i] {
			// -32 marks an uninitialized weight; trained values stay in
			// [-31, 31].
			p.tables[i][j] = -32
		}
	}

	return p
}

func insertIndex(v []int, x int) ([]int, int) {
	for i, val := range v {
		if val == x {
			return v, i
		}
	}
	return append(v, x), len(v)
}

// analyzeSpec derives the required history extents from the feature set
// and splits the weight budget into power-of-two table sizes.
func (p *perceptron) analyzeSpec(nentriesTotal *int) {
	p.ghistLength = 1
	p.modghistLength = 1
	p.pathLength = 1
	p.assoc = 0

	var blurrypathBits [maxBlurry][maxBlurry2]int
	var acyclicBits [maxAcyclic][32][2]bool
	var imliCounterBits [4]int

	for _, s := range p.spec {
		if s.typ == featRecency || s.typ == featRecencyPos {
			if p.assoc < s.p1 {
				p.assoc = s.p1
			}
		}
		if s.typ == featAcyclic {
			for j := 0; j < s.p1+2; j++ {
				side := 0
				if s.p3 == 0 {
					side = 1
				}
				acyclicBits[s.p1][j][side] = true
			}
		}
		if s.typ == featIMLI {
			imliCounterBits[s.p1-1] = 32
		}
		if s.typ == featBlurryPath {
			for j := 0; j < s.p2; j++ {
				blurrypathBits[s.p1][j] = 32 - s.p1
			}
		}
		if s.typ == featGhistPath || s.typ == featBackGhistPath {
			if p.ghistLength < s.p2 {
				p.ghistLength = s.p2 + 1
			}
		}
		if s.typ == featModHist || s.typ == featGhistModPath {
			var j int
			p.modhistIndices, j = insertIndex(p.modhistIndices, s.p1)
			if p.modhistLengths[j] < s.p2+1 {
				p.modhistLengths[j] = s.p2 + 1
			}
			if s.p2 >= p.modghistLength {
				p.modghistLength = s.p2 + 1
			}
		}
	}

	for _, s := range p.spec {
		if s.typ == featModPath || s.typ == featGhistModPath {
			var j int
			p.modpathIndices, j = insertIndex(p.modpathIndices, s.p1)
			if p.modpathLengths[j] < s.p2+1 {
				p.modpathLengths[j] = s.p2 + 1
			}
			if p.pathLength <= s.p2 {
				p.pathLength = s.p2 + 1
			}
		}
	}

	p.localHistoryLength = 0
	doingLocal := false
	doingRecency := false
	for _, s := range p.spec {
		switch s.typ {
		case featLocal:
			doingLocal = true
			if p.localHistoryLength < s.p2 {
				p.localHistoryLength = s.p2
			}
		case featRecency, featRecencyPos:
			doingRecency = true
		}
	}

	if p.ghistLength > maxGhist || p.modghistLength > maxGhist {
		panic("mpp: feature history exceeds the configured maximum")
	}

	// Count the history bits; this is the part of the hardware budget
	// not available to the weight tables.
	p.totalBits = 32 // IMLI counter
	p.totalBits += p.pathLength * 16
	for i := range p.modhistIndices {
		p.totalBits += p.modhistLengths[i]
	}
	for i := range p.modpathIndices {
		p.totalBits += 16 * p.modpathLengths[i]
	}

	// Local histories should take about 6KB, capped at 1280 branches.
	if p.localHistoryLength > 0 {
		p.nlocalHistories = 49152 / p.localHistoryLength
	} else {
		p.nlocalHistories = 1
	}
	if p.nlocalHistories > 1280 {
		p.nlocalHistories = 1280
	}
	if doingLocal {
		p.totalBits += p.localHistoryLength * p.nlocalHistories
	}

	if doingRecency {
		p.totalBits += p.assoc * 16
	}
	for i := 0; i < maxBlurry; i++ {
		for j := 0; j < maxBlurry2; j++ {
			p.totalBits += blurrypathBits[i][j]
		}
	}
	for i := 0; i < maxAcyclic; i++ {
		for j := 0; j < 32; j++ {
			for k := 0; k < 2; k++ {
				if acyclicBits[i][j][k] {
					p.totalBits++
				}
			}
		}
	}
	p.totalBits += 8 // theta

	p.historyBits = p.totalBits

	if *nentriesTotal == -1 {
		// Placeholder until the combiner reports the real budget.
		*nentriesTotal = 131072
	}

	// Split the entry budget into tables of 2^i and 2^(i+1) entries,
	// maximizing usage.
	ok := false
	minDiff := 1 << 30
	minSizes := make([]int, p.numTables)
	for i := 6; i < 20; i++ {
		ts1 := 1 << i
		ts2 := 1 << (i + 1)
		for t := 0; t < p.numTables; t++ {
			sum := 0
			for j := 0; j < p.numTables; j++ {
				if j < t {
					p.tableSizes[j] = ts1
				} else {
					p.tableSizes[j] = ts2
				}
				sum += p.tableSizes[j]
			}
			if sum <= *nentriesTotal {
				diff := *nentriesTotal - sum
				if diff < minDiff {
					minDiff = diff
					copy(minSizes, p.tableSizes)
					ok = true
				}
			}
		}
	}
	if !ok {
		panic(fmt.Sprintf("mpp: no feasible table split for %d entries", *nentriesTotal))
	}
	copy(p.tableSizes, minSizes)
}

// insertRecency pushes a hashed PC onto the recency stack with LRU
// replacement.
func (p *perceptron) insertRecency(pc uint16) {
	i := 0
	for ; i < p.assoc; i++ {
		if p.h.recencyStack[i] == pc {
			break
		}
	}
	if i == p.assoc {
		i = p.assoc - 1
		p.h.recencyStack[i] = pc
	}
	b := p.h.recencyStack[i]
	copy(p.h.recencyStack[1:i+1], p.h.recencyStack[0:i])
	p.h.recencyStack[0] = b
}

func (p *perceptron) hashPC(pc uint32) uint64 { return hashN(uint64(pc), 10) }

func (p *perceptron) hashLocalIdx() uint64 { return hashN(uint64(p.u.pc), 31) }

func (p *perceptron) hashPath(depth, shift int) uint64 {
	var x uint64
	for i := 0; i < depth; i++ {
		x <<= uint(shift)
		x += uint64(p.h.pathHistory[i])
	}
	return x
}

func (p *perceptron) hashGhist(a, b, bits int) uint64 {
	return foldHist(p.h.globalHist[:], a, b, bits)
}

func (p *perceptron) hashBackGhist(a, b, bits int) uint64 {
	return foldHist(p.h.backGlobalHist[:], a, b, bits)
}

func (p *perceptron) hashGhistPath(a, b, c, d, bits int) uint64 {
	return p.hashPath(c, d) + p.hashGhist(a, b, bits)
}

func (p *perceptron) hashBackPath(depth, shift int) uint64 {
	var x uint64
	for i := 0; i < depth; i++ {
		x <<= uint(shift)
		x += uint64(p.h.backPath[i])
	}
	return x
}

func (p *perceptron) hashBackGhistPath(a, b, c, d, bits int) uint64 {
	if d == -1 {
		d = 3
	}
	return p.hashBackPath(c, d) + p.hashBackGhist(a, b, bits)
}

func (p *perceptron) hashRecency(depth, shift int) uint64 {
	var x uint64
	for i := 0; i < depth; i++ {
		x <<= uint(shift)
		x += uint64(p.h.recencyStack[i])
	}
	return x
}

func (p *perceptron) hashBlurry(scale, depth, shiftDelta int) uint64 {
	if shiftDelta == -1 {
		shiftDelta = 0
	}
	sdInt := uint(shiftDelta >> 2)
	sdFrac := shiftDelta & 3
	var x uint64
	shift := uint(0)
	count := 0
	for i := 0; i < depth; i++ {
		x += uint64(p.h.blurryPathHistories[scale][i] >> shift)
		count++
		if count == sdFrac {
			shift += sdInt
			count = 0
		}
	}
	return x
}

func (p *perceptron) hashAcyclic(a, bits int) uint64 {
	var x uint64
	k := 0
	for i := 0; i < a+2; i++ {
		if p.h.acyclicHistories[a][i] {
			x ^= 1 << uint(k)
		}
		k = (k + 1) % bits
	}
	return x
}

func (p *perceptron) hashModHist(a, b, n int) uint64 {
	var x uint64
	k := 0
	for i := 0; i < b; i++ {
		if p.h.modHistories[a][i] {
			x ^= 1 << uint(k)
		}
		k = (k + 1) % n
	}
	return x
}

func (p *perceptron) hashModPath(a, depth, shift int) uint64 {
	var x uint64
	for i := 0; i < depth; i++ {
		x <<= uint(shift)
		x += uint64(p.h.modPathHistories[a][i])
	}
	return x
}

func (p *perceptron) hashGhistModPath(a, depth, shift int) uint64 {
	var x uint64
	for i := 0; i < depth; i++ {
		x <<= uint(shift)
		bit := uint64(0)
		if p.h.modHistories[a][i] {
			bit = 1
		}
		x += (uint64(p.h.modPathHistories[a][i]) << 1) | bit
	}
	return x
}

func (p *perceptron) hashRecencyPos(pc uint16, l, t int) uint64 {
	for i := 0; i < l; i++ {
		if p.h.recencyStack[i] == pc {
			return uint64(i * p.tableSizes[t] / l)
		}
	}
	return uint64(p.tableSizes[t] - 1)
}

// transfer amplifies a trained weight through the lookup table; an
// uninitialized weight contributes nothing.
func (p *perceptron) transfer(c int8) int {
	if c == -32 {
		return 0
	}
	return p.xfer[int(c)+31]
}

// getHash dispatches a feature to its history hash.
func (p *perceptron) getHash(s *historySpec, t int, tageBits int) uint64 {
	switch s.typ {
	case featBackGhistPath:
		return p.hashBackGhistPath(s.p1, s.p2, s.p3, s.p4, p.blockSize)
	case featGhistPath:
		return p.hashGhistPath(s.p1, s.p2, s.p3, s.p4, p.blockSize)
	case featAcyclic:
		return p.hashAcyclic(s.p1, p.blockSize)
	case featModHist:
		return p.hashModHist(s.p1, s.p2, p.blockSize)
	case featGhistModPath:
		return p.hashGhistModPath(s.p1, s.p2, s.p3)
	case featModPath:
		return p.hashModPath(s.p1, s.p2, s.p3)
	case featBias:
		return 0
	case featRecency:
		return p.hashRecency(s.p1, s.p2)
	case featIMLI:
		switch s.p1 {
		case 1:
			return uint64(p.h.imliCounter1)
		case 2:
			return uint64(p.h.imliCounter2)
		case 3:
			return uint64(p.h.imliCounter3)
		case 4:
			return uint64(p.h.imliCounter4)
		}
		panic("mpp: bad IMLI feature parameter")
	case featPath:
		return p.hashPath(s.p1, s.p2)
	case featTage:
		var x uint64
		pred := uint64(tageBits & 1)
		lowConf := tageBits&4 != 0
		medConf := tageBits&8 != 0
		hiConf := tageBits&16 != 0
		if s.p1 >= 0 {
			x = pred << uint(s.p1)
		}
		if s.p2 >= 0 {
			c := uint64(0)
			if lowConf {
				c = 1
			}
			if medConf {
				c = 2
			}
			if hiConf {
				c = 3
			}
			x ^= c << uint(s.p2)
		}
		return x
	case featBackPath:
		return p.hashBackPath(s.p1, s.p2)
	case featLocal:
		lh := &p.h.localHistories[p.hashLocalIdx()%uint64(p.nlocalHistories)]
		if s.p2 <= 63 {
			x := lh[0] >> uint(s.p1)
			if s.p1 != -1 {
				x &= (uint64(1) << uint(s.p2-s.p1)) - 1
			}
			return x
		}
		return foldHist(lh[:], s.p1, s.p2, p.blockSize)
	case featBlurryPath:
		return p.hashBlurry(s.p1, s.p2, s.p3)
	case featRecencyPos:
		return p.hashRecencyPos(p.u.pc2, s.p1, t)
	}
	panic(fmt.Sprintf("mpp: unknown feature type %d", s.typ))
}

// computeOutput evaluates all features and sums the transferred weights
// into u.yout, recording the table indices for training.
func (p *perceptron) computeOutput(tageBits int) {
	p.u.yout = 0

	var indices [maxTables]uint64
	for i := 0; i < p.numTables; i++ {
		h := p.getHash(&p.spec[i], i, tageBits)

		h <<= 9
		h ^= uint64(p.u.pc2)

		h = hashN(h, 4)
		if p.spec[i].xorFlags&xorHash1 != 0 {
			h = hashN(h, 1)
		}
		if p.spec[i].xorFlags&xorHash2 != 0 {
			h = hashN(h, 2)
		}
		if p.spec[i].xorFlags&xorHash3 != 0 {
			h = hashN(h, 3)
		}
		indices[i] = h
	}

	for i := 0; i < p.numTables; i++ {
		h := int(indices[i] % uint64(p.tableSizes[i]))
		p.u.indices[i] = h
		p.u.yout += p.transfer(p.tables[i][h])
	}
}

// lookup makes a prediction for pc and returns the in-flight state.
func (p *perceptron) lookup(pc uint32, tageBits int) *update {
	p.u.pc = pc
	p.u.pc2 = uint16(pc >> 2)
	p.u.hpc = uint16(p.hashPC(pc))

	p.computeOutput(tageBits)

	p.u.prediction = p.u.yout >= 0
	p.u.confidence = p.u.yout
	return &p.u
}

// thetaSetting adjusts the training threshold with the simplified
// O-GEHL rule.
func (p *perceptron) thetaSetting(correct bool, a float64) {
	if !correct {
		p.theta++
	} else if a < p.theta {
		p.theta--
	}
	if p.theta < float64(p.minTheta) {
		p.theta = float64(p.minTheta)
	}
	if p.theta > float64(p.maxTheta) {
		p.theta = float64(p.maxTheta)
	}
}

// satIncDec trains one 6-bit weight; an uninitialized weight starts
// from zero.
func satIncDec(c int8, taken bool) int8 {
	if c == -32 {
		if taken {
			return 1
		}
		return -1
	}
	if taken {
		if c < 31 {
			c++
		}
	} else {
		if c > -31 {
			c--
		}
	}
	return c
}

// train updates the weights and theta when the prediction was wrong or
// the output failed to clear the scaled threshold.
func (p *perceptron) train(taken bool) {
	y := p.u.yout
	if !taken {
		y = -y
	}
	correct := y >= 0

	a := math.Abs(p.alpha * float64(p.u.yout))
	if correct && a > p.theta {
		return
	}

	p.u.updated = true

	p.thetaSetting(correct, a)

	for i := 0; i < p.numTables; i++ {
		w := &p.tables[i][p.u.indices[i]]
		*w = satIncDec(*w, taken)
	}
}

// retrain corrects a speculative update that was made with a wrong
// prediction: the same delta is applied twice, once to cancel the wrong
// training and once to train correctly.
func (p *perceptron) retrain(taken bool) {
	if p.u.overallPrediction == taken {
		return
	}

	for i := 0; i < p.numTables; i++ {
		w := &p.tables[i][p.u.indices[i]]
		*w = satIncDec(*w, taken)
		*w = satIncDec(*w, taken)
	}

	a := math.Abs(p.alpha * float64(p.u.yout))
	p.thetaSetting(p.u.prediction == taken, a)
	p.thetaSetting(p.u.prediction == taken, a)
}

// Masks selecting which histories record filtered (trivial) branches.
const (
	recordFilteredIMLI    = 1
	recordFilteredGhist   = 2
	recordFilteredPath    = 4
	recordFilteredAcyclic = 8
	recordFilteredMod     = 16
	recordFilteredBlurry  = 32
	recordFilteredLocal   = 64
	recordFilteredRecency = 128
)

// specUpdate updates the histories with the ground truth and, when in
// speculative mode, trains the tables with the overall prediction.
func (p *perceptron) specUpdate(target uint64, taken, pred bool, filtered bool) {
	p.u.updated = false
	p.u.overallPrediction = pred

	if !filtered && *p.specUpdateTables {
		p.train(pred)
	}

	if !filtered || p.recordMask&recordFilteredIMLI != 0 {
		if uint32(target) < p.u.pc {
			if taken {
				p.h.imliCounter1++
			} else {
				p.h.imliCounter1 = 0
			}
			if !taken {
				p.h.imliCounter2++
			} else {
				p.h.imliCounter2 = 0
			}
		} else {
			if taken {
				p.h.imliCounter3++
			} else {
				p.h.imliCounter3 = 0
			}
			if !taken {
				p.h.imliCounter4++
			} else {
				p.h.imliCounter4 = 0
			}
		}
	}

	// Hashing the outcome with a PC bit spreads the global history.
	hashedTaken := taken
	if p.hashTaken {
		hashedTaken = taken != (p.u.pc&(1<<uint(p.htbit)) == 0)
	}

	ghistW := p.ghistLength / 64

	if !filtered || p.recordMask&recordFilteredGhist != 0 {
		if uint32(target) < p.u.pc {
			updateHist(p.h.backGlobalHist[:], ghistW+1, hashedTaken)
		}
		updateHist(p.h.globalHist[:], ghistW+1, hashedTaken)
	}

	if !filtered || p.recordMask&recordFilteredPath != 0 {
		copy(p.h.pathHistory[1:p.pathLength], p.h.pathHistory[0:p.pathLength-1])
		p.h.pathHistory[0] = p.u.pc2

		if uint32(target) < p.u.pc {
			copy(p.h.backPath[1:], p.h.backPath[0:maxPathHist-1])
			p.h.backPath[0] = p.u.pc2
		}
	}

	if !filtered || p.recordMask&recordFilteredAcyclic != 0 {
		for i := 0; i < maxAcyclic; i++ {
			p.h.acyclicHistories[i][int(p.u.hpc)%(i+2)] = hashedTaken
		}
	}

	if !filtered || p.recordMask&recordFilteredMod != 0 {
		for ii, i := range p.modpathIndices {
			if int(p.u.hpc)%(i+2) == 0 {
				l := p.modpathLengths[ii]
				copy(p.h.modPathHistories[i][1:l], p.h.modPathHistories[i][0:l-1])
				p.h.modPathHistories[i][0] = p.u.pc2
			}
		}
	}

	if !filtered || p.recordMask&recordFilteredBlurry != 0 {
		for i := 0; i < maxBlurry; i++ {
			z := p.u.pc >> uint(i)
			if p.h.blurryPathHistories[i][0] != z {
				copy(p.h.blurryPathHistories[i][1:], p.h.blurryPathHistories[i][0:maxBlurry2-1])
				p.h.blurryPathHistories[i][0] = z
			}
		}
	}

	if !filtered || p.recordMask&recordFilteredMod != 0 {
		for ii, i := range p.modhistIndices {
			if int(p.u.hpc)%(i+2) == 0 {
				l := p.modhistLengths[ii]
				copy(p.h.modHistories[i][1:l], p.h.modHistories[i][0:l-1])
				p.h.modHistories[i][0] = hashedTaken
			}
		}
	}

	if !filtered || p.recordMask&recordFilteredRecency != 0 {
		p.insertRecency(p.u.pc2)
	}

	if !filtered || p.recordMask&recordFilteredLocal != 0 {
		lh := &p.h.localHistories[p.hashLocalIdx()%uint64(p.nlocalHistories)]
		updateHist(lh[:], 3, taken)
	}
}

// resolve finishes training for a resolved branch. When the tables were
// already updated speculatively the training is corrected if needed;
// otherwise the branch trains now if the speculative pass was skipped
// or wrong.
func (p *perceptron) resolve(u *update, taken bool, filtered bool) {
	p.u = *u

	if p.u.updated {
		p.retrain(taken)
	} else if !filtered {
		if taken != p.u.overallPrediction || !*p.specUpdateTables {
			p.train(taken)
		}
	}
}

// doShift feeds selected PC/target bits of a non-conditional branch into
// the global history.
func (p *perceptron) doShift(pc, target uint32, pcFlag, targetFlag int) {
	ghistW := p.ghistLength / 64
	target >>= uint(p.pcbit)
	pc >>= uint(p.pcbit)
	if p.xflag&pcFlag != 0 {
		for i := 0; i < p.xn; i++ {
			updateHist(p.h.globalHist[:], ghistW+1, pc&1 != 0)
			pc >>= 1
		}
	}
	if p.xflag&targetFlag != 0 {
		for i := 0; i < p.xn; i++ {
			updateHist(p.h.globalHist[:], ghistW+1, target&1 != 0)
			target >>= 1
		}
	}
}

// Bits of the xflag mask naming which non-conditional branch kinds shift
// which addresses into the history.
const (
	xJmpPC      = 1
	xJmpTarget  = 2
	xRetPC      = 4
	xRetTarget  = 8
	xIndPC      = 16
	xIndTarget  = 32
	xCallPC     = 64
	xCallTarget = 128
)

// nonconditionalBranch updates ghist and path history for a branch that
// is not conditional.
func (p *perceptron) nonconditionalBranch(pc, target uint32, kind nonCondKind) {
	pc2 := uint16(pc >> 2)

	if p.xflag == 0 {
		ghistW := p.ghistLength / 64
		updateHist(p.h.globalHist[:], ghistW+1, pc&(1<<uint(p.pcbit)) == 0)
	}

	switch kind {
	case nonCondReturn:
		p.doShift(pc, target, xRetPC, xRetTarget)
	case nonCondJump:
		p.doShift(pc, target, xJmpPC, xJmpTarget)
	case nonCondCall:
		p.doShift(pc, target, xCallPC, xCallTarget)
	case nonCondIndirect:
		p.doShift(pc, target, xIndPC, xIndTarget)
	}

	copy(p.h.pathHistory[1:p.pathLength], p.h.pathHistory[0:p.pathLength-1])
	p.h.pathHistory[0] = pc2
}

// nonCondKind classifies non-conditional branches for history shifting.
type nonCondKind int

const (
	nonCondJump nonCondKind = iota
	nonCondIndirect
	nonCondCall
	nonCondReturn
)
