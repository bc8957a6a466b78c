package bullseye

import "github.com/sarchlab/oosim/satcounter"

// Local history perceptron geometry.
const (
	lLogTableSize   = 8
	lHashIterations = 2

	lWeightBits     = 10
	lBiasBits       = 12
	lLogBiasEntries = 1 // a larger bias table reduced accuracy
	lThetaBits      = 10
	lTCBits         = 7

	lThetaInc     = 8
	lWeightThresh = 2

	lNumEntries = 32
	lQueueSize  = 64

	lBaselineCompBits = 6
	lStableCntBits    = 8

	lGracePeriodBits   = 9
	lGracePeriodThresh = 1<<lGracePeriodBits - 1

	lTimeAliveBits = 16

	lNumTables = 64
)

// strideSize is the advance through the local history after table x.
func strideSize(x int) int {
	if x <= 10 {
		return 0
	}
	return int(1 + 3.0/lNumTables*float64(x))
}

// windowSize is the number of history bits table x reads.
func windowSize(x int) int {
	if x <= 10 {
		return x + 1
	}
	return int(8 + 4.0/lNumTables*float64(x))
}

// lHistLen is the local history shift register length: the sum of the
// strides plus the final window.
var lHistLen = func() int {
	sum := 0
	for x := 0; x <= lNumTables-2; x++ {
		sum += strideSize(x)
	}
	return sum + windowSize(lNumTables-1)
}()

type lEntry struct {
	pc uint64

	// Index 0 is the newest history bit.
	localHist []bool

	bias  [1 << lLogBiasEntries]satcounter.Signed
	theta satcounter.Unsigned
	tc    satcounter.Signed

	baselineComp satcounter.Unsigned
	stableCnt    satcounter.Unsigned
	gracePeriod  satcounter.Unsigned
	timeAlive    satcounter.Unsigned

	oldHistories map[uint64][]bool
}

func newLEntry(pc uint64) *lEntry {
	e := &lEntry{
		pc:           pc,
		localHist:    make([]bool, lHistLen),
		theta:        satcounter.NewUnsigned(lThetaBits),
		tc:           satcounter.NewSigned(lTCBits),
		baselineComp: satcounter.NewUnsigned(lBaselineCompBits),
		stableCnt:    satcounter.NewUnsigned(lStableCntBits),
		gracePeriod:  satcounter.NewUnsigned(lGracePeriodBits),
		timeAlive:    satcounter.NewUnsigned(lTimeAliveBits),
		oldHistories: make(map[uint64][]bool),
	}
	for i := range e.bias {
		e.bias[i] = satcounter.NewSigned(lBiasBits)
	}
	thetaInit := 1.93*float64(lNumTables*lHashIterations) + 14
	e.theta.Set(uint32(thetaInit))
	return e
}

// LocalPerceptron predicts hard-to-predict branches from per-branch
// local history. Variable-size windows of the history are hashed with
// the PC into shared weight tables.
type LocalPerceptron struct {
	weights [lNumTables][1 << lLogTableSize]satcounter.Signed

	entries map[uint64]*lEntry

	queue  []uint64
	queued map[uint64]struct{}
}

// NewLocalPerceptron creates an empty local history perceptron.
func NewLocalPerceptron() *LocalPerceptron {
	p := &LocalPerceptron{
		entries: make(map[uint64]*lEntry),
		queued:  make(map[uint64]struct{}),
	}
	for i := range p.weights {
		for j := range p.weights[i] {
			p.weights[i][j] = satcounter.NewSigned(lWeightBits)
		}
	}
	return p
}

// hashIdx mixes the PC, one history window, and the hash iteration into
// a weight table index.
func hashIdx(pc, window, iteration uint64) uint32 {
	h := pc ^ (pc >> 16)
	h ^= window + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2)
	h ^= iteration + 0x7f4a7c15e3779b97 + (h << 6) + (h >> 2)

	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33

	return uint32(h & ((1 << lLogTableSize) - 1))
}

func historyWindow(hist []bool, pos, size int) uint64 {
	var idx uint64
	for j := 0; j < size; j++ {
		idx <<= 1
		if hist[pos+j] {
			idx |= 1
		}
	}
	return idx
}

// Predict computes the perceptron output for a tracked PC.
func (p *LocalPerceptron) Predict(pc uint64) PredInfo {
	entry := p.entries[pc]

	sum := entry.bias[biasIndex(entry.localHist, lLogBiasEntries)].Get() << 3

	for iteration := 0; iteration < lHashIterations; iteration++ {
		pos := 0
		for i := 0; i < lNumTables; i++ {
			idx := historyWindow(entry.localHist, pos, windowSize(i))
			hashed := hashIdx(pc, idx, uint64(iteration))

			w := p.weights[i][hashed].Get()
			if absInt32(w) >= lWeightThresh {
				sum += w
			}

			pos += strideSize(i)
		}
	}

	info := PredInfo{Sum: sum}
	info.High = absInt32(sum) > int32(entry.theta.Get()) && entry.baselineComp.MSB() == 1
	info.Med = !info.High && entry.baselineComp.MSB() == 1
	info.Low = !info.High && !info.Med
	return info
}

// HistoryUpdate shifts the predicted direction into a tracked PC's local
// history, checkpointing the pre-shift register.
func (p *LocalPerceptron) HistoryUpdate(pc uint64, id uint64, predDir bool) {
	entry, ok := p.entries[pc]
	if !ok {
		return
	}

	snapshot := make([]bool, lHistLen)
	copy(snapshot, entry.localHist)
	entry.oldHistories[id] = snapshot

	copy(entry.localHist[1:], entry.localHist[:lHistLen-1])
	entry.localHist[0] = predDir
}

// Update trains a tracked PC on the resolved direction.
func (p *LocalPerceptron) Update(pc uint64, id uint64, resolveDir, finalPred bool, percepPred int32, bestCompetitor bool) {
	entry := p.entries[pc]

	oldHist, ok := entry.oldHistories[id]
	if !ok {
		return
	}

	percepTaken := percepPred >= 0

	for _, e := range p.entries {
		e.timeAlive.Add(1)
	}
	entry.timeAlive.Reset()

	if resolveDir != percepTaken || absInt32(percepPred) <= int32(entry.theta.Get()) {
		bi := biasIndex(oldHist, lLogBiasEntries)
		if resolveDir {
			entry.bias[bi].Add(1)
		} else {
			entry.bias[bi].Sub(1)
		}

		for iteration := 0; iteration < lHashIterations; iteration++ {
			pos := 0
			for i := 0; i < lNumTables; i++ {
				idx := historyWindow(oldHist, pos, windowSize(i))
				hashed := hashIdx(pc, idx, uint64(iteration))

				if resolveDir {
					p.weights[i][hashed].Add(1)
				} else {
					p.weights[i][hashed].Sub(1)
				}

				pos += strideSize(i)
			}
		}
	}

	// O-GEHL style dynamic threshold.
	if resolveDir != percepTaken {
		entry.tc.Add(1)
		if entry.tc.IsMax() {
			entry.theta.Add(lThetaInc)
			entry.tc.Reset()
		}
	} else if absInt32(percepPred) <= int32(entry.theta.Get()) {
		entry.tc.Sub(1)
		if entry.tc.IsMin() {
			entry.theta.Sub(lThetaInc)
			entry.tc.Reset()
		}
	}

	// Correct the speculative shift on a misprediction.
	if finalPred != resolveDir && entry.localHist[0] == finalPred {
		entry.localHist[0] = resolveDir
	}

	delete(entry.oldHistories, id)

	if entry.gracePeriod.Get() < lGracePeriodThresh {
		entry.gracePeriod.Add(1)
	} else {
		if entry.baselineComp.Get() == 0 || entry.baselineComp.IsMax() {
			entry.stableCnt.Add(1)
		} else {
			entry.stableCnt.Rsh(1)
		}
	}

	if bestCompetitor == resolveDir && percepTaken != resolveDir {
		entry.baselineComp.Sub(1)
	} else if bestCompetitor != resolveDir && percepTaken == resolveDir {
		entry.baselineComp.Add(1)
	}
}

// CheckEviction evicts a tracked PC whose baseline comparison has been
// stably pinned at zero. Returns true if an eviction happened.
func (p *LocalPerceptron) CheckEviction(pc uint64) bool {
	entry, ok := p.entries[pc]
	if !ok {
		return false
	}
	if entry.stableCnt.IsMax() && entry.baselineComp.Get() == 0 {
		delete(p.entries, pc)
		p.promoteQueued()
		return true
	}
	return false
}

// CheckStaleEviction evicts at most one entry that has not resolved for
// the full time-alive window.
func (p *LocalPerceptron) CheckStaleEviction() bool {
	for pc, entry := range p.entries {
		if entry.timeAlive.IsMax() {
			delete(p.entries, pc)
			p.promoteQueued()
			return true
		}
	}
	return false
}

func (p *LocalPerceptron) promoteQueued() {
	if len(p.queue) == 0 {
		return
	}
	newPC := p.queue[0]
	p.queue = p.queue[1:]
	delete(p.queued, newPC)
	if _, ok := p.entries[newPC]; !ok {
		p.entries[newPC] = newLEntry(newPC)
	}
}

// Insert starts tracking a PC, queueing it when the entry table is full.
// PC zero encodes the null entry and is rejected.
func (p *LocalPerceptron) Insert(pc uint64) {
	if pc == 0 {
		return
	}
	if _, ok := p.entries[pc]; ok {
		return
	}

	switch {
	case len(p.entries) < lNumEntries:
		p.entries[pc] = newLEntry(pc)
	case len(p.queue) < lQueueSize:
		p.queue = append(p.queue, pc)
		p.queued[pc] = struct{}{}
	default:
		delete(p.queued, p.queue[0])
		p.queue = p.queue[1:]
		p.queue = append(p.queue, pc)
		p.queued[pc] = struct{}{}
	}
}

// Contains reports whether pc has an entry.
func (p *LocalPerceptron) Contains(pc uint64) bool {
	_, ok := p.entries[pc]
	return ok
}

// ContainsOrQueued reports whether pc has an entry or waits in the
// admission queue.
func (p *LocalPerceptron) ContainsOrQueued(pc uint64) bool {
	if p.Contains(pc) {
		return true
	}
	_, ok := p.queued[pc]
	return ok
}

// IsSuperior reports whether pc's entry has trained long enough to trust
// over the baseline predictor.
func (p *LocalPerceptron) IsSuperior(pc uint64) bool {
	entry := p.entries[pc]
	return entry.baselineComp.MSB() == 1 && entry.stableCnt.IsMax()
}
