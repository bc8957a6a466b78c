package bullseye

import "github.com/sarchlab/oosim/satcounter"

// Global history perceptron geometry.
const (
	gHistLen        = 128
	gWeightBits     = 12
	gBiasBits       = 10
	gLogBiasEntries = 4
	gThetaBits      = 14
	gTCBits         = 7

	gThetaInc     = 8
	gWeightThresh = 2

	gNumEntries = 16
	gQueueSize  = 64

	gBaselineCompBits = 6
	gStableCntBits    = 8

	gGracePeriodBits   = 9
	gGracePeriodThresh = 1<<gGracePeriodBits - 1

	gTimeAliveBits = 16
)

// PredInfo carries a perceptron output and its confidence band.
type PredInfo struct {
	Sum  int32
	High bool
	Med  bool
	Low  bool
}

// Taken returns the predicted direction.
func (p PredInfo) Taken() bool { return p.Sum >= 0 }

type gEntry struct {
	pc uint64

	weights [gHistLen]satcounter.Signed
	bias    [1 << gLogBiasEntries]satcounter.Signed

	theta satcounter.Unsigned
	tc    satcounter.Signed

	baselineComp satcounter.Unsigned
	stableCnt    satcounter.Unsigned
	gracePeriod  satcounter.Unsigned
	timeAlive    satcounter.Unsigned

	// History snapshots per in-flight prediction id.
	oldHistories map[uint64][]bool
}

func newGEntry(pc uint64) *gEntry {
	e := &gEntry{
		pc:           pc,
		theta:        satcounter.NewUnsigned(gThetaBits),
		tc:           satcounter.NewSigned(gTCBits),
		baselineComp: satcounter.NewUnsigned(gBaselineCompBits),
		stableCnt:    satcounter.NewUnsigned(gStableCntBits),
		gracePeriod:  satcounter.NewUnsigned(gGracePeriodBits),
		timeAlive:    satcounter.NewUnsigned(gTimeAliveBits),
		oldHistories: make(map[uint64][]bool),
	}
	for i := range e.weights {
		e.weights[i] = satcounter.NewSigned(gWeightBits)
	}
	for i := range e.bias {
		e.bias[i] = satcounter.NewSigned(gBiasBits)
	}
	e.theta.Set(uint32(2.5 * gHistLen))
	return e
}

// GlobalPerceptron predicts hard-to-predict branches from a fixed window
// of global history with one weight per history position.
type GlobalPerceptron struct {
	// Index 0 is the newest history bit.
	globalHist []bool

	entries map[uint64]*gEntry

	queue  []uint64
	queued map[uint64]struct{}
}

// NewGlobalPerceptron creates an empty global history perceptron.
func NewGlobalPerceptron() *GlobalPerceptron {
	return &GlobalPerceptron{
		globalHist: make([]bool, gHistLen),
		entries:    make(map[uint64]*gEntry),
		queued:     make(map[uint64]struct{}),
	}
}

func biasIndex(hist []bool, logEntries int) int {
	idx := 0
	for i := 0; i < logEntries; i++ {
		idx <<= 1
		if hist[i] {
			idx |= 1
		}
	}
	return idx
}

// Predict computes the perceptron output for a tracked PC.
func (p *GlobalPerceptron) Predict(pc uint64) PredInfo {
	entry := p.entries[pc]

	sum := entry.bias[biasIndex(p.globalHist, gLogBiasEntries)].Get() << 3

	for i := 0; i < gHistLen; i++ {
		w := entry.weights[i].Get()
		if absInt32(w) >= gWeightThresh {
			if p.globalHist[i] {
				sum += w
			} else {
				sum -= w
			}
		}
	}

	info := PredInfo{Sum: sum}
	info.High = absInt32(sum) > int32(entry.theta.Get()) && entry.baselineComp.MSB() == 1
	info.Med = !info.High && entry.baselineComp.MSB() == 1
	info.Low = !info.High && !info.Med
	return info
}

// HistoryUpdate shifts the predicted direction into the global history,
// checkpointing the pre-shift window for a tracked PC.
func (p *GlobalPerceptron) HistoryUpdate(pc uint64, id uint64, predDir bool) {
	if entry, ok := p.entries[pc]; ok {
		snapshot := make([]bool, gHistLen)
		copy(snapshot, p.globalHist)
		entry.oldHistories[id] = snapshot
	}

	copy(p.globalHist[1:], p.globalHist[:gHistLen-1])
	p.globalHist[0] = predDir
}

// Update trains a tracked PC on the resolved direction. bestCompetitor
// is the direction the strongest competing predictor produced.
func (p *GlobalPerceptron) Update(pc uint64, id uint64, resolveDir, finalPred bool, percepPred int32, bestCompetitor bool) {
	entry := p.entries[pc]

	oldHist, ok := entry.oldHistories[id]
	if !ok {
		// The entry was created between prediction and resolve; training
		// on the wrong history hurts the initial weights.
		return
	}

	percepTaken := percepPred >= 0

	for _, e := range p.entries {
		e.timeAlive.Add(1)
	}
	entry.timeAlive.Reset()

	if resolveDir != percepTaken || absInt32(percepPred) <= int32(entry.theta.Get()) {
		bi := biasIndex(oldHist, gLogBiasEntries)
		if resolveDir {
			entry.bias[bi].Add(1)
		} else {
			entry.bias[bi].Sub(1)
		}

		for i := 0; i < gHistLen; i++ {
			if oldHist[i] == resolveDir {
				entry.weights[i].Add(1)
			} else {
				entry.weights[i].Sub(1)
			}
		}
	}

	// O-GEHL style dynamic threshold.
	if resolveDir != percepTaken {
		entry.tc.Add(1)
		if entry.tc.IsMax() {
			entry.theta.Add(gThetaInc)
			entry.tc.Reset()
		}
	} else if absInt32(percepPred) <= int32(entry.theta.Get()) {
		entry.tc.Sub(1)
		if entry.tc.IsMin() {
			entry.theta.Sub(gThetaInc)
			entry.tc.Reset()
		}
	}

	p.RefineGhist(resolveDir, finalPred)

	delete(entry.oldHistories, id)

	if entry.gracePeriod.Get() < gGracePeriodThresh {
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

// RefineGhist corrects the speculative history shift after a
// misprediction. The newest bit holds the wrong predicted direction;
// replace it with the resolved one.
func (p *GlobalPerceptron) RefineGhist(resolveDir, predDir bool) {
	if predDir != resolveDir && p.globalHist[0] == predDir {
		p.globalHist[0] = resolveDir
	}
}

// CheckEviction evicts a tracked PC whose baseline comparison has been
// stably pinned at zero. Returns true if an eviction happened.
func (p *GlobalPerceptron) CheckEviction(pc uint64) bool {
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
func (p *GlobalPerceptron) CheckStaleEviction() bool {
	for pc, entry := range p.entries {
		if entry.timeAlive.IsMax() {
			delete(p.entries, pc)
			p.promoteQueued()
			return true
		}
	}
	return false
}

func (p *GlobalPerceptron) promoteQueued() {
	if len(p.queue) == 0 {
		return
	}
	newPC := p.queue[0]
	p.queue = p.queue[1:]
	delete(p.queued, newPC)
	if _, ok := p.entries[newPC]; !ok {
		p.entries[newPC] = newGEntry(newPC)
	}
}

// Insert starts tracking a PC, queueing it when the entry table is full.
// PC zero encodes the null entry and is rejected.
func (p *GlobalPerceptron) Insert(pc uint64) {
	if pc == 0 {
		return
	}
	if _, ok := p.entries[pc]; ok {
		return
	}

	switch {
	case len(p.entries) < gNumEntries:
		p.entries[pc] = newGEntry(pc)
	case len(p.queue) < gQueueSize:
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
func (p *GlobalPerceptron) Contains(pc uint64) bool {
	_, ok := p.entries[pc]
	return ok
}

// ContainsOrQueued reports whether pc has an entry or waits in the
// admission queue.
func (p *GlobalPerceptron) ContainsOrQueued(pc uint64) bool {
	if p.Contains(pc) {
		return true
	}
	_, ok := p.queued[pc]
	return ok
}

// IsSuperior reports whether pc's entry has trained long enough to trust
// over the baseline predictor.
func (p *GlobalPerceptron) IsSuperior(pc uint64) bool {
	entry := p.entries[pc]
	return entry.baselineComp.MSB() == 1 && entry.stableCnt.IsMax()
}

func absInt32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
