// Package bullseye implements a composite conditional branch predictor:
// TAGE-SC-L as the baseline, a local-history and a global-history
// perceptron dedicated to hard-to-predict branches, and an identifier
// that decides which branches deserve a dedicated learner.
package bullseye

import (
	"fmt"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/branch/tagescl"
)

// predInfo is the per-prediction state checkpointed between Predict and
// Resolve.
type predInfo struct {
	finalPred bool
	tagePred  bool
	local     PredInfo
	global    PredInfo
}

// Stats counts how the composite predictor distributed its work.
type Stats struct {
	branch.Stats

	H2PInserts           uint64
	H2PWithTage          uint64
	H2PWithLocal         uint64
	H2PWithGlobal        uint64
	FilteredUpdates      uint64
	LocalEvictions       uint64
	GlobalEvictions      uint64
	LocalStaleEvictions  uint64
	GlobalStaleEvictions uint64
}

// Predictor is the composite conditional branch predictor.
type Predictor struct {
	tage   *tagescl.Engine
	local  *LocalPerceptron
	global *GlobalPerceptron
	h2p    *H2PTable

	activeHist  predInfo
	checkpoints map[uint64]predInfo

	stats Stats
}

// New creates an initialized composite predictor.
func New() *Predictor {
	return &Predictor{
		tage:        tagescl.New(),
		local:       NewLocalPerceptron(),
		global:      NewGlobalPerceptron(),
		h2p:         NewH2PTable(),
		checkpoints: make(map[uint64]predInfo),
	}
}

// Initialize prepares the predictor before the first prediction.
func (p *Predictor) Initialize() {}

// Predict returns the direction prediction for the conditional branch at
// pc. The winning learner is picked by confidence: a perceptron entry
// wins when it is high-confidence or has proven superior; TAGE-SC-L wins
// when its own confidence is high; medium-confidence perceptrons come
// next; TAGE is the fallback.
func (p *Predictor) Predict(seqID uint64, pc uint64) bool {
	p.activeHist.tagePred = p.tage.Predict(seqID, 0, pc)

	hasLocal := p.local.Contains(pc)
	hasGlobal := p.global.Contains(pc)
	if hasLocal {
		p.activeHist.local = p.local.Predict(pc)
	}
	if hasGlobal {
		p.activeHist.global = p.global.Predict(pc)
	}

	scConfident := p.tage.IsSCConfident()

	switch {
	case hasLocal && (p.activeHist.local.High || p.local.IsSuperior(pc)):
		p.activeHist.finalPred = p.activeHist.local.Taken()
		p.stats.H2PWithLocal++
	case hasGlobal && (p.activeHist.global.High || p.global.IsSuperior(pc)):
		p.activeHist.finalPred = p.activeHist.global.Taken()
		p.stats.H2PWithGlobal++
	case p.tage.HighConf || scConfident:
		p.activeHist.finalPred = p.activeHist.tagePred
		p.stats.H2PWithTage++
	case hasLocal && p.activeHist.local.Med:
		p.activeHist.finalPred = p.activeHist.local.Taken()
		p.stats.H2PWithLocal++
	case hasGlobal && p.activeHist.global.Med:
		p.activeHist.finalPred = p.activeHist.global.Taken()
		p.stats.H2PWithGlobal++
	case hasLocal || hasGlobal:
		p.activeHist.finalPred = p.activeHist.tagePred
		p.stats.H2PWithTage++
	default:
		p.activeHist.finalPred = p.activeHist.tagePred
	}

	p.checkpoints[seqID] = p.activeHist

	return p.activeHist.finalPred
}

// Resolve delivers the outcome of a previously predicted branch, trains
// all learners, and maintains the hard-to-predict census.
func (p *Predictor) Resolve(seqID uint64, pc uint64, taken bool, predDir bool, nextPC uint64) {
	hist, ok := p.checkpoints[seqID]
	if !ok {
		panic(fmt.Sprintf(
			"bullseye: resolve without matching predict (seq=%d pc=%#x)", seqID, pc))
	}

	p.stats.Record(predDir == taken)

	// Advance the speculative histories with the prediction first; the
	// trainers below read the pre-shift snapshots and correct the shifted
	// bit on a misprediction.
	p.local.HistoryUpdate(pc, seqID, hist.finalPred)
	p.global.HistoryUpdate(pc, seqID, hist.finalPred)
	p.tage.HistoryUpdate(pc, tagescl.BrConditional, hist.finalPred, taken, nextPC)

	if p.local.Contains(pc) {
		p.local.Update(pc, seqID, taken, predDir, hist.local.Sum, hist.tagePred)
	}
	if p.global.Contains(pc) {
		p.global.Update(pc, seqID, taken, predDir, hist.global.Sum, hist.tagePred)
	} else {
		p.global.RefineGhist(taken, predDir)
	}

	if p.local.CheckEviction(pc) {
		p.h2p.EvictH2P(pc)
		p.stats.LocalEvictions++
	}
	if p.global.CheckEviction(pc) {
		p.h2p.EvictH2P(pc)
		p.stats.GlobalEvictions++
	}
	if p.local.CheckStaleEviction() {
		p.h2p.EvictH2P(pc)
		p.stats.LocalStaleEvictions++
	}
	if p.global.CheckStaleEviction() {
		p.h2p.EvictH2P(pc)
		p.stats.GlobalStaleEvictions++
	}

	// A branch already claimed by a learner no longer feeds the census.
	if !p.local.ContainsOrQueued(pc) && !p.global.ContainsOrQueued(pc) {
		if p.h2p.Update(pc, predDir == taken) {
			p.stats.H2PInserts++
			p.local.Insert(pc)
			p.global.Insert(pc)
		}
	}

	// A superior dedicated learner shields TAGE from training on its
	// branch.
	filter := p.local.Contains(pc) && p.local.IsSuperior(pc)
	filter = filter || (p.global.Contains(pc) && p.global.IsSuperior(pc))
	if filter {
		p.stats.FilteredUpdates++
	}

	p.tage.Update(seqID, 0, pc, taken, nextPC, filter)

	delete(p.checkpoints, seqID)
}

// TrackOtherInst advances history state for a non-conditional branch.
func (p *Predictor) TrackOtherInst(pc uint64, brType branch.Type, taken bool, nextPC uint64) {
	p.tage.TrackOtherInst(pc, tageBrType(brType), taken, taken, nextPC)
}

func tageBrType(t branch.Type) int {
	bits := 0
	if t.IsConditional() {
		bits |= tagescl.BrConditional
	}
	switch t {
	case branch.TypeUncondIndirect, branch.TypeCallIndirect, branch.TypeReturn:
		bits |= tagescl.BrIndirect
	}
	return bits
}

// Stats returns the composite predictor's counters.
func (p *Predictor) Stats() Stats { return p.stats }

// FinalStats prints the predictor's end-of-run report, including the
// storage budget.
func (p *Predictor) FinalStats() {
	fmt.Println("======== Predictor Memory ========")
	tageBits := p.tage.PredictorSize()
	fmt.Printf("TAGE-SC-L (bits) = %d\n", tageBits)
	fmt.Printf("TAGE-SC-L (KBytes) = %f\n", float64(tageBits)/8192.0)

	fmt.Println("======== Runtime Statistics ========")
	fmt.Printf("h2p_insert_cnt = %d\n", p.stats.H2PInserts)
	fmt.Printf("h2p_with_tage = %d\n", p.stats.H2PWithTage)
	fmt.Printf("h2p_with_lhist_percep = %d\n", p.stats.H2PWithLocal)
	fmt.Printf("h2p_with_ghist_percep = %d\n", p.stats.H2PWithGlobal)
	fmt.Printf("filtered_updates = %d\n", p.stats.FilteredUpdates)
	fmt.Printf("lhist_percep_evictions = %d\n", p.stats.LocalEvictions)
	fmt.Printf("ghist_percep_evictions = %d\n", p.stats.GlobalEvictions)
	fmt.Printf("lhist_percep_stale_evictions = %d\n", p.stats.LocalStaleEvictions)
	fmt.Printf("ghist_percep_stale_evictions = %d\n", p.stats.GlobalStaleEvictions)
	fmt.Println("======== End of Statistics ========")
}
