// Package mpp implements the multiperspective perceptron composite
// predictor: a hashed perceptron over many control-flow history
// features, paired with TAGE-SC-L through a tuned linear combiner and a
// Bloom-filtered shortcut for trivial branches.
package mpp

import (
	"fmt"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/branch/tagescl"
)

// Predictor is the combined MPP/TAGE-SC-L conditional branch predictor.
type Predictor struct {
	tage     *tagescl.Engine
	combiner *combiner

	specUpdateTables bool
	nentriesTotal    int

	// Per in-flight branch, the prediction used for speculative
	// training.
	predictions map[uint64]bool

	stats branch.Stats
}

// New creates an initialized combined predictor.
func New() *Predictor {
	p := &Predictor{
		tage:        tagescl.New(),
		predictions: make(map[uint64]bool),
	}
	p.specUpdateTables = true

	// The combiner needs the MPP history bit count to size the weight
	// tables, but only an MPP instance knows it. Build a probe instance
	// first, let the combiner compute the real entry budget from its
	// history bits, then build the real instance.
	p.nentriesTotal = -1
	probe := newMPP(&p.specUpdateTables, &p.nentriesTotal)
	p.combiner = newCombiner(probe.historyBits, &p.specUpdateTables, &p.nentriesTotal)
	p.combiner.attach(newMPP(&p.specUpdateTables, &p.nentriesTotal))

	return p
}

// newMPP builds an MPP instance with the tuned parameters.
func newMPP(specUpdateTables *bool, nentriesTotal *int) *perceptron {
	return newPerceptron(
		tunedSpec,
		11,  // initial training threshold theta
		0.3, // alpha, the learning rate for threshold training
		xferTable[:],
		3,    // PC bit hashed with the global history
		2,    // PC bit hashed with the outcome
		30,   // ghist block size
		true, // hash the outcome with a PC bit
		191,  // mask of histories that record filtered branches
		xIndPC|xCallPC|xCallTarget,
		3, // bits of non-conditional branches to shift in
		specUpdateTables,
		nentriesTotal,
	)
}

// Initialize prepares the predictor before the first prediction.
func (p *Predictor) Initialize() {}

// Predict returns the combined direction prediction for the conditional
// branch at pc and checkpoints the in-flight state under seqID.
func (p *Predictor) Predict(seqID uint64, pc uint64) bool {
	tagePred := p.tage.Predict(seqID, 0, pc)
	tageBits := p.tage.TageBits(tagePred)

	pred := p.combiner.lookup(uint32(pc), seqID, tageBits)
	p.predictions[seqID] = pred
	return pred
}

// Resolve delivers the outcome of a previously predicted branch and
// trains the combined predictor. A missing checkpoint is a protocol
// violation and panics.
func (p *Predictor) Resolve(seqID uint64, pc uint64, taken bool, predDir bool, nextPC uint64) {
	pred, ok := p.predictions[seqID]
	if !ok {
		panic(fmt.Sprintf(
			"mpp: resolve without matching predict (seq=%d pc=%#x)", seqID, pc))
	}
	delete(p.predictions, seqID)

	p.stats.Record(predDir == taken)

	// Advance histories with the ground truth, speculatively training
	// the tables with the prediction, then finish training.
	p.tage.HistoryUpdate(pc, tagescl.BrConditional, pred, taken, nextPC)
	p.combiner.specUpdate(nextPC, taken, pred, seqID)

	p.tage.Update(seqID, 0, pc, taken, nextPC, false)
	p.combiner.resolve(nextPC, taken, seqID)
}

// TrackOtherInst advances history state for a non-conditional branch.
func (p *Predictor) TrackOtherInst(pc uint64, brType branch.Type, taken bool, nextPC uint64) {
	bits := 0
	var kind nonCondKind
	switch brType {
	case branch.TypeReturn:
		bits = tagescl.BrIndirect
		kind = nonCondReturn
	case branch.TypeUncondIndirect:
		bits = tagescl.BrIndirect
		kind = nonCondIndirect
	case branch.TypeCallIndirect:
		bits = tagescl.BrIndirect
		kind = nonCondCall
	case branch.TypeCallDirect:
		kind = nonCondCall
	default:
		kind = nonCondJump
	}
	p.tage.TrackOtherInst(pc, bits, taken, taken, nextPC)
	p.combiner.nonconditionalBranch(uint32(pc), uint32(nextPC), kind)
}

// Stats returns the predictor's counters.
func (p *Predictor) Stats() branch.Stats { return p.stats }

// FinalStats prints the predictor's end-of-run report.
func (p *Predictor) FinalStats() {
	fmt.Println("======== Predictor Memory ========")
	fmt.Printf("TAGE-SC-L (bits) = %d\n", p.tage.PredictorSize())
	fmt.Printf("MPP weight entries = %d\n", p.nentriesTotal)
	fmt.Println("======== Runtime Statistics ========")
	fmt.Printf("predictions = %d\n", p.stats.Predictions)
	fmt.Printf("mispredictions = %d\n", p.stats.Mispredictions)
	fmt.Printf("accuracy = %.3f%%\n", p.stats.Accuracy())
	fmt.Println("======== End of Statistics ========")
}
