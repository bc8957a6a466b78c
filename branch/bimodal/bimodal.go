// Package bimodal implements a two-bit saturating counter predictor
// with a branch target buffer. It is the baseline the composite
// predictors are measured against.
package bimodal

import (
	"fmt"

	"github.com/sarchlab/oosim/branch"
)

// Config holds configuration for the bimodal predictor.
type Config struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2. Default is 1024.
	BHTSize uint32
	// BTBSize is the number of entries in the Branch Target Buffer.
	// Must be a power of 2. Default is 256.
	BTBSize uint32
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BHTSize: 1024,
		BTBSize: 256,
	}
}

// btbEntry represents an entry in the Branch Target Buffer.
type btbEntry struct {
	pc     uint64
	target uint64
}

// Predictor is a bimodal predictor: 2-bit saturating counters indexed
// by the PC, plus a BTB for targets.
type Predictor struct {
	// States: 0=Strongly Not Taken, 1=Weakly Not Taken,
	//         2=Weakly Taken, 3=Strongly Taken
	bht []uint8

	btb      []btbEntry
	btbValid []bool

	bhtSize uint32
	btbSize uint32

	stats branch.Stats

	btbHits   uint64
	btbMisses uint64
}

// New creates a bimodal predictor with the given configuration.
func New(config Config) *Predictor {
	bhtSize := config.BHTSize
	btbSize := config.BTBSize
	if bhtSize == 0 {
		bhtSize = 1024
	}
	if btbSize == 0 {
		btbSize = 256
	}

	p := &Predictor{
		bht:      make([]uint8, bhtSize),
		btb:      make([]btbEntry, btbSize),
		btbValid: make([]bool, btbSize),
		bhtSize:  bhtSize,
		btbSize:  btbSize,
	}

	// Start weakly taken - biased towards taken.
	for i := range p.bht {
		p.bht[i] = 2
	}

	return p
}

func (p *Predictor) bhtIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(p.bhtSize-1))
}

func (p *Predictor) btbIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(p.btbSize-1))
}

// Initialize prepares the predictor before the first prediction.
func (p *Predictor) Initialize() {}

// Predict returns the predicted direction for the branch at pc. The
// bimodal predictor keeps no in-flight state, so the sequence id only
// serves the module contract.
func (p *Predictor) Predict(seqID uint64, pc uint64) bool {
	btbIdx := p.btbIndex(pc)
	if p.btbValid[btbIdx] && p.btb[btbIdx].pc == pc {
		p.btbHits++
	} else {
		p.btbMisses++
	}

	return p.bht[p.bhtIndex(pc)] >= 2
}

// Resolve trains the counter and the BTB with the branch outcome.
func (p *Predictor) Resolve(seqID uint64, pc uint64, taken bool, predDir bool, nextPC uint64) {
	p.stats.Record(predDir == taken)

	idx := p.bhtIndex(pc)
	if taken {
		if p.bht[idx] < 3 {
			p.bht[idx]++
		}
	} else {
		if p.bht[idx] > 0 {
			p.bht[idx]--
		}
	}

	if taken {
		btbIdx := p.btbIndex(pc)
		p.btb[btbIdx] = btbEntry{pc: pc, target: nextPC}
		p.btbValid[btbIdx] = true
	}
}

// TrackOtherInst is a no-op; the bimodal predictor keeps no history.
func (p *Predictor) TrackOtherInst(pc uint64, brType branch.Type, taken bool, nextPC uint64) {}

// Stats returns the predictor's counters.
func (p *Predictor) Stats() branch.Stats { return p.stats }

// FinalStats prints the predictor's end-of-run report.
func (p *Predictor) FinalStats() {
	fmt.Println("======== Bimodal Predictor ========")
	fmt.Printf("predictions = %d\n", p.stats.Predictions)
	fmt.Printf("accuracy = %.3f%%\n", p.stats.Accuracy())
	total := p.btbHits + p.btbMisses
	if total > 0 {
		fmt.Printf("btb_hit_rate = %.3f%%\n", float64(p.btbHits)/float64(total)*100)
	}
	fmt.Println("======== End of Statistics ========")
}
