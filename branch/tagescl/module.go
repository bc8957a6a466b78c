package tagescl

import (
	"fmt"

	"github.com/sarchlab/oosim/branch"
)

// Module wraps the engine in the predictor module interface so the
// driver can run TAGE-SC-L standalone.
type Module struct {
	engine *Engine
	stats  branch.Stats
}

// NewModule creates a standalone TAGE-SC-L predictor module.
func NewModule() *Module {
	return &Module{engine: New()}
}

// Engine exposes the underlying engine.
func (m *Module) Engine() *Engine { return m.engine }

// Initialize prepares the predictor before the first prediction.
func (m *Module) Initialize() {}

// Predict returns the predicted direction for the conditional branch at
// pc.
func (m *Module) Predict(seqID uint64, pc uint64) bool {
	return m.engine.Predict(seqID, 0, pc)
}

// Resolve trains the engine with the branch outcome.
func (m *Module) Resolve(seqID uint64, pc uint64, taken bool, predDir bool, nextPC uint64) {
	m.stats.Record(predDir == taken)
	m.engine.HistoryUpdate(pc, BrConditional, predDir, taken, nextPC)
	m.engine.Update(seqID, 0, pc, taken, nextPC, false)
}

// TrackOtherInst advances history state for a non-conditional branch.
func (m *Module) TrackOtherInst(pc uint64, brType branch.Type, taken bool, nextPC uint64) {
	bits := 0
	switch brType {
	case branch.TypeUncondIndirect, branch.TypeCallIndirect, branch.TypeReturn:
		bits = BrIndirect
	}
	m.engine.TrackOtherInst(pc, bits, taken, taken, nextPC)
}

// Stats returns the module's counters.
func (m *Module) Stats() branch.Stats { return m.stats }

// FinalStats prints the module's end-of-run report.
func (m *Module) FinalStats() {
	fmt.Println("======== TAGE-SC-L ========")
	fmt.Printf("storage (bits) = %d\n", m.engine.PredictorSize())
	fmt.Printf("predictions = %d\n", m.stats.Predictions)
	fmt.Printf("accuracy = %.3f%%\n", m.stats.Accuracy())
	fmt.Printf("mpki = %.3f\n", m.stats.MPKI())
	fmt.Println("======== End of Statistics ========")
}
