// Package branch defines the types shared by the conditional branch
// predictor engines and the module interface the simulator drives them
// through.
package branch

// Type classifies a control-flow instruction. The predictor engines only
// predict conditional branches but advance their path histories on every
// branch kind.
type Type int

// Branch kinds, in the order the trace format encodes them.
const (
	TypeOther Type = iota
	TypeCondDirect
	TypeUncondDirect
	TypeUncondIndirect
	TypeCallDirect
	TypeCallIndirect
	TypeReturn
)

// IsConditional reports whether this branch kind has a predictable
// direction.
func (t Type) IsConditional() bool { return t == TypeCondDirect }

func (t Type) String() string {
	switch t {
	case TypeCondDirect:
		return "cond"
	case TypeUncondDirect:
		return "jmp"
	case TypeUncondIndirect:
		return "jmp-ind"
	case TypeCallDirect:
		return "call"
	case TypeCallIndirect:
		return "call-ind"
	case TypeReturn:
		return "ret"
	}
	return "other"
}

// Predictor is the module interface the host simulator consumes. One
// instance predicts one hardware thread.
//
// The host must pair every Predict with exactly one Resolve carrying the
// same sequence id; an unmatched Resolve is a protocol violation and
// panics.
type Predictor interface {
	// Initialize prepares the predictor before the first prediction.
	Initialize()

	// Predict returns the predicted direction of the conditional branch
	// at pc and checkpoints the in-flight state under seqID.
	Predict(seqID uint64, pc uint64) bool

	// Resolve delivers the outcome of a previously predicted conditional
	// branch and trains all learners. predDir is the direction the host
	// acted on, nextPC the fall-through or target the branch led to.
	Resolve(seqID uint64, pc uint64, taken bool, predDir bool, nextPC uint64)

	// TrackOtherInst advances history state for a non-conditional branch.
	TrackOtherInst(pc uint64, brType Type, taken bool, nextPC uint64)

	// FinalStats prints the predictor's end-of-run report.
	FinalStats()
}

// Stats accumulates prediction outcomes for a predictor instance.
type Stats struct {
	// Predictions is the total number of conditional predictions made.
	Predictions uint64
	// Correct is the number of correct predictions.
	Correct uint64
	// Mispredictions is the number of incorrect predictions.
	Mispredictions uint64
}

// Record tallies one resolved prediction.
func (s *Stats) Record(correct bool) {
	s.Predictions++
	if correct {
		s.Correct++
	} else {
		s.Mispredictions++
	}
}

// Accuracy returns the prediction accuracy as a percentage.
func (s Stats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// MPKI returns mispredictions per thousand predictions.
func (s Stats) MPKI() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 1000
}
