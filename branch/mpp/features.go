package mpp

// historyType names the kind of control-flow history a feature hashes.
type historyType int

const (
	// acyclic history: array[pc%modulus] of most recent outcomes
	featAcyclic historyType = iota + 1
	// modulo history: shift an outcome in when pc%modulus == 0
	featModHist
	// bias of this branch
	featBias
	// hash of a recency stack of PCs
	featRecency
	// innermost loop iteration counter
	featIMLI
	// path history
	featPath
	// local (per-branch) history
	featLocal
	// like modhist but with path history
	featModPath
	// (path history << 1) | global history
	featGhistPath
	// (mod path history << 1) | mod history
	featGhistModPath
	// "page" history of recently visited regions
	featBlurryPath
	// position of this PC in the recency stack
	featRecencyPos
	// hashed history of backward branches
	featBackPath
	// combined backward path and backward global history
	featBackGhistPath
	// confidence, LSUM, and prediction from TAGE-SC-L
	featTage
)

// Flags selecting extra hash refinements for a feature's index.
const (
	xorHash1 = 8
	xorHash2 = 16
	xorHash3 = 32
)

// historySpec describes one feature: its history type, up to six
// parameters, and which extra hashes to apply.
type historySpec struct {
	typ                    historyType
	p1, p2, p3, p4, p5, p6 int
	xorFlags               uint
}

// tunedSpec is the tuned 33-feature set. Tuned data, not a structure to
// rederive.
var tunedSpec = []historySpec{
	{featLocal, 23, 27, 0, 0, 0, 0, 16},
	{featAcyclic, 10, -1, -1, -1, -1, 0, 0},
	{featTage, 11, 9, 0, 0, -1, 0, 8},
	{featModHist, 5, 17, -1, -1, -1, 0, 8},
	{featAcyclic, 9, -1, -1, -1, -1, 0, 0},

	{featLocal, 3, 34, 0, 0, 0, 0, 8},
	{featLocal, 0, 13, 0, 0, 0, 0, 0},
	{featGhistPath, 1, 16, 0, 0, 0, 0, 16},
	{featGhistModPath, 4, 8, 5, -1, -1, 0, 8},
	{featGhistModPath, 5, 5, 2, -1, -1, 0, 16},

	{featRecencyPos, 56, 0, -1, -1, -1, 0, 0},
	{featLocal, 10, 32, 0, 0, 0, 0, 0},
	{featGhistPath, 29, 41, 8, 6, 0, 0, 0},
	{featGhistPath, 1, 22, 6, 8, 0, 0, 16},
	{featIMLI, 4, -1, -1, -1, -1, 0, 16},

	{featLocal, 0, 9, 0, 0, 0, 0, 0},
	{featGhistModPath, 2, 16, 6, -1, -1, 0, 0},
	{featLocal, 0, 20, 0, 0, 0, 0, 8},
	{featGhistPath, 0, 9, 3, 0, 0, 0, 8},
	{featGhistModPath, 0, 19, 5, -1, -1, 0, 16},

	{featModPath, 1, 20, 1, -1, -1, 0, 8},
	{featModHist, 3, 22, -1, -1, -1, 0, 0},
	{featGhistModPath, 1, 7, 1, -1, -1, 0, 8},
	{featLocal, 0, 1, 0, 0, 0, 0, 0},
	{featModPath, 3, 9, 4, -1, -1, 0, 8},

	{featGhistModPath, 3, 14, 6, -1, -1, 0, 16},
	{featBlurryPath, 11, 9, 2, -1, -1, 0, 8},
	{featRecency, 10, 1, -1, -1, -1, 0, 8},
	{featLocal, 0, 5, 0, 0, 0, 0, 8},
	{featGhistPath, 22, 33, 6, 8, 0, 0, 16},

	{featModPath, 1, 26, 3, -1, -1, 0, 8},
	{featGhistModPath, 5, 14, 1, -1, -1, 0, 8},
	{featBackPath, 22, 6, 0, 0, 0, 0, 8},
}

// xferTable maps a 6-bit perceptron weight to an inverse-sigmoidal
// magnitude. Tuned data.
var xferTable = [63]int{
	-255, -217, -192, -171, -155, -142, -130, -120, -110, -102,
	-94, -87, -81, -74, -68, -62, -56, -50, -46, -41,
	-37, -34, -30, -27, -24, -20, -17, -14, -11, -8,
	-5, 2, 5, 8, 11, 14, 17, 20, 24, 27,
	30, 34, 37, 41, 46, 50, 56, 62, 68, 74,
	81, 87, 94, 102, 110, 120, 130, 142, 155, 171,
	192, 217, 255,
}
