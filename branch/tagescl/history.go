package tagescl

// FoldedHistory compresses a long circular branch history into a few
// bits by XOR-folding. It is maintained incrementally: each update
// shifts in the newest history bit and XORs out the bit that falls off
// at the original length, so the register never needs to rescan the
// full history.
type FoldedHistory struct {
	comp     uint32
	compLen  int
	origLen  int
	outPoint int
}

// Init configures the fold for a history of originalLength bits
// compressed into compressedLength bits.
func (f *FoldedHistory) Init(originalLength, compressedLength int) {
	f.comp = 0
	f.origLen = originalLength
	f.compLen = compressedLength
	f.outPoint = originalLength % compressedLength
}

// Value returns the current folded value, always below
// 2^compressedLength.
func (f *FoldedHistory) Value() uint32 { return f.comp }

// OrigLen returns the original history length.
func (f *FoldedHistory) OrigLen() int { return f.origLen }

// Update folds in the bit at position pt of the circular history buffer
// and folds out the bit at pt+originalLength.
func (f *FoldedHistory) Update(h *[histBufferLen]uint8, pt int) {
	f.comp = (f.comp << 1) ^ uint32(h[pt&(histBufferLen-1)])
	f.comp ^= uint32(h[(pt+f.origLen)&(histBufferLen-1)]) << f.outPoint
	f.comp ^= f.comp >> f.compLen
	f.comp &= (1 << f.compLen) - 1
}

// loopEntry is one way of the skewed-associative loop predictor.
type loopEntry struct {
	nbIter      uint16
	confid      uint8
	currentIter uint16
	tag         uint16
	age         uint8
	dir         bool
}

// histories is the full speculative history state of the engine. It is
// a plain value: every Predict copies it into the checkpoint map and
// every Resolve reads the copy back, so all members are fixed-size
// arrays.
type histories struct {
	ghistWord uint64
	ghist     [histBufferLen]uint8
	phist     uint64
	ptghist   int

	chI  [nHist + 1]FoldedHistory
	chT0 [nHist + 1]FoldedHistory
	chT1 [nHist + 1]FoldedHistory

	localHist  [nLocal]uint64
	secondHist [nSecLocal]uint64
	thirdHist  [nTLocal]uint64

	imHist    [256]uint64
	imliCount uint64

	loopTable [1 << logLoop]loopEntry
	withLoop  int8
}

func (h *histories) init() {
	*h = histories{}
	h.withLoop = -1
	for i := range h.secondHist {
		h.secondHist[i] = 3
	}
}
