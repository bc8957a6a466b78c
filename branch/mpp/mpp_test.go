package mpp

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/branch"
)

func TestMPP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MPP Suite")
}

var _ = Describe("bloomFilter", func() {
	It("should never produce a false negative", func() {
		b := newBloomFilter(3, 1<<15, 47)
		for pc := uint64(0x400000); pc < 0x400000+4096; pc += 4 {
			b.insert(pc)
		}
		for pc := uint64(0x400000); pc < 0x400000+4096; pc += 4 {
			Expect(b.probe(pc)).To(BeTrue())
		}
	})

	It("should mostly reject unseen keys", func() {
		b := newBloomFilter(3, 1<<15, 75)
		for pc := uint64(0x400000); pc < 0x400000+1024; pc += 4 {
			b.insert(pc)
		}
		falsePositives := 0
		for pc := uint64(0x900000); pc < 0x900000+4096; pc += 4 {
			if b.probe(pc) {
				falsePositives++
			}
		}
		Expect(falsePositives).To(BeNumerically("<", 16))
	})
})

var _ = Describe("histories", func() {
	It("should fold a multi-word history consistently", func() {
		hist := make([]uint64, ghistWords)
		for i := 0; i < 100; i++ {
			updateHist(hist, 2, i%3 == 0)
		}
		// idxBits of the first word must match the raw word.
		Expect(idxBits(hist, 0, 64)).To(Equal(hist[0]))
		// Folding never exceeds the addition of the chunks.
		v := foldHist(hist, 0, 99, 30)
		Expect(v).To(BeNumerically("<=", idxBits(hist, 0, 30)+idxBits(hist, 30, 60)+
			idxBits(hist, 60, 90)+idxBits(hist, 90, 100)))
	})

	It("should extract bit ranges across word boundaries", func() {
		hist := []uint64{^uint64(0), 0, 0}
		Expect(idxBits(hist, 60, 68)).To(Equal(uint64(0x0F)))
		Expect(idxBits(hist, 0, 4)).To(Equal(uint64(0x0F)))
		Expect(idxBits(hist, 64, 70)).To(Equal(uint64(0)))
	})
})

var _ = Describe("perceptron", func() {
	It("should size its weight tables within the negotiated budget", func() {
		spec := true
		nentries := -1
		probe := newMPP(&spec, &nentries)
		Expect(probe.historyBits).To(BeNumerically(">", 0))

		sum := 0
		for _, s := range probe.tableSizes {
			Expect(s & (s - 1)).To(Equal(0)) // power of two
			sum += s
		}
		Expect(sum).To(BeNumerically("<=", nentries))
	})

	It("should train weights from the uninitialized state", func() {
		Expect(satIncDec(-32, true)).To(Equal(int8(1)))
		Expect(satIncDec(-32, false)).To(Equal(int8(-1)))
		Expect(satIncDec(31, true)).To(Equal(int8(31)))
		Expect(satIncDec(-31, false)).To(Equal(int8(-31)))
	})
})

var _ = Describe("Predictor", func() {
	var p *Predictor

	BeforeEach(func() {
		p = New()
		p.Initialize()
	})

	It("should follow the predict/resolve protocol", func() {
		pred := p.Predict(1, 0x400000)
		p.Resolve(1, 0x400000, true, pred, 0x400040)
		Expect(p.Stats().Predictions).To(Equal(uint64(1)))
	})

	It("should panic on resolve without predict", func() {
		Expect(func() {
			p.Resolve(9, 0x400000, true, true, 0x400040)
		}).To(Panic())
	})

	It("should learn an always-taken branch through the Bloom shortcut", func() {
		pc := uint64(0x404040)
		correct := 0
		for seq := uint64(0); seq < 500; seq++ {
			pred := p.Predict(seq, pc)
			if pred {
				correct++
			}
			p.Resolve(seq, pc, true, pred, pc-0x100)
		}
		// After the first resolve the PC sits only in the ever-taken
		// filter and is predicted taken directly.
		Expect(correct).To(BeNumerically(">", 490))
	})

	It("should learn a mixed-direction branch", func() {
		pc := uint64(0x405050)
		correct := 0
		total := 4000
		for seq := 0; seq < total; seq++ {
			taken := seq%2 == 0
			pred := p.Predict(uint64(seq), pc)
			if pred == taken {
				correct++
			}
			p.Resolve(uint64(seq), pc, taken, pred, pc-0x100)
		}
		Expect(correct).To(BeNumerically(">", total/2))
	})

	It("should track non-conditional branches", func() {
		p.TrackOtherInst(0x400100, branch.TypeReturn, true, 0x500000)
		p.TrackOtherInst(0x400200, branch.TypeCallDirect, true, 0x600000)
	})
})
