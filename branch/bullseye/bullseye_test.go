package bullseye_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/branch/bullseye"
)

func TestBullseye(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bullseye Suite")
}

var _ = Describe("H2PTable", func() {
	var table *bullseye.H2PTable

	BeforeEach(func() {
		table = bullseye.NewH2PTable()
	})

	It("should not track branches that only predict correctly", func() {
		for i := 0; i < 5000; i++ {
			Expect(table.Update(0x400100, true)).To(BeFalse())
		}
		Expect(table.Count()).To(Equal(uint32(0)))
	})

	It("should declare a 50%-accuracy branch on the threshold update", func() {
		pc := uint64(0x400200)
		declared := 0
		declaredAt := 0
		// Alternate incorrect/correct so the entry is allocated on the
		// first update and reaches 1024 correct + 1024 incorrect.
		for i := 1; i <= 2048; i++ {
			if table.Update(pc, i%2 == 0) {
				declared++
				declaredAt = i
			}
		}
		Expect(declared).To(Equal(1))
		// Thresholds at population 0: 2048 executions, 256
		// mispredictions, accuracy below 1.0. All three hold first at
		// the 2048th update.
		Expect(declaredAt).To(Equal(2048))
		Expect(table.Count()).To(Equal(uint32(1)))
	})

	It("should not redeclare a declared branch without retracking", func() {
		pc := uint64(0x400300)
		for i := 1; i <= 2048; i++ {
			table.Update(pc, i%2 == 0)
		}
		Expect(table.Count()).To(Equal(uint32(1)))

		// The entry was removed on declaration; correct-only updates do
		// not recreate it.
		for i := 0; i < 100; i++ {
			Expect(table.Update(pc, true)).To(BeFalse())
		}
	})

	It("should decrement the census on eviction", func() {
		pc := uint64(0x400400)
		for i := 1; i <= 2048; i++ {
			table.Update(pc, i%2 == 0)
		}
		Expect(table.Count()).To(Equal(uint32(1)))
		table.EvictH2P(pc)
		Expect(table.Count()).To(Equal(uint32(0)))
	})
})

var _ = Describe("Perceptron entry tables", func() {
	It("should treat PC zero as a null insert", func() {
		lp := bullseye.NewLocalPerceptron()
		lp.Insert(0)
		Expect(lp.Contains(0)).To(BeFalse())
		Expect(lp.ContainsOrQueued(0)).To(BeFalse())

		gp := bullseye.NewGlobalPerceptron()
		gp.Insert(0)
		Expect(gp.Contains(0)).To(BeFalse())
	})

	It("should queue inserts beyond the entry capacity", func() {
		gp := bullseye.NewGlobalPerceptron()
		for i := 1; i <= 30; i++ {
			gp.Insert(uint64(0x1000 * i))
		}
		Expect(gp.Contains(0x1000 * 1)).To(BeTrue())
		Expect(gp.Contains(0x1000 * 16)).To(BeTrue())
		Expect(gp.Contains(0x1000 * 17)).To(BeFalse())
		Expect(gp.ContainsOrQueued(0x1000 * 17)).To(BeTrue())
	})

	It("should learn a history-correlated branch", func() {
		gp := bullseye.NewGlobalPerceptron()
		pc := uint64(0x405000)
		gp.Insert(pc)

		// Direction is the opposite of the previous outcome: weight at
		// position 0 should learn the anti-correlation.
		prev := false
		correct := 0
		total := 3000
		for i := 0; i < total; i++ {
			taken := prev
			info := gp.Predict(pc)
			if info.Taken() == taken {
				correct++
			}
			id := uint64(i)
			gp.HistoryUpdate(pc, id, info.Taken())
			gp.Update(pc, id, taken, info.Taken(), info.Sum, info.Taken())
			prev = !prev // alternating pattern
		}
		Expect(correct).To(BeNumerically(">", total/2))
	})
})

var _ = Describe("Predictor", func() {
	var p *bullseye.Predictor

	BeforeEach(func() {
		p = bullseye.New()
		p.Initialize()
	})

	It("should follow the predict/resolve protocol", func() {
		pred := p.Predict(1, 0x400000)
		p.Resolve(1, 0x400000, true, pred, 0x400040)
		Expect(p.Stats().Predictions).To(Equal(uint64(1)))
	})

	It("should panic on resolve without predict", func() {
		Expect(func() {
			p.Resolve(5, 0x400000, true, true, 0x400040)
		}).To(Panic())
	})

	It("should learn a biased branch", func() {
		pc := uint64(0x406000)
		for seq := uint64(0); seq < 3000; seq++ {
			pred := p.Predict(seq, pc)
			p.Resolve(seq, pc, true, pred, pc-0x100)
		}
		s := p.Stats()
		Expect(s.Accuracy()).To(BeNumerically(">", 95))
	})
})
