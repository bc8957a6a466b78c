package tagescl_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/branch/tagescl"
)

func TestTageSCL(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TAGE-SC-L Suite")
}

var _ = Describe("Engine", func() {
	var e *tagescl.Engine

	BeforeEach(func() {
		e = tagescl.New()
	})

	It("should make a prediction for any PC", func() {
		pred := e.Predict(1, 0, 0x400abc)
		Expect(pred).To(BeElementOf(true, false))
		Expect(e.InFlight()).To(Equal(1))
		e.HistoryUpdate(0x400abc, tagescl.BrConditional, pred, true, 0x400a00)
		e.Update(1, 0, 0x400abc, true, 0x400a00, false)
		Expect(e.InFlight()).To(Equal(0))
	})

	It("should learn an always-taken branch", func() {
		pc := uint64(0x401000)
		correct := 0
		for seq := uint64(0); seq < 2000; seq++ {
			pred := e.Predict(seq, 0, pc)
			if pred {
				correct++
			}
			e.HistoryUpdate(pc, tagescl.BrConditional, pred, true, pc-0x40)
			e.Update(seq, 0, pc, true, pc-0x40, false)
		}
		// The bimodal warms up within a handful of executions.
		Expect(correct).To(BeNumerically(">", 1900))
	})

	It("should learn an alternating pattern through the tagged tables", func() {
		pc := uint64(0x402000)
		correct := 0
		total := 4000
		for seq := 0; seq < total; seq++ {
			taken := seq%2 == 0
			pred := e.Predict(uint64(seq), 0, pc)
			if pred == taken {
				correct++
			}
			e.HistoryUpdate(pc, tagescl.BrConditional, pred, taken, pc-0x40)
			e.Update(uint64(seq), 0, pc, taken, pc-0x40, false)
		}
		// The second half of the run should be essentially perfect.
		Expect(correct).To(BeNumerically(">", total*3/4))
	})

	It("should panic on update without matching predict", func() {
		Expect(func() {
			e.Update(99, 0, 0x400000, true, 0x400040, false)
		}).To(Panic())
	})

	It("should panic on double update", func() {
		pred := e.Predict(7, 0, 0x400500)
		e.HistoryUpdate(0x400500, tagescl.BrConditional, pred, true, 0x400540)
		e.Update(7, 0, 0x400500, true, 0x400540, false)
		Expect(func() {
			e.Update(7, 0, 0x400500, true, 0x400540, false)
		}).To(Panic())
	})

	It("should keep separate checkpoints per sequence id", func() {
		predA := e.Predict(1, 0, 0x40aa00)
		e.HistoryUpdate(0x40aa00, tagescl.BrConditional, predA, true, 0x40aa40)
		predB := e.Predict(2, 0, 0x40bb00)
		e.HistoryUpdate(0x40bb00, tagescl.BrConditional, predB, false, 0x40bb40)
		Expect(e.InFlight()).To(Equal(2))
		e.Update(1, 0, 0x40aa00, true, 0x40aa40, false)
		e.Update(2, 0, 0x40bb00, false, 0x40bb40, false)
		Expect(e.InFlight()).To(Equal(0))
	})

	It("should track non-conditional branches without a checkpoint", func() {
		e.TrackOtherInst(0x403000, tagescl.BrIndirect, true, true, 0x500000)
		Expect(e.InFlight()).To(Equal(0))
	})

	It("should report a nonzero storage budget", func() {
		Expect(e.PredictorSize()).To(BeNumerically(">", 0))
	})
})

var _ = Describe("FoldedHistory", func() {
	It("should drive predict and update over a varied history", func() {
		e := tagescl.New()
		pc := uint64(0x404000)
		for seq := uint64(0); seq < 500; seq++ {
			taken := seq%3 == 0
			pred := e.Predict(seq, 0, pc+(seq%7)*4)
			e.HistoryUpdate(pc+(seq%7)*4, tagescl.BrConditional, pred, taken, pc)
			e.Update(seq, 0, pc+(seq%7)*4, taken, pc, false)
		}
		// Indices and tags are masked to their table widths, so this only
		// checks that the checkpointed cycle completes; the fold range
		// itself is checked by TestFoldedHistoryMatchesReference.
	})
})
