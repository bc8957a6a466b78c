package gaze

import (
	"testing"

	"github.com/sarchlab/oosim/access"
)

// fakeHost records issued prefetches and models queue occupancy.
type fakeHost struct {
	pqSize   int
	mshrSize int
	pqOcc    int
	mshrOcc  int

	issued []issuedPF
	reject bool
}

type issuedPF struct {
	addr          uint64
	fillThisLevel bool
	metadata      uint32
}

func (h *fakeHost) PQOccupancy() int   { return h.pqOcc }
func (h *fakeHost) PQSize() int        { return h.pqSize }
func (h *fakeHost) MSHROccupancy() int { return h.mshrOcc }
func (h *fakeHost) MSHRSize() int      { return h.mshrSize }

func (h *fakeHost) PrefetchLine(addr uint64, fillThisLevel bool, metadata uint32) bool {
	if h.reject {
		return false
	}
	h.issued = append(h.issued, issuedPF{addr, fillThisLevel, metadata})
	return true
}

func newTestHost() *fakeHost {
	return &fakeHost{pqSize: 32, mshrSize: 32}
}

func touch(p *Prefetcher, region uint64, offset uint64, pc uint64) {
	addr := region<<log2Region | offset<<log2Block
	p.CacheOperate(addr, pc, false, false, access.Load, 0)
}

// trainPattern walks region A so the pattern table learns
// (trigger=5, second=17) -> {5, 17, 20, 33, 40}.
func trainPattern(p *Prefetcher, region uint64, pc uint64) {
	for _, off := range []uint64{5, 17, 20, 33, 40} {
		touch(p, region, off, pc)
	}
	// Evicting a line of the region spills the accumulated pattern.
	p.CacheFill(0x999999<<log2Region, 0, 0, false, region<<log2Region|5<<log2Block, 0)
}

func TestEmitWalksRotatedPatternSkippingSeeds(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	trainPattern(p, 0x100, 0xabc)

	// Second region with the same first two offsets hits the learned
	// pattern; the emitter starts after offset 17 and skips the seeds.
	region := uint64(0x200)
	touch(p, region, 5, 0xabc)
	if len(host.issued) != 0 {
		t.Fatalf("prefetches issued on trigger access: %d", len(host.issued))
	}
	touch(p, region, 17, 0xabc)

	want := []uint64{
		region<<log2Region | 20<<log2Block,
		region<<log2Region | 33<<log2Block,
		region<<log2Region | 40<<log2Block,
	}
	if len(host.issued) != len(want) {
		t.Fatalf("issued %d prefetches, want %d", len(host.issued), len(want))
	}
	for i, pf := range host.issued {
		if pf.addr != want[i] {
			t.Errorf("prefetch %d: addr %#x, want %#x", i, pf.addr, want[i])
		}
		if !pf.fillThisLevel {
			t.Errorf("prefetch %d: expected an L1 fill", i)
		}
		if src := (pf.metadata >> 28) & 3; src != 1 {
			t.Errorf("prefetch %d: source level %d, want 1", i, src)
		}
		if dst := (pf.metadata >> 30) & 3; dst != 1 {
			t.Errorf("prefetch %d: dest level %d, want 1", i, dst)
		}
	}
}

func TestBackPressureRetainsBufferEntry(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	trainPattern(p, 0x100, 0xabc)

	region := uint64(0x300)
	touch(p, region, 5, 0xabc)

	// Saturate the prefetch queue before the pattern-matching touch.
	host.pqOcc = host.pqSize
	touch(p, region, 17, 0xabc)
	if len(host.issued) != 0 {
		t.Fatalf("issued %d prefetches under back-pressure", len(host.issued))
	}

	// Pressure relieved: a later touch resumes the walk and no offset is
	// emitted twice.
	host.pqOcc = 0
	touch(p, region, 20, 0xabc)
	seen := map[uint64]int{}
	for _, pf := range host.issued {
		seen[pf.addr]++
		if seen[pf.addr] > 1 {
			t.Errorf("offset %#x emitted twice", pf.addr)
		}
	}
	if len(host.issued) == 0 {
		t.Error("no prefetches after back-pressure cleared")
	}
	for _, pf := range host.issued {
		off := regionOffset(pf.addr >> log2Block)
		if off == 5 || off == 17 {
			t.Errorf("seed offset %d emitted", off)
		}
	}
}

func TestRegionInAtMostOneTable(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	region := uint64(0x400)
	touch(p, region, 3, 0x111)
	if p.ft.lookup(region) == nil {
		t.Fatal("region not in filter table after first touch")
	}
	if p.at.find(p.at.key(region)) != nil {
		t.Fatal("region in accumulate table after first touch")
	}

	touch(p, region, 9, 0x111)
	if p.ft.lookup(region) != nil {
		t.Error("region still in filter table after activation")
	}
	if p.at.find(p.at.key(region)) == nil {
		t.Error("region not in accumulate table after activation")
	}
}

func TestRepeatTriggerTouchIsIdempotent(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	region := uint64(0x500)
	touch(p, region, 7, 0x222)
	touch(p, region, 7, 0x222)
	if p.at.find(p.at.key(region)) != nil {
		t.Error("repeated trigger touch must not activate the region")
	}
}

func TestStreamingConfidence(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	// Stream eight full regions (trigger 0, second 1, all offsets) so
	// the streaming confidence saturates.
	for r := uint64(0); r < 8; r++ {
		region := 0x1000 + r
		for off := uint64(0); off < NumBlocks; off++ {
			touch(p, region, off, 0x333)
		}
		p.CacheFill(0x777777<<log2Region, 0, 0, false, region<<log2Region, 0)
	}
	if p.pt.conCounter == 0 {
		t.Fatal("streaming confidence never trained")
	}

	// A new region's first two streaming touches should now synthesize
	// a pattern and prefetch ahead.
	host.issued = nil
	region := uint64(0x2000)
	touch(p, region, 0, 0x333)
	touch(p, region, 1, 0x333)
	if len(host.issued) == 0 {
		t.Error("no streaming prefetches after confidence trained")
	}
}

func TestNonLoadAccessesIgnored(t *testing.T) {
	host := newTestHost()
	p := New(host)
	p.Initialize()

	addr := uint64(0x600) << log2Region
	p.CacheOperate(addr, 0x1, false, false, access.Write, 0)
	p.CacheOperate(addr, 0x1, false, false, access.Prefetch, 0)
	if p.stats.Accesses != 0 {
		t.Error("non-load accesses must not train the prefetcher")
	}
}
