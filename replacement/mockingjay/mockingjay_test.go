package mockingjay

import (
	"testing"

	"github.com/sarchlab/oosim/access"
	"github.com/sarchlab/oosim/replacement"
)

const (
	testSets = 2048
	testWays = 16
)

func validLines(ways int) []replacement.Line {
	lines := make([]replacement.Line, ways)
	for i := range lines {
		lines[i].Valid = true
	}
	return lines
}

func TestDerivedGeometry(t *testing.T) {
	p := New(testSets, testWays, 1)
	if p.infRD != testWays*history-1 {
		t.Errorf("infRD = %d, want %d", p.infRD, testWays*history-1)
	}
	if p.InfETR() != testWays*history/granularity-1 {
		t.Errorf("infETR = %d, want %d", p.InfETR(), testWays*history/granularity-1)
	}
	if p.MaxRD() != p.infRD-22 {
		t.Errorf("maxRD = %d, want %d", p.MaxRD(), p.infRD-22)
	}
}

func TestVictimPrefersInvalidWay(t *testing.T) {
	p := New(testSets, testWays, 1)
	lines := validLines(testWays)
	lines[5].Valid = false
	got := p.FindVictim(0, 1, 0, lines, 0x400000, 0xdead0000, access.Load)
	if got != 5 {
		t.Errorf("victim = %d, want invalid way 5", got)
	}
}

func TestVictimMaxMagnitudePrefersNegative(t *testing.T) {
	p := New(testSets, testWays, 1)
	lines := validLines(testWays)

	for w := 0; w < testWays; w++ {
		p.etr[0*testWays+w] = 0
	}
	p.etr[3] = 7
	p.etr[9] = -7
	got := p.FindVictim(0, 1, 0, lines, 0x400000, 0xdead0000, access.Load)
	if got != 9 {
		t.Errorf("victim = %d, want the negative way 9 on a magnitude tie", got)
	}

	p.etr[3] = 9
	got = p.FindVictim(0, 1, 0, lines, 0x400000, 0xdead0000, access.Load)
	if got != 3 {
		t.Errorf("victim = %d, want max-magnitude way 3", got)
	}
}

func TestETRBoundedAfterUpdates(t *testing.T) {
	p := New(testSets, testWays, 1)
	lines := validLines(testWays)

	pcs := []uint64{0x400000, 0x400040, 0x400080, 0x4000c0}
	addr := uint64(0x10000000)
	for i := 0; i < 100000; i++ {
		set := i % testSets
		way := p.FindVictim(0, uint64(i), set, lines, pcs[i%len(pcs)], addr, access.Load)
		hit := i%3 == 0
		typ := access.Load
		if i%7 == 0 {
			typ = access.Prefetch
		}
		if i%11 == 0 {
			typ = access.Write
		}
		p.UpdateState(0, set, way, addr, pcs[i%len(pcs)], 0, typ, hit)
		addr += 64 * 37
	}

	for set := 0; set < testSets; set++ {
		for way := 0; way < testWays; way++ {
			v := p.ETR(set, way)
			if v > p.InfETR() || v < -p.InfETR() {
				t.Fatalf("etr[%d][%d] = %d exceeds +/-%d", set, way, v, p.InfETR())
			}
		}
	}
}

func TestDistantReuseInsertsAtInfETR(t *testing.T) {
	p := New(testSets, testWays, 1)

	sig := p.Signature(0x400123, false, false, 0)
	p.SetRDP(sig, p.MaxRD()+10)

	// A miss fill by that signature inserts at the saturated ETR.
	p.UpdateState(0, 1, 4, 0x20000040, 0x400123, 0, access.Load, false)
	if got := p.ETR(1, 4); got != p.InfETR() {
		t.Errorf("etr after distant-reuse fill = %d, want %d", got, p.InfETR())
	}
}

func TestUnknownSignatureSingleCPUInsertsAtZero(t *testing.T) {
	p := New(testSets, testWays, 1)
	// Pick an unsampled set so the sampler does not learn the signature
	// first.
	set := 1
	if p.isSampledSet(uint32(set)) {
		set = 2
	}
	p.UpdateState(0, set, 7, 0x30000040, 0x777000, 0, access.Load, false)
	if got := p.ETR(set, 7); got != 0 {
		t.Errorf("etr for unknown signature = %d, want 0", got)
	}
}

func TestWriteMissInsertsNegativeInf(t *testing.T) {
	p := New(testSets, testWays, 1)
	p.UpdateState(0, 3, 2, 0x40000040, 0x888000, 0, access.Write, false)
	if got := p.ETR(3, 2); got != -p.InfETR() {
		t.Errorf("etr after write miss = %d, want %d", got, -p.InfETR())
	}
}

func TestTimeElapsedWraps(t *testing.T) {
	if got := timeElapsed(5, 250); got != 11 {
		t.Errorf("timeElapsed(5, 250) = %d, want 11", got)
	}
	if got := timeElapsed(250, 5); got != 245 {
		t.Errorf("timeElapsed(250, 5) = %d, want 245", got)
	}
	if got := timeElapsed(7, 7); got != 0 {
		t.Errorf("timeElapsed(7, 7) = %d, want 0", got)
	}
	for g := 0; g < 256; g += 17 {
		for l := 0; l < 256; l += 13 {
			e := timeElapsed(g, l)
			if e < 0 || e >= 1<<timestampBits {
				t.Fatalf("timeElapsed(%d, %d) = %d out of range", g, l, e)
			}
		}
	}
}

func TestSignatureWidth(t *testing.T) {
	p := New(testSets, testWays, 1)
	for pc := uint64(0x400000); pc < 0x400000+1024; pc += 4 {
		sig := p.Signature(pc, pc%2 == 0, pc%3 == 0, 0)
		if sig >= 1<<uint(p.sigBits) {
			t.Fatalf("signature %#x wider than %d bits", sig, p.sigBits)
		}
	}
}

func TestSamplerLearnsShortReuse(t *testing.T) {
	p := New(testSets, testWays, 1)

	// Find a sampled set.
	set := -1
	for s := 0; s < testSets; s++ {
		if p.isSampledSet(uint32(s)) {
			set = s
			break
		}
	}
	if set < 0 {
		t.Skip("no sampled sets for this geometry")
	}

	// Touch the same line twice with a short gap; the first access's
	// signature should learn a small reuse distance.
	addr := uint64(set) << log2BlockSize
	pc := uint64(0x400abc)
	p.UpdateState(0, set, 0, addr, pc, 0, access.Load, false)
	for i := 0; i < 4; i++ {
		p.UpdateState(0, set, 1+i, addr+uint64(0x100000*(i+1)), 0x500000+uint64(i*4), 0, access.Load, false)
	}
	p.UpdateState(0, set, 0, addr, pc, 0, access.Load, true)

	sig := p.Signature(pc, false, false, 0)
	rd, ok := p.rdp[sig]
	if !ok {
		t.Fatal("sampler never trained the first access's signature")
	}
	if rd > p.MaxRD() {
		t.Errorf("learned reuse distance %d unexpectedly large", rd)
	}
}
