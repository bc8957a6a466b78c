package tagescl

import (
	"math/rand"
	"testing"
)

// refFold replays the live window of bits (oldest first) through the
// fold definition from scratch: shift in each bit and reduce modulo the
// compressed length. The incremental register must stay equal to this at
// every step.
func refFold(bits []uint8, compLen int) uint32 {
	mask := uint32(1<<compLen) - 1
	var c uint32
	for _, b := range bits {
		c = (c << 1) ^ uint32(b)
		c ^= c >> compLen
		c &= mask
	}
	return c
}

func TestFoldedHistoryAlternatingPattern(t *testing.T) {
	var f FoldedHistory
	f.Init(16, 5)

	var buf [histBufferLen]uint8
	pt := 0
	for i := 0; i < 16; i++ {
		pt--
		buf[pt&(histBufferLen-1)] = uint8((i + 1) % 2) // 1,0,1,0,...
		f.Update(&buf, pt)
	}

	if f.Value() != 0b10100 {
		t.Errorf("fold of 1010...10 = %#b, want 0b10100", f.Value())
	}
}

func TestFoldedHistoryMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, cfg := range []struct{ orig, comp int }{
		{16, 5}, {6, 10}, {130, 10}, {3000, 12}, {27, 8},
	} {
		var f FoldedHistory
		f.Init(cfg.orig, cfg.comp)

		var buf [histBufferLen]uint8
		var pushed []uint8
		pt := 0
		for i := 0; i < 4*cfg.orig+37; i++ {
			b := uint8(rng.Intn(2))
			pt--
			buf[pt&(histBufferLen-1)] = b
			pushed = append(pushed, b)
			f.Update(&buf, pt)

			// Live window, oldest bit first.
			start := 0
			if len(pushed) > cfg.orig {
				start = len(pushed) - cfg.orig
			}
			want := refFold(pushed[start:], cfg.comp)
			if f.Value() != want {
				t.Fatalf("(%d,%d) step %d: incremental %#x, reference %#x",
					cfg.orig, cfg.comp, i, f.Value(), want)
			}
			if f.Value() >= 1<<cfg.comp {
				t.Fatalf("(%d,%d) step %d: value %#x out of range",
					cfg.orig, cfg.comp, i, f.Value())
			}
		}
	}
}
