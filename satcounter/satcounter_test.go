package satcounter

import "testing"

func TestUnsignedSaturation(t *testing.T) {
	c := NewUnsigned(3)
	for i := 0; i < 10; i++ {
		c.Inc()
	}
	if c.Get() != 7 {
		t.Errorf("after 10 increments, got %d, want 7", c.Get())
	}
	if !c.IsMax() {
		t.Error("counter should be saturated at max")
	}

	for i := 0; i < 20; i++ {
		c.Dec()
		if i >= 6 && c.Get() != 0 {
			t.Errorf("after %d decrements, got %d, want 0", i+1, c.Get())
		}
	}
	if c.Get() != 0 {
		t.Errorf("after 20 decrements, got %d, want 0", c.Get())
	}
}

func TestUnsignedRange(t *testing.T) {
	for _, bits := range []uint{1, 3, 8, 16, 32} {
		c := NewUnsigned(bits)
		c.Add(^uint32(0))
		if uint64(c.Get()) > (uint64(1)<<bits)-1 {
			t.Errorf("width %d: value %d out of range", bits, c.Get())
		}
		if !c.IsMax() {
			t.Errorf("width %d: Add(max uint32) should saturate", bits)
		}
		c.Sub(^uint32(0))
		if c.Get() != 0 {
			t.Errorf("width %d: Sub(max uint32) should clamp to 0", bits)
		}
	}
}

func TestUnsignedMSBHalfway(t *testing.T) {
	c := NewUnsigned(6)
	if c.MSB() != 0 {
		t.Error("MSB of zero should be 0")
	}
	c.Set(32)
	if c.MSB() != 1 {
		t.Error("MSB of 32 in a 6-bit counter should be 1")
	}
	c.SetHalfway()
	if c.Get() != 31 {
		t.Errorf("halfway of 6-bit counter should be 31, got %d", c.Get())
	}
}

func TestUnsignedRsh(t *testing.T) {
	c := NewUnsignedWithValue(8, 200)
	c.Rsh(3)
	if c.Get() != 25 {
		t.Errorf("200>>3 = %d, want 25", c.Get())
	}
	c.Rsh(8)
	if c.Get() != 0 {
		t.Errorf("full-width shift should yield 0, got %d", c.Get())
	}
}

func TestSignedSaturation(t *testing.T) {
	c := NewSigned(3)
	if c.Min() != -4 || c.Max() != 3 {
		t.Fatalf("3-bit signed range [%d,%d], want [-4,3]", c.Min(), c.Max())
	}
	for i := 0; i < 10; i++ {
		c.Inc()
	}
	if c.Get() != 3 || !c.IsMax() {
		t.Errorf("got %d, want saturated 3", c.Get())
	}
	for i := 0; i < 10; i++ {
		c.Dec()
	}
	if c.Get() != -4 || !c.IsMin() {
		t.Errorf("got %d, want saturated -4", c.Get())
	}
}

func TestSignedSetClamps(t *testing.T) {
	c := NewSigned(5)
	c.Set(100)
	if c.Get() != 15 {
		t.Errorf("Set(100) on 5-bit = %d, want 15", c.Get())
	}
	c.Set(-100)
	if c.Get() != -16 {
		t.Errorf("Set(-100) on 5-bit = %d, want -16", c.Get())
	}
	c.Add(1 << 30)
	if c.Get() != 15 {
		t.Errorf("Add overflow = %d, want 15", c.Get())
	}
}

func TestSignedRshArithmetic(t *testing.T) {
	c := NewSignedWithValue(8, -64)
	c.Rsh(2)
	if c.Get() != -16 {
		t.Errorf("-64>>2 = %d, want -16", c.Get())
	}

	c.Set(-1)
	c.Rsh(8)
	if c.Get() != c.Min() {
		t.Errorf("full-width shift of negative should yield min, got %d", c.Get())
	}

	c.Set(100)
	c.Rsh(9)
	if c.Get() != 0 {
		t.Errorf("full-width shift of positive should yield 0, got %d", c.Get())
	}
}

func TestSignedMSB(t *testing.T) {
	c := NewSigned(6)
	if c.MSB() != 0 {
		t.Error("MSB of zero should be 0")
	}
	c.Dec()
	if c.MSB() != 1 {
		t.Error("MSB of -1 should be 1")
	}
}

func TestCtrUpdate(t *testing.T) {
	var ctr int8
	for i := 0; i < 10; i++ {
		CtrUpdate(&ctr, true, 3)
	}
	if ctr != 3 {
		t.Errorf("3-bit ctr trained taken 10x = %d, want 3", ctr)
	}
	for i := 0; i < 20; i++ {
		CtrUpdate(&ctr, false, 3)
	}
	if ctr != -4 {
		t.Errorf("3-bit ctr trained not-taken 20x = %d, want -4", ctr)
	}
}
