package branch

import "testing"

func TestTypeConditional(t *testing.T) {
	if !TypeCondDirect.IsConditional() {
		t.Error("cond must be conditional")
	}
	for _, typ := range []Type{TypeOther, TypeUncondDirect, TypeUncondIndirect,
		TypeCallDirect, TypeCallIndirect, TypeReturn} {
		if typ.IsConditional() {
			t.Errorf("%v must not be conditional", typ)
		}
	}
}

func TestStats(t *testing.T) {
	var s Stats
	for i := 0; i < 900; i++ {
		s.Record(true)
	}
	for i := 0; i < 100; i++ {
		s.Record(false)
	}
	if s.Predictions != 1000 || s.Correct != 900 || s.Mispredictions != 100 {
		t.Fatalf("counts %d/%d/%d", s.Predictions, s.Correct, s.Mispredictions)
	}
	if s.Accuracy() != 90.0 {
		t.Errorf("accuracy = %f, want 90", s.Accuracy())
	}
	if s.MPKI() != 100.0 {
		t.Errorf("mpki = %f, want 100", s.MPKI())
	}
}
