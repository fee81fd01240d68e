package rating

import "testing"

func TestDeltaSymmetry(t *testing.T) {
	w, b := GameDeltas(1500, 1700, Win)
	if w.Delta <= 0 {
		t.Fatalf("expected positive delta for the 1500 winner, got %d", w.Delta)
	}
	if w.Delta != -b.Delta {
		t.Fatalf("deltas not symmetric: white=%d black=%d", w.Delta, b.Delta)
	}
	if w.NewRating != 1500+w.Delta || b.NewRating != 1700+b.Delta {
		t.Fatalf("new ratings inconsistent: %+v %+v", w, b)
	}
}

func TestUnderdogGainsMore(t *testing.T) {
	underdog := Delta(1200, 1800, Win)
	favorite := Delta(1800, 1200, Win)
	if underdog.Delta <= favorite.Delta {
		t.Fatalf("underdog win delta %d should exceed favorite win delta %d", underdog.Delta, favorite.Delta)
	}
}

func TestDrawBetweenEqualsIsZero(t *testing.T) {
	w, b := GameDeltas(1500, 1500, Draw)
	if w.Delta != 0 || b.Delta != 0 {
		t.Fatalf("equal draw should be zero deltas, got %d and %d", w.Delta, b.Delta)
	}
}

func TestFloorAtZero(t *testing.T) {
	c := Delta(5, 2000, Loss)
	if c.NewRating != 0 {
		t.Fatalf("rating should floor at zero, got %d", c.NewRating)
	}
	if c.Delta != -5 {
		t.Fatalf("delta should be clamped to -5, got %d", c.Delta)
	}
}
