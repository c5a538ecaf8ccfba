package download

import (
	"testing"
	"time"
)

func TestProgressTrackerClampsAndNeverDecreases(t *testing.T) {
	var got []float32
	p := newProgressTracker(0, func(f float32) { got = append(got, f) })
	p.report(-1)
	p.update(50, 100)
	p.update(40, 100)
	p.update(150, 100)
	p.finish()

	want := []float32{0, 0.5, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestProgressTrackerThrottles(t *testing.T) {
	var got []float32
	now := time.Unix(0, 0)
	p := newProgressTracker(time.Second, func(f float32) { got = append(got, f) })
	p.now = func() time.Time { return now }

	p.update(10, 100)
	p.update(20, 100) // same instant, dropped
	now = now.Add(2 * time.Second)
	p.update(30, 100)
	p.finish() // completion always passes the throttle

	if len(got) != 3 || got[0] != 0.1 || got[1] != 0.3 || got[2] != 1 {
		t.Fatalf("unexpected emissions: %v", got)
	}
}

func TestProgressTrackerUnknownTotal(t *testing.T) {
	n := 0
	p := newProgressTracker(0, func(float32) { n++ })
	p.update(10, -1)
	if n != 0 {
		t.Fatalf("unknown total should not emit, got %d", n)
	}
}
