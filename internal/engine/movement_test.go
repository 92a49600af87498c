package engine

import (
	"testing"
	"time"
)

func trackerFor(window int) *tracker {
	cfg := DefaultConfig(Squat)
	cfg.SmoothingWindow = window
	return newTracker(cfg)
}

// TestTrackerDirections verifies steady motion is classified by sign.
func TestTrackerDirections(t *testing.T) {
	tr := trackerFor(1)
	tr.update(0.1, at(0))
	if got := tr.update(0.2, at(20)).Direction; got != Descending {
		t.Errorf("rising depth = %s, want descending", got)
	}
	if got := tr.update(0.1, at(40)).Direction; got != Ascending {
		t.Errorf("falling depth = %s, want ascending", got)
	}
	if got := tr.update(0.101, at(60)).Direction; got != Holding {
		t.Errorf("still depth = %s, want holding", got)
	}
}

// TestTrackerHysteresis verifies changes between the movement and change
// thresholds keep the previous direction.
func TestTrackerHysteresis(t *testing.T) {
	tr := trackerFor(1)
	tr.update(0.1, at(0))
	tr.update(0.2, at(20))
	m := tr.update(0.207, at(40))
	if m.Direction != Descending {
		t.Errorf("direction = %s, want descending kept", m.Direction)
	}
	if m.StationaryFor != 0 {
		t.Errorf("StationaryFor = %s, want 0 while moving", m.StationaryFor)
	}
	if !m.LastMovementAt.Equal(at(40)) {
		t.Errorf("LastMovementAt = %v, want %v", m.LastMovementAt, at(40))
	}
}

// TestTrackerStationaryDuration verifies the hold duration counts from the
// frame the depth settled and restarts after movement.
func TestTrackerStationaryDuration(t *testing.T) {
	tr := trackerFor(1)
	tr.update(0.5, at(0))
	tr.update(0.6, at(20))
	var m Movement
	for ms := 40; ms <= 140; ms += 20 {
		m = tr.update(0.6, at(ms))
	}
	if m.StationaryFor != 120*time.Millisecond {
		t.Errorf("StationaryFor = %s, want 120ms", m.StationaryFor)
	}
	tr.update(0.4, at(160))
	if m = tr.update(0.4, at(180)); m.StationaryFor != 20*time.Millisecond {
		t.Errorf("StationaryFor after move = %s, want 20ms", m.StationaryFor)
	}
}

// TestTrackerHoldSurvivesSmoothing verifies the smoothing window delays the
// holding direction but not the measured pause.
func TestTrackerHoldSurvivesSmoothing(t *testing.T) {
	tr := trackerFor(3)
	for i, d := range []float64{0.40, 0.44, 0.48, 0.52} {
		tr.update(d, at(i*40))
	}
	settled := at(3 * 40)
	var m Movement
	ms := 160
	for ; ms <= 320; ms += 40 {
		if m = tr.update(0.52, at(ms)); m.Direction == Holding {
			break
		}
	}
	if m.Direction != Holding {
		t.Fatalf("direction = %s, want holding", m.Direction)
	}
	if ms == 160 {
		t.Fatal("holding on the first still frame, smoothing had no lag")
	}
	if want := at(ms).Sub(settled); m.StationaryFor != want {
		t.Errorf("StationaryFor = %s, want %s", m.StationaryFor, want)
	}
}

// TestTrackerSmoothsSpikes verifies a single-frame spike is damped by the window.
func TestTrackerSmoothsSpikes(t *testing.T) {
	tr := trackerFor(5)
	for ms := 0; ms < 100; ms += 20 {
		tr.update(0.3, at(ms))
	}
	m := tr.update(0.32, at(100))
	if m.Direction != Holding {
		t.Errorf("spike direction = %s, want holding", m.Direction)
	}
	if m.Depth >= 0.32 {
		t.Errorf("smoothed depth %v not damped", m.Depth)
	}
}

// TestTrackerReset verifies reset forgets history.
func TestTrackerReset(t *testing.T) {
	tr := trackerFor(3)
	tr.update(0.1, at(0))
	tr.update(0.5, at(20))
	tr.reset()
	m := tr.update(0.5, at(40))
	if m.Direction != Holding || m.Delta != 0 {
		t.Errorf("after reset = %+v, want holding with no delta", m)
	}
}
