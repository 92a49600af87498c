package engine

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Direction is the debounced vertical movement of the hips.
type Direction string

const (
	Holding    Direction = "holding"
	Descending Direction = "descending"
	Ascending  Direction = "ascending"
)

// Movement is the tracker's reading for one frame.
type Movement struct {
	Direction Direction
	// Depth is the smoothed depth the direction was derived from.
	Depth float64
	// Delta is the change in smoothed depth since the previous frame.
	Delta float64
	// StationaryFor is how long the subject has been holding still.
	StationaryFor time.Duration
	// DirectionSince is when the current direction began.
	DirectionSince time.Time
	// LastMovementAt is the most recent frame with measurable movement.
	LastMovementAt time.Time
}

// tracker smooths depth over a short window and classifies direction with two
// thresholds: below movementThreshold the subject is still, above
// changeThreshold a direction change is significant. Readings in between keep
// the previous direction, which absorbs single-frame jitter.
//
// Stationary time counts from the frame the raw depth settled, so the
// smoothing window does not shorten a pause.
type tracker struct {
	movementThreshold float64
	changeThreshold   float64
	size              int

	window         []float64
	prev           float64
	hasPrev        bool
	direction      Direction
	directionSince time.Time
	holdingSince   time.Time
	lastMovementAt time.Time

	raw          float64
	rawAt        time.Time
	settledSince time.Time
}

func newTracker(cfg Config) *tracker {
	return &tracker{
		movementThreshold: cfg.MovementThreshold,
		changeThreshold:   cfg.DepthChangeThreshold,
		size:              cfg.SmoothingWindow,
		window:            make([]float64, 0, cfg.SmoothingWindow),
		direction:         Holding,
	}
}

func (t *tracker) reset() {
	t.window = t.window[:0]
	t.prev = 0
	t.hasPrev = false
	t.direction = Holding
	t.directionSince = time.Time{}
	t.holdingSince = time.Time{}
	t.lastMovementAt = time.Time{}
	t.raw = 0
	t.rawAt = time.Time{}
	t.settledSince = time.Time{}
}

func (t *tracker) update(depth float64, now time.Time) Movement {
	if len(t.window) == t.size {
		copy(t.window, t.window[1:])
		t.window = t.window[:t.size-1]
	}
	t.window = append(t.window, depth)
	smoothed := stat.Mean(t.window, nil)

	var delta float64
	if t.hasPrev {
		delta = smoothed - t.prev
		switch {
		case math.Abs(depth-t.raw) >= t.movementThreshold:
			t.settledSince = time.Time{}
		case t.settledSince.IsZero():
			t.settledSince = t.rawAt
		}
	} else {
		t.directionSince = now
		t.holdingSince = now
	}
	t.prev = smoothed
	t.hasPrev = true
	t.raw, t.rawAt = depth, now

	switch {
	case math.Abs(delta) < t.movementThreshold:
		t.turn(Holding, now)
		if t.holdingSince.IsZero() {
			t.holdingSince = now
		}
	case delta > t.changeThreshold:
		t.turn(Descending, now)
		t.moved(now)
	case delta < -t.changeThreshold:
		t.turn(Ascending, now)
		t.moved(now)
	default:
		t.moved(now)
	}

	m := Movement{
		Direction:      t.direction,
		Depth:          smoothed,
		Delta:          delta,
		DirectionSince: t.directionSince,
		LastMovementAt: t.lastMovementAt,
	}
	if t.direction == Holding && !t.holdingSince.IsZero() {
		since := t.holdingSince
		if !t.settledSince.IsZero() && t.settledSince.Before(since) {
			since = t.settledSince
		}
		m.StationaryFor = now.Sub(since)
	}
	return m
}

func (t *tracker) turn(d Direction, now time.Time) {
	if t.direction != d {
		t.direction = d
		t.directionSince = now
	}
}

func (t *tracker) moved(now time.Time) {
	t.holdingSince = time.Time{}
	t.lastMovementAt = now
}
