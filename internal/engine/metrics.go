package engine

import (
	"math"
	"time"

	"github.com/claude/formcheck/internal/pose"
)

// Metrics are the biomechanical measurements for one frame. Depth, knee
// alignment and balance are ratios in [0,1]; back angle is in degrees.
type Metrics struct {
	// Depth is the hip drop relative to the baseline hip height. 0 is standing.
	Depth float64 `json:"depth"`
	// BackAngle is the torso's deviation from vertical.
	BackAngle float64 `json:"back_angle"`
	// KneeAlignment is 1 when the knees track over the feet and falls as they cave.
	KneeAlignment float64 `json:"knee_alignment"`
	// KneeAngle is the sharper hip-knee-ankle angle in degrees. 180 is a straight leg.
	KneeAngle float64 `json:"knee_angle"`
	// Balance is the lateral sway of hips and shoulders. 0 is centered.
	Balance float64 `json:"balance"`
}

// Baseline is the standing reference captured at the start of a session.
// Later measurements are scaled by it so thresholds hold at any camera distance.
type Baseline struct {
	HipHeight       float64   `json:"hip_height"`
	HipCenterX      float64   `json:"hip_center_x"`
	ShoulderCenterX float64   `json:"shoulder_center_x"`
	CapturedAt      time.Time `json:"captured_at"`
}

// body holds the joint centers used by every exercise.
type body struct {
	shoulder, hip, ankle  pose.Landmark
	leftKnee, rightKnee   pose.Landmark
	leftAnkle, rightAnkle pose.Landmark
}

func bodyOf(f pose.Frame) body {
	l := f.Landmarks
	return body{
		shoulder:   pose.Midpoint(l[pose.LeftShoulder], l[pose.RightShoulder]),
		hip:        pose.Midpoint(l[pose.LeftHip], l[pose.RightHip]),
		ankle:      pose.Midpoint(l[pose.LeftAnkle], l[pose.RightAnkle]),
		leftKnee:   l[pose.LeftKnee],
		rightKnee:  l[pose.RightKnee],
		leftAnkle:  l[pose.LeftAnkle],
		rightAnkle: l[pose.RightAnkle],
	}
}

func (b body) hipHeight() float64 {
	return b.ankle.Y - b.hip.Y
}

// calibration averages the first valid frames of a session into a Baseline.
type calibration struct {
	frames               int
	hipHeight, hipX, shX float64
}

func (c *calibration) add(f pose.Frame) {
	b := bodyOf(f)
	c.frames++
	c.hipHeight += b.hipHeight()
	c.hipX += b.hip.X
	c.shX += b.shoulder.X
}

func (c *calibration) baseline(at time.Time) *Baseline {
	n := float64(c.frames)
	return &Baseline{
		HipHeight:       c.hipHeight / n,
		HipCenterX:      c.hipX / n,
		ShoulderCenterX: c.shX / n,
		CapturedAt:      at,
	}
}

// extractMetrics measures a validated frame against the session baseline.
func extractMetrics(ex Exercise, base Baseline, f pose.Frame) Metrics {
	b := bodyOf(f)
	m := Metrics{
		Depth:     clamp01((base.HipHeight - b.hipHeight()) / base.HipHeight),
		BackAngle: pose.AngleFromVertical(b.hip, b.shoulder),
		KneeAngle: kneeAngle(f.Landmarks),
		Balance: clamp01(math.Max(
			math.Abs(b.hip.X-base.HipCenterX),
			math.Abs(b.shoulder.X-base.ShoulderCenterX),
		) / base.HipHeight),
	}

	switch ex {
	case Squat:
		m.KneeAlignment = kneeSpreadRatio(b)
	case Lunge:
		m.KneeAlignment = frontShinAlignment(b, base)
	}
	return m
}

func kneeAngle(l pose.Landmarks) float64 {
	return math.Min(
		pose.JointAngle(l[pose.LeftHip], l[pose.LeftKnee], l[pose.LeftAnkle]),
		pose.JointAngle(l[pose.RightHip], l[pose.RightKnee], l[pose.RightAnkle]),
	)
}

// kneeSpreadRatio compares knee width to ankle width seen from the front.
// Side-on views have no measurable ankle width and count as aligned.
func kneeSpreadRatio(b body) float64 {
	ankles := math.Abs(b.leftAnkle.X - b.rightAnkle.X)
	if ankles < 1e-6 {
		return 1
	}
	knees := math.Abs(b.leftKnee.X - b.rightKnee.X)
	return clamp01(knees / ankles)
}

// frontShinAlignment scores the more vertical shin, which is the front leg in a
// well-formed lunge. A knee drifting past the ankle lowers the score.
func frontShinAlignment(b body, base Baseline) float64 {
	left := math.Abs(b.leftKnee.X - b.leftAnkle.X)
	right := math.Abs(b.rightKnee.X - b.rightAnkle.X)
	offset := math.Min(left, right) / base.HipHeight
	return clamp01(1 - 2*offset)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// worstCase tracks the most extreme value per category during one repetition.
func worstCase(acc, m Metrics) Metrics {
	return Metrics{
		Depth:         math.Max(acc.Depth, m.Depth),
		BackAngle:     math.Max(acc.BackAngle, m.BackAngle),
		KneeAlignment: math.Min(acc.KneeAlignment, m.KneeAlignment),
		KneeAngle:     math.Min(acc.KneeAngle, m.KneeAngle),
		Balance:       math.Max(acc.Balance, m.Balance),
	}
}
