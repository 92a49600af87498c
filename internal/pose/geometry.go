package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// up is the vertical direction in image coordinates (Y grows downward).
var up = r3.Vec{X: 0, Y: -1}

// Vec returns the landmark position as a vector.
func (l Landmark) Vec() r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y, Z: l.Z}
}

// Planar returns the landmark position projected onto the image plane.
// Depth from a monocular pose model is too noisy for joint angles.
func (l Landmark) Planar() r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y}
}

// Midpoint returns the point halfway between a and b. Its confidence is the
// lower of the two.
func Midpoint(a, b Landmark) Landmark {
	m := r3.Scale(0.5, r3.Add(a.Vec(), b.Vec()))
	return Landmark{X: m.X, Y: m.Y, Z: m.Z, Confidence: math.Min(a.Confidence, b.Confidence)}
}

// AngleFromVertical returns the angle in degrees between the segment
// from → to and the upward vertical, measured in the image plane.
func AngleFromVertical(from, to Landmark) float64 {
	seg := r3.Sub(to.Planar(), from.Planar())
	if r3.Norm(seg) == 0 {
		return 0
	}
	return radToDeg(math.Acos(clampUnit(r3.Cos(seg, up))))
}

// JointAngle returns the angle in degrees at vertex b formed by a-b-c in the
// image plane. Degenerate segments yield 180.
func JointAngle(a, b, c Landmark) float64 {
	ba := r3.Sub(a.Planar(), b.Planar())
	bc := r3.Sub(c.Planar(), b.Planar())
	if r3.Norm(ba) == 0 || r3.Norm(bc) == 0 {
		return 180
	}
	return radToDeg(math.Acos(clampUnit(r3.Cos(ba, bc))))
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func radToDeg(r float64) float64 {
	return r * 180 / math.Pi
}
