package engine

import (
	"fmt"

	"github.com/claude/formcheck/internal/pose"
)

// validator decides whether a frame can be trusted. Rejection is reported as a
// reason string: low confidence is routine and never an error.
type validator struct {
	minConfidence float64
	required      []pose.LandmarkName
}

func newValidator(ex Exercise, cfg Config) validator {
	return validator{minConfidence: cfg.MinConfidence, required: ex.RequiredLandmarks()}
}

// check returns "" for a valid frame, otherwise the rejection reason.
func (v validator) check(f pose.Frame) string {
	for _, name := range v.required {
		l, ok := f.Get(name)
		if !ok {
			return fmt.Sprintf("missing %s", name)
		}
		if !l.Finite() {
			return fmt.Sprintf("non-finite %s", name)
		}
		if l.Confidence < v.minConfidence {
			return fmt.Sprintf("low confidence %s (%.2f)", name, l.Confidence)
		}
	}
	return plausible(f)
}

// plausible checks the gross vertical ordering of the body: shoulders above
// hips above ankles. Anything else is a mis-detection.
func plausible(f pose.Frame) string {
	shoulder := pose.Midpoint(f.Landmarks[pose.LeftShoulder], f.Landmarks[pose.RightShoulder])
	hip := pose.Midpoint(f.Landmarks[pose.LeftHip], f.Landmarks[pose.RightHip])
	ankle := pose.Midpoint(f.Landmarks[pose.LeftAnkle], f.Landmarks[pose.RightAnkle])

	if shoulder.Y >= hip.Y {
		return "implausible pose: shoulders not above hips"
	}
	if hip.Y >= ankle.Y {
		return "implausible pose: hips not above ankles"
	}
	return ""
}
