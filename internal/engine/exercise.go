package engine

import (
	"fmt"

	"github.com/claude/formcheck/internal/pose"
)

// Exercise identifies a tracked movement type.
type Exercise string

const (
	Squat Exercise = "squat"
	Lunge Exercise = "lunge"
)

var exercises = []Exercise{Squat, Lunge}

// Exercises returns every supported exercise in display order.
func Exercises() []Exercise {
	out := make([]Exercise, len(exercises))
	copy(out, exercises)
	return out
}

// ParseExercise validates an exercise name.
func ParseExercise(s string) (Exercise, error) {
	for _, ex := range exercises {
		if string(ex) == s {
			return ex, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExercise, s)
}

// lowerBody are the landmarks every supported exercise needs.
var lowerBody = []pose.LandmarkName{
	pose.LeftShoulder, pose.RightShoulder,
	pose.LeftHip, pose.RightHip,
	pose.LeftKnee, pose.RightKnee,
	pose.LeftAnkle, pose.RightAnkle,
}

// RequiredLandmarks returns the landmarks a frame must contain for ex.
func (ex Exercise) RequiredLandmarks() []pose.LandmarkName {
	switch ex {
	case Squat, Lunge:
		return lowerBody
	}
	return nil
}

// ExerciseInfo describes a supported exercise and the thresholds it runs with.
type ExerciseInfo struct {
	Name              Exercise            `json:"name"`
	RequiredLandmarks []pose.LandmarkName `json:"required_landmarks"`
	Config            Config              `json:"config"`
}

// Catalog lists every exercise with the configuration p resolves for it.
func Catalog(p Profiles) []ExerciseInfo {
	if p == nil {
		p = DefaultProfiles
	}
	out := make([]ExerciseInfo, 0, len(exercises))
	for _, ex := range exercises {
		out = append(out, ExerciseInfo{Name: ex, RequiredLandmarks: ex.RequiredLandmarks(), Config: p.Profile(ex)})
	}
	return out
}
