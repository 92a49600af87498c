package engine

import "errors"

var (
	// ErrUnknownExercise is returned for exercise names outside the supported set.
	ErrUnknownExercise = errors.New("unknown exercise")
	// ErrExerciseNotStarted is returned when a workout has no engine for the exercise.
	ErrExerciseNotStarted = errors.New("exercise not started")
	// ErrExerciseActive is returned when starting an exercise that is still running.
	ErrExerciseActive = errors.New("exercise already active")
	// ErrSessionEnded is returned when operating on an ended session.
	ErrSessionEnded = errors.New("session ended")
)
