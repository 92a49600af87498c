package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/formcheck/internal/pose"
)

// Profiles supplies the configuration an exercise starts with.
type Profiles interface {
	Profile(ex Exercise) Config
}

type defaultProfiles struct{}

func (defaultProfiles) Profile(ex Exercise) Config { return DefaultConfig(ex) }

// DefaultProfiles serves DefaultConfig for every exercise.
var DefaultProfiles Profiles = defaultProfiles{}

// Workout owns one engine per exercise for a single user session. Independent
// workouts share nothing, so any number can run side by side.
type Workout struct {
	profiles Profiles
	log      *slog.Logger

	mu      sync.RWMutex
	engines map[Exercise]*Engine
	ended   bool
}

// NewWorkout returns an empty workout.
func NewWorkout(profiles Profiles, logger *slog.Logger) *Workout {
	if profiles == nil {
		profiles = DefaultProfiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workout{profiles: profiles, log: logger, engines: make(map[Exercise]*Engine)}
}

// Start begins tracking ex. A nil cfg uses the exercise profile. An ended
// engine for the same exercise is replaced.
func (w *Workout) Start(ex Exercise, cfg *Config, now time.Time) (*SessionState, error) {
	if _, err := ParseExercise(string(ex)); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return nil, ErrSessionEnded
	}
	if e, ok := w.engines[ex]; ok && e.Snapshot().Active {
		return nil, fmt.Errorf("%w: %s", ErrExerciseActive, ex)
	}
	c := w.profiles.Profile(ex)
	if cfg != nil {
		c = *cfg
	}
	e, err := New(ex, c, w.log, now)
	if err != nil {
		return nil, err
	}
	w.engines[ex] = e
	return e.Snapshot(), nil
}

func (w *Workout) engine(ex Exercise) (*Engine, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ended {
		return nil, ErrSessionEnded
	}
	e, ok := w.engines[ex]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExerciseNotStarted, ex)
	}
	return e, nil
}

// Engine returns the engine for ex.
func (w *Workout) Engine(ex Exercise) (*Engine, error) {
	return w.engine(ex)
}

// ProcessFrame feeds one frame to the engine for ex.
func (w *Workout) ProcessFrame(ex Exercise, f pose.Frame, now time.Time) (Output, error) {
	e, err := w.engine(ex)
	if err != nil {
		return Output{}, err
	}
	return e.ProcessFrame(f, now), nil
}

// Reset restores the session for ex to its initial values. An ended exercise
// must be started again instead.
func (w *Workout) Reset(ex Exercise, now time.Time) (*SessionState, error) {
	e, err := w.engine(ex)
	if err != nil {
		return nil, err
	}
	s, err := e.Reset(now)
	if err != nil {
		return nil, fmt.Errorf("resetting %s: %w", ex, err)
	}
	return s, nil
}

// End stops tracking ex and returns its final state.
func (w *Workout) End(ex Exercise, now time.Time) (*SessionState, error) {
	e, err := w.engine(ex)
	if err != nil {
		return nil, err
	}
	return e.End(now), nil
}

// Snapshot returns the current state for ex.
func (w *Workout) Snapshot(ex Exercise) (*SessionState, error) {
	e, err := w.engine(ex)
	if err != nil {
		return nil, err
	}
	return e.Snapshot(), nil
}

// Snapshots returns the current state of every started exercise.
func (w *Workout) Snapshots() map[Exercise]*SessionState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[Exercise]*SessionState, len(w.engines))
	for ex, e := range w.engines {
		out[ex] = e.Snapshot()
	}
	return out
}

// Close ends every exercise and the workout itself. It returns the final
// states of exercises that were still active.
func (w *Workout) Close(now time.Time) map[Exercise]*SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[Exercise]*SessionState)
	if w.ended {
		return out
	}
	w.ended = true
	for ex, e := range w.engines {
		if e.Snapshot().Active {
			out[ex] = e.End(now)
		}
	}
	return out
}

// Ended reports whether Close has been called.
func (w *Workout) Ended() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ended
}
