package models

import (
	"time"

	"github.com/google/uuid"
)

// Workout session sources.
const (
	SourceLive   = "live"
	SourceReplay = "replay"
)

// WorkoutSessionRow is a row of the workout_sessions table.
type WorkoutSessionRow struct {
	ID        uuid.UUID  `json:"id"`
	UserID    int        `json:"user_id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	TotalReps int        `json:"total_reps"`
	AvgScore  *float64   `json:"avg_score,omitempty"`
	Exercises []string   `json:"exercises"`
}

// ExerciseSetRow is a row of the exercise_sets table: one exercise performed
// within a workout session, from start to end.
type ExerciseSetRow struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"session_id"`
	UserID         int        `json:"user_id"`
	Exercise       string     `json:"exercise"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	RepCount       int        `json:"rep_count"`
	DiscardedReps  int        `json:"discarded_reps"`
	TrackingErrors int        `json:"tracking_errors"`
	AvgScore       *float64   `json:"avg_score,omitempty"`
	BestScore      *float64   `json:"best_score,omitempty"`
	Config         []byte     `json:"-"`
}

// RepRow is a row of the reps table.
type RepRow struct {
	SetID          uuid.UUID `json:"set_id"`
	SessionID      uuid.UUID `json:"session_id"`
	UserID         int       `json:"user_id"`
	Exercise       string    `json:"exercise"`
	RepNumber      int       `json:"rep_number"`
	Time           time.Time `json:"time"`
	Score          float64   `json:"score"`
	DurationMs     int64     `json:"duration_ms"`
	MaxDepth       float64   `json:"max_depth"`
	BackAngle      float64   `json:"back_angle"`
	KneeAlignment  float64   `json:"knee_alignment"`
	KneeAngle      float64   `json:"knee_angle"`
	Balance        float64   `json:"balance"`
	FormScore      float64   `json:"form_score"`
	DepthScore     float64   `json:"depth_score"`
	AlignmentScore float64   `json:"alignment_score"`
	BalanceScore   float64   `json:"balance_score"`
}
