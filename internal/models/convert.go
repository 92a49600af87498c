package models

import (
	"encoding/json"
	"fmt"

	"github.com/claude/formcheck/internal/engine"
	"github.com/google/uuid"
)

// NewRepRow flattens a counted rep into a reps row.
func NewRepRow(set ExerciseSetRow, rec engine.RepRecord) RepRow {
	return RepRow{
		SetID:          set.ID,
		SessionID:      set.SessionID,
		UserID:         set.UserID,
		Exercise:       set.Exercise,
		RepNumber:      rec.Number,
		Time:           rec.Timestamp,
		Score:          rec.Score,
		DurationMs:     rec.Duration.Milliseconds(),
		MaxDepth:       rec.Metrics.Depth,
		BackAngle:      rec.Metrics.BackAngle,
		KneeAlignment:  rec.Metrics.KneeAlignment,
		KneeAngle:      rec.Metrics.KneeAngle,
		Balance:        rec.Metrics.Balance,
		FormScore:      rec.Categories.Form,
		DepthScore:     rec.Categories.Depth,
		AlignmentScore: rec.Categories.Alignment,
		BalanceScore:   rec.Categories.Balance,
	}
}

// NewExerciseSet starts a set row for an exercise that has just begun.
func NewExerciseSet(sessionID uuid.UUID, userID int, state *engine.SessionState, cfg engine.Config) (ExerciseSetRow, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ExerciseSetRow{}, fmt.Errorf("encoding engine config: %w", err)
	}
	return ExerciseSetRow{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    userID,
		Exercise:  string(state.Exercise),
		StartedAt: state.StartedAt,
		Config:    raw,
	}, nil
}

// Summarize copies the totals of a finished exercise session into the set row.
func (s *ExerciseSetRow) Summarize(state *engine.SessionState) {
	s.EndedAt = state.EndedAt
	s.RepCount = state.RepCount
	s.DiscardedReps = state.DiscardedReps
	s.TrackingErrors = state.TotalTrackingErrors
	s.AvgScore, s.BestScore = nil, nil
	if len(state.ScoreHistory) == 0 {
		return
	}
	avg := state.CurrentScore
	best := state.ScoreHistory[0]
	for _, v := range state.ScoreHistory[1:] {
		best = max(best, v)
	}
	s.AvgScore, s.BestScore = &avg, &best
}
