package storage

import (
	"context"
	"fmt"

	"github.com/claude/formcheck/internal/models"
)

const setColumns = `id, session_id, user_id, exercise, started_at, ended_at,
	rep_count, discarded_reps, tracking_errors, avg_score, best_score, config`

// InsertExerciseSet inserts an exercise set row.
func (db *DB) InsertExerciseSet(ctx context.Context, row models.ExerciseSetRow) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO exercise_sets (`+setColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		row.ID, row.SessionID, row.UserID, row.Exercise, row.StartedAt, row.EndedAt,
		row.RepCount, row.DiscardedReps, row.TrackingErrors, row.AvgScore, row.BestScore, row.Config)
	if err != nil {
		return fmt.Errorf("inserting exercise set: %w", err)
	}
	return nil
}

// UpdateExerciseSet writes the totals of a set, typically when the exercise ends.
func (db *DB) UpdateExerciseSet(ctx context.Context, row models.ExerciseSetRow) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE exercise_sets SET
		 ended_at = $3, rep_count = $4, discarded_reps = $5, tracking_errors = $6,
		 avg_score = $7, best_score = $8
		 WHERE id = $1 AND user_id = $2`,
		row.ID, row.UserID, row.EndedAt, row.RepCount, row.DiscardedReps, row.TrackingErrors,
		row.AvgScore, row.BestScore)
	if err != nil {
		return fmt.Errorf("updating exercise set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating exercise set: %s not found", row.ID)
	}
	return nil
}

func scanSet(row interface{ Scan(dest ...any) error }) (models.ExerciseSetRow, error) {
	var s models.ExerciseSetRow
	if err := row.Scan(&s.ID, &s.SessionID, &s.UserID, &s.Exercise, &s.StartedAt, &s.EndedAt,
		&s.RepCount, &s.DiscardedReps, &s.TrackingErrors, &s.AvgScore, &s.BestScore, &s.Config); err != nil {
		return s, fmt.Errorf("scanning exercise set: %w", err)
	}
	return s, nil
}
