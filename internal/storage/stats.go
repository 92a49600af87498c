package storage

import (
	"context"
	"fmt"
	"time"
)

// ExerciseStats holds aggregate statistics for one exercise.
type ExerciseStats struct {
	Exercise       string     `json:"exercise"`
	Sets           int64      `json:"sets"`
	Reps           int64      `json:"reps"`
	DiscardedReps  int64      `json:"discarded_reps"`
	AvgScore       *float64   `json:"avg_score,omitempty"`
	BestScore      *float64   `json:"best_score,omitempty"`
	AvgDepth       *float64   `json:"avg_depth,omitempty"`
	AvgDurationMs  *float64   `json:"avg_duration_ms,omitempty"`
	WeakestArea    string     `json:"weakest_area,omitempty"`
	FirstPerformed *time.Time `json:"first_performed,omitempty"`
	LastPerformed  *time.Time `json:"last_performed,omitempty"`
}

// GetExerciseStats returns aggregate statistics for one exercise in a time range.
func (db *DB) GetExerciseStats(ctx context.Context, userID int, exercise string, start, end time.Time) (*ExerciseStats, error) {
	stats := &ExerciseStats{Exercise: exercise}

	// Sets and discarded attempts
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(discarded_reps), 0), MIN(started_at), MAX(started_at)
		 FROM exercise_sets
		 WHERE user_id = $1 AND exercise = $2 AND started_at >= $3 AND started_at < $4`,
		userID, exercise, start, end,
	).Scan(&stats.Sets, &stats.DiscardedReps, &stats.FirstPerformed, &stats.LastPerformed)
	if err != nil {
		return nil, fmt.Errorf("querying set stats: %w", err)
	}

	// Rep quality
	var form, depth, alignment, balance *float64
	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*), AVG(score), MAX(score), AVG(max_depth), AVG(duration_ms),
		        AVG(form_score), AVG(depth_score), AVG(alignment_score), AVG(balance_score)
		 FROM reps
		 WHERE user_id = $1 AND exercise = $2 AND time >= $3 AND time < $4`,
		userID, exercise, start, end,
	).Scan(&stats.Reps, &stats.AvgScore, &stats.BestScore, &stats.AvgDepth, &stats.AvgDurationMs,
		&form, &depth, &alignment, &balance)
	if err != nil {
		return nil, fmt.Errorf("querying rep stats: %w", err)
	}
	stats.WeakestArea = weakestArea(map[string]*float64{
		"form": form, "depth": depth, "alignment": alignment, "balance": balance,
	})

	return stats, nil
}

// weakestArea returns the category with the lowest average score, or "" when
// there is no data.
func weakestArea(avgs map[string]*float64) string {
	var name string
	lowest := 0.0
	for _, cat := range []string{"form", "depth", "alignment", "balance"} {
		v := avgs[cat]
		if v == nil {
			continue
		}
		if name == "" || *v < lowest {
			name, lowest = cat, *v
		}
	}
	return name
}
