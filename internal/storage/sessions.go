package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/formcheck/internal/models"
	"github.com/google/uuid"
)

// CreateWorkoutSession inserts a new workout session row.
func (db *DB) CreateWorkoutSession(ctx context.Context, row models.WorkoutSessionRow) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO workout_sessions (id, user_id, source, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.UserID, row.Source, row.StartedAt, row.EndedAt)
	if err != nil {
		return fmt.Errorf("inserting workout session: %w", err)
	}
	return nil
}

// EndWorkoutSession stamps the end time of a session. Ending twice keeps the first time.
func (db *DB) EndWorkoutSession(ctx context.Context, id uuid.UUID, userID int, endedAt time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE workout_sessions SET ended_at = COALESCE(ended_at, $3)
		 WHERE id = $1 AND user_id = $2`,
		id, userID, endedAt)
	if err != nil {
		return fmt.Errorf("ending workout session: %w", err)
	}
	return nil
}

// sessionSelect aggregates rep totals and the exercises performed per session.
const sessionSelect = `
	SELECT ws.id, ws.user_id, ws.source, ws.started_at, ws.ended_at,
	       COALESCE(SUM(es.rep_count), 0)::int,
	       (SELECT AVG(r.score) FROM reps r WHERE r.session_id = ws.id),
	       COALESCE(ARRAY_AGG(DISTINCT es.exercise) FILTER (WHERE es.exercise IS NOT NULL), '{}')
	FROM workout_sessions ws
	LEFT JOIN exercise_sets es ON es.session_id = ws.id`

// QueryWorkoutSessions retrieves sessions started in a time range, newest
// first. A non-empty exercise keeps only sessions that include it.
func (db *DB) QueryWorkoutSessions(ctx context.Context, start, end time.Time, userID int, exercise string) ([]models.WorkoutSessionRow, error) {
	rows, err := db.Pool.Query(ctx, sessionSelect+`
		WHERE ws.started_at >= $1 AND ws.started_at < $2 AND ws.user_id = $3
		  AND ($4 = '' OR EXISTS (
		      SELECT 1 FROM exercise_sets x WHERE x.session_id = ws.id AND x.exercise = $4))
		GROUP BY ws.id
		ORDER BY ws.started_at DESC`,
		start, end, userID, exercise)
	if err != nil {
		return nil, fmt.Errorf("querying workout sessions: %w", err)
	}
	defer rows.Close()

	var result []models.WorkoutSessionRow
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanSession(row interface{ Scan(dest ...any) error }) (models.WorkoutSessionRow, error) {
	var s models.WorkoutSessionRow
	if err := row.Scan(&s.ID, &s.UserID, &s.Source, &s.StartedAt, &s.EndedAt,
		&s.TotalReps, &s.AvgScore, &s.Exercises); err != nil {
		return s, fmt.Errorf("scanning workout session: %w", err)
	}
	return s, nil
}

// WorkoutSessionDetail is a session with its exercise sets and reps.
type WorkoutSessionDetail struct {
	models.WorkoutSessionRow
	Sets []models.ExerciseSetRow `json:"sets"`
	Reps []models.RepRow         `json:"reps"`
}

// GetWorkoutSession retrieves a single session by ID with all associated data.
func (db *DB) GetWorkoutSession(ctx context.Context, id uuid.UUID, userID int) (*WorkoutSessionDetail, error) {
	row := db.Pool.QueryRow(ctx, sessionSelect+`
		WHERE ws.id = $1 AND ws.user_id = $2
		GROUP BY ws.id`,
		id, userID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	detail := &WorkoutSessionDetail{WorkoutSessionRow: s}

	setRows, err := db.Pool.Query(ctx,
		`SELECT `+setColumns+`
		 FROM exercise_sets
		 WHERE session_id = $1 AND user_id = $2
		 ORDER BY started_at ASC`,
		id, userID)
	if err != nil {
		return nil, fmt.Errorf("querying exercise sets: %w", err)
	}
	defer setRows.Close()
	for setRows.Next() {
		set, err := scanSet(setRows)
		if err != nil {
			return nil, err
		}
		detail.Sets = append(detail.Sets, set)
	}
	if err := setRows.Err(); err != nil {
		return nil, err
	}

	repRows, err := db.Pool.Query(ctx,
		`SELECT `+repColumns+`
		 FROM reps
		 WHERE session_id = $1 AND user_id = $2
		 ORDER BY time ASC`,
		id, userID)
	if err != nil {
		return nil, fmt.Errorf("querying session reps: %w", err)
	}
	defer repRows.Close()
	detail.Reps, err = scanReps(repRows)
	return detail, err
}
