package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/claude/formcheck/internal/models"
)

const repColumns = `set_id, session_id, user_id, exercise, rep_number, time, score, duration_ms,
	max_depth, back_angle, knee_alignment, knee_angle, balance,
	form_score, depth_score, alignment_score, balance_score`

const repFields = 17

func repArgs(r models.RepRow) []any {
	return []any{r.SetID, r.SessionID, r.UserID, r.Exercise, r.RepNumber, r.Time, r.Score, r.DurationMs,
		r.MaxDepth, r.BackAngle, r.KneeAlignment, r.KneeAngle, r.Balance,
		r.FormScore, r.DepthScore, r.AlignmentScore, r.BalanceScore}
}

// buildRepInsert returns a multi-row insert for rows. Reps already stored for
// the same set and number are skipped.
func buildRepInsert(rows []models.RepRow) (string, []any) {
	args := make([]any, 0, len(rows)*repFields)
	valueStrings := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * repFields
		placeholders := make([]string, repFields)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		args = append(args, repArgs(r)...)
	}

	query := `INSERT INTO reps (` + repColumns + `) VALUES ` +
		strings.Join(valueStrings, ",") + " ON CONFLICT (set_id, rep_number) DO NOTHING"
	return query, args
}

// InsertRep inserts one rep. Returns true if inserted, false if duplicate.
func (db *DB) InsertRep(ctx context.Context, row models.RepRow) (bool, error) {
	n, err := db.InsertReps(ctx, []models.RepRow{row})
	return n > 0, err
}

// InsertReps batch-inserts reps. Returns count inserted.
func (db *DB) InsertReps(ctx context.Context, rows []models.RepRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, args := buildRepInsert(rows)
	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting reps: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueryReps retrieves reps in a time range, newest first. A non-empty exercise
// filters by exercise; limit <= 0 returns everything.
func (db *DB) QueryReps(ctx context.Context, start, end time.Time, userID int, exercise string, limit int) ([]models.RepRow, error) {
	query := `SELECT ` + repColumns + `
		 FROM reps
		 WHERE time >= $1 AND time < $2 AND user_id = $3 AND ($4 = '' OR exercise = $4)
		 ORDER BY time DESC`
	args := []any{start, end, userID, exercise}
	if limit > 0 {
		query += " LIMIT $5"
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reps: %w", err)
	}
	defer rows.Close()
	return scanReps(rows)
}

func scanReps(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.RepRow, error) {
	var result []models.RepRow
	for rows.Next() {
		var r models.RepRow
		if err := rows.Scan(&r.SetID, &r.SessionID, &r.UserID, &r.Exercise, &r.RepNumber, &r.Time,
			&r.Score, &r.DurationMs, &r.MaxDepth, &r.BackAngle, &r.KneeAlignment, &r.KneeAngle, &r.Balance,
			&r.FormScore, &r.DepthScore, &r.AlignmentScore, &r.BalanceScore); err != nil {
			return nil, fmt.Errorf("scanning rep: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
