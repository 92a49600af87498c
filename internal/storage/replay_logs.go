package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplayLog records the outcome of replaying one trace file.
type ReplayLog struct {
	ID           int64      `json:"id"`
	UserID       int        `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	File         string     `json:"file"`
	Exercise     string     `json:"exercise"`
	Status       string     `json:"status"`
	FramesRead   int        `json:"frames_read"`
	RepsInserted int64      `json:"reps_inserted"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
	DurationMs   *int       `json:"duration_ms"`
	ErrorMessage *string    `json:"error_message"`
}

// InsertReplayLog creates a new replay log entry and returns its ID.
func (db *DB) InsertReplayLog(ctx context.Context, log ReplayLog) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO replay_logs (user_id, file, exercise, status, frames_read, reps_inserted,
		 session_id, duration_ms, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id`,
		log.UserID, log.File, log.Exercise, log.Status, log.FramesRead, log.RepsInserted,
		log.SessionID, log.DurationMs, log.ErrorMessage,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting replay log: %w", err)
	}
	return id, nil
}

// UpdateReplayLog updates an existing entry, typically from "running" to "success" or "error".
func (db *DB) UpdateReplayLog(ctx context.Context, id int64, log ReplayLog) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE replay_logs SET
		 status = $2, frames_read = $3, reps_inserted = $4, session_id = $5,
		 duration_ms = $6, error_message = $7
		 WHERE id = $1`,
		id, log.Status, log.FramesRead, log.RepsInserted, log.SessionID,
		log.DurationMs, log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("updating replay log %d: %w", id, err)
	}
	return nil
}

// QueryReplayLogs returns the most recent replay logs for a user.
func (db *DB) QueryReplayLogs(ctx context.Context, userID, limit int) ([]ReplayLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, created_at, file, exercise, status, frames_read, reps_inserted,
		 session_id, duration_ms, error_message
		 FROM replay_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying replay logs: %w", err)
	}
	defer rows.Close()

	var result []ReplayLog
	for rows.Next() {
		var l ReplayLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.CreatedAt, &l.File, &l.Exercise, &l.Status,
			&l.FramesRead, &l.RepsInserted, &l.SessionID, &l.DurationMs, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning replay log: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
