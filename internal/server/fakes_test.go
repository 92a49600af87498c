package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/publish"
	"github.com/claude/formcheck/internal/storage"
	"github.com/google/uuid"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	users    map[string]int
	sessions map[uuid.UUID]models.WorkoutSessionRow
	sets     map[uuid.UUID]models.ExerciseSetRow
	reps     []models.RepRow
	lastRepQ struct {
		exercise string
		limit    int
	}
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]int{"local": 1},
		sessions: make(map[uuid.UUID]models.WorkoutSessionRow),
		sets:     make(map[uuid.UUID]models.ExerciseSetRow),
	}
}

func (m *memStore) GetOrCreateUser(_ context.Context, login, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[login]; ok {
		return id, nil
	}
	id := len(m.users) + 1
	m.users[login] = id
	return id, nil
}

func (m *memStore) CreateWorkoutSession(_ context.Context, row models.WorkoutSessionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[row.ID] = row
	return nil
}

func (m *memStore) EndWorkoutSession(_ context.Context, id uuid.UUID, _ int, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.sessions[id]
	row.EndedAt = &endedAt
	m.sessions[id] = row
	return nil
}

func (m *memStore) InsertExerciseSet(_ context.Context, row models.ExerciseSetRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[row.ID] = row
	return nil
}

func (m *memStore) UpdateExerciseSet(_ context.Context, row models.ExerciseSetRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[row.ID] = row
	return nil
}

func (m *memStore) InsertRep(_ context.Context, row models.RepRow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reps = append(m.reps, row)
	return true, nil
}

func (m *memStore) QueryWorkoutSessions(_ context.Context, _, _ time.Time, userID int, _ string) ([]models.WorkoutSessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkoutSessionRow
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetWorkoutSession(_ context.Context, id uuid.UUID, userID int) (*storage.WorkoutSessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return &storage.WorkoutSessionDetail{WorkoutSessionRow: s}, nil
}

func (m *memStore) QueryReps(_ context.Context, _, _ time.Time, _ int, exercise string, limit int) ([]models.RepRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRepQ.exercise, m.lastRepQ.limit = exercise, limit
	return m.reps, nil
}

func (m *memStore) GetExerciseStats(_ context.Context, _ int, exercise string, _, _ time.Time) (*storage.ExerciseStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &storage.ExerciseStats{Exercise: exercise, Reps: int64(len(m.reps))}, nil
}

func (m *memStore) QueryReplayLogs(context.Context, int, int) ([]storage.ReplayLog, error) {
	return []storage.ReplayLog{{File: "squat/a.jsonl", Status: "success"}}, nil
}

func (m *memStore) setsFor(session uuid.UUID) []models.ExerciseSetRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExerciseSetRow
	for _, s := range m.sets {
		if s.SessionID == session {
			out = append(out, s)
		}
	}
	return out
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publish.RepEvent
}

func (p *recordingPublisher) Publish(ev publish.RepEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
