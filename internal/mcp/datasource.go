package mcp

import (
	"context"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/storage"
	"github.com/google/uuid"
)

// DataSource abstracts the data layer for MCP tools. Both Local (database)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	QueryWorkoutSessions(ctx context.Context, start, end time.Time, userID int, exercise string) ([]models.WorkoutSessionRow, error)
	GetWorkoutSession(ctx context.Context, id uuid.UUID, userID int) (*storage.WorkoutSessionDetail, error)
	QueryReps(ctx context.Context, start, end time.Time, userID int, exercise string, limit int) ([]models.RepRow, error)
	GetExerciseStats(ctx context.Context, userID int, exercise string, start, end time.Time) (*storage.ExerciseStats, error)
	ListExercises(ctx context.Context) ([]engine.ExerciseInfo, error)
}

// Local serves history from the database and the exercise catalog from the
// configured profiles.
type Local struct {
	*storage.DB
	Profiles engine.Profiles
}

// Compile-time check: Local satisfies DataSource.
var _ DataSource = Local{}

// ListExercises returns the exercise catalog.
func (l Local) ListExercises(context.Context) ([]engine.ExerciseInfo, error) {
	return engine.Catalog(l.Profiles), nil
}
