package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/claude/formcheck/internal/engine"
	formcheckmcp "github.com/claude/formcheck/internal/mcp"
	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/publish"
	"github.com/claude/formcheck/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Store is the persistence the server needs. Satisfied by *storage.DB.
type Store interface {
	UserResolver
	CreateWorkoutSession(ctx context.Context, row models.WorkoutSessionRow) error
	EndWorkoutSession(ctx context.Context, id uuid.UUID, userID int, endedAt time.Time) error
	InsertExerciseSet(ctx context.Context, row models.ExerciseSetRow) error
	UpdateExerciseSet(ctx context.Context, row models.ExerciseSetRow) error
	InsertRep(ctx context.Context, row models.RepRow) (bool, error)
	QueryWorkoutSessions(ctx context.Context, start, end time.Time, userID int, exercise string) ([]models.WorkoutSessionRow, error)
	GetWorkoutSession(ctx context.Context, id uuid.UUID, userID int) (*storage.WorkoutSessionDetail, error)
	QueryReps(ctx context.Context, start, end time.Time, userID int, exercise string, limit int) ([]models.RepRow, error)
	GetExerciseStats(ctx context.Context, userID int, exercise string, start, end time.Time) (*storage.ExerciseStats, error)
	QueryReplayLogs(ctx context.Context, userID, limit int) ([]storage.ReplayLog, error)
}

var _ Store = (*storage.DB)(nil)

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       Store
	profiles engine.Profiles
	pub      publish.Publisher
	log      *slog.Logger
	apiKey   string
	router   chi.Router
	live     *registry
	identity func(http.Handler) http.Handler
}

// New creates a new Server with all routes configured. A nil publisher
// discards rep events.
func New(db Store, profiles engine.Profiles, pub publish.Publisher, apiKey string, log *slog.Logger) *Server {
	if profiles == nil {
		profiles = engine.DefaultProfiles
	}
	if pub == nil {
		pub = publish.Nop{}
	}
	s := &Server{
		db:       db,
		profiles: profiles,
		pub:      pub,
		log:      log,
		apiKey:   apiKey,
		router:   chi.NewRouter(),
		live:     newRegistry(),
		identity: DevIdentity,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches caller identification from the local dev user to
// tailnet identities.
func (s *Server) SetTailscale(lc WhoIser) {
	s.identity = TailscaleIdentity(lc, s.db, s.log)
}

// SetMCP mounts the MCP streamable HTTP endpoint at /mcp. Tool calls run as
// the identified caller.
func (s *Server) SetMCP(m *mcpserver.MCPServer) {
	h := mcpserver.NewStreamableHTTPServer(m,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return formcheckmcp.WithUserID(ctx, userIDFromContext(r))
		}),
	)
	s.router.With(s.identify).Handle("/mcp", h)
}

// identify applies the current identity middleware.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.identity(next).ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Group(func(r chi.Router) {
		r.Use(s.identify)

		// Live analysis (API key required)
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Use(APIKeyAuth(s.apiKey))
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleEndSession)
			r.Post("/{id}/exercises", s.handleStartExercise)
			r.Post("/{id}/frames", s.handleFrame)
			r.Post("/{id}/exercises/{exercise}/reset", s.handleResetExercise)
			r.Delete("/{id}/exercises/{exercise}", s.handleEndExercise)
		})

		// History endpoints (no API key; tsnet handles access)
		r.Get("/api/v1/workouts", s.handleQueryWorkouts)
		r.Get("/api/v1/workouts/{id}", s.handleGetWorkout)
		r.Get("/api/v1/reps", s.handleQueryReps)
		r.Get("/api/v1/exercises", s.handleListExercises)
		r.Get("/api/v1/exercises/{exercise}/stats", s.handleExerciseStats)
		r.Get("/api/v1/replays", s.handleReplayLogs)
		r.Get("/api/v1/me", s.handleMe)
	})
}

// SweepIdle ends live sessions that have had no request for longer than idle.
// They are closed as of their last request. It returns how many were ended.
func (s *Server) SweepIdle(ctx context.Context, idle time.Duration, now time.Time) int {
	expired := s.live.expire(now.Add(-idle))
	for _, ls := range expired {
		last := ls.lastSeenAt()
		s.log.Info("ending idle workout session", "session_id", ls.id, "user_id", ls.userID, "idle", now.Sub(last).String())
		s.closeSession(ctx, ls, last)
	}
	return len(expired)
}

// RunIdleSweeper calls SweepIdle every interval until ctx is cancelled. A
// non-positive idle disables it.
func (s *Server) RunIdleSweeper(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			sweepCtx, cancel := contextWithTimeout()
			if n := s.SweepIdle(sweepCtx, idle, now); n > 0 {
				s.log.Info("idle sessions ended", "count", n, "live", s.live.count())
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown ends every live session and stores its final set summaries.
func (s *Server) Shutdown(ctx context.Context) {
	now := time.Now()
	for _, ls := range s.live.drain() {
		s.closeSession(ctx, ls, now)
	}
}
