package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("FormCheck", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("FormCheck exercise history server. Query recorded workout sessions, individual reps with form scores, and per-exercise statistics. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetWorkoutSessions, Handler: h.getWorkoutSessions},
		server.ServerTool{Tool: toolGetWorkoutSession, Handler: h.getWorkoutSession},
		server.ServerTool{Tool: toolGetReps, Handler: h.getReps},
		server.ServerTool{Tool: toolGetExerciseStats, Handler: h.getExerciseStats},
		server.ServerTool{Tool: toolListExercises, Handler: h.listExercises},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessions},
		server.ServerResource{Resource: resExerciseCatalog, Handler: h.exerciseCatalog},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resRecentSessions = mcp.NewResource(
	"formcheck://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Workout sessions from the last 14 days with rep totals and exercises performed"),
	mcp.WithMIMEType("application/json"),
)

var resExerciseCatalog = mcp.NewResource(
	"formcheck://exercise_catalog",
	"Exercise Catalog",
	mcp.WithResourceDescription("Supported exercises with required landmarks and the thresholds they are scored against"),
	mcp.WithMIMEType("application/json"),
)
