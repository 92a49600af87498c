package mcp

import (
	"context"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -7)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// exerciseEnum lists the accepted exercise names for tool schemas.
func exerciseEnum() []string {
	var names []string
	for _, ex := range engine.Exercises() {
		names = append(names, string(ex))
	}
	return names
}

// --- Tool definitions ---

var toolGetWorkoutSessions = mcp.NewTool("get_workout_sessions",
	mcp.WithDescription("List recorded workout sessions with total reps, average rep score and the exercises performed. Newest first."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Only sessions that include this exercise."), mcp.Enum(exerciseEnum()...)),
)

var toolGetWorkoutSession = mcp.NewTool("get_workout_session",
	mcp.WithDescription("Get one workout session with its exercise sets (rep counts, discarded attempts, tracking errors) and every counted rep with its metrics and category scores."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Workout session ID (UUID)")),
)

var toolGetReps = mcp.NewTool("get_reps",
	mcp.WithDescription("Retrieve individual reps with score, duration, depth, back angle, knee alignment, balance and the form/depth/alignment/balance category scores. Newest first."),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Filter by exercise."), mcp.Enum(exerciseEnum()...)),
	mcp.WithNumber("limit", mcp.Description("Maximum number of reps to return. Defaults to 100.")),
)

var toolGetExerciseStats = mcp.NewTool("get_exercise_stats",
	mcp.WithDescription("Aggregate statistics for one exercise: sets, reps, discarded attempts, average and best score, average depth and rep duration, and the weakest scoring category."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise name"), mcp.Enum(exerciseEnum()...)),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
)

var toolListExercises = mcp.NewTool("list_exercises",
	mcp.WithDescription("List supported exercises with the landmarks they need and the thresholds reps are judged against."),
)

// --- Tool handlers ---

func (h *handlers) getWorkoutSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	uid := UserIDFromContext(ctx)

	sessions, err := h.ds.QueryWorkoutSessions(ctx, start, end, uid, req.GetString("exercise", ""))
	if err != nil {
		h.log.Error("mcp get_workout_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWorkoutSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session ID: " + err.Error()), nil
	}
	uid := UserIDFromContext(ctx)

	detail, err := h.ds.GetWorkoutSession(ctx, id, uid)
	if err != nil {
		h.log.Error("mcp get_workout_session", "id", id, "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(detail)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getReps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	limit := req.GetInt("limit", 100)
	if limit <= 0 {
		limit = 100
	}
	uid := UserIDFromContext(ctx)

	reps, err := h.ds.QueryReps(ctx, start, end, uid, req.GetString("exercise", ""), limit)
	if err != nil {
		h.log.Error("mcp get_reps", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(reps)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getExerciseStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("exercise")
	if err != nil {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}
	ex, err := engine.ParseExercise(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	uid := UserIDFromContext(ctx)

	stats, err := h.ds.GetExerciseStats(ctx, uid, string(ex), start, end)
	if err != nil {
		h.log.Error("mcp get_exercise_stats", "exercise", ex, "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(stats)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) listExercises(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	catalog, err := h.ds.ListExercises(ctx)
	if err != nil {
		h.log.Error("mcp list_exercises", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(catalog)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
