package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/pose"
	"github.com/claude/formcheck/internal/publish"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxFrameBytes bounds a single frame request body.
const maxFrameBytes = 64 << 10

type sessionResponse struct {
	ID        uuid.UUID                                `json:"id"`
	StartedAt time.Time                                `json:"started_at"`
	EndedAt   *time.Time                               `json:"ended_at,omitempty"`
	Exercises map[engine.Exercise]*engine.SessionState `json:"exercises"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	uid := userIDFromContext(r)
	now := time.Now()
	row := models.WorkoutSessionRow{
		ID:        uuid.New(),
		UserID:    uid,
		Source:    models.SourceLive,
		StartedAt: now,
	}
	if err := s.db.CreateWorkoutSession(r.Context(), row); err != nil {
		s.log.Error("creating workout session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ls := &liveSession{
		id:        row.ID,
		userID:    uid,
		startedAt: now,
		workout:   engine.NewWorkout(s.profiles, s.log.With("session_id", row.ID)),
		sets:      make(map[engine.Exercise]models.ExerciseSetRow),
	}
	ls.touch(now)
	s.live.add(ls)
	s.log.Info("workout session started", "session_id", row.ID, "user_id", uid)

	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:        ls.id,
		StartedAt: now,
		Exercises: map[engine.Exercise]*engine.SessionState{},
	})
}

// liveSessionFromRequest resolves the {id} URL parameter to a live session
// owned by the caller, writing the error response when it cannot.
func (s *Server) liveSessionFromRequest(w http.ResponseWriter, r *http.Request) (*liveSession, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return nil, false
	}
	ls, ok := s.live.get(id, userIDFromContext(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return nil, false
	}
	ls.touch(time.Now())
	return ls, true
}

func exerciseFromRequest(w http.ResponseWriter, r *http.Request) (engine.Exercise, bool) {
	ex, err := engine.ParseExercise(chi.URLParam(r, "exercise"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return "", false
	}
	return ex, true
}

// writeEngineError maps workout errors onto status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, engine.ErrExerciseNotStarted):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrExerciseActive), errors.Is(err, engine.ErrSessionEnded):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:        ls.id,
		StartedAt: ls.startedAt,
		Exercises: ls.workout.Snapshots(),
	})
}

type startExerciseRequest struct {
	Exercise string `json:"exercise"`
	// Config overrides fields of the exercise profile. Durations are nanoseconds.
	Config json.RawMessage `json:"config,omitempty"`
}

func (s *Server) handleStartExercise(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}

	var req startExerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	ex, err := engine.ParseExercise(req.Exercise)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var cfg *engine.Config
	if len(req.Config) > 0 && string(req.Config) != "null" {
		c := s.profiles.Profile(ex)
		if err := json.Unmarshal(req.Config, &c); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid config: " + err.Error()})
			return
		}
		cfg = &c
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	state, err := ls.workout.Start(ex, cfg, time.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.openSet(r.Context(), ls, ex, state); err != nil {
		s.log.Error("creating exercise set", "session_id", ls.id, "exercise", ex, "error", err)
		ls.workout.End(ex, time.Now())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// openSet stores a new exercise set for the running engine of ex. Callers hold ls.mu.
func (s *Server) openSet(ctx context.Context, ls *liveSession, ex engine.Exercise, state *engine.SessionState) error {
	e, err := ls.workout.Engine(ex)
	if err != nil {
		return err
	}
	set, err := models.NewExerciseSet(ls.id, ls.userID, state, e.Config())
	if err != nil {
		return err
	}
	if err := s.db.InsertExerciseSet(ctx, set); err != nil {
		return err
	}
	ls.sets[ex] = set
	return nil
}

// closeSet writes the final totals of the set for ex. Callers hold ls.mu.
func (s *Server) closeSet(ctx context.Context, ls *liveSession, ex engine.Exercise, state *engine.SessionState) {
	set, ok := ls.sets[ex]
	if !ok {
		return
	}
	delete(ls.sets, ex)
	set.Summarize(state)
	if set.EndedAt == nil {
		now := time.Now()
		set.EndedAt = &now
	}
	if err := s.db.UpdateExerciseSet(ctx, set); err != nil {
		s.log.Error("updating exercise set", "set_id", set.ID, "error", err)
	}
}

type frameRequest struct {
	Exercise string `json:"exercise"`
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	var req frameRequest
	var frame pose.Frame
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid frame: " + err.Error()})
		return
	}
	ex, err := engine.ParseExercise(req.Exercise)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	out, err := ls.workout.ProcessFrame(ex, frame, frame.Timestamp)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if out.Ignored {
		msg := "frame out of order"
		if out.IgnoreReason == engine.IgnoreInactive {
			msg = "exercise ended"
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": msg, "ignore_reason": out.IgnoreReason})
		return
	}
	if out.RepCompleted != nil {
		s.recordRep(ls, ex, out)
	}
	writeJSON(w, http.StatusOK, out)
}

// recordRep stores a counted rep and publishes it. Storage failures are
// logged; the live session carries on. Callers hold ls.mu.
func (s *Server) recordRep(ls *liveSession, ex engine.Exercise, out engine.Output) {
	set, ok := ls.sets[ex]
	if !ok {
		return
	}
	rep := *out.RepCompleted

	ctx, cancel := contextWithTimeout()
	defer cancel()
	if _, err := s.db.InsertRep(ctx, models.NewRepRow(set, rep)); err != nil {
		s.log.Error("storing rep", "set_id", set.ID, "rep", rep.Number, "error", err)
	}

	s.pub.Publish(publish.RepEvent{
		SessionID: ls.id,
		SetID:     set.ID,
		UserID:    ls.userID,
		Exercise:  ex,
		Rep:       rep,
		Streak:    out.State.ConsecutiveGoodReps,
	})
}

func (s *Server) handleResetExercise(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	ex, ok := exerciseFromRequest(w, r)
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	prev, err := ls.workout.Snapshot(ex)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	now := time.Now()
	state, err := ls.workout.Reset(ex, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// Rep numbers restart, so the reset begins a new set.
	ended := *prev
	ended.EndedAt = &now
	s.closeSet(r.Context(), ls, ex, &ended)
	if err := s.openSet(r.Context(), ls, ex, state); err != nil {
		s.log.Error("creating exercise set", "session_id", ls.id, "exercise", ex, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEndExercise(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	ex, ok := exerciseFromRequest(w, r)
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	state, err := ls.workout.End(ex, time.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.closeSet(r.Context(), ls, ex, state)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}
	ls, ok := s.live.remove(id, userIDFromContext(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	now := time.Now()
	s.closeSession(r.Context(), ls, now)
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:        ls.id,
		StartedAt: ls.startedAt,
		EndedAt:   &now,
		Exercises: ls.workout.Snapshots(),
	})
}

// closeSession ends every exercise of ls and stamps the session end time.
func (s *Server) closeSession(ctx context.Context, ls *liveSession, now time.Time) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ex, state := range ls.workout.Close(now) {
		s.closeSet(ctx, ls, ex, state)
	}
	if err := s.db.EndWorkoutSession(ctx, ls.id, ls.userID, now); err != nil {
		s.log.Error("ending workout session", "session_id", ls.id, "error", err)
	}
	s.log.Info("workout session ended", "session_id", ls.id, "duration", now.Sub(ls.startedAt).String())
}

// contextWithTimeout returns a background context with a 5-second timeout for
// writes that must outlive the request.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
}
