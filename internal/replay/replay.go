// Package replay runs recorded landmark traces through the rep engine and
// optionally stores the outcome as workout history.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/models"
	"github.com/claude/formcheck/internal/pose"
	"github.com/claude/formcheck/internal/storage"
	"github.com/google/uuid"
)

// Replay log statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder is the slice of the history store a replay writes to.
type Recorder interface {
	CreateWorkoutSession(ctx context.Context, row models.WorkoutSessionRow) error
	EndWorkoutSession(ctx context.Context, id uuid.UUID, userID int, endedAt time.Time) error
	InsertExerciseSet(ctx context.Context, row models.ExerciseSetRow) error
	InsertReps(ctx context.Context, rows []models.RepRow) (int64, error)
	InsertReplayLog(ctx context.Context, log storage.ReplayLog) (int64, error)
	UpdateReplayLog(ctx context.Context, id int64, log storage.ReplayLog) error
}

var _ Recorder = (*storage.DB)(nil)

// Stats tracks replay progress.
type Stats struct {
	FilesProcessed int
	FilesSkipped   int
	FilesErrored   int

	FramesRead      int
	FramesRejected  int
	RepsCounted     int
	RepsDiscarded   int
	RepsInserted    int64
	SessionsCreated int

	Results []FileResult
}

// FileResult is the engine's verdict on one trace file.
type FileResult struct {
	File      string
	Exercise  engine.Exercise
	Frames    int
	Rejected  int
	Reps      int
	Discarded int
	AvgScore  float64
	Scores    []float64
	SessionID uuid.UUID
}

// Replayer walks a trace directory laid out as <dir>/<exercise>/*.jsonl.
type Replayer struct {
	rec      Recorder
	remote   *Client
	state    *StateDB
	profiles engine.Profiles
	userID   int
	dryRun   bool
	log      *slog.Logger
	stats    Stats
}

// New creates a Replayer. With a nil rec results are only reported; state may
// be nil to replay every file regardless of earlier runs.
func New(rec Recorder, state *StateDB, profiles engine.Profiles, userID int, dryRun bool, log *slog.Logger) *Replayer {
	if profiles == nil {
		profiles = engine.DefaultProfiles
	}
	if userID == 0 {
		userID = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{rec: rec, state: state, profiles: profiles, userID: userID, dryRun: dryRun, log: log}
}

// SetRemote streams traces to a formcheck server instead of analysing them
// locally. The server stores the resulting sessions.
func (r *Replayer) SetRemote(c *Client) {
	r.remote = c
}

// Run replays every trace under dir. Directories that do not name an exercise
// are skipped. A file that fails to parse or analyse is logged and counted;
// store and server errors abort the run.
func (r *Replayer) Run(ctx context.Context, dir string) (*Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &r.stats, fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ex, err := engine.ParseExercise(entry.Name())
		if err != nil {
			r.log.Info("skipping directory (not an exercise)", "dir", entry.Name())
			continue
		}

		files, err := filepath.Glob(filepath.Join(dir, entry.Name(), "*.jsonl"))
		if err != nil {
			return &r.stats, err
		}
		sort.Strings(files)

		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return &r.stats, err
			}
			rel, err := filepath.Rel(dir, f)
			if err != nil {
				rel = f
			}
			if err := r.replayFile(ctx, f, rel, ex); err != nil {
				return &r.stats, fmt.Errorf("replaying %s: %w", rel, err)
			}
		}
	}

	return &r.stats, nil
}

// replayFile returns an error only when the store or server fails.
func (r *Replayer) replayFile(ctx context.Context, path, rel string, ex engine.Exercise) error {
	info, err := os.Stat(path)
	if err != nil {
		r.log.Warn("stat failed", "file", rel, "error", err)
		r.stats.FilesErrored++
		return nil
	}

	var hash string
	if r.state != nil {
		hash, err = HashFile(path)
		if err != nil {
			r.log.Warn("hash failed", "file", rel, "error", err)
			r.stats.FilesErrored++
			return nil
		}
		done, err := r.state.IsReplayed(rel, info.Size(), hash)
		if err != nil {
			return fmt.Errorf("checking state: %w", err)
		}
		if done {
			r.stats.FilesSkipped++
			return nil
		}
	}

	frames, err := ReadTraceFile(path)
	if err != nil {
		r.log.Warn("parse failed", "file", rel, "error", err)
		r.stats.FilesErrored++
		return nil
	}
	if len(frames) == 0 {
		r.stats.FilesSkipped++
		return nil
	}

	persist := !r.dryRun && (r.remote != nil || r.rec != nil)

	var res FileResult
	if r.remote != nil && persist {
		res, err = r.remote.Stream(ctx, ex, frames)
		if err != nil {
			return fmt.Errorf("streaming to server: %w", err)
		}
		r.stats.SessionsCreated++
		r.stats.RepsInserted += int64(res.Reps)
	} else {
		var final *engine.SessionState
		res, final, err = Analyze(ex, r.profiles.Profile(ex), frames, r.log)
		if err != nil {
			r.log.Warn("engine rejected trace", "file", rel, "error", err)
			r.stats.FilesErrored++
			return nil
		}
		if persist {
			inserted, sessionID, err := r.store(ctx, rel, final, r.profiles.Profile(ex), res.Frames)
			if err != nil {
				return err
			}
			res.SessionID = sessionID
			r.stats.RepsInserted += inserted
			r.stats.SessionsCreated++
		}
	}
	res.File = rel

	r.stats.FilesProcessed++
	r.stats.FramesRead += res.Frames
	r.stats.FramesRejected += res.Rejected
	r.stats.RepsCounted += res.Reps
	r.stats.RepsDiscarded += res.Discarded
	r.stats.Results = append(r.stats.Results, res)

	r.log.Info("replayed trace", "file", rel, "exercise", ex, "frames", res.Frames,
		"reps", res.Reps, "discarded", res.Discarded, "avg_score", res.AvgScore)

	if r.state != nil && persist {
		if err := r.state.MarkReplayed(rel, info.Size(), hash, res.Reps); err != nil {
			return fmt.Errorf("marking replayed: %w", err)
		}
	}
	return nil
}

// Analyze runs frames through a fresh engine started at the first frame and
// ended at the last. It returns the per-file result and the final state.
func Analyze(ex engine.Exercise, cfg engine.Config, frames []pose.Frame, log *slog.Logger) (FileResult, *engine.SessionState, error) {
	res := FileResult{Exercise: ex}
	if len(frames) == 0 {
		return res, nil, errors.New("empty trace")
	}

	e, err := engine.New(ex, cfg, log, frames[0].Timestamp)
	if err != nil {
		return res, nil, err
	}
	last := frames[0].Timestamp
	for _, f := range frames {
		out := e.ProcessFrame(f, f.Timestamp)
		if out.Ignored {
			continue
		}
		res.Frames++
		if out.Rejected != "" {
			res.Rejected++
		}
		last = f.Timestamp
	}

	final := e.End(last)
	res.Reps = final.RepCount
	res.Discarded = final.DiscardedReps
	res.AvgScore = final.CurrentScore
	res.Scores = append([]float64(nil), final.ScoreHistory...)
	return res, final, nil
}

// store writes the replayed exercise as a one-set workout session and logs the run.
func (r *Replayer) store(ctx context.Context, rel string, final *engine.SessionState, cfg engine.Config, frames int) (int64, uuid.UUID, error) {
	started := time.Now()
	logID, err := r.rec.InsertReplayLog(ctx, storage.ReplayLog{
		UserID:     r.userID,
		File:       rel,
		Exercise:   string(final.Exercise),
		Status:     StatusRunning,
		FramesRead: frames,
	})
	if err != nil {
		return 0, uuid.Nil, err
	}

	inserted, sessionID, storeErr := r.storeSession(ctx, final, cfg)

	entry := storage.ReplayLog{
		Status:       StatusSuccess,
		FramesRead:   frames,
		RepsInserted: inserted,
	}
	if sessionID != uuid.Nil {
		entry.SessionID = &sessionID
	}
	ms := int(time.Since(started).Milliseconds())
	entry.DurationMs = &ms
	if storeErr != nil {
		msg := storeErr.Error()
		entry.Status = StatusFailed
		entry.ErrorMessage = &msg
	}
	if err := r.rec.UpdateReplayLog(ctx, logID, entry); err != nil {
		r.log.Error("updating replay log", "id", logID, "error", err)
	}
	return inserted, sessionID, storeErr
}

func (r *Replayer) storeSession(ctx context.Context, final *engine.SessionState, cfg engine.Config) (int64, uuid.UUID, error) {
	session := models.WorkoutSessionRow{
		ID:        uuid.New(),
		UserID:    r.userID,
		Source:    models.SourceReplay,
		StartedAt: final.StartedAt,
	}
	if err := r.rec.CreateWorkoutSession(ctx, session); err != nil {
		return 0, uuid.Nil, err
	}

	set, err := models.NewExerciseSet(session.ID, r.userID, final, cfg)
	if err != nil {
		return 0, session.ID, err
	}
	set.Summarize(final)
	if err := r.rec.InsertExerciseSet(ctx, set); err != nil {
		return 0, session.ID, err
	}

	rows := make([]models.RepRow, 0, len(final.RepHistory))
	for _, rec := range final.RepHistory {
		rows = append(rows, models.NewRepRow(set, rec))
	}
	inserted, err := r.rec.InsertReps(ctx, rows)
	if err != nil {
		return 0, session.ID, err
	}

	end := final.StartedAt
	if final.EndedAt != nil {
		end = *final.EndedAt
	}
	if err := r.rec.EndWorkoutSession(ctx, session.ID, r.userID, end); err != nil {
		return inserted, session.ID, err
	}
	return inserted, session.ID, nil
}
