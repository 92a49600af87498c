package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/formcheck/internal/pose"
)

// Reasons a frame was ignored without touching the session state.
const (
	IgnoreOutOfOrder = "out_of_order"
	IgnoreInactive   = "inactive"
)

// Output is the result of processing one frame.
type Output struct {
	State        *SessionState  `json:"state"`
	Feedback     []FeedbackItem `json:"feedback"`
	RepCompleted *RepRecord     `json:"rep_completed,omitempty"`
	Discarded    *DiscardedRep  `json:"discarded,omitempty"`
	Transitions  []Transition   `json:"transitions,omitempty"`
	// Rejected is the validator's reason when the frame was not trusted.
	Rejected     string `json:"rejected,omitempty"`
	Ignored      bool   `json:"ignored,omitempty"`
	IgnoreReason string `json:"ignore_reason,omitempty"`
}

// Engine analyses the frame stream of one exercise. Ticks are serialized;
// Snapshot may be called from any goroutine and never blocks on a tick.
type Engine struct {
	exercise  Exercise
	cfg       Config
	log       *slog.Logger
	validator validator
	scorer    Scorer

	mu      sync.Mutex
	tracker *tracker
	emitter *emitter
	calib   calibration

	state atomic.Pointer[SessionState]
}

// New validates cfg and returns an engine with a fresh session started at now.
func New(ex Exercise, cfg Config, logger *slog.Logger, now time.Time) (*Engine, error) {
	if _, err := ParseExercise(string(ex)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", ex, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		exercise:  ex,
		cfg:       cfg,
		log:       logger.With("exercise", string(ex)),
		validator: newValidator(ex, cfg),
		scorer:    NewScorer(cfg),
		tracker:   newTracker(cfg),
		emitter:   newEmitter(cfg),
	}
	e.state.Store(initialState(ex, now))
	return e, nil
}

// Exercise returns the exercise this engine tracks.
func (e *Engine) Exercise() Exercise { return e.exercise }

// Config returns the configuration the engine runs with.
func (e *Engine) Config() Config { return e.cfg }

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() *SessionState {
	return e.state.Load()
}

// Reset replaces the session with initial values. The baseline is captured
// again from the next valid frames. An ended session cannot be reset.
func (e *Engine) Reset(now time.Time) (*SessionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.state.Load(); !cur.Active {
		return cur, ErrSessionEnded
	}
	e.tracker.reset()
	e.emitter.reset()
	e.calib = calibration{}
	s := initialState(e.exercise, now)
	e.state.Store(s)
	e.log.Debug("session reset")
	return s, nil
}

// End deactivates the session. Later frames are ignored.
func (e *Engine) End(now time.Time) *SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	if !cur.Active {
		return cur
	}
	next := cur.clone()
	next.Active = false
	next.Phase = PhaseStart
	next.CurrentRep = nil
	next.EndedAt = &now
	e.state.Store(next)
	e.log.Debug("session ended", "reps", next.RepCount)
	return next
}

// tick carries the work in progress for one frame.
type tick struct {
	now        time.Time
	next       *SessionState
	out        Output
	candidates []FeedbackItem
}

// ProcessFrame advances the session by one frame observed at now. Frames not
// strictly after the previous one are ignored.
func (e *Engine) ProcessFrame(f pose.Frame, now time.Time) Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	if !cur.Active {
		return Output{State: cur, Ignored: true, IgnoreReason: IgnoreInactive}
	}
	if !cur.LastFrameAt.IsZero() && !now.After(cur.LastFrameAt) {
		return Output{State: cur, Ignored: true, IgnoreReason: IgnoreOutOfOrder}
	}

	t := &tick{now: now, next: cur.clone()}
	t.next.LastFrameAt = now

	if reason := e.validator.check(f); reason != "" {
		e.rejectFrame(t, reason)
	} else {
		e.acceptFrame(t, f)
	}
	return e.publish(t)
}

func (e *Engine) rejectFrame(t *tick, reason string) {
	s := t.next
	t.out.Rejected = reason
	s.TrackingErrors++
	s.TotalTrackingErrors++
	if s.TrackingErrors > e.cfg.MaxTrackingErrors && !s.TrackingLost {
		s.TrackingLost = true
		t.candidates = append(t.candidates, FeedbackItem{
			Type:      FeedbackError,
			Category:  CategoryForm,
			Message:   "Tracking lost, step back into view",
			Timestamp: t.now,
		})
		e.log.Debug("tracking lost", "errors", s.TrackingErrors, "reason", reason)
	}

	if e.stale(s, t.now) {
		why := DiscardTimeout
		if s.TrackingLost {
			why = DiscardTrackingLost
		}
		e.abort(t, why)
	}
}

func (e *Engine) acceptFrame(t *tick, f pose.Frame) {
	s := t.next
	if s.TrackingLost {
		e.log.Debug("tracking resumed", "errors", s.TrackingErrors)
	}
	s.TrackingErrors = 0
	s.TrackingLost = false

	if e.stale(s, t.now) {
		e.abort(t, DiscardTimeout)
	}
	s.LastValidFrameAt = t.now

	if s.Baseline == nil {
		e.calib.add(f)
		if e.calib.frames >= e.cfg.CalibrationFrames {
			s.Baseline = e.calib.baseline(t.now)
			e.log.Debug("baseline captured", "hip_height", s.Baseline.HipHeight)
		}
		return
	}

	m := extractMetrics(e.exercise, *s.Baseline, f)
	s.Metrics = m
	move := e.tracker.update(m.Depth, t.now)
	if !move.LastMovementAt.IsZero() {
		s.LastMovementAt = move.LastMovementAt
	}
	if s.CurrentRep != nil {
		s.CurrentRep.Worst = worstCase(s.CurrentRep.Worst, m)
	}

	in := tickInput{now: t.now, move: move, metrics: m, cfg: &e.cfg}
	if s.CurrentRep != nil {
		in.repStart = s.CurrentRep.StartedAt
		in.repDepth = s.CurrentRep.Worst.Depth
	}
	steps, err := advance(s.Phase, in)
	if err != nil {
		e.log.Error("phase machine", "error", err)
	}
	for _, st := range steps {
		e.apply(t, st, move, m)
	}

	if s.CurrentRep != nil {
		for _, d := range deviations(e.cfg, m, false) {
			t.candidates = append(t.candidates, d.item(t.now))
		}
	}
}

// stale reports whether a rep in progress has gone longer than the movement
// timeout without a valid frame.
func (e *Engine) stale(s *SessionState, now time.Time) bool {
	if s.Phase == PhaseStart || s.LastValidFrameAt.IsZero() {
		return false
	}
	return now.Sub(s.LastValidFrameAt) > e.cfg.MovementTimeout
}

func (e *Engine) apply(t *tick, st step, move Movement, m Metrics) {
	s := t.next
	s.Phase = st.To
	t.out.Transitions = append(t.out.Transitions, st.Transition)
	e.log.Debug("phase transition", "from", st.From, "to", st.To)

	switch st.outcome {
	case outcomeBegin:
		started := move.DirectionSince
		if started.IsZero() {
			started = t.now
		}
		s.CurrentRep = &RepProgress{StartedAt: started, Worst: m}
	case outcomeCount:
		e.complete(t)
	case outcomeDiscard:
		e.discard(t, st.From, st.reason)
	}
	if st.To == PhaseStart {
		s.CurrentRep = nil
	}
}

// complete scores the rep in progress and appends its record.
func (e *Engine) complete(t *tick) {
	s := t.next
	rep := s.CurrentRep
	if rep == nil {
		return
	}
	score := e.scorer.Score(rep.Worst)
	rec := RepRecord{
		Number:     s.RepCount + 1,
		Timestamp:  t.now,
		Score:      score.Total,
		Duration:   t.now.Sub(rep.StartedAt),
		Metrics:    rep.Worst,
		Categories: score.Categories,
	}
	s.recordRep(rec)
	s.CurrentRep = nil
	t.out.RepCompleted = &rec

	if score.Total >= e.cfg.PerfectRepThreshold {
		s.ConsecutiveGoodReps++
		msg := "Great rep!"
		if n := e.cfg.StreakInterval; n > 0 && s.ConsecutiveGoodReps%n == 0 {
			msg = streakMessage(s.ConsecutiveGoodReps)
		}
		t.candidates = append(t.candidates, successItem(t.now, msg))
	} else {
		s.ConsecutiveGoodReps = 0
		for _, d := range deviations(e.cfg, rep.Worst, true) {
			t.candidates = append(t.candidates, d.item(t.now))
		}
	}
	e.log.Debug("rep completed", "rep", rec.Number, "score", rec.Score, "duration", rec.Duration)
}

func (e *Engine) discard(t *tick, from Phase, reason DiscardReason) {
	s := t.next
	d := &DiscardedRep{Reason: reason, Phase: from, Timestamp: t.now}
	if rep := s.CurrentRep; rep != nil {
		d.Duration = t.now.Sub(rep.StartedAt)
		d.MaxDepth = rep.Worst.Depth
	}
	s.DiscardedReps++
	s.CurrentRep = nil
	t.out.Discarded = d

	switch reason {
	case DiscardShallow:
		t.candidates = append(t.candidates, FeedbackItem{
			Type:      FeedbackWarning,
			Category:  CategoryDepth,
			Message:   "Go deeper to count the rep",
			Timestamp: t.now,
			Severity:  severityOf(shortfall(d.MaxDepth, e.cfg.DepthThreshold)),
		})
	case DiscardNoHold:
		t.candidates = append(t.candidates, FeedbackItem{
			Type:      FeedbackWarning,
			Category:  CategoryForm,
			Message:   "Pause briefly at the bottom to count the rep",
			Timestamp: t.now,
			Severity:  SeverityMinor,
		})
	}
	e.log.Debug("rep discarded", "reason", reason, "phase", from, "duration", d.Duration)
}

// abort forces the session back to start outside the rule table. Only an
// attempt in progress is discarded; a finished rep waiting at top is not.
func (e *Engine) abort(t *tick, reason DiscardReason) {
	s := t.next
	if !CanTransition(s.Phase, PhaseStart) {
		return
	}
	from := s.Phase
	s.Phase = PhaseStart
	t.out.Transitions = append(t.out.Transitions, Transition{From: from, To: PhaseStart, At: t.now})
	if s.CurrentRep != nil {
		e.discard(t, from, reason)
	}
	e.tracker.reset()
}

// publish emits the tick's feedback, stores the new state and builds the output.
func (e *Engine) publish(t *tick) Output {
	s := t.next
	emitted := e.emitter.emit(t.now, t.candidates)
	if len(emitted) > 0 {
		s.LastFeedbackAt = t.now
	}
	s.LiveFeedback = liveFeedback(s.LiveFeedback, emitted, t.now, e.cfg.FeedbackLifetime, e.cfg.MaxLiveFeedback)
	e.state.Store(s)

	t.out.State = s
	t.out.Feedback = emitted
	if t.out.Feedback == nil {
		t.out.Feedback = []FeedbackItem{}
	}
	return t.out
}
