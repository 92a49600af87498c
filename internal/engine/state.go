package engine

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RepRecord is the immutable summary of one counted repetition.
type RepRecord struct {
	Number    int           `json:"number"`
	Timestamp time.Time     `json:"timestamp"`
	Score     float64       `json:"score"`
	Duration  time.Duration `json:"duration_ns"`
	// Metrics are the worst-case values of the rep. Depth is the maximum depth reached.
	Metrics    Metrics        `json:"metrics"`
	Categories CategoryScores `json:"categories"`
}

// DiscardedRep describes an attempt that ended without being counted.
type DiscardedRep struct {
	Reason    DiscardReason `json:"reason"`
	Phase     Phase         `json:"phase"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	MaxDepth  float64       `json:"max_depth"`
}

// RepProgress accumulates the attempt currently in progress.
type RepProgress struct {
	StartedAt time.Time `json:"started_at"`
	Worst     Metrics   `json:"worst"`
}

// SessionState is a consistent snapshot of one exercise session. A published
// snapshot is never modified; each tick builds a new one.
type SessionState struct {
	Exercise Exercise `json:"exercise"`
	Active   bool     `json:"active"`
	Phase    Phase    `json:"phase"`

	RepCount            int `json:"rep_count"`
	ConsecutiveGoodReps int `json:"consecutive_good_reps"`
	DiscardedReps       int `json:"discarded_reps"`

	// TrackingErrors counts consecutive rejected frames.
	TrackingErrors      int  `json:"tracking_errors"`
	TotalTrackingErrors int  `json:"total_tracking_errors"`
	TrackingLost        bool `json:"tracking_lost"`

	Baseline   *Baseline    `json:"baseline,omitempty"`
	Metrics    Metrics      `json:"metrics"`
	CurrentRep *RepProgress `json:"current_rep,omitempty"`

	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	LastFrameAt      time.Time  `json:"last_frame_at"`
	LastValidFrameAt time.Time  `json:"last_valid_frame_at"`
	LastMovementAt   time.Time  `json:"last_movement_at"`
	LastFeedbackAt   time.Time  `json:"last_feedback_at"`

	CurrentScore float64        `json:"current_score"`
	ScoreHistory []float64      `json:"score_history"`
	RepHistory   []RepRecord    `json:"rep_history"`
	LiveFeedback []FeedbackItem `json:"live_feedback"`
}

func initialState(ex Exercise, now time.Time) *SessionState {
	return &SessionState{
		Exercise:     ex,
		Active:       true,
		Phase:        PhaseStart,
		StartedAt:    now,
		ScoreHistory: []float64{},
		RepHistory:   []RepRecord{},
		LiveFeedback: []FeedbackItem{},
	}
}

// clone returns a copy that can be modified without affecting s. History
// slices are clipped so appends to the copy reallocate.
func (s *SessionState) clone() *SessionState {
	c := *s
	c.ScoreHistory = slices.Clip(s.ScoreHistory)
	c.RepHistory = slices.Clip(s.RepHistory)
	c.LiveFeedback = slices.Clip(s.LiveFeedback)
	if s.CurrentRep != nil {
		rep := *s.CurrentRep
		c.CurrentRep = &rep
	}
	return &c
}

// recordRep appends a counted rep and refreshes the running score.
func (s *SessionState) recordRep(rec RepRecord) {
	s.RepCount++
	s.ScoreHistory = append(s.ScoreHistory, rec.Score)
	s.RepHistory = append(s.RepHistory, rec)
	s.CurrentScore = roundScore(stat.Mean(s.ScoreHistory, nil))
}
