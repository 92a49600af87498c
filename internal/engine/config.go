package engine

import (
	"fmt"
	"math"
	"time"
)

// ScoringStrategy selects how per-category results combine into a rep score.
type ScoringStrategy string

const (
	// ScoreWeighted is the weighted sum of 0-100 category scores.
	ScoreWeighted ScoringStrategy = "weighted"
	// ScorePenalty subtracts a fixed penalty per deviation severity from 100.
	ScorePenalty ScoringStrategy = "penalty"
)

// Weights are the per-category weights of the composite score. They must sum to 1.
type Weights struct {
	Form      float64 `yaml:"form" json:"form"`
	Depth     float64 `yaml:"depth" json:"depth"`
	Alignment float64 `yaml:"alignment" json:"alignment"`
	Balance   float64 `yaml:"balance" json:"balance"`
}

// Of returns the weight for category c.
func (w Weights) Of(c Category) float64 {
	switch c {
	case CategoryForm:
		return w.Form
	case CategoryDepth:
		return w.Depth
	case CategoryAlignment:
		return w.Alignment
	case CategoryBalance:
		return w.Balance
	}
	return 0
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Form + w.Depth + w.Alignment + w.Balance
}

// Config holds every threshold the engine evaluates. Depth values are ratios of
// the baseline hip height, angles are degrees.
type Config struct {
	// Validation
	MinConfidence     float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxTrackingErrors int     `yaml:"max_tracking_errors" json:"max_tracking_errors"`
	CalibrationFrames int     `yaml:"calibration_frames" json:"calibration_frames"`

	// Phase thresholds
	DetectionThreshold    float64 `yaml:"detection_threshold" json:"detection_threshold"`
	DepthThreshold        float64 `yaml:"depth_threshold" json:"depth_threshold"`
	ReturnThreshold       float64 `yaml:"return_threshold" json:"return_threshold"`
	AllowTurnaroundBottom bool    `yaml:"allow_turnaround_bottom" json:"allow_turnaround_bottom"`

	// Form thresholds
	DepthTarget            float64 `yaml:"depth_target" json:"depth_target"`
	BackAngleThreshold     float64 `yaml:"back_angle_threshold" json:"back_angle_threshold"`
	KneeAlignmentThreshold float64 `yaml:"knee_alignment_threshold" json:"knee_alignment_threshold"`
	BalanceThreshold       float64 `yaml:"balance_threshold" json:"balance_threshold"`

	// Movement tracking
	MovementThreshold    float64       `yaml:"movement_threshold" json:"movement_threshold"`
	DepthChangeThreshold float64       `yaml:"depth_change_threshold" json:"depth_change_threshold"`
	SmoothingWindow      int           `yaml:"smoothing_window" json:"smoothing_window"`
	MinHoldDuration      time.Duration `yaml:"min_hold_duration" json:"min_hold_duration"`

	// Timing
	MinRepDuration  time.Duration `yaml:"min_rep_duration" json:"min_rep_duration"`
	MaxRepDuration  time.Duration `yaml:"max_rep_duration" json:"max_rep_duration"`
	MovementTimeout time.Duration `yaml:"movement_timeout" json:"movement_timeout"`

	// Feedback
	FeedbackCooldown  time.Duration              `yaml:"feedback_cooldown" json:"feedback_cooldown"`
	CategoryCooldowns map[Category]time.Duration `yaml:"category_cooldowns" json:"category_cooldowns"`
	FeedbackLifetime  time.Duration              `yaml:"feedback_lifetime" json:"feedback_lifetime"`
	MaxLiveFeedback   int                        `yaml:"max_live_feedback" json:"max_live_feedback"`
	StreakInterval    int                        `yaml:"streak_interval" json:"streak_interval"`

	// Scoring
	Weights             Weights         `yaml:"weights" json:"weights"`
	PerfectRepThreshold float64         `yaml:"perfect_rep_threshold" json:"perfect_rep_threshold"`
	ScoringStrategy     ScoringStrategy `yaml:"scoring_strategy" json:"scoring_strategy"`
}

// DefaultConfig returns the tuned defaults for ex.
func DefaultConfig(ex Exercise) Config {
	cfg := Config{
		MinConfidence:     0.5,
		MaxTrackingErrors: 3,
		CalibrationFrames: 1,

		DetectionThreshold: 0.35,
		DepthThreshold:     0.5,
		ReturnThreshold:    0.1,

		DepthTarget:            0.6,
		BackAngleThreshold:     45,
		KneeAlignmentThreshold: 0.8,
		BalanceThreshold:       0.1,

		MovementThreshold:    0.005,
		DepthChangeThreshold: 0.01,
		SmoothingWindow:      3,
		MinHoldDuration:      100 * time.Millisecond,

		MinRepDuration:  400 * time.Millisecond,
		MaxRepDuration:  6000 * time.Millisecond,
		MovementTimeout: 1500 * time.Millisecond,

		FeedbackCooldown: 1500 * time.Millisecond,
		FeedbackLifetime: 3 * time.Second,
		MaxLiveFeedback:  5,
		StreakInterval:   5,

		Weights:             Weights{Form: 0.30, Depth: 0.25, Alignment: 0.25, Balance: 0.20},
		PerfectRepThreshold: 85,
		ScoringStrategy:     ScoreWeighted,
	}
	if ex == Lunge {
		cfg.DetectionThreshold = 0.15
		cfg.DepthThreshold = 0.3
		cfg.ReturnThreshold = 0.05
		cfg.DepthTarget = 0.35
		cfg.BackAngleThreshold = 20
	}
	return cfg
}

// CooldownFor returns the feedback cooldown for category c.
func (c Config) CooldownFor(cat Category) time.Duration {
	if d, ok := c.CategoryCooldowns[cat]; ok {
		return d
	}
	return c.FeedbackCooldown
}

const weightTolerance = 1e-6

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	if c.MaxTrackingErrors < 0 {
		return fmt.Errorf("max_tracking_errors must not be negative, got %d", c.MaxTrackingErrors)
	}
	if c.CalibrationFrames < 1 {
		return fmt.Errorf("calibration_frames must be at least 1, got %d", c.CalibrationFrames)
	}

	if c.ReturnThreshold <= 0 {
		return fmt.Errorf("return_threshold must be positive, got %v", c.ReturnThreshold)
	}
	if c.DetectionThreshold <= c.ReturnThreshold {
		return fmt.Errorf("detection_threshold (%v) must exceed return_threshold (%v)", c.DetectionThreshold, c.ReturnThreshold)
	}
	if c.DepthThreshold < c.DetectionThreshold {
		return fmt.Errorf("depth_threshold (%v) must not be below detection_threshold (%v)", c.DepthThreshold, c.DetectionThreshold)
	}
	if c.DepthThreshold > 1 {
		return fmt.Errorf("depth_threshold must be at most 1, got %v", c.DepthThreshold)
	}
	if c.DepthTarget <= 0 || c.DepthTarget > 1 {
		return fmt.Errorf("depth_target must be within (0,1], got %v", c.DepthTarget)
	}
	if c.BackAngleThreshold <= 0 || c.BackAngleThreshold > 90 {
		return fmt.Errorf("back_angle_threshold must be within (0,90] degrees, got %v", c.BackAngleThreshold)
	}
	if c.KneeAlignmentThreshold <= 0 || c.KneeAlignmentThreshold > 1 {
		return fmt.Errorf("knee_alignment_threshold must be within (0,1], got %v", c.KneeAlignmentThreshold)
	}
	if c.BalanceThreshold <= 0 || c.BalanceThreshold > 1 {
		return fmt.Errorf("balance_threshold must be within (0,1], got %v", c.BalanceThreshold)
	}

	if c.MovementThreshold <= 0 {
		return fmt.Errorf("movement_threshold must be positive, got %v", c.MovementThreshold)
	}
	if c.DepthChangeThreshold < c.MovementThreshold {
		return fmt.Errorf("depth_change_threshold (%v) must not be below movement_threshold (%v)", c.DepthChangeThreshold, c.MovementThreshold)
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", c.SmoothingWindow)
	}
	if c.MinHoldDuration < 0 {
		return fmt.Errorf("min_hold_duration must not be negative, got %s", c.MinHoldDuration)
	}

	if c.MinRepDuration <= 0 {
		return fmt.Errorf("min_rep_duration must be positive, got %s", c.MinRepDuration)
	}
	if c.MinRepDuration > c.MaxRepDuration {
		return fmt.Errorf("min_rep_duration (%s) must not exceed max_rep_duration (%s)", c.MinRepDuration, c.MaxRepDuration)
	}
	if c.MovementTimeout <= 0 {
		return fmt.Errorf("movement_timeout must be positive, got %s", c.MovementTimeout)
	}

	if c.FeedbackCooldown <= 0 {
		return fmt.Errorf("feedback_cooldown must be positive, got %s", c.FeedbackCooldown)
	}
	for cat, d := range c.CategoryCooldowns {
		if !cat.Valid() {
			return fmt.Errorf("category_cooldowns: unknown category %q", cat)
		}
		if d <= 0 {
			return fmt.Errorf("category_cooldowns.%s must be positive, got %s", cat, d)
		}
	}
	if c.FeedbackLifetime < 0 {
		return fmt.Errorf("feedback_lifetime must not be negative, got %s", c.FeedbackLifetime)
	}
	if c.MaxLiveFeedback < 1 {
		return fmt.Errorf("max_live_feedback must be at least 1, got %d", c.MaxLiveFeedback)
	}
	if c.StreakInterval < 0 {
		return fmt.Errorf("streak_interval must not be negative, got %d", c.StreakInterval)
	}

	for _, cat := range Categories() {
		if w := c.Weights.Of(cat); w < 0 {
			return fmt.Errorf("weights.%s must not be negative, got %v", cat, w)
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	if c.PerfectRepThreshold < 0 || c.PerfectRepThreshold > 100 {
		return fmt.Errorf("perfect_rep_threshold must be within [0,100], got %v", c.PerfectRepThreshold)
	}
	switch c.ScoringStrategy {
	case ScoreWeighted, ScorePenalty:
	default:
		return fmt.Errorf("scoring_strategy must be %q or %q, got %q", ScoreWeighted, ScorePenalty, c.ScoringStrategy)
	}
	return nil
}
