package engine

import "math"

// CategoryScores are the 0-100 results per form category for one rep.
type CategoryScores struct {
	Form      float64 `json:"form"`
	Depth     float64 `json:"depth"`
	Alignment float64 `json:"alignment"`
	Balance   float64 `json:"balance"`
}

// Of returns the score for category c.
func (s CategoryScores) Of(c Category) float64 {
	switch c {
	case CategoryForm:
		return s.Form
	case CategoryDepth:
		return s.Depth
	case CategoryAlignment:
		return s.Alignment
	case CategoryBalance:
		return s.Balance
	}
	return 0
}

// RepScore is the outcome of scoring one repetition.
type RepScore struct {
	Total      float64        `json:"total"`
	Categories CategoryScores `json:"categories"`
}

// Scorer turns the worst-case metrics of a rep into a score.
type Scorer interface {
	Score(worst Metrics) RepScore
}

// NewScorer returns the scorer selected by cfg.ScoringStrategy.
func NewScorer(cfg Config) Scorer {
	if cfg.ScoringStrategy == ScorePenalty {
		return penaltyScorer{cfg: cfg}
	}
	return weightedScorer{cfg: cfg}
}

type weightedScorer struct {
	cfg Config
}

func (s weightedScorer) Score(worst Metrics) RepScore {
	cats := categoryScores(s.cfg, worst)
	var total float64
	for _, c := range Categories() {
		total += s.cfg.Weights.Of(c) * cats.Of(c)
	}
	return RepScore{Total: roundScore(total), Categories: cats}
}

// penaltyScorer starts from 100 and subtracts the severity penalty of every
// category that deviates from its threshold.
type penaltyScorer struct {
	cfg Config
}

func (s penaltyScorer) Score(worst Metrics) RepScore {
	total := 100.0
	for _, d := range deviations(s.cfg, worst, true) {
		total -= d.severity.Penalty()
	}
	return RepScore{Total: roundScore(total), Categories: categoryScores(s.cfg, worst)}
}

// categoryScores maps each worst-case metric onto 0-100. Shortfall below a
// target or excess over a limit costs points in proportion to its size.
func categoryScores(cfg Config, m Metrics) CategoryScores {
	return CategoryScores{
		Form:      100 * (1 - excess(m.BackAngle, cfg.BackAngleThreshold)),
		Depth:     100 * (1 - shortfall(m.Depth, cfg.DepthTarget)),
		Alignment: 100 * (1 - shortfall(m.KneeAlignment, cfg.KneeAlignmentThreshold)),
		Balance:   100 * (1 - excess(m.Balance, cfg.BalanceThreshold)),
	}
}

// shortfall is how far v falls below target, as a fraction of target in [0,1].
func shortfall(v, target float64) float64 {
	if v >= target {
		return 0
	}
	return clamp01((target - v) / target)
}

// excess is how far v exceeds limit, as a fraction of limit in [0,1].
func excess(v, limit float64) float64 {
	if v <= limit {
		return 0
	}
	return clamp01((v - limit) / limit)
}

func roundScore(v float64) float64 {
	return math.Round(math.Max(0, math.Min(100, v))*10) / 10
}
