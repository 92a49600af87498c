package engine

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Category is the form aspect a feedback item or score refers to.
type Category string

const (
	CategoryForm      Category = "form"
	CategoryDepth     Category = "depth"
	CategoryAlignment Category = "alignment"
	CategoryBalance   Category = "balance"
)

// Categories returns every category in scoring order.
func Categories() []Category {
	return []Category{CategoryForm, CategoryDepth, CategoryAlignment, CategoryBalance}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories(), c)
}

// FeedbackType is the tone of a feedback item.
type FeedbackType string

const (
	FeedbackSuccess FeedbackType = "success"
	FeedbackWarning FeedbackType = "warning"
	FeedbackError   FeedbackType = "error"
)

func (t FeedbackType) rank() int {
	switch t {
	case FeedbackError:
		return 3
	case FeedbackWarning:
		return 2
	case FeedbackSuccess:
		return 1
	}
	return 0
}

// Severity grades how far a metric is from its threshold.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

// Penalty is the score deduction for a deviation of this severity.
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityMinor:
		return 5
	case SeverityModerate:
		return 15
	case SeverityMajor:
		return 25
	}
	return 0
}

func (s Severity) rank() int {
	switch s {
	case SeverityMajor:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// severityOf grades a deviation given as a fraction of its threshold.
func severityOf(distance float64) Severity {
	switch {
	case distance < 0.15:
		return SeverityMinor
	case distance < 0.35:
		return SeverityModerate
	default:
		return SeverityMajor
	}
}

// FeedbackItem is one message for the renderer.
type FeedbackItem struct {
	Type      FeedbackType `json:"type"`
	Category  Category     `json:"category"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Severity  Severity     `json:"severity,omitempty"`
}

// deviation is a metric outside its acceptable range.
type deviation struct {
	category Category
	severity Severity
	message  string
}

// deviations lists the categories in which m is out of range. Depth is only
// judged over a whole rep, so per-frame checks leave it out.
func deviations(cfg Config, m Metrics, withDepth bool) []deviation {
	var out []deviation
	if d := excess(m.BackAngle, cfg.BackAngleThreshold); d > 0 {
		out = append(out, deviation{CategoryForm, severityOf(d), "Keep your chest up and back straight"})
	}
	if withDepth {
		if d := shortfall(m.Depth, cfg.DepthTarget); d > 0 {
			out = append(out, deviation{CategoryDepth, severityOf(d), "Go a little deeper"})
		}
	}
	if d := shortfall(m.KneeAlignment, cfg.KneeAlignmentThreshold); d > 0 {
		out = append(out, deviation{CategoryAlignment, severityOf(d), "Keep your knees in line with your toes"})
	}
	if d := excess(m.Balance, cfg.BalanceThreshold); d > 0 {
		out = append(out, deviation{CategoryBalance, severityOf(d), "Keep your weight centered"})
	}
	return out
}

func (d deviation) item(now time.Time) FeedbackItem {
	return FeedbackItem{
		Type:      FeedbackWarning,
		Category:  d.category,
		Message:   d.message,
		Timestamp: now,
		Severity:  d.severity,
	}
}

func successItem(now time.Time, msg string) FeedbackItem {
	return FeedbackItem{Type: FeedbackSuccess, Category: CategoryForm, Message: msg, Timestamp: now}
}

func streakMessage(n int) string {
	return fmt.Sprintf("%d perfect reps in a row!", n)
}

// emitter rate-limits feedback per category. It remembers only when each
// category last emitted; the live items belong to the session state.
type emitter struct {
	cfg  Config
	last map[Category]time.Time
}

func newEmitter(cfg Config) *emitter {
	return &emitter{cfg: cfg, last: make(map[Category]time.Time)}
}

func (e *emitter) reset() {
	clear(e.last)
}

// emit orders candidates by priority and drops any whose category is still
// cooling down, including a second candidate of a category in the same tick.
func (e *emitter) emit(now time.Time, candidates []FeedbackItem) []FeedbackItem {
	if len(candidates) == 0 {
		return nil
	}
	slices.SortStableFunc(candidates, func(a, b FeedbackItem) int {
		if c := cmp.Compare(b.Type.rank(), a.Type.rank()); c != 0 {
			return c
		}
		return cmp.Compare(b.Severity.rank(), a.Severity.rank())
	})

	var out []FeedbackItem
	for _, it := range candidates {
		if last, ok := e.last[it.Category]; ok && now.Sub(last) < e.cfg.CooldownFor(it.Category) {
			continue
		}
		e.last[it.Category] = now
		out = append(out, it)
	}
	return out
}

// liveFeedback returns a new live set: expired items dropped, added appended,
// and the oldest evicted beyond max.
func liveFeedback(live, added []FeedbackItem, now time.Time, lifetime time.Duration, max int) []FeedbackItem {
	out := make([]FeedbackItem, 0, len(live)+len(added))
	for _, it := range live {
		if lifetime > 0 && now.Sub(it.Timestamp) > lifetime {
			continue
		}
		out = append(out, it)
	}
	out = append(out, added...)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
