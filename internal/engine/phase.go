package engine

import (
	"fmt"
	"time"
)

// Phase is the stage of a single repetition.
type Phase string

const (
	PhaseStart   Phase = "start"
	PhaseDescent Phase = "descent"
	PhaseBottom  Phase = "bottom"
	PhaseAscent  Phase = "ascent"
	PhaseTop     Phase = "top"
)

// Phases returns every phase in cycle order.
func Phases() []Phase {
	return []Phase{PhaseStart, PhaseDescent, PhaseBottom, PhaseAscent, PhaseTop}
}

// legalTransitions is the adjacency graph of the repetition cycle. Every
// non-start phase may abort back to start.
var legalTransitions = map[Phase][]Phase{
	PhaseStart:   {PhaseDescent},
	PhaseDescent: {PhaseBottom, PhaseStart},
	PhaseBottom:  {PhaseAscent, PhaseStart},
	PhaseAscent:  {PhaseTop, PhaseStart},
	PhaseTop:     {PhaseStart, PhaseDescent},
}

// CanTransition reports whether from → to is an edge of the cycle.
func CanTransition(from, to Phase) bool {
	for _, p := range legalTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition records one phase change.
type Transition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// DiscardReason explains why an attempt did not count.
type DiscardReason string

const (
	DiscardTooFast      DiscardReason = "too_fast"
	DiscardTooSlow      DiscardReason = "too_slow"
	DiscardShallow      DiscardReason = "shallow"
	DiscardNoHold       DiscardReason = "no_hold"
	DiscardTrackingLost DiscardReason = "tracking_lost"
	DiscardTimeout      DiscardReason = "timeout"
)

// outcome is the effect a rule has on the rep in progress.
type outcome int

const (
	outcomeNone outcome = iota
	outcomeBegin
	outcomeCount
	outcomeDiscard
)

// tickInput is what the rules see for one frame.
type tickInput struct {
	now     time.Time
	move    Movement
	metrics Metrics
	// repStart is zero when no attempt is in progress.
	repStart time.Time
	// repDepth is the deepest raw depth of the attempt in progress.
	repDepth float64
	cfg      *Config
}

func (in tickInput) elapsed() time.Duration {
	if in.repStart.IsZero() {
		return 0
	}
	return in.now.Sub(in.repStart)
}

type rule struct {
	from, to Phase
	outcome  outcome
	reason   DiscardReason
	guard    func(tickInput) bool
}

// rules are evaluated in order; the first rule from the current phase whose
// guard holds fires.
var rules = []rule{
	{from: PhaseStart, to: PhaseDescent, outcome: outcomeBegin, guard: func(in tickInput) bool {
		return in.move.Direction == Descending && in.move.Depth > in.cfg.DetectionThreshold
	}},

	{from: PhaseDescent, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardTooSlow, guard: overdue},
	{from: PhaseDescent, to: PhaseBottom, guard: func(in tickInput) bool {
		if in.move.Depth < in.cfg.DepthThreshold {
			return false
		}
		if in.move.Direction == Holding && in.move.StationaryFor >= in.cfg.MinHoldDuration {
			return true
		}
		return in.cfg.AllowTurnaroundBottom && in.move.Direction == Ascending
	}},
	{from: PhaseDescent, to: PhaseStart, guard: func(in tickInput) bool {
		return backUp(in) && in.repDepth < in.cfg.DetectionThreshold
	}},
	{from: PhaseDescent, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardNoHold, guard: func(in tickInput) bool {
		return backUp(in) && in.repDepth >= in.cfg.DepthThreshold
	}},
	{from: PhaseDescent, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardShallow, guard: backUp},

	{from: PhaseBottom, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardTooSlow, guard: overdue},
	{from: PhaseBottom, to: PhaseAscent, guard: func(in tickInput) bool {
		return in.move.Direction == Ascending
	}},

	{from: PhaseAscent, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardTooSlow, guard: overdue},
	{from: PhaseAscent, to: PhaseTop, outcome: outcomeCount, guard: func(in tickInput) bool {
		return returned(in) && in.elapsed() >= in.cfg.MinRepDuration
	}},
	{from: PhaseAscent, to: PhaseStart, outcome: outcomeDiscard, reason: DiscardTooFast, guard: returned},

	{from: PhaseTop, to: PhaseDescent, outcome: outcomeBegin, guard: func(in tickInput) bool {
		return in.move.Direction == Descending
	}},
	{from: PhaseTop, to: PhaseStart, guard: func(in tickInput) bool {
		return in.move.Direction == Holding && in.move.StationaryFor >= in.cfg.MinHoldDuration
	}},
}

func overdue(in tickInput) bool {
	return in.elapsed() > in.cfg.MaxRepDuration
}

func returned(in tickInput) bool {
	return in.move.Depth < in.cfg.ReturnThreshold
}

// backUp reports a descent that is back near standing and no longer going down.
func backUp(in tickInput) bool {
	return returned(in) && in.move.Direction != Descending
}

// step is one fired rule.
type step struct {
	Transition
	outcome outcome
	reason  DiscardReason
}

// advance evaluates the rule table from phase and returns the fired step, if any.
func advance(phase Phase, in tickInput) ([]step, error) {
	r, ok := match(phase, in)
	if !ok {
		return nil, nil
	}
	if !CanTransition(r.from, r.to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", r.from, r.to)
	}
	return []step{{
		Transition: Transition{From: r.from, To: r.to, At: in.now},
		outcome:    r.outcome,
		reason:     r.reason,
	}}, nil
}

func match(phase Phase, in tickInput) (rule, bool) {
	for _, r := range rules {
		if r.from == phase && r.guard(in) {
			return r, true
		}
	}
	return rule{}, false
}
