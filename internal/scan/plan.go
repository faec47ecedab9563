// Package scan builds tandem sweep plans and drives them through the two
// classifiers and the particle counter.
package scan

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrPlanMismatch reports a classifier configuration pair that cannot form a
// coherent tandem plan: unequal point counts, disagreeing bypass flags, or a
// sweep too short to hold at least two points.
var ErrPlanMismatch = errors.New("scan: plan mismatch")

// ClassifierConfig describes one classifier's half of a sweep.
type ClassifierConfig struct {
	// Start and End bound the sweep in the classifier's native unit
	// (nm for mobility/aerodynamic diameter, fg for mass). Both must be
	// positive; Start > End sweeps downward.
	Start float64
	End   float64

	// PerDecade is the number of sample classes per log10 decade.
	PerDecade float64

	// Delay is the settle time after this classifier acknowledges a
	// setpoint before the counter may sample.
	Delay time.Duration

	// BypassBefore and BypassAfter request unclassified baseline points
	// bracketing the sweep. Both classifiers must agree on these.
	BypassBefore bool
	BypassAfter  bool

	// SampleFlow and RorQsh configure the classifier's flows; RorQsh is
	// either a resolution or an explicit sheath flow depending on model.
	SampleFlow float64
	RorQsh     float64
}

// Validate checks the range and resolution parameters.
func (c ClassifierConfig) Validate() error {
	if c.Start <= 0 || c.End <= 0 {
		return fmt.Errorf("scan: range bounds must be positive, got %g..%g", c.Start, c.End)
	}
	if c.Start == c.End {
		return fmt.Errorf("scan: degenerate range %g..%g", c.Start, c.End)
	}
	if c.PerDecade <= 0 {
		return fmt.Errorf("scan: classes per decade must be positive, got %g", c.PerDecade)
	}
	if c.Delay < 0 {
		return fmt.Errorf("scan: negative settle delay %s", c.Delay)
	}
	return nil
}

// points is the inclusive log-spaced point count for the configured range.
func (c ClassifierConfig) points() int {
	decades := math.Abs(math.Log10(c.End / c.Start))
	return int(math.Ceil(c.PerDecade*decades - 1e-9))
}

// CounterConfig describes the counter's averaging behaviour.
type CounterConfig struct {
	// Window is the averaging duration per scan point.
	Window time.Duration
}

func (c CounterConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("scan: averaging window must be positive, got %s", c.Window)
	}
	return nil
}

// SetpointPair is one step of the zipped tandem plan. Bypass entries retain
// the mirrored classifier values for bookkeeping; the valve, not the
// classifier state, defeats classification on those steps.
type SetpointPair struct {
	Classifier1 float64
	Classifier2 float64
	Bypass      bool
}

// Plan is the immutable ordered sweep produced by BuildPlan.
type Plan struct {
	Pairs []SetpointPair

	// SettleDelay is the larger of the two classifiers' settle delays,
	// applied once per step after both have acknowledged.
	SettleDelay time.Duration
}

// Len returns the number of steps including bypass entries.
func (p Plan) Len() int { return len(p.Pairs) }

// Setpoints returns the inclusive log-spaced setpoint sequence for a single
// classifier, monotonic in the start to end direction.
func Setpoints(c ClassifierConfig) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.points()
	if n < 2 {
		return nil, fmt.Errorf("%w: range %g..%g at %g/decade yields %d point(s)",
			ErrPlanMismatch, c.Start, c.End, c.PerDecade, n)
	}
	return floats.LogSpan(make([]float64, n), c.Start, c.End), nil
}

// BuildPlan zips the two classifier configurations into a tandem plan. The
// configs must produce equal point counts and agree on bypass bracketing;
// anything else is ErrPlanMismatch. No instrument I/O happens here.
func BuildPlan(c1, c2 ClassifierConfig) (Plan, error) {
	s1, err := Setpoints(c1)
	if err != nil {
		return Plan{}, err
	}
	s2, err := Setpoints(c2)
	if err != nil {
		return Plan{}, err
	}
	if len(s1) != len(s2) {
		return Plan{}, fmt.Errorf("%w: %d vs %d points", ErrPlanMismatch, len(s1), len(s2))
	}
	if c1.BypassBefore != c2.BypassBefore || c1.BypassAfter != c2.BypassAfter {
		return Plan{}, fmt.Errorf("%w: bypass flags disagree", ErrPlanMismatch)
	}

	pairs := make([]SetpointPair, 0, len(s1)+2)
	if c1.BypassBefore {
		pairs = append(pairs, SetpointPair{Classifier1: s1[0], Classifier2: s2[0], Bypass: true})
	}
	for i := range s1 {
		pairs = append(pairs, SetpointPair{Classifier1: s1[i], Classifier2: s2[i]})
	}
	if c1.BypassAfter {
		last := len(s1) - 1
		pairs = append(pairs, SetpointPair{Classifier1: s1[last], Classifier2: s2[last], Bypass: true})
	}

	settle := c1.Delay
	if c2.Delay > settle {
		settle = c2.Delay
	}
	return Plan{Pairs: pairs, SettleDelay: settle}, nil
}
