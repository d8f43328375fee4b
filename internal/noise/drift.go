package noise

import (
	"fmt"
	"math"
)

// #region drift-tracker
// DriftReading is the outcome of one pooled-variance update.
type DriftReading struct {
	Sigma        float64   `json:"sigma"`
	PooledSigma  float64   `json:"pooled_sigma"`
	Drift        float64   `json:"drift"`
	State        GateState `json:"state"`
	StableStreak int       `json:"stable_streak"`
	Changed      bool      `json:"changed"`
	Skipped      bool      `json:"skipped"` // instant-crossing updates are not judged
	Reason       string    `json:"reason"`
}

// DriftTracker pools noise variance across runs and gates on drift with
// hysteresis: once lost, the gate needs RestoreAfter consecutive stable
// observations to come back.
type DriftTracker struct {
	cfg    DriftConfig
	ss     float64 // pooled sum of squares (sigma² · df)
	df     int
	n      int
	state  GateState
	streak int
}

// NewDriftTracker creates a tracker whose gate starts unstable; it is earned
// once MinHistory observations agree.
func NewDriftTracker(cfg DriftConfig) *DriftTracker {
	if cfg.RestoreAfter < 2 {
		cfg.RestoreAfter = 2
	}
	return &DriftTracker{cfg: cfg, state: GateUnstable}
}

// State returns the current gate state.
func (d *DriftTracker) State() GateState {
	return d.state
}

// PooledSigma returns the pooled standard deviation so far.
func (d *DriftTracker) PooledSigma() float64 {
	if d.df == 0 {
		return 0
	}
	return math.Sqrt(d.ss / float64(d.df))
}

// DF returns the pooled degrees of freedom.
func (d *DriftTracker) DF() int {
	return d.df
}

// Observe folds in a new sigma estimate with df degrees of freedom.
func (d *DriftTracker) Observe(sigma float64, df int, instant bool) DriftReading {
	pooled := d.PooledSigma()
	out := DriftReading{Sigma: sigma, PooledSigma: pooled, State: d.state, StableStreak: d.streak}

	if instant {
		out.Skipped = true
		out.Reason = "instant crossing: not judged for drift"
		return out
	}
	if df < 1 || math.IsNaN(sigma) {
		out.Skipped = true
		out.Reason = fmt.Sprintf("insufficient degrees of freedom (%d)", df)
		return out
	}

	prev := d.state
	drifted := false
	if d.n >= d.cfg.MinHistory && pooled > 0 {
		out.Drift = math.Abs(sigma-pooled) / pooled
	}

	switch {
	case d.n >= d.cfg.MinHistory && out.Drift > d.cfg.Tolerance:
		d.state = GateUnstable
		d.streak = 0
		drifted = true
		out.Reason = fmt.Sprintf("drift %.3f exceeds tolerance %.3f", out.Drift, d.cfg.Tolerance)
	case d.state == GateUnstable:
		d.streak++
		if d.streak >= d.cfg.RestoreAfter && d.n+1 >= d.cfg.MinHistory {
			d.state = GateStable
			out.Reason = fmt.Sprintf("gate earned after %d consecutive stable observations", d.streak)
		} else {
			out.Reason = fmt.Sprintf("stable %d/%d", d.streak, d.cfg.RestoreAfter)
		}
	default:
		d.streak++
		out.Reason = "stable"
	}

	// Drifting estimates stay out of the pool.
	if !drifted {
		d.ss += sigma * sigma * float64(df)
		d.df += df
		d.n++
	}

	out.State = d.state
	out.StableStreak = d.streak
	out.PooledSigma = d.PooledSigma()
	out.Changed = prev != d.state
	return out
}

// #endregion drift-tracker
