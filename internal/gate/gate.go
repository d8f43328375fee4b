// Package gate holds the contract rules that decide how much confidence a claim
// may carry. Each rule is a small pure function over an Input; the Registry
// composes them so no caller can skip one.
package gate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// #region rule
// Rule is a named gate.
type Rule interface {
	Name() string
	Evaluate(in Input) Decision
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	GateName string
	Fn       func(Input) Decision
}

// Name returns the gate name.
func (r RuleFunc) Name() string { return r.GateName }

// Evaluate runs the function and stamps the gate name.
func (r RuleFunc) Evaluate(in Input) Decision {
	d := r.Fn(in)
	d.Gate = r.GateName
	return d
}

// #endregion rule

// #region registry
// Registry evaluates rules in registration order.
type Registry struct {
	rules []Rule
}

// NewRegistry creates a registry over the given rules.
func NewRegistry(rules ...Rule) *Registry {
	return &Registry{rules: rules}
}

// Default returns a registry with every built-in gate.
func Default(cfg Config) *Registry {
	return NewRegistry(
		ProvenanceFreeze(),
		CalibrationPoison(cfg.PoisonSigmas, cfg.PoisonMinQuantum),
		CoverageMatch(),
		NoiseStability(cfg.NoiseCeiling),
		EvidenceMinimum(cfg.MinUsableWells, cfg.EvidenceCeiling),
		ReceiptForgery(),
	)
}

// Register appends a rule.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Names lists the registered gate names in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.Name())
	}
	return out
}

// Evaluate runs every rule. Allowed is the proposed confidence clipped by the
// lowest cap, or zero when any gate fails. The first failing gate owns the failure.
func (r *Registry) Evaluate(in Input) Verdict {
	v := Verdict{Allowed: clamp01(in.Proposed)}
	for _, rule := range r.rules {
		d := rule.Evaluate(in)
		if d.Gate == "" {
			d.Gate = rule.Name()
		}
		v.Decisions = append(v.Decisions, d)
		switch d.Action {
		case ActionFail:
			if !v.Failed {
				v.Failed = true
				v.FailedGate = d.Gate
				v.Reason = d.Reason
			}
			v.Allowed = 0
		case ActionCap:
			v.Allowed = math.Min(v.Allowed, d.Cap)
		}
	}
	if !v.Failed {
		v.Reason = fmt.Sprintf("allowed %.4f", v.Allowed)
	}
	return v
}

// #endregion registry

// #region coverage-match
// CoverageMatches reports whether calibration wells cover every spatial regime
// the experiment uses.
func CoverageMatches(calibrated, experiment []plate.Position) (bool, []plate.Region) {
	if len(experiment) == 0 {
		return len(calibrated) > 0, nil
	}
	have := map[plate.Region]bool{}
	for _, r := range plate.Regions(calibrated) {
		have[r] = true
	}
	var missing []plate.Region
	for _, r := range plate.Regions(experiment) {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return len(missing) == 0, missing
}

// CoverageMatch caps confidence to zero when calibration does not cover the
// experiment's spatial regimes.
func CoverageMatch() Rule {
	return RuleFunc{GateName: NameCoverageMatch, Fn: func(in Input) Decision {
		if in.Credit != nil || in.Calibration != nil {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		ok, missing := CoverageMatches(in.Belief.CalibratedPositions, in.ExperimentPositions)
		if ok {
			return Decision{Action: ActionPass, Reason: "calibration covers experiment regions"}
		}
		return Decision{Action: ActionCap, Cap: 0, Reason: fmt.Sprintf("calibration does not cover regions %v", missing)}
	}}
}

// #endregion coverage-match

// #region noise-stability
// NoiseStability caps confidence to ceiling while the noise gate is unstable.
func NoiseStability(ceiling float64) Rule {
	return RuleFunc{GateName: NameNoiseStability, Fn: func(in Input) Decision {
		if in.Credit != nil || in.Calibration != nil {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		if in.Belief.NoiseGate == noise.GateStable {
			return Decision{Action: ActionPass, Reason: "noise gate stable"}
		}
		return Decision{Action: ActionCap, Cap: ceiling, Reason: fmt.Sprintf("noise gate %s", in.Belief.NoiseGate)}
	}}
}

// #endregion noise-stability

// #region provenance-freeze
// ProvenanceFreeze rejects coverage credit outside the calibration cycle.
func ProvenanceFreeze() Rule {
	return RuleFunc{GateName: NameProvenanceFreeze, Fn: func(in Input) Decision {
		if in.Credit == nil {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		if in.Credit.Cycle != cycle.Calibration {
			return Decision{Action: ActionFail, Reason: fmt.Sprintf("coverage credit for %d positions attempted in cycle %d; provenance is frozen after cycle %d",
				len(in.Credit.Positions), in.Credit.Cycle, cycle.Calibration)}
		}
		return Decision{Action: ActionPass, Reason: "calibration cycle"}
	}}
}

// #endregion provenance-freeze

// #region calibration-poison
// CalibrationPoison rejects calibration batches with biased wells: wells far
// from the batch median, or a batch mean far from the reference floor.
func CalibrationPoison(sigmas, minQuantum float64) Rule {
	return RuleFunc{GateName: NameCalibrationPoison, Fn: func(in Input) Decision {
		b := in.Calibration
		if b == nil || len(b.Readings) == 0 {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		var problems []string
		for _, ch := range observation.Channels {
			vals := make([]float64, 0, len(b.Readings))
			for _, r := range b.Readings {
				if v, ok := r[ch]; ok {
					vals = append(vals, v)
				}
			}
			if len(vals) < 3 {
				continue
			}
			med := median(vals)
			spread := math.Max(1.4826*mad(vals, med), minQuantum)
			for i, r := range b.Readings {
				v, ok := r[ch]
				if !ok || math.Abs(v-med) <= sigmas*spread {
					continue
				}
				id := fmt.Sprintf("#%d", i)
				if i < len(b.WellIDs) {
					id = b.WellIDs[i]
				}
				problems = append(problems, fmt.Sprintf("%s %s=%.4f vs median %.4f", id, ch, v, med))
			}
			if ref, ok := in.Belief.ReferenceFloors[ch]; ok && ref.Sigma > 0 {
				mean := 0.0
				for _, v := range vals {
					mean += v
				}
				mean /= float64(len(vals))
				se := math.Max(ref.Sigma/math.Sqrt(float64(len(vals))), minQuantum)
				if math.Abs(mean-ref.Mean) > sigmas*se {
					problems = append(problems, fmt.Sprintf("batch %s mean %.4f vs reference %.4f", ch, mean, ref.Mean))
				}
			}
		}
		if len(problems) == 0 {
			return Decision{Action: ActionPass, Reason: "calibration wells consistent"}
		}
		sort.Strings(problems)
		return Decision{Action: ActionFail, Reason: "biased calibration wells: " + strings.Join(problems, "; ")}
	}}
}

// #endregion calibration-poison

// #region receipt-forgery
// ReceiptForgery fails receipts that claim confidence their own fields do not support.
func ReceiptForgery() Rule {
	return RuleFunc{GateName: NameReceiptForgery, Fn: func(in Input) Decision {
		r := in.Receipt
		if r == nil {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		if v := r.Violations(); len(v) > 0 {
			return Decision{Action: ActionFail, Reason: "receipt " + r.ID + ": " + strings.Join(v, "; ")}
		}
		if err := r.CheckSeal(); err != nil {
			return Decision{Action: ActionFail, Reason: err.Error()}
		}
		return Decision{Action: ActionPass, Reason: "receipt consistent"}
	}}
}

// #endregion receipt-forgery

// #region evidence-minimum
// EvidenceMinimum caps confidence when too few usable wells back the claim.
func EvidenceMinimum(minWells int, ceiling float64) Rule {
	return RuleFunc{GateName: NameEvidenceMinimum, Fn: func(in Input) Decision {
		if in.Observation == nil {
			return Decision{Action: ActionPass, Reason: "not applicable"}
		}
		n := in.Observation.UsableWells()
		if n >= minWells {
			return Decision{Action: ActionPass, Reason: fmt.Sprintf("%d usable wells", n)}
		}
		return Decision{Action: ActionCap, Cap: ceiling, Reason: fmt.Sprintf("%d usable wells below minimum %d", n, minWells)}
	}}
}

// #endregion evidence-minimum

// #region helpers
func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func mad(vals []float64, med float64) float64 {
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - med)
	}
	return median(dev)
}

// #endregion helpers
