// Package receipt defines confidence receipts: auditable records pairing a
// confidence value with the calibration and evidence that justified it and the
// caps that limited it. Validity is a pure function of a receipt's own fields.
package receipt

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/google/uuid"
)

var (
	// ErrInvalidReceipt is returned when issuing a receipt whose fields do not justify its confidence.
	ErrInvalidReceipt = errors.New("invalid confidence receipt")
	// ErrForgedReceipt is returned when a receipt's Valid flag disagrees with its fields.
	ErrForgedReceipt = errors.New("forged confidence receipt")
)

// Gate names receipt validity refers to.
const (
	GateCoverageMatch  = "coverage_match"
	GateNoiseStability = "noise_stability"
)

// namespace scopes deterministic receipt ids.
var namespace = uuid.MustParse("6f1c2a52-0d1e-4b8e-9a57-3c1f0a9e7d21")

// #region types
// GateSnapshot is one gate's state at decision time.
type GateSnapshot struct {
	Gate   string  `json:"gate"`
	Action string  `json:"action"` // "pass" | "fail" | "cap"
	Cap    float64 `json:"cap"`
	Reason string  `json:"reason"`
}

// CalibrationSupport snapshots the calibration state behind a claim.
type CalibrationSupport struct {
	CoverageMatch       bool           `json:"coverage_match"`
	CalibratedPositions int            `json:"calibrated_positions"`
	ExperimentPositions int            `json:"experiment_positions"`
	CalibratedRegions   []string       `json:"calibrated_regions"`
	ExperimentRegions   []string       `json:"experiment_regions"`
	NoiseGate           string         `json:"noise_gate"` // "stable" | "unstable"
	PooledSigma         float64        `json:"pooled_sigma"`
	HealthDebt          float64        `json:"health_debt"`
	Gates               []GateSnapshot `json:"gates"`
}

// EvidenceSupport snapshots the data behind a claim.
type EvidenceSupport struct {
	Wells          int     `json:"wells"`
	UsableWells    int     `json:"usable_wells"`
	Conditions     int     `json:"conditions"`
	UsableChannels int     `json:"usable_channels"`
	MeanQuality    float64 `json:"mean_quality"`
	MinMargin      float64 `json:"min_margin"`
}

// Cap is a ceiling applied to confidence by a named gate.
type Cap struct {
	Gate    string  `json:"gate"`
	Ceiling float64 `json:"ceiling"`
	Reason  string  `json:"reason"`
}

// ConfidenceReceipt records one confidence claim.
type ConfidenceReceipt struct {
	ID          string             `json:"id"`
	Cycle       cycle.Cycle        `json:"cycle"`
	Claim       string             `json:"claim"`
	Requested   float64            `json:"requested"`
	Confidence  float64            `json:"confidence"`
	Refused     bool               `json:"refused"`
	Calibration CalibrationSupport `json:"calibration"`
	Evidence    EvidenceSupport    `json:"evidence"`
	Caps        []Cap              `json:"caps"`
	Valid       bool               `json:"valid"`
}

// #endregion types

// #region validity
// Violations lists every reason the receipt is invalid. Empty means valid.
func (r ConfidenceReceipt) Violations() []string {
	var out []string
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		out = append(out, fmt.Sprintf("confidence %v outside [0,1]", r.Confidence))
	}
	if !r.Calibration.CoverageMatch && r.Confidence != 0 && !r.hasCap(GateCoverageMatch, 0) {
		out = append(out, "nonzero confidence with coverage mismatch and no coverage_match cap at 0")
	}
	if r.Calibration.NoiseGate != "stable" && r.Confidence != 0 && !r.hasCap(GateNoiseStability, -1) {
		out = append(out, "nonzero confidence with unstable noise gate and no noise_stability cap")
	}
	if ceiling, ok := r.Ceiling(); ok && r.Confidence > ceiling+1e-12 {
		out = append(out, fmt.Sprintf("confidence %.4f exceeds recorded cap %.4f", r.Confidence, ceiling))
	}
	for _, c := range r.Caps {
		if c.Gate == "" {
			out = append(out, "cap without a named gate")
		}
	}
	if len(r.Calibration.Gates) > 0 {
		out = append(out, r.GateMismatches()...)
	}
	return out
}

// hasCap reports whether a cap from gate is recorded. A negative ceiling
// matches any value.
func (r ConfidenceReceipt) hasCap(gate string, ceiling float64) bool {
	for _, c := range r.Caps {
		if c.Gate == gate && (ceiling < 0 || c.Ceiling == ceiling) {
			return true
		}
	}
	return false
}

// GateMismatches compares the recorded caps with the gate snapshots. Every cap
// must come from a snapshot that capped at the same ceiling or failed, and
// every capping snapshot must appear among the caps.
func (r ConfidenceReceipt) GateMismatches() []string {
	var out []string
	failed := false
	for _, g := range r.Calibration.Gates {
		switch g.Action {
		case "cap":
			if !r.hasCap(g.Gate, g.Cap) {
				out = append(out, fmt.Sprintf("gate %s capped at %.4f but no matching cap recorded", g.Gate, g.Cap))
			}
		case "fail":
			failed = true
		}
	}
	zeroFromFailure := false
	for _, c := range r.Caps {
		backed := false
		for _, g := range r.Calibration.Gates {
			if g.Gate != c.Gate {
				continue
			}
			if (g.Action == "cap" && g.Cap == c.Ceiling) || (g.Action == "fail" && c.Ceiling == 0) {
				backed = true
				zeroFromFailure = zeroFromFailure || g.Action == "fail"
				break
			}
		}
		if !backed {
			out = append(out, fmt.Sprintf("cap %s at %.4f has no matching gate decision", c.Gate, c.Ceiling))
		}
	}
	if failed && !zeroFromFailure {
		out = append(out, "a gate failed but no zero cap records it")
	}
	return out
}

// IsValid reports whether the receipt's fields justify its confidence.
func (r ConfidenceReceipt) IsValid() bool {
	return len(r.Violations()) == 0
}

// Ceiling returns the lowest recorded cap.
func (r ConfidenceReceipt) Ceiling() (float64, bool) {
	if len(r.Caps) == 0 {
		return 1, false
	}
	c := math.Inf(1)
	for _, cp := range r.Caps {
		c = math.Min(c, cp.Ceiling)
	}
	return c, true
}

// CheckSeal returns ErrForgedReceipt when the Valid flag disagrees with the fields.
func (r ConfidenceReceipt) CheckSeal() error {
	if r.Valid != r.IsValid() {
		return fmt.Errorf("%w: %s claims valid=%v, fields say %v", ErrForgedReceipt, r.ID, r.Valid, r.IsValid())
	}
	return nil
}

// #endregion validity

// #region issue
// Issue seals a receipt. A receipt that fails its own validity check cannot be
// issued: that is a programming error in whoever assembled it.
func Issue(runID string, index int, r ConfidenceReceipt) (ConfidenceReceipt, error) {
	if r.ID == "" {
		r.ID = ID(runID, r.Cycle, index)
	}
	if v := r.Violations(); len(v) > 0 {
		return ConfidenceReceipt{}, fmt.Errorf("%w: %s: %v", ErrInvalidReceipt, r.ID, v)
	}
	r.Valid = true
	return r, nil
}

// ID derives a deterministic receipt id.
func ID(runID string, c cycle.Cycle, index int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s/%d/%d", runID, c, index))).String()
}

// #endregion issue
