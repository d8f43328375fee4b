package gate

import (
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
)

// #region action
// Action is a gate outcome.
type Action string

const (
	ActionPass Action = "pass"
	ActionFail Action = "fail"
	ActionCap  Action = "cap"
)

// Gate names.
const (
	NameCoverageMatch     = receipt.GateCoverageMatch
	NameNoiseStability    = receipt.GateNoiseStability
	NameProvenanceFreeze  = "provenance_freeze"
	NameCalibrationPoison = "calibration_poison"
	NameReceiptForgery    = "receipt_forgery"
	NameEvidenceMinimum   = "evidence_minimum"
)

// #endregion action

// #region belief-view
// BeliefView is the read-only slice of belief state gates are allowed to see.
type BeliefView struct {
	Cycle               cycle.Cycle      `json:"cycle"`
	CalibratedPositions []plate.Position `json:"calibrated_positions"`
	NoiseGate           noise.GateState  `json:"noise_gate"`
	PooledSigma         float64          `json:"pooled_sigma"`
	HealthDebt          float64          `json:"health_debt"`
	ReferenceFloors     noise.Floors     `json:"reference_floors,omitempty"`
}

// #endregion belief-view

// #region input
// CoverageCredit is an attempt to add calibration provenance.
type CoverageCredit struct {
	Cycle     cycle.Cycle
	Positions []plate.Position
}

// CalibrationBatch is the raw control-well readings a calibration wants to trust.
type CalibrationBatch struct {
	WellIDs  []string
	Readings []map[observation.Channel]float64
}

// Input is everything a gate may look at. Fields a gate does not need may be nil.
type Input struct {
	Belief              BeliefView
	Observation         *observation.Observation
	ExperimentPositions []plate.Position
	Proposed            float64
	Credit              *CoverageCredit
	Calibration         *CalibrationBatch
	Receipt             *receipt.ConfidenceReceipt
}

// #endregion input

// #region decision
// Decision is one gate's verdict with a machine-readable reason.
type Decision struct {
	Gate   string  `json:"gate"`
	Action Action  `json:"action"`
	Cap    float64 `json:"cap"`
	Reason string  `json:"reason"`
}

// Verdict composes every gate's decision.
type Verdict struct {
	Decisions  []Decision `json:"decisions"`
	Allowed    float64    `json:"allowed"` // highest confidence the gates permit
	Failed     bool       `json:"failed"`
	FailedGate string     `json:"failed_gate,omitempty"`
	Reason     string     `json:"reason"`
}

// Caps returns the cap decisions as receipt caps.
func (v Verdict) Caps() []receipt.Cap {
	var caps []receipt.Cap
	for _, d := range v.Decisions {
		if d.Action == ActionCap {
			caps = append(caps, receipt.Cap{Gate: d.Gate, Ceiling: d.Cap, Reason: d.Reason})
		}
	}
	return caps
}

// Snapshots returns every decision in receipt form.
func (v Verdict) Snapshots() []receipt.GateSnapshot {
	out := make([]receipt.GateSnapshot, 0, len(v.Decisions))
	for _, d := range v.Decisions {
		out = append(out, receipt.GateSnapshot{Gate: d.Gate, Action: string(d.Action), Cap: d.Cap, Reason: d.Reason})
	}
	return out
}

// #endregion decision

// #region config
// Config holds gate thresholds.
type Config struct {
	NoiseCeiling     float64 `yaml:"noise_ceiling"`
	MinUsableWells   int     `yaml:"min_usable_wells"`
	EvidenceCeiling  float64 `yaml:"evidence_ceiling"`
	PoisonSigmas     float64 `yaml:"poison_sigmas"`
	PoisonMinQuantum float64 `yaml:"poison_min_quantum"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		NoiseCeiling:     0.5,
		MinUsableWells:   8,
		EvidenceCeiling:  0.5,
		PoisonSigmas:     4,
		PoisonMinQuantum: 0.005,
	}
}

// #endregion config
