package audit

import (
	"encoding/json"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
)

// #region record
// Record is one logged event as read back from disk. Cycle is only meaningful
// when CycleErr is empty; a record whose cycle is not an integer keeps the raw text.
type Record struct {
	Seq      int             `json:"seq"`
	RunID    string          `json:"run_id"`
	Cycle    cycle.Cycle     `json:"cycle"`
	CycleRaw string          `json:"-"`
	CycleErr string          `json:"-"`
	Kind     logging.Kind    `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// #endregion record

// #region payloads
// CyclePayload is logged once per cycle with the chosen action.
type CyclePayload struct {
	Decision belief.Decision `json:"decision"`
	RunID    string          `json:"run_id"`
	Digest   string          `json:"digest,omitempty"`
}

// CalibrationPayload records a coverage credit attempt or reference floors.
type CalibrationPayload struct {
	Event     string       `json:"event"` // "coverage" | "floors"
	Positions []string     `json:"positions,omitempty"`
	Accepted  bool         `json:"accepted"`
	Gate      string       `json:"gate,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Floors    noise.Floors `json:"floors,omitempty"`
}

// NoisePayload records one pooled-variance update.
type NoisePayload struct {
	RunID   string             `json:"run_id"`
	Instant bool               `json:"instant"`
	Reading noise.DriftReading `json:"reading"`
}

// GatePayload records a full gate verdict and what it was evaluated for.
type GatePayload struct {
	Subject string       `json:"subject"` // "claim" | "coverage" | "calibration" | "receipt"
	Verdict gate.Verdict `json:"verdict"`
}

// #endregion payloads

// #region verdict
// Violation codes.
const (
	CodeNonIntegerCycle     = "non_integer_cycle"
	CodeNonMonotonicCycle   = "non_monotonic_cycle"
	CodeSequenceGap         = "sequence_gap"
	CodeCoverageOutside     = "coverage_outside_calibration"
	CodeInvalidReceipt      = "invalid_receipt"
	CodeForgedReceipt       = "forged_receipt"
	CodeRewardInconsistent  = "reward_inconsistent"
	CodeOrphanReward        = "orphan_reward"
	CodeDebtInconsistent    = "debt_inconsistent"
	CodeUnattributedFailure = "unattributed_gate_failure"
	CodeUnjustifiedAction   = "unjustified_action"
	CodeMalformed           = "malformed_record"
)

// Violation is one broken contract found in the logs.
type Violation struct {
	Seq    int          `json:"seq"`
	Cycle  cycle.Cycle  `json:"cycle"`
	Kind   logging.Kind `json:"kind"`
	Code   string       `json:"code"`
	Detail string       `json:"detail"`
}

// CycleNarrative is the human-readable account of one cycle.
type CycleNarrative struct {
	Cycle        cycle.Cycle   `json:"cycle"`
	Action       belief.Action `json:"action,omitempty"`
	Rule         string        `json:"rule,omitempty"`
	Receipts     int           `json:"receipts"`
	Refusals     int           `json:"refusals"`
	RewardTotal  float64       `json:"reward_total"`
	GateFailures []string      `json:"gate_failures,omitempty"`
	Lines        []string      `json:"lines"`
}

// Verdict is the outcome of auditing a log.
type Verdict struct {
	Pass       bool             `json:"pass"`
	Records    int              `json:"records"`
	Violations []Violation      `json:"violations"`
	Narrative  []CycleNarrative `json:"narrative"`
}

// Codes returns the distinct violation codes in first-seen order.
func (v Verdict) Codes() []string {
	seen := map[string]bool{}
	var out []string
	for _, x := range v.Violations {
		if !seen[x.Code] {
			seen[x.Code] = true
			out = append(out, x.Code)
		}
	}
	return out
}

// #endregion verdict

// #region options
// Options carries the thresholds the verifier recomputes decisions with.
// They must match the configuration the campaign ran under.
type Options struct {
	Belief belief.Config
}

// DefaultOptions uses the reference belief thresholds.
func DefaultOptions() Options {
	return Options{Belief: belief.DefaultConfig()}
}

// #endregion options
