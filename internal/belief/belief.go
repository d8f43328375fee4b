// Package belief is the confidence-reporting agent's memory: calibration
// provenance, the noise gate, health debt and the cycle counter. It decides
// what each cycle should do and turns gate verdicts into receipts.
package belief

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
)

// #region state
// State is the belief state of one campaign.
type State struct {
	cfg      Config
	runID    string
	counter  cycle.Counter
	covered  map[plate.Position]bool
	drift    *noise.DriftTracker
	floors   noise.Floors
	debt     float64
	receipts int
}

// New creates an empty belief state.
func New(runID string, cfg Config, driftCfg noise.DriftConfig) *State {
	return &State{
		cfg:     cfg,
		runID:   runID,
		covered: make(map[plate.Position]bool),
		drift:   noise.NewDriftTracker(driftCfg),
	}
}

// Config returns the belief configuration.
func (s *State) Config() Config {
	return s.cfg
}

// Cycle returns the current cycle.
func (s *State) Cycle() cycle.Cycle {
	return s.counter.Current()
}

// BeginCycle advances to c, which must be strictly greater than the current cycle.
func (s *State) BeginCycle(c cycle.Cycle) error {
	return s.counter.Advance(c)
}

// HealthDebt returns the current penalty balance.
func (s *State) HealthDebt() float64 {
	return s.debt
}

// NoiseGate returns the current noise gate state.
func (s *State) NoiseGate() noise.GateState {
	return s.drift.State()
}

// #endregion state

// #region provenance
// AddCoverage credits calibration provenance for positions. Credit can only be
// earned during the calibration cycle; any other attempt leaves provenance untouched.
func (s *State) AddCoverage(positions []plate.Position) error {
	if !s.counter.Started() || s.counter.Current() != cycle.Calibration {
		return fmt.Errorf("add coverage for %d positions in cycle %d: %w", len(positions), s.counter.Current(), ErrProvenanceFrozen)
	}
	for _, p := range positions {
		s.covered[p] = true
	}
	return nil
}

// SetReferenceFloors records the floors established during calibration.
func (s *State) SetReferenceFloors(f noise.Floors) error {
	if s.counter.Current() != cycle.Calibration {
		return fmt.Errorf("set reference floors in cycle %d: %w", s.counter.Current(), ErrProvenanceFrozen)
	}
	s.floors = f
	return nil
}

// CalibratedPositions returns covered positions, sorted.
func (s *State) CalibratedPositions() []plate.Position {
	out := make([]plate.Position, 0, len(s.covered))
	for p := range s.covered {
		out = append(out, p)
	}
	plate.Sort(out)
	return out
}

// #endregion provenance

// #region noise
// ObserveNoise folds a run's noise estimate into the pooled-variance gate.
func (s *State) ObserveNoise(sigma float64, df int, instant bool) noise.DriftReading {
	return s.drift.Observe(sigma, df, instant)
}

// Recalibrated decays health debt after a calibration cycle that left the noise gate stable.
func (s *State) Recalibrated() bool {
	if s.drift.State() != noise.GateStable {
		return false
	}
	s.debt *= s.cfg.DebtDecay
	return true
}

// #endregion noise

// #region entropy
// CalibrationEntropy is the calibration uncertainty in bits: one term for plate
// regions without calibration coverage, one for the relative uncertainty of
// the pooled noise estimate, and one bit while the noise gate is down.
func (s *State) CalibrationEntropy() float64 {
	h := math.Log2(1 + float64(s.uncoveredRegions()))
	if df := s.drift.DF(); df > 0 {
		h += math.Log2(1 + 1/math.Sqrt(2*float64(df)))
	} else {
		h += 1
	}
	if s.drift.State() != noise.GateStable {
		h += 1
	}
	return h
}

func (s *State) uncoveredRegions() int {
	covered := map[plate.Region]bool{}
	for _, r := range plate.Regions(s.CalibratedPositions()) {
		covered[r] = true
	}
	return 2 - len(covered)
}

// #endregion entropy

// #region choose-action
// ChooseAction picks the next cycle's action from belief fields alone.
func (s *State) ChooseAction(budget int) Decision {
	h := s.CalibrationEntropy()
	j := Justification{
		HealthDebt:       s.debt,
		Entropy:          h,
		Budget:           budget,
		NoiseGate:        string(s.drift.State()),
		UncoveredRegions: s.uncoveredRegions(),
	}
	d := Decision{Cycle: s.counter.Current(), Justification: j}

	switch {
	case budget <= 0:
		d.Action = ActionNone
		d.Justification.Rule = "no budget"
	case s.debt > s.cfg.HighDebtThreshold && budget >= s.cfg.CalibrationWells:
		d.Action, d.Wells = ActionCalibrate, s.cfg.CalibrationWells
		d.Justification.Rule = fmt.Sprintf("health debt %.3f > %.3f", s.debt, s.cfg.HighDebtThreshold)
	case h > s.cfg.EntropyThreshold && budget >= s.cfg.CalibrationWells:
		d.Action, d.Wells = ActionCalibrate, s.cfg.CalibrationWells
		d.Justification.Rule = fmt.Sprintf("calibration entropy %.3f > %.3f", h, s.cfg.EntropyThreshold)
	case h > s.cfg.ModerateEntropy && budget >= s.cfg.ReplicateWells:
		d.Action, d.Wells = ActionReplicate, s.cfg.ReplicateWells
		d.Justification.Rule = fmt.Sprintf("calibration entropy %.3f > %.3f", h, s.cfg.ModerateEntropy)
	default:
		d.Action, d.Wells = ActionExpand, budget
		d.Justification.Rule = "calibration adequate"
	}
	return d
}

// ReplayChoice reconstructs the action a Justification implies, using only its fields.
func ReplayChoice(cfg Config, j Justification) Action {
	switch {
	case j.Budget <= 0:
		return ActionNone
	case j.HealthDebt > cfg.HighDebtThreshold && j.Budget >= cfg.CalibrationWells:
		return ActionCalibrate
	case j.Entropy > cfg.EntropyThreshold && j.Budget >= cfg.CalibrationWells:
		return ActionCalibrate
	case j.Entropy > cfg.ModerateEntropy && j.Budget >= cfg.ReplicateWells:
		return ActionReplicate
	default:
		return ActionExpand
	}
}

// #endregion choose-action

// #region view
// View exposes the read-only fields gates evaluate.
func (s *State) View() gate.BeliefView {
	return gate.BeliefView{
		Cycle:               s.counter.Current(),
		CalibratedPositions: s.CalibratedPositions(),
		NoiseGate:           s.drift.State(),
		PooledSigma:         s.drift.PooledSigma(),
		HealthDebt:          s.debt,
		ReferenceFloors:     s.floors,
	}
}

// Snapshot returns a serializable copy of the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Cycle:               s.counter.Current(),
		CalibratedPositions: s.CalibratedPositions(),
		NoiseGate:           s.drift.State(),
		PooledSigma:         s.drift.PooledSigma(),
		HealthDebt:          s.debt,
		Entropy:             s.CalibrationEntropy(),
		Receipts:            s.receipts,
	}
}

// #endregion view

// #region claim
// Claim runs the gates over a requested confidence and issues a receipt. The
// agent cannot choose its caps: they come from the registry verdict.
func (s *State) Claim(reg *gate.Registry, obs observation.Observation, claim string, requested float64, refuse bool) (receipt.ConfidenceReceipt, gate.Verdict, error) {
	experiment := obs.Positions
	verdict := reg.Evaluate(gate.Input{
		Belief:              s.View(),
		Observation:         &obs,
		ExperimentPositions: experiment,
		Proposed:            requested,
	})

	match, _ := gate.CoverageMatches(s.CalibratedPositions(), experiment)
	conf := math.Min(clamp01(requested), verdict.Allowed)
	refused := refuse || conf < s.cfg.ConfidenceThreshold

	r := receipt.ConfidenceReceipt{
		Cycle:      s.counter.Current(),
		Claim:      claim,
		Requested:  clamp01(requested),
		Confidence: conf,
		Refused:    refused,
		Calibration: receipt.CalibrationSupport{
			CoverageMatch:       match,
			CalibratedPositions: len(s.covered),
			ExperimentPositions: len(experiment),
			CalibratedRegions:   regionNames(s.CalibratedPositions()),
			ExperimentRegions:   regionNames(experiment),
			NoiseGate:           string(s.drift.State()),
			PooledSigma:         s.drift.PooledSigma(),
			HealthDebt:          s.debt,
			Gates:               verdict.Snapshots(),
		},
		Evidence: evidenceFrom(obs),
		Caps:     verdict.Caps(),
	}
	if verdict.Failed {
		r.Caps = append(r.Caps, receipt.Cap{Gate: verdict.FailedGate, Ceiling: 0, Reason: verdict.Reason})
	}

	issued, err := receipt.Issue(s.runID, s.receipts, r)
	if err != nil {
		return receipt.ConfidenceReceipt{}, verdict, err
	}
	s.receipts++
	return issued, verdict, nil
}

// #endregion claim

// #region score
// Score applies reward accounting to a receipt and updates health debt.
// correct must be set for predictions and is ignored for refusals.
func (s *State) Score(r receipt.ConfidenceReceipt, correct *bool) (Reward, error) {
	kind, amount, debt, err := ScoreReceipt(s.cfg, r, correct)
	if err != nil {
		return Reward{}, err
	}
	s.debt += debt
	return Reward{
		Cycle:     r.Cycle,
		ReceiptID: r.ID,
		Kind:      kind,
		Amount:    amount,
		Correct:   correct,
		DebtAfter: s.debt,
	}, nil
}

// StrongEvidence reports whether a receipt's own fields show strong support:
// calibrated, coverage matched, a stable noise gate and enough usable wells.
func StrongEvidence(cfg Config, r receipt.ConfidenceReceipt) bool {
	return r.Calibration.CalibratedPositions > 0 &&
		r.Calibration.CoverageMatch &&
		r.Calibration.NoiseGate == string(noise.GateStable) &&
		r.Evidence.UsableWells >= cfg.MinWells
}

// ScoreReceipt is the pure reward rule, shared with the offline verifier.
// It returns the reward kind, amount and the health-debt increment.
func ScoreReceipt(cfg Config, r receipt.ConfidenceReceipt, correct *bool) (RewardKind, float64, float64, error) {
	if r.Refused {
		ceiling, _ := r.Ceiling()
		confident := ceiling >= cfg.ConfidenceThreshold && StrongEvidence(cfg, r)
		switch {
		case confident && r.Requested < cfg.SandbagThreshold:
			return RewardSandbagging, -cfg.MistakePenalty, 0, nil
		case confident:
			return RewardUnjustifiedRefusal, 0, 0, nil
		default:
			return RewardJustifiedRefusal, cfg.RefusalReward, 0, nil
		}
	}
	if correct == nil {
		return "", 0, 0, fmt.Errorf("score receipt %s: prediction without an outcome", r.ID)
	}
	if *correct {
		return RewardCorrect, cfg.CorrectReward * r.Confidence, 0, nil
	}
	return RewardMistake, -cfg.MistakePenalty, cfg.OverclaimDebt * r.Confidence, nil
}

// #endregion score

// #region helpers
func evidenceFrom(obs observation.Observation) receipt.EvidenceSupport {
	ev := receipt.EvidenceSupport{
		Wells:       obs.Wells,
		UsableWells: obs.UsableWells(),
		Conditions:  len(obs.Conditions),
		MinMargin:   math.Inf(1),
	}
	for _, c := range obs.Conditions {
		ev.UsableChannels += c.UsableCount
		ev.MeanQuality += c.Quality
		ev.MinMargin = math.Min(ev.MinMargin, c.MinMargin)
	}
	if len(obs.Conditions) > 0 {
		ev.MeanQuality /= float64(len(obs.Conditions))
	} else {
		ev.MinMargin = 0
	}
	return ev
}

func regionNames(positions []plate.Position) []string {
	regions := plate.Regions(positions)
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = string(r)
	}
	return out
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// #endregion helpers
