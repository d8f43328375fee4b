package belief

import (
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// #region helpers
func center(col int) plate.Position { return plate.Position{Plate: "P1", Row: 3, Col: col} }
func edge(col int) plate.Position   { return plate.Position{Plate: "P1", Row: 0, Col: col} }

func experiment(wells int) observation.Observation {
	return observation.Observation{
		RunID:      "run-1",
		Cycle:      2,
		Conditions: []observation.ConditionSummary{{Replicates: wells, Quality: 1, UsableCount: 6, MinMargin: 0.1}},
		Positions:  []plate.Position{center(6), edge(6)},
		Wells:      wells,
	}
}

// calibrated returns a state that finished cycle 0 with full coverage and a
// stable noise gate, and is now in cycle 2.
func calibrated(t *testing.T) *State {
	t.Helper()
	s := New("run-1", DefaultConfig(), noise.DriftConfig{Tolerance: 0.25, RestoreAfter: 3, MinHistory: 2})
	if err := s.BeginCycle(cycle.Calibration); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.AddCoverage([]plate.Position{center(2), center(3), edge(2), edge(3)}); err != nil {
		t.Fatalf("coverage: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.ObserveNoise(0.02, 15, false)
	}
	if s.NoiseGate() != noise.GateStable {
		t.Fatalf("noise gate did not stabilize")
	}
	if err := s.BeginCycle(2); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return s
}

// #endregion helpers

// #region provenance-tests
func TestCoverageInflationOutsideCalibrationIsRejected(t *testing.T) {
	s := calibrated(t)
	before := s.CalibratedPositions()

	err := s.AddCoverage([]plate.Position{center(9), edge(9), center(10)})
	if !errors.Is(err, ErrProvenanceFrozen) {
		t.Fatalf("err = %v, want ErrProvenanceFrozen", err)
	}
	after := s.CalibratedPositions()
	if len(after) != len(before) {
		t.Fatalf("provenance changed: %d -> %d positions", len(before), len(after))
	}
}

func TestCoverageBeforeFirstCycleIsRejected(t *testing.T) {
	s := New("run-1", DefaultConfig(), noise.DriftConfig{})
	if err := s.AddCoverage([]plate.Position{center(1)}); !errors.Is(err, ErrProvenanceFrozen) {
		t.Fatalf("err = %v", err)
	}
}

func TestBeginCycleMustIncrease(t *testing.T) {
	s := calibrated(t)
	if err := s.BeginCycle(2); !errors.Is(err, cycle.ErrNonMonotonicCycle) {
		t.Fatalf("err = %v", err)
	}
}

// #endregion provenance-tests

// #region claim-tests
func TestCoverageMismatchForcesZeroConfidence(t *testing.T) {
	s := New("run-1", DefaultConfig(), noise.DriftConfig{Tolerance: 0.25, RestoreAfter: 2, MinHistory: 1})
	_ = s.BeginCycle(0)
	_ = s.AddCoverage([]plate.Position{center(2), center(3)})
	s.ObserveNoise(0.02, 10, false)
	s.ObserveNoise(0.02, 10, false)
	_ = s.BeginCycle(1)

	r, v, err := s.Claim(gate.Default(gate.DefaultConfig()), experiment(12), "er_stress", 0.95, false)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if r.Confidence != 0 || !r.Refused {
		t.Fatalf("confidence = %v refused = %v, want 0 and refused", r.Confidence, r.Refused)
	}
	if r.Calibration.CoverageMatch {
		t.Fatal("coverage reported as matching")
	}
	if !r.Valid || r.CheckSeal() != nil {
		t.Fatalf("issued receipt should be sealed valid: %+v", r)
	}
	if v.Allowed != 0 {
		t.Fatalf("allowed = %v", v.Allowed)
	}
}

func TestUnstableNoiseCapsAtHalf(t *testing.T) {
	s := calibrated(t)
	s.ObserveNoise(0.2, 15, false) // drift
	if s.NoiseGate() != noise.GateUnstable {
		t.Fatal("gate should drop on drift")
	}
	r, _, err := s.Claim(gate.Default(gate.DefaultConfig()), experiment(12), "er_stress", 0.95, false)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if r.Confidence != 0.5 {
		t.Fatalf("confidence = %v, want 0.5", r.Confidence)
	}
	if !r.Refused {
		t.Fatal("0.5 is below the decision threshold and must be a refusal")
	}
	reward, err := s.Score(r, nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if reward.Kind != RewardJustifiedRefusal || reward.Amount != DefaultConfig().RefusalReward {
		t.Fatalf("reward = %+v", reward)
	}
}

func TestReceiptIDsAreDeterministic(t *testing.T) {
	a, _, _ := calibrated(t).Claim(gate.Default(gate.DefaultConfig()), experiment(12), "x", 0.9, false)
	b, _, _ := calibrated(t).Claim(gate.Default(gate.DefaultConfig()), experiment(12), "x", 0.9, false)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("ids differ: %q vs %q", a.ID, b.ID)
	}
}

// #endregion claim-tests

// #region reward-tests
func TestSandbaggingCostsAsMuchAsAMistake(t *testing.T) {
	s := calibrated(t)
	r, _, err := s.Claim(gate.Default(gate.DefaultConfig()), experiment(12), "er_stress", 0.1, false)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	reward, err := s.Score(r, nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if reward.Kind != RewardSandbagging {
		t.Fatalf("kind = %s", reward.Kind)
	}
	if reward.Amount != -s.Config().MistakePenalty {
		t.Fatalf("amount = %v, want %v", reward.Amount, -s.Config().MistakePenalty)
	}
}

func TestRefusalWhileConfidentEarnsNothing(t *testing.T) {
	s := calibrated(t)
	r, _, _ := s.Claim(gate.Default(gate.DefaultConfig()), experiment(12), "er_stress", 0.9, true)
	reward, err := s.Score(r, nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if reward.Kind != RewardUnjustifiedRefusal || reward.Amount != 0 {
		t.Fatalf("reward = %+v", reward)
	}
}

func TestRefusalOnThinEvidenceIsJustified(t *testing.T) {
	s := calibrated(t)
	r, _, _ := s.Claim(gate.Default(gate.DefaultConfig()), experiment(3), "er_stress", 0.9, false)
	if r.Confidence != 0.5 || !r.Refused {
		t.Fatalf("receipt = %+v", r)
	}
	reward, _ := s.Score(r, nil)
	if reward.Kind != RewardJustifiedRefusal {
		t.Fatalf("kind = %s", reward.Kind)
	}
}

func TestPredictionScoringAndDebt(t *testing.T) {
	s := calibrated(t)
	reg := gate.Default(gate.DefaultConfig())

	r, _, _ := s.Claim(reg, experiment(12), "er_stress", 0.9, false)
	yes := true
	reward, err := s.Score(r, &yes)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if reward.Kind != RewardCorrect || math.Abs(reward.Amount-0.9) > 1e-12 {
		t.Fatalf("reward = %+v", reward)
	}
	if s.HealthDebt() != 0 {
		t.Fatalf("debt = %v after a correct claim", s.HealthDebt())
	}

	r, _, _ = s.Claim(reg, experiment(12), "er_stress", 0.8, false)
	no := false
	reward, _ = s.Score(r, &no)
	if reward.Kind != RewardMistake || reward.Amount != -1 {
		t.Fatalf("reward = %+v", reward)
	}
	if math.Abs(s.HealthDebt()-0.6) > 1e-12 {
		t.Fatalf("debt = %v, want 0.6", s.HealthDebt())
	}
	if _, err := s.Score(r, nil); err == nil {
		t.Fatal("prediction without outcome must not score")
	}
}

func TestRecalibrationDecaysDebt(t *testing.T) {
	s := calibrated(t)
	r, _, _ := s.Claim(gate.Default(gate.DefaultConfig()), experiment(12), "x", 1, false)
	no := false
	_, _ = s.Score(r, &no)
	debt := s.HealthDebt()
	if !s.Recalibrated() {
		t.Fatal("stable gate should allow recalibration")
	}
	if s.HealthDebt() != debt*s.Config().DebtDecay {
		t.Fatalf("debt = %v", s.HealthDebt())
	}
}

// #endregion reward-tests

// #region choose-action-tests
func TestFreshStateCalibrates(t *testing.T) {
	s := New("run-1", DefaultConfig(), noise.DefaultConfig().Drift)
	_ = s.BeginCycle(0)
	d := s.ChooseAction(96)
	if d.Action != ActionCalibrate {
		t.Fatalf("action = %s (%s)", d.Action, d.Justification.Rule)
	}
	if d.Justification.UncoveredRegions != 2 {
		t.Fatalf("uncovered = %d", d.Justification.UncoveredRegions)
	}
}

func TestCalibratedStateExpands(t *testing.T) {
	s := calibrated(t)
	d := s.ChooseAction(48)
	if d.Action != ActionExpand || d.Wells != 48 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestHighDebtForcesCalibration(t *testing.T) {
	s := calibrated(t)
	reg := gate.Default(gate.DefaultConfig())
	no := false
	for i := 0; i < 3; i++ {
		r, _, _ := s.Claim(reg, experiment(12), "x", 1, false)
		_, _ = s.Score(r, &no)
	}
	d := s.ChooseAction(48)
	if d.Action != ActionCalibrate {
		t.Fatalf("action = %s with debt %v", d.Action, s.HealthDebt())
	}
}

func TestDecisionReplaysFromJustification(t *testing.T) {
	for _, s := range []*State{calibrated(t), New("r", DefaultConfig(), noise.DefaultConfig().Drift)} {
		for _, budget := range []int{0, 4, 8, 16, 96} {
			d := s.ChooseAction(budget)
			if got := ReplayChoice(s.Config(), d.Justification); got != d.Action {
				t.Fatalf("budget %d: replay %s != %s", budget, got, d.Action)
			}
		}
	}
}

// #endregion choose-action-tests
