package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
)

// #region helpers
// campaign drives a small belief state and logs what it does, the way the
// cycle loop would.
type campaign struct {
	t   *testing.T
	dir string
	log *logging.EventLog
	st  *belief.State
	reg *gate.Registry
}

func newCampaign(t *testing.T) *campaign {
	t.Helper()
	dir := t.TempDir()
	l, err := logging.OpenEventLog(dir, "audit-test")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return &campaign{
		t:   t,
		dir: dir,
		log: l,
		st:  belief.New("audit-test", belief.DefaultConfig(), noise.DriftConfig{Tolerance: 0.25, RestoreAfter: 2, MinHistory: 1}),
		reg: gate.Default(gate.DefaultConfig()),
	}
}

func (c *campaign) must(err error) {
	c.t.Helper()
	if err != nil {
		c.t.Fatalf("%v", err)
	}
}

func (c *campaign) begin(n cycle.Cycle) {
	c.t.Helper()
	c.must(c.st.BeginCycle(n))
	d := c.st.ChooseAction(96)
	c.must(c.log.Log(logging.KindCycle, n, CyclePayload{Decision: d, RunID: "r"}))
}

func (c *campaign) calibrate() {
	c.t.Helper()
	pos := []plate.Position{{Plate: "P1", Row: 0, Col: 1}, {Plate: "P1", Row: 3, Col: 3}}
	c.must(c.st.AddCoverage(pos))
	c.must(c.log.Log(logging.KindCalibration, 0, CalibrationPayload{Event: "coverage", Positions: []string{pos[0].String(), pos[1].String()}, Accepted: true}))
	for i := 0; i < 2; i++ {
		r := c.st.ObserveNoise(0.02, 15, false)
		c.must(c.log.Log(logging.KindNoise, 0, NoisePayload{RunID: "r0", Reading: r}))
	}
}

func (c *campaign) claim(requested float64, refuse bool, correct *bool) receipt.ConfidenceReceipt {
	c.t.Helper()
	obs := observation.Observation{
		Conditions: []observation.ConditionSummary{{Replicates: 12, UsableCount: 6, Quality: 1}},
		Positions:  []plate.Position{{Plate: "P1", Row: 0, Col: 5}, {Plate: "P1", Row: 4, Col: 5}},
		Wells:      12,
	}
	rc, v, err := c.st.Claim(c.reg, obs, "er_stress", requested, refuse)
	c.must(err)
	cy := c.st.Cycle()
	c.must(c.log.Log(logging.KindGate, cy, GatePayload{Subject: "claim", Verdict: v}))
	c.must(c.log.Log(logging.KindReceipt, cy, rc))
	rw, err := c.st.Score(rc, correct)
	c.must(err)
	c.must(c.log.Log(logging.KindReward, cy, rw))
	return rc
}

func (c *campaign) verify() Verdict {
	c.t.Helper()
	c.must(c.log.Close())
	recs, err := ReadDir(c.dir)
	c.must(err)
	return Verify(recs, DefaultOptions())
}

// #endregion helpers

// #region verify-tests
func TestCleanCampaignPasses(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	yes := true
	c.claim(0.9, false, &yes)
	c.claim(0.1, false, nil) // sandbagging is penalized, not a log violation
	c.begin(2)
	c.claim(0.9, true, nil)

	v := c.verify()
	if !v.Pass {
		t.Fatalf("expected pass, got %+v", v.Violations)
	}
	if len(v.Narrative) != 3 {
		t.Fatalf("narrative cycles = %d", len(v.Narrative))
	}
	if n := v.Narrative[1]; n.Receipts != 2 || n.Refusals != 1 {
		t.Fatalf("cycle 1 narrative = %+v", n)
	}
	if v.Narrative[0].Action != belief.ActionCalibrate {
		t.Fatalf("cycle 0 action = %s", v.Narrative[0].Action)
	}
}

func TestForgedReceiptDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	yes := true
	rc := c.claim(0.9, false, &yes)

	// An agent inflating its receipt after the fact: confidence above the recorded cap.
	forged := rc
	forged.ID = rc.ID + "-edited"
	forged.Caps = []receipt.Cap{{Gate: gate.NameNoiseStability, Ceiling: 0.5, Reason: "noise gate unstable"}}
	c.must(c.log.Log(logging.KindReceipt, 1, forged))

	v := c.verify()
	codes := v.Codes()
	if !contains(codes, CodeInvalidReceipt) || !contains(codes, CodeForgedReceipt) {
		t.Fatalf("codes = %v", codes)
	}
}

func TestDecoyCapReceiptDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	rc := c.claim(0.1, false, nil)

	// Coverage mismatch hidden behind a loose cap from an unrelated gate.
	decoy := rc
	decoy.ID = rc.ID + "-decoy"
	decoy.Refused = false
	decoy.Confidence = 0.9
	decoy.Calibration.CoverageMatch = false
	decoy.Caps = []receipt.Cap{{Gate: gate.NameEvidenceMinimum, Ceiling: 0.95, Reason: "few wells"}}
	decoy.Valid = true
	c.must(c.log.Log(logging.KindReceipt, 1, decoy))

	// Caps with the gate decisions stripped so nothing can contradict them.
	bare := rc
	bare.ID = rc.ID + "-bare"
	bare.Calibration.Gates = nil
	c.must(c.log.Log(logging.KindReceipt, 1, bare))

	v := c.verify()
	codes := v.Codes()
	if !contains(codes, CodeInvalidReceipt) || !contains(codes, CodeForgedReceipt) {
		t.Fatalf("codes = %v", codes)
	}
	found := false
	for _, x := range v.Violations {
		found = found || strings.Contains(x.Detail, bare.ID)
	}
	if !found {
		t.Fatalf("receipt without gate decisions not flagged: %+v", v.Violations)
	}
}

func TestDebtReplayFollowsRecalibration(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	no := false
	c.claim(0.9, false, &no)
	if c.st.HealthDebt() == 0 {
		t.Fatal("a confident mistake should accrue debt")
	}

	c.begin(2)
	passed := gate.Verdict{Decisions: []gate.Decision{{Gate: gate.NameCalibrationPoison, Action: gate.ActionPass}}}
	c.must(c.log.Log(logging.KindGate, 2, GatePayload{Subject: "calibration", Verdict: passed}))
	if !c.st.Recalibrated() {
		t.Fatal("stable noise gate should allow recalibration")
	}
	c.begin(3)
	yes := true
	c.claim(0.9, false, &yes)

	if v := c.verify(); !v.Pass {
		t.Fatalf("expected pass, got %+v", v.Violations)
	}
}

func TestTamperedDebtDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	no := false
	rc := c.claim(0.9, false, &no)

	// A second reward line for the same receipt that quietly forgives the debt.
	kind, amount, delta, err := belief.ScoreReceipt(belief.DefaultConfig(), rc, &no)
	c.must(err)
	c.must(c.log.Log(logging.KindReward, 1, belief.Reward{
		Cycle: 1, ReceiptID: rc.ID, Kind: kind, Amount: amount, Correct: &no,
		DebtAfter: c.st.HealthDebt() + delta - 0.5,
	}))

	v := c.verify()
	if !contains(v.Codes(), CodeDebtInconsistent) || contains(v.Codes(), CodeRewardInconsistent) {
		t.Fatalf("codes = %v", v.Codes())
	}
}

func TestRewardInflationDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.calibrate()
	c.begin(1)
	rc := c.claim(0.1, false, nil) // sandbagging

	c.must(c.log.Log(logging.KindReward, 1, belief.Reward{Cycle: 1, ReceiptID: rc.ID, Kind: belief.RewardJustifiedRefusal, Amount: 0.1}))
	v := c.verify()
	if !contains(v.Codes(), CodeRewardInconsistent) {
		t.Fatalf("codes = %v", v.Codes())
	}
}

func TestOrphanRewardDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.must(c.log.Log(logging.KindReward, 0, belief.Reward{ReceiptID: "nope", Kind: belief.RewardCorrect, Amount: 1}))
	if v := c.verify(); !contains(v.Codes(), CodeOrphanReward) {
		t.Fatalf("codes = %v", v.Codes())
	}
}

func TestUnjustifiedActionDetected(t *testing.T) {
	c := newCampaign(t)
	c.must(c.st.BeginCycle(0))
	d := c.st.ChooseAction(96)
	d.Action = belief.ActionExpand // fresh state must calibrate
	c.must(c.log.Log(logging.KindCycle, 0, CyclePayload{Decision: d}))
	if v := c.verify(); !contains(v.Codes(), CodeUnjustifiedAction) {
		t.Fatalf("codes = %v", v.Codes())
	}
}

func TestRepeatedCycleDecisionDetected(t *testing.T) {
	c := newCampaign(t)
	c.begin(0)
	c.must(c.log.Log(logging.KindCycle, 0, CyclePayload{Decision: c.st.ChooseAction(96)}))
	if v := c.verify(); !contains(v.Codes(), CodeNonMonotonicCycle) {
		t.Fatalf("codes = %v", v.Codes())
	}
}

// #endregion verify-tests

// #region fixture-tests
type fixture struct {
	Description   string   `json:"description"`
	Log           string   `json:"log"`
	ExpectedCodes []string `json:"expected_codes"`
}

func TestFixture_Tampered(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "tampered.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	logFile, err := os.Open(filepath.Join("testdata", f.Log))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer logFile.Close()

	recs, err := ReadJSONL(logFile)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	v := Verify(recs, DefaultOptions())
	if v.Pass {
		t.Fatal("tampered log passed")
	}
	if got := v.Codes(); !reflect.DeepEqual(got, f.ExpectedCodes) {
		t.Fatalf("codes = %v, want %v", got, f.ExpectedCodes)
	}
}

func TestReadJSONLRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	if _, err := ReadJSONL(f); err == nil {
		t.Fatal("expected decode error")
	}
}

// #endregion fixture-tests

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
