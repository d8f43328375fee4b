package receipt

import (
	"errors"
	"testing"
)

func baseReceipt() ConfidenceReceipt {
	return ConfidenceReceipt{
		Cycle:      2,
		Confidence: 0.8,
		Calibration: CalibrationSupport{
			CoverageMatch: true,
			NoiseGate:     "stable",
		},
		Evidence: EvidenceSupport{Wells: 12, UsableWells: 12},
	}
}

func TestCoverageMismatchWithoutCapIsInvalid(t *testing.T) {
	r := baseReceipt()
	r.Calibration.CoverageMatch = false
	if r.IsValid() {
		t.Fatal("coverage mismatch, no caps, nonzero confidence must be invalid")
	}
	r.Confidence = 0
	if !r.IsValid() {
		t.Fatalf("zero confidence should be valid: %v", r.Violations())
	}
}

func TestCapMustBindConfidence(t *testing.T) {
	r := baseReceipt()
	r.Calibration.CoverageMatch = false
	r.Caps = []Cap{{Gate: "coverage_match", Ceiling: 0, Reason: "mismatch"}}
	if r.IsValid() {
		t.Fatal("confidence above its cap must be invalid")
	}
	r.Confidence = 0
	if !r.IsValid() {
		t.Fatalf("capped receipt should be valid: %v", r.Violations())
	}
}

func TestUnstableNoiseNeedsCap(t *testing.T) {
	r := baseReceipt()
	r.Calibration.NoiseGate = "unstable"
	if r.IsValid() {
		t.Fatal("unstable noise without cap must be invalid")
	}
	r.Caps = []Cap{{Gate: "noise_stability", Ceiling: 0.5}}
	r.Confidence = 0.5
	if !r.IsValid() {
		t.Fatalf("receipt within noise cap should be valid: %v", r.Violations())
	}
}

func TestIssueRejectsInvalidAndSealsValid(t *testing.T) {
	bad := baseReceipt()
	bad.Calibration.CoverageMatch = false
	if _, err := Issue("run", 0, bad); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("expected ErrInvalidReceipt, got %v", err)
	}

	good, err := Issue("run", 0, baseReceipt())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !good.Valid || good.ID == "" {
		t.Fatalf("issued receipt not sealed: %+v", good)
	}
	if good.ID != ID("run", 2, 0) {
		t.Fatal("receipt id is not deterministic")
	}
	if err := good.CheckSeal(); err != nil {
		t.Fatalf("CheckSeal: %v", err)
	}
}

func TestForgedValidFlagDetected(t *testing.T) {
	r := baseReceipt()
	r.Calibration.CoverageMatch = false
	r.Valid = true
	if err := r.CheckSeal(); !errors.Is(err, ErrForgedReceipt) {
		t.Fatalf("expected ErrForgedReceipt, got %v", err)
	}
}

func TestUnrelatedCapDoesNotCoverMismatch(t *testing.T) {
	r := baseReceipt()
	r.Calibration.CoverageMatch = false
	r.Confidence = 0.9
	r.Caps = []Cap{{Gate: "evidence_minimum", Ceiling: 0.95, Reason: "few wells"}}
	if r.IsValid() {
		t.Fatal("an evidence cap must not stand in for the coverage cap")
	}
	if _, err := Issue("run", 0, r); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("expected ErrInvalidReceipt, got %v", err)
	}

	r = baseReceipt()
	r.Calibration.NoiseGate = "unstable"
	r.Confidence = 0.6
	r.Caps = []Cap{{Gate: "evidence_minimum", Ceiling: 0.95}}
	if r.IsValid() {
		t.Fatal("an evidence cap must not stand in for the noise cap")
	}
}

func TestCapsMustMatchGateSnapshots(t *testing.T) {
	r := baseReceipt()
	r.Confidence = 0.5
	r.Calibration.Gates = []GateSnapshot{
		{Gate: "coverage_match", Action: "pass"},
		{Gate: "evidence_minimum", Action: "cap", Cap: 0.5},
	}
	r.Caps = []Cap{{Gate: "evidence_minimum", Ceiling: 0.5}}
	if !r.IsValid() {
		t.Fatalf("consistent caps should be valid: %v", r.Violations())
	}

	decoy := r
	decoy.Caps = []Cap{{Gate: "evidence_minimum", Ceiling: 0.95}}
	if decoy.IsValid() {
		t.Fatal("cap ceiling differing from the gate decision must be invalid")
	}

	hidden := r
	hidden.Caps = nil
	if len(hidden.GateMismatches()) == 0 {
		t.Fatal("dropping a cap the gate applied must be reported")
	}

	failed := r
	failed.Confidence = 0
	failed.Calibration.Gates = append(failed.Calibration.Gates, GateSnapshot{Gate: "receipt_forgery", Action: "fail"})
	if failed.IsValid() {
		t.Fatal("a failing gate without a zero cap must be invalid")
	}
	failed.Caps = append(failed.Caps, Cap{Gate: "receipt_forgery", Ceiling: 0})
	if !failed.IsValid() {
		t.Fatalf("failure recorded as a zero cap should be valid: %v", failed.Violations())
	}
}
