package eval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
)

// treatedRows runs the same tunicamycin-at-IC50 condition under several seeds.
func treatedRows(t *testing.T, cv float64, seeds int) []lab.Row {
	t.Helper()
	bio := biology.DefaultConfig()
	bio.TreatmentVariabilityCV = cv
	bio.ContaminationRatePerHour = 0

	p := proposal.Proposal{Budget: 3}
	for c := 3; c < 6; c++ {
		p.Wells = append(p.Wells, proposal.Well{
			CellLine: "A549", Compound: "tunicamycin", DoseUM: 1.0, ExposureHours: 24, Assay: "cell_painting",
			Position: plate.Position{Plate: "P1", Row: 3, Col: c},
		})
	}

	var rows []lab.Row
	for s := 0; s < seeds; s++ {
		r := lab.NewRunner(biology.DefaultParams(), bio, noise.DefaultConfig(), lab.Config{Seed: int64(s), Workers: 2})
		res, err := r.Execute(context.Background(), lab.Request{RunID: fmt.Sprintf("seed-%d", s), Proposal: p})
		if err != nil {
			t.Fatalf("seed %d: %v", s, err)
		}
		rows = append(rows, res.Table.Rows...)
	}
	return rows
}

func TestEvalPassesWithBiologicalVariability(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(treatedRows(t, 0.2, 16))

	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if len(result.Conditions) != 1 || !result.Conditions[0].Judged {
		t.Fatalf("conditions = %+v", result.Conditions)
	}
	c := result.Conditions[0]
	if c.Runs != 16 || c.N != 48 {
		t.Fatalf("runs=%d n=%d", c.Runs, c.N)
	}
	if c.BetweenRunSD <= c.WithinRunSD {
		t.Fatalf("run-level modifiers should dominate: between %.4f within %.4f", c.BetweenRunSD, c.WithinRunSD)
	}
}

func TestEvalDetectsSterilizedBiology(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(treatedRows(t, 0, 16))

	if result.Passed {
		t.Fatalf("expected sterilization failure, CV = %.4f", result.Conditions[0].TotalCV)
	}
	if !strings.Contains(result.Reason, "sterilization") {
		t.Fatalf("reason = %s", result.Reason)
	}
	if result.Conditions[0].TotalCV >= 0.10 {
		t.Fatalf("CV = %.4f, want < 0.10", result.Conditions[0].TotalCV)
	}
}

func TestEvalFailsOnConservationBreach(t *testing.T) {
	key := observation.ConditionKey{CellLine: "A549", Compound: "DMSO"}
	rows := []lab.Row{
		{WellID: "a", RunID: "r", Key: key, Vehicle: true, TrueViability: 0.9, Deaths: map[biology.DeathCause]float64{biology.DeathAttrition: 0.1}},
		{WellID: "b", RunID: "r", Key: key, Vehicle: true, TrueViability: 0.9, Deaths: map[biology.DeathCause]float64{biology.DeathAttrition: 0.2}},
	}
	result := NewEvalHarness(DefaultEvalConfig()).Run(rows)
	if result.Passed {
		t.Fatal("expected conservation failure")
	}
	if result.Metrics[0].Name != "conservation_max_error" || result.Metrics[0].Pass {
		t.Fatalf("metric = %+v", result.Metrics[0])
	}
}

func TestConservationErrorIsStableAcrossRuns(t *testing.T) {
	key := observation.ConditionKey{CellLine: "A549", Compound: "DMSO"}
	row := lab.Row{WellID: "a", RunID: "r", Key: key, Vehicle: true, TrueViability: 0.7, Deaths: map[biology.DeathCause]float64{
		biology.DeathAttrition:     0.1,
		biology.DeathCommitment:    0.2,
		biology.DeathCompound:      1e-16,
		biology.DeathContamination: 0.3,
	}}
	h := NewEvalHarness(DefaultEvalConfig())
	want := h.Run([]lab.Row{row}).Metrics[0].Value
	for i := 0; i < 50; i++ {
		if got := h.Run([]lab.Row{row}).Metrics[0].Value; got != want {
			t.Fatalf("run %d: conservation error %v, first run %v", i, got, want)
		}
	}
}

func TestVehicleConditionsAreNotJudged(t *testing.T) {
	key := observation.ConditionKey{CellLine: "A549", Compound: "DMSO"}
	var rows []lab.Row
	for i := 0; i < 8; i++ {
		rows = append(rows, lab.Row{WellID: fmt.Sprint(i), RunID: "r", Key: key, Vehicle: true, TrueViability: 0.97,
			Deaths: map[biology.DeathCause]float64{biology.DeathAttrition: 0.03}})
	}
	result := NewEvalHarness(DefaultEvalConfig()).Run(rows)
	if !result.Passed {
		t.Fatalf("vehicle rows should not trip sterilization: %s", result.Reason)
	}
	if result.Conditions[0].Judged {
		t.Fatal("vehicle condition judged")
	}
}
