package noise

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region threshold-tests
func TestThresholdNeverBelowQuantum(t *testing.T) {
	f := Floor{Mean: 0.05, Sigma: 0.0001}
	if got := Threshold(f, 0.005, 5); got != 0.005 {
		t.Fatalf("Threshold = %v, want quantum 0.005", got)
	}
	f.Sigma = 0.01
	if got := Threshold(f, 0.005, 5); math.Abs(got-0.05) > 1e-12 {
		t.Fatalf("Threshold = %v, want 5 sigma 0.05", got)
	}
}

func TestQuantize(t *testing.T) {
	if got := Quantize(0.1234, 0.01); math.Abs(got-0.12) > 1e-12 {
		t.Fatalf("Quantize = %v", got)
	}
	if got := Quantize(0.1234, 0); got != 0.1234 {
		t.Fatalf("Quantize with zero step = %v", got)
	}
}

func TestEstimateFloor(t *testing.T) {
	controls := []map[observation.Channel]float64{
		{observation.ChannelER: 0.04},
		{observation.ChannelER: 0.06},
		{observation.ChannelER: 0.05},
	}
	f := EstimateFloor(controls)[observation.ChannelER]
	if math.Abs(f.Mean-0.05) > 1e-12 || math.Abs(f.Sigma-0.01) > 1e-12 || f.N != 3 {
		t.Fatalf("floor = %+v", f)
	}
	if _, ok := EstimateFloor(controls)[observation.ChannelMito]; ok {
		t.Fatal("channel without readings should have no floor")
	}
}

// #endregion threshold-tests

// #region summarize-tests
func summarizeFixture(policy observation.Policy) (*Model, []Replicate, Floors) {
	cfg := DefaultConfig()
	cfg.Policy = policy
	m := NewModel(cfg, rngstream.New(1))

	floors := Floors{}
	for _, ch := range observation.Channels {
		floors[ch] = Floor{Mean: 0.05, Sigma: 0.01, N: 8}
	}
	reading := func(er float64) map[observation.Channel]float64 {
		out := map[observation.Channel]float64{}
		for _, ch := range observation.Channels {
			out[ch] = 0.05
		}
		out[observation.ChannelER] = er
		return out
	}
	reps := []Replicate{
		{VesselID: "a", Position: plate.Position{Plate: "P1", Row: 3, Col: 3}, Readings: reading(0.5), CrossingHour: -1},
		{VesselID: "b", Position: plate.Position{Plate: "P1", Row: 3, Col: 4}, Readings: reading(0.6), CrossingHour: -1},
	}
	return m, reps, floors
}

func TestSummarizeLenientMasksBelowFloor(t *testing.T) {
	m, reps, floors := summarizeFixture(observation.PolicyLenient)
	key := observation.ConditionKey{CellLine: "A549", Compound: "tunicamycin", DoseUM: 1, TimeH: 24}

	sum, ok, _ := m.Summarize(key, reps, floors)
	if !ok {
		t.Fatal("lenient policy must keep the condition")
	}
	if sum.UsableCount != 1 || len(sum.UsableChannels) != 1 || sum.UsableChannels[0] != observation.ChannelER {
		t.Fatalf("usable = %v", sum.UsableChannels)
	}
	if len(sum.MaskedChannels) != len(observation.Channels)-1 {
		t.Fatalf("masked = %v", sum.MaskedChannels)
	}
	for _, r := range sum.Channels {
		if r.Channel == observation.ChannelER {
			if r.Value == nil || math.Abs(*r.Value-0.55) > 1e-12 {
				t.Fatalf("ER value = %v", r.Value)
			}
			continue
		}
		if r.Value != nil {
			t.Fatalf("channel %s below floor but carries a value", r.Channel)
		}
		if r.Margin >= 0 {
			t.Fatalf("channel %s margin %v should be negative", r.Channel, r.Margin)
		}
	}
	if want := 1.0 / float64(len(observation.Channels)); math.Abs(sum.Quality-want) > 1e-12 {
		t.Fatalf("quality = %v, want %v", sum.Quality, want)
	}
	if sum.MinMargin >= 0 {
		t.Fatalf("min margin = %v, want negative", sum.MinMargin)
	}
}

func TestSummarizeStrictDropsCondition(t *testing.T) {
	m, reps, floors := summarizeFixture(observation.PolicyStrict)
	_, ok, reason := m.Summarize(observation.ConditionKey{Compound: "x"}, reps, floors)
	if ok {
		t.Fatal("strict policy must drop a condition with below-floor channels")
	}
	if reason == "" {
		t.Fatal("expected a drop reason")
	}
}

func TestDetectInstantCrossing(t *testing.T) {
	cases := []struct {
		hours []int
		want  bool
	}{
		{[]int{1, 1, 1}, true},
		{[]int{1, 2, 1}, false},
		{[]int{-1, -1}, false},
		{[]int{3}, false},
	}
	for _, tc := range cases {
		if got := DetectInstantCrossing(tc.hours); got != tc.want {
			t.Fatalf("DetectInstantCrossing(%v) = %v, want %v", tc.hours, got, tc.want)
		}
	}
}

// #endregion summarize-tests

// #region measure-tests
func TestMeasureIsKeyedByVessel(t *testing.T) {
	m := NewModel(DefaultConfig(), rngstream.New(4))
	pos := plate.Position{Plate: "P1", Row: 2, Col: 2}
	sig := biology.TrueSignals{Viability: 0.9, ER: 0.2}

	first := m.Measure("v1", pos, sig)
	m.Measure("v2", pos, sig)
	again := m.Measure("v1", pos, sig)
	for _, ch := range observation.Channels {
		if first[ch] != again[ch] {
			t.Fatalf("channel %s changed between reads: %v vs %v", ch, first[ch], again[ch])
		}
	}
	q := DefaultConfig().Quantum[observation.ChannelER]
	if x := first[observation.ChannelER] / q; math.Abs(x-math.Round(x)) > 1e-6 {
		t.Fatalf("reading not quantized: %v", first[observation.ChannelER])
	}
}

// #endregion measure-tests

// #region drift-tests
func TestDriftGateHysteresis(t *testing.T) {
	d := NewDriftTracker(DriftConfig{Tolerance: 0.25, RestoreAfter: 3, MinHistory: 2})
	for i := 0; i < 3; i++ {
		d.Observe(0.02, 10, false)
	}
	if d.State() != GateStable {
		t.Fatalf("gate not earned after 3 stable observations: %s", d.State())
	}

	r := d.Observe(0.06, 10, false)
	if r.State != GateUnstable || !r.Changed {
		t.Fatalf("expected drift to drop the gate: %+v", r)
	}

	d.Observe(0.021, 10, false)
	if d.State() != GateUnstable {
		t.Fatal("a single stable observation must not restore the gate")
	}
	d.Observe(0.021, 10, false)
	if d.State() != GateUnstable {
		t.Fatal("two stable observations must not restore the gate")
	}
	r = d.Observe(0.021, 10, false)
	if r.State != GateStable {
		t.Fatalf("gate should be restored after 3 stable observations: %+v", r)
	}
}

func TestDriftSkipsInstantCrossing(t *testing.T) {
	d := NewDriftTracker(DefaultConfig().Drift)
	for i := 0; i < 3; i++ {
		d.Observe(0.02, 10, false)
	}
	r := d.Observe(0.5, 10, true)
	if !r.Skipped || d.State() != GateStable {
		t.Fatalf("instant crossing must not raise a drift alarm: %+v", r)
	}
}

func TestDriftRestoreAfterAtLeastTwo(t *testing.T) {
	d := NewDriftTracker(DriftConfig{Tolerance: 0.1, RestoreAfter: 1})
	d.Observe(0.02, 5, false)
	if d.State() == GateStable {
		t.Fatal("RestoreAfter is clamped to at least 2")
	}
}

// #endregion drift-tests
