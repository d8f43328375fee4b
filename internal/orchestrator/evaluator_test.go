package orchestrator

import (
	"testing"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
)

func condition(compound string, margins map[observation.Channel]float64) observation.ConditionSummary {
	c := observation.ConditionSummary{
		Key:        observation.ConditionKey{CellLine: "A549", Compound: compound, DoseUM: 1, TimeH: 24, Assay: "cell_painting"},
		Replicates: 4,
	}
	for _, ch := range observation.Channels {
		m, ok := margins[ch]
		if !ok {
			m = -0.01
		}
		c.Channels = append(c.Channels, observation.ChannelReading{Channel: ch, Margin: m, AboveFloor: m >= 0})
	}
	return c
}

func TestPredictPicksStrongestReporter(t *testing.T) {
	obs := observation.Observation{Conditions: []observation.ConditionSummary{
		condition("DMSO", nil),
		condition("tunicamycin", map[observation.Channel]float64{observation.ChannelER: 0.2, observation.ChannelMito: 0.05}),
		condition("tunicamycin", map[observation.Channel]float64{observation.ChannelER: 0.3}),
		condition("rotenone", map[observation.Channel]float64{observation.ChannelMito: 5}),
	}}
	p := Predict(obs, "tunicamycin", DefaultConfig())
	if p.Axis != biology.AxisER || p.Refuse {
		t.Fatalf("prediction = %+v", p)
	}
	if p.Requested != DefaultConfig().ClaimConfidence {
		t.Fatalf("requested = %v", p.Requested)
	}
	if p.Claim() != "tunicamycin acts on er_stress" {
		t.Fatalf("claim = %q", p.Claim())
	}
}

func TestPredictRefusesCloseRace(t *testing.T) {
	obs := observation.Observation{Conditions: []observation.ConditionSummary{
		condition("nocodazole", map[observation.Channel]float64{observation.ChannelTransport: 0.3, observation.ChannelMito: 0.25}),
	}}
	p := Predict(obs, "nocodazole", DefaultConfig())
	if !p.Refuse || p.Requested != 0.5 {
		t.Fatalf("expected refusal at 0.5, got %+v", p)
	}
	if p.Axis != biology.AxisTransport {
		t.Fatalf("leading axis = %s", p.Axis)
	}
}

func TestPredictWithoutSignalMakesNoClaim(t *testing.T) {
	obs := observation.Observation{Conditions: []observation.ConditionSummary{condition("rotenone", nil)}}
	if p := Predict(obs, "rotenone", DefaultConfig()); p.Claimable() {
		t.Fatalf("expected no claim, got %+v", p)
	}
	if p := Predict(obs, "tunicamycin", DefaultConfig()); p.Claimable() {
		t.Fatalf("expected no claim for absent target, got %+v", p)
	}
}
