// Package observation defines the only view of a run that leaves the simulator.
//
// Every type here is a fixed schema. There is no free-form metadata map and no
// embedded truth, so a consumer cannot reach commitment, contamination or any
// other hidden state through an Observation.
package observation

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// #region channel
// Channel is a measured readout.
type Channel string

const (
	ChannelViability  Channel = "viability"
	ChannelER         Channel = "er_reporter"
	ChannelMito       Channel = "mito_reporter"
	ChannelTransport  Channel = "transport_reporter"
	ChannelMorphology Channel = "morphology"
	ChannelConfluence Channel = "confluence"
)

// Channels lists every channel in reporting order.
var Channels = []Channel{
	ChannelViability,
	ChannelER,
	ChannelMito,
	ChannelTransport,
	ChannelMorphology,
	ChannelConfluence,
}

// #endregion channel

// #region policy
// Policy selects how below-floor channels are handled.
type Policy string

const (
	// PolicyStrict drops any condition with a below-floor channel.
	PolicyStrict Policy = "strict"
	// PolicyLenient keeps the condition and masks below-floor channels individually.
	PolicyLenient Policy = "lenient"
)

// #endregion policy

// #region condition-key
// ConditionKey identifies a treatment condition shared by replicate wells.
type ConditionKey struct {
	CellLine string  `json:"cell_line"`
	Compound string  `json:"compound"`
	DoseUM   float64 `json:"dose_um"`
	TimeH    float64 `json:"time_h"`
	Assay    string  `json:"assay"`
}

// String renders the key canonically; used for sorting and hashing.
func (k ConditionKey) String() string {
	return k.CellLine + "|" + k.Compound + "|" +
		strconv.FormatFloat(k.DoseUM, 'g', -1, 64) + "|" +
		strconv.FormatFloat(k.TimeH, 'g', -1, 64) + "|" + k.Assay
}

// Less orders keys field by field.
func (k ConditionKey) Less(o ConditionKey) bool {
	if k.CellLine != o.CellLine {
		return k.CellLine < o.CellLine
	}
	if k.Compound != o.Compound {
		return k.Compound < o.Compound
	}
	if k.DoseUM != o.DoseUM {
		return k.DoseUM < o.DoseUM
	}
	if k.TimeH != o.TimeH {
		return k.TimeH < o.TimeH
	}
	return k.Assay < o.Assay
}

// SortKeys orders keys in place.
func SortKeys(keys []ConditionKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// #endregion condition-key

// #region channel-reading
// ChannelReading is one channel of a condition summary. Value is nil when the
// channel did not clear the detectability threshold under lenient policy.
type ChannelReading struct {
	Channel    Channel  `json:"channel"`
	Value      *float64 `json:"value"`
	FloorMean  float64  `json:"floor_mean"`
	FloorSigma float64  `json:"floor_sigma"`
	Quantum    float64  `json:"quantum"`
	Threshold  float64  `json:"threshold"`
	Margin     float64  `json:"margin"`
	AboveFloor bool     `json:"above_floor"`
}

// #endregion channel-reading

// #region condition-summary
// ConditionSummary aggregates replicate wells of one condition.
type ConditionSummary struct {
	Key             ConditionKey     `json:"key"`
	Replicates      int              `json:"replicates"`
	Positions       []plate.Position `json:"positions"`
	Channels        []ChannelReading `json:"channels"`
	UsableChannels  []Channel        `json:"usable_channels"`
	MaskedChannels  []Channel        `json:"masked_channels"`
	UsableCount     int              `json:"usable_count"`
	Quality         float64          `json:"quality"`
	MinMargin       float64          `json:"min_margin"`
	InstantCrossing bool             `json:"instant_crossing"`
}

// Value returns the channel value when it is present and usable.
func (c ConditionSummary) Value(ch Channel) (float64, bool) {
	for _, r := range c.Channels {
		if r.Channel == ch && r.Value != nil {
			return *r.Value, true
		}
	}
	return 0, false
}

// Reading returns the full reading for a channel.
func (c ConditionSummary) Reading(ch Channel) (ChannelReading, bool) {
	for _, r := range c.Channels {
		if r.Channel == ch {
			return r, true
		}
	}
	return ChannelReading{}, false
}

// #endregion condition-summary

// #region observation
// DroppedCondition records a condition removed under strict policy.
type DroppedCondition struct {
	Key    ConditionKey `json:"key"`
	Reason string       `json:"reason"`
}

// Observation is the per-run output handed to downstream consumers.
type Observation struct {
	RunID      string             `json:"run_id"`
	Cycle      cycle.Cycle        `json:"cycle"`
	Policy     Policy             `json:"policy"`
	Conditions []ConditionSummary `json:"conditions"`
	Dropped    []DroppedCondition `json:"dropped,omitempty"`
	Positions  []plate.Position   `json:"positions"`
	Wells      int                `json:"wells"`
	NoiseSigma float64            `json:"noise_sigma"`
	NoiseDF    int                `json:"noise_df"`
}

// UsableWells counts replicate wells in conditions that survived policy.
func (o Observation) UsableWells() int {
	n := 0
	for _, c := range o.Conditions {
		n += c.Replicates
	}
	return n
}

// MeanUsable averages a channel across conditions that report it, skipping masked values.
func (o Observation) MeanUsable(ch Channel) (float64, int) {
	var sum float64
	n := 0
	for _, c := range o.Conditions {
		if v, ok := c.Value(ch); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return sum / float64(n), n
}

// Condition finds a summary by key.
func (o Observation) Condition(key ConditionKey) (ConditionSummary, error) {
	for _, c := range o.Conditions {
		if c.Key == key {
			return c, nil
		}
	}
	return ConditionSummary{}, fmt.Errorf("condition %s not observed", key)
}

// #endregion observation
