package noise

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// #region replicate
// Replicate is one measured well of a condition.
type Replicate struct {
	VesselID     string
	Position     plate.Position
	Readings     map[observation.Channel]float64
	CrossingHour int // first whole hour viability fell below half; -1 if never
}

// #endregion replicate

// #region summarize
// Summarize builds a condition summary from replicate wells. Under strict policy
// a condition with any below-floor channel is dropped (ok false) with a reason;
// under lenient policy below-floor channels are masked individually.
func (m *Model) Summarize(key observation.ConditionKey, reps []Replicate, floors Floors) (observation.ConditionSummary, bool, string) {
	k := m.cfg.SigmaMultiple
	sum := observation.ConditionSummary{
		Key:        key,
		Replicates: len(reps),
		MinMargin:  math.Inf(1),
	}
	for _, r := range reps {
		sum.Positions = append(sum.Positions, r.Position)
	}
	plate.Sort(sum.Positions)

	var below []observation.Channel
	for _, ch := range observation.Channels {
		vals := make([]float64, 0, len(reps))
		for _, r := range reps {
			if v, ok := r.Readings[ch]; ok {
				vals = append(vals, v)
			}
		}
		f, hasFloor := floors[ch]
		q := m.cfg.Quantum[ch]
		mean, _ := meanSD(vals)

		reading := observation.ChannelReading{
			Channel:    ch,
			FloorMean:  f.Mean,
			FloorSigma: f.Sigma,
			Quantum:    q,
			Threshold:  f.Mean + Threshold(f, q, k),
			Margin:     Margin(mean, f, q, k),
		}
		reading.AboveFloor = hasFloor && len(vals) > 0 && reading.Margin >= 0
		if reading.AboveFloor {
			v := mean
			reading.Value = &v
			sum.UsableChannels = append(sum.UsableChannels, ch)
		} else {
			sum.MaskedChannels = append(sum.MaskedChannels, ch)
			below = append(below, ch)
		}
		if reading.Margin < sum.MinMargin {
			sum.MinMargin = reading.Margin
		}
		sum.Channels = append(sum.Channels, reading)
	}

	sum.UsableCount = len(sum.UsableChannels)
	sum.Quality = float64(sum.UsableCount) / float64(len(observation.Channels))
	sum.InstantCrossing = DetectInstantCrossing(crossingHours(reps))

	if m.cfg.Policy == observation.PolicyStrict && len(below) > 0 {
		return sum, false, fmt.Sprintf("strict policy: %d channel(s) below floor: %v", len(below), below)
	}
	return sum, true, ""
}

// #endregion summarize

// #region instant-crossing
// DetectInstantCrossing reports whether every replicate crossed at the same hour.
// That is the signature of a very strong dose, not a detector failure.
func DetectInstantCrossing(hours []int) bool {
	if len(hours) < 2 {
		return false
	}
	for _, h := range hours {
		if h < 0 || h != hours[0] {
			return false
		}
	}
	return true
}

func crossingHours(reps []Replicate) []int {
	out := make([]int, len(reps))
	for i, r := range reps {
		out[i] = r.CrossingHour
	}
	return out
}

// #endregion instant-crossing
