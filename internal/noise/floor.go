package noise

import (
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/observation"
)

// #region estimate-floor
// EstimateFloor computes per-channel mean and sample standard deviation from
// control-well readings. Channels absent from every reading are omitted.
func EstimateFloor(controls []map[observation.Channel]float64) Floors {
	floors := make(Floors, len(observation.Channels))
	for _, ch := range observation.Channels {
		var vals []float64
		for _, c := range controls {
			if v, ok := c[ch]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		mean, sd := meanSD(vals)
		floors[ch] = Floor{Mean: mean, Sigma: sd, N: len(vals)}
	}
	return floors
}

// #endregion estimate-floor

// #region threshold
// Threshold is the smallest deviation from the floor mean that counts as
// detectable: k sigma, but never less than one quantization step.
func Threshold(f Floor, quantum, k float64) float64 {
	return math.Max(k*f.Sigma, quantum)
}

// Margin is how far a value's deviation from the floor exceeds the threshold.
// Negative margins are below floor.
func Margin(value float64, f Floor, quantum, k float64) float64 {
	return math.Abs(value-f.Mean) - Threshold(f, quantum, k)
}

// Quantize rounds x to the nearest multiple of q. q <= 0 leaves x unchanged.
func Quantize(x, q float64) float64 {
	if q <= 0 {
		return x
	}
	return math.Round(x/q) * q
}

// #endregion threshold

// #region helpers
func meanSD(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(vals)-1))
}

// #endregion helpers
