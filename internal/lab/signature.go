package lab

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// SignatureSigmas is how far from its replicates' median a well must sit on
// each channel of the contamination signature.
const SignatureSigmas = 3.0

// #region suspect
// Suspect is a well whose readings match the contamination signature.
type Suspect struct {
	WellID   string         `json:"well_id"`
	Position plate.Position `json:"position"`
	Score    float64        `json:"score"` // summed deviations in units of spread
	Signals  []string       `json:"signals"`
}

// #endregion suspect

// #region detect
// DetectContaminationSignature flags wells that, against the median of their
// own replicates, show all three of: raised morphology, arrested growth and
// lost viability. It reads instrument readings only, never ground truth.
// Conditions with fewer than three replicates have no reliable median and are skipped.
func DetectContaminationSignature(rows []Row, floors noise.Floors, cfg noise.Config) []Suspect {
	groups := map[string][]Row{}
	for _, r := range rows {
		k := r.Key.String()
		groups[k] = append(groups[k], r)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type leg struct {
		ch   observation.Channel
		sign float64 // +1 when the signature raises the channel
	}
	legs := []leg{
		{observation.ChannelMorphology, +1},
		{observation.ChannelConfluence, -1},
		{observation.ChannelViability, -1},
	}

	var out []Suspect
	for _, k := range keys {
		reps := groups[k]
		if len(reps) < 3 {
			continue
		}
		medians := map[observation.Channel]float64{}
		spreads := map[observation.Channel]float64{}
		for _, l := range legs {
			vals := make([]float64, len(reps))
			for i, r := range reps {
				vals[i] = r.Readings[l.ch]
			}
			medians[l.ch] = median(vals)
			spreads[l.ch] = math.Max(math.Max(floors[l.ch].Sigma, cfg.ReadSigma[l.ch]), cfg.Quantum[l.ch])
		}

		for _, r := range reps {
			s := Suspect{WellID: r.WellID, Position: r.Position}
			hit := true
			for _, l := range legs {
				z := l.sign * (r.Readings[l.ch] - medians[l.ch]) / spreads[l.ch]
				if !(z > SignatureSigmas) {
					hit = false
					break
				}
				s.Score += z
				s.Signals = append(s.Signals, fmt.Sprintf("%s %+.1f sigma", l.ch, l.sign*z))
			}
			if hit {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WellID < out[j].WellID })
	return out
}

// #endregion detect

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
