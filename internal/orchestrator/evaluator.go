package orchestrator

import (
	"fmt"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
)

// #region reporters

// reporters maps each mechanism axis to the channel that reports it.
var reporters = map[biology.Axis]observation.Channel{
	biology.AxisER:        observation.ChannelER,
	biology.AxisMito:      observation.ChannelMito,
	biology.AxisTransport: observation.ChannelTransport,
}

// #endregion

// #region predict

// Predict reads the target's mechanism from the observation alone. Each axis
// scores the summed above-floor margin of its reporter across the target's
// conditions. A clear winner is claimed at cfg.ClaimConfidence; a close race
// is refused at one half; no signal at all yields no claim.
func Predict(obs observation.Observation, target string, cfg Config) Prediction {
	p := Prediction{Target: target, Strength: map[biology.Axis]float64{}}
	conditions := 0
	for _, c := range obs.Conditions {
		if c.Key.Compound != target {
			continue
		}
		conditions++
		for _, axis := range biology.Axes {
			r, ok := c.Reading(reporters[axis])
			if ok && r.AboveFloor {
				p.Strength[axis] += r.Margin
			}
		}
	}
	if conditions == 0 {
		p.Reason = "no usable conditions for " + target
		return p
	}

	var best, second float64
	for _, axis := range biology.Axes {
		s := p.Strength[axis]
		switch {
		case s > best:
			best, second = s, best
			p.Axis = axis
		case s > second:
			second = s
		}
	}
	if best <= 0 {
		p.Axis = ""
		p.Reason = fmt.Sprintf("no reporter above floor in %d condition(s)", conditions)
		return p
	}
	if second > 0 && best < cfg.Separation*second {
		p.Requested = 0.5
		p.Refuse = true
		p.Reason = fmt.Sprintf("%s leads %.4f to %.4f, below separation %.2f", p.Axis, best, second, cfg.Separation)
		return p
	}
	p.Requested = cfg.ClaimConfidence
	p.Reason = fmt.Sprintf("%s reporter strongest at %.4f", p.Axis, best)
	return p
}

// Claimable reports whether the prediction names an axis at all.
func (p Prediction) Claimable() bool {
	return p.Axis != ""
}

// #endregion
