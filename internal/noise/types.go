package noise

import (
	"github.com/danielpatrickdp/honest-lab/internal/observation"
)

// #region floor
// Floor is the baseline level and spread of a channel in no-perturbation controls.
type Floor struct {
	Mean  float64 `json:"mean"`
	Sigma float64 `json:"sigma"`
	N     int     `json:"n"`
}

// Floors maps each channel to its floor.
type Floors map[observation.Channel]Floor

// #endregion floor

// #region config
// Config holds measurement and detectability settings.
type Config struct {
	SigmaMultiple float64                         `yaml:"sigma_multiple"`
	Quantum       map[observation.Channel]float64 `yaml:"quantum"`
	ReadSigma     map[observation.Channel]float64 `yaml:"read_sigma"`
	Background    map[observation.Channel]float64 `yaml:"background"`
	PlateEffectCV float64                         `yaml:"plate_effect_cv"`
	EdgeEffect    float64                         `yaml:"edge_effect"` // multiplicative signal loss in edge wells
	Policy        observation.Policy              `yaml:"policy"`
	Drift         DriftConfig                     `yaml:"drift"`
}

// DriftConfig controls the pooled-variance stability gate.
type DriftConfig struct {
	Tolerance    float64 `yaml:"tolerance"`     // relative |sigma - pooled| / pooled
	RestoreAfter int     `yaml:"restore_after"` // consecutive stable observations to re-earn the gate
	MinHistory   int     `yaml:"min_history"`   // observations before drift is judged
}

// DefaultConfig returns the reference measurement settings.
func DefaultConfig() Config {
	return Config{
		SigmaMultiple: 5,
		Quantum: map[observation.Channel]float64{
			observation.ChannelViability:  0.001,
			observation.ChannelER:         0.005,
			observation.ChannelMito:       0.005,
			observation.ChannelTransport:  0.005,
			observation.ChannelMorphology: 0.01,
			observation.ChannelConfluence: 0.001,
		},
		ReadSigma: map[observation.Channel]float64{
			observation.ChannelViability:  0.02,
			observation.ChannelER:         0.015,
			observation.ChannelMito:       0.015,
			observation.ChannelTransport:  0.015,
			observation.ChannelMorphology: 0.02,
			observation.ChannelConfluence: 0.01,
		},
		Background: map[observation.Channel]float64{
			observation.ChannelER:         0.05,
			observation.ChannelMito:       0.05,
			observation.ChannelTransport:  0.05,
			observation.ChannelMorphology: 0.02,
		},
		PlateEffectCV: 0.03,
		EdgeEffect:    0.04,
		Policy:        observation.PolicyLenient,
		Drift: DriftConfig{
			Tolerance:    0.25,
			RestoreAfter: 3,
			MinHistory:   2,
		},
	}
}

// #endregion config

// #region gate-state
// GateState is the status of the noise-stability gate.
type GateState string

const (
	GateStable   GateState = "stable"
	GateUnstable GateState = "unstable"
)

// #endregion gate-state
