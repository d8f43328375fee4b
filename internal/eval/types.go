package eval

import "github.com/danielpatrickdp/honest-lab/internal/observation"

// #region eval-config
// EvalConfig holds thresholds for the post-campaign variance check.
type EvalConfig struct {
	MinViabilityCV      float64 `yaml:"min_viability_cv"`     // treated conditions quieter than this look sterilized
	MinReplicates       int     `yaml:"min_replicates"`       // conditions with fewer rows are not judged
	ConservationEpsilon float64 `yaml:"conservation_epsilon"` // allowed |viable + deaths - 1|
}

// DefaultEvalConfig returns the reference thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinViabilityCV:      0.10,
		MinReplicates:       4,
		ConservationEpsilon: 1e-9,
	}
}

// #endregion eval-config

// #region variance
// ConditionVariance splits final-viability spread of one condition into
// between-run and within-run components.
type ConditionVariance struct {
	Key          observation.ConditionKey `json:"key"`
	N            int                      `json:"n"`
	Runs         int                      `json:"runs"`
	Mean         float64                  `json:"mean"`
	TotalCV      float64                  `json:"total_cv"`
	BetweenRunSD float64                  `json:"between_run_sd"`
	WithinRunSD  float64                  `json:"within_run_sd"`
	Judged       bool                     `json:"judged"`
	Sterile      bool                     `json:"sterile"`
}

// #endregion variance

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of the variance check.
type EvalResult struct {
	Passed     bool                `json:"passed"`
	Metrics    []EvalMetric        `json:"metrics"`
	Conditions []ConditionVariance `json:"conditions"`
	Reason     string              `json:"reason"`
}

// #endregion eval-result
