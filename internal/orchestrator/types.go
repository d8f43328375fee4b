package orchestrator

import (
	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/eval"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
)

// #region config

// Config describes one campaign: what to probe, how many wells it may spend,
// and how confident the agent is willing to sound.
type Config struct {
	Campaign        string    `yaml:"campaign" env:"CAMPAIGN_NAME"`
	Budget          int       `yaml:"budget" env:"CAMPAIGN_BUDGET"`
	MaxCycles       int       `yaml:"max_cycles" env:"CAMPAIGN_MAX_CYCLES"`
	ExpandWells     int       `yaml:"expand_wells"`
	CellLine        string    `yaml:"cell_line"`
	Vehicle         string    `yaml:"vehicle"`
	Compounds       []string  `yaml:"compounds"`
	DoseMultiples   []float64 `yaml:"dose_multiples"` // of the compound's nominal IC50
	ExposureHours   float64   `yaml:"exposure_hours"`
	Assay           string    `yaml:"assay"`
	PlateID         string    `yaml:"plate_id"`
	ClaimConfidence float64   `yaml:"claim_confidence"`
	Separation      float64   `yaml:"separation"` // winning axis strength over runner-up needed to claim
}

// DefaultConfig returns a four-plate campaign over the reference panel.
func DefaultConfig() Config {
	return Config{
		Campaign:        "campaign",
		Budget:          384,
		MaxCycles:       12,
		ExpandWells:     48,
		CellLine:        "A549",
		Vehicle:         "DMSO",
		Compounds:       []string{"tunicamycin", "rotenone", "nocodazole"},
		DoseMultiples:   []float64{0.5, 2, 8},
		ExposureHours:   24,
		Assay:           "cell_painting",
		PlateID:         "P1",
		ClaimConfidence: 0.85,
		Separation:      1.5,
	}
}

// #endregion

// #region prediction

// Prediction is the agent's reading of a target compound's mechanism.
type Prediction struct {
	Target    string                   `json:"target"`
	Axis      biology.Axis             `json:"axis,omitempty"`
	Strength  map[biology.Axis]float64 `json:"strength"`
	Requested float64                  `json:"requested"`
	Refuse    bool                     `json:"refuse"`
	Reason    string                   `json:"reason"`
}

// Claim renders the prediction as a receipt claim.
func (p Prediction) Claim() string {
	return p.Target + " acts on " + string(p.Axis)
}

// #endregion

// #region reports

// CycleReport is what one cycle did.
type CycleReport struct {
	Cycle            cycle.Cycle                `json:"cycle"`
	Decision         belief.Decision            `json:"decision"`
	RunID            string                     `json:"run_id,omitempty"`
	Digest           uint64                     `json:"digest,omitempty"`
	Wells            int                        `json:"wells"`
	Target           string                     `json:"target,omitempty"`
	Warnings         []proposal.Warning         `json:"warnings,omitempty"`
	CoverageAccepted bool                       `json:"coverage_accepted"`
	CoverageGate     string                     `json:"coverage_gate,omitempty"` // gate that refused coverage credit
	Prediction       *Prediction                `json:"prediction,omitempty"`
	Receipt          *receipt.ConfidenceReceipt `json:"receipt,omitempty"`
	Reward           *belief.Reward             `json:"reward,omitempty"`
}

// Summary is the outcome of a whole campaign.
type Summary struct {
	CampaignID  string           `json:"campaign_id,omitempty"`
	Cycles      []CycleReport    `json:"cycles"`
	WellsUsed   int              `json:"wells_used"`
	RewardTotal float64          `json:"reward_total"`
	Final       belief.Snapshot  `json:"final"`
	Eval        *eval.EvalResult `json:"eval,omitempty"`
}

// #endregion
