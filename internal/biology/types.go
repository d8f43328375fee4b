package biology

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// #region errors
var (
	// ErrConservation is fatal: viable plus cause-tagged deaths drifted away from 1.
	ErrConservation = errors.New("death conservation violated")
	// ErrInvalidIC50 is returned for a missing, non-finite or non-positive IC50.
	ErrInvalidIC50 = errors.New("invalid IC50")
	// ErrInvalidDelay is returned when a sampled commitment delay falls outside its bounds.
	ErrInvalidDelay = errors.New("commitment delay out of range")
	// ErrUnknownCompound is returned when a dose names a compound absent from Params.
	ErrUnknownCompound = errors.New("unknown compound")
	// ErrUnknownCellLine is returned when a vessel names a cell line absent from Params.
	ErrUnknownCellLine = errors.New("unknown cell line")
	// ErrFinalized is returned when a finalized vessel is mutated.
	ErrFinalized = errors.New("vessel finalized")
)

// ConservationTolerance bounds |viable + Σdeaths − 1|.
const ConservationTolerance = 1e-9

// #endregion errors

// #region axis
// Axis is a stress axis along which a vessel accumulates dysfunction.
type Axis string

const (
	AxisER        Axis = "er_stress"
	AxisMito      Axis = "mito_dysfunction"
	AxisTransport Axis = "transport_dysfunction"
)

// Axes lists every stress axis in a fixed order.
var Axes = []Axis{AxisER, AxisMito, AxisTransport}

// #endregion axis

// #region death-cause
// DeathCause tags the pathway that removed viable cells.
type DeathCause string

const (
	DeathCompound      DeathCause = "compound"
	DeathCommitment    DeathCause = "commitment"
	DeathAttrition     DeathCause = "attrition"
	DeathContamination DeathCause = "contamination"
)

const numCauses = 4

// DeathCauses lists every cause in a fixed order.
var DeathCauses = [numCauses]DeathCause{DeathAttrition, DeathCommitment, DeathCompound, DeathContamination}

// #endregion death-cause

// #region params
// Compound describes a perturbing chemical.
type Compound struct {
	Name             string  `yaml:"name" json:"name"`
	IC50uM           float64 `yaml:"ic50_um" json:"ic50_um"`
	Axis             Axis    `yaml:"axis" json:"axis"`
	HillSlope        float64 `yaml:"hill_slope" json:"hill_slope"`
	LethalityPerHour float64 `yaml:"lethality_per_hour" json:"lethality_per_hour"`
	Vehicle          bool    `yaml:"vehicle" json:"vehicle"` // DMSO and other no-perturbation controls
}

// CellLine describes a culture's baseline behavior.
type CellLine struct {
	Name                 string  `yaml:"name" json:"name"`
	DoublingHours        float64 `yaml:"doubling_hours" json:"doubling_hours"`
	BaseAttritionPerHour float64 `yaml:"base_attrition_per_hour" json:"base_attrition_per_hour"`
	InitialConfluence    float64 `yaml:"initial_confluence" json:"initial_confluence"`
}

// Params holds the parameter tables an engine is constructed with.
type Params struct {
	Compounds map[string]Compound `yaml:"compounds" json:"compounds"`
	CellLines map[string]CellLine `yaml:"cell_lines" json:"cell_lines"`
}

// Compound looks up a compound by name.
func (p Params) Compound(name string) (Compound, error) {
	c, ok := p.Compounds[name]
	if !ok {
		return Compound{}, fmt.Errorf("%w: %q", ErrUnknownCompound, name)
	}
	if c.Name == "" {
		c.Name = name
	}
	return c, nil
}

// CellLine looks up a cell line by name.
func (p Params) CellLine(name string) (CellLine, error) {
	l, ok := p.CellLines[name]
	if !ok {
		return CellLine{}, fmt.Errorf("%w: %q", ErrUnknownCellLine, name)
	}
	if l.Name == "" {
		l.Name = name
	}
	return l, nil
}

// ModifierNames returns the per-run modifier names implied by the tables, sorted.
func (p Params) ModifierNames() []string {
	var names []string
	for name, c := range p.Compounds {
		if !c.Vehicle {
			names = append(names, "ic50:"+name)
		}
	}
	for name := range p.CellLines {
		names = append(names, "attrition:"+name, "growth:"+name)
	}
	sort.Strings(names)
	return names
}

// ValidateIC50 fails loudly for a non-vehicle compound without a usable IC50.
func ValidateIC50(c Compound) error {
	if c.Vehicle {
		return nil
	}
	if math.IsNaN(c.IC50uM) || math.IsInf(c.IC50uM, 0) || c.IC50uM <= 0 {
		return fmt.Errorf("%w: compound %q has IC50 %v", ErrInvalidIC50, c.Name, c.IC50uM)
	}
	return nil
}

// DefaultParams returns a small reference panel.
func DefaultParams() Params {
	return Params{
		Compounds: map[string]Compound{
			"DMSO":         {Name: "DMSO", Vehicle: true},
			"tunicamycin":  {Name: "tunicamycin", IC50uM: 1.0, Axis: AxisER, HillSlope: 1.5, LethalityPerHour: 0.01},
			"rotenone":     {Name: "rotenone", IC50uM: 0.5, Axis: AxisMito, HillSlope: 2.0, LethalityPerHour: 0.015},
			"nocodazole":   {Name: "nocodazole", IC50uM: 0.2, Axis: AxisTransport, HillSlope: 1.2, LethalityPerHour: 0.008},
			"thapsigargin": {Name: "thapsigargin", IC50uM: 0.1, Axis: AxisER, HillSlope: 2.5, LethalityPerHour: 0.02},
		},
		CellLines: map[string]CellLine{
			"A549":  {Name: "A549", DoublingHours: 22, BaseAttritionPerHour: 0.0005, InitialConfluence: 0.2},
			"HepG2": {Name: "HepG2", DoublingHours: 48, BaseAttritionPerHour: 0.0004, InitialConfluence: 0.25},
			"U2OS":  {Name: "U2OS", DoublingHours: 30, BaseAttritionPerHour: 0.0006, InitialConfluence: 0.2},
		},
	}
}

// #endregion params

// #region config
// Subpopulation describes a share of the culture with its own sensitivity.
type Subpopulation struct {
	Name           string  `yaml:"name" json:"name"`
	Share          float64 `yaml:"share" json:"share"`
	IC50Multiplier float64 `yaml:"ic50_multiplier" json:"ic50_multiplier"`
}

// Config holds engine tunables. Commitment bounds and CV are guardrails, not biology.
type Config struct {
	SubstepHours float64 `yaml:"substep_hours"`

	CommitmentBaseHours float64 `yaml:"commitment_base_hours"`
	CommitmentCV        float64 `yaml:"commitment_cv"`
	CommitmentMinHours  float64 `yaml:"commitment_min_hours"`
	CommitmentMaxHours  float64 `yaml:"commitment_max_hours"`
	CommittedDeathRate  float64 `yaml:"committed_death_rate"` // per hour once past the commitment point

	DysfunctionTauHours float64 `yaml:"dysfunction_tau_hours"`
	WashoutTauHours     float64 `yaml:"washout_tau_hours"`

	CrosstalkThreshold  float64 `yaml:"crosstalk_threshold"`
	CrosstalkDelayHours float64 `yaml:"crosstalk_delay_hours"`
	CrosstalkRate       float64 `yaml:"crosstalk_rate"` // per hour, per unit of excess

	MorphologyAttritionGain float64 `yaml:"morphology_attrition_gain"`

	ContaminationRatePerHour  float64 `yaml:"contamination_rate_per_hour"`
	ContaminationDeathRate    float64 `yaml:"contamination_death_rate"`
	ContaminationMorphologyUp float64 `yaml:"contamination_morphology_up"`

	TreatmentVariabilityCV float64 `yaml:"treatment_variability_cv"`

	Subpopulations []Subpopulation `yaml:"subpopulations"`
}

// DefaultConfig returns the reference engine configuration.
func DefaultConfig() Config {
	return Config{
		SubstepHours:              1.0,
		CommitmentBaseHours:       12,
		CommitmentCV:              0.25,
		CommitmentMinHours:        1.5,
		CommitmentMaxHours:        48,
		CommittedDeathRate:        0.25,
		DysfunctionTauHours:       4,
		WashoutTauHours:           8,
		CrosstalkThreshold:        0.3,
		CrosstalkDelayHours:       12,
		CrosstalkRate:             0.02,
		MorphologyAttritionGain:   3,
		ContaminationRatePerHour:  0.0005,
		ContaminationDeathRate:    0.05,
		ContaminationMorphologyUp: 0.3,
		TreatmentVariabilityCV:    0.2,
		Subpopulations: []Subpopulation{
			{Name: "sensitive", Share: 0.25, IC50Multiplier: 0.5},
			{Name: "typical", Share: 0.5, IC50Multiplier: 1.0},
			{Name: "resistant", Share: 0.25, IC50Multiplier: 2.0},
		},
	}
}

// #endregion config

// #region dose
// Dose is a dosing specification applied to a vessel.
type Dose struct {
	Compound string
	DoseUM   float64
}

// #endregion dose
