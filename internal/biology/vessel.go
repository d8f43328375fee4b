package biology

import (
	"fmt"
	"math"
	"math/rand"
)

// #region vessel-state
// SubpopState is the viable share and commitment status of one subpopulation.
type SubpopState struct {
	Name           string
	IC50Multiplier float64
	Viable         float64
	Pending        bool // commitment drawn but not yet reached
	Committed      bool
	CommitAt       float64 // hours since vessel creation
}

// VesselState is the true state of one simulated culture vessel.
type VesselState struct {
	ID       string
	CellLine string
	Hours    float64

	Viability   float64
	Deaths      map[DeathCause]float64
	Dysfunction map[Axis]float64
	Confluence  float64

	Committed   bool
	CommittedAt float64

	Subpops []SubpopState

	contaminated   bool
	contaminatedAt float64

	exposure     *exposure
	nextExposure uint64
	commitCache  map[commitmentKey]float64
	sustainedAt  float64 // transport dysfunction sustained since; <0 when not sustained
	contamRNG    *rand.Rand
	finalized    bool
}

type exposure struct {
	id       uint64
	compound Compound
	doseUM   float64
	started  float64
}

// NewVessel creates a vessel at time 0 with full viability.
func NewVessel(id string, line CellLine, subpops []Subpopulation) *VesselState {
	v := &VesselState{
		ID:          id,
		CellLine:    line.Name,
		Viability:   1,
		Deaths:      make(map[DeathCause]float64, len(DeathCauses)),
		Dysfunction: make(map[Axis]float64, len(Axes)),
		Confluence:  line.InitialConfluence,
		commitCache: make(map[commitmentKey]float64),
		sustainedAt: -1,
	}
	for _, c := range DeathCauses {
		v.Deaths[c] = 0
	}
	for _, a := range Axes {
		v.Dysfunction[a] = 0
	}

	var total float64
	for _, s := range subpops {
		total += s.Share
	}
	if total <= 0 {
		subpops = []Subpopulation{{Name: "bulk", Share: 1, IC50Multiplier: 1}}
		total = 1
	}
	for _, s := range subpops {
		v.Subpops = append(v.Subpops, SubpopState{
			Name:           s.Name,
			IC50Multiplier: s.IC50Multiplier,
			Viable:         s.Share / total,
		})
	}
	v.syncViability()
	return v
}

// #endregion vessel-state

// #region accessors
// TotalDeath sums every cause-tagged death fraction in a fixed order.
func (v *VesselState) TotalDeath() float64 {
	var sum float64
	for _, c := range DeathCauses {
		sum += v.Deaths[c]
	}
	return sum
}

// CheckConservation returns ErrConservation when viable + Σdeaths strays from 1.
func (v *VesselState) CheckConservation() error {
	total := v.Viability + v.TotalDeath()
	if math.IsNaN(total) || math.Abs(total-1) > ConservationTolerance {
		return fmt.Errorf("%w: vessel %s at %.2fh: viable %.12f + deaths %.12f = %.12f",
			ErrConservation, v.ID, v.Hours, v.Viability, v.TotalDeath(), total)
	}
	return nil
}

// Morphology is the combined morphological disruption in [0,1].
func (v *VesselState) Morphology() float64 {
	intact := 1.0
	for _, a := range Axes {
		intact *= 1 - clamp01(v.Dysfunction[a])
	}
	return clamp01(1 - intact)
}

// Finalize freezes the vessel; later mutation fails.
func (v *VesselState) Finalize() {
	v.finalized = true
}

// Finalized reports whether the vessel has been frozen.
func (v *VesselState) Finalized() bool {
	return v.finalized
}

// Exposed reports whether a compound exposure is currently active.
func (v *VesselState) Exposed() bool {
	return v.exposure != nil
}

// Contaminated reports ground-truth contamination. It is used by tests and
// truth-side diagnostics and never reaches an Observation.
func (v *VesselState) Contaminated() bool {
	return v.contaminated
}

// ContaminationOnset returns when contamination arrived, if it has.
func (v *VesselState) ContaminationOnset() (float64, bool) {
	return v.contaminatedAt, v.contaminated
}

// TrueSignals is the noiseless readout the measurement model starts from.
type TrueSignals struct {
	Viability  float64
	ER         float64
	Mito       float64
	Transport  float64
	Morphology float64
	Confluence float64
}

// Signals returns the vessel's true per-channel readout. Contamination shows up
// only as a morphology anomaly and arrested confluence, never as a label.
func (v *VesselState) Signals(cfg Config) TrueSignals {
	morph := v.Morphology()
	if v.contaminated {
		morph = clamp01(morph + cfg.ContaminationMorphologyUp)
	}
	return TrueSignals{
		Viability:  v.Viability,
		ER:         v.Dysfunction[AxisER],
		Mito:       v.Dysfunction[AxisMito],
		Transport:  v.Dysfunction[AxisTransport],
		Morphology: morph,
		Confluence: v.Confluence * v.Viability,
	}
}

// #endregion accessors

// #region helpers
func (v *VesselState) syncViability() {
	var sum float64
	for _, s := range v.Subpops {
		sum += s.Viable
	}
	v.Viability = sum
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// #endregion helpers
