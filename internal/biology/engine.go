package biology

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region engine
// Engine advances vessels under a dosing protocol. It holds no mutable state of
// its own, so one Engine may drive many vessels from parallel goroutines as long
// as each vessel is touched by a single goroutine.
type Engine struct {
	params  Params
	cfg     Config
	streams *rngstream.Manager
	rc      *RunContext
}

// NewEngine creates an engine over explicit parameter tables and a run context.
func NewEngine(params Params, cfg Config, streams *rngstream.Manager, rc *RunContext) (*Engine, error) {
	if !(cfg.SubstepHours > 0) {
		return nil, fmt.Errorf("substep hours must be positive, got %v", cfg.SubstepHours)
	}
	if !(cfg.CommitmentMinHours > 0) || cfg.CommitmentMaxHours < cfg.CommitmentMinHours {
		return nil, fmt.Errorf("commitment bounds [%v, %v] are not a valid range", cfg.CommitmentMinHours, cfg.CommitmentMaxHours)
	}
	if streams == nil {
		return nil, errors.New("rng stream manager is required")
	}
	return &Engine{params: params, cfg: cfg, streams: streams, rc: rc}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RunContext returns the shared per-run modifiers.
func (e *Engine) RunContext() *RunContext {
	return e.rc
}

// NewVessel creates a vessel of the named cell line.
func (e *Engine) NewVessel(id, cellLine string) (*VesselState, error) {
	line, err := e.params.CellLine(cellLine)
	if err != nil {
		return nil, err
	}
	v := NewVessel(id, line, e.cfg.Subpopulations)
	v.contamRNG = e.streams.Stream(rngstream.PurposeContamination, id)
	return v, nil
}

// #endregion engine

// #region expose
// Expose starts a new exposure. Each call gets the next integer exposure id for
// the vessel. Only doses at or above the compound's nominal IC50 enter
// commitment; past that gate each subpopulation draws its delay from its own
// dose ratio, and a subpopulation still below its own IC50 does not commit.
func (e *Engine) Expose(v *VesselState, dose Dose) error {
	if v.finalized {
		return fmt.Errorf("expose %s: %w", v.ID, ErrFinalized)
	}
	c, err := e.params.Compound(dose.Compound)
	if err != nil {
		return fmt.Errorf("expose %s: %w", v.ID, err)
	}
	if err := ValidateIC50(c); err != nil {
		return fmt.Errorf("expose %s: %w", v.ID, err)
	}
	if math.IsNaN(dose.DoseUM) || math.IsInf(dose.DoseUM, 0) || dose.DoseUM < 0 {
		return fmt.Errorf("expose %s: dose %v uM for compound %q is not a valid concentration", v.ID, dose.DoseUM, c.Name)
	}

	id := v.nextExposure
	v.nextExposure++
	v.exposure = &exposure{id: id, compound: c, doseUM: dose.DoseUM, started: v.Hours}

	if c.Vehicle || dose.DoseUM == 0 || dose.DoseUM < c.IC50uM {
		return nil
	}

	ic50 := e.effectiveIC50(c)
	for i := range v.Subpops {
		sp := &v.Subpops[i]
		if sp.Committed {
			continue
		}
		ratio := dose.DoseUM / (ic50 * sp.IC50Multiplier)
		key := commitmentKey{Compound: c.Name, Exposure: id, Subpop: sp.Name}
		delay, cached := v.commitCache[key]
		if !cached {
			d, ok, err := e.cfg.SampleCommitmentDelay(e.streams, v.ID, c.Name, id, sp.Name, ratio)
			if err != nil {
				return fmt.Errorf("expose %s: %w", v.ID, err)
			}
			if !ok {
				continue
			}
			delay = d
			v.commitCache[key] = d
		}
		at := v.Hours + delay
		if !sp.Pending || at < sp.CommitAt {
			sp.CommitAt = at
			sp.Pending = true
		}
	}
	return nil
}

// Washout removes the active exposure. Pending commitments that were not yet
// reached are cancelled and the crosstalk sustained-since timer resets.
func (e *Engine) Washout(v *VesselState) error {
	if v.finalized {
		return fmt.Errorf("washout %s: %w", v.ID, ErrFinalized)
	}
	v.exposure = nil
	v.sustainedAt = -1
	for i := range v.Subpops {
		if v.Subpops[i].Pending && !v.Subpops[i].Committed {
			v.Subpops[i].Pending = false
		}
	}
	return nil
}

// #endregion expose

// #region advance
// Advance moves the vessel forward by hours, always in substeps no longer than
// Config.SubstepHours. Conservation is checked after every substep.
func (e *Engine) Advance(v *VesselState, hours float64) error {
	if v.finalized {
		return fmt.Errorf("advance %s: %w", v.ID, ErrFinalized)
	}
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return fmt.Errorf("advance %s: invalid interval %v h", v.ID, hours)
	}
	remaining := hours
	for remaining > 1e-12 {
		dt := math.Min(e.cfg.SubstepHours, remaining)
		if err := e.step(v, dt); err != nil {
			return err
		}
		remaining -= dt
	}
	return nil
}

// Run exposes the vessel to dose and advances it by hours.
func (e *Engine) Run(v *VesselState, dose Dose, hours float64) error {
	if err := e.Expose(v, dose); err != nil {
		return err
	}
	return e.Advance(v, hours)
}

// #endregion advance

// #region step
func (e *Engine) step(v *VesselState, dt float64) error {
	t0 := v.Hours
	t1 := t0 + dt

	var primary Axis
	var ratio, lethality, slope float64
	if ex := v.exposure; ex != nil && !ex.compound.Vehicle && ex.doseUM > 0 {
		primary = ex.compound.Axis
		ratio = ex.doseUM / e.effectiveIC50(ex.compound)
		lethality = ex.compound.LethalityPerHour
		slope = ex.compound.HillSlope
	}

	// 1. Dysfunction relaxes toward the dose-driven target on the primary axis
	//    and toward zero elsewhere.
	for _, a := range Axes {
		target, tau := 0.0, e.cfg.WashoutTauHours
		if a == primary {
			target, tau = hill(ratio, slope), e.cfg.DysfunctionTauHours
		}
		d := v.Dysfunction[a]
		v.Dysfunction[a] = clamp01(d + (target-d)*(1-math.Exp(-dt/tau)))
	}

	// 2. Crosstalk: sustained transport dysfunction slowly induces mito dysfunction.
	if tr := v.Dysfunction[AxisTransport]; v.exposure != nil && tr >= e.cfg.CrosstalkThreshold {
		if v.sustainedAt < 0 {
			v.sustainedAt = t0
		}
		if t1-v.sustainedAt >= e.cfg.CrosstalkDelayHours {
			excess := tr - e.cfg.CrosstalkThreshold
			v.Dysfunction[AxisMito] = clamp01(v.Dysfunction[AxisMito] + e.cfg.CrosstalkRate*excess*dt)
		}
	} else {
		v.sustainedAt = -1
	}

	// 3. Rare discrete events.
	if !v.contaminated && v.contamRNG != nil {
		if rngstream.Poisson(v.contamRNG, e.cfg.ContaminationRatePerHour*dt) > 0 {
			v.contaminated = true
			v.contaminatedAt = t1
		}
	}

	// 4. Hazards, booked per subpopulation into cause-tagged deaths.
	feedback := 1 + e.cfg.MorphologyAttritionGain*v.Morphology()
	base := e.lineAttrition(v.CellLine) * feedback

	for i := range v.Subpops {
		sp := &v.Subpops[i]
		if sp.Pending && !sp.Committed && t1 >= sp.CommitAt {
			sp.Committed = true
			if !v.Committed || sp.CommitAt < v.CommittedAt {
				v.Committed = true
				v.CommittedAt = sp.CommitAt
			}
		}

		exposures := [numCauses]float64{} // indexed like DeathCauses
		exposures[0] = base * dt
		if sp.Committed {
			exposures[1] = e.cfg.CommittedDeathRate * (t1 - math.Max(t0, sp.CommitAt))
		}
		if ratio > 0 {
			exposures[2] = lethality * hill(ratio/sp.IC50Multiplier, slope) * feedback * dt
		}
		if v.contaminated {
			exposures[3] = e.cfg.ContaminationDeathRate * dt
		}
		bookDeaths(v, sp, exposures)
	}
	v.syncViability()

	// 5. Growth, arrested by contamination.
	if !v.contaminated {
		rate := math.Ln2 / e.lineDoubling(v.CellLine)
		c := v.Confluence
		v.Confluence = clamp01(c + rate*c*(1-c)*v.Viability*dt)
	}

	v.Hours = t1
	return v.CheckConservation()
}

// bookDeaths removes viable cells from sp according to the integrated hazards
// and books them to causes so the total removed is exactly what was deducted.
func bookDeaths(v *VesselState, sp *SubpopState, exposures [numCauses]float64) {
	var total float64
	for _, x := range exposures {
		total += x
	}
	if total <= 0 || sp.Viable <= 0 {
		return
	}
	died := sp.Viable * (1 - math.Exp(-total))
	sp.Viable -= died

	booked := 0.0
	last := -1
	for i, x := range exposures {
		if x > 0 {
			last = i
		}
	}
	for i, x := range exposures {
		if x <= 0 {
			continue
		}
		part := died * x / total
		if i == last {
			part = died - booked
		}
		v.Deaths[DeathCauses[i]] += part
		booked += part
	}
}

// #endregion step

// #region helpers
func (e *Engine) effectiveIC50(c Compound) float64 {
	return c.IC50uM * e.rc.Modifier("ic50:"+c.Name)
}

func (e *Engine) lineAttrition(name string) float64 {
	line, err := e.params.CellLine(name)
	if err != nil {
		return 0
	}
	return line.BaseAttritionPerHour * e.rc.Modifier("attrition:"+name)
}

func (e *Engine) lineDoubling(name string) float64 {
	line, err := e.params.CellLine(name)
	if err != nil || line.DoublingHours <= 0 {
		return math.Inf(1)
	}
	return line.DoublingHours / e.rc.Modifier("growth:"+name)
}

// hill is the normalized dose response ratio^h / (1 + ratio^h); 0.5 at IC50.
func hill(ratio, slope float64) float64 {
	if ratio <= 0 {
		return 0
	}
	if slope <= 0 {
		slope = 1
	}
	x := math.Pow(ratio, slope)
	return x / (1 + x)
}

// #endregion helpers
