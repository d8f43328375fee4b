package lab

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region runner
// Runner executes proposals against explicit biology and noise configuration.
type Runner struct {
	params   biology.Params
	bio      biology.Config
	noiseCfg noise.Config
	cfg      Config
	streams  *rngstream.Manager
	log      *slog.Logger
}

// NewRunner creates a runner. Nothing is shared between runners.
func NewRunner(params biology.Params, bio biology.Config, noiseCfg noise.Config, cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		params:   params,
		bio:      bio,
		noiseCfg: noiseCfg,
		cfg:      cfg,
		streams:  rngstream.New(cfg.Seed),
		log:      log,
	}
}

// Streams returns the runner's stream manager.
func (r *Runner) Streams() *rngstream.Manager {
	return r.streams
}

// Seed returns the root seed every stream derives from.
func (r *Runner) Seed() int64 {
	return r.cfg.Seed
}

// Params returns the parameter tables the runner simulates.
func (r *Runner) Params() biology.Params {
	return r.params
}

// Vehicles returns the set of vehicle compounds.
func (r *Runner) Vehicles() map[string]bool {
	out := map[string]bool{}
	for name, c := range r.params.Compounds {
		if c.Vehicle {
			out[name] = true
		}
	}
	return out
}

// #endregion runner

// #region execute
// Execute runs every well of the proposal. Physical violations are rejected;
// design concerns come back as warnings. Wells run in parallel, but every draw
// is keyed by run and well id, so the result does not depend on worker count
// or well order.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	p := req.Proposal
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.RunID, err)
	}

	rc := biology.SampleRunContext(r.streams, req.RunID, r.bio.TreatmentVariabilityCV, r.params.ModifierNames())
	engine, err := biology.NewEngine(r.params, r.bio, r.streams, rc)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.RunID, err)
	}
	model := noise.NewModel(r.noiseCfg, r.streams).ForRun(req.RunID)
	vehicles := r.Vehicles()

	rows := make([]Row, len(p.Wells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, w := range p.Wells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := r.simulate(engine, model, req.RunID, w)
			if err != nil {
				return err
			}
			row.Vehicle = vehicles[w.Compound]
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.RunID, err)
	}

	table := ResultsTable{RunID: req.RunID, Rows: rows}
	table.sort()

	res := &Result{
		Table:     table,
		Warnings:  proposal.Review(p, vehicles),
		Modifiers: map[string]float64{},
	}
	for _, name := range rc.Names() {
		res.Modifiers[name] = rc.Modifier(name)
	}
	res.Floors, res.FloorSource = floorsFor(table.Rows, req.ReferenceFloors)
	res.Observation = r.observe(model, req, table.Rows, res.Floors)
	for _, c := range res.Observation.Conditions {
		if c.InstantCrossing {
			res.Instant = true
		}
	}
	res.Suspects = DetectContaminationSignature(table.Rows, res.Floors, r.noiseCfg)

	r.log.Debug("run executed",
		"run", req.RunID,
		"cycle", int(req.Cycle),
		"wells", len(rows),
		"conditions", len(res.Observation.Conditions),
		"dropped", len(res.Observation.Dropped),
		"floors", res.FloorSource,
		"digest", table.Digest())
	return res, nil
}

// #endregion execute

// #region simulate
// simulate grows one vessel through its exposure an hour at a time, recording
// the first whole hour viability fell below one half.
func (r *Runner) simulate(engine *biology.Engine, model *noise.Model, runID string, w proposal.Well) (Row, error) {
	vesselID := runID + "/" + w.ID()
	v, err := engine.NewVessel(vesselID, w.CellLine)
	if err != nil {
		return Row{}, fmt.Errorf("well %s: %w", w.ID(), err)
	}
	if err := engine.Expose(v, biology.Dose{Compound: w.Compound, DoseUM: w.DoseUM}); err != nil {
		return Row{}, fmt.Errorf("well %s: %w", w.ID(), err)
	}

	crossing := -1
	whole := int(math.Floor(w.ExposureHours))
	for h := 1; h <= whole; h++ {
		if err := engine.Advance(v, 1); err != nil {
			return Row{}, fmt.Errorf("well %s hour %d: %w", w.ID(), h, err)
		}
		if crossing < 0 && v.Viability < 0.5 {
			crossing = h
		}
	}
	if rest := w.ExposureHours - float64(whole); rest > 0 {
		if err := engine.Advance(v, rest); err != nil {
			return Row{}, fmt.Errorf("well %s: %w", w.ID(), err)
		}
	}
	v.Finalize()

	deaths := make(map[biology.DeathCause]float64, len(v.Deaths))
	for c, d := range v.Deaths {
		deaths[c] = d
	}
	return Row{
		WellID:        w.ID(),
		RunID:         runID,
		Position:      w.Position,
		Key:           w.Key(),
		Readings:      model.Measure(vesselID, w.Position, v.Signals(engine.Config())),
		CrossingHour:  crossing,
		TrueViability: v.Viability,
		Deaths:        deaths,
		Committed:     v.Committed,
		Contaminated:  v.Contaminated(),
	}, nil
}

// #endregion simulate

// #region observe
// floorsFor estimates floors from this run's vehicle wells, falling back to
// the reference floors established during calibration.
func floorsFor(rows []Row, reference noise.Floors) (noise.Floors, string) {
	var controls []map[observation.Channel]float64
	for _, row := range rows {
		if row.Vehicle {
			controls = append(controls, row.Readings)
		}
	}
	if len(controls) >= 2 {
		return noise.EstimateFloor(controls), "controls"
	}
	if len(reference) > 0 {
		return reference, "reference"
	}
	return noise.Floors{}, "none"
}

// observe groups replicates by condition in sorted key order and summarizes them.
func (r *Runner) observe(model *noise.Model, req Request, rows []Row, floors noise.Floors) observation.Observation {
	groups := map[observation.ConditionKey][]noise.Replicate{}
	for _, row := range rows {
		groups[row.Key] = append(groups[row.Key], noise.Replicate{
			VesselID:     row.RunID + "/" + row.WellID,
			Position:     row.Position,
			Readings:     row.Readings,
			CrossingHour: row.CrossingHour,
		})
	}
	keys := make([]observation.ConditionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	observation.SortKeys(keys)

	obs := observation.Observation{
		RunID:  req.RunID,
		Cycle:  req.Cycle,
		Policy: r.noiseCfg.Policy,
		Wells:  len(rows),
	}
	for _, row := range rows {
		obs.Positions = append(obs.Positions, row.Position)
	}
	plate.Sort(obs.Positions)

	for _, k := range keys {
		sum, ok, reason := model.Summarize(k, groups[k], floors)
		if !ok {
			obs.Dropped = append(obs.Dropped, observation.DroppedCondition{Key: k, Reason: reason})
			r.log.Debug("condition dropped", "run", req.RunID, "condition", k.String(), "reason", reason)
			continue
		}
		obs.Conditions = append(obs.Conditions, sum)
	}
	obs.NoiseSigma, obs.NoiseDF = controlNoise(rows)
	return obs
}

// controlNoise pools the within-condition spread of vehicle viability readings.
// Zero degrees of freedom means no estimate.
func controlNoise(rows []Row) (float64, int) {
	groups := map[string][]float64{}
	for _, row := range rows {
		if row.Vehicle {
			k := row.Key.String()
			groups[k] = append(groups[k], row.Readings[observation.ChannelViability])
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ss float64
	df := 0
	for _, k := range keys {
		vals := groups[k]
		if len(vals) < 2 {
			continue
		}
		var mean float64
		for _, v := range vals {
			mean += v
		}
		mean /= float64(len(vals))
		for _, v := range vals {
			ss += (v - mean) * (v - mean)
		}
		df += len(vals) - 1
	}
	if df == 0 {
		return 0, 0
	}
	return math.Sqrt(ss / float64(df)), df
}

// #endregion observe
