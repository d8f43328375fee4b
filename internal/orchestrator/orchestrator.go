// Package orchestrator runs a campaign: each cycle asks belief what to do,
// designs and executes a plate, feeds noise and calibration back through the
// gates, then issues and scores a confidence receipt. Every step is written
// to the event log the offline auditor replays.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/danielpatrickdp/honest-lab/internal/audit"
	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/eval"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/state"
)

// #region orchestrator-struct

// Deps are the collaborators a campaign runs against. Events, Store, Eval and
// Logger may be nil.
type Deps struct {
	Runner *lab.Runner
	Belief belief.Config
	Drift  noise.DriftConfig
	Gates  *gate.Registry
	Events *logging.EventLog
	Store  *state.Store
	Eval   *eval.EvalHarness
	Logger *slog.Logger
}

// Orchestrator drives one campaign.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	belief     *belief.State
	log        *slog.Logger
	campaignID string
	versionID  string
	used       int
	target     int // index into cfg.Compounds of the next compound to expand on
	lastTarget string
	rows       []lab.Row
	reward     float64
}

// #endregion

// #region constructor

// New creates an orchestrator and, when a store is present, registers the campaign.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Runner == nil {
		return nil, errors.New("new orchestrator: runner is required")
	}
	if len(cfg.Compounds) == 0 {
		return nil, errors.New("new orchestrator: no compounds to probe")
	}
	if deps.Gates == nil {
		deps.Gates = gate.Default(gate.DefaultConfig())
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		belief: belief.New(cfg.Campaign, deps.Belief, deps.Drift),
		log:    log.With("campaign", cfg.Campaign),
	}
	if deps.Store != nil {
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("new orchestrator: %w", err)
		}
		c, err := deps.Store.CreateCampaign(deps.Runner.Seed(), string(cfgJSON))
		if err != nil {
			return nil, fmt.Errorf("new orchestrator: %w", err)
		}
		o.campaignID = c.CampaignID
	}
	return o, nil
}

// Belief exposes the campaign's belief state.
func (o *Orchestrator) Belief() *belief.State {
	return o.belief
}

// CampaignID is the store id of the campaign, empty without a store.
func (o *Orchestrator) CampaignID() string {
	return o.campaignID
}

// #endregion

// #region run

// Run executes cycles from calibration until the budget is spent or
// MaxCycles is reached, then checks the pooled rows with the eval harness.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{CampaignID: o.campaignID}
	for c := 0; c < o.cfg.MaxCycles; c++ {
		rep, err := o.RunCycle(ctx, cycle.Cycle(c))
		if err != nil {
			return sum, err
		}
		sum.Cycles = append(sum.Cycles, rep)
		if rep.Decision.Action == belief.ActionNone {
			break
		}
	}
	sum.WellsUsed = o.used
	sum.RewardTotal = o.reward
	sum.Final = o.belief.Snapshot()
	if o.deps.Eval != nil {
		res := o.deps.Eval.Run(o.rows)
		sum.Eval = &res
		o.log.Info("campaign eval", "passed", res.Passed, "reason", res.Reason)
	}
	o.log.Info("campaign complete",
		"cycles", len(sum.Cycles),
		"wells", sum.WellsUsed,
		"reward", sum.RewardTotal,
		"debt", sum.Final.HealthDebt)
	return sum, nil
}

// #endregion

// #region run-cycle

// RunCycle runs one cycle. Cycles must be called in strictly increasing order.
func (o *Orchestrator) RunCycle(ctx context.Context, c cycle.Cycle) (CycleReport, error) {
	if err := o.belief.BeginCycle(c); err != nil {
		return CycleReport{}, fmt.Errorf("cycle %d: %w", c, err)
	}
	remaining := o.cfg.Budget - o.used
	d := o.belief.ChooseAction(remaining)
	rep := CycleReport{Cycle: c, Decision: d}

	if d.Action == belief.ActionNone {
		if err := o.event(logging.KindCycle, c, audit.CyclePayload{Decision: d}); err != nil {
			return rep, err
		}
		o.log.Info("cycle skipped", "cycle", int(c), "rule", d.Justification.Rule)
		return rep, o.commit(c)
	}

	target := o.pickTarget(d.Action)
	prop, err := Design(o.cfg, o.deps.Runner.Params(), d.Action, d.Wells, target, remaining)
	if err != nil {
		return rep, fmt.Errorf("cycle %d: %w", c, err)
	}
	rep.RunID = fmt.Sprintf("%s-c%03d", o.cfg.Campaign, int(c))
	res, err := o.deps.Runner.Execute(ctx, lab.Request{
		RunID:           rep.RunID,
		Cycle:           c,
		Proposal:        prop,
		ReferenceFloors: o.belief.View().ReferenceFloors,
	})
	if err != nil {
		return rep, fmt.Errorf("cycle %d: %w", c, err)
	}
	o.used += len(prop.Wells)
	o.rows = append(o.rows, res.Table.Rows...)
	rep.Wells = len(prop.Wells)
	rep.Digest = res.Table.Digest()
	rep.Warnings = res.Warnings
	if designs[d.Action].Claims {
		rep.Target = target
	}

	if err := o.event(logging.KindCycle, c, audit.CyclePayload{
		Decision: d,
		RunID:    rep.RunID,
		Digest:   strconv.FormatUint(rep.Digest, 16),
	}); err != nil {
		return rep, err
	}

	reading := o.belief.ObserveNoise(res.Observation.NoiseSigma, res.Observation.NoiseDF, res.Instant)
	if err := o.event(logging.KindNoise, c, audit.NoisePayload{RunID: rep.RunID, Instant: res.Instant, Reading: reading}); err != nil {
		return rep, err
	}

	if d.Action == belief.ActionCalibrate {
		if err := o.calibrate(c, res, &rep); err != nil {
			return rep, err
		}
	}
	if designs[d.Action].Claims {
		if err := o.claim(c, target, res.Observation, &rep); err != nil {
			return rep, err
		}
	}

	if err := o.record(c, d, rep, res); err != nil {
		return rep, err
	}
	o.log.Info("cycle complete",
		"cycle", int(c),
		"action", string(d.Action),
		"wells", rep.Wells,
		"rule", d.Justification.Rule,
		"noise_gate", string(reading.State),
		"debt", o.belief.HealthDebt())
	return rep, o.commit(c)
}

// pickTarget rotates through the compounds on EXPAND and stays put on REPLICATE.
func (o *Orchestrator) pickTarget(a belief.Action) string {
	switch a {
	case belief.ActionExpand:
		t := o.cfg.Compounds[o.target%len(o.cfg.Compounds)]
		o.target++
		o.lastTarget = t
		return t
	case belief.ActionReplicate:
		if o.lastTarget == "" {
			o.lastTarget = o.cfg.Compounds[0]
		}
		return o.lastTarget
	}
	return ""
}

// #endregion

// #region calibrate

// calibrate offers a vehicle plate for coverage credit. The gates decide;
// outside the calibration cycle provenance_freeze always refuses, but a clean
// batch on a stable noise gate still pays down health debt.
func (o *Orchestrator) calibrate(c cycle.Cycle, res *lab.Result, rep *CycleReport) error {
	batch := gate.CalibrationBatch{}
	var positions []plate.Position
	for _, row := range res.Table.Rows {
		if !row.Vehicle {
			continue
		}
		batch.WellIDs = append(batch.WellIDs, row.WellID)
		batch.Readings = append(batch.Readings, row.Readings)
		positions = append(positions, row.Position)
	}
	plate.Sort(positions)
	names := make([]string, len(positions))
	for i, p := range positions {
		names[i] = p.String()
	}

	verdict := o.deps.Gates.Evaluate(gate.Input{
		Belief:      o.belief.View(),
		Credit:      &gate.CoverageCredit{Cycle: c, Positions: positions},
		Calibration: &batch,
	})
	if err := o.event(logging.KindGate, c, audit.GatePayload{Subject: "calibration", Verdict: verdict}); err != nil {
		return err
	}

	payload := audit.CalibrationPayload{Event: "coverage", Positions: names}
	if !verdict.Failed {
		if err := o.belief.AddCoverage(positions); err != nil {
			verdict.Failed, verdict.FailedGate, verdict.Reason = true, gate.NameProvenanceFreeze, err.Error()
		}
	}
	if verdict.Failed {
		payload.Gate, payload.Reason = verdict.FailedGate, verdict.Reason
		rep.CoverageGate = verdict.FailedGate
		o.provenance(c, rep.RunID, "reject", verdict.FailedGate+": "+verdict.Reason, payload)
		o.log.Warn("coverage credit refused", "cycle", int(c), "gate", verdict.FailedGate, "reason", verdict.Reason)
	} else {
		payload.Accepted = true
		rep.CoverageAccepted = true
		o.provenance(c, rep.RunID, "accept", fmt.Sprintf("%d positions", len(positions)), payload)
	}
	if err := o.event(logging.KindCalibration, c, payload); err != nil {
		return err
	}

	if rep.CoverageAccepted && c == cycle.Calibration {
		if err := o.belief.SetReferenceFloors(res.Floors); err != nil {
			return fmt.Errorf("cycle %d: %w", c, err)
		}
		if err := o.event(logging.KindCalibration, c, audit.CalibrationPayload{Event: "floors", Accepted: true, Floors: res.Floors}); err != nil {
			return err
		}
	}
	if c != cycle.Calibration && passed(verdict, gate.NameCalibrationPoison) && o.belief.Recalibrated() {
		o.log.Info("health debt decayed", "cycle", int(c), "debt", o.belief.HealthDebt())
	}
	return nil
}

func passed(v gate.Verdict, name string) bool {
	for _, d := range v.Decisions {
		if d.Gate == name {
			return d.Action == gate.ActionPass
		}
	}
	return false
}

// #endregion

// #region claim

// claim predicts the target's mechanism, runs it through the gates and scores
// the receipt against the compound's true axis.
func (o *Orchestrator) claim(c cycle.Cycle, target string, obs observation.Observation, rep *CycleReport) error {
	pred := Predict(obs, target, o.cfg)
	rep.Prediction = &pred
	if !pred.Claimable() {
		o.log.Info("no claim", "cycle", int(c), "target", target, "reason", pred.Reason)
		return nil
	}

	rc, verdict, err := o.belief.Claim(o.deps.Gates, obs, pred.Claim(), pred.Requested, pred.Refuse)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	if err := o.event(logging.KindGate, c, audit.GatePayload{Subject: "claim", Verdict: verdict}); err != nil {
		return err
	}
	if verdict.Failed {
		o.provenance(c, rep.RunID, "reject", verdict.FailedGate+": "+verdict.Reason, verdict)
	}
	if err := o.event(logging.KindReceipt, c, rc); err != nil {
		return err
	}
	rep.Receipt = &rc

	truth, err := o.deps.Runner.Params().Compound(target)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	var correct *bool
	if !rc.Refused {
		ok := pred.Axis == truth.Axis
		correct = &ok
	}
	rw, err := o.belief.Score(rc, correct)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	if err := o.event(logging.KindReward, c, rw); err != nil {
		return err
	}
	rep.Reward = &rw
	o.reward += rw.Amount
	o.log.Debug("receipt scored",
		"cycle", int(c),
		"claim", rc.Claim,
		"confidence", rc.Confidence,
		"refused", rc.Refused,
		"kind", string(rw.Kind),
		"amount", rw.Amount)
	return nil
}

// #endregion

// #region persistence

func (o *Orchestrator) event(kind logging.Kind, c cycle.Cycle, payload any) error {
	if err := o.deps.Events.Log(kind, c, payload); err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	return nil
}

// provenance mirrors gate outcomes into the store's provenance_log. Failures
// are logged and do not stop the campaign.
func (o *Orchestrator) provenance(c cycle.Cycle, runID, decision, reason string, payload any) {
	if o.deps.Store == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn("provenance payload not encoded", "cycle", int(c), "decision", decision, "error", err)
	}
	err = logging.LogEvent(o.deps.Store.DB(), logging.ProvenanceEntry{
		RunID:       runID,
		Cycle:       c,
		Kind:        logging.KindGate,
		PayloadJSON: string(b),
		Decision:    decision,
		Reason:      reason,
	})
	if err != nil {
		o.log.Warn("provenance log failed", "cycle", int(c), "error", err)
	}
}

func (o *Orchestrator) record(c cycle.Cycle, d belief.Decision, rep CycleReport, res *lab.Result) error {
	if o.deps.Store == nil {
		return nil
	}
	obsJSON, err := json.Marshal(res.Observation)
	if err != nil {
		return fmt.Errorf("cycle %d: marshal observation: %w", c, err)
	}
	err = o.deps.Store.RecordRun(state.RunRecord{
		RunID:           rep.RunID,
		CampaignID:      o.campaignID,
		Cycle:           c,
		Action:          d.Action,
		Wells:           rep.Wells,
		Digest:          rep.Digest,
		ObservationJSON: string(obsJSON),
	}, res.Table.Rows)
	if err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	return nil
}

// commit snapshots belief at the end of a cycle.
func (o *Orchestrator) commit(c cycle.Cycle) error {
	if o.deps.Store == nil {
		return nil
	}
	v, err := o.deps.Store.CommitBelief(o.campaignID, o.versionID, o.belief.Snapshot())
	if err != nil {
		return fmt.Errorf("cycle %d: %w", c, err)
	}
	o.versionID = v.VersionID
	return nil
}

// #endregion
