// Package audit verifies a campaign's event logs offline. It never touches the
// simulator: every check is recomputed from logged fields alone.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
)

// #region read
// ReadJSONL decodes one record per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var raw struct {
			Seq     int             `json:"seq"`
			RunID   string          `json:"run_id"`
			Cycle   json.RawMessage `json:"cycle"`
			Kind    logging.Kind    `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		rec := Record{Seq: raw.Seq, RunID: raw.RunID, Kind: raw.Kind, Payload: raw.Payload, CycleRaw: string(raw.Cycle)}
		c, err := cycle.Parse(rec.CycleRaw)
		if err != nil {
			rec.CycleErr = err.Error()
		}
		rec.Cycle = c
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return out, nil
}

// ReadDir reads every event stream in dir and merges them in sequence order.
// A stream that was never written is treated as empty.
func ReadDir(dir string) ([]Record, error) {
	var all []Record
	for _, s := range logging.Streams {
		f, err := os.Open(filepath.Join(dir, string(s)+".jsonl"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s, err)
		}
		recs, err := ReadJSONL(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s, err)
		}
		all = append(all, recs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all, nil
}

// #endregion read

// #region verify
type verifier struct {
	opts       Options
	verdict    Verdict
	receipts   map[string]receipt.ConfidenceReceipt
	narratives map[cycle.Cycle]*CycleNarrative
	order      []cycle.Cycle

	// health debt replayed from rewards and recalibrations
	debt       float64
	noiseState noise.GateState
}

// Verify audits records (in sequence order) and returns every violation found
// plus a per-cycle narrative.
func Verify(records []Record, opts Options) Verdict {
	v := &verifier{
		opts:       opts,
		receipts:   map[string]receipt.ConfidenceReceipt{},
		narratives: map[cycle.Cycle]*CycleNarrative{},
	}
	v.verdict.Records = len(records)

	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	expected := 0
	lastCycle := cycle.Cycle(-1)
	lastDecision := cycle.Cycle(-1)
	for _, r := range sorted {
		if r.Seq != expected {
			v.flag(r, CodeSequenceGap, fmt.Sprintf("expected seq %d, found %d", expected, r.Seq))
		}
		expected = r.Seq + 1

		if r.CycleErr != "" {
			v.flag(r, CodeNonIntegerCycle, fmt.Sprintf("cycle %s: %s", r.CycleRaw, r.CycleErr))
			continue
		}
		if r.Cycle < lastCycle {
			v.flag(r, CodeNonMonotonicCycle, fmt.Sprintf("cycle %d logged after cycle %d", r.Cycle, lastCycle))
		}
		lastCycle = max(lastCycle, r.Cycle)

		switch r.Kind {
		case logging.KindCycle:
			if r.Cycle <= lastDecision {
				v.flag(r, CodeNonMonotonicCycle, fmt.Sprintf("second decision for cycle %d after cycle %d", r.Cycle, lastDecision))
			}
			lastDecision = max(lastDecision, r.Cycle)
			v.checkCycle(r)
		case logging.KindCalibration:
			v.checkCalibration(r)
		case logging.KindNoise:
			v.checkNoise(r)
		case logging.KindGate:
			v.checkGate(r)
		case logging.KindReceipt:
			v.checkReceipt(r)
		case logging.KindReward:
			v.checkReward(r)
		default:
			v.flag(r, CodeMalformed, fmt.Sprintf("unknown kind %q", r.Kind))
		}
	}

	for _, c := range v.order {
		v.verdict.Narrative = append(v.verdict.Narrative, *v.narratives[c])
	}
	v.verdict.Pass = len(v.verdict.Violations) == 0
	return v.verdict
}

// #endregion verify

// #region checks
func (v *verifier) checkCycle(r Record) {
	var p CyclePayload
	if !v.decode(r, &p) {
		return
	}
	n := v.narrative(r.Cycle)
	n.Action = p.Decision.Action
	n.Rule = p.Decision.Justification.Rule
	n.Lines = append(n.Lines, fmt.Sprintf("chose %s with %d wells: %s", p.Decision.Action, p.Decision.Wells, p.Decision.Justification.Rule))
	v.checkDebt(r, "decision justification", p.Decision.Justification.HealthDebt)

	if want := belief.ReplayChoice(v.opts.Belief, p.Decision.Justification); want != p.Decision.Action {
		v.flag(r, CodeUnjustifiedAction, fmt.Sprintf("logged %s, justification implies %s", p.Decision.Action, want))
	}
}

func (v *verifier) checkCalibration(r Record) {
	var p CalibrationPayload
	if !v.decode(r, &p) {
		return
	}
	n := v.narrative(r.Cycle)
	switch p.Event {
	case "coverage":
		if p.Accepted {
			n.Lines = append(n.Lines, fmt.Sprintf("credited calibration coverage for %d positions", len(p.Positions)))
			if r.Cycle != cycle.Calibration {
				v.flag(r, CodeCoverageOutside, fmt.Sprintf("coverage for %d positions accepted in cycle %d", len(p.Positions), r.Cycle))
			}
		} else {
			n.Lines = append(n.Lines, fmt.Sprintf("refused coverage credit for %d positions (%s: %s)", len(p.Positions), p.Gate, p.Reason))
			if p.Gate == "" {
				v.flag(r, CodeUnattributedFailure, "coverage refusal without a named gate")
			}
		}
	case "floors":
		n.Lines = append(n.Lines, fmt.Sprintf("established reference floors for %d channels", len(p.Floors)))
		if p.Accepted && r.Cycle != cycle.Calibration {
			v.flag(r, CodeCoverageOutside, fmt.Sprintf("reference floors replaced in cycle %d", r.Cycle))
		}
	}
}

func (v *verifier) checkNoise(r Record) {
	var p NoisePayload
	if !v.decode(r, &p) {
		return
	}
	n := v.narrative(r.Cycle)
	line := fmt.Sprintf("noise sigma %.4f, pooled %.4f, gate %s", p.Reading.Sigma, p.Reading.PooledSigma, p.Reading.State)
	if p.Reading.Changed {
		line += " (changed: " + p.Reading.Reason + ")"
	}
	if p.Reading.Skipped {
		line = "noise update skipped: " + p.Reading.Reason
	}
	v.noiseState = p.Reading.State
	n.Lines = append(n.Lines, line)
}

func (v *verifier) checkGate(r Record) {
	var p GatePayload
	if !v.decode(r, &p) {
		return
	}
	n := v.narrative(r.Cycle)
	for _, d := range p.Verdict.Decisions {
		if (d.Action == gate.ActionFail || d.Action == gate.ActionCap) && d.Gate == "" {
			v.flag(r, CodeUnattributedFailure, fmt.Sprintf("%s decision on %s without a named gate", d.Action, p.Subject))
		}
	}
	if p.Verdict.Failed {
		if p.Verdict.FailedGate == "" {
			v.flag(r, CodeUnattributedFailure, fmt.Sprintf("%s rejected without a named gate", p.Subject))
		}
		n.GateFailures = append(n.GateFailures, p.Verdict.FailedGate)
		n.Lines = append(n.Lines, fmt.Sprintf("%s rejected by %s: %s", p.Subject, p.Verdict.FailedGate, p.Verdict.Reason))
	}
	if p.Subject == "calibration" && r.Cycle != cycle.Calibration && v.noiseState == noise.GateStable && passedGate(p.Verdict, gate.NameCalibrationPoison) {
		v.debt *= v.opts.Belief.DebtDecay
		n.Lines = append(n.Lines, fmt.Sprintf("health debt decayed to %.3f", v.debt))
	}
}

func (v *verifier) checkReceipt(r Record) {
	var rc receipt.ConfidenceReceipt
	if !v.decode(r, &rc) {
		return
	}
	if rc.Cycle != r.Cycle {
		v.flag(r, CodeMalformed, fmt.Sprintf("receipt %s claims cycle %d inside a cycle %d record", rc.ID, rc.Cycle, r.Cycle))
	}
	v.receipts[rc.ID] = rc

	n := v.narrative(r.Cycle)
	n.Receipts++
	if rc.Refused {
		n.Refusals++
		n.Lines = append(n.Lines, fmt.Sprintf("refused %q (requested %.2f, allowed %.2f)", rc.Claim, rc.Requested, rc.Confidence))
	} else {
		n.Lines = append(n.Lines, fmt.Sprintf("claimed %q at %.2f", rc.Claim, rc.Confidence))
	}

	if len(rc.Calibration.Gates) == 0 {
		v.flag(r, CodeForgedReceipt, fmt.Sprintf("receipt %s carries no gate decisions", rc.ID))
	}
	v.checkDebt(r, "receipt "+rc.ID, rc.Calibration.HealthDebt)
	if viol := rc.Violations(); len(viol) > 0 {
		v.flag(r, CodeInvalidReceipt, fmt.Sprintf("receipt %s: %s", rc.ID, strings.Join(viol, "; ")))
	}
	if err := rc.CheckSeal(); err != nil {
		v.flag(r, CodeForgedReceipt, err.Error())
	}
}

func (v *verifier) checkReward(r Record) {
	var rw belief.Reward
	if !v.decode(r, &rw) {
		return
	}
	n := v.narrative(r.Cycle)
	n.RewardTotal += rw.Amount

	rc, ok := v.receipts[rw.ReceiptID]
	if !ok {
		v.flag(r, CodeOrphanReward, fmt.Sprintf("reward for unknown receipt %s", rw.ReceiptID))
		return
	}
	kind, amount, debt, err := belief.ScoreReceipt(v.opts.Belief, rc, rw.Correct)
	if err != nil {
		v.flag(r, CodeRewardInconsistent, err.Error())
		return
	}
	if kind != rw.Kind || math.Abs(amount-rw.Amount) > 1e-9 {
		v.flag(r, CodeRewardInconsistent, fmt.Sprintf("receipt %s logged %s %.4f, fields imply %s %.4f", rc.ID, rw.Kind, rw.Amount, kind, amount))
	}
	v.debt += debt
	v.checkDebt(r, "reward for "+rc.ID, rw.DebtAfter)
	n.Lines = append(n.Lines, fmt.Sprintf("scored %s %+.3f", rw.Kind, rw.Amount))
}

// checkDebt compares a logged health debt with the replayed balance.
func (v *verifier) checkDebt(r Record, what string, logged float64) {
	if math.Abs(logged-v.debt) > 1e-9 {
		v.flag(r, CodeDebtInconsistent, fmt.Sprintf("%s logs health debt %.4f, replay gives %.4f", what, logged, v.debt))
	}
}

func passedGate(verdict gate.Verdict, name string) bool {
	for _, d := range verdict.Decisions {
		if d.Gate == name {
			return d.Action == gate.ActionPass
		}
	}
	return false
}

// #endregion checks

// #region helpers
func (v *verifier) decode(r Record, dst any) bool {
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		v.flag(r, CodeMalformed, fmt.Sprintf("%s payload: %v", r.Kind, err))
		return false
	}
	return true
}

func (v *verifier) flag(r Record, code, detail string) {
	v.verdict.Violations = append(v.verdict.Violations, Violation{Seq: r.Seq, Cycle: r.Cycle, Kind: r.Kind, Code: code, Detail: detail})
}

func (v *verifier) narrative(c cycle.Cycle) *CycleNarrative {
	n, ok := v.narratives[c]
	if !ok {
		n = &CycleNarrative{Cycle: c}
		v.narratives[c] = n
		v.order = append(v.order, c)
	}
	return n
}

// #endregion helpers
