package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
)

// #region eval-harness
// EvalHarness checks that simulated biology still varies the way real biology
// does, and that every row still conserves mass.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates rows pooled from one or more runs.
func (h *EvalHarness) Run(rows []lab.Row) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	// 1. Conservation re-check on every row
	worst := 0.0
	worstWell := ""
	for _, r := range rows {
		total := r.TrueViability
		for _, c := range biology.DeathCauses {
			total += r.Deaths[c]
		}
		if e := math.Abs(total - 1); e > worst {
			worst, worstWell = e, r.RunID+"/"+r.WellID
		}
	}
	consPass := worst <= h.config.ConservationEpsilon
	metrics = append(metrics, EvalMetric{Name: "conservation_max_error", Value: worst, Pass: consPass})
	if !consPass {
		failReasons = append(failReasons, fmt.Sprintf("conservation error %.3g at %s", worst, worstWell))
	}

	// 2. Sterilization: treated conditions whose final viability barely varies
	conds := h.VarianceDecomposition(rows)
	for _, c := range conds {
		if !c.Judged {
			continue
		}
		metrics = append(metrics, EvalMetric{Name: "viability_cv:" + c.Key.String(), Value: c.TotalCV, Pass: !c.Sterile})
		if c.Sterile {
			failReasons = append(failReasons, fmt.Sprintf("sterilization detected: %s final-viability CV %.4f below %.2f",
				c.Key.String(), c.TotalCV, h.config.MinViabilityCV))
		}
	}

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = "eval failed: " + failReasons[0]
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}
	return EvalResult{
		Passed:     len(failReasons) == 0,
		Metrics:    metrics,
		Conditions: conds,
		Reason:     reason,
	}
}

// #endregion eval-harness

// #region variance-decomposition
// VarianceDecomposition groups rows by condition (sorted) and splits the
// spread of final true viability into between-run and within-run parts.
// Vehicle conditions and conditions with too few rows are reported but not judged.
func (h *EvalHarness) VarianceDecomposition(rows []lab.Row) []ConditionVariance {
	type group struct {
		vehicle bool
		byRun   map[string][]float64
		runs    []string
	}
	groups := map[observation.ConditionKey]*group{}
	for _, r := range rows {
		g := groups[r.Key]
		if g == nil {
			g = &group{byRun: map[string][]float64{}}
			groups[r.Key] = g
		}
		g.vehicle = g.vehicle || r.Vehicle
		if _, seen := g.byRun[r.RunID]; !seen {
			g.runs = append(g.runs, r.RunID)
		}
		g.byRun[r.RunID] = append(g.byRun[r.RunID], r.TrueViability)
	}
	keys := make([]observation.ConditionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	observation.SortKeys(keys)

	out := make([]ConditionVariance, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		var all []float64
		var runMeans []float64
		var withinSS float64
		withinDF := 0
		for _, run := range g.runs {
			vals := g.byRun[run]
			all = append(all, vals...)
			m, _ := meanSD(vals)
			runMeans = append(runMeans, m)
			for _, v := range vals {
				withinSS += (v - m) * (v - m)
			}
			withinDF += len(vals) - 1
		}
		mean, sd := meanSD(all)
		cv := 0.0
		if mean > 0 {
			cv = sd / mean
		}
		_, between := meanSD(runMeans)
		within := 0.0
		if withinDF > 0 {
			within = math.Sqrt(withinSS / float64(withinDF))
		}

		cvr := ConditionVariance{
			Key:          k,
			N:            len(all),
			Runs:         len(g.runs),
			Mean:         mean,
			TotalCV:      cv,
			BetweenRunSD: between,
			WithinRunSD:  within,
			Judged:       !g.vehicle && len(all) >= h.config.MinReplicates,
		}
		cvr.Sterile = cvr.Judged && cv < h.config.MinViabilityCV
		out = append(out, cvr)
	}
	return out
}

// #endregion variance-decomposition

// #region helpers
// meanSD returns the mean and sample standard deviation.
func meanSD(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(vals)-1))
}

// #endregion helpers
