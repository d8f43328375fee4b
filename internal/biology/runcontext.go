package biology

import (
	"sort"

	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region run-context
// RunContext holds per-run multiplicative modifiers drawn once from the
// treatment-variability stream. It is read-only after creation and shared by
// every vessel in the run.
type RunContext struct {
	runID     string
	modifiers map[string]float64
}

// SampleRunContext draws one lognormal modifier (mean 1) per name. Names are
// sorted before drawing so the result does not depend on caller ordering.
func SampleRunContext(mgr *rngstream.Manager, runID string, cv float64, names []string) *RunContext {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	r := mgr.Stream(rngstream.PurposeTreatmentVariability, runID)
	mods := make(map[string]float64, len(sorted))
	for _, name := range sorted {
		if _, dup := mods[name]; dup {
			continue
		}
		mods[name] = rngstream.Lognormal(r, 1.0, cv)
	}
	return &RunContext{runID: runID, modifiers: mods}
}

// RunID returns the run this context belongs to.
func (rc *RunContext) RunID() string {
	return rc.runID
}

// Modifier returns the named modifier, or 1 when the name was never sampled.
func (rc *RunContext) Modifier(name string) float64 {
	if rc == nil {
		return 1
	}
	if m, ok := rc.modifiers[name]; ok {
		return m
	}
	return 1
}

// Names returns the sampled modifier names in sorted order.
func (rc *RunContext) Names() []string {
	names := make([]string, 0, len(rc.modifiers))
	for k := range rc.modifiers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// #endregion run-context
