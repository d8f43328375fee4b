// Package proposal describes what an external policy asks the lab to run.
package proposal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
)

// ErrBudgetExceeded is returned when a proposal asks for more wells than remain.
var ErrBudgetExceeded = errors.New("wells budget exceeded")

// #region types
// Well is one requested well.
type Well struct {
	CellLine      string         `json:"cell_line" yaml:"cell_line"`
	Compound      string         `json:"compound" yaml:"compound"`
	DoseUM        float64        `json:"dose_um" yaml:"dose_um"`
	ExposureHours float64        `json:"exposure_hours" yaml:"exposure_hours"`
	Assay         string         `json:"assay" yaml:"assay"`
	Position      plate.Position `json:"position" yaml:"position"`
}

// ID is the stable identifier used to key the well's random streams.
func (w Well) ID() string {
	return w.Position.String()
}

// Key is the treatment condition the well replicates.
func (w Well) Key() observation.ConditionKey {
	return observation.ConditionKey{
		CellLine: w.CellLine,
		Compound: w.Compound,
		DoseUM:   w.DoseUM,
		TimeH:    w.ExposureHours,
		Assay:    w.Assay,
	}
}

// Proposal is a batch of wells plus the remaining wells budget.
type Proposal struct {
	Wells  []Well `json:"wells" yaml:"wells"`
	Budget int    `json:"budget" yaml:"budget"`
}

// Positions returns every requested position, sorted.
func (p Proposal) Positions() []plate.Position {
	out := make([]plate.Position, 0, len(p.Wells))
	for _, w := range p.Wells {
		out = append(out, w.Position)
	}
	plate.Sort(out)
	return out
}

// #endregion types

// #region validate
// Validate rejects physical violations only: budget overruns, off-plate or
// duplicated positions, and impossible doses or times. Design quality is Review's job.
func (p Proposal) Validate() error {
	if len(p.Wells) > p.Budget {
		return fmt.Errorf("%w: %d wells requested, %d remaining", ErrBudgetExceeded, len(p.Wells), p.Budget)
	}
	seen := make(map[plate.Position]bool, len(p.Wells))
	for i, w := range p.Wells {
		if !w.Position.Valid() {
			return fmt.Errorf("well %d: position %+v is off plate", i, w.Position)
		}
		if seen[w.Position] {
			return fmt.Errorf("well %d: position %s requested twice", i, w.Position)
		}
		seen[w.Position] = true
		if !finite(w.DoseUM) || !finite(w.ExposureHours) {
			return fmt.Errorf("well %d at %s: dose %v uM and exposure %v h must be finite", i, w.Position, w.DoseUM, w.ExposureHours)
		}
		if w.DoseUM < 0 || w.ExposureHours < 0 {
			return fmt.Errorf("well %d at %s: negative dose or exposure time", i, w.Position)
		}
		if w.CellLine == "" || w.Compound == "" {
			return fmt.Errorf("well %d at %s: cell line and compound are required", i, w.Position)
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// #endregion validate

// #region review
// Warning is a non-blocking design concern.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Review flags design confounds. It never blocks execution.
func Review(p Proposal, vehicles map[string]bool) []Warning {
	var warnings []Warning

	hasControl := false
	for _, w := range p.Wells {
		if vehicles[w.Compound] {
			hasControl = true
			break
		}
	}
	if !hasControl && len(p.Wells) > 0 {
		warnings = append(warnings, Warning{
			Code:    "missing_controls",
			Message: "no vehicle control wells; noise floor cannot be estimated from this batch",
		})
	}

	// Compound confounded with plate region: every well of a compound sits in one region
	// while controls sit in another.
	regions := map[string]map[plate.Region]bool{}
	for _, w := range p.Wells {
		if regions[w.Compound] == nil {
			regions[w.Compound] = map[plate.Region]bool{}
		}
		regions[w.Compound][w.Position.Region()] = true
	}
	compounds := make([]string, 0, len(regions))
	for c := range regions {
		compounds = append(compounds, c)
	}
	sort.Strings(compounds)
	for _, c := range compounds {
		if vehicles[c] || len(regions[c]) != 1 {
			continue
		}
		for _, v := range compounds {
			if !vehicles[v] || len(regions[v]) != 1 {
				continue
			}
			if onlyRegion(regions[c]) != onlyRegion(regions[v]) {
				warnings = append(warnings, Warning{
					Code:    "region_confound",
					Message: fmt.Sprintf("%s wells are all %s while %s controls are all %s", c, onlyRegion(regions[c]), v, onlyRegion(regions[v])),
				})
			}
		}
	}

	counts := map[observation.ConditionKey]int{}
	for _, w := range p.Wells {
		counts[w.Key()]++
	}
	keys := make([]observation.ConditionKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	observation.SortKeys(keys)
	for _, k := range keys {
		if counts[k] < 2 {
			warnings = append(warnings, Warning{
				Code:    "no_replicates",
				Message: "condition " + k.String() + " has " + strconv.Itoa(counts[k]) + " well",
			})
		}
	}
	return warnings
}

func onlyRegion(m map[plate.Region]bool) plate.Region {
	for r := range m {
		return r
	}
	return ""
}

// #endregion review
