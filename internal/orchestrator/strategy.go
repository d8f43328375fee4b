package orchestrator

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
)

// #region design-definitions

// design describes how an action splits its wells.
type design struct {
	ControlShare float64 // fraction of wells given to vehicle controls
	AllDoses     bool    // false runs only the middle dose
	Claims       bool    // whether the cycle ends in a confidence receipt
}

// designs maps every well-spending action to its plate design.
var designs = map[belief.Action]design{
	belief.ActionCalibrate: {ControlShare: 1, AllDoses: false, Claims: false},
	belief.ActionReplicate: {ControlShare: 0.5, AllDoses: false, Claims: true},
	belief.ActionExpand:    {ControlShare: 0.25, AllDoses: true, Claims: true},
}

// minControls keeps enough vehicle wells in every run to estimate floors.
const minControls = 2

// #endregion

// #region layout

// layout returns n positions alternating between edge and center wells, so
// any contiguous block of two or more spans both regions.
func layout(plateID string, n int) []plate.Position {
	var edge, center []plate.Position
	for r := 0; r < plate.Rows; r++ {
		for c := 0; c < plate.Cols; c++ {
			p := plate.Position{Plate: plateID, Row: r, Col: c}
			if p.Region() == plate.RegionEdge {
				edge = append(edge, p)
			} else {
				center = append(center, p)
			}
		}
	}
	out := make([]plate.Position, 0, n)
	for i, j := 0, 0; len(out) < n && (i < len(edge) || j < len(center)); {
		if i < len(edge) && (len(out)%2 == 0 || j >= len(center)) {
			out = append(out, edge[i])
			i++
			continue
		}
		out = append(out, center[j])
		j++
	}
	return out
}

// #endregion

// #region design

// Design builds the proposal for an action. Wells are capped at one plate.
// Calibration plates are all vehicle; other designs put controls first, then
// equal blocks per dose of the target compound.
func Design(cfg Config, params biology.Params, action belief.Action, wells int, target string, budget int) (proposal.Proposal, error) {
	d, ok := designs[action]
	if !ok {
		return proposal.Proposal{}, fmt.Errorf("design %s: action spends no wells", action)
	}
	wells = min(wells, budget, plate.Rows*plate.Cols)
	if wells <= 0 {
		return proposal.Proposal{}, fmt.Errorf("design %s: no wells available", action)
	}

	var doses []float64
	if d.ControlShare < 1 {
		c, err := params.Compound(target)
		if err != nil {
			return proposal.Proposal{}, fmt.Errorf("design %s: %w", action, err)
		}
		if err := biology.ValidateIC50(c); err != nil {
			return proposal.Proposal{}, fmt.Errorf("design %s: %w", action, err)
		}
		mult := cfg.DoseMultiples
		if !d.AllDoses && len(mult) > 0 {
			mult = mult[len(mult)/2 : len(mult)/2+1]
		}
		for _, m := range mult {
			doses = append(doses, m*c.IC50uM)
		}
	}

	controls := wells
	perDose := 0
	if len(doses) > 0 {
		controls = max(minControls, int(math.Round(float64(wells)*d.ControlShare)))
		perDose = (wells - controls) / len(doses)
		if perDose < 2 && len(doses) > 1 {
			doses = doses[len(doses)/2 : len(doses)/2+1]
			perDose = wells - controls
		}
		if perDose < 2 {
			doses, perDose = nil, 0
		}
		controls = wells - perDose*len(doses)
	}

	positions := layout(cfg.PlateID, wells)
	p := proposal.Proposal{Budget: budget}
	next := 0
	add := func(compound string, dose float64, n int) {
		for i := 0; i < n; i++ {
			p.Wells = append(p.Wells, proposal.Well{
				CellLine:      cfg.CellLine,
				Compound:      compound,
				DoseUM:        dose,
				ExposureHours: cfg.ExposureHours,
				Assay:         cfg.Assay,
				Position:      positions[next],
			})
			next++
		}
	}
	add(cfg.Vehicle, 0, controls)
	for _, dose := range doses {
		add(target, dose, perDose)
	}
	return p, nil
}

// #endregion
