// Package lab executes proposals: it grows one simulated vessel per well,
// reads it through the noise model and assembles the sealed observation the
// agent is allowed to see, alongside a ground-truth results table that is not.
package lab

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/plate"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
	"github.com/danielpatrickdp/honest-lab/internal/rngstream"
)

// #region config
// Config holds runner settings.
type Config struct {
	Seed    int64
	Workers int
	Logger  *slog.Logger
}

// DefaultConfig returns a single-seed runner with four workers.
func DefaultConfig() Config {
	return Config{Seed: 0, Workers: 4}
}

// #endregion config

// #region request
// Request is one run of a proposal.
type Request struct {
	RunID           string
	Cycle           cycle.Cycle
	Proposal        proposal.Proposal
	ReferenceFloors noise.Floors // used when the proposal has no vehicle wells
}

// #endregion request

// #region row
// Row is one well of the results table. Readings are what the instrument saw;
// the remaining fields are simulator ground truth and never reach an Observation.
type Row struct {
	WellID        string                          `json:"well_id"`
	RunID         string                          `json:"run_id"`
	Position      plate.Position                  `json:"position"`
	Key           observation.ConditionKey        `json:"key"`
	Vehicle       bool                            `json:"vehicle"`
	Readings      map[observation.Channel]float64 `json:"readings"`
	CrossingHour  int                             `json:"crossing_hour"`
	TrueViability float64                         `json:"true_viability"`
	Deaths        map[biology.DeathCause]float64  `json:"deaths"`
	Committed     bool                            `json:"committed"`
	Contaminated  bool                            `json:"contaminated"`
}

// Canonical renders the row with full float precision in a fixed field order.
func (r Row) Canonical() string {
	var b strings.Builder
	b.WriteString(r.Key.String())
	for _, ch := range observation.Channels {
		b.WriteString("|")
		b.WriteString(string(ch))
		b.WriteString("=")
		b.WriteString(strconv.FormatFloat(r.Readings[ch], 'g', -1, 64))
	}
	b.WriteString("|crossing=")
	b.WriteString(strconv.Itoa(r.CrossingHour))
	b.WriteString("|viability=")
	b.WriteString(strconv.FormatFloat(r.TrueViability, 'g', -1, 64))
	for _, c := range biology.DeathCauses {
		b.WriteString("|")
		b.WriteString(string(c))
		b.WriteString("=")
		b.WriteString(strconv.FormatFloat(r.Deaths[c], 'g', -1, 64))
	}
	fmt.Fprintf(&b, "|committed=%t|contaminated=%t", r.Committed, r.Contaminated)
	return b.String()
}

// #endregion row

// #region table
// ResultsTable is every well of a run sorted by well id.
type ResultsTable struct {
	RunID string `json:"run_id"`
	Rows  []Row  `json:"rows"`
}

func (t *ResultsTable) sort() {
	sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i].WellID < t.Rows[j].WellID })
}

// Digest hashes the canonical rows. Equal digests mean a byte-for-byte numeric match.
func (t ResultsTable) Digest() uint64 {
	pairs := make(map[string]string, len(t.Rows))
	for _, r := range t.Rows {
		pairs[r.WellID] = r.Canonical()
	}
	return rngstream.Digest(pairs)
}

// Write prints the table as tab-separated text.
func (t ResultsTable) Write(w io.Writer) error {
	header := []string{"well", "cell_line", "compound", "dose_um", "time_h"}
	for _, ch := range observation.Channels {
		header = append(header, string(ch))
	}
	header = append(header, "crossing_h")
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range t.Rows {
		cols := []string{
			r.WellID, r.Key.CellLine, r.Key.Compound,
			strconv.FormatFloat(r.Key.DoseUM, 'g', -1, 64),
			strconv.FormatFloat(r.Key.TimeH, 'g', -1, 64),
		}
		for _, ch := range observation.Channels {
			cols = append(cols, strconv.FormatFloat(r.Readings[ch], 'f', 4, 64))
		}
		cols = append(cols, strconv.Itoa(r.CrossingHour))
		if _, err := fmt.Fprintln(w, strings.Join(cols, "\t")); err != nil {
			return fmt.Errorf("write row %s: %w", r.WellID, err)
		}
	}
	return nil
}

// #endregion table

// #region result
// Result is the outcome of one run.
type Result struct {
	Observation observation.Observation `json:"observation"`
	Table       ResultsTable            `json:"table"`
	Floors      noise.Floors            `json:"floors"`
	FloorSource string                  `json:"floor_source"` // "controls" | "reference" | "none"
	Warnings    []proposal.Warning      `json:"warnings,omitempty"`
	Instant     bool                    `json:"instant"` // some condition crossed at a single instant
	Suspects    []Suspect               `json:"suspects,omitempty"`
	Modifiers   map[string]float64      `json:"-"`
}

// #endregion result
