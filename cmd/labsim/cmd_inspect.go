package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/state"
)

// #region inspect

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [campaign-id]",
		Short: "Show campaigns, runs and belief versions from the database",
		Long: `Without arguments, list campaigns. With a campaign id, list its runs and
most recent belief versions. With --version, show one belief version.

Examples:
  labsim inspect
  labsim inspect 5b0d... --last 5
  labsim inspect --version 9e31... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			last, _ := cmd.Flags().GetInt("last")
			versionID, _ := cmd.Flags().GetString("version")

			store, err := openExistingStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case versionID != "":
				return runBeliefDetail(out, store, versionID, jsonOutput(cmd))
			case len(args) == 1:
				return runCampaignDetail(out, store, args[0], last, jsonOutput(cmd))
			default:
				return runCampaignList(out, store, jsonOutput(cmd))
			}
		},
	}
	cmd.Flags().Int("last", 20, "show N most recent belief versions")
	cmd.Flags().String("version", "", "show a single belief version")
	return cmd
}

// openExistingStore opens the database without creating one as a side effect.
func openExistingStore(path string) (*state.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return state.NewStore(path)
}

type campaignRow struct {
	CampaignID string `json:"campaign_id"`
	Seed       int64  `json:"seed"`
	CreatedAt  string `json:"created_at"`
}

func runCampaignList(w io.Writer, store *state.Store, jsonOut bool) error {
	campaigns, err := store.ListCampaigns()
	if err != nil {
		return err
	}
	rows := make([]campaignRow, len(campaigns))
	for i, c := range campaigns {
		rows[i] = campaignRow{CampaignID: c.CampaignID, Seed: c.Seed, CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z")}
	}
	if jsonOut {
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no campaigns found")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %12s  %s\n", "Campaign", "Seed", "Created")
	for _, r := range rows {
		fmt.Fprintf(w, "%-36s  %12d  %s\n", r.CampaignID, r.Seed, r.CreatedAt)
	}
	return nil
}

type runRow struct {
	RunID  string        `json:"run_id"`
	Cycle  int           `json:"cycle"`
	Action belief.Action `json:"action"`
	Wells  int           `json:"wells"`
	Digest string        `json:"digest"`
}

type beliefRow struct {
	VersionID string          `json:"version_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Snapshot  belief.Snapshot `json:"snapshot"`
}

type campaignDetail struct {
	CampaignID string      `json:"campaign_id"`
	Seed       int64       `json:"seed"`
	Active     string      `json:"active_version,omitempty"`
	Runs       []runRow    `json:"runs"`
	Beliefs    []beliefRow `json:"beliefs"`
}

func runCampaignDetail(w io.Writer, store *state.Store, campaignID string, last int, jsonOut bool) error {
	c, err := store.GetCampaign(campaignID)
	if err != nil {
		return err
	}
	runs, err := store.ListRuns(campaignID)
	if err != nil {
		return err
	}
	versions, err := store.ListBeliefs(campaignID, last)
	if err != nil {
		return err
	}

	out := campaignDetail{CampaignID: c.CampaignID, Seed: c.Seed}
	if active, err := store.GetCurrentBelief(campaignID); err == nil {
		out.Active = active.VersionID
	}
	for _, r := range runs {
		out.Runs = append(out.Runs, runRow{RunID: r.RunID, Cycle: int(r.Cycle), Action: r.Action, Wells: r.Wells, Digest: fmt.Sprintf("%016x", r.Digest)})
	}
	// store returns newest first; print chronologically
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		out.Beliefs = append(out.Beliefs, beliefRow{VersionID: v.VersionID, ParentID: v.ParentID, Snapshot: v.Snapshot})
	}
	if jsonOut {
		return writeJSON(w, out)
	}

	fmt.Fprintf(w, "Campaign: %s (seed %d)\n\n", out.CampaignID, out.Seed)
	fmt.Fprintf(w, "%-14s  %5s  %-10s  %5s  %s\n", "Run", "Cycle", "Action", "Wells", "Digest")
	for _, r := range out.Runs {
		fmt.Fprintf(w, "%-14s  %5d  %-10s  %5d  %s\n", r.RunID, r.Cycle, r.Action, r.Wells, r.Digest)
	}
	fmt.Fprintf(w, "\n%-12s  %5s  %-8s  %8s  %8s  %10s  %s\n", "Version", "Cycle", "Gate", "Debt", "Entropy", "Calibrated", "Receipts")
	for _, b := range out.Beliefs {
		marker := ""
		if b.VersionID == out.Active {
			marker = " *"
		}
		s := b.Snapshot
		fmt.Fprintf(w, "%-12s  %5d  %-8s  %8.3f  %8.3f  %10d  %d%s\n",
			shortID(b.VersionID), int(s.Cycle), s.NoiseGate, s.HealthDebt, s.Entropy, len(s.CalibratedPositions), s.Receipts, marker)
	}
	return nil
}

func runBeliefDetail(w io.Writer, store *state.Store, versionID string, jsonOut bool) error {
	v, err := store.GetBelief(versionID)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, beliefRow{VersionID: v.VersionID, ParentID: v.ParentID, Snapshot: v.Snapshot})
	}
	s := v.Snapshot
	fmt.Fprintf(w, "Version:    %s\n", v.VersionID)
	fmt.Fprintf(w, "Parent:     %s\n", valueOrDefault(v.ParentID, "(root)"))
	fmt.Fprintf(w, "Campaign:   %s\n", v.CampaignID)
	fmt.Fprintf(w, "Cycle:      %d\n", int(s.Cycle))
	fmt.Fprintf(w, "Noise gate: %s (pooled sigma %.4f)\n", s.NoiseGate, s.PooledSigma)
	fmt.Fprintf(w, "Debt:       %.3f\n", s.HealthDebt)
	fmt.Fprintf(w, "Entropy:    %.3f\n", s.Entropy)
	fmt.Fprintf(w, "Receipts:   %d\n", s.Receipts)
	fmt.Fprintf(w, "Calibrated: %d positions\n", len(s.CalibratedPositions))
	for _, p := range s.CalibratedPositions {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// #endregion inspect

// #region export

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write a stored run's results table as TSV",
		Long: `Write the results table of a stored run, ground truth included, as
tab-separated text. Useful as a fixture for offline analysis.

Examples:
  labsim export screen1-c003
  labsim export screen1-c003 --out c003.tsv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			outPath, _ := cmd.Flags().GetString("out")

			store, err := openExistingStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.Results(args[0])
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no results stored for run %s", args[0])
			}
			table := lab.ResultsTable{RunID: args[0], Rows: rows}
			if outPath != "" {
				if err := writeTable(outPath, table); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s (digest %016x)\n", len(rows), outPath, table.Digest())
				return nil
			}
			return table.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("out", "", "write to this file instead of stdout")
	return cmd
}

// #endregion export
