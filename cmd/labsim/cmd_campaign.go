package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/honest-lab/internal/audit"
	"github.com/danielpatrickdp/honest-lab/internal/eval"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
	"github.com/danielpatrickdp/honest-lab/internal/orchestrator"
	"github.com/danielpatrickdp/honest-lab/internal/receipt"
	"github.com/danielpatrickdp/honest-lab/internal/state"
)

func newCampaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Run a campaign from calibration until the budget is spent",
		Long: `Run a whole campaign. Event logs are written to <data_dir>/<campaign>,
runs and belief versions to the SQLite database at db_path. With --verify
the logs are audited as soon as the campaign ends.

Examples:
  labsim campaign --name screen1 --seed 42
  labsim campaign --name screen1 --force --verify
  labsim campaign --budget 96 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("name") {
				cfg.Campaign.Campaign, _ = cmd.Flags().GetString("name")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			if cmd.Flags().Changed("budget") {
				cfg.Campaign.Budget, _ = cmd.Flags().GetInt("budget")
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers, _ = cmd.Flags().GetInt("workers")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			verify, _ := cmd.Flags().GetBool("verify")

			logDir := filepath.Join(cfg.DataDir, cfg.Campaign.Campaign)
			if err := prepareLogDir(logDir, force); err != nil {
				return err
			}
			events, err := logging.OpenEventLog(logDir, cfg.Campaign.Campaign)
			if err != nil {
				return err
			}
			defer events.Close()

			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return fmt.Errorf("create database dir: %w", err)
			}
			store, err := state.NewStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			o, err := orchestrator.New(cfg.Campaign, orchestrator.Deps{
				Runner: newRunner(cfg, log),
				Belief: cfg.Belief,
				Drift:  cfg.Noise.Drift,
				Gates:  gate.Default(cfg.Gates),
				Events: events,
				Store:  store,
				Eval:   eval.NewEvalHarness(cfg.Eval),
				Logger: log,
			})
			if err != nil {
				return err
			}
			sum, err := o.Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := events.Close(); err != nil {
				return err
			}

			var verdict *audit.Verdict
			if verify {
				records, err := audit.ReadDir(logDir)
				if err != nil {
					return err
				}
				v := audit.Verify(records, audit.Options{Belief: cfg.Belief})
				verdict = &v
			}

			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{
					"log_dir": logDir,
					"summary": sum,
					"verdict": verdict,
				}); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), logDir, sum)
				if verdict != nil {
					printVerdict(cmd.OutOrStdout(), *verdict, false)
				}
			}
			if verdict != nil && !verdict.Pass {
				return fmt.Errorf("audit failed: %v", verdict.Codes())
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "campaign name (overrides config)")
	cmd.Flags().Int64("seed", 0, "campaign seed (overrides config)")
	cmd.Flags().Int("budget", 0, "wells budget (overrides config)")
	cmd.Flags().Int("workers", 0, "simulation workers (overrides config)")
	cmd.Flags().Bool("force", false, "replace existing event logs for this campaign")
	cmd.Flags().Bool("verify", false, "audit the event logs after the campaign")
	return cmd
}

// prepareLogDir refuses to append a second campaign onto existing logs: the
// verifier would read the repeated cycles as a violation.
func prepareLogDir(dir string, force bool) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read log dir: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if !force {
		return fmt.Errorf("event logs already exist in %s (use --force to replace them)", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear log dir: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, logDir string, sum orchestrator.Summary) {
	fmt.Fprintf(w, "Campaign %s\n", sum.CampaignID)
	fmt.Fprintf(w, "  logs:   %s\n", logDir)
	fmt.Fprintf(w, "  cycles: %d  wells: %d  reward: %.3f\n", len(sum.Cycles), sum.WellsUsed, sum.RewardTotal)
	for _, c := range sum.Cycles {
		line := fmt.Sprintf("  [%d] %-10s %-22s wells=%d", int(c.Cycle), c.Decision.Action, c.Decision.Justification.Rule, c.Wells)
		if c.Target != "" {
			line += " target=" + c.Target
		}
		if c.Receipt != nil {
			if c.Receipt.Refused {
				line += " refused(" + capGates(c.Receipt.Caps) + ")"
			} else {
				line += fmt.Sprintf(" claim=%q conf=%.2f", c.Receipt.Claim, c.Receipt.Confidence)
			}
		}
		if c.Reward != nil {
			line += fmt.Sprintf(" reward=%s(%+.2f)", c.Reward.Kind, c.Reward.Amount)
		}
		if c.CoverageGate != "" {
			line += " coverage_refused=" + c.CoverageGate
		}
		fmt.Fprintln(w, line)
	}
	f := sum.Final
	fmt.Fprintf(w, "  final: gate=%s debt=%.3f entropy=%.3f calibrated=%d receipts=%d\n",
		f.NoiseGate, f.HealthDebt, f.Entropy, len(f.CalibratedPositions), f.Receipts)
	if sum.Eval != nil {
		fmt.Fprintf(w, "  eval:  passed=%v %s\n", sum.Eval.Passed, sum.Eval.Reason)
	}
}

func capGates(caps []receipt.Cap) string {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.Gate)
	}
	return strings.Join(names, ",")
}
