package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/honest-lab/internal/audit"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [log-dir]",
		Short: "Audit a campaign's event logs offline",
		Long: `Re-check every receipt, reward, gate decision and cycle action in a
campaign's event logs. No simulator state is consulted. Exits non-zero when
any contract is broken.

Examples:
  labsim verify labdata/screen1
  labsim verify --file fixture.jsonl --narrative
  labsim verify labdata/screen1 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			narrative, _ := cmd.Flags().GetBool("narrative")
			if (file == "") == (len(args) == 0) {
				return errors.New("give exactly one of a log directory or --file")
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var records []audit.Record
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				records, err = audit.ReadJSONL(f)
				f.Close()
				if err != nil {
					return err
				}
			} else {
				records, err = audit.ReadDir(args[0])
				if err != nil {
					return err
				}
			}

			v := audit.Verify(records, audit.Options{Belief: cfg.Belief})
			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
					return err
				}
			} else {
				printVerdict(cmd.OutOrStdout(), v, narrative)
			}
			if !v.Pass {
				return fmt.Errorf("audit failed: %v", v.Codes())
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "audit a single JSONL file instead of a log directory")
	cmd.Flags().Bool("narrative", false, "print the per-cycle narrative")
	return cmd
}

func printVerdict(w io.Writer, v audit.Verdict, narrative bool) {
	status := "PASS"
	if !v.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "audit: %s (%d records, %d violations)\n", status, v.Records, len(v.Violations))
	for _, x := range v.Violations {
		fmt.Fprintf(w, "  seq=%d cycle=%d %s %s: %s\n", x.Seq, int(x.Cycle), x.Kind, x.Code, x.Detail)
	}
	if !narrative {
		return
	}
	for _, n := range v.Narrative {
		fmt.Fprintf(w, "cycle %d: %s (%s) receipts=%d refusals=%d reward=%.3f\n",
			int(n.Cycle), n.Action, n.Rule, n.Receipts, n.Refusals, n.RewardTotal)
		for _, l := range n.Lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
