package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/labrpc"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <proposal.yaml>",
		Short: "Execute one proposal and print its observation",
		Long: `Execute one proposal file (YAML or JSON) against the lab.

Locally the results table, which carries simulator ground truth, can be
written with --table. Against a remote lab (--addr) only the observation
comes back.

Examples:
  labsim run plate.yaml --run-id r1 --cycle 0
  labsim run plate.yaml --run-id r1 --table r1.tsv
  labsim run plate.yaml --run-id r2 --addr 127.0.0.1:50061`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			c, _ := cmd.Flags().GetInt("cycle")
			tablePath, _ := cmd.Flags().GetString("table")
			addr, _ := cmd.Flags().GetString("addr")
			if runID == "" {
				return errors.New("--run-id is required")
			}
			if addr != "" && tablePath != "" {
				return errors.New("--table is only available for local runs")
			}

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p, err := readProposal(args[0])
			if err != nil {
				return err
			}

			if addr != "" {
				client, err := labrpc.NewClient(addr)
				if err != nil {
					return err
				}
				defer client.Close()
				resp, err := client.Run(cmd.Context(), labrpc.RunRequest{RunID: runID, Cycle: cycle.Cycle(c), Proposal: p})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			res, err := newRunner(cfg, log).Execute(cmd.Context(), lab.Request{RunID: runID, Cycle: cycle.Cycle(c), Proposal: p})
			if err != nil {
				return err
			}
			if tablePath != "" {
				if err := writeTable(tablePath, res.Table); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), labrpc.RunResponse{
				RunID:       runID,
				Digest:      fmt.Sprintf("%x", res.Table.Digest()),
				Observation: res.Observation,
				Warnings:    res.Warnings,
				FloorSource: res.FloorSource,
				Instant:     res.Instant,
				Suspects:    res.Suspects,
			})
		},
	}
	cmd.Flags().String("run-id", "", "run identifier; keys the run's random streams")
	cmd.Flags().Int("cycle", 0, "cycle the run belongs to")
	cmd.Flags().String("table", "", "write the results table (TSV) to this path")
	cmd.Flags().String("addr", "", "execute on a remote lab server instead of locally")
	return cmd
}

// readProposal decodes a proposal file. JSON is valid YAML, so one decoder serves both.
func readProposal(path string) (proposal.Proposal, error) {
	var p proposal.Proposal
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading proposal: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing proposal: %w", err)
	}
	return p, nil
}

func writeTable(path string, t lab.ResultsTable) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create table file: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
