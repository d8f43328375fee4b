// Command labsim runs the synthetic cell-culture lab: single proposals,
// whole campaigns, the gRPC lab server, and the offline log verifier.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/honest-lab/internal/config"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labsim",
		Short:         "Synthetic cell-culture lab with audited confidence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().String("log-level", "", "override log level: info, debug, trace")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newRunCmd(),
		newCampaignCmd(),
		newVerifyCmd(),
		newServeCmd(),
		newDescribeCmd(),
		newInspectCmd(),
		newExportCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the labsim version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "labsim", version)
		},
	}
}

// #region shared

// loadConfig resolves the persistent flags into a validated config and a
// logger writing to the command's stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()), nil
}

func newRunner(cfg *config.Config, log *slog.Logger) *lab.Runner {
	lc := cfg.Lab()
	lc.Logger = log
	return lab.NewRunner(cfg.Params, cfg.Biology, cfg.Noise, lc)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion shared
