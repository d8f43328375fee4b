package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/honest-lab/internal/labrpc"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lab over gRPC",
		Long: `Serve one seeded lab runner over gRPC until interrupted. Clients submit
proposals and receive observations; ground truth never leaves the server.

Examples:
  labsim serve
  labsim serve --addr 0.0.0.0:50061`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr := cfg.ListenAddr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			log.Info("lab serving", "addr", lis.Addr().String(), "seed", cfg.Seed, "workers", cfg.Workers)
			return labrpc.Serve(cmd.Context(), lis, labrpc.NewServer(newRunner(cfg, log), log))
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides listen_addr)")
	return cmd
}

func newDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Ask a lab server what proposals may name",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr := cfg.ListenAddr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			client, err := labrpc.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()
			d, err := client.Describe(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "compounds:  %s\n", strings.Join(d.Compounds, ", "))
			fmt.Fprintf(out, "vehicles:   %s\n", strings.Join(d.Vehicles, ", "))
			fmt.Fprintf(out, "cell lines: %s\n", strings.Join(d.CellLines, ", "))
			channels := make([]string, len(d.Channels))
			for i, ch := range d.Channels {
				channels[i] = string(ch)
			}
			fmt.Fprintf(out, "channels:   %s\n", strings.Join(channels, ", "))
			return nil
		},
	}
	cmd.Flags().String("addr", "", "server address (overrides listen_addr)")
	return cmd
}
