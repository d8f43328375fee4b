package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the YAML file, the env file
and the environment have been applied.

Examples:
  labsim config                       # YAML
  labsim config --json                # JSON
  labsim config --config lab.yaml > resolved.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	}
}
