package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "dittodrop",
		Short:         "dittodrop - temporary file drop with expiring downloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $XDG_CONFIG_HOME/dittodrop/config.yaml)")

	cmd.AddCommand(
		newStartCmd(&configPath),
		newInitCmd(&configPath),
		newSchemaCmd(),
		newVersionCmd(),
	)

	return cmd
}
