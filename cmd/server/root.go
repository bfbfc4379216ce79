package main

import (
	"stem-splitter/config"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	loadConfig := func() (*config.Config, error) {
		return config.Load(configFlag)
	}

	rootCmd := &cobra.Command{
		Use:           "stem-splitter",
		Short:         "Split audio files into instrument stems",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $STEMS_CONFIG)")

	rootCmd.AddCommand(newServeCommand(loadConfig))
	rootCmd.AddCommand(newSeparateCommand(loadConfig))

	return rootCmd
}
