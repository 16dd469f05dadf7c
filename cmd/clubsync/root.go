package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(cc *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clubsync",
		Short:         "Reconcile Swiss volleyball club records into the canonical directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cc.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cc.envFile, "env-file", cc.envFile, "Optional .env file loaded before the environment is read")

	rootCmd.AddCommand(newRunCommand(cc))
	rootCmd.AddCommand(newSweepCommand(cc))
	rootCmd.AddCommand(newMergeCommand(cc))
	rootCmd.AddCommand(newShowCommand(cc))
	rootCmd.AddCommand(newListCommand(cc))

	return rootCmd
}
