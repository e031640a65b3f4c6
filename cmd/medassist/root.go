package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "medassist",
		Short:         "Local retrieval-augmented health assistant",
		Long:          `Answers free-text health questions by combining semantic retrieval over a medical knowledge base with a locally-hosted language model, behind a multi-stage safety gate.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "medassist.yaml", "Path to the config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(
		NewAskCmd(),
		NewIndexCmd(),
		NewKbCmd(),
		NewHistoryCmd(),
		NewStatusCmd(),
		NewWatchCmd(),
		NewDownloadCmd(),
	)

	return rootCmd
}
