package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the vector search index",
		Long:  `Rebuild or inspect the semantic search index over the knowledge base.`,
	}

	cmd.AddCommand(
		newIndexRebuildCmd(),
		newIndexStatusCmd(),
	)

	return cmd
}

func newIndexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed all knowledge chunks and rebuild the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.ReloadKnowledge(cmd.Context()); err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}

			info := a.engine.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "Index rebuilt: %d entries, %d chunks.\n",
				info.KnowledgeCount, info.ChunkCount)
			return nil
		},
	}
}

func newIndexStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			info := a.engine.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "Entries: %d\nChunks:  %d\n",
				info.KnowledgeCount, info.ChunkCount)
			return nil
		},
	}
}
