package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			info := a.engine.Info()

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			generator := "retrieval-only"
			if info.GeneratorReady {
				generator = info.GeneratorName
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Device:     %s\n", internal.DetectHardware())
			fmt.Fprintf(cmd.OutOrStdout(), "Generator:  %s\n", generator)
			fmt.Fprintf(cmd.OutOrStdout(), "Embeddings: %s\n", info.EmbeddingModel)
			fmt.Fprintf(cmd.OutOrStdout(), "Knowledge:  %d entries, %d chunks\n",
				info.KnowledgeCount, info.ChunkCount)
			return nil
		},
	}
}
