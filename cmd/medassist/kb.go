package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewKbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	cmd.AddCommand(
		newKbShowCmd(),
		newKbSeedCmd(),
	)

	return cmd
}

func newKbShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List knowledge base entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := internal.NewKnowledgeStore(cfg.KnowledgePath, logger)
			entries, err := store.Load()
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s/%s] %s\n", entry.Category, entry.Severity, entry.Question)
			}
			return nil
		},
	}
}

func newKbSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in seed entries to the knowledge base path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := internal.NewKnowledgeStore(cfg.KnowledgePath, logger)
			entries, err := store.Seed()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d entries to %s.\n", len(entries), cfg.KnowledgePath)
			return nil
		},
	}
}
