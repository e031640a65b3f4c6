package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent interactions",
		RunE:  runHistory,
	}

	cmd.Flags().IntP("number", "n", 10, "Maximum records")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("number")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := internal.OpenInteractionLog(cfg.InteractionsPath)
	if err != nil {
		return err
	}
	defer log.Close()

	records, err := log.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, rec := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s  %.2f  %s\n",
			rec.Timestamp.Format("2006-01-02 15:04"), rec.Intent, rec.Confidence, rec.Query)
	}

	return nil
}
