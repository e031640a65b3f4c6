package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the knowledge base and rebuild the index on change",
		RunE:  runWatch,
	}

	cmd.Flags().Duration("debounce", 500*time.Millisecond, "Debounce window for batching changes")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	debounce, _ := cmd.Flags().GetDuration("debounce")

	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)\n", a.cfg.KnowledgePath)

	err = internal.WatchKnowledge(cmd.Context(), a.cfg.KnowledgePath, debounce, a.engine.ReloadKnowledge, a.logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
