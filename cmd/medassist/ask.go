package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a health question",
		Long:  `Run one question through the retrieval-augmented pipeline and print the answer.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	cmd.Flags().String("user", "", "User id recorded with the interaction")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	asJSON, _ := cmd.Flags().GetBool("json")
	userID, _ := cmd.Flags().GetString("user")

	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.QueryForUser(cmd.Context(), userID, question)

	var vErr *internal.ValidationError
	if errors.As(err, &vErr) {
		fmt.Fprintln(cmd.OutOrStdout(), vErr.Reason)
		return nil
	}
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Response)
	fmt.Fprintf(cmd.OutOrStdout(), "\n[intent: %s  confidence: %.2f  sources: %d  %.2fs]\n",
		result.Intent, result.Confidence, len(result.Retrieved), result.ProcessingTime)

	return nil
}
