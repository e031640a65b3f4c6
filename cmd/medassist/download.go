package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"medassist/internal"
)

func NewDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the default model artifacts",
		Long:  `Fetch the default embedding model and, optionally, the quantized language model into the local cache.`,
		RunE:  runDownload,
	}

	cmd.Flags().Bool("llm", false, "Also download the quantized language model")
	cmd.Flags().String("token", "", "Hugging Face token for gated models")
	return cmd
}

func runDownload(cmd *cobra.Command, _ []string) error {
	withLLM, _ := cmd.Flags().GetBool("llm")
	token, _ := cmd.Flags().GetString("token")

	cacheDir, err := internal.DefaultModelCacheDir()
	if err != nil {
		return err
	}

	downloader := internal.NewDownloader(cacheDir, token)

	path, err := fetch(cmd, downloader, internal.DefaultEmbeddingModelURL, internal.DefaultEmbeddingModelFilename)
	if err != nil {
		return fmt.Errorf("download embedding model: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Embedding model: %s\n", path)

	if withLLM {
		path, err = fetch(cmd, downloader, internal.DefaultLLMURL, internal.DefaultLLMFilename)
		if err != nil {
			return fmt.Errorf("download language model: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Language model:  %s\n", path)
	}

	return nil
}

func fetch(cmd *cobra.Command, downloader *internal.Downloader, url, filename string) (string, error) {
	var bar *progressbar.ProgressBar

	return downloader.EnsureModel(cmd.Context(), url, filename, func(written, total int64) {
		if bar == nil {
			bar = progressbar.DefaultBytes(total, filename)
		}
		_ = bar.Set64(written)
	})
}
