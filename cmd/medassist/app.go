package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"medassist/internal"
)

// app bundles the wired engine with the resources it owns.
type app struct {
	cfg          *internal.Config
	engine       *internal.RagEngine
	interactions internal.InteractionStore
	embedder     internal.Embedder
	generator    internal.Generator
	logger       *logrus.Logger
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	return logger
}

func loadConfig(cmd *cobra.Command) (*internal.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return internal.LoadConfig(path)
}

// newApp builds the full engine: embedder (hard dependency), index,
// knowledge store, generator (best effort) and interaction log (best
// effort). The model-less degraded mode is handled inside the engine.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	logger := newLogger(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	embedder, err := internal.NewLocalEmbedder(
		cfg.Embeddings.ModelPath,
		cfg.Embeddings.FallbackModelPath,
		cfg.Embeddings.Dimension,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding model is required: %w", err)
	}

	index, err := internal.NewChunkIndex(cfg.IndexDir, embedder, logger)
	if err != nil {
		embedder.Close()
		return nil, err
	}
	index.ShowProgress(true)

	knowledge := internal.NewKnowledgeStore(cfg.KnowledgePath, logger)

	generator := selectGenerator(ctx, cfg, logger)

	var interactions internal.InteractionStore
	if cfg.InteractionsPath != "" {
		log, err := internal.OpenInteractionLog(cfg.InteractionsPath)
		if err != nil {
			logger.WithError(err).Warn("interaction log unavailable")
		} else {
			interactions = log
		}
	}

	engine := internal.NewRagEngine(internal.EngineOptions{
		Embedder:          embedder,
		Index:             index,
		Knowledge:         knowledge,
		Generator:         generator,
		Interactions:      interactions,
		TopK:              cfg.Retrieval.TopK,
		Threshold:         cfg.Retrieval.Threshold,
		EmergencyResponse: cfg.EmergencyResponse,
		Logger:            logger,
	})

	if err := engine.Initialize(ctx); err != nil {
		embedder.Close()
		if generator != nil {
			generator.Close()
		}
		if interactions != nil {
			interactions.Close()
		}
		return nil, err
	}

	return &app{
		cfg:          cfg,
		engine:       engine,
		interactions: interactions,
		embedder:     embedder,
		generator:    generator,
		logger:       logger,
	}, nil
}

// selectGenerator prefers the local model; with no local artifact it falls
// back to a configured remote provider, and with neither the engine runs
// retrieval-only.
func selectGenerator(ctx context.Context, cfg *internal.Config, logger *logrus.Logger) internal.Generator {
	if _, err := os.Stat(cfg.ModelPath); err == nil {
		modelCfg := cfg.Model
		if internal.DetectHardware() == internal.DeviceCPU {
			modelCfg.GPULayers = 0
		}
		return internal.NewLlamaGenerator(cfg.ModelPath, modelCfg, logger)
	}

	if cfg.DefaultProvider != "" {
		providerCfg, ok := cfg.Providers[cfg.DefaultProvider]
		if ok {
			remote, err := internal.NewRemoteGenerator(ctx, internal.ProviderSettings{
				Provider: cfg.DefaultProvider,
				APIKey:   providerCfg.APIKey,
				BaseURL:  providerCfg.BaseURL,
				Model:    providerCfg.Model,
			}, logger)
			if err != nil {
				logger.WithError(err).Warn("remote provider unavailable")
				return nil
			}
			return remote
		}
	}

	logger.WithField("path", cfg.ModelPath).Warn("no language model available, running retrieval-only")
	return nil
}

func (a *app) close() {
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.generator != nil {
		a.generator.Close()
	}
	if a.interactions != nil {
		a.interactions.Close()
	}
}
