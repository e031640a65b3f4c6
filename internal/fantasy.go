package internal

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
	"github.com/sirupsen/logrus"
)

type ProviderSettings struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

var _ Generator = (*RemoteGenerator)(nil)

// RemoteGenerator backs the Generator contract with a hosted LLM provider.
// It is selected when no local model file is configured but a provider is;
// the same post-processing and failure semantics as the local generator
// apply, so callers cannot tell the backends apart.
type RemoteGenerator struct {
	model  fantasy.LanguageModel
	name   string
	logger logrus.FieldLogger
}

func NewRemoteGenerator(ctx context.Context, cfg ProviderSettings, logger logrus.FieldLogger) (*RemoteGenerator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var provider fantasy.Provider
	var err error

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)

	case "anthropic":
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		provider, err = anthropic.New(opts...)

	case "openrouter":
		opts := []openrouter.Option{openrouter.WithAPIKey(cfg.APIKey)}
		provider, err = openrouter.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	model, err := provider.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("get language model: %w", err)
	}

	return &RemoteGenerator{
		model:  model,
		name:   fmt.Sprintf("%s/%s", cfg.Provider, cfg.Model),
		logger: logger,
	}, nil
}

func (r *RemoteGenerator) Generate(ctx context.Context, prompt string, params GenerateParams) string {
	agent := fantasy.NewAgent(r.model)

	result, err := agent.Generate(ctx, fantasy.AgentCall{
		Prompt: fmt.Sprintf("%s\n\n%s", systemPrompt, prompt),
	})
	if err != nil {
		r.logger.WithError(err).Error("remote generation failed")
		return generationErrorResponse
	}

	return CleanResponse(result.Response.Content.Text())
}

func (r *RemoteGenerator) Ready() bool {
	return r.model != nil
}

func (r *RemoteGenerator) ModelName() string {
	return r.name
}

func (r *RemoteGenerator) Close() error {
	return nil
}
