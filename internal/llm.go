package internal

import "context"

// Embedder converts text to fixed-dimension, L2-normalized vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// GenerateParams are per-call decoding overrides. Zero values fall back to
// the configuration in force on the generator, which may be the reduced
// post-fallback configuration on a degraded instance.
type GenerateParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
}

// Generator produces text for a prompt. Implementations never propagate
// generation failures: a broken backend yields a fixed apologetic string and
// an unloaded backend yields a fixed unavailability notice, so callers always
// receive renderable text.
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) string
	Ready() bool
	ModelName() string
	Close() error
}

// CosineSimilarity is the dot product of two equal-dimension vectors. Inputs
// are assumed to be unit-normalized, so the result lies in [-1, 1].
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
