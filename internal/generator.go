package internal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ModelConfig holds the decoding and resource parameters for the local
// language model. It is immutable for the generator's lifetime except when
// the fallback ladder rewrites it during degraded initialization.
type ModelConfig struct {
	ContextSize   int     `yaml:"context_size"`
	GPULayers     int     `yaml:"gpu_layers"`
	BatchSize     int     `yaml:"batch_size"`
	MaxTokens     int     `yaml:"max_tokens"`
	Threads       int     `yaml:"threads"`
	Temperature   float32 `yaml:"temperature"`
	TopP          float32 `yaml:"top_p"`
	TopK          int     `yaml:"top_k"`
	RepeatPenalty float32 `yaml:"repeat_penalty"`
	UseMmap       bool    `yaml:"use_mmap"`
	F16KV         bool    `yaml:"f16_kv"`
	OffloadKQV    bool    `yaml:"offload_kqv"`
}

// DefaultModelConfig is tuned for an 8B Q3_K_M model on a 4GB-VRAM card in
// hybrid CPU+GPU mode.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ContextSize:   1536,
		GPULayers:     26,
		BatchSize:     256,
		MaxTokens:     256,
		Threads:       DefaultThreads(),
		Temperature:   0.3,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		UseMmap:       true,
		F16KV:         true,
		OffloadKQV:    true,
	}
}

type generatorState int

const (
	stateUninitialized generatorState = iota
	stateLoading
	stateReady
	stateFailed
)

// fallbackRung is one step of the degraded-initialization ladder. Each rung
// trades capacity for robustness: fewer GPU-resident layers, smaller context
// and batch, a tighter token budget, and slightly higher temperature.
type fallbackRung struct {
	GPULayers   int
	ContextSize int
	BatchSize   int
	MaxTokens   int
	Threads     int // 0 keeps the current thread count
	Temperature float32
}

var fallbackLadder = []fallbackRung{
	{GPULayers: 24, ContextSize: 1536, BatchSize: 256, MaxTokens: 256, Temperature: 0.3},
	{GPULayers: 22, ContextSize: 1536, BatchSize: 192, MaxTokens: 192, Temperature: 0.3},
	{GPULayers: 20, ContextSize: 1536, BatchSize: 128, MaxTokens: 128, Temperature: 0.4},
	{GPULayers: 0, ContextSize: 1024, BatchSize: 64, MaxTokens: 64, Threads: 4, Temperature: 0.5},
}

const systemPrompt = `You are MedAI, a helpful medical AI assistant.
Provide clear, complete medical information. Always include safety disclaimers.
Never diagnose or prescribe. Encourage consulting healthcare professionals.
Keep responses informative and complete.`

var stopSequences = []string{"<|end_of_text|>", "<|eot_id|>", "###", "Disclaimer:"}

const (
	modelUnavailableResponse = "Model not available. Please check configuration and try again."

	generationErrorResponse = `I apologize, but I encountered an issue processing your request.

**Please try:**
1. Rephrasing your question to be more specific
2. Asking about general health topics
3. Consulting a healthcare professional for specific concerns

**Remember:** I provide general health information only. For personal medical advice, please consult with a doctor or healthcare provider.`

	emptyGenerationResponse = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	medicalDisclaimer = "**Medical Disclaimer:** This information is for educational purposes only. Always consult with a healthcare professional for medical advice."
)

// llamaRuntime is the loaded model behind a LlamaGenerator. Factored out so
// the fallback ladder can be exercised without a real GGUF file.
type llamaRuntime interface {
	generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
	close()
}

type runtimeLoader func(modelPath string, cfg ModelConfig) (llamaRuntime, error)

var _ Generator = (*LlamaGenerator)(nil)

// LlamaGenerator wraps a quantized local language model. Initialization
// attempts the full configuration first and walks the fallback ladder on
// out-of-memory failures; if every rung fails the generator stays usable but
// answers every call with a fixed unavailability notice. A single instance
// supports at most one in-flight generation; calls are serialized internally.
type LlamaGenerator struct {
	mu        sync.Mutex
	runtime   llamaRuntime
	cfg       ModelConfig
	modelPath string
	state     generatorState
	rung      int // -1 while on the full configuration
	logger    logrus.FieldLogger
}

func NewLlamaGenerator(modelPath string, cfg ModelConfig, logger logrus.FieldLogger) *LlamaGenerator {
	return newLlamaGenerator(modelPath, cfg, logger, loadGollamaRuntime)
}

func newLlamaGenerator(modelPath string, cfg ModelConfig, logger logrus.FieldLogger, load runtimeLoader) *LlamaGenerator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	g := &LlamaGenerator{
		cfg:       cfg,
		modelPath: modelPath,
		state:     stateUninitialized,
		rung:      -1,
		logger:    logger,
	}

	g.initialize(load)
	return g
}

func (g *LlamaGenerator) initialize(load runtimeLoader) {
	g.state = stateLoading

	if g.modelPath == "" {
		g.logger.Warn("no language model path configured, running retrieval-only")
		g.state = stateFailed
		return
	}
	if _, err := os.Stat(g.modelPath); err != nil {
		g.logger.WithField("path", g.modelPath).Warn("language model not found, running retrieval-only")
		g.state = stateFailed
		return
	}

	runtime, err := load(g.modelPath, g.cfg)
	if err == nil {
		g.runtime = runtime
		g.state = stateReady
		g.logger.WithFields(logrus.Fields{
			"model":      g.modelPath,
			"gpu_layers": g.cfg.GPULayers,
			"context":    g.cfg.ContextSize,
		}).Info("language model loaded")
		return
	}

	if !isOutOfMemory(err) {
		g.logger.WithError(err).Warn("language model load failed, running retrieval-only")
		g.state = stateFailed
		return
	}

	g.logger.WithError(err).Warn("out of memory loading model, applying fallback ladder")
	g.descendLadder(load)
}

func (g *LlamaGenerator) descendLadder(load runtimeLoader) {
	for i, rung := range fallbackLadder {
		cfg := g.cfg
		cfg.GPULayers = rung.GPULayers
		cfg.ContextSize = rung.ContextSize
		cfg.BatchSize = rung.BatchSize
		cfg.MaxTokens = rung.MaxTokens
		cfg.Temperature = rung.Temperature
		if rung.Threads > 0 {
			cfg.Threads = rung.Threads
		}

		runtime, err := load(g.modelPath, cfg)
		if err != nil {
			g.logger.WithError(err).WithField("gpu_layers", rung.GPULayers).
				Warn("fallback attempt failed")
			continue
		}

		g.runtime = runtime
		g.cfg = cfg
		g.rung = i
		g.state = stateReady
		g.logger.WithFields(logrus.Fields{
			"gpu_layers":  cfg.GPULayers,
			"context":     cfg.ContextSize,
			"batch":       cfg.BatchSize,
			"max_tokens":  cfg.MaxTokens,
			"temperature": cfg.Temperature,
		}).Warn("language model loaded with reduced configuration")
		return
	}

	g.logger.Error("all fallback attempts failed, running retrieval-only")
	g.state = stateFailed
}

func isOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "memory")
}

func (g *LlamaGenerator) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateReady
}

// Degraded reports whether the model loaded through the fallback ladder, and
// on which rung it landed.
func (g *LlamaGenerator) Degraded() (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rung >= 0, g.rung
}

func (g *LlamaGenerator) ModelName() string {
	return g.modelPath
}

// Config returns the configuration currently in force, which is the reduced
// one after a ladder descent.
func (g *LlamaGenerator) Config() ModelConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Generate runs one constrained completion. Unset params default to the
// configuration in force. Failures never escape: a broken generation returns
// a fixed apologetic string, an unloaded model a fixed unavailability notice.
func (g *LlamaGenerator) Generate(ctx context.Context, prompt string, params GenerateParams) (out string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != stateReady {
		return modelUnavailableResponse
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.WithField("panic", r).Error("generation panicked")
			out = generationErrorResponse
		}
	}()

	g.fillDefaults(&params)

	raw, err := g.runtime.generate(ctx, formatChatPrompt(prompt), params)
	if err != nil {
		g.logger.WithError(err).Error("generation failed")
		return generationErrorResponse
	}

	return CleanResponse(raw)
}

func (g *LlamaGenerator) fillDefaults(p *GenerateParams) {
	if p.MaxTokens <= 0 {
		p.MaxTokens = g.cfg.MaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = g.cfg.Temperature
	}
	if p.TopP <= 0 {
		p.TopP = g.cfg.TopP
	}
	if p.TopK <= 0 {
		p.TopK = g.cfg.TopK
	}
	if p.RepeatPenalty <= 0 {
		p.RepeatPenalty = g.cfg.RepeatPenalty
	}
}

func (g *LlamaGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.runtime != nil {
		g.runtime.close()
		g.runtime = nil
	}
	g.state = stateFailed
	return nil
}

// formatChatPrompt wraps the user prompt in the Llama-3 instruct template
// with the fixed safety-oriented system instruction.
func formatChatPrompt(prompt string) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n")
	sb.WriteString(systemPrompt)
	sb.WriteString("<|eot_id|><|start_header_id|>user<|end_header_id|>\n\n")
	sb.WriteString(prompt)
	sb.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

// CleanResponse post-processes raw model output, in order: repair a trailing
// truncation marker, strip a trailing colon, ensure terminal punctuation,
// drop exact-duplicate lines (first occurrence wins), and append the
// standard disclaimer when the text carries none.
func CleanResponse(response string) string {
	response = strings.TrimSpace(response)
	if response == "" {
		return emptyGenerationResponse
	}

	if strings.HasSuffix(response, "...") {
		response = strings.TrimSpace(strings.TrimSuffix(response, "..."))
		if response != "" && !hasTerminalPunctuation(response) {
			response += "."
		}
	}

	response = strings.TrimSuffix(response, ":")

	if response != "" && !hasTerminalPunctuation(response) {
		response += "."
	}

	lines := strings.Split(response, "\n")
	seen := make(map[string]struct{}, len(lines))
	unique := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		unique = append(unique, line)
	}
	response = strings.Join(unique, "\n")

	lower := strings.ToLower(response)
	if !strings.Contains(lower, "disclaimer") && !strings.Contains(lower, "consult") {
		response += fmt.Sprintf("\n\n%s", medicalDisclaimer)
	}

	return response
}

func hasTerminalPunctuation(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
