package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultEmergencyResponse = "⚠️ EMERGENCY DETECTED: Please seek immediate medical attention or call emergency services (911/112)!"

type EmbeddingsConfig struct {
	ModelPath         string `yaml:"model_path"`
	FallbackModelPath string `yaml:"fallback_model_path,omitempty"`
	Dimension         int    `yaml:"dimension,omitempty"`
}

type RetrievalConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float32 `yaml:"threshold"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

type Config struct {
	KnowledgePath     string                    `yaml:"knowledge_path"`
	IndexDir          string                    `yaml:"index_dir"`
	InteractionsPath  string                    `yaml:"interactions_path"`
	ModelPath         string                    `yaml:"model_path"`
	Embeddings        EmbeddingsConfig          `yaml:"embeddings"`
	Model             ModelConfig               `yaml:"model"`
	Retrieval         RetrievalConfig           `yaml:"retrieval"`
	Providers         map[string]ProviderConfig `yaml:"providers,omitempty"`
	DefaultProvider   string                    `yaml:"default_provider,omitempty"`
	EmergencyResponse string                    `yaml:"emergency_response,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		KnowledgePath:    filepath.Join("data", "medical_knowledge", "medical_faqs.json"),
		IndexDir:         filepath.Join("data", "vector_db"),
		InteractionsPath: filepath.Join("data", "interactions.db"),
		ModelPath:        filepath.Join("models", "Meta-Llama-3-8B-Instruct.Q3_K_M.gguf"),
		Embeddings: EmbeddingsConfig{
			ModelPath: filepath.Join("models", DefaultEmbeddingModelFilename),
		},
		Model: DefaultModelConfig(),
		Retrieval: RetrievalConfig{
			TopK:      3,
			Threshold: 0.3,
		},
		Providers:         make(map[string]ProviderConfig),
		EmergencyResponse: DefaultEmergencyResponse,
	}
}

// LoadConfig reads a yaml config file, falling back to defaults when it does
// not exist. Environment variables override the model and knowledge paths.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if cfg.EmergencyResponse == "" {
		cfg.EmergencyResponse = DefaultEmergencyResponse
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.Threshold == 0 {
		cfg.Retrieval.Threshold = 0.3
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEDASSIST_MODEL_PATH"); v != "" {
		cfg.ModelPath = v
	}
	if v := os.Getenv("MEDASSIST_EMBEDDING_MODEL_PATH"); v != "" {
		cfg.Embeddings.ModelPath = v
	}
	if v := os.Getenv("MEDASSIST_KNOWLEDGE_PATH"); v != "" {
		cfg.KnowledgePath = v
	}
	if v := os.Getenv("MEDASSIST_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
