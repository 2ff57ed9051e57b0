package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nutrition-rag/internal/models"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"

	IndexChromem  = "chromem"
	IndexPGVector = "pgvector"
)

type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	RAG      RAGConfig      `yaml:"rag"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	InferLLM LLMConfig      `yaml:"infer_llm"`
	Index    IndexConfig    `yaml:"index"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type DatasetConfig struct {
	Path    string   `yaml:"path"`
	Columns []string `yaml:"columns,omitempty"`
	Sheet   string   `yaml:"sheet,omitempty"`
}

type RAGConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators,omitempty"`
	TopK         int      `yaml:"top_k"`
}

// LLMConfig describes one remote model. Key is read from the environment
// variable named by KeyEnv when it is not set in the file.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Model       string  `yaml:"model"`
	KeyEnv      string  `yaml:"key_env,omitempty"`
	Key         string  `yaml:"key,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`

	// Zero is a valid temperature and retry count, so defaults only fill
	// keys absent from the file.
	temperatureSet bool
	maxRetriesSet  bool
}

func (c *LLMConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain LLMConfig
	if err := node.Decode((*plain)(c)); err != nil {
		return err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "temperature":
			c.temperatureSet = true
		case "max_retries":
			c.maxRetriesSet = true
		}
	}
	return nil
}

type IndexConfig struct {
	Type          string `yaml:"type"`
	Collection    string `yaml:"collection"`
	SnapshotPath  string `yaml:"snapshot_path,omitempty"`
	EncryptionKey string `yaml:"encryption_key,omitempty"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password,omitempty"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads a YAML config. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	cfg.EmbedLLM.resolveKey()
	cfg.InferLLM.resolveKey()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{Path: "daily_food_nutrition_dataset.csv"},
		RAG: RAGConfig{
			ChunkSize:    models.DefaultChunkSize,
			ChunkOverlap: models.DefaultChunkOverlap,
			Separators:   append([]string(nil), models.DefaultSeparators...),
			TopK:         models.DefaultTopK,
		},
		EmbedLLM: LLMConfig{
			Provider: ProviderGoogleAI,
			Model:    "text-embedding-004",
			KeyEnv:   "GEMINI_API_KEY",
		},
		InferLLM: LLMConfig{
			Provider:    ProviderGoogleAI,
			Model:       "gemini-2.5-flash",
			KeyEnv:      "GEMINI_API_KEY",
			Temperature: 0.1,
		},
		Index:    IndexConfig{Type: IndexChromem, Collection: "nutrition"},
		Database: DatabaseConfig{Table: "nutrition_chunks"},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info"},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Dataset.Path == "" {
		cfg.Dataset.Path = def.Dataset.Path
	}
	// Overlap 0 is only meaningful next to an explicit chunk size.
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = models.DefaultChunkSize
		if cfg.RAG.ChunkOverlap == 0 {
			cfg.RAG.ChunkOverlap = models.DefaultChunkOverlap
		}
	}
	if cfg.RAG.ChunkOverlap < 0 {
		cfg.RAG.ChunkOverlap = 0
	}
	if len(cfg.RAG.Separators) == 0 {
		cfg.RAG.Separators = append([]string(nil), models.DefaultSeparators...)
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = models.DefaultTopK
	}
	cfg.EmbedLLM.applyDefaults(def.EmbedLLM)
	cfg.InferLLM.applyDefaults(def.InferLLM)
	if cfg.Index.Type == "" {
		cfg.Index.Type = IndexChromem
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = def.Database.Table
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

func (c *LLMConfig) applyDefaults(def LLMConfig) {
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.Model == "" && c.Provider == def.Provider {
		c.Model = def.Model
	}
	if c.KeyEnv == "" {
		switch c.Provider {
		case ProviderGoogleAI:
			c.KeyEnv = "GEMINI_API_KEY"
		case ProviderOpenAI:
			c.KeyEnv = "OPENAI_API_KEY"
		}
	}
	if !c.temperatureSet {
		c.Temperature = def.Temperature
	}
	if c.Provider == ProviderOllama && c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = 30
	}
	if !c.maxRetriesSet {
		c.MaxRetries = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

func (c *LLMConfig) resolveKey() {
	if c.Key == "" && c.KeyEnv != "" {
		c.Key = strings.TrimSpace(os.Getenv(c.KeyEnv))
	}
}

// Timeout is the bound applied to a single remote call.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RequiresKey reports whether the provider needs an API key.
func (c LLMConfig) RequiresKey() bool {
	return c.Provider != ProviderOllama
}

// CheckCredential returns models.ErrCredential when a keyed provider has no key.
func (c LLMConfig) CheckCredential() error {
	if c.RequiresKey() && c.Key == "" {
		return fmt.Errorf("%w: %s key not set (env %s)", models.ErrCredential, c.Provider, c.KeyEnv)
	}
	return nil
}

// CheckCredentials verifies both the embedding and the inference model.
func (c *Config) CheckCredentials() error {
	if err := c.EmbedLLM.CheckCredential(); err != nil {
		return err
	}
	return c.InferLLM.CheckCredential()
}

func (c *Config) Validate() error {
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("invalid config: chunk_overlap (%d) must be smaller than chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	for _, llm := range []LLMConfig{c.EmbedLLM, c.InferLLM} {
		switch llm.Provider {
		case ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("invalid config: unknown provider %q", llm.Provider)
		}
		if llm.Model == "" {
			return fmt.Errorf("invalid config: model is required for provider %q", llm.Provider)
		}
	}
	switch c.Index.Type {
	case IndexChromem:
		if k := len(c.Index.EncryptionKey); k != 0 && k != 32 {
			return fmt.Errorf("invalid config: index.encryption_key must be 32 bytes, got %d", k)
		}
	case IndexPGVector:
		if c.Database.DSN == "" {
			return errors.New("invalid config: database.dsn is required for the pgvector index")
		}
	default:
		return fmt.Errorf("invalid config: unknown index type %q", c.Index.Type)
	}
	return nil
}
