package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/helper"
	"nutrition-rag/internal/models"
)

// Generator turns a composed prompt into the model's text completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider is a hosted model that can both generate and embed.
type Provider interface {
	llms.Model
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider builds the langchaingo model for cfg. When embed is true the
// configured model is used as the embedding model.
func NewProvider(ctx context.Context, cfg config.LLMConfig, embed bool) (Provider, error) {
	if err := cfg.CheckCredential(); err != nil {
		return nil, err
	}
	log.Debug().Interface("llm", map[string]any{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
		"embed":    embed,
	}).Msg("Creating model client")

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		opts := []googleai.Option{googleai.WithAPIKey(cfg.Key)}
		if embed {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(cfg.Model))
		} else {
			opts = append(opts, googleai.WithDefaultModel(cfg.Model))
		}
		provider, err = googleai.New(ctx, opts...)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if embed {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)
	case config.ProviderOllama:
		provider, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s: %w", cfg.Provider, err)
	}
	return provider, nil
}

// Client calls a generative model with a bounded timeout and retries
// transient failures.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
	timeout     time.Duration
	maxRetries  int
}

func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	llm, err := NewProvider(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	return NewClientWithModel(llm, cfg), nil
}

func NewClientWithModel(llm llms.Model, cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		maxRetries:  cfg.MaxRetries,
	}
}

// Generate returns the trimmed completion. Failures wrap models.ErrGeneration.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var completion string
	err := helper.Retry(ctx, "generate", c.maxRetries, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		res, err := llms.GenerateFromSinglePrompt(callCtx, c.llm, prompt, llms.WithTemperature(c.temperature))
		if err != nil {
			return Classify(err)
		}
		completion = strings.TrimSpace(res)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrGeneration, c.model, err)
	}
	if completion == "" {
		return "", fmt.Errorf("%w: %s returned an empty completion", models.ErrGeneration, c.model)
	}
	return completion, nil
}
