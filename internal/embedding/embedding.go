package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/helper"
	"nutrition-rag/internal/llmservice"
	"nutrition-rag/internal/models"
)

// Gemini rejects embedding batches above 100 texts.
const batchSize = 100

var errDimension = errors.New("embedding dimension mismatch")

// Client wraps a langchaingo embedder with a per-request timeout, one retry on
// transient failures and error classification. Documents are sent in batches
// of batchSize and each batch gets its own timeout and retry.
type Client struct {
	embedder   embeddings.Embedder
	model      string
	timeout    time.Duration
	maxRetries int
	batchSize  int
}

var _ embeddings.Embedder = (*Client)(nil)

// NewClient creates the provider model for cfg and wraps it. A keyed provider
// without a key fails with models.ErrCredential before any client is built.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	provider, err := llmservice.NewProvider(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(provider, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return Wrap(embedder, cfg), nil
}

// Wrap applies cfg's timeout and retry policy to an existing embedder.
func Wrap(embedder embeddings.Embedder, cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		embedder:   embedder,
		model:      cfg.Model,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		batchSize:  batchSize,
	}
}

func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := c.batchSize
	if size <= 0 {
		size = batchSize
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		batch := texts[start:min(start+size, len(texts))]
		var got [][]float32
		err := c.call(ctx, "embed_documents", func(ctx context.Context) (err error) {
			got, err = c.embedder.EmbedDocuments(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		if len(got) != len(batch) {
			return nil, fmt.Errorf("%s returned %d vectors for %d texts", c.model, len(got), len(batch))
		}
		vectors = append(vectors, got...)
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", errDimension, i, len(v), len(vectors[0]))
		}
	}
	log.Debug().Int("texts", len(texts)).Int("batch_size", size).Msg("Embedded documents")
	return vectors, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := c.call(ctx, "embed_query", func(ctx context.Context) (err error) {
		vector, err = c.embedder.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%s returned an empty query vector", c.model)
	}
	return vector, nil
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := helper.Retry(ctx, op, c.maxRetries, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return llmservice.Classify(fn(callCtx))
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, c.model, err)
	}
	return nil
}

// GenerateEmbedding embeds all chunks and numbers the resulting entries in
// chunk order.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.Entry, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	entries := make([]models.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = models.Entry{Ordinal: i, Chunk: chunk, Vector: vectors[i]}
	}
	log.Debug().Int("entries", len(entries)).Int("dims", len(vectors[0])).Msg("Generated embeddings")
	return entries, nil
}
