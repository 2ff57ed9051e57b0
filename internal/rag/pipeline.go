package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"nutrition-rag/internal/embedding"
	"nutrition-rag/internal/llmservice"
	"nutrition-rag/internal/models"
)

var ErrEmptyQuestion = errors.New("question is empty")

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateIndexed
	StateReady
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateIndexed:
		return "indexed"
	case StateReady:
		return "ready"
	case StateLoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Loader interface {
	Load(ctx context.Context, path string) ([]models.Record, error)
}

type Splitter interface {
	Split(records []models.Record) ([]models.Chunk, error)
}

// Index is a nearest-neighbour store built once from all entries.
type Index interface {
	Build(ctx context.Context, entries []models.Entry) error
	Search(ctx context.Context, query []float32, k int) ([]models.Hit, error)
	Len() int
}

// Snapshotter is implemented by indexes that can persist themselves between
// runs. A snapshot is only reused for the same fingerprint.
type Snapshotter interface {
	Import(ctx context.Context, want int, fingerprint string) (bool, error)
	Export(ctx context.Context, fingerprint string) error
}

type Options struct {
	DatasetPath    string
	TopK           int
	EmbeddingModel string
}

// Fingerprint identifies the chunks and the embedding model an index was
// built from.
func Fingerprint(model string, chunks []models.Chunk) string {
	h := sha256.New()
	fmt.Fprintf(h, "model=%s\n", model)
	for _, c := range chunks {
		fmt.Fprintf(h, "%d:%s\n%d:%s\n", len(c.ID), c.ID, len(c.Text), c.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Deps are the collaborators of a Pipeline. Preflight runs before anything
// else and is where missing credentials are caught.
type Deps struct {
	Loader    Loader
	Chunker   Splitter
	Embedder  embeddings.Embedder
	Index     Index
	Generator llmservice.Generator
	Preflight func() error
}

// Pipeline loads the dataset into an index once and then answers questions.
type Pipeline struct {
	opts Options
	deps Deps

	mu      sync.RWMutex
	state   State
	err     error
	records int
	chunks  int
}

func NewPipeline(opts Options, deps Deps) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = models.DefaultTopK
	}
	return &Pipeline{opts: opts, deps: deps}
}

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err is the build failure, if any.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	log.Debug().Str("state", s.String()).Msg("Pipeline state changed")
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	p.state = StateLoadFailed
	p.err = err
	p.mu.Unlock()
	log.Error().Err(err).Msg("Pipeline build failed")
	return err
}

// Build loads, chunks, embeds and indexes the dataset. It may run once; any
// failure leaves the pipeline in StateLoadFailed.
func (p *Pipeline) Build(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateUninitialized {
		p.mu.Unlock()
		return fmt.Errorf("build already ran (state %s)", p.state)
	}
	p.state = StateLoading
	p.mu.Unlock()

	start := time.Now()
	if p.deps.Preflight != nil {
		if err := p.deps.Preflight(); err != nil {
			return p.fail(err)
		}
	}
	if p.deps.Embedder == nil || p.deps.Generator == nil {
		return p.fail(fmt.Errorf("%w: model clients not configured", models.ErrCredential))
	}

	records, err := p.deps.Loader.Load(ctx, p.opts.DatasetPath)
	if err != nil {
		return p.fail(err)
	}
	if len(records) == 0 {
		return p.fail(fmt.Errorf("%w: %s has no rows", models.ErrDataAccess, p.opts.DatasetPath))
	}
	chunks, err := p.deps.Chunker.Split(records)
	if err != nil {
		return p.fail(fmt.Errorf("%w: %w", models.ErrDataAccess, err))
	}
	if len(chunks) == 0 {
		return p.fail(fmt.Errorf("%w: %s produced no chunks", models.ErrDataAccess, p.opts.DatasetPath))
	}
	log.Info().Msgf("Veri yükleme tamamlandı. %d parça hazır.", len(chunks))

	snap, canSnapshot := p.deps.Index.(Snapshotter)
	restored := false
	fingerprint := ""
	if canSnapshot {
		fingerprint = Fingerprint(p.opts.EmbeddingModel, chunks)
		if restored, err = snap.Import(ctx, len(chunks), fingerprint); err != nil {
			log.Warn().Err(err).Msg("Could not restore index snapshot")
		}
	}

	if !restored {
		entries, err := embedding.GenerateEmbedding(ctx, p.deps.Embedder, chunks)
		if err != nil {
			return p.fail(fmt.Errorf("embedding chunks: %w", err))
		}
		if len(entries) != len(chunks) {
			return p.fail(fmt.Errorf("got %d embeddings for %d chunks", len(entries), len(chunks)))
		}
		if err := p.deps.Index.Build(ctx, entries); err != nil {
			return p.fail(fmt.Errorf("building index: %w", err))
		}
	}
	if n := p.deps.Index.Len(); n != len(chunks) {
		return p.fail(fmt.Errorf("index holds %d entries, want %d", n, len(chunks)))
	}
	p.mu.Lock()
	p.records = len(records)
	p.chunks = len(chunks)
	p.mu.Unlock()
	p.setState(StateIndexed)

	if canSnapshot && !restored {
		if err := snap.Export(ctx, fingerprint); err != nil {
			log.Warn().Err(err).Msg("Could not write index snapshot")
		}
	}

	p.setState(StateReady)
	log.Info().
		Int("records", len(records)).
		Int("chunks", len(chunks)).
		Bool("restored", restored).
		Dur("took", time.Since(start)).
		Msg("Pipeline ready")
	return nil
}

// Ask answers one question. It never changes the pipeline state.
func (p *Pipeline) Ask(ctx context.Context, question string) (models.Answer, error) {
	if s := p.State(); s != StateReady {
		return models.Answer{}, fmt.Errorf("%w: state %s", models.ErrNotReady, s)
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return models.Answer{}, ErrEmptyQuestion
	}

	vec, err := p.deps.Embedder.EmbedQuery(ctx, q)
	if err != nil {
		return models.Answer{}, fmt.Errorf("embedding question: %w", err)
	}
	hits, err := p.deps.Index.Search(ctx, vec, p.opts.TopK)
	if err != nil {
		return models.Answer{}, fmt.Errorf("searching index: %w", err)
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Chunk.Text
	}
	prompt, err := Compose(texts, q)
	if errors.Is(err, models.ErrEmptyContext) {
		log.Debug().Str("question", q).Msg("No context retrieved")
		return models.Answer{Question: q, Text: models.FallbackAnswer}, nil
	}
	if err != nil {
		return models.Answer{}, fmt.Errorf("composing prompt: %w", err)
	}

	text, err := p.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return models.Answer{}, err
	}
	return models.Answer{
		Question: q,
		Text:     text,
		Sources:  hits,
		Grounded: text != models.FallbackAnswer,
	}, nil
}

// Status is the user-facing line describing the pipeline.
func (p *Pipeline) Status() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.state {
	case StateUninitialized:
		return "Asistan henüz başlatılmadı."
	case StateLoading:
		return "Veri seti yükleniyor..."
	case StateIndexed:
		return "Vektör veritabanı hazır."
	case StateReady:
		return fmt.Sprintf("Asistan hazır: %d kayıt, %d parça.", p.records, p.chunks)
	default:
		return "RAG Asistanı şu an kullanılamıyor. " + UserMessage(p.err)
	}
}
