package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/helper"
	"nutrition-rag/internal/models"
)

const compress = false

const (
	metaOrdinal = "ordinal"
	metaRow     = "row"
	metaIndex   = "index"
	metaSource  = "source"
)

var errQueryText = errors.New("text queries are not supported; pass a query embedding")

// Every vector arrives precomputed, so chromem must never embed on its own.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errQueryText
}

// VectorDBManager is an in-process cosine-similarity index over a single
// chromem-go collection. It is built once and then only read.
type VectorDBManager struct {
	mu            sync.RWMutex
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	filePath      string
	encryptionKey string
	dims          int
	built         bool
}

// NewVectorDBManager creates an empty in-memory collection named by cfg.
func NewVectorDBManager(cfg config.IndexConfig) (*VectorDBManager, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	filePath := cfg.SnapshotPath
	if filePath != "" {
		if filePath, err = helper.ExpandHome(filePath); err != nil {
			return nil, err
		}
	}

	return &VectorDBManager{
		db:            db,
		collection:    c,
		name:          cfg.Collection,
		filePath:      filePath,
		encryptionKey: cfg.EncryptionKey,
	}, nil
}

// Build adds all entries. It may only run once per manager.
func (m *VectorDBManager) Build(ctx context.Context, entries []models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.built {
		return errors.New("index already built")
	}

	docs := make([]chromem.Document, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	dims := 0
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %s has no vector", e.Chunk.ID)
		}
		if dims == 0 {
			dims = len(e.Vector)
		} else if len(e.Vector) != dims {
			return fmt.Errorf("entry %s has %d dimensions, want %d", e.Chunk.ID, len(e.Vector), dims)
		}
		if _, ok := seen[e.Chunk.ID]; ok {
			return fmt.Errorf("duplicate chunk id %s", e.Chunk.ID)
		}
		seen[e.Chunk.ID] = struct{}{}

		docs = append(docs, chromem.Document{
			ID:      e.Chunk.ID,
			Content: e.Chunk.Text,
			Metadata: map[string]string{
				metaOrdinal: strconv.Itoa(e.Ordinal),
				metaRow:     strconv.Itoa(e.Chunk.Row),
				metaIndex:   strconv.Itoa(e.Chunk.Index),
				metaSource:  e.Chunk.Source,
			},
			Embedding: slices.Clone(e.Vector),
		})
	}

	if len(docs) > 0 {
		if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
	}
	m.dims = dims
	m.built = true
	log.Debug().Str("collection", m.name).Int("documents", m.collection.Count()).Msg("Built vector index")
	return nil
}

// Search returns up to k hits ordered by similarity, ties broken by
// insertion order.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 {
		k = models.DefaultTopK
	}
	n := m.collection.Count()
	if n == 0 {
		return []models.Hit{}, nil
	}
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if m.dims != 0 && len(query) != m.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), m.dims)
	}

	// Query the whole collection so equal scores can be ordered by ordinal
	// before truncating.
	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		hit, err := toHit(r)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	slices.SortStableFunc(hits, func(a, b models.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Ordinal - b.Ordinal
		}
	})
	return hits[:min(k, len(hits))], nil
}

func (m *VectorDBManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count()
}

func (m *VectorDBManager) fingerprintPath() string {
	return m.filePath + ".fingerprint"
}

// Export writes the collection to the snapshot file along with the
// fingerprint of the chunks it was built from. Without a snapshot path it
// does nothing.
func (m *VectorDBManager) Export(ctx context.Context, fingerprint string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.filePath == "" {
		return nil
	}
	if !m.built {
		return errors.New("index not built")
	}

	log.Debug().Msgf("Collection name: %s", m.name)
	log.Debug().Msgf("File path: %s", m.filePath)
	if err := m.db.ExportToFile(m.filePath, compress, m.encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	if err := os.WriteFile(m.fingerprintPath(), []byte(fingerprint+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot fingerprint: %w", err)
	}
	return nil
}

// Import loads the snapshot file when it was exported for the same
// fingerprint and holds exactly want documents, and reports whether it did.
// A missing or stale snapshot is not an error.
func (m *VectorDBManager) Import(ctx context.Context, want int, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.built {
		return false, errors.New("index already built")
	}
	if m.filePath == "" {
		return false, nil
	}
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	stored, err := os.ReadFile(m.fingerprintPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to read snapshot fingerprint: %w", err)
	}
	if strings.TrimSpace(string(stored)) != fingerprint || fingerprint == "" {
		log.Warn().Str("file", m.filePath).Msg("Ignoring index snapshot built from other data")
		return false, nil
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(m.filePath, m.encryptionKey, m.name); err != nil {
		return false, fmt.Errorf("failed to import database: %w", err)
	}
	c := db.GetCollection(m.name, noEmbedding)
	if c == nil || c.Count() != want {
		log.Warn().Str("file", m.filePath).Int("want", want).Msg("Ignoring stale index snapshot")
		return false, nil
	}

	// dims stays unknown; chromem itself rejects mismatched query vectors.
	m.db = db
	m.collection = c
	m.dims = 0
	m.built = true
	log.Info().Str("file", m.filePath).Int("documents", want).Msg("Restored vector index from snapshot")
	return true, nil
}

func toHit(r chromem.Result) (models.Hit, error) {
	ordinal, err := strconv.Atoi(r.Metadata[metaOrdinal])
	if err != nil {
		return models.Hit{}, fmt.Errorf("document %s: bad ordinal: %w", r.ID, err)
	}
	row, _ := strconv.Atoi(r.Metadata[metaRow])
	index, _ := strconv.Atoi(r.Metadata[metaIndex])
	return models.Hit{
		Chunk: models.Chunk{
			ID:     r.ID,
			Source: r.Metadata[metaSource],
			Row:    row,
			Index:  index,
			Text:   r.Content,
		},
		Score:   r.Similarity,
		Ordinal: ordinal,
	}, nil
}
