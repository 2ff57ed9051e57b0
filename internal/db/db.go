package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"nutrition-rag/internal/config"
	"nutrition-rag/internal/models"
)

// Vector is a pgvector value.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return fmt.Errorf("malformed vector %q", s)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

type Document struct {
	bun.BaseModel `bun:"table:nutrition_chunks,alias:d"`
	ID            int64   `bun:"id,pk,autoincrement"`
	Ordinal       int     `bun:"ordinal,notnull,unique"`
	ChunkID       string  `bun:"chunk_id,notnull"`
	Source        string  `bun:"source"`
	Row           int     `bun:"row_number"`
	ChunkIndex    int     `bun:"chunk_index"`
	Content       string  `bun:"content,notnull"`
	Embedding     Vector  `bun:"embedding,type:vector,notnull"`
	Distance      float64 `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// InitDB enables pgvector and recreates the chunk table for vectors of
// the given size.
func InitDB(ctx context.Context, db bun.IDB, table string, dims int) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enabling pgvector: %w", err)
	}
	if err := DropDocuments(ctx, db, table); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `CREATE TABLE ? (
	id bigserial PRIMARY KEY,
	ordinal integer NOT NULL UNIQUE,
	chunk_id text NOT NULL,
	source text,
	row_number integer,
	chunk_index integer,
	content text NOT NULL,
	embedding vector(?) NOT NULL
)`, bun.Ident(table), dims)
	return err
}

func StoreDocuments(ctx context.Context, db bun.IDB, table string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := db.NewInsert().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(table)).
		Exec(ctx)
	return err
}

func SearchDocuments(ctx context.Context, db bun.IDB, table string, queryEmbedding Vector, limit int) ([]Document, error) {
	var docs []Document
	err := db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(table)).
		Column("id", "ordinal", "chunk_id", "source", "row_number", "chunk_index", "content").
		ColumnExpr("embedding <=> ? AS distance", queryEmbedding).
		OrderExpr("embedding <=> ?", queryEmbedding).
		Order("ordinal").
		Limit(limit).
		Scan(ctx)
	return docs, err
}

func CountDocuments(ctx context.Context, db bun.IDB, table string) (int, error) {
	return db.NewSelect().
		Model((*Document)(nil)).
		ModelTableExpr("? AS d", bun.Ident(table)).
		Count(ctx)
}

func DropDocuments(ctx context.Context, db bun.IDB, table string) error {
	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(table))
	return err
}

// Store is the vector index backed by a Postgres table with pgvector.
type Store struct {
	mu    sync.RWMutex
	db    *bun.DB
	table string
	count int
	built bool
}

func NewStore(db *bun.DB, table string) *Store {
	if table == "" {
		table = "nutrition_chunks"
	}
	return &Store{db: db, table: table}
}

// Build recreates the table and inserts every entry in one statement.
func (s *Store) Build(ctx context.Context, entries []models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.built {
		return errors.New("index already built")
	}
	dims := 0
	docs := make([]Document, len(entries))
	for i, e := range entries {
		if dims == 0 {
			dims = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != dims {
			return fmt.Errorf("entry %s has %d dimensions, want %d", e.Chunk.ID, len(e.Vector), dims)
		}
		docs[i] = Document{
			Ordinal:    e.Ordinal,
			ChunkID:    e.Chunk.ID,
			Source:     e.Chunk.Source,
			Row:        e.Chunk.Row,
			ChunkIndex: e.Chunk.Index,
			Content:    e.Chunk.Text,
			Embedding:  Vector(e.Vector),
		}
	}
	if dims == 0 {
		dims = 1
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := InitDB(ctx, tx, s.table, dims); err != nil {
			return fmt.Errorf("initializing table: %w", err)
		}
		return StoreDocuments(ctx, tx, s.table, docs)
	})
	if err != nil {
		return fmt.Errorf("building pgvector index: %w", err)
	}

	n, err := CountDocuments(ctx, s.db, s.table)
	if err != nil {
		return err
	}
	s.count = n
	s.built = true
	log.Debug().Str("table", s.table).Int("documents", n).Msg("Built pgvector index")
	return nil
}

// Search orders by cosine distance, ties by ordinal.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = models.DefaultTopK
	}
	if s.count == 0 {
		return []models.Hit{}, nil
	}
	docs, err := SearchDocuments(ctx, s.db, s.table, Vector(query), k)
	if err != nil {
		return nil, fmt.Errorf("searching pgvector index: %w", err)
	}
	hits := make([]models.Hit, len(docs))
	for i, d := range docs {
		hits[i] = models.Hit{
			Chunk: models.Chunk{
				ID:     d.ChunkID,
				Source: d.Source,
				Row:    d.Row,
				Index:  d.ChunkIndex,
				Text:   d.Content,
			},
			Score:   float32(1 - d.Distance),
			Ordinal: d.Ordinal,
		}
	}
	return hits, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
