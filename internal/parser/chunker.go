package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"nutrition-rag/internal/models"
)

// Chunker splits each record on its own, so a chunk never spans two rows.
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

func NewChunker(size, overlap int, separators []string) (*Chunker, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be > 0")
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.New("chunk overlap must be >= 0 and < chunk size")
	}
	if len(separators) == 0 {
		separators = models.DefaultSeparators
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
		),
	}, nil
}

// Split chunks every record in order. Chunk lengths are counted in runes.
func (c *Chunker) Split(records []models.Record) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, rec := range records {
		pieces, err := c.splitter.SplitText(rec.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split row %d: %w", rec.Row, err)
		}
		idx := 0
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				ID:     models.ChunkID(rec.Row, idx),
				Source: rec.Source,
				Row:    rec.Row,
				Index:  idx,
				Text:   piece,
			})
			idx++
		}
	}
	return chunks, nil
}
