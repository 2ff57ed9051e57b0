package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"nutrition-rag/internal/models"
)

type stubLoader struct {
	mu      sync.Mutex
	records []models.Record
	err     error
	calls   int
}

func (l *stubLoader) Load(ctx context.Context, path string) ([]models.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.records, l.err
}

func (l *stubLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// countingEmbedder maps texts to small deterministic vectors and counts calls.
type countingEmbedder struct {
	mu         sync.Mutex
	docCalls   int
	queryCalls int
	queryVec   []float32
	err        error
}

func vectorFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	s := h.Sum32()
	return []float32{1, float32(s%97) + 1, float32(s%89) + 1, float32(len(text)%13) + 1}
}

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docCalls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryCalls++
	if e.err != nil {
		return nil, e.err
	}
	if e.queryVec != nil {
		return e.queryVec, nil
	}
	return vectorFor(text), nil
}

func (e *countingEmbedder) Calls() (docs, queries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls, e.queryCalls
}

type stubGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if len(g.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	return g.replies[min(i, len(g.replies)-1)], nil
}

func (g *stubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// stubIndex lets tests control search results and the reported size.
type stubIndex struct {
	hits        []models.Hit
	len         int
	restored    bool
	exported    int
	fingerprint string
}

func (i *stubIndex) Build(ctx context.Context, entries []models.Entry) error {
	if i.len < 0 {
		i.len = len(entries) - 1
		return nil
	}
	i.len = len(entries)
	return nil
}

func (i *stubIndex) Search(ctx context.Context, query []float32, k int) ([]models.Hit, error) {
	return i.hits, nil
}

func (i *stubIndex) Len() int { return i.len }

func (i *stubIndex) Import(ctx context.Context, want int, fingerprint string) (bool, error) {
	if i.restored && (i.fingerprint == "" || i.fingerprint == fingerprint) {
		i.len = want
	}
	return i.restored, nil
}

func (i *stubIndex) Export(ctx context.Context, fingerprint string) error {
	i.exported++
	i.fingerprint = fingerprint
	return nil
}
