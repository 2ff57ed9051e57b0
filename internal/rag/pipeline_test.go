package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-rag/internal/chromemdb"
	"nutrition-rag/internal/config"
	"nutrition-rag/internal/models"
	"nutrition-rag/internal/parser"
)

const bananaText = "food: Banana\ncalories: 105\nprotein: 1.3"

type fixture struct {
	loader   *stubLoader
	embedder *countingEmbedder
	gen      *stubGenerator
	pipeline *Pipeline
}

func newFixture(t *testing.T, records []models.Record, index Index) *fixture {
	t.Helper()
	chunker, err := parser.NewChunker(models.DefaultChunkSize, models.DefaultChunkOverlap, nil)
	require.NoError(t, err)
	if index == nil {
		index, err = chromemdb.NewVectorDBManager(config.IndexConfig{Collection: "nutrition"})
		require.NoError(t, err)
	}
	f := &fixture{
		loader:   &stubLoader{records: records},
		embedder: &countingEmbedder{},
		gen:      &stubGenerator{replies: []string{"Bir muz yaklaşık 105 kaloridir."}},
	}
	f.pipeline = NewPipeline(Options{DatasetPath: "foods.csv", TopK: models.DefaultTopK}, Deps{
		Loader:    f.loader,
		Chunker:   chunker,
		Embedder:  f.embedder,
		Index:     index,
		Generator: f.gen,
	})
	return f
}

func foodRecords(n int) []models.Record {
	recs := []models.Record{{Source: "foods.csv", Row: 1, Text: bananaText}}
	for i := 2; i <= n; i++ {
		recs = append(recs, models.Record{Source: "foods.csv", Row: i, Text: fmt.Sprintf("food: Food %d\ncalories (kcal): %d", i, i*10)})
	}
	return recs
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "indexed", StateIndexed.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "load_failed", StateLoadFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestBuildReachesReady(t *testing.T) {
	f := newFixture(t, foodRecords(4), nil)
	assert.Equal(t, StateUninitialized, f.pipeline.State())

	require.NoError(t, f.pipeline.Build(context.Background()))
	assert.Equal(t, StateReady, f.pipeline.State())
	assert.NoError(t, f.pipeline.Err())
	assert.Equal(t, "Asistan hazır: 4 kayıt, 4 parça.", f.pipeline.Status())

	docs, queries := f.embedder.Calls()
	assert.Equal(t, 1, docs)
	assert.Zero(t, queries)
	assert.Zero(t, f.gen.Calls())

	assert.Error(t, f.pipeline.Build(context.Background()))
	assert.Equal(t, StateReady, f.pipeline.State())
}

func TestBananaQuestionRetrievesTheRow(t *testing.T) {
	f := newFixture(t, foodRecords(1), nil)
	require.NoError(t, f.pipeline.Build(context.Background()))

	ans, err := f.pipeline.Ask(context.Background(), "muz kalorisi nedir?")
	require.NoError(t, err)

	require.Len(t, ans.Sources, 1)
	assert.Equal(t, bananaText, ans.Sources[0].Chunk.Text)
	assert.Equal(t, "muz kalorisi nedir?", ans.Question)
	assert.Equal(t, "Bir muz yaklaşık 105 kaloridir.", ans.Text)
	assert.True(t, ans.Grounded)

	require.Equal(t, 1, f.gen.Calls())
	assert.Contains(t, f.gen.prompts[0], bananaText)
	assert.Contains(t, f.gen.prompts[0], "muz kalorisi nedir?")
}

func TestAskUsesTopK(t *testing.T) {
	f := newFixture(t, foodRecords(12), nil)
	require.NoError(t, f.pipeline.Build(context.Background()))

	ans, err := f.pipeline.Ask(context.Background(), "elma?")
	require.NoError(t, err)
	assert.Len(t, ans.Sources, models.DefaultTopK)
	for i := 1; i < len(ans.Sources); i++ {
		assert.GreaterOrEqual(t, ans.Sources[i-1].Score, ans.Sources[i].Score)
	}
}

func TestFallbackAnswerPassesThrough(t *testing.T) {
	f := newFixture(t, foodRecords(3), nil)
	f.gen.replies = []string{models.FallbackAnswer}
	require.NoError(t, f.pipeline.Build(context.Background()))

	ans, err := f.pipeline.Ask(context.Background(), "ejderha meyvesi kaç kalori?")
	require.NoError(t, err)
	assert.Equal(t, "Bu bilgi veri setinde bulunmamaktadır.", ans.Text)
	assert.False(t, ans.Grounded)
}

func TestEmptyContextSkipsGeneration(t *testing.T) {
	idx := &stubIndex{hits: []models.Hit{{Chunk: models.Chunk{ID: "1-0", Text: "  "}}}}
	f := newFixture(t, foodRecords(1), idx)
	require.NoError(t, f.pipeline.Build(context.Background()))

	ans, err := f.pipeline.Ask(context.Background(), "muz?")
	require.NoError(t, err)
	assert.Equal(t, models.FallbackAnswer, ans.Text)
	assert.False(t, ans.Grounded)
	assert.Zero(t, f.gen.Calls())
}

func TestAskBeforeBuild(t *testing.T) {
	f := newFixture(t, foodRecords(1), nil)
	_, err := f.pipeline.Ask(context.Background(), "muz?")
	assert.ErrorIs(t, err, models.ErrNotReady)
	_, queries := f.embedder.Calls()
	assert.Zero(t, queries)
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	f := newFixture(t, foodRecords(1), nil)
	require.NoError(t, f.pipeline.Build(context.Background()))
	_, err := f.pipeline.Ask(context.Background(), "  \n")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, f.gen.Calls())
}

func TestGenerationFailureKeepsPipelineReady(t *testing.T) {
	f := newFixture(t, foodRecords(2), nil)
	f.gen.errs = []error{fmt.Errorf("%w: boom", models.ErrGeneration)}
	require.NoError(t, f.pipeline.Build(context.Background()))

	_, err := f.pipeline.Ask(context.Background(), "muz?")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, StateReady, f.pipeline.State())

	ans, err := f.pipeline.Ask(context.Background(), "muz?")
	require.NoError(t, err)
	assert.Equal(t, "Bir muz yaklaşık 105 kaloridir.", ans.Text)
}

func TestLoadFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.loader.err = fmt.Errorf("%w: open foods.csv: no such file", models.ErrDataAccess)

	err := f.pipeline.Build(context.Background())
	assert.ErrorIs(t, err, models.ErrDataAccess)
	assert.Equal(t, StateLoadFailed, f.pipeline.State())
	assert.ErrorIs(t, f.pipeline.Err(), models.ErrDataAccess)
	assert.Contains(t, f.pipeline.Status(), "Veri yüklenirken")

	docs, _ := f.embedder.Calls()
	assert.Zero(t, docs)
}

func TestEmptyDatasetFails(t *testing.T) {
	f := newFixture(t, []models.Record{}, nil)
	assert.ErrorIs(t, f.pipeline.Build(context.Background()), models.ErrDataAccess)
	assert.Equal(t, StateLoadFailed, f.pipeline.State())
}

func TestEmbeddingFailureLeavesIndexEmpty(t *testing.T) {
	idx, err := chromemdb.NewVectorDBManager(config.IndexConfig{Collection: "nutrition"})
	require.NoError(t, err)
	f := newFixture(t, foodRecords(3), idx)
	f.embedder.err = fmt.Errorf("%w: 503", models.ErrRetryable)

	assert.ErrorIs(t, f.pipeline.Build(context.Background()), models.ErrRetryable)
	assert.Equal(t, StateLoadFailed, f.pipeline.State())
	assert.Zero(t, idx.Len())
}

func TestIndexSizeMismatchFails(t *testing.T) {
	f := newFixture(t, foodRecords(3), &stubIndex{len: -1})
	assert.Error(t, f.pipeline.Build(context.Background()))
	assert.Equal(t, StateLoadFailed, f.pipeline.State())
}

func TestMissingCredentialMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t, foodRecords(2), nil)
	llm := config.LLMConfig{Provider: config.ProviderGoogleAI, Model: "text-embedding-004", KeyEnv: "GEMINI_API_KEY"}
	f.pipeline.deps.Preflight = llm.CheckCredential

	err := f.pipeline.Build(context.Background())
	assert.ErrorIs(t, err, models.ErrCredential)
	assert.Equal(t, StateLoadFailed, f.pipeline.State())
	assert.Contains(t, f.pipeline.Status(), "API anahtarı")

	docs, queries := f.embedder.Calls()
	assert.Zero(t, docs)
	assert.Zero(t, queries)
	assert.Zero(t, f.gen.Calls())
	assert.Zero(t, f.loader.Calls())

	_, err = f.pipeline.Ask(context.Background(), "muz?")
	assert.ErrorIs(t, err, models.ErrNotReady)
}

func TestMissingClientsCountAsCredentialFailure(t *testing.T) {
	f := newFixture(t, foodRecords(1), nil)
	f.pipeline.deps.Embedder = nil
	f.pipeline.deps.Generator = nil
	assert.ErrorIs(t, f.pipeline.Build(context.Background()), models.ErrCredential)
}

func TestRestoredSnapshotSkipsEmbedding(t *testing.T) {
	idx := &stubIndex{restored: true}
	f := newFixture(t, foodRecords(3), idx)
	require.NoError(t, f.pipeline.Build(context.Background()))

	docs, _ := f.embedder.Calls()
	assert.Zero(t, docs)
	assert.Zero(t, idx.exported)
	assert.Equal(t, StateReady, f.pipeline.State())
}

func TestFreshBuildWritesSnapshot(t *testing.T) {
	idx := &stubIndex{}
	f := newFixture(t, foodRecords(3), idx)
	require.NoError(t, f.pipeline.Build(context.Background()))
	assert.Equal(t, 1, idx.exported)
}

func TestFingerprintTracksContentAndModel(t *testing.T) {
	chunks := []models.Chunk{{ID: models.ChunkID(1, 0), Text: bananaText}}
	edited := []models.Chunk{{ID: models.ChunkID(1, 0), Text: "food: Banana\ncalories: 89\nprotein: 1.1"}}

	fp := Fingerprint("text-embedding-004", chunks)
	assert.Equal(t, fp, Fingerprint("text-embedding-004", chunks))
	assert.NotEqual(t, fp, Fingerprint("text-embedding-004", edited))
	assert.NotEqual(t, fp, Fingerprint("gemini-embedding-001", chunks))
}

func TestEditedDatasetIsReembedded(t *testing.T) {
	ctx := context.Background()
	cfg := config.IndexConfig{Collection: "nutrition", SnapshotPath: filepath.Join(t.TempDir(), "nutrition.chromem")}
	newIdx := func() Index {
		idx, err := chromemdb.NewVectorDBManager(cfg)
		require.NoError(t, err)
		return idx
	}

	first := newFixture(t, foodRecords(1), newIdx())
	require.NoError(t, first.pipeline.Build(ctx))

	same := newFixture(t, foodRecords(1), newIdx())
	require.NoError(t, same.pipeline.Build(ctx))
	docs, _ := same.embedder.Calls()
	assert.Zero(t, docs, "unchanged data reuses the snapshot")

	edited := "food: Banana\ncalories: 89\nprotein: 1.1"
	changed := newFixture(t, []models.Record{{Source: "foods.csv", Row: 1, Text: edited}}, newIdx())
	require.NoError(t, changed.pipeline.Build(ctx))
	docs, _ = changed.embedder.Calls()
	assert.Equal(t, 1, docs)

	ans, err := changed.pipeline.Ask(ctx, "muz kalorisi nedir?")
	require.NoError(t, err)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, edited, ans.Sources[0].Chunk.Text)
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	f := newFixture(t, foodRecords(1), nil)
	require.NoError(t, f.pipeline.Build(context.Background()))
	f.embedder.err = fmt.Errorf("%w: key revoked", models.ErrCredential)

	_, err := f.pipeline.Ask(context.Background(), "muz?")
	assert.True(t, errors.Is(err, models.ErrCredential))
	assert.Equal(t, StateReady, f.pipeline.State())
}
