package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/scoring"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/memstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/memvec"
)

// fakeEmbedder returns a fixed vector per known text and a neutral vector
// otherwise, so tests control similarity exactly.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedText(ctx, t, task)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

// fakeLLM returns a canned response for Generate.
type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) GenerateWithContext(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) CountTokens(ctx context.Context, text string) (int, error) {
	return len(text) / 4, nil
}

func (f *fakeLLM) SupportsFunctionCalling() bool { return false }

func (f *fakeLLM) ExtractEntities(ctx context.Context, text string) ([]ports.Entity, error) {
	return nil, nil
}

func (f *fakeLLM) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	return f.response, f.err
}

// failingStrategy always errors, for isolation tests.
type failingStrategy struct{}

func (failingStrategy) Name() memory.StrategyName { return memory.StrategyMultiVector }
func (failingStrategy) DefaultWeight() float64    { return 0.5 }
func (failingStrategy) Search(ctx context.Context, q *memory.QueryRequest, k int) ([]Hit, error) {
	return nil, errors.New("backend down")
}

func newFixture(t *testing.T) (*memstore.Store, *HybridSearcher) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(nil)
	vectors := memvec.New(nil)

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"postgres tuning":                       {1, 0, 0},
		"notes on postgres connection tuning":   {0.95, 0.05, 0},
		"grafana dashboard layout":              {0, 1, 0},
		"incident ticket #4711 postgres outage": {0.8, 0.2, 0},
	}}

	seed := func(id, content string) {
		m := memory.New(id, "t1", "", content, "test")
		m.Layer = memory.LayerEpisodic
		_, err := store.Store(ctx, m)
		require.NoError(t, err)
		vec, _ := embedder.EmbedText(ctx, content, ports.TaskSearchDocument)
		require.NoError(t, vectors.Upsert(ctx, ports.VectorRecord{
			ID: id, TenantID: "t1", Layer: memory.LayerEpisodic,
			Vectors: map[string][]float32{ports.DefaultSpace: vec},
		}))
	}
	seed("m1", "notes on postgres connection tuning")
	seed("m2", "grafana dashboard layout")
	seed("m3", "incident ticket #4711 postgres outage")

	strategies := []Strategy{
		NewDenseStrategy(vectors, embedder, nil),
		NewSparseStrategy(store, nil),
		NewAnchorStrategy(store, nil),
	}
	searcher := NewHybridSearcher(strategies, store, scoring.NewScorer(scoring.DefaultWeights(), nil), nil, nil)
	return store, searcher
}

func TestHybridSearch_RanksRelevantFirst(t *testing.T) {
	_, searcher := newFixture(t)

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		TopK:     3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	assert.Equal(t, "m1", resp.Results[0].Memory.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.False(t, resp.RerankingUsed)
	assert.NotNil(t, resp.QueryAnalysis)
	assert.Positive(t, resp.StrategyCounts[memory.StrategyDense])
}

func TestHybridSearch_FusedTopSimilarityIsOne(t *testing.T) {
	_, searcher := newFixture(t)

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.InDelta(t, 1.0, resp.Results[0].Breakdown.Similarity, 1e-9)
}

func TestHybridSearch_BumpsUsageAndAccess(t *testing.T) {
	store, searcher := newFixture(t)
	ctx := context.Background()

	resp, err := searcher.Search(ctx, &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		TopK:     1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	m, err := store.Get(ctx, "t1", resp.Results[0].Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.UsageCount)
	assert.Equal(t, 1, m.AccessCount)
}

func TestHybridSearch_StrategyFailureIsolated(t *testing.T) {
	_, searcher := newFixture(t)
	searcher.strategies = append(searcher.strategies, failingStrategy{})

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
	assert.Zero(t, resp.StrategyCounts[memory.StrategyMultiVector])
}

func TestHybridSearch_ManualWeightsApplied(t *testing.T) {
	_, searcher := newFixture(t)

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		ManualWeights: memory.StrategyWeights{
			memory.StrategyDense:  0.5,
			memory.StrategySparse: 0.5,
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, resp.AppliedWeights[memory.StrategyDense], 1e-9)
	assert.InDelta(t, 0.5, resp.AppliedWeights[memory.StrategySparse], 1e-9)
	assert.NotContains(t, resp.AppliedWeights, memory.StrategyAnchor)
}

func TestHybridSearch_EnabledStrategiesRestrict(t *testing.T) {
	_, searcher := newFixture(t)

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID:          "t1",
		Query:             "incident ticket #4711 postgres outage",
		EnabledStrategies: []memory.StrategyName{memory.StrategyAnchor},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "m3", resp.Results[0].Memory.ID)
	assert.Len(t, resp.AppliedWeights, 1)
	assert.InDelta(t, 1.0, resp.AppliedWeights[memory.StrategyAnchor], 1e-9)
}

func TestHybridSearch_RerankReorders(t *testing.T) {
	_, searcher := newFixture(t)
	searcher.llm = &fakeLLM{response: `["m3", "m1"]`}

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		TopK:     2,
		Rerank:   true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.RerankingUsed)
	assert.Equal(t, "m3", resp.Results[0].Memory.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, "m1", resp.Results[1].Memory.ID)
}

func TestHybridSearch_RerankFailureFallsBack(t *testing.T) {
	_, searcher := newFixture(t)
	searcher.llm = &fakeLLM{err: errors.New("model unavailable")}

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		TopK:     2,
		Rerank:   true,
	})
	require.NoError(t, err)
	assert.False(t, resp.RerankingUsed)
	assert.Equal(t, "m1", resp.Results[0].Memory.ID)
}

func TestHybridSearch_MalformedRerankFallsBack(t *testing.T) {
	_, searcher := newFixture(t)
	searcher.llm = &fakeLLM{response: "sure, here is my ranking: m3 then m1"}

	resp, err := searcher.Search(context.Background(), &memory.QueryRequest{
		TenantID: "t1",
		Query:    "postgres tuning",
		TopK:     2,
		Rerank:   true,
	})
	require.NoError(t, err)
	assert.False(t, resp.RerankingUsed)
}

func TestHybridSearch_InvalidRequest(t *testing.T) {
	_, searcher := newFixture(t)

	_, err := searcher.Search(context.Background(), &memory.QueryRequest{TenantID: "t1"})
	assert.Error(t, err)
}

func TestFuseRRF_WeightsAndOverlap(t *testing.T) {
	outputs := []strategyOutput{
		{name: memory.StrategyDense, hits: []Hit{{ID: "a"}, {ID: "b"}}},
		{name: memory.StrategySparse, hits: []Hit{{ID: "b"}, {ID: "c"}}},
	}
	weights := memory.StrategyWeights{
		memory.StrategyDense:  0.5,
		memory.StrategySparse: 0.5,
	}

	fused := fuseRRF(outputs, weights)
	require.Len(t, fused, 3)
	// "b" appears in both lists, so it outranks single-list candidates.
	assert.Equal(t, "b", fused[0].id)
	assert.InDelta(t, 1.0, fused[0].score, 1e-9)
}
