package services

import (
	"context"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/search"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/scoring"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/graph/memgraph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/memstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/memvec"
)

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
		v, _ := f.EmbedText(ctx, t, task)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeLLM struct {
	response string
	entities []ports.Entity
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
	return f.entities, f.err
}

func (f *fakeLLM) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	return f.response, f.err
}

// testEnv bundles a fully wired engine over the in-memory adapters.
type testEnv struct {
	store    *memstore.Store
	vectors  *memvec.Store
	graphs   *memgraph.Store
	embedder *fakeEmbedder
	llm      *fakeLLM
	engine   *Engine
	searcher *search.HybridSearcher
	refl     *layers.ReflectiveLayer
}

func newTestEnv(cfg EngineConfig) *testEnv {
	store := memstore.New(nil)
	vectors := memvec.New(nil)
	graphs := memgraph.New(nil)
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	llm := &fakeLLM{}

	strategies := []search.Strategy{
		search.NewDenseStrategy(vectors, embedder, nil),
		search.NewSparseStrategy(store, nil),
		search.NewAnchorStrategy(store, nil),
		search.NewGraphTraversalStrategy(graphs, nil),
	}
	searcher := search.NewHybridSearcher(strategies, store, scoring.NewScorer(scoring.DefaultWeights(), nil), nil, nil)

	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	engine := NewEngine(cfg, EngineDeps{
		Store:      store,
		Vectors:    vectors,
		Graphs:     graphs,
		Embedder:   embedder,
		LLM:        llm,
		Searcher:   searcher,
		Sensory:    layers.NewSensoryLayer(layers.DefaultSensoryConfig(), store, nil),
		Working:    layers.NewWorkingLayer(layers.DefaultWorkingConfig(), store, llm, nil),
		LongTerm:   layers.NewLongTermLayer(layers.DefaultLongTermConfig(), store, nil),
		Reflective: refl,
	})
	return &testEnv{
		store:    store,
		vectors:  vectors,
		graphs:   graphs,
		embedder: embedder,
		llm:      llm,
		engine:   engine,
		searcher: searcher,
		refl:     refl,
	}
}
