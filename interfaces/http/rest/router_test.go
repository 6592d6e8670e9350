package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/search"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/services"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/workers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/scoring"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/audit"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/graph/memgraph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/memstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/memvec"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/interfaces/http/rest/middleware"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.EmbedText(ctx, texts[i], task)
	}
	return out, nil
}

func (fixedEmbedder) Dimension() int { return 3 }

type staticLLM struct{ response string }

func (s staticLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	return s.response, nil
}

func (s staticLLM) GenerateWithContext(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (string, error) {
	return s.response, nil
}

func (staticLLM) CountTokens(ctx context.Context, text string) (int, error) {
	return len(text) / 4, nil
}

func (staticLLM) SupportsFunctionCalling() bool { return false }

func (staticLLM) ExtractEntities(ctx context.Context, text string) ([]ports.Entity, error) {
	return nil, nil
}

func (s staticLLM) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	return s.response, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memstore.New(nil)
	vectors := memvec.New(nil)
	graphs := memgraph.New(nil)
	embedder := fixedEmbedder{}
	llm := staticLLM{response: "summary"}

	strategies := []search.Strategy{
		search.NewDenseStrategy(vectors, embedder, nil),
		search.NewSparseStrategy(store, nil),
		search.NewAnchorStrategy(store, nil),
		search.NewGraphTraversalStrategy(graphs, nil),
	}
	searcher := search.NewHybridSearcher(strategies, store, scoring.NewScorer(scoring.DefaultWeights(), nil), nil, nil)

	engine := services.NewEngine(services.DefaultEngineConfig(), services.EngineDeps{
		Store:      store,
		Vectors:    vectors,
		Graphs:     graphs,
		Embedder:   embedder,
		LLM:        llm,
		Searcher:   searcher,
		Sensory:    layers.NewSensoryLayer(layers.DefaultSensoryConfig(), store, nil),
		Working:    layers.NewWorkingLayer(layers.DefaultWorkingConfig(), store, llm, nil),
		LongTerm:   layers.NewLongTermLayer(layers.DefaultLongTermConfig(), store, nil),
		Reflective: layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil),
		Eraser: workers.NewRetentionWorker(workers.DefaultRetentionPolicy(),
			store, vectors, graphs, audit.New(), nil),
	})

	srv := httptest.NewServer(NewRouter(engine, observability.NewCollector("test"), nil).Setup())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, tenant string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_MissingTenantHeader(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "", map[string]any{
		"content": "hello",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_StoreAndQuery(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
		"project": "ops",
		"content": "the deploy pipeline failed on step three",
		"source":  "agent",
		"tags":    []string{"incident"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stored := decodeBody[map[string]any](t, resp)
	require.NotEmpty(t, stored["id"])

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/memories/query", "acme", map[string]any{
		"project": "ops",
		"query":   "deploy pipeline",
		"top_k":   5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[memory.QueryResponse](t, resp)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, "the deploy pipeline failed on step three", result.Results[0].Memory.Content)
}

func TestRouter_StoreRejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
		"project": "ops",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_QueryRejectsBadWeights(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories/query", "acme", map[string]any{
		"query":   "anything",
		"weights": map[string]float64{"dense": 0.5, "sparse": 0.2},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Stats(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
		"content": "remember this",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/memories/stats", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(1), stats["total"])
}

func TestRouter_DeleteTenant(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
		"content": "ephemeral",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A tenant cannot wipe another tenant.
	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/tenants/other", "acme", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/tenants/acme", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(1), report["memories"])

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/memories/stats", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(0), stats["total"])
}

func TestRouter_EraseUser(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
			"content": "note from alice",
			"source":  "alice@example.com",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/memories", "acme", map[string]any{
		"content": "note from bob",
		"source":  "bob@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/maintenance/erase", "acme", map[string]any{
		"source": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(2), body["deleted"])

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/memories/stats", "acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(1), stats["total"])
}

func TestRouter_EraseRequiresSource(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/maintenance/erase", "acme", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Consolidate(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/maintenance/consolidate", "acme", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ReflectWithoutReflector(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/maintenance/reflect", "acme", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
