package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/graph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

func floatPtr(v float64) *float64 { return &v }

func layerPtr(l memory.Layer) *memory.Layer { return &l }

func TestEngineStore_AssignsLayerByImportance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	lowID, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "routine note", Source: "agent",
		Importance: floatPtr(0.4),
	})
	require.NoError(t, err)
	highID, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "critical decision", Source: "agent",
		Importance: floatPtr(0.9),
	})
	require.NoError(t, err)

	low, err := env.store.Get(ctx, "t1", lowID)
	require.NoError(t, err)
	assert.Equal(t, memory.LayerWorking, low.Layer)

	high, err := env.store.Get(ctx, "t1", highID)
	require.NoError(t, err)
	assert.Equal(t, memory.LayerEpisodic, high.Layer)
}

func TestEngineStore_RestrictedEpisodicRejected(t *testing.T) {
	env := newTestEnv(DefaultEngineConfig())

	_, err := env.engine.Store(context.Background(), &memory.StoreRequest{
		TenantID:  "t1",
		Project:   "p",
		Content:   "secret incident details",
		Source:    "agent",
		InfoClass: memory.ClassRestricted,
		Layer:     layerPtr(memory.LayerEpisodic),
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsSecurityPolicyViolation(err))
}

func TestEngineStore_IndexesVectorAndEmbedding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	id, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "vectorized note", Source: "agent",
	})
	require.NoError(t, err)

	rec, err := env.vectors.Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.Contains(t, rec.Vectors, ports.DefaultSpace)

	m, err := env.store.Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Embedding)
}

func TestEngineStore_SensoryStaysVolatile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	id, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "raw fragment", Source: "agent",
		Layer: layerPtr(memory.LayerSensory),
	})
	require.NoError(t, err)

	_, err = env.store.Get(ctx, "t1", id)
	assert.Error(t, err)
}

func TestEngineStore_GraphExtraction(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultEngineConfig()
	cfg.ExtractGraph = true
	env := newTestEnv(cfg)
	env.llm.entities = []ports.Entity{{Text: "Postgres", Type: "system", Confidence: 0.9}}

	id, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "Postgres failover drill passed", Source: "agent",
	})
	require.NoError(t, err)

	neighbors, err := env.graphs.GetNeighbors(ctx, "t1", id, graph.DirectionBoth, "", 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "entity:Postgres", neighbors[0].ID)
}

func TestEngineStore_GovernanceTags(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	id, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "long tool chain run", Source: "agent",
		Governance: &memory.GovernanceSignals{PromptChainLength: 12},
	})
	require.NoError(t, err)

	m, err := env.store.Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.True(t, m.HasTag("high_risk_sequence"))
}

func TestEngineQuery_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())
	env.embedder.vectors["postgres tuning"] = []float32{1, 0, 0}
	env.embedder.vectors["notes about postgres tuning"] = []float32{0.9, 0.1, 0}

	_, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "notes about postgres tuning", Source: "agent",
	})
	require.NoError(t, err)

	resp, err := env.engine.Query(ctx, &memory.QueryRequest{
		TenantID: "t1", Query: "postgres tuning", TopK: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "notes about postgres tuning", resp.Results[0].Memory.Content)
}

func TestEngineConsolidate_FullPass(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())
	env.llm.response = "merged note"

	for i := 0; i < 3; i++ {
		_, err := env.engine.Store(ctx, &memory.StoreRequest{
			TenantID: "t1", Project: "p", Content: "session observation", Source: "agent",
			SessionID:  "s1",
			Importance: floatPtr(0.5),
		})
		require.NoError(t, err)
	}

	report, err := env.engine.Consolidate(ctx, "t1", "p")
	require.NoError(t, err)
	require.Len(t, report.Merged, 1)

	merged, err := env.store.Get(ctx, "t1", report.Merged[0])
	require.NoError(t, err)
	assert.Equal(t, memory.LayerSemantic, merged.Layer)
	assert.Equal(t, "merged note", merged.Content)

	// Merged record is re-indexed in the vector store.
	_, err = env.vectors.Get(ctx, "t1", merged.ID)
	assert.NoError(t, err)
}

func TestEngineStatistics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	for _, imp := range []float64{0.4, 0.9} {
		_, err := env.engine.Store(ctx, &memory.StoreRequest{
			TenantID: "t1", Project: "p", Content: "record", Source: "agent",
			Importance: floatPtr(imp),
		})
		require.NoError(t, err)
	}

	stats, err := env.engine.GetStatistics(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByLayer[memory.LayerWorking])
	assert.Equal(t, 1, stats.ByLayer[memory.LayerEpisodic])
	assert.InDelta(t, 0.65, stats.AvgImportance, 1e-9)
	assert.InDelta(t, 0.9, stats.MaxImportance, 1e-9)
	assert.Len(t, stats.TopAccessed, 2)
}

func TestEngineClear_WipesAllBackends(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultEngineConfig()
	cfg.ExtractGraph = true
	env := newTestEnv(cfg)
	env.llm.entities = []ports.Entity{{Text: "Redis", Type: "system", Confidence: 0.8}}

	id, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t1", Project: "p", Content: "Redis latency spike", Source: "agent",
	})
	require.NoError(t, err)

	// Unrelated tenant survives the wipe.
	otherID, err := env.engine.Store(ctx, &memory.StoreRequest{
		TenantID: "t2", Project: "p", Content: "unrelated", Source: "agent",
	})
	require.NoError(t, err)

	report, err := env.engine.Clear(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Memories)
	assert.Equal(t, 1, report.Vectors)
	assert.Positive(t, report.Graph)

	_, err = env.store.Get(ctx, "t1", id)
	assert.Error(t, err)
	_, err = env.store.Get(ctx, "t2", otherID)
	assert.NoError(t, err)
}

func TestEngineGenerateReflections_Unconfigured(t *testing.T) {
	env := newTestEnv(DefaultEngineConfig())
	_, err := env.engine.GenerateReflections(context.Background(), "t1", "p")
	assert.Error(t, err)
}

type recordingEraser struct {
	tenant, source, actor string
	deleted               int
}

func (r *recordingEraser) Erase(ctx context.Context, tenantID, source, actor string) (int, error) {
	r.tenant, r.source, r.actor = tenantID, source, actor
	return r.deleted, nil
}

func TestEngineEraseUserData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(DefaultEngineConfig())

	_, err := env.engine.EraseUserData(ctx, "t1", "alice@example.com", "dpo")
	assert.Error(t, err)

	eraser := &recordingEraser{deleted: 4}
	env.engine.eraser = eraser

	_, err = env.engine.EraseUserData(ctx, "t1", "", "dpo")
	assert.Error(t, err)

	deleted, err := env.engine.EraseUserData(ctx, "t1", "alice@example.com", "dpo")
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	assert.Equal(t, "t1", eraser.tenant)
	assert.Equal(t, "alice@example.com", eraser.source)
	assert.Equal(t, "dpo", eraser.actor)
}
