package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/audit"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/graph/memgraph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/memstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/memvec"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *scriptedLLM) GenerateWithContext(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (string, error) {
	return s.response, s.err
}

func (s *scriptedLLM) CountTokens(ctx context.Context, text string) (int, error) {
	return len(text) / 4, nil
}

func (s *scriptedLLM) SupportsFunctionCalling() bool { return false }

func (s *scriptedLLM) ExtractEntities(ctx context.Context, text string) ([]ports.Entity, error) {
	return nil, nil
}

func (s *scriptedLLM) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	return s.response, s.err
}

func seedMemory(t *testing.T, store *memstore.Store, tenant string, mutate func(*memory.Memory)) *memory.Memory {
	t.Helper()
	m := memory.New(uuid.NewString(), tenant, "proj", "event content", "test")
	m.Layer = memory.LayerEpisodic
	if mutate != nil {
		mutate(m)
	}
	_, err := store.Store(context.Background(), m)
	require.NoError(t, err)
	return m
}

func TestDecay_TieredFactors(t *testing.T) {
	w := NewDecayWorker(DefaultDecayConfig(), nil, nil)

	// Recently accessed decays at half rate.
	assert.InDelta(t, 1-0.05*0.5, w.decayFactor(3), 1e-9)
	// Mid-range decays at the base rate.
	assert.InDelta(t, 1-0.05, w.decayFactor(15), 1e-9)
	// Stale decays progressively faster.
	assert.InDelta(t, 1-0.05*(1+60.0/30.0), w.decayFactor(60), 1e-9)
	// Extremely stale never goes negative.
	assert.Equal(t, 0.0, w.decayFactor(100000))
}

func TestDecay_RunTenant(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	w := NewDecayWorker(DefaultDecayConfig(), store, nil)

	stale := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Importance = 0.5
		m.LastAccessedAt = time.Now().Add(-45 * 24 * time.Hour)
	})
	reflective := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Layer = memory.LayerReflective
		m.Importance = 0.8
		m.LastAccessedAt = time.Now().Add(-45 * 24 * time.Hour)
	})
	floored := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Importance = 0.02
		m.LastAccessedAt = time.Now().Add(-400 * 24 * time.Hour)
	})

	updated, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	m, _ := store.Get(ctx, "t1", stale.ID)
	// 45 days stale: factor = 1 − 0.05·(1+1.5) = 0.875.
	assert.InDelta(t, 0.5*0.875, m.Importance, 1e-6)

	r, _ := store.Get(ctx, "t1", reflective.ID)
	assert.InDelta(t, 0.8, r.Importance, 1e-9)

	f, _ := store.Get(ctx, "t1", floored.ID)
	assert.InDelta(t, 0.01, f.Importance, 1e-9)
}

func TestDecay_TenantFailureIsolated(t *testing.T) {
	store := memstore.New(nil)
	seedMemory(t, store, "good", func(m *memory.Memory) {
		m.LastAccessedAt = time.Now().Add(-15 * 24 * time.Hour)
	})
	w := NewDecayWorker(DefaultDecayConfig(), store, nil)

	// The empty tenant id fails validation inside List; the good tenant
	// still gets processed.
	results := w.Run(context.Background(), []string{"", "good"})
	assert.NotContains(t, results, "")
	assert.Contains(t, results, "good")
}

func TestSummarizer_CreatesSummary(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	llm := &scriptedLLM{response: `{"summary": "debugged the gateway", "key_topics": ["gateway", "retries"], "sentiment": "neutral"}`}
	w := NewSummarizerWorker(SummarizerConfig{Enabled: true, MinEvents: 3, IdleAfter: time.Minute}, store, llm, nil)

	for i := 0; i < 3; i++ {
		seedMemory(t, store, "t1", func(m *memory.Memory) {
			m.SessionID = "s1"
			m.CreatedAt = time.Now().Add(-2 * time.Hour)
		})
	}

	created, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, created, 1)

	s, err := store.Get(ctx, "t1", created[0])
	require.NoError(t, err)
	assert.Equal(t, "debugged the gateway", s.Content)
	assert.Equal(t, memory.LayerEpisodic, s.Layer)
	assert.Equal(t, SummarizerSource, s.Source)
	assert.True(t, s.HasTag("summary"))
	assert.Equal(t, "neutral", s.Metadata["sentiment"])

	// A second run does not summarize the same session again.
	again, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSummarizer_SkipsSmallAndActiveSessions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	llm := &scriptedLLM{response: `{"summary": "x", "key_topics": [], "sentiment": "neutral"}`}
	w := NewSummarizerWorker(SummarizerConfig{Enabled: true, MinEvents: 3, IdleAfter: time.Minute}, store, llm, nil)

	// Too small.
	seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.SessionID = "small"
		m.CreatedAt = time.Now().Add(-2 * time.Hour)
	})
	// Big enough but still active.
	for i := 0; i < 3; i++ {
		seedMemory(t, store, "t1", func(m *memory.Memory) {
			m.SessionID = "active"
		})
	}

	created, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Zero(t, llm.calls)
}

func TestSummarizer_DisabledFlag(t *testing.T) {
	store := memstore.New(nil)
	llm := &scriptedLLM{}
	w := NewSummarizerWorker(SummarizerConfig{Enabled: false}, store, llm, nil)

	created, err := w.RunTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestReflectionEngine_PersistsReflectionAndStrategy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	llm := &scriptedLLM{response: `{"reflection": "retry storms amplify outages", "strategy": "cap retries with jitter", "importance": 0.8, "confidence": 0.9, "tags": ["incident"]}`}
	engine := NewReflectionEngine(refl, store, llm, nil)

	events := []*memory.Memory{
		seedMemory(t, store, "t1", nil),
		seedMemory(t, store, "t1", nil),
	}

	result, err := engine.Generate(ctx, &ReflectionContext{
		TenantID: "t1",
		Project:  "proj",
		Outcome:  OutcomeFailure,
		Events:   events,
		TaskGoal: "keep the gateway up",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ReflectionID)
	require.NotEmpty(t, result.StrategyID)

	r, err := store.Get(ctx, "t1", result.ReflectionID)
	require.NoError(t, err)
	assert.Equal(t, memory.LayerReflective, r.Layer)
	assert.Equal(t, memory.TypeReflection, r.MemoryType)
	assert.InDelta(t, 0.8, r.Importance, 1e-9)
	assert.True(t, r.HasTag("incident"))
	assert.ElementsMatch(t, []string{events[0].ID, events[1].ID}, r.Metadata[layers.MetadataReflectionSources])

	s, err := store.Get(ctx, "t1", result.StrategyID)
	require.NoError(t, err)
	assert.True(t, s.HasTag("strategy"))
	assert.Equal(t, result.ReflectionID, s.Metadata["reflection_id"])
}

func TestReflectionEngine_NoStrategyText(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	llm := &scriptedLLM{response: `{"reflection": "pairing on reviews works", "strategy": "", "importance": 0.7, "confidence": 0.8, "tags": []}`}
	engine := NewReflectionEngine(refl, store, llm, nil)

	result, err := engine.Generate(ctx, &ReflectionContext{
		TenantID: "t1",
		Outcome:  OutcomeSuccess,
		Events:   []*memory.Memory{seedMemory(t, store, "t1", nil)},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ReflectionID)
	assert.Empty(t, result.StrategyID)
}

func TestReflectionEngine_MalformedPayload(t *testing.T) {
	store := memstore.New(nil)
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	llm := &scriptedLLM{response: "I think the agent did fine overall."}
	engine := NewReflectionEngine(refl, store, llm, nil)

	_, err := engine.Generate(context.Background(), &ReflectionContext{
		TenantID: "t1",
		Outcome:  OutcomeSuccess,
		Events:   []*memory.Memory{seedMemory(t, store, "t1", nil)},
	})
	assert.Error(t, err)
}

func TestDreamer_SkipsSmallSamples(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	llm := &scriptedLLM{response: `{"reflection": "r", "importance": 0.7, "confidence": 0.8}`}
	engine := NewReflectionEngine(refl, store, llm, nil)
	w := NewDreamerWorker(DefaultDreamerConfig(), store, engine, nil)

	for i := 0; i < 2; i++ {
		seedMemory(t, store, "t1", func(m *memory.Memory) { m.Importance = 0.8 })
	}

	ids, err := w.RunProject(ctx, "t1", "proj")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, llm.calls)
}

func TestDreamer_GeneratesReflections(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	llm := &scriptedLLM{response: `{"reflection": "deployment cadence is stable", "strategy": "", "importance": 0.75, "confidence": 0.8, "tags": []}`}
	engine := NewReflectionEngine(refl, store, llm, nil)
	w := NewDreamerWorker(DefaultDreamerConfig(), store, engine, nil)

	for i := 0; i < 4; i++ {
		seedMemory(t, store, "t1", func(m *memory.Memory) { m.Importance = 0.8 })
	}
	// Below the importance bar: not part of the sample.
	seedMemory(t, store, "t1", func(m *memory.Memory) { m.Importance = 0.2 })

	ids, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	r, err := store.Get(ctx, "t1", ids[0])
	require.NoError(t, err)
	assert.Equal(t, memory.LayerReflective, r.Layer)
	assert.Equal(t, "success", r.Metadata["outcome"])
}

func TestDreamer_OutcomeDerivation(t *testing.T) {
	events := []*memory.Memory{
		{Metadata: map[string]any{"outcome": "partial"}},
		{Metadata: nil},
	}
	assert.Equal(t, OutcomePartial, deriveOutcome(events))

	events = append(events, &memory.Memory{Metadata: map[string]any{"outcome": "failure"}})
	assert.Equal(t, OutcomeFailure, deriveOutcome(events))

	assert.Equal(t, OutcomeSuccess, deriveOutcome([]*memory.Memory{{}}))
}

func TestRetention_SweepAndAudit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	vectors := memvec.New(nil)
	log := audit.New()
	w := NewRetentionWorker(DefaultRetentionPolicy(), store, vectors, nil, log, nil)

	old := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.CreatedAt = time.Now().AddDate(0, 0, -400)
		m.LastAccessedAt = m.CreatedAt
	})
	fresh := seedMemory(t, store, "t1", nil)
	// Semantic records are retained forever.
	keeper := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Layer = memory.LayerSemantic
		m.CreatedAt = time.Now().AddDate(0, 0, -4000)
	})

	removed, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "t1", old.ID)
	assert.Error(t, err)
	_, err = store.Get(ctx, "t1", fresh.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, "t1", keeper.ID)
	assert.NoError(t, err)

	entries, err := log.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "episodic", entries[0].DataClass)
	assert.Equal(t, 1, entries[0].Count)
}

func TestRetention_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	log := audit.New()
	w := NewRetentionWorker(DefaultRetentionPolicy(), store, nil, nil, log, nil)

	seedMemory(t, store, "t1", func(m *memory.Memory) {
		exp := time.Now().Add(-time.Minute)
		m.CreatedAt = time.Now().Add(-time.Hour)
		m.ExpiresAt = &exp
	})

	removed, err := w.RunTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, _ := log.List(ctx, "t1")
	require.NotEmpty(t, entries)
	assert.Equal(t, "ttl", entries[0].DataClass)
}

func TestRetention_EraseScopedToSource(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	vectors := memvec.New(nil)
	graphs := memgraph.New(nil)
	log := audit.New()
	w := NewRetentionWorker(DefaultRetentionPolicy(), store, vectors, graphs, log, nil)

	var erased []*memory.Memory
	for i := 0; i < 5; i++ {
		m := seedMemory(t, store, "t1", func(m *memory.Memory) {
			m.Source = "alice@example.com"
		})
		require.NoError(t, vectors.Upsert(ctx, ports.VectorRecord{
			ID: m.ID, TenantID: "t1", Layer: memory.LayerEpisodic,
			Vectors: map[string][]float32{ports.DefaultSpace: {1, 0, 0}},
		}))
		erased = append(erased, m)
	}
	survivor := seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Source = "bob@example.com"
	})

	deleted, err := w.Erase(ctx, "t1", "alice@example.com", "dpo")
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	for _, m := range erased {
		_, err = store.Get(ctx, "t1", m.ID)
		assert.Error(t, err)
		_, err = vectors.Get(ctx, "t1", m.ID)
		assert.Error(t, err)
	}
	_, err = store.Get(ctx, "t1", survivor.ID)
	assert.NoError(t, err)

	entries, _ := log.List(ctx, "t1")
	require.Len(t, entries, 1)
	assert.Equal(t, "user_request", entries[0].Reason)
	assert.Equal(t, "user_data", entries[0].DataClass)
	assert.Equal(t, 5, entries[0].Count)
	assert.Equal(t, "dpo", entries[0].Actor)
	assert.Equal(t, ports.PseudonymFor("alice@example.com"), entries[0].Metadata["subject"])
}

func TestRetention_ErasePseudonymizesAuditTrail(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	log := audit.New()
	w := NewRetentionWorker(DefaultRetentionPolicy(), store, nil, nil, log, nil)

	require.NoError(t, log.Append(ctx, ports.AuditEntry{
		TenantID:  "t1",
		DataClass: "export",
		Reason:    "subject_access_request",
		Count:     3,
		Actor:     "alice@example.com",
		Metadata:  map[string]any{"requested_by": "alice@example.com"},
	}))
	seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Source = "alice@example.com"
	})

	_, err := w.Erase(ctx, "t1", "alice@example.com", "alice@example.com")
	require.NoError(t, err)

	alias := ports.PseudonymFor("alice@example.com")
	entries, _ := log.List(ctx, "t1")
	require.Len(t, entries, 2)
	assert.Equal(t, alias, entries[0].Actor)
	assert.Equal(t, alias, entries[0].Metadata["requested_by"])
	assert.Equal(t, alias, entries[1].Actor)
	assert.NotContains(t, entries[1].Metadata, "source")
	assert.Equal(t, alias, entries[1].Metadata["subject"])
}

func TestRetention_EraseRequiresSource(t *testing.T) {
	w := NewRetentionWorker(DefaultRetentionPolicy(), memstore.New(nil), nil, nil, audit.New(), nil)
	_, err := w.Erase(context.Background(), "t1", "", "dpo")
	assert.Error(t, err)
}

func TestScheduler_DailyCycleReport(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	llm := &scriptedLLM{response: `{"summary": "s", "key_topics": [], "sentiment": "neutral", "reflection": "r", "importance": 0.7, "confidence": 0.8}`}
	refl := layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), store, nil)
	engine := NewReflectionEngine(refl, store, llm, nil)

	seedMemory(t, store, "t1", func(m *memory.Memory) {
		m.Importance = 0.8
		m.LastAccessedAt = time.Now().Add(-15 * 24 * time.Hour)
	})

	sched := NewScheduler(DefaultSchedulerConfig(), SchedulerDeps{
		Lister: TenantListerFunc(func(ctx context.Context) ([]string, error) {
			return []string{"t1"}, nil
		}),
		Decay:      NewDecayWorker(DefaultDecayConfig(), store, nil),
		Summarizer: NewSummarizerWorker(DefaultSummarizerConfig(), store, llm, nil),
		Dreamer:    NewDreamerWorker(DefaultDreamerConfig(), store, engine, nil),
		Retention:  NewRetentionWorker(DefaultRetentionPolicy(), store, nil, nil, audit.New(), nil),
	})

	report := sched.RunDaily(ctx)
	assert.Equal(t, "daily", report.Cycle)
	assert.Equal(t, 1, report.Tenants)
	assert.Equal(t, 1, report.StepCounts["decayed"])
	assert.GreaterOrEqual(t, report.ElapsedMS, int64(0))
}

func TestScheduler_HourlyCycle(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)

	working := layers.NewWorkingLayer(layers.WorkingConfig{Capacity: 1, Retention: time.Hour}, store, nil, nil)
	for i := 0; i < 3; i++ {
		m := memory.New(uuid.NewString(), "t1", "proj", "note", "test")
		_, err := working.Add(ctx, m)
		require.NoError(t, err)
	}

	sched := NewScheduler(DefaultSchedulerConfig(), SchedulerDeps{
		Lister: TenantListerFunc(func(ctx context.Context) ([]string, error) {
			return []string{"t1"}, nil
		}),
		Working: working,
	})

	report := sched.RunHourly(ctx)
	assert.Equal(t, "hourly", report.Cycle)
	assert.Equal(t, 2, report.StepCounts["working_trimmed"])
}

func TestScheduler_ListerFailure(t *testing.T) {
	sched := NewScheduler(DefaultSchedulerConfig(), SchedulerDeps{
		Lister: TenantListerFunc(func(ctx context.Context) ([]string, error) {
			return nil, errors.New("registry down")
		}),
	})
	report := sched.RunDaily(context.Background())
	assert.Zero(t, report.Tenants)
}
