// Package di assembles the engine from configuration. Construction is
// explicit; every backend choice in the config maps to one branch here.
package di

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/layers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/search"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/services"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/workers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/scoring"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/audit"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/cache"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/graph/memgraph"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/llm/openai"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/memstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/persistence/postgres"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/resilience"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/memvec"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/pgvec"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/vector/sqvectstore"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/config"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

const cacheMaxItems = 10000

// Container holds every wired component. Close releases the backends in
// reverse construction order.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Collector *observability.Collector

	Store   ports.MemoryStore
	Vectors ports.VectorStore
	Graphs  ports.GraphStore
	Cache   ports.Cache
	Audit   ports.AuditLog

	Engine    *services.Engine
	Scheduler *workers.Scheduler

	llm      ports.LLMProvider
	embedder ports.EmbeddingProvider

	sensory    *layers.SensoryLayer
	working    *layers.WorkingLayer
	reflective *layers.ReflectiveLayer
	dreamer    *workers.DreamerWorker
	retention  *workers.RetentionWorker

	closers []func()
}

// NewContainer wires the full engine from the configuration. An empty LLM
// API key disables the generative components; storage and retrieval still
// work without them.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:    cfg,
		Logger:    logger,
		Collector: observability.NewCollector("memory_engine"),
	}

	if err := c.buildStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.buildProviders()
	c.buildEngine()
	c.buildScheduler()
	return c, nil
}

// Close releases backends in reverse construction order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (c *Container) buildStorage(ctx context.Context) error {
	switch c.Config.Storage.Backend {
	case config.StorageMemory:
		c.Store = memstore.New(c.Logger)
	case config.StoragePostgres:
		store, err := postgres.New(ctx, c.Config.Storage.DSN, c.Logger)
		if err != nil {
			return err
		}
		c.Store = store
		c.closers = append(c.closers, store.Close)
	default:
		return appErrors.NewValidation("unknown storage backend: " + string(c.Config.Storage.Backend))
	}

	switch c.Config.Vector.Backend {
	case config.VectorMemory:
		c.Vectors = memvec.New(c.Logger)
	case config.VectorPg:
		vectors, err := pgvec.New(ctx, c.Config.Vector.DSN, c.Logger)
		if err != nil {
			return err
		}
		c.Vectors = vectors
		c.closers = append(c.closers, vectors.Close)
	case config.VectorSqlite:
		vectors, err := sqvectstore.New(ctx, c.Config.Vector.Path, c.Config.Vector.Dimension, c.Logger)
		if err != nil {
			return err
		}
		c.Vectors = vectors
		c.closers = append(c.closers, func() { vectors.Close() })
	default:
		return appErrors.NewValidation("unknown vector backend: " + string(c.Config.Vector.Backend))
	}

	c.Graphs = memgraph.New(c.Logger)
	c.Cache = cache.New(cacheMaxItems, c.Logger)
	c.Audit = audit.New()
	return nil
}

func (c *Container) buildProviders() {
	if c.Config.LLM.APIKey == "" {
		c.Logger.Info("no llm api key configured, generative features disabled")
		return
	}
	provider, err := openai.New(openai.Config{
		APIKey:         c.Config.LLM.APIKey,
		ChatModel:      c.Config.LLM.ChatModel,
		EmbeddingModel: c.Config.LLM.EmbeddingModel,
		BaseURL:        c.Config.LLM.BaseURL,
		Timeout:        c.Config.LLM.Timeout,
	}, c.Logger)
	if err != nil {
		c.Logger.Error("openai provider init failed, generative features disabled", zap.Error(err))
		return
	}
	c.llm = resilience.NewLLMBreaker(provider,
		resilience.DefaultBreakerConfig("openai-llm"), c.Logger)
	c.embedder = resilience.NewCachingEmbedder(
		resilience.NewEmbeddingBreaker(provider,
			resilience.DefaultBreakerConfig("openai-embeddings"), c.Logger),
		c.Cache, c.Collector, c.Logger)
}

func (c *Container) buildEngine() {
	strategies := []search.Strategy{
		search.NewSparseStrategy(c.Store, c.Logger),
		search.NewAnchorStrategy(c.Store, c.Logger),
		search.NewGraphTraversalStrategy(c.Graphs, c.Logger),
	}
	if c.embedder != nil {
		strategies = append(strategies,
			search.NewDenseStrategy(c.Vectors, c.embedder, c.Logger),
			search.NewMultiVectorStrategy(c.Vectors, c.embedder, nil, c.Logger),
		)
	}
	searcher := search.NewHybridSearcher(strategies, c.Store,
		scoring.NewScorer(scoring.DefaultWeights(), c.Logger), c.llm, c.Logger)

	c.reflective = layers.NewReflectiveLayer(layers.DefaultReflectiveConfig(), c.Store, c.Logger)
	c.sensory = layers.NewSensoryLayer(layers.DefaultSensoryConfig(), c.Store, c.Logger)
	c.working = layers.NewWorkingLayer(layers.DefaultWorkingConfig(), c.Store, c.llm, c.Logger)

	c.retention = workers.NewRetentionWorker(workers.DefaultRetentionPolicy(),
		c.Store, c.Vectors, c.Graphs, c.Audit, c.Logger)

	deps := services.EngineDeps{
		Store:      c.Store,
		Vectors:    c.Vectors,
		Graphs:     c.Graphs,
		Embedder:   c.embedder,
		LLM:        c.llm,
		Searcher:   searcher,
		Sensory:    c.sensory,
		Working:    c.working,
		LongTerm:   layers.NewLongTermLayer(layers.DefaultLongTermConfig(), c.Store, c.Logger),
		Reflective: c.reflective,
		Eraser:     c.retention,
		Logger:     c.Logger,
	}
	if c.llm != nil {
		reflection := workers.NewReflectionEngine(c.reflective, c.Store, c.llm, c.Logger)
		dreamerCfg := workers.DefaultDreamerConfig()
		dreamerCfg.Enabled = c.Config.Workers.DreamerEnabled
		c.dreamer = workers.NewDreamerWorker(dreamerCfg, c.Store, reflection, c.Logger)
		deps.Reflector = c.dreamer
	}

	engineCfg := services.DefaultEngineConfig()
	engineCfg.ExtractGraph = c.llm != nil
	c.Engine = services.NewEngine(engineCfg, deps)
}

func (c *Container) buildScheduler() {
	decayCfg := workers.DefaultDecayConfig()
	decayCfg.Enabled = c.Config.Workers.DecayEnabled
	if c.Config.Workers.DecayBaseRate > 0 {
		decayCfg.BaseRate = c.Config.Workers.DecayBaseRate
	}

	deps := workers.SchedulerDeps{
		Decay:      workers.NewDecayWorker(decayCfg, c.Store, c.Logger),
		Retention:  c.retention,
		Sensory:    c.sensory,
		Working:    c.working,
		Reflective: c.reflective,
		Cache:      c.Cache,
		Observer: func(r *workers.CycleReport) {
			status := "ok"
			if r.TenantFails > 0 {
				status = "partial"
			}
			c.Collector.WorkerRuns.WithLabelValues(r.Cycle, status).Inc()
			c.Collector.WorkerDuration.WithLabelValues(r.Cycle).
				Observe(float64(r.ElapsedMS) / 1000)
		},
		Logger: c.Logger,
	}
	if lister, ok := c.Store.(workers.TenantLister); ok {
		deps.Lister = lister
	}
	if c.llm != nil {
		summarizerCfg := workers.DefaultSummarizerConfig()
		summarizerCfg.Enabled = c.Config.Workers.SummarizerEnabled
		deps.Summarizer = workers.NewSummarizerWorker(summarizerCfg, c.Store, c.llm, c.Logger)
		deps.Dreamer = c.dreamer
	}

	c.Scheduler = workers.NewScheduler(workers.SchedulerConfig{
		HourlyInterval: c.Config.Workers.HourlyInterval,
		DailyInterval:  c.Config.Workers.DailyInterval,
	}, deps)
}
