package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// DreamerConfig tunes the offline reflection job.
type DreamerConfig struct {
	Enabled       bool
	MinImportance float64
	Lookback      time.Duration
	MaxSamples    int
	// MinSamples is the smallest qualifying set worth reflecting over.
	MinSamples int
}

// DefaultDreamerConfig returns the standard dreaming policy.
func DefaultDreamerConfig() DreamerConfig {
	return DreamerConfig{
		Enabled:       true,
		MinImportance: 0.6,
		Lookback:      24 * time.Hour,
		MaxSamples:    20,
		MinSamples:    3,
	}
}

// DreamerWorker replays each tenant/project's recent important memories
// through the reflection engine while the system is otherwise idle.
type DreamerWorker struct {
	cfg    DreamerConfig
	store  ports.MemoryStore
	engine *ReflectionEngine
	logger *zap.Logger
}

func NewDreamerWorker(cfg DreamerConfig, store ports.MemoryStore, engine *ReflectionEngine, logger *zap.Logger) *DreamerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultDreamerConfig()
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = def.MinImportance
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	return &DreamerWorker{cfg: cfg, store: store, engine: engine, logger: logger}
}

// RunProject reflects over one tenant/project pair. Returns the ids of the
// created reflections, empty when the sample is too small.
func (w *DreamerWorker) RunProject(ctx context.Context, tenantID, project string) ([]string, error) {
	if !w.cfg.Enabled {
		return nil, nil
	}
	samples, err := w.store.List(ctx, ports.ListFilter{
		TenantID:      tenantID,
		Project:       project,
		MinImportance: w.cfg.MinImportance,
		CreatedAfter:  time.Now().Add(-w.cfg.Lookback),
		OrderBy:       "created_at",
		Limit:         w.cfg.MaxSamples,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "dreamer: list samples")
	}

	var events []*memory.Memory
	for _, m := range samples {
		if m.Layer == memory.LayerReflective {
			continue
		}
		events = append(events, m)
	}
	if len(events) < w.cfg.MinSamples {
		return nil, nil
	}

	result, err := w.engine.Generate(ctx, &ReflectionContext{
		TenantID: tenantID,
		Project:  project,
		Outcome:  deriveOutcome(events),
		Events:   events,
	})
	if err != nil {
		return nil, err
	}
	ids := []string{result.ReflectionID}
	if result.StrategyID != "" {
		ids = append(ids, result.StrategyID)
	}
	return ids, nil
}

// Reflect satisfies the engine facade's reflector dependency.
func (w *DreamerWorker) Reflect(ctx context.Context, tenantID, project string) ([]string, error) {
	return w.RunProject(ctx, tenantID, project)
}

// RunTenant reflects over every project seen in the tenant's recent
// memories.
func (w *DreamerWorker) RunTenant(ctx context.Context, tenantID string) ([]string, error) {
	if !w.cfg.Enabled {
		return nil, nil
	}
	recent, err := w.store.List(ctx, ports.ListFilter{
		TenantID:     tenantID,
		CreatedAfter: time.Now().Add(-w.cfg.Lookback),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "dreamer: list tenant memories")
	}
	projects := make(map[string]bool)
	for _, m := range recent {
		projects[m.Project] = true
	}

	var created []string
	for project := range projects {
		ids, err := w.RunProject(ctx, tenantID, project)
		if err != nil {
			w.logger.Warn("dreaming failed for project",
				zap.String("tenant_id", tenantID),
				zap.String("project", project),
				zap.Error(err))
			continue
		}
		created = append(created, ids...)
	}
	return created, nil
}

// Run processes every tenant with per-tenant failure isolation.
func (w *DreamerWorker) Run(ctx context.Context, tenants []string) map[string]int {
	results := make(map[string]int, len(tenants))
	for _, tenant := range tenants {
		ids, err := w.RunTenant(ctx, tenant)
		if err != nil {
			w.logger.Error("dreamer run failed for tenant",
				zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		results[tenant] = len(ids)
	}
	return results
}

// deriveOutcome inspects event metadata for an outcome marker, defaulting
// to success with any failure marker flipping the whole episode.
func deriveOutcome(events []*memory.Memory) Outcome {
	outcome := OutcomeSuccess
	for _, m := range events {
		if m.Metadata == nil {
			continue
		}
		switch m.Metadata["outcome"] {
		case string(OutcomeFailure):
			return OutcomeFailure
		case string(OutcomePartial):
			outcome = OutcomePartial
		}
	}
	return outcome
}
