package layers

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

// ReflectiveConfig tunes the insight tier.
type ReflectiveConfig struct {
	// DefaultImportance is the minimum importance a reflection is stored
	// with.
	DefaultImportance float64
	// DecayFloor is the importance reflections may never decay below.
	DecayFloor float64
}

// DefaultReflectiveConfig returns the standard reflective policy.
func DefaultReflectiveConfig() ReflectiveConfig {
	return ReflectiveConfig{
		DefaultImportance: 0.6,
		DecayFloor:        0.3,
	}
}

// MetadataReflectionSources lists the memory ids a reflection was derived
// from.
const MetadataReflectionSources = "reflection_sources"

// ReflectiveLayer holds generated insights and patterns. Records here are
// exempt from the decay worker and never swept below the floor.
type ReflectiveLayer struct {
	cfg    ReflectiveConfig
	store  ports.MemoryStore
	logger *zap.Logger
}

var _ Layer = (*ReflectiveLayer)(nil)

func NewReflectiveLayer(cfg ReflectiveConfig, store ports.MemoryStore, logger *zap.Logger) *ReflectiveLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultReflectiveConfig()
	if cfg.DefaultImportance <= 0 {
		cfg.DefaultImportance = def.DefaultImportance
	}
	if cfg.DecayFloor <= 0 {
		cfg.DecayFloor = def.DecayFloor
	}
	return &ReflectiveLayer{cfg: cfg, store: store, logger: logger}
}

// DecayFloor is exposed for the decay worker's exemption logic.
func (l *ReflectiveLayer) DecayFloor() float64 { return l.cfg.DecayFloor }

// Add stores a reflection, raising its importance to the tier default when
// the generator scored it lower. SourceIDs belong in the record metadata
// under MetadataReflectionSources.
func (l *ReflectiveLayer) Add(ctx context.Context, m *memory.Memory) (string, error) {
	m.Layer = memory.LayerReflective
	if m.MemoryType == memory.TypeText {
		m.MemoryType = memory.TypeReflection
	}
	if m.Importance < l.cfg.DefaultImportance {
		m.Importance = l.cfg.DefaultImportance
	}
	return l.store.Store(ctx, m)
}

func (l *ReflectiveLayer) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	m, err := l.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := l.store.TouchAccess(ctx, tenantID, id); err != nil {
		l.logger.Warn("failed to touch access", zap.String("memory_id", id), zap.Error(err))
	}
	return m, nil
}

func (l *ReflectiveLayer) Search(ctx context.Context, tenantID, query string, limit int) ([]ports.FullTextMatch, error) {
	return l.store.FullTextSearch(ctx, query, false, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerReflective},
		Limit:    limit,
	})
}

func (l *ReflectiveLayer) Count(ctx context.Context, tenantID string) (int, error) {
	return l.store.Count(ctx, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerReflective},
	})
}

// Cleanup restores any reflection that eroded below the decay floor instead
// of deleting it. The tier never sheds records on its own.
func (l *ReflectiveLayer) Cleanup(ctx context.Context, tenantID string) (int, error) {
	items, err := l.store.List(ctx, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerReflective},
	})
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, m := range items {
		if m.Importance >= l.cfg.DecayFloor {
			continue
		}
		if _, err := l.store.Update(ctx, tenantID, m.ID, map[string]any{
			"importance": l.cfg.DecayFloor,
		}); err != nil {
			l.logger.Warn("failed to restore reflection floor",
				zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// TopReflections returns the highest-importance reflections at or above the
// minimum, most important first.
func (l *ReflectiveLayer) TopReflections(ctx context.Context, tenantID, project string, k int, minImportance float64) ([]*memory.Memory, error) {
	return l.store.List(ctx, ports.ListFilter{
		TenantID:      tenantID,
		Project:       project,
		Layers:        []memory.Layer{memory.LayerReflective},
		MinImportance: minImportance,
		OrderBy:       "importance",
		Descending:    true,
		Limit:         k,
	})
}
