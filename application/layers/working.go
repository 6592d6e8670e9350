package layers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// WorkingConfig tunes the working tier.
type WorkingConfig struct {
	Capacity  int
	Retention time.Duration
	// Promotion to long-term requires both thresholds within the retention
	// window.
	PromotionImportance float64
	PromotionUsage      int
	// MinGroupSize is the smallest session group consolidation will merge.
	MinGroupSize int
}

// DefaultWorkingConfig returns the standard working-tier policy.
func DefaultWorkingConfig() WorkingConfig {
	return WorkingConfig{
		Capacity:            100,
		Retention:           60 * time.Minute,
		PromotionImportance: 0.6,
		PromotionUsage:      2,
		MinGroupSize:        2,
	}
}

// WorkingLayer is the durable short-horizon tier. Items live here for
// minutes; the ones that prove useful move on, the rest expire.
type WorkingLayer struct {
	cfg    WorkingConfig
	store  ports.MemoryStore
	llm    ports.LLMProvider
	logger *zap.Logger
}

var _ Layer = (*WorkingLayer)(nil)

// NewWorkingLayer constructs the tier. llm may be nil; consolidation then
// falls back to mechanical merging.
func NewWorkingLayer(cfg WorkingConfig, store ports.MemoryStore, llm ports.LLMProvider, logger *zap.Logger) *WorkingLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWorkingConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.PromotionImportance <= 0 {
		cfg.PromotionImportance = def.PromotionImportance
	}
	if cfg.PromotionUsage <= 0 {
		cfg.PromotionUsage = def.PromotionUsage
	}
	if cfg.MinGroupSize <= 0 {
		cfg.MinGroupSize = def.MinGroupSize
	}
	return &WorkingLayer{cfg: cfg, store: store, llm: llm, logger: logger}
}

func (l *WorkingLayer) Add(ctx context.Context, m *memory.Memory) (string, error) {
	m.Layer = memory.LayerWorking
	return l.store.Store(ctx, m)
}

func (l *WorkingLayer) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	m, err := l.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := l.store.TouchAccess(ctx, tenantID, id); err != nil {
		l.logger.Warn("failed to touch access", zap.String("memory_id", id), zap.Error(err))
	}
	return m, nil
}

func (l *WorkingLayer) Search(ctx context.Context, tenantID, query string, limit int) ([]ports.FullTextMatch, error) {
	return l.store.FullTextSearch(ctx, query, false, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerWorking},
		Limit:    limit,
	})
}

func (l *WorkingLayer) Count(ctx context.Context, tenantID string) (int, error) {
	return l.store.Count(ctx, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerWorking},
	})
}

// Cleanup deletes items past the retention window, then trims the tier back
// to capacity oldest-first.
func (l *WorkingLayer) Cleanup(ctx context.Context, tenantID string) (int, error) {
	cutoff := time.Now().Add(-l.cfg.Retention)
	items, err := l.store.List(ctx, ports.ListFilter{
		TenantID: tenantID,
		Layers:   []memory.Layer{memory.LayerWorking},
		OrderBy:  "created_at",
	})
	if err != nil {
		return 0, appErrors.Wrap(err, "working cleanup: list")
	}

	removed := 0
	var live []*memory.Memory
	for _, m := range items {
		if m.CreatedAt.Before(cutoff) {
			if err := l.store.Delete(ctx, tenantID, m.ID); err != nil {
				l.logger.Warn("working cleanup delete failed",
					zap.String("memory_id", m.ID), zap.Error(err))
				continue
			}
			removed++
		} else {
			live = append(live, m)
		}
	}
	for i := 0; len(live)-i > l.cfg.Capacity; i++ {
		if err := l.store.Delete(ctx, tenantID, live[i].ID); err != nil {
			l.logger.Warn("working capacity trim failed",
				zap.String("memory_id", live[i].ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Promote re-tags items meeting both the importance and usage thresholds as
// episodic long-term memories. Returns the promoted ids.
func (l *WorkingLayer) Promote(ctx context.Context, tenantID string) ([]string, error) {
	items, err := l.store.List(ctx, ports.ListFilter{
		TenantID:      tenantID,
		Layers:        []memory.Layer{memory.LayerWorking},
		MinImportance: l.cfg.PromotionImportance,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "working promotion: list")
	}

	var promoted []string
	for _, m := range items {
		if m.UsageCount < l.cfg.PromotionUsage {
			continue
		}
		if _, err := l.store.Update(ctx, tenantID, m.ID, map[string]any{
			"layer": memory.LayerEpisodic,
		}); err != nil {
			l.logger.Warn("working promotion failed",
				zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		promoted = append(promoted, m.ID)
	}
	return promoted, nil
}

// Consolidate merges each session's working memories into one synthesized
// semantic long-term record. The new record's importance is the group
// average plus 0.2, capped at 1.0, and its metadata lists the source ids.
// Sources are marked consolidated but kept; the expiry sweep removes them.
// Returns the ids of the created records.
func (l *WorkingLayer) Consolidate(ctx context.Context, tenantID, project string) ([]string, error) {
	items, err := l.store.List(ctx, ports.ListFilter{
		TenantID: tenantID,
		Project:  project,
		Layers:   []memory.Layer{memory.LayerWorking},
		OrderBy:  "created_at",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "consolidation: list")
	}

	groups := make(map[string][]*memory.Memory)
	for _, m := range items {
		if m.Metadata != nil {
			if v, ok := m.Metadata[MetadataConsolidated].(bool); ok && v {
				continue
			}
		}
		groups[m.SessionID] = append(groups[m.SessionID], m)
	}

	var created []string
	for session, group := range groups {
		if len(group) < l.cfg.MinGroupSize {
			continue
		}
		id, err := l.consolidateGroup(ctx, tenantID, project, session, group)
		if err != nil {
			l.logger.Warn("consolidation group failed",
				zap.String("session_id", session), zap.Error(err))
			continue
		}
		created = append(created, id)
	}
	return created, nil
}

func (l *WorkingLayer) consolidateGroup(ctx context.Context, tenantID, project, session string, group []*memory.Memory) (string, error) {
	content := l.synthesize(ctx, group)

	var sumImportance float64
	sourceIDs := make([]string, len(group))
	for i, m := range group {
		sumImportance += m.Importance
		sourceIDs[i] = m.ID
	}
	importance := sumImportance/float64(len(group)) + 0.2
	if importance > 1.0 {
		importance = 1.0
	}

	merged := memory.New(uuid.NewString(), tenantID, project, content, "consolidation")
	merged.Layer = memory.LayerSemantic
	merged.SessionID = session
	merged.Importance = importance
	merged.Metadata = map[string]any{MetadataSourceIDs: sourceIDs}
	merged.AddTag("consolidated-from-working")

	id, err := l.store.Store(ctx, merged)
	if err != nil {
		return "", appErrors.Wrap(err, "consolidation: store merged record")
	}

	for _, m := range group {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		meta[MetadataConsolidated] = true
		if _, err := l.store.Update(ctx, tenantID, m.ID, map[string]any{
			"metadata": meta,
		}); err != nil {
			l.logger.Warn("failed to mark source consolidated",
				zap.String("memory_id", m.ID), zap.Error(err))
		}
	}
	return id, nil
}

// synthesize asks the LLM to merge the group into one coherent note,
// falling back to concatenation when no model is available.
func (l *WorkingLayer) synthesize(ctx context.Context, group []*memory.Memory) string {
	var parts []string
	for _, m := range group {
		parts = append(parts, m.Content)
	}
	fallback := strings.Join(parts, "\n")

	if l.llm == nil {
		return fallback
	}
	var b strings.Builder
	b.WriteString("Merge the following related notes into one concise, self-contained note that preserves every distinct fact:\n\n")
	for i, p := range parts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	out, err := l.llm.Generate(ctx, b.String(), ports.GenerateOptions{
		SystemPrompt: "You consolidate an agent's short-term notes into durable knowledge.",
		MaxTokens:    1024,
		Temperature:  0.2,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		l.logger.Warn("llm consolidation failed, using concatenation", zap.Error(err))
		return fallback
	}
	return out
}
