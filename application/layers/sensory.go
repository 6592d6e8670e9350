package layers

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// SensoryConfig tunes the volatile ingest buffer.
type SensoryConfig struct {
	Capacity           int
	Retention          time.Duration
	PromotionThreshold float64
}

// DefaultSensoryConfig returns the standard buffer policy.
func DefaultSensoryConfig() SensoryConfig {
	return SensoryConfig{
		Capacity:           100,
		Retention:          30 * time.Second,
		PromotionThreshold: 0.7,
	}
}

// SensoryLayer is a per-tenant capacity-bounded ring of raw fragments. It
// never touches durable storage until an item is promoted, and it is never
// searched.
type SensoryLayer struct {
	cfg    SensoryConfig
	store  ports.MemoryStore
	logger *zap.Logger

	mu    sync.Mutex
	rings map[string][]*memory.Memory
}

var _ Layer = (*SensoryLayer)(nil)

func NewSensoryLayer(cfg SensoryConfig, store ports.MemoryStore, logger *zap.Logger) *SensoryLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultSensoryConfig().Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSensoryConfig().Retention
	}
	return &SensoryLayer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		rings:  make(map[string][]*memory.Memory),
	}
}

// Add appends to the tenant's ring, evicting expired items and then the
// oldest entries beyond capacity.
func (l *SensoryLayer) Add(ctx context.Context, m *memory.Memory) (string, error) {
	m.Layer = memory.LayerSensory
	if err := m.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ring := l.evictLocked(m.TenantID, time.Now())
	ring = append(ring, m.Clone())
	if over := len(ring) - l.cfg.Capacity; over > 0 {
		ring = ring[over:]
	}
	l.rings[m.TenantID] = ring
	return m.ID, nil
}

func (l *SensoryLayer) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.evictLocked(tenantID, time.Now()) {
		if m.ID == id {
			m.AccessCount++
			m.LastAccessedAt = time.Now().UTC()
			return m.Clone(), nil
		}
	}
	return nil, appErrors.NewNotFound("memory not found: " + id)
}

// Search always returns nothing: the sensory buffer is not queryable.
func (l *SensoryLayer) Search(ctx context.Context, tenantID, query string, limit int) ([]ports.FullTextMatch, error) {
	return nil, nil
}

// Recent returns the newest n items, most recent first.
func (l *SensoryLayer) Recent(ctx context.Context, tenantID string, n int) []*memory.Memory {
	l.mu.Lock()
	defer l.mu.Unlock()
	ring := l.evictLocked(tenantID, time.Now())
	if n <= 0 || n > len(ring) {
		n = len(ring)
	}
	out := make([]*memory.Memory, 0, n)
	for i := len(ring) - 1; i >= len(ring)-n; i-- {
		out = append(out, ring[i].Clone())
	}
	return out
}

// Cleanup drops expired items from every checked ring.
func (l *SensoryLayer) Cleanup(ctx context.Context, tenantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.rings[tenantID])
	after := len(l.evictLocked(tenantID, time.Now()))
	return before - after, nil
}

func (l *SensoryLayer) Count(ctx context.Context, tenantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.evictLocked(tenantID, time.Now())), nil
}

// Promote persists every buffered item above the importance threshold as a
// durable working-layer record and removes it from the ring. Returns the
// promoted ids.
func (l *SensoryLayer) Promote(ctx context.Context, tenantID string) ([]string, error) {
	l.mu.Lock()
	ring := l.evictLocked(tenantID, time.Now())
	var candidates []*memory.Memory
	var kept []*memory.Memory
	for _, m := range ring {
		if m.Importance >= l.cfg.PromotionThreshold {
			candidates = append(candidates, m)
		} else {
			kept = append(kept, m)
		}
	}
	l.rings[tenantID] = kept
	l.mu.Unlock()

	var promoted []string
	for _, m := range candidates {
		m.Layer = memory.LayerWorking
		if _, err := l.store.Store(ctx, m); err != nil {
			l.logger.Warn("sensory promotion failed",
				zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		promoted = append(promoted, m.ID)
	}
	return promoted, nil
}

// evictLocked removes expired entries and returns the surviving ring in
// chronological order.
func (l *SensoryLayer) evictLocked(tenantID string, now time.Time) []*memory.Memory {
	ring := l.rings[tenantID]
	cutoff := now.Add(-l.cfg.Retention)
	kept := ring[:0]
	for _, m := range ring {
		if m.CreatedAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].CreatedAt.Before(kept[j].CreatedAt) })
	l.rings[tenantID] = kept
	return kept
}
