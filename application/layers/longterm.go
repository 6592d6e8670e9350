package layers

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// LongTermConfig tunes the persistent tier.
type LongTermConfig struct {
	// ImportanceFloor is the sweep threshold; records below it are deleted.
	ImportanceFloor float64
}

// DefaultLongTermConfig returns the standard long-term policy.
func DefaultLongTermConfig() LongTermConfig {
	return LongTermConfig{ImportanceFloor: 0.1}
}

// longTermLayers is the episodic+semantic pair this tier manages.
var longTermLayers = []memory.Layer{memory.LayerEpisodic, memory.LayerSemantic}

// LongTermLayer holds episodic events and semantic knowledge. Nothing here
// decays automatically; the periodic sweep removes records whose importance
// has eroded below the floor.
type LongTermLayer struct {
	cfg    LongTermConfig
	store  ports.MemoryStore
	logger *zap.Logger
}

var _ Layer = (*LongTermLayer)(nil)

func NewLongTermLayer(cfg LongTermConfig, store ports.MemoryStore, logger *zap.Logger) *LongTermLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ImportanceFloor <= 0 {
		cfg.ImportanceFloor = DefaultLongTermConfig().ImportanceFloor
	}
	return &LongTermLayer{cfg: cfg, store: store, logger: logger}
}

// Add stores a record, defaulting to episodic when the caller did not pick
// one of the two long-term layers.
func (l *LongTermLayer) Add(ctx context.Context, m *memory.Memory) (string, error) {
	if !m.Layer.LongTerm() {
		m.Layer = memory.LayerEpisodic
	}
	return l.store.Store(ctx, m)
}

func (l *LongTermLayer) Get(ctx context.Context, tenantID, id string) (*memory.Memory, error) {
	m, err := l.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := l.store.TouchAccess(ctx, tenantID, id); err != nil {
		l.logger.Warn("failed to touch access", zap.String("memory_id", id), zap.Error(err))
	}
	return m, nil
}

func (l *LongTermLayer) Search(ctx context.Context, tenantID, query string, limit int) ([]ports.FullTextMatch, error) {
	return l.store.FullTextSearch(ctx, query, false, ports.ListFilter{
		TenantID: tenantID,
		Layers:   longTermLayers,
		Limit:    limit,
	})
}

func (l *LongTermLayer) Count(ctx context.Context, tenantID string) (int, error) {
	return l.store.Count(ctx, ports.ListFilter{
		TenantID: tenantID,
		Layers:   longTermLayers,
	})
}

// Cleanup sweeps records below the importance floor.
func (l *LongTermLayer) Cleanup(ctx context.Context, tenantID string) (int, error) {
	n, err := l.store.DeleteBelowImportance(ctx, tenantID, l.cfg.ImportanceFloor, longTermLayers)
	if err != nil {
		return 0, appErrors.Wrap(err, "long-term sweep")
	}
	return n, nil
}

// Upgrade abstracts an episodic record into a new semantic one. The new
// record links back to its ancestor and gains +0.1 importance, capped at
// 1.0. The episodic original is untouched.
func (l *LongTermLayer) Upgrade(ctx context.Context, tenantID, episodicID string) (string, error) {
	src, err := l.store.Get(ctx, tenantID, episodicID)
	if err != nil {
		return "", err
	}
	if src.Layer != memory.LayerEpisodic {
		return "", appErrors.NewValidation("only episodic memories can be upgraded")
	}

	up := src.Clone()
	up.ID = uuid.NewString()
	up.Layer = memory.LayerSemantic
	up.Importance = src.Importance + 0.1
	if up.Importance > 1.0 {
		up.Importance = 1.0
	}
	up.Version = 1
	if up.Metadata == nil {
		up.Metadata = map[string]any{}
	}
	up.Metadata[MetadataEpisodicAncestor] = episodicID

	return l.store.Store(ctx, up)
}
