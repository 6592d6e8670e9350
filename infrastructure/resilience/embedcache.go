package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

// embedCacheTTL bounds how long a cached embedding stays valid. Embeddings
// are deterministic per model, so the TTL exists only to bound cache growth.
const embedCacheTTL = 24 * time.Hour

// CachingEmbedder memoizes EmbedText results keyed by task and content hash.
// Batch calls pass through; their per-item hit rates rarely justify the
// bookkeeping.
type CachingEmbedder struct {
	inner     ports.EmbeddingProvider
	cache     ports.Cache
	collector *observability.Collector
	logger    *zap.Logger
}

var _ ports.EmbeddingProvider = (*CachingEmbedder)(nil)

// NewCachingEmbedder wraps inner with the cache. The collector may be nil.
func NewCachingEmbedder(inner ports.EmbeddingProvider, cache ports.Cache, collector *observability.Collector, logger *zap.Logger) *CachingEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingEmbedder{inner: inner, cache: cache, collector: collector, logger: logger}
}

func embedKey(text string, task ports.TaskType) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + string(task) + ":" + hex.EncodeToString(sum[:])
}

func (c *CachingEmbedder) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	key := embedKey(text, task)
	if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		if vec, ok := decodeVector(raw); ok {
			if c.collector != nil {
				c.collector.CacheHits.Inc()
			}
			return vec, nil
		}
	}
	if c.collector != nil {
		c.collector.CacheMisses.Inc()
	}

	vec, err := c.inner.EmbedText(ctx, text, task)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, encodeVector(vec), embedCacheTTL); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts, task)
}

func (c *CachingEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true
}
