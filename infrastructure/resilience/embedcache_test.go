package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/infrastructure/cache"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	c.calls++
	return []float32{0.25, -1.5, float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = c.EmbedText(ctx, texts[i], task)
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return 3 }

func TestCachingEmbedder_MemoizesEmbedText(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	embedder := NewCachingEmbedder(inner, cache.New(100, nil), nil, nil)

	first, err := embedder.EmbedText(ctx, "hello world", ports.TaskSearchDocument)
	require.NoError(t, err)
	second, err := embedder.EmbedText(ctx, "hello world", ports.TaskSearchDocument)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachingEmbedder_KeysByTask(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	embedder := NewCachingEmbedder(inner, cache.New(100, nil), nil, nil)

	_, err := embedder.EmbedText(ctx, "same text", ports.TaskSearchDocument)
	require.NoError(t, err)
	_, err = embedder.EmbedText(ctx, "same text", ports.TaskSearchQuery)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e-7}
	decoded, ok := decodeVector(encodeVector(vec))
	require.True(t, ok)
	assert.Equal(t, vec, decoded)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
