package openai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestParseEntities(t *testing.T) {
	raw := "Sure, here are the entities:\n" +
		`[{"text": "Postgres", "type": "technology", "confidence": 0.95}, {"text": "Berlin", "type": "location", "confidence": 0.8}]` +
		"\nLet me know if you need more."
	entities, err := parseEntities(raw)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Postgres", entities[0].Text)
	assert.Equal(t, "location", entities[1].Type)
}

func TestParseEntities_Malformed(t *testing.T) {
	_, err := parseEntities("no entities here")
	assert.Error(t, err)
}

func TestProvider_Defaults(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1536, p.Dimension())
	assert.True(t, p.SupportsFunctionCalling())

	n, err := p.CountTokens(context.Background(), "12345678")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProvider_LargeEmbeddingDimension(t *testing.T) {
	p, err := New(Config{APIKey: "test-key", EmbeddingModel: "text-embedding-3-large"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3072, p.Dimension())
}
