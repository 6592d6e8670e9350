package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

func TestSelectBottleneck_BudgetNeverExceeded(t *testing.T) {
	query := []float32{1, 0, 0}
	sel, err := SelectBottleneck(SelectionInput{
		QueryEmbedding: query,
		Candidates: []Candidate{
			{ID: "a", Embedding: []float32{1, 0, 0}, Tokens: 60, Importance: 0.9, Layer: memory.LayerSemantic},
			{ID: "b", Embedding: []float32{0.9, 0.1, 0}, Tokens: 50, Importance: 0.3, Layer: memory.LayerSemantic},
			{ID: "c", Embedding: []float32{0.8, 0.2, 0}, Tokens: 30, Importance: 0.5, Layer: memory.LayerEpisodic},
		},
		TokenBudget: 100,
		Preference:  PreferenceBalanced,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, sel.TotalTokens, 100)
	assert.NotEmpty(t, sel.SelectedIDs)
	// The best candidate fits, the second would overflow, the third fills
	// the remaining headroom.
	assert.Equal(t, []string{"a", "c"}, sel.SelectedIDs)
}

func TestSelectBottleneck_RelevanceThresholdExcludes(t *testing.T) {
	sel, err := SelectBottleneck(SelectionInput{
		QueryEmbedding: []float32{1, 0, 0},
		Candidates: []Candidate{
			{ID: "hit", Embedding: []float32{1, 0, 0}, Tokens: 10, Importance: 0.5, Layer: memory.LayerSemantic},
			{ID: "miss", Embedding: []float32{-1, 0, 0}, Tokens: 10, Importance: 0.0, Layer: memory.LayerSemantic},
		},
		TokenBudget:  100,
		MinRelevance: 0.5,
		Preference:   PreferenceBalanced,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hit"}, sel.SelectedIDs)
}

func TestSelectBottleneck_PreferenceScalesBeta(t *testing.T) {
	in := SelectionInput{
		QueryEmbedding: []float32{1, 0, 0},
		Candidates: []Candidate{
			{ID: "a", Embedding: []float32{1, 0, 0}, Tokens: 200, Importance: 0.5, Layer: memory.LayerEpisodic},
		},
		TokenBudget: 100,
	}

	in.Preference = PreferenceQuality
	quality, err := SelectBottleneck(in)
	require.NoError(t, err)

	in.Preference = PreferenceEfficiency
	efficiency, err := SelectBottleneck(in)
	require.NoError(t, err)

	assert.Less(t, quality.EffectiveBeta, efficiency.EffectiveBeta)
}

func TestSelectBottleneck_AdaptiveBeta(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Embedding: []float32{1, 0, 0}, Tokens: 100, Importance: 0.5, Layer: memory.LayerSemantic},
		{ID: "b", Embedding: []float32{1, 0, 0}, Tokens: 100, Importance: 0.5, Layer: memory.LayerSemantic},
	}
	base := SelectionInput{
		QueryEmbedding:  []float32{1, 0, 0},
		Candidates:      cands,
		TokenBudget:     100, // headroom 0.5: no budget adjustment
		Preference:      PreferenceBalanced,
		QueryComplexity: 0.5,
	}
	neutral, err := SelectBottleneck(base)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, neutral.EffectiveBeta, 1e-9)

	hard := base
	hard.QueryComplexity = 0.8
	cSel, err := SelectBottleneck(hard)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cSel.EffectiveBeta, 1e-9)

	simple := base
	simple.QueryComplexity = 0.2
	sSel, err := SelectBottleneck(simple)
	require.NoError(t, err)
	assert.InDelta(t, 1.3, sSel.EffectiveBeta, 1e-9)

	tight := base
	tight.TokenBudget = 30 // headroom 0.15
	tSel, err := SelectBottleneck(tight)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, tSel.EffectiveBeta, 1e-9)

	roomy := base
	roomy.TokenBudget = 180 // headroom 0.9
	rSel, err := SelectBottleneck(roomy)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, rSel.EffectiveBeta, 1e-9)
}

func TestSelectBottleneck_CompressionRatio(t *testing.T) {
	sel, err := SelectBottleneck(SelectionInput{
		QueryEmbedding: []float32{1, 0, 0},
		Candidates: []Candidate{
			{ID: "a", Embedding: []float32{1, 0, 0}, Tokens: 50, Importance: 0.9, Layer: memory.LayerReflective},
			{ID: "b", Embedding: []float32{0, 1, 0}, Tokens: 150, Importance: 0.1, Layer: memory.LayerEpisodic},
		},
		TokenBudget: 60,
		Preference:  PreferenceBalanced,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sel.SelectedIDs)
	assert.InDelta(t, 0.25, sel.CompressionRatio, 1e-9)
	assert.Positive(t, sel.Objective)
}

func TestSelectBottleneck_InvalidBudget(t *testing.T) {
	_, err := SelectBottleneck(SelectionInput{TokenBudget: 0})
	assert.Error(t, err)
}

func TestSelectBottleneck_EmptyCandidates(t *testing.T) {
	sel, err := SelectBottleneck(SelectionInput{TokenBudget: 100, Preference: PreferenceBalanced})
	require.NoError(t, err)
	assert.Empty(t, sel.SelectedIDs)
	assert.Zero(t, sel.TotalTokens)
}
