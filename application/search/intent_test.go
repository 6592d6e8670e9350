package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

func TestAnalyze_TemporalWins(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("what did we deploy last week", nil)

	assert.Equal(t, memory.IntentTemporal, res.Intent)
	assert.NotEmpty(t, res.TemporalMarkers)
}

func TestAnalyze_FactualFromAnchor(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("status of ticket #4711", nil)

	assert.Equal(t, memory.IntentFactualLookup, res.Intent)
	assert.Contains(t, res.Entities, "ticket #4711")
}

func TestAnalyze_FactualFromLeadPhrase(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("what is the retry budget for the ingest service", nil)

	assert.Equal(t, memory.IntentFactualLookup, res.Intent)
}

func TestAnalyze_Conversational(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("what did we decide about the cache eviction policy", nil)

	assert.Equal(t, memory.IntentConversational, res.Intent)
}

func TestAnalyze_FollowUpWithHistory(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("why that one", []string{"which database should we pick"})

	assert.Equal(t, memory.IntentConversational, res.Intent)
}

func TestAnalyze_ExploratoryDefault(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("approaches to schema migration rollout", nil)

	assert.Equal(t, memory.IntentExploratory, res.Intent)
}

func TestAnalyze_RelationsAndConcepts(t *testing.T) {
	a := NewIntentAnalyzer()
	res := a.Analyze("services related to Billing and caused by Gateway outages", nil)

	assert.NotEmpty(t, res.RelationTypes)
	assert.Contains(t, res.Concepts, "Billing")
	assert.Contains(t, res.Concepts, "Gateway")
}

func TestRecommendedWeights_SumToOne(t *testing.T) {
	for _, intent := range []memory.QueryIntent{
		memory.IntentFactualLookup,
		memory.IntentTemporal,
		memory.IntentExploratory,
		memory.IntentConversational,
	} {
		w := RecommendedWeights(intent)
		assert.NoError(t, w.Validate(), "weights for %s", intent)
		// Mutating the copy must not leak into the shared table.
		w[memory.StrategyDense] = 0
		again := RecommendedWeights(intent)
		assert.NotEqual(t, 0.0, again[memory.StrategyDense])
	}
}
