package search

import (
	"regexp"
	"strings"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
)

// IntentAnalyzer classifies a query into one of four intents and derives
// the recommended fusion weights. Classification is heuristic and runs
// before any strategy, so it must stay cheap: no model calls, no storage.
type IntentAnalyzer struct{}

func NewIntentAnalyzer() *IntentAnalyzer { return &IntentAnalyzer{} }

var (
	temporalMarkerRe = regexp.MustCompile(`(?i)\b(yesterday|today|tomorrow|last\s+(?:week|month|year|night)|this\s+(?:week|month|year|morning)|ago|recently|earlier|latest|\d{4}-\d{2}-\d{2}|january|february|march|april|june|july|august|september|october|november|december)\b`)
	relationRe       = regexp.MustCompile(`(?i)\b(related\s+to|connected\s+(?:to|with)|linked\s+to|depends\s+on|caused\s+by|leads?\s+to|between)\b`)
	factualLeadRe    = regexp.MustCompile(`(?i)^\s*(what\s+is|who\s+is|where\s+is|when\s+did|how\s+many|which|define|show\s+me\s+the)\b`)
	conversationalRe = regexp.MustCompile(`(?i)\b(we\s+(?:said|discussed?|talked|decided?|agreed?)|you\s+(?:said|told|mentioned)|our\s+(?:conversation|discussion|chat)|earlier\s+you)\b`)
)

// intentWeights holds the per-intent recommended strategy mix. Each row
// sums to 1.0.
var intentWeights = map[memory.QueryIntent]memory.StrategyWeights{
	memory.IntentFactualLookup: {
		memory.StrategyDense:       0.25,
		memory.StrategyMultiVector: 0.10,
		memory.StrategySparse:      0.25,
		memory.StrategyAnchor:      0.30,
		memory.StrategyGraph:       0.10,
	},
	memory.IntentTemporal: {
		memory.StrategyDense:       0.30,
		memory.StrategyMultiVector: 0.10,
		memory.StrategySparse:      0.30,
		memory.StrategyAnchor:      0.20,
		memory.StrategyGraph:       0.10,
	},
	memory.IntentExploratory: {
		memory.StrategyDense:       0.35,
		memory.StrategyMultiVector: 0.20,
		memory.StrategySparse:      0.10,
		memory.StrategyAnchor:      0.05,
		memory.StrategyGraph:       0.30,
	},
	memory.IntentConversational: {
		memory.StrategyDense:       0.40,
		memory.StrategyMultiVector: 0.20,
		memory.StrategySparse:      0.20,
		memory.StrategyAnchor:      0.05,
		memory.StrategyGraph:       0.15,
	},
}

// RecommendedWeights returns a copy of the weight mix for an intent.
func RecommendedWeights(intent memory.QueryIntent) memory.StrategyWeights {
	base, ok := intentWeights[intent]
	if !ok {
		base = intentWeights[memory.IntentExploratory]
	}
	out := make(memory.StrategyWeights, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}

// Analyze classifies the query. Anchors count as entities; capitalized
// mid-sentence words become concepts.
func (a *IntentAnalyzer) Analyze(query string, history []string) *IntentAnalysisResult {
	analysis := &memory.IntentAnalysis{}

	for anchor := range ExtractAnchors(query) {
		analysis.Entities = append(analysis.Entities, anchor)
	}
	analysis.TemporalMarkers = temporalMarkerRe.FindAllString(query, -1)
	for _, rel := range relationRe.FindAllString(query, -1) {
		analysis.RelationTypes = append(analysis.RelationTypes, strings.ToLower(rel))
	}
	analysis.Concepts = extractConcepts(query)

	switch {
	case len(analysis.TemporalMarkers) > 0:
		analysis.Intent = memory.IntentTemporal
	case conversationalRe.MatchString(query) || len(history) > 0 && isFollowUp(query):
		analysis.Intent = memory.IntentConversational
	case len(analysis.Entities) > 0 || factualLeadRe.MatchString(query):
		analysis.Intent = memory.IntentFactualLookup
	default:
		analysis.Intent = memory.IntentExploratory
	}
	analysis.Recommended = RecommendedWeights(analysis.Intent)

	return &IntentAnalysisResult{IntentAnalysis: analysis}
}

// IntentAnalysisResult wraps the domain analysis record.
type IntentAnalysisResult struct {
	*memory.IntentAnalysis
}

// isFollowUp flags short queries leaning on prior turns for referents.
func isFollowUp(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if len(strings.Fields(q)) > 6 {
		return false
	}
	for _, p := range []string{"it", "that", "those", "this", "them", "why", "and then"} {
		if strings.HasPrefix(q, p+" ") || q == p {
			return true
		}
	}
	return false
}

// extractConcepts pulls capitalized words that do not open a sentence.
func extractConcepts(query string) []string {
	var concepts []string
	fields := strings.Fields(query)
	for i, f := range fields {
		if i == 0 {
			continue
		}
		trimmed := strings.Trim(f, ".,:;!?\"'()")
		if len(trimmed) < 2 {
			continue
		}
		first := trimmed[0]
		if first >= 'A' && first <= 'Z' && strings.ToLower(trimmed) != trimmed {
			concepts = append(concepts, trimmed)
		}
	}
	return concepts
}
