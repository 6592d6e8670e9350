package services

import (
	"math"
	"sort"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Preference trades context quality against token spend by scaling the
// compression penalty.
type Preference string

const (
	PreferenceQuality    Preference = "quality"
	PreferenceBalanced   Preference = "balanced"
	PreferenceEfficiency Preference = "efficiency"
)

// preferenceBeta maps preference to the base compression weight.
var preferenceBeta = map[Preference]float64{
	PreferenceQuality:    0.5,
	PreferenceBalanced:   1.0,
	PreferenceEfficiency: 2.0,
}

// layerPenalty scales an item's compression cost by how condensed its layer
// already is. Reflections are cheapest to keep; raw episodic text is the
// most expensive.
var layerPenalty = map[memory.Layer]float64{
	memory.LayerReflective: 0.5,
	memory.LayerSemantic:   0.7,
	memory.LayerWorking:    0.9,
	memory.LayerEpisodic:   1.0,
}

// defaultLayerPenalty applies to layers without an explicit entry.
const defaultLayerPenalty = 0.6

// Candidate is one item offered to the selector.
type Candidate struct {
	ID         string
	Embedding  []float32
	Tokens     int
	Importance float64
	Layer      memory.Layer
}

// SelectionInput parameterizes one selection run.
type SelectionInput struct {
	QueryEmbedding []float32
	Candidates     []Candidate
	TokenBudget    int
	// QueryComplexity in [0,1]; complex queries loosen compression, simple
	// ones tighten it.
	QueryComplexity float64
	Preference      Preference
	// MinRelevance excludes candidates below this relevance outright.
	MinRelevance float64
}

// Selection reports what the selector kept and the aggregates it achieved.
type Selection struct {
	SelectedIDs      []string `json:"selected_ids"`
	TotalTokens      int      `json:"total_tokens"`
	Relevance        float64  `json:"relevance"`
	CompressionCost  float64  `json:"compression_cost"`
	CompressionRatio float64  `json:"compression_ratio"`
	Objective        float64  `json:"objective"`
	EffectiveBeta    float64  `json:"effective_beta"`
}

// SelectBottleneck greedily picks candidates maximizing
// relevance − beta·compression under the token budget.
//
// Relevance approximates I(item; answer) as a blend of query similarity and
// importance; compression approximates I(item; context) as the item's token
// share scaled by its layer penalty.
func SelectBottleneck(in SelectionInput) (*Selection, error) {
	if in.TokenBudget <= 0 {
		return nil, appErrors.NewValidation("token budget must be positive")
	}
	if len(in.Candidates) == 0 {
		return &Selection{EffectiveBeta: resolveBeta(in, 0)}, nil
	}

	var totalTokens int
	for _, c := range in.Candidates {
		totalTokens += c.Tokens
	}
	beta := resolveBeta(in, totalTokens)

	type scored struct {
		c         Candidate
		relevance float64
		cost      float64
		objective float64
	}
	items := make([]scored, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		rel := 0.8*cosine01(in.QueryEmbedding, c.Embedding) + 0.2*clamp01(c.Importance)
		if rel < in.MinRelevance {
			continue
		}
		penalty, ok := layerPenalty[c.Layer]
		if !ok {
			penalty = defaultLayerPenalty
		}
		var cost float64
		if totalTokens > 0 {
			cost = float64(c.Tokens) / float64(totalTokens) * penalty
		}
		items = append(items, scored{
			c:         c,
			relevance: rel,
			cost:      cost,
			objective: rel - beta*cost,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].objective != items[j].objective {
			return items[i].objective > items[j].objective
		}
		return items[i].c.ID < items[j].c.ID
	})

	sel := &Selection{EffectiveBeta: beta}
	for _, it := range items {
		if sel.TotalTokens+it.c.Tokens > in.TokenBudget {
			continue
		}
		sel.SelectedIDs = append(sel.SelectedIDs, it.c.ID)
		sel.TotalTokens += it.c.Tokens
		sel.Relevance += it.relevance
		sel.CompressionCost += it.cost
	}
	sel.Objective = sel.Relevance - beta*sel.CompressionCost
	if totalTokens > 0 {
		sel.CompressionRatio = float64(sel.TotalTokens) / float64(totalTokens)
	}
	return sel, nil
}

// resolveBeta applies the preference base plus the adaptive adjustments for
// query complexity and budget headroom.
func resolveBeta(in SelectionInput, totalTokens int) float64 {
	beta, ok := preferenceBeta[in.Preference]
	if !ok {
		beta = preferenceBeta[PreferenceBalanced]
	}
	switch {
	case in.QueryComplexity > 0.7:
		beta *= 0.7
	case in.QueryComplexity > 0 && in.QueryComplexity < 0.3:
		beta *= 1.3
	}
	if totalTokens > 0 {
		headroom := float64(in.TokenBudget) / float64(totalTokens)
		switch {
		case headroom < 0.2:
			beta *= 1.5
		case headroom > 0.8:
			beta *= 0.8
		}
	}
	return beta
}

// cosine01 maps cosine similarity into [0,1]. Mismatched or empty vectors
// score at the neutral midpoint.
func cosine01(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.5
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0.5
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01((cos + 1) / 2)
}
