package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/scoring"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// RRFK is the Reciprocal Rank Fusion constant. Larger values flatten the
// difference between adjacent ranks.
const RRFK = 60

// DefaultTopK is used when the request does not set one.
const DefaultTopK = 10

// candidateMultiplier oversizes the per-strategy candidate pool relative to
// the requested top-k so fusion has enough overlap to work with.
const candidateMultiplier = 3

// seedCount is how many fused candidates seed the graph expansion.
const seedCount = 5

// HybridSearcher runs every enabled strategy concurrently, fuses their
// rankings with RRF, re-scores the fused pool through the kernel, and
// optionally asks the LLM to re-rank the final page. One failing strategy
// degrades coverage, never the whole query.
type HybridSearcher struct {
	strategies []Strategy
	analyzer   *IntentAnalyzer
	store      ports.MemoryStore
	scorer     *scoring.Scorer
	llm        ports.LLMProvider
	logger     *zap.Logger
}

// NewHybridSearcher wires the fusion pipeline. llm may be nil, which
// disables re-ranking.
func NewHybridSearcher(strategies []Strategy, store ports.MemoryStore, scorer *scoring.Scorer, llm ports.LLMProvider, logger *zap.Logger) *HybridSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridSearcher{
		strategies: strategies,
		analyzer:   NewIntentAnalyzer(),
		store:      store,
		scorer:     scorer,
		llm:        llm,
		logger:     logger,
	}
}

// strategyOutput is one strategy's contribution to fusion.
type strategyOutput struct {
	name memory.StrategyName
	hits []Hit
}

// Search executes the full hybrid retrieval pipeline.
func (h *HybridSearcher) Search(ctx context.Context, q *memory.QueryRequest) (*memory.QueryResponse, error) {
	started := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	poolK := topK * candidateMultiplier

	analysis := h.analyzer.Analyze(q.Query, q.History)
	weights := h.resolveWeights(q, analysis.Recommended)

	outputs, cancelled := h.runStrategies(ctx, q, weights, poolK)

	// Graph expansion runs after the first wave, seeded with the best fused
	// candidates so far.
	if gw := weights[memory.StrategyGraph]; gw > 0 && !cancelled {
		if out := h.runGraphSeeded(ctx, q, outputs, weights, poolK); out != nil {
			outputs = append(outputs, *out)
		}
	}

	fused := fuseRRF(outputs, weights)

	results, err := h.scorePool(ctx, q, fused, topK)
	if err != nil {
		return nil, err
	}

	reranked := false
	if q.Rerank && h.llm != nil && len(results) > 1 {
		if rr, err := h.rerank(ctx, q, results); err != nil {
			h.logger.Warn("llm re-ranking failed, keeping kernel order", zap.Error(err))
		} else {
			results = rr
			reranked = true
		}
	}

	h.recordUsage(ctx, q.TenantID, results)

	counts := make(map[memory.StrategyName]int, len(outputs))
	for _, out := range outputs {
		counts[out.name] = len(out.hits)
	}

	return &memory.QueryResponse{
		Results:        results,
		TotalResults:   len(results),
		TotalTimeMS:    time.Since(started).Milliseconds(),
		AppliedWeights: weights,
		QueryAnalysis:  analysis.IntentAnalysis,
		StrategyCounts: counts,
		RerankingUsed:  reranked,
		Cancelled:      cancelled,
	}, nil
}

// resolveWeights picks manual weights when given, otherwise the intent
// recommendation, then drops disabled strategies and renormalizes.
func (h *HybridSearcher) resolveWeights(q *memory.QueryRequest, recommended memory.StrategyWeights) memory.StrategyWeights {
	base := recommended
	manual := len(q.ManualWeights) > 0
	if manual {
		base = q.ManualWeights
	}

	enabled := func(name memory.StrategyName) bool {
		if len(q.EnabledStrategies) == 0 {
			return true
		}
		for _, n := range q.EnabledStrategies {
			if n == name {
				return true
			}
		}
		return false
	}

	out := make(memory.StrategyWeights)
	var sum float64
	for _, s := range h.strategies {
		w, ok := base[s.Name()]
		if !ok {
			// Manual weights are exhaustive; omission disables the strategy.
			if manual {
				continue
			}
			w = s.DefaultWeight()
		}
		if !enabled(s.Name()) || w <= 0 {
			continue
		}
		out[s.Name()] = w
		sum += w
	}
	if sum > 0 {
		for name, w := range out {
			out[name] = w / sum
		}
	}
	return out
}

// runStrategies fans the non-seeded strategies out concurrently. Strategy
// failures are logged and skipped. A context cancellation stops the wave
// and reports cancelled=true; whatever completed is kept.
func (h *HybridSearcher) runStrategies(ctx context.Context, q *memory.QueryRequest, weights memory.StrategyWeights, k int) ([]strategyOutput, bool) {
	var (
		mu      sync.Mutex
		outputs []strategyOutput
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range h.strategies {
		if _, ok := weights[s.Name()]; !ok {
			continue
		}
		if _, seeded := s.(Seeded); seeded {
			continue
		}
		s := s
		g.Go(func() error {
			hits, err := s.Search(gctx, q, k)
			if err != nil {
				h.logger.Warn("search strategy failed",
					zap.String("strategy", string(s.Name())), zap.Error(err))
				return nil
			}
			if len(hits) == 0 {
				return nil
			}
			mu.Lock()
			outputs = append(outputs, strategyOutput{name: s.Name(), hits: hits})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outputs, ctx.Err() != nil
}

// runGraphSeeded expands the top fused candidates through the graph.
func (h *HybridSearcher) runGraphSeeded(ctx context.Context, q *memory.QueryRequest, outputs []strategyOutput, weights memory.StrategyWeights, k int) *strategyOutput {
	var gs Seeded
	var name memory.StrategyName
	for _, s := range h.strategies {
		if seeded, ok := s.(Seeded); ok {
			gs = seeded
			name = s.Name()
			break
		}
	}
	if gs == nil {
		return nil
	}

	seeds := topFusedIDs(fuseRRF(outputs, weights), seedCount)
	if len(seeds) == 0 {
		return nil
	}
	hits, err := gs.SearchSeeded(ctx, q, seeds, k)
	if err != nil {
		h.logger.Warn("graph expansion failed", zap.Error(err))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}
	return &strategyOutput{name: name, hits: hits}
}

// fusedHit carries one candidate's fused RRF score.
type fusedHit struct {
	id    string
	score float64
}

// fuseRRF combines per-strategy rankings into one weighted Reciprocal Rank
// Fusion score: sum over strategies of weight / (RRFK + rank). Scores are
// normalized so the best candidate sits at 1.0, which lets the fused score
// serve as the similarity term downstream. Output is sorted descending.
func fuseRRF(outputs []strategyOutput, weights memory.StrategyWeights) []fusedHit {
	scores := make(map[string]float64)
	for _, out := range outputs {
		w := weights[out.name]
		if w <= 0 {
			continue
		}
		for rank, hit := range out.hits {
			scores[hit.ID] += w / float64(RRFK+rank+1)
		}
	}

	var maxScore float64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	fused := make([]fusedHit, 0, len(scores))
	for id, s := range scores {
		if maxScore > 0 {
			s /= maxScore
		}
		fused = append(fused, fusedHit{id: id, score: s})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].id < fused[j].id
	})
	return fused
}

func topFusedIDs(fused []fusedHit, n int) []string {
	if len(fused) < n {
		n = len(fused)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fused[i].id
	}
	return ids
}

// scorePool loads the fused candidates, applies post-filters the vector
// strategies cannot express, and runs the kernel with the fused score as
// the similarity term.
func (h *HybridSearcher) scorePool(ctx context.Context, q *memory.QueryRequest, fused []fusedHit, topK int) ([]memory.SearchResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	similarity := make(map[string]float64, len(fused))
	for i, f := range fused {
		ids[i] = f.id
		similarity[f.id] = f.score
	}

	records, err := h.store.GetBatch(ctx, q.TenantID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, "load fused candidates")
	}

	var (
		memories []*memory.Memory
		sims     []float64
	)
	for _, m := range records {
		if q.MinImportance > 0 && m.Importance < q.MinImportance {
			continue
		}
		if q.Temporal != nil && !q.Temporal.Contains(m.CreatedAt) {
			continue
		}
		if m.Layer == memory.LayerSensory {
			continue
		}
		memories = append(memories, m)
		sims = append(sims, similarity[m.ID])
	}

	breakdowns, err := h.scorer.ScoreBatch(memories, sims, time.Now())
	if err != nil {
		return nil, err
	}
	results := scoring.Rank(memories, breakdowns)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// rerank asks the LLM to reorder the page by relevance to the query. The
// model returns a JSON array of memory ids; ids it omits keep their kernel
// order at the tail.
func (h *HybridSearcher) rerank(ctx context.Context, q *memory.QueryRequest, results []memory.SearchResult) ([]memory.SearchResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", q.Query)
	for _, r := range results {
		content := r.Memory.Content
		if len(content) > 400 {
			content = content[:400]
		}
		fmt.Fprintf(&b, "- id=%s content=%q\n", r.Memory.ID, content)
	}
	b.WriteString("\nReturn a JSON array of the candidate ids ordered from most to least relevant to the query. Return only the JSON array.")

	opts := ports.GenerateOptions{
		SystemPrompt: "You rank memory snippets by relevance. Respond with a JSON array of ids and nothing else.",
		MaxTokens:    512,
		Temperature:  0,
	}
	raw, err := h.llm.Generate(ctx, b.String(), opts)
	if err != nil {
		return nil, err
	}

	var order []string
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, appErrors.NewValidation("re-ranker returned malformed ordering")
	}

	byID := make(map[string]memory.SearchResult, len(results))
	for _, r := range results {
		byID[r.Memory.ID] = r
	}
	out := make([]memory.SearchResult, 0, len(results))
	for _, id := range order {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	for _, r := range results {
		if _, left := byID[r.Memory.ID]; left {
			out = append(out, r)
		}
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// recordUsage touches access metadata and bumps usage_count for every
// returned memory. Best effort; failures are logged, not surfaced.
func (h *HybridSearcher) recordUsage(ctx context.Context, tenantID string, results []memory.SearchResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	if err := h.store.TouchAccessBatch(ctx, tenantID, ids); err != nil {
		h.logger.Warn("failed to touch access metadata", zap.Error(err))
	}
	for _, r := range results {
		_, err := h.store.Update(ctx, tenantID, r.Memory.ID, map[string]any{
			"usage_count": r.Memory.UsageCount + 1,
		})
		if err != nil {
			h.logger.Warn("failed to bump usage count",
				zap.String("memory_id", r.Memory.ID), zap.Error(err))
		}
	}
}
