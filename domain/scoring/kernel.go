// Package scoring implements the pure relevance kernel:
//
//	final = alpha*similarity + beta*importance + gamma*recency
//
// Recency decays exponentially with age, slowed by access frequency. The
// kernel performs no I/O; all inputs arrive as arguments.
package scoring

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Version selects the kernel generation. V3 keeps the same shape but lets
// record strength slow the decay of well-reinforced memories.
type Version int

const (
	V2 Version = 2
	V3 Version = 3
)

// Weights configures the kernel. Alpha+Beta+Gamma should sum to 1; a
// non-normalized sum triggers a warning, not an error.
type Weights struct {
	Alpha         float64
	Beta          float64
	Gamma         float64
	BaseDecayRate float64
	Version       Version
}

// DefaultWeights returns the engine defaults.
func DefaultWeights() Weights {
	return Weights{
		Alpha:         0.4,
		Beta:          0.3,
		Gamma:         0.3,
		BaseDecayRate: 0.05,
		Version:       V2,
	}
}

// weightSumTolerance is how far the weight sum may drift from 1.0 before a
// warning is logged.
const weightSumTolerance = 0.01

// Scorer is a reusable kernel instance. Safe for concurrent use.
type Scorer struct {
	weights Weights
	logger  *zap.Logger
}

// NewScorer constructs a kernel with the given weights. A nil logger
// defaults to a no-op.
func NewScorer(weights Weights, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sum := weights.Alpha + weights.Beta + weights.Gamma; math.Abs(sum-1.0) > weightSumTolerance {
		logger.Warn("scoring weights do not sum to 1.0",
			zap.Float64("alpha", weights.Alpha),
			zap.Float64("beta", weights.Beta),
			zap.Float64("gamma", weights.Gamma),
			zap.Float64("sum", sum))
	}
	if weights.Version == 0 {
		weights.Version = V2
	}
	return &Scorer{weights: weights, logger: logger}
}

// Weights returns the configured weights.
func (s *Scorer) Weights() Weights { return s.weights }

// EffectiveDecay returns the access-count-modulated decay rate:
// base / (1 + ln(1 + accessCount)). More frequently accessed memories decay
// slower.
func (s *Scorer) EffectiveDecay(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return s.weights.BaseDecayRate / (1 + math.Log(1+float64(accessCount)))
}

// Recency computes exp(-effectiveDecay * ageDays) clamped to [0,1]. A
// last-accessed timestamp in the future (clock skew) is treated as maximal
// recency and logged.
func (s *Scorer) recency(m *memory.Memory, now time.Time) (recency, effectiveDecay, ageSeconds float64) {
	effectiveDecay = s.EffectiveDecay(m.AccessCount)
	if s.weights.Version == V3 {
		// Reinforced memories decay slower; strength 1.0 halves the rate.
		effectiveDecay /= 1 + m.Strength
	}
	age := now.Sub(m.LastAccessedAt)
	if age < 0 {
		s.logger.Warn("memory last_accessed_at is in the future, assuming maximal recency",
			zap.String("memory_id", m.ID),
			zap.Time("last_accessed_at", m.LastAccessedAt))
		return 1.0, effectiveDecay, 0
	}
	ageSeconds = age.Seconds()
	ageDays := ageSeconds / 86400
	recency = clamp01(math.Exp(-effectiveDecay * ageDays))
	return recency, effectiveDecay, ageSeconds
}

// Score computes the full breakdown for a single memory given its
// similarity to the query.
func (s *Scorer) Score(m *memory.Memory, similarity float64, now time.Time) memory.ScoreBreakdown {
	similarity = clamp01(similarity)
	importance := clamp01(m.Importance)
	recency, decay, ageSeconds := s.recency(m, now)

	final := s.weights.Alpha*similarity + s.weights.Beta*importance + s.weights.Gamma*recency
	return memory.ScoreBreakdown{
		MemoryID:       m.ID,
		Final:          final,
		Similarity:     similarity,
		Importance:     importance,
		Recency:        recency,
		EffectiveDecay: decay,
		AgeSeconds:     ageSeconds,
	}
}

// ScoreBatch scores parallel slices of memories and similarity values. The
// slices must be the same length.
func (s *Scorer) ScoreBatch(memories []*memory.Memory, similarities []float64, now time.Time) ([]memory.ScoreBreakdown, error) {
	if len(memories) != len(similarities) {
		return nil, appErrors.NewValidation("memories and similarities must have equal length")
	}
	out := make([]memory.ScoreBreakdown, len(memories))
	for i, m := range memories {
		out[i] = s.Score(m, similarities[i], now)
	}
	return out, nil
}

// Rank pairs memories with their breakdowns and returns results sorted by
// final score descending. Ranks are 1-based.
func Rank(memories []*memory.Memory, breakdowns []memory.ScoreBreakdown) []memory.SearchResult {
	n := len(memories)
	if len(breakdowns) < n {
		n = len(breakdowns)
	}
	results := make([]memory.SearchResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, memory.SearchResult{
			Memory:     memories[i],
			FinalScore: breakdowns[i].Final,
			Breakdown:  breakdowns[i],
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
