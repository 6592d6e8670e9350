package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

func record(id string, importance float64, lastAccessed time.Time, accessCount int) *memory.Memory {
	m := memory.New(id, "t1", "p1", "content "+id, "test")
	m.Importance = importance
	m.LastAccessedAt = lastAccessed
	m.AccessCount = accessCount
	return m
}

func TestScore_BoundedWhenWeightsNormalized(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()

	for _, age := range []time.Duration{0, time.Hour, 24 * time.Hour, 365 * 24 * time.Hour} {
		for _, imp := range []float64{0, 0.5, 1} {
			b := s.Score(record("m", imp, now.Add(-age), 3), 0.7, now)
			assert.GreaterOrEqual(t, b.Final, 0.0)
			assert.LessOrEqual(t, b.Final, 1.0)
		}
	}
}

func TestScore_FreshMemoryHasMaxRecency(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()
	b := s.Score(record("m", 0.5, now, 0), 1.0, now)

	assert.InDelta(t, 1.0, b.Recency, 1e-9)
	assert.InDelta(t, 0.4*1.0+0.3*0.5+0.3*1.0, b.Final, 1e-9)
}

func TestScore_FutureLastAccessTreatedAsNow(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()
	b := s.Score(record("m", 0.5, now.Add(time.Hour), 0), 0.5, now)

	assert.Equal(t, 1.0, b.Recency)
	assert.Equal(t, 0.0, b.AgeSeconds)
}

func TestEffectiveDecay_SlowsWithAccessCount(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)

	d0 := s.EffectiveDecay(0)
	d10 := s.EffectiveDecay(10)
	d100 := s.EffectiveDecay(100)

	assert.Equal(t, s.Weights().BaseDecayRate, d0)
	assert.Less(t, d10, d0)
	assert.Less(t, d100, d10)
	assert.InDelta(t, s.Weights().BaseDecayRate/(1+math.Log(11)), d10, 1e-12)
}

func TestScore_OlderMemoryScoresLower(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()

	fresh := s.Score(record("a", 0.5, now.Add(-time.Hour), 1), 0.5, now)
	stale := s.Score(record("b", 0.5, now.Add(-30*24*time.Hour), 1), 0.5, now)

	assert.Greater(t, fresh.Final, stale.Final)
}

func TestScoreBatch_MatchesSingleScoring(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()

	memories := []*memory.Memory{
		record("a", 0.9, now.Add(-time.Hour), 4),
		record("b", 0.2, now.Add(-48*time.Hour), 0),
	}
	sims := []float64{0.8, 0.3}

	batch, err := s.ScoreBatch(memories, sims, now)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	for i := range memories {
		single := s.Score(memories[i], sims[i], now)
		assert.Equal(t, single, batch[i])
	}
}

func TestScoreBatch_LengthMismatch(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	_, err := s.ScoreBatch([]*memory.Memory{record("a", 0.5, time.Now(), 0)}, nil, time.Now())
	assert.True(t, appErrors.IsValidation(err))
}

func TestRank_SortsDescendingWithOneBasedRanks(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()

	memories := []*memory.Memory{
		record("low", 0.1, now.Add(-60*24*time.Hour), 0),
		record("high", 0.9, now, 10),
		record("mid", 0.5, now.Add(-24*time.Hour), 2),
	}
	breakdowns, err := s.ScoreBatch(memories, []float64{0.1, 0.9, 0.5}, now)
	require.NoError(t, err)

	ranked := Rank(memories, breakdowns)
	require.Len(t, ranked, 3)
	assert.Equal(t, "high", ranked[0].Memory.ID)
	assert.Equal(t, "mid", ranked[1].Memory.ID)
	assert.Equal(t, "low", ranked[2].Memory.ID)
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
	assert.GreaterOrEqual(t, ranked[0].FinalScore, ranked[1].FinalScore)
}

func TestV3_StrengthSlowsDecay(t *testing.T) {
	w := DefaultWeights()
	w.Version = V3
	v3 := NewScorer(w, nil)
	v2 := NewScorer(DefaultWeights(), nil)
	now := time.Now().UTC()

	strong := record("s", 0.5, now.Add(-30*24*time.Hour), 0)
	strong.Strength = 1.0

	assert.Greater(t, v3.Score(strong, 0.5, now).Recency, v2.Score(strong, 0.5, now).Recency)
}

func TestNewScorer_NonNormalizedWeightsStillScore(t *testing.T) {
	s := NewScorer(Weights{Alpha: 0.5, Beta: 0.5, Gamma: 0.5, BaseDecayRate: 0.05}, nil)
	b := s.Score(record("m", 1, time.Now().UTC(), 0), 1, time.Now().UTC())
	assert.InDelta(t, 1.5, b.Final, 1e-9)
}
