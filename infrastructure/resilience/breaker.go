// Package resilience decorates outbound providers: circuit breakers so a
// failing model endpoint degrades retrieval instead of stalling it, and an
// embedding cache that spares repeat round-trips.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests have been observed.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the standard breaker policy.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// translate maps breaker rejections to the unavailable error class so callers
// can distinguish an open circuit from a provider fault.
func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewUnavailable("provider circuit open", err)
	}
	return err
}

// LLMBreaker decorates an LLMProvider with a circuit breaker. All generative
// calls share one breaker; CountTokens and capability checks pass through.
type LLMBreaker struct {
	inner ports.LLMProvider
	cb    *gobreaker.CircuitBreaker
}

var _ ports.LLMProvider = (*LLMBreaker)(nil)

func NewLLMBreaker(inner ports.LLMProvider, cfg BreakerConfig, logger *zap.Logger) *LLMBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg = DefaultBreakerConfig("llm")
	}
	return &LLMBreaker{inner: inner, cb: newBreaker(cfg, logger)}
}

func (b *LLMBreaker) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", translate(err)
	}
	return out.(string), nil
}

func (b *LLMBreaker) GenerateWithContext(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.GenerateWithContext(ctx, messages, opts)
	})
	if err != nil {
		return "", translate(err)
	}
	return out.(string), nil
}

func (b *LLMBreaker) CountTokens(ctx context.Context, text string) (int, error) {
	return b.inner.CountTokens(ctx, text)
}

func (b *LLMBreaker) SupportsFunctionCalling() bool {
	return b.inner.SupportsFunctionCalling()
}

func (b *LLMBreaker) ExtractEntities(ctx context.Context, text string) ([]ports.Entity, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.ExtractEntities(ctx, text)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out.([]ports.Entity), nil
}

func (b *LLMBreaker) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Summarize(ctx, text, maxWords)
	})
	if err != nil {
		return "", translate(err)
	}
	return out.(string), nil
}

// EmbeddingBreaker decorates an EmbeddingProvider with a circuit breaker.
type EmbeddingBreaker struct {
	inner ports.EmbeddingProvider
	cb    *gobreaker.CircuitBreaker
}

var _ ports.EmbeddingProvider = (*EmbeddingBreaker)(nil)

func NewEmbeddingBreaker(inner ports.EmbeddingProvider, cfg BreakerConfig, logger *zap.Logger) *EmbeddingBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg = DefaultBreakerConfig("embeddings")
	}
	return &EmbeddingBreaker{inner: inner, cb: newBreaker(cfg, logger)}
}

func (b *EmbeddingBreaker) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.EmbedText(ctx, text, task)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out.([]float32), nil
}

func (b *EmbeddingBreaker) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, texts, task)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out.([][]float32), nil
}

func (b *EmbeddingBreaker) Dimension() int {
	return b.inner.Dimension()
}
