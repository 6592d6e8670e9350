// Package workers hosts the background maintenance jobs: importance decay,
// session summarization, dreaming (reflection generation), retention
// enforcement, and the scheduler that orchestrates them. Workers never
// block foreground queries and isolate per-tenant failures.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// DecayConfig tunes the importance decay job.
type DecayConfig struct {
	Enabled  bool
	BaseRate float64
	// Floor is the minimum importance decay may leave behind.
	Floor float64
}

// DefaultDecayConfig returns the standard decay policy.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Enabled:  true,
		BaseRate: 0.05,
		Floor:    0.01,
	}
}

// DecayWorker erodes the importance of memories that stop being accessed.
// Stale records fade fastest, recently touched ones barely move, and
// reflective records are exempt entirely.
type DecayWorker struct {
	cfg    DecayConfig
	store  ports.MemoryStore
	logger *zap.Logger
}

func NewDecayWorker(cfg DecayConfig, store ports.MemoryStore, logger *zap.Logger) *DecayWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = DefaultDecayConfig().BaseRate
	}
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultDecayConfig().Floor
	}
	return &DecayWorker{cfg: cfg, store: store, logger: logger}
}

// decayFactor picks the multiplicative factor for a record by how long it
// has gone untouched.
func (w *DecayWorker) decayFactor(daysSinceAccess float64) float64 {
	var factor float64
	switch {
	case daysSinceAccess > 30:
		factor = 1 - w.cfg.BaseRate*(1+daysSinceAccess/30)
	case daysSinceAccess < 7:
		factor = 1 - w.cfg.BaseRate*0.5
	default:
		factor = 1 - w.cfg.BaseRate
	}
	if factor < 0 {
		factor = 0
	}
	return factor
}

// RunTenant decays every non-reflective memory of one tenant and reports
// how many records changed.
func (w *DecayWorker) RunTenant(ctx context.Context, tenantID string) (int, error) {
	if !w.cfg.Enabled {
		return 0, nil
	}
	items, err := w.store.List(ctx, ports.ListFilter{TenantID: tenantID})
	if err != nil {
		return 0, appErrors.Wrap(err, "decay: list tenant memories")
	}

	now := time.Now()
	updated := 0
	for _, m := range items {
		if m.Layer == memory.LayerReflective {
			continue
		}
		days := now.Sub(m.LastAccessedAt).Hours() / 24
		next := m.Importance * w.decayFactor(days)
		if next < w.cfg.Floor {
			next = w.cfg.Floor
		}
		if next == m.Importance {
			continue
		}
		if _, err := w.store.Update(ctx, tenantID, m.ID, map[string]any{
			"importance": next,
		}); err != nil {
			w.logger.Warn("decay update failed",
				zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// Run processes every tenant; a tenant failure is logged and skipped.
func (w *DecayWorker) Run(ctx context.Context, tenants []string) map[string]int {
	results := make(map[string]int, len(tenants))
	for _, tenant := range tenants {
		n, err := w.RunTenant(ctx, tenant)
		if err != nil {
			w.logger.Error("decay run failed for tenant",
				zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		results[tenant] = n
	}
	return results
}
