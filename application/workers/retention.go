package workers

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/domain/memory"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// RetentionDays maps a data class to its lifetime; RetainForever disables
// the sweep for that class.
const RetainForever = -1

// RetentionPolicy maps memory layers to retention days.
type RetentionPolicy struct {
	EpisodicDays   int
	SemanticDays   int
	WorkingDays    int
	ReflectiveDays int
}

// DefaultRetentionPolicy returns the standard lifetimes.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		EpisodicDays:   365,
		SemanticDays:   RetainForever,
		WorkingDays:    7,
		ReflectiveDays: RetainForever,
	}
}

// RetentionWorker enforces per-class lifetimes and handles user-requested
// erasure. Every deletion writes an audit row.
type RetentionWorker struct {
	policy  RetentionPolicy
	store   ports.MemoryStore
	vectors ports.VectorStore
	graphs  ports.GraphStore
	auditor ports.AuditLog
	logger  *zap.Logger
}

func NewRetentionWorker(policy RetentionPolicy, store ports.MemoryStore, vectors ports.VectorStore, graphs ports.GraphStore, auditor ports.AuditLog, logger *zap.Logger) *RetentionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionWorker{
		policy:  policy,
		store:   store,
		vectors: vectors,
		graphs:  graphs,
		auditor: auditor,
		logger:  logger,
	}
}

// classLifetimes expands the policy into per-layer entries.
func (w *RetentionWorker) classLifetimes() map[memory.Layer]int {
	return map[memory.Layer]int{
		memory.LayerEpisodic:   w.policy.EpisodicDays,
		memory.LayerSemantic:   w.policy.SemanticDays,
		memory.LayerWorking:    w.policy.WorkingDays,
		memory.LayerReflective: w.policy.ReflectiveDays,
	}
}

// RunTenant sweeps one tenant: explicit TTL expiry first, then per-layer
// retention. Reports the total rows removed.
func (w *RetentionWorker) RunTenant(ctx context.Context, tenantID string) (int, error) {
	now := time.Now()
	total := 0

	expired, err := w.store.DeleteExpired(ctx, tenantID, now)
	if err != nil {
		return 0, appErrors.Wrap(err, "retention: delete expired")
	}
	if expired > 0 {
		total += expired
		w.audit(ctx, tenantID, "ttl", "ttl_expired", expired, nil)
	}

	for layer, days := range w.classLifetimes() {
		if days == RetainForever {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)
		items, err := w.store.List(ctx, ports.ListFilter{
			TenantID:      tenantID,
			Layers:        []memory.Layer{layer},
			CreatedBefore: cutoff,
		})
		if err != nil {
			return total, appErrors.Wrap(err, "retention: list layer")
		}
		removed := 0
		for _, m := range items {
			if err := w.store.Delete(ctx, tenantID, m.ID); err != nil {
				w.logger.Warn("retention delete failed",
					zap.String("memory_id", m.ID), zap.Error(err))
				continue
			}
			if w.vectors != nil {
				if err := w.vectors.Delete(ctx, tenantID, m.ID); err != nil && !appErrors.IsNotFound(err) {
					w.logger.Warn("retention vector delete failed",
						zap.String("memory_id", m.ID), zap.Error(err))
				}
			}
			removed++
		}
		if removed > 0 {
			total += removed
			w.audit(ctx, tenantID, string(layer), "retention_expired", removed, map[string]any{
				"cutoff": cutoff.UTC().Format(time.RFC3339),
			})
		}
	}
	return total, nil
}

// Erase performs a user-requested erasure for one subject: every memory
// whose source matches cascades through the vector and graph stores, and
// prior audit rows naming the subject are pseudonymized. The audit row
// records the request, never the content or the subject identifier.
func (w *RetentionWorker) Erase(ctx context.Context, tenantID, source, actor string) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("tenant id is required")
	}
	if source == "" {
		return 0, appErrors.NewValidation("erasure source is required")
	}
	items, err := w.store.List(ctx, ports.ListFilter{TenantID: tenantID, Source: source})
	if err != nil {
		return 0, appErrors.Wrap(err, "erasure: list by source")
	}

	removed := 0
	for _, m := range items {
		if err := w.store.Delete(ctx, tenantID, m.ID); err != nil {
			w.logger.Warn("erasure delete failed",
				zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		if w.vectors != nil {
			if err := w.vectors.Delete(ctx, tenantID, m.ID); err != nil && !appErrors.IsNotFound(err) {
				w.logger.Warn("erasure vector delete failed",
					zap.String("memory_id", m.ID), zap.Error(err))
			}
		}
		if w.graphs != nil {
			if err := w.graphs.DeleteNode(ctx, tenantID, m.ID); err != nil && !appErrors.IsNotFound(err) {
				w.logger.Warn("erasure graph delete failed",
					zap.String("memory_id", m.ID), zap.Error(err))
			}
		}
		removed++
	}

	alias := ports.PseudonymFor(source)
	if w.auditor != nil {
		if _, err := w.auditor.Pseudonymize(ctx, tenantID, source); err != nil {
			w.logger.Warn("audit pseudonymization failed",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	w.auditWith(ctx, strings.ReplaceAll(actor, source, alias),
		tenantID, "user_data", "user_request", removed, map[string]any{
			"subject": alias,
		})
	return removed, nil
}

func (w *RetentionWorker) audit(ctx context.Context, tenantID, dataClass, reason string, count int, metadata map[string]any) {
	w.auditWith(ctx, "retention-worker", tenantID, dataClass, reason, count, metadata)
}

func (w *RetentionWorker) auditWith(ctx context.Context, actor, tenantID, dataClass, reason string, count int, metadata map[string]any) {
	if w.auditor == nil {
		return
	}
	err := w.auditor.Append(ctx, ports.AuditEntry{
		TenantID:  tenantID,
		DataClass: dataClass,
		Reason:    reason,
		Count:     count,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		w.logger.Warn("failed to write audit row",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// Run sweeps every tenant with per-tenant failure isolation.
func (w *RetentionWorker) Run(ctx context.Context, tenants []string) map[string]int {
	results := make(map[string]int, len(tenants))
	for _, tenant := range tenants {
		n, err := w.RunTenant(ctx, tenant)
		if err != nil {
			w.logger.Error("retention run failed for tenant",
				zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		results[tenant] = n
	}
	return results
}
