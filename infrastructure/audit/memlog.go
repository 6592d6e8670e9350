// Package audit provides the in-memory AuditLog implementation. Entries are
// never deleted; erasure requests pseudonymize the subject in place.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// MemLog is a mutex-guarded in-memory audit log.
type MemLog struct {
	mu      sync.RWMutex
	entries []ports.AuditEntry
}

var _ ports.AuditLog = (*MemLog)(nil)

func New() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(ctx context.Context, entry ports.AuditEntry) error {
	if entry.TenantID == "" {
		return appErrors.NewValidation("audit entry requires a tenant id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Pseudonymize rewrites every row in the tenant that names the subject,
// replacing the identifier with its stable pseudonym in the actor field and
// in string metadata values. Returns the number of rows touched.
func (l *MemLog) Pseudonymize(ctx context.Context, tenantID, subject string) (int, error) {
	if tenantID == "" {
		return 0, appErrors.NewValidation("audit pseudonymization requires a tenant id")
	}
	if subject == "" {
		return 0, appErrors.NewValidation("audit pseudonymization requires a subject")
	}
	alias := ports.PseudonymFor(subject)

	l.mu.Lock()
	defer l.mu.Unlock()
	touched := 0
	for i := range l.entries {
		e := &l.entries[i]
		if e.TenantID != tenantID {
			continue
		}
		changed := false
		if strings.Contains(e.Actor, subject) {
			e.Actor = strings.ReplaceAll(e.Actor, subject, alias)
			changed = true
		}
		for k, v := range e.Metadata {
			s, ok := v.(string)
			if !ok || !strings.Contains(s, subject) {
				continue
			}
			e.Metadata[k] = strings.ReplaceAll(s, subject, alias)
			changed = true
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

func (l *MemLog) List(ctx context.Context, tenantID string) ([]ports.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ports.AuditEntry
	for _, e := range l.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}
