// Package middleware holds the HTTP middleware for the REST surface.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// TenantHeader is the header every tenant-scoped request must carry.
const TenantHeader = "X-Tenant-ID"

type contextKey string

const tenantKey contextKey = "tenant_id"

// RequireTenant extracts the tenant header and stores it in the request
// context. Requests without one are rejected before reaching a handler.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error":   true,
				"message": "missing " + TenantHeader + " header",
				"code":    http.StatusBadRequest,
			})
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantFromContext returns the tenant id stored by RequireTenant.
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey).(string)
	return tenant
}
