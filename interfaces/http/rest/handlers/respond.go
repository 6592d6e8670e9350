// Package handlers implements the REST endpoints of the memory engine.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

var validate = validator.New()

func respondJSON(logger *zap.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encoding failed", zap.Error(err))
	}
}

func respondError(logger *zap.Logger, w http.ResponseWriter, status int, message string) {
	respondJSON(logger, w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// respondAppError maps the typed error classes onto HTTP statuses.
func respondAppError(logger *zap.Logger, w http.ResponseWriter, err error) {
	respondError(logger, w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case appErrors.IsAccessDenied(err), appErrors.IsSecurityPolicyViolation(err):
		return http.StatusForbidden
	case appErrors.IsTimeout(err):
		return http.StatusRequestTimeout
	case appErrors.IsQuotaExceeded(err):
		return http.StatusTooManyRequests
	case appErrors.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
