package middleware

import (
	"crypto/subtle"
	"net/http"

	apperrors "github.com/EndlessPixel/git-city/internal/errors"
	"github.com/EndlessPixel/git-city/internal/httputil"
	"github.com/EndlessPixel/git-city/internal/logging"
)

// AdminKeyHeader carries the key for operational endpoints.
const AdminKeyHeader = "X-Admin-Key"

// APIKeyMiddleware gates admin endpoints behind a static key set from
// configuration. With no keys configured the routes are disabled outright,
// so a bare deployment cannot be administered by accident.
type APIKeyMiddleware struct {
	keys   [][]byte
	logger *logging.Logger
}

// NewAPIKeyMiddleware creates the admin key middleware.
func NewAPIKeyMiddleware(keys []string, logger *logging.Logger) *APIKeyMiddleware {
	if logger == nil {
		logger = logging.Default()
	}
	m := &APIKeyMiddleware{logger: logger}
	for _, key := range keys {
		if key != "" {
			m.keys = append(m.keys, []byte(key))
		}
	}
	return m
}

// Handler rejects requests that do not present a configured admin key.
func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.keys) == 0 {
			m.respondError(w, r, apperrors.Forbidden("Admin endpoints are disabled"))
			return
		}

		presented := r.Header.Get(AdminKeyHeader)
		if presented == "" {
			m.respondError(w, r, apperrors.Unauthorized("Missing admin key"))
			return
		}
		if !m.match(presented) {
			m.logger.LogSecurityEvent(r.Context(), "admin_key_rejected", map[string]interface{}{
				"path": r.URL.Path,
			})
			m.respondError(w, r, apperrors.Forbidden("Admin key not recognized"))
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithRole(r.Context(), "admin")))
	})
}

func (m *APIKeyMiddleware) match(presented string) bool {
	candidate := []byte(presented)
	matched := false
	for _, key := range m.keys {
		if subtle.ConstantTimeCompare(candidate, key) == 1 {
			matched = true
		}
	}
	return matched
}

func (m *APIKeyMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("Admin authentication failed", err)
	}
	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}
