// Package middleware provides the HTTP middleware stack: authentication,
// CORS, rate limiting, tracing, and metrics.
package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	apperrors "github.com/EndlessPixel/git-city/internal/errors"
	"github.com/EndlessPixel/git-city/internal/httputil"
	"github.com/EndlessPixel/git-city/internal/logging"
)

// AuthMiddleware authenticates requests with session tokens. A token comes
// from the Authorization header or the session cookie; it must verify and
// still have a live session row behind it, so logout takes effect before the
// token expires.
type AuthMiddleware struct {
	manager    *auth.Manager
	sessions   storage.SessionStore
	cookieName string
	logger     *logging.Logger
}

// NewAuthMiddleware creates the session authentication middleware.
func NewAuthMiddleware(manager *auth.Manager, sessions storage.SessionStore, cookieName string, logger *logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthMiddleware{
		manager:    manager,
		sessions:   sessions,
		cookieName: cookieName,
		logger:     logger,
	}
}

// RequireAuth rejects requests that do not carry a valid session.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), claims.DeveloperID)))
	})
}

// OptionalAuth attaches the developer identity when a valid session is
// present and passes the request through either way. Handlers behind it see
// an empty user ID for anonymous visitors.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := m.authenticate(r); err == nil {
			r = r.WithContext(logging.WithUserID(r.Context(), claims.DeveloperID))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*auth.Claims, error) {
	token := m.extractToken(r)
	if token == "" {
		return nil, apperrors.Unauthorized("Missing session token")
	}

	claims, err := m.manager.Validate(token)
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}

	session, err := m.sessions.GetSessionByTokenHash(r.Context(), auth.HashToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Unauthorized("Session revoked")
		}
		return nil, apperrors.Internal("Session lookup failed", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, apperrors.Unauthorized("Session expired")
	}
	if session.DeveloperID != claims.DeveloperID {
		return nil, apperrors.InvalidToken(nil)
	}

	return claims, nil
}

// extractToken prefers the Authorization header and falls back to the
// session cookie set by the OAuth callback.
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if m.cookieName != "" {
		if cookie, err := r.Cookie(m.cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": svcErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetDeveloperID extracts the authenticated developer ID, or "" for
// anonymous requests.
func GetDeveloperID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// RequireDeveloperID gates handlers that assume an authenticated context.
func RequireDeveloperID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetDeveloperID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
