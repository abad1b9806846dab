package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EndlessPixel/git-city/internal/logging"
)

func TestAPIKeyMiddlewareNoKeysDisablesRoutes(t *testing.T) {
	mw := NewAPIKeyMiddleware(nil, logging.New("test", "info", "json"))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	req.Header.Set(AdminKeyHeader, "anything")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestAPIKeyMiddlewareMissingKey(t *testing.T) {
	mw := NewAPIKeyMiddleware([]string{"secret-key"}, logging.New("test", "info", "json"))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyMiddlewareWrongKey(t *testing.T) {
	mw := NewAPIKeyMiddleware([]string{"secret-key"}, logging.New("test", "info", "json"))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	req.Header.Set(AdminKeyHeader, "wrong-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestAPIKeyMiddlewareValidKeySetsRole(t *testing.T) {
	mw := NewAPIKeyMiddleware([]string{"first-key", "second-key"}, logging.New("test", "info", "json"))

	var capturedRole string
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedRole = logging.GetRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	req.Header.Set(AdminKeyHeader, "second-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedRole != "admin" {
		t.Errorf("Role = %q, want admin", capturedRole)
	}
}

func TestAPIKeyMiddlewareIgnoresEmptyConfiguredKeys(t *testing.T) {
	mw := NewAPIKeyMiddleware([]string{"", "real-key", ""}, logging.New("test", "info", "json"))

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	req.Header.Set(AdminKeyHeader, "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("empty presented key: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest("POST", "/api/v1/admin/reset", nil)
	req.Header.Set(AdminKeyHeader, "real-key")
	rec = httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("real key: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
