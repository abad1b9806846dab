package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
	"github.com/EndlessPixel/git-city/internal/logging"
)

const testCookieName = "git_city_session"

func newTestAuth(t *testing.T) (*AuthMiddleware, *auth.Manager, *memory.Store) {
	t.Helper()
	manager := auth.New("0123456789abcdef0123456789abcdef", time.Hour)
	store := memory.New()
	mw := NewAuthMiddleware(manager, store, testCookieName, logging.New("test", "info", "json"))
	return mw, manager, store
}

func issueSession(t *testing.T, manager *auth.Manager, store *memory.Store, developerID string) string {
	t.Helper()
	token, expiresAt, err := manager.Issue(developerID, "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	_, err = store.CreateSession(context.Background(), developer.Session{
		DeveloperID: developerID,
		TokenHash:   auth.HashToken(token),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	return token
}

func TestRequireAuthMissingToken(t *testing.T) {
	mw, _, _ := newTestAuth(t)

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthInvalidHeaderFormat(t *testing.T) {
	mw, _, _ := newTestAuth(t)

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/me", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireAuthValidToken(t *testing.T) {
	mw, manager, store := newTestAuth(t)
	token := issueSession(t, manager, store, "dev-123")

	var capturedID string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetDeveloperID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedID != "dev-123" {
		t.Errorf("Developer ID = %v, want dev-123", capturedID)
	}
}

func TestRequireAuthCookieFallback(t *testing.T) {
	mw, manager, store := newTestAuth(t)
	token := issueSession(t, manager, store, "dev-123")

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireAuthRevokedSession(t *testing.T) {
	mw, manager, _ := newTestAuth(t)

	// Valid signature, but no session row behind it.
	token, _, err := manager.Issue("dev-123", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthExpiredSession(t *testing.T) {
	mw, manager, store := newTestAuth(t)

	token, _, err := manager.Issue("dev-123", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	_, err = store.CreateSession(context.Background(), developer.Session{
		DeveloperID: "dev-123",
		TokenHash:   auth.HashToken(token),
		ExpiresAt:   time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthWrongSecret(t *testing.T) {
	mw, _, store := newTestAuth(t)

	foreign := auth.New("another-secret-that-is-long-enough", time.Hour)
	token, expiresAt, err := foreign.Issue("dev-123", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	_, err = store.CreateSession(context.Background(), developer.Session{
		DeveloperID: "dev-123",
		TokenHash:   auth.HashToken(token),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOptionalAuthAnonymousPassesThrough(t *testing.T) {
	mw, _, _ := newTestAuth(t)

	var capturedID string
	handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetDeveloperID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/city", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedID != "" {
		t.Errorf("Developer ID = %q, want empty", capturedID)
	}
}

func TestOptionalAuthAttachesIdentity(t *testing.T) {
	mw, manager, store := newTestAuth(t)
	token := issueSession(t, manager, store, "dev-123")

	var capturedID string
	handler := mw.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetDeveloperID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/city", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if capturedID != "dev-123" {
		t.Errorf("Developer ID = %v, want dev-123", capturedID)
	}
}

func TestGetDeveloperID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "with developer ID",
			ctx:  logging.WithUserID(context.Background(), "dev-123"),
			want: "dev-123",
		},
		{
			name: "without developer ID",
			ctx:  context.Background(),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetDeveloperID(tt.ctx); got != tt.want {
				t.Errorf("GetDeveloperID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireDeveloperID(t *testing.T) {
	handler := RequireDeveloperID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{
			name:       "with developer ID",
			ctx:        logging.WithUserID(context.Background(), "dev-123"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "without developer ID",
			ctx:        context.Background(),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/me", nil)
			req = req.WithContext(tt.ctx)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
