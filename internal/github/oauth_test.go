package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOAuth(t *testing.T, handler http.Handler) *OAuth {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOAuth(OAuthConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		BaseURL:      srv.URL,
		APIBaseURL:   srv.URL,
		HTTPClient:   srv.Client(),
	})
}

func TestAuthorizeURL(t *testing.T) {
	o := NewOAuth(OAuthConfig{ClientID: "cid", ClientSecret: "cs"})
	u := o.AuthorizeURL("state123", "https://city.example/auth/github/callback")
	for _, want := range []string{
		"https://github.com/login/oauth/authorize?",
		"client_id=cid",
		"state=state123",
		"redirect_uri=https%3A%2F%2Fcity.example%2Fauth%2Fgithub%2Fcallback",
		"scope=read%3Auser",
	} {
		if !strings.Contains(u, want) {
			t.Fatalf("authorize URL missing %q: %s", want, u)
		}
	}
}

func TestExchange(t *testing.T) {
	o := newTestOAuth(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login/oauth/access_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("code") != "abc" || r.PostForm.Get("client_secret") != "csecret" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		fmt.Fprint(w, `{"access_token":"gho_token","token_type":"bearer"}`)
	}))

	token, err := o.Exchange(context.Background(), "abc")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token != "gho_token" {
		t.Fatalf("token = %q", token)
	}
}

func TestExchangeRejectedCode(t *testing.T) {
	o := newTestOAuth(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// GitHub reports exchange errors with status 200.
		fmt.Fprint(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
	}))

	if _, err := o.Exchange(context.Background(), "expired"); err == nil {
		t.Fatal("expected exchange error")
	}
}

func TestAuthenticatedUser(t *testing.T) {
	o := newTestOAuth(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gho_token" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"id":42,"login":"ana","name":"Ana","avatar_url":"https://avatars.example/42"}`)
	}))

	user, err := o.AuthenticatedUser(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("authenticated user: %v", err)
	}
	if user.ID != 42 || user.Login != "ana" {
		t.Fatalf("unexpected user: %#v", user)
	}
}

func TestAuthenticatedUserBadToken(t *testing.T) {
	o := newTestOAuth(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))

	if _, err := o.AuthenticatedUser(context.Background(), "bad"); err == nil {
		t.Fatal("expected error for bad token")
	}
}
