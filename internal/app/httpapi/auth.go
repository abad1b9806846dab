package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/services/identity"
	"github.com/EndlessPixel/git-city/internal/httputil"
)

// referralCookie carries a referral code from the login redirect to the
// callback, where brand-new developers get credited.
const (
	referralCookie    = "git_city_ref"
	referralCookieAge = time.Hour
)

// handleOAuthLogin sends the visitor to GitHub with a signed state value.
// A ?ref=CODE parameter is parked in a short-lived cookie for the callback.
func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Enabled() {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "oauth_disabled", "GitHub sign-in is not configured", nil)
		return
	}

	state, err := s.state.Issue()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if ref := strings.TrimSpace(r.URL.Query().Get("ref")); ref != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     referralCookie,
			Value:    ref,
			Path:     "/",
			MaxAge:   int(referralCookieAge.Seconds()),
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	redirectURI := strings.TrimRight(s.publicBaseURL, "/") + "/auth/github/callback"
	http.Redirect(w, r, s.oauth.AuthorizeURL(state, redirectURI), http.StatusFound)
}

// handleOAuthCallback finishes the OAuth dance: verify state, exchange the
// code, upsert the developer, credit a pending referral for first-timers,
// and set the session cookie.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Enabled() {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "oauth_disabled", "GitHub sign-in is not configured", nil)
		return
	}

	if err := s.state.Verify(r.URL.Query().Get("state")); err != nil {
		httputil.BadRequest(w, "invalid OAuth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.BadRequest(w, "missing code")
		return
	}

	accessToken, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("OAuth code exchange failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "provider_failure", "GitHub token exchange failed", nil)
		return
	}
	user, err := s.oauth.AuthenticatedUser(r.Context(), accessToken)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("GitHub user fetch failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "provider_failure", "GitHub user fetch failed", nil)
		return
	}

	result, err := s.app.Identity.SignIn(r.Context(), identity.Profile{
		GitHubID:  user.ID,
		Login:     user.Login,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if result.New {
		if cookie, err := r.Cookie(referralCookie); err == nil && cookie.Value != "" {
			if _, err := s.app.Social.CreditSignup(r.Context(), cookie.Value, result.Developer); err != nil {
				s.log.WithContext(r.Context()).WithError(err).Info("referral credit skipped")
			}
		}
	}
	http.SetCookie(w, &http.Cookie{Name: referralCookie, Value: "", Path: "/", MaxAge: -1})

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    result.Token,
		Path:     "/",
		Expires:  result.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.frontendURL, http.StatusFound)
}

// handleLogout revokes the session behind the presented token. Requests
// without a token still get their cookie cleared.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := s.extractToken(r); token != "" {
		if err := s.app.Identity.Logout(r.Context(), token); err != nil {
			s.log.WithContext(r.Context()).WithError(err).Warn("logout failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// handleMe returns the signed-in developer with their achievements and
// referral summary.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Identity.Developer(r.Context(), s.developerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unlocked, err := s.app.Achievements.Unlocked(r.Context(), dev.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.app.Social.ReferralSummary(r.Context(), dev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"developer":    dev,
		"achievements": unlocked,
		"referrals":    summary,
	})
}
