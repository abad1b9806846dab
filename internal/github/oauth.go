package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

// OAuthConfig configures the sign-in flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// BaseURL is the authorization host, https://github.com in production.
	BaseURL string
	// APIBaseURL serves the /user profile lookup after the exchange.
	APIBaseURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OAuth drives the GitHub authorization-code flow.
type OAuth struct {
	clientID     string
	clientSecret string
	baseURL      string
	apiBaseURL   string
	httpClient   *http.Client
}

// NewOAuth creates the OAuth helper.
func NewOAuth(cfg OAuthConfig) *OAuth {
	base := cfg.BaseURL
	if base == "" {
		base = "https://github.com"
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OAuth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      strings.TrimRight(base, "/"),
		apiBaseURL:   strings.TrimRight(apiBase, "/"),
		httpClient:   httpClient,
	}
}

// Enabled reports whether OAuth credentials are configured.
func (o *OAuth) Enabled() bool {
	return o != nil && o.clientID != "" && o.clientSecret != ""
}

// AuthorizeURL builds the URL the browser is redirected to.
func (o *OAuth) AuthorizeURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", o.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", "read:user")
	return o.baseURL + "/login/oauth/authorize?" + q.Encode()
}

// Exchange trades an authorization code for an access token. GitHub reports
// exchange failures with a 200 and an error field, so both are checked.
func (o *OAuth) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", o.clientID)
	form.Set("client_secret", o.clientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, 64<<10)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return "", fmt.Errorf("token exchange rejected: %s", e.String())
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return token, nil
}

// AuthenticatedUser fetches the profile of the signed-in user.
func (o *OAuth) AuthenticatedUser(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBaseURL+"/user", nil)
	if err != nil {
		return User{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return User{}, fmt.Errorf("read profile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("profile endpoint status %d", resp.StatusCode)
	}

	user := parseUser(body)
	if user.ID == 0 || user.Login == "" {
		return User{}, fmt.Errorf("profile response missing id or login")
	}
	return user, nil
}
