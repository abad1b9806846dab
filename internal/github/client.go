// Package github talks to the GitHub REST API for profile stats and to the
// OAuth endpoints for sign-in. The stats calls respect the advertised rate
// limit so bulk seeding does not burn the quota.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/EndlessPixel/git-city/internal/app/domain/building"
	"github.com/EndlessPixel/git-city/internal/httputil"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// ErrNotFound is returned when GitHub reports no such user.
var ErrNotFound = errors.New("github: user not found")

const (
	// reposPerPage is the API maximum.
	reposPerPage = 100
	// maxRepoPages caps star counting for accounts with huge repo lists.
	maxRepoPages = 10
)

// User is a GitHub account profile.
type User struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"public_repos"`
}

// Config configures the API client.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient overrides the default transport, used by tests.
	HTTPClient *http.Client
}

// Client reads public profile data. All methods are safe for concurrent use.
type Client struct {
	api *httputil.Client
	log *logger.Logger

	mu        sync.Mutex
	remaining int
	reset     time.Time
}

// NewClient creates a GitHub API client. An empty token works against the
// public API at the anonymous rate limit.
func NewClient(cfg Config, log *logger.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "git-city"
	}
	api := httputil.NewClient(httputil.ClientConfig{
		BaseURL:    base,
		APIKey:     cfg.Token,
		UserAgent:  userAgent,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})
	if log == nil {
		log = logger.NewDefault("github")
	}
	return &Client{api: api, log: log, remaining: -1}
}

// GetUser fetches a profile by login.
func (c *Client) GetUser(ctx context.Context, login string) (User, error) {
	body, err := c.get(ctx, "/users/"+url.PathEscape(login))
	if err != nil {
		return User{}, err
	}
	return parseUser(body), nil
}

// UserStats aggregates the numbers a building is built from: profile counters,
// total stars across owned repositories, and a commit count estimated from the
// commit search index.
func (c *Client) UserStats(ctx context.Context, login string) (building.Stats, error) {
	user, err := c.GetUser(ctx, login)
	if err != nil {
		return building.Stats{}, err
	}

	stars, err := c.countStars(ctx, login)
	if err != nil {
		return building.Stats{}, fmt.Errorf("count stars for %s: %w", login, err)
	}

	commits, err := c.countCommits(ctx, login)
	if err != nil {
		// The commit search index is flaky and aggressively rate limited;
		// a building without commit height beats a failed sync.
		c.log.WithError(err).Warnf("commit count unavailable for %s", login)
		commits = 0
	}

	return building.Stats{
		Stars:       stars,
		Followers:   user.Followers,
		PublicRepos: user.PublicRepos,
		Commits:     commits,
	}, nil
}

// SearchUsers returns logins matching the query, most-followed first, plus the
// total match count reported by GitHub.
func (c *Client) SearchUsers(ctx context.Context, query string, page, perPage int) ([]string, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 30
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "followers")
	q.Set("order", "desc")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	body, err := c.get(ctx, "/search/users?"+q.Encode())
	if err != nil {
		return nil, 0, err
	}

	var logins []string
	gjson.GetBytes(body, "items.#.login").ForEach(func(_, v gjson.Result) bool {
		logins = append(logins, v.String())
		return true
	})
	total := int(gjson.GetBytes(body, "total_count").Int())
	return logins, total, nil
}

func (c *Client) countStars(ctx context.Context, login string) (int, error) {
	total := 0
	for page := 1; page <= maxRepoPages; page++ {
		path := fmt.Sprintf("/users/%s/repos?type=owner&per_page=%d&page=%d",
			url.PathEscape(login), reposPerPage, page)
		body, err := c.get(ctx, path)
		if err != nil {
			return 0, err
		}

		repos := gjson.GetBytes(body, "#.stargazers_count").Array()
		for _, v := range repos {
			total += int(v.Int())
		}
		if len(repos) < reposPerPage {
			break
		}
	}
	return total, nil
}

func (c *Client) countCommits(ctx context.Context, login string) (int, error) {
	q := url.Values{}
	q.Set("q", "author:"+login)
	q.Set("per_page", "1")

	body, err := c.get(ctx, "/search/commits?"+q.Encode())
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "total_count").Int()), nil
}

// get performs one API request, tracking the rate limit headers. When the
// quota is exhausted it blocks until the advertised reset (or the context
// ends) and retries once.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.waitForQuota(ctx); err != nil {
			return nil, err
		}

		resp, err := c.api.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		c.noteRateLimit(resp.Header.Get("X-RateLimit-Remaining"), resp.Header.Get("X-RateLimit-Reset"))

		switch {
		case resp.StatusCode == 404:
			resp.Body.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		case (resp.StatusCode == 403 || resp.StatusCode == 429) && c.exhausted() && attempt == 0:
			resp.Body.Close()
			c.log.Warnf("rate limited on %s, waiting for reset", path)
			continue
		case resp.StatusCode >= 400:
			body, _, _ := httputil.ReadAllWithLimit(resp.Body, 4<<10)
			resp.Body.Close()
			return nil, fmt.Errorf("github %s: status %d: %s", path, resp.StatusCode, string(body))
		}

		body, err := httputil.ReadAllStrict(resp.Body, 8<<20)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return body, nil
	}
}

func (c *Client) waitForQuota(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Duration(0)
	if c.remaining == 0 {
		wait = time.Until(c.reset)
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) noteRateLimit(remaining, reset string) {
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = n
	if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
		c.reset = time.Unix(unix, 0)
	} else {
		c.reset = time.Now().Add(time.Minute)
	}
}

func (c *Client) exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining == 0
}

func parseUser(body []byte) User {
	doc := gjson.ParseBytes(body)
	return User{
		ID:          doc.Get("id").Int(),
		Login:       doc.Get("login").String(),
		Name:        doc.Get("name").String(),
		AvatarURL:   doc.Get("avatar_url").String(),
		Followers:   int(doc.Get("followers").Int()),
		PublicRepos: int(doc.Get("public_repos").Int()),
	}
}
