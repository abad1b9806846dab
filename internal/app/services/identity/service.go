// Package identity handles sign-in, sessions, and the developer profile.
// GitHub is the only identity provider: a developer is their GitHub account.
package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// referralCodeAttempts bounds retries on the astronomically unlikely code
// collision.
const referralCodeAttempts = 5

// Profile is what the OAuth callback learns about the signed-in account.
type Profile struct {
	GitHubID  int64
	Login     string
	Name      string
	AvatarURL string
}

// SignInResult is a completed sign-in: the developer row and a fresh session
// token.
type SignInResult struct {
	Developer developer.Developer
	Token     string
	ExpiresAt time.Time
	// New reports whether this sign-in created the developer.
	New bool
}

// Service manages developers and their sessions.
type Service struct {
	developers storage.DeveloperStore
	sessions   storage.SessionStore
	tokens     *auth.Manager
	log        *logger.Logger
}

// New creates the identity service.
func New(developers storage.DeveloperStore, sessions storage.SessionStore, tokens *auth.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{developers: developers, sessions: sessions, tokens: tokens, log: log}
}

// SignIn upserts the developer from their GitHub profile and issues a session.
// First sign-in assigns the permanent referral code.
func (s *Service) SignIn(ctx context.Context, p Profile) (SignInResult, error) {
	if p.GitHubID == 0 || p.Login == "" {
		return SignInResult{}, fmt.Errorf("profile missing github id or login")
	}

	now := time.Now().UTC()
	var result SignInResult

	dev, err := s.developers.GetDeveloperByGitHubID(ctx, p.GitHubID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		dev, err = s.createDeveloper(ctx, p, now)
		if err != nil {
			return SignInResult{}, err
		}
		result.New = true
		s.log.Infof("developer %s joined the city", dev.Login)
	case err != nil:
		return SignInResult{}, fmt.Errorf("look up developer: %w", err)
	default:
		// Logins can change on GitHub; follow them.
		dev.Login = p.Login
		dev.Name = p.Name
		dev.AvatarURL = p.AvatarURL
		dev.LastLoginAt = now
		dev, err = s.developers.UpdateDeveloper(ctx, dev)
		if err != nil {
			return SignInResult{}, fmt.Errorf("refresh developer profile: %w", err)
		}
	}

	token, expiresAt, err := s.tokens.Issue(dev.ID, dev.Login)
	if err != nil {
		return SignInResult{}, fmt.Errorf("issue token: %w", err)
	}
	if _, err := s.sessions.CreateSession(ctx, developer.Session{
		DeveloperID: dev.ID,
		TokenHash:   auth.HashToken(token),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return SignInResult{}, fmt.Errorf("create session: %w", err)
	}

	result.Developer = dev
	result.Token = token
	result.ExpiresAt = expiresAt
	return result, nil
}

// Logout revokes the session behind a token. Unknown tokens are a no-op so
// logout is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	err := s.sessions.DeleteSessionByTokenHash(ctx, auth.HashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// Developer fetches a developer by id.
func (s *Service) Developer(ctx context.Context, id string) (developer.Developer, error) {
	return s.developers.GetDeveloper(ctx, id)
}

// DeveloperByLogin fetches a developer by GitHub login.
func (s *Service) DeveloperByLogin(ctx context.Context, login string) (developer.Developer, error) {
	return s.developers.GetDeveloperByLogin(ctx, login)
}

func (s *Service) createDeveloper(ctx context.Context, p Profile, now time.Time) (developer.Developer, error) {
	var lastErr error
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return developer.Developer{}, err
		}
		dev, err := s.developers.CreateDeveloper(ctx, developer.Developer{
			GitHubID:     p.GitHubID,
			Login:        p.Login,
			Name:         p.Name,
			AvatarURL:    p.AvatarURL,
			ReferralCode: code,
			CreatedAt:    now,
			LastLoginAt:  now,
		})
		if errors.Is(err, storage.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return developer.Developer{}, fmt.Errorf("create developer: %w", err)
		}
		return dev, nil
	}
	return developer.Developer{}, fmt.Errorf("create developer: %w", lastErr)
}

// newReferralCode returns a short shareable code, lowercase base32 without
// padding.
func newReferralCode() (string, error) {
	raw := make([]byte, 5)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)), nil
}
