package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
)

// --- DeveloperStore ---------------------------------------------------------

func (s *Store) CreateDeveloper(ctx context.Context, dev developer.Developer) (developer.Developer, error) {
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	dev.CreatedAt = now
	if dev.LastLoginAt.IsZero() {
		dev.LastLoginAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO developers (id, github_id, login, name, avatar_url, referral_code, referred_by,
			referrals_count, weekly_raids, weekly_wins, total_wins, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, dev.ID, dev.GitHubID, dev.Login, dev.Name, dev.AvatarURL, dev.ReferralCode, dev.ReferredBy,
		dev.ReferralsCount, dev.WeeklyRaids, dev.WeeklyWins, dev.TotalWins, dev.CreatedAt, dev.LastLoginAt)
	if err != nil {
		return developer.Developer{}, mapError(err)
	}
	return dev, nil
}

func (s *Store) UpdateDeveloper(ctx context.Context, dev developer.Developer) (developer.Developer, error) {
	existing, err := s.GetDeveloper(ctx, dev.ID)
	if err != nil {
		return developer.Developer{}, err
	}

	// Counters move through their dedicated mutators; updates only touch the
	// profile fields.
	dev.CreatedAt = existing.CreatedAt
	dev.GitHubID = existing.GitHubID
	dev.ReferralCode = existing.ReferralCode
	dev.ReferralsCount = existing.ReferralsCount
	dev.WeeklyRaids = existing.WeeklyRaids
	dev.WeeklyWins = existing.WeeklyWins
	dev.TotalWins = existing.TotalWins

	result, err := s.db.ExecContext(ctx, `
		UPDATE developers
		SET login = $2, name = $3, avatar_url = $4, referred_by = $5, last_login_at = $6
		WHERE id = $1
	`, dev.ID, dev.Login, dev.Name, dev.AvatarURL, dev.ReferredBy, dev.LastLoginAt)
	if err != nil {
		return developer.Developer{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return developer.Developer{}, sql.ErrNoRows
	}
	return dev, nil
}

const developerColumns = `id, github_id, login, name, avatar_url, referral_code, referred_by,
	referrals_count, weekly_raids, weekly_wins, total_wins, created_at, last_login_at`

func (s *Store) GetDeveloper(ctx context.Context, id string) (developer.Developer, error) {
	var dev developer.Developer
	err := s.db.GetContext(ctx, &dev, `
		SELECT `+developerColumns+`
		FROM developers
		WHERE id = $1
	`, id)
	if err != nil {
		return developer.Developer{}, err
	}
	return dev, nil
}

func (s *Store) GetDeveloperByGitHubID(ctx context.Context, githubID int64) (developer.Developer, error) {
	var dev developer.Developer
	err := s.db.GetContext(ctx, &dev, `
		SELECT `+developerColumns+`
		FROM developers
		WHERE github_id = $1
	`, githubID)
	if err != nil {
		return developer.Developer{}, err
	}
	return dev, nil
}

func (s *Store) GetDeveloperByLogin(ctx context.Context, login string) (developer.Developer, error) {
	var dev developer.Developer
	err := s.db.GetContext(ctx, &dev, `
		SELECT `+developerColumns+`
		FROM developers
		WHERE LOWER(login) = LOWER($1)
	`, login)
	if err != nil {
		return developer.Developer{}, err
	}
	return dev, nil
}

func (s *Store) GetDeveloperByReferralCode(ctx context.Context, code string) (developer.Developer, error) {
	var dev developer.Developer
	err := s.db.GetContext(ctx, &dev, `
		SELECT `+developerColumns+`
		FROM developers
		WHERE referral_code = $1
	`, code)
	if err != nil {
		return developer.Developer{}, err
	}
	return dev, nil
}

func (s *Store) IncrementRaidCounters(ctx context.Context, developerID string, won bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE developers
		SET weekly_raids = weekly_raids + 1,
			weekly_wins = weekly_wins + CASE WHEN $2 THEN 1 ELSE 0 END,
			total_wins = total_wins + CASE WHEN $2 THEN 1 ELSE 0 END
		WHERE id = $1
	`, developerID, won)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) IncrementReferrals(ctx context.Context, developerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE developers
		SET referrals_count = referrals_count + 1
		WHERE id = $1
	`, developerID)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ResetWeeklyCounters(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE developers
		SET weekly_raids = 0, weekly_wins = 0
		WHERE weekly_raids <> 0 OR weekly_wins <> 0
	`)
	if err != nil {
		return 0, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess developer.Session) (developer.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, developer_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.DeveloperID, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return developer.Session{}, mapError(err)
	}
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (developer.Session, error) {
	var sess developer.Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT id, developer_id, token_hash, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return developer.Session{}, err
	}
	return sess, nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
