package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/social"
)

// --- AchievementStore -------------------------------------------------------

func (s *Store) UpsertAchievement(ctx context.Context, a achievement.Achievement) (achievement.Achievement, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO achievements (id, name, description, metric, threshold, tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
			metric = EXCLUDED.metric, threshold = EXCLUDED.threshold, tier = EXCLUDED.tier
	`, a.ID, a.Name, a.Description, a.Metric, a.Threshold, a.Tier)
	if err != nil {
		return achievement.Achievement{}, mapError(err)
	}
	return a, nil
}

func (s *Store) ListAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	achievements := make([]achievement.Achievement, 0)
	err := s.db.SelectContext(ctx, &achievements, `
		SELECT id, name, description, metric, threshold, tier
		FROM achievements
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return achievements, nil
}

func (s *Store) ListAchievementsByMetric(ctx context.Context, metric string) ([]achievement.Achievement, error) {
	achievements := make([]achievement.Achievement, 0)
	err := s.db.SelectContext(ctx, &achievements, `
		SELECT id, name, description, metric, threshold, tier
		FROM achievements
		WHERE metric = $1
		ORDER BY threshold
	`, metric)
	if err != nil {
		return nil, err
	}
	return achievements, nil
}

func (s *Store) CreateUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO developer_achievements (developer_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (developer_id, achievement_id) DO NOTHING
	`, u.DeveloperID, u.AchievementID, u.UnlockedAt)
	if err != nil {
		return false, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) ListUnlocks(ctx context.Context, developerID string) ([]achievement.Unlock, error) {
	unlocks := make([]achievement.Unlock, 0)
	err := s.db.SelectContext(ctx, &unlocks, `
		SELECT developer_id, achievement_id, unlocked_at
		FROM developer_achievements
		WHERE developer_id = $1
		ORDER BY unlocked_at
	`, developerID)
	if err != nil {
		return nil, err
	}
	return unlocks, nil
}

// --- SocialStore ------------------------------------------------------------

func (s *Store) CreateKudos(ctx context.Context, k social.Kudos) (social.Kudos, error) {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kudos (id, developer_id, building_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, k.ID, k.DeveloperID, k.BuildingID, k.CreatedAt)
	if err != nil {
		return social.Kudos{}, mapError(err)
	}
	return k, nil
}

func (s *Store) DeleteKudos(ctx context.Context, developerID, buildingID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kudos WHERE developer_id = $1 AND building_id = $2
	`, developerID, buildingID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CreateReferral(ctx context.Context, r social.Referral) (social.Referral, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.ReferrerID, r.ReferredID, r.CreatedAt)
	if err != nil {
		return social.Referral{}, mapError(err)
	}
	return r, nil
}

func (s *Store) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]social.Referral, error) {
	referrals := make([]social.Referral, 0)
	err := s.db.SelectContext(ctx, &referrals, `
		SELECT id, referrer_id, referred_id, created_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at
	`, referrerID)
	if err != nil {
		return nil, err
	}
	return referrals, nil
}
