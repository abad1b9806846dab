package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// --- RaidStore --------------------------------------------------------------

func (s *Store) CreateRaid(ctx context.Context, r raid.Raid) (raid.Raid, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raids (id, attacker_id, defender_id, attack_score, defense_score, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.AttackerID, r.DefenderID, r.AttackScore, r.DefenseScore, r.Success, r.CreatedAt)
	if err != nil {
		return raid.Raid{}, mapError(err)
	}
	return r, nil
}

func (s *Store) ListRaids(ctx context.Context, filter storage.RaidFilter) ([]raid.Raid, error) {
	query := `
		SELECT id, attacker_id, defender_id, attack_score, defense_score, success, created_at
		FROM raids
	`
	args := make([]interface{}, 0, 4)
	where := ""
	if filter.AttackerID != "" {
		args = append(args, filter.AttackerID)
		where = " WHERE attacker_id = $1"
	}
	if filter.DefenderID != "" {
		args = append(args, filter.DefenderID)
		if where == "" {
			where = " WHERE defender_id = $1"
		} else {
			where += " AND defender_id = $2"
		}
	}
	query += where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	raids := make([]raid.Raid, 0)
	if err := s.db.SelectContext(ctx, &raids, query, args...); err != nil {
		return nil, err
	}
	return raids, nil
}

func (s *Store) UpsertTag(ctx context.Context, tag raid.GraffitiTag) (raid.GraffitiTag, error) {
	tag.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graffiti_tags (building_id, raid_id, attacker_login, emblem, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (building_id) DO UPDATE
		SET raid_id = EXCLUDED.raid_id, attacker_login = EXCLUDED.attacker_login,
			emblem = EXCLUDED.emblem, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, tag.BuildingID, tag.RaidID, tag.AttackerLogin, tag.Emblem, tag.CreatedAt, tag.ExpiresAt)
	if err != nil {
		return raid.GraffitiTag{}, mapError(err)
	}
	return tag, nil
}

func (s *Store) GetTag(ctx context.Context, buildingID string) (raid.GraffitiTag, error) {
	var tag raid.GraffitiTag
	err := s.db.GetContext(ctx, &tag, `
		SELECT building_id, raid_id, attacker_login, emblem, created_at, expires_at
		FROM graffiti_tags
		WHERE building_id = $1
	`, buildingID)
	if err != nil {
		return raid.GraffitiTag{}, err
	}
	return tag, nil
}

func (s *Store) ListActiveTags(ctx context.Context, now time.Time) ([]raid.GraffitiTag, error) {
	tags := make([]raid.GraffitiTag, 0)
	err := s.db.SelectContext(ctx, &tags, `
		SELECT building_id, raid_id, attacker_login, emblem, created_at, expires_at
		FROM graffiti_tags
		WHERE expires_at > $1
		ORDER BY building_id
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (s *Store) DeleteExpiredTags(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM graffiti_tags WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *Store) WeeklyLeaders(ctx context.Context, limit int) ([]raid.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries := make([]raid.LeaderboardEntry, 0, limit)
	err := s.db.SelectContext(ctx, &entries, `
		SELECT login, weekly_wins::float8 AS wins
		FROM developers
		WHERE weekly_wins > 0
		ORDER BY weekly_wins DESC, login
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
