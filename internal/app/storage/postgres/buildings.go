package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/building"
	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// --- BuildingStore ----------------------------------------------------------

const buildingColumns = `id, login, owner_id, stars, followers, public_repos, commits,
	width, depth, height, plot_x, plot_y, kudos_count, claimed_at, stats_synced_at, created_at`

func (s *Store) CreateBuilding(ctx context.Context, b building.Building) (building.Building, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	if b.StatsSyncedAt.IsZero() {
		b.StatsSyncedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buildings (id, login, owner_id, stars, followers, public_repos, commits,
			width, depth, height, plot_x, plot_y, kudos_count, claimed_at, stats_synced_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, b.ID, b.Login, b.OwnerID, b.Stars, b.Followers, b.PublicRepos, b.Commits,
		b.Width, b.Depth, b.Height, b.PlotX, b.PlotY, b.KudosCount, b.ClaimedAt, b.StatsSyncedAt, b.CreatedAt)
	if err != nil {
		return building.Building{}, mapError(err)
	}
	return b, nil
}

func (s *Store) UpdateBuilding(ctx context.Context, b building.Building) (building.Building, error) {
	existing, err := s.GetBuilding(ctx, b.ID)
	if err != nil {
		return building.Building{}, err
	}

	// Ownership, plot, and kudos have dedicated mutators; updates only touch
	// the profile-derived columns.
	b.CreatedAt = existing.CreatedAt
	b.Login = existing.Login
	b.OwnerID = existing.OwnerID
	b.ClaimedAt = existing.ClaimedAt
	b.PlotX = existing.PlotX
	b.PlotY = existing.PlotY
	b.KudosCount = existing.KudosCount

	result, err := s.db.ExecContext(ctx, `
		UPDATE buildings
		SET stars = $2, followers = $3, public_repos = $4, commits = $5,
			width = $6, depth = $7, height = $8, stats_synced_at = $9
		WHERE id = $1
	`, b.ID, b.Stars, b.Followers, b.PublicRepos, b.Commits,
		b.Width, b.Depth, b.Height, b.StatsSyncedAt)
	if err != nil {
		return building.Building{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return building.Building{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) GetBuilding(ctx context.Context, id string) (building.Building, error) {
	var b building.Building
	err := s.db.GetContext(ctx, &b, `
		SELECT `+buildingColumns+`
		FROM buildings
		WHERE id = $1
	`, id)
	if err != nil {
		return building.Building{}, err
	}
	return b, nil
}

func (s *Store) GetBuildingByLogin(ctx context.Context, login string) (building.Building, error) {
	var b building.Building
	err := s.db.GetContext(ctx, &b, `
		SELECT `+buildingColumns+`
		FROM buildings
		WHERE LOWER(login) = LOWER($1)
	`, login)
	if err != nil {
		return building.Building{}, err
	}
	return b, nil
}

func (s *Store) GetBuildingByOwner(ctx context.Context, ownerID string) (building.Building, error) {
	if ownerID == "" {
		return building.Building{}, sql.ErrNoRows
	}
	var b building.Building
	err := s.db.GetContext(ctx, &b, `
		SELECT `+buildingColumns+`
		FROM buildings
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return building.Building{}, err
	}
	return b, nil
}

func (s *Store) ListBuildings(ctx context.Context) ([]building.Building, error) {
	buildings := make([]building.Building, 0)
	err := s.db.SelectContext(ctx, &buildings, `
		SELECT `+buildingColumns+`
		FROM buildings
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	return buildings, nil
}

func (s *Store) CountBuildings(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM buildings`)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ClaimBuilding(ctx context.Context, buildingID, ownerID string, now time.Time) (building.Building, error) {
	claimed := now.UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE buildings
		SET owner_id = $2, claimed_at = $3
		WHERE id = $1 AND owner_id = ''
	`, buildingID, ownerID, claimed)
	if err != nil {
		// The partial unique index on owner_id rejects a second building for
		// the same developer.
		return building.Building{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := s.GetBuilding(ctx, buildingID); err != nil {
			return building.Building{}, err
		}
		return building.Building{}, fmt.Errorf("building %s already claimed: %w", buildingID, storage.ErrConflict)
	}
	return s.GetBuilding(ctx, buildingID)
}

func (s *Store) AdjustKudos(ctx context.Context, buildingID string, delta int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE buildings
		SET kudos_count = GREATEST(0, kudos_count + $2)
		WHERE id = $1
	`, buildingID, delta)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
