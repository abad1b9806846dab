package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/billboard"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
)

// --- BillboardStore ---------------------------------------------------------

func (s *Store) CreateBillboard(ctx context.Context, b billboard.Billboard) (billboard.Billboard, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now

	// Free the slot first if its previous occupant has lapsed but the sweep
	// has not caught it yet.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM billboards
		WHERE building_id = $1 AND slot = $2 AND expires_at <= $3
	`, b.BuildingID, b.Slot, now)
	if err != nil {
		return billboard.Billboard{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billboards (id, building_id, purchase_id, slot, image_url, link_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.BuildingID, b.PurchaseID, b.Slot, b.ImageURL, b.LinkURL, b.CreatedAt, b.ExpiresAt)
	if err != nil {
		return billboard.Billboard{}, mapError(err)
	}
	return b, nil
}

func (s *Store) ListActiveBillboards(ctx context.Context, buildingID string, now time.Time) ([]billboard.Billboard, error) {
	billboards := make([]billboard.Billboard, 0)
	err := s.db.SelectContext(ctx, &billboards, `
		SELECT id, building_id, purchase_id, slot, image_url, link_url, created_at, expires_at
		FROM billboards
		WHERE building_id = $1 AND expires_at > $2
		ORDER BY slot
	`, buildingID, now.UTC())
	if err != nil {
		return nil, err
	}
	return billboards, nil
}

func (s *Store) DeleteBillboard(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM billboards WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteExpiredBillboards(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM billboards WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// --- FeedStore --------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, e feed.Event) (feed.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return feed.Event{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_feed (id, developer_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.DeveloperID, e.Kind, payloadJSON, e.CreatedAt)
	if err != nil {
		return feed.Event{}, mapError(err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]feed.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, developer_id, kind, payload, created_at
		FROM activity_feed
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]feed.Event, 0, limit)
	for rows.Next() {
		var (
			e          feed.Event
			payloadRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.DeveloperID, &e.Kind, &payloadRaw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payloadRaw) > 0 {
			_ = json.Unmarshal(payloadRaw, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM activity_feed`)
	if err != nil {
		return 0, err
	}
	return count, nil
}
