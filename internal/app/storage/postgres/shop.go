package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/app/domain/loadout"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// --- ItemStore --------------------------------------------------------------

func (s *Store) UpsertItem(ctx context.Context, item shop.Item) (shop.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, description, zone, price_cents, currency,
			attack_bonus, defense_bonus, stackable, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, zone = EXCLUDED.zone,
			price_cents = EXCLUDED.price_cents, currency = EXCLUDED.currency,
			attack_bonus = EXCLUDED.attack_bonus, defense_bonus = EXCLUDED.defense_bonus,
			stackable = EXCLUDED.stackable, active = EXCLUDED.active
	`, item.ID, item.Name, item.Description, item.Zone, item.PriceCents, item.Currency,
		item.AttackBonus, item.DefenseBonus, item.Stackable, item.Active)
	if err != nil {
		return shop.Item{}, mapError(err)
	}
	return item, nil
}

const itemColumns = `id, name, description, zone, price_cents, currency,
	attack_bonus, defense_bonus, stackable, active`

func (s *Store) GetItem(ctx context.Context, id string) (shop.Item, error) {
	var item shop.Item
	err := s.db.GetContext(ctx, &item, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
	`, id)
	if err != nil {
		return shop.Item{}, err
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error) {
	items := make([]shop.Item, 0)
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY id`
	if activeOnly {
		query = `SELECT ` + itemColumns + ` FROM items WHERE active ORDER BY id`
	}
	if err := s.db.SelectContext(ctx, &items, query); err != nil {
		return nil, err
	}
	return items, nil
}

// --- PurchaseStore ----------------------------------------------------------

const purchaseColumns = `id, developer_id, item_id, status, provider, provider_ref,
	amount_cents, currency, checkout_url, qr_code, qr_code_url, stackable, consumed,
	created_at, completed_at`

func (s *Store) CreatePurchase(ctx context.Context, p shop.Purchase) (shop.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, developer_id, item_id, status, provider, provider_ref,
			amount_cents, currency, checkout_url, qr_code, qr_code_url, stackable, consumed,
			created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.DeveloperID, p.ItemID, p.Status, p.Provider, p.ProviderRef,
		p.AmountCents, p.Currency, p.CheckoutURL, p.QRCode, p.QRCodeURL, p.Stackable, p.Consumed,
		p.CreatedAt, p.CompletedAt)
	if err != nil {
		return shop.Purchase{}, mapError(err)
	}
	return p, nil
}

func (s *Store) UpdatePurchase(ctx context.Context, p shop.Purchase) (shop.Purchase, error) {
	existing, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		return shop.Purchase{}, err
	}

	// Status moves through FinalizePurchase and consumption through
	// ConsumePurchase; updates attach provider detail only.
	p.CreatedAt = existing.CreatedAt
	p.DeveloperID = existing.DeveloperID
	p.ItemID = existing.ItemID
	p.Status = existing.Status
	p.Consumed = existing.Consumed
	p.CompletedAt = existing.CompletedAt

	result, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET provider = $2, provider_ref = $3, checkout_url = $4, qr_code = $5, qr_code_url = $6
		WHERE id = $1
	`, p.ID, p.Provider, p.ProviderRef, p.CheckoutURL, p.QRCode, p.QRCodeURL)
	if err != nil {
		return shop.Purchase{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return shop.Purchase{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (shop.Purchase, error) {
	var p shop.Purchase
	err := s.db.GetContext(ctx, &p, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1
	`, id)
	if err != nil {
		return shop.Purchase{}, err
	}
	return p, nil
}

func (s *Store) GetPurchaseByProviderRef(ctx context.Context, provider, ref string) (shop.Purchase, error) {
	if ref == "" {
		return shop.Purchase{}, sql.ErrNoRows
	}
	var p shop.Purchase
	err := s.db.GetContext(ctx, &p, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE provider = $1 AND provider_ref = $2
	`, provider, ref)
	if err != nil {
		return shop.Purchase{}, err
	}
	return p, nil
}

func (s *Store) ListPurchasesByDeveloper(ctx context.Context, developerID string) ([]shop.Purchase, error) {
	purchases := make([]shop.Purchase, 0)
	err := s.db.SelectContext(ctx, &purchases, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE developer_id = $1
		ORDER BY created_at DESC, id DESC
	`, developerID)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) ListPendingByProvider(ctx context.Context, provider string) ([]shop.Purchase, error) {
	purchases := make([]shop.Purchase, 0)
	err := s.db.SelectContext(ctx, &purchases, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE provider = $1 AND status = 'pending'
		ORDER BY created_at
	`, provider)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) FinalizePurchase(ctx context.Context, id, status string, now time.Time) (shop.Purchase, error) {
	completedAt := sql.NullTime{}
	if status == shop.StatusCompleted {
		completedAt = sql.NullTime{Time: now.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET status = $2, completed_at = COALESCE($3, completed_at)
		WHERE id = $1 AND status = 'pending'
	`, id, status, completedAt)
	if err != nil {
		// The partial unique index on completed non-stackable purchases
		// rejects a second completion for the same item.
		return shop.Purchase{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		existing, err := s.GetPurchase(ctx, id)
		if err != nil {
			return shop.Purchase{}, err
		}
		return shop.Purchase{}, fmt.Errorf("purchase %s already %s: %w", id, existing.Status, storage.ErrConflict)
	}
	return s.GetPurchase(ctx, id)
}

func (s *Store) HasCompletedPurchase(ctx context.Context, developerID, itemID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM purchases
			WHERE developer_id = $1 AND item_id = $2 AND status = 'completed'
		)
	`, developerID, itemID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CountCompletedByDeveloper(ctx context.Context, developerID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM purchases
		WHERE developer_id = $1 AND status = 'completed'
	`, developerID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DeleteStalePending(ctx context.Context, developerID, itemID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM purchases
		WHERE developer_id = $1 AND item_id = $2 AND status = 'pending' AND created_at < $3
	`, developerID, itemID, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *Store) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET status = 'expired'
		WHERE status = 'pending' AND created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *Store) GetUnconsumedPurchase(ctx context.Context, developerID, itemID string) (shop.Purchase, error) {
	var p shop.Purchase
	err := s.db.GetContext(ctx, &p, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE developer_id = $1 AND item_id = $2 AND status = 'completed' AND NOT consumed
		ORDER BY created_at
		LIMIT 1
	`, developerID, itemID)
	if err != nil {
		return shop.Purchase{}, err
	}
	return p, nil
}

func (s *Store) ConsumePurchase(ctx context.Context, purchaseID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET consumed = TRUE
		WHERE id = $1 AND NOT consumed
	`, purchaseID)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := s.GetPurchase(ctx, purchaseID); err != nil {
			return err
		}
		return fmt.Errorf("purchase %s already consumed: %w", purchaseID, storage.ErrConflict)
	}
	return nil
}

// --- LoadoutStore -----------------------------------------------------------

func (s *Store) EquipSlot(ctx context.Context, slot loadout.Slot) (loadout.Slot, error) {
	slot.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loadout_slots (developer_id, zone, item_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (developer_id, zone) DO UPDATE
		SET item_id = EXCLUDED.item_id, updated_at = EXCLUDED.updated_at
	`, slot.DeveloperID, slot.Zone, slot.ItemID, slot.UpdatedAt)
	if err != nil {
		return loadout.Slot{}, mapError(err)
	}
	return slot, nil
}

func (s *Store) ClearSlot(ctx context.Context, developerID, zone string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM loadout_slots WHERE developer_id = $1 AND zone = $2
	`, developerID, zone)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetLoadout(ctx context.Context, developerID string) ([]loadout.Slot, error) {
	slots := make([]loadout.Slot, 0)
	err := s.db.SelectContext(ctx, &slots, `
		SELECT developer_id, zone, item_id, updated_at
		FROM loadout_slots
		WHERE developer_id = $1
		ORDER BY zone
	`, developerID)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *Store) ListAllSlots(ctx context.Context) ([]loadout.Slot, error) {
	slots := make([]loadout.Slot, 0)
	err := s.db.SelectContext(ctx, &slots, `
		SELECT developer_id, zone, item_id, updated_at
		FROM loadout_slots
		ORDER BY developer_id, zone
	`)
	if err != nil {
		return nil, err
	}
	return slots, nil
}
