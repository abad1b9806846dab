// Package loadouts manages which purchased items a developer has equipped on
// their building.
package loadouts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EndlessPixel/git-city/internal/app/domain/loadout"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

var (
	ErrNotEquippable = errors.New("zone cannot hold equipment")
	ErrZoneMismatch  = errors.New("item does not fit zone")
	ErrItemInactive  = errors.New("item is retired")
	ErrNotOwned      = errors.New("item not owned")
)

// SnapshotInvalidator drops the cached city snapshot after a visible change.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context)
}

// Service manages equipment slots.
type Service struct {
	loadouts  storage.LoadoutStore
	items     storage.ItemStore
	purchases storage.PurchaseStore
	snapshots SnapshotInvalidator
	log       *logger.Logger
}

// New creates the loadout service.
func New(loadouts storage.LoadoutStore, items storage.ItemStore, purchases storage.PurchaseStore, snapshots SnapshotInvalidator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loadouts")
	}
	return &Service{
		loadouts:  loadouts,
		items:     items,
		purchases: purchases,
		snapshots: snapshots,
		log:       log,
	}
}

// Equip places an owned item into its zone, replacing whatever was there.
func (s *Service) Equip(ctx context.Context, developerID, zone, itemID string) (loadout.Slot, error) {
	if !shop.EquippableZone(zone) {
		return loadout.Slot{}, fmt.Errorf("zone %q: %w", zone, ErrNotEquippable)
	}

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return loadout.Slot{}, err
	}
	if item.Zone != zone {
		return loadout.Slot{}, fmt.Errorf("item %s is for %s: %w", itemID, item.Zone, ErrZoneMismatch)
	}
	if !item.Active {
		return loadout.Slot{}, fmt.Errorf("item %s: %w", itemID, ErrItemInactive)
	}

	owned, err := s.purchases.HasCompletedPurchase(ctx, developerID, itemID)
	if err != nil {
		return loadout.Slot{}, fmt.Errorf("check ownership: %w", err)
	}
	if !owned {
		return loadout.Slot{}, fmt.Errorf("item %s: %w", itemID, ErrNotOwned)
	}

	slot, err := s.loadouts.EquipSlot(ctx, loadout.Slot{
		DeveloperID: developerID,
		Zone:        zone,
		ItemID:      itemID,
	})
	if err != nil {
		return loadout.Slot{}, fmt.Errorf("equip %s: %w", itemID, err)
	}

	s.invalidate(ctx)
	s.log.Debugf("developer %s equipped %s in %s", developerID, itemID, zone)
	return slot, nil
}

// Unequip clears a zone. Clearing an already-empty zone is a no-op.
func (s *Service) Unequip(ctx context.Context, developerID, zone string) error {
	if !shop.EquippableZone(zone) {
		return fmt.Errorf("zone %q: %w", zone, ErrNotEquippable)
	}

	err := s.loadouts.ClearSlot(ctx, developerID, zone)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("clear %s: %w", zone, err)
	}
	if err == nil {
		s.invalidate(ctx)
	}
	return nil
}

// Loadout returns every equipped slot for a developer.
func (s *Service) Loadout(ctx context.Context, developerID string) ([]loadout.Slot, error) {
	return s.loadouts.GetLoadout(ctx, developerID)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.snapshots != nil {
		s.snapshots.InvalidateSnapshot(ctx)
	}
}
