// Package billboards places purchased advertising on building walls and in
// the sky. Each placement consumes one completed billboard purchase.
package billboards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	billboardDomain "github.com/EndlessPixel/git-city/internal/app/domain/billboard"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Placement defaults, overridable through configuration.
const (
	DefaultSlotArea = 320.0
	DefaultMaxSlots = 8
	DefaultSkySlots = 12
	DefaultRun      = 7 * 24 * time.Hour
)

var (
	ErrNoBillboardPurchase = errors.New("no unconsumed billboard purchase")
	ErrSlotsFull           = errors.New("all billboard slots occupied")
	ErrBadImage            = errors.New("image not hosted on the media store")
)

// SnapshotInvalidator drops the cached city snapshot after a visible change.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context)
}

// Config wires the billboard service.
type Config struct {
	Billboards storage.BillboardStore
	Purchases  storage.PurchaseStore
	Items      storage.ItemStore
	Buildings  storage.BuildingStore
	Snapshots  SnapshotInvalidator

	SlotArea float64
	MaxSlots int
	SkySlots int
	Run      time.Duration
	// MediaBase, when set, restricts image URLs to the hosted media store.
	MediaBase string
	Logger    *logger.Logger
}

// Service manages billboard placements.
type Service struct {
	billboards storage.BillboardStore
	purchases  storage.PurchaseStore
	items      storage.ItemStore
	buildings  storage.BuildingStore
	snapshots  SnapshotInvalidator

	slotArea  float64
	maxSlots  int
	skySlots  int
	run       time.Duration
	mediaBase string
	log       *logger.Logger
}

// New creates the billboard service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("billboards")
	}
	if cfg.SlotArea <= 0 {
		cfg.SlotArea = DefaultSlotArea
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = DefaultMaxSlots
	}
	if cfg.SkySlots <= 0 {
		cfg.SkySlots = DefaultSkySlots
	}
	if cfg.Run <= 0 {
		cfg.Run = DefaultRun
	}
	return &Service{
		billboards: cfg.Billboards,
		purchases:  cfg.Purchases,
		items:      cfg.Items,
		buildings:  cfg.Buildings,
		snapshots:  cfg.Snapshots,
		slotArea:   cfg.SlotArea,
		maxSlots:   cfg.MaxSlots,
		skySlots:   cfg.SkySlots,
		run:        cfg.Run,
		mediaBase:  cfg.MediaBase,
		log:        log,
	}
}

// Place consumes one billboard purchase and mounts the image in the lowest
// free slot of the target building, or the sky when buildingLogin is empty.
func (s *Service) Place(ctx context.Context, developerID, buildingLogin, imageURL, linkURL string) (billboardDomain.Billboard, error) {
	if imageURL == "" {
		return billboardDomain.Billboard{}, fmt.Errorf("image url required: %w", ErrBadImage)
	}
	if s.mediaBase != "" && !strings.HasPrefix(imageURL, s.mediaBase) {
		return billboardDomain.Billboard{}, fmt.Errorf("image %s: %w", imageURL, ErrBadImage)
	}

	buildingID := ""
	capacity := s.skySlots
	if buildingLogin != "" {
		b, err := s.buildings.GetBuildingByLogin(ctx, buildingLogin)
		if err != nil {
			return billboardDomain.Billboard{}, err
		}
		buildingID = b.ID
		capacity = billboardDomain.SlotCapacity(b.WallArea(), s.slotArea, s.maxSlots)
	}

	purchase, err := s.findBillboardPurchase(ctx, developerID)
	if err != nil {
		return billboardDomain.Billboard{}, err
	}

	now := time.Now().UTC()
	active, err := s.billboards.ListActiveBillboards(ctx, buildingID, now)
	if err != nil {
		return billboardDomain.Billboard{}, fmt.Errorf("list active billboards: %w", err)
	}
	occupied := make(map[int]bool, len(active))
	for _, b := range active {
		occupied[b.Slot] = true
	}

	var created billboardDomain.Billboard
	placed := false
	for slot := 1; slot <= capacity; slot++ {
		if occupied[slot] {
			continue
		}
		created, err = s.billboards.CreateBillboard(ctx, billboardDomain.Billboard{
			BuildingID: buildingID,
			PurchaseID: purchase.ID,
			Slot:       slot,
			ImageURL:   imageURL,
			LinkURL:    linkURL,
			ExpiresAt:  now.Add(s.run),
		})
		if errors.Is(err, storage.ErrConflict) {
			// Lost the slot to a concurrent placement; try the next one.
			occupied[slot] = true
			continue
		}
		if err != nil {
			return billboardDomain.Billboard{}, fmt.Errorf("create billboard: %w", err)
		}
		placed = true
		break
	}
	if !placed {
		return billboardDomain.Billboard{}, fmt.Errorf("building %q has %d slot(s): %w", buildingLogin, capacity, ErrSlotsFull)
	}

	if err := s.purchases.ConsumePurchase(ctx, purchase.ID); err != nil {
		// The purchase was consumed elsewhere between lookup and placement;
		// roll the placement back.
		if derr := s.billboards.DeleteBillboard(ctx, created.ID); derr != nil {
			s.log.WithError(derr).Warnf("rollback billboard %s failed", created.ID)
		}
		if errors.Is(err, storage.ErrConflict) {
			return billboardDomain.Billboard{}, fmt.Errorf("%w: %v", ErrNoBillboardPurchase, err)
		}
		return billboardDomain.Billboard{}, fmt.Errorf("consume purchase: %w", err)
	}

	s.invalidate(ctx)
	s.log.Infof("billboard placed in slot %d of %q by developer %s", created.Slot, buildingLogin, developerID)
	return created, nil
}

// ListActive returns unexpired billboards for a building, or the sky when
// buildingLogin is empty.
func (s *Service) ListActive(ctx context.Context, buildingLogin string) ([]billboardDomain.Billboard, error) {
	buildingID := ""
	if buildingLogin != "" {
		b, err := s.buildings.GetBuildingByLogin(ctx, buildingLogin)
		if err != nil {
			return nil, err
		}
		buildingID = b.ID
	}
	return s.billboards.ListActiveBillboards(ctx, buildingID, time.Now().UTC())
}

// Capacity reports the slot count for a building, or the sky slot count for
// an empty login.
func (s *Service) Capacity(ctx context.Context, buildingLogin string) (int, error) {
	if buildingLogin == "" {
		return s.skySlots, nil
	}
	b, err := s.buildings.GetBuildingByLogin(ctx, buildingLogin)
	if err != nil {
		return 0, err
	}
	return billboardDomain.SlotCapacity(b.WallArea(), s.slotArea, s.maxSlots), nil
}

// findBillboardPurchase locates the oldest completed, unconsumed purchase of
// any billboard-zone item.
func (s *Service) findBillboardPurchase(ctx context.Context, developerID string) (shop.Purchase, error) {
	items, err := s.items.ListItems(ctx, false)
	if err != nil {
		return shop.Purchase{}, fmt.Errorf("list items: %w", err)
	}

	candidates := make([]shop.Purchase, 0, 1)
	for _, item := range items {
		if item.Zone != shop.ZoneBillboard {
			continue
		}
		p, err := s.purchases.GetUnconsumedPurchase(ctx, developerID, item.ID)
		if err == nil {
			candidates = append(candidates, p)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return shop.Purchase{}, fmt.Errorf("find billboard purchase: %w", err)
		}
	}
	if len(candidates) == 0 {
		return shop.Purchase{}, ErrNoBillboardPurchase
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	return candidates[0], nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.snapshots != nil {
		s.snapshots.InvalidateSnapshot(ctx)
	}
}
