// Package shop sells catalog items through card checkout and PIX charges.
// Purchases are finalized only on the provider's word: a webhook or a poller
// confirmation, never the purchase request itself.
package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	shopDomain "github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/metrics"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// DefaultPendingTTL is how long a pending purchase blocks a retry for the
// same item before it is considered abandoned.
const DefaultPendingTTL = 30 * time.Minute

var (
	ErrItemUnavailable     = errors.New("item not purchasable")
	ErrAlreadyOwned        = errors.New("item already owned")
	ErrBadProvider         = errors.New("unknown payment provider")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrNotOwner            = errors.New("not the purchase owner")
)

// CardGateway opens hosted checkout sessions.
type CardGateway interface {
	CreateCheckoutSession(ctx context.Context, purchase shopDomain.Purchase, item shopDomain.Item) (shopDomain.CheckoutSession, error)
}

// PIXGateway creates instant-payment charges.
type PIXGateway interface {
	CreateCharge(ctx context.Context, purchase shopDomain.Purchase, item shopDomain.Item) (shopDomain.PIXCharge, error)
}

// ChargeResolver decides whether a pending charge has settled. The PIX
// client implements it by polling the provider.
type ChargeResolver interface {
	Resolve(ctx context.Context, purchase shopDomain.Purchase) (done bool, success bool, providerRef string, message string, retryAfter time.Duration, err error)
}

// Unlocker runs achievement checks after state changes.
type Unlocker interface {
	CheckAndUnlock(ctx context.Context, developerID, metric string) ([]achievement.Achievement, error)
}

// Config wires the shop service.
type Config struct {
	Items      storage.ItemStore
	Purchases  storage.PurchaseStore
	Developers storage.DeveloperStore
	Feed       storage.FeedStore
	Card       CardGateway
	PIX        PIXGateway
	Unlocker   Unlocker
	PendingTTL time.Duration
	Logger     *logger.Logger
}

// Service manages the catalog and purchase lifecycle.
type Service struct {
	items      storage.ItemStore
	purchases  storage.PurchaseStore
	developers storage.DeveloperStore
	feed       storage.FeedStore
	card       CardGateway
	pix        PIXGateway
	unlocker   Unlocker
	pendingTTL time.Duration
	log        *logger.Logger
}

// New creates the shop service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("shop")
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Service{
		items:      cfg.Items,
		purchases:  cfg.Purchases,
		developers: cfg.Developers,
		feed:       cfg.Feed,
		card:       cfg.Card,
		pix:        cfg.PIX,
		unlocker:   cfg.Unlocker,
		pendingTTL: ttl,
		log:        log,
	}
}

// Items returns the active catalog.
func (s *Service) Items(ctx context.Context) ([]shopDomain.Item, error) {
	return s.items.ListItems(ctx, true)
}

// Item returns one catalog entry, active or not.
func (s *Service) Item(ctx context.Context, id string) (shopDomain.Item, error) {
	return s.items.GetItem(ctx, id)
}

// Begin starts a purchase: it records the pending row and asks the provider
// for a checkout session or charge. An abandoned pending purchase for the
// same item past the TTL is deleted so the buyer can retry.
func (s *Service) Begin(ctx context.Context, developerID, itemID, provider string) (shopDomain.Purchase, error) {
	if !shopDomain.ValidProvider(provider) {
		return shopDomain.Purchase{}, fmt.Errorf("provider %q: %w", provider, ErrBadProvider)
	}

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return shopDomain.Purchase{}, err
	}
	if !item.Active {
		return shopDomain.Purchase{}, fmt.Errorf("item %s: %w", itemID, ErrItemUnavailable)
	}

	if !item.Stackable {
		owned, err := s.purchases.HasCompletedPurchase(ctx, developerID, itemID)
		if err != nil {
			return shopDomain.Purchase{}, fmt.Errorf("check ownership: %w", err)
		}
		if owned {
			return shopDomain.Purchase{}, fmt.Errorf("item %s: %w", itemID, ErrAlreadyOwned)
		}
	}

	cutoff := time.Now().Add(-s.pendingTTL)
	if removed, err := s.purchases.DeleteStalePending(ctx, developerID, itemID, cutoff); err != nil {
		s.log.WithError(err).Warn("delete stale pending failed")
	} else if removed > 0 {
		s.log.Infof("deleted %d stale pending purchase(s) of %s for retry", removed, itemID)
	}

	purchase, err := s.purchases.CreatePurchase(ctx, shopDomain.Purchase{
		DeveloperID: developerID,
		ItemID:      itemID,
		Status:      shopDomain.StatusPending,
		Provider:    provider,
		AmountCents: item.PriceCents,
		Currency:    item.Currency,
		Stackable:   item.Stackable,
	})
	if errors.Is(err, storage.ErrConflict) {
		return shopDomain.Purchase{}, fmt.Errorf("purchase of %s still pending: %w", itemID, err)
	}
	if err != nil {
		return shopDomain.Purchase{}, fmt.Errorf("create purchase: %w", err)
	}

	purchase, err = s.contactProvider(ctx, purchase, item)
	if err != nil {
		if _, ferr := s.purchases.FinalizePurchase(ctx, purchase.ID, shopDomain.StatusFailed, time.Now().UTC()); ferr != nil {
			s.log.WithError(ferr).Warnf("mark purchase %s failed", purchase.ID)
		}
		metrics.RecordPurchase(provider, shopDomain.StatusFailed)
		return shopDomain.Purchase{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	s.log.Infof("purchase %s started: %s via %s", purchase.ID, itemID, provider)
	return purchase, nil
}

// Purchase returns one purchase for its owner.
func (s *Service) Purchase(ctx context.Context, developerID, id string) (shopDomain.Purchase, error) {
	p, err := s.purchases.GetPurchase(ctx, id)
	if err != nil {
		return shopDomain.Purchase{}, err
	}
	if p.DeveloperID != developerID {
		return shopDomain.Purchase{}, fmt.Errorf("purchase %s: %w", id, ErrNotOwner)
	}
	return p, nil
}

// InventoryEntry is one owned item with how many completed purchases back it.
type InventoryEntry struct {
	Item  shopDomain.Item `json:"item"`
	Count int             `json:"count"`
}

// Inventory groups a developer's completed purchases by item.
func (s *Service) Inventory(ctx context.Context, developerID string) ([]InventoryEntry, error) {
	purchases, err := s.purchases.ListPurchasesByDeveloper(ctx, developerID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	counts := make(map[string]int)
	for _, p := range purchases {
		if p.Status == shopDomain.StatusCompleted {
			counts[p.ItemID]++
		}
	}

	entries := make([]InventoryEntry, 0, len(counts))
	for itemID, count := range counts {
		item, err := s.items.GetItem(ctx, itemID)
		if errors.Is(err, sql.ErrNoRows) {
			// Purchased items can outlive their catalog entry.
			item = shopDomain.Item{ID: itemID, Name: itemID}
		} else if err != nil {
			return nil, fmt.Errorf("load item %s: %w", itemID, err)
		}
		entries = append(entries, InventoryEntry{Item: item, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Item.ID < entries[j].Item.ID })
	return entries, nil
}

// FinalizeByID settles a pending purchase by its id. Already-settled
// purchases are returned unchanged.
func (s *Service) FinalizeByID(ctx context.Context, id string, success bool) (shopDomain.Purchase, error) {
	p, err := s.purchases.GetPurchase(ctx, id)
	if err != nil {
		return shopDomain.Purchase{}, err
	}
	return s.finalize(ctx, p, success)
}

// FinalizeByRef settles a pending purchase by its provider reference, the
// identifier webhooks carry.
func (s *Service) FinalizeByRef(ctx context.Context, provider, ref string, success bool) (shopDomain.Purchase, error) {
	p, err := s.purchases.GetPurchaseByProviderRef(ctx, provider, ref)
	if err != nil {
		return shopDomain.Purchase{}, err
	}
	return s.finalize(ctx, p, success)
}

// AttachProviderRef backfills the provider reference on a pending purchase,
// used when the reference only becomes known after creation.
func (s *Service) AttachProviderRef(ctx context.Context, id, ref string) error {
	p, err := s.purchases.GetPurchase(ctx, id)
	if err != nil {
		return err
	}
	if p.ProviderRef == ref {
		return nil
	}
	p.ProviderRef = ref
	_, err = s.purchases.UpdatePurchase(ctx, p)
	return err
}

// finalize is the single idempotent settlement path shared by webhooks and
// the poller. Replays and races collapse into no-ops.
func (s *Service) finalize(ctx context.Context, p shopDomain.Purchase, success bool) (shopDomain.Purchase, error) {
	if p.Status != shopDomain.StatusPending {
		return p, nil
	}

	status := shopDomain.StatusFailed
	if success {
		status = shopDomain.StatusCompleted
	}

	settled, err := s.purchases.FinalizePurchase(ctx, p.ID, status, time.Now().UTC())
	if errors.Is(err, storage.ErrConflict) {
		// Either a concurrent finalize won, or the completed unique index
		// caught a duplicate of a non-stackable item.
		current, rerr := s.purchases.GetPurchase(ctx, p.ID)
		if rerr == nil && current.Status == status {
			return current, nil
		}
		if rerr == nil && current.Status == shopDomain.StatusPending && status == shopDomain.StatusCompleted {
			if failed, ferr := s.purchases.FinalizePurchase(ctx, p.ID, shopDomain.StatusFailed, time.Now().UTC()); ferr == nil {
				s.log.Warnf("purchase %s duplicated a completed item; marked failed", p.ID)
				metrics.RecordPurchase(p.Provider, shopDomain.StatusFailed)
				return failed, fmt.Errorf("item %s: %w", p.ItemID, ErrAlreadyOwned)
			}
		}
		return current, err
	}
	if err != nil {
		return shopDomain.Purchase{}, fmt.Errorf("finalize purchase %s: %w", p.ID, err)
	}

	metrics.RecordPurchase(settled.Provider, settled.Status)
	if settled.Status == shopDomain.StatusCompleted {
		s.emitCompleted(ctx, settled)
		s.checkAchievements(ctx, settled.DeveloperID)
		s.log.Infof("purchase %s completed: %s via %s", settled.ID, settled.ItemID, settled.Provider)
	} else {
		s.log.Infof("purchase %s failed via %s", settled.ID, settled.Provider)
	}
	return settled, nil
}

func (s *Service) contactProvider(ctx context.Context, purchase shopDomain.Purchase, item shopDomain.Item) (shopDomain.Purchase, error) {
	switch purchase.Provider {
	case shopDomain.ProviderCard:
		if s.card == nil {
			return purchase, errors.New("card provider not configured")
		}
		session, err := s.card.CreateCheckoutSession(ctx, purchase, item)
		if err != nil {
			return purchase, err
		}
		purchase.ProviderRef = session.SessionID
		purchase.CheckoutURL = session.URL
	case shopDomain.ProviderPIX:
		if s.pix == nil {
			return purchase, errors.New("pix provider not configured")
		}
		charge, err := s.pix.CreateCharge(ctx, purchase, item)
		if err != nil {
			return purchase, err
		}
		purchase.ProviderRef = charge.TxID
		purchase.QRCode = charge.QRCode
		purchase.QRCodeURL = charge.QRCodeURL
	}

	updated, err := s.purchases.UpdatePurchase(ctx, purchase)
	if err != nil {
		return purchase, fmt.Errorf("store provider reference: %w", err)
	}
	return updated, nil
}

func (s *Service) emitCompleted(ctx context.Context, p shopDomain.Purchase) {
	if s.feed == nil {
		return
	}
	login := ""
	if dev, err := s.developers.GetDeveloper(ctx, p.DeveloperID); err == nil {
		login = dev.Login
	}
	if _, err := s.feed.AppendEvent(ctx, feed.Event{
		DeveloperID: p.DeveloperID,
		Kind:        feed.KindPurchaseCompleted,
		Payload: map[string]interface{}{
			"login":    login,
			"item_id":  p.ItemID,
			"provider": p.Provider,
		},
	}); err != nil {
		s.log.WithError(err).Warn("append purchase event failed")
	}
}

func (s *Service) checkAchievements(ctx context.Context, developerID string) {
	if s.unlocker == nil {
		return
	}
	if _, err := s.unlocker.CheckAndUnlock(ctx, developerID, achievement.MetricPurchases); err != nil {
		s.log.WithError(err).Warn("purchase achievement check failed")
	}
}
