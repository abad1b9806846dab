package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/billboard"
	"github.com/EndlessPixel/git-city/internal/app/domain/building"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/domain/loadout"
	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/domain/social"
	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Not-found lookups wrap sql.ErrNoRows so callers can treat both backends the
// same way.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	developers         map[string]developer.Developer
	developersByGitHub map[int64]string
	developersByLogin  map[string]string
	developersByCode   map[string]string
	sessions           map[string]developer.Session

	buildings         map[string]building.Building
	buildingsByLogin  map[string]string
	buildingsByOwner  map[string]string
	buildingCreations []string

	items           map[string]shop.Item
	purchases       map[string]shop.Purchase
	purchasesByRef  map[string]string
	loadouts        map[string]map[string]loadout.Slot
	raids           []raid.Raid
	tags            map[string]raid.GraffitiTag
	achievements    map[string]achievement.Achievement
	unlocks         map[string]map[string]achievement.Unlock
	kudos           map[string]social.Kudos
	kudosByPair     map[string]string
	referrals       map[string]social.Referral
	referredIndex   map[string]string
	billboards      map[string]billboard.Billboard
	events          []feed.Event
}

var _ storage.DeveloperStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.BuildingStore = (*Store)(nil)
var _ storage.ItemStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.LoadoutStore = (*Store)(nil)
var _ storage.RaidStore = (*Store)(nil)
var _ storage.AchievementStore = (*Store)(nil)
var _ storage.SocialStore = (*Store)(nil)
var _ storage.BillboardStore = (*Store)(nil)
var _ storage.FeedStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:             1,
		developers:         make(map[string]developer.Developer),
		developersByGitHub: make(map[int64]string),
		developersByLogin:  make(map[string]string),
		developersByCode:   make(map[string]string),
		sessions:           make(map[string]developer.Session),
		buildings:          make(map[string]building.Building),
		buildingsByLogin:   make(map[string]string),
		buildingsByOwner:   make(map[string]string),
		items:              make(map[string]shop.Item),
		purchases:          make(map[string]shop.Purchase),
		purchasesByRef:     make(map[string]string),
		loadouts:           make(map[string]map[string]loadout.Slot),
		tags:               make(map[string]raid.GraffitiTag),
		achievements:       make(map[string]achievement.Achievement),
		unlocks:            make(map[string]map[string]achievement.Unlock),
		kudos:              make(map[string]social.Kudos),
		kudosByPair:        make(map[string]string),
		referrals:          make(map[string]social.Referral),
		referredIndex:      make(map[string]string),
		billboards:         make(map[string]billboard.Billboard),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, sql.ErrNoRows)
}

func conflict(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, storage.ErrConflict)...)
}

func refKey(provider, ref string) string {
	return provider + "\x00" + ref
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

// DeveloperStore implementation -----------------------------------------------

func (s *Store) CreateDeveloper(_ context.Context, dev developer.Developer) (developer.Developer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dev.ID == "" {
		dev.ID = s.nextIDLocked()
	} else if _, exists := s.developers[dev.ID]; exists {
		return developer.Developer{}, conflict("developer %s already exists", dev.ID)
	}
	if _, exists := s.developersByGitHub[dev.GitHubID]; exists {
		return developer.Developer{}, conflict("github id %d already registered", dev.GitHubID)
	}
	loginKey := strings.ToLower(dev.Login)
	if _, exists := s.developersByLogin[loginKey]; exists {
		return developer.Developer{}, conflict("login %s already registered", dev.Login)
	}
	if dev.ReferralCode != "" {
		if _, exists := s.developersByCode[dev.ReferralCode]; exists {
			return developer.Developer{}, conflict("referral code %s already taken", dev.ReferralCode)
		}
	}

	now := time.Now().UTC()
	dev.CreatedAt = now
	if dev.LastLoginAt.IsZero() {
		dev.LastLoginAt = now
	}

	s.developers[dev.ID] = dev
	s.developersByGitHub[dev.GitHubID] = dev.ID
	s.developersByLogin[loginKey] = dev.ID
	if dev.ReferralCode != "" {
		s.developersByCode[dev.ReferralCode] = dev.ID
	}
	return dev, nil
}

func (s *Store) UpdateDeveloper(_ context.Context, dev developer.Developer) (developer.Developer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.developers[dev.ID]
	if !ok {
		return developer.Developer{}, notFound("developer", dev.ID)
	}

	oldLogin := strings.ToLower(original.Login)
	newLogin := strings.ToLower(dev.Login)
	if oldLogin != newLogin {
		if _, exists := s.developersByLogin[newLogin]; exists {
			return developer.Developer{}, conflict("login %s already registered", dev.Login)
		}
		delete(s.developersByLogin, oldLogin)
		s.developersByLogin[newLogin] = dev.ID
	}

	// Counters move through their dedicated mutators; updates only touch the
	// profile fields.
	dev.CreatedAt = original.CreatedAt
	dev.GitHubID = original.GitHubID
	dev.ReferralCode = original.ReferralCode
	dev.ReferralsCount = original.ReferralsCount
	dev.WeeklyRaids = original.WeeklyRaids
	dev.WeeklyWins = original.WeeklyWins
	dev.TotalWins = original.TotalWins

	s.developers[dev.ID] = dev
	return dev, nil
}

func (s *Store) GetDeveloper(_ context.Context, id string) (developer.Developer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.developers[id]
	if !ok {
		return developer.Developer{}, notFound("developer", id)
	}
	return dev, nil
}

func (s *Store) GetDeveloperByGitHubID(_ context.Context, githubID int64) (developer.Developer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.developersByGitHub[githubID]; ok {
		return s.developers[id], nil
	}
	return developer.Developer{}, notFound("developer for github id", fmt.Sprintf("%d", githubID))
}

func (s *Store) GetDeveloperByLogin(_ context.Context, login string) (developer.Developer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.developersByLogin[strings.ToLower(login)]; ok {
		return s.developers[id], nil
	}
	return developer.Developer{}, notFound("developer", login)
}

func (s *Store) GetDeveloperByReferralCode(_ context.Context, code string) (developer.Developer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.developersByCode[code]; ok {
		return s.developers[id], nil
	}
	return developer.Developer{}, notFound("developer for referral code", code)
}

func (s *Store) IncrementRaidCounters(_ context.Context, developerID string, won bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.developers[developerID]
	if !ok {
		return notFound("developer", developerID)
	}
	dev.WeeklyRaids++
	if won {
		dev.WeeklyWins++
		dev.TotalWins++
	}
	s.developers[developerID] = dev
	return nil
}

func (s *Store) IncrementReferrals(_ context.Context, developerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.developers[developerID]
	if !ok {
		return notFound("developer", developerID)
	}
	dev.ReferralsCount++
	s.developers[developerID] = dev
	return nil
}

func (s *Store) ResetWeeklyCounters(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for id, dev := range s.developers {
		if dev.WeeklyRaids == 0 && dev.WeeklyWins == 0 {
			continue
		}
		dev.WeeklyRaids = 0
		dev.WeeklyWins = 0
		s.developers[id] = dev
		changed++
	}
	return changed, nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess developer.Session) (developer.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	}
	if _, exists := s.sessions[sess.TokenHash]; exists {
		return developer.Session{}, conflict("session token hash already stored")
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	s.sessions[sess.TokenHash] = sess
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(_ context.Context, tokenHash string) (developer.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tokenHash]
	if !ok {
		return developer.Session{}, notFound("session", "token")
	}
	return sess, nil
}

func (s *Store) DeleteSessionByTokenHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[tokenHash]; !ok {
		return notFound("session", "token")
	}
	delete(s.sessions, tokenHash)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

// BuildingStore implementation ------------------------------------------------

func (s *Store) CreateBuilding(_ context.Context, b building.Building) (building.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.buildings[b.ID]; exists {
		return building.Building{}, conflict("building %s already exists", b.ID)
	}
	loginKey := strings.ToLower(b.Login)
	if _, exists := s.buildingsByLogin[loginKey]; exists {
		return building.Building{}, conflict("building for %s already exists", b.Login)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	if b.StatsSyncedAt.IsZero() {
		b.StatsSyncedAt = now
	}

	s.buildings[b.ID] = b
	s.buildingsByLogin[loginKey] = b.ID
	s.buildingCreations = append(s.buildingCreations, b.ID)
	if b.OwnerID != "" {
		s.buildingsByOwner[b.OwnerID] = b.ID
	}
	return b, nil
}

func (s *Store) UpdateBuilding(_ context.Context, b building.Building) (building.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.buildings[b.ID]
	if !ok {
		return building.Building{}, notFound("building", b.ID)
	}

	// Ownership, plot, and kudos have dedicated mutators; updates only touch
	// the profile-derived columns.
	b.CreatedAt = original.CreatedAt
	b.Login = original.Login
	b.OwnerID = original.OwnerID
	b.ClaimedAt = original.ClaimedAt
	b.PlotX = original.PlotX
	b.PlotY = original.PlotY
	b.KudosCount = original.KudosCount

	s.buildings[b.ID] = b
	return b, nil
}

func (s *Store) GetBuilding(_ context.Context, id string) (building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buildings[id]
	if !ok {
		return building.Building{}, notFound("building", id)
	}
	return b, nil
}

func (s *Store) GetBuildingByLogin(_ context.Context, login string) (building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.buildingsByLogin[strings.ToLower(login)]; ok {
		return s.buildings[id], nil
	}
	return building.Building{}, notFound("building", login)
}

func (s *Store) GetBuildingByOwner(_ context.Context, ownerID string) (building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.buildingsByOwner[ownerID]; ok {
		return s.buildings[id], nil
	}
	return building.Building{}, notFound("building for owner", ownerID)
}

func (s *Store) ListBuildings(_ context.Context) ([]building.Building, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]building.Building, 0, len(s.buildings))
	for _, id := range s.buildingCreations {
		if b, ok := s.buildings[id]; ok {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *Store) CountBuildings(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.buildings), nil
}

func (s *Store) ClaimBuilding(_ context.Context, buildingID, ownerID string, now time.Time) (building.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buildings[buildingID]
	if !ok {
		return building.Building{}, notFound("building", buildingID)
	}
	if b.OwnerID != "" {
		return building.Building{}, conflict("building %s already claimed", buildingID)
	}
	if _, exists := s.buildingsByOwner[ownerID]; exists {
		return building.Building{}, conflict("developer %s already owns a building", ownerID)
	}

	claimed := now.UTC()
	b.OwnerID = ownerID
	b.ClaimedAt = &claimed

	s.buildings[buildingID] = b
	s.buildingsByOwner[ownerID] = buildingID
	return b, nil
}

func (s *Store) AdjustKudos(_ context.Context, buildingID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buildings[buildingID]
	if !ok {
		return notFound("building", buildingID)
	}
	b.KudosCount += delta
	if b.KudosCount < 0 {
		b.KudosCount = 0
	}
	s.buildings[buildingID] = b
	return nil
}

// ItemStore implementation ----------------------------------------------------

func (s *Store) UpsertItem(_ context.Context, item shop.Item) (shop.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = s.nextIDLocked()
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *Store) GetItem(_ context.Context, id string) (shop.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return shop.Item{}, notFound("item", id)
	}
	return item, nil
}

func (s *Store) ListItems(_ context.Context, activeOnly bool) ([]shop.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]shop.Item, 0, len(s.items))
	for _, item := range s.items {
		if activeOnly && !item.Active {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// PurchaseStore implementation ------------------------------------------------

func (s *Store) CreatePurchase(_ context.Context, p shop.Purchase) (shop.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.purchases[p.ID]; exists {
		return shop.Purchase{}, conflict("purchase %s already exists", p.ID)
	}
	for _, existing := range s.purchases {
		if existing.DeveloperID != p.DeveloperID || existing.ItemID != p.ItemID {
			continue
		}
		if existing.Status == shop.StatusPending {
			return shop.Purchase{}, conflict("purchase for item %s already pending", p.ItemID)
		}
	}
	if p.ProviderRef != "" {
		if _, exists := s.purchasesByRef[refKey(p.Provider, p.ProviderRef)]; exists {
			return shop.Purchase{}, conflict("provider reference %s already tracked", p.ProviderRef)
		}
	}

	p.CreatedAt = time.Now().UTC()

	s.purchases[p.ID] = p
	if p.ProviderRef != "" {
		s.purchasesByRef[refKey(p.Provider, p.ProviderRef)] = p.ID
	}
	return p, nil
}

func (s *Store) UpdatePurchase(_ context.Context, p shop.Purchase) (shop.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.purchases[p.ID]
	if !ok {
		return shop.Purchase{}, notFound("purchase", p.ID)
	}

	if p.ProviderRef != original.ProviderRef {
		if p.ProviderRef != "" {
			if existing, exists := s.purchasesByRef[refKey(p.Provider, p.ProviderRef)]; exists && existing != p.ID {
				return shop.Purchase{}, conflict("provider reference %s already tracked", p.ProviderRef)
			}
		}
		if original.ProviderRef != "" {
			delete(s.purchasesByRef, refKey(original.Provider, original.ProviderRef))
		}
		if p.ProviderRef != "" {
			s.purchasesByRef[refKey(p.Provider, p.ProviderRef)] = p.ID
		}
	}

	// Status moves through FinalizePurchase and consumption through
	// ConsumePurchase; updates attach provider detail only.
	p.CreatedAt = original.CreatedAt
	p.DeveloperID = original.DeveloperID
	p.ItemID = original.ItemID
	p.Status = original.Status
	p.Consumed = original.Consumed
	p.CompletedAt = original.CompletedAt

	s.purchases[p.ID] = p
	return p, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (shop.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return shop.Purchase{}, notFound("purchase", id)
	}
	return p, nil
}

func (s *Store) GetPurchaseByProviderRef(_ context.Context, provider, ref string) (shop.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.purchasesByRef[refKey(provider, ref)]; ok {
		return s.purchases[id], nil
	}
	return shop.Purchase{}, notFound("purchase for reference", ref)
}

func (s *Store) ListPurchasesByDeveloper(_ context.Context, developerID string) ([]shop.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]shop.Purchase, 0)
	for _, p := range s.purchases {
		if p.DeveloperID == developerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListPendingByProvider(_ context.Context, provider string) ([]shop.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]shop.Purchase, 0)
	for _, p := range s.purchases {
		if p.Provider == provider && p.Status == shop.StatusPending {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) FinalizePurchase(_ context.Context, id, status string, now time.Time) (shop.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return shop.Purchase{}, notFound("purchase", id)
	}
	if p.Status != shop.StatusPending {
		return shop.Purchase{}, conflict("purchase %s already %s", id, p.Status)
	}
	// Mirrors the partial unique index on completed non-stackable purchases.
	if status == shop.StatusCompleted && !p.Stackable {
		for _, existing := range s.purchases {
			if existing.ID != p.ID && existing.DeveloperID == p.DeveloperID &&
				existing.ItemID == p.ItemID && existing.Status == shop.StatusCompleted {
				return shop.Purchase{}, conflict("item %s already owned", p.ItemID)
			}
		}
	}

	p.Status = status
	if status == shop.StatusCompleted {
		completed := now.UTC()
		p.CompletedAt = &completed
	}

	s.purchases[id] = p
	return p, nil
}

func (s *Store) HasCompletedPurchase(_ context.Context, developerID, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.purchases {
		if p.DeveloperID == developerID && p.ItemID == itemID && p.Status == shop.StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountCompletedByDeveloper(_ context.Context, developerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.purchases {
		if p.DeveloperID == developerID && p.Status == shop.StatusCompleted {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteStalePending(_ context.Context, developerID, itemID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, p := range s.purchases {
		if p.DeveloperID == developerID && p.ItemID == itemID && p.Status == shop.StatusPending && p.CreatedAt.Before(cutoff) {
			if p.ProviderRef != "" {
				delete(s.purchasesByRef, refKey(p.Provider, p.ProviderRef))
			}
			delete(s.purchases, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) ExpireStalePending(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for id, p := range s.purchases {
		if p.Status == shop.StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = shop.StatusExpired
			s.purchases[id] = p
			expired++
		}
	}
	return expired, nil
}

func (s *Store) GetUnconsumedPurchase(_ context.Context, developerID, itemID string) (shop.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]shop.Purchase, 0, 1)
	for _, p := range s.purchases {
		if p.DeveloperID == developerID && p.ItemID == itemID && p.Status == shop.StatusCompleted && !p.Consumed {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return shop.Purchase{}, notFound("unconsumed purchase of item", itemID)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	return candidates[0], nil
}

func (s *Store) ConsumePurchase(_ context.Context, purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[purchaseID]
	if !ok {
		return notFound("purchase", purchaseID)
	}
	if p.Consumed {
		return conflict("purchase %s already consumed", purchaseID)
	}
	p.Consumed = true
	s.purchases[purchaseID] = p
	return nil
}

// LoadoutStore implementation -------------------------------------------------

func (s *Store) EquipSlot(_ context.Context, slot loadout.Slot) (loadout.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot.UpdatedAt = time.Now().UTC()
	zones, ok := s.loadouts[slot.DeveloperID]
	if !ok {
		zones = make(map[string]loadout.Slot)
		s.loadouts[slot.DeveloperID] = zones
	}
	zones[slot.Zone] = slot
	return slot, nil
}

func (s *Store) ClearSlot(_ context.Context, developerID, zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zones, ok := s.loadouts[developerID]
	if !ok {
		return notFound("loadout slot", zone)
	}
	if _, ok := zones[zone]; !ok {
		return notFound("loadout slot", zone)
	}
	delete(zones, zone)
	return nil
}

func (s *Store) GetLoadout(_ context.Context, developerID string) ([]loadout.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loadout.Slot, 0)
	for _, slot := range s.loadouts[developerID] {
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Zone < result[j].Zone })
	return result, nil
}

func (s *Store) ListAllSlots(_ context.Context) ([]loadout.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loadout.Slot, 0)
	for _, zones := range s.loadouts {
		for _, slot := range zones {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DeveloperID == result[j].DeveloperID {
			return result[i].Zone < result[j].Zone
		}
		return result[i].DeveloperID < result[j].DeveloperID
	})
	return result, nil
}

// RaidStore implementation ----------------------------------------------------

func (s *Store) CreateRaid(_ context.Context, r raid.Raid) (raid.Raid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.AttackerID == r.DefenderID {
		return raid.Raid{}, fmt.Errorf("raid cannot target its own attacker: %w", storage.ErrConstraint)
	}
	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = time.Now().UTC()

	s.raids = append(s.raids, r)
	return r, nil
}

func (s *Store) ListRaids(_ context.Context, filter storage.RaidFilter) ([]raid.Raid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]raid.Raid, 0)
	for i := len(s.raids) - 1; i >= 0; i-- {
		r := s.raids[i]
		if filter.AttackerID != "" && r.AttackerID != filter.AttackerID {
			continue
		}
		if filter.DefenderID != "" && r.DefenderID != filter.DefenderID {
			continue
		}
		matched = append(matched, r)
	}

	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *Store) UpsertTag(_ context.Context, tag raid.GraffitiTag) (raid.GraffitiTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag.CreatedAt = time.Now().UTC()
	s.tags[tag.BuildingID] = tag
	return tag, nil
}

func (s *Store) GetTag(_ context.Context, buildingID string) (raid.GraffitiTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[buildingID]
	if !ok {
		return raid.GraffitiTag{}, notFound("graffiti tag for building", buildingID)
	}
	return tag, nil
}

func (s *Store) ListActiveTags(_ context.Context, now time.Time) ([]raid.GraffitiTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]raid.GraffitiTag, 0)
	for _, tag := range s.tags {
		if !tag.Expired(now) {
			result = append(result, tag)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BuildingID < result[j].BuildingID })
	return result, nil
}

func (s *Store) DeleteExpiredTags(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, tag := range s.tags {
		if tag.Expired(now) {
			delete(s.tags, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) WeeklyLeaders(_ context.Context, limit int) ([]raid.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]raid.LeaderboardEntry, 0)
	for _, dev := range s.developers {
		if dev.WeeklyWins > 0 {
			result = append(result, raid.LeaderboardEntry{Login: dev.Login, Wins: float64(dev.WeeklyWins)})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Wins == result[j].Wins {
			return result[i].Login < result[j].Login
		}
		return result[i].Wins > result[j].Wins
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AchievementStore implementation ---------------------------------------------

func (s *Store) UpsertAchievement(_ context.Context, a achievement.Achievement) (achievement.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	}
	s.achievements[a.ID] = a
	return a, nil
}

func (s *Store) ListAchievements(_ context.Context) ([]achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]achievement.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListAchievementsByMetric(_ context.Context, metric string) ([]achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]achievement.Achievement, 0)
	for _, a := range s.achievements {
		if a.Metric == metric {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Threshold < result[j].Threshold })
	return result, nil
}

func (s *Store) CreateUnlock(_ context.Context, u achievement.Unlock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlocked, ok := s.unlocks[u.DeveloperID]
	if !ok {
		unlocked = make(map[string]achievement.Unlock)
		s.unlocks[u.DeveloperID] = unlocked
	}
	if _, exists := unlocked[u.AchievementID]; exists {
		return false, nil
	}
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = time.Now().UTC()
	}
	unlocked[u.AchievementID] = u
	return true, nil
}

func (s *Store) ListUnlocks(_ context.Context, developerID string) ([]achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]achievement.Unlock, 0)
	for _, u := range s.unlocks[developerID] {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UnlockedAt.Before(result[j].UnlockedAt) })
	return result, nil
}

// SocialStore implementation --------------------------------------------------

func (s *Store) CreateKudos(_ context.Context, k social.Kudos) (social.Kudos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(k.DeveloperID, k.BuildingID)
	if _, exists := s.kudosByPair[key]; exists {
		return social.Kudos{}, conflict("kudos already given for building %s", k.BuildingID)
	}
	if k.ID == "" {
		k.ID = s.nextIDLocked()
	}
	k.CreatedAt = time.Now().UTC()

	s.kudos[k.ID] = k
	s.kudosByPair[key] = k.ID
	return k, nil
}

func (s *Store) DeleteKudos(_ context.Context, developerID, buildingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(developerID, buildingID)
	id, ok := s.kudosByPair[key]
	if !ok {
		return notFound("kudos for building", buildingID)
	}
	delete(s.kudos, id)
	delete(s.kudosByPair, key)
	return nil
}

func (s *Store) CreateReferral(_ context.Context, r social.Referral) (social.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ReferrerID == r.ReferredID {
		return social.Referral{}, fmt.Errorf("referral cannot reference itself: %w", storage.ErrConstraint)
	}
	if _, exists := s.referredIndex[r.ReferredID]; exists {
		return social.Referral{}, conflict("developer %s already referred", r.ReferredID)
	}
	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = time.Now().UTC()

	s.referrals[r.ID] = r
	s.referredIndex[r.ReferredID] = r.ID
	return r, nil
}

func (s *Store) ListReferralsByReferrer(_ context.Context, referrerID string) ([]social.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]social.Referral, 0)
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// BillboardStore implementation -----------------------------------------------

func (s *Store) CreateBillboard(_ context.Context, b billboard.Billboard) (billboard.Billboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range s.billboards {
		if existing.BuildingID != b.BuildingID || existing.Slot != b.Slot {
			continue
		}
		if existing.Expired(now) {
			delete(s.billboards, id)
			continue
		}
		return billboard.Billboard{}, conflict("slot %d on building %q occupied", b.Slot, b.BuildingID)
	}

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	}
	b.CreatedAt = now

	s.billboards[b.ID] = b
	return b, nil
}

func (s *Store) ListActiveBillboards(_ context.Context, buildingID string, now time.Time) ([]billboard.Billboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billboard.Billboard, 0)
	for _, b := range s.billboards {
		if b.BuildingID == buildingID && !b.Expired(now) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slot < result[j].Slot })
	return result, nil
}

func (s *Store) DeleteBillboard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.billboards[id]; !ok {
		return notFound("billboard", id)
	}
	delete(s.billboards, id)
	return nil
}

func (s *Store) DeleteExpiredBillboards(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, b := range s.billboards {
		if b.Expired(now) {
			delete(s.billboards, id)
			removed++
		}
	}
	return removed, nil
}

// FeedStore implementation ----------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, e feed.Event) (feed.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	e.CreatedAt = time.Now().UTC()
	e.Payload = clonePayload(e.Payload)

	s.events = append(s.events, e)
	return cloneEvent(e), nil
}

func (s *Store) ListEvents(_ context.Context, limit, offset int) ([]feed.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	result := make([]feed.Event, 0)
	for i := len(s.events) - 1 - offset; i >= 0; i-- {
		result = append(result, cloneEvent(s.events[i]))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CountEvents(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events), nil
}

// Helpers ---------------------------------------------------------------------

func clonePayload(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneEvent(e feed.Event) feed.Event {
	e.Payload = clonePayload(e.Payload)
	return e
}
