package storage

import (
	"context"
	"errors"
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
)

// Missing rows are reported as sql.ErrNoRows by every implementation.
// Constraint outcomes get their own sentinels so services can translate them
// into API statuses without knowing the backend.
var (
	// ErrConflict reports a unique-index violation: duplicate completed
	// purchase, second claim, duplicate kudos, occupied billboard slot.
	ErrConflict = errors.New("storage: conflict with existing row")
	// ErrConstraint reports a check-constraint violation, e.g. a raid
	// targeting its own attacker.
	ErrConstraint = errors.New("storage: constraint violated")
)

// DeveloperStore persists developers and their counters.
type DeveloperStore interface {
	CreateDeveloper(ctx context.Context, dev developer.Developer) (developer.Developer, error)
	UpdateDeveloper(ctx context.Context, dev developer.Developer) (developer.Developer, error)
	GetDeveloper(ctx context.Context, id string) (developer.Developer, error)
	GetDeveloperByGitHubID(ctx context.Context, githubID int64) (developer.Developer, error)
	GetDeveloperByLogin(ctx context.Context, login string) (developer.Developer, error)
	GetDeveloperByReferralCode(ctx context.Context, code string) (developer.Developer, error)

	// IncrementRaidCounters bumps weekly_raids and, when won, weekly and
	// total wins atomically.
	IncrementRaidCounters(ctx context.Context, developerID string, won bool) error
	IncrementReferrals(ctx context.Context, developerID string) error
	// ResetWeeklyCounters zeroes every developer's weekly raid counters and
	// reports how many rows changed.
	ResetWeeklyCounters(ctx context.Context) (int64, error)
}

// SessionStore persists login sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s developer.Session) (developer.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (developer.Session, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// BuildingStore persists buildings.
type BuildingStore interface {
	CreateBuilding(ctx context.Context, b building.Building) (building.Building, error)
	UpdateBuilding(ctx context.Context, b building.Building) (building.Building, error)
	GetBuilding(ctx context.Context, id string) (building.Building, error)
	GetBuildingByLogin(ctx context.Context, login string) (building.Building, error)
	GetBuildingByOwner(ctx context.Context, ownerID string) (building.Building, error)
	ListBuildings(ctx context.Context) ([]building.Building, error)
	CountBuildings(ctx context.Context) (int, error)

	// ClaimBuilding sets the owner only when the building is still unowned;
	// a claimed building yields ErrConflict.
	ClaimBuilding(ctx context.Context, buildingID, ownerID string, now time.Time) (building.Building, error)
	AdjustKudos(ctx context.Context, buildingID string, delta int) error
}

// ItemStore persists the cosmetic item catalog.
type ItemStore interface {
	UpsertItem(ctx context.Context, item shop.Item) (shop.Item, error)
	GetItem(ctx context.Context, id string) (shop.Item, error)
	ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error)
}

// PurchaseStore persists payment attempts and completions.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, p shop.Purchase) (shop.Purchase, error)
	UpdatePurchase(ctx context.Context, p shop.Purchase) (shop.Purchase, error)
	GetPurchase(ctx context.Context, id string) (shop.Purchase, error)
	GetPurchaseByProviderRef(ctx context.Context, provider, ref string) (shop.Purchase, error)
	ListPurchasesByDeveloper(ctx context.Context, developerID string) ([]shop.Purchase, error)
	ListPendingByProvider(ctx context.Context, provider string) ([]shop.Purchase, error)

	// FinalizePurchase moves a pending purchase to its terminal status. The
	// partial unique index makes a duplicate completed non-stackable
	// purchase surface as ErrConflict.
	FinalizePurchase(ctx context.Context, id, status string, now time.Time) (shop.Purchase, error)
	HasCompletedPurchase(ctx context.Context, developerID, itemID string) (bool, error)
	CountCompletedByDeveloper(ctx context.Context, developerID string) (int, error)
	// DeleteStalePending removes a pending purchase for the pair when it is
	// older than cutoff, freeing the slot for a retry.
	DeleteStalePending(ctx context.Context, developerID, itemID string, cutoff time.Time) (int64, error)
	// ExpireStalePending marks all pending purchases older than cutoff as
	// expired.
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error)
	// GetUnconsumedPurchase returns a completed, unconsumed purchase of the
	// item for the developer.
	GetUnconsumedPurchase(ctx context.Context, developerID, itemID string) (shop.Purchase, error)
	// ConsumePurchase flips consumed exactly once; a raced second consume
	// yields ErrConflict.
	ConsumePurchase(ctx context.Context, purchaseID string) error
}

// LoadoutStore persists equipped items per zone.
type LoadoutStore interface {
	EquipSlot(ctx context.Context, slot loadout.Slot) (loadout.Slot, error)
	ClearSlot(ctx context.Context, developerID, zone string) error
	GetLoadout(ctx context.Context, developerID string) ([]loadout.Slot, error)
	ListAllSlots(ctx context.Context) ([]loadout.Slot, error)
}

// RaidStore persists raids, graffiti tags, and the weekly aggregate.
type RaidStore interface {
	CreateRaid(ctx context.Context, r raid.Raid) (raid.Raid, error)
	ListRaids(ctx context.Context, filter RaidFilter) ([]raid.Raid, error)

	UpsertTag(ctx context.Context, tag raid.GraffitiTag) (raid.GraffitiTag, error)
	GetTag(ctx context.Context, buildingID string) (raid.GraffitiTag, error)
	ListActiveTags(ctx context.Context, now time.Time) ([]raid.GraffitiTag, error)
	DeleteExpiredTags(ctx context.Context, now time.Time) (int64, error)

	// WeeklyLeaders is the database fallback for the Redis leaderboard.
	WeeklyLeaders(ctx context.Context, limit int) ([]raid.LeaderboardEntry, error)
}

// RaidFilter narrows raid history queries.
type RaidFilter struct {
	AttackerID string
	DefenderID string
	Limit      int
	Offset     int
}

// AchievementStore persists achievement definitions and unlocks.
type AchievementStore interface {
	UpsertAchievement(ctx context.Context, a achievement.Achievement) (achievement.Achievement, error)
	ListAchievements(ctx context.Context) ([]achievement.Achievement, error)
	ListAchievementsByMetric(ctx context.Context, metric string) ([]achievement.Achievement, error)

	// CreateUnlock inserts the unlock and reports whether it was new; an
	// existing unlock is a silent no-op.
	CreateUnlock(ctx context.Context, u achievement.Unlock) (bool, error)
	ListUnlocks(ctx context.Context, developerID string) ([]achievement.Unlock, error)
}

// SocialStore persists kudos and referrals.
type SocialStore interface {
	CreateKudos(ctx context.Context, k social.Kudos) (social.Kudos, error)
	DeleteKudos(ctx context.Context, developerID, buildingID string) error

	CreateReferral(ctx context.Context, r social.Referral) (social.Referral, error)
	ListReferralsByReferrer(ctx context.Context, referrerID string) ([]social.Referral, error)
}

// BillboardStore persists advertising placements.
type BillboardStore interface {
	CreateBillboard(ctx context.Context, b billboard.Billboard) (billboard.Billboard, error)
	// ListActiveBillboards lists unexpired placements for a building, or the
	// sky when buildingID is empty.
	ListActiveBillboards(ctx context.Context, buildingID string, now time.Time) ([]billboard.Billboard, error)
	DeleteBillboard(ctx context.Context, id string) error
	DeleteExpiredBillboards(ctx context.Context, now time.Time) (int64, error)
}

// FeedStore persists the public activity feed.
type FeedStore interface {
	AppendEvent(ctx context.Context, e feed.Event) (feed.Event, error)
	ListEvents(ctx context.Context, limit, offset int) ([]feed.Event, error)
	CountEvents(ctx context.Context) (int, error)
}
