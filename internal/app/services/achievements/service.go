// Package achievements evaluates achievement definitions against developer
// progress. Unlock checks run after the actions that move the underlying
// numbers, and the unique unlock row keeps re-checks idempotent.
package achievements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/metrics"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Service evaluates and records achievement unlocks.
type Service struct {
	achievements storage.AchievementStore
	developers   storage.DeveloperStore
	buildings    storage.BuildingStore
	purchases    storage.PurchaseStore
	feed         storage.FeedStore
	log          *logger.Logger
}

// New creates the achievements service.
func New(achievements storage.AchievementStore, developers storage.DeveloperStore, buildings storage.BuildingStore, purchases storage.PurchaseStore, feed storage.FeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("achievements")
	}
	return &Service{
		achievements: achievements,
		developers:   developers,
		buildings:    buildings,
		purchases:    purchases,
		feed:         feed,
		log:          log,
	}
}

// Definitions lists the achievement catalog.
func (s *Service) Definitions(ctx context.Context) ([]achievement.Achievement, error) {
	return s.achievements.ListAchievements(ctx)
}

// Unlocked is an unlock joined with its definition.
type Unlocked struct {
	achievement.Achievement
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Unlocked lists a developer's unlocks, oldest first.
func (s *Service) Unlocked(ctx context.Context, developerID string) ([]Unlocked, error) {
	unlocks, err := s.achievements.ListUnlocks(ctx, developerID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defs, err := s.achievements.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}

	byID := make(map[string]achievement.Achievement, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}

	result := make([]Unlocked, 0, len(unlocks))
	for _, u := range unlocks {
		def, ok := byID[u.AchievementID]
		if !ok {
			// Definition removed after the unlock; the unlock still counts.
			def = achievement.Achievement{ID: u.AchievementID, Name: u.AchievementID}
		}
		result = append(result, Unlocked{Achievement: def, UnlockedAt: u.UnlockedAt})
	}
	return result, nil
}

// CheckAndUnlock evaluates every definition on the metric against the
// developer's current value and unlocks those whose threshold is reached.
// Only newly unlocked achievements are returned; already-held ones no-op.
func (s *Service) CheckAndUnlock(ctx context.Context, developerID, metric string) ([]achievement.Achievement, error) {
	if !achievement.ValidMetric(metric) {
		return nil, fmt.Errorf("unknown achievement metric %q", metric)
	}

	defs, err := s.achievements.ListAchievementsByMetric(ctx, metric)
	if err != nil {
		return nil, fmt.Errorf("list achievements for %s: %w", metric, err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	dev, err := s.developers.GetDeveloper(ctx, developerID)
	if err != nil {
		return nil, fmt.Errorf("get developer: %w", err)
	}

	value, err := s.metricValue(ctx, dev, metric)
	if err != nil {
		return nil, fmt.Errorf("measure %s: %w", metric, err)
	}

	var newly []achievement.Achievement
	now := time.Now().UTC()
	for _, def := range defs {
		if value < def.Threshold {
			continue
		}
		fresh, err := s.achievements.CreateUnlock(ctx, achievement.Unlock{
			DeveloperID:   dev.ID,
			AchievementID: def.ID,
			UnlockedAt:    now,
		})
		if err != nil {
			s.log.WithError(err).Warnf("record unlock %s for %s failed", def.ID, dev.Login)
			continue
		}
		if !fresh {
			continue
		}

		newly = append(newly, def)
		metrics.RecordAchievementUnlock(metric)
		s.appendEvent(ctx, dev.ID, map[string]interface{}{
			"login":          dev.Login,
			"achievement_id": def.ID,
			"name":           def.Name,
		})
		s.log.Infof("%s unlocked %s", dev.Login, def.ID)
	}
	return newly, nil
}

// metricValue reads the developer's current value for a metric. Developers
// without a building measure zero on building-backed metrics.
func (s *Service) metricValue(ctx context.Context, dev developer.Developer, metric string) (int, error) {
	switch metric {
	case achievement.MetricWins:
		return dev.TotalWins, nil
	case achievement.MetricReferrals:
		return dev.ReferralsCount, nil
	case achievement.MetricPurchases:
		return s.purchases.CountCompletedByDeveloper(ctx, dev.ID)
	}

	b, err := s.buildings.GetBuildingByOwner(ctx, dev.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	switch metric {
	case achievement.MetricClaim:
		return 1, nil
	case achievement.MetricStars:
		return b.Stars, nil
	case achievement.MetricKudos:
		return b.KudosCount, nil
	}
	return 0, fmt.Errorf("unhandled metric %q", metric)
}

func (s *Service) appendEvent(ctx context.Context, developerID string, payload map[string]interface{}) {
	if s.feed == nil {
		return
	}
	_, err := s.feed.AppendEvent(ctx, feed.Event{
		DeveloperID: developerID,
		Kind:        feed.KindAchievementUnlocked,
		Payload:     payload,
	})
	if err != nil {
		s.log.WithError(err).Warn("append achievement event failed")
	}
}

// EnsureDefaults upserts the built-in achievement catalog. Safe to run on
// every boot; existing rows are overwritten with the current definitions.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	for _, def := range DefaultDefinitions() {
		if _, err := s.achievements.UpsertAchievement(ctx, def); err != nil {
			return fmt.Errorf("upsert achievement %s: %w", def.ID, err)
		}
	}
	return nil
}

// DefaultDefinitions is the built-in achievement catalog.
func DefaultDefinitions() []achievement.Achievement {
	return []achievement.Achievement{
		{ID: "keys-to-the-city", Name: "Keys to the City", Description: "Claim your building.", Metric: achievement.MetricClaim, Threshold: 1, Tier: 1},

		{ID: "rising-star", Name: "Rising Star", Description: "Collect 10 stars across your repositories.", Metric: achievement.MetricStars, Threshold: 10, Tier: 1},
		{ID: "constellation", Name: "Constellation", Description: "Collect 100 stars across your repositories.", Metric: achievement.MetricStars, Threshold: 100, Tier: 2},
		{ID: "supernova", Name: "Supernova", Description: "Collect 1000 stars across your repositories.", Metric: achievement.MetricStars, Threshold: 1000, Tier: 3},

		{ID: "tagger", Name: "Tagger", Description: "Win your first raid.", Metric: achievement.MetricWins, Threshold: 1, Tier: 1},
		{ID: "serial-raider", Name: "Serial Raider", Description: "Win 10 raids.", Metric: achievement.MetricWins, Threshold: 10, Tier: 2},
		{ID: "city-menace", Name: "City Menace", Description: "Win 50 raids.", Metric: achievement.MetricWins, Threshold: 50, Tier: 3},

		{ID: "crowd-favorite", Name: "Crowd Favorite", Description: "Receive kudos from 10 developers.", Metric: achievement.MetricKudos, Threshold: 10, Tier: 1},
		{ID: "beloved-landmark", Name: "Beloved Landmark", Description: "Receive kudos from 100 developers.", Metric: achievement.MetricKudos, Threshold: 100, Tier: 2},

		{ID: "recruiter", Name: "Recruiter", Description: "Refer a developer to the city.", Metric: achievement.MetricReferrals, Threshold: 1, Tier: 1},
		{ID: "pied-piper", Name: "Pied Piper", Description: "Refer 10 developers to the city.", Metric: achievement.MetricReferrals, Threshold: 10, Tier: 2},

		{ID: "patron", Name: "Patron", Description: "Complete your first purchase.", Metric: achievement.MetricPurchases, Threshold: 1, Tier: 1},
		{ID: "big-spender", Name: "Big Spender", Description: "Complete 10 purchases.", Metric: achievement.MetricPurchases, Threshold: 10, Tier: 2},
	}
}
