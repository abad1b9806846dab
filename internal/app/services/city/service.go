// Package city owns the buildings: claiming, the rendered snapshot, stat
// syncs, and the procedural geometry that turns GitHub activity into towers.
package city

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/billboard"
	"github.com/EndlessPixel/git-city/internal/app/domain/building"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/domain/loadout"
	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
	"github.com/EndlessPixel/git-city/internal/app/metrics"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/storage/redis"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Service errors mapped to API statuses by the HTTP layer.
var (
	ErrAlreadyClaimed   = errors.New("building already claimed")
	ErrNotOwner         = errors.New("not the building owner")
	ErrStatsUnavailable = errors.New("github stats unavailable")
)

// StatsSource fetches fresh GitHub stats for a login.
type StatsSource interface {
	UserStats(ctx context.Context, login string) (building.Stats, error)
}

// Unlocker runs achievement checks after state changes.
type Unlocker interface {
	CheckAndUnlock(ctx context.Context, developerID, metric string) ([]achievement.Achievement, error)
}

// Config wires the city service.
type Config struct {
	Buildings  storage.BuildingStore
	Developers storage.DeveloperStore
	Loadouts   storage.LoadoutStore
	Raids      storage.RaidStore
	Billboards storage.BillboardStore
	Feed       storage.FeedStore
	Stats      StatsSource
	Unlocker   Unlocker
	Cache      *redis.Cache
	Logger     *logger.Logger
}

// Service manages buildings and the snapshot.
type Service struct {
	buildings  storage.BuildingStore
	developers storage.DeveloperStore
	loadouts   storage.LoadoutStore
	raids      storage.RaidStore
	billboards storage.BillboardStore
	feed       storage.FeedStore
	stats      StatsSource
	unlocker   Unlocker
	cache      *redis.Cache
	log        *logger.Logger
}

// New creates the city service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("city")
	}
	return &Service{
		buildings:  cfg.Buildings,
		developers: cfg.Developers,
		loadouts:   cfg.Loadouts,
		raids:      cfg.Raids,
		billboards: cfg.Billboards,
		feed:       cfg.Feed,
		stats:      cfg.Stats,
		unlocker:   cfg.Unlocker,
		cache:      cfg.Cache,
		log:        log,
	}
}

// BuildingView is a building dressed for rendering: claim state, equipped
// loadout, and any active graffiti tag.
type BuildingView struct {
	building.Building
	Claimed bool              `json:"claimed"`
	Loadout []loadout.Slot    `json:"loadout,omitempty"`
	Tag     *raid.GraffitiTag `json:"tag,omitempty"`
}

// Snapshot is the full city.
type Snapshot struct {
	Buildings   []BuildingView `json:"buildings"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Detail is one building plus its active billboards.
type Detail struct {
	BuildingView
	Billboards []billboard.Billboard `json:"billboards"`
}

// Claim takes ownership of the building matching the developer's login,
// generating it live from fresh stats when seeding never created it.
func (s *Service) Claim(ctx context.Context, dev developer.Developer) (building.Building, error) {
	b, err := s.buildings.GetBuildingByLogin(ctx, dev.Login)
	if errors.Is(err, sql.ErrNoRows) {
		stats, statsErr := s.fetchStats(ctx, dev.Login)
		if statsErr != nil {
			return building.Building{}, statsErr
		}
		b, err = s.CreateUnclaimed(ctx, dev.Login, stats)
	}
	if err != nil {
		return building.Building{}, fmt.Errorf("locate building for %s: %w", dev.Login, err)
	}

	claimed, err := s.buildings.ClaimBuilding(ctx, b.ID, dev.ID, time.Now().UTC())
	if errors.Is(err, storage.ErrConflict) {
		return building.Building{}, fmt.Errorf("building %s: %w", dev.Login, ErrAlreadyClaimed)
	}
	if err != nil {
		return building.Building{}, fmt.Errorf("claim building %s: %w", dev.Login, err)
	}

	s.appendEvent(ctx, dev.ID, feed.KindBuildingClaimed, map[string]interface{}{
		"login": dev.Login,
	})
	s.checkAchievements(ctx, dev.ID, achievement.MetricClaim)
	s.InvalidateSnapshot(ctx)
	s.log.Infof("%s claimed their building", dev.Login)
	return claimed, nil
}

// Snapshot assembles the city, preferring the cache.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if !s.cache.Enabled() {
		metrics.RecordSnapshotCache("bypass")
		return s.buildSnapshot(ctx)
	}

	if data, ok := s.cache.GetSnapshot(ctx); ok {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			metrics.RecordSnapshotCache("hit")
			return snap, nil
		}
		// A corrupt entry falls through to a rebuild.
		_ = s.cache.Invalidate(ctx)
	}
	metrics.RecordSnapshotCache("miss")

	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if data, err := json.Marshal(snap); err == nil {
		if err := s.cache.SetSnapshot(ctx, data); err != nil {
			s.log.WithError(err).Warn("cache snapshot failed")
		}
	}
	return snap, nil
}

// Detail returns one building with loadout, tag, and billboards.
func (s *Service) Detail(ctx context.Context, login string) (Detail, error) {
	b, err := s.buildings.GetBuildingByLogin(ctx, login)
	if err != nil {
		return Detail{}, err
	}

	view := BuildingView{Building: b, Claimed: b.Claimed()}
	if b.Claimed() {
		slots, err := s.loadouts.GetLoadout(ctx, b.OwnerID)
		if err != nil {
			return Detail{}, fmt.Errorf("load loadout: %w", err)
		}
		view.Loadout = slots
	}

	now := time.Now().UTC()
	tag, err := s.raids.GetTag(ctx, b.ID)
	if err == nil && !tag.Expired(now) {
		view.Tag = &tag
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Detail{}, fmt.Errorf("load tag: %w", err)
	}

	boards, err := s.billboards.ListActiveBillboards(ctx, b.ID, now)
	if err != nil {
		return Detail{}, fmt.Errorf("load billboards: %w", err)
	}

	return Detail{BuildingView: view, Billboards: boards}, nil
}

// SyncStats refreshes a building's stats from GitHub. Owner only.
func (s *Service) SyncStats(ctx context.Context, login, requesterID string) (building.Building, error) {
	b, err := s.buildings.GetBuildingByLogin(ctx, login)
	if err != nil {
		return building.Building{}, err
	}
	if b.OwnerID != requesterID {
		return building.Building{}, fmt.Errorf("building %s: %w", login, ErrNotOwner)
	}

	started := time.Now()
	stats, err := s.fetchStats(ctx, login)
	if err != nil {
		metrics.RecordGitHubSync("error", time.Since(started))
		return building.Building{}, err
	}

	updated, err := s.applyStats(ctx, b, stats)
	if err != nil {
		metrics.RecordGitHubSync("error", time.Since(started))
		return building.Building{}, err
	}
	metrics.RecordGitHubSync("ok", time.Since(started))

	s.InvalidateSnapshot(ctx)
	s.checkAchievements(ctx, requesterID, achievement.MetricStars)
	s.log.Infof("synced stats for %s: %d stars, %d commits", login, stats.Stars, stats.Commits)
	return updated, nil
}

// CreateUnclaimed inserts a building with no owner, placing it on the next
// spiral plot. Used by seeding and by claim-before-seed.
func (s *Service) CreateUnclaimed(ctx context.Context, login string, stats building.Stats) (building.Building, error) {
	ordinal, err := s.buildings.CountBuildings(ctx)
	if err != nil {
		return building.Building{}, fmt.Errorf("count buildings: %w", err)
	}

	width, depth, height := building.Dimensions(stats)
	plotX, plotY := building.Plot(ordinal)
	now := time.Now().UTC()

	b, err := s.buildings.CreateBuilding(ctx, building.Building{
		Login:         login,
		Stars:         stats.Stars,
		Followers:     stats.Followers,
		PublicRepos:   stats.PublicRepos,
		Commits:       stats.Commits,
		Width:         width,
		Depth:         depth,
		Height:        height,
		PlotX:         plotX,
		PlotY:         plotY,
		StatsSyncedAt: now,
	})
	if err != nil {
		return building.Building{}, err
	}
	s.InvalidateSnapshot(ctx)
	return b, nil
}

// RefreshAll re-syncs stats for every building. Used by the admin reseed;
// errors on individual buildings are logged and skipped.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	if s.stats == nil {
		return 0, ErrStatsUnavailable
	}

	buildings, err := s.buildings.ListBuildings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list buildings: %w", err)
	}

	refreshed := 0
	for _, b := range buildings {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		stats, err := s.stats.UserStats(ctx, b.Login)
		if err != nil {
			s.log.WithError(err).Warnf("refresh %s failed", b.Login)
			continue
		}
		if _, err := s.applyStats(ctx, b, stats); err != nil {
			s.log.WithError(err).Warnf("store refreshed stats for %s failed", b.Login)
			continue
		}
		refreshed++
	}

	s.InvalidateSnapshot(ctx)
	s.log.Infof("refreshed stats for %d of %d buildings", refreshed, len(buildings))
	return refreshed, nil
}

// InvalidateSnapshot drops the cached snapshot. Other services call this
// through a narrow interface when their writes change what the city shows.
func (s *Service) InvalidateSnapshot(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.WithError(err).Warn("invalidate snapshot failed")
	}
}

func (s *Service) buildSnapshot(ctx context.Context) (Snapshot, error) {
	buildings, err := s.buildings.ListBuildings(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list buildings: %w", err)
	}

	slots, err := s.loadouts.ListAllSlots(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list loadouts: %w", err)
	}
	loadoutsByOwner := make(map[string][]loadout.Slot)
	for _, slot := range slots {
		loadoutsByOwner[slot.DeveloperID] = append(loadoutsByOwner[slot.DeveloperID], slot)
	}

	now := time.Now().UTC()
	tags, err := s.raids.ListActiveTags(ctx, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list tags: %w", err)
	}
	tagsByBuilding := make(map[string]raid.GraffitiTag, len(tags))
	for _, tag := range tags {
		tagsByBuilding[tag.BuildingID] = tag
	}

	views := make([]BuildingView, 0, len(buildings))
	claimed := 0
	for _, b := range buildings {
		view := BuildingView{Building: b, Claimed: b.Claimed()}
		if b.Claimed() {
			claimed++
			view.Loadout = loadoutsByOwner[b.OwnerID]
		}
		if tag, ok := tagsByBuilding[b.ID]; ok {
			view.Tag = &tag
		}
		views = append(views, view)
	}

	metrics.SetBuildingCounts(len(buildings), claimed)
	return Snapshot{Buildings: views, GeneratedAt: now}, nil
}

func (s *Service) applyStats(ctx context.Context, b building.Building, stats building.Stats) (building.Building, error) {
	b.Stars = stats.Stars
	b.Followers = stats.Followers
	b.PublicRepos = stats.PublicRepos
	b.Commits = stats.Commits
	b.Width, b.Depth, b.Height = building.Dimensions(stats)
	b.StatsSyncedAt = time.Now().UTC()
	return s.buildings.UpdateBuilding(ctx, b)
}

func (s *Service) fetchStats(ctx context.Context, login string) (building.Stats, error) {
	if s.stats == nil {
		s.log.Warnf("no stats source configured; %s gets a bare building", login)
		return building.Stats{}, nil
	}
	stats, err := s.stats.UserStats(ctx, login)
	if err != nil {
		return building.Stats{}, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}
	return stats, nil
}

func (s *Service) checkAchievements(ctx context.Context, developerID, metric string) {
	if s.unlocker == nil {
		return
	}
	if _, err := s.unlocker.CheckAndUnlock(ctx, developerID, metric); err != nil {
		s.log.WithError(err).Warnf("achievement check %s failed", metric)
	}
}

func (s *Service) appendEvent(ctx context.Context, developerID, kind string, payload map[string]interface{}) {
	if s.feed == nil {
		return
	}
	if _, err := s.feed.AppendEvent(ctx, feed.Event{
		DeveloperID: developerID,
		Kind:        kind,
		Payload:     payload,
	}); err != nil {
		s.log.WithError(err).Warnf("append %s event failed", kind)
	}
}
