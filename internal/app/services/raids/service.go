// Package raids resolves PvP attacks between buildings: dice plus small
// bonuses from loadouts, weekly momentum, and building height. Winners tag
// the loser's building with graffiti.
package raids

import (
	"context"
	crand "crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/metrics"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/storage/redis"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Scoring knobs. The weekly-wins streak bonus is capped so a dominant raider
// cannot snowball past the dice.
const (
	DieSides       = 20
	MaxStreakBonus = 5
	HeightBonus    = 2
	DefaultTagTTL  = 24 * time.Hour
)

var (
	ErrSelfRaid          = errors.New("cannot raid your own building")
	ErrUnclaimedDefender = errors.New("defender building is unclaimed")
	ErrBadEmblem         = errors.New("unknown graffiti emblem")
)

// Roller produces die rolls in [1, sides].
type Roller interface {
	Roll(sides int) int
}

// CryptoRoller is the production roller: math/rand sequences seeded from
// crypto/rand, safe for concurrent use.
type CryptoRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewCryptoRoller() *CryptoRoller {
	var seed int64
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	} else {
		seed = time.Now().UnixNano()
	}
	return &CryptoRoller{rng: rand.New(rand.NewSource(seed))}
}

func (r *CryptoRoller) Roll(sides int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1
}

// SnapshotInvalidator drops the cached city snapshot after a visible change.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context)
}

// Unlocker runs achievement checks after state changes.
type Unlocker interface {
	CheckAndUnlock(ctx context.Context, developerID, metric string) ([]achievement.Achievement, error)
}

// Config wires the raid service.
type Config struct {
	Raids       storage.RaidStore
	Developers  storage.DeveloperStore
	Buildings   storage.BuildingStore
	Loadouts    storage.LoadoutStore
	Items       storage.ItemStore
	Feed        storage.FeedStore
	Leaderboard *redis.Leaderboard
	Snapshots   SnapshotInvalidator
	Unlocker    Unlocker
	Roller      Roller
	TagTTL      time.Duration
	Logger      *logger.Logger
}

// Service resolves raids.
type Service struct {
	raids       storage.RaidStore
	developers  storage.DeveloperStore
	buildings   storage.BuildingStore
	loadouts    storage.LoadoutStore
	items       storage.ItemStore
	feed        storage.FeedStore
	leaderboard *redis.Leaderboard
	snapshots   SnapshotInvalidator
	unlocker    Unlocker
	roller      Roller
	tagTTL      time.Duration
	log         *logger.Logger
}

// New creates the raid service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("raids")
	}
	roller := cfg.Roller
	if roller == nil {
		roller = NewCryptoRoller()
	}
	ttl := cfg.TagTTL
	if ttl <= 0 {
		ttl = DefaultTagTTL
	}
	return &Service{
		raids:       cfg.Raids,
		developers:  cfg.Developers,
		buildings:   cfg.Buildings,
		loadouts:    cfg.Loadouts,
		items:       cfg.Items,
		feed:        cfg.Feed,
		leaderboard: cfg.Leaderboard,
		snapshots:   cfg.Snapshots,
		unlocker:    cfg.Unlocker,
		roller:      roller,
		tagTTL:      ttl,
		log:         log,
	}
}

// Outcome is a resolved raid with the context the client renders.
type Outcome struct {
	raid.Raid
	DefenderLogin string            `json:"defender_login"`
	Tag           *raid.GraffitiTag `json:"tag,omitempty"`
}

// Launch resolves an attack against the named building.
func (s *Service) Launch(ctx context.Context, attackerID, defenderLogin, emblem string) (Outcome, error) {
	if !raid.ValidEmblem(emblem) {
		return Outcome{}, fmt.Errorf("emblem %q: %w", emblem, ErrBadEmblem)
	}

	defenderBuilding, err := s.buildings.GetBuildingByLogin(ctx, defenderLogin)
	if err != nil {
		return Outcome{}, err
	}
	if !defenderBuilding.Claimed() {
		return Outcome{}, fmt.Errorf("building %s: %w", defenderLogin, ErrUnclaimedDefender)
	}
	if defenderBuilding.OwnerID == attackerID {
		return Outcome{}, fmt.Errorf("building %s: %w", defenderLogin, ErrSelfRaid)
	}

	attacker, err := s.developers.GetDeveloper(ctx, attackerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load attacker: %w", err)
	}

	var attackerHeight float64
	if ab, err := s.buildings.GetBuildingByOwner(ctx, attackerID); err == nil {
		attackerHeight = ab.Height
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, fmt.Errorf("load attacker building: %w", err)
	}

	attackBonus, err := s.attackBonus(ctx, attackerID)
	if err != nil {
		return Outcome{}, err
	}
	defenseBonus, err := s.defenseBonus(ctx, defenderBuilding.OwnerID)
	if err != nil {
		return Outcome{}, err
	}

	attackScore := s.roller.Roll(DieSides) + attackBonus + streakBonus(attacker) + heightBonus(attackerHeight, defenderBuilding.Height)
	defenseScore := s.roller.Roll(DieSides) + defenseBonus
	success := attackScore > defenseScore

	created, err := s.raids.CreateRaid(ctx, raid.Raid{
		AttackerID:   attackerID,
		DefenderID:   defenderBuilding.OwnerID,
		AttackScore:  attackScore,
		DefenseScore: defenseScore,
		Success:      success,
	})
	if errors.Is(err, storage.ErrConstraint) {
		return Outcome{}, fmt.Errorf("building %s: %w", defenderLogin, ErrSelfRaid)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("record raid: %w", err)
	}

	if err := s.developers.IncrementRaidCounters(ctx, attackerID, success); err != nil {
		s.log.WithError(err).Warn("increment raid counters failed")
	}

	outcome := Outcome{Raid: created, DefenderLogin: defenderLogin}
	if success {
		tag, err := s.raids.UpsertTag(ctx, raid.GraffitiTag{
			BuildingID:    defenderBuilding.ID,
			RaidID:        created.ID,
			AttackerLogin: attacker.Login,
			Emblem:        emblem,
			ExpiresAt:     time.Now().UTC().Add(s.tagTTL),
		})
		if err != nil {
			s.log.WithError(err).Warn("upsert graffiti tag failed")
		} else {
			outcome.Tag = &tag
		}
		s.recordWin(ctx, attacker.Login)
		s.checkAchievements(ctx, attackerID)
		s.invalidate(ctx)
	}

	metrics.RecordRaid(success)
	s.appendEvent(ctx, attackerID, feed.KindRaid, map[string]interface{}{
		"attacker":      attacker.Login,
		"defender":      defenderLogin,
		"success":       success,
		"attack_score":  attackScore,
		"defense_score": defenseScore,
	})
	s.log.Infof("%s raided %s: %d vs %d (success=%t)", attacker.Login, defenderLogin, attackScore, defenseScore, success)
	return outcome, nil
}

// History lists raids, optionally narrowed to an attacker or defender login.
// Unknown logins yield an empty history rather than an error.
func (s *Service) History(ctx context.Context, attackerLogin, defenderLogin string, limit, offset int) ([]raid.Raid, error) {
	filter := storage.RaidFilter{Limit: limit, Offset: offset}

	if attackerLogin != "" {
		dev, err := s.developers.GetDeveloperByLogin(ctx, attackerLogin)
		if errors.Is(err, sql.ErrNoRows) {
			return []raid.Raid{}, nil
		}
		if err != nil {
			return nil, err
		}
		filter.AttackerID = dev.ID
	}
	if defenderLogin != "" {
		dev, err := s.developers.GetDeveloperByLogin(ctx, defenderLogin)
		if errors.Is(err, sql.ErrNoRows) {
			return []raid.Raid{}, nil
		}
		if err != nil {
			return nil, err
		}
		filter.DefenderID = dev.ID
	}

	return s.raids.ListRaids(ctx, filter)
}

// Leaderboard returns this week's raiders, from Redis when available and the
// database otherwise.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]raid.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.leaderboard.Enabled() {
		entries, err := s.leaderboard.Top(ctx, limit)
		if err == nil {
			return entries, nil
		}
		s.log.WithError(err).Warn("redis leaderboard failed; using database")
	}
	return s.raids.WeeklyLeaders(ctx, limit)
}

// WeeklyReset zeroes weekly raid counters; the maintenance scheduler runs it
// every Monday at midnight UTC.
func (s *Service) WeeklyReset(ctx context.Context) (int64, error) {
	n, err := s.developers.ResetWeeklyCounters(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset weekly counters: %w", err)
	}
	s.appendEvent(ctx, "", feed.KindWeeklyReset, map[string]interface{}{
		"developers_reset": n,
	})
	s.log.Infof("weekly reset: %d developers zeroed", n)
	return n, nil
}

// attackBonus sums attack bonuses over the attacker's equipped items.
func (s *Service) attackBonus(ctx context.Context, developerID string) (int, error) {
	slots, err := s.loadouts.GetLoadout(ctx, developerID)
	if err != nil {
		return 0, fmt.Errorf("load attacker loadout: %w", err)
	}
	total := 0
	for _, slot := range slots {
		item, err := s.items.GetItem(ctx, slot.ItemID)
		if err != nil {
			continue
		}
		total += item.AttackBonus
	}
	return total, nil
}

// defenseBonus sums defense bonuses over the defender's equipped items, with
// the roof slot counting twice: the roof is the defensive zone.
func (s *Service) defenseBonus(ctx context.Context, developerID string) (int, error) {
	slots, err := s.loadouts.GetLoadout(ctx, developerID)
	if err != nil {
		return 0, fmt.Errorf("load defender loadout: %w", err)
	}
	total := 0
	for _, slot := range slots {
		item, err := s.items.GetItem(ctx, slot.ItemID)
		if err != nil {
			continue
		}
		total += item.DefenseBonus
		if slot.Zone == shop.ZoneRoof {
			total += item.DefenseBonus
		}
	}
	return total, nil
}

func streakBonus(dev developer.Developer) int {
	if dev.WeeklyWins > MaxStreakBonus {
		return MaxStreakBonus
	}
	return dev.WeeklyWins
}

func heightBonus(attacker, defender float64) int {
	if attacker > defender {
		return HeightBonus
	}
	return 0
}

func (s *Service) recordWin(ctx context.Context, login string) {
	if !s.leaderboard.Enabled() {
		return
	}
	if err := s.leaderboard.RecordWin(ctx, login); err != nil {
		s.log.WithError(err).Warn("record leaderboard win failed")
	}
}

func (s *Service) checkAchievements(ctx context.Context, developerID string) {
	if s.unlocker == nil {
		return
	}
	if _, err := s.unlocker.CheckAndUnlock(ctx, developerID, achievement.MetricWins); err != nil {
		s.log.WithError(err).Warn("wins achievement check failed")
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.snapshots != nil {
		s.snapshots.InvalidateSnapshot(ctx)
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
