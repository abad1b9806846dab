package raids

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/building"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	feedDomain "github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/domain/loadout"
	"github.com/EndlessPixel/git-city/internal/app/domain/raid"
	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
)

// fixedRoller replays a scripted sequence of rolls.
type fixedRoller struct {
	rolls []int
	i     int
}

func (r *fixedRoller) Roll(int) int {
	if r.i >= len(r.rolls) {
		return 1
	}
	v := r.rolls[r.i]
	r.i++
	return v
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateSnapshot(context.Context) { c.calls++ }

type recordingUnlocker struct{ metrics []string }

func (u *recordingUnlocker) CheckAndUnlock(_ context.Context, _, metric string) ([]achievement.Achievement, error) {
	u.metrics = append(u.metrics, metric)
	return nil, nil
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	inv      *countingInvalidator
	unlocker *recordingUnlocker
	roller   *fixedRoller
}

func newFixture(t *testing.T, rolls ...int) *fixture {
	t.Helper()
	store := memory.New()
	inv := &countingInvalidator{}
	unlocker := &recordingUnlocker{}
	roller := &fixedRoller{rolls: rolls}
	svc := New(Config{
		Raids:      store,
		Developers: store,
		Buildings:  store,
		Loadouts:   store,
		Items:      store,
		Feed:       store,
		Snapshots:  inv,
		Unlocker:   unlocker,
		Roller:     roller,
		TagTTL:     time.Hour,
	})
	return &fixture{store: store, svc: svc, inv: inv, unlocker: unlocker, roller: roller}
}

func (f *fixture) seedResident(t *testing.T, login string, githubID int64, height float64) (developer.Developer, building.Building) {
	t.Helper()
	ctx := context.Background()
	dev, err := f.store.CreateDeveloper(ctx, developer.Developer{
		GitHubID:     githubID,
		Login:        login,
		ReferralCode: login + "-code",
	})
	if err != nil {
		t.Fatalf("create developer %s: %v", login, err)
	}
	b, err := f.store.CreateBuilding(ctx, building.Building{Login: login, Height: height})
	if err != nil {
		t.Fatalf("create building %s: %v", login, err)
	}
	claimed, err := f.store.ClaimBuilding(ctx, b.ID, dev.ID, time.Now())
	if err != nil {
		t.Fatalf("claim %s: %v", login, err)
	}
	return dev, claimed
}

func (f *fixture) equip(t *testing.T, devID, zone, itemID string, attack, defense int) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.UpsertItem(ctx, shop.Item{
		ID:           itemID,
		Name:         itemID,
		Zone:         zone,
		AttackBonus:  attack,
		DefenseBonus: defense,
		Active:       true,
	}); err != nil {
		t.Fatalf("upsert item: %v", err)
	}
	if _, err := f.store.EquipSlot(ctx, loadout.Slot{DeveloperID: devID, Zone: zone, ItemID: itemID}); err != nil {
		t.Fatalf("equip: %v", err)
	}
}

func TestLaunchScoring(t *testing.T) {
	f := newFixture(t, 10, 10)
	ctx := context.Background()

	attacker, _ := f.seedResident(t, "ana", 401, 50)
	defender, _ := f.seedResident(t, "bruno", 402, 30)

	f.equip(t, attacker.ID, shop.ZoneCrown, "crown-gold", 4, 0)
	f.equip(t, defender.ID, shop.ZoneRoof, "roof-tiles", 0, 2)

	// Two prior wins this week feed the streak bonus.
	for i := 0; i < 2; i++ {
		if err := f.store.IncrementRaidCounters(ctx, attacker.ID, true); err != nil {
			t.Fatalf("seed wins: %v", err)
		}
	}

	outcome, err := f.svc.Launch(ctx, attacker.ID, "bruno", "pixel-skull")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	// attack = 10 + 4 (crown) + 2 (streak) + 2 (taller) = 18
	// defense = 10 + 2 (roof) + 2 (roof counts twice) = 14
	if outcome.AttackScore != 18 {
		t.Fatalf("attack score = %d, want 18", outcome.AttackScore)
	}
	if outcome.DefenseScore != 14 {
		t.Fatalf("defense score = %d, want 14", outcome.DefenseScore)
	}
	if !outcome.Success {
		t.Fatal("expected a successful raid")
	}
	if outcome.Tag == nil || outcome.Tag.Emblem != "pixel-skull" || outcome.Tag.AttackerLogin != "ana" {
		t.Fatalf("bad tag: %+v", outcome.Tag)
	}

	refreshed, err := f.store.GetDeveloper(ctx, attacker.ID)
	if err != nil {
		t.Fatalf("get attacker: %v", err)
	}
	if refreshed.WeeklyWins != 3 || refreshed.TotalWins != 3 || refreshed.WeeklyRaids != 3 {
		t.Fatalf("counters = %+v, want 3/3/3", refreshed)
	}
	if len(f.unlocker.metrics) != 1 || f.unlocker.metrics[0] != achievement.MetricWins {
		t.Fatalf("expected wins achievement check, got %v", f.unlocker.metrics)
	}
	if f.inv.calls != 1 {
		t.Fatalf("snapshot invalidations = %d, want 1", f.inv.calls)
	}

	events, err := f.store.ListEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != feedDomain.KindRaid {
		t.Fatalf("expected one raid event, got %+v", events)
	}
	if events[0].Payload["defender"] != "bruno" || events[0].Payload["success"] != true {
		t.Fatalf("bad raid payload: %+v", events[0].Payload)
	}
}

func TestLaunchFailedRaidLeavesNoTag(t *testing.T) {
	f := newFixture(t, 3, 17)
	ctx := context.Background()

	attacker, _ := f.seedResident(t, "carla", 403, 20)
	_, defenderBuilding := f.seedResident(t, "diego", 404, 40)

	outcome, err := f.svc.Launch(ctx, attacker.ID, "diego", "rubber-duck")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if outcome.Success {
		t.Fatalf("expected failure: %+v", outcome)
	}
	if outcome.Tag != nil {
		t.Fatalf("failed raid must not tag, got %+v", outcome.Tag)
	}

	if _, err := f.store.GetTag(ctx, defenderBuilding.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("tag lookup = %v, want sql.ErrNoRows", err)
	}

	refreshed, err := f.store.GetDeveloper(ctx, attacker.ID)
	if err != nil {
		t.Fatalf("get attacker: %v", err)
	}
	if refreshed.WeeklyRaids != 1 || refreshed.WeeklyWins != 0 {
		t.Fatalf("counters = %+v, want raids 1 wins 0", refreshed)
	}
	if f.inv.calls != 0 {
		t.Fatalf("failed raid should not invalidate, got %d", f.inv.calls)
	}
	if len(f.unlocker.metrics) != 0 {
		t.Fatalf("failed raid should not check achievements, got %v", f.unlocker.metrics)
	}
}

func TestLaunchValidation(t *testing.T) {
	f := newFixture(t, 10, 10)
	ctx := context.Background()

	attacker, _ := f.seedResident(t, "eva", 405, 20)

	if _, err := f.svc.Launch(ctx, attacker.ID, "eva", "graffiti-9000"); !errors.Is(err, ErrBadEmblem) {
		t.Fatalf("bad emblem error = %v, want ErrBadEmblem", err)
	}
	if _, err := f.svc.Launch(ctx, attacker.ID, "nobody", "pixel-skull"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown defender error = %v, want sql.ErrNoRows", err)
	}

	if _, err := f.store.CreateBuilding(ctx, building.Building{Login: "ghost-town"}); err != nil {
		t.Fatalf("create unclaimed: %v", err)
	}
	if _, err := f.svc.Launch(ctx, attacker.ID, "ghost-town", "pixel-skull"); !errors.Is(err, ErrUnclaimedDefender) {
		t.Fatalf("unclaimed defender error = %v, want ErrUnclaimedDefender", err)
	}

	if _, err := f.svc.Launch(ctx, attacker.ID, "eva", "pixel-skull"); !errors.Is(err, ErrSelfRaid) {
		t.Fatalf("self raid error = %v, want ErrSelfRaid", err)
	}
}

func TestHistoryFiltersByLogin(t *testing.T) {
	f := newFixture(t, 20, 1, 20, 1, 20, 1)
	ctx := context.Background()

	ana, _ := f.seedResident(t, "ana", 406, 30)
	bruno, _ := f.seedResident(t, "bruno", 407, 30)
	f.seedResident(t, "carla", 408, 30)

	if _, err := f.svc.Launch(ctx, ana.ID, "bruno", "pixel-skull"); err != nil {
		t.Fatalf("raid 1: %v", err)
	}
	if _, err := f.svc.Launch(ctx, ana.ID, "carla", "cat-burglar"); err != nil {
		t.Fatalf("raid 2: %v", err)
	}
	if _, err := f.svc.Launch(ctx, bruno.ID, "carla", "flame-commit"); err != nil {
		t.Fatalf("raid 3: %v", err)
	}

	all, err := f.svc.History(ctx, "", "", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 raids, got %d", len(all))
	}

	mine, err := f.svc.History(ctx, "ana", "", 10, 0)
	if err != nil {
		t.Fatalf("history by attacker: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 ana raids, got %d", len(mine))
	}

	against, err := f.svc.History(ctx, "", "carla", 10, 0)
	if err != nil {
		t.Fatalf("history by defender: %v", err)
	}
	if len(against) != 2 {
		t.Fatalf("expected 2 raids on carla, got %d", len(against))
	}

	none, err := f.svc.History(ctx, "stranger", "", 10, 0)
	if err != nil {
		t.Fatalf("history unknown login: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty history, got %d", len(none))
	}
}

func TestLeaderboardDatabaseFallback(t *testing.T) {
	f := newFixture(t, 20, 1, 20, 1)
	ctx := context.Background()

	ana, _ := f.seedResident(t, "ana", 409, 30)
	f.seedResident(t, "bruno", 410, 30)
	f.seedResident(t, "carla", 411, 30)

	if _, err := f.svc.Launch(ctx, ana.ID, "bruno", "pixel-skull"); err != nil {
		t.Fatalf("raid 1: %v", err)
	}
	if _, err := f.svc.Launch(ctx, ana.ID, "carla", "pixel-skull"); err != nil {
		t.Fatalf("raid 2: %v", err)
	}

	entries, err := f.svc.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 1 || entries[0].Login != "ana" || entries[0].Wins != 2 {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}
}

func TestWeeklyReset(t *testing.T) {
	f := newFixture(t, 20, 1)
	ctx := context.Background()

	ana, _ := f.seedResident(t, "ana", 412, 30)
	f.seedResident(t, "bruno", 413, 30)

	if _, err := f.svc.Launch(ctx, ana.ID, "bruno", "pixel-skull"); err != nil {
		t.Fatalf("raid: %v", err)
	}

	n, err := f.svc.WeeklyReset(ctx)
	if err != nil {
		t.Fatalf("weekly reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset count = %d, want 1", n)
	}

	refreshed, err := f.store.GetDeveloper(ctx, ana.ID)
	if err != nil {
		t.Fatalf("get developer: %v", err)
	}
	if refreshed.WeeklyRaids != 0 || refreshed.WeeklyWins != 0 {
		t.Fatalf("weekly counters not zeroed: %+v", refreshed)
	}
	if refreshed.TotalWins != 1 {
		t.Fatalf("total wins must survive the reset, got %d", refreshed.TotalWins)
	}

	events, err := f.store.ListEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var found bool
	for _, e := range events {
		if e.Kind == feedDomain.KindWeeklyReset {
			found = true
		}
	}
	if !found {
		t.Fatalf("no weekly_reset event in %+v", events)
	}
}

func TestMaintainerSweepsExpiredTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, b := f.seedResident(t, "ana", 414, 30)
	if _, err := f.store.UpsertTag(ctx, raid.GraffitiTag{
		BuildingID:    b.ID,
		AttackerLogin: "rival",
		Emblem:        "pixel-skull",
		ExpiresAt:     time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	m := NewMaintainer(f.store, f.inv, time.Minute, nil)
	m.sweep(ctx)

	if _, err := f.store.GetTag(ctx, b.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("tag should be swept, got %v", err)
	}
	if f.inv.calls != 1 {
		t.Fatalf("snapshot invalidations = %d, want 1", f.inv.calls)
	}

	// Nothing left to sweep: no further invalidation.
	m.sweep(ctx)
	if f.inv.calls != 1 {
		t.Fatalf("idle sweep should not invalidate, got %d", f.inv.calls)
	}
}

func TestCryptoRollerBounds(t *testing.T) {
	r := NewCryptoRoller()
	for i := 0; i < 200; i++ {
		v := r.Roll(DieSides)
		if v < 1 || v > DieSides {
			t.Fatalf("roll %d out of [1,%d]", v, DieSides)
		}
	}
}
