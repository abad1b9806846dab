package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
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

func seedDeveloper(t *testing.T, s *Store, login string, githubID int64) developer.Developer {
	t.Helper()
	dev, err := s.CreateDeveloper(context.Background(), developer.Developer{
		GitHubID:     githubID,
		Login:        login,
		Name:         login,
		ReferralCode: login + "-code",
	})
	if err != nil {
		t.Fatalf("CreateDeveloper(%s) error: %v", login, err)
	}
	return dev
}

func seedBuilding(t *testing.T, s *Store, login string) building.Building {
	t.Helper()
	b, err := s.CreateBuilding(context.Background(), building.Building{
		Login:  login,
		Stars:  10,
		Width:  8,
		Depth:  8,
		Height: 20,
	})
	if err != nil {
		t.Fatalf("CreateBuilding(%s) error: %v", login, err)
	}
	return b
}

func seedPendingPurchase(t *testing.T, s *Store, devID, itemID string, stackable bool) shop.Purchase {
	t.Helper()
	p, err := s.CreatePurchase(context.Background(), shop.Purchase{
		DeveloperID: devID,
		ItemID:      itemID,
		Status:      shop.StatusPending,
		Provider:    shop.ProviderCard,
		AmountCents: 500,
		Currency:    "USD",
		Stackable:   stackable,
	})
	if err != nil {
		t.Fatalf("CreatePurchase error: %v", err)
	}
	return p
}

func TestCreateDeveloperUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDeveloper(t, s, "octocat", 1)

	cases := []struct {
		name string
		dev  developer.Developer
	}{
		{"duplicate github id", developer.Developer{GitHubID: 1, Login: "other", ReferralCode: "x1"}},
		{"duplicate login case-insensitive", developer.Developer{GitHubID: 2, Login: "OctoCat", ReferralCode: "x2"}},
		{"duplicate referral code", developer.Developer{GitHubID: 3, Login: "third", ReferralCode: "octocat-code"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateDeveloper(ctx, tc.dev); !errors.Is(err, storage.ErrConflict) {
				t.Fatalf("error = %v, want ErrConflict", err)
			}
		})
	}
}

func TestUpdateDeveloperPreservesCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	dev := seedDeveloper(t, s, "octocat", 1)

	if err := s.IncrementRaidCounters(ctx, dev.ID, true); err != nil {
		t.Fatalf("IncrementRaidCounters error: %v", err)
	}
	if err := s.IncrementReferrals(ctx, dev.ID); err != nil {
		t.Fatalf("IncrementReferrals error: %v", err)
	}

	dev.Name = "The Octocat"
	dev.WeeklyWins = 99
	dev.TotalWins = 99
	dev.ReferralsCount = 99
	dev.GitHubID = 42

	updated, err := s.UpdateDeveloper(ctx, dev)
	if err != nil {
		t.Fatalf("UpdateDeveloper error: %v", err)
	}
	if updated.Name != "The Octocat" {
		t.Errorf("Name = %q, want The Octocat", updated.Name)
	}
	if updated.WeeklyWins != 1 || updated.TotalWins != 1 || updated.ReferralsCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", updated.WeeklyWins, updated.TotalWins, updated.ReferralsCount)
	}
	if updated.GitHubID != 1 {
		t.Errorf("GitHubID = %d, want 1", updated.GitHubID)
	}
}

func TestResetWeeklyCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedDeveloper(t, s, "alice", 1)
	seedDeveloper(t, s, "bob", 2)

	if err := s.IncrementRaidCounters(ctx, a.ID, true); err != nil {
		t.Fatalf("IncrementRaidCounters error: %v", err)
	}

	changed, err := s.ResetWeeklyCounters(ctx)
	if err != nil {
		t.Fatalf("ResetWeeklyCounters error: %v", err)
	}
	if changed != 1 {
		t.Errorf("changed = %d, want 1", changed)
	}

	got, _ := s.GetDeveloper(ctx, a.ID)
	if got.WeeklyRaids != 0 || got.WeeklyWins != 0 {
		t.Errorf("weekly counters = %d/%d, want 0/0", got.WeeklyRaids, got.WeeklyWins)
	}
	if got.TotalWins != 1 {
		t.Errorf("TotalWins = %d, want 1 (reset must not touch totals)", got.TotalWins)
	}

	changed, err = s.ResetWeeklyCounters(ctx)
	if err != nil {
		t.Fatalf("second ResetWeeklyCounters error: %v", err)
	}
	if changed != 0 {
		t.Errorf("second reset changed = %d, want 0", changed)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateSession(ctx, developer.Session{DeveloperID: "dev-1", TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	_, err = s.CreateSession(ctx, developer.Session{DeveloperID: "dev-1", TokenHash: "h2", ExpiresAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	if _, err := s.GetSessionByTokenHash(ctx, "h1"); err != nil {
		t.Fatalf("GetSessionByTokenHash error: %v", err)
	}
	if _, err := s.GetSessionByTokenHash(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing session error = %v, want ErrNoRows", err)
	}

	removed, err := s.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredSessions error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if err := s.DeleteSessionByTokenHash(ctx, "h1"); err != nil {
		t.Fatalf("DeleteSessionByTokenHash error: %v", err)
	}
	if err := s.DeleteSessionByTokenHash(ctx, "h1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete error = %v, want ErrNoRows", err)
	}
}

func TestClaimBuildingOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seedDeveloper(t, s, "alice", 1)
	bob := seedDeveloper(t, s, "bob", 2)
	b := seedBuilding(t, s, "alice")
	now := time.Now()

	claimed, err := s.ClaimBuilding(ctx, b.ID, alice.ID, now)
	if err != nil {
		t.Fatalf("ClaimBuilding error: %v", err)
	}
	if claimed.OwnerID != alice.ID {
		t.Errorf("OwnerID = %q, want %q", claimed.OwnerID, alice.ID)
	}
	if claimed.ClaimedAt == nil {
		t.Fatal("ClaimedAt not set")
	}

	if _, err := s.ClaimBuilding(ctx, b.ID, bob.ID, now); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second claim error = %v, want ErrConflict", err)
	}

	second := seedBuilding(t, s, "alice-archive")
	if _, err := s.ClaimBuilding(ctx, second.ID, alice.ID, now); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second building claim error = %v, want ErrConflict", err)
	}

	if _, err := s.ClaimBuilding(ctx, "missing", bob.ID, now); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing building error = %v, want ErrNoRows", err)
	}

	byOwner, err := s.GetBuildingByOwner(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetBuildingByOwner error: %v", err)
	}
	if byOwner.ID != b.ID {
		t.Errorf("GetBuildingByOwner = %q, want %q", byOwner.ID, b.ID)
	}
}

func TestUpdateBuildingPreservesOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seedDeveloper(t, s, "alice", 1)
	b := seedBuilding(t, s, "alice")

	if _, err := s.ClaimBuilding(ctx, b.ID, alice.ID, time.Now()); err != nil {
		t.Fatalf("ClaimBuilding error: %v", err)
	}
	if err := s.AdjustKudos(ctx, b.ID, 3); err != nil {
		t.Fatalf("AdjustKudos error: %v", err)
	}

	b.Stars = 50
	b.Height = 44
	b.OwnerID = "intruder"
	b.KudosCount = 0

	updated, err := s.UpdateBuilding(ctx, b)
	if err != nil {
		t.Fatalf("UpdateBuilding error: %v", err)
	}
	if updated.Stars != 50 || updated.Height != 44 {
		t.Errorf("stats not updated: stars=%d height=%v", updated.Stars, updated.Height)
	}
	if updated.OwnerID != alice.ID {
		t.Errorf("OwnerID = %q, want %q", updated.OwnerID, alice.ID)
	}
	if updated.KudosCount != 3 {
		t.Errorf("KudosCount = %d, want 3", updated.KudosCount)
	}
}

func TestAdjustKudosFloorsAtZero(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := seedBuilding(t, s, "alice")

	if err := s.AdjustKudos(ctx, b.ID, -5); err != nil {
		t.Fatalf("AdjustKudos error: %v", err)
	}
	got, _ := s.GetBuilding(ctx, b.ID)
	if got.KudosCount != 0 {
		t.Errorf("KudosCount = %d, want 0", got.KudosCount)
	}
}

func TestListBuildingsInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := seedBuilding(t, s, "first")
	second := seedBuilding(t, s, "second")

	list, err := s.ListBuildings(ctx)
	if err != nil {
		t.Fatalf("ListBuildings error: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("unexpected order: %v", []string{list[0].ID, list[1].ID})
	}

	n, err := s.CountBuildings(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountBuildings = %d (%v), want 2", n, err)
	}
}

func TestPendingPurchaseUniquePerItem(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedPendingPurchase(t, s, "dev-1", "crown-gold", false)

	_, err := s.CreatePurchase(ctx, shop.Purchase{
		DeveloperID: "dev-1",
		ItemID:      "crown-gold",
		Status:      shop.StatusPending,
		Provider:    shop.ProviderPIX,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate pending error = %v, want ErrConflict", err)
	}

	// A different item is fine.
	if _, err := s.CreatePurchase(ctx, shop.Purchase{
		DeveloperID: "dev-1",
		ItemID:      "aura-neon",
		Status:      shop.StatusPending,
		Provider:    shop.ProviderCard,
	}); err != nil {
		t.Fatalf("different item error: %v", err)
	}
}

func TestFinalizePurchaseTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)
	now := time.Now()

	done, err := s.FinalizePurchase(ctx, p.ID, shop.StatusCompleted, now)
	if err != nil {
		t.Fatalf("FinalizePurchase error: %v", err)
	}
	if done.Status != shop.StatusCompleted {
		t.Errorf("Status = %q, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	if _, err := s.FinalizePurchase(ctx, p.ID, shop.StatusFailed, now); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("refinalize error = %v, want ErrConflict", err)
	}
	if _, err := s.FinalizePurchase(ctx, "missing", shop.StatusCompleted, now); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing purchase error = %v, want ErrNoRows", err)
	}

	ok, err := s.HasCompletedPurchase(ctx, "dev-1", "crown-gold")
	if err != nil || !ok {
		t.Errorf("HasCompletedPurchase = %v (%v), want true", ok, err)
	}
}

func TestFinalizeBlocksSecondCompletedNonStackable(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	first := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)
	if _, err := s.FinalizePurchase(ctx, first.ID, shop.StatusCompleted, now); err != nil {
		t.Fatalf("first finalize error: %v", err)
	}

	// The first is no longer pending, so a second attempt may be created;
	// it must fail at completion.
	second := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)
	if _, err := s.FinalizePurchase(ctx, second.ID, shop.StatusCompleted, now); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second completion error = %v, want ErrConflict", err)
	}

	// Stackable items complete any number of times.
	b1 := seedPendingPurchase(t, s, "dev-1", "billboard-run", true)
	if _, err := s.FinalizePurchase(ctx, b1.ID, shop.StatusCompleted, now); err != nil {
		t.Fatalf("stackable finalize error: %v", err)
	}
	b2 := seedPendingPurchase(t, s, "dev-1", "billboard-run", true)
	if _, err := s.FinalizePurchase(ctx, b2.ID, shop.StatusCompleted, now); err != nil {
		t.Fatalf("second stackable finalize error: %v", err)
	}

	n, err := s.CountCompletedByDeveloper(ctx, "dev-1")
	if err != nil || n != 3 {
		t.Errorf("CountCompletedByDeveloper = %d (%v), want 3", n, err)
	}
}

func TestConsumePurchaseOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	older := seedPendingPurchase(t, s, "dev-1", "billboard-run", true)
	if _, err := s.FinalizePurchase(ctx, older.ID, shop.StatusCompleted, now); err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	newer := seedPendingPurchase(t, s, "dev-1", "billboard-run", true)
	if _, err := s.FinalizePurchase(ctx, newer.ID, shop.StatusCompleted, now); err != nil {
		t.Fatalf("finalize error: %v", err)
	}

	got, err := s.GetUnconsumedPurchase(ctx, "dev-1", "billboard-run")
	if err != nil {
		t.Fatalf("GetUnconsumedPurchase error: %v", err)
	}
	if got.ID != older.ID {
		t.Errorf("GetUnconsumedPurchase = %q, want oldest %q", got.ID, older.ID)
	}

	if err := s.ConsumePurchase(ctx, got.ID); err != nil {
		t.Fatalf("ConsumePurchase error: %v", err)
	}
	if err := s.ConsumePurchase(ctx, got.ID); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("double consume error = %v, want ErrConflict", err)
	}

	got, err = s.GetUnconsumedPurchase(ctx, "dev-1", "billboard-run")
	if err != nil {
		t.Fatalf("GetUnconsumedPurchase after consume error: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("remaining unconsumed = %q, want %q", got.ID, newer.ID)
	}

	if err := s.ConsumePurchase(ctx, newer.ID); err != nil {
		t.Fatalf("ConsumePurchase error: %v", err)
	}
	if _, err := s.GetUnconsumedPurchase(ctx, "dev-1", "billboard-run"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("exhausted error = %v, want ErrNoRows", err)
	}
}

func TestStalePendingSweeps(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)
	fresh := seedPendingPurchase(t, s, "dev-1", "aura-neon", false)

	// Cutoff after the first purchase was created removes it and frees the
	// pending slot for a retry.
	removed, err := s.DeleteStalePending(ctx, "dev-1", "crown-gold", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteStalePending error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetPurchase(ctx, p.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted purchase still present: %v", err)
	}

	expired, err := s.ExpireStalePending(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireStalePending error: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	got, _ := s.GetPurchase(ctx, fresh.ID)
	if got.Status != shop.StatusExpired {
		t.Errorf("Status = %q, want expired", got.Status)
	}
}

func TestProviderRefLookup(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)
	p.Provider = shop.ProviderPIX
	p.ProviderRef = "txid-123"
	if _, err := s.UpdatePurchase(ctx, p); err != nil {
		t.Fatalf("UpdatePurchase error: %v", err)
	}

	got, err := s.GetPurchaseByProviderRef(ctx, shop.ProviderPIX, "txid-123")
	if err != nil {
		t.Fatalf("GetPurchaseByProviderRef error: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("lookup = %q, want %q", got.ID, p.ID)
	}

	if _, err := s.GetPurchaseByProviderRef(ctx, shop.ProviderPIX, "unknown"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown ref error = %v, want ErrNoRows", err)
	}
}

func TestUpdatePurchasePreservesLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedPendingPurchase(t, s, "dev-1", "crown-gold", false)

	p.Status = shop.StatusCompleted
	p.Consumed = true
	p.DeveloperID = "intruder"
	p.CheckoutURL = "https://pay.example/cs_1"

	updated, err := s.UpdatePurchase(ctx, p)
	if err != nil {
		t.Fatalf("UpdatePurchase error: %v", err)
	}
	if updated.Status != shop.StatusPending || updated.Consumed {
		t.Errorf("lifecycle mutated: status=%q consumed=%v", updated.Status, updated.Consumed)
	}
	if updated.DeveloperID != "dev-1" {
		t.Errorf("DeveloperID = %q, want dev-1", updated.DeveloperID)
	}
	if updated.CheckoutURL != "https://pay.example/cs_1" {
		t.Errorf("CheckoutURL not updated: %q", updated.CheckoutURL)
	}
}

func TestEquipAndClearSlot(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.EquipSlot(ctx, loadout.Slot{DeveloperID: "dev-1", Zone: shop.ZoneCrown, ItemID: "crown-gold"}); err != nil {
		t.Fatalf("EquipSlot error: %v", err)
	}
	// Equipping over a full zone replaces it.
	if _, err := s.EquipSlot(ctx, loadout.Slot{DeveloperID: "dev-1", Zone: shop.ZoneCrown, ItemID: "crown-silver"}); err != nil {
		t.Fatalf("second EquipSlot error: %v", err)
	}
	if _, err := s.EquipSlot(ctx, loadout.Slot{DeveloperID: "dev-1", Zone: shop.ZoneAura, ItemID: "aura-neon"}); err != nil {
		t.Fatalf("EquipSlot aura error: %v", err)
	}

	slots, err := s.GetLoadout(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetLoadout error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2", len(slots))
	}
	if slots[0].Zone != shop.ZoneAura || slots[1].Zone != shop.ZoneCrown {
		t.Errorf("slot order = %q,%q, want aura,crown", slots[0].Zone, slots[1].Zone)
	}
	if slots[1].ItemID != "crown-silver" {
		t.Errorf("crown item = %q, want crown-silver", slots[1].ItemID)
	}

	if err := s.ClearSlot(ctx, "dev-1", shop.ZoneCrown); err != nil {
		t.Fatalf("ClearSlot error: %v", err)
	}
	if err := s.ClearSlot(ctx, "dev-1", shop.ZoneCrown); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second ClearSlot error = %v, want ErrNoRows", err)
	}
}

func TestCreateRaidRejectsSelfTarget(t *testing.T) {
	s := New()
	_, err := s.CreateRaid(context.Background(), raid.Raid{AttackerID: "dev-1", DefenderID: "dev-1"})
	if !errors.Is(err, storage.ErrConstraint) {
		t.Fatalf("self raid error = %v, want ErrConstraint", err)
	}
}

func TestListRaidsFiltersAndPages(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateRaid(ctx, raid.Raid{AttackerID: "alice", DefenderID: "bob", Success: i%2 == 0}); err != nil {
			t.Fatalf("CreateRaid error: %v", err)
		}
	}
	if _, err := s.CreateRaid(ctx, raid.Raid{AttackerID: "bob", DefenderID: "alice"}); err != nil {
		t.Fatalf("CreateRaid error: %v", err)
	}

	all, err := s.ListRaids(ctx, storage.RaidFilter{})
	if err != nil {
		t.Fatalf("ListRaids error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len(all) = %d, want 4", len(all))
	}
	// Newest first.
	if all[0].AttackerID != "bob" {
		t.Errorf("first raid attacker = %q, want bob", all[0].AttackerID)
	}

	byAttacker, err := s.ListRaids(ctx, storage.RaidFilter{AttackerID: "alice"})
	if err != nil {
		t.Fatalf("ListRaids by attacker error: %v", err)
	}
	if len(byAttacker) != 3 {
		t.Errorf("len(byAttacker) = %d, want 3", len(byAttacker))
	}

	page, err := s.ListRaids(ctx, storage.RaidFilter{AttackerID: "alice", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListRaids paged error: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("len(page) = %d, want 1", len(page))
	}
}

func TestGraffitiTagOverwriteAndExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if _, err := s.UpsertTag(ctx, raid.GraffitiTag{BuildingID: "b-1", RaidID: "r-1", AttackerLogin: "alice", Emblem: "pixel-skull", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("UpsertTag error: %v", err)
	}
	if _, err := s.UpsertTag(ctx, raid.GraffitiTag{BuildingID: "b-1", RaidID: "r-2", AttackerLogin: "bob", Emblem: "rubber-duck", ExpiresAt: now.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("second UpsertTag error: %v", err)
	}

	tag, err := s.GetTag(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetTag error: %v", err)
	}
	if tag.RaidID != "r-2" || tag.AttackerLogin != "bob" {
		t.Errorf("tag not overwritten: %+v", tag)
	}

	if _, err := s.UpsertTag(ctx, raid.GraffitiTag{BuildingID: "b-2", RaidID: "r-3", AttackerLogin: "carol", Emblem: "cat-burglar", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("UpsertTag error: %v", err)
	}

	active, err := s.ListActiveTags(ctx, now)
	if err != nil {
		t.Fatalf("ListActiveTags error: %v", err)
	}
	if len(active) != 1 || active[0].BuildingID != "b-1" {
		t.Errorf("active tags = %+v, want only b-1", active)
	}

	removed, err := s.DeleteExpiredTags(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredTags error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestWeeklyLeadersOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seedDeveloper(t, s, "alice", 1)
	bob := seedDeveloper(t, s, "bob", 2)
	seedDeveloper(t, s, "carol", 3)

	for i := 0; i < 3; i++ {
		if err := s.IncrementRaidCounters(ctx, alice.ID, true); err != nil {
			t.Fatalf("IncrementRaidCounters error: %v", err)
		}
	}
	if err := s.IncrementRaidCounters(ctx, bob.ID, true); err != nil {
		t.Fatalf("IncrementRaidCounters error: %v", err)
	}

	leaders, err := s.WeeklyLeaders(ctx, 10)
	if err != nil {
		t.Fatalf("WeeklyLeaders error: %v", err)
	}
	if len(leaders) != 2 {
		t.Fatalf("len(leaders) = %d, want 2 (carol has no wins)", len(leaders))
	}
	if leaders[0].Login != "alice" || leaders[0].Wins != 3 {
		t.Errorf("leaders[0] = %+v, want alice/3", leaders[0])
	}
	if leaders[1].Login != "bob" {
		t.Errorf("leaders[1] = %+v, want bob", leaders[1])
	}

	top, err := s.WeeklyLeaders(ctx, 1)
	if err != nil || len(top) != 1 {
		t.Errorf("WeeklyLeaders(1) = %d entries (%v), want 1", len(top), err)
	}
}

func TestKudosUniquePerPair(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateKudos(ctx, social.Kudos{DeveloperID: "dev-1", BuildingID: "b-1"}); err != nil {
		t.Fatalf("CreateKudos error: %v", err)
	}
	if _, err := s.CreateKudos(ctx, social.Kudos{DeveloperID: "dev-1", BuildingID: "b-1"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate kudos error = %v, want ErrConflict", err)
	}
	// Another developer on the same building is fine.
	if _, err := s.CreateKudos(ctx, social.Kudos{DeveloperID: "dev-2", BuildingID: "b-1"}); err != nil {
		t.Fatalf("other developer kudos error: %v", err)
	}

	if err := s.DeleteKudos(ctx, "dev-1", "b-1"); err != nil {
		t.Fatalf("DeleteKudos error: %v", err)
	}
	if err := s.DeleteKudos(ctx, "dev-1", "b-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete error = %v, want ErrNoRows", err)
	}
	// Removing kudos frees the pair for a re-give.
	if _, err := s.CreateKudos(ctx, social.Kudos{DeveloperID: "dev-1", BuildingID: "b-1"}); err != nil {
		t.Fatalf("re-give kudos error: %v", err)
	}
}

func TestReferralConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateReferral(ctx, social.Referral{ReferrerID: "dev-1", ReferredID: "dev-1"}); !errors.Is(err, storage.ErrConstraint) {
		t.Fatalf("self referral error = %v, want ErrConstraint", err)
	}
	if _, err := s.CreateReferral(ctx, social.Referral{ReferrerID: "dev-1", ReferredID: "dev-2"}); err != nil {
		t.Fatalf("CreateReferral error: %v", err)
	}
	// A developer is referred at most once, by anyone.
	if _, err := s.CreateReferral(ctx, social.Referral{ReferrerID: "dev-3", ReferredID: "dev-2"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second referral error = %v, want ErrConflict", err)
	}

	list, err := s.ListReferralsByReferrer(ctx, "dev-1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListReferralsByReferrer = %d entries (%v), want 1", len(list), err)
	}
}

func TestCreateUnlockIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateUnlock(ctx, achievement.Unlock{DeveloperID: "dev-1", AchievementID: "first-claim"})
	if err != nil {
		t.Fatalf("CreateUnlock error: %v", err)
	}
	if !created {
		t.Fatal("first unlock reported as duplicate")
	}

	created, err = s.CreateUnlock(ctx, achievement.Unlock{DeveloperID: "dev-1", AchievementID: "first-claim"})
	if err != nil {
		t.Fatalf("second CreateUnlock error: %v", err)
	}
	if created {
		t.Fatal("duplicate unlock reported as created")
	}

	unlocks, err := s.ListUnlocks(ctx, "dev-1")
	if err != nil || len(unlocks) != 1 {
		t.Errorf("ListUnlocks = %d entries (%v), want 1", len(unlocks), err)
	}
}

func TestAchievementsByMetricSortedByThreshold(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, a := range []achievement.Achievement{
		{ID: "stars-100", Metric: achievement.MetricStars, Threshold: 100, Tier: 2},
		{ID: "stars-10", Metric: achievement.MetricStars, Threshold: 10, Tier: 1},
		{ID: "first-claim", Metric: achievement.MetricClaim, Threshold: 1, Tier: 1},
	} {
		if _, err := s.UpsertAchievement(ctx, a); err != nil {
			t.Fatalf("UpsertAchievement error: %v", err)
		}
	}

	stars, err := s.ListAchievementsByMetric(ctx, achievement.MetricStars)
	if err != nil {
		t.Fatalf("ListAchievementsByMetric error: %v", err)
	}
	if len(stars) != 2 || stars[0].ID != "stars-10" || stars[1].ID != "stars-100" {
		t.Errorf("unexpected metric list: %+v", stars)
	}
}

func TestBillboardSlotConflictAndExpiredReuse(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "b-1", PurchaseID: "p-1", Slot: 0, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateBillboard error: %v", err)
	}
	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "b-1", PurchaseID: "p-2", Slot: 0, ExpiresAt: now.Add(time.Hour)}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("occupied slot error = %v, want ErrConflict", err)
	}
	// Same slot index on another building, and the sky (empty building ID),
	// are separate namespaces.
	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "b-2", PurchaseID: "p-3", Slot: 0, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("other building slot error: %v", err)
	}
	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "", PurchaseID: "p-4", Slot: 0, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("sky slot error: %v", err)
	}

	// A lapsed occupant is swept on demand even before the cron pass.
	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "b-3", PurchaseID: "p-5", Slot: 1, ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("expired billboard error: %v", err)
	}
	if _, err := s.CreateBillboard(ctx, billboard.Billboard{BuildingID: "b-3", PurchaseID: "p-6", Slot: 1, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("reuse of lapsed slot error: %v", err)
	}

	active, err := s.ListActiveBillboards(ctx, "b-3", now)
	if err != nil {
		t.Fatalf("ListActiveBillboards error: %v", err)
	}
	if len(active) != 1 || active[0].PurchaseID != "p-6" {
		t.Errorf("active billboards = %+v, want only p-6", active)
	}

	removed, err := s.DeleteExpiredBillboards(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredBillboards error: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
}

func TestListEventsNewestFirstWithPaging(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, kind := range []string{feed.KindBuildingClaimed, feed.KindRaid, feed.KindKudos} {
		if _, err := s.AppendEvent(ctx, feed.Event{Kind: kind, Payload: map[string]interface{}{"k": kind}}); err != nil {
			t.Fatalf("AppendEvent error: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(events) != 2 || events[0].Kind != feed.KindKudos || events[1].Kind != feed.KindRaid {
		t.Errorf("unexpected page: %+v", events)
	}

	rest, err := s.ListEvents(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListEvents offset error: %v", err)
	}
	if len(rest) != 1 || rest[0].Kind != feed.KindBuildingClaimed {
		t.Errorf("unexpected offset page: %+v", rest)
	}

	// Returned payloads are copies.
	events[0].Payload["k"] = "mutated"
	again, _ := s.ListEvents(ctx, 1, 0)
	if again[0].Payload["k"] != feed.KindKudos {
		t.Error("payload mutation leaked into the store")
	}

	n, err := s.CountEvents(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountEvents = %d (%v), want 3", n, err)
	}
}
