package social

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
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
)

type recordingUnlocker struct {
	checks []string // developerID + ":" + metric
}

func (u *recordingUnlocker) CheckAndUnlock(_ context.Context, developerID, metric string) ([]achievement.Achievement, error) {
	u.checks = append(u.checks, developerID+":"+metric)
	return nil, nil
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	unlocker *recordingUnlocker
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	store := memory.New()
	unlocker := &recordingUnlocker{}
	svc := New(Config{
		Social:       store,
		Developers:   store,
		Buildings:    store,
		Feed:         store,
		Unlocker:     unlocker,
		RedeemWindow: window,
	})
	return &fixture{store: store, svc: svc, unlocker: unlocker}
}

func (f *fixture) seedDeveloper(t *testing.T, login string, githubID int64) developer.Developer {
	t.Helper()
	dev, err := f.store.CreateDeveloper(context.Background(), developer.Developer{
		GitHubID:     githubID,
		Login:        login,
		ReferralCode: login + "-code",
	})
	if err != nil {
		t.Fatalf("create developer %s: %v", login, err)
	}
	return dev
}

func (f *fixture) seedClaimedBuilding(t *testing.T, dev developer.Developer) building.Building {
	t.Helper()
	ctx := context.Background()
	b, err := f.store.CreateBuilding(ctx, building.Building{Login: dev.Login})
	if err != nil {
		t.Fatalf("create building: %v", err)
	}
	claimed, err := f.store.ClaimBuilding(ctx, b.ID, dev.ID, time.Now())
	if err != nil {
		t.Fatalf("claim building: %v", err)
	}
	return claimed
}

func TestGiveKudos(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	owner := f.seedDeveloper(t, "ana", 501)
	sender := f.seedDeveloper(t, "bruno", 502)
	b := f.seedClaimedBuilding(t, owner)

	if err := f.svc.GiveKudos(ctx, sender, "ana"); err != nil {
		t.Fatalf("give kudos: %v", err)
	}

	refreshed, err := f.store.GetBuilding(ctx, b.ID)
	if err != nil {
		t.Fatalf("get building: %v", err)
	}
	if refreshed.KudosCount != 1 {
		t.Fatalf("kudos count = %d, want 1", refreshed.KudosCount)
	}

	// The owner, not the sender, gets the achievement check.
	if len(f.unlocker.checks) != 1 || f.unlocker.checks[0] != owner.ID+":"+achievement.MetricKudos {
		t.Fatalf("unexpected achievement checks: %v", f.unlocker.checks)
	}

	events, err := f.store.ListEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != feedDomain.KindKudos {
		t.Fatalf("expected one kudos event, got %+v", events)
	}

	// Same sender, same building: unique pair.
	if err := f.svc.GiveKudos(ctx, sender, "ana"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate kudos error = %v, want storage.ErrConflict", err)
	}
	// Own building is off limits.
	if err := f.svc.GiveKudos(ctx, owner, "ana"); !errors.Is(err, ErrOwnBuilding) {
		t.Fatalf("own building error = %v, want ErrOwnBuilding", err)
	}
	if err := f.svc.GiveKudos(ctx, sender, "nobody"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown building error = %v, want sql.ErrNoRows", err)
	}
}

func TestWithdrawKudos(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	owner := f.seedDeveloper(t, "ana", 503)
	sender := f.seedDeveloper(t, "bruno", 504)
	b := f.seedClaimedBuilding(t, owner)

	if err := f.svc.GiveKudos(ctx, sender, "ana"); err != nil {
		t.Fatalf("give kudos: %v", err)
	}
	if err := f.svc.WithdrawKudos(ctx, sender.ID, "ana"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	refreshed, err := f.store.GetBuilding(ctx, b.ID)
	if err != nil {
		t.Fatalf("get building: %v", err)
	}
	if refreshed.KudosCount != 0 {
		t.Fatalf("kudos count = %d, want 0", refreshed.KudosCount)
	}

	// Nothing left to withdraw.
	if err := f.svc.WithdrawKudos(ctx, sender.ID, "ana"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second withdraw error = %v, want sql.ErrNoRows", err)
	}

	// Giving again after a withdrawal works.
	if err := f.svc.GiveKudos(ctx, sender, "ana"); err != nil {
		t.Fatalf("re-give kudos: %v", err)
	}
}

func TestRedeemReferral(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	referrer := f.seedDeveloper(t, "ana", 505)
	referred := f.seedDeveloper(t, "bruno", 506)

	referral, err := f.svc.Redeem(ctx, referred, "ana-code")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if referral.ReferrerID != referrer.ID || referral.ReferredID != referred.ID {
		t.Fatalf("bad referral row: %+v", referral)
	}

	refreshed, err := f.store.GetDeveloper(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	if refreshed.ReferralsCount != 1 {
		t.Fatalf("referrals count = %d, want 1", refreshed.ReferralsCount)
	}

	// A developer is referred at most once, by anyone.
	f.seedDeveloper(t, "carla", 507)
	if _, err := f.svc.Redeem(ctx, referred, "carla-code"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second referral error = %v, want storage.ErrConflict", err)
	}

	if _, err := f.svc.Redeem(ctx, referred, "ghost-code"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown code error = %v, want sql.ErrNoRows", err)
	}
}

func TestRedeemGuards(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	dev := f.seedDeveloper(t, "ana", 508)
	if _, err := f.svc.Redeem(ctx, dev, "ana-code"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("self referral error = %v, want ErrSelfReferral", err)
	}

	f.seedDeveloper(t, "bruno", 509)
	old := dev
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	if _, err := f.svc.Redeem(ctx, old, "bruno-code"); !errors.Is(err, ErrRedeemWindowClosed) {
		t.Fatalf("stale account error = %v, want ErrRedeemWindowClosed", err)
	}
}

func TestCreditSignupSkipsWindow(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	referrer := f.seedDeveloper(t, "ana", 510)
	// CreditSignup is for fresh OAuth arrivals; the window never applies.
	referred := f.seedDeveloper(t, "bruno", 511)
	referred.CreatedAt = time.Now().Add(-48 * time.Hour)

	if _, err := f.svc.CreditSignup(ctx, "ana-code", referred); err != nil {
		t.Fatalf("credit signup: %v", err)
	}

	summary, err := f.svc.ReferralSummary(ctx, referrer)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Code != "ana-code" {
		t.Fatalf("summary code = %s, want ana-code", summary.Code)
	}
	if len(summary.Credited) != 1 || summary.Credited[0].Login != "bruno" {
		t.Fatalf("unexpected credited list: %+v", summary.Credited)
	}
}
