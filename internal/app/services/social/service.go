// Package social handles kudos between developers and the referral program.
package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/achievement"
	"github.com/EndlessPixel/git-city/internal/app/domain/developer"
	"github.com/EndlessPixel/git-city/internal/app/domain/feed"
	socialDomain "github.com/EndlessPixel/git-city/internal/app/domain/social"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// DefaultRedeemWindow is how long after sign-up a referral code can still be
// redeemed manually.
const DefaultRedeemWindow = 7 * 24 * time.Hour

var (
	ErrOwnBuilding        = errors.New("cannot kudos your own building")
	ErrSelfReferral       = errors.New("cannot redeem your own referral code")
	ErrRedeemWindowClosed = errors.New("referral redeem window closed")
)

// SnapshotInvalidator drops the cached city snapshot after a visible change.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context)
}

// Unlocker runs achievement checks after state changes.
type Unlocker interface {
	CheckAndUnlock(ctx context.Context, developerID, metric string) ([]achievement.Achievement, error)
}

// Config wires the social service.
type Config struct {
	Social       storage.SocialStore
	Developers   storage.DeveloperStore
	Buildings    storage.BuildingStore
	Feed         storage.FeedStore
	Snapshots    SnapshotInvalidator
	Unlocker     Unlocker
	RedeemWindow time.Duration
	Logger       *logger.Logger
}

// Service manages kudos and referrals.
type Service struct {
	social       storage.SocialStore
	developers   storage.DeveloperStore
	buildings    storage.BuildingStore
	feed         storage.FeedStore
	snapshots    SnapshotInvalidator
	unlocker     Unlocker
	redeemWindow time.Duration
	log          *logger.Logger
}

// New creates the social service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("social")
	}
	window := cfg.RedeemWindow
	if window <= 0 {
		window = DefaultRedeemWindow
	}
	return &Service{
		social:       cfg.Social,
		developers:   cfg.Developers,
		buildings:    cfg.Buildings,
		feed:         cfg.Feed,
		snapshots:    cfg.Snapshots,
		unlocker:     cfg.Unlocker,
		redeemWindow: window,
		log:          log,
	}
}

// GiveKudos applauds a building. One kudos per sender per building, and
// never your own.
func (s *Service) GiveKudos(ctx context.Context, sender developer.Developer, buildingLogin string) error {
	b, err := s.buildings.GetBuildingByLogin(ctx, buildingLogin)
	if err != nil {
		return err
	}
	if b.Claimed() && b.OwnerID == sender.ID {
		return fmt.Errorf("building %s: %w", buildingLogin, ErrOwnBuilding)
	}

	if _, err := s.social.CreateKudos(ctx, socialDomain.Kudos{
		DeveloperID: sender.ID,
		BuildingID:  b.ID,
	}); err != nil {
		return err
	}
	if err := s.buildings.AdjustKudos(ctx, b.ID, 1); err != nil {
		s.log.WithError(err).Warn("adjust kudos count failed")
	}

	if b.Claimed() {
		s.checkAchievements(ctx, b.OwnerID, achievement.MetricKudos)
	}
	s.appendEvent(ctx, sender.ID, feed.KindKudos, map[string]interface{}{
		"from": sender.Login,
		"to":   buildingLogin,
	})
	s.invalidate(ctx)
	return nil
}

// WithdrawKudos takes applause back.
func (s *Service) WithdrawKudos(ctx context.Context, senderID, buildingLogin string) error {
	b, err := s.buildings.GetBuildingByLogin(ctx, buildingLogin)
	if err != nil {
		return err
	}
	if err := s.social.DeleteKudos(ctx, senderID, b.ID); err != nil {
		return err
	}
	if err := s.buildings.AdjustKudos(ctx, b.ID, -1); err != nil {
		s.log.WithError(err).Warn("adjust kudos count failed")
	}
	s.invalidate(ctx)
	return nil
}

// Redeem credits a referral code typed in after sign-up. Only fresh accounts
// may redeem, and only once.
func (s *Service) Redeem(ctx context.Context, referred developer.Developer, code string) (socialDomain.Referral, error) {
	if time.Since(referred.CreatedAt) > s.redeemWindow {
		return socialDomain.Referral{}, fmt.Errorf("account is %s old: %w",
			time.Since(referred.CreatedAt).Round(time.Hour), ErrRedeemWindowClosed)
	}

	referrer, err := s.developers.GetDeveloperByReferralCode(ctx, code)
	if err != nil {
		return socialDomain.Referral{}, err
	}
	return s.credit(ctx, referrer, referred)
}

// CreditSignup credits a referral carried through the OAuth flow by cookie.
// The account is brand new, so no window check applies.
func (s *Service) CreditSignup(ctx context.Context, code string, referred developer.Developer) (socialDomain.Referral, error) {
	referrer, err := s.developers.GetDeveloperByReferralCode(ctx, code)
	if err != nil {
		return socialDomain.Referral{}, err
	}
	return s.credit(ctx, referrer, referred)
}

// ReferralCredit is one successfully referred developer.
type ReferralCredit struct {
	Login     string    `json:"login"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is a developer's referral code and who it brought in.
type Summary struct {
	Code     string           `json:"code"`
	Credited []ReferralCredit `json:"credited"`
}

// ReferralSummary lists who a developer has referred.
func (s *Service) ReferralSummary(ctx context.Context, dev developer.Developer) (Summary, error) {
	referrals, err := s.social.ListReferralsByReferrer(ctx, dev.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("list referrals: %w", err)
	}

	credited := make([]ReferralCredit, 0, len(referrals))
	for _, r := range referrals {
		login := ""
		if referred, err := s.developers.GetDeveloper(ctx, r.ReferredID); err == nil {
			login = referred.Login
		}
		credited = append(credited, ReferralCredit{Login: login, CreatedAt: r.CreatedAt})
	}
	return Summary{Code: dev.ReferralCode, Credited: credited}, nil
}

func (s *Service) credit(ctx context.Context, referrer, referred developer.Developer) (socialDomain.Referral, error) {
	if referrer.ID == referred.ID {
		return socialDomain.Referral{}, ErrSelfReferral
	}

	referral, err := s.social.CreateReferral(ctx, socialDomain.Referral{
		ReferrerID: referrer.ID,
		ReferredID: referred.ID,
	})
	if err != nil {
		return socialDomain.Referral{}, err
	}
	if err := s.developers.IncrementReferrals(ctx, referrer.ID); err != nil {
		s.log.WithError(err).Warn("increment referrals failed")
	}

	s.checkAchievements(ctx, referrer.ID, achievement.MetricReferrals)
	s.appendEvent(ctx, referred.ID, feed.KindReferral, map[string]interface{}{
		"referrer": referrer.Login,
		"referred": referred.Login,
	})
	s.log.Infof("%s referred %s", referrer.Login, referred.Login)
	return referral, nil
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

func (s *Service) invalidate(ctx context.Context) {
	if s.snapshots != nil {
		s.snapshots.InvalidateSnapshot(ctx)
	}
}
