// Package maintenance runs the janitorial jobs the city needs but no request
// triggers: the Monday weekly raid reset and a periodic sweep of stale
// purchases, expired billboards, and dead sessions.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/system"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

const (
	// weeklyResetSpec fires Mondays at midnight UTC.
	weeklyResetSpec = "0 0 * * 1"
	sweepSpec       = "@every 10m"
	jobTimeout      = time.Minute
)

// WeeklyResetter zeroes the weekly raid counters.
type WeeklyResetter interface {
	WeeklyReset(ctx context.Context) (int64, error)
}

// SnapshotInvalidator drops the cached city snapshot.
type SnapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context)
}

// Config carries the scheduler's dependencies.
type Config struct {
	Purchases  storage.PurchaseStore
	Billboards storage.BillboardStore
	Sessions   storage.SessionStore
	Raids      WeeklyResetter
	Snapshots  SnapshotInvalidator
	// PendingTTL is how long a pending purchase may wait on its provider
	// before the sweep expires it.
	PendingTTL time.Duration
	Logger     *logger.Logger
}

// Scheduler owns the cron table. Jobs get a fresh context per run so a hung
// store call cannot pin the scheduler past its timeout.
type Scheduler struct {
	purchases  storage.PurchaseStore
	billboards storage.BillboardStore
	sessions   storage.SessionStore
	raids      WeeklyResetter
	snapshots  SnapshotInvalidator
	pendingTTL time.Duration
	log        *logger.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

var _ system.Service = (*Scheduler)(nil)

func NewScheduler(cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Scheduler{
		purchases:  cfg.Purchases,
		billboards: cfg.Billboards,
		sessions:   cfg.Sessions,
		raids:      cfg.Raids,
		snapshots:  cfg.Snapshots,
		pendingTTL: ttl,
		log:        log,
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(weeklyResetSpec, s.runWeeklyReset); err != nil {
		log.WithError(err).Error("register weekly reset job")
	}
	if _, err := c.AddFunc(sweepSpec, s.runSweep); err != nil {
		log.WithError(err).Error("register sweep job")
	}
	s.cron = c
	return s
}

func (s *Scheduler) Name() string { return "maintenance" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.Info("maintenance scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) runWeeklyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.weeklyReset(ctx)
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.sweep(ctx)
}

func (s *Scheduler) weeklyReset(ctx context.Context) {
	if s.raids == nil {
		return
	}
	if _, err := s.raids.WeeklyReset(ctx); err != nil {
		s.log.WithError(err).Error("weekly reset failed")
	}
}

// sweep clears rows whose time has come. Each job is independent; one failing
// never blocks the others.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if s.purchases != nil {
		if n, err := s.purchases.ExpireStalePending(ctx, now.Add(-s.pendingTTL)); err != nil {
			s.log.WithError(err).Warn("expire stale purchases failed")
		} else if n > 0 {
			s.log.Infof("expired %d stale pending purchase(s)", n)
		}
	}

	cleared := int64(0)
	if s.billboards != nil {
		n, err := s.billboards.DeleteExpiredBillboards(ctx, now)
		if err != nil {
			s.log.WithError(err).Warn("delete expired billboards failed")
		} else if n > 0 {
			s.log.Infof("removed %d expired billboard(s)", n)
			cleared = n
		}
	}

	if s.sessions != nil {
		if n, err := s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
			s.log.WithError(err).Warn("delete expired sessions failed")
		} else if n > 0 {
			s.log.Infof("deleted %d expired session(s)", n)
		}
	}

	if cleared > 0 && s.snapshots != nil {
		s.snapshots.InvalidateSnapshot(ctx)
	}
}
