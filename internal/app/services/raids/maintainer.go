package raids

import (
	"context"
	"sync"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/system"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Maintainer sweeps expired graffiti tags so buildings shed their shame on
// time even when nobody looks at them.
type Maintainer struct {
	store     storage.RaidStore
	snapshots SnapshotInvalidator
	interval  time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Maintainer)(nil)

func NewMaintainer(store storage.RaidStore, snapshots SnapshotInvalidator, interval time.Duration, log *logger.Logger) *Maintainer {
	if log == nil {
		log = logger.NewDefault("raid-maintainer")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Maintainer{
		store:     store,
		snapshots: snapshots,
		interval:  interval,
		log:       log,
	}
}

func (m *Maintainer) Name() string { return "raid-maintainer" }

func (m *Maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweep(runCtx)
			}
		}
	}()

	m.log.Info("raid maintainer started")
	return nil
}

func (m *Maintainer) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (m *Maintainer) sweep(ctx context.Context) {
	removed, err := m.store.DeleteExpiredTags(ctx, time.Now().UTC())
	if err != nil {
		m.log.WithError(err).Warn("delete expired tags failed")
		return
	}
	if removed == 0 {
		return
	}
	m.log.Infof("removed %d expired graffiti tag(s)", removed)
	if m.snapshots != nil {
		m.snapshots.InvalidateSnapshot(ctx)
	}
}
