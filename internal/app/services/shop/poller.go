package shop

import (
	"context"
	"sync"
	"time"

	shopDomain "github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/system"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// PaymentPoller watches pending PIX purchases and settles the ones whose
// charges resolved while no webhook arrived. Webhooks and the poller share
// the idempotent finalize path, so both may race freely.
type PaymentPoller struct {
	store    storage.PurchaseStore
	service  *Service
	resolver ChargeResolver
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*PaymentPoller)(nil)

func NewPaymentPoller(store storage.PurchaseStore, service *Service, resolver ChargeResolver, interval time.Duration, log *logger.Logger) *PaymentPoller {
	if log == nil {
		log = logger.NewDefault("payment-poller")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PaymentPoller{
		store:       store,
		service:     service,
		resolver:    resolver,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (p *PaymentPoller) Name() string { return "payment-poller" }

func (p *PaymentPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("payment poller started")
	return nil
}

func (p *PaymentPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *PaymentPoller) tick(ctx context.Context) {
	purchases, err := p.store.ListPendingByProvider(ctx, shopDomain.ProviderPIX)
	if err != nil {
		p.log.WithError(err).Warn("list pending pix purchases failed")
		return
	}
	p.pruneSchedules(purchases)

	now := time.Now()
	for _, purchase := range purchases {
		if !p.shouldAttempt(purchase.ID, now) {
			continue
		}

		done, success, ref, message, retryAfter, err := p.resolver.Resolve(ctx, purchase)
		if err != nil {
			p.log.WithError(err).Warnf("resolver error for purchase %s", purchase.ID)
			p.scheduleNext(purchase.ID, retryAfter)
			continue
		}

		if ref != "" && purchase.ProviderRef == "" {
			if err := p.service.AttachProviderRef(ctx, purchase.ID, ref); err != nil {
				p.log.WithError(err).Warnf("attach provider ref to %s failed", purchase.ID)
			}
		}

		if !done {
			p.scheduleNext(purchase.ID, retryAfter)
			continue
		}

		if _, err := p.service.FinalizeByID(ctx, purchase.ID, success); err != nil {
			p.log.WithError(err).Warnf("finalize purchase %s failed", purchase.ID)
			p.scheduleNext(purchase.ID, retryAfter)
			continue
		}
		if message != "" {
			p.log.Infof("purchase %s settled (success=%t): %s", purchase.ID, success, message)
		} else {
			p.log.Infof("purchase %s settled (success=%t)", purchase.ID, success)
		}
		p.clearSchedule(purchase.ID)
	}
}

func (p *PaymentPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (p *PaymentPoller) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

// pruneSchedules drops retry state for purchases that left the pending set
// without settling through the poller: webhook settlements and the stale
// sweep would otherwise leave their keys behind forever.
func (p *PaymentPoller) pruneSchedules(pending []shopDomain.Purchase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nextAttempt) == 0 {
		return
	}
	keep := make(map[string]bool, len(pending))
	for _, purchase := range pending {
		keep[purchase.ID] = true
	}
	for id := range p.nextAttempt {
		if !keep[id] {
			delete(p.nextAttempt, id)
		}
	}
}

func (p *PaymentPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}
