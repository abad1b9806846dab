package app

import (
	"context"
	"fmt"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/services/achievements"
	billboardsvc "github.com/EndlessPixel/git-city/internal/app/services/billboards"
	citysvc "github.com/EndlessPixel/git-city/internal/app/services/city"
	feedsvc "github.com/EndlessPixel/git-city/internal/app/services/feed"
	"github.com/EndlessPixel/git-city/internal/app/services/identity"
	loadoutsvc "github.com/EndlessPixel/git-city/internal/app/services/loadouts"
	"github.com/EndlessPixel/git-city/internal/app/services/maintenance"
	"github.com/EndlessPixel/git-city/internal/app/services/presence"
	raidsvc "github.com/EndlessPixel/git-city/internal/app/services/raids"
	shopsvc "github.com/EndlessPixel/git-city/internal/app/services/shop"
	socialsvc "github.com/EndlessPixel/git-city/internal/app/services/social"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
	"github.com/EndlessPixel/git-city/internal/app/storage/redis"
	"github.com/EndlessPixel/git-city/internal/app/system"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation, which keeps tests and local hacking database-free.
type Stores struct {
	Developers   storage.DeveloperStore
	Sessions     storage.SessionStore
	Buildings    storage.BuildingStore
	Items        storage.ItemStore
	Purchases    storage.PurchaseStore
	Loadouts     storage.LoadoutStore
	Raids        storage.RaidStore
	Achievements storage.AchievementStore
	Social       storage.SocialStore
	Billboards   storage.BillboardStore
	Feed         storage.FeedStore
}

// Settings carries the tunables services need. Zero values fall back to each
// service's own default.
type Settings struct {
	TagTTL             time.Duration
	PendingPurchaseTTL time.Duration
	BillboardSlotArea  float64
	BillboardMaxSlots  int
	SkyBillboardSlots  int
	BillboardRun       time.Duration
	MediaBase          string
	RedeemWindow       time.Duration
	PIXPollInterval    time.Duration
	HeartbeatTimeout   time.Duration
}

// Dependencies are the external adapters: payment gateways, the GitHub API,
// redis, and token signing. Any of them may be nil; the owning service
// degrades rather than fails.
type Dependencies struct {
	Logger   *logger.Logger
	Settings Settings

	Tokens *auth.Manager
	Stats  citysvc.StatsSource

	Card        shopsvc.CardGateway
	PIX         shopsvc.PIXGateway
	PIXResolver shopsvc.ChargeResolver

	Cache       *redis.Cache
	Leaderboard *redis.Leaderboard

	Roller raidsvc.Roller
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Identity     *identity.Service
	City         *citysvc.Service
	Shop         *shopsvc.Service
	Loadouts     *loadoutsvc.Service
	Raids        *raidsvc.Service
	Social       *socialsvc.Service
	Billboards   *billboardsvc.Service
	Achievements *achievements.Service
	Feed         *feedsvc.Service
	Presence     *presence.Hub
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, deps Dependencies) (*Application, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Developers == nil {
		stores.Developers = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Buildings == nil {
		stores.Buildings = mem
	}
	if stores.Items == nil {
		stores.Items = mem
	}
	if stores.Purchases == nil {
		stores.Purchases = mem
	}
	if stores.Loadouts == nil {
		stores.Loadouts = mem
	}
	if stores.Raids == nil {
		stores.Raids = mem
	}
	if stores.Achievements == nil {
		stores.Achievements = mem
	}
	if stores.Social == nil {
		stores.Social = mem
	}
	if stores.Billboards == nil {
		stores.Billboards = mem
	}
	if stores.Feed == nil {
		stores.Feed = mem
	}

	settings := deps.Settings
	manager := system.NewManager()

	achievementService := achievements.New(stores.Achievements, stores.Developers, stores.Buildings, stores.Purchases, stores.Feed, log)

	cityService := citysvc.New(citysvc.Config{
		Buildings:  stores.Buildings,
		Developers: stores.Developers,
		Loadouts:   stores.Loadouts,
		Raids:      stores.Raids,
		Billboards: stores.Billboards,
		Feed:       stores.Feed,
		Stats:      deps.Stats,
		Unlocker:   achievementService,
		Cache:      deps.Cache,
		Logger:     log,
	})

	identityService := identity.New(stores.Developers, stores.Sessions, deps.Tokens, log)
	feedService := feedsvc.New(stores.Feed, log)

	shopService := shopsvc.New(shopsvc.Config{
		Items:      stores.Items,
		Purchases:  stores.Purchases,
		Developers: stores.Developers,
		Feed:       stores.Feed,
		Card:       deps.Card,
		PIX:        deps.PIX,
		Unlocker:   achievementService,
		PendingTTL: settings.PendingPurchaseTTL,
		Logger:     log,
	})

	loadoutService := loadoutsvc.New(stores.Loadouts, stores.Items, stores.Purchases, cityService, log)

	raidService := raidsvc.New(raidsvc.Config{
		Raids:       stores.Raids,
		Developers:  stores.Developers,
		Buildings:   stores.Buildings,
		Loadouts:    stores.Loadouts,
		Items:       stores.Items,
		Feed:        stores.Feed,
		Leaderboard: deps.Leaderboard,
		Snapshots:   cityService,
		Unlocker:    achievementService,
		Roller:      deps.Roller,
		TagTTL:      settings.TagTTL,
		Logger:      log,
	})

	socialService := socialsvc.New(socialsvc.Config{
		Social:       stores.Social,
		Developers:   stores.Developers,
		Buildings:    stores.Buildings,
		Feed:         stores.Feed,
		Snapshots:    cityService,
		Unlocker:     achievementService,
		RedeemWindow: settings.RedeemWindow,
		Logger:       log,
	})

	billboardService := billboardsvc.New(billboardsvc.Config{
		Billboards: stores.Billboards,
		Purchases:  stores.Purchases,
		Items:      stores.Items,
		Buildings:  stores.Buildings,
		Snapshots:  cityService,
		SlotArea:   settings.BillboardSlotArea,
		MaxSlots:   settings.BillboardMaxSlots,
		SkySlots:   settings.SkyBillboardSlots,
		Run:        settings.BillboardRun,
		MediaBase:  settings.MediaBase,
		Logger:     log,
	})

	hub := presence.NewHub(presence.HubConfig{
		HeartbeatTimeout: settings.HeartbeatTimeout,
		Logger:           log,
	})

	for _, name := range []string{"identity", "city", "shop"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	services := []system.Service{
		hub,
		raidsvc.NewMaintainer(stores.Raids, cityService, 0, log),
		maintenance.NewScheduler(maintenance.Config{
			Purchases:  stores.Purchases,
			Billboards: stores.Billboards,
			Sessions:   stores.Sessions,
			Raids:      raidService,
			Snapshots:  cityService,
			PendingTTL: settings.PendingPurchaseTTL,
			Logger:     log,
		}),
	}
	if deps.PIXResolver != nil {
		services = append(services, shopsvc.NewPaymentPoller(stores.Purchases, shopService, deps.PIXResolver, settings.PIXPollInterval, log))
	} else {
		log.Warn("PIX resolver not configured; payment poller disabled")
	}

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Identity:     identityService,
		City:         cityService,
		Shop:         shopService,
		Loadouts:     loadoutService,
		Raids:        raidService,
		Social:       socialService,
		Billboards:   billboardService,
		Achievements: achievementService,
		Feed:         feedService,
		Presence:     hub,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered components in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start seeds the built-in achievement definitions and begins all registered
// services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Achievements.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("ensure achievement defaults: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
