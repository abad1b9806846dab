// Package main runs the Git City API server: GitHub sign-in, the city
// snapshot, the cosmetic shop with card and PIX payments, raids, billboards,
// and the realtime presence channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/EndlessPixel/git-city/internal/app"
	"github.com/EndlessPixel/git-city/internal/app/auth"
	"github.com/EndlessPixel/git-city/internal/app/httpapi"
	"github.com/EndlessPixel/git-city/internal/app/storage/memory"
	"github.com/EndlessPixel/git-city/internal/app/storage/postgres"
	"github.com/EndlessPixel/git-city/internal/app/storage/redis"
	"github.com/EndlessPixel/git-city/internal/catalog"
	"github.com/EndlessPixel/git-city/internal/config"
	"github.com/EndlessPixel/git-city/internal/github"
	"github.com/EndlessPixel/git-city/internal/logging"
	"github.com/EndlessPixel/git-city/internal/media"
	"github.com/EndlessPixel/git-city/internal/payments/card"
	"github.com/EndlessPixel/git-city/internal/payments/pix"
	"github.com/EndlessPixel/git-city/internal/platform/migrations"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cityserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("service", "cityserver")
	httpLog := logging.New("cityserver", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeDB, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	var cache *redis.Cache
	var leaderboard *redis.Leaderboard
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		cache = redis.NewCache(rdb, cfg.City.SnapshotCacheTTL)
		leaderboard = redis.NewLeaderboard(rdb)
		log.Info("redis connected")
	} else {
		log.Info("REDIS_ADDR not set; snapshot cache and leaderboard run on the database")
	}

	ghClient := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.APIBaseURL,
		Token:   cfg.GitHub.APIToken,
		Timeout: cfg.GitHub.Timeout,
	}, log)
	oauth := github.NewOAuth(github.OAuthConfig{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		BaseURL:      cfg.GitHub.OAuthBaseURL,
		APIBaseURL:   cfg.GitHub.APIBaseURL,
		Timeout:      cfg.GitHub.Timeout,
	})

	var cardClient *card.Client
	if cfg.Payments.CardBaseURL != "" || cfg.Payments.CardWebhookSecret != "" {
		cardClient = card.New(card.Config{
			BaseURL:       cfg.Payments.CardBaseURL,
			APIKey:        cfg.Payments.CardAPIKey,
			WebhookSecret: cfg.Payments.CardWebhookSecret,
			SuccessURL:    cfg.Payments.CardSuccessURL,
		})
	}
	var pixClient *pix.Client
	if cfg.Payments.PIXBaseURL != "" || cfg.Payments.PIXWebhookSecret != "" {
		pixClient = pix.New(pix.Config{
			BaseURL:       cfg.Payments.PIXBaseURL,
			APIKey:        cfg.Payments.PIXAPIKey,
			WebhookSecret: cfg.Payments.PIXWebhookSecret,
			PollInterval:  cfg.Payments.PIXPollInterval,
			TxIDPath:      cfg.Payments.PIXTxIDPath,
			StatusPath:    cfg.Payments.PIXStatusPath,
			QRPath:        cfg.Payments.PIXQRPath,
			QRURLPath:     cfg.Payments.PIXQRURLPath,
		})
	}
	var mediaClient *media.Client
	if cfg.Media.BaseURL != "" {
		mediaClient = media.New(media.Config{
			BaseURL:   cfg.Media.BaseURL,
			APIKey:    cfg.Media.APIKey,
			Bucket:    cfg.Media.Bucket,
			MaxUpload: cfg.Media.MaxUpload,
		})
	}

	tokens := auth.New(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	stateSecret := cfg.Auth.StateSecret
	if stateSecret == "" {
		stateSecret = cfg.Auth.JWTSecret
	}

	deps := app.Dependencies{
		Logger: log,
		Settings: app.Settings{
			TagTTL:             cfg.City.TagTTL,
			PendingPurchaseTTL: cfg.City.PendingPurchaseTTL,
			BillboardSlotArea:  cfg.City.BillboardSlotArea,
			BillboardMaxSlots:  cfg.City.BillboardMaxSlots,
			SkyBillboardSlots:  cfg.City.SkyBillboardSlots,
			BillboardRun:       cfg.City.BillboardRun,
			MediaBase:          cfg.Media.BaseURL,
			RedeemWindow:       cfg.Auth.RedeemWindow,
			PIXPollInterval:    cfg.Payments.PIXPollInterval,
		},
		Tokens:      tokens,
		Stats:       ghClient,
		Cache:       cache,
		Leaderboard: leaderboard,
	}
	if cardClient != nil {
		deps.Card = cardClient
	}
	if pixClient != nil {
		deps.PIX = pixClient
		deps.PIXResolver = pixClient
	}

	application, err := app.New(stores, deps)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := syncCatalog(ctx, cfg, stores, log); err != nil {
		return err
	}

	server, err := httpapi.NewServer(httpapi.Config{
		App:            application,
		Tokens:         tokens,
		State:          auth.NewState(stateSecret, 10*time.Minute),
		OAuth:          oauth,
		Card:           cardClient,
		PIX:            pixClient,
		Media:          mediaClient,
		Items:          stores.Items,
		Achievements:   stores.Achievements,
		Sessions:       stores.Sessions,
		CatalogPath:    cfg.City.CatalogPath,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		FrontendURL:    cfg.Server.FrontendURL,
		CookieName:     cfg.Auth.CookieName,
		CookieSecure:   cfg.Auth.CookieSecure,
		AdminKeys:      cfg.AdminKeys(),
		AllowedOrigins: cfg.Origins(),
		RatePerSecond:  cfg.Auth.RateLimit,
		RateBurst:      cfg.Auth.RateBurst,
		RaidsPerMinute: cfg.Auth.RaidPerMinute,
		AuditLogPath:   cfg.Server.AuditLogPath,
		Logger:         httpLog,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop incomplete")
	}
	log.Info("stopped")
	return nil
}

// buildStores opens postgres when DATABASE_URL is set and falls back to the
// shared in-memory store otherwise. The returned closer is nil for memory.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set; using the in-memory store, data is lost on restart")
		mem := memory.New()
		return app.Stores{
			Developers:   mem,
			Sessions:     mem,
			Buildings:    mem,
			Items:        mem,
			Purchases:    mem,
			Loadouts:     mem,
			Raids:        mem,
			Achievements: mem,
			Social:       mem,
			Billboards:   mem,
			Feed:         mem,
		}, nil, nil
	}

	db, err := sqlx.Open("postgres", cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(db.DB); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	store := postgres.New(db)
	stores := app.Stores{
		Developers:   store,
		Sessions:     store,
		Buildings:    store,
		Items:        store,
		Purchases:    store,
		Loadouts:     store,
		Raids:        store,
		Achievements: store,
		Social:       store,
		Billboards:   store,
		Feed:         store,
	}
	return stores, func() { db.Close() }, nil
}

// syncCatalog loads the YAML item catalog at boot when the file exists. A
// missing catalog is fine; the admin endpoint can sync one later.
func syncCatalog(ctx context.Context, cfg *config.Config, stores app.Stores, log *logger.Logger) error {
	if cfg.City.CatalogPath == "" {
		return nil
	}
	c, err := catalog.Load(cfg.City.CatalogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("catalog %s not found; shop starts empty", cfg.City.CatalogPath)
			return nil
		}
		return fmt.Errorf("load catalog: %w", err)
	}
	result, err := catalog.Sync(ctx, stores.Items, stores.Achievements, c)
	if err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	log.Infof("catalog synced: %d items upserted, %d deactivated", result.ItemsUpserted, result.ItemsDeactivated)
	return nil
}
