// Package main seeds the city with unclaimed buildings for developers found
// through the GitHub search API, so the skyline is not empty before anyone
// signs in. It can also apply migrations and sync the item catalog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	app "github.com/EndlessPixel/git-city/internal/app"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/internal/app/storage/postgres"
	"github.com/EndlessPixel/git-city/internal/catalog"
	"github.com/EndlessPixel/git-city/internal/config"
	"github.com/EndlessPixel/git-city/internal/github"
	"github.com/EndlessPixel/git-city/internal/platform/migrations"
)

func main() {
	query := flag.String("q", "followers:>100", "GitHub user search query")
	count := flag.Int("n", 100, "number of buildings to seed")
	migrate := flag.Bool("migrate", false, "apply database migrations before seeding")
	catalogPath := flag.String("catalog", "", "sync this YAML catalog before seeding")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(log, *query, *count, *migrate, *catalogPath); err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}
}

func run(log zerolog.Logger, query string, count int, migrate bool, catalogPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required; seeding an in-memory store is pointless")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if migrate {
		if err := migrations.Apply(db.DB); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info().Msg("migrations applied")
	}

	store := postgres.New(db)

	if catalogPath != "" {
		c, err := catalog.Load(catalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		result, err := catalog.Sync(ctx, store, store, c)
		if err != nil {
			return fmt.Errorf("sync catalog: %w", err)
		}
		log.Info().
			Int("upserted", result.ItemsUpserted).
			Int("deactivated", result.ItemsDeactivated).
			Msg("catalog synced")
	}

	gh := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.APIBaseURL,
		Token:   cfg.GitHub.APIToken,
		Timeout: cfg.GitHub.Timeout,
	}, nil)

	application, err := app.New(app.Stores{
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
	}, app.Dependencies{Stats: gh})
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	seeded := 0
	skipped := 0
	perPage := 100
	if count < perPage {
		perPage = count
	}

	for page := 1; seeded < count; page++ {
		logins, total, err := gh.SearchUsers(ctx, query, page, perPage)
		if err != nil {
			return fmt.Errorf("search users (page %d): %w", page, err)
		}
		if len(logins) == 0 {
			log.Warn().Int("total", total).Msg("search exhausted before reaching the target")
			break
		}

		for _, login := range logins {
			if seeded >= count {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			stats, err := gh.UserStats(ctx, login)
			if err != nil {
				log.Warn().Err(err).Str("login", login).Msg("stats fetch failed, skipping")
				skipped++
				continue
			}
			b, err := application.City.CreateUnclaimed(ctx, login, stats)
			if err != nil {
				if errors.Is(err, storage.ErrConflict) {
					skipped++
					continue
				}
				return fmt.Errorf("create building for %s: %w", login, err)
			}
			seeded++
			log.Info().
				Str("login", login).
				Int("plot_x", b.PlotX).
				Int("plot_y", b.PlotY).
				Float64("height", b.Height).
				Msg("building seeded")
		}
	}

	log.Info().Int("seeded", seeded).Int("skipped", skipped).Msg("done")
	return nil
}
