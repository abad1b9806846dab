// Package postgres implements the storage interfaces on PostgreSQL. Queries
// are plain SQL through sqlx; constraint violations are translated to the
// storage sentinels so services never see driver errors.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/EndlessPixel/git-city/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.DeveloperStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.BuildingStore = (*Store)(nil)
var _ storage.ItemStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.LoadoutStore = (*Store)(nil)
var _ storage.RaidStore = (*Store)(nil)
var _ storage.AchievementStore = (*Store)(nil)
var _ storage.SocialStore = (*Store)(nil)
var _ storage.BillboardStore = (*Store)(nil)
var _ storage.FeedStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Postgres error codes worth translating.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// mapError rewrites constraint violations into the storage sentinels and
// passes everything else through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, storage.ErrConflict)
		case codeCheckViolation, codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, storage.ErrConstraint)
		}
	}
	return err
}
