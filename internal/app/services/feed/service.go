// Package feed serves the public activity stream. Writes happen inside the
// domain services as things occur; this service only reads.
package feed

import (
	"context"
	"fmt"

	feedDomain "github.com/EndlessPixel/git-city/internal/app/domain/feed"
	"github.com/EndlessPixel/git-city/internal/app/storage"
	"github.com/EndlessPixel/git-city/pkg/logger"
)

// Page size bounds.
const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// Service reads the activity feed.
type Service struct {
	store storage.FeedStore
	log   *logger.Logger
}

// New creates the feed service.
func New(store storage.FeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feed")
	}
	return &Service{store: store, log: log}
}

// List returns one page of events, newest first, plus the total event count
// for pagination headers. Pages are 1-based.
func (s *Service) List(ctx context.Context, page, perPage int) ([]feedDomain.Event, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	total, err := s.store.CountEvents(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	events, err := s.store.ListEvents(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}
