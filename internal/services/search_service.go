package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postmesh/internal/domain/search"
	"postmesh/internal/events"
	"postmesh/internal/redis"
	"postmesh/internal/repository"
	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	"go.uber.org/zap"
)

// SearchResultLimit caps the number of rows a query returns.
const SearchResultLimit = 10

// SearchService owns the search projection. The projection is only written
// by the post:created and post:deleted handlers.
type SearchService struct {
	repo         repository.SearchRepository
	cache        *redis.CacheStore
	logger       *logger.Logger
	storeTimeout time.Duration
}

func NewSearchService(repo repository.SearchRepository, cache *redis.CacheStore, l *logger.Logger, storeTimeout time.Duration) *SearchService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &SearchService{
		repo:         repo,
		cache:        cache,
		logger:       l,
		storeTimeout: storeTimeout,
	}
}

// HandlePostCreated upserts the projection row for the post. Redelivery
// overwrites the row with identical data; a post that was already deleted is
// left alone.
func (s *SearchService) HandlePostCreated(ctx context.Context, event events.DomainEvent) error {
	payload, err := events.DecodePostCreated(event)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	applied, err := s.repo.Upsert(storeCtx, search.Projection{
		PostID:    payload.PostID,
		UserID:    payload.UserID,
		Content:   payload.Content,
		CreatedAt: payload.CreatedAt,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to index post %s: %w", payload.PostID, err)
	}

	if !applied {
		s.logger.Info(ctx, "ignoring post:created for deleted post", zap.String("post_id", payload.PostID))
		return nil
	}
	s.invalidate(ctx)
	s.logger.Info(ctx, "post indexed", zap.String("post_id", payload.PostID))
	return nil
}

// HandlePostDeleted removes the row matching {postId, userId} and records the
// delete so a late post:created is ignored. No matching row is not an error.
func (s *SearchService) HandlePostDeleted(ctx context.Context, event events.DomainEvent) error {
	payload, err := events.DecodePostDeleted(event)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	removed, err := s.repo.Delete(storeCtx, payload.PostID, payload.UserID)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to remove post %s from index: %w", payload.PostID, err)
	}

	if !removed {
		s.logger.Info(ctx, "no indexed row for deleted post",
			zap.String("post_id", payload.PostID),
			zap.String("owner_id", payload.UserID))
		return nil
	}
	s.invalidate(ctx)
	s.logger.Info(ctx, "post removed from index", zap.String("post_id", payload.PostID))
	return nil
}

// Search runs a full-text query, cached under search:query:<query>.
func (s *SearchService) Search(ctx context.Context, query string) ([]search.Projection, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", postmesh_errors.ErrInvalidInput)
	}
	return redis.Fetch(ctx, s.cache, "search", redis.SearchQueryKey(query), s.cache.Config().SearchTTL,
		func(ctx context.Context) ([]search.Projection, error) {
			ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
			defer cancel()
			return s.repo.Search(ctx, query, SearchResultLimit)
		})
}

func (s *SearchService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateSearch(ctx); err != nil {
		s.logger.Warn(ctx, "search cache invalidation failed", zap.Error(err))
	}
}
