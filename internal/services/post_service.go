package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"postmesh/internal/domain/post"
	"postmesh/internal/redis"
	"postmesh/internal/repository"
	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type PostService struct {
	repo         repository.PostRepository
	cache        *redis.CacheStore
	events       *EventPublisher
	logger       *logger.Logger
	storeTimeout time.Duration
}

func NewPostService(repo repository.PostRepository, cache *redis.CacheStore, events *EventPublisher, l *logger.Logger, storeTimeout time.Duration) *PostService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &PostService{
		repo:         repo,
		cache:        cache,
		events:       events,
		logger:       l,
		storeTimeout: storeTimeout,
	}
}

type CreatePostInput struct {
	UserID   string
	Content  string
	MediaIDs []string
}

func (in CreatePostInput) validate() error {
	if in.UserID == "" {
		return postmesh_errors.ErrUnauthorized
	}
	n := utf8.RuneCountInString(strings.TrimSpace(in.Content))
	if n < post.MinContentLength || n > post.MaxContentLength {
		return fmt.Errorf("%w: content must be between %d and %d characters",
			postmesh_errors.ErrInvalidInput, post.MinContentLength, post.MaxContentLength)
	}
	for _, id := range in.MediaIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: media ids must not be empty", postmesh_errors.ErrInvalidInput)
		}
	}
	return nil
}

// Create stores the post, invalidates the cache, then publishes post:created.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (post.Post, error) {
	if err := in.validate(); err != nil {
		return post.Post{}, err
	}

	p := post.Post{
		ID:       uuid.New(),
		UserID:   in.UserID,
		Content:  strings.TrimSpace(in.Content),
		MediaIDs: in.MediaIDs,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.repo.Create(storeCtx, &p)
	cancel()
	if err != nil {
		return post.Post{}, fmt.Errorf("failed to create post: %w", err)
	}

	s.invalidate(ctx, p.ID)
	s.events.PublishPostCreated(ctx, p)

	s.logger.Info(ctx, "post created", zap.String("post_id", p.ID.String()))
	return p, nil
}

// Get is a read-through lookup on post:<id>. Missing posts are not cached.
func (s *PostService) Get(ctx context.Context, id uuid.UUID) (post.Post, error) {
	return redis.Fetch(ctx, s.cache, "post", redis.PostKey(id.String()), s.cache.Config().PostTTL,
		func(ctx context.Context) (post.Post, error) {
			ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
			defer cancel()
			return s.repo.GetByID(ctx, id)
		})
}

// List returns one newest-first page, cached under posts:<page>:<limit>.
func (s *PostService) List(ctx context.Context, page, limit int) (post.Page, error) {
	page, limit = NormalizePage(page, limit)
	return redis.Fetch(ctx, s.cache, "posts", redis.PostListKey(page, limit), s.cache.Config().ListTTL,
		func(ctx context.Context) (post.Page, error) {
			ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
			defer cancel()

			posts, total, err := s.repo.List(ctx, (page-1)*limit, limit)
			if err != nil {
				return post.Page{}, err
			}
			return post.Page{
				Posts:       posts,
				CurrentPage: page,
				TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
				Total:       total,
			}, nil
		})
}

// Delete removes a post owned by userID, invalidates the cache, then
// publishes post:deleted carrying the post's media ids.
func (s *PostService) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if userID == "" {
		return postmesh_errors.ErrUnauthorized
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	deleted, err := s.repo.DeleteOwned(storeCtx, id, userID)
	cancel()
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.events.PublishPostDeleted(ctx, deleted)

	s.logger.Info(ctx, "post deleted",
		zap.String("post_id", id.String()),
		zap.Int("media_count", len(deleted.MediaIDs)))
	return nil
}

func (s *PostService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.InvalidatePost(ctx, id.String()); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed",
			zap.String("post_id", id.String()),
			zap.Error(err))
	}
}

// NormalizePage applies the listing defaults and caps.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}
