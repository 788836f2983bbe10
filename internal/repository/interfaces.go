package repository

import (
	"context"

	"postmesh/internal/domain/media"
	"postmesh/internal/domain/post"
	"postmesh/internal/domain/search"

	"github.com/google/uuid"
)

type PostRepository interface {
	Create(ctx context.Context, p *post.Post) error
	GetByID(ctx context.Context, id uuid.UUID) (post.Post, error)
	// List returns posts newest first plus the total count.
	List(ctx context.Context, offset, limit int) ([]post.Post, int64, error)
	// DeleteOwned removes the post only when userID owns it and returns the
	// removed row. ErrNotFound covers both a missing and a foreign post.
	DeleteOwned(ctx context.Context, id uuid.UUID, userID string) (post.Post, error)
}

type SearchRepository interface {
	// Upsert writes the projection unless its owner's tombstone exists. applied
	// is false when the write was skipped for that reason. Upsert and Delete
	// for the same post never interleave.
	Upsert(ctx context.Context, p search.Projection) (applied bool, err error)
	// Delete tombstones {postID, userID} and removes the matching row.
	// removed is false when no row matched.
	Delete(ctx context.Context, postID, userID string) (removed bool, err error)
	Search(ctx context.Context, query string, limit int) ([]search.Projection, error)
}

type MediaRepository interface {
	Create(ctx context.Context, r *media.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (media.Record, error)
	ListByUser(ctx context.Context, userID string) ([]media.Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
