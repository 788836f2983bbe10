package repository

import (
	"context"
	"errors"
	"time"

	"postmesh/internal/domain/post"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresPostRepository struct {
	db DBTX
}

func NewPostRepository(db DBTX) PostRepository {
	return &PostgresPostRepository{db: db}
}

const postColumns = `id, user_id, content, media_ids, created_at, updated_at`

func scanPost(row pgx.Row) (post.Post, error) {
	var p post.Post
	err := row.Scan(&p.ID, &p.UserID, &p.Content, &p.MediaIDs, &p.CreatedAt, &p.UpdatedAt)
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}
	return p, err
}

func (r *PostgresPostRepository) Create(ctx context.Context, p *post.Post) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.Content, p.MediaIDs, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return postmesh_errors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PostgresPostRepository) GetByID(ctx context.Context, id uuid.UUID) (post.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return post.Post{}, postmesh_errors.ErrNotFound
		}
		return post.Post{}, err
	}
	return p, nil
}

func (r *PostgresPostRepository) List(ctx context.Context, offset, limit int) ([]post.Post, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]post.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

func (r *PostgresPostRepository) DeleteOwned(ctx context.Context, id uuid.UUID, userID string) (post.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx,
		`DELETE FROM posts WHERE id = $1 AND user_id = $2 RETURNING `+postColumns,
		id, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return post.Post{}, postmesh_errors.ErrNotFound
		}
		return post.Post{}, err
	}
	return p, nil
}
