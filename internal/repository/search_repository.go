package repository

import (
	"context"

	"postmesh/internal/domain/search"
)

type PostgresSearchRepository struct {
	db DBTX
}

func NewSearchRepository(db DBTX) SearchRepository {
	return &PostgresSearchRepository{db: db}
}

// Upsert stores the projection unless the owner already deleted the post.
func (r *PostgresSearchRepository) Upsert(ctx context.Context, p search.Projection) (bool, error) {
	var stored bool
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		if err := lockPost(ctx, tx, p.PostID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO search_posts (post_id, user_id, content, created_at)
			SELECT $1::text, $2::text, $3::text, $4::timestamptz
			WHERE NOT EXISTS (
				SELECT 1 FROM search_tombstones WHERE post_id = $1::text AND user_id = $2::text
			)
			ON CONFLICT (post_id) DO UPDATE
			SET user_id = EXCLUDED.user_id, content = EXCLUDED.content, created_at = EXCLUDED.created_at`,
			p.PostID, p.UserID, p.Content, p.CreatedAt,
		)
		if err != nil {
			return err
		}
		stored = tag.RowsAffected() > 0
		return nil
	})
	return stored, err
}

// Delete records the owner's tombstone and removes the matching row.
func (r *PostgresSearchRepository) Delete(ctx context.Context, postID, userID string) (bool, error) {
	var removed bool
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		if err := lockPost(ctx, tx, postID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO search_tombstones (post_id, user_id) VALUES ($1, $2) ON CONFLICT (post_id, user_id) DO NOTHING`,
			postID, userID,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM search_posts WHERE post_id = $1 AND user_id = $2`,
			postID, userID,
		)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		return nil
	})
	return removed, err
}

// lockPost serializes projection writes for one post until the transaction
// ends. Without it a create whose snapshot predates a concurrent delete's
// commit would miss the tombstone and insert a row nothing will remove.
func lockPost(ctx context.Context, tx DBTX, postID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, postID)
	return err
}

func (r *PostgresSearchRepository) Search(ctx context.Context, query string, limit int) ([]search.Projection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT post_id, user_id, content, created_at
		FROM search_posts, plainto_tsquery('english', $1) q
		WHERE to_tsvector('english', content) @@ q
		ORDER BY ts_rank(to_tsvector('english', content), q) DESC, created_at DESC
		LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]search.Projection, 0, limit)
	for rows.Next() {
		var p search.Projection
		if err := rows.Scan(&p.PostID, &p.UserID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}
