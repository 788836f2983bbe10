package repository

import (
	"context"
	"errors"
	"time"

	"postmesh/internal/domain/media"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresMediaRepository struct {
	db DBTX
}

func NewMediaRepository(db DBTX) MediaRepository {
	return &PostgresMediaRepository{db: db}
}

const mediaColumns = `id, public_id, original_name, mime_type, url, user_id, created_at`

func scanMedia(row pgx.Row) (media.Record, error) {
	var m media.Record
	err := row.Scan(&m.ID, &m.PublicID, &m.OriginalName, &m.MimeType, &m.URL, &m.UserID, &m.CreatedAt)
	return m, err
}

func (r *PostgresMediaRepository) Create(ctx context.Context, m *media.Record) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO media (`+mediaColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.PublicID, m.OriginalName, m.MimeType, m.URL, m.UserID, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return postmesh_errors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PostgresMediaRepository) GetByID(ctx context.Context, id uuid.UUID) (media.Record, error) {
	m, err := scanMedia(r.db.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return media.Record{}, postmesh_errors.ErrNotFound
		}
		return media.Record{}, err
	}
	return m, nil
}

func (r *PostgresMediaRepository) ListByUser(ctx context.Context, userID string) ([]media.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []media.Record{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

func (r *PostgresMediaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return postmesh_errors.ErrNotFound
	}
	return nil
}
