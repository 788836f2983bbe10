package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"postmesh/internal/domain/media"
	"postmesh/internal/events"
	"postmesh/internal/metrics"
	"postmesh/internal/repository"
	"postmesh/internal/storage"
	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobStore is the remote object store holding media bytes.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, sizeBytes int64) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

type MediaService struct {
	repo           repository.MediaRepository
	blobs          BlobStore
	logger         *logger.Logger
	metrics        *metrics.Metrics
	storeTimeout   time.Duration
	maxUploadBytes int64
}

func NewMediaService(repo repository.MediaRepository, blobs BlobStore, l *logger.Logger, m *metrics.Metrics, storeTimeout time.Duration, maxUploadBytes int64) *MediaService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 * 1024 * 1024
	}
	return &MediaService{
		repo:           repo,
		blobs:          blobs,
		logger:         l,
		metrics:        m,
		storeTimeout:   storeTimeout,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *MediaService) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

type UploadInput struct {
	UserID       string
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Body         io.Reader
}

// ObjectKey builds the blob key for a new upload.
func ObjectKey(userID, originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	return fmt.Sprintf("media/%s/%s%s", userID, uuid.NewString(), ext)
}

// Upload stores the blob, then the record. If the record cannot be written the
// blob is removed again.
func (s *MediaService) Upload(ctx context.Context, in UploadInput) (media.Record, error) {
	if in.UserID == "" {
		return media.Record{}, postmesh_errors.ErrUnauthorized
	}
	if in.Body == nil || in.SizeBytes <= 0 {
		return media.Record{}, fmt.Errorf("%w: file is required", postmesh_errors.ErrInvalidInput)
	}
	if in.SizeBytes > s.maxUploadBytes {
		return media.Record{}, fmt.Errorf("%w: limit is %d bytes", postmesh_errors.ErrTooLarge, s.maxUploadBytes)
	}
	if in.MimeType == "" {
		in.MimeType = "application/octet-stream"
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	obj, err := s.blobs.Upload(storeCtx, ObjectKey(in.UserID, in.OriginalName), in.MimeType, in.Body, in.SizeBytes)
	if err != nil {
		return media.Record{}, fmt.Errorf("failed to store media: %w", err)
	}

	record := media.Record{
		ID:           uuid.New(),
		PublicID:     obj.Key,
		OriginalName: in.OriginalName,
		MimeType:     in.MimeType,
		URL:          obj.URL,
		UserID:       in.UserID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(storeCtx, &record); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), obj.Key); delErr != nil {
			s.logger.Error(ctx, "failed to remove blob after record insert failure",
				zap.String("public_id", obj.Key),
				zap.Error(delErr))
		}
		return media.Record{}, fmt.Errorf("failed to save media record: %w", err)
	}

	s.logger.Info(ctx, "media uploaded",
		zap.String("media_id", record.ID.String()),
		zap.String("public_id", record.PublicID))
	return record, nil
}

func (s *MediaService) List(ctx context.Context, userID string) ([]media.Record, error) {
	if userID == "" {
		return nil, postmesh_errors.ErrUnauthorized
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.repo.ListByUser(ctx, userID)
}

// Delete removes a record owned by userID: blob first, then the record.
func (s *MediaService) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if userID == "" {
		return postmesh_errors.ErrUnauthorized
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.repo.GetByID(storeCtx, id)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return postmesh_errors.ErrNotFound
	}
	return s.remove(storeCtx, record)
}

// HandlePostDeleted cascades a post deletion to its media. Every id is handled
// on its own; failures are joined and returned so the delivery is retried.
// Ids already removed by an earlier attempt are skipped.
func (s *MediaService) HandlePostDeleted(ctx context.Context, event events.DomainEvent) error {
	payload, err := events.DecodePostDeleted(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, rawID := range payload.MediaIDs {
		if err := s.cascadeOne(ctx, payload, rawID); err != nil {
			s.metrics.Cascade("failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("media cascade for post %s: %w", payload.PostID, errors.Join(errs...))
	}
	return nil
}

func (s *MediaService) cascadeOne(ctx context.Context, payload events.PostDeleted, rawID string) error {
	fields := []zap.Field{
		zap.String("post_id", payload.PostID),
		zap.String("media_id", rawID),
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		s.logger.Warn(ctx, "skipping invalid media id", fields...)
		s.metrics.Cascade("skipped")
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.repo.GetByID(storeCtx, id)
	if errors.Is(err, postmesh_errors.ErrNotFound) {
		s.logger.Info(ctx, "media already gone", fields...)
		s.metrics.Cascade("skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", rawID, err)
	}
	if record.UserID != payload.UserID {
		s.logger.Warn(ctx, "skipping media owned by another user",
			append(fields, zap.String("owner_id", record.UserID), zap.String("post_owner_id", payload.UserID))...)
		s.metrics.Cascade("skipped")
		return nil
	}

	if err := s.remove(storeCtx, record); err != nil {
		return fmt.Errorf("delete %s: %w", rawID, err)
	}
	s.metrics.Cascade("deleted")
	return nil
}

// remove deletes the blob, then the record. A blob failure keeps the record;
// a record failure after the blob is gone leaves an orphan, which is logged.
func (s *MediaService) remove(ctx context.Context, record media.Record) error {
	fields := []zap.Field{
		zap.String("media_id", record.ID.String()),
		zap.String("public_id", record.PublicID),
	}
	if err := s.blobs.Delete(ctx, record.PublicID); err != nil {
		s.logger.Error(ctx, "blob delete failed, keeping record", append(fields, zap.Error(err))...)
		return err
	}
	if err := s.repo.Delete(ctx, record.ID); err != nil {
		if errors.Is(err, postmesh_errors.ErrNotFound) {
			return nil
		}
		s.logger.Error(ctx, "orphaned media record: blob deleted but record remains", append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Info(ctx, "media deleted", fields...)
	return nil
}
