package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"postmesh/internal/domain/media"
	"postmesh/internal/services"
	"postmesh/internal/transport/httpdto"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead is the slack allowed on top of the file size for the
// multipart envelope.
const multipartOverhead = 1 << 20

type MediaService interface {
	Upload(ctx context.Context, in services.UploadInput) (media.Record, error)
	List(ctx context.Context, userID string) ([]media.Record, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
	MaxUploadBytes() int64
}

type MediaHandler struct {
	service MediaService
}

func NewMediaHandler(service MediaService) *MediaHandler {
	return &MediaHandler{service: service}
}

// RegisterRoutes mounts the media endpoints. limit guards uploads and may be nil.
func (h *MediaHandler) RegisterRoutes(api *gin.RouterGroup, auth, limit gin.HandlerFunc) {
	group := api.Group("/media", auth)
	upload := []gin.HandlerFunc{h.Upload}
	if limit != nil {
		upload = append([]gin.HandlerFunc{limit}, upload...)
	}
	{
		group.POST("/upload", upload...)
		group.GET("", h.List)
		group.DELETE("/:id", h.Delete)
	}
}

func (h *MediaHandler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	maxBytes := h.service.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(fmt.Errorf("%w: limit is %d bytes", postmesh_errors.ErrTooLarge, maxBytes))
			return
		}
		badRequest(c, "file is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "unreadable file")
		return
	}
	defer file.Close()

	record, err := h.service.Upload(c.Request.Context(), services.UploadInput{
		UserID:       userID,
		OriginalName: fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		SizeBytes:    fileHeader.Size,
		Body:         file,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.NewMediaDTO(record)))
}

func (h *MediaHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	records, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	items := make([]httpdto.MediaDTO, 0, len(records))
	for _, r := range records {
		items = append(items, httpdto.NewMediaDTO(r))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListMediaResponse{Media: items}))
}

func (h *MediaHandler) Delete(c *gin.Context) {
	mediaID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid media id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), mediaID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.DeletedResponse{ID: mediaID.String()}))
}
