package httpdto

import (
	"time"

	"postmesh/internal/domain/media"
)

// MediaDTO represents a media record in API responses
type MediaDTO struct {
	ID           string `json:"id"`
	PublicID     string `json:"publicId"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	URL          string `json:"url"`
	CreatedAt    string `json:"createdAt"`
}

type ListMediaResponse struct {
	Media []MediaDTO `json:"media"`
}

func NewMediaDTO(r media.Record) MediaDTO {
	return MediaDTO{
		ID:           r.ID.String(),
		PublicID:     r.PublicID,
		OriginalName: r.OriginalName,
		MimeType:     r.MimeType,
		URL:          r.URL,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
