package media

import (
	"time"

	"github.com/google/uuid"
)

// Record represents media. PublicID is the blob store key.
type Record struct {
	ID           uuid.UUID `json:"id"`
	PublicID     string    `json:"publicId"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	URL          string    `json:"url"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
}
