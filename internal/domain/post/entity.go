package post

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinContentLength = 3
	MaxContentLength = 5000
)

// Post represents posts
type Post struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Page is one page of the newest-first post listing.
type Page struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	Total       int64  `json:"total"`
}
