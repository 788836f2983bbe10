package search

import "time"

// Projection represents search_posts. One row per live post, written only by
// the event handlers.
type Projection struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tombstone represents search_tombstones: a processed post:deleted.
type Tombstone struct {
	PostID    string
	UserID    string
	DeletedAt time.Time
}
