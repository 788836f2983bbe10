package events

import (
	"encoding/json"
	"fmt"
	"time"

	postmesh_errors "postmesh/pkg/errors"
)

// PostCreated is the payload of post:created.
type PostCreated struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostDeleted is the payload of post:deleted.
type PostDeleted struct {
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	MediaIDs []string `json:"mediaIds"`
}

func DecodePostCreated(event DomainEvent) (PostCreated, error) {
	var p PostCreated
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return PostCreated{}, fmt.Errorf("%w: %s: %v", postmesh_errors.ErrMalformedEvent, event.RoutingKey, err)
	}
	if p.PostID == "" || p.UserID == "" {
		return PostCreated{}, fmt.Errorf("%w: %s: postId and userId are required", postmesh_errors.ErrMalformedEvent, event.RoutingKey)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = event.EmittedAt
	}
	return p, nil
}

func DecodePostDeleted(event DomainEvent) (PostDeleted, error) {
	var p PostDeleted
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return PostDeleted{}, fmt.Errorf("%w: %s: %v", postmesh_errors.ErrMalformedEvent, event.RoutingKey, err)
	}
	if p.PostID == "" || p.UserID == "" {
		return PostDeleted{}, fmt.Errorf("%w: %s: postId and userId are required", postmesh_errors.ErrMalformedEvent, event.RoutingKey)
	}
	return p, nil
}
