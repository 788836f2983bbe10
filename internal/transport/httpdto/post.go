package httpdto

// CreatePostRequest is used for POST /api/posts/create
type CreatePostRequest struct {
	Content  string   `json:"content" binding:"required"`
	MediaIDs []string `json:"mediaIds"`
}

// ListPostsRequest holds query parameters for GET /api/posts/all-posts
type ListPostsRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// DeletedResponse is returned after a successful delete
type DeletedResponse struct {
	ID string `json:"id"`
}
