package httpdto

type SearchPostsRequest struct {
	Query string `form:"query"`
}

type SearchPostsResponse[T any] struct {
	Query   string `json:"query"`
	Results []T    `json:"results"`
}
