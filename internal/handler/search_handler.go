package handler

import (
	"context"
	"net/http"

	"postmesh/internal/domain/search"
	"postmesh/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type SearchService interface {
	Search(ctx context.Context, query string) ([]search.Projection, error)
}

type SearchHandler struct {
	service SearchService
}

func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

func (h *SearchHandler) RegisterRoutes(api *gin.RouterGroup, auth gin.HandlerFunc) {
	api.GET("/search/posts", auth, h.SearchPosts)
}

func (h *SearchHandler) SearchPosts(c *gin.Context) {
	var req httpdto.SearchPostsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query")
		return
	}
	results, err := h.service.Search(c.Request.Context(), req.Query)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.SearchPostsResponse[search.Projection]{
		Query:   req.Query,
		Results: results,
	}))
}
