package handler

import (
	"context"
	"net/http"

	"postmesh/internal/domain/post"
	"postmesh/internal/services"
	"postmesh/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PostService interface {
	Create(ctx context.Context, in services.CreatePostInput) (post.Post, error)
	Get(ctx context.Context, id uuid.UUID) (post.Post, error)
	List(ctx context.Context, page, limit int) (post.Page, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
}

type PostHandler struct {
	service PostService
}

func NewPostHandler(service PostService) *PostHandler {
	return &PostHandler{service: service}
}

// RegisterRoutes mounts the post endpoints under api. Every route requires auth.
func (h *PostHandler) RegisterRoutes(api *gin.RouterGroup, auth gin.HandlerFunc) {
	posts := api.Group("/posts", auth)
	{
		posts.POST("/create", h.Create)
		posts.GET("/all-posts", h.List)
		posts.GET("/:id", h.GetByID)
		posts.DELETE("/:id", h.Delete)
	}
}

func (h *PostHandler) Create(c *gin.Context) {
	var req httpdto.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	created, err := h.service.Create(c.Request.Context(), services.CreatePostInput{
		UserID:   userID,
		Content:  req.Content,
		MediaIDs: req.MediaIDs,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(created))
}

func (h *PostHandler) List(c *gin.Context) {
	var req httpdto.ListPostsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid page or limit")
		return
	}
	page, err := h.service.List(c.Request.Context(), req.Page, req.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

func (h *PostHandler) GetByID(c *gin.Context) {
	postID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid post id")
		return
	}
	item, err := h.service.Get(c.Request.Context(), postID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *PostHandler) Delete(c *gin.Context) {
	postID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid post id")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), postID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.DeletedResponse{ID: postID.String()}))
}
