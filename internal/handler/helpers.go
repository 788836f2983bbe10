package handler

import (
	"net/http"

	"postmesh/internal/services"
	"postmesh/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

// currentUser returns the authenticated user id, writing a 401 when absent.
func currentUser(c *gin.Context) (string, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return "", false
	}
	return userID, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(message, "INVALID_REQUEST"))
}
