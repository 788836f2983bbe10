package middleware

import (
	"net/http"

	"postmesh/internal/services"
	"postmesh/internal/transport/httpdto"
	"postmesh/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached with c.Error. Internal errors
// are logged and replaced with a generic message.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		message := err.Error()
		if status >= http.StatusInternalServerError {
			if l != nil {
				l.Error(c.Request.Context(), "request failed",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err))
			}
			message = http.StatusText(status)
		}
		c.JSON(status, httpdto.NewErrorResponse(message, services.ErrorCode(err)))
	}
}
