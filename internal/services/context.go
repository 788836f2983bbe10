package services

import (
	"context"
	"errors"
	"net/http"

	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"
)

// WithUserContext stores the authenticated user id. The logger picks it up
// from the same key.
func WithUserContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, logger.UserIdKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(logger.UserIdKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, postmesh_errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, postmesh_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, postmesh_errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, postmesh_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, postmesh_errors.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, postmesh_errors.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, postmesh_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, postmesh_errors.ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode is the machine readable code placed in error responses.
func ErrorCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusRequestEntityTooLarge:
		return "TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
