package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hobbymeet-sync/internal/observability"
)

// requestIDFromContext prefers the id the request middleware put on the
// request context.
func requestIDFromContext(c *gin.Context) string {
	if id := observability.RequestIDFromContext(c.Request.Context()); id != "" {
		return id
	}
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func optionalUserID(userID string) *string {
	if userID == "" {
		return nil
	}
	return &userID
}
