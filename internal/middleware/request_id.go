package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hobbymeet-sync/internal/observability"
)

// RequestID tags each request with an id taken from X-Request-ID or freshly
// generated, and carries it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
