package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/models"
)

// RequireSession rejects bridge calls made while no user is logged in.
func RequireSession(status func() models.SessionStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := status()
		if current.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
			return
		}

		c.Set("userID", current.UserID)
		c.Next()
	}
}
