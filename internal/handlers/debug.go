package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/realtime"
	"hobbymeet-sync/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, sync *realtime.Synchronizer, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/state", func(c *gin.Context) {
		state := gin.H{
			"session":     sync.Status(),
			"active_room": sync.Rooms().Active(),
			"pending":     sync.Rooms().Pending(),
			"notifications": gin.H{
				"loaded":      sync.Relay().Loaded(),
				"polling":     sync.Relay().Polling(),
				"unread":      sync.Relay().UnreadCount(),
				"active_room": sync.Relay().ActiveRoom(),
			},
		}
		if view := sync.View(); view != nil {
			state["view"] = view.RoomID()
		}
		c.JSON(http.StatusOK, state)
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), optionalUserID(sync.Status().UserID))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
