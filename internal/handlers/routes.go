package handlers

import (
	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/middleware"
	"hobbymeet-sync/internal/realtime"
)

// RegisterBridgeRoutes wires the local API the UI drives the synchronizer
// through.
func RegisterBridgeRoutes(router *gin.Engine, sync *realtime.Synchronizer) {
	sessionHandler := NewSessionHandler(sync)
	roomHandler := NewRoomHandler(sync)
	notificationHandler := NewNotificationHandler(sync.Relay())

	router.POST("/session/login", sessionHandler.Login)
	router.POST("/session/logout", sessionHandler.Logout)
	router.GET("/session", sessionHandler.Status)

	authed := router.Group("/", middleware.RequireSession(sync.Status))

	authed.POST("/session/connect", sessionHandler.Connect)

	authed.POST("/rooms/:room_id/enter", roomHandler.Enter)
	authed.POST("/rooms/:room_id/exit", roomHandler.Exit)
	authed.GET("/rooms/:room_id/messages", roomHandler.ListMessages)
	authed.POST("/rooms/:room_id/messages", roomHandler.PostMessage)
	authed.POST("/rooms/:room_id/messages/:client_id/retry", roomHandler.RetryMessage)
	authed.DELETE("/rooms/:room_id/messages/:client_id", roomHandler.DiscardMessage)
	authed.POST("/rooms/:room_id/read", roomHandler.MarkRead)
	authed.POST("/rooms/:room_id/typing", roomHandler.Input)
	authed.GET("/rooms/:room_id/typing", roomHandler.Typing)

	authed.POST("/notifications/view", notificationHandler.View)
	authed.GET("/notifications", notificationHandler.List)
	authed.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	authed.POST("/notifications/read-all", notificationHandler.MarkAllRead)
	authed.POST("/notifications/:id/read", notificationHandler.MarkRead)
	authed.DELETE("/notifications/:id", notificationHandler.Delete)

	authed.PUT("/active-room", notificationHandler.SetActiveRoom)
	authed.DELETE("/active-room", notificationHandler.ClearActiveRoom)
}
